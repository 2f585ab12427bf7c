package synth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// Mock is a synthesizer for tests and offline runs. It produces
// deterministic bytes sized from the input text and can be scripted to
// delay or fail.
type Mock struct {
	mu        sync.Mutex
	delay     time.Duration
	fail      bool
	failErr   error
	callCount int
	calls     []string
}

// NewMock creates a mock synthesizer that succeeds immediately.
func NewMock() *Mock {
	return &Mock{}
}

// Name identifies this synthesizer.
func (m *Mock) Name() string { return "mock" }

// Synthesize returns deterministic pseudo-audio for the text. The output
// length scales with text length so duration estimates behave sensibly.
func (m *Mock) Synthesize(ctx context.Context, text string, opts speech.SynthesisOptions) ([]byte, error) {
	m.mu.Lock()
	m.callCount++
	m.calls = append(m.calls, text)
	delay := m.delay
	fail := m.fail
	failErr := m.failErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if fail {
		if failErr != nil {
			return nil, failErr
		}
		return nil, fmt.Errorf("%w: mock failure", speech.ErrSynthesisFailed)
	}

	// 64 bytes per rune, minimum one block. Content is a repeating marker so
	// tests can tell clips apart by length alone.
	n := len([]rune(text)) * 64
	if n == 0 {
		n = 64
	}
	audio := make([]byte, n)
	for i := range audio {
		audio[i] = byte(i % 251)
	}
	return audio, nil
}

// SetDelay makes every subsequent call sleep before responding.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetShouldFail makes every subsequent call return err (or a generic
// synthesis failure when err is nil).
func (m *Mock) SetShouldFail(fail bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
	m.failErr = err
}

// CallCount returns how many times Synthesize has been invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Calls returns the texts synthesized so far, in call order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears scripted behavior and counters.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = 0
	m.fail = false
	m.failErr = nil
	m.callCount = 0
	m.calls = nil
}
