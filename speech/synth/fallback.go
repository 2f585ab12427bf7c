package synth

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// DefaultMaxFailures is how many consecutive primary failures are tolerated
// before the chain switches to the fallback for good.
const DefaultMaxFailures = 3

// Fallback wraps a primary and a fallback synthesizer. Each call tries the
// primary first and falls back on error. After maxFailures consecutive
// primary failures the chain switches to the fallback permanently, so a dead
// service does not add a full timeout to every sentence.
type Fallback struct {
	primary  speech.Synthesizer
	fallback speech.Synthesizer
	logger   *log.Logger

	mu          sync.Mutex
	failures    int
	maxFailures int
	switched    bool
}

// NewFallback creates a fallback chain. Both synthesizers are required.
func NewFallback(primary, fallback speech.Synthesizer, logger *log.Logger) (*Fallback, error) {
	if primary == nil || fallback == nil {
		return nil, speech.ErrNoSynthesizer
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fallback{
		primary:     primary,
		fallback:    fallback,
		logger:      logger,
		maxFailures: DefaultMaxFailures,
	}, nil
}

// Name identifies the currently active synthesizer.
func (f *Fallback) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.switched {
		return fmt.Sprintf("fallback(%s)", f.fallback.Name())
	}
	return fmt.Sprintf("primary(%s)", f.primary.Name())
}

// Synthesize tries the active synthesizer, degrading to the fallback on
// failure. Context cancellation is never treated as a primary failure.
func (f *Fallback) Synthesize(ctx context.Context, text string, opts speech.SynthesisOptions) ([]byte, error) {
	f.mu.Lock()
	usePrimary := !f.switched
	f.mu.Unlock()

	if usePrimary {
		audio, err := f.primary.Synthesize(ctx, text, opts)
		if err == nil {
			f.mu.Lock()
			f.failures = 0
			f.mu.Unlock()
			return audio, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		f.recordFailure(err)
	}

	audio, err := f.fallback.Synthesize(ctx, text, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", speech.ErrSynthesizerFailure, err)
	}
	return audio, nil
}

func (f *Fallback) recordFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures++
	f.logger.Warn("primary synthesizer failed",
		"engine", f.primary.Name(), "failures", f.failures, "max", f.maxFailures, "error", err)
	if f.failures >= f.maxFailures && !f.switched {
		f.switched = true
		f.logger.Info("switching to fallback synthesizer",
			"from", f.primary.Name(), "to", f.fallback.Name())
	}
}
