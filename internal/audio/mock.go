package audio

import (
	"sync"
	"time"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// MockBackend is a test backend whose handles never touch an audio device.
// Playback is driven manually: FinishCurrent completes the handle that is
// playing, FailCurrent fails it. Handles are retained so tests can assert on
// release counts and play order.
type MockBackend struct {
	mu        sync.Mutex
	handles   []*MockHandle
	playErr   error
	playErrAt int // fail the Nth Play call across all handles, 0 = disabled
	playCalls int
}

// NewMockBackend creates an empty mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// NewHandle returns a mock handle over the given bytes.
func (b *MockBackend) NewHandle(audio []byte) (speech.Handle, error) {
	if len(audio) == 0 {
		return nil, speech.ErrNoAudio
	}
	h := &MockHandle{
		backend: b,
		size:    len(audio),
		// One second per 4KB keeps durations stable across tests.
		duration: time.Duration(len(audio)) * time.Second / 4096,
	}
	b.mu.Lock()
	b.handles = append(b.handles, h)
	b.mu.Unlock()
	return h, nil
}

// SetPlayError makes every subsequent Play return err.
func (b *MockBackend) SetPlayError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playErr = err
	b.playErrAt = 0
}

// FailPlayAt makes only the nth Play call (1-based, counted across all
// handles) return err; other calls succeed.
func (b *MockBackend) FailPlayAt(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playErr = err
	b.playErrAt = n
}

// Current returns the handle that is playing, or nil.
func (b *MockBackend) Current() *MockHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.handles {
		if h.IsPlaying() {
			return h
		}
	}
	return nil
}

// FinishCurrent completes the playing handle, firing its OnEnded callback.
// Returns false if nothing is playing.
func (b *MockBackend) FinishCurrent() bool {
	h := b.Current()
	if h == nil {
		return false
	}
	h.finish()
	return true
}

// FailCurrent fails the playing handle, firing its OnError callback.
func (b *MockBackend) FailCurrent(err error) bool {
	h := b.Current()
	if h == nil {
		return false
	}
	h.fail(err)
	return true
}

// Handles returns every handle created so far, in creation order.
func (b *MockBackend) Handles() []*MockHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*MockHandle, len(b.handles))
	copy(out, b.handles)
	return out
}

// ReleasedCount returns how many handles have been released.
func (b *MockBackend) ReleasedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, h := range b.handles {
		if h.ReleaseCount() > 0 {
			n++
		}
	}
	return n
}

// checkPlay implements scripted Play failures. Called by handles.
func (b *MockBackend) checkPlay() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playCalls++
	if b.playErr == nil {
		return nil
	}
	if b.playErrAt == 0 || b.playErrAt == b.playCalls {
		return b.playErr
	}
	return nil
}

// MockHandle is a manually driven playable clip.
type MockHandle struct {
	backend  *MockBackend
	size     int
	duration time.Duration

	mu        sync.Mutex
	playing   bool
	played    int // Play call count
	paused    int // Pause call count
	releases  int // Release call count; >1 means a double-release bug
	onEnded   func()
	onError   func(error)
}

// Play marks the handle playing, honoring scripted failures.
func (h *MockHandle) Play() error {
	h.mu.Lock()
	if h.releases > 0 {
		h.mu.Unlock()
		return speech.ErrHandleReleased
	}
	h.played++
	h.mu.Unlock()

	if err := h.backend.checkPlay(); err != nil {
		return err
	}

	h.mu.Lock()
	h.playing = true
	h.mu.Unlock()
	return nil
}

// Pause marks the handle paused.
func (h *MockHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.releases > 0 {
		return speech.ErrHandleReleased
	}
	h.playing = false
	h.paused++
	return nil
}

// Duration returns the synthetic clip duration.
func (h *MockHandle) Duration() time.Duration { return h.duration }

// OnEnded registers the completion callback.
func (h *MockHandle) OnEnded(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnded = fn
}

// OnError registers the failure callback.
func (h *MockHandle) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

// Detach drops both callbacks.
func (h *MockHandle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnded = nil
	h.onError = nil
}

// Release marks the handle freed. Each call is counted so tests can detect
// double release.
func (h *MockHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
	h.playing = false
}

// IsPlaying reports whether the handle is currently playing.
func (h *MockHandle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// PlayCount returns how many times Play was called.
func (h *MockHandle) PlayCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.played
}

// ReleaseCount returns how many times Release was called.
func (h *MockHandle) ReleaseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

func (h *MockHandle) finish() {
	h.mu.Lock()
	h.playing = false
	fn := h.onEnded
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *MockHandle) fail(err error) {
	h.mu.Lock()
	h.playing = false
	fn := h.onError
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
