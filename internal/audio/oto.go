// Package audio provides the playback backends: an oto-based device backend
// for real output and a manually driven mock for tests.
package audio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// PCM parameters for synthesized clips. Mono 16-bit at 44.1kHz.
const (
	sampleRate     = 44100
	channelCount   = 1
	bytesPerSample = 2
)

// OtoBackend creates playable handles backed by an oto audio context. The
// context is created once per process; oto does not support re-creation.
type OtoBackend struct {
	ctx    *oto.Context
	logger *log.Logger
}

// NewOtoBackend initializes the audio device and waits for it to be ready.
func NewOtoBackend(logger *log.Logger) (*OtoBackend, error) {
	if logger == nil {
		logger = log.Default()
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("creating audio context: %w", err)
	}
	<-ready

	logger.Debug("audio device ready", "sample_rate", sampleRate, "channels", channelCount)
	return &OtoBackend{ctx: ctx, logger: logger}, nil
}

// NewHandle wraps raw PCM bytes in a playable handle. The data is copied so
// the handle owns its buffer for the whole playback lifetime.
func (b *OtoBackend) NewHandle(audio []byte) (speech.Handle, error) {
	if len(audio) == 0 {
		return nil, speech.ErrNoAudio
	}

	data := make([]byte, len(audio))
	copy(data, audio)

	samples := len(data) / (channelCount * bytesPerSample)
	h := &otoHandle{
		data:     data,
		duration: time.Duration(samples) * time.Second / time.Duration(sampleRate),
		logger:   b.logger,
	}
	h.player = b.ctx.NewPlayer(bytes.NewReader(data))
	return h, nil
}

// otoHandle is one playable clip. The data slice must stay referenced until
// Release: dropping it mid-playback causes audible static.
type otoHandle struct {
	data     []byte
	duration time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	player   *oto.Player
	onEnded  func()
	onError  func(error)
	released bool
	watching bool
	playedAt time.Time
	consumed time.Duration
}

// Play starts or resumes playback.
func (h *otoHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return speech.ErrHandleReleased
	}
	h.playedAt = time.Now()
	h.player.Play()
	if !h.watching {
		h.watching = true
		go h.watch()
	}
	return nil
}

// Pause suspends playback, keeping the position.
func (h *otoHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return speech.ErrHandleReleased
	}
	if !h.playedAt.IsZero() {
		h.consumed += time.Since(h.playedAt)
		h.playedAt = time.Time{}
	}
	h.player.Pause()
	return nil
}

// Duration returns the clip length derived from the PCM parameters.
func (h *otoHandle) Duration() time.Duration { return h.duration }

// OnEnded registers the natural-completion callback.
func (h *otoHandle) OnEnded(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnded = fn
}

// OnError registers the playback-failure callback.
func (h *otoHandle) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

// Detach drops both callbacks so a stale handle cannot call back into the
// manager after its clip has been replaced or cleared.
func (h *otoHandle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnded = nil
	h.onError = nil
}

// Release frees the device player and the PCM buffer. Idempotent.
func (h *otoHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.released = true
	if h.player != nil {
		if err := h.player.Close(); err != nil {
			h.logger.Debug("closing audio player", "error", err)
		}
		h.player = nil
	}
	h.data = nil
}

// watch polls the player until the clip drains, then fires onEnded. The oto
// player has no completion callback, so completion is detected by the player
// reporting not-playing after the expected duration has elapsed.
func (h *otoHandle) watch() {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.Lock()
		if h.released {
			h.mu.Unlock()
			return
		}
		if h.playedAt.IsZero() {
			// Paused; the next Play starts a fresh watcher.
			h.watching = false
			h.mu.Unlock()
			return
		}
		elapsed := h.consumed + time.Since(h.playedAt)
		done := !h.player.IsPlaying() && elapsed >= h.duration
		var fn func()
		if done {
			h.watching = false
			fn = h.onEnded
		}
		h.mu.Unlock()

		if done {
			if fn != nil {
				fn()
			}
			return
		}
	}
}
