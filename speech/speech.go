// Package speech provides the shared types and collaborator interfaces for
// the progressive sentence-level TTS pipeline: text chunks are segmented into
// sentences, synthesized with first-sentence priority, and played back in
// strict sequence order per message.
package speech

import (
	"context"
	"time"
)

// Priority classifies synthesis tasks. The first sentence of a message is
// synthesized ahead of everything else so audible playback starts as early
// as possible.
type Priority int

const (
	// PriorityHigh is reserved for the first sentence of a message.
	PriorityHigh Priority = iota
	// PriorityNormal is used for all subsequent sentences.
	PriorityNormal
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// SentenceEvent is emitted by the sentence extractor for each completed
// sentence. Text preserves the original spacing from the stream so that
// gaps between consecutive clips sound natural.
type SentenceEvent struct {
	Text  string
	First bool // first sentence of the stream
}

// Clip is one unit of synthesized audio corresponding to exactly one
// sentence. Ownership of the audio bytes transfers to whoever consumes the
// clip; the playback manager is responsible for releasing the playable
// handle it builds from them.
type Clip struct {
	MessageID string
	Sequence  int // per-message, zero-based ordering key
	Audio     []byte
	First     bool
}

// SynthesisOptions carries the voice parameters that, together with the
// sentence text, identify a synthesis result.
type SynthesisOptions struct {
	Voice  string
	Format string
	Speed  float64
}

// Synthesizer converts sentence text to audio bytes. Implementations are
// treated as unreliable and possibly rate-limited; callers must tolerate
// per-sentence failures.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) ([]byte, error)
	Name() string
}

// ClipCache stores synthesized audio keyed by normalized sentence text plus
// voice parameters. The cache is a pure performance optimization; a cached
// clip and a freshly synthesized one are interchangeable downstream.
type ClipCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, audio []byte)
}

// Handle is a playable resource built from raw audio bytes. Callbacks
// registered through OnEnded/OnError must be detached with Detach before the
// handle is released so no callback fires against a dead handle.
type Handle interface {
	// Play starts or resumes playback. It may fail with ErrGestureRequired
	// when the platform demands a prior user interaction.
	Play() error

	// Pause halts playback, keeping the position for a later Play.
	Pause() error

	// Duration reports the playable length of the underlying audio.
	Duration() time.Duration

	// OnEnded registers the natural-completion callback.
	OnEnded(fn func())

	// OnError registers the playback-failure callback.
	OnError(fn func(error))

	// Detach removes all registered callbacks.
	Detach()

	// Release frees the underlying resource. Safe to call more than once;
	// only the first call has an effect.
	Release()
}

// Backend is the platform audio primitive. NewHandle allocates a playable
// handle from raw audio bytes; allocation failure is the only playback fault
// that escalates to the caller as a rejected operation.
type Backend interface {
	NewHandle(audio []byte) (Handle, error)
}
