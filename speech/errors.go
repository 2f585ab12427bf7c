package speech

import "errors"

// Common errors for the speech pipeline.
var (
	// Queue errors
	ErrQueueClosed     = errors.New("synthesis queue is closed")
	ErrEmptyText       = errors.New("empty sentence text")
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// Playback errors
	ErrNoSession        = errors.New("no playback session for message")
	ErrNoAudio          = errors.New("no audio queued for message")
	ErrGestureRequired  = errors.New("user gesture required before audio playback")
	ErrHandleReleased   = errors.New("audio handle already released")
	ErrInvalidSequence  = errors.New("invalid sequence index")
	ErrManagerClosed    = errors.New("playback manager is closed")
	ErrSessionCompleted = errors.New("playback session already completed")

	// Synthesizer errors
	ErrNoSynthesizer      = errors.New("no synthesizer available")
	ErrSynthesizerFailure = errors.New("all synthesizers failed")
)
