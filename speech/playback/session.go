package playback

import (
	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// sessionState is the per-message playback state.
type sessionState int

const (
	stateEmpty sessionState = iota
	stateQueued
	statePlaying
	statePaused
	stateCompleted
	stateError
)

// String returns the string representation of the session state.
func (s sessionState) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateQueued:
		return "queued"
	case statePlaying:
		return "playing"
	case statePaused:
		return "paused"
	case stateCompleted:
		return "completed"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// clipEntry owns one stored clip and its playable handle. The handle is
// released exactly once: released guards against double-release when a clip
// is cleared after natural completion already freed it.
type clipEntry struct {
	clip     speech.Clip
	handle   speech.Handle
	released bool
}

// release detaches callbacks and frees the handle. Idempotent.
func (e *clipEntry) release() {
	if e.released || e.handle == nil {
		return
	}
	e.handle.Detach()
	e.handle.Release()
	e.released = true
}

// session tracks playback for one message. A message has at most one active
// session; cursor and pausedAt are never both meaningful — cursor is valid
// only while playing, pausedAt only while paused.
type session struct {
	messageID string
	clips     map[int]*clipEntry
	maxSeq    int

	state    sessionState
	cursor   int
	pausedAt int
	waiting  bool // playing but the clip at cursor has not arrived yet
	finished bool // no more clips will be submitted
}

func newSession(messageID string) *session {
	return &session{
		messageID: messageID,
		clips:     make(map[int]*clipEntry),
		maxSeq:    -1,
		state:     stateEmpty,
	}
}

// audible reports whether the session is actually producing sound.
func (s *session) audible() bool {
	return s.state == statePlaying && !s.waiting
}

// releaseAll frees every stored handle exactly once.
func (s *session) releaseAll() {
	for _, e := range s.clips {
		e.release()
	}
}
