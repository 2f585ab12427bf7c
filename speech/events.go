package speech

import "time"

// EventType identifies a playback state-change notification.
type EventType int

const (
	// EventPlaybackStarted fires when a message becomes audibly playing.
	EventPlaybackStarted EventType = iota
	// EventPlaybackPaused fires when playback is paused by the user or by a
	// forced interruption.
	EventPlaybackPaused
	// EventPlaybackResumed fires when a paused message resumes.
	EventPlaybackResumed
	// EventPlaybackWaiting fires when the cursor reaches a sequence index
	// whose clip has not been synthesized yet.
	EventPlaybackWaiting
	// EventPlaybackCompleted fires when the last clip of a finished message
	// reaches natural completion.
	EventPlaybackCompleted
	// EventPlaybackStopped fires when playback ends for any reason other
	// than natural completion (clear, shutdown).
	EventPlaybackStopped
	// EventAutoplayBlocked fires once when an autoplay attempt is rejected
	// for lack of a user gesture. Not an error: the session is parked ready
	// at index 0.
	EventAutoplayBlocked
	// EventPlaybackError fires when a clip fails to play. The session
	// advances to the next clip rather than stalling.
	EventPlaybackError
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventPlaybackStarted:
		return "started"
	case EventPlaybackPaused:
		return "paused"
	case EventPlaybackResumed:
		return "resumed"
	case EventPlaybackWaiting:
		return "waiting"
	case EventPlaybackCompleted:
		return "completed"
	case EventPlaybackStopped:
		return "stopped"
	case EventAutoplayBlocked:
		return "autoplay-blocked"
	case EventPlaybackError:
		return "error"
	default:
		return "unknown"
	}
}

// PlaybackEvent is delivered synchronously at the moment of a state
// transition that changes whether a message is audibly playing, so observers
// (UI button state, transcripts) stay consistent without polling.
type PlaybackEvent struct {
	MessageID string
	Type      EventType
	Sequence  int // sequence index the event refers to, -1 if not applicable
	Playing   bool
	Err       error // set for EventPlaybackError
	Timestamp time.Time
}

// PlaybackObserver receives playback state-change notifications. Handlers
// run on the goroutine that triggered the transition and must not call back
// into the playback manager.
type PlaybackObserver interface {
	OnPlaybackEvent(ev PlaybackEvent)
}

// ObserverFunc adapts a plain function to the PlaybackObserver interface.
type ObserverFunc func(ev PlaybackEvent)

// OnPlaybackEvent implements PlaybackObserver.
func (f ObserverFunc) OnPlaybackEvent(ev PlaybackEvent) { f(ev) }
