// Package playback implements the sequenced playback manager: it stores
// synthesized clips per (message, sequence index), plays them back-to-back
// in strict index order, and supports pause/resume from an arbitrary
// position with deterministic release of every playable handle.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// Config carries the manager collaborators.
type Config struct {
	// Backend is the platform audio primitive. Required.
	Backend speech.Backend
	Logger  *log.Logger
}

// Stats holds diagnostic counts for the manager.
type Stats struct {
	ActivePlaybacks int
	TotalMessages   int
	TotalSentences  int
}

// Manager is the sequenced playback manager. All exported methods are safe
// for concurrent use; notifications are delivered synchronously after the
// transition, outside the internal lock.
type Manager struct {
	backend speech.Backend
	logger  *log.Logger

	mu        sync.Mutex
	sessions  map[string]*session
	observers []speech.PlaybackObserver

	gestureArmed     bool
	autoplayNotified bool // the autoplay-blocked advisory is one-time
	closed           bool
}

// NewManager creates a playback manager on top of the given audio backend.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("playback: audio backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Manager{
		backend:  cfg.Backend,
		logger:   cfg.Logger,
		sessions: make(map[string]*session),
	}, nil
}

// Subscribe registers an observer for playback state-change events.
func (m *Manager) Subscribe(obs speech.PlaybackObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// ArmGesture records that a user-interaction gesture has been established,
// unlocking autoplay. The flag is one-time-armed for the process.
func (m *Manager) ArmGesture() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gestureArmed = true
}

// GestureArmed reports whether the gesture gate is open.
func (m *Manager) GestureArmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gestureArmed
}

// SubmitClip stores a clip at its sequence index, allocating the playable
// handle. Ownership of the audio transfers to the manager. If autoPlay is
// set and this is index 0 of a message with no active playback, playback
// starts immediately, subject to the gesture gate; a gesture rejection parks
// the session ready at index 0 instead of failing.
func (m *Manager) SubmitClip(clip speech.Clip, autoPlay bool) error {
	if clip.Sequence < 0 {
		return speech.ErrInvalidSequence
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return speech.ErrManagerClosed
	}

	handle, err := m.backend.NewHandle(clip.Audio)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("allocating handle for %s[%d]: %w", clip.MessageID, clip.Sequence, err)
	}

	sess, ok := m.sessions[clip.MessageID]
	if !ok {
		sess = newSession(clip.MessageID)
		m.sessions[clip.MessageID] = sess
	}
	if sess.state == stateEmpty {
		sess.state = stateQueued
	}

	// Replacement of an existing index releases the old handle first.
	if old, exists := sess.clips[clip.Sequence]; exists {
		old.release()
	}
	sess.clips[clip.Sequence] = &clipEntry{clip: clip, handle: handle}
	if clip.Sequence > sess.maxSeq {
		sess.maxSeq = clip.Sequence
	}

	m.logger.Debug("clip submitted",
		"message", clip.MessageID, "seq", clip.Sequence,
		"bytes", len(clip.Audio), "first", clip.First, "autoplay", autoPlay)

	var evs []speech.PlaybackEvent

	switch {
	case sess.state == statePlaying && sess.waiting && sess.cursor == clip.Sequence:
		// Gapless continuation: playback was halted waiting for exactly
		// this index.
		m.playAtLocked(sess, clip.Sequence, speech.EventPlaybackStarted, &evs)

	case autoPlay && clip.Sequence == 0 && sess.state == stateQueued:
		if !m.gestureArmed {
			m.parkLocked(sess, &evs)
			break
		}
		if err := m.tryPlayLocked(sess, 0, speech.EventPlaybackStarted, &evs); err != nil {
			if err == speech.ErrGestureRequired {
				m.parkLocked(sess, &evs)
			} else {
				m.failClipLocked(sess, 0, err, &evs)
			}
		}
	}

	m.mu.Unlock()
	m.notify(evs)
	return nil
}

// StartPlaybackForMessage starts or resumes playback. Calling it while the
// message is already playing is a no-op. A paused session resumes exactly
// at the paused index; the paused marker is cleared only after the resume
// succeeds, so the state is never ambiguous on failure.
func (m *Manager) StartPlaybackForMessage(messageID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[messageID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("start %s: %w", messageID, speech.ErrNoSession)
	}

	var evs []speech.PlaybackEvent
	var err error

	switch sess.state {
	case statePlaying:
		// Idempotent against duplicate triggers.

	case statePaused:
		idx := sess.pausedAt
		if sess.clips[idx] == nil {
			// Paused while waiting for this index; go back to waiting.
			sess.state = statePlaying
			sess.waiting = true
			sess.cursor = idx
			m.post(&evs, messageID, speech.EventPlaybackWaiting, idx, false, nil)
			break
		}
		if err = m.tryPlayLocked(sess, idx, speech.EventPlaybackResumed, &evs); err != nil {
			// Resume failed: restore the paused marker.
			sess.state = statePaused
			sess.pausedAt = idx
			sess.waiting = false
		}

	case stateCompleted, stateError:
		err = fmt.Errorf("start %s: %w", messageID, speech.ErrSessionCompleted)

	default: // stateQueued
		if len(sess.clips) == 0 {
			err = fmt.Errorf("start %s: %w", messageID, speech.ErrNoAudio)
			break
		}
		if sess.clips[0] == nil {
			// Index 0 still being synthesized; wait for it.
			sess.state = statePlaying
			sess.waiting = true
			sess.cursor = 0
			m.post(&evs, messageID, speech.EventPlaybackWaiting, 0, false, nil)
			break
		}
		err = m.tryPlayLocked(sess, 0, speech.EventPlaybackStarted, &evs)
	}

	m.mu.Unlock()
	m.notify(evs)
	return err
}

// StopPlaybackForMessage pauses the currently playing clip and records the
// position. Used both for user-initiated pause and forced interruption.
func (m *Manager) StopPlaybackForMessage(messageID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[messageID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("stop %s: %w", messageID, speech.ErrNoSession)
	}

	var evs []speech.PlaybackEvent
	if sess.state == statePlaying {
		idx := sess.cursor
		if !sess.waiting {
			if entry := sess.clips[idx]; entry != nil && entry.handle != nil {
				entry.handle.Detach()
				if perr := entry.handle.Pause(); perr != nil {
					m.logger.Warn("pause failed", "message", messageID, "seq", idx, "error", perr)
				}
			}
		}
		sess.state = statePaused
		sess.pausedAt = idx
		sess.waiting = false
		m.post(&evs, messageID, speech.EventPlaybackPaused, idx, false, nil)
	}

	m.mu.Unlock()
	m.notify(evs)
	return nil
}

// FinishMessage marks that no more clips will arrive for the message. If
// playback has already consumed every stored clip, the session completes.
func (m *Manager) FinishMessage(messageID string) {
	m.mu.Lock()
	sess, ok := m.sessions[messageID]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.finished = true

	var evs []speech.PlaybackEvent
	if sess.state == statePlaying && sess.waiting && sess.cursor > sess.maxSeq {
		m.completeLocked(sess, &evs)
	}
	m.mu.Unlock()
	m.notify(evs)
}

// ClearMessage stops playback, releases every stored handle exactly once,
// and removes all per-message state. Idempotent and safe on an unknown
// message.
func (m *Manager) ClearMessage(messageID string) {
	m.mu.Lock()
	sess, ok := m.sessions[messageID]
	if !ok {
		m.mu.Unlock()
		return
	}

	var evs []speech.PlaybackEvent
	wasAudible := sess.audible()
	if wasAudible {
		if entry := sess.clips[sess.cursor]; entry != nil && entry.handle != nil && !entry.released {
			entry.handle.Detach()
			if perr := entry.handle.Pause(); perr != nil {
				m.logger.Warn("pause during clear failed", "message", messageID, "error", perr)
			}
		}
	}
	sess.releaseAll()
	delete(m.sessions, messageID)
	if wasAudible {
		m.post(&evs, messageID, speech.EventPlaybackStopped, -1, false, nil)
	}

	m.logger.Debug("message cleared", "message", messageID, "clips", len(sess.clips))
	m.mu.Unlock()
	m.notify(evs)
}

// ClearAll applies ClearMessage to every tracked message.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.ClearMessage(id)
	}
}

// Close clears every session and rejects further submissions.
func (m *Manager) Close() {
	m.ClearAll()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// IsPlayingMessage reports whether the message is audibly playing.
func (m *Manager) IsPlayingMessage(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[messageID]
	return ok && sess.audible()
}

// HasAudioForMessage reports whether any clip is stored for the message.
func (m *Manager) HasAudioForMessage(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[messageID]
	return ok && len(sess.clips) > 0
}

// GetStats returns diagnostic counts across all sessions.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{TotalMessages: len(m.sessions)}
	for _, sess := range m.sessions {
		s.TotalSentences += len(sess.clips)
		if sess.audible() {
			s.ActivePlaybacks++
		}
	}
	return s
}

// tryPlayLocked attempts to play the clip at idx, transitioning the session
// on success and leaving state untouched on failure. Caller holds m.mu.
func (m *Manager) tryPlayLocked(sess *session, idx int, ev speech.EventType, evs *[]speech.PlaybackEvent) error {
	entry := sess.clips[idx]
	if entry == nil {
		return fmt.Errorf("play %s[%d]: %w", sess.messageID, idx, speech.ErrNoAudio)
	}
	if entry.released {
		// Replayed after natural completion released the handle; rebuild
		// it from the retained audio bytes.
		handle, err := m.backend.NewHandle(entry.clip.Audio)
		if err != nil {
			return fmt.Errorf("reallocating handle for %s[%d]: %w", sess.messageID, idx, err)
		}
		entry.handle = handle
		entry.released = false
	}

	messageID := sess.messageID
	entry.handle.OnEnded(func() { m.clipEnded(messageID, idx) })
	entry.handle.OnError(func(err error) { m.clipFailed(messageID, idx, err) })

	if err := entry.handle.Play(); err != nil {
		entry.handle.Detach()
		return err
	}

	sess.state = statePlaying
	sess.cursor = idx
	sess.waiting = false
	m.post(evs, messageID, ev, idx, true, nil)
	m.logger.Debug("clip playing", "message", messageID, "seq", idx)
	return nil
}

// playAtLocked plays idx and degrades a failure into a fault-and-advance
// rather than returning it; used on internal advance paths where there is
// no caller to reject.
func (m *Manager) playAtLocked(sess *session, idx int, ev speech.EventType, evs *[]speech.PlaybackEvent) {
	if err := m.tryPlayLocked(sess, idx, ev, evs); err != nil {
		m.failClipLocked(sess, idx, err, evs)
	}
}

// failClipLocked reports a clip playback fault and advances to the next
// queued clip rather than stalling the message.
func (m *Manager) failClipLocked(sess *session, idx int, err error, evs *[]speech.PlaybackEvent) {
	m.logger.Error("clip playback failed", "message", sess.messageID, "seq", idx, "error", err)
	m.post(evs, sess.messageID, speech.EventPlaybackError, idx, false, err)
	if entry := sess.clips[idx]; entry != nil {
		entry.release()
	}
	m.advanceLocked(sess, idx+1, evs)
}

// advanceLocked moves the cursor to next and plays, waits, or completes.
func (m *Manager) advanceLocked(sess *session, next int, evs *[]speech.PlaybackEvent) {
	for {
		entry := sess.clips[next]
		if entry == nil {
			if sess.finished && next > sess.maxSeq {
				m.completeLocked(sess, evs)
				return
			}
			// Synthesis still pending for this index: halt in the
			// waiting sub-state until SubmitClip delivers it.
			sess.state = statePlaying
			sess.cursor = next
			sess.waiting = true
			m.post(evs, sess.messageID, speech.EventPlaybackWaiting, next, false, nil)
			return
		}
		if err := m.tryPlayLocked(sess, next, speech.EventPlaybackStarted, evs); err != nil {
			m.post(evs, sess.messageID, speech.EventPlaybackError, next, false, err)
			entry.release()
			next++
			continue
		}
		return
	}
}

// completeLocked finishes the session terminally.
func (m *Manager) completeLocked(sess *session, evs *[]speech.PlaybackEvent) {
	sess.releaseAll()
	sess.state = stateCompleted
	sess.waiting = false
	m.post(evs, sess.messageID, speech.EventPlaybackCompleted, -1, false, nil)
	m.logger.Debug("message playback completed", "message", sess.messageID)
}

// parkLocked places the session in "ready, paused at 0" after an autoplay
// rejection and surfaces the one-time advisory notice.
func (m *Manager) parkLocked(sess *session, evs *[]speech.PlaybackEvent) {
	sess.state = statePaused
	sess.pausedAt = 0
	sess.waiting = false
	if !m.autoplayNotified {
		m.autoplayNotified = true
		m.post(evs, sess.messageID, speech.EventAutoplayBlocked, 0, false, nil)
	}
	m.logger.Debug("autoplay blocked, parked ready", "message", sess.messageID)
}

// clipEnded handles natural completion of the clip at idx.
func (m *Manager) clipEnded(messageID string, idx int) {
	m.mu.Lock()
	sess, ok := m.sessions[messageID]
	if !ok || sess.state != statePlaying || sess.waiting || sess.cursor != idx {
		m.mu.Unlock()
		return
	}

	var evs []speech.PlaybackEvent
	if entry := sess.clips[idx]; entry != nil {
		entry.release()
	}
	m.advanceLocked(sess, idx+1, &evs)
	m.mu.Unlock()
	m.notify(evs)
}

// clipFailed handles an asynchronous playback error for the clip at idx.
func (m *Manager) clipFailed(messageID string, idx int, err error) {
	m.mu.Lock()
	sess, ok := m.sessions[messageID]
	if !ok || sess.state != statePlaying || sess.waiting || sess.cursor != idx {
		m.mu.Unlock()
		return
	}

	var evs []speech.PlaybackEvent
	m.failClipLocked(sess, idx, err, &evs)
	m.mu.Unlock()
	m.notify(evs)
}

// post appends a notification to the pending event list.
func (m *Manager) post(evs *[]speech.PlaybackEvent, messageID string, t speech.EventType, seq int, playing bool, err error) {
	*evs = append(*evs, speech.PlaybackEvent{
		MessageID: messageID,
		Type:      t,
		Sequence:  seq,
		Playing:   playing,
		Err:       err,
		Timestamp: time.Now(),
	})
}

// notify delivers events to observers outside the lock, in order.
func (m *Manager) notify(evs []speech.PlaybackEvent) {
	if len(evs) == 0 {
		return
	}
	m.mu.Lock()
	observers := make([]speech.PlaybackObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, ev := range evs {
		for _, obs := range observers {
			obs.OnPlaybackEvent(ev)
		}
	}
}
