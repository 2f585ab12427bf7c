package playback

import (
	"errors"
	"sync"
	"testing"

	"github.com/Kratos0080/Sonoria-sub001/internal/audio"
	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// eventRecorder collects playback events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []speech.PlaybackEvent
}

func (r *eventRecorder) OnPlaybackEvent(ev speech.PlaybackEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []speech.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]speech.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *eventRecorder) count(t speech.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T) (*Manager, *audio.MockBackend, *eventRecorder) {
	t.Helper()
	backend := audio.NewMockBackend()
	m, err := NewManager(Config{Backend: backend})
	if err != nil {
		t.Fatal(err)
	}
	rec := &eventRecorder{}
	m.Subscribe(rec)
	return m, backend, rec
}

func clip(messageID string, seq int) speech.Clip {
	return speech.Clip{
		MessageID: messageID,
		Sequence:  seq,
		Audio:     []byte("pcm-bytes-for-testing"),
		First:     seq == 0,
	}
}

func TestNewManagerRequiresBackend(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Error("expected error without backend")
	}
}

func TestAutoplayStartsAtSequenceZero(t *testing.T) {
	m, backend, rec := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}

	if !m.IsPlayingMessage("msg") {
		t.Error("message should be playing after autoplay")
	}
	if backend.Current() == nil {
		t.Error("no handle playing on the backend")
	}
	if rec.count(speech.EventPlaybackStarted) != 1 {
		t.Errorf("expected one started event, got %v", rec.types())
	}
}

func TestOrderedPlaybackDespiteArrivalOrder(t *testing.T) {
	m, backend, _ := newTestManager(t)
	m.ArmGesture()

	// Sequence 1 lands before sequence 0; nothing plays yet.
	if err := m.SubmitClip(clip("msg", 1), true); err != nil {
		t.Fatal(err)
	}
	if m.IsPlayingMessage("msg") {
		t.Fatal("playback must not start before sequence 0 arrives")
	}

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	if !m.IsPlayingMessage("msg") {
		t.Fatal("sequence 0 should start playback")
	}

	// Natural completion of clip 0 advances to clip 1.
	if !backend.FinishCurrent() {
		t.Fatal("nothing playing to finish")
	}
	if !m.IsPlayingMessage("msg") {
		t.Fatal("playback should continue with sequence 1")
	}

	handles := backend.Handles()
	if len(handles) != 2 {
		t.Fatalf("expected 2 handles, got %d", len(handles))
	}
	if handles[0].PlayCount() == 0 || handles[1].PlayCount() == 0 {
		t.Error("both clips should have been played")
	}
}

func TestWaitingThenGaplessResume(t *testing.T) {
	m, backend, rec := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	// Clip 0 ends before clip 1 has been synthesized.
	backend.FinishCurrent()

	if m.IsPlayingMessage("msg") {
		t.Error("nothing should be audible while waiting")
	}
	if rec.count(speech.EventPlaybackWaiting) != 1 {
		t.Errorf("expected a waiting event, got %v", rec.types())
	}

	// The missing clip arrives and playback resumes without intervention.
	if err := m.SubmitClip(clip("msg", 1), true); err != nil {
		t.Fatal(err)
	}
	if !m.IsPlayingMessage("msg") {
		t.Error("late clip should resume playback gaplessly")
	}
}

func TestPauseAndResume(t *testing.T) {
	m, backend, rec := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitClip(clip("msg", 1), false); err != nil {
		t.Fatal(err)
	}
	backend.FinishCurrent() // now playing sequence 1

	if err := m.StopPlaybackForMessage("msg"); err != nil {
		t.Fatal(err)
	}
	if m.IsPlayingMessage("msg") {
		t.Error("message should be paused")
	}
	if rec.count(speech.EventPlaybackPaused) != 1 {
		t.Errorf("expected a paused event, got %v", rec.types())
	}

	if err := m.StartPlaybackForMessage("msg"); err != nil {
		t.Fatal(err)
	}
	if !m.IsPlayingMessage("msg") {
		t.Error("message should resume")
	}
	if rec.count(speech.EventPlaybackResumed) != 1 {
		t.Errorf("expected a resumed event, got %v", rec.types())
	}

	// Resume picked up at the paused index, not from the beginning.
	handles := backend.Handles()
	if handles[1].PlayCount() != 2 {
		t.Errorf("sequence 1 should have been played twice, got %d", handles[1].PlayCount())
	}
	if handles[0].PlayCount() != 1 {
		t.Errorf("sequence 0 should have been played once, got %d", handles[0].PlayCount())
	}
}

func TestStartWhilePlayingIsNoOp(t *testing.T) {
	m, backend, _ := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	if err := m.StartPlaybackForMessage("msg"); err != nil {
		t.Fatal(err)
	}
	if got := backend.Handles()[0].PlayCount(); got != 1 {
		t.Errorf("duplicate start should not replay, got %d plays", got)
	}
}

func TestStartUnknownMessage(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.StartPlaybackForMessage("ghost"); !errors.Is(err, speech.ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestCompletionAfterFinish(t *testing.T) {
	m, backend, rec := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitClip(clip("msg", 1), false); err != nil {
		t.Fatal(err)
	}
	m.FinishMessage("msg")

	backend.FinishCurrent()
	backend.FinishCurrent()

	if rec.count(speech.EventPlaybackCompleted) != 1 {
		t.Errorf("expected one completed event, got %v", rec.types())
	}
	if m.IsPlayingMessage("msg") {
		t.Error("completed message should not be playing")
	}
	// Natural completion released every handle exactly once.
	for i, h := range backend.Handles() {
		if h.ReleaseCount() != 1 {
			t.Errorf("handle %d released %d times", i, h.ReleaseCount())
		}
	}
}

func TestFinishWhileWaitingCompletes(t *testing.T) {
	m, backend, rec := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	backend.FinishCurrent() // waiting for sequence 1

	m.FinishMessage("msg") // no more clips coming
	if rec.count(speech.EventPlaybackCompleted) != 1 {
		t.Errorf("expected completion while waiting, got %v", rec.types())
	}
}

func TestGestureGateParksSession(t *testing.T) {
	m, backend, rec := newTestManager(t)
	// No ArmGesture.

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	if m.IsPlayingMessage("msg") {
		t.Fatal("playback must not start without a gesture")
	}
	if rec.count(speech.EventAutoplayBlocked) != 1 {
		t.Errorf("expected one autoplay-blocked event, got %v", rec.types())
	}

	// The advisory is one-time even across messages.
	if err := m.SubmitClip(clip("other", 0), true); err != nil {
		t.Fatal(err)
	}
	if rec.count(speech.EventAutoplayBlocked) != 1 {
		t.Errorf("advisory should fire once, got %v", rec.types())
	}

	// An explicit start is itself a gesture-backed action.
	m.ArmGesture()
	if err := m.StartPlaybackForMessage("msg"); err != nil {
		t.Fatal(err)
	}
	if !m.IsPlayingMessage("msg") {
		t.Error("explicit start should play the parked session")
	}
	if backend.Current() == nil {
		t.Error("no handle playing after explicit start")
	}
}

func TestClearMessageReleasesEverythingOnce(t *testing.T) {
	m, backend, rec := newTestManager(t)
	m.ArmGesture()

	for seq := 0; seq < 3; seq++ {
		if err := m.SubmitClip(clip("msg", seq), true); err != nil {
			t.Fatal(err)
		}
	}
	m.ClearMessage("msg")
	m.ClearMessage("msg") // idempotent

	for i, h := range backend.Handles() {
		if h.ReleaseCount() != 1 {
			t.Errorf("handle %d released %d times, want exactly 1", i, h.ReleaseCount())
		}
	}
	if rec.count(speech.EventPlaybackStopped) != 1 {
		t.Errorf("expected one stopped event, got %v", rec.types())
	}
	if m.HasAudioForMessage("msg") {
		t.Error("cleared message still has audio")
	}
}

func TestClearSilentMessageEmitsNoStop(t *testing.T) {
	m, _, rec := newTestManager(t)

	if err := m.SubmitClip(clip("msg", 1), false); err != nil {
		t.Fatal(err)
	}
	m.ClearMessage("msg")

	if rec.count(speech.EventPlaybackStopped) != 0 {
		t.Errorf("silent clear should not emit stopped, got %v", rec.types())
	}
}

func TestReplacementReleasesOldHandle(t *testing.T) {
	m, backend, _ := newTestManager(t)

	if err := m.SubmitClip(clip("msg", 1), false); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitClip(clip("msg", 1), false); err != nil {
		t.Fatal(err)
	}

	handles := backend.Handles()
	if len(handles) != 2 {
		t.Fatalf("expected 2 handles, got %d", len(handles))
	}
	if handles[0].ReleaseCount() != 1 {
		t.Errorf("replaced handle released %d times, want 1", handles[0].ReleaseCount())
	}
	if handles[1].ReleaseCount() != 0 {
		t.Error("replacement handle must not be released")
	}
}

func TestClipErrorAdvances(t *testing.T) {
	m, backend, rec := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitClip(clip("msg", 1), false); err != nil {
		t.Fatal(err)
	}

	backend.FailCurrent(errors.New("decode fault"))

	if rec.count(speech.EventPlaybackError) != 1 {
		t.Errorf("expected one error event, got %v", rec.types())
	}
	if !m.IsPlayingMessage("msg") {
		t.Error("playback should advance past the failed clip")
	}
	if backend.Handles()[1].PlayCount() != 1 {
		t.Error("sequence 1 should be playing after the fault")
	}
}

func TestPlayFailureOnStart(t *testing.T) {
	m, backend, _ := newTestManager(t)
	m.ArmGesture()
	backend.SetPlayError(speech.ErrGestureRequired)

	// Autoplay rejection for a gesture error parks rather than failing.
	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	if m.IsPlayingMessage("msg") {
		t.Error("play rejection should leave the session parked")
	}

	backend.SetPlayError(nil)
	if err := m.StartPlaybackForMessage("msg"); err != nil {
		t.Fatal(err)
	}
	if !m.IsPlayingMessage("msg") {
		t.Error("retry after rejection should play")
	}
}

func TestResumeAfterCompletionRebuildsHandle(t *testing.T) {
	m, backend, _ := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	m.FinishMessage("msg")
	backend.FinishCurrent() // completes the session, releasing the handle

	err := m.StartPlaybackForMessage("msg")
	if !errors.Is(err, speech.ErrSessionCompleted) {
		t.Errorf("expected ErrSessionCompleted, got %v", err)
	}
	if got := backend.ReleasedCount(); got != 1 {
		t.Errorf("expected the one handle released, got %d", got)
	}
}

func TestGetStats(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("a", 0), true); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitClip(clip("a", 1), false); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitClip(clip("b", 0), false); err != nil {
		t.Fatal(err)
	}

	stats := m.GetStats()
	if stats.TotalMessages != 2 {
		t.Errorf("expected 2 messages, got %d", stats.TotalMessages)
	}
	if stats.TotalSentences != 3 {
		t.Errorf("expected 3 sentences, got %d", stats.TotalSentences)
	}
	if stats.ActivePlaybacks != 1 {
		t.Errorf("expected 1 active playback, got %d", stats.ActivePlaybacks)
	}
}

func TestCloseRejectsSubmissions(t *testing.T) {
	m, backend, _ := newTestManager(t)
	m.ArmGesture()

	if err := m.SubmitClip(clip("msg", 0), true); err != nil {
		t.Fatal(err)
	}
	m.Close()

	if err := m.SubmitClip(clip("msg", 1), false); !errors.Is(err, speech.ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
	if got := backend.Handles()[0].ReleaseCount(); got != 1 {
		t.Errorf("close should release handles, got %d releases", got)
	}
}
