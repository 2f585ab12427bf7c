package audio

import (
	"errors"
	"testing"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

func TestMockHandleLifecycle(t *testing.T) {
	b := NewMockBackend()
	h, err := b.NewHandle([]byte("audio"))
	if err != nil {
		t.Fatal(err)
	}

	ended := false
	h.OnEnded(func() { ended = true })

	if err := h.Play(); err != nil {
		t.Fatal(err)
	}
	if b.Current() == nil {
		t.Fatal("expected a playing handle")
	}
	if !b.FinishCurrent() {
		t.Fatal("FinishCurrent found nothing playing")
	}
	if !ended {
		t.Error("OnEnded callback did not fire")
	}
}

func TestMockHandleDetachSuppressesCallbacks(t *testing.T) {
	b := NewMockBackend()
	h, err := b.NewHandle([]byte("audio"))
	if err != nil {
		t.Fatal(err)
	}

	fired := false
	h.OnEnded(func() { fired = true })
	h.Detach()

	if err := h.Play(); err != nil {
		t.Fatal(err)
	}
	b.FinishCurrent()
	if fired {
		t.Error("detached callback fired")
	}
}

func TestMockHandleReleaseCounting(t *testing.T) {
	b := NewMockBackend()
	h, err := b.NewHandle([]byte("audio"))
	if err != nil {
		t.Fatal(err)
	}

	h.Release()
	h.Release()
	mh := h.(*MockHandle)
	if mh.ReleaseCount() != 2 {
		t.Errorf("expected release count 2, got %d", mh.ReleaseCount())
	}
	if err := h.Play(); !errors.Is(err, speech.ErrHandleReleased) {
		t.Errorf("expected ErrHandleReleased, got %v", err)
	}
}

func TestMockBackendScriptedPlayError(t *testing.T) {
	b := NewMockBackend()
	boom := errors.New("no gesture")
	b.FailPlayAt(2, boom)

	h1, _ := b.NewHandle([]byte("a"))
	h2, _ := b.NewHandle([]byte("b"))

	if err := h1.Play(); err != nil {
		t.Fatalf("first play should succeed: %v", err)
	}
	if err := h2.Play(); !errors.Is(err, boom) {
		t.Errorf("second play should fail, got %v", err)
	}
}

func TestMockBackendRejectsEmptyAudio(t *testing.T) {
	b := NewMockBackend()
	if _, err := b.NewHandle(nil); !errors.Is(err, speech.ErrNoAudio) {
		t.Errorf("expected ErrNoAudio, got %v", err)
	}
}
