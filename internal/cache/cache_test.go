package cache

import (
	"bytes"
	"testing"
	"time"
)

func TestMemoryPutGet(t *testing.T) {
	m := NewMemory(1024)

	if _, ok := m.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}

	audio := []byte("some audio bytes")
	if err := m.Put("k1", audio); err != nil {
		t.Fatal(err)
	}
	got, ok := m.Get("k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, audio) {
		t.Error("wrong bytes returned")
	}

	stats := m.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMemoryEvictsLRU(t *testing.T) {
	m := NewMemory(100)

	if err := m.Put("a", make([]byte, 40)); err != nil {
		t.Fatal(err)
	}
	if err := m.Put("b", make([]byte, 40)); err != nil {
		t.Fatal(err)
	}
	// Touch "a" so "b" is the eviction candidate.
	m.Get("a")

	if err := m.Put("c", make([]byte, 40)); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.Get("b"); ok {
		t.Error("least recently used entry should have been evicted")
	}
	if _, ok := m.Get("a"); !ok {
		t.Error("recently used entry should survive")
	}
	if _, ok := m.Get("c"); !ok {
		t.Error("new entry should be present")
	}
	if m.GetStats().Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", m.GetStats().Evictions)
	}
}

func TestMemoryRejectsOversized(t *testing.T) {
	m := NewMemory(10)
	if err := m.Put("big", make([]byte, 11)); err != ErrItemTooLarge {
		t.Errorf("expected ErrItemTooLarge, got %v", err)
	}
}

func TestMemoryUpdateInPlace(t *testing.T) {
	m := NewMemory(100)
	if err := m.Put("k", make([]byte, 30)); err != nil {
		t.Fatal(err)
	}
	if err := m.Put("k", make([]byte, 50)); err != nil {
		t.Fatal(err)
	}
	if got := m.Size(); got != 50 {
		t.Errorf("expected size 50 after update, got %d", got)
	}
}

func TestDiskRoundTrip(t *testing.T) {
	d, err := NewDisk(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	audio := bytes.Repeat([]byte("pcm"), 500)
	if err := d.Put("v1_abc", audio); err != nil {
		t.Fatal(err)
	}
	got, ok := d.Get("v1_abc")
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, audio) {
		t.Error("round trip corrupted the audio")
	}

	if _, ok := d.Get("v1_other"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestDiskSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	d1, err := NewDisk(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := d1.Put("v1_key", []byte("persisted audio")); err != nil {
		t.Fatal(err)
	}
	d1.Close()

	d2, err := NewDisk(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer d2.Close()
	got, ok := d2.Get("v1_key")
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if string(got) != "persisted audio" {
		t.Error("wrong bytes after reopen")
	}
}

func TestDiskSweepExpiry(t *testing.T) {
	d, err := NewDisk(t.TempDir(), time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := d.Put("v1_old", []byte("stale")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if swept := d.Sweep(); swept != 1 {
		t.Errorf("expected 1 swept entry, got %d", swept)
	}
	if _, ok := d.Get("v1_old"); ok {
		t.Error("swept entry still readable")
	}
}

func TestTieredPromotion(t *testing.T) {
	dir := t.TempDir()
	tc, err := NewTiered(TieredConfig{DiskDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer tc.Close()

	tc.Put("v1_k", []byte("both tiers"))

	// Drop the memory copy; the next Get must fall through to disk and
	// promote the entry back.
	tc.memory.Clear()
	if _, ok := tc.Get("v1_k"); !ok {
		t.Fatal("disk tier missed")
	}
	if _, ok := tc.memory.Get("v1_k"); !ok {
		t.Error("disk hit was not promoted to memory")
	}
}

func TestTieredWithoutDisk(t *testing.T) {
	tc, err := NewTiered(TieredConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer tc.Close()

	tc.Put("v1_k", []byte("memory only"))
	if _, ok := tc.Get("v1_k"); !ok {
		t.Error("memory-only cache missed")
	}
	if stats := tc.DiskStats(); stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("disk stats should be zero without a disk tier: %+v", stats)
	}
}
