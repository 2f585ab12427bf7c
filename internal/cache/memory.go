// Package cache stores synthesized audio clips keyed by normalized sentence
// text. Two tiers: a byte-budgeted in-memory LRU for the hot set and a
// zstd-compressed disk tier that survives restarts.
package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrItemTooLarge is returned when a single clip exceeds the tier capacity.
var ErrItemTooLarge = errors.New("cache: item larger than capacity")

// Stats holds counters for one cache tier.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
	Capacity  int64
	ItemCount int
}

// Memory is the in-memory LRU tier. Eviction is by total byte size, not
// entry count, because clip sizes vary by an order of magnitude.
type Memory struct {
	capacity int64

	mu       sync.Mutex
	size     int64
	items    map[string]*list.Element
	eviction *list.List
	stats    Stats
}

type memoryEntry struct {
	key   string
	audio []byte
	size  int64
	added time.Time
}

// NewMemory creates a memory tier with the given byte capacity.
func NewMemory(capacity int64) *Memory {
	return &Memory{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats:    Stats{Capacity: capacity},
	}
}

// Get returns the clip for key, marking it most recently used.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		m.stats.Misses++
		return nil, false
	}
	m.eviction.MoveToFront(elem)
	m.stats.Hits++
	return elem.Value.(*memoryEntry).audio, true
}

// Put stores a clip, evicting least recently used entries to make room.
func (m *Memory) Put(key string, audio []byte) error {
	size := int64(len(audio))
	if size > m.capacity {
		return ErrItemTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		m.size += size - entry.size
		entry.audio = audio
		entry.size = size
		entry.added = time.Now()
		m.eviction.MoveToFront(elem)
		return nil
	}

	for m.size+size > m.capacity && m.eviction.Len() > 0 {
		m.evictOldest()
	}

	elem := m.eviction.PushFront(&memoryEntry{
		key:   key,
		audio: audio,
		size:  size,
		added: time.Now(),
	})
	m.items[key] = elem
	m.size += size
	return nil
}

// Delete removes a single entry.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

// Clear drops every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.eviction.Init()
	m.size = 0
}

// Size returns the current byte size.
func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// GetStats returns a snapshot of the tier counters.
func (m *Memory) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Size = m.size
	s.ItemCount = len(m.items)
	return s
}

// evictOldest drops the least recently used entry. Caller holds m.mu.
func (m *Memory) evictOldest() {
	elem := m.eviction.Back()
	if elem == nil {
		return
	}
	m.removeElement(elem)
	m.stats.Evictions++
}

func (m *Memory) removeElement(elem *list.Element) {
	m.eviction.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(m.items, entry.key)
	m.size -= entry.size
}
