package cache

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// Tiered combines the memory and disk tiers behind the clip cache contract.
// Reads check memory first; a disk hit is promoted into memory. Writes land
// in both tiers. The disk tier is optional — without it Tiered degrades to a
// plain in-memory cache.
type Tiered struct {
	memory *Memory
	disk   *Disk
	logger *log.Logger
}

// TieredConfig configures the combined cache.
type TieredConfig struct {
	MemoryCapacity int64
	DiskDir        string        // empty disables the disk tier
	DiskMaxAge     time.Duration // <= 0 disables expiry
	Logger         *log.Logger
}

// DefaultMemoryCapacity bounds the hot set at 32MB of raw audio.
const DefaultMemoryCapacity = 32 * 1024 * 1024

// NewTiered builds the tiered cache and runs an initial expiry sweep on the
// disk tier.
func NewTiered(cfg TieredConfig) (*Tiered, error) {
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = DefaultMemoryCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	t := &Tiered{
		memory: NewMemory(cfg.MemoryCapacity),
		logger: cfg.Logger,
	}

	if cfg.DiskDir != "" {
		disk, err := NewDisk(cfg.DiskDir, cfg.DiskMaxAge)
		if err != nil {
			return nil, err
		}
		t.disk = disk
		if swept := disk.Sweep(); swept > 0 {
			cfg.Logger.Debug("swept expired cache entries", "count", swept)
		}
		cfg.Logger.Debug("disk cache ready",
			"dir", cfg.DiskDir, "size", humanize.Bytes(uint64(disk.Size())))
	}

	return t, nil
}

// Get looks the key up in memory, then disk. Disk hits are promoted.
func (t *Tiered) Get(key string) ([]byte, bool) {
	if audio, ok := t.memory.Get(key); ok {
		return audio, true
	}
	if t.disk == nil {
		return nil, false
	}
	audio, ok := t.disk.Get(key)
	if !ok {
		return nil, false
	}
	if err := t.memory.Put(key, audio); err != nil {
		t.logger.Debug("clip not promoted to memory tier", "key", key, "error", err)
	}
	return audio, true
}

// Put stores the clip in both tiers. Disk failures are logged, not
// propagated: the memory copy already satisfies the current session.
func (t *Tiered) Put(key string, audio []byte) {
	if err := t.memory.Put(key, audio); err != nil {
		t.logger.Warn("clip not cached in memory tier",
			"key", key, "size", humanize.Bytes(uint64(len(audio))), "error", err)
	}
	if t.disk != nil {
		if err := t.disk.Put(key, audio); err != nil {
			t.logger.Warn("clip not cached on disk", "key", key, "error", err)
		}
	}
}

// Clear drops both tiers.
func (t *Tiered) Clear() {
	t.memory.Clear()
	if t.disk != nil {
		if err := t.disk.Clear(); err != nil {
			t.logger.Warn("disk cache clear failed", "error", err)
		}
	}
}

// MemoryStats returns counters for the memory tier.
func (t *Tiered) MemoryStats() Stats { return t.memory.GetStats() }

// DiskStats returns counters for the disk tier, zero without one.
func (t *Tiered) DiskStats() Stats {
	if t.disk == nil {
		return Stats{}
	}
	return t.disk.GetStats()
}

// Close releases disk tier resources.
func (t *Tiered) Close() {
	if t.disk != nil {
		t.disk.Close()
	}
}
