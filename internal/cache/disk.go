package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const clipExtension = ".clip.zst"

// Disk is the persistent tier. Each clip is one zstd-compressed file named
// after its cache key; the key itself is already a hex digest, so it is
// filesystem-safe by construction. There is no index file: the directory is
// scanned once at open and the modification time doubles as the entry age.
type Disk struct {
	dir     string
	maxAge  time.Duration
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.Mutex
	stats Stats
}

// NewDisk opens (creating if needed) a disk tier rooted at dir. Entries
// older than maxAge are removed by Sweep; maxAge <= 0 disables expiry.
func NewDisk(dir string, maxAge time.Duration) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Disk{
		dir:     dir,
		maxAge:  maxAge,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Get reads and decompresses the clip for key.
func (d *Disk) Get(key string) ([]byte, bool) {
	path := d.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		d.count(func(s *Stats) { s.Misses++ })
		return nil, false
	}

	audio, err := d.decoder.DecodeAll(data, nil)
	if err != nil {
		// Corrupt entry; drop it so the next Put rewrites cleanly.
		os.Remove(path)
		d.count(func(s *Stats) { s.Misses++ })
		return nil, false
	}

	d.count(func(s *Stats) { s.Hits++ })
	return audio, true
}

// Put compresses and writes the clip. Writes go through a temp file plus
// rename so a crash never leaves a truncated entry behind.
func (d *Disk) Put(key string, audio []byte) error {
	compressed := d.encoder.EncodeAll(audio, make([]byte, 0, len(audio)/2))

	path := d.path(key)
	tmp, err := os.CreateTemp(d.dir, "put-*")
	if err != nil {
		return fmt.Errorf("creating temp clip file: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing clip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing clip file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("installing clip file: %w", err)
	}
	return nil
}

// Delete removes the clip for key if present.
func (d *Disk) Delete(key string) {
	os.Remove(d.path(key))
}

// Clear removes every stored clip.
func (d *Disk) Clear() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), clipExtension) {
			os.Remove(filepath.Join(d.dir, entry.Name()))
		}
	}
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (d *Disk) Sweep() int {
	if d.maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-d.maxAge)
	swept := 0
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), clipExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(d.dir, entry.Name())) == nil {
				swept++
			}
		}
	}
	return swept
}

// Size returns the on-disk byte total of stored clips.
func (d *Disk) Size() int64 {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), clipExtension) {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}

// GetStats returns a snapshot of the tier counters.
func (d *Disk) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	return s
}

// Close releases the compressor resources.
func (d *Disk) Close() {
	d.encoder.Close()
	d.decoder.Close()
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.dir, key+clipExtension)
}

func (d *Disk) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}
