// Package queue implements the priority speech-synthesis queue. Sentences
// are tagged with a message identifier and a priority class (first sentence
// of a message = high), synthesized one at a time by a single drain worker,
// and emitted as clips through typed callbacks. Completion order of the
// synthesis calls never reorders clips: the per-message sequence index
// assigned at enqueue time is the sole ordering key downstream.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Kratos0080/Sonoria-sub001/speech"
	"github.com/Kratos0080/Sonoria-sub001/speech/sentence"
)

// Task is one pending synthesis unit. Tasks are created on enqueue and
// destroyed on completion or explicit cancellation.
type Task struct {
	ID        uuid.UUID
	MessageID string
	Sequence  int
	Text      string
	Priority  speech.Priority
	Enqueued  time.Time
}

// Callbacks is the typed event table for queue-side notifications. Nil
// entries are simply skipped. Completion is reported via callbacks rather
// than return values because synthesis is inherently asynchronous and
// callers must not block the producing stream.
type Callbacks struct {
	// SentenceGenerated fires for every successfully synthesized clip,
	// cache hits included.
	SentenceGenerated func(clip speech.Clip)

	// FirstSentenceReady fires in addition to SentenceGenerated when the
	// clip is the first sentence of its message.
	FirstSentenceReady func(clip speech.Clip)

	// QueueCompleted fires when the last outstanding task of a message
	// finishes, successfully or not.
	QueueCompleted func(messageID string)

	// Error fires for per-sentence synthesis failures. Single-sentence
	// failures are non-fatal to the rest of the message.
	Error func(messageID, text string, err error)
}

// Config carries the queue collaborators. Synthesizer is required; Cache is
// optional and its absence degrades gracefully to always-miss.
type Config struct {
	Synthesizer speech.Synthesizer
	Cache       speech.ClipCache
	Options     speech.SynthesisOptions
	Callbacks   Callbacks
	Logger      *log.Logger
}

// Stats holds diagnostic counters for the queue.
type Stats struct {
	Enqueued    int64
	CacheHits   int64
	Synthesized int64
	Errors      int64
	Pending     int
}

// Queue is the priority synthesis queue. All exported methods are safe for
// concurrent use.
type Queue struct {
	synth  speech.Synthesizer
	cache  speech.ClipCache
	opts   speech.SynthesisOptions
	cbs    Callbacks
	logger *log.Logger

	mu       sync.Mutex
	pending  []*Task
	nextSeq  map[string]int // next normal sequence index per message
	firstSet map[string]bool
	inflight map[string]int // outstanding task count per message (pending + running)
	closed   bool
	stats    Stats

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a queue and starts its single drain worker.
func New(cfg Config) (*Queue, error) {
	if cfg.Synthesizer == nil {
		return nil, speech.ErrNoSynthesizer
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Options.Speed == 0 {
		cfg.Options.Speed = 1.0
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		synth:    cfg.Synthesizer,
		cache:    cfg.Cache,
		opts:     cfg.Options,
		cbs:      cfg.Callbacks,
		logger:   cfg.Logger,
		nextSeq:  make(map[string]int),
		firstSet: make(map[string]bool),
		inflight: make(map[string]int),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go q.drain()
	return q, nil
}

// Enqueue registers a sentence for synthesis. Empty text is a silent no-op.
// On a cache hit the clip is emitted immediately, bypassing the queue
// entirely; a hit costs nothing, so priority ordering does not apply to it.
func (q *Queue) Enqueue(text, messageID string, first bool) {
	if strings.TrimSpace(text) == "" {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	seq := q.assignSequence(messageID, first)
	q.stats.Enqueued++

	key := CacheKey(text, q.opts)
	if q.cache != nil {
		if audio, ok := q.cache.Get(key); ok {
			q.stats.CacheHits++
			q.mu.Unlock()
			q.logger.Debug("cache hit, bypassing queue",
				"message", messageID, "seq", seq, "key", key)
			q.emit(speech.Clip{
				MessageID: messageID,
				Sequence:  seq,
				Audio:     audio,
				First:     first,
			})
			return
		}
	}

	task := &Task{
		ID:        uuid.New(),
		MessageID: messageID,
		Sequence:  seq,
		Text:      text,
		Priority:  speech.PriorityNormal,
		Enqueued:  time.Now(),
	}
	if first {
		task.Priority = speech.PriorityHigh
	}

	q.pending = append(q.pending, task)
	// Strict priority with FIFO tie-break within a priority class.
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].Priority != q.pending[j].Priority {
			return q.pending[i].Priority < q.pending[j].Priority
		}
		return q.pending[i].Enqueued.Before(q.pending[j].Enqueued)
	})
	q.inflight[messageID]++
	q.stats.Pending = len(q.pending)
	q.mu.Unlock()

	q.logger.Debug("task enqueued",
		"task", task.ID, "message", messageID, "seq", seq, "priority", task.Priority,
		"est", sentence.EstimateSpeakingDuration(text, q.opts.Speed))

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// assignSequence hands out the per-message sequence index. The first
// sentence always takes index 0 regardless of call order; normal sentences
// count up from 1. Caller holds q.mu.
func (q *Queue) assignSequence(messageID string, first bool) int {
	if first {
		if q.firstSet[messageID] {
			// Duplicate first-of-message flag; fall through to a normal slot.
			q.logger.Warn("duplicate first sentence for message", "message", messageID)
		} else {
			q.firstSet[messageID] = true
			if q.nextSeq[messageID] == 0 {
				q.nextSeq[messageID] = 1
			}
			return 0
		}
	}
	n := q.nextSeq[messageID]
	if n == 0 {
		n = 1
	}
	q.nextSeq[messageID] = n + 1
	return n
}

// ClearMessage removes all not-yet-started tasks for a message. A task
// already in flight runs to completion but its result is discarded on
// arrival rather than emitted.
func (q *Queue) ClearMessage(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.pending[:0]
	for _, t := range q.pending {
		if t.MessageID == messageID {
			continue
		}
		kept = append(kept, t)
	}
	q.pending = kept
	q.stats.Pending = len(q.pending)
	delete(q.nextSeq, messageID)
	delete(q.firstSet, messageID)
	delete(q.inflight, messageID)
	q.logger.Debug("cleared message tasks", "message", messageID)
}

// Clear removes every pending task and all per-message tracking.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = q.pending[:0]
	q.nextSeq = make(map[string]int)
	q.firstSet = make(map[string]bool)
	q.inflight = make(map[string]int)
	q.stats.Pending = 0
}

// Close stops the drain worker. Pending tasks are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	<-q.done
}

// GetStats returns a snapshot of the queue counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

// drain is the single-worker loop: one task at a time to completion.
// Synthesis calls are rate-limited externally, and interleaving them would
// not reduce latency to the first sentence, which is what the priority
// class protects.
func (q *Queue) drain() {
	defer close(q.done)
	for {
		task := q.take()
		if task == nil {
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}
		q.process(task)
	}
}

// take pops the highest-priority, oldest pending task.
func (q *Queue) take() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	q.stats.Pending = len(q.pending)
	return task
}

// process synthesizes one task and emits its result. Results for messages
// cleared while the call was in flight are discarded silently.
func (q *Queue) process(task *Task) {
	start := time.Now()
	audio, err := q.synth.Synthesize(q.ctx, task.Text, q.opts)

	q.mu.Lock()
	_, tracked := q.inflight[task.MessageID]
	if tracked {
		q.inflight[task.MessageID]--
		if err != nil {
			q.stats.Errors++
		} else {
			q.stats.Synthesized++
		}
	}
	remaining := q.inflight[task.MessageID]
	q.mu.Unlock()

	if !tracked {
		q.logger.Debug("discarding result for cleared message",
			"task", task.ID, "message", task.MessageID)
		return
	}

	if err != nil {
		q.logger.Error("synthesis failed",
			"task", task.ID, "message", task.MessageID, "seq", task.Sequence, "error", err)
		if q.cbs.Error != nil {
			q.cbs.Error(task.MessageID, task.Text, err)
		}
	} else {
		q.logger.Debug("synthesis complete",
			"task", task.ID, "message", task.MessageID, "seq", task.Sequence,
			"bytes", len(audio), "elapsed", time.Since(start))
		if q.cache != nil && len(audio) > 0 {
			q.cache.Put(CacheKey(task.Text, q.opts), audio)
		}
		q.emit(speech.Clip{
			MessageID: task.MessageID,
			Sequence:  task.Sequence,
			Audio:     audio,
			First:     task.Priority == speech.PriorityHigh,
		})
	}

	if remaining == 0 && q.cbs.QueueCompleted != nil {
		q.cbs.QueueCompleted(task.MessageID)
	}
}

func (q *Queue) emit(clip speech.Clip) {
	if clip.First && q.cbs.FirstSentenceReady != nil {
		q.cbs.FirstSentenceReady(clip)
	}
	if q.cbs.SentenceGenerated != nil {
		q.cbs.SentenceGenerated(clip)
	}
}

// CacheKey derives the normalized cache key for a sentence: lowercased,
// whitespace-collapsed text plus the voice parameters, hashed so keys are
// filesystem-safe for the disk tier.
func CacheKey(text string, opts speech.SynthesisOptions) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	input := fmt.Sprintf("%s|%s|%s|%.2f", norm, opts.Voice, opts.Format, opts.Speed)
	sum := sha256.Sum256([]byte(input))
	return "v1_" + hex.EncodeToString(sum[:])
}
