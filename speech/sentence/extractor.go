// Package sentence provides incremental sentence boundary extraction for
// streamed text. Chunks are accumulated in a buffer and complete sentences
// are emitted as soon as they can be confidently delimited.
package sentence

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/log"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

// minSentenceRunes is the trimmed length below which a candidate sentence is
// treated as noise: it is consumed without being emitted so it cannot block
// the sentences behind it.
const minSentenceRunes = 3

// Extractor accumulates raw text chunks and emits complete sentences.
// It is stateful per stream and restartable via Reset.
type Extractor struct {
	buf     []rune
	emitted bool // a sentence has been emitted for this stream

	abbreviations map[string]bool
	logger        *log.Logger
}

// NewExtractor creates an extractor for a single text stream.
func NewExtractor(logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{
		abbreviations: makeAbbreviationMap(),
		logger:        logger,
	}
}

// ProcessChunk appends a chunk to the buffer and returns the sentences that
// completed in this call, in stream order. A hard internal failure returns
// an empty result; losing one extraction pass is preferable to aborting the
// narration mid-stream.
func (e *Extractor) ProcessChunk(chunk string) (events []speech.SentenceEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("sentence extraction failed, dropping pass", "panic", r)
			events = nil
		}
	}()

	if chunk == "" {
		return nil
	}
	e.buf = append(e.buf, []rune(chunk)...)
	return e.extract()
}

// Finalize flushes any remaining buffered text as a final sentence. The
// second return value reports whether a sentence was produced. The buffer is
// left empty afterwards.
func (e *Extractor) Finalize() (speech.SentenceEvent, bool) {
	rest := strings.TrimSpace(string(e.buf))
	e.buf = nil
	if rest == "" {
		return speech.SentenceEvent{}, false
	}
	ev := speech.SentenceEvent{Text: rest, First: !e.emitted}
	e.emitted = true
	return ev, true
}

// Reset clears the buffer and first-sentence tracking for reuse on a new
// stream.
func (e *Extractor) Reset() {
	e.buf = nil
	e.emitted = false
}

// Pending returns the number of buffered, not yet emitted runes.
func (e *Extractor) Pending() int {
	return len(e.buf)
}

// extract scans the buffer for confirmed sentence boundaries, emits the
// completed sentences, and trims the consumed prefix from the buffer.
func (e *Extractor) extract() []speech.SentenceEvent {
	var events []speech.SentenceEvent
	start := 0

	for i := 0; i < len(e.buf); i++ {
		if !isTerminator(e.buf[i]) {
			continue
		}

		// Collect the whole terminator cluster, then absorb closing
		// quotes or brackets into the sentence.
		clusterEnd := i
		for clusterEnd+1 < len(e.buf) && isTerminator(e.buf[clusterEnd+1]) {
			clusterEnd++
		}
		tail := clusterEnd
		for tail+1 < len(e.buf) && isCloser(e.buf[tail+1]) {
			tail++
		}

		atEnd := tail+1 >= len(e.buf)
		if !atEnd && !unicode.IsSpace(e.buf[tail+1]) {
			// Mid-token punctuation ("v1.2", "e.g.x"); not a boundary.
			i = tail
			continue
		}

		if !e.confirmBoundary(start, i, clusterEnd, atEnd) {
			i = tail
			continue
		}

		raw := string(e.buf[start : tail+1])
		if len([]rune(strings.TrimSpace(raw))) > minSentenceRunes {
			events = append(events, speech.SentenceEvent{Text: raw, First: !e.emitted})
			e.emitted = true
		} else {
			e.logger.Debug("skipping short fragment", "text", raw)
		}
		start = tail + 1
		i = tail
	}

	if start > 0 {
		rest := make([]rune, len(e.buf)-start)
		copy(rest, e.buf[start:])
		e.buf = rest
	}
	return events
}

// confirmBoundary decides whether the terminator cluster at [punct,
// clusterEnd] really ends a sentence. A fault while inspecting a single
// match skips that match instead of aborting the pass.
func (e *Extractor) confirmBoundary(start, punct, clusterEnd int, atEnd bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("boundary check failed, skipping match", "panic", r)
			ok = false
		}
	}()

	// Exclamation and question marks are unambiguous.
	if e.buf[punct] != '.' {
		return true
	}

	// Ellipsis: split only when clearly followed by a new sentence.
	if clusterEnd-punct >= 2 {
		if atEnd {
			return false
		}
		next := nextNonSpace(e.buf, clusterEnd+1)
		return next >= 0 && unicode.IsUpper(e.buf[next])
	}

	word := wordBefore(e.buf, start, punct)
	if word != "" {
		trimmed := strings.TrimSuffix(word, ".")
		if e.abbreviations[trimmed] || e.abbreviations[word] {
			return false
		}
		// Multi-part abbreviations like "u.s." or "ph.d".
		if strings.Contains(trimmed, ".") {
			return false
		}
		// A single capital letter followed by a period is an initial,
		// not a sentence end ("J. Smith").
		if len(trimmed) == 1 && unicode.IsUpper(e.buf[punct-1]) {
			return false
		}
	}

	// Decimal numbers: a period between digits never splits, and a digit
	// right before a period at end-of-buffer might still be mid-number, so
	// hold until more text arrives.
	if punct > 0 && unicode.IsDigit(e.buf[punct-1]) {
		if atEnd {
			return false
		}
		if punct+1 < len(e.buf) && unicode.IsDigit(e.buf[punct+1]) {
			return false
		}
	}

	return true
}

// wordBefore returns the lowercased word (including the terminating period)
// immediately preceding the terminator at punct.
func wordBefore(buf []rune, start, punct int) string {
	w := punct - 1
	for w >= start && !unicode.IsSpace(buf[w]) {
		w--
	}
	if w+1 > punct {
		return ""
	}
	return strings.ToLower(string(buf[w+1 : punct+1]))
}

// nextNonSpace returns the index of the first non-space rune at or after
// pos, or -1 if none exists.
func nextNonSpace(buf []rune, pos int) int {
	for i := pos; i < len(buf); i++ {
		if !unicode.IsSpace(buf[i]) {
			return i
		}
	}
	return -1
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']'
}

// makeAbbreviationMap builds the fixed list of common abbreviations that do
// not end sentences. Entries are stored both with and without the trailing
// period.
func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"ph.d", "m.d", "b.a", "m.a", "b.s",
		"i.e", "e.g", "etc", "vs", "cf", "al",
		"inc", "ltd", "co", "corp", "llc",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"st", "rd", "ave", "blvd", "ln", "ct",
		"u.s", "u.k", "u.n", "e.u",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}

	m := make(map[string]bool, len(abbrevs)*2)
	for _, a := range abbrevs {
		m[a] = true
		m[a+"."] = true
	}
	return m
}
