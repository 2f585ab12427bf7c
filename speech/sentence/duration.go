package sentence

import (
	"strings"
	"time"
	"unicode"
)

// baseWordsPerMinute is the assumed speaking rate at speed 1.0.
const baseWordsPerMinute = 150.0

// EstimateSpeakingDuration predicts how long a sentence takes to speak, for
// backends that cannot report clip length and for queue diagnostics. Dense
// punctuation and digits slow the estimated rate slightly.
func EstimateSpeakingDuration(text string, speed float64) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	if speed <= 0 {
		speed = 1.0
	}

	rate := baseWordsPerMinute * speed * (1.0 - complexity(text)*0.2)
	seconds := float64(words) * 60.0 / rate
	return time.Duration(seconds * float64(time.Second))
}

// complexity scores text in [0, 1] by the share of runes that are digits or
// punctuation, which read slower than plain words.
func complexity(text string) float64 {
	if text == "" {
		return 0
	}
	hard := 0
	total := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsDigit(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			hard++
		}
	}
	if total == 0 {
		return 0
	}
	score := float64(hard) / float64(total)
	if score > 1 {
		score = 1
	}
	return score
}
