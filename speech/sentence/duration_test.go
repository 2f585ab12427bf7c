package sentence

import (
	"testing"
	"time"
)

func TestEstimateSpeakingDuration(t *testing.T) {
	// 150 words at the base rate is one minute of speech.
	words := make([]byte, 0, 150*5)
	for i := 0; i < 150; i++ {
		words = append(words, "word "...)
	}
	d := EstimateSpeakingDuration(string(words), 1.0)
	if d < 55*time.Second || d > 65*time.Second {
		t.Errorf("150 plain words should take about a minute, got %v", d)
	}

	// Doubling the speed roughly halves the duration.
	fast := EstimateSpeakingDuration(string(words), 2.0)
	if fast >= d {
		t.Errorf("faster speed should shorten duration: %v vs %v", fast, d)
	}

	// Digit-heavy text reads slower than plain words of the same count.
	plain := EstimateSpeakingDuration("one two three four five", 1.0)
	dense := EstimateSpeakingDuration("3.14 2.71 1.41 6.02 9.81", 1.0)
	if dense <= plain {
		t.Errorf("complex text should be slower: %v vs %v", dense, plain)
	}

	if EstimateSpeakingDuration("", 1.0) <= 0 {
		t.Error("empty text should still have a minimal duration")
	}
}
