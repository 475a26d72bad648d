package memory

import (
	"strconv"
	"strings"
)

// Classification decides short_term vs long_term when a writer does not
// pin the memory type. The score lives in [0,1]; above the threshold the
// entry is long-term.

const classifyThreshold = 0.6

// routineKeywords mark transient operational chatter that should decay
// on the short horizon.
var routineKeywords = []string{"routine", "debug", "error", "trace", "heartbeat", "retry"}

// durableCategories mark metadata categories that push an entry strongly
// toward the long horizon (+0.4); the other signals still count.
var durableCategories = map[string]bool{
	"user_correction": true,
	"verified_fact":   true,
}

// ClassifyType scores an entry and returns its memory type.
func ClassifyType(e *Entry) Type {
	if ClassifyScore(e) > classifyThreshold {
		return TypeLongTerm
	}
	return TypeShortTerm
}

// ClassifyScore computes the retention score from content shape and
// metadata signals.
//
// Positive signals: substantial content length, sentence structure, a
// metadata confidence value, and durable categories. Negative signals:
// routine/debug/error keywords.
func ClassifyScore(e *Entry) float64 {
	score := 0.3

	// Content length: longer entries carry more durable information.
	switch n := len(e.Content); {
	case n > 500:
		score += 0.2
	case n > 120:
		score += 0.1
	case n < 20:
		score -= 0.1
	}

	// Structure: multi-sentence content reads as considered knowledge.
	if strings.Count(e.Content, ".") >= 2 || strings.Contains(e.Content, "\n") {
		score += 0.1
	}

	if e.Metadata != nil {
		if conf, err := strconv.ParseFloat(e.Metadata["confidence"], 64); err == nil {
			score += 0.3 * clamp01(conf)
		}
		if durableCategories[e.Metadata["category"]] {
			score += 0.4
		}
	}

	lower := strings.ToLower(e.Content)
	for _, kw := range routineKeywords {
		if strings.Contains(lower, kw) {
			score -= 0.15
			break
		}
	}

	return clamp01(score)
}
