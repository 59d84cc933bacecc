package prompt

import (
	"math"
	"strings"
)

// EstimateTokens approximates the token count of s by averaging a word-based
// estimate (words * 4/3) with a character-based one (chars / 4), rounded up.
// Deliberately conservative; not billing-accurate.
func EstimateTokens(s string) int {
	if strings.TrimSpace(s) == "" {
		return 0
	}
	words := len(strings.Fields(s))
	wordEst := float64(words) * 4.0 / 3.0
	charEst := float64(len(s)) / 4.0
	return int(math.Ceil((wordEst + charEst) / 2))
}

// estimateCounts is the incremental form used while packing words into a
// budget: wc words and cc characters seen so far.
func estimateCounts(wc, cc int) int {
	if wc == 0 {
		return 0
	}
	wordEst := float64(wc) * 4.0 / 3.0
	charEst := float64(cc) / 4.0
	return int(math.Ceil((wordEst + charEst) / 2))
}

// TruncateToTokens cuts s at the nearest word boundary so that the estimate
// stays within budget. Never cuts mid-word. Returns the kept prefix and
// whether anything was removed.
func TruncateToTokens(s string, budget int) (string, bool) {
	if budget <= 0 {
		return "", strings.TrimSpace(s) != ""
	}
	if EstimateTokens(s) <= budget {
		return s, false
	}
	words := strings.Fields(s)
	var b strings.Builder
	wc, cc := 0, 0
	for _, w := range words {
		add := len(w)
		if wc > 0 {
			add++ // joining space
		}
		if estimateCounts(wc+1, cc+add) > budget {
			break
		}
		if wc > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		wc++
		cc += add
	}
	return b.String(), true
}

// ClipSentences keeps at most n sentences of s. n <= 0 means no clipping.
func ClipSentences(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}
	return s
}
