// Package transcript stitches per-segment transcription texts back into one
// document. Adjacent segments overlap by a couple of seconds of audio, so
// their texts usually repeat a few boundary words; the merger removes the
// repetition when it is confident the match is real.
package transcript

import "strings"

// DefaultMaxOverlapWords bounds how far back the deduper looks for a
// repeated boundary. Two seconds of speech rarely exceeds ten words.
const DefaultMaxOverlapWords = 10

// minSignificantOverlap is the shortest token run treated as a genuine
// duplicate. Shorter matches are too likely to be coincidence, so the texts
// are joined unmodified instead.
const minSignificantOverlap = 3

// DedupeOverlap joins two consecutive segment texts, dropping the leading
// words of b that repeat the trailing words of a. The removal only happens
// when the matched run is longer than minSignificantOverlap words; otherwise
// the texts are concatenated with a paragraph break.
func DedupeOverlap(a, b string, maxOverlapWords int) string {
	if strings.TrimSpace(a) == "" {
		return b
	}
	if strings.TrimSpace(b) == "" {
		return a
	}

	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	k := maxOverlapWords
	if len(wordsA) < k {
		k = len(wordsA)
	}
	if len(wordsB) < k {
		k = len(wordsB)
	}

	for i := k; i >= 1; i-- {
		if !tokensEqual(wordsA[len(wordsA)-i:], wordsB[:i]) {
			continue
		}
		if i <= minSignificantOverlap {
			break
		}
		return a + " " + strings.Join(wordsB[i:], " ")
	}
	return a + "\n\n" + b
}

// MergeAll folds DedupeOverlap across the ordered segment texts. An empty
// list merges to the empty string and a single text is returned as-is, so
// the unchunked path flows through the same call.
func MergeAll(orderedTexts []string) string {
	switch len(orderedTexts) {
	case 0:
		return ""
	case 1:
		return orderedTexts[0]
	}
	merged := orderedTexts[0]
	for _, text := range orderedTexts[1:] {
		merged = DedupeOverlap(merged, text, DefaultMaxOverlapWords)
	}
	return strings.TrimSpace(merged)
}

func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
