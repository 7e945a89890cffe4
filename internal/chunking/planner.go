// Package chunking plans how long recordings are cut into transcription
// segments. Consecutive segments share a small fixed overlap so the merger
// can stitch boundary words back together without losing speech.
package chunking

import "fmt"

// Segment is one planned slice of audio, in seconds from the start of the
// recording. End is exclusive of nothing: the segment covers [Start, End].
type Segment struct {
	Index int
	Start float64
	End   float64
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// NeedsChunking reports whether a recording of the given duration exceeds
// the chunking threshold. Both values are seconds.
func NeedsChunking(durationSeconds, thresholdSeconds float64) bool {
	return durationSeconds > thresholdSeconds
}

// BuildManifest produces the ordered segment list covering [0, duration].
// Each segment spans chunkSeconds, clipped at the end of the recording, and
// every segment after the first starts overlapSeconds before its
// predecessor's end. Returns an error on degenerate inputs rather than
// looping forever.
func BuildManifest(durationSeconds, chunkSeconds, overlapSeconds float64) ([]Segment, error) {
	if durationSeconds <= 0 {
		return nil, fmt.Errorf("chunking: non-positive duration %.2fs", durationSeconds)
	}
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("chunking: non-positive chunk length %.2fs", chunkSeconds)
	}
	if overlapSeconds < 0 || overlapSeconds >= chunkSeconds {
		return nil, fmt.Errorf("chunking: overlap %.2fs must be in [0, %.2fs)", overlapSeconds, chunkSeconds)
	}

	var manifest []Segment
	start := 0.0
	for index := 0; ; index++ {
		end := start + chunkSeconds
		if end > durationSeconds {
			end = durationSeconds
		}
		manifest = append(manifest, Segment{Index: index, Start: start, End: end})
		if end >= durationSeconds {
			return manifest, nil
		}
		start = end - overlapSeconds
	}
}

// SplitInHalf divides one segment interval into two sub-intervals for
// adaptive retry. The first half ends at the midpoint; the second begins
// overlapSeconds before it, preserving the usual boundary overlap. Callers
// enforce the minimum segment floor before splitting.
func SplitInHalf(start, end, overlapSeconds float64) (Segment, Segment) {
	mid := start + (end-start)/2
	secondStart := mid - overlapSeconds
	if secondStart < start {
		secondStart = start
	}
	return Segment{Index: 0, Start: start, End: mid},
		Segment{Index: 1, Start: secondStart, End: end}
}
