// Package streams chooses which audio-only stream to transcribe.
//
// Speech-to-text accuracy plateaus around 96 kbps for mono speech, so the
// selector targets that bitrate inside a 64-128 kbps band rather than the
// highest quality on offer.
package streams

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	// MinABR is the bitrate floor in kbps; streams below it are only
	// chosen when nothing meets the floor.
	MinABR = 64
	// MaxABR bounds the preferred band.
	MaxABR = 128
	// TargetABR is the ideal speech bitrate within the band.
	TargetABR = 96
)

// FallbackFormatID is returned when no audio-only stream exists; downstream
// download passes it to yt-dlp verbatim.
const FallbackFormatID = "bestaudio"

// Descriptor is one available media stream from metadata.
type Descriptor struct {
	FormatID   string
	VideoCodec string
	AudioCodec string
	ABR        float64 // kbps, 0 when unknown
	Ext        string
}

// Selection is the chosen stream plus the diagnostic justification.
// Reason strings are part of the contract: callers and tests assert on them.
type Selection struct {
	FormatID   string
	ABR        float64
	Ext        string
	AudioCodec string
	Reason     string
}

// Select applies the speech-first policy over the available streams. The
// decision is deterministic: a total order over candidates with documented
// tie-breaks.
func Select(available []Descriptor) Selection {
	audioOnly := filterAudioOnly(available)
	if len(audioOnly) == 0 {
		return Selection{
			FormatID: FallbackFormatID,
			Reason:   "no audio-only streams found; using bestaudio fallback",
		}
	}

	var withABR []Descriptor
	for _, s := range audioOnly {
		if s.ABR > 0 {
			withABR = append(withABR, s)
		}
	}

	if len(withABR) == 0 {
		first := audioOnly[0]
		return selection(first, "no reliable bitrate data; chose first audio-only stream")
	}

	var aboveFloor []Descriptor
	for _, s := range withABR {
		if s.ABR >= MinABR {
			aboveFloor = append(aboveFloor, s)
		}
	}

	if len(aboveFloor) == 0 {
		// Everything is below the floor; take the best available.
		sort.SliceStable(withABR, func(i, j int) bool { return withABR[i].ABR > withABR[j].ABR })
		return selection(withABR[0], fmt.Sprintf("no stream >= %dkbps; chose highest available", MinABR))
	}

	var inBand []Descriptor
	for _, s := range aboveFloor {
		if s.ABR <= MaxABR {
			inBand = append(inBand, s)
		}
	}

	if len(inBand) > 0 {
		// Closest to target; ties favor the higher bitrate. The tie-break
		// is policy, not an artifact: 128 beats 64 even though both sit
		// 32 kbps from the 96 target.
		sort.SliceStable(inBand, func(i, j int) bool {
			di := math.Abs(inBand[i].ABR - TargetABR)
			dj := math.Abs(inBand[j].ABR - TargetABR)
			if di != dj {
				return di < dj
			}
			return inBand[i].ABR > inBand[j].ABR
		})
		return selection(inBand[0], fmt.Sprintf("closest to %dkbps in [%d-%d] range", TargetABR, MinABR, MaxABR))
	}

	// All floor-qualifying streams exceed the band; minimize bandwidth.
	sort.SliceStable(aboveFloor, func(i, j int) bool { return aboveFloor[i].ABR < aboveFloor[j].ABR })
	return selection(aboveFloor[0], fmt.Sprintf("no stream in [%d-%d] range; chose lowest above floor", MinABR, MaxABR))
}

func filterAudioOnly(available []Descriptor) []Descriptor {
	var out []Descriptor
	for _, s := range available {
		video := strings.ToLower(strings.TrimSpace(s.VideoCodec))
		audio := strings.ToLower(strings.TrimSpace(s.AudioCodec))
		if (video == "" || video == "none") && audio != "" && audio != "none" {
			out = append(out, s)
		}
	}
	return out
}

func selection(s Descriptor, reason string) Selection {
	return Selection{
		FormatID:   s.FormatID,
		ABR:        s.ABR,
		Ext:        s.Ext,
		AudioCodec: s.AudioCodec,
		Reason:     reason,
	}
}
