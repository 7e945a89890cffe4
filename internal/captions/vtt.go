// Package captions converts creator-authored VTT subtitle files into plain
// transcript text. Cue numbers, timestamps, styling markup and positioning
// metadata are stripped; repeated cue lines collapse; blank lines survive as
// paragraph breaks.
package captions

import (
	"os"
	"regexp"
	"strings"

	"scribe/internal/services"
)

var (
	timestampRE = regexp.MustCompile(`(?m)^\d{2}:\d{2}:\d{2}\.\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}\.\d{3}.*$`)
	cueIDRE     = regexp.MustCompile(`(?m)^\d+\s*$`)
	headerRE    = regexp.MustCompile(`(?m)^WEBVTT.*$`)
	kindRE      = regexp.MustCompile(`(?m)^Kind:.*$`)
	languageRE  = regexp.MustCompile(`(?m)^Language:.*$`)
	noteRE      = regexp.MustCompile(`(?m)^NOTE\s.*$`)
	markupRE    = regexp.MustCompile(`<[^>]+>`)
	positionRE  = regexp.MustCompile(`(?i)\b(?:position|align|size|line):\S+`)
	spacesRE    = regexp.MustCompile(`[ \t]+`)
	blanksRE    = regexp.MustCompile(`\n{3,}`)
)

// ParseFile reads a VTT file and returns its cleaned transcript text.
func ParseFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", services.WrapError(services.CodeCaptionsNotFound, "read caption file", err)
	}
	return Parse(string(raw)), nil
}

// Parse cleans raw VTT content into plain text. An empty result means the
// file carried no usable speech, which callers treat as "no captions".
func Parse(content string) string {
	content = headerRE.ReplaceAllString(content, "")
	content = kindRE.ReplaceAllString(content, "")
	content = languageRE.ReplaceAllString(content, "")
	content = noteRE.ReplaceAllString(content, "")
	content = timestampRE.ReplaceAllString(content, "")
	content = cueIDRE.ReplaceAllString(content, "")
	content = positionRE.ReplaceAllString(content, "")
	content = markupRE.ReplaceAllString(content, "")

	// VTT cues repeat their text as the window scrolls; keep the first of
	// each consecutive run and preserve at most one blank line between
	// paragraphs.
	var cleaned []string
	prev := ""
	blanks := 0
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			blanks++
			if blanks <= 1 && len(cleaned) > 0 {
				cleaned = append(cleaned, "")
			}
			continue
		}
		blanks = 0
		if stripped == prev {
			continue
		}
		cleaned = append(cleaned, stripped)
		prev = stripped
	}

	text := strings.Join(cleaned, "\n")
	text = blanksRE.ReplaceAllString(text, "\n\n")
	text = spacesRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
