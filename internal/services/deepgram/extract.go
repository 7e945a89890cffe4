package deepgram

import "strings"

// Response mirrors the slice of the Deepgram response the pipeline reads.
type Response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Paragraphs struct {
					Paragraphs []struct {
						Sentences []struct {
							Text string `json:"text"`
						} `json:"sentences"`
					} `json:"paragraphs"`
				} `json:"paragraphs"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// ExtractText pulls plain transcript text out of a response. Paragraph
// structure is preferred, with sentences joined by spaces and paragraphs by
// blank lines; a flat transcript is the fallback; a response with neither
// extracts to the empty string.
func ExtractText(resp *Response) string {
	if resp == nil || len(resp.Results.Channels) == 0 {
		return ""
	}
	alternatives := resp.Results.Channels[0].Alternatives
	if len(alternatives) == 0 {
		return ""
	}
	alt := alternatives[0]

	var parts []string
	for _, paragraph := range alt.Paragraphs.Paragraphs {
		var sentences []string
		for _, sentence := range paragraph.Sentences {
			if text := strings.TrimSpace(sentence.Text); text != "" {
				sentences = append(sentences, text)
			}
		}
		if len(sentences) > 0 {
			parts = append(parts, strings.Join(sentences, " "))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	return strings.TrimSpace(alt.Transcript)
}
