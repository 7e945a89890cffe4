// Package videoid validates YouTube URLs and extracts the 11-character
// video identifier used to key jobs and output artifacts.
package videoid

import (
	"bufio"
	"encoding/csv"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"scribe/internal/services"
)

var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?youtu\.be/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/v/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?m\.youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// Extract returns the video id embedded in a YouTube URL, or "" when the
// URL is not recognized.
func Extract(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, pattern := range urlPatterns {
		if m := pattern.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}
	// Fallback: some share URLs carry extra query parameters ahead of v.
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	if !strings.Contains(host, "youtube.com") && !strings.Contains(host, "youtu.be") {
		return ""
	}
	if v := parsed.Query().Get("v"); idPattern.MatchString(v) {
		return v
	}
	return ""
}

// Validate returns the video id for a URL or a non-retryable invalid-URL error.
func Validate(raw string) (string, error) {
	id := Extract(raw)
	if id == "" {
		return "", services.NewError(services.CodeInvalidURL, "not a recognized video URL: "+strings.TrimSpace(raw))
	}
	return id, nil
}

// IsVideoURL reports whether a string looks like a supported video URL.
func IsVideoURL(raw string) bool {
	return Extract(raw) != ""
}

// ParseLines extracts valid video URLs from pasted text, one per line.
// Blank lines and unrecognized lines are skipped silently.
func ParseLines(text string) []string {
	var urls []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if IsVideoURL(line) {
			urls = append(urls, line)
		}
	}
	return urls
}

// ParseFile reads video URLs from a .txt (one per line) or .csv file.
// CSV files may carry a "url" or "youtube_url" header naming the column;
// otherwise the first column is used.
func ParseFile(path string) ([]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return parseCSV(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseLines(string(data)), nil
}

func parseCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var (
		urls   []string
		column = 0
		first  = true
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		if first {
			first = false
			headerFound := false
			for i, col := range row {
				name := strings.ToLower(strings.TrimSpace(col))
				if name == "url" || name == "youtube_url" {
					column = i
					headerFound = true
					break
				}
			}
			if headerFound {
				continue
			}
			// No recognized header: treat the row as data only when it
			// already holds a URL.
			if !IsVideoURL(strings.TrimSpace(row[0])) {
				continue
			}
		}
		if column < len(row) {
			cell := strings.TrimSpace(row[column])
			if IsVideoURL(cell) {
				urls = append(urls, cell)
			}
		}
	}
	return urls, nil
}
