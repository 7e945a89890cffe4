// Package output writes finished transcripts into the user's library and
// answers whether a video already has one on disk.
package output

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"scribe/internal/services"
)

// maxFolderNameLen caps sanitized titles so deep library paths stay inside
// filesystem name limits.
const maxFolderNameLen = 200

var (
	unsafeChars    = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	collapseSpaces = regexp.MustCompile(`[_\s]+`)
)

// Writer persists transcripts under a single output root.
type Writer struct {
	root string
}

// NewWriter returns a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{root: dir}
}

// Write stores text at <root>/<sanitized title>/<videoID>.txt and returns
// the written path.
func (w *Writer) Write(text, title, videoID string) (string, error) {
	folder, err := w.safeFolder(title, videoID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", services.WrapError(services.CodeUnexpected, "create output folder", err)
	}

	path := filepath.Join(folder, videoID+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", services.WrapError(services.CodeUnexpected, "write transcript", err)
	}
	return path, nil
}

// Exists reports whether any transcript for videoID is already on disk,
// searching every title folder under the root.
func (w *Writer) Exists(videoID string) bool {
	target := videoID + ".txt"
	found := false
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == target {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// safeFolder builds the per-title folder, confining the result under the
// root. Titles that sanitize to nothing or escape the root fall back to
// video_<id>.
func (w *Writer) safeFolder(title, videoID string) (string, error) {
	name := SanitizeTitle(title)
	if name == "" {
		name = "video_" + videoID
	}

	candidate := filepath.Join(w.root, name)
	rootAbs, err := filepath.Abs(w.root)
	if err != nil {
		return "", services.WrapError(services.CodeUnexpected, "resolve output root", err)
	}
	candidateAbs, err := filepath.Abs(candidate)
	if err != nil || !strings.HasPrefix(candidateAbs, rootAbs+string(filepath.Separator)) {
		return filepath.Join(w.root, "video_"+videoID), nil
	}
	return candidate, nil
}

// SanitizeTitle turns a video title into a filesystem-safe folder name.
// Unicode is normalized to NFC so the same title produces the same folder
// regardless of how the platform composed it.
func SanitizeTitle(title string) string {
	safe := norm.NFC.String(title)
	safe = unsafeChars.ReplaceAllString(safe, "_")
	safe = strings.ReplaceAll(safe, "..", "")
	safe = collapseSpaces.ReplaceAllString(safe, " ")
	safe = strings.TrimSpace(safe)
	if len(safe) > maxFolderNameLen {
		cut := maxFolderNameLen
		for cut > 0 && !utf8.RuneStart(safe[cut]) {
			cut--
		}
		safe = strings.TrimRight(safe[:cut], " ")
	}
	return strings.Trim(safe, ".")
}
