// Package workspace manages the per-job scratch directory tree that holds
// intermediate artifacts between pipeline stages.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"scribe/internal/services"
)

// Dirs are the fixed subfolders of one job workspace.
const (
	DirMeta        = "meta"
	DirCaptions    = "captions"
	DirSource      = "source"
	DirNormalized  = "normalized"
	DirChunks      = "chunks"
	DirTranscripts = "transcripts"
)

// Workspace is one job's scratch tree under the configured workspace root.
type Workspace struct {
	root string
}

// New creates the workspace tree for a job and returns it. Existing
// directories are reused so a retried job lands in the same place.
func New(workspaceRoot, jobID string) (*Workspace, error) {
	root := filepath.Join(workspaceRoot, jobID)
	for _, dir := range []string{DirMeta, DirCaptions, DirSource, DirNormalized, DirChunks, DirTranscripts} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, services.WrapError(services.CodeUnexpected, "create workspace", err)
		}
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Meta returns the metadata directory.
func (w *Workspace) Meta() string { return filepath.Join(w.root, DirMeta) }

// Captions returns the captions directory.
func (w *Workspace) Captions() string { return filepath.Join(w.root, DirCaptions) }

// Source returns the downloaded-audio directory.
func (w *Workspace) Source() string { return filepath.Join(w.root, DirSource) }

// Normalized returns the normalized-audio directory.
func (w *Workspace) Normalized() string { return filepath.Join(w.root, DirNormalized) }

// Chunks returns the segment-audio directory.
func (w *Workspace) Chunks() string { return filepath.Join(w.root, DirChunks) }

// Transcripts returns the raw-response directory.
func (w *Workspace) Transcripts() string { return filepath.Join(w.root, DirTranscripts) }

// ChunkPath names the audio file for one segment index.
func (w *Workspace) ChunkPath(index int) string {
	return filepath.Join(w.Chunks(), fmt.Sprintf("chunk_%03d.mp3", index))
}

// WriteMetaJSON records a pipeline artifact in the meta directory, where it
// survives cleanup when debug artifacts are kept.
func (w *Workspace) WriteMetaJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return services.WrapError(services.CodeUnexpected, "encode "+name, err)
	}
	if err := os.WriteFile(filepath.Join(w.Meta(), name), data, 0o644); err != nil {
		return services.WrapError(services.CodeUnexpected, "write "+name, err)
	}
	return nil
}

// TranscriptPath names the raw response file for one segment index.
func (w *Workspace) TranscriptPath(index int) string {
	return filepath.Join(w.Transcripts(), fmt.Sprintf("chunk_%03d.json", index))
}

// Cleanup deletes job artifacts once the job reaches a terminal state.
// Audio always goes; metadata and raw transcription responses survive when
// keepDebug is set so failures can be diagnosed offline.
func (w *Workspace) Cleanup(keepDebug bool) {
	remove := []string{DirSource, DirNormalized, DirChunks, DirCaptions}
	if !keepDebug {
		remove = append(remove, DirTranscripts, DirMeta)
	}
	for _, dir := range remove {
		_ = os.RemoveAll(filepath.Join(w.root, dir))
	}
	if !keepDebug {
		// Removes the workspace itself only once it is empty.
		_ = os.Remove(w.root)
	}
}
