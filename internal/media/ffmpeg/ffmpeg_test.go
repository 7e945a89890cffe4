package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"scribe/internal/chunking"
	"scribe/internal/services"
)

func stubCommand(t *testing.T, mode string, captured *[][]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append(*captured, append([]string{name}, args...))
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"FFMPEG_HELPER_MODE="+mode,
			"FFMPEG_HELPER_OUTPUT="+lastArg(args),
		)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func lastArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}

func TestNormalizeBuildsExpectedCommand(t *testing.T) {
	var captured [][]string
	stubCommand(t, "create-output", &captured)

	cli := NewCLI()
	dir := t.TempDir()
	out, err := cli.Normalize(context.Background(), "/tmp/source.webm", dir)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out != filepath.Join(dir, "normalized.mp3") {
		t.Fatalf("unexpected output path %s", out)
	}

	joined := strings.Join(captured[0], " ")
	for _, want := range []string{"pan=mono|c0=0.5*c0+0.5*c1", "-ar 16000", "-ac 1", "-b:a 96k", "libmp3lame"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("command missing %q: %s", want, joined)
		}
	}
}

func TestNormalizeFailureClassified(t *testing.T) {
	stubCommand(t, "fail", nil)

	cli := NewCLI()
	_, err := cli.Normalize(context.Background(), "/tmp/source.webm", t.TempDir())
	details := services.Details(err)
	if details.Code != services.CodeNormalizeFailed {
		t.Fatalf("expected normalize failure code, got %s", details.Code)
	}
	if details.Retryable {
		t.Fatal("normalize failures are terminal")
	}
}

func TestDurationFallsBackToZero(t *testing.T) {
	stubCommand(t, "fail", nil)
	if d := NewCLI().Duration(context.Background(), "/tmp/audio.mp3"); d != 0 {
		t.Fatalf("expected 0 on probe failure, got %f", d)
	}

	stubCommand(t, "duration", nil)
	if d := NewCLI().Duration(context.Background(), "/tmp/audio.mp3"); d != 4321.5 {
		t.Fatalf("expected probed duration, got %f", d)
	}
}

func TestExtractSegmentCopiesStream(t *testing.T) {
	var captured [][]string
	stubCommand(t, "create-output", &captured)

	dir := t.TempDir()
	target := filepath.Join(dir, "chunks", "chunk_001.mp3")
	seg := chunking.Segment{Index: 1, Start: 3598, End: 7198}
	if err := NewCLI().ExtractSegment(context.Background(), "/tmp/normalized.mp3", target, seg); err != nil {
		t.Fatalf("ExtractSegment: %v", err)
	}

	joined := strings.Join(captured[0], " ")
	for _, want := range []string{"-ss 3598.000", "-t 3600.000", "-codec:a copy"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("command missing %q: %s", want, joined)
		}
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "create-output":
		if path := os.Getenv("FFMPEG_HELPER_OUTPUT"); path != "" {
			_ = os.WriteFile(path, []byte("audio"), 0o644)
		}
		os.Exit(0)
	case "duration":
		fmt.Println("4321.500000")
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(1)
	}
	os.Exit(0)
}
