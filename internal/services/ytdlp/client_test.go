package ytdlp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

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
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "YTDLP_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func TestFetchMetadataParsesFormats(t *testing.T) {
	var captured [][]string
	stubCommand(t, "metadata", &captured)

	meta, err := NewCLI().FetchMetadata(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("FetchMetadata: %v", err)
	}
	if meta.ID != "dQw4w9WgXcQ" || meta.Title != "Test Video" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.Duration != 212 {
		t.Fatalf("unexpected duration %f", meta.Duration)
	}
	if len(meta.Formats) != 2 {
		t.Fatalf("expected 2 formats, got %d", len(meta.Formats))
	}
	if meta.Formats[1].FormatID != "251" || meta.Formats[1].ABR != 128 {
		t.Fatalf("unexpected format: %+v", meta.Formats[1])
	}

	joined := strings.Join(captured[0], " ")
	for _, want := range []string{"--dump-json", "--no-playlist", "--skip-download"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("command missing %q: %s", want, joined)
		}
	}
}

func TestFetchMetadataClassifiesFailures(t *testing.T) {
	cases := []struct {
		mode string
		code services.Code
	}{
		{"unavailable", services.CodeVideoUnavailable},
		{"geo", services.CodeGeoBlocked},
		{"restricted", services.CodeRestrictedContent},
		{"transient", services.CodeNetworkTransient},
	}
	for _, tc := range cases {
		stubCommand(t, tc.mode, nil)
		_, err := NewCLI().FetchMetadata(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
		if err == nil {
			t.Fatalf("%s: expected error", tc.mode)
		}
		if got := services.Details(err).Code; got != tc.code {
			t.Fatalf("%s: expected %s, got %s", tc.mode, tc.code, got)
		}
	}
}

func TestFetchCreatorCaptionsNeverRequestsAutoSubs(t *testing.T) {
	var captured [][]string
	stubCommand(t, "silent", &captured)

	dir := t.TempDir()
	path, err := NewCLI().FetchCreatorCaptions(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", dir)
	if err != nil {
		t.Fatalf("FetchCreatorCaptions: %v", err)
	}
	if path != "" {
		t.Fatalf("no captions on disk, got %s", path)
	}

	joined := strings.Join(captured[0], " ")
	if strings.Contains(joined, "--write-auto-subs") {
		t.Fatalf("auto-generated subtitles must never be requested: %s", joined)
	}
	if !strings.Contains(joined, "--write-subs") {
		t.Fatalf("creator subtitles not requested: %s", joined)
	}
}

func TestFetchCreatorCaptionsFindsEnglishTrack(t *testing.T) {
	stubCommand(t, "silent", nil)

	dir := t.TempDir()
	want := filepath.Join(dir, "dQw4w9WgXcQ.en.vtt")
	if err := os.WriteFile(want, []byte("WEBVTT\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dQw4w9WgXcQ.fr.vtt"), []byte("WEBVTT\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := NewCLI().FetchCreatorCaptions(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", dir)
	if err != nil {
		t.Fatalf("FetchCreatorCaptions: %v", err)
	}
	if path != want {
		t.Fatalf("expected english track %s, got %s", want, path)
	}
}

func TestFetchCreatorCaptionsRetriesWithCookies(t *testing.T) {
	var captured [][]string
	stubCommand(t, "silent", &captured)

	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
	if err := os.WriteFile(cookieFile, []byte("# cookies"), 0o600); err != nil {
		t.Fatal(err)
	}

	cli := NewCLI(WithCookies(CookiePolicy{Enabled: true, Path: cookieFile}))
	if _, err := cli.FetchCreatorCaptions(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", t.TempDir()); err != nil {
		t.Fatal(err)
	}

	if len(captured) != 2 {
		t.Fatalf("expected cookieless then cookie attempt, got %d calls", len(captured))
	}
	if strings.Contains(strings.Join(captured[0], " "), "--cookies") {
		t.Fatal("first attempt must run without cookies")
	}
	if !strings.Contains(strings.Join(captured[1], " "), "--cookies") {
		t.Fatal("second attempt must attach cookies")
	}
}

func TestDownloadAudio(t *testing.T) {
	var captured [][]string
	stubCommand(t, "download", &captured)

	dir := t.TempDir()
	// Helper cannot see the -o template, so pre-create the artifact the
	// way a real run would leave it.
	if err := os.WriteFile(filepath.Join(dir, "source.webm"), []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := NewCLI().DownloadAudio(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "251", dir)
	if err != nil {
		t.Fatalf("DownloadAudio: %v", err)
	}
	if filepath.Base(path) != "source.webm" {
		t.Fatalf("unexpected download path %s", path)
	}
	if joined := strings.Join(captured[0], " "); !strings.Contains(joined, "-f 251") {
		t.Fatalf("selected format not requested: %s", joined)
	}
}

func TestDownloadAudioFailureClassified(t *testing.T) {
	stubCommand(t, "transient", nil)

	_, err := NewCLI().DownloadAudio(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "251", t.TempDir())
	details := services.Details(err)
	if details.Code != services.CodeDownloadFailed {
		t.Fatalf("expected download failure code, got %s", details.Code)
	}
	if !details.Retryable {
		t.Fatal("download failures are retryable")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("YTDLP_HELPER_MODE") {
	case "metadata":
		fmt.Println(`{"id":"dQw4w9WgXcQ","title":"Test Video","duration":212,"formats":[` +
			`{"format_id":"137","vcodec":"avc1","acodec":"none","ext":"mp4"},` +
			`{"format_id":"251","vcodec":"none","acodec":"opus","abr":128,"ext":"webm"}]}`)
		os.Exit(0)
	case "unavailable":
		fmt.Fprintln(os.Stderr, "ERROR: [youtube] dQw4w9WgXcQ: Video unavailable")
		os.Exit(1)
	case "geo":
		fmt.Fprintln(os.Stderr, "ERROR: The uploader has not made this video available in your country")
		os.Exit(1)
	case "restricted":
		fmt.Fprintln(os.Stderr, "ERROR: Sign in to confirm your age")
		os.Exit(1)
	case "transient":
		fmt.Fprintln(os.Stderr, "ERROR: Connection reset by peer")
		os.Exit(1)
	case "silent", "download":
		os.Exit(0)
	}
	os.Exit(0)
}
