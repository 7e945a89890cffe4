package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"scribe/internal/config"
)

func newTestService(t *testing.T, handler http.HandlerFunc, completion, errors bool) Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completion = completion
	cfg.Notifications.Errors = errors
	return NewService(&cfg)
}

func TestNewServiceWithoutTopicIsNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := NewService(&cfg)
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", svc)
	}
	if err := svc.NotifyJobCompleted(context.Background(), "anything", false); err != nil {
		t.Fatalf("noop must never fail: %v", err)
	}
}

func TestNotifyJobCompletedSendsHeaders(t *testing.T) {
	var gotTitle, gotTags string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
	}, true, true)

	if err := svc.NotifyJobCompleted(context.Background(), "My Video", true); err != nil {
		t.Fatalf("NotifyJobCompleted: %v", err)
	}
	if gotTitle != "Scribe - Transcript Ready" {
		t.Fatalf("unexpected title %q", gotTitle)
	}
	if gotTags != "scribe,job,completed" {
		t.Fatalf("unexpected tags %q", gotTags)
	}
}

func TestNotifyJobFailedRespectsErrorToggle(t *testing.T) {
	var calls int
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	}, true, false)

	if err := svc.NotifyJobFailed(context.Background(), "My Video", "ERR_DOWNLOAD_FAILED", "boom"); err != nil {
		t.Fatalf("NotifyJobFailed: %v", err)
	}
	if calls != 0 {
		t.Fatal("error notifications disabled, nothing should be sent")
	}
}

func TestSendSurfacesServerErrors(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}, true, true)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from rejecting server")
	}
}
