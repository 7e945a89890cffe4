// Package notifications pushes terminal job events to an ntfy topic so long
// transcriptions can run unattended.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scribe/internal/config"
)

const userAgent = "Scribe/0.1.0"

// Service is the notification surface exposed to the workflow.
type Service interface {
	NotifyJobCompleted(ctx context.Context, title string, usedCaptions bool) error
	NotifyJobFailed(ctx context.Context, title, errorCode, errorMessage string) error
	NotifyJobSkipped(ctx context.Context, title, reason string) error
	NotifyQueueDrained(ctx context.Context, completed, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// Without a topic, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:        topic,
		client:          &http.Client{Timeout: timeout},
		sendCompletions: cfg.Notifications.Completion,
		sendErrors:      cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint        string
	client          *http.Client
	sendCompletions bool
	sendErrors      bool
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, title string, usedCaptions bool) error {
	if !n.sendCompletions {
		return nil
	}
	source := "speech-to-text"
	if usedCaptions {
		source = "creator captions"
	}
	data := payload{
		title:   "Scribe - Transcript Ready",
		message: fmt.Sprintf("Transcript ready: %s (%s)", strings.TrimSpace(title), source),
		tags:    []string{"scribe", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, title, errorCode, errorMessage string) error {
	if !n.sendErrors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Transcription failed")
	if title = strings.TrimSpace(title); title != "" {
		builder.WriteString(": ")
		builder.WriteString(title)
	}
	if errorCode != "" {
		builder.WriteString("\n")
		builder.WriteString(errorCode)
	}
	if errorMessage = strings.TrimSpace(errorMessage); errorMessage != "" {
		builder.WriteString(" - ")
		builder.WriteString(errorMessage)
	}
	data := payload{
		title:    "Scribe - Job Failed",
		message:  builder.String(),
		tags:     []string{"scribe", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobSkipped(ctx context.Context, title, reason string) error {
	if !n.sendCompletions {
		return nil
	}
	data := payload{
		title:    "Scribe - Job Skipped",
		message:  fmt.Sprintf("Skipped: %s (%s)", strings.TrimSpace(title), reason),
		tags:     []string{"scribe", "job", "skipped"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, completed, failed int, duration time.Duration) error {
	if !n.sendCompletions {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var title, message string
	if failed == 0 {
		title = "Scribe - Queue Complete"
		message = fmt.Sprintf("Queue drained: %d transcripts in %s", completed, duration)
	} else {
		title = "Scribe - Queue Complete (with errors)"
		message = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", completed, failed, duration)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"scribe", "queue", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Scribe - Test",
		message:  "Notification system test",
		tags:     []string{"scribe", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

// NewNop returns a notification service that drops everything, for tests.
func NewNop() Service { return noopService{} }

func (noopService) NotifyJobCompleted(context.Context, string, bool) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error {
	return nil
}
func (noopService) NotifyJobSkipped(context.Context, string, string) error { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int, time.Duration) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
