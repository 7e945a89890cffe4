// Package deepgram calls the Deepgram pre-recorded transcription API and
// extracts plain text from its responses.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"scribe/internal/logging"
	"scribe/internal/services"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.deepgram.com/v1"

	// minRequestTimeout floors the size-scaled upload timeout.
	minRequestTimeout = 120 * time.Second

	// Rate-limit backoff policy: up to maxRateLimitRetries extra attempts
	// with exponential delay from rateLimitBaseDelay, jittered by 10%.
	maxRateLimitRetries = 4
	rateLimitBaseDelay  = 2 * time.Second
)

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithModel selects the transcription model and language.
func WithModel(model, language string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
		if language != "" {
			c.language = language
		}
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is a Deepgram pre-recorded transcription client.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
	logger     *slog.Logger

	// sleep is swapped in tests so backoff does not slow the suite.
	sleep func(time.Duration)
}

// New constructs a client for the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      "nova-3",
		language:   "en",
		httpClient: &http.Client{},
		logger:     logging.NewNop(),
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VerifyKey checks the API key with a lightweight projects request.
func (c *Client) VerifyKey(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/projects", nil)
	if err != nil {
		return services.WrapError(services.CodeTranscribeAuth, "build verify request", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.WrapError(services.CodeNetworkTransient, "reach transcription service", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return services.NewError(services.CodeTranscribeAuth, "api key invalid or rejected")
	default:
		return services.NewError(services.CodeNetworkTransient,
			fmt.Sprintf("unexpected verify response %d", resp.StatusCode))
	}
}

// Transcribe uploads one audio file and returns the parsed response. The
// raw response JSON is persisted to rawResponsePath before returning so a
// later merge can replay it from disk. Rate-limited requests are retried
// in-place with exponential backoff before the failure is surfaced.
func (c *Client) Transcribe(ctx context.Context, audioPath, rawResponsePath string) (*Response, error) {
	if c.apiKey == "" {
		return nil, services.NewError(services.CodeTranscribeAuth, "api key not configured")
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, services.WrapError(services.CodeTranscribeFailed, "stat audio file", err)
	}
	timeout := requestTimeout(info.Size())

	var lastErr error
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Warn("transcription rate limited, backing off",
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay))
			c.sleep(delay)
		}

		resp, err := c.transcribeOnce(ctx, audioPath, rawResponsePath, timeout)
		if err == nil {
			return resp, nil
		}
		if !isRateLimited(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, services.WrapError(services.CodeNetworkTransient,
		"rate limit retries exhausted", lastErr)
}

func (c *Client) transcribeOnce(ctx context.Context, audioPath, rawResponsePath string, timeout time.Duration) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	audio, err := os.Open(audioPath)
	if err != nil {
		return nil, services.WrapError(services.CodeTranscribeFailed, "open audio file", err)
	}
	defer audio.Close()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/listen", audio)
	if err != nil {
		return nil, services.WrapError(services.CodeTranscribeFailed, "build transcribe request", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "audio/mpeg")

	query := req.URL.Query()
	query.Set("model", c.model)
	query.Set("language", c.language)
	query.Set("smart_format", "true")
	query.Set("punctuate", "true")
	query.Set("paragraphs", "true")
	req.URL.RawQuery = query.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return nil, services.NewError(services.CodeTimeout, "transcription request timed out")
		}
		return nil, services.WrapError(services.CodeNetworkTransient, "transcription request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusGatewayTimeout:
		return nil, services.NewError(services.CodeTimeout, "transcription service returned 504")
	case http.StatusTooManyRequests:
		return nil, errRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, services.NewError(services.CodeTranscribeAuth,
			fmt.Sprintf("transcription service rejected credentials (%d)", resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return nil, services.NewErrorRetryable(services.CodeTranscribeFailed,
			fmt.Sprintf("transcription service returned %d: %s", resp.StatusCode, body), true)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.WrapError(services.CodeNetworkTransient, "read transcription response", err)
	}

	var parsed Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, services.WrapError(services.CodeTranscribeFailed, "parse transcription response", err)
	}

	if rawResponsePath != "" {
		if err := os.MkdirAll(filepath.Dir(rawResponsePath), 0o755); err != nil {
			return nil, services.WrapError(services.CodeTranscribeFailed, "create transcript dir", err)
		}
		if err := os.WriteFile(rawResponsePath, raw, 0o644); err != nil {
			return nil, services.WrapError(services.CodeTranscribeFailed, "persist raw response", err)
		}
	}
	return &parsed, nil
}

var errRateLimited = errors.New("deepgram: rate limited")

func isRateLimited(err error) bool {
	return errors.Is(err, errRateLimited)
}

// requestTimeout scales the upload timeout with file size, roughly one
// minute per 10MB plus slack, never below the floor.
func requestTimeout(sizeBytes int64) time.Duration {
	scaled := time.Duration(float64(sizeBytes)/(10*1024*1024)*60)*time.Second + 60*time.Second
	if scaled < minRequestTimeout {
		return minRequestTimeout
	}
	return scaled
}

func backoffDelay(attempt int) time.Duration {
	delay := rateLimitBaseDelay << (attempt - 1)
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(delay) * jitter)
}
