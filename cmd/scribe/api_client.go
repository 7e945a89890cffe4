package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scribe/internal/config"
)

// apiClient talks to a running daemon over its localhost HTTP API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

// dialAPI probes the daemon's status endpoint and returns nil when no
// daemon is listening, so callers can fall back to direct store access.
func dialAPI(cfg *config.Config) *apiClient {
	bind := strings.TrimSpace(cfg.APIBind)
	if bind == "" {
		return nil
	}
	client := &apiClient{
		base:  "http://" + bind,
		token: cfg.APIToken,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
	if _, err := client.status(); err != nil {
		return nil
	}
	return client
}

type statusPayload struct {
	Running bool           `json:"running"`
	Queue   map[string]int `json:"queue"`
}

type jobPayload struct {
	ID                  string `json:"id"`
	SourceURL           string `json:"source_url"`
	VideoID             string `json:"video_id"`
	Title               string `json:"title"`
	Status              string `json:"status"`
	Stage               string `json:"stage"`
	ProgressPct         int    `json:"progress_pct"`
	RetryCount          int    `json:"retry_count"`
	ErrorCode           string `json:"error_code"`
	ErrorMessage        string `json:"error_message"`
	UsedCreatorCaptions bool   `json:"used_creator_captions"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

func (c *apiClient) status() (*statusPayload, error) {
	var payload statusPayload
	if err := c.do(http.MethodGet, "/api/status", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *apiClient) queueList(statuses []string) ([]jobPayload, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var payload struct {
		Jobs []jobPayload `json:"jobs"`
	}
	if err := c.do(http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

func (c *apiClient) addJob(videoURL string) (*jobPayload, error) {
	body, err := json.Marshal(map[string]string{"url": videoURL})
	if err != nil {
		return nil, err
	}
	var payload jobPayload
	if err := c.do(http.MethodPost, "/api/jobs", body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *apiClient) stop(afterCurrent bool) error {
	path := "/api/stop"
	if afterCurrent {
		path += "?after_current=true"
	}
	return c.do(http.MethodPost, path, nil, nil)
}

func (c *apiClient) do(method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
