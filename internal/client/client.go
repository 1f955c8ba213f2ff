// Package client is an HTTP client for a running wall-follower daemon
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-wallfollow/internal/follower"
	"github.com/teslashibe/go-wallfollow/internal/health"
)

// Config holds client configuration
type Config struct {
	BaseURL string        // e.g. "http://localhost:9100"
	Timeout time.Duration // HTTP request timeout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:9100",
		Timeout: 2 * time.Second,
	}
}

// StatusError is returned for unexpected HTTP responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client talks to the daemon's HTTP API
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	// Stats
	controlsSent  atomic.Uint64
	requestErrors atomic.Uint64
}

// New creates a new client
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SendControl posts a start or stop token
func (c *Client) SendControl(ctx context.Context, command string) error {
	data, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return fmt.Errorf("marshal control: %w", err)
	}

	if err := c.do(ctx, http.MethodPost, "/api/control", data, http.StatusAccepted, nil); err != nil {
		return err
	}

	c.controlsSent.Add(1)
	c.logger.Debug("control sent", "command", command)
	return nil
}

// GetState fetches the latest controller update
func (c *Client) GetState(ctx context.Context) (*follower.Update, error) {
	var u follower.Update
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, http.StatusOK, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetStats fetches the raw statistics document
func (c *Client) GetStats(ctx context.Context) (map[string]interface{}, error) {
	var stats map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetHealth fetches the health status. An unhealthy daemon answers 503 with
// a status body, which is returned without error.
func (c *Client) GetHealth(ctx context.Context) (*health.Status, error) {
	var status health.Status
	err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, &status)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
		if jerr := json.Unmarshal([]byte(se.Body), &status); jerr == nil {
			return &status, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// IsHealthy checks if the daemon reports ok
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	status, err := c.GetHealth(ctx)
	return err == nil && status.Status == health.StatusOK
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.requestErrors.Add(1)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		c.requestErrors.Add(1)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Stats contains client statistics
type Stats struct {
	ControlsSent  uint64 `json:"controls_sent"`
	RequestErrors uint64 `json:"request_errors"`
}

// Stats returns client statistics
func (c *Client) Stats() Stats {
	return Stats{
		ControlsSent:  c.controlsSent.Load(),
		RequestErrors: c.requestErrors.Load(),
	}
}
