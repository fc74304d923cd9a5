// Package client provides an HTTP client for the casecoder server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dkratky/casecoder/internal/analysis"
	"github.com/dkratky/casecoder/internal/metrics"
	"github.com/dkratky/casecoder/internal/progress"
	"github.com/gorilla/websocket"
)

// Client talks to the casecoder server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
// If baseURL is empty, uses CASECODER_SERVER_URL env var or defaults to
// localhost:8711. Timeout can be configured via CASECODER_CLIENT_TIMEOUT.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CASECODER_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8711"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 30 * time.Second
	if t := os.Getenv("CASECODER_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// StartResult is the accepted-start response.
type StartResult struct {
	Accepted bool   `json:"accepted"`
	Phase    string `json:"phase"`
	RunID    string `json:"run_id"`
}

// StartPhase launches a phase run on the server.
func (c *Client) StartPhase(ctx context.Context, phase string, req analysis.StartRequest) (*StartResult, error) {
	var result StartResult
	if err := c.do(ctx, http.MethodPost, "/api/phases/"+phase+"/start", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopPhase requests cancellation of the live run for phase.
func (c *Client) StopPhase(ctx context.Context, phase string) error {
	return c.do(ctx, http.MethodPost, "/api/phases/"+phase+"/stop", nil, nil)
}

// PhaseStatus reports whether a run of phase is in progress.
func (c *Client) PhaseStatus(ctx context.Context, phase string) (bool, error) {
	var result struct {
		Running bool `json:"running"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/phases/"+phase+"/status", nil, &result); err != nil {
		return false, err
	}
	return result.Running, nil
}

// Phases returns the running state of all phases keyed by slug.
func (c *Client) Phases(ctx context.Context) (map[string]bool, error) {
	var raw map[string]struct {
		Running bool `json:"running"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/phases", nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(raw))
	for slug, st := range raw {
		out[slug] = st.Running
	}
	return out, nil
}

// ListStores returns the store file names known to the server.
func (c *Client) ListStores(ctx context.Context) ([]string, error) {
	var result struct {
		Stores []string `json:"stores"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/stores", nil, &result); err != nil {
		return nil, err
	}
	return result.Stores, nil
}

// StoreSummary reports pipeline progress across one case store.
type StoreSummary struct {
	Name        string   `json:"name"`
	Cases       int      `json:"cases"`
	Coded       int      `json:"coded"`
	Themed      int      `json:"themed"`
	Assigned    int      `json:"assigned"`
	Finalized   bool     `json:"finalized"`
	FinalThemes []string `json:"final_themes,omitempty"`
}

// ShowStore returns the summary for one store.
func (c *Client) ShowStore(ctx context.Context, name string) (*StoreSummary, error) {
	var result StoreSummary
	if err := c.do(ctx, http.MethodGet, "/api/stores/"+url.PathEscape(name), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClearCaseField removes one annotation field from a case.
func (c *Client) ClearCaseField(ctx context.Context, storeName, caseID, field string) error {
	path := "/api/stores/" + url.PathEscape(storeName) + "/cases/" + url.PathEscape(caseID) + "/clear"
	return c.do(ctx, http.MethodPost, path, map[string]string{"field": field}, nil)
}

// Stats returns the server's usage metrics snapshot.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var result metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Watch subscribes to the progress WebSocket and invokes onEvent for each
// received event. Return an error from onEvent to abort. Watch returns when
// the context is cancelled, onEvent errors, or the connection drops.
func (c *Client) Watch(ctx context.Context, onEvent func(progress.Event) error) error {
	wsURL := c.baseURL + "/ws"
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so the blocked read
	// returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev progress.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
}
