package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/bridge"
)

// Client calls a running daemon's HTTP API
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) StartPeriodicSync(ctx context.Context, intervalMinutes int) (bridge.StartResponse, error) {
	var resp bridge.StartResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/sync/periodic", IntervalRequest{IntervalMinutes: intervalMinutes}, &resp)
	return resp, err
}

func (c *Client) StopPeriodicSync(ctx context.Context) (bridge.StopResponse, error) {
	var resp bridge.StopResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/sync/periodic", nil, &resp)
	return resp, err
}

func (c *Client) IsSyncRunning(ctx context.Context) (bridge.RunningResponse, error) {
	var resp bridge.RunningResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/sync/running", nil, &resp)
	return resp, err
}

func (c *Client) GetWorkStatus(ctx context.Context) (bridge.StatusResponse, error) {
	var resp bridge.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, &resp)
	return resp, err
}

func (c *Client) CheckPendingSync(ctx context.Context) (bridge.PendingResponse, error) {
	var resp bridge.PendingResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/sync/pending", nil, &resp)
	return resp, err
}

func (c *Client) ClearPendingSync(ctx context.Context) (bridge.ClearResponse, error) {
	var resp bridge.ClearResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/sync/pending", nil, &resp)
	return resp, err
}

func (c *Client) AppStart(ctx context.Context) (AppStartResponse, error) {
	var resp AppStartResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/app/start", nil, &resp)
	return resp, err
}

func (c *Client) AppStop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/app/stop", nil, nil)
}

func (c *Client) SetSyncInterval(ctx context.Context, minutes int) (AppIntervalResponse, error) {
	var resp AppIntervalResponse
	err := c.do(ctx, http.MethodPut, "/api/v1/app/interval", IntervalRequest{IntervalMinutes: minutes}, &resp)
	return resp, err
}

func (c *Client) SyncNow(ctx context.Context) (AppSyncResponse, error) {
	var resp AppSyncResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/app/sync", nil, &resp)
	return resp, err
}

func (c *Client) AppState(ctx context.Context) (AppStateResponse, error) {
	var resp AppStateResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/app/state", nil, &resp)
	return resp, err
}

// do sends body as JSON and decodes a 200 response into out. Non-200
// responses with a {code, message} body are returned as *bridge.Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var bErr bridge.Error
		if err := json.NewDecoder(resp.Body).Decode(&bErr); err == nil && bErr.Code != "" {
			return &bErr
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
