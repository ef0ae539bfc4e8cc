// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rovshanmuradov/launch-guard/internal/launch"
	"github.com/rovshanmuradov/launch-guard/internal/sniper"
)

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	Code  int
	Field string
	Msg   string
}

func (e *StatusError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("api %d: %s (field %s)", e.Code, e.Msg, e.Field)
	}
	return fmt.Sprintf("api %d: %s", e.Code, e.Msg)
}

// Client talks to a launch guard API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) StartMonitor(ctx context.Context, req sniper.StartRequest) (*sniper.StartResponse, error) {
	var resp sniper.StartResponse
	if err := c.do(ctx, http.MethodPost, "/v1/monitors", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) MonitorStatus(ctx context.Context, token string) (*sniper.StatusResponse, error) {
	var resp sniper.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/monitors/"+url.PathEscape(token), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CancelMonitor(ctx context.Context, token string) (*sniper.StatusResponse, error) {
	var resp sniper.StatusResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/monitors/"+url.PathEscape(token), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Launch submits a launch. On a 502 the partial report is returned together
// with the error.
func (c *Client) Launch(ctx context.Context, req launch.Request) (*LaunchResponse, error) {
	var resp LaunchResponse
	err := c.do(ctx, http.MethodPost, "/v1/launches", req, &resp)
	if resp.Result != nil {
		return &resp, err
	}
	return nil, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		// Launch failures still carry the submission report.
		if out != nil && resp.StatusCode == http.StatusBadGateway {
			_ = json.Unmarshal(data, out)
		}
		return &StatusError{Code: resp.StatusCode, Field: e.Field, Msg: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
