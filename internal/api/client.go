package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"edgemetrics/internal/model"
	"edgemetrics/internal/notice"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed: %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Status)
}

// Client is a thin HTTP client for the metrics API.
type Client struct {
	baseURL       string
	authorization string
	http          *http.Client
}

// NewClient creates a client for the given base URL (e.g. https://host).
// authorization may be empty for the public endpoints.
func NewClient(baseURL, authorization string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		authorization: authorization,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Endpoints fetches the endpoints this node should probe.
func (c *Client) Endpoints(ctx context.Context) ([]model.Endpoint, error) {
	var resp []model.Endpoint
	if err := c.getJSON(ctx, "/v1/private/endpoints", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SubmitMetrics sends one cycle's records.
func (c *Client) SubmitMetrics(ctx context.Context, cycleID string, req MetricsRequest) error {
	header := http.Header{}
	if cycleID != "" {
		header.Set(CycleIDHeader, cycleID)
	}
	return c.postJSON(ctx, "/v1/private/metrics", header, req, nil)
}

// Metrics fetches the public metrics view.
func (c *Client) Metrics(ctx context.Context) (MetricsResponse, error) {
	var resp MetricsResponse
	if err := c.getJSON(ctx, "/v1/metrics", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Nodes fetches the public node list.
func (c *Client) Nodes(ctx context.Context) ([]NodeInfo, error) {
	var resp []NodeInfo
	if err := c.getJSON(ctx, "/v1/nodes", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Notice fetches the current notice; nil when there is none.
func (c *Client) Notice(ctx context.Context) (*notice.Notice, error) {
	var resp *notice.Notice
	if err := c.getJSON(ctx, "/v1/notice", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health calls the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp Health
	if err := c.getJSON(ctx, "/healthz", &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unhealthy: %q", resp.Status)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, header http.Header, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.authorization != "" {
		req.Header.Set("Authorization", "Bearer "+c.authorization)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		msg := strings.TrimSpace(string(body))
		var env Envelope
		if json.Unmarshal(body, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		return &StatusError{StatusCode: res.StatusCode, Status: res.Status, Message: msg}
	}

	var env Envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Error != "" {
		return &StatusError{StatusCode: env.Code, Status: fmt.Sprintf("%d", env.Code), Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
