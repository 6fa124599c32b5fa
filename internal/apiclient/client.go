// Package apiclient talks to the timelock HTTP API. Every response is
// decoded into one explicit shape and validated before it is returned.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const deviceHeader = "X-Device-ID"

type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithDeviceID tags every mutation so other devices can tell who made it.
func WithDeviceID(id string) Option {
	return func(cl *Client) { cl.deviceID = id }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) DeviceID() string { return c.deviceID }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set(deviceHeader, c.deviceID)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req. Transport failures come back as *TransientError.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	return resp, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Debug("failed to close response body", "error", err)
	}
}

// serverMessage extracts the {"error": "..."} message from a failed response.
func serverMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// unexpectedStatus classifies a status the caller has no specific mapping for.
func unexpectedStatus(op string, resp *http.Response) error {
	msg := serverMessage(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrUnauthorized, msg)}
	}
	return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
}

func decodeItem(op string, r io.Reader) (*Item, error) {
	var w itemWire
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if err := w.validate(); err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	return w.toItem(), nil
}
