package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Settings struct {
	Values    map[string]string
	Version   int64
	UpdatedAt time.Time
	UpdatedBy string
}

type settingsWire struct {
	Values    map[string]string `json:"values"`
	Version   int64             `json:"version"`
	UpdatedAt int64             `json:"updatedAt"`
	UpdatedBy string            `json:"updatedBy"`
}

func decodeSettings(op string, resp *http.Response) (*Settings, error) {
	var w settingsWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if w.Values == nil {
		w.Values = map[string]string{}
	}
	s := &Settings{Values: w.Values, Version: w.Version, UpdatedBy: w.UpdatedBy}
	if w.UpdatedAt > 0 {
		s.UpdatedAt = time.UnixMilli(w.UpdatedAt).UTC()
	}
	return s, nil
}

func (c *Client) GetSettings(ctx context.Context) (*Settings, error) {
	const op = "get settings"
	req, err := c.newRequest(ctx, http.MethodGet, "/settings", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(op, resp)
	}
	return decodeSettings(op, resp)
}

// PushSettings merges values into the stored settings. An empty value
// deletes the key.
func (c *Client) PushSettings(ctx context.Context, values map[string]string) (*Settings, error) {
	const op = "push settings"
	if len(values) == 0 {
		return nil, &ValidationError{Field: "values", Reason: "must not be empty"}
	}
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/settings", map[string]any{"values": values})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeSettings(op, resp)
	case http.StatusBadRequest:
		return nil, &ValidationError{Field: "values", Reason: serverMessage(resp)}
	default:
		return nil, unexpectedStatus(op, resp)
	}
}
