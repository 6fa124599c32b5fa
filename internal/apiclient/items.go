package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// FetchItem reads a single item. 404 yields ErrNotFound; everything else that
// is not a valid item yields a *TransientError. Nothing is cached.
func (c *Client) FetchItem(ctx context.Context, id string) (*Item, error) {
	const op = "fetch item"
	req, err := c.newRequest(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeItem(op, resp.Body)
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, unexpectedStatus(op, resp)
	}
}

// ListItems returns the caller's items without content.
func (c *Client) ListItems(ctx context.Context, query string) ([]*Item, error) {
	const op = "list items"
	p := "/items"
	if query != "" {
		p += "?q=" + url.QueryEscape(query)
	}
	req, err := c.newRequest(ctx, http.MethodGet, p, nil)
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

	var body struct {
		Items *[]itemWire `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if body.Items == nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("%w: missing items", ErrInvalidResponse)}
	}

	items := make([]*Item, 0, len(*body.Items))
	for i := range *body.Items {
		w := &(*body.Items)[i]
		if err := w.validate(); err != nil {
			return nil, &TransientError{Op: op, Err: err}
		}
		items = append(items, w.toItem())
	}
	return items, nil
}

// Unlock picks when a new item opens: an absolute time, or a delay from the
// server's now when At is zero.
type Unlock struct {
	At time.Time
	In time.Duration
}

func (u Unlock) validate() error {
	if u.At.IsZero() && u.In < time.Minute {
		return &ValidationError{Field: "unlock", Reason: "an unlock time or a delay of at least one minute is required"}
	}
	return nil
}

func (c *Client) CreateText(ctx context.Context, title, content string, unlock Unlock) (*Item, error) {
	if err := unlock.validate(); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
	}

	body := map[string]any{"type": string(ItemTypeText), "title": title, "content": content}
	if !unlock.At.IsZero() {
		body["unlockAt"] = unlock.At.UnixMilli()
	} else {
		body["unlockInMinutes"] = int64(unlock.In / time.Minute)
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/items", body)
	if err != nil {
		return nil, err
	}
	return c.create(req)
}

func (c *Client) CreateImage(ctx context.Context, title, filename string, data []byte, unlock Unlock) (*Item, error) {
	if err := unlock.validate(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &ValidationError{Field: "image", Reason: "must not be empty"}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{"title": title}
	if !unlock.At.IsZero() {
		fields["unlockAt"] = strconv.FormatInt(unlock.At.UnixMilli(), 10)
	} else {
		fields["unlockInMinutes"] = strconv.FormatInt(int64(unlock.In/time.Minute), 10)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("image", path.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/items", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.create(req)
}

func (c *Client) create(req *http.Request) (*Item, error) {
	const op = "create item"
	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
		return decodeItem(op, resp.Body)
	case http.StatusBadRequest:
		return nil, &ValidationError{Field: "item", Reason: serverMessage(resp)}
	default:
		return nil, unexpectedStatus(op, resp)
	}
}

// Extend pushes the unlock time later by minutes. version is the last version
// the caller saw; the server answers 409 if the item has moved on since. A
// zero version skips the check. Extend is never retried.
func (c *Client) Extend(ctx context.Context, id string, minutes int, version int64) (*Item, error) {
	const op = "extend item"
	if minutes <= 0 {
		return nil, &ValidationError{Field: "minutes", Reason: "must be positive"}
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/items/"+url.PathEscape(id)+"/extend", map[string]int{"minutes": minutes})
	if err != nil {
		return nil, err
	}
	if version > 0 {
		req.Header.Set("If-Match", `"`+strconv.FormatInt(version, 10)+`"`)
	}

	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeItem(op, resp.Body)
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusConflict:
		return nil, ErrConflict
	case http.StatusBadRequest:
		return nil, &ValidationError{Field: "minutes", Reason: serverMessage(resp)}
	default:
		return nil, unexpectedStatus(op, resp)
	}
}

// DeleteItem removes an item. Deleting an item that is already gone succeeds.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	const op = "delete item"
	req, err := c.newRequest(ctx, http.MethodDelete, "/items/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.do(op, req)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			Success *bool `json:"success"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Success == nil || !*body.Success {
			return &TransientError{Op: op, Err: fmt.Errorf("%w: expected {\"success\":true}", ErrInvalidResponse)}
		}
		return nil
	case http.StatusNotFound:
		return nil
	default:
		return unexpectedStatus(op, resp)
	}
}

type ShareLink struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (c *Client) Share(ctx context.Context, id string) (*ShareLink, error) {
	const op = "share item"
	req, err := c.newRequest(ctx, http.MethodPost, "/items/"+url.PathEscape(id)+"/shares", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
		var link ShareLink
		if err := json.NewDecoder(resp.Body).Decode(&link); err != nil || link.Token == "" {
			return nil, &TransientError{Op: op, Err: fmt.Errorf("%w: share link has no token", ErrInvalidResponse)}
		}
		return &link, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, unexpectedStatus(op, resp)
	}
}
