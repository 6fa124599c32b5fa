package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vbonduro/timelock/internal/events"
)

// StreamMessage is one entry on the event stream: an event, or the error that
// ended the stream.
type StreamMessage struct {
	Event *events.Event
	Err   error
}

// StreamEvents opens the server-sent event stream for the caller. The channel
// is closed when the stream ends; an abnormal end is reported as a final
// message carrying Err. Cancel ctx to close the stream.
func (c *Client) StreamEvents(ctx context.Context) (<-chan StreamMessage, error) {
	const op = "stream events"
	req, err := c.newRequest(ctx, http.MethodGet, "/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The overall client timeout would cut a long-lived stream.
	streamClient := *c.http
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer closeBody(resp)
		return nil, unexpectedStatus(op, resp)
	}

	ch := make(chan StreamMessage, 16)

	go func() {
		defer close(ch)
		defer func() {
			if err := resp.Body.Close(); err != nil {
				slog.Debug("failed to close event stream body", "error", err)
			}
		}()

		send := func(m StreamMessage) bool {
			select {
			case ch <- m:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var eventType string
		var data strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				// Blank line dispatches the accumulated event.
				if data.Len() > 0 {
					var ev events.Event
					if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
						slog.Debug("discarding malformed event", "event", eventType, "error", err)
					} else {
						if ev.Type == "" {
							ev.Type = events.Type(eventType)
						}
						if !send(StreamMessage{Event: &ev}) {
							return
						}
					}
				}
				eventType = ""
				data.Reset()
			case strings.HasPrefix(line, ":"):
				// Comment or keep-alive.
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}

		if ctx.Err() != nil {
			return
		}
		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("server closed the stream")
		}
		send(StreamMessage{Err: &TransientError{Op: op, Err: err}})
	}()

	return ch, nil
}
