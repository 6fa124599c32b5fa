package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/timelock/internal/events"
)

var unlockAt = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func lockedItemJSON(id string, version int64) map[string]any {
	return map[string]any{
		"id": id, "type": "text", "title": "Letter",
		"unlockAt": unlockAt.UnixMilli(), "createdAt": unlockAt.Add(-time.Hour).UnixMilli(),
		"unlocked": false, "content": nil, "layerCount": 1, "version": version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "tok", WithDeviceID("laptop"))
}

func TestFetchItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/item-1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "laptop", r.Header.Get("X-Device-ID"))
		writeJSON(w, http.StatusOK, lockedItemJSON("item-1", 3))
	})

	item, err := c.FetchItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, ItemTypeText, item.Type)
	assert.Equal(t, unlockAt, item.UnlockAt)
	assert.Equal(t, int64(3), item.Version)
	assert.False(t, item.Unlocked)
	assert.Nil(t, item.Content)
}

func TestFetchItem_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.False(t, IsTransient(err))
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			},
			check: func(t *testing.T, err error) {
				var te *TransientError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsTransient(err))
				assert.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name: "array instead of item",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, []any{lockedItemJSON("item-1", 1)})
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsTransient(err))
				assert.ErrorIs(t, err, ErrInvalidResponse)
			},
		},
		{
			name: "content while locked",
			handler: func(w http.ResponseWriter, r *http.Request) {
				item := lockedItemJSON("item-1", 1)
				item["content"] = "leaked"
				writeJSON(w, http.StatusOK, item)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidResponse)
			},
		},
		{
			name: "unknown type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				item := lockedItemJSON("item-1", 1)
				item["type"] = "video"
				writeJSON(w, http.StatusOK, item)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidResponse)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.FetchItem(context.Background(), "item-1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestFetchItem_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(srv.URL, "tok").FetchItem(context.Background(), "item-1")
	assert.True(t, IsTransient(err))
}

func TestFetchItem_UnlockedWithoutContentIsAccepted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		item := lockedItemJSON("item-1", 1)
		item["unlocked"] = true
		writeJSON(w, http.StatusOK, item)
	})

	item, err := c.FetchItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.True(t, item.Unlocked)
	assert.Nil(t, item.Content)
}

func TestListItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "letter", r.URL.Query().Get("q"))
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{lockedItemJSON("a", 1), lockedItemJSON("b", 2)}})
	})

	items, err := c.ListItems(context.Background(), "letter")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[1].ID)
}

func TestListItems_RejectsBareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	})

	_, err := c.ListItems(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestExtend(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/items/item-1/extend", r.URL.Path)
		assert.Equal(t, `"3"`, r.Header.Get("If-Match"))
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 60, body["minutes"])

		item := lockedItemJSON("item-1", 4)
		item["unlockAt"] = unlockAt.Add(time.Hour).UnixMilli()
		writeJSON(w, http.StatusOK, item)
	})

	item, err := c.Extend(context.Background(), "item-1", 60, 3)
	require.NoError(t, err)
	assert.Equal(t, unlockAt.Add(time.Hour), item.UnlockAt)
	assert.Equal(t, int64(4), item.Version)
}

func TestExtend_Errors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusConflict, ErrConflict},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tt.status, map[string]string{"error": "nope"})
			})
			_, err := c.Extend(context.Background(), "item-1", 5, 1)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), calls.Load(), "mutations are never retried")
		})
	}

	t.Run("bad request", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "minutes must be positive"})
		})
		_, err := c.Extend(context.Background(), "item-1", 5, 1)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "minutes must be positive", ve.Reason)
	})

	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.Extend(context.Background(), "item-1", 5, 1)
		assert.True(t, IsTransient(err))
	})
}

func TestExtend_ValidatesBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	for _, minutes := range []int{0, -5} {
		_, err := c.Extend(context.Background(), "item-1", minutes, 1)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	}
	assert.Zero(t, calls.Load())
}

func TestExtend_NoVersionOmitsIfMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("If-Match"))
		writeJSON(w, http.StatusOK, lockedItemJSON("item-1", 2))
	})

	_, err := c.Extend(context.Background(), "item-1", 1, 0)
	require.NoError(t, err)
}

func TestDeleteItem_IsIdempotent(t *testing.T) {
	var deleted atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if deleted.Swap(true) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	})

	require.NoError(t, c.DeleteItem(context.Background(), "item-1"))
	require.NoError(t, c.DeleteItem(context.Background(), "item-1"))
}

func TestDeleteItem_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"success": false})
	})
	assert.ErrorIs(t, c.DeleteItem(context.Background(), "item-1"), ErrInvalidResponse)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.True(t, IsTransient(c.DeleteItem(context.Background(), "item-1")))
}

func TestCreateText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])
		assert.EqualValues(t, 90, body["unlockInMinutes"])
		writeJSON(w, http.StatusCreated, lockedItemJSON("new", 1))
	})

	item, err := c.CreateText(context.Background(), "Letter", "hello", Unlock{In: 90 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "new", item.ID)

	_, err = c.CreateText(context.Background(), "Letter", "hello", Unlock{})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCreateImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Photo", r.FormValue("title"))
		assert.Equal(t, fmt.Sprint(unlockAt.UnixMilli()), r.FormValue("unlockAt"))
		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pic.png", hdr.Filename)
		assert.Equal(t, []byte("png-bytes"), data)

		item := lockedItemJSON("img", 1)
		item["type"] = "image"
		writeJSON(w, http.StatusCreated, item)
	})

	item, err := c.CreateImage(context.Background(), "Photo", "/tmp/pic.png", []byte("png-bytes"), Unlock{At: unlockAt})
	require.NoError(t, err)
	assert.Equal(t, ItemTypeImage, item.Type)
}

func TestShare(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]string{"token": "abc", "url": "http://x/shared/abc"})
	})

	link, err := c.Share(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", link.Token)
}

func TestSettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"values": map[string]string{"theme": "light"}, "version": 2})
		case http.MethodPut:
			var body struct{ Values map[string]string }
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, map[string]any{"values": body.Values, "version": 3, "updatedBy": r.Header.Get("X-Device-ID")})
		}
	})

	got, err := c.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "light", got.Values["theme"])

	pushed, err := c.PushSettings(context.Background(), map[string]string{"theme": "dark"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), pushed.Version)
	assert.Equal(t, "laptop", pushed.UpdatedBy)

	_, err = c.PushSettings(context.Background(), nil)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestStreamEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": connected\n\n")
		_, _ = io.WriteString(w, "event: item.extended\ndata: {\"type\":\"item.extended\",\"itemId\":\"item-1\",\"version\":2}\n\n")
		_, _ = io.WriteString(w, "data: not json\n\n")
		_, _ = io.WriteString(w, "event: settings.updated\ndata: {\"origin\":\"phone\",\"settings\":{\"theme\":\"dark\"}}\n\n")
	})

	ch, err := c.StreamEvents(context.Background())
	require.NoError(t, err)

	var got []StreamMessage
	for m := range ch {
		got = append(got, m)
	}
	require.Len(t, got, 3)
	assert.Equal(t, events.ItemExtended, got[0].Event.Type)
	assert.Equal(t, "item-1", got[0].Event.ItemID)
	assert.Equal(t, events.SettingsUpdated, got[1].Event.Type, "type falls back to the event field")
	assert.Equal(t, "dark", got[1].Event.Settings["theme"])
	assert.True(t, IsTransient(got[2].Err), "an ended stream is reported")
}

func TestStreamEvents_CancelClosesChannel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": connected\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.StreamEvents(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case m, ok := <-ch:
		if ok {
			assert.Nil(t, m.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestStreamEvents_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	})

	_, err := c.StreamEvents(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestItemClone(t *testing.T) {
	content := "secret"
	item := &Item{ID: "a", Content: &content}
	clone := item.Clone()
	*clone.Content = "changed"
	assert.Equal(t, "secret", *item.Content)
	assert.Nil(t, (*Item)(nil).Clone())
}
