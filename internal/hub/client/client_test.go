package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/domain"
	"github.com/pulsefeed/pulsefeed/internal/hub"
	"github.com/pulsefeed/pulsefeed/internal/hub/client"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func startHub(t *testing.T) (wsURL string, h *hub.Hub) {
	t.Helper()
	h = hub.New(time.Second, 16, discard)
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, r.URL.Query().Get("domain"))
	}))
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), h
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestClient_ReceivesEvents(t *testing.T) {
	wsURL, h := startHub(t)

	c := client.New(client.Options{URL: wsURL + "?domain=security", Log: discard})
	defer c.Close()
	c.Connect(context.Background())

	waitFor(t, func() bool { return c.State() == client.StateConnected }, "client never connected")
	waitFor(t, func() bool { return h.Count() == 1 }, "hub never saw the subscriber")

	h.Publish(domain.Event{
		Type:   domain.EventBreaking,
		Domain: "security",
		Item:   domain.FeedItem{ContentItem: domain.ContentItem{ID: "a", Domain: "security"}},
	})

	select {
	case ev := <-c.Events():
		if ev.Type != domain.EventBreaking || ev.Item.ID != "a" {
			t.Errorf("event: got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	wsURL, h := startHub(t)

	c := client.New(client.Options{URL: wsURL, Log: discard})
	defer c.Close()
	ctx := context.Background()
	c.Connect(ctx)
	c.Connect(ctx)
	c.Connect(ctx)

	waitFor(t, func() bool { return c.State() == client.StateConnected }, "client never connected")
	time.Sleep(50 * time.Millisecond)
	if n := h.Count(); n != 1 {
		t.Errorf("hub subscribers: got %d, want 1", n)
	}
}

func TestClient_ErrorAfterMaxAttempts_ThenRetry(t *testing.T) {
	h := hub.New(time.Second, 16, discard)
	var up atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		h.Serve(w, r, "")
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := client.New(client.Options{URL: wsURL, MaxAttempts: 1, Log: discard})
	defer c.Close()
	ctx := context.Background()
	c.Connect(ctx)

	waitFor(t, func() bool { return c.State() == client.StateError }, "client never reached error state")

	// Connect in the error state must not resurrect the loop.
	c.Connect(ctx)
	time.Sleep(50 * time.Millisecond)
	if got := c.State(); got != client.StateError {
		t.Fatalf("state after Connect in error: got %s, want error", got)
	}

	// Retry is the explicit way out.
	up.Store(true)
	c.Retry(ctx)
	waitFor(t, func() bool { return c.State() == client.StateConnected }, "client never connected after Retry")
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	h := hub.New(time.Second, 16, discard)
	hubCtx, dropAll := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, "")
	}))
	defer srv.Close()
	go h.Run(hubCtx)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := client.New(client.Options{URL: wsURL, Log: discard})
	defer c.Close()
	c.Connect(context.Background())
	waitFor(t, func() bool { return h.Count() == 1 }, "client never connected")

	// Drop every server-side connection; the client must back off and
	// come back on its own.
	dropAll()
	waitFor(t, func() bool { return h.Count() == 0 }, "hub never dropped the subscriber")
	waitFor(t, func() bool { return h.Count() == 1 && c.State() == client.StateConnected },
		"client never reconnected")
}
