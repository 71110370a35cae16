package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-server/hub"
	"chat-server/middleware"
	"chat-server/models"
	"chat-server/presence"
	"chat-server/store"
)

func newWSTestServer(t *testing.T) (*httptest.Server, *presence.Tracker, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := hub.New(zerolog.Nop())
	tracker := presence.NewTracker(s, h, zerolog.Nop())
	handler := NewWSHandler(h, s, tracker, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)
	return srv, tracker, s
}

func seedWSUser(t *testing.T, s store.Store, id string) {
	t.Helper()
	now := time.Now()
	err := s.SaveUser(context.Background(), &models.User{
		ID: id, Username: id, Email: id + "@example.com", DisplayName: id,
		PasswordHash: "hash", Status: models.StatusOffline, LastSeen: now,
		ChannelIDs: []string{}, GroupIDs: []string{}, BlockedUserIDs: []string{},
		Active: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectionLifecycleTracksPresence(t *testing.T) {
	srv, tracker, s := newWSTestServer(t)
	ctx := context.Background()
	seedWSUser(t, s, "alice")

	middleware.SetSecret("test-secret")
	token, err := middleware.GenerateToken("alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if _, frame, err := conn.ReadMessage(); err != nil || !strings.Contains(string(frame), "welcome") {
		t.Fatalf("first frame = %q, err = %v, want welcome", frame, err)
	}
	waitFor(t, "online", func() bool { return tracker.IsOnline("alice") })

	conn.Close()

	// The close path must return the user to offline even when the
	// connection lived only briefly.
	waitFor(t, "offline", func() bool { return !tracker.IsOnline("alice") })
	waitFor(t, "durable offline status", func() bool {
		u, err := s.GetUser(ctx, "alice")
		return err == nil && u.Status == models.StatusOffline
	})
}

func TestConnectionRejectsBadToken(t *testing.T) {
	srv, _, _ := newWSTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=not-a-token"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial with a bad token should fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("resp = %+v, want 401", resp)
	}
}
