package readstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chat-server/errs"
	"chat-server/models"
	"chat-server/store"
)

func newTestTracker(t *testing.T) (*Tracker, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewTracker(s, zerolog.Nop()), s
}

func seedMessage(t *testing.T, s store.Store, m *models.Message) *models.Message {
	t.Helper()
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.AttachmentIDs == nil {
		m.AttachmentIDs = []string{}
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	if m.Type == "" {
		m.Type = models.MessageText
	}
	if m.SenderUsername == "" {
		m.SenderUsername = m.SenderID
	}
	if err := s.SaveMessage(context.Background(), m); err != nil {
		t.Fatalf("seed message %s: %v", m.ID, err)
	}
	return m
}

func TestMarkReadIsIdempotent(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	seedMessage(t, s, &models.Message{ID: "m1", SenderID: "alice", ChannelID: "c1", Content: "hi"})

	first, err := tr.MarkRead(ctx, "m1", "bob")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !first.ReadByUser("bob") {
		t.Fatal("bob missing from reader set")
	}

	second, err := tr.MarkRead(ctx, "m1", "bob")
	if err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	// no write happened: the version is unchanged
	if second.Version != first.Version {
		t.Fatalf("version bumped on idempotent mark: %d -> %d", first.Version, second.Version)
	}
	if len(second.ReadBy) != 1 {
		t.Fatalf("reader set grew on re-mark: %v", second.ReadBy)
	}
}

func TestMarkReadDeletedMessage(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	seedMessage(t, s, &models.Message{ID: "m1", SenderID: "alice", ChannelID: "c1",
		Content: "gone", Deleted: true})

	_, err := tr.MarkRead(ctx, "m1", "bob")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUnreadChannelCount(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	seedMessage(t, s, &models.Message{ID: "m1", SenderID: "alice", ChannelID: "c1", Content: "one"})
	seedMessage(t, s, &models.Message{ID: "m2", SenderID: "alice", ChannelID: "c1", Content: "two"})
	seedMessage(t, s, &models.Message{ID: "m3", SenderID: "alice", ChannelID: "c2", Content: "elsewhere"})
	seedMessage(t, s, &models.Message{ID: "m4", SenderID: "alice", ChannelID: "c1",
		Content: "deleted", Deleted: true})

	count, err := tr.UnreadChannelCount(ctx, "c1", "bob")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("unread = %d, want 2", count)
	}

	if _, err := tr.MarkRead(ctx, "m1", "bob"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	count, _ = tr.UnreadChannelCount(ctx, "c1", "bob")
	if count != 1 {
		t.Fatalf("unread after mark = %d, want 1", count)
	}
}

func TestMarkConversationRead(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		seedMessage(t, s, &models.Message{ID: id, SenderID: "alice", GroupID: "g1", Content: id})
	}

	dest := models.Destination{Kind: models.DestGroup, ID: "g1"}
	if err := tr.MarkConversationRead(ctx, dest, "bob"); err != nil {
		t.Fatalf("bulk mark: %v", err)
	}

	count, err := tr.UnreadGroupCount(ctx, "g1", "bob")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread after bulk mark = %d, want 0", count)
	}

	// re-running is safe
	if err := tr.MarkConversationRead(ctx, dest, "bob"); err != nil {
		t.Fatalf("bulk re-mark: %v", err)
	}
}

func TestUnreadDirectCount(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	seedMessage(t, s, &models.Message{ID: "m1", SenderID: "alice", RecipientID: "bob", Content: "one"})
	seedMessage(t, s, &models.Message{ID: "m2", SenderID: "carol", RecipientID: "bob", Content: "two"})
	seedMessage(t, s, &models.Message{ID: "m3", SenderID: "bob", RecipientID: "alice", Content: "outbound"})

	count, err := tr.UnreadDirectCount(ctx, "bob")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("unread = %d, want 2 (only messages addressed to bob)", count)
	}

	// marking one sender's conversation leaves the other's untouched
	dest := models.Destination{Kind: models.DestDirect, ID: "alice"}
	if err := tr.MarkConversationRead(ctx, dest, "bob"); err != nil {
		t.Fatalf("bulk mark: %v", err)
	}
	count, _ = tr.UnreadDirectCount(ctx, "bob")
	if count != 1 {
		t.Fatalf("unread after mark = %d, want 1", count)
	}
}
