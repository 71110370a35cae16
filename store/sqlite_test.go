package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-server/errs"
	"chat-server/models"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser(id, username string) *models.User {
	now := time.Now()
	return &models.User{
		ID:             id,
		Username:       username,
		Email:          username + "@example.com",
		DisplayName:    username,
		PasswordHash:   "hash",
		Status:         models.StatusOffline,
		LastSeen:       now,
		ChannelIDs:     []string{},
		GroupIDs:       []string{},
		BlockedUserIDs: []string{},
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSaveUserInsertAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := testUser("u1", "alice")
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if u.Version != 1 {
		t.Fatalf("version after insert = %d, want 1", u.Version)
	}

	u.Bio = "hello"
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.Version != 2 {
		t.Fatalf("version after update = %d, want 2", u.Version)
	}

	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Bio != "hello" || got.Version != 2 {
		t.Fatalf("got bio=%q version=%d", got.Bio, got.Version)
	}
}

func TestSaveUserVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := testUser("u1", "alice")
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stale, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	u.Bio = "first writer"
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("first update: %v", err)
	}

	stale.Bio = "second writer"
	err = s.SaveUser(ctx, stale)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale save err = %v, want ErrVersionConflict", err)
	}
}

func TestSaveUserDuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveUser(ctx, testUser("u1", "alice")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.SaveUser(ctx, testUser("u2", "alice"))
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate username err = %v, want ErrConflict", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFilterContainmentOnSetField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, ch := range []*models.Channel{
		{ID: "c1", Name: "dev", Type: models.ChannelPublic, CreatorID: "u1",
			MemberIDs: []string{"u1", "u2"}, AdminIDs: []string{"u1"}, Active: true,
			CreatedAt: now, UpdatedAt: now},
		{ID: "c2", Name: "ops", Type: models.ChannelPublic, CreatorID: "u3",
			MemberIDs: []string{"u3"}, AdminIDs: []string{"u3"}, Active: true,
			CreatedAt: now, UpdatedAt: now},
	} {
		if err := s.SaveChannel(ctx, ch); err != nil {
			t.Fatalf("save channel %s: %v", ch.ID, err)
		}
	}

	got, err := s.FindChannels(ctx, Where("memberIds", OpEq, "u2"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("got %d channels, want exactly c1", len(got))
	}
}

func TestFilterContainsAndIn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	msgs := []*models.Message{
		{ID: "m1", SenderID: "u1", SenderUsername: "alice", ChannelID: "c1",
			Type: models.MessageText, Content: "Deploy finished", Timestamp: now,
			AttachmentIDs: []string{}, ReadBy: []string{}},
		{ID: "m2", SenderID: "u2", SenderUsername: "bob", ChannelID: "c1",
			Type: models.MessageText, Content: "lunch anyone", Timestamp: now,
			AttachmentIDs: []string{}, ReadBy: []string{}},
	}
	for _, m := range msgs {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	// substring match is case-insensitive
	got, err := s.FindMessages(ctx, Where("content", OpContains, "deploy"), Page{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("contains: got %d, want m1", len(got))
	}

	got, err = s.FindMessages(ctx, Where("senderId", OpIn, []string{"u1", "u2"}), Page{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("in: got %d, want 2", len(got))
	}
}

func TestFindMessagesPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		m := &models.Message{
			ID: string(rune('a' + i)), SenderID: "u1", SenderUsername: "alice",
			ChannelID: "c1", Type: models.MessageText, Content: "msg",
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			AttachmentIDs: []string{}, ReadBy: []string{},
		}
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.FindMessages(ctx, Where("channelId", OpEq, "c1"),
		Page{Offset: 1, Limit: 2, NewestFirst: true})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) {
		t.Fatal("expected newest-first ordering")
	}
	if got[0].ID != "d" {
		t.Fatalf("offset skipped wrong row: got %s, want d", got[0].ID)
	}
}

func TestFilterGtOnTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		m := &models.Message{
			ID: string(rune('a' + i)), SenderID: "u1", SenderUsername: "alice",
			ChannelID: "c1", Type: models.MessageText, Content: "msg",
			Timestamp:     base.Add(time.Duration(i) * time.Hour),
			AttachmentIDs: []string{}, ReadBy: []string{},
		}
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.FindMessages(ctx,
		Where("channelId", OpEq, "c1").And("timestamp", OpGt, base.Add(30*time.Minute)), Page{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages after cutoff, want 2", len(got))
	}
}
