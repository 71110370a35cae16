package membership

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

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewService(s, nil, zerolog.Nop()), s
}

func seedUser(t *testing.T, s store.Store, id string) {
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

func TestCreateChannelCreatorInvariants(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")

	ch, err := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ch.IsMember("alice") || !ch.IsAdmin("alice") {
		t.Fatal("creator must be member and admin")
	}
	if ch.Type != models.ChannelPublic {
		t.Fatalf("default type = %s, want public", ch.Type)
	}

	u, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !models.Contains(u.ChannelIDs, ch.ID) {
		t.Fatal("channel id not attached to creator's user document")
	}
}

func TestCreateChannelDuplicateName(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")

	if _, err := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate name err = %v, want ErrConflict", err)
	}
}

func TestUpdateChannelResubmittingOwnName(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")

	ch, err := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "ops"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "dev"
	desc := "engineering"
	got, err := svc.UpdateChannel(ctx, ch.ID, "alice", models.UpdateChannelRequest{
		Name: &name, Description: &desc})
	if err != nil {
		t.Fatalf("update with unchanged name: %v", err)
	}
	if got.Name != "dev" || got.Description != "engineering" {
		t.Fatalf("channel = %+v", got)
	}

	taken := "ops"
	_, err = svc.UpdateChannel(ctx, ch.ID, "alice", models.UpdateChannelRequest{Name: &taken})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("rename to taken name err = %v, want ErrConflict", err)
	}
}

func TestAddChannelMember(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")

	ch, err := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.AddChannelMember(ctx, ch.ID, "alice", "bob"); err != nil {
		t.Fatalf("add: %v", err)
	}
	err = svc.AddChannelMember(ctx, ch.ID, "alice", "bob")
	if !errors.Is(err, errs.ErrAlreadyMember) {
		t.Fatalf("re-add err = %v, want ErrAlreadyMember", err)
	}

	u, _ := s.GetUser(ctx, "bob")
	if !models.Contains(u.ChannelIDs, ch.ID) {
		t.Fatal("channel id not attached to new member")
	}
}

func TestAddChannelMemberCapacity(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")
	seedUser(t, s, "carol")

	ch, err := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev", MaxMembers: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.AddChannelMember(ctx, ch.ID, "alice", "bob"); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	err = svc.AddChannelMember(ctx, ch.ID, "alice", "carol")
	if !errors.Is(err, errs.ErrCapacityExceeded) {
		t.Fatalf("over-capacity err = %v, want ErrCapacityExceeded", err)
	}
}

func TestPrivateChannelRequiresMemberActor(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")
	seedUser(t, s, "carol")

	ch, err := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{
		Name: "secret", Type: models.ChannelPrivate})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// bob is not a member, so he cannot add carol (or join himself)
	err = svc.AddChannelMember(ctx, ch.ID, "bob", "carol")
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("outsider add err = %v, want ErrForbidden", err)
	}

	if err := svc.AddChannelMember(ctx, ch.ID, "alice", "bob"); err != nil {
		t.Fatalf("member add: %v", err)
	}
}

func TestRemoveChannelMemberRules(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")
	seedUser(t, s, "carol")

	ch, _ := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})
	svc.AddChannelMember(ctx, ch.ID, "alice", "bob")
	svc.AddChannelMember(ctx, ch.ID, "alice", "carol")

	// plain member cannot remove another member
	err := svc.RemoveChannelMember(ctx, ch.ID, "bob", "carol")
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("member removing other err = %v, want ErrForbidden", err)
	}

	// but may remove themselves
	if err := svc.RemoveChannelMember(ctx, ch.ID, "carol", "carol"); err != nil {
		t.Fatalf("self-leave: %v", err)
	}

	// nobody removes the creator
	err = svc.RemoveChannelMember(ctx, ch.ID, "alice", "alice")
	if !errors.Is(err, errs.ErrCannotRemoveCreator) {
		t.Fatalf("remove creator err = %v, want ErrCannotRemoveCreator", err)
	}

	u, _ := s.GetUser(ctx, "carol")
	if models.Contains(u.ChannelIDs, ch.ID) {
		t.Fatal("channel id not detached after leave")
	}
}

func TestPromoteDemoteChannelAdmin(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")

	ch, _ := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})

	// not a member yet
	err := svc.PromoteChannelAdmin(ctx, ch.ID, "alice", "bob")
	if !errors.Is(err, errs.ErrNotAMember) {
		t.Fatalf("promote non-member err = %v, want ErrNotAMember", err)
	}

	svc.AddChannelMember(ctx, ch.ID, "alice", "bob")
	if err := svc.PromoteChannelAdmin(ctx, ch.ID, "alice", "bob"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	ok, _ := svc.IsChannelAdmin(ctx, ch.ID, "bob")
	if !ok {
		t.Fatal("bob should be admin after promotion")
	}

	// the creator is never demoted, even by another admin
	err = svc.DemoteChannelAdmin(ctx, ch.ID, "bob", "alice")
	if !errors.Is(err, errs.ErrCannotDemoteCreator) {
		t.Fatalf("demote creator err = %v, want ErrCannotDemoteCreator", err)
	}

	if err := svc.DemoteChannelAdmin(ctx, ch.ID, "alice", "bob"); err != nil {
		t.Fatalf("demote: %v", err)
	}
	ok, _ = svc.IsChannelAdmin(ctx, ch.ID, "bob")
	if ok {
		t.Fatal("bob should not be admin after demotion")
	}
}

func TestDeleteChannelDetachesMembers(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")

	ch, _ := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})
	svc.AddChannelMember(ctx, ch.ID, "alice", "bob")

	// only the creator may delete
	err := svc.DeleteChannel(ctx, ch.ID, "bob")
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("non-creator delete err = %v, want ErrForbidden", err)
	}

	if err := svc.DeleteChannel(ctx, ch.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Fatal("deleted channel should be inactive")
	}
	for _, id := range []string{"alice", "bob"} {
		u, _ := s.GetUser(ctx, id)
		if models.Contains(u.ChannelIDs, ch.ID) {
			t.Fatalf("channel id still attached to %s", id)
		}
	}
}

func TestUserChannelsExcludesInactive(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")

	ch1, _ := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})
	svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "ops"})
	svc.DeleteChannel(ctx, ch1.ID, "alice")

	channels, err := svc.UserChannels(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 1 || channels[0].Name != "ops" {
		t.Fatalf("got %d channels, want only ops", len(channels))
	}
}

func TestGroupInviteSettings(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")
	seedUser(t, s, "carol")

	g, err := svc.CreateGroup(ctx, "alice", models.CreateGroupRequest{
		Name: "trip", MemberIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// member invites allowed by default
	if err := svc.AddGroupMember(ctx, g.ID, "bob", "carol"); err != nil {
		t.Fatalf("member invite: %v", err)
	}
	svc.RemoveGroupMember(ctx, g.ID, "alice", "carol")

	off := false
	if _, err := svc.UpdateGroupSettings(ctx, g.ID, "alice",
		models.UpdateGroupSettingsRequest{AllowMemberInvites: &off}); err != nil {
		t.Fatalf("settings: %v", err)
	}

	err = svc.AddGroupMember(ctx, g.ID, "bob", "carol")
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("member invite with invites off err = %v, want ErrForbidden", err)
	}
	// admins still may
	if err := svc.AddGroupMember(ctx, g.ID, "alice", "carol"); err != nil {
		t.Fatalf("admin invite: %v", err)
	}
}

func TestCanPostMatrix(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")

	g, _ := svc.CreateGroup(ctx, "alice", models.CreateGroupRequest{
		Name: "trip", MemberIDs: []string{"bob"}})

	if ok, _ := svc.CanPost(ctx, g.ID, "bob"); !ok {
		t.Fatal("member should post under default settings")
	}
	if ok, _ := svc.CanPost(ctx, g.ID, "outsider"); ok {
		t.Fatal("non-member must not post")
	}

	on := true
	svc.UpdateGroupSettings(ctx, g.ID, "alice", models.UpdateGroupSettingsRequest{OnlyAdminsCanPost: &on})
	if ok, _ := svc.CanPost(ctx, g.ID, "bob"); ok {
		t.Fatal("plain member must not post in admins-only mode")
	}
	if ok, _ := svc.CanPost(ctx, g.ID, "alice"); !ok {
		t.Fatal("admin should post in admins-only mode")
	}

	off := false
	svc.UpdateGroupSettings(ctx, g.ID, "alice", models.UpdateGroupSettingsRequest{AllowMemberMessages: &off})
	if ok, _ := svc.CanPost(ctx, g.ID, "alice"); ok {
		t.Fatal("nobody posts when member messages are disabled")
	}
}

func TestCreateGroupHonorsCapacityForInitialMembers(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")
	seedUser(t, s, "carol")

	g, err := svc.CreateGroup(ctx, "alice", models.CreateGroupRequest{
		Name: "small", MemberIDs: []string{"bob", "carol"}, MaxMembers: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(g.MemberIDs) != 2 {
		t.Fatalf("got %d members, want 2 (creator plus one)", len(g.MemberIDs))
	}
	if !g.IsMember("alice") {
		t.Fatal("creator must survive capacity trimming")
	}
}

func TestSyncUserMemberships(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")

	ch, _ := svc.CreateChannel(ctx, "alice", models.CreateChannelRequest{Name: "dev"})
	g, _ := svc.CreateGroup(ctx, "alice", models.CreateGroupRequest{Name: "trip"})

	// corrupt the user document
	u, _ := s.GetUser(ctx, "alice")
	u.ChannelIDs = []string{"stale-channel"}
	u.GroupIDs = []string{}
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if err := svc.SyncUserMemberships(ctx, "alice"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	u, _ = s.GetUser(ctx, "alice")
	if !models.Contains(u.ChannelIDs, ch.ID) || models.Contains(u.ChannelIDs, "stale-channel") {
		t.Fatalf("channel ids not repaired: %v", u.ChannelIDs)
	}
	if !models.Contains(u.GroupIDs, g.ID) {
		t.Fatalf("group ids not repaired: %v", u.GroupIDs)
	}
}

func TestBlockUnblockUser(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")

	if _, err := svc.BlockUser(ctx, "alice", "bob"); err != nil {
		t.Fatalf("block: %v", err)
	}
	// idempotent
	if _, err := svc.BlockUser(ctx, "alice", "bob"); err != nil {
		t.Fatalf("re-block: %v", err)
	}

	u, _ := s.GetUser(ctx, "alice")
	if !u.HasBlocked("bob") {
		t.Fatal("bob should be blocked")
	}

	if _, err := svc.UnblockUser(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	u, _ = s.GetUser(ctx, "alice")
	if u.HasBlocked("bob") {
		t.Fatal("bob should be unblocked")
	}
}
