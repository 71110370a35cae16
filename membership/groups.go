package membership

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-server/errs"
	"chat-server/hub"
	"chat-server/models"
	"chat-server/store"
)

func (s *Service) CreateGroup(ctx context.Context, creatorID string, req models.CreateGroupRequest) (*models.Group, error) {
	if req.Name == "" {
		return nil, errs.BadRequest("group name is required")
	}

	now := time.Now()
	g := &models.Group{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreatorID:   creatorID,
		MemberIDs:   []string{creatorID},
		AdminIDs:    []string{creatorID},
		MaxMembers:  req.MaxMembers,
		Settings:    models.DefaultGroupSettings(),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Initial members ride along up to capacity; the rest are silently
	// skipped, as the founding request is best-effort.
	for _, memberID := range req.MemberIDs {
		if g.MaxMembers > 0 && len(g.MemberIDs) >= g.MaxMembers {
			break
		}
		g.MemberIDs = models.AddToSet(g.MemberIDs, memberID)
	}

	if err := s.store.SaveGroup(ctx, g); err != nil {
		return nil, err
	}
	for _, memberID := range g.MemberIDs {
		s.attachGroupToUser(ctx, memberID, g.ID)
	}

	s.logger.Info().Str("group", g.ID).Str("name", g.Name).Str("creator", creatorID).Msg("group created")
	return g, nil
}

func (s *Service) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	return s.store.GetGroup(ctx, id)
}

func (s *Service) UserGroups(ctx context.Context, userID string) ([]*models.Group, error) {
	return s.store.FindGroups(ctx,
		store.Where("memberIds", store.OpEq, userID).And("active", store.OpEq, true))
}

func (s *Service) SearchGroups(ctx context.Context, term string) ([]*models.Group, error) {
	return s.store.FindGroups(ctx,
		store.Where("name", store.OpContains, term).And("active", store.OpEq, true))
}

func (s *Service) UpdateGroup(ctx context.Context, groupID, actorID string, req models.UpdateGroupRequest) (*models.Group, error) {
	return s.updateGroup(ctx, groupID, func(g *models.Group) error {
		if !g.IsAdmin(actorID) {
			return errs.Forbidden("only admins can update the group")
		}
		if req.Name != nil {
			g.Name = *req.Name
		}
		if req.Description != nil {
			g.Description = *req.Description
		}
		if req.AvatarURL != nil {
			g.AvatarURL = *req.AvatarURL
		}
		if req.MaxMembers != nil {
			g.MaxMembers = *req.MaxMembers
		}
		return nil
	})
}

func (s *Service) UpdateGroupSettings(ctx context.Context, groupID, actorID string, req models.UpdateGroupSettingsRequest) (*models.Group, error) {
	return s.updateGroup(ctx, groupID, func(g *models.Group) error {
		if !g.IsAdmin(actorID) {
			return errs.Forbidden("only admins can update group settings")
		}
		if req.AllowMemberInvites != nil {
			g.Settings.AllowMemberInvites = *req.AllowMemberInvites
		}
		if req.AllowMemberMessages != nil {
			g.Settings.AllowMemberMessages = *req.AllowMemberMessages
		}
		if req.OnlyAdminsCanPost != nil {
			g.Settings.OnlyAdminsCanPost = *req.OnlyAdminsCanPost
		}
		return nil
	})
}

func (s *Service) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	return g.IsMember(userID), nil
}

func (s *Service) IsGroupAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	return g.IsAdmin(userID), nil
}

// CanPost reports whether a user may post to the group under its settings:
// member messages must be allowed, only-admins mode restricts to admins, and
// the user must be a member.
func (s *Service) CanPost(ctx context.Context, groupID, userID string) (bool, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if !g.Settings.AllowMemberMessages {
		return false, nil
	}
	if g.Settings.OnlyAdminsCanPost {
		return g.IsAdmin(userID), nil
	}
	return g.IsMember(userID), nil
}

// AddGroupMember adds target to the group. Admins may always add; plain
// members only when the group allows member invites.
func (s *Service) AddGroupMember(ctx context.Context, groupID, actorID, targetID string) error {
	_, err := s.updateGroup(ctx, groupID, func(g *models.Group) error {
		if !g.Settings.AllowMemberInvites && !g.IsAdmin(actorID) {
			return errs.Forbidden("only admins can add members to this group")
		}
		if !g.IsMember(actorID) {
			return errs.Forbidden("you must be a member to add others")
		}
		if g.AtCapacity() {
			return errs.ErrCapacityExceeded
		}
		if g.IsMember(targetID) {
			return errs.ErrAlreadyMember
		}
		g.MemberIDs = models.AddToSet(g.MemberIDs, targetID)
		return nil
	})
	if err != nil {
		return err
	}
	s.attachGroupToUser(ctx, targetID, groupID)

	s.publish(hub.GroupKey(groupID), models.EventMemberJoined, groupID, targetID, actorID)
	s.logger.Info().Str("group", groupID).Str("user", targetID).Str("actor", actorID).Msg("member added")
	return nil
}

func (s *Service) RemoveGroupMember(ctx context.Context, groupID, actorID, targetID string) error {
	_, err := s.updateGroup(ctx, groupID, func(g *models.Group) error {
		if !g.IsAdmin(actorID) && actorID != targetID {
			return errs.Forbidden("only admins can remove other members")
		}
		if targetID == g.CreatorID {
			return errs.ErrCannotRemoveCreator
		}
		g.MemberIDs = models.RemoveFromSet(g.MemberIDs, targetID)
		g.AdminIDs = models.RemoveFromSet(g.AdminIDs, targetID)
		return nil
	})
	if err != nil {
		return err
	}
	s.detachGroupFromUser(ctx, targetID, groupID)

	s.publish(hub.GroupKey(groupID), models.EventMemberLeft, groupID, targetID, actorID)
	s.logger.Info().Str("group", groupID).Str("user", targetID).Str("actor", actorID).Msg("member removed")
	return nil
}

func (s *Service) PromoteGroupAdmin(ctx context.Context, groupID, actorID, targetID string) error {
	_, err := s.updateGroup(ctx, groupID, func(g *models.Group) error {
		if !g.IsAdmin(actorID) {
			return errs.Forbidden("only admins can promote members")
		}
		if !g.IsMember(targetID) {
			return errs.ErrNotAMember
		}
		g.AdminIDs = models.AddToSet(g.AdminIDs, targetID)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(hub.GroupKey(groupID), models.EventMemberPromoted, groupID, targetID, actorID)
	return nil
}

func (s *Service) DemoteGroupAdmin(ctx context.Context, groupID, actorID, targetID string) error {
	_, err := s.updateGroup(ctx, groupID, func(g *models.Group) error {
		if !g.IsAdmin(actorID) {
			return errs.Forbidden("only admins can demote admins")
		}
		if targetID == g.CreatorID {
			return errs.ErrCannotDemoteCreator
		}
		g.AdminIDs = models.RemoveFromSet(g.AdminIDs, targetID)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(hub.GroupKey(groupID), models.EventMemberDemoted, groupID, targetID, actorID)
	return nil
}

func (s *Service) DeleteGroup(ctx context.Context, groupID, actorID string) error {
	g, err := s.updateGroup(ctx, groupID, func(g *models.Group) error {
		if g.CreatorID != actorID {
			return errs.Forbidden("only the creator can delete the group")
		}
		g.Active = false
		return nil
	})
	if err != nil {
		return err
	}

	for _, memberID := range g.MemberIDs {
		s.detachGroupFromUser(ctx, memberID, groupID)
	}

	s.publish(hub.GroupKey(groupID), models.EventConversationDeleted, groupID, "", actorID)
	s.logger.Info().Str("group", groupID).Str("actor", actorID).Msg("group deleted")
	return nil
}
