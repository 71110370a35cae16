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

func (s *Service) CreateChannel(ctx context.Context, creatorID string, req models.CreateChannelRequest) (*models.Channel, error) {
	if req.Name == "" {
		return nil, errs.BadRequest("channel name is required")
	}
	exists, err := s.store.ExistsChannelByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.Duplicate("channel", "name", req.Name)
	}

	chType := req.Type
	if chType == "" {
		chType = models.ChannelPublic
	}

	now := time.Now()
	ch := &models.Channel{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreatorID:   creatorID,
		Type:        chType,
		MemberIDs:   []string{creatorID},
		AdminIDs:    []string{creatorID},
		MaxMembers:  req.MaxMembers,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.SaveChannel(ctx, ch); err != nil {
		return nil, err
	}
	s.attachChannelToUser(ctx, creatorID, ch.ID)

	s.logger.Info().Str("channel", ch.ID).Str("name", ch.Name).Str("creator", creatorID).Msg("channel created")
	return ch, nil
}

func (s *Service) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	return s.store.GetChannel(ctx, id)
}

func (s *Service) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	return s.store.GetChannelByName(ctx, name)
}

func (s *Service) PublicChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.store.FindChannels(ctx,
		store.Where("type", store.OpEq, string(models.ChannelPublic)).And("active", store.OpEq, true))
}

func (s *Service) UserChannels(ctx context.Context, userID string) ([]*models.Channel, error) {
	return s.store.FindChannels(ctx,
		store.Where("memberIds", store.OpEq, userID).And("active", store.OpEq, true))
}

func (s *Service) SearchChannels(ctx context.Context, term string) ([]*models.Channel, error) {
	return s.store.FindChannels(ctx,
		store.Where("name", store.OpContains, term).And("active", store.OpEq, true))
}

func (s *Service) UpdateChannel(ctx context.Context, channelID, actorID string, req models.UpdateChannelRequest) (*models.Channel, error) {
	return s.updateChannel(ctx, channelID, func(ch *models.Channel) error {
		if !ch.IsAdmin(actorID) {
			return errs.Forbidden("only admins can update the channel")
		}
		// Uniqueness matters only when the name actually changes; resubmitting
		// the current name must not conflict with the channel itself.
		if req.Name != nil && *req.Name != ch.Name {
			exists, err := s.store.ExistsChannelByName(ctx, *req.Name)
			if err != nil {
				return err
			}
			if exists {
				return errs.Duplicate("channel", "name", *req.Name)
			}
			ch.Name = *req.Name
		}
		if req.Description != nil {
			ch.Description = *req.Description
		}
		if req.AvatarURL != nil {
			ch.AvatarURL = *req.AvatarURL
		}
		if req.MaxMembers != nil {
			ch.MaxMembers = *req.MaxMembers
		}
		return nil
	})
}

func (s *Service) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return false, err
	}
	return ch.IsMember(userID), nil
}

func (s *Service) IsChannelAdmin(ctx context.Context, channelID, userID string) (bool, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return false, err
	}
	return ch.IsAdmin(userID), nil
}

// AddChannelMember adds target to the channel. Anyone may add to a public
// channel; private channels require the actor to already be a member. The
// capacity check runs inside the retry loop so concurrent joins cannot
// overshoot max members.
func (s *Service) AddChannelMember(ctx context.Context, channelID, actorID, targetID string) error {
	ch, err := s.updateChannel(ctx, channelID, func(ch *models.Channel) error {
		if ch.Type == models.ChannelPrivate && !ch.IsMember(actorID) {
			return errs.Forbidden("only members can add others to private channels")
		}
		if ch.AtCapacity() {
			return errs.ErrCapacityExceeded
		}
		if ch.IsMember(targetID) {
			return errs.ErrAlreadyMember
		}
		ch.MemberIDs = models.AddToSet(ch.MemberIDs, targetID)
		return nil
	})
	if err != nil {
		return err
	}
	s.attachChannelToUser(ctx, targetID, channelID)

	s.publish(hub.ChannelKey(channelID), models.EventMemberJoined, channelID, targetID, actorID)
	s.logger.Info().Str("channel", ch.ID).Str("user", targetID).Str("actor", actorID).Msg("member added")
	return nil
}

// RemoveChannelMember removes target from members and admins. Admins may
// remove anyone but the creator; any member may remove themselves.
func (s *Service) RemoveChannelMember(ctx context.Context, channelID, actorID, targetID string) error {
	_, err := s.updateChannel(ctx, channelID, func(ch *models.Channel) error {
		if !ch.IsAdmin(actorID) && actorID != targetID {
			return errs.Forbidden("only admins can remove other members")
		}
		if targetID == ch.CreatorID {
			return errs.ErrCannotRemoveCreator
		}
		ch.MemberIDs = models.RemoveFromSet(ch.MemberIDs, targetID)
		ch.AdminIDs = models.RemoveFromSet(ch.AdminIDs, targetID)
		return nil
	})
	if err != nil {
		return err
	}
	s.detachChannelFromUser(ctx, targetID, channelID)

	s.publish(hub.ChannelKey(channelID), models.EventMemberLeft, channelID, targetID, actorID)
	s.logger.Info().Str("channel", channelID).Str("user", targetID).Str("actor", actorID).Msg("member removed")
	return nil
}

func (s *Service) PromoteChannelAdmin(ctx context.Context, channelID, actorID, targetID string) error {
	_, err := s.updateChannel(ctx, channelID, func(ch *models.Channel) error {
		if !ch.IsAdmin(actorID) {
			return errs.Forbidden("only admins can promote members")
		}
		if !ch.IsMember(targetID) {
			return errs.ErrNotAMember
		}
		ch.AdminIDs = models.AddToSet(ch.AdminIDs, targetID)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(hub.ChannelKey(channelID), models.EventMemberPromoted, channelID, targetID, actorID)
	return nil
}

func (s *Service) DemoteChannelAdmin(ctx context.Context, channelID, actorID, targetID string) error {
	_, err := s.updateChannel(ctx, channelID, func(ch *models.Channel) error {
		if !ch.IsAdmin(actorID) {
			return errs.Forbidden("only admins can demote admins")
		}
		if targetID == ch.CreatorID {
			return errs.ErrCannotDemoteCreator
		}
		ch.AdminIDs = models.RemoveFromSet(ch.AdminIDs, targetID)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(hub.ChannelKey(channelID), models.EventMemberDemoted, channelID, targetID, actorID)
	return nil
}

// DeleteChannel soft-deletes the channel and detaches it from every member's
// user document. The per-member detach is bulk and idempotent: a failure is
// logged and skipped, and reconciliation repairs it later.
func (s *Service) DeleteChannel(ctx context.Context, channelID, actorID string) error {
	ch, err := s.updateChannel(ctx, channelID, func(ch *models.Channel) error {
		if ch.CreatorID != actorID {
			return errs.Forbidden("only the creator can delete the channel")
		}
		ch.Active = false
		return nil
	})
	if err != nil {
		return err
	}

	for _, memberID := range ch.MemberIDs {
		s.detachChannelFromUser(ctx, memberID, channelID)
	}

	s.publish(hub.ChannelKey(channelID), models.EventConversationDeleted, channelID, "", actorID)
	s.logger.Info().Str("channel", channelID).Str("actor", actorID).Msg("channel deleted")
	return nil
}
