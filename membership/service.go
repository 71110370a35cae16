// Package membership owns the role invariants for channels and groups: who is
// a member, who is an admin, and who may change either. The creator of a
// conversation is always a member and an admin and can never be removed or
// demoted.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chat-server/errs"
	"chat-server/metrics"
	"chat-server/models"
	"chat-server/store"
)

// Publisher receives the membership events this service emits. The fanout
// hub satisfies it.
type Publisher interface {
	Publish(key string, event models.Event)
}

// maxRetries bounds the optimistic-concurrency retry loop on document saves.
const maxRetries = 5

type Service struct {
	store  store.Store
	pub    Publisher
	logger zerolog.Logger
}

func NewService(s store.Store, pub Publisher, logger zerolog.Logger) *Service {
	return &Service{
		store:  s,
		pub:    pub,
		logger: logger.With().Str("component", "membership").Logger(),
	}
}

// updateChannel reloads, mutates and saves a channel until the save lands on
// the latest version. The mutate func is re-run on every attempt so its
// checks always see fresh state.
func (s *Service) updateChannel(ctx context.Context, id string, mutate func(*models.Channel) error) (*models.Channel, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		ch, err := s.store.GetChannel(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(ch); err != nil {
			return nil, err
		}
		ch.UpdatedAt = time.Now()
		err = s.store.SaveChannel(ctx, ch)
		if err == nil {
			return ch, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		metrics.StoreConflicts.Inc()
	}
	return nil, fmt.Errorf("%w: channel %s: concurrent updates exhausted retries", errs.ErrConflict, id)
}

func (s *Service) updateGroup(ctx context.Context, id string, mutate func(*models.Group) error) (*models.Group, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		g, err := s.store.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(g); err != nil {
			return nil, err
		}
		g.UpdatedAt = time.Now()
		err = s.store.SaveGroup(ctx, g)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		metrics.StoreConflicts.Inc()
	}
	return nil, fmt.Errorf("%w: group %s: concurrent updates exhausted retries", errs.ErrConflict, id)
}

func (s *Service) updateUser(ctx context.Context, id string, mutate func(*models.User) error) (*models.User, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(u); err != nil {
			return nil, err
		}
		u.UpdatedAt = time.Now()
		err = s.store.SaveUser(ctx, u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		metrics.StoreConflicts.Inc()
	}
	return nil, fmt.Errorf("%w: user %s: concurrent updates exhausted retries", errs.ErrConflict, id)
}

// The conversation document and the user's membership-id set are two
// aggregates saved separately; a crash between the two saves leaves them
// inconsistent until repaired. The attach/detach helpers are idempotent so
// re-applying is always safe.

func (s *Service) attachChannelToUser(ctx context.Context, userID, channelID string) {
	if _, err := s.updateUser(ctx, userID, func(u *models.User) error {
		u.ChannelIDs = models.AddToSet(u.ChannelIDs, channelID)
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Str("user", userID).Str("channel", channelID).
			Msg("attach channel to user failed; reconciliation will repair")
	}
}

func (s *Service) detachChannelFromUser(ctx context.Context, userID, channelID string) {
	if _, err := s.updateUser(ctx, userID, func(u *models.User) error {
		u.ChannelIDs = models.RemoveFromSet(u.ChannelIDs, channelID)
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Str("user", userID).Str("channel", channelID).
			Msg("detach channel from user failed; reconciliation will repair")
	}
}

func (s *Service) attachGroupToUser(ctx context.Context, userID, groupID string) {
	if _, err := s.updateUser(ctx, userID, func(u *models.User) error {
		u.GroupIDs = models.AddToSet(u.GroupIDs, groupID)
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Str("user", userID).Str("group", groupID).
			Msg("attach group to user failed; reconciliation will repair")
	}
}

func (s *Service) detachGroupFromUser(ctx context.Context, userID, groupID string) {
	if _, err := s.updateUser(ctx, userID, func(u *models.User) error {
		u.GroupIDs = models.RemoveFromSet(u.GroupIDs, groupID)
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Str("user", userID).Str("group", groupID).
			Msg("detach group from user failed; reconciliation will repair")
	}
}

// SyncUserMemberships rewrites a user's channel and group id sets from the
// conversation documents, the source of truth. It is the repair path for the
// two-document consistency gap.
func (s *Service) SyncUserMemberships(ctx context.Context, userID string) error {
	channels, err := s.store.FindChannels(ctx,
		store.Where("memberIds", store.OpEq, userID).And("active", store.OpEq, true))
	if err != nil {
		return err
	}
	groups, err := s.store.FindGroups(ctx,
		store.Where("memberIds", store.OpEq, userID).And("active", store.OpEq, true))
	if err != nil {
		return err
	}

	channelIDs := make([]string, 0, len(channels))
	for _, ch := range channels {
		channelIDs = append(channelIDs, ch.ID)
	}
	groupIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}

	_, err = s.updateUser(ctx, userID, func(u *models.User) error {
		u.ChannelIDs = channelIDs
		u.GroupIDs = groupIDs
		return nil
	})
	return err
}

func (s *Service) publish(key string, eventType models.EventType, convID, userID, actorID string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(key, models.Event{
		Type: eventType,
		Payload: models.MembershipPayload{
			ConversationID: convID,
			UserID:         userID,
			ActorID:        actorID,
		},
	})
}
