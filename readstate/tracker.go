// Package readstate maintains per-message reader sets and derives unread
// counts. Reader sets only ever grow; marking a message read twice is a
// no-op.
package readstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"chat-server/errs"
	"chat-server/metrics"
	"chat-server/models"
	"chat-server/store"
)

const maxRetries = 5

type Tracker struct {
	store  store.Store
	logger zerolog.Logger
}

func NewTracker(s store.Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  s,
		logger: logger.With().Str("component", "readstate").Logger(),
	}
}

// MarkRead adds the user to the message's reader set. Idempotent: if the
// user already read the message nothing is written.
func (t *Tracker) MarkRead(ctx context.Context, messageID, userID string) (*models.Message, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		msg, err := t.store.GetMessage(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if msg.Deleted {
			return nil, errs.NotFound("message", "id", messageID)
		}
		if msg.ReadByUser(userID) {
			return msg, nil
		}
		msg.ReadBy = models.AddToSet(msg.ReadBy, userID)
		err = t.store.SaveMessage(ctx, msg)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		metrics.StoreConflicts.Inc()
	}
	return nil, fmt.Errorf("%w: message %s: concurrent updates exhausted retries", errs.ErrConflict, messageID)
}

// MarkConversationRead marks every unread message in the conversation as read
// by the user. The bulk pass is at-least-once: a message that fails is logged
// and skipped, and re-running the operation is safe.
func (t *Tracker) MarkConversationRead(ctx context.Context, dest models.Destination, userID string) error {
	msgs, err := t.unreadMessages(ctx, dest, userID)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if _, err := t.MarkRead(ctx, msg.ID, userID); err != nil {
			t.logger.Warn().Err(err).Str("message", msg.ID).Str("user", userID).
				Msg("mark read failed, skipping")
		}
	}
	return nil
}

// unreadMessages fetches the non-deleted messages in the conversation whose
// reader set excludes the user. The exclusion is evaluated here: the store's
// filter language has no negated containment.
func (t *Tracker) unreadMessages(ctx context.Context, dest models.Destination, userID string) ([]*models.Message, error) {
	var filter store.Filter
	switch dest.Kind {
	case models.DestChannel:
		filter = store.Where("channelId", store.OpEq, dest.ID)
	case models.DestGroup:
		filter = store.Where("groupId", store.OpEq, dest.ID)
	case models.DestDirect:
		// For a direct conversation the destination id is the other
		// party; unread means addressed to the reader.
		filter = store.Where("recipientId", store.OpEq, userID)
		if dest.ID != "" {
			filter = filter.And("senderId", store.OpEq, dest.ID)
		}
	default:
		return nil, errs.BadRequest("unknown conversation kind")
	}
	filter = filter.And("deleted", store.OpEq, false)

	msgs, err := t.store.FindMessages(ctx, filter, store.Page{})
	if err != nil {
		return nil, err
	}

	unread := msgs[:0]
	for _, msg := range msgs {
		if !msg.ReadByUser(userID) {
			unread = append(unread, msg)
		}
	}
	return unread, nil
}

// UnreadChannelCount counts the channel messages the user has not read. The
// user's own messages count too until they are marked read; that mirrors the
// reader-set check, which does not special-case the sender.
func (t *Tracker) UnreadChannelCount(ctx context.Context, channelID, userID string) (int, error) {
	msgs, err := t.unreadMessages(ctx, models.Destination{Kind: models.DestChannel, ID: channelID}, userID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func (t *Tracker) UnreadGroupCount(ctx context.Context, groupID, userID string) (int, error) {
	msgs, err := t.unreadMessages(ctx, models.Destination{Kind: models.DestGroup, ID: groupID}, userID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// UnreadDirectCount counts unread direct messages addressed to the user,
// across all senders.
func (t *Tracker) UnreadDirectCount(ctx context.Context, userID string) (int, error) {
	msgs, err := t.unreadMessages(ctx, models.Destination{Kind: models.DestDirect}, userID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}
