// Package messaging validates, persists and classifies sent messages, and
// serves conversation history. Fanout of the resulting events is the
// caller's job; the router only decides whether and where a message exists.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-server/errs"
	"chat-server/membership"
	"chat-server/metrics"
	"chat-server/models"
	"chat-server/store"
)

const maxRetries = 5

type Router struct {
	store   store.Store
	members *membership.Service
	logger  zerolog.Logger
}

func NewRouter(s store.Store, members *membership.Service, logger zerolog.Logger) *Router {
	return &Router{
		store:   s,
		members: members,
		logger:  logger.With().Str("component", "router").Logger(),
	}
}

// Send validates the destination and the sender's right to post there, then
// persists the message. The returned message is what the caller hands to the
// fanout broadcaster.
func (r *Router) Send(ctx context.Context, senderID string, req models.SendMessageRequest) (*models.Message, error) {
	dest, ok := req.Destination()
	if !ok {
		return nil, errs.ErrInvalidDestination
	}
	if req.Content == "" {
		return nil, errs.BadRequest("message content is required")
	}

	sender, err := r.store.GetUser(ctx, senderID)
	if err != nil {
		return nil, err
	}

	switch dest.Kind {
	case models.DestDirect:
		recipient, err := r.store.GetUser(ctx, dest.ID)
		if err != nil {
			return nil, err
		}
		if recipient.HasBlocked(senderID) {
			return nil, errs.ErrBlocked
		}
	case models.DestGroup:
		canPost, err := r.members.CanPost(ctx, dest.ID, senderID)
		if err != nil {
			return nil, err
		}
		if !canPost {
			return nil, errs.Forbidden("you cannot post to this group")
		}
	case models.DestChannel:
		isMember, err := r.members.IsChannelMember(ctx, dest.ID, senderID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, errs.Forbidden("you are not a member of this channel")
		}
	}

	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageText
	}

	msg := &models.Message{
		ID:               uuid.NewString(),
		SenderID:         senderID,
		SenderUsername:   sender.Username,
		RecipientID:      req.RecipientID,
		ChannelID:        req.ChannelID,
		GroupID:          req.GroupID,
		Type:             msgType,
		Content:          req.Content,
		AttachmentIDs:    []string{},
		Timestamp:        time.Now(),
		ReadBy:           []string{},
		ReplyToMessageID: req.ReplyToMessageID,
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}

	metrics.MessagesSent.WithLabelValues(dest.Kind.String()).Inc()
	r.logger.Debug().Str("message", msg.ID).Str("sender", senderID).
		Str("destination", dest.Kind.String()).Msg("message routed")
	return msg, nil
}

func (r *Router) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, errs.NotFound("message", "id", id)
	}
	return msg, nil
}

// updateMessage is the optimistic-concurrency loop for message mutations.
func (r *Router) updateMessage(ctx context.Context, id string, mutate func(*models.Message) error) (*models.Message, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		msg, err := r.store.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(msg); err != nil {
			return nil, err
		}
		err = r.store.SaveMessage(ctx, msg)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		metrics.StoreConflicts.Inc()
	}
	return nil, fmt.Errorf("%w: message %s: concurrent updates exhausted retries", errs.ErrConflict, id)
}

// Edit replaces the content of the caller's own message. A deleted message
// behaves as if it no longer exists.
func (r *Router) Edit(ctx context.Context, messageID, actorID, newContent string) (*models.Message, error) {
	if newContent == "" {
		return nil, errs.BadRequest("message content is required")
	}
	return r.updateMessage(ctx, messageID, func(m *models.Message) error {
		if m.Deleted {
			return errs.NotFound("message", "id", messageID)
		}
		if m.SenderID != actorID {
			return errs.Forbidden("you can only edit your own messages")
		}
		now := time.Now()
		m.Content = newContent
		m.Edited = true
		m.EditedAt = &now
		return nil
	})
}

// Delete tombstones the caller's own message. Content is retained but the
// message disappears from every read path.
func (r *Router) Delete(ctx context.Context, messageID, actorID string) (*models.Message, error) {
	return r.updateMessage(ctx, messageID, func(m *models.Message) error {
		if m.Deleted {
			return errs.NotFound("message", "id", messageID)
		}
		if m.SenderID != actorID {
			return errs.Forbidden("you can only delete your own messages")
		}
		m.Deleted = true
		return nil
	})
}

// AddAttachment appends an uploaded attachment id. The upload itself was
// authorized upstream, so there is no ownership check here.
func (r *Router) AddAttachment(ctx context.Context, messageID, attachmentID string) (*models.Message, error) {
	return r.updateMessage(ctx, messageID, func(m *models.Message) error {
		m.AttachmentIDs = append(m.AttachmentIDs, attachmentID)
		return nil
	})
}

func notDeleted(f store.Filter) store.Filter {
	return f.And("deleted", store.OpEq, false)
}

func (r *Router) ChannelMessages(ctx context.Context, channelID string, page, size int) ([]*models.Message, error) {
	return r.store.FindMessages(ctx,
		notDeleted(store.Where("channelId", store.OpEq, channelID)),
		store.Page{Offset: page * size, Limit: size, NewestFirst: true})
}

func (r *Router) GroupMessages(ctx context.Context, groupID string, page, size int) ([]*models.Message, error) {
	return r.store.FindMessages(ctx,
		notDeleted(store.Where("groupId", store.OpEq, groupID)),
		store.Page{Offset: page * size, Limit: size, NewestFirst: true})
}

// DirectMessages returns the private history between two users, newest
// first. The store filter language is conjunctive, so the two directions are
// fetched separately and merged.
func (r *Router) DirectMessages(ctx context.Context, userID1, userID2 string, page, size int) ([]*models.Message, error) {
	sent, err := r.store.FindMessages(ctx,
		notDeleted(store.Where("senderId", store.OpEq, userID1).And("recipientId", store.OpEq, userID2)),
		store.Page{})
	if err != nil {
		return nil, err
	}
	received, err := r.store.FindMessages(ctx,
		notDeleted(store.Where("senderId", store.OpEq, userID2).And("recipientId", store.OpEq, userID1)),
		store.Page{})
	if err != nil {
		return nil, err
	}

	merged := append(sent, received...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})

	offset := page * size
	if offset >= len(merged) {
		return nil, nil
	}
	merged = merged[offset:]
	if size > 0 && size < len(merged) {
		merged = merged[:size]
	}
	return merged, nil
}

func (r *Router) Replies(ctx context.Context, messageID string) ([]*models.Message, error) {
	return r.store.FindMessages(ctx,
		notDeleted(store.Where("replyToMessageId", store.OpEq, messageID)),
		store.Page{})
}

func (r *Router) SearchInChannel(ctx context.Context, channelID, term string) ([]*models.Message, error) {
	return r.store.FindMessages(ctx,
		notDeleted(store.Where("channelId", store.OpEq, channelID).And("content", store.OpContains, term)),
		store.Page{NewestFirst: true})
}

func (r *Router) SearchInGroup(ctx context.Context, groupID, term string) ([]*models.Message, error) {
	return r.store.FindMessages(ctx,
		notDeleted(store.Where("groupId", store.OpEq, groupID).And("content", store.OpContains, term)),
		store.Page{NewestFirst: true})
}
