// Package presence tracks who is online, keyed to connection lifecycle. The
// in-memory state is a per-user connection count; durable status and lastSeen
// live on the user document. Transitions publish immediately, with no
// debounce: a flaky connection shows up as an offline then an online event.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-server/errs"
	"chat-server/hub"
	"chat-server/metrics"
	"chat-server/models"
	"chat-server/store"
)

const maxRetries = 5

type Publisher interface {
	Publish(key string, event models.Event)
}

type Tracker struct {
	mu          sync.Mutex
	connections map[string]int

	store  store.Store
	pub    Publisher
	logger zerolog.Logger
}

func NewTracker(s store.Store, pub Publisher, logger zerolog.Logger) *Tracker {
	return &Tracker{
		connections: make(map[string]int),
		store:       s,
		pub:         pub,
		logger:      logger.With().Str("component", "presence").Logger(),
	}
}

// Connected records a new live connection. The first connection for a user
// flips them online and broadcasts it; further connections from other
// devices are counted silently.
func (t *Tracker) Connected(ctx context.Context, userID string) {
	t.mu.Lock()
	t.connections[userID]++
	first := t.connections[userID] == 1
	t.mu.Unlock()

	metrics.ActiveConnections.Inc()
	if !first {
		return
	}
	t.transition(ctx, userID, models.StatusOnline, models.EventUserOnline)
}

// Disconnected records a dropped connection. The user goes offline only when
// their last connection is gone.
func (t *Tracker) Disconnected(ctx context.Context, userID string) {
	t.mu.Lock()
	if t.connections[userID] > 0 {
		t.connections[userID]--
	}
	last := t.connections[userID] == 0
	if last {
		delete(t.connections, userID)
	}
	t.mu.Unlock()

	metrics.ActiveConnections.Dec()
	if !last {
		return
	}
	t.transition(ctx, userID, models.StatusOffline, models.EventUserOffline)
}

// UpdateStatus applies a manual status change (away, busy, ...). It is a
// direct transition with no side constraints.
func (t *Tracker) UpdateStatus(ctx context.Context, userID string, status models.UserStatus) (*models.User, error) {
	switch status {
	case models.StatusOnline, models.StatusOffline, models.StatusAway, models.StatusBusy:
	default:
		return nil, errs.BadRequest("unknown status")
	}

	u, err := t.persist(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	t.broadcast(u, models.EventUserStatusChange)
	metrics.PresenceTransitions.WithLabelValues(string(status)).Inc()
	return u, nil
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connections[userID] > 0
}

func (t *Tracker) OnlineUsers(ctx context.Context) ([]*models.User, error) {
	return t.store.FindUsers(ctx, store.Where("status", store.OpEq, string(models.StatusOnline)))
}

func (t *Tracker) transition(ctx context.Context, userID string, status models.UserStatus, event models.EventType) {
	u, err := t.persist(ctx, userID, status)
	if err != nil {
		t.logger.Error().Err(err).Str("user", userID).Str("status", string(status)).
			Msg("persist presence transition")
		return
	}
	t.broadcast(u, event)
	metrics.PresenceTransitions.WithLabelValues(string(status)).Inc()
}

func (t *Tracker) persist(ctx context.Context, userID string, status models.UserStatus) (*models.User, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		u, err := t.store.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		u.Status = status
		u.LastSeen = time.Now()
		u.UpdatedAt = time.Now()
		err = t.store.SaveUser(ctx, u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		metrics.StoreConflicts.Inc()
	}
	return nil, fmt.Errorf("%w: user %s: concurrent updates exhausted retries", errs.ErrConflict, userID)
}

func (t *Tracker) broadcast(u *models.User, event models.EventType) {
	if t.pub == nil {
		return
	}
	t.pub.Publish(hub.StatusKey, models.Event{
		Type: event,
		Payload: models.PresencePayload{
			UserID:   u.ID,
			Username: u.Username,
			Status:   u.Status,
			LastSeen: u.LastSeen,
		},
	})
}
