package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-server/hub"
	"chat-server/middleware"
	"chat-server/presence"
	"chat-server/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSHandler struct {
	hub      *hub.Hub
	store    store.Store
	presence *presence.Tracker
	logger   zerolog.Logger
}

func NewWSHandler(h *hub.Hub, s store.Store, p *presence.Tracker, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:      h,
		store:    s,
		presence: p,
		logger:   logger.With().Str("component", "ws").Logger(),
	}
}

// Handle upgrades the connection and attaches it to the fanout hub. Browsers
// cannot set headers on websocket requests, so the token rides in a query
// parameter. A user may hold several connections at once.
func (h *WSHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}

	claims, err := middleware.ValidateToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	user, err := h.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user", user.ID).Msg("upgrade failed")
		return
	}

	// The welcome frame goes out before the pumps start so it is always the
	// first thing the client sees.
	welcome := []byte(`{"type":"welcome","payload":{"message":"connected"}}`)
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		h.logger.Warn().Err(err).Str("user", user.ID).Msg("welcome frame failed")
		conn.Close()
		return
	}

	keys := []string{hub.UserKey(user.ID), hub.StatusKey}
	for _, channelID := range user.ChannelIDs {
		keys = append(keys, hub.ChannelKey(channelID))
	}
	for _, groupID := range user.GroupIDs {
		keys = append(keys, hub.GroupKey(groupID))
	}

	// The request context dies when this handler returns; presence work
	// outlives it.
	client := hub.NewClient(h.hub, conn, user.ID, user.Username, func() {
		h.presence.Disconnected(context.Background(), user.ID)
	})
	// The connection must be counted before the pumps start: readPump's close
	// path fires Disconnected, and on a connection that dies immediately that
	// would otherwise run against a refcount that was never incremented.
	h.presence.Connected(context.Background(), user.ID)
	client.Run(keys)

	h.logger.Info().Str("user", user.ID).Int("subscriptions", len(keys)).Msg("connection established")
}
