package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chat-server/config"
	"chat-server/handlers"
	"chat-server/hub"
	"chat-server/membership"
	"chat-server/messaging"
	"chat-server/middleware"
	"chat-server/presence"
	"chat-server/readstate"
	"chat-server/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	middleware.SetSecret(cfg.JWTSecret)

	s, err := newStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("store init failed")
	}
	defer s.Close()

	broadcaster := hub.New(logger)
	members := membership.NewService(s, broadcaster, logger)
	router := messaging.NewRouter(s, members, logger)
	reads := readstate.NewTracker(s, logger)
	tracker := presence.NewTracker(s, broadcaster, logger)

	authHandler := handlers.NewAuthHandler(s)
	userHandler := handlers.NewUserHandler(members, tracker)
	channelHandler := handlers.NewChannelHandler(members, reads)
	groupHandler := handlers.NewGroupHandler(members, reads)
	messageHandler := handlers.NewMessageHandler(router, reads, broadcaster)
	wsHandler := handlers.NewWSHandler(broadcaster, s, tracker, logger)

	attachmentHandler, err := handlers.NewAttachmentHandler(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("attachment storage init failed")
	}

	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/ws", wsHandler.Handle)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Protected routes (auth required)
	mux.HandleFunc("GET /api/auth/me", withAuth(authHandler.Me))

	// Users
	mux.HandleFunc("GET /api/users/search", withAuth(userHandler.Search))
	mux.HandleFunc("GET /api/users/online", withAuth(userHandler.Online))
	mux.HandleFunc("PUT /api/users/me", withAuth(userHandler.UpdateProfile))
	mux.HandleFunc("PUT /api/users/me/status", withAuth(userHandler.UpdateStatus))
	mux.HandleFunc("POST /api/users/me/sync", withAuth(userHandler.SyncMemberships))
	mux.HandleFunc("GET /api/users/{id}", withAuth(userHandler.Get))
	mux.HandleFunc("POST /api/users/{id}/block", withAuth(userHandler.Block))
	mux.HandleFunc("DELETE /api/users/{id}/block", withAuth(userHandler.Unblock))

	// Channels
	mux.HandleFunc("GET /api/channels", withAuth(channelHandler.List))
	mux.HandleFunc("GET /api/channels/public", withAuth(channelHandler.ListPublic))
	mux.HandleFunc("GET /api/channels/search", withAuth(channelHandler.Search))
	mux.HandleFunc("POST /api/channels", withAuth(channelHandler.Create))
	mux.HandleFunc("GET /api/channels/{id}", withAuth(channelHandler.Get))
	mux.HandleFunc("PUT /api/channels/{id}", withAuth(channelHandler.Update))
	mux.HandleFunc("DELETE /api/channels/{id}", withAuth(channelHandler.Delete))
	mux.HandleFunc("POST /api/channels/{id}/join", withAuth(channelHandler.Join))
	mux.HandleFunc("POST /api/channels/{id}/leave", withAuth(channelHandler.Leave))
	mux.HandleFunc("GET /api/channels/{id}/members", withAuth(channelHandler.Members))
	mux.HandleFunc("POST /api/channels/{id}/members", withAuth(channelHandler.AddMember))
	mux.HandleFunc("DELETE /api/channels/{id}/members/{userId}", withAuth(channelHandler.RemoveMember))
	mux.HandleFunc("POST /api/channels/{id}/admins/{userId}", withAuth(channelHandler.Promote))
	mux.HandleFunc("DELETE /api/channels/{id}/admins/{userId}", withAuth(channelHandler.Demote))
	mux.HandleFunc("POST /api/channels/{id}/read", withAuth(channelHandler.MarkAsRead))
	mux.HandleFunc("GET /api/channels/{id}/unread", withAuth(channelHandler.UnreadCount))
	mux.HandleFunc("GET /api/channels/{id}/messages", withAuth(messageHandler.ChannelHistory))

	// Groups
	mux.HandleFunc("GET /api/groups", withAuth(groupHandler.List))
	mux.HandleFunc("GET /api/groups/search", withAuth(groupHandler.Search))
	mux.HandleFunc("POST /api/groups", withAuth(groupHandler.Create))
	mux.HandleFunc("GET /api/groups/{id}", withAuth(groupHandler.Get))
	mux.HandleFunc("PUT /api/groups/{id}", withAuth(groupHandler.Update))
	mux.HandleFunc("PUT /api/groups/{id}/settings", withAuth(groupHandler.UpdateSettings))
	mux.HandleFunc("DELETE /api/groups/{id}", withAuth(groupHandler.Delete))
	mux.HandleFunc("POST /api/groups/{id}/leave", withAuth(groupHandler.Leave))
	mux.HandleFunc("GET /api/groups/{id}/members", withAuth(groupHandler.Members))
	mux.HandleFunc("POST /api/groups/{id}/members", withAuth(groupHandler.AddMember))
	mux.HandleFunc("DELETE /api/groups/{id}/members/{userId}", withAuth(groupHandler.RemoveMember))
	mux.HandleFunc("POST /api/groups/{id}/admins/{userId}", withAuth(groupHandler.Promote))
	mux.HandleFunc("DELETE /api/groups/{id}/admins/{userId}", withAuth(groupHandler.Demote))
	mux.HandleFunc("POST /api/groups/{id}/read", withAuth(groupHandler.MarkAsRead))
	mux.HandleFunc("GET /api/groups/{id}/unread", withAuth(groupHandler.UnreadCount))
	mux.HandleFunc("GET /api/groups/{id}/messages", withAuth(messageHandler.GroupHistory))

	// Messages
	mux.HandleFunc("POST /api/messages", withAuth(messageHandler.Send))
	mux.HandleFunc("GET /api/messages/{id}", withAuth(messageHandler.Get))
	mux.HandleFunc("PUT /api/messages/{id}", withAuth(messageHandler.Edit))
	mux.HandleFunc("DELETE /api/messages/{id}", withAuth(messageHandler.Delete))
	mux.HandleFunc("POST /api/messages/{id}/read", withAuth(messageHandler.MarkRead))
	mux.HandleFunc("POST /api/messages/{id}/attachments", withAuth(messageHandler.AddAttachment))
	mux.HandleFunc("GET /api/messages/{id}/replies", withAuth(messageHandler.Replies))
	mux.HandleFunc("GET /api/messages/direct/{userId}", withAuth(messageHandler.DirectHistory))
	mux.HandleFunc("GET /api/messages/unread", withAuth(messageHandler.UnreadDirect))

	// Attachments
	mux.HandleFunc("POST /api/attachments", withAuth(attachmentHandler.Upload))
	mux.HandleFunc("GET /api/attachments/{id}", attachmentHandler.Serve)

	handler := corsMiddleware(mux)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func newStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreBackend == "mongo" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewMongo(ctx, cfg.MongoURL, cfg.MongoDB)
	}
	return store.NewSQLite(cfg.DBPath)
}

// withAuth wraps a handler with authentication.
func withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		claims, err := middleware.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(middleware.SetUserID(r.Context(), claims.UserID)))
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
