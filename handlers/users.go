package handlers

import (
	"encoding/json"
	"net/http"

	"chat-server/membership"
	"chat-server/middleware"
	"chat-server/models"
	"chat-server/presence"
)

type UserHandler struct {
	members  *membership.Service
	presence *presence.Tracker
}

func NewUserHandler(members *membership.Service, presence *presence.Tracker) *UserHandler {
	return &UserHandler{members: members, presence: presence}
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.members.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.ToResponse())
}

func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		http.Error(w, "Query parameter q is required", http.StatusBadRequest)
		return
	}

	users, err := h.members.SearchUsers(r.Context(), term)
	if err != nil {
		writeError(w, err)
		return
	}

	responses := make([]models.UserResponse, len(users))
	for i, u := range users {
		responses[i] = u.ToResponse()
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *UserHandler) Online(w http.ResponseWriter, r *http.Request) {
	users, err := h.presence.OnlineUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	responses := make([]models.UserResponse, len(users))
	for i, u := range users {
		responses[i] = u.ToResponse()
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.members.UpdateProfile(r.Context(), middleware.GetUserID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.ToResponse())
}

func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.presence.UpdateStatus(r.Context(), middleware.GetUserID(r), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.ToResponse())
}

func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	targetID := r.PathValue("id")
	if targetID == userID {
		http.Error(w, "Cannot block yourself", http.StatusBadRequest)
		return
	}

	// Target must exist before it lands on the block list.
	if _, err := h.members.GetUser(r.Context(), targetID); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.members.BlockUser(r.Context(), userID, targetID); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "blocked")
}

func (h *UserHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if _, err := h.members.UnblockUser(r.Context(), middleware.GetUserID(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "unblocked")
}

// SyncMemberships is the repair endpoint for the membership-id sets on the
// caller's user document.
func (h *UserHandler) SyncMemberships(w http.ResponseWriter, r *http.Request) {
	if err := h.members.SyncUserMemberships(r.Context(), middleware.GetUserID(r)); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "synced")
}
