package handlers

import (
	"encoding/json"
	"net/http"

	"chat-server/membership"
	"chat-server/middleware"
	"chat-server/models"
	"chat-server/readstate"
)

type ChannelHandler struct {
	members *membership.Service
	reads   *readstate.Tracker
}

func NewChannelHandler(members *membership.Service, reads *readstate.Tracker) *ChannelHandler {
	return &ChannelHandler{members: members, reads: reads}
}

func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	channels, err := h.members.UserChannels(r.Context(), middleware.GetUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if channels == nil {
		channels = []*models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (h *ChannelHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	channels, err := h.members.PublicChannels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if channels == nil {
		channels = []*models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (h *ChannelHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		http.Error(w, "Query parameter q is required", http.StatusBadRequest)
		return
	}
	channels, err := h.members.SearchChannels(r.Context(), term)
	if err != nil {
		writeError(w, err)
		return
	}
	if channels == nil {
		channels = []*models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	channel, err := h.members.CreateChannel(r.Context(), middleware.GetUserID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, channel)
}

func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	channel, err := h.members.GetChannel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channel)
}

func (h *ChannelHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	channel, err := h.members.UpdateChannel(r.Context(), r.PathValue("id"), middleware.GetUserID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channel)
}

func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.members.DeleteChannel(r.Context(), r.PathValue("id"), middleware.GetUserID(r)); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "deleted")
}

// Join adds the caller themselves; AddMember adds someone else.
func (h *ChannelHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if err := h.members.AddChannelMember(r.Context(), r.PathValue("id"), userID, userID); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "joined")
}

func (h *ChannelHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.members.AddChannelMember(r.Context(), r.PathValue("id"), middleware.GetUserID(r), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "added")
}

func (h *ChannelHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.members.RemoveChannelMember(r.Context(), r.PathValue("id"), middleware.GetUserID(r), r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "removed")
}

func (h *ChannelHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if err := h.members.RemoveChannelMember(r.Context(), r.PathValue("id"), userID, userID); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "left")
}

func (h *ChannelHandler) Promote(w http.ResponseWriter, r *http.Request) {
	if err := h.members.PromoteChannelAdmin(r.Context(), r.PathValue("id"), middleware.GetUserID(r), r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "promoted")
}

func (h *ChannelHandler) Demote(w http.ResponseWriter, r *http.Request) {
	if err := h.members.DemoteChannelAdmin(r.Context(), r.PathValue("id"), middleware.GetUserID(r), r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "demoted")
}

func (h *ChannelHandler) Members(w http.ResponseWriter, r *http.Request) {
	channel, err := h.members.GetChannel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	responses := make([]models.UserResponse, 0, len(channel.MemberIDs))
	for _, memberID := range channel.MemberIDs {
		user, err := h.members.GetUser(r.Context(), memberID)
		if err != nil {
			continue
		}
		responses = append(responses, user.ToResponse())
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *ChannelHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	dest := models.Destination{Kind: models.DestChannel, ID: r.PathValue("id")}
	if err := h.reads.MarkConversationRead(r.Context(), dest, middleware.GetUserID(r)); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "read")
}

func (h *ChannelHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.reads.UnreadChannelCount(r.Context(), r.PathValue("id"), middleware.GetUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}
