package handlers

import (
	"encoding/json"
	"net/http"

	"chat-server/membership"
	"chat-server/middleware"
	"chat-server/models"
	"chat-server/readstate"
)

type GroupHandler struct {
	members *membership.Service
	reads   *readstate.Tracker
}

func NewGroupHandler(members *membership.Service, reads *readstate.Tracker) *GroupHandler {
	return &GroupHandler{members: members, reads: reads}
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.members.UserGroups(r.Context(), middleware.GetUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		http.Error(w, "Query parameter q is required", http.StatusBadRequest)
		return
	}
	groups, err := h.members.SearchGroups(r.Context(), term)
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	group, err := h.members.CreateGroup(r.Context(), middleware.GetUserID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, err := h.members.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	group, err := h.members.UpdateGroup(r.Context(), r.PathValue("id"), middleware.GetUserID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *GroupHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateGroupSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	group, err := h.members.UpdateGroupSettings(r.Context(), r.PathValue("id"), middleware.GetUserID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.members.DeleteGroup(r.Context(), r.PathValue("id"), middleware.GetUserID(r)); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "deleted")
}

func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.members.AddGroupMember(r.Context(), r.PathValue("id"), middleware.GetUserID(r), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "added")
}

func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.members.RemoveGroupMember(r.Context(), r.PathValue("id"), middleware.GetUserID(r), r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "removed")
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if err := h.members.RemoveGroupMember(r.Context(), r.PathValue("id"), userID, userID); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "left")
}

func (h *GroupHandler) Promote(w http.ResponseWriter, r *http.Request) {
	if err := h.members.PromoteGroupAdmin(r.Context(), r.PathValue("id"), middleware.GetUserID(r), r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "promoted")
}

func (h *GroupHandler) Demote(w http.ResponseWriter, r *http.Request) {
	if err := h.members.DemoteGroupAdmin(r.Context(), r.PathValue("id"), middleware.GetUserID(r), r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "demoted")
}

func (h *GroupHandler) Members(w http.ResponseWriter, r *http.Request) {
	group, err := h.members.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	responses := make([]models.UserResponse, 0, len(group.MemberIDs))
	for _, memberID := range group.MemberIDs {
		user, err := h.members.GetUser(r.Context(), memberID)
		if err != nil {
			continue
		}
		responses = append(responses, user.ToResponse())
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *GroupHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	dest := models.Destination{Kind: models.DestGroup, ID: r.PathValue("id")}
	if err := h.reads.MarkConversationRead(r.Context(), dest, middleware.GetUserID(r)); err != nil {
		writeError(w, err)
		return
	}
	statusOK(w, "read")
}

func (h *GroupHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.reads.UnreadGroupCount(r.Context(), r.PathValue("id"), middleware.GetUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}
