package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"chat-server/hub"
	"chat-server/messaging"
	"chat-server/middleware"
	"chat-server/models"
	"chat-server/readstate"
)

const defaultPageSize = 50

type MessageHandler struct {
	router *messaging.Router
	reads  *readstate.Tracker
	hub    *hub.Hub
}

func NewMessageHandler(router *messaging.Router, reads *readstate.Tracker, h *hub.Hub) *MessageHandler {
	return &MessageHandler{router: router, reads: reads, hub: h}
}

// fanoutKeys lists the subscription keys an event about the message goes to.
// Channel and group messages have one shared key; direct messages reach the
// personal keys of both parties, so the sender's other devices stay in sync.
func fanoutKeys(msg *models.Message) []string {
	dest, ok := msg.DestinationOf()
	if !ok {
		return nil
	}
	if dest.Kind == models.DestDirect {
		return []string{hub.UserKey(msg.RecipientID), hub.UserKey(msg.SenderID)}
	}
	return []string{hub.KeyFor(dest)}
}

func (h *MessageHandler) publish(msg *models.Message, eventType models.EventType, payload interface{}) {
	for _, key := range fanoutKeys(msg) {
		h.hub.Publish(key, models.Event{Type: eventType, Payload: payload})
	}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.router.Send(r.Context(), middleware.GetUserID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(msg, models.EventMessage, msg)
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	msg, err := h.router.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req models.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.router.Edit(r.Context(), r.PathValue("id"), middleware.GetUserID(r), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(msg, models.EventMessageEdit, msg)
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	msg, err := h.router.Delete(r.Context(), r.PathValue("id"), middleware.GetUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(msg, models.EventMessageDelete, map[string]string{"message_id": msg.ID})
	statusOK(w, "deleted")
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	msg, err := h.reads.MarkRead(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(msg, models.EventMessageRead, models.MessageReadPayload{
		MessageID: msg.ID,
		UserID:    userID,
	})
	statusOK(w, "read")
}

func (h *MessageHandler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AttachmentID string `json:"attachment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AttachmentID == "" {
		http.Error(w, "Attachment ID is required", http.StatusBadRequest)
		return
	}

	msg, err := h.router.AddAttachment(r.Context(), r.PathValue("id"), req.AttachmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func pageParams(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	size, _ = strconv.Atoi(r.URL.Query().Get("size"))
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	return page, size
}

func writeMessages(w http.ResponseWriter, msgs []*models.Message, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) ChannelHistory(w http.ResponseWriter, r *http.Request) {
	if term := r.URL.Query().Get("q"); term != "" {
		msgs, err := h.router.SearchInChannel(r.Context(), r.PathValue("id"), term)
		writeMessages(w, msgs, err)
		return
	}
	page, size := pageParams(r)
	msgs, err := h.router.ChannelMessages(r.Context(), r.PathValue("id"), page, size)
	writeMessages(w, msgs, err)
}

func (h *MessageHandler) GroupHistory(w http.ResponseWriter, r *http.Request) {
	if term := r.URL.Query().Get("q"); term != "" {
		msgs, err := h.router.SearchInGroup(r.Context(), r.PathValue("id"), term)
		writeMessages(w, msgs, err)
		return
	}
	page, size := pageParams(r)
	msgs, err := h.router.GroupMessages(r.Context(), r.PathValue("id"), page, size)
	writeMessages(w, msgs, err)
}

func (h *MessageHandler) DirectHistory(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	msgs, err := h.router.DirectMessages(r.Context(), middleware.GetUserID(r), r.PathValue("userId"), page, size)
	writeMessages(w, msgs, err)
}

func (h *MessageHandler) Replies(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.router.Replies(r.Context(), r.PathValue("id"))
	writeMessages(w, msgs, err)
}

func (h *MessageHandler) UnreadDirect(w http.ResponseWriter, r *http.Request) {
	count, err := h.reads.UnreadDirectCount(r.Context(), middleware.GetUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}
