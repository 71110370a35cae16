package models

import "time"

// Event is the envelope for everything pushed over a live connection.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

type EventType string

const (
	EventMessage       EventType = "message"
	EventMessageEdit   EventType = "message_edit"
	EventMessageDelete EventType = "message_delete"
	EventMessageRead   EventType = "message_read"

	EventTypingStart EventType = "typing_start"
	EventTypingStop  EventType = "typing_stop"

	EventUserOnline       EventType = "user_online"
	EventUserOffline      EventType = "user_offline"
	EventUserStatusChange EventType = "user_status_change"

	EventMemberJoined        EventType = "member_joined"
	EventMemberLeft          EventType = "member_left"
	EventMemberPromoted      EventType = "member_promoted"
	EventMemberDemoted       EventType = "member_demoted"
	EventConversationDeleted EventType = "conversation_deleted"

	EventError EventType = "error"
)

// TypingIndicator is ephemeral: it exists only in flight, never in the store.
type TypingIndicator struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	ChannelID   string    `json:"channel_id,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Typing      bool      `json:"typing"`
	Timestamp   time.Time `json:"timestamp"`
}

type PresencePayload struct {
	UserID   string     `json:"user_id"`
	Username string     `json:"username"`
	Status   UserStatus `json:"status"`
	LastSeen time.Time  `json:"last_seen"`
}

type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

type MembershipPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	ActorID        string `json:"actor_id"`
}
