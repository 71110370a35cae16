package models

import "time"

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageAudio  MessageType = "audio"
	MessageSystem MessageType = "system"
)

// Message has exactly one destination: a direct recipient, a channel, or a
// group. Deletion is a soft tombstone; ReadBy only ever grows.
type Message struct {
	ID               string      `json:"id" bson:"_id"`
	SenderID         string      `json:"sender_id" bson:"senderId"`
	SenderUsername   string      `json:"sender_username" bson:"senderUsername"`
	RecipientID      string      `json:"recipient_id,omitempty" bson:"recipientId"`
	ChannelID        string      `json:"channel_id,omitempty" bson:"channelId"`
	GroupID          string      `json:"group_id,omitempty" bson:"groupId"`
	Type             MessageType `json:"type" bson:"type"`
	Content          string      `json:"content" bson:"content"`
	AttachmentIDs    []string    `json:"attachment_ids" bson:"attachmentIds"`
	Timestamp        time.Time   `json:"timestamp" bson:"timestamp"`
	EditedAt         *time.Time  `json:"edited_at,omitempty" bson:"editedAt"`
	Edited           bool        `json:"edited" bson:"edited"`
	Deleted          bool        `json:"deleted" bson:"deleted"`
	ReadBy           []string    `json:"read_by" bson:"readBy"`
	ReplyToMessageID string      `json:"reply_to_message_id,omitempty" bson:"replyToMessageId"`
	Version          int64       `json:"-" bson:"version"`
}

func (m *Message) ReadByUser(userID string) bool {
	return Contains(m.ReadBy, userID)
}

// Destination identifies where a message is routed. Exactly one of the three
// forms exists for any validated message.
type Destination struct {
	Kind DestinationKind
	ID   string
}

type DestinationKind int

const (
	DestDirect DestinationKind = iota
	DestChannel
	DestGroup
)

func (k DestinationKind) String() string {
	switch k {
	case DestDirect:
		return "direct"
	case DestChannel:
		return "channel"
	case DestGroup:
		return "group"
	}
	return "unknown"
}

// DestinationOf classifies a message by its single populated destination
// field. ok is false when zero or more than one field is set.
func (m *Message) DestinationOf() (Destination, bool) {
	return destinationOf(m.RecipientID, m.ChannelID, m.GroupID)
}

func destinationOf(recipientID, channelID, groupID string) (Destination, bool) {
	var dest Destination
	set := 0
	if recipientID != "" {
		dest = Destination{Kind: DestDirect, ID: recipientID}
		set++
	}
	if channelID != "" {
		dest = Destination{Kind: DestChannel, ID: channelID}
		set++
	}
	if groupID != "" {
		dest = Destination{Kind: DestGroup, ID: groupID}
		set++
	}
	return dest, set == 1
}

type SendMessageRequest struct {
	RecipientID      string      `json:"recipient_id,omitempty"`
	ChannelID        string      `json:"channel_id,omitempty"`
	GroupID          string      `json:"group_id,omitempty"`
	Type             MessageType `json:"type,omitempty"`
	Content          string      `json:"content"`
	ReplyToMessageID string      `json:"reply_to_message_id,omitempty"`
}

// Destination validates the exactly-one rule for an incoming request.
func (r *SendMessageRequest) Destination() (Destination, bool) {
	return destinationOf(r.RecipientID, r.ChannelID, r.GroupID)
}

type EditMessageRequest struct {
	Content string `json:"content"`
}
