package models

import "time"

type ChannelType string

const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
)

// Channel is a named conversation with role-based membership. The creator is
// always both a member and an admin and can never be removed or demoted.
type Channel struct {
	ID          string      `json:"id" bson:"_id"`
	Name        string      `json:"name" bson:"name"`
	Description string      `json:"description,omitempty" bson:"description"`
	CreatorID   string      `json:"creator_id" bson:"creatorId"`
	Type        ChannelType `json:"type" bson:"type"`
	MemberIDs   []string    `json:"member_ids" bson:"memberIds"`
	AdminIDs    []string    `json:"admin_ids" bson:"adminIds"`
	AvatarURL   string      `json:"avatar_url,omitempty" bson:"avatarUrl"`
	MaxMembers  int         `json:"max_members,omitempty" bson:"maxMembers"` // 0 = unlimited
	Active      bool        `json:"active" bson:"active"`
	CreatedAt   time.Time   `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time   `json:"updated_at" bson:"updatedAt"`
	Version     int64       `json:"-" bson:"version"`
}

func (c *Channel) IsMember(userID string) bool {
	return Contains(c.MemberIDs, userID)
}

func (c *Channel) IsAdmin(userID string) bool {
	return Contains(c.AdminIDs, userID)
}

func (c *Channel) AtCapacity() bool {
	return c.MaxMembers > 0 && len(c.MemberIDs) >= c.MaxMembers
}

type CreateChannelRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        ChannelType `json:"type,omitempty"`
	MaxMembers  int         `json:"max_members,omitempty"`
}

type UpdateChannelRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	MaxMembers  *int    `json:"max_members,omitempty"`
}
