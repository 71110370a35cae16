package models

import "time"

// GroupSettings gate who may add members or post. Defaults allow both for
// every member.
type GroupSettings struct {
	AllowMemberInvites  bool `json:"allow_member_invites" bson:"allowMemberInvites"`
	AllowMemberMessages bool `json:"allow_member_messages" bson:"allowMemberMessages"`
	OnlyAdminsCanPost   bool `json:"only_admins_can_post" bson:"onlyAdminsCanPost"`
}

func DefaultGroupSettings() GroupSettings {
	return GroupSettings{AllowMemberInvites: true, AllowMemberMessages: true}
}

// Group shares the channel membership invariants but carries posting/invite
// policy and has no uniqueness constraint on its name.
type Group struct {
	ID          string        `json:"id" bson:"_id"`
	Name        string        `json:"name" bson:"name"`
	Description string        `json:"description,omitempty" bson:"description"`
	CreatorID   string        `json:"creator_id" bson:"creatorId"`
	MemberIDs   []string      `json:"member_ids" bson:"memberIds"`
	AdminIDs    []string      `json:"admin_ids" bson:"adminIds"`
	AvatarURL   string        `json:"avatar_url,omitempty" bson:"avatarUrl"`
	MaxMembers  int           `json:"max_members,omitempty" bson:"maxMembers"` // 0 = unlimited
	Settings    GroupSettings `json:"settings" bson:"settings"`
	Active      bool          `json:"active" bson:"active"`
	CreatedAt   time.Time     `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time     `json:"updated_at" bson:"updatedAt"`
	Version     int64         `json:"-" bson:"version"`
}

func (g *Group) IsMember(userID string) bool {
	return Contains(g.MemberIDs, userID)
}

func (g *Group) IsAdmin(userID string) bool {
	return Contains(g.AdminIDs, userID)
}

func (g *Group) AtCapacity() bool {
	return g.MaxMembers > 0 && len(g.MemberIDs) >= g.MaxMembers
}

type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MemberIDs   []string `json:"member_ids,omitempty"`
	MaxMembers  int      `json:"max_members,omitempty"`
}

type UpdateGroupRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	MaxMembers  *int    `json:"max_members,omitempty"`
}

type UpdateGroupSettingsRequest struct {
	AllowMemberInvites  *bool `json:"allow_member_invites,omitempty"`
	AllowMemberMessages *bool `json:"allow_member_messages,omitempty"`
	OnlyAdminsCanPost   *bool `json:"only_admins_can_post,omitempty"`
}
