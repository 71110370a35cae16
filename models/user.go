package models

import "time"

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
	StatusAway    UserStatus = "away"
	StatusBusy    UserStatus = "busy"
)

type User struct {
	ID             string     `json:"id" bson:"_id"`
	Username       string     `json:"username" bson:"username"`
	Email          string     `json:"email" bson:"email"`
	DisplayName    string     `json:"display_name" bson:"displayName"`
	PasswordHash   string     `json:"-" bson:"passwordHash"`
	AvatarURL      string     `json:"avatar_url,omitempty" bson:"avatarUrl"`
	Bio            string     `json:"bio,omitempty" bson:"bio"`
	Status         UserStatus `json:"status" bson:"status"`
	LastSeen       time.Time  `json:"last_seen" bson:"lastSeen"`
	ChannelIDs     []string   `json:"channel_ids" bson:"channelIds"`
	GroupIDs       []string   `json:"group_ids" bson:"groupIds"`
	BlockedUserIDs []string   `json:"blocked_user_ids" bson:"blockedUserIds"`
	Active         bool       `json:"active" bson:"active"`
	CreatedAt      time.Time  `json:"created_at" bson:"createdAt"`
	UpdatedAt      time.Time  `json:"updated_at" bson:"updatedAt"`
	Version        int64      `json:"-" bson:"version"`
}

func (u *User) HasBlocked(userID string) bool {
	return Contains(u.BlockedUserIDs, userID)
}

type UserResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	Status      UserStatus `json:"status"`
	LastSeen    time.Time  `json:"last_seen"`
	ChannelIDs  []string   `json:"channel_ids"`
	GroupIDs    []string   `json:"group_ids"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
		Status:      u.Status,
		LastSeen:    u.LastSeen,
		ChannelIDs:  u.ChannelIDs,
		GroupIDs:    u.GroupIDs,
		CreatedAt:   u.CreatedAt,
	}
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

type UpdateStatusRequest struct {
	Status UserStatus `json:"status"`
}
