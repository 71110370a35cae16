package membership

import (
	"context"

	"chat-server/models"
	"chat-server/store"
)

// User-document operations live here because the service already owns the
// user side of the membership sets.

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

func (s *Service) SearchUsers(ctx context.Context, term string) ([]*models.User, error) {
	return s.store.FindUsers(ctx,
		store.Where("username", store.OpContains, term).And("active", store.OpEq, true))
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.User, error) {
	return s.updateUser(ctx, userID, func(u *models.User) error {
		if req.DisplayName != nil {
			u.DisplayName = *req.DisplayName
		}
		if req.Bio != nil {
			u.Bio = *req.Bio
		}
		if req.AvatarURL != nil {
			u.AvatarURL = *req.AvatarURL
		}
		return nil
	})
}

// BlockUser adds target to the user's block list. Blocking is one-sided and
// idempotent; it only affects future direct messages from the target.
func (s *Service) BlockUser(ctx context.Context, userID, targetID string) (*models.User, error) {
	return s.updateUser(ctx, userID, func(u *models.User) error {
		u.BlockedUserIDs = models.AddToSet(u.BlockedUserIDs, targetID)
		return nil
	})
}

func (s *Service) UnblockUser(ctx context.Context, userID, targetID string) (*models.User, error) {
	return s.updateUser(ctx, userID, func(u *models.User) error {
		u.BlockedUserIDs = models.RemoveFromSet(u.BlockedUserIDs, targetID)
		return nil
	})
}
