package service

import (
	"context"
	"strings"

	"waster/internal/models"
	"waster/internal/repository"
)

// UserService stores the contact profile shown to the other party of a
// claim.
type UserService struct {
	store repository.Store
}

func NewUserService(store repository.Store) *UserService {
	return &UserService{store: store}
}

type UpdateProfileInput struct {
	UserID            string `json:"-" validate:"required,max=64"`
	UserName          string `json:"username" validate:"max=100"`
	FullName          string `json:"full_name" validate:"max=200"`
	Email             string `json:"email" validate:"omitempty,email,max=254"`
	PhoneNumber       string `json:"phone_number" validate:"max=32"`
	Address           string `json:"address" validate:"max=500"`
	City              string `json:"city" validate:"max=100"`
	ProfilePictureURL string `json:"profile_picture_url" validate:"omitempty,url"`
}

// GetProfile returns the caller's profile.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, wrapRead(notFound(err, "User", userID))
	}
	return user, nil
}

// UpdateProfile creates or replaces the caller's profile.
func (s *UserService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.Address = strings.TrimSpace(in.Address)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	user := &models.User{
		ID:                in.UserID,
		UserName:          in.UserName,
		FullName:          in.FullName,
		Email:             in.Email,
		PhoneNumber:       in.PhoneNumber,
		Address:           in.Address,
		City:              in.City,
		ProfilePictureURL: in.ProfilePictureURL,
	}
	if err := s.store.Users().Upsert(ctx, user); err != nil {
		return nil, models.NewInternalError(err)
	}
	return s.GetProfile(ctx, in.UserID)
}
