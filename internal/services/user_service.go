package services

import (
	"context"
	"strings"
	"time"

	apperrors "envledger/internal/errors"
	"envledger/internal/logger"
	"envledger/internal/models"
	"envledger/internal/store"
)

// lastSeenResolution bounds how often EnsureUser rewrites LastSeenAt.
const lastSeenResolution = time.Hour

// userService handles user profile logic. The user id is the principal id.
type userService struct {
	store *store.Store
}

// NewUserService creates a new UserServicer.
func NewUserService(st *store.Store) UserServicer {
	return &userService{store: st}
}

// EnsureUser returns the profile of the authenticated principal, creating it
// on first authentication. Deactivated users are refused.
func (s *userService) EnsureUser(ctx context.Context, id Identity) (*models.User, error) {
	if id.ID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	var user models.User
	err := s.store.GetIncludingInactive(ctx, &user, id.ID, id.ID, apperrors.ErrUserNotFound)
	switch {
	case apperrors.IsNotFound(err):
		return s.createUser(ctx, id)
	case err != nil:
		return nil, err
	}

	if !user.IsActive {
		return nil, apperrors.WithMessage(apperrors.ErrUnauthorized, "User account is deactivated")
	}

	now := s.store.Now()
	if user.LastSeenAt == nil || now.Sub(*user.LastSeenAt) >= lastSeenResolution {
		user.LastSeenAt = &now
		if err := s.store.Put(ctx, &user, user.Version, user.ID, apperrors.ErrUserNotFound); err != nil {
			// A concurrent request already refreshed it.
			if !apperrors.IsConflict(err) {
				return nil, err
			}
		}
	}
	return &user, nil
}

func (s *userService) createUser(ctx context.Context, id Identity) (*models.User, error) {
	now := s.store.Now()
	user := &models.User{
		Base:        models.Base{ID: id.ID},
		Email:       strings.ToLower(id.Email),
		DisplayName: id.DisplayName,
		Locale:      "en-US",
		Currency:    "USD",
		Timezone:    "UTC",
		LastSeenAt:  &now,
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Email
	}

	if err := s.store.Create(ctx, user, id.ID); err != nil {
		// Lost a first-login race with a parallel request; read the winner.
		var existing models.User
		if getErr := s.store.Get(ctx, &existing, id.ID, id.ID, apperrors.ErrUserNotFound); getErr == nil {
			return &existing, nil
		}
		return nil, err
	}

	logger.Get().Infow("user profile created", "user_id", user.ID)
	return user, nil
}

// GetUser retrieves an active user by id.
func (s *userService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.store.Get(ctx, &user, userID, userID, apperrors.ErrUserNotFound); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdatePreferences changes the given profile fields of the user.
func (s *userService) UpdatePreferences(ctx context.Context, userID string, prefs UserPreferences) (*models.User, error) {
	if prefs.Timezone != nil {
		if _, err := time.LoadLocation(*prefs.Timezone); err != nil {
			return nil, invalidInput("unknown timezone %q", *prefs.Timezone)
		}
	}
	if prefs.DisplayName != nil && strings.TrimSpace(*prefs.DisplayName) == "" {
		return nil, invalidInput("display name cannot be empty")
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if prefs.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*prefs.DisplayName)
	}
	if prefs.Locale != nil {
		user.Locale = *prefs.Locale
	}
	if prefs.Currency != nil {
		user.Currency = strings.ToUpper(*prefs.Currency)
	}
	if prefs.Timezone != nil {
		user.Timezone = *prefs.Timezone
	}
	if prefs.EmailNotifications != nil {
		user.EmailNotifications = *prefs.EmailNotifications
	}
	if prefs.PushNotifications != nil {
		user.PushNotifications = *prefs.PushNotifications
	}
	if prefs.BudgetAlerts != nil {
		user.BudgetAlerts = *prefs.BudgetAlerts
	}

	if err := s.store.Put(ctx, user, user.Version, userID, apperrors.ErrUserNotFound); err != nil {
		return nil, err
	}
	return user, nil
}

// DeactivateUser soft-deactivates the user. Profiles are never deleted.
func (s *userService) DeactivateUser(ctx context.Context, userID string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	user.IsActive = false
	if err := s.store.Put(ctx, user, user.Version, userID, apperrors.ErrUserNotFound); err != nil {
		return err
	}
	logger.Get().Infow("user deactivated", "user_id", userID)
	return nil
}
