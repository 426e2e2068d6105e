package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "envledger/internal/errors"
	"envledger/internal/models"
	"envledger/internal/services"
)

// UserHandler handles the authenticated user's profile.
type UserHandler struct {
	userService services.UserServicer
	mutator     *Mutator
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userService services.UserServicer, mutator *Mutator) *UserHandler {
	return &UserHandler{userService: userService, mutator: mutator}
}

// UpdateProfileRequest represents the request payload for updating preferences.
type UpdateProfileRequest struct {
	DisplayName        *string `json:"displayName" binding:"omitempty,min=1,max=100"`
	Locale             *string `json:"locale" binding:"omitempty,bcp47_language_tag"`
	Currency           *string `json:"currency" binding:"omitempty,iso4217"`
	Timezone           *string `json:"timezone" binding:"omitempty,timezone"`
	EmailNotifications *bool   `json:"emailNotifications"`
	PushNotifications  *bool   `json:"pushNotifications"`
	BudgetAlerts       *bool   `json:"budgetAlerts"`
}

// GetProfile returns the authenticated user's profile.
// @Summary     Get profile
// @Tags        users
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} models.User "User profile"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "User not found"
// @Router      /me [get]
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	user, err := h.userService.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UpdateProfile changes the authenticated user's preferences.
// @Summary     Update profile
// @Tags        users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body UpdateProfileRequest true "Preferences to change"
// @Success     200 {object} models.User "Profile updated"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /me [put]
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var user *models.User
	err = h.mutator.Run(c.Request.Context(), "updateProfile", func(ctx context.Context) error {
		var err error
		user, err = h.userService.UpdatePreferences(ctx, userID, services.UserPreferences{
			DisplayName:        req.DisplayName,
			Locale:             req.Locale,
			Currency:           req.Currency,
			Timezone:           req.Timezone,
			EmailNotifications: req.EmailNotifications,
			PushNotifications:  req.PushNotifications,
			BudgetAlerts:       req.BudgetAlerts,
		})
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// DeactivateProfile deactivates the authenticated user. Budgets are kept.
// @Summary     Deactivate profile
// @Tags        users
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} map[string]string "User deactivated"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /me [delete]
func (h *UserHandler) DeactivateProfile(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	err = h.mutator.Run(c.Request.Context(), "deactivateUser", func(ctx context.Context) error {
		return h.userService.DeactivateUser(ctx, userID)
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User deactivated successfully"})
}
