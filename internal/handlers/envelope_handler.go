package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "envledger/internal/errors"
	"envledger/internal/models"
	"envledger/internal/services"
)

// EnvelopeHandler handles envelope requests under a budget.
type EnvelopeHandler struct {
	envelopeService services.EnvelopeServicer
	mutator         *Mutator
}

// NewEnvelopeHandler creates a new EnvelopeHandler.
func NewEnvelopeHandler(envelopeService services.EnvelopeServicer, mutator *Mutator) *EnvelopeHandler {
	return &EnvelopeHandler{envelopeService: envelopeService, mutator: mutator}
}

// CreateEnvelopeRequest represents the request payload for creating an envelope.
type CreateEnvelopeRequest struct {
	Name               string                  `json:"name" binding:"required,min=1,max=100"`
	Description        string                  `json:"description" binding:"max=500"`
	Category           models.EnvelopeCategory `json:"category" binding:"required,envelope_category"`
	Icon               string                  `json:"icon" binding:"max=32"`
	Color              string                  `json:"color" binding:"omitempty,hex_color"`
	SortOrder          int                     `json:"sortOrder" binding:"gte=0"`
	AllocatedAmount    int64                   `json:"allocatedAmount" binding:"gte=0,lte=100000000000"`
	IsOverspendAllowed bool                    `json:"isOverspendAllowed"`
	MaxOverspendAmount *int64                  `json:"maxOverspendAmount" binding:"omitempty,gte=0"`
	IsRecurring        bool                    `json:"isRecurring"`
	AllowRollover      bool                    `json:"allowRollover"`
}

// UpdateEnvelopeRequest represents the request payload for updating an envelope.
type UpdateEnvelopeRequest struct {
	Name               *string                  `json:"name" binding:"omitempty,min=1,max=100"`
	Description        *string                  `json:"description" binding:"omitempty,max=500"`
	Category           *models.EnvelopeCategory `json:"category" binding:"omitempty,envelope_category"`
	Icon               *string                  `json:"icon" binding:"omitempty,max=32"`
	Color              *string                  `json:"color" binding:"omitempty,hex_color"`
	SortOrder          *int                     `json:"sortOrder" binding:"omitempty,gte=0"`
	IsOverspendAllowed *bool                    `json:"isOverspendAllowed"`
	MaxOverspendAmount *int64                   `json:"maxOverspendAmount" binding:"omitempty,gte=0"`
	ClearMaxOverspend  bool                     `json:"clearMaxOverspend"`
	IsRecurring        *bool                    `json:"isRecurring"`
	AllowRollover      *bool                    `json:"allowRollover"`
}

// AllocateRequest sets an envelope's allocation.
type AllocateRequest struct {
	AllocatedAmount *int64 `json:"allocatedAmount" binding:"required,gte=0,lte=100000000000"`
}

// CreateEnvelope handles the creation of a new envelope.
// @Summary     Create an envelope
// @Tags        envelopes
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string                true "Budget ID"
// @Param       request body CreateEnvelopeRequest true "Envelope details"
// @Success     201 {object} services.EnvelopeResult "Envelope created"
// @Failure     400 {object} ErrorResponse "Invalid input or duplicate envelope"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id}/envelopes [post]
func (h *EnvelopeHandler) CreateEnvelope(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var req CreateEnvelopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var result *services.EnvelopeResult
	err := h.mutator.Run(c.Request.Context(), "createEnvelope", func(ctx context.Context) error {
		var err error
		result, err = h.envelopeService.CreateEnvelope(ctx, userID, budgetID, services.CreateEnvelopeInput{
			Name:               req.Name,
			Description:        req.Description,
			Category:           req.Category,
			Icon:               req.Icon,
			Color:              req.Color,
			SortOrder:          req.SortOrder,
			AllocatedAmount:    req.AllocatedAmount,
			IsOverspendAllowed: req.IsOverspendAllowed,
			MaxOverspendAmount: req.MaxOverspendAmount,
			IsRecurring:        req.IsRecurring,
			AllowRollover:      req.AllowRollover,
		})
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetEnvelopes lists a budget's envelopes in sort order.
// @Summary     List envelopes
// @Tags        envelopes
// @Produce     json
// @Security    BearerAuth
// @Param       id               path  string true  "Budget ID"
// @Param       include_inactive query bool   false "Include deleted envelopes"
// @Success     200 {array}  models.Envelope "Envelopes"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id}/envelopes [get]
func (h *EnvelopeHandler) GetEnvelopes(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	includeInactive := c.Query("include_inactive") == "true"
	envelopes, err := h.envelopeService.ListEnvelopes(c.Request.Context(), userID, budgetID, includeInactive)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"envelopes": envelopes})
}

// GetEnvelope handles retrieving a single envelope.
// @Summary     Get an envelope
// @Tags        envelopes
// @Produce     json
// @Security    BearerAuth
// @Param       id         path string true "Budget ID"
// @Param       envelopeId path string true "Envelope ID"
// @Success     200 {object} models.Envelope "Envelope details"
// @Failure     404 {object} ErrorResponse "Envelope not found"
// @Router      /budgets/{id}/envelopes/{envelopeId} [get]
func (h *EnvelopeHandler) GetEnvelope(c *gin.Context) {
	userID, budgetID, envelopeID, ok := envelopePath(c)
	if !ok {
		return
	}

	envelope, err := h.envelopeService.GetEnvelope(c.Request.Context(), userID, budgetID, envelopeID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"envelope": envelope})
}

// UpdateEnvelope changes an envelope's descriptive fields and policy.
// @Summary     Update an envelope
// @Tags        envelopes
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id         path string                true "Budget ID"
// @Param       envelopeId path string                true "Envelope ID"
// @Param       request    body UpdateEnvelopeRequest true "Fields to update"
// @Success     200 {object} models.Envelope "Envelope updated"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     404 {object} ErrorResponse "Envelope not found"
// @Router      /budgets/{id}/envelopes/{envelopeId} [put]
func (h *EnvelopeHandler) UpdateEnvelope(c *gin.Context) {
	userID, budgetID, envelopeID, ok := envelopePath(c)
	if !ok {
		return
	}

	var req UpdateEnvelopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var envelope *models.Envelope
	err := h.mutator.Run(c.Request.Context(), "updateEnvelope", func(ctx context.Context) error {
		var err error
		envelope, err = h.envelopeService.UpdateEnvelope(ctx, userID, budgetID, envelopeID, services.UpdateEnvelopeInput{
			Name:               req.Name,
			Description:        req.Description,
			Category:           req.Category,
			Icon:               req.Icon,
			Color:              req.Color,
			SortOrder:          req.SortOrder,
			IsOverspendAllowed: req.IsOverspendAllowed,
			MaxOverspendAmount: req.MaxOverspendAmount,
			ClearMaxOverspend:  req.ClearMaxOverspend,
			IsRecurring:        req.IsRecurring,
			AllowRollover:      req.AllowRollover,
		})
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"envelope": envelope})
}

// AllocateEnvelope sets the amount allocated to an envelope.
// @Summary     Allocate to an envelope
// @Tags        envelopes
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id         path string          true "Budget ID"
// @Param       envelopeId path string          true "Envelope ID"
// @Param       request    body AllocateRequest true "New allocation"
// @Success     200 {object} services.EnvelopeResult "Allocation changed"
// @Failure     400 {object} ErrorResponse "Invalid allocation"
// @Failure     404 {object} ErrorResponse "Envelope not found"
// @Router      /budgets/{id}/envelopes/{envelopeId}/allocate [post]
func (h *EnvelopeHandler) AllocateEnvelope(c *gin.Context) {
	userID, budgetID, envelopeID, ok := envelopePath(c)
	if !ok {
		return
	}

	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var result *services.EnvelopeResult
	err := h.mutator.Run(c.Request.Context(), "allocateEnvelope", func(ctx context.Context) error {
		var err error
		result, err = h.envelopeService.AllocateEnvelope(ctx, userID, budgetID, envelopeID, *req.AllocatedAmount)
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PauseEnvelope stops an envelope from accepting transactions.
// @Summary     Pause an envelope
// @Tags        envelopes
// @Produce     json
// @Security    BearerAuth
// @Param       id         path string true "Budget ID"
// @Param       envelopeId path string true "Envelope ID"
// @Success     200 {object} models.Envelope "Envelope paused"
// @Failure     400 {object} ErrorResponse "Invalid status transition"
// @Router      /budgets/{id}/envelopes/{envelopeId}/pause [post]
func (h *EnvelopeHandler) PauseEnvelope(c *gin.Context) {
	h.transition(c, "pauseEnvelope", h.envelopeService.PauseEnvelope)
}

// ResumeEnvelope reopens a paused envelope.
// @Summary     Resume an envelope
// @Tags        envelopes
// @Produce     json
// @Security    BearerAuth
// @Param       id         path string true "Budget ID"
// @Param       envelopeId path string true "Envelope ID"
// @Success     200 {object} models.Envelope "Envelope resumed"
// @Failure     400 {object} ErrorResponse "Invalid status transition"
// @Router      /budgets/{id}/envelopes/{envelopeId}/resume [post]
func (h *EnvelopeHandler) ResumeEnvelope(c *gin.Context) {
	h.transition(c, "resumeEnvelope", h.envelopeService.ResumeEnvelope)
}

// CloseEnvelope closes an envelope for good.
// @Summary     Close an envelope
// @Tags        envelopes
// @Produce     json
// @Security    BearerAuth
// @Param       id         path string true "Budget ID"
// @Param       envelopeId path string true "Envelope ID"
// @Success     200 {object} models.Envelope "Envelope closed"
// @Failure     400 {object} ErrorResponse "Invalid status transition"
// @Router      /budgets/{id}/envelopes/{envelopeId}/close [post]
func (h *EnvelopeHandler) CloseEnvelope(c *gin.Context) {
	h.transition(c, "closeEnvelope", h.envelopeService.CloseEnvelope)
}

func (h *EnvelopeHandler) transition(c *gin.Context, operation string, fn func(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error)) {
	userID, budgetID, envelopeID, ok := envelopePath(c)
	if !ok {
		return
	}

	var envelope *models.Envelope
	err := h.mutator.Run(c.Request.Context(), operation, func(ctx context.Context) error {
		var err error
		envelope, err = fn(ctx, userID, budgetID, envelopeID)
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"envelope": envelope})
}

// DeleteEnvelope soft-deletes a closed envelope.
// @Summary     Delete an envelope
// @Tags        envelopes
// @Produce     json
// @Security    BearerAuth
// @Param       id         path string true "Budget ID"
// @Param       envelopeId path string true "Envelope ID"
// @Success     200 {object} map[string]string "Envelope deleted"
// @Failure     400 {object} ErrorResponse "Envelope not closed"
// @Failure     404 {object} ErrorResponse "Envelope not found"
// @Router      /budgets/{id}/envelopes/{envelopeId} [delete]
func (h *EnvelopeHandler) DeleteEnvelope(c *gin.Context) {
	userID, budgetID, envelopeID, ok := envelopePath(c)
	if !ok {
		return
	}

	err := h.mutator.Run(c.Request.Context(), "deleteEnvelope", func(ctx context.Context) error {
		return h.envelopeService.DeleteEnvelope(ctx, userID, budgetID, envelopeID)
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Envelope deleted successfully"})
}

func envelopePath(c *gin.Context) (string, string, string, bool) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return "", "", "", false
	}
	envelopeID, err := pathID(c, "envelopeId")
	if err != nil {
		respondWithError(c, err)
		return "", "", "", false
	}
	return userID, budgetID, envelopeID, true
}
