package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "envledger/internal/errors"
	"envledger/internal/models"
	"envledger/internal/pagination"
	"envledger/internal/services"
)

// BudgetHandler handles budget lifecycle, sharing and rollover requests.
type BudgetHandler struct {
	budgetService   services.BudgetServicer
	rolloverService services.RolloverServicer
	mutator         *Mutator
}

// NewBudgetHandler creates a new BudgetHandler.
func NewBudgetHandler(budgetService services.BudgetServicer, rolloverService services.RolloverServicer, mutator *Mutator) *BudgetHandler {
	return &BudgetHandler{budgetService: budgetService, rolloverService: rolloverService, mutator: mutator}
}

// CreateBudgetRequest represents the request payload for creating a budget.
type CreateBudgetRequest struct {
	Name        string    `json:"name" binding:"required,min=1,max=100"`
	Description string    `json:"description" binding:"max=500"`
	Currency    string    `json:"currency" binding:"omitempty,iso4217"`
	StartDate   time.Time `json:"startDate" binding:"required"`
	EndDate     time.Time `json:"endDate" binding:"required"`
}

// UpdateBudgetRequest represents the request payload for updating a budget.
type UpdateBudgetRequest struct {
	Name        *string    `json:"name" binding:"omitempty,min=1,max=100"`
	Description *string    `json:"description" binding:"omitempty,max=500"`
	Currency    *string    `json:"currency" binding:"omitempty,iso4217"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
}

// ShareBudgetRequest lists the principals to add to a budget.
type ShareBudgetRequest struct {
	PrincipalIDs []string `json:"principalIds" binding:"required,min=1,dive,required,max=64"`
}

// RolloverRequest shapes the period opened after a closed budget. Omitted
// dates continue from the previous period.
type RolloverRequest struct {
	Name        string           `json:"name" binding:"max=100"`
	Description string           `json:"description" binding:"max=500"`
	StartDate   *time.Time       `json:"startDate"`
	EndDate     *time.Time       `json:"endDate"`
	Allocations map[string]int64 `json:"allocations"`
}

// budgetQuery holds the list filters.
type budgetQuery struct {
	Status string `form:"status" binding:"omitempty,budget_status"`
}

// CreateBudget handles the creation of a new budget.
// @Summary     Create a budget
// @Description Create a draft budget period owned by the authenticated user
// @Tags        budgets
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateBudgetRequest true "Budget details"
// @Success     201 {object} models.Budget "Budget created"
// @Failure     400 {object} ErrorResponse "Invalid input or overlapping period"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /budgets [post]
func (h *BudgetHandler) CreateBudget(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var budget *models.Budget
	err = h.mutator.Run(c.Request.Context(), "createBudget", func(ctx context.Context) error {
		var err error
		budget, err = h.budgetService.CreateBudget(ctx, userID, services.CreateBudgetInput{
			Name:        req.Name,
			Description: req.Description,
			Currency:    req.Currency,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
		})
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"budget": budget})
}

// GetBudgets handles listing the budgets the user owns or shares.
// @Summary     List budgets
// @Description Get a paginated list of budgets the authenticated user participates in
// @Tags        budgets
// @Produce     json
// @Security    BearerAuth
// @Param       status    query string false "Filter by status (draft/active/closed/archived)"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.Budget] "Paginated budgets"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /budgets [get]
func (h *BudgetHandler) GetBudgets(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}
	var q budgetQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var status *models.BudgetStatus
	if q.Status != "" {
		s := models.BudgetStatus(q.Status)
		status = &s
	}

	result, err := h.budgetService.ListBudgetsForUser(c.Request.Context(), userID, status, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetBudget handles retrieving a single budget.
// @Summary     Get a budget
// @Tags        budgets
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Budget ID"
// @Success     200 {object} models.Budget "Budget details"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id} [get]
func (h *BudgetHandler) GetBudget(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	budget, err := h.budgetService.GetBudget(c.Request.Context(), userID, budgetID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"budget": budget})
}

// UpdateBudget handles changing a draft or active budget.
// @Summary     Update a budget
// @Tags        budgets
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string              true "Budget ID"
// @Param       request body UpdateBudgetRequest true "Fields to update"
// @Success     200 {object} models.Budget "Budget updated"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Router      /budgets/{id} [put]
func (h *BudgetHandler) UpdateBudget(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var req UpdateBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var budget *models.Budget
	err := h.mutator.Run(c.Request.Context(), "updateBudget", func(ctx context.Context) error {
		var err error
		budget, err = h.budgetService.UpdateBudget(ctx, userID, budgetID, services.UpdateBudgetInput{
			Name:        req.Name,
			Description: req.Description,
			Currency:    req.Currency,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
		})
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"budget": budget})
}

// ActivateBudget makes a draft budget the owner's current one.
// @Summary     Activate a budget
// @Tags        budgets
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Budget ID"
// @Success     200 {object} models.Budget "Budget activated"
// @Failure     400 {object} ErrorResponse "Invalid status transition"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id}/activate [post]
func (h *BudgetHandler) ActivateBudget(c *gin.Context) {
	h.transition(c, "activateBudget", h.budgetService.ActivateBudget)
}

// RevertToDraft returns an active budget without transactions to draft.
// @Summary     Revert a budget to draft
// @Tags        budgets
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Budget ID"
// @Success     200 {object} models.Budget "Budget reverted"
// @Failure     400 {object} ErrorResponse "Budget has transactions"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id}/draft [post]
func (h *BudgetHandler) RevertToDraft(c *gin.Context) {
	h.transition(c, "revertToDraft", h.budgetService.RevertToDraft)
}

// CloseBudget closes an active budget period.
// @Summary     Close a budget
// @Tags        budgets
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Budget ID"
// @Success     200 {object} models.Budget "Budget closed"
// @Failure     400 {object} ErrorResponse "Invalid status transition"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id}/close [post]
func (h *BudgetHandler) CloseBudget(c *gin.Context) {
	h.transition(c, "closeBudget", h.rolloverService.CloseBudget)
}

func (h *BudgetHandler) transition(c *gin.Context, operation string, fn func(ctx context.Context, principal, budgetID string) (*models.Budget, error)) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var budget *models.Budget
	err := h.mutator.Run(c.Request.Context(), operation, func(ctx context.Context) error {
		var err error
		budget, err = fn(ctx, userID, budgetID)
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"budget": budget})
}

// OpenNextPeriod rolls a closed budget over into a new draft period.
// @Summary     Roll over a budget
// @Description Open the period following a closed budget, carrying recurring envelopes and rollover balances
// @Tags        budgets
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string          true  "Previous budget ID"
// @Param       request body RolloverRequest false "Template for the new period"
// @Success     201 {object} services.RolloverResult "Next period opened"
// @Failure     400 {object} ErrorResponse "Invalid template or collision"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id}/rollover [post]
func (h *BudgetHandler) OpenNextPeriod(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var req RolloverRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
			return
		}
	}

	var result *services.RolloverResult
	err := h.mutator.Run(c.Request.Context(), "openNextPeriod", func(ctx context.Context) error {
		var err error
		result, err = h.rolloverService.OpenNextPeriod(ctx, userID, budgetID, services.RolloverTemplate{
			Name:        req.Name,
			Description: req.Description,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
			Allocations: req.Allocations,
		})
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ShareBudget adds principals to a budget's shared set.
// @Summary     Share a budget
// @Tags        budgets
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string             true "Budget ID"
// @Param       request body ShareBudgetRequest true "Principals to add"
// @Success     200 {object} models.Budget "Budget shared"
// @Failure     400 {object} ErrorResponse "Share limit exceeded"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Router      /budgets/{id}/share [post]
func (h *BudgetHandler) ShareBudget(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var req ShareBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var budget *models.Budget
	err := h.mutator.Run(c.Request.Context(), "shareBudget", func(ctx context.Context) error {
		var err error
		budget, err = h.budgetService.ShareBudget(ctx, userID, budgetID, req.PrincipalIDs)
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"budget": budget})
}

// UnshareBudget removes a principal from a budget's shared set.
// @Summary     Unshare a budget
// @Tags        budgets
// @Produce     json
// @Security    BearerAuth
// @Param       id          path string true "Budget ID"
// @Param       principalId path string true "Principal to remove"
// @Success     200 {object} models.Budget "Budget unshared"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Router      /budgets/{id}/share/{principalId} [delete]
func (h *BudgetHandler) UnshareBudget(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}
	principalID, err := pathID(c, "principalId")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var budget *models.Budget
	err = h.mutator.Run(c.Request.Context(), "unshareBudget", func(ctx context.Context) error {
		var err error
		budget, err = h.budgetService.UnshareBudget(ctx, userID, budgetID, principalID)
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"budget": budget})
}

// GetBudgetSummary returns a budget with its envelopes and warnings.
// @Summary     Get budget summary
// @Tags        budgets
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Budget ID"
// @Success     200 {object} services.BudgetSummary "Budget summary"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id}/summary [get]
func (h *BudgetHandler) GetBudgetSummary(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	summary, err := h.budgetService.GetBudgetSummary(c.Request.Context(), userID, budgetID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}
