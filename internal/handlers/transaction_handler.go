package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "envledger/internal/errors"
	"envledger/internal/models"
	"envledger/internal/pagination"
	"envledger/internal/query"
	"envledger/internal/services"
)

// TransactionHandler handles ledger commands and transaction queries.
type TransactionHandler struct {
	transactionService services.TransactionServicer
	mutator            *Mutator
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(transactionService services.TransactionServicer, mutator *Mutator) *TransactionHandler {
	return &TransactionHandler{transactionService: transactionService, mutator: mutator}
}

// RecordIncomeRequest represents the request payload for recording income.
// Without an envelope the income stays unallocated.
type RecordIncomeRequest struct {
	EnvelopeID  *string `json:"envelopeId" binding:"omitempty,max=64"`
	Amount      int64   `json:"amount" binding:"required,gt=0,lte=100000000000"`
	Description string  `json:"description" binding:"max=500"`
	Payee       string  `json:"payee" binding:"max=100"`
	Date        *string `json:"date"`
}

// RecordExpenseRequest represents the request payload for recording an expense.
type RecordExpenseRequest struct {
	EnvelopeID  string  `json:"envelopeId" binding:"required,max=64"`
	Amount      int64   `json:"amount" binding:"required,gt=0,lte=100000000000"`
	Description string  `json:"description" binding:"max=500"`
	Payee       string  `json:"payee" binding:"max=100"`
	Date        *string `json:"date"`
}

// RecordTransferRequest represents the request payload for moving allocation
// between two envelopes.
type RecordTransferRequest struct {
	FromEnvelopeID string  `json:"fromEnvelopeId" binding:"required,max=64"`
	ToEnvelopeID   string  `json:"toEnvelopeId" binding:"required,max=64"`
	Amount         int64   `json:"amount" binding:"required,gt=0,lte=100000000000"`
	Description    string  `json:"description" binding:"max=500"`
	Date           *string `json:"date"`
}

// UpdateTransactionRequest holds the editable fields of a pending transaction.
type UpdateTransactionRequest struct {
	Amount      *int64  `json:"amount" binding:"omitempty,gt=0,lte=100000000000"`
	EnvelopeID  *string `json:"envelopeId" binding:"omitempty,max=64"`
	Description *string `json:"description" binding:"omitempty,max=500"`
	Payee       *string `json:"payee" binding:"omitempty,max=100"`
	Date        *string `json:"date"`
}

// VoidRequest carries the optional reason for voiding.
type VoidRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// RecordIncome handles income into the budget.
// @Summary     Record income
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string              true "Budget ID"
// @Param       request body RecordIncomeRequest true "Income details"
// @Success     201 {object} services.TransactionResult "Income recorded"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Failure     404 {object} ErrorResponse "Budget or envelope not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Router      /budgets/{id}/transactions/income [post]
func (h *TransactionHandler) RecordIncome(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var req RecordIncomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.apply(c, userID, services.RecordIncome{
		BudgetID:    budgetID,
		EnvelopeID:  req.EnvelopeID,
		Amount:      req.Amount,
		Description: req.Description,
		Payee:       req.Payee,
		Date:        date,
	}, http.StatusCreated)
}

// RecordExpense handles spending from an envelope.
// @Summary     Record an expense
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string               true "Budget ID"
// @Param       request body RecordExpenseRequest true "Expense details"
// @Success     201 {object} services.TransactionResult "Expense recorded"
// @Failure     400 {object} ErrorResponse "Invalid input or envelope not active"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Failure     404 {object} ErrorResponse "Budget or envelope not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Failure     422 {object} ErrorResponse "Insufficient balance"
// @Router      /budgets/{id}/transactions/expense [post]
func (h *TransactionHandler) RecordExpense(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var req RecordExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.apply(c, userID, services.RecordExpense{
		BudgetID:    budgetID,
		EnvelopeID:  req.EnvelopeID,
		Amount:      req.Amount,
		Description: req.Description,
		Payee:       req.Payee,
		Date:        date,
	}, http.StatusCreated)
}

// RecordTransfer handles moving allocation between envelopes.
// @Summary     Record a transfer
// @Description Move allocation from one envelope to another in the same budget
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string                true "Budget ID"
// @Param       request body RecordTransferRequest true "Transfer details"
// @Success     201 {object} services.TransactionResult "Transfer recorded"
// @Failure     400 {object} ErrorResponse "Invalid input or same envelope"
// @Failure     404 {object} ErrorResponse "Envelope not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Failure     422 {object} ErrorResponse "Insufficient balance"
// @Failure     500 {object} ErrorResponse "Partial failure, nothing applied"
// @Router      /budgets/{id}/transactions/transfer [post]
func (h *TransactionHandler) RecordTransfer(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var req RecordTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.apply(c, userID, services.RecordTransfer{
		BudgetID:       budgetID,
		FromEnvelopeID: req.FromEnvelopeID,
		ToEnvelopeID:   req.ToEnvelopeID,
		Amount:         req.Amount,
		Description:    req.Description,
		Date:           date,
	}, http.StatusCreated)
}

// VoidTransaction reverses a transaction. Voiding twice is a no-op.
// @Summary     Void a transaction
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string      true  "Budget ID"
// @Param       txId    path string      true  "Transaction ID"
// @Param       request body VoidRequest false "Reason"
// @Success     200 {object} services.TransactionResult "Transaction voided"
// @Failure     404 {object} ErrorResponse "Transaction not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Router      /budgets/{id}/transactions/{txId}/void [post]
func (h *TransactionHandler) VoidTransaction(c *gin.Context) {
	userID, budgetID, txID, ok := transactionPath(c)
	if !ok {
		return
	}

	var req VoidRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
			return
		}
	}

	h.apply(c, userID, services.VoidTransaction{
		BudgetID:      budgetID,
		TransactionID: txID,
		Reason:        req.Reason,
	}, http.StatusOK)
}

func (h *TransactionHandler) apply(c *gin.Context, userID string, cmd services.Command, status int) {
	var result *services.TransactionResult
	err := h.mutator.Run(c.Request.Context(), string(cmd.Kind()), func(ctx context.Context) error {
		var err error
		result, err = h.transactionService.Apply(ctx, userID, cmd)
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(status, result)
}

// GetTransactions lists a budget's transactions with optional filters.
// @Summary     List transactions
// @Description Get a paginated list of a budget's transactions, newest first. Voided transactions are excluded unless include_void is set.
// @Tags        transactions
// @Produce     json
// @Security    BearerAuth
// @Param       id           path  string true  "Budget ID"
// @Param       envelope_id  query string false "Filter by envelope (either side of a transfer)"
// @Param       type         query string false "Filter by type (income, expense, transfer)"
// @Param       status       query string false "Filter by status (pending, cleared, reconciled, void)"
// @Param       from         query string false "Filter by start date (RFC3339 or YYYY-MM-DD)"
// @Param       to           query string false "Filter by end date (RFC3339 or YYYY-MM-DD)"
// @Param       include_void query bool   false "Include voided transactions"
// @Param       page         query int    false "Page number (default 1)"
// @Param       page_size    query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.Transaction] "Paginated transactions"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     403 {object} ErrorResponse "Not a participant"
// @Failure     404 {object} ErrorResponse "Budget not found"
// @Router      /budgets/{id}/transactions [get]
func (h *TransactionHandler) GetTransactions(c *gin.Context) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return
	}

	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	filter, err := parseTransactionFilter(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.transactionService.ListTransactions(c.Request.Context(), userID, budgetID, filter, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetTransaction handles retrieving a single transaction.
// @Summary     Get a transaction
// @Tags        transactions
// @Produce     json
// @Security    BearerAuth
// @Param       id   path string true "Budget ID"
// @Param       txId path string true "Transaction ID"
// @Success     200 {object} models.Transaction "Transaction details"
// @Failure     404 {object} ErrorResponse "Transaction not found"
// @Router      /budgets/{id}/transactions/{txId} [get]
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	userID, budgetID, txID, ok := transactionPath(c)
	if !ok {
		return
	}

	transaction, err := h.transactionService.GetTransaction(c.Request.Context(), userID, budgetID, txID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": transaction})
}

// UpdateTransaction edits a pending transaction and re-balances envelopes.
// @Summary     Update a transaction
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string                   true "Budget ID"
// @Param       txId    path string                   true "Transaction ID"
// @Param       request body UpdateTransactionRequest true "Fields to update"
// @Success     200 {object} services.TransactionResult "Transaction updated"
// @Failure     400 {object} ErrorResponse "Not editable or invalid input"
// @Failure     404 {object} ErrorResponse "Transaction not found"
// @Failure     422 {object} ErrorResponse "Insufficient balance"
// @Router      /budgets/{id}/transactions/{txId} [put]
func (h *TransactionHandler) UpdateTransaction(c *gin.Context) {
	userID, budgetID, txID, ok := transactionPath(c)
	if !ok {
		return
	}

	var req UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	in := services.UpdateTransactionInput{
		Amount:      req.Amount,
		EnvelopeID:  req.EnvelopeID,
		Description: req.Description,
		Payee:       req.Payee,
	}
	if req.Date != nil && *req.Date != "" {
		parsed, err := parseFlexibleTime(*req.Date)
		if err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid date format, use RFC3339 or YYYY-MM-DD"))
			return
		}
		in.Date = &parsed
	}

	var result *services.TransactionResult
	err := h.mutator.Run(c.Request.Context(), "updateTransaction", func(ctx context.Context) error {
		var err error
		result, err = h.transactionService.UpdateTransaction(ctx, userID, budgetID, txID, in)
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ClearTransaction marks a pending transaction as cleared.
// @Summary     Clear a transaction
// @Tags        transactions
// @Produce     json
// @Security    BearerAuth
// @Param       id   path string true "Budget ID"
// @Param       txId path string true "Transaction ID"
// @Success     200 {object} models.Transaction "Transaction cleared"
// @Failure     400 {object} ErrorResponse "Invalid status transition"
// @Router      /budgets/{id}/transactions/{txId}/clear [post]
func (h *TransactionHandler) ClearTransaction(c *gin.Context) {
	h.transition(c, "clearTransaction", h.transactionService.ClearTransaction)
}

// ReconcileTransaction marks a cleared transaction as reconciled.
// @Summary     Reconcile a transaction
// @Tags        transactions
// @Produce     json
// @Security    BearerAuth
// @Param       id   path string true "Budget ID"
// @Param       txId path string true "Transaction ID"
// @Success     200 {object} models.Transaction "Transaction reconciled"
// @Failure     400 {object} ErrorResponse "Invalid status transition"
// @Router      /budgets/{id}/transactions/{txId}/reconcile [post]
func (h *TransactionHandler) ReconcileTransaction(c *gin.Context) {
	h.transition(c, "reconcileTransaction", h.transactionService.ReconcileTransaction)
}

func (h *TransactionHandler) transition(c *gin.Context, operation string, fn func(ctx context.Context, principal, budgetID, txID string) (*models.Transaction, error)) {
	userID, budgetID, txID, ok := transactionPath(c)
	if !ok {
		return
	}

	var transaction *models.Transaction
	err := h.mutator.Run(c.Request.Context(), operation, func(ctx context.Context) error {
		var err error
		transaction, err = fn(ctx, userID, budgetID, txID)
		return err
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": transaction})
}

func transactionPath(c *gin.Context) (string, string, string, bool) {
	userID, budgetID, ok := principalAndBudget(c)
	if !ok {
		return "", "", "", false
	}
	txID, err := pathID(c, "txId")
	if err != nil {
		respondWithError(c, err)
		return "", "", "", false
	}
	return userID, budgetID, txID, true
}

// parseTransactionFilter reads the list filters from the query string.
func parseTransactionFilter(c *gin.Context) (query.TransactionFilter, error) {
	var filter query.TransactionFilter

	if v := c.Query("envelope_id"); v != "" {
		filter.EnvelopeID = &v
	}

	if v := c.Query("from"); v != "" {
		t, err := parseFlexibleTime(v)
		if err != nil {
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid from format, use RFC3339 or YYYY-MM-DD")
		}
		filter.FromDate = &t
	}

	if v := c.Query("to"); v != "" {
		t, err := parseFlexibleTime(v)
		if err != nil {
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid to format, use RFC3339 or YYYY-MM-DD")
		}
		filter.ToDate = &t
	}

	if v := c.Query("type"); v != "" {
		txType := models.TransactionType(v)
		switch txType {
		case models.TransactionTypeIncome, models.TransactionTypeExpense, models.TransactionTypeTransfer:
			filter.Type = &txType
		default:
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid type, must be income, expense, or transfer")
		}
	}

	if v := c.Query("status"); v != "" {
		status := models.TransactionStatus(v)
		switch status {
		case models.TransactionStatusPending, models.TransactionStatusCleared,
			models.TransactionStatusReconciled, models.TransactionStatusVoid:
			filter.Status = &status
		default:
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid status")
		}
	}

	if v := c.Query("include_void"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid include_void")
		}
		filter.IncludeVoid = include
	}
	if filter.Status != nil && *filter.Status == models.TransactionStatusVoid {
		filter.IncludeVoid = true
	}

	return filter, nil
}

func optionalDate(raw *string) (time.Time, error) {
	if raw == nil || *raw == "" {
		return time.Time{}, nil
	}
	t, err := parseFlexibleTime(*raw)
	if err != nil {
		return time.Time{}, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid date format, use RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

// parseFlexibleTime accepts RFC3339 timestamps and bare YYYY-MM-DD dates.
func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
