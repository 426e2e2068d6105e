package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "envledger/internal/errors"
	"envledger/internal/logger"
	"envledger/internal/observability"
	"envledger/internal/resilience"
)

// ErrorDetail is the body of an error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse represents the error envelope of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// getUserID extracts the authenticated principal id from the Gin context.
// Returns ErrUnauthorized if not present.
func getUserID(c *gin.Context) (string, error) {
	userID := c.GetString("userID")
	if userID == "" {
		return "", apperrors.ErrUnauthorized
	}
	return userID, nil
}

// pathID reads a non-empty id path parameter.
func pathID(c *gin.Context, param string) (string, error) {
	id := strings.TrimSpace(c.Param(param))
	if id == "" {
		return "", apperrors.WithMessage(apperrors.ErrInvalidInput, "Invalid "+param)
	}
	return id, nil
}

// principalAndBudget reads the caller and the :id budget path parameter,
// writing the error response when either is missing.
func principalAndBudget(c *gin.Context) (string, string, bool) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return "", "", false
	}
	budgetID, err := pathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return "", "", false
	}
	return userID, budgetID, true
}

// respondWithError writes a consistent JSON error response. If the error is an
// *AppError it uses the error's status code, code, kind and message. Otherwise
// it logs the unexpected error and returns a generic internal server error.
func respondWithError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			logger.Get().Errorw("app error",
				"code", appErr.Code,
				"kind", appErr.Kind,
				"internal", appErr.Internal.Error(),
				"path", c.Request.URL.Path,
			)
		}
		c.JSON(appErr.StatusCode, ErrorResponse{Error: ErrorDetail{
			Code:    appErr.Code,
			Kind:    string(appErr.Kind),
			Message: appErr.Message,
		}})
		return
	}

	logger.Get().Errorw("unexpected error",
		"error", err.Error(),
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
	)
	c.JSON(apperrors.ErrInternalServer.StatusCode, ErrorResponse{Error: ErrorDetail{
		Code:    apperrors.ErrInternalServer.Code,
		Kind:    string(apperrors.KindInternal),
		Message: apperrors.ErrInternalServer.Message,
	}})
}

// Mutator runs ledger mutations for the handlers. A mutation that loses an
// optimistic-concurrency race is re-run from a fresh read up to the
// configured number of times, and every outcome is counted.
type Mutator struct {
	retry   resilience.Config
	metrics *observability.Metrics
}

// NewMutator creates a Mutator. A nil metrics disables counting.
func NewMutator(retry resilience.Config, metrics *observability.Metrics) *Mutator {
	return &Mutator{retry: retry, metrics: metrics}
}

// Run executes fn, retrying it on concurrency conflicts.
func (m *Mutator) Run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if m == nil {
		return fn(ctx)
	}

	err := resilience.RetryOnConflict(ctx, m.retry, func(attempt int) {
		m.metrics.IncrConflictRetry(operation)
		logger.Get().Debugw("retrying conflicting mutation", "operation", operation, "attempt", attempt)
	}, func() error {
		return fn(ctx)
	})

	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.KindOf(err))
	}
	m.metrics.IncrMutation(operation, outcome)
	return err
}
