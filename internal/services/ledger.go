package services

import (
	"context"
	"fmt"
	"strings"

	"envledger/internal/balance"
	apperrors "envledger/internal/errors"
	"envledger/internal/events"
	"envledger/internal/logger"
	"envledger/internal/models"
	"envledger/internal/store"
)

// ledger bundles the collaborators every ledger service needs.
type ledger struct {
	store  *store.Store
	auth   Authorizer
	events events.Publisher
	audit  AuditServicer
}

func newLedger(st *store.Store, auth Authorizer, publisher events.Publisher, audit AuditServicer) ledger {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return ledger{store: st, auth: auth, events: publisher, audit: audit}
}

// publish hands e to the broker after commit. A failed publish never fails
// the committed mutation.
func (l ledger) publish(ctx context.Context, e events.Event) {
	if err := l.events.Publish(ctx, e); err != nil {
		logger.Get().Warnw("failed to publish ledger event",
			"error", err,
			"type", e.Type,
			"budget_id", e.BudgetID,
			"entity_id", e.EntityID,
		)
	}
}

func (l ledger) auditLog(ctx context.Context, userID, budgetID, action, resourceType, resourceID string, changes map[string]interface{}) {
	if l.audit == nil {
		return
	}
	l.audit.Log(ctx, userID, budgetID, action, resourceType, resourceID, changes)
}

// requireWritable rejects changes under closed or archived budgets.
func requireWritable(b *models.Budget) error {
	if !b.Status.Writable() {
		return apperrors.WithMessage(apperrors.ErrBudgetNotWritable,
			fmt.Sprintf("Budget is %s and no longer accepts changes", b.Status))
	}
	return nil
}

func invalidInput(format string, args ...interface{}) *apperrors.AppError {
	return apperrors.WithMessage(apperrors.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// budgetWarnings lists the non-fatal conditions of a budget worth surfacing.
func budgetWarnings(b *models.Budget) []string {
	var out []string
	if balance.OverAllocated(b) {
		out = append(out, fmt.Sprintf("budget is over-allocated by %d", b.TotalAllocated-b.TotalIncome))
	}
	return out
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
