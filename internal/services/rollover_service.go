package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"envledger/internal/access"
	"envledger/internal/balance"
	apperrors "envledger/internal/errors"
	"envledger/internal/events"
	"envledger/internal/logger"
	"envledger/internal/models"
	"envledger/internal/observability"
	"envledger/internal/query"
	"envledger/internal/store"
)

// rolloverService closes budget periods and opens the period that follows,
// carrying recurring envelopes and their balances forward.
type rolloverService struct {
	ledger
}

// NewRolloverService creates a new RolloverServicer.
func NewRolloverService(st *store.Store, auth Authorizer, publisher events.Publisher, audit AuditServicer) RolloverServicer {
	return &rolloverService{ledger: newLedger(st, auth, publisher, audit)}
}

// CloseBudget freezes an active budget. Closed budgets keep their totals and
// history but reject every further write.
func (s *rolloverService) CloseBudget(ctx context.Context, principal, budgetID string) (closed *models.Budget, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.closeBudget", attribute.String("budget.id", budgetID))
	defer func() { observability.EndSpan(span, err) }()

	if err := s.auth.Authorize(ctx, principal, budgetID, access.Write); err != nil {
		return nil, err
	}

	err = s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if !b.Status.CanTransitionTo(models.BudgetStatusClosed) {
			return apperrors.WithMessage(apperrors.ErrInvalidStatusTransition,
				fmt.Sprintf("Cannot close a %s budget", b.Status))
		}

		now := s.store.Now()
		b.Status = models.BudgetStatusClosed
		b.IsCurrent = false
		b.ClosedAt = &now
		if err := p.Put(b, b.Version, principal, apperrors.ErrBudgetNotFound); err != nil {
			return err
		}
		closed = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("budget closed",
		"budget_id", budgetID,
		"total_income", closed.TotalIncome,
		"total_spent", closed.TotalSpent,
	)
	s.publish(ctx, events.New(events.BudgetClosed, budgetID, budgetID, principal, closed))
	s.auditLog(ctx, principal, budgetID, "CLOSE_BUDGET", "budget", budgetID, nil)
	return closed, nil
}

// OpenNextPeriod creates the draft budget that follows a closed one. Every
// recurring envelope that is not closed is copied; envelopes that allow
// rollover start with the previous period's closing balance. The new budget
// and all its envelopes are created in one transaction or not at all.
func (s *rolloverService) OpenNextPeriod(ctx context.Context, principal, previousBudgetID string, tmpl RolloverTemplate) (result *RolloverResult, err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.openNextPeriod", attribute.String("budget.previous_id", previousBudgetID))
	defer func() { observability.EndSpan(span, err) }()

	if err := s.auth.Authorize(ctx, principal, previousBudgetID, access.Write); err != nil {
		return nil, err
	}
	var prev models.Budget
	if err := s.store.Get(ctx, &prev, previousBudgetID, previousBudgetID, apperrors.ErrBudgetNotFound); err != nil {
		return nil, err
	}
	if prev.Status != models.BudgetStatusClosed {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidStatusTransition,
			fmt.Sprintf("Budget is %s; close it before opening the next period", prev.Status))
	}

	start, end := nextPeriod(prev.StartDate, prev.EndDate)
	switch {
	case tmpl.StartDate != nil && tmpl.EndDate != nil:
		start, end = tmpl.StartDate.UTC(), tmpl.EndDate.UTC()
	case tmpl.StartDate != nil:
		start = tmpl.StartDate.UTC()
		end = start.Add(prev.EndDate.Sub(prev.StartDate))
	case tmpl.EndDate != nil:
		end = tmpl.EndDate.UTC()
	}
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}
	for name, amount := range tmpl.Allocations {
		if amount < 0 {
			return nil, invalidInput("allocation for %q cannot be negative", name)
		}
	}

	name := strings.TrimSpace(tmpl.Name)
	if name == "" {
		name = prev.Name
	}
	next := &models.Budget{
		OwnerID:          prev.OwnerID,
		Name:             name,
		Description:      tmpl.Description,
		Currency:         prev.Currency,
		StartDate:        start,
		EndDate:          end,
		Status:           models.BudgetStatusDraft,
		SharedWith:       append(models.PrincipalSet{}, prev.SharedWith...),
		PreviousBudgetID: &prev.ID,
	}

	var created []models.Envelope
	err = s.store.InOwnerScope(ctx, prev.OwnerID, func(o *store.OwnerScope) error {
		source, err := recurringEnvelopes(o.Partition(prev.ID))
		if err != nil {
			return err
		}
		envs, err := carryForward(source, tmpl.Allocations)
		if err != nil {
			return err
		}
		for i := range envs {
			next.TotalAllocated += envs[i].AllocatedAmount
		}
		balance.RecomputeBudget(next)

		if err := checkOverlap(o, start, end, ""); err != nil {
			return err
		}
		if err := o.Create(next, principal); err != nil {
			return err
		}
		p := o.Partition(next.ID)
		if err := p.Exec(func(tx *gorm.DB) error {
			if err := addMembers(tx, next.ID, models.BudgetMemberOwner, []string{next.OwnerID}, next.CreatedAt); err != nil {
				return err
			}
			return addMembers(tx, next.ID, models.BudgetMemberShared, next.SharedWith, next.CreatedAt)
		}); err != nil {
			return err
		}
		for i := range envs {
			envs[i].BudgetID = next.ID
			if err := p.Create(&envs[i], principal); err != nil {
				return err
			}
		}
		created = envs
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("next budget period opened",
		"budget_id", next.ID,
		"previous_budget_id", prev.ID,
		"envelopes", len(created),
	)
	s.publish(ctx, events.New(events.BudgetCreated, next.ID, next.ID, principal, next))
	s.auditLog(ctx, principal, next.ID, "ROLLOVER_BUDGET", "budget", next.ID, map[string]interface{}{
		"previous_budget_id": prev.ID,
		"envelopes":          len(created),
	})
	return &RolloverResult{Budget: next, Envelopes: created, Warnings: budgetWarnings(next)}, nil
}

// nextPeriod returns the period that follows [start, end). Month-aligned
// periods advance by whole months so February follows January exactly;
// anything else repeats the same duration.
func nextPeriod(start, end time.Time) (time.Time, time.Time) {
	if monthAligned(start) && monthAligned(end) {
		months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
		return end, end.AddDate(0, months, 0)
	}
	return end, end.Add(end.Sub(start))
}

func monthAligned(t time.Time) bool {
	return t.Day() == 1 && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

func recurringEnvelopes(p *store.Partition) ([]models.Envelope, error) {
	var out []models.Envelope
	for env, err := range store.PartitionQuery[models.Envelope](p, query.EnvelopesByBudget(p.Key(), false)) {
		if err != nil {
			return nil, err
		}
		if env.IsRecurring && env.Status != models.EnvelopeStatusClosed {
			out = append(out, *env)
		}
	}
	return out, nil
}

// carryForward builds the next period's envelopes from source. The budget id
// is left for the caller to fill in once the budget exists.
func carryForward(source []models.Envelope, allocations map[string]int64) ([]models.Envelope, error) {
	used := make(map[string]bool, len(allocations))
	out := make([]models.Envelope, 0, len(source))
	for i := range source {
		prev := &source[i]
		for j := range out {
			if sameName(out[j].Name, prev.Name) || out[j].SortOrder == prev.SortOrder {
				return nil, apperrors.WithMessage(apperrors.ErrRolloverCollision,
					fmt.Sprintf("Envelopes %q and %q collide in the next period", out[j].Name, prev.Name))
			}
		}

		allocated := prev.AllocatedAmount
		for name, amount := range allocations {
			if sameName(name, prev.Name) {
				allocated = amount
				used[name] = true
			}
		}

		env := models.Envelope{
			Name:               prev.Name,
			Description:        prev.Description,
			Category:           prev.Category,
			Icon:               prev.Icon,
			Color:              prev.Color,
			SortOrder:          prev.SortOrder,
			AllocatedAmount:    allocated,
			Status:             models.EnvelopeStatusActive,
			IsOverspendAllowed: prev.IsOverspendAllowed,
			MaxOverspendAmount: prev.MaxOverspendAmount,
			IsRecurring:        true,
			AllowRollover:      prev.AllowRollover,
		}
		if prev.AllowRollover {
			env.RolloverAmount = balance.Rollover(prev.CurrentBalance, true)
			id := prev.ID
			env.PreviousEnvelopeID = &id
		}
		balance.RecomputeEnvelope(&env)
		out = append(out, env)
	}

	for name := range allocations {
		if !used[name] {
			return nil, invalidInput("no recurring envelope named %q to allocate", name)
		}
	}
	return out, nil
}
