package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"envledger/internal/access"
	"envledger/internal/balance"
	apperrors "envledger/internal/errors"
	"envledger/internal/events"
	"envledger/internal/logger"
	"envledger/internal/models"
	"envledger/internal/pagination"
	"envledger/internal/query"
	"envledger/internal/store"
)

// budgetService handles budget lifecycle and sharing.
type budgetService struct {
	ledger
	maxShared int
}

// NewBudgetService creates a new BudgetServicer. maxShared bounds the size of
// a budget's shared set.
func NewBudgetService(st *store.Store, auth Authorizer, publisher events.Publisher, audit AuditServicer, maxShared int) BudgetServicer {
	return &budgetService{
		ledger:    newLedger(st, auth, publisher, audit),
		maxShared: maxShared,
	}
}

func validatePeriod(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return apperrors.ErrInvalidDateRange
	}
	return nil
}

// checkOverlap rejects a period that intersects another draft or active
// budget of the same owner. exceptID is skipped so a budget can be updated
// in place.
func checkOverlap(o *store.OwnerScope, start, end time.Time, exceptID string) error {
	budgets, err := o.Budgets(models.BudgetStatusDraft, models.BudgetStatusActive)
	if err != nil {
		return err
	}
	for i := range budgets {
		if budgets[i].ID != exceptID && budgets[i].Overlaps(start, end) {
			return apperrors.WithMessage(apperrors.ErrBudgetOverlap,
				fmt.Sprintf("Budget period overlaps %q", budgets[i].Name))
		}
	}
	return nil
}

func addMembers(tx *gorm.DB, budgetID string, role models.BudgetMemberRole, userIDs []string, now time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]models.BudgetMember, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, models.BudgetMember{UserID: id, BudgetID: budgetID, Role: role, CreatedAt: now})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// CreateBudget creates a draft budget owned by principal.
func (s *budgetService) CreateBudget(ctx context.Context, principal string, in CreateBudgetInput) (*models.Budget, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalidInput("budget name is required")
	}
	if err := validatePeriod(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "USD"
	}

	budget := &models.Budget{
		OwnerID:     principal,
		Name:        name,
		Description: in.Description,
		Currency:    currency,
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.EndDate.UTC(),
		Status:      models.BudgetStatusDraft,
		SharedWith:  models.PrincipalSet{},
	}
	balance.RecomputeBudget(budget)

	err := s.store.InOwnerScope(ctx, principal, func(o *store.OwnerScope) error {
		if err := checkOverlap(o, budget.StartDate, budget.EndDate, ""); err != nil {
			return err
		}
		if err := o.Create(budget, principal); err != nil {
			return err
		}
		return o.Partition(budget.ID).Exec(func(tx *gorm.DB) error {
			return addMembers(tx, budget.ID, models.BudgetMemberOwner, []string{principal}, budget.CreatedAt)
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("budget created", "budget_id", budget.ID, "owner_id", principal)
	s.publish(ctx, events.New(events.BudgetCreated, budget.ID, budget.ID, principal, budget))
	return budget, nil
}

// GetBudget returns a budget the principal participates in.
func (s *budgetService) GetBudget(ctx context.Context, principal, budgetID string) (*models.Budget, error) {
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Read); err != nil {
		return nil, err
	}
	var budget models.Budget
	if err := s.store.Get(ctx, &budget, budgetID, budgetID, apperrors.ErrBudgetNotFound); err != nil {
		return nil, err
	}
	return &budget, nil
}

// ListBudgetsForUser pages through the budgets principal owns or shares,
// newest period first.
func (s *budgetService) ListBudgetsForUser(ctx context.Context, principal string, status *models.BudgetStatus, page pagination.PageRequest) (*pagination.PageResponse[models.Budget], error) {
	page.Defaults()

	plan := query.BudgetsForUser(principal, status)
	total, err := store.Count(ctx, s.store.DB(), plan)
	if err != nil {
		return nil, err
	}
	budgets, err := store.Collect(store.Query[models.Budget](ctx, s.store.DB(), plan.Page(page.PageSize, page.Offset())))
	if err != nil {
		return nil, err
	}

	result := pagination.NewPageResponse(budgets, page.Page, page.PageSize, total)
	return &result, nil
}

// UpdateBudget changes the descriptive fields and period of a draft or active budget.
func (s *budgetService) UpdateBudget(ctx context.Context, principal, budgetID string, in UpdateBudgetInput) (*models.Budget, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, invalidInput("budget name cannot be empty")
	}
	current, err := s.GetBudget(ctx, principal, budgetID)
	if err != nil {
		return nil, err
	}

	var updated *models.Budget
	err = s.store.InOwnerScope(ctx, current.OwnerID, func(o *store.OwnerScope) error {
		b, err := o.Get(budgetID)
		if err != nil {
			return err
		}
		if err := requireWritable(b); err != nil {
			return err
		}

		if in.Name != nil {
			b.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			b.Description = *in.Description
		}
		if in.Currency != nil {
			b.Currency = strings.ToUpper(*in.Currency)
		}
		if in.StartDate != nil || in.EndDate != nil {
			if in.StartDate != nil {
				b.StartDate = in.StartDate.UTC()
			}
			if in.EndDate != nil {
				b.EndDate = in.EndDate.UTC()
			}
			if err := validatePeriod(b.StartDate, b.EndDate); err != nil {
				return err
			}
			if err := checkOverlap(o, b.StartDate, b.EndDate, b.ID); err != nil {
				return err
			}
		}

		if err := o.Put(b, b.Version, principal); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ActivateBudget moves a draft budget to active and makes it the owner's
// current budget. The previous current budget loses its flag in the same
// owner-scoped transaction, so the owner never has two current budgets.
func (s *budgetService) ActivateBudget(ctx context.Context, principal, budgetID string) (*models.Budget, error) {
	current, err := s.GetBudget(ctx, principal, budgetID)
	if err != nil {
		return nil, err
	}

	var activated *models.Budget
	var previousID string
	err = s.store.InOwnerScope(ctx, current.OwnerID, func(o *store.OwnerScope) error {
		b, err := o.Get(budgetID)
		if err != nil {
			return err
		}
		if !b.Status.CanTransitionTo(models.BudgetStatusActive) {
			return apperrors.WithMessage(apperrors.ErrInvalidStatusTransition,
				fmt.Sprintf("Cannot activate a %s budget", b.Status))
		}

		prev, err := o.Current()
		if err != nil {
			return err
		}
		if prev != nil && prev.ID != b.ID {
			prev.IsCurrent = false
			if err := o.Put(prev, prev.Version, principal); err != nil {
				return err
			}
			previousID = prev.ID
		}

		now := s.store.Now()
		b.Status = models.BudgetStatusActive
		b.IsCurrent = true
		b.ActivatedAt = &now
		if err := o.Put(b, b.Version, principal); err != nil {
			return err
		}
		activated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("budget activated", "budget_id", budgetID, "previous_current_id", previousID)
	s.publish(ctx, events.New(events.BudgetActivated, budgetID, budgetID, principal, map[string]string{"previousCurrentId": previousID}))
	s.auditLog(ctx, principal, budgetID, "ACTIVATE_BUDGET", "budget", budgetID, map[string]interface{}{"previous_current_id": previousID})
	return activated, nil
}

// RevertToDraft moves an active budget back to draft. Only budgets without
// any transaction, void ones included, can be reverted.
func (s *budgetService) RevertToDraft(ctx context.Context, principal, budgetID string) (*models.Budget, error) {
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Write); err != nil {
		return nil, err
	}

	var reverted *models.Budget
	err := s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if b.Status != models.BudgetStatusActive {
			return apperrors.WithMessage(apperrors.ErrInvalidStatusTransition,
				fmt.Sprintf("Cannot return a %s budget to draft", b.Status))
		}
		has, err := p.Exists(query.TransactionsByBudget(budgetID, query.TransactionFilter{IncludeVoid: true}))
		if err != nil {
			return err
		}
		if has {
			return apperrors.ErrBudgetHasTransactions
		}

		b.Status = models.BudgetStatusDraft
		b.IsCurrent = false
		b.ActivatedAt = nil
		if err := p.Put(b, b.Version, principal, apperrors.ErrBudgetNotFound); err != nil {
			return err
		}
		reverted = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reverted, nil
}

// ShareBudget adds principals to the budget's shared set. Every participant
// has the same rights as the owner.
func (s *budgetService) ShareBudget(ctx context.Context, principal, budgetID string, principalIDs []string) (*models.Budget, error) {
	ids := make([]string, 0, len(principalIDs))
	for _, id := range principalIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, invalidInput("at least one principal id is required")
	}
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Write); err != nil {
		return nil, err
	}

	var shared *models.Budget
	var added []string
	err := s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if b.Status == models.BudgetStatusArchived {
			return requireWritable(b)
		}
		for _, id := range ids {
			if id == b.OwnerID {
				return apperrors.ErrCannotShareWithOwner
			}
			if !b.SharedWith.Contains(id) {
				added = append(added, id)
			}
		}
		next := b.SharedWith.Add(ids...)
		if len(next) > s.maxShared {
			return apperrors.WithMessage(apperrors.ErrShareLimitExceeded,
				fmt.Sprintf("A budget can be shared with at most %d principals", s.maxShared))
		}
		if len(added) == 0 {
			shared = b
			return nil
		}

		b.SharedWith = next
		if err := p.Put(b, b.Version, principal, apperrors.ErrBudgetNotFound); err != nil {
			return err
		}
		if err := p.Exec(func(tx *gorm.DB) error {
			return addMembers(tx, budgetID, models.BudgetMemberShared, added, b.UpdatedAt)
		}); err != nil {
			return err
		}
		shared = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		s.auth.Invalidate(budgetID)
		logger.Get().Infow("budget shared", "budget_id", budgetID, "added", added)
		s.publish(ctx, events.New(events.BudgetShared, budgetID, budgetID, principal, map[string][]string{"principalIds": added}))
		s.auditLog(ctx, principal, budgetID, "SHARE_BUDGET", "budget", budgetID, map[string]interface{}{"added": added})
	}
	return shared, nil
}

// UnshareBudget removes a principal from the budget's shared set. Removing
// a principal that is not in the set is a no-op.
func (s *budgetService) UnshareBudget(ctx context.Context, principal, budgetID, principalID string) (*models.Budget, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, invalidInput("principal id is required")
	}
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Write); err != nil {
		return nil, err
	}

	var result *models.Budget
	removed := false
	err := s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if principalID == b.OwnerID {
			return apperrors.WithMessage(apperrors.ErrCannotShareWithOwner, "The budget owner cannot be removed")
		}
		result = b
		if !b.SharedWith.Contains(principalID) {
			return nil
		}

		b.SharedWith = b.SharedWith.Remove(principalID)
		if err := p.Put(b, b.Version, principal, apperrors.ErrBudgetNotFound); err != nil {
			return err
		}
		removed = true
		return p.Exec(func(tx *gorm.DB) error {
			return tx.Where("budget_id = ? AND user_id = ?", budgetID, principalID).Delete(&models.BudgetMember{}).Error
		})
	})
	if err != nil {
		return nil, err
	}

	if removed {
		s.auth.Invalidate(budgetID)
		logger.Get().Infow("budget unshared", "budget_id", budgetID, "removed", principalID)
		s.publish(ctx, events.New(events.BudgetUnshared, budgetID, budgetID, principal, map[string]string{"principalId": principalID}))
		s.auditLog(ctx, principal, budgetID, "UNSHARE_BUDGET", "budget", budgetID, map[string]interface{}{"removed": principalID})
	}
	return result, nil
}

// GetBudgetSummary returns the budget with its active envelopes and the
// warnings a caller should surface, such as over-allocation.
func (s *budgetService) GetBudgetSummary(ctx context.Context, principal, budgetID string) (*BudgetSummary, error) {
	budget, err := s.GetBudget(ctx, principal, budgetID)
	if err != nil {
		return nil, err
	}
	envelopes, err := store.Collect(store.Query[models.Envelope](ctx, s.store.DB(), query.EnvelopesByBudget(budgetID, false)))
	if err != nil {
		return nil, err
	}
	if envelopes == nil {
		envelopes = []models.Envelope{}
	}

	summary := &BudgetSummary{
		Budget:            budget,
		Envelopes:         envelopes,
		UnallocatedIncome: balance.BudgetRemaining(budget.TotalIncome, budget.TotalAllocated),
		Warnings:          budgetWarnings(budget),
	}
	for i := range envelopes {
		if envelopes[i].CurrentBalance < 0 {
			summary.OverspentCount++
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("envelope %q is overspent by %d", envelopes[i].Name, -envelopes[i].CurrentBalance))
		}
	}
	return summary, nil
}
