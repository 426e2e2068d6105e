package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"envledger/internal/access"
	"envledger/internal/balance"
	apperrors "envledger/internal/errors"
	"envledger/internal/events"
	"envledger/internal/logger"
	"envledger/internal/models"
	"envledger/internal/query"
	"envledger/internal/store"
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// envelopeService handles envelope setup, allocation and lifecycle.
type envelopeService struct {
	ledger
}

// NewEnvelopeService creates a new EnvelopeServicer.
func NewEnvelopeService(st *store.Store, auth Authorizer, publisher events.Publisher, audit AuditServicer) EnvelopeServicer {
	return &envelopeService{ledger: newLedger(st, auth, publisher, audit)}
}

func validateEnvelopeFields(name string, category models.EnvelopeCategory, color string, maxOverspend *int64) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.WithMessage(apperrors.ErrInvalidEnvelopeInput, "envelope name is required")
	}
	if !category.Valid() {
		return apperrors.WithMessage(apperrors.ErrInvalidEnvelopeInput, fmt.Sprintf("unknown category %q", category))
	}
	if color != "" && !hexColor.MatchString(color) {
		return apperrors.WithMessage(apperrors.ErrInvalidEnvelopeInput, "color must be a hex color")
	}
	if maxOverspend != nil && *maxOverspend < 0 {
		return apperrors.WithMessage(apperrors.ErrInvalidEnvelopeInput, "max overspend amount cannot be negative")
	}
	return nil
}

// checkUnique rejects a name or sort order already used by another active
// envelope of the partition's budget.
func checkUnique(p *store.Partition, name string, sortOrder int, exceptID string) error {
	for env, err := range store.PartitionQuery[models.Envelope](p, query.EnvelopesByBudget(p.Key(), false)) {
		if err != nil {
			return err
		}
		if env.ID == exceptID {
			continue
		}
		if sameName(env.Name, name) {
			return apperrors.WithMessage(apperrors.ErrDuplicateEnvelope, fmt.Sprintf("An envelope named %q already exists", env.Name))
		}
		if env.SortOrder == sortOrder {
			return apperrors.WithMessage(apperrors.ErrDuplicateEnvelope, fmt.Sprintf("Sort order %d is already used by %q", sortOrder, env.Name))
		}
	}
	return nil
}

// CreateEnvelope adds an envelope to a draft or active budget. Its
// allocation is added to the budget's total allocation; allocating more
// than the budget's income is allowed and reported as a warning.
func (s *envelopeService) CreateEnvelope(ctx context.Context, principal, budgetID string, in CreateEnvelopeInput) (*EnvelopeResult, error) {
	if err := validateEnvelopeFields(in.Name, in.Category, in.Color, in.MaxOverspendAmount); err != nil {
		return nil, err
	}
	if in.AllocatedAmount < 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidEnvelopeInput, "allocated amount cannot be negative")
	}
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Write); err != nil {
		return nil, err
	}

	env := &models.Envelope{
		BudgetID:           budgetID,
		Name:               strings.TrimSpace(in.Name),
		Description:        in.Description,
		Category:           in.Category,
		Icon:               in.Icon,
		Color:              in.Color,
		SortOrder:          in.SortOrder,
		AllocatedAmount:    in.AllocatedAmount,
		Status:             models.EnvelopeStatusActive,
		IsOverspendAllowed: in.IsOverspendAllowed,
		MaxOverspendAmount: in.MaxOverspendAmount,
		IsRecurring:        in.IsRecurring,
		AllowRollover:      in.AllowRollover,
	}
	balance.RecomputeEnvelope(env)

	var warnings []string
	err := s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if err := requireWritable(b); err != nil {
			return err
		}
		if err := checkUnique(p, env.Name, env.SortOrder, ""); err != nil {
			return err
		}
		if err := p.Create(env, principal); err != nil {
			return err
		}
		if env.AllocatedAmount != 0 {
			balance.ApplyToBudget(b, balance.Effect{Allocated: env.AllocatedAmount})
			if err := p.Put(b, b.Version, principal, apperrors.ErrBudgetNotFound); err != nil {
				return err
			}
		}
		warnings = budgetWarnings(b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("envelope created", "budget_id", budgetID, "envelope_id", env.ID, "allocated", env.AllocatedAmount)
	s.publish(ctx, events.New(events.EnvelopeCreated, budgetID, env.ID, principal, env))
	return &EnvelopeResult{Envelope: env, Warnings: warnings}, nil
}

// GetEnvelope returns an active envelope of the budget.
func (s *envelopeService) GetEnvelope(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error) {
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Read); err != nil {
		return nil, err
	}
	var env models.Envelope
	if err := s.store.Get(ctx, &env, envelopeID, budgetID, apperrors.ErrEnvelopeNotFound); err != nil {
		return nil, err
	}
	return &env, nil
}

// ListEnvelopes returns the budget's envelopes in display order.
func (s *envelopeService) ListEnvelopes(ctx context.Context, principal, budgetID string, includeInactive bool) ([]models.Envelope, error) {
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Read); err != nil {
		return nil, err
	}
	envelopes, err := store.Collect(store.Query[models.Envelope](ctx, s.store.DB(), query.EnvelopesByBudget(budgetID, includeInactive)))
	if err != nil {
		return nil, err
	}
	if envelopes == nil {
		envelopes = []models.Envelope{}
	}
	return envelopes, nil
}

// mutate loads an active envelope inside its budget's partition, applies fn
// and writes the envelope back.
func (s *envelopeService) mutate(ctx context.Context, principal, budgetID, envelopeID string, fn func(p *store.Partition, b *models.Budget, env *models.Envelope) error) (*models.Envelope, error) {
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Write); err != nil {
		return nil, err
	}

	var out *models.Envelope
	err := s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if err := requireWritable(b); err != nil {
			return err
		}
		var env models.Envelope
		if err := p.Get(&env, envelopeID, apperrors.ErrEnvelopeNotFound); err != nil {
			return err
		}
		if err := fn(p, b, &env); err != nil {
			return err
		}
		if err := p.Put(&env, env.Version, principal, apperrors.ErrEnvelopeNotFound); err != nil {
			return err
		}
		out = &env
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateEnvelope changes the descriptive fields and overspend policy.
func (s *envelopeService) UpdateEnvelope(ctx context.Context, principal, budgetID, envelopeID string, in UpdateEnvelopeInput) (*models.Envelope, error) {
	return s.mutate(ctx, principal, budgetID, envelopeID, func(p *store.Partition, _ *models.Budget, env *models.Envelope) error {
		if in.Name != nil {
			env.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			env.Description = *in.Description
		}
		if in.Category != nil {
			env.Category = *in.Category
		}
		if in.Icon != nil {
			env.Icon = *in.Icon
		}
		if in.Color != nil {
			env.Color = *in.Color
		}
		if in.SortOrder != nil {
			env.SortOrder = *in.SortOrder
		}
		if in.IsOverspendAllowed != nil {
			env.IsOverspendAllowed = *in.IsOverspendAllowed
		}
		if in.ClearMaxOverspend {
			env.MaxOverspendAmount = nil
		} else if in.MaxOverspendAmount != nil {
			env.MaxOverspendAmount = in.MaxOverspendAmount
		}
		if in.IsRecurring != nil {
			env.IsRecurring = *in.IsRecurring
		}
		if in.AllowRollover != nil {
			env.AllowRollover = *in.AllowRollover
		}

		if err := validateEnvelopeFields(env.Name, env.Category, env.Color, env.MaxOverspendAmount); err != nil {
			return err
		}
		if in.Name != nil || in.SortOrder != nil {
			return checkUnique(p, env.Name, env.SortOrder, env.ID)
		}
		return nil
	})
}

// AllocateEnvelope sets the envelope's allocation and moves the difference
// into or out of the budget's total allocation. Lowering an allocation below
// what has been spent is subject to the envelope's overspend policy.
func (s *envelopeService) AllocateEnvelope(ctx context.Context, principal, budgetID, envelopeID string, allocated int64) (*EnvelopeResult, error) {
	if allocated < 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidEnvelopeInput, "allocated amount cannot be negative")
	}

	var warnings []string
	env, err := s.mutate(ctx, principal, budgetID, envelopeID, func(p *store.Partition, b *models.Budget, env *models.Envelope) error {
		if env.Status == models.EnvelopeStatusClosed {
			return apperrors.WithMessage(apperrors.ErrEnvelopeNotActive, "Closed envelopes cannot be re-allocated")
		}
		diff := allocated - env.AllocatedAmount
		if diff == 0 {
			warnings = budgetWarnings(b)
			return nil
		}
		d := balance.Delta{Allocated: diff}
		if diff < 0 && !balance.WithinOverspendLimit(env, balance.Projected(env, d)) {
			return apperrors.WithMessage(apperrors.ErrInsufficientBalance,
				fmt.Sprintf("Allocation of %d is below the %d already spent", allocated, env.SpentAmount-env.RolloverAmount))
		}
		balance.ApplyToEnvelope(env, d)
		balance.ApplyToBudget(b, balance.Effect{Allocated: diff})
		if err := p.Put(b, b.Version, principal, apperrors.ErrBudgetNotFound); err != nil {
			return err
		}
		warnings = budgetWarnings(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EnvelopeResult{Envelope: env, Warnings: warnings}, nil
}

func (s *envelopeService) setStatus(ctx context.Context, principal, budgetID, envelopeID string, from []models.EnvelopeStatus, to models.EnvelopeStatus) (*models.Envelope, error) {
	env, err := s.mutate(ctx, principal, budgetID, envelopeID, func(_ *store.Partition, _ *models.Budget, env *models.Envelope) error {
		for _, allowed := range from {
			if env.Status == allowed {
				env.Status = to
				return nil
			}
		}
		return apperrors.WithMessage(apperrors.ErrInvalidStatusTransition,
			fmt.Sprintf("Cannot move a %s envelope to %s", env.Status, to))
	})
	if err != nil {
		return nil, err
	}
	logger.Get().Infow("envelope status changed", "budget_id", budgetID, "envelope_id", envelopeID, "status", to)
	return env, nil
}

// PauseEnvelope stops the envelope from accepting new transactions.
func (s *envelopeService) PauseEnvelope(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error) {
	return s.setStatus(ctx, principal, budgetID, envelopeID, []models.EnvelopeStatus{models.EnvelopeStatusActive}, models.EnvelopeStatusPaused)
}

// ResumeEnvelope makes a paused envelope accept transactions again.
func (s *envelopeService) ResumeEnvelope(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error) {
	return s.setStatus(ctx, principal, budgetID, envelopeID, []models.EnvelopeStatus{models.EnvelopeStatusPaused}, models.EnvelopeStatusActive)
}

// CloseEnvelope retires the envelope. Its history and balance are kept.
func (s *envelopeService) CloseEnvelope(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error) {
	return s.setStatus(ctx, principal, budgetID, envelopeID,
		[]models.EnvelopeStatus{models.EnvelopeStatusActive, models.EnvelopeStatusPaused}, models.EnvelopeStatusClosed)
}

// DeleteEnvelope soft-deletes a closed envelope. Transactions keep
// referencing it.
func (s *envelopeService) DeleteEnvelope(ctx context.Context, principal, budgetID, envelopeID string) error {
	_, err := s.mutate(ctx, principal, budgetID, envelopeID, func(_ *store.Partition, _ *models.Budget, env *models.Envelope) error {
		if env.Status != models.EnvelopeStatusClosed {
			return apperrors.ErrEnvelopeNotClosed
		}
		env.IsActive = false
		return nil
	})
	if err != nil {
		return err
	}
	s.auditLog(ctx, principal, budgetID, "DELETE_ENVELOPE", "envelope", envelopeID, nil)
	return nil
}
