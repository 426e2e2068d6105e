package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"envledger/internal/access"
	"envledger/internal/balance"
	apperrors "envledger/internal/errors"
	"envledger/internal/events"
	"envledger/internal/logger"
	"envledger/internal/models"
	"envledger/internal/observability"
	"envledger/internal/pagination"
	"envledger/internal/query"
	"envledger/internal/store"
)

// stageAfterDebit is the point between the first and second envelope write
// of a multi-envelope change.
const stageAfterDebit = "after_debit"

// transactionService is the transaction processor: it validates ledger
// commands, applies their balance effect and owns the transaction status
// machine. Every command runs in one transaction of the budget's partition,
// so a change either commits whole or leaves no trace.
type transactionService struct {
	ledger

	// faultHook, when set, runs at each named stage of a write and aborts
	// it by returning an error.
	faultHook func(stage string) error
}

// NewTransactionService creates a new TransactionServicer.
func NewTransactionService(st *store.Store, auth Authorizer, publisher events.Publisher, audit AuditServicer) TransactionServicer {
	return &transactionService{ledger: newLedger(st, auth, publisher, audit)}
}

// Apply runs one ledger command on behalf of principal.
func (s *transactionService) Apply(ctx context.Context, principal string, cmd Command) (result *TransactionResult, err error) {
	if cmd == nil {
		return nil, invalidInput("command is required")
	}
	if strings.TrimSpace(cmd.Budget()) == "" {
		return nil, invalidInput("budget id is required")
	}

	ctx, span := observability.StartSpan(ctx, "ledger."+string(cmd.Kind()),
		attribute.String("budget.id", cmd.Budget()),
		attribute.String("principal.id", principal),
	)
	defer func() { observability.EndSpan(span, err) }()

	switch c := cmd.(type) {
	case VoidTransaction:
		return s.void(ctx, principal, c)
	default:
		return s.record(ctx, principal, cmd)
	}
}

func (s *transactionService) record(ctx context.Context, principal string, cmd Command) (*TransactionResult, error) {
	tx, err := newTransaction(cmd, principal, s.store.Now())
	if err != nil {
		return nil, err
	}
	if err := s.auth.Authorize(ctx, principal, tx.BudgetID, access.Write); err != nil {
		return nil, err
	}

	var result *TransactionResult
	err = s.store.InPartition(ctx, tx.BudgetID, func(p *store.Partition) error {
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if err := requireWritable(b); err != nil {
			return err
		}

		ids := tx.EnvelopeIDs()
		envs, err := loadEnvelopes(p, ids, ids)
		if err != nil {
			return err
		}
		eff := balance.Contribution(tx)
		if err := checkOverspend(envs, ids, eff); err != nil {
			return err
		}

		if err := p.Create(tx, principal); err != nil {
			return err
		}
		changed, err := s.applyEffect(p, principal, b, envs, ids, eff)
		if err != nil {
			return err
		}
		result = &TransactionResult{Transaction: tx, Envelopes: changed, Budget: b, Warnings: budgetWarnings(b)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("transaction recorded",
		"budget_id", tx.BudgetID,
		"transaction_id", tx.ID,
		"type", tx.Type,
		"amount", tx.Amount,
		"created_by", principal,
	)
	s.publish(ctx, events.New(events.TransactionRecorded, tx.BudgetID, tx.ID, principal, tx))
	return result, nil
}

func (s *transactionService) void(ctx context.Context, principal string, c VoidTransaction) (*TransactionResult, error) {
	if strings.TrimSpace(c.TransactionID) == "" {
		return nil, invalidInput("transaction id is required")
	}
	if err := s.auth.Authorize(ctx, principal, c.BudgetID, access.Write); err != nil {
		return nil, err
	}

	var result *TransactionResult
	alreadyVoid := false
	err := s.store.InPartition(ctx, c.BudgetID, func(p *store.Partition) error {
		var tx models.Transaction
		if err := p.Get(&tx, c.TransactionID, apperrors.ErrTransactionNotFound); err != nil {
			return err
		}
		if tx.IsVoid || tx.Status == models.TransactionStatusVoid {
			alreadyVoid = true
			result = &TransactionResult{Transaction: &tx}
			return nil
		}

		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if err := requireWritable(b); err != nil {
			return err
		}

		ids := tx.EnvelopeIDs()
		envs, err := loadEnvelopes(p, ids, nil)
		if err != nil {
			return err
		}
		eff := balance.Contribution(&tx).Negate()

		now := s.store.Now()
		tx.IsVoid = true
		tx.Status = models.TransactionStatusVoid
		tx.VoidedAt = &now
		tx.VoidedBy = &principal
		tx.VoidReason = c.Reason
		if err := p.Put(&tx, tx.Version, principal, apperrors.ErrTransactionNotFound); err != nil {
			return err
		}

		changed, err := s.applyEffect(p, principal, b, envs, ids, eff)
		if err != nil {
			return err
		}
		result = &TransactionResult{Transaction: &tx, Envelopes: changed, Budget: b, Warnings: budgetWarnings(b)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyVoid {
		return result, nil
	}

	logger.Get().Infow("transaction voided", "budget_id", c.BudgetID, "transaction_id", c.TransactionID, "voided_by", principal)
	s.publish(ctx, events.New(events.TransactionVoided, c.BudgetID, c.TransactionID, principal, map[string]string{"reason": c.Reason}))
	s.auditLog(ctx, principal, c.BudgetID, "VOID_TRANSACTION", "transaction", c.TransactionID, map[string]interface{}{"reason": c.Reason})
	return result, nil
}

// GetTransaction returns a transaction of the budget, voided ones included.
func (s *transactionService) GetTransaction(ctx context.Context, principal, budgetID, transactionID string) (*models.Transaction, error) {
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Read); err != nil {
		return nil, err
	}
	var tx models.Transaction
	if err := s.store.Get(ctx, &tx, transactionID, budgetID, apperrors.ErrTransactionNotFound); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactions pages through the budget's transactions, newest first.
func (s *transactionService) ListTransactions(ctx context.Context, principal, budgetID string, filter query.TransactionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Transaction], error) {
	if filter.FromDate != nil && filter.ToDate != nil && filter.ToDate.Before(*filter.FromDate) {
		return nil, apperrors.ErrInvalidDateRange
	}
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Read); err != nil {
		return nil, err
	}
	page.Defaults()

	plan := query.TransactionsByBudget(budgetID, filter)
	total, err := store.Count(ctx, s.store.DB(), plan)
	if err != nil {
		return nil, err
	}
	txs, err := store.Collect(store.Query[models.Transaction](ctx, s.store.DB(), plan.Page(page.PageSize, page.Offset())))
	if err != nil {
		return nil, err
	}

	result := pagination.NewPageResponse(txs, page.Page, page.PageSize, total)
	return &result, nil
}

// UpdateTransaction edits a pending transaction. A changed amount or
// envelope moves the difference through the same balance checks as a new
// transaction. Cleared and reconciled transactions can only be voided.
func (s *transactionService) UpdateTransaction(ctx context.Context, principal, budgetID, transactionID string, in UpdateTransactionInput) (*TransactionResult, error) {
	if in.Amount != nil && *in.Amount <= 0 {
		return nil, invalidInput("amount must be greater than zero")
	}
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Write); err != nil {
		return nil, err
	}

	var result *TransactionResult
	err := s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		var tx models.Transaction
		if err := p.Get(&tx, transactionID, apperrors.ErrTransactionNotFound); err != nil {
			return err
		}
		if !tx.Editable() {
			return apperrors.WithMessage(apperrors.ErrTransactionNotEditable,
				fmt.Sprintf("Transaction is %s; only pending transactions can be edited", tx.Status))
		}
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if err := requireWritable(b); err != nil {
			return err
		}

		before := tx
		if in.Amount != nil {
			tx.Amount = *in.Amount
		}
		if in.EnvelopeID != nil {
			if tx.Type == models.TransactionTypeTransfer {
				return invalidInput("transfer envelopes cannot be changed; void and record a new transfer")
			}
			id := strings.TrimSpace(*in.EnvelopeID)
			if id == "" {
				tx.EnvelopeID = nil
			} else {
				tx.EnvelopeID = &id
			}
		}
		if in.Description != nil {
			tx.Description = *in.Description
		}
		if in.Payee != nil {
			tx.Payee = *in.Payee
		}
		if in.Date != nil {
			tx.Date = in.Date.UTC()
		}
		if err := tx.Validate(); err != nil {
			return invalidInput("%s", err.Error())
		}

		open := tx.EnvelopeIDs()
		ids := mergeIDs(before.EnvelopeIDs(), open)
		envs, err := loadEnvelopes(p, ids, open)
		if err != nil {
			return err
		}
		diff := balance.Contribution(&tx).Plus(balance.Contribution(&before).Negate())
		if err := checkOverspend(envs, ids, diff); err != nil {
			return err
		}

		if err := p.Put(&tx, tx.Version, principal, apperrors.ErrTransactionNotFound); err != nil {
			return err
		}
		changed, err := s.applyEffect(p, principal, b, envs, ids, diff)
		if err != nil {
			return err
		}
		result = &TransactionResult{Transaction: &tx, Envelopes: changed, Budget: b, Warnings: budgetWarnings(b)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClearTransaction moves a pending transaction to cleared.
func (s *transactionService) ClearTransaction(ctx context.Context, principal, budgetID, transactionID string) (*models.Transaction, error) {
	return s.transition(ctx, principal, budgetID, transactionID, models.TransactionStatusCleared)
}

// ReconcileTransaction moves a cleared transaction to reconciled.
func (s *transactionService) ReconcileTransaction(ctx context.Context, principal, budgetID, transactionID string) (*models.Transaction, error) {
	return s.transition(ctx, principal, budgetID, transactionID, models.TransactionStatusReconciled)
}

func (s *transactionService) transition(ctx context.Context, principal, budgetID, transactionID string, to models.TransactionStatus) (*models.Transaction, error) {
	if err := s.auth.Authorize(ctx, principal, budgetID, access.Write); err != nil {
		return nil, err
	}

	var out *models.Transaction
	var from models.TransactionStatus
	err := s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		var tx models.Transaction
		if err := p.Get(&tx, transactionID, apperrors.ErrTransactionNotFound); err != nil {
			return err
		}
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if err := requireWritable(b); err != nil {
			return err
		}
		if !tx.Status.CanTransitionTo(to) {
			return apperrors.WithMessage(apperrors.ErrInvalidStatusTransition,
				fmt.Sprintf("Cannot move a %s transaction to %s", tx.Status, to))
		}

		from = tx.Status
		now := s.store.Now()
		tx.Status = to
		switch to {
		case models.TransactionStatusCleared:
			tx.ClearedAt = &now
		case models.TransactionStatusReconciled:
			tx.ReconciledAt = &now
		}
		if err := p.Put(&tx, tx.Version, principal, apperrors.ErrTransactionNotFound); err != nil {
			return err
		}
		out = &tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(events.TransactionStatusChange, budgetID, transactionID, principal, map[string]models.TransactionStatus{"from": from, "to": to}))
	return out, nil
}

// loadEnvelopes reads the envelopes ids of the partition. Envelopes listed in
// open must accept new transactions; the others are read even if paused,
// closed or deleted, so history can always be reversed.
func loadEnvelopes(p *store.Partition, ids, open []string) (map[string]*models.Envelope, error) {
	envs := make(map[string]*models.Envelope, len(ids))
	for _, id := range ids {
		if _, ok := envs[id]; ok {
			continue
		}
		var env models.Envelope
		if slices.Contains(open, id) {
			if err := p.Get(&env, id, apperrors.ErrEnvelopeNotFound); err != nil {
				return nil, err
			}
			if !env.AcceptsTransactions() {
				return nil, apperrors.WithMessage(apperrors.ErrEnvelopeNotActive,
					fmt.Sprintf("Envelope %q is %s", env.Name, env.Status))
			}
		} else if err := p.GetIncludingInactive(&env, id, apperrors.ErrEnvelopeNotFound); err != nil {
			return nil, err
		}
		envs[id] = &env
	}
	return envs, nil
}

// checkOverspend rejects an effect that lowers any envelope's balance past
// its overspend policy. Raising a balance is always allowed.
func checkOverspend(envs map[string]*models.Envelope, ids []string, eff balance.Effect) error {
	for _, id := range ids {
		d, ok := eff.Envelopes[id]
		if !ok {
			continue
		}
		env := envs[id]
		projected := balance.Projected(env, d)
		if projected >= env.CurrentBalance {
			continue
		}
		if !balance.WithinOverspendLimit(env, projected) {
			return apperrors.WithMessage(apperrors.ErrInsufficientBalance,
				fmt.Sprintf("Envelope %q has %d available; this change would leave %d", env.Name, env.CurrentBalance, projected))
		}
	}
	return nil
}

// applyEffect writes eff to the envelopes in ids order and then to the
// budget. Once the first document is written, any failure other than a
// version conflict is reported as a partial failure; the caller's partition
// transaction rolls every write back.
func (s *transactionService) applyEffect(p *store.Partition, principal string, b *models.Budget, envs map[string]*models.Envelope, ids []string, eff balance.Effect) ([]models.Envelope, error) {
	var changed []models.Envelope
	written := 0
	for _, id := range ids {
		d, ok := eff.Envelopes[id]
		if !ok || d == (balance.Delta{}) {
			continue
		}
		env := envs[id]
		balance.ApplyToEnvelope(env, d)
		if err := p.Put(env, env.Version, principal, apperrors.ErrEnvelopeNotFound); err != nil {
			return nil, partial(err, written, b.ID)
		}
		written++
		changed = append(changed, *env)

		if written == 1 && s.faultHook != nil {
			if err := s.faultHook(stageAfterDebit); err != nil {
				return nil, partial(err, written, b.ID)
			}
		}
	}

	if eff.Income != 0 || eff.Allocated != 0 || eff.Spent != 0 {
		balance.ApplyToBudget(b, eff)
		if err := p.Put(b, b.Version, principal, apperrors.ErrBudgetNotFound); err != nil {
			return nil, partial(err, written, b.ID)
		}
	}
	return changed, nil
}

func partial(err error, written int, budgetID string) error {
	if written == 0 || apperrors.IsConflict(err) {
		return err
	}
	logger.Get().Errorw("ledger write failed midway; rolling back",
		"error", err,
		"budget_id", budgetID,
		"documents_written", written,
	)
	return apperrors.Wrap(apperrors.ErrPartialFailure, err)
}

// mergeIDs returns a followed by the ids of b not already in a.
func mergeIDs(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
