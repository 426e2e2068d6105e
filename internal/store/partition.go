package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"gorm.io/gorm"

	apperrors "envledger/internal/errors"
	"envledger/internal/models"
	"envledger/internal/query"
)

// Partition is a unit of work confined to one routing key. Every document it
// reads or writes must belong to that key; anything else is rejected before
// touching storage.
type Partition struct {
	tx  *gorm.DB
	key string
	s   *Store
}

// Key returns the routing key the partition is bound to.
func (p *Partition) Key() string { return p.key }

// InPartition runs fn inside one database transaction scoped to routingKey.
// Either every write fn makes commits or none does.
func (s *Store) InPartition(ctx context.Context, routingKey string, fn func(*Partition) error) error {
	if routingKey == "" {
		return apperrors.WithMessage(apperrors.ErrCrossPartitionQuery, "partition requires a routing key")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Partition{tx: tx, key: routingKey, s: s})
	})
}

// OwnerScope is a unit of work over the budgets of a single owner. It backs
// the current-budget switch, which must touch two budget documents at once.
type OwnerScope struct {
	tx    *gorm.DB
	owner string
	s     *Store
}

// InOwnerScope runs fn inside one database transaction over ownerID's budgets.
func (s *Store) InOwnerScope(ctx context.Context, ownerID string, fn func(*OwnerScope) error) error {
	if ownerID == "" {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "owner scope requires an owner")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&OwnerScope{tx: tx, owner: ownerID, s: s})
	})
}

// Get reads an active document of this partition.
func (p *Partition) Get(dest models.Document, id string, notFound *apperrors.AppError) error {
	return get(p.tx, dest, id, p.key, notFound, false)
}

// GetIncludingInactive reads a document of this partition even if it was
// soft-deleted.
func (p *Partition) GetIncludingInactive(dest models.Document, id string, notFound *apperrors.AppError) error {
	return get(p.tx, dest, id, p.key, notFound, true)
}

// Budget reads the budget the partition is keyed on, including inactive
// ones so callers can report a precise error.
func (p *Partition) Budget(notFound *apperrors.AppError) (*models.Budget, error) {
	var b models.Budget
	if err := get(p.tx, &b, p.key, p.key, notFound, true); err != nil {
		return nil, err
	}
	if !b.IsActive {
		return nil, notFound
	}
	return &b, nil
}

// Create inserts doc into the partition.
func (p *Partition) Create(doc models.Document, principal string) error {
	if err := p.check(doc); err != nil {
		return err
	}
	return create(p.tx, doc, principal, p.s.now())
}

// Put conditionally replaces doc inside the partition.
func (p *Partition) Put(doc models.Document, expectedVersion int64, principal string, notFound *apperrors.AppError) error {
	if err := p.check(doc); err != nil {
		return err
	}
	return put(p.tx, doc, expectedVersion, principal, p.s.now(), notFound)
}

// Exec runs a raw write against the partition's transaction. Used for the
// secondary budget_members index, which is not a versioned document.
func (p *Partition) Exec(fn func(tx *gorm.DB) error) error {
	if err := fn(p.tx); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// Exists reports whether the plan matches any row.
func (p *Partition) Exists(plan query.Plan) (bool, error) {
	if err := p.checkPlan(plan); err != nil {
		return false, err
	}
	var n int64
	if err := plan.Count().Apply(p.tx).Limit(1).Count(&n).Error; err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return n > 0, nil
}

// PartitionQuery yields rows of a plan read inside the partition's transaction.
func PartitionQuery[T any](p *Partition, plan query.Plan) iter.Seq2[*T, error] {
	if err := p.checkPlan(plan); err != nil {
		return func(yield func(*T, error) bool) { yield(nil, err) }
	}
	return Query[T](p.tx.Statement.Context, p.tx, plan)
}

func (p *Partition) check(doc models.Document) error {
	if doc.RoutingKey() != p.key {
		return apperrors.WithMessage(apperrors.ErrCrossPartitionQuery,
			fmt.Sprintf("document routed by %q does not belong to partition %q", doc.RoutingKey(), p.key))
	}
	return nil
}

func (p *Partition) checkPlan(plan query.Plan) error {
	if plan.RoutingKey != "" && plan.RoutingKey != p.key {
		return apperrors.WithMessage(apperrors.ErrCrossPartitionQuery, "plan targets a different partition")
	}
	return nil
}

// Budgets lists the owner's active budgets in the given states.
func (o *OwnerScope) Budgets(statuses ...models.BudgetStatus) ([]models.Budget, error) {
	return Collect(Query[models.Budget](o.tx.Statement.Context, o.tx, query.BudgetsByOwner(o.owner, statuses...)))
}

// Current returns the owner's current budget, or nil when there is none.
func (o *OwnerScope) Current() (*models.Budget, error) {
	budgets, err := Collect(Query[models.Budget](o.tx.Statement.Context, o.tx, query.CurrentBudgetOfOwner(o.owner)))
	if err != nil || len(budgets) == 0 {
		return nil, err
	}
	return &budgets[0], nil
}

// Get reads one of the owner's budgets.
func (o *OwnerScope) Get(id string) (*models.Budget, error) {
	var b models.Budget
	if err := get(o.tx, &b, id, id, apperrors.ErrBudgetNotFound, false); err != nil {
		return nil, err
	}
	if b.OwnerID != o.owner {
		return nil, apperrors.ErrBudgetNotFound
	}
	return &b, nil
}

// Create inserts a budget for the owner.
func (o *OwnerScope) Create(b *models.Budget, principal string) error {
	if b.OwnerID != o.owner {
		return apperrors.WithMessage(apperrors.ErrCrossPartitionQuery, "budget belongs to a different owner")
	}
	return create(o.tx, b, principal, o.s.now())
}

// Put conditionally replaces one of the owner's budgets.
func (o *OwnerScope) Put(b *models.Budget, expectedVersion int64, principal string) error {
	if b.OwnerID != o.owner {
		return apperrors.WithMessage(apperrors.ErrCrossPartitionQuery, "budget belongs to a different owner")
	}
	return put(o.tx, b, expectedVersion, principal, o.s.now(), apperrors.ErrBudgetNotFound)
}

// Partition opens the partition of one of the owner's budgets inside the
// same transaction, so budget-scoped writes can join the owner-scope commit.
func (o *OwnerScope) Partition(budgetID string) *Partition {
	return &Partition{tx: o.tx, key: budgetID, s: o.s}
}
