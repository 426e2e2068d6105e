// Package access decides whether a principal may act on a budget. Rights are
// flat: the owner and every member of the budget's shared set can read and
// write it and everything under it.
package access

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"envledger/internal/cache"
	apperrors "envledger/internal/errors"
	"envledger/internal/logger"
	"envledger/internal/models"
	"envledger/internal/observability"
)

// Op is the kind of access requested.
type Op string

const (
	Read  Op = "read"
	Write Op = "write"
)

// BudgetReader performs the single point read an uncached decision needs.
type BudgetReader interface {
	Get(ctx context.Context, dest models.Document, id, routingKey string, notFound *apperrors.AppError) error
}

// Resolver authorizes principals against budgets and caches the decisions.
// Cached decisions may be stale for at most the cache TTL unless the
// sharing set changes, which invalidates them.
type Resolver struct {
	budgets BudgetReader
	cache   *cache.LRU[bool]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewResolver creates a Resolver with a decision cache of size entries kept for ttl.
func NewResolver(budgets BudgetReader, size int, ttl time.Duration, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		budgets: budgets,
		cache:   cache.NewLRU[bool](size, ttl),
		metrics: metrics,
	}
}

func cacheKey(principalID, budgetID string) string {
	return principalID + "|" + budgetID
}

// Authorize returns nil when principalID owns budgetID or is in its shared
// set, ErrAccessDenied when it is not, and ErrBudgetNotFound when the budget
// does not exist. Envelope and transaction operations authorize through
// their parent budget.
func (r *Resolver) Authorize(ctx context.Context, principalID, budgetID string, op Op) error {
	if principalID == "" {
		return apperrors.ErrUnauthorized
	}
	if budgetID == "" {
		return apperrors.ErrBudgetNotFound
	}

	key := cacheKey(principalID, budgetID)
	if granted, ok := r.cache.Get(key); ok {
		r.metrics.IncrCacheHit("access")
		return decision(granted, principalID, budgetID, op)
	}
	r.metrics.IncrCacheMiss("access")

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		var budget models.Budget
		if err := r.budgets.Get(ctx, &budget, budgetID, budgetID, apperrors.ErrBudgetNotFound); err != nil {
			return false, err
		}
		granted := budget.HasParticipant(principalID)
		r.cache.Set(key, granted)
		return granted, nil
	})
	if err != nil {
		return err
	}
	return decision(v.(bool), principalID, budgetID, op)
}

// Invalidate drops every cached decision for budgetID. Call it after any
// change to the budget's owner or shared set.
func (r *Resolver) Invalidate(budgetID string) {
	n := r.cache.DeleteSuffix("|" + budgetID)
	if n > 0 {
		logger.Named("access").Debugw("invalidated access decisions", "budget_id", budgetID, "entries", n)
	}
}

func decision(granted bool, principalID, budgetID string, op Op) error {
	if granted {
		return nil
	}
	logger.Named("access").Infow("access denied",
		"principal_id", principalID,
		"budget_id", budgetID,
		"op", op,
	)
	return apperrors.ErrAccessDenied
}
