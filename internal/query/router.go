// Package query builds routing-key-scoped query plans for the ledger's known
// access patterns. Envelope and transaction reads must stay inside a single
// budget partition; a plan that would fan out across budgets is rejected.
package query

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "envledger/internal/errors"
	"envledger/internal/logger"
	"envledger/internal/models"
)

// Collection names the table a plan reads from.
type Collection string

const (
	CollectionUsers        Collection = "users"
	CollectionBudgets      Collection = "budgets"
	CollectionEnvelopes    Collection = "envelopes"
	CollectionTransactions Collection = "transactions"
)

// partitioned collections are routed by budget id and never scanned across budgets.
var partitioned = map[Collection]bool{
	CollectionEnvelopes:    true,
	CollectionTransactions: true,
}

// Filter is a single predicate with its bound arguments.
type Filter struct {
	Clause string
	Args   []any
}

// Plan describes one scoped query. Index names the secondary index the plan
// relies on when it is not served by the routing key alone.
type Plan struct {
	Collection    Collection
	RoutingColumn string
	RoutingKey    string
	Index         string
	Filters       []Filter
	Order         string
	Limit         int
	Offset        int

	countOnly bool
}

// Validate rejects plans that would read more than one routing key of a
// partitioned collection. Rejections are logged: they point at a modeling
// error in the caller, not bad user input.
func (p Plan) Validate() error {
	if !partitioned[p.Collection] {
		return nil
	}
	if p.RoutingColumn != models.RoutingByBudget || p.RoutingKey == "" {
		logger.Named("query").Warnw("rejected cross-partition query plan",
			"collection", p.Collection,
			"routing_column", p.RoutingColumn,
			"filters", len(p.Filters),
		)
		return apperrors.WithMessage(apperrors.ErrCrossPartitionQuery,
			fmt.Sprintf("%s queries must be scoped to a budget", p.Collection))
	}
	return nil
}

// Apply scopes db to the plan. The plan must be valid.
func (p Plan) Apply(db *gorm.DB) *gorm.DB {
	q := db.Table(string(p.Collection))
	if p.Index != "" {
		q = p.joinIndex(q)
	}
	if p.RoutingColumn != "" && p.RoutingKey != "" {
		q = q.Where(p.qualified(p.RoutingColumn)+" = ?", p.RoutingKey)
	}
	for _, f := range p.Filters {
		q = q.Where(f.Clause, f.Args...)
	}
	if p.Order != "" {
		q = q.Order(p.Order)
	}
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}
	return q
}

// Count applies the plan without order and paging, for total counts.
func (p Plan) Count() Plan {
	p.Order = ""
	p.Limit = 0
	p.Offset = 0
	p.countOnly = true
	return p
}

// Page returns the plan restricted to one page.
func (p Plan) Page(limit, offset int) Plan {
	p.Limit = limit
	p.Offset = offset
	return p
}

func (p Plan) qualified(column string) string {
	if strings.Contains(column, ".") {
		return column
	}
	return string(p.Collection) + "." + column
}

func (p Plan) joinIndex(q *gorm.DB) *gorm.DB {
	switch p.Index {
	case IndexBudgetMembers:
		q = q.Joins("JOIN budget_members ON budget_members.budget_id = budgets.id")
		if p.countOnly {
			// budget_members holds one row per (user, budget), so count(*) counts budgets.
			return q
		}
		return q.Select("budgets.*")
	}
	return q
}

// IndexBudgetMembers is the per-user budget index maintained alongside
// budget create/share/unshare.
const IndexBudgetMembers = "budget_members"

// EnvelopesByBudget lists a budget's envelopes in display order.
func EnvelopesByBudget(budgetID string, includeInactive bool) Plan {
	p := Plan{
		Collection:    CollectionEnvelopes,
		RoutingColumn: models.RoutingByBudget,
		RoutingKey:    budgetID,
		Order:         "envelopes.sort_order ASC, envelopes.name ASC",
	}
	if !includeInactive {
		p.Filters = append(p.Filters, Filter{Clause: "envelopes.is_active = ?", Args: []any{true}})
	}
	return p
}

// TransactionFilter holds optional filters for listing a budget's transactions.
type TransactionFilter struct {
	EnvelopeID  *string
	Type        *models.TransactionType
	Status      *models.TransactionStatus
	FromDate    *time.Time
	ToDate      *time.Time
	IncludeVoid bool
}

// TransactionsByBudget lists a budget's transactions newest first.
// An envelope filter matches the envelope on any side of a transfer.
func TransactionsByBudget(budgetID string, f TransactionFilter) Plan {
	p := Plan{
		Collection:    CollectionTransactions,
		RoutingColumn: models.RoutingByBudget,
		RoutingKey:    budgetID,
		Order:         "transactions.date DESC, transactions.id DESC",
	}
	if f.EnvelopeID != nil {
		p.Filters = append(p.Filters, Filter{
			Clause: "(transactions.envelope_id = ? OR transactions.from_envelope_id = ? OR transactions.to_envelope_id = ?)",
			Args:   []any{*f.EnvelopeID, *f.EnvelopeID, *f.EnvelopeID},
		})
	}
	if f.Type != nil {
		p.Filters = append(p.Filters, Filter{Clause: "transactions.type = ?", Args: []any{*f.Type}})
	}
	if f.Status != nil {
		p.Filters = append(p.Filters, Filter{Clause: "transactions.status = ?", Args: []any{*f.Status}})
	}
	if f.FromDate != nil {
		p.Filters = append(p.Filters, Filter{Clause: "transactions.date >= ?", Args: []any{*f.FromDate}})
	}
	if f.ToDate != nil {
		p.Filters = append(p.Filters, Filter{Clause: "transactions.date <= ?", Args: []any{*f.ToDate}})
	}
	if !f.IncludeVoid {
		p.Filters = append(p.Filters, Filter{Clause: "transactions.is_void = ?", Args: []any{false}})
	}
	return p
}

// PendingByEnvelope lists the non-void transactions touching one envelope.
func PendingByEnvelope(budgetID, envelopeID string) Plan {
	status := models.TransactionStatusPending
	return TransactionsByBudget(budgetID, TransactionFilter{EnvelopeID: &envelopeID, Status: &status})
}

// BudgetsForUser lists the budgets a user owns or shares, served from the
// budget_members index rather than a scan of every budget.
func BudgetsForUser(userID string, status *models.BudgetStatus) Plan {
	p := Plan{
		Collection: CollectionBudgets,
		Index:      IndexBudgetMembers,
		Filters: []Filter{
			{Clause: "budget_members.user_id = ?", Args: []any{userID}},
			{Clause: "budgets.is_active = ?", Args: []any{true}},
		},
		Order: "budgets.start_date DESC",
	}
	if status != nil {
		p.Filters = append(p.Filters, Filter{Clause: "budgets.status = ?", Args: []any{*status}})
	}
	return p
}

// BudgetsByOwner lists an owner's budgets in the given states. It backs the
// current-budget switch and the overlap check, both scoped to one owner.
func BudgetsByOwner(ownerID string, statuses ...models.BudgetStatus) Plan {
	p := Plan{
		Collection: CollectionBudgets,
		Filters: []Filter{
			{Clause: "budgets.owner_id = ?", Args: []any{ownerID}},
			{Clause: "budgets.is_active = ?", Args: []any{true}},
		},
		Order: "budgets.start_date ASC",
	}
	if len(statuses) > 0 {
		p.Filters = append(p.Filters, Filter{Clause: "budgets.status IN ?", Args: []any{statuses}})
	}
	return p
}

// CurrentBudgetOfOwner finds the owner's current budget, if any.
func CurrentBudgetOfOwner(ownerID string) Plan {
	p := BudgetsByOwner(ownerID)
	p.Filters = append(p.Filters, Filter{Clause: "budgets.is_current = ?", Args: []any{true}})
	return p
}

// ClosedBudgetsBefore lists closed budgets whose close time is older than
// cutoff. Used by the retention archiver.
func ClosedBudgetsBefore(cutoff time.Time, limit int) Plan {
	return Plan{
		Collection: CollectionBudgets,
		Filters: []Filter{
			{Clause: "budgets.status = ?", Args: []any{models.BudgetStatusClosed}},
			{Clause: "budgets.closed_at < ?", Args: []any{cutoff}},
		},
		Order: "budgets.closed_at ASC",
		Limit: limit,
	}
}
