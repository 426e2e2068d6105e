// Package balance holds the pure arithmetic of the ledger: derived envelope
// and budget fields, the balance effect of a transaction, overspend limits
// and rollover carry-forward. Nothing here touches storage; callers write
// the results back in the same store operation as the mutation.
package balance

import (
	"envledger/internal/models"
)

// EnvelopeBalance is allocated + rollover - spent.
func EnvelopeBalance(allocated, rollover, spent int64) int64 {
	return allocated + rollover - spent
}

// BudgetRemaining is income - allocated.
func BudgetRemaining(income, allocated int64) int64 {
	return income - allocated
}

// Delta is the change a transaction makes to one envelope.
type Delta struct {
	Allocated int64
	Spent     int64
}

// Effect is the full balance effect of a transaction: per-envelope deltas
// plus the budget aggregate deltas.
type Effect struct {
	Envelopes map[string]Delta
	Income    int64
	Allocated int64
	Spent     int64
}

// Contribution returns the balance effect of tx. Voided transactions
// contribute nothing.
func Contribution(tx *models.Transaction) Effect {
	eff := Effect{Envelopes: map[string]Delta{}}
	if tx == nil || tx.IsVoid || tx.Status == models.TransactionStatusVoid {
		return eff
	}

	switch tx.Type {
	case models.TransactionTypeIncome:
		eff.Income = tx.Amount
		if tx.EnvelopeID != nil && *tx.EnvelopeID != "" {
			eff.Envelopes[*tx.EnvelopeID] = Delta{Allocated: tx.Amount}
			eff.Allocated = tx.Amount
		}
	case models.TransactionTypeExpense:
		if tx.EnvelopeID != nil {
			eff.Envelopes[*tx.EnvelopeID] = Delta{Spent: tx.Amount}
		}
		eff.Spent = tx.Amount
	case models.TransactionTypeTransfer:
		if tx.FromEnvelopeID != nil && tx.ToEnvelopeID != nil {
			eff.Envelopes[*tx.FromEnvelopeID] = Delta{Allocated: -tx.Amount}
			eff.Envelopes[*tx.ToEnvelopeID] = Delta{Allocated: tx.Amount}
		}
	}
	return eff
}

// Negate returns the inverse effect, used to back a transaction out.
func (e Effect) Negate() Effect {
	out := Effect{
		Envelopes: make(map[string]Delta, len(e.Envelopes)),
		Income:    -e.Income,
		Allocated: -e.Allocated,
		Spent:     -e.Spent,
	}
	for id, d := range e.Envelopes {
		out.Envelopes[id] = Delta{Allocated: -d.Allocated, Spent: -d.Spent}
	}
	return out
}

// Plus combines two effects.
func (e Effect) Plus(other Effect) Effect {
	out := Effect{
		Envelopes: make(map[string]Delta, len(e.Envelopes)+len(other.Envelopes)),
		Income:    e.Income + other.Income,
		Allocated: e.Allocated + other.Allocated,
		Spent:     e.Spent + other.Spent,
	}
	for id, d := range e.Envelopes {
		out.Envelopes[id] = d
	}
	for id, d := range other.Envelopes {
		cur := out.Envelopes[id]
		out.Envelopes[id] = Delta{Allocated: cur.Allocated + d.Allocated, Spent: cur.Spent + d.Spent}
	}
	return out
}

// Replay sums the contributions of a transaction history.
func Replay(txs []models.Transaction) Effect {
	total := Effect{Envelopes: map[string]Delta{}}
	for i := range txs {
		total = total.Plus(Contribution(&txs[i]))
	}
	return total
}

// Projected returns the balance env would have after applying d.
func Projected(env *models.Envelope, d Delta) int64 {
	return EnvelopeBalance(env.AllocatedAmount+d.Allocated, env.RolloverAmount, env.SpentAmount+d.Spent)
}

// WithinOverspendLimit reports whether projected is an acceptable balance
// for env. Without overspend the floor is zero; with overspend and a limit
// the floor is -limit; with overspend and no limit anything goes.
func WithinOverspendLimit(env *models.Envelope, projected int64) bool {
	if projected >= 0 {
		return true
	}
	if !env.IsOverspendAllowed {
		return false
	}
	if env.MaxOverspendAmount == nil {
		return true
	}
	return projected >= -*env.MaxOverspendAmount
}

// ApplyToEnvelope adds d to env and recomputes its balance.
func ApplyToEnvelope(env *models.Envelope, d Delta) {
	env.AllocatedAmount += d.Allocated
	env.SpentAmount += d.Spent
	RecomputeEnvelope(env)
}

// ApplyToBudget adds the aggregate part of e to b and recomputes its remaining total.
func ApplyToBudget(b *models.Budget, e Effect) {
	b.TotalIncome += e.Income
	b.TotalAllocated += e.Allocated
	b.TotalSpent += e.Spent
	RecomputeBudget(b)
}

// RecomputeEnvelope rewrites the derived CurrentBalance.
func RecomputeEnvelope(env *models.Envelope) {
	env.CurrentBalance = EnvelopeBalance(env.AllocatedAmount, env.RolloverAmount, env.SpentAmount)
}

// RecomputeBudget rewrites the derived TotalRemaining.
func RecomputeBudget(b *models.Budget) {
	b.TotalRemaining = BudgetRemaining(b.TotalIncome, b.TotalAllocated)
}

// OverAllocated reports whether more has been allocated than earned. This is
// surfaced as a warning, never rejected.
func OverAllocated(b *models.Budget) bool {
	return b.TotalAllocated > b.TotalIncome
}

// Rollover returns the amount an envelope carries into the next period.
func Rollover(finalBalance int64, allowRollover bool) int64 {
	if !allowRollover {
		return 0
	}
	return finalBalance
}

// Period is one budget period's activity for a single envelope lineage.
type Period struct {
	Allocated     int64
	Spent         int64
	AllowRollover bool
}

// ChainBalances computes the closing balance of each period of an envelope
// lineage directly, carrying each closing balance into the next period.
func ChainBalances(initialRollover int64, periods []Period) []int64 {
	out := make([]int64, len(periods))
	carry := initialRollover
	for i, p := range periods {
		out[i] = EnvelopeBalance(p.Allocated, carry, p.Spent)
		carry = Rollover(out[i], p.AllowRollover)
	}
	return out
}
