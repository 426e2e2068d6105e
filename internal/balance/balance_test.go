package balance

import (
	"math/rand"
	"testing"

	"envledger/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestEnvelopeBalance(t *testing.T) {
	tests := []struct {
		name                       string
		allocated, rollover, spent int64
		want                       int64
	}{
		{"groceries_scenario", 60000, 0, 12743, 47257},
		{"with_rollover", 10000, 2500, 5000, 7500},
		{"overspent", 10000, 0, 12000, -2000},
		{"negative_rollover", 10000, -3000, 0, 7000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnvelopeBalance(tt.allocated, tt.rollover, tt.spent); got != tt.want {
				t.Errorf("EnvelopeBalance() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBudgetRemaining(t *testing.T) {
	if got := BudgetRemaining(500000, 60000); got != 440000 {
		t.Errorf("expected 440000, got %d", got)
	}
	if got := BudgetRemaining(1000, 1500); got != -500 {
		t.Errorf("over-allocation should go negative, got %d", got)
	}
}

func TestContribution(t *testing.T) {
	t.Run("income_unallocated", func(t *testing.T) {
		eff := Contribution(&models.Transaction{Type: models.TransactionTypeIncome, Amount: 5000})
		if eff.Income != 5000 || eff.Allocated != 0 || len(eff.Envelopes) != 0 {
			t.Errorf("unexpected effect %+v", eff)
		}
	})

	t.Run("income_to_envelope", func(t *testing.T) {
		eff := Contribution(&models.Transaction{Type: models.TransactionTypeIncome, Amount: 5000, EnvelopeID: ptr("e1")})
		if eff.Income != 5000 || eff.Allocated != 5000 || eff.Envelopes["e1"].Allocated != 5000 {
			t.Errorf("unexpected effect %+v", eff)
		}
	})

	t.Run("expense", func(t *testing.T) {
		eff := Contribution(&models.Transaction{Type: models.TransactionTypeExpense, Amount: 700, EnvelopeID: ptr("e1")})
		if eff.Spent != 700 || eff.Envelopes["e1"].Spent != 700 {
			t.Errorf("unexpected effect %+v", eff)
		}
	})

	t.Run("transfer_leaves_budget_totals", func(t *testing.T) {
		eff := Contribution(&models.Transaction{Type: models.TransactionTypeTransfer, Amount: 100, FromEnvelopeID: ptr("e1"), ToEnvelopeID: ptr("e2")})
		if eff.Income != 0 || eff.Allocated != 0 || eff.Spent != 0 {
			t.Errorf("transfer must not move budget totals: %+v", eff)
		}
		if eff.Envelopes["e1"].Allocated != -100 || eff.Envelopes["e2"].Allocated != 100 {
			t.Errorf("unexpected envelope deltas %+v", eff.Envelopes)
		}
	})

	t.Run("void_contributes_nothing", func(t *testing.T) {
		eff := Contribution(&models.Transaction{Type: models.TransactionTypeExpense, Amount: 700, EnvelopeID: ptr("e1"), IsVoid: true, Status: models.TransactionStatusVoid})
		if eff.Spent != 0 || len(eff.Envelopes) != 0 {
			t.Errorf("void should be zero, got %+v", eff)
		}
	})
}

func TestNegateCancels(t *testing.T) {
	tx := &models.Transaction{Type: models.TransactionTypeIncome, Amount: 5000, EnvelopeID: ptr("e1")}
	sum := Contribution(tx).Plus(Contribution(tx).Negate())
	if sum.Income != 0 || sum.Allocated != 0 || sum.Spent != 0 || sum.Envelopes["e1"] != (Delta{}) {
		t.Errorf("expected zero effect, got %+v", sum)
	}
}

func TestWithinOverspendLimit(t *testing.T) {
	tests := []struct {
		name      string
		env       models.Envelope
		projected int64
		want      bool
	}{
		{"non_negative", models.Envelope{}, 0, true},
		{"negative_without_overspend", models.Envelope{}, -5000, false},
		{"overspend_unbounded", models.Envelope{IsOverspendAllowed: true}, -1000000, true},
		{"overspend_within_limit", models.Envelope{IsOverspendAllowed: true, MaxOverspendAmount: ptr(int64(5000))}, -5000, true},
		{"overspend_past_limit", models.Envelope{IsOverspendAllowed: true, MaxOverspendAmount: ptr(int64(5000))}, -5001, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithinOverspendLimit(&tt.env, tt.projected); got != tt.want {
				t.Errorf("WithinOverspendLimit() = %v, want %v", got, tt.want)
			}
		})
	}
}

// After any sequence of non-void transactions applied incrementally, the
// balance formula must hold and agree with a replay of the history.
func TestBalanceFormulaHoldsUnderRandomHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"e1", "e2", "e3"}

	for run := 0; run < 50; run++ {
		envs := map[string]*models.Envelope{}
		for _, id := range ids {
			envs[id] = &models.Envelope{AllocatedAmount: rng.Int63n(100000), RolloverAmount: rng.Int63n(5000) - 2500}
			RecomputeEnvelope(envs[id])
		}
		start := map[string]models.Envelope{}
		for id, e := range envs {
			start[id] = *e
		}
		budget := &models.Budget{TotalIncome: 500000}
		RecomputeBudget(budget)

		var history []models.Transaction
		for i := 0; i < 40; i++ {
			tx := randomTransaction(rng, ids)
			eff := Contribution(&tx)
			for id, d := range eff.Envelopes {
				ApplyToEnvelope(envs[id], d)
			}
			ApplyToBudget(budget, eff)
			history = append(history, tx)
		}

		replayed := Replay(history)
		for id, e := range envs {
			if e.CurrentBalance != EnvelopeBalance(e.AllocatedAmount, e.RolloverAmount, e.SpentAmount) {
				t.Fatalf("run %d: formula broken for %s: %+v", run, id, e)
			}
			d := replayed.Envelopes[id]
			if e.AllocatedAmount != start[id].AllocatedAmount+d.Allocated || e.SpentAmount != start[id].SpentAmount+d.Spent {
				t.Fatalf("run %d: incremental and replayed balances disagree for %s", run, id)
			}
		}
		if budget.TotalRemaining != budget.TotalIncome-budget.TotalAllocated {
			t.Fatalf("run %d: totalRemaining invariant broken: %+v", run, budget)
		}
	}
}

func randomTransaction(rng *rand.Rand, ids []string) models.Transaction {
	amount := rng.Int63n(10000) + 1
	switch rng.Intn(3) {
	case 0:
		tx := models.Transaction{Type: models.TransactionTypeIncome, Amount: amount}
		if rng.Intn(2) == 0 {
			tx.EnvelopeID = ptr(ids[rng.Intn(len(ids))])
		}
		return tx
	case 1:
		return models.Transaction{Type: models.TransactionTypeExpense, Amount: amount, EnvelopeID: ptr(ids[rng.Intn(len(ids))])}
	default:
		from := rng.Intn(len(ids))
		to := (from + 1 + rng.Intn(len(ids)-1)) % len(ids)
		return models.Transaction{Type: models.TransactionTypeTransfer, Amount: amount, FromEnvelopeID: ptr(ids[from]), ToEnvelopeID: ptr(ids[to])}
	}
}

func TestChainBalances(t *testing.T) {
	periods := []Period{
		{Allocated: 60000, Spent: 12743, AllowRollover: true},
		{Allocated: 60000, Spent: 70000, AllowRollover: true},
		{Allocated: 60000, Spent: 10000, AllowRollover: false},
	}
	got := ChainBalances(0, periods)
	want := []int64{47257, 37257, 87257}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("period %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	// Rolling A->B and then B->C equals computing the chain in one go.
	ab := ChainBalances(0, periods[:2])
	c := ChainBalances(Rollover(ab[1], periods[1].AllowRollover), periods[2:])
	if c[0] != got[2] {
		t.Errorf("stepwise rollover %d differs from direct chain %d", c[0], got[2])
	}
}
