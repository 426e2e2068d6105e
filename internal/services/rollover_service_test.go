package services

import (
	"testing"
	"time"

	"envledger/internal/balance"
	"envledger/internal/events"
	"envledger/internal/models"
	"envledger/internal/testutil"
)

func TestCloseBudget(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		budget := testutil.CreateTestBudget(t, l.db, owner.ID)

		closed, err := l.rollover.CloseBudget(testCtx, owner.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if closed.Status != models.BudgetStatusClosed || closed.IsCurrent || closed.ClosedAt == nil {
			t.Errorf("expected closed non-current budget, got %s current=%v", closed.Status, closed.IsCurrent)
		}
		if n := len(l.events.OfType(events.BudgetClosed)); n != 1 {
			t.Errorf("expected 1 closed event, got %d", n)
		}

		_, err = l.rollover.CloseBudget(testCtx, owner.ID, budget.ID)
		testutil.AssertAppError(t, err, "INVALID_STATUS_TRANSITION")
	})

	t.Run("draft", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		budget := testutil.CreateTestBudgetWith(t, l.db, owner.ID, func(b *models.Budget) {
			b.Status = models.BudgetStatusDraft
			b.IsCurrent = false
		})

		_, err := l.rollover.CloseBudget(testCtx, owner.ID, budget.ID)
		testutil.AssertAppError(t, err, "INVALID_STATUS_TRANSITION")
	})
}

// closeAndRoll closes budget and opens the period after it.
func closeAndRoll(t *testing.T, l *testLedger, principal string, budget *models.Budget, tmpl RolloverTemplate) *RolloverResult {
	t.Helper()
	_, err := l.rollover.CloseBudget(testCtx, principal, budget.ID)
	testutil.AssertNoError(t, err)
	res, err := l.rollover.OpenNextPeriod(testCtx, principal, budget.ID, tmpl)
	testutil.AssertNoError(t, err)
	return res
}

func envelopeNamed(t *testing.T, envs []models.Envelope, name string) *models.Envelope {
	t.Helper()
	for i := range envs {
		if envs[i].Name == name {
			return &envs[i]
		}
	}
	t.Fatalf("no envelope named %q", name)
	return nil
}

func TestOpenNextPeriod(t *testing.T) {
	t.Run("chain_matches_direct_computation", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		a := testutil.CreateTestBudget(t, l.db, owner.ID)
		rent := testutil.CreateTestEnvelopeWith(t, l.db, a, 100000, func(e *models.Envelope) {
			e.Name = "Rent"
			e.IsRecurring = true
			e.AllowRollover = true
		})
		_, err := l.txs.Apply(testCtx, owner.ID, RecordExpense{BudgetID: a.ID, EnvelopeID: rent.ID, Amount: 30000})
		testutil.AssertNoError(t, err)

		b := closeAndRoll(t, l, owner.ID, a, RolloverTemplate{})
		rentB := envelopeNamed(t, b.Envelopes, "Rent")
		if rentB.PreviousEnvelopeID == nil || *rentB.PreviousEnvelopeID != rent.ID {
			t.Error("expected back-reference to the previous envelope")
		}
		_, err = l.budgets.ActivateBudget(testCtx, owner.ID, b.Budget.ID)
		testutil.AssertNoError(t, err)
		_, err = l.txs.Apply(testCtx, owner.ID, RecordExpense{BudgetID: b.Budget.ID, EnvelopeID: rentB.ID, Amount: 50000})
		testutil.AssertNoError(t, err)

		c := closeAndRoll(t, l, owner.ID, b.Budget, RolloverTemplate{})
		rentC := envelopeNamed(t, c.Envelopes, "Rent")

		want := balance.ChainBalances(0, []balance.Period{
			{Allocated: 100000, Spent: 30000, AllowRollover: true},
			{Allocated: 100000, Spent: 50000, AllowRollover: true},
			{Allocated: 100000, Spent: 0, AllowRollover: true},
		})
		got := []int64{
			testutil.ReloadEnvelope(t, l.db, rent.ID).CurrentBalance,
			testutil.ReloadEnvelope(t, l.db, rentB.ID).CurrentBalance,
			testutil.ReloadEnvelope(t, l.db, rentC.ID).CurrentBalance,
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("period %d: balance %d, direct chain gives %d", i, got[i], want[i])
			}
		}
	})

	t.Run("copies_recurring_only", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		a := testutil.CreateTestBudget(t, l.db, owner.ID)
		testutil.CreateTestEnvelopeWith(t, l.db, a, 20000, func(e *models.Envelope) {
			e.Name = "Gym"
			e.IsRecurring = true
		})
		testutil.CreateTestEnvelopeWith(t, l.db, a, 5000, func(e *models.Envelope) { e.Name = "Gift" })
		testutil.CreateTestEnvelopeWith(t, l.db, a, 5000, func(e *models.Envelope) {
			e.Name = "Old"
			e.IsRecurring = true
			e.Status = models.EnvelopeStatusClosed
		})

		res := closeAndRoll(t, l, owner.ID, a, RolloverTemplate{})
		if len(res.Envelopes) != 1 {
			t.Fatalf("expected only the open recurring envelope, got %d", len(res.Envelopes))
		}
		gym := res.Envelopes[0]
		if gym.Name != "Gym" || gym.RolloverAmount != 0 || gym.PreviousEnvelopeID != nil || gym.CurrentBalance != 20000 {
			t.Errorf("unexpected copy %+v", gym)
		}
		if res.Budget.TotalAllocated != 20000 {
			t.Errorf("expected budget allocated 20000, got %d", res.Budget.TotalAllocated)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		p2 := testutil.CreateTestUser(t, l.db)
		a := testutil.CreateTestBudgetWith(t, l.db, owner.ID, func(b *models.Budget) {
			b.SharedWith = models.PrincipalSet{p2.ID}
		})

		res := closeAndRoll(t, l, p2.ID, a, RolloverTemplate{})
		next := res.Budget
		if !next.StartDate.Equal(a.EndDate) || !next.EndDate.Equal(time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("expected April period, got %s - %s", next.StartDate, next.EndDate)
		}
		if next.Status != models.BudgetStatusDraft || next.IsCurrent {
			t.Errorf("expected non-current draft, got %s", next.Status)
		}
		if next.OwnerID != owner.ID || next.CreatedBy != p2.ID || !next.SharedWith.Contains(p2.ID) {
			t.Errorf("expected owner %s, creator %s and shared set kept", owner.ID, p2.ID)
		}
		if next.PreviousBudgetID == nil || *next.PreviousBudgetID != a.ID {
			t.Error("expected back-reference to the previous budget")
		}
	})

	t.Run("allocation_override", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		a := testutil.CreateTestBudget(t, l.db, owner.ID)
		testutil.CreateTestEnvelopeWith(t, l.db, a, 20000, func(e *models.Envelope) {
			e.Name = "Food"
			e.IsRecurring = true
		})

		res := closeAndRoll(t, l, owner.ID, a, RolloverTemplate{Allocations: map[string]int64{"food": 35000}})
		if got := res.Envelopes[0].AllocatedAmount; got != 35000 {
			t.Errorf("expected overridden allocation 35000, got %d", got)
		}
	})

	t.Run("unknown_allocation", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		a := testutil.CreateTestBudget(t, l.db, owner.ID)
		_, err := l.rollover.CloseBudget(testCtx, owner.ID, a.ID)
		testutil.AssertNoError(t, err)

		_, err = l.rollover.OpenNextPeriod(testCtx, owner.ID, a.ID, RolloverTemplate{Allocations: map[string]int64{"Travel": 100}})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("collision_creates_nothing", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		a := testutil.CreateTestBudget(t, l.db, owner.ID)
		for _, name := range []string{"Fuel", "Parking"} {
			testutil.CreateTestEnvelopeWith(t, l.db, a, 1000, func(e *models.Envelope) {
				e.Name = name
				e.SortOrder = 7
				e.IsRecurring = true
			})
		}
		_, err := l.rollover.CloseBudget(testCtx, owner.ID, a.ID)
		testutil.AssertNoError(t, err)

		_, err = l.rollover.OpenNextPeriod(testCtx, owner.ID, a.ID, RolloverTemplate{})
		testutil.AssertAppError(t, err, "ROLLOVER_COLLISION")

		var budgets int64
		l.db.Model(&models.Budget{}).Where("owner_id = ?", owner.ID).Count(&budgets)
		if budgets != 1 {
			t.Errorf("expected no new budget, got %d budgets", budgets)
		}
	})

	t.Run("previous_not_closed", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		a := testutil.CreateTestBudget(t, l.db, owner.ID)

		_, err := l.rollover.OpenNextPeriod(testCtx, owner.ID, a.ID, RolloverTemplate{})
		testutil.AssertAppError(t, err, "INVALID_STATUS_TRANSITION")
	})

	t.Run("overlapping_template", func(t *testing.T) {
		l := newTestLedger(t)
		owner := testutil.CreateTestUser(t, l.db)
		a := testutil.CreateTestBudget(t, l.db, owner.ID)
		start, end := april()
		_, err := l.budgets.CreateBudget(testCtx, owner.ID, CreateBudgetInput{Name: "April", StartDate: start, EndDate: end})
		testutil.AssertNoError(t, err)
		_, err = l.rollover.CloseBudget(testCtx, owner.ID, a.ID)
		testutil.AssertNoError(t, err)

		_, err = l.rollover.OpenNextPeriod(testCtx, owner.ID, a.ID, RolloverTemplate{})
		testutil.AssertAppError(t, err, "BUDGET_OVERLAP")
	})
}

func TestNextPeriod(t *testing.T) {
	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "january_to_february",
			start:     time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			end:       time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "quarter",
			start:     time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
			end:       time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2027, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "two_weeks",
			start:     time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
			end:       time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.March, 30, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := nextPeriod(tt.start, tt.end)
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("got %s - %s, want %s - %s", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}
