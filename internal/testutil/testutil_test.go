package testutil_test

import (
	"testing"

	"envledger/internal/errors"
	"envledger/internal/models"
	"envledger/internal/testutil"
)

func TestSetupTestDB(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	var count int64
	for _, table := range []string{"users", "budgets", "budget_members", "envelopes", "transactions", "audit_logs"} {
		if err := db.Table(table).Count(&count).Error; err != nil {
			t.Errorf("table %q should exist after migration: %v", table, err)
		}
	}
}

func TestSetupTestDB_Isolated(t *testing.T) {
	a := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, a)
	b := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, b)

	testutil.CreateTestUser(t, a)

	var count int64
	b.Model(&models.User{}).Count(&count)
	if count != 0 {
		t.Errorf("expected second database to be empty, found %d users", count)
	}
}

func TestFixtures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	user := testutil.CreateTestUser(t, db)
	if user.ID == "" {
		t.Fatal("expected user to have an ID")
	}

	budget := testutil.CreateTestBudget(t, db, user.ID)
	if !budget.IsCurrent || budget.Status != models.BudgetStatusActive {
		t.Errorf("expected an active current budget, got status=%s current=%v", budget.Status, budget.IsCurrent)
	}

	var members int64
	db.Model(&models.BudgetMember{}).Where("budget_id = ? AND user_id = ?", budget.ID, user.ID).Count(&members)
	if members != 1 {
		t.Errorf("expected owner member row, got %d", members)
	}

	env := testutil.CreateTestEnvelope(t, db, budget, 60000)
	if env.CurrentBalance != 60000 {
		t.Errorf("expected balance 60000, got %d", env.CurrentBalance)
	}
	if budget.TotalIncome != 60000 || budget.TotalAllocated != 60000 {
		t.Errorf("expected budget funded with 60000, got income=%d allocated=%d", budget.TotalIncome, budget.TotalAllocated)
	}
	if budget.TotalRemaining != 0 {
		t.Errorf("expected remaining 0, got %d", budget.TotalRemaining)
	}
}

func TestSingleCurrentBudgetIndex(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	user := testutil.CreateTestUser(t, db)
	testutil.CreateTestBudget(t, db, user.ID)

	second := &models.Budget{OwnerID: user.ID, Name: "dup", Status: models.BudgetStatusDraft, IsCurrent: true,
		StartDate: testutil.PeriodStart.AddDate(0, 1, 0), EndDate: testutil.PeriodStart.AddDate(0, 2, 0)}
	if err := db.Create(second).Error; err == nil {
		t.Error("expected unique index to reject a second current budget")
	}
}

func TestAssertAppError(t *testing.T) {
	testutil.AssertAppError(t, errors.ErrBudgetNotFound, "BUDGET_NOT_FOUND")
}

func TestAssertNoError(t *testing.T) {
	testutil.AssertNoError(t, nil)
}
