package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"envledger/internal/balance"
	"envledger/internal/models"
	"envledger/internal/uuid"

	"gorm.io/gorm"
)

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// PeriodStart is the first day of the month all fixture budgets start in.
var PeriodStart = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

// CreateTestUser creates a user whose id is a fresh principal id.
func CreateTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	return CreateTestUserWithEmail(t, db, fmt.Sprintf("user%d@test.com", nextID()))
}

// CreateTestUserWithEmail creates a user with the given email.
func CreateTestUserWithEmail(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	id := uuid.New()
	user := &models.User{
		Base:        models.Base{ID: id, IsActive: true},
		Email:       email,
		DisplayName: email,
		Locale:      "en-US",
		Currency:    "USD",
		Timezone:    "UTC",
	}
	user.Touch(id, time.Now().UTC())
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateTestBudget creates an active, current one-month budget owned by ownerID
// along with its owner index row.
func CreateTestBudget(t *testing.T, db *gorm.DB, ownerID string) *models.Budget {
	t.Helper()
	return CreateTestBudgetWith(t, db, ownerID, nil)
}

// CreateTestBudgetWith creates a budget and lets mutate adjust it before insert.
func CreateTestBudgetWith(t *testing.T, db *gorm.DB, ownerID string, mutate func(*models.Budget)) *models.Budget {
	t.Helper()

	budget := &models.Budget{
		Base:      models.Base{IsActive: true},
		OwnerID:   ownerID,
		Name:      fmt.Sprintf("Test Budget %d", nextID()),
		Currency:  "USD",
		StartDate: PeriodStart,
		EndDate:   PeriodStart.AddDate(0, 1, 0),
		Status:    models.BudgetStatusActive,
		IsCurrent: true,
	}
	if mutate != nil {
		mutate(budget)
	}
	budget.Touch(ownerID, time.Now().UTC())
	balance.RecomputeBudget(budget)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(budget).Error; err != nil {
			return err
		}
		members := []models.BudgetMember{{UserID: ownerID, BudgetID: budget.ID, Role: models.BudgetMemberOwner, CreatedAt: budget.CreatedAt}}
		for _, p := range budget.SharedWith {
			members = append(members, models.BudgetMember{UserID: p, BudgetID: budget.ID, Role: models.BudgetMemberShared, CreatedAt: budget.CreatedAt})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		t.Fatalf("failed to create test budget: %v", err)
	}
	return budget
}

// CreateTestEnvelope creates an active essential envelope holding allocated cents.
// The budget's income and allocation totals are raised by the same amount so
// the fixture starts fully funded.
func CreateTestEnvelope(t *testing.T, db *gorm.DB, budget *models.Budget, allocated int64) *models.Envelope {
	t.Helper()
	return CreateTestEnvelopeWith(t, db, budget, allocated, nil)
}

// CreateTestEnvelopeWith creates an envelope and lets mutate adjust it before insert.
func CreateTestEnvelopeWith(t *testing.T, db *gorm.DB, budget *models.Budget, allocated int64, mutate func(*models.Envelope)) *models.Envelope {
	t.Helper()

	n := nextID()
	env := &models.Envelope{
		Base:            models.Base{IsActive: true},
		BudgetID:        budget.ID,
		Name:            fmt.Sprintf("Test Envelope %d", n),
		Category:        models.EnvelopeCategoryEssential,
		SortOrder:       int(n),
		AllocatedAmount: allocated,
		Status:          models.EnvelopeStatusActive,
	}
	if mutate != nil {
		mutate(env)
	}
	env.Touch(budget.OwnerID, time.Now().UTC())
	balance.RecomputeEnvelope(env)

	if err := db.Create(env).Error; err != nil {
		t.Fatalf("failed to create test envelope: %v", err)
	}

	if allocated != 0 {
		err := db.Model(&models.Budget{}).Where("id = ?", budget.ID).Updates(map[string]interface{}{
			"total_income":    gorm.Expr("total_income + ?", allocated),
			"total_allocated": gorm.Expr("total_allocated + ?", allocated),
			"version":         gorm.Expr("version + 1"),
		}).Error
		if err != nil {
			t.Fatalf("failed to fund test budget: %v", err)
		}
		if err := db.First(budget, "id = ?", budget.ID).Error; err != nil {
			t.Fatalf("failed to reload test budget: %v", err)
		}
	}
	return env
}

// CreateTestExpense inserts a pending expense row without touching balances.
// Use it for tests that only need history, such as the draft-revert guard.
func CreateTestExpense(t *testing.T, db *gorm.DB, budget *models.Budget, envelopeID string, amount int64) *models.Transaction {
	t.Helper()

	tx := &models.Transaction{
		Base:            models.Base{IsActive: true},
		BudgetID:        budget.ID,
		Type:            models.TransactionTypeExpense,
		Amount:          amount,
		EnvelopeID:      &envelopeID,
		Date:            budget.StartDate.AddDate(0, 0, 1),
		Status:          models.TransactionStatusPending,
		CreatedByUserID: budget.OwnerID,
	}
	tx.Touch(budget.OwnerID, time.Now().UTC())
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("failed to create test transaction: %v", err)
	}
	return tx
}

// ReloadEnvelope reads the envelope back from the database.
func ReloadEnvelope(t *testing.T, db *gorm.DB, id string) *models.Envelope {
	t.Helper()

	var env models.Envelope
	if err := db.First(&env, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload envelope: %v", err)
	}
	return &env
}

// ReloadBudget reads the budget back from the database.
func ReloadBudget(t *testing.T, db *gorm.DB, id string) *models.Budget {
	t.Helper()

	var b models.Budget
	if err := db.First(&b, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload budget: %v", err)
	}
	return &b
}
