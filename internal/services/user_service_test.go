package services

import (
	"testing"

	"envledger/internal/testutil"
)

func TestEnsureUser(t *testing.T) {
	t.Run("creates_on_first_login", func(t *testing.T) {
		l := newTestLedger(t)

		user, err := l.users.EnsureUser(testCtx, Identity{ID: "principal-1", Email: "Ana@Example.com"})
		testutil.AssertNoError(t, err)
		if user.ID != "principal-1" || user.Email != "ana@example.com" {
			t.Errorf("unexpected user %s/%s", user.ID, user.Email)
		}
		if user.DisplayName != "ana@example.com" || user.LastSeenAt == nil {
			t.Error("expected display name defaulted and last seen stamped")
		}

		again, err := l.users.EnsureUser(testCtx, Identity{ID: "principal-1"})
		testutil.AssertNoError(t, err)
		if again.ID != user.ID || again.Email != user.Email {
			t.Error("expected the existing profile to be returned")
		}
	})

	t.Run("empty_principal", func(t *testing.T) {
		l := newTestLedger(t)
		_, err := l.users.EnsureUser(testCtx, Identity{})
		testutil.AssertAppError(t, err, "UNAUTHORIZED")
	})

	t.Run("deactivated", func(t *testing.T) {
		l := newTestLedger(t)
		user := testutil.CreateTestUser(t, l.db)

		testutil.AssertNoError(t, l.users.DeactivateUser(testCtx, user.ID))

		_, err := l.users.EnsureUser(testCtx, Identity{ID: user.ID})
		testutil.AssertAppError(t, err, "UNAUTHORIZED")
		_, err = l.users.GetUser(testCtx, user.ID)
		testutil.AssertAppError(t, err, "USER_NOT_FOUND")
	})
}

func TestUpdatePreferences(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		l := newTestLedger(t)
		user := testutil.CreateTestUser(t, l.db)

		tz := "Europe/Lisbon"
		currency := "eur"
		alerts := true
		updated, err := l.users.UpdatePreferences(testCtx, user.ID, UserPreferences{Timezone: &tz, Currency: &currency, BudgetAlerts: &alerts})
		testutil.AssertNoError(t, err)
		if updated.Timezone != tz || updated.Currency != "EUR" || !updated.BudgetAlerts {
			t.Errorf("unexpected preferences %s/%s/%v", updated.Timezone, updated.Currency, updated.BudgetAlerts)
		}
		if updated.Version != user.Version+1 {
			t.Errorf("expected version %d, got %d", user.Version+1, updated.Version)
		}
	})

	t.Run("invalid_timezone", func(t *testing.T) {
		l := newTestLedger(t)
		user := testutil.CreateTestUser(t, l.db)

		tz := "Mars/Olympus"
		_, err := l.users.UpdatePreferences(testCtx, user.ID, UserPreferences{Timezone: &tz})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("unknown_user", func(t *testing.T) {
		l := newTestLedger(t)
		name := "Ghost"
		_, err := l.users.UpdatePreferences(testCtx, "missing", UserPreferences{DisplayName: &name})
		testutil.AssertAppError(t, err, "USER_NOT_FOUND")
	})
}
