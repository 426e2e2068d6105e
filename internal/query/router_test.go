package query_test

import (
	"strings"
	"testing"
	"time"

	"envledger/internal/models"
	"envledger/internal/query"
	"envledger/internal/testutil"

	"gorm.io/gorm"
)

func TestPlan_Validate(t *testing.T) {
	tests := []struct {
		name    string
		plan    query.Plan
		wantErr bool
	}{
		{"envelopes_scoped", query.EnvelopesByBudget("b1", false), false},
		{"envelopes_unscoped", query.EnvelopesByBudget("", false), true},
		{"transactions_scoped", query.TransactionsByBudget("b1", query.TransactionFilter{}), false},
		{"transactions_unscoped", query.TransactionsByBudget("", query.TransactionFilter{}), true},
		{"transactions_wrong_column", query.Plan{Collection: query.CollectionTransactions, RoutingColumn: "id", RoutingKey: "t1"}, true},
		{"budgets_for_user", query.BudgetsForUser("u1", nil), false},
		{"budgets_by_owner", query.BudgetsByOwner("u1"), false},
		{"users_by_id", query.Plan{Collection: query.CollectionUsers}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				testutil.AssertAppError(t, err, "CROSS_PARTITION_QUERY")
				return
			}
			testutil.AssertNoError(t, err)
		})
	}
}

func dryRunSQL(t *testing.T, plan query.Plan) string {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

	var rows []map[string]interface{}
	stmt := plan.Apply(db.Session(&gorm.Session{DryRun: true})).Find(&rows).Statement
	return stmt.SQL.String()
}

func TestPlan_Apply(t *testing.T) {
	t.Run("transactions_filter_by_envelope_on_any_side", func(t *testing.T) {
		env := "e1"
		sql := dryRunSQL(t, query.TransactionsByBudget("b1", query.TransactionFilter{EnvelopeID: &env}))
		for _, want := range []string{"transactions.budget_id = ?", "transactions.from_envelope_id = ?", "transactions.to_envelope_id = ?", "transactions.is_void = ?"} {
			if !strings.Contains(sql, want) {
				t.Errorf("expected %q in %s", want, sql)
			}
		}
	})

	t.Run("include_void_drops_void_filter", func(t *testing.T) {
		sql := dryRunSQL(t, query.TransactionsByBudget("b1", query.TransactionFilter{IncludeVoid: true}))
		if strings.Contains(sql, "is_void") {
			t.Errorf("did not expect is_void filter in %s", sql)
		}
	})

	t.Run("date_and_type_filters", func(t *testing.T) {
		from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		typ := models.TransactionTypeExpense
		sql := dryRunSQL(t, query.TransactionsByBudget("b1", query.TransactionFilter{FromDate: &from, Type: &typ}))
		if !strings.Contains(sql, "transactions.date >= ?") || !strings.Contains(sql, "transactions.type = ?") {
			t.Errorf("expected date and type filters in %s", sql)
		}
	})

	t.Run("budgets_for_user_joins_member_index", func(t *testing.T) {
		status := models.BudgetStatusActive
		sql := dryRunSQL(t, query.BudgetsForUser("u1", &status))
		if !strings.Contains(sql, "JOIN budget_members") || !strings.Contains(sql, "budget_members.user_id = ?") {
			t.Errorf("expected budget_members join in %s", sql)
		}
	})

	t.Run("budgets_for_user_count_drops_projection", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

		var n int64
		stmt := query.BudgetsForUser("u1", nil).Page(5, 10).Count().
			Apply(db.Session(&gorm.Session{DryRun: true})).Count(&n).Statement
		sql := stmt.SQL.String()
		if strings.Contains(sql, "budgets.*") {
			t.Errorf("count must not select budgets.*: %s", sql)
		}
		if !strings.Contains(sql, "JOIN budget_members") || strings.Contains(sql, "LIMIT") {
			t.Errorf("expected unpaged budget_members join in %s", sql)
		}
	})

	t.Run("paging", func(t *testing.T) {
		sql := dryRunSQL(t, query.EnvelopesByBudget("b1", true).Page(10, 20))
		if !strings.Contains(sql, "LIMIT 10") || !strings.Contains(sql, "OFFSET 20") {
			t.Errorf("expected paging in %s", sql)
		}
		if strings.Contains(sql, "is_active") {
			t.Errorf("includeInactive should drop the active filter: %s", sql)
		}
	})
}
