package services

import (
	"context"
	"os"
	"testing"
	"time"

	"envledger/internal/access"
	"envledger/internal/events"
	"envledger/internal/logger"
	"envledger/internal/store"
	"envledger/internal/testutil"

	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Init("test")
	os.Exit(m.Run())
}

// testLedger wires every ledger service against one in-memory database.
type testLedger struct {
	db        *gorm.DB
	store     *store.Store
	auth      *access.Resolver
	events    *events.Recorder
	users     UserServicer
	budgets   BudgetServicer
	envelopes EnvelopeServicer
	txs       *transactionService
	rollover  RolloverServicer
	archive   ArchiveServicer
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

	st := store.New(db)
	auth := access.NewResolver(st, 100, time.Minute, nil)
	rec := &events.Recorder{}
	audit := NewAuditService(db)

	return &testLedger{
		db:        db,
		store:     st,
		auth:      auth,
		events:    rec,
		users:     NewUserService(st),
		budgets:   NewBudgetService(st, auth, rec, audit, 3),
		envelopes: NewEnvelopeService(st, auth, rec, audit),
		txs:       NewTransactionService(st, auth, rec, audit).(*transactionService),
		rollover:  NewRolloverService(st, auth, rec, audit),
		archive:   NewArchiveService(st, rec, nil, 24*time.Hour),
	}
}

var testCtx = context.Background()

func strPtr(s string) *string { return &s }
