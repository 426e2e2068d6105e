package services

import (
	"strings"
	"time"

	apperrors "envledger/internal/errors"
	"envledger/internal/models"
)

// CommandKind discriminates ledger commands.
type CommandKind string

const (
	KindRecordIncome    CommandKind = "recordIncome"
	KindRecordExpense   CommandKind = "recordExpense"
	KindRecordTransfer  CommandKind = "recordTransfer"
	KindVoidTransaction CommandKind = "voidTransaction"
)

// Command is a ledger mutation handled by the transaction processor. The set
// of implementations is closed.
type Command interface {
	Kind() CommandKind
	Budget() string
	sealed()
}

// RecordIncome posts income to the budget, into an envelope when one is
// given and as unallocated income otherwise.
type RecordIncome struct {
	BudgetID    string
	EnvelopeID  *string
	Amount      int64
	Description string
	Payee       string
	Date        time.Time
}

// RecordExpense spends from one envelope.
type RecordExpense struct {
	BudgetID    string
	EnvelopeID  string
	Amount      int64
	Description string
	Payee       string
	Date        time.Time
}

// RecordTransfer moves allocation between two envelopes of the same budget.
type RecordTransfer struct {
	BudgetID       string
	FromEnvelopeID string
	ToEnvelopeID   string
	Amount         int64
	Description    string
	Date           time.Time
}

// VoidTransaction reverses a transaction's effect and retires it.
type VoidTransaction struct {
	BudgetID      string
	TransactionID string
	Reason        string
}

func (RecordIncome) Kind() CommandKind    { return KindRecordIncome }
func (RecordExpense) Kind() CommandKind   { return KindRecordExpense }
func (RecordTransfer) Kind() CommandKind  { return KindRecordTransfer }
func (VoidTransaction) Kind() CommandKind { return KindVoidTransaction }

func (c RecordIncome) Budget() string    { return c.BudgetID }
func (c RecordExpense) Budget() string   { return c.BudgetID }
func (c RecordTransfer) Budget() string  { return c.BudgetID }
func (c VoidTransaction) Budget() string { return c.BudgetID }

func (RecordIncome) sealed()    {}
func (RecordExpense) sealed()   {}
func (RecordTransfer) sealed()  {}
func (VoidTransaction) sealed() {}

// newTransaction builds the pending transaction a record command describes
// and checks its variant-specific fields. It touches no storage.
func newTransaction(cmd Command, principal string, now time.Time) (*models.Transaction, error) {
	tx := &models.Transaction{
		BudgetID:        cmd.Budget(),
		Status:          models.TransactionStatusPending,
		CreatedByUserID: principal,
	}

	switch c := cmd.(type) {
	case RecordIncome:
		tx.Type = models.TransactionTypeIncome
		tx.Amount = c.Amount
		tx.Description, tx.Payee, tx.Date = c.Description, c.Payee, c.Date
		if c.EnvelopeID != nil && strings.TrimSpace(*c.EnvelopeID) != "" {
			id := strings.TrimSpace(*c.EnvelopeID)
			tx.EnvelopeID = &id
		}
	case RecordExpense:
		tx.Type = models.TransactionTypeExpense
		tx.Amount = c.Amount
		tx.Description, tx.Payee, tx.Date = c.Description, c.Payee, c.Date
		id := strings.TrimSpace(c.EnvelopeID)
		tx.EnvelopeID = &id
	case RecordTransfer:
		tx.Type = models.TransactionTypeTransfer
		tx.Amount = c.Amount
		tx.Description, tx.Date = c.Description, c.Date
		from, to := strings.TrimSpace(c.FromEnvelopeID), strings.TrimSpace(c.ToEnvelopeID)
		tx.FromEnvelopeID, tx.ToEnvelopeID = &from, &to
		if from != "" && from == to {
			return nil, apperrors.ErrSameEnvelopeTransfer
		}
	default:
		return nil, apperrors.WithMessage(apperrors.ErrInvalidTransactionType, "command does not record a transaction")
	}

	if tx.Date.IsZero() {
		tx.Date = now
	}
	tx.Date = tx.Date.UTC()
	if err := tx.Validate(); err != nil {
		return nil, invalidInput("%s", err.Error())
	}
	return tx, nil
}
