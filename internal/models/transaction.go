package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Bounds on a single transaction. MaxAmount (one billion in major units)
// keeps running totals far from int64 overflow.
const (
	MaxAmount      int64 = 100_000_000_000
	MaxPayeeLength       = 100
)

// TransactionType is the discriminator of the transaction variant.
type TransactionType string

const (
	TransactionTypeIncome   TransactionType = "income"
	TransactionTypeExpense  TransactionType = "expense"
	TransactionTypeTransfer TransactionType = "transfer"
)

// TransactionStatus is the reconciliation state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusCleared    TransactionStatus = "cleared"
	TransactionStatusReconciled TransactionStatus = "reconciled"
	TransactionStatusVoid       TransactionStatus = "void"
)

// CanTransitionTo reports whether the status machine allows s -> next.
// pending -> cleared -> reconciled moves forward only; every non-void state
// may be voided and void is terminal.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch next {
	case TransactionStatusVoid:
		return s != TransactionStatusVoid
	case TransactionStatusCleared:
		return s == TransactionStatusPending
	case TransactionStatusReconciled:
		return s == TransactionStatusCleared
	}
	return false
}

// Transaction is a money movement inside one budget. The fields that are
// required depend on Type; see Validate.
type Transaction struct {
	Base
	BudgetID        string            `gorm:"size:64;not null;index:idx_transactions_budget_date,priority:1" json:"budgetId"`
	Type            TransactionType   `gorm:"size:16;not null" json:"type"`
	Amount          int64             `gorm:"not null" json:"amount"`
	EnvelopeID      *string           `gorm:"size:64;index" json:"envelopeId,omitempty"`
	FromEnvelopeID  *string           `gorm:"size:64" json:"fromEnvelopeId,omitempty"`
	ToEnvelopeID    *string           `gorm:"size:64" json:"toEnvelopeId,omitempty"`
	Description     string            `json:"description,omitempty"`
	Payee           string            `gorm:"size:100" json:"payee,omitempty"`
	Date            time.Time         `gorm:"not null;index:idx_transactions_budget_date,priority:2" json:"date"`
	Status          TransactionStatus `gorm:"size:16;not null" json:"status"`
	CreatedByUserID string            `gorm:"size:64;not null" json:"createdByUserId"`
	IsVoid          bool              `gorm:"not null;default:false" json:"isVoid"`
	VoidedAt        *time.Time        `json:"voidedAt,omitempty"`
	VoidedBy        *string           `gorm:"size:64" json:"voidedBy,omitempty"`
	VoidReason      string            `json:"voidReason,omitempty"`
	ClearedAt       *time.Time        `json:"clearedAt,omitempty"`
	ReconciledAt    *time.Time        `json:"reconciledAt,omitempty"`
}

func (t *Transaction) RoutingColumn() string { return RoutingByBudget }
func (t *Transaction) RoutingKey() string    { return t.BudgetID }

// Validate checks the type-specific required fields of the variant.
func (t *Transaction) Validate() error {
	if t.Amount <= 0 {
		return fmt.Errorf("amount must be greater than zero")
	}
	if t.Amount > MaxAmount {
		return fmt.Errorf("amount must not exceed %d", MaxAmount)
	}
	if utf8.RuneCountInString(t.Payee) > MaxPayeeLength {
		return fmt.Errorf("payee must be at most %d characters", MaxPayeeLength)
	}
	if t.BudgetID == "" {
		return fmt.Errorf("budget id is required")
	}
	switch t.Type {
	case TransactionTypeIncome:
		if t.FromEnvelopeID != nil || t.ToEnvelopeID != nil {
			return fmt.Errorf("income does not take transfer envelopes")
		}
	case TransactionTypeExpense:
		if isBlank(t.EnvelopeID) {
			return fmt.Errorf("expense requires an envelope")
		}
		if t.FromEnvelopeID != nil || t.ToEnvelopeID != nil {
			return fmt.Errorf("expense does not take transfer envelopes")
		}
	case TransactionTypeTransfer:
		if isBlank(t.FromEnvelopeID) || isBlank(t.ToEnvelopeID) {
			return fmt.Errorf("transfer requires source and destination envelopes")
		}
		if t.EnvelopeID != nil {
			return fmt.Errorf("transfer does not take a single envelope")
		}
		if *t.FromEnvelopeID == *t.ToEnvelopeID {
			return fmt.Errorf("transfer source and destination must differ")
		}
	default:
		return fmt.Errorf("unsupported transaction type %q", t.Type)
	}
	return nil
}

// EnvelopeIDs returns the envelopes whose balances the transaction touches.
func (t *Transaction) EnvelopeIDs() []string {
	switch t.Type {
	case TransactionTypeTransfer:
		return []string{deref(t.FromEnvelopeID), deref(t.ToEnvelopeID)}
	default:
		if isBlank(t.EnvelopeID) {
			return nil
		}
		return []string{*t.EnvelopeID}
	}
}

// Editable reports whether the transaction may still be modified in place.
func (t *Transaction) Editable() bool {
	return t.Status == TransactionStatusPending && !t.IsVoid
}

func isBlank(s *string) bool { return s == nil || *s == "" }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
