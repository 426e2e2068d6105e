package models

// EnvelopeCategory groups envelopes by spending intent.
type EnvelopeCategory string

const (
	EnvelopeCategoryEssential     EnvelopeCategory = "essential"
	EnvelopeCategoryDiscretionary EnvelopeCategory = "discretionary"
	EnvelopeCategorySavings       EnvelopeCategory = "savings"
	EnvelopeCategoryDebt          EnvelopeCategory = "debt"
)

// Valid reports whether c is a known category.
func (c EnvelopeCategory) Valid() bool {
	switch c {
	case EnvelopeCategoryEssential, EnvelopeCategoryDiscretionary, EnvelopeCategorySavings, EnvelopeCategoryDebt:
		return true
	}
	return false
}

// EnvelopeStatus controls whether an envelope accepts new transactions.
type EnvelopeStatus string

const (
	EnvelopeStatusActive EnvelopeStatus = "active"
	EnvelopeStatusPaused EnvelopeStatus = "paused"
	EnvelopeStatusClosed EnvelopeStatus = "closed"
)

// Envelope is a named spending sub-ledger within one budget.
// CurrentBalance is always AllocatedAmount + RolloverAmount - SpentAmount.
type Envelope struct {
	Base
	BudgetID           string           `gorm:"size:64;not null;index:idx_envelopes_budget_sort,priority:1" json:"budgetId"`
	Name               string           `gorm:"size:100;not null" json:"name"`
	Description        string           `json:"description,omitempty"`
	Category           EnvelopeCategory `gorm:"size:16;not null" json:"category"`
	Icon               string           `gorm:"size:32" json:"icon,omitempty"`
	Color              string           `gorm:"size:7" json:"color,omitempty"`
	SortOrder          int              `gorm:"not null;default:0;index:idx_envelopes_budget_sort,priority:2" json:"sortOrder"`
	AllocatedAmount    int64            `gorm:"not null;default:0" json:"allocatedAmount"`
	RolloverAmount     int64            `gorm:"not null;default:0" json:"rolloverAmount"`
	SpentAmount        int64            `gorm:"not null;default:0" json:"spentAmount"`
	CurrentBalance     int64            `gorm:"not null;default:0" json:"currentBalance"`
	Status             EnvelopeStatus   `gorm:"size:16;not null" json:"status"`
	IsOverspendAllowed bool             `gorm:"not null;default:false" json:"isOverspendAllowed"`
	MaxOverspendAmount *int64           `json:"maxOverspendAmount,omitempty"`
	IsRecurring        bool             `gorm:"not null;default:false" json:"isRecurring"`
	AllowRollover      bool             `gorm:"not null;default:false" json:"allowRollover"`
	PreviousEnvelopeID *string          `gorm:"size:64" json:"previousEnvelopeId,omitempty"`
}

func (e *Envelope) RoutingColumn() string { return RoutingByBudget }
func (e *Envelope) RoutingKey() string    { return e.BudgetID }

// AcceptsTransactions reports whether new money movement may post to the envelope.
func (e *Envelope) AcceptsTransactions() bool {
	return e.IsActive && e.Status == EnvelopeStatusActive
}
