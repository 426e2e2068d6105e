package models

import "time"

// BudgetStatus is the lifecycle state of a budget period.
type BudgetStatus string

const (
	BudgetStatusDraft    BudgetStatus = "draft"
	BudgetStatusActive   BudgetStatus = "active"
	BudgetStatusClosed   BudgetStatus = "closed"
	BudgetStatusArchived BudgetStatus = "archived"
)

// budgetTransitions lists the allowed lifecycle moves. active -> draft is
// additionally guarded by the budget having no transactions.
var budgetTransitions = map[BudgetStatus][]BudgetStatus{
	BudgetStatusDraft:  {BudgetStatusActive},
	BudgetStatusActive: {BudgetStatusClosed, BudgetStatusDraft},
	BudgetStatusClosed: {BudgetStatusArchived},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s BudgetStatus) CanTransitionTo(next BudgetStatus) bool {
	for _, allowed := range budgetTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Writable reports whether envelopes and transactions may change under a
// budget in this state.
func (s BudgetStatus) Writable() bool {
	return s == BudgetStatusDraft || s == BudgetStatusActive
}

// Budget is a bounded spending period owned by one principal and optionally
// shared with others. Aggregate totals are derived fields maintained by the
// ledger in the same write as the mutation that changes them.
type Budget struct {
	Base
	OwnerID          string       `gorm:"size:64;not null;index" json:"ownerId"`
	Name             string       `gorm:"size:100;not null" json:"name"`
	Description      string       `json:"description,omitempty"`
	Currency         string       `gorm:"size:3;not null;default:'USD'" json:"currency"`
	StartDate        time.Time    `gorm:"not null" json:"startDate"`
	EndDate          time.Time    `gorm:"not null" json:"endDate"`
	Status           BudgetStatus `gorm:"size:16;not null;index" json:"status"`
	IsCurrent        bool         `gorm:"not null;default:false" json:"isCurrent"`
	TotalIncome      int64        `gorm:"not null;default:0" json:"totalIncome"`
	TotalAllocated   int64        `gorm:"not null;default:0" json:"totalAllocated"`
	TotalSpent       int64        `gorm:"not null;default:0" json:"totalSpent"`
	TotalRemaining   int64        `gorm:"not null;default:0" json:"totalRemaining"`
	SharedWith       PrincipalSet `gorm:"serializer:json" json:"sharedWith"`
	PreviousBudgetID *string      `gorm:"size:64" json:"previousBudgetId,omitempty"`
	ActivatedAt      *time.Time   `json:"activatedAt,omitempty"`
	ClosedAt         *time.Time   `json:"closedAt,omitempty"`
	ArchivedAt       *time.Time   `json:"archivedAt,omitempty"`
}

func (b *Budget) RoutingColumn() string { return RoutingByID }
func (b *Budget) RoutingKey() string    { return b.ID }

// HasParticipant reports whether principal owns the budget or is in its shared set.
func (b *Budget) HasParticipant(principal string) bool {
	return principal != "" && (b.OwnerID == principal || b.SharedWith.Contains(principal))
}

// Overlaps reports whether the budget's period intersects [start, end).
func (b *Budget) Overlaps(start, end time.Time) bool {
	return b.StartDate.Before(end) && start.Before(b.EndDate)
}

// BudgetMemberRole distinguishes the owner row from shared rows in the
// per-user budget index.
type BudgetMemberRole string

const (
	BudgetMemberOwner  BudgetMemberRole = "owner"
	BudgetMemberShared BudgetMemberRole = "shared"
)

// BudgetMember is the secondary index that serves "budgets for a user"
// without scanning budgets across routing keys.
type BudgetMember struct {
	UserID    string           `gorm:"size:64;primaryKey" json:"userId"`
	BudgetID  string           `gorm:"size:64;primaryKey;index" json:"budgetId"`
	Role      BudgetMemberRole `gorm:"size:16;not null" json:"role"`
	CreatedAt time.Time        `gorm:"not null" json:"createdAt"`
}
