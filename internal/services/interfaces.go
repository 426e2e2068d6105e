package services

import (
	"context"
	"time"

	"envledger/internal/access"
	"envledger/internal/models"
	"envledger/internal/pagination"
	"envledger/internal/query"
)

// Authorizer decides whether a principal may act on a budget.
type Authorizer interface {
	Authorize(ctx context.Context, principalID, budgetID string, op access.Op) error
	Invalidate(budgetID string)
}

// Identity is the authenticated principal as presented by the external
// identity provider.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
}

// UserPreferences holds the optional profile fields a user may change.
type UserPreferences struct {
	DisplayName        *string
	Locale             *string
	Currency           *string
	Timezone           *string
	EmailNotifications *bool
	PushNotifications  *bool
	BudgetAlerts       *bool
}

// UserServicer defines the contract for user profile logic.
type UserServicer interface {
	EnsureUser(ctx context.Context, id Identity) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpdatePreferences(ctx context.Context, userID string, prefs UserPreferences) (*models.User, error)
	DeactivateUser(ctx context.Context, userID string) error
}

// CreateBudgetInput describes a new budget period.
type CreateBudgetInput struct {
	Name        string
	Description string
	Currency    string
	StartDate   time.Time
	EndDate     time.Time
}

// UpdateBudgetInput holds the optional budget fields that may change.
type UpdateBudgetInput struct {
	Name        *string
	Description *string
	Currency    *string
	StartDate   *time.Time
	EndDate     *time.Time
}

// BudgetSummary is a budget with its envelopes and any non-fatal warnings.
type BudgetSummary struct {
	Budget            *models.Budget    `json:"budget"`
	Envelopes         []models.Envelope `json:"envelopes"`
	UnallocatedIncome int64             `json:"unallocatedIncome"`
	OverspentCount    int               `json:"overspentCount"`
	Warnings          []string          `json:"warnings,omitempty"`
}

// BudgetServicer defines the contract for budget lifecycle and sharing.
type BudgetServicer interface {
	CreateBudget(ctx context.Context, principal string, in CreateBudgetInput) (*models.Budget, error)
	GetBudget(ctx context.Context, principal, budgetID string) (*models.Budget, error)
	ListBudgetsForUser(ctx context.Context, principal string, status *models.BudgetStatus, page pagination.PageRequest) (*pagination.PageResponse[models.Budget], error)
	UpdateBudget(ctx context.Context, principal, budgetID string, in UpdateBudgetInput) (*models.Budget, error)
	ActivateBudget(ctx context.Context, principal, budgetID string) (*models.Budget, error)
	RevertToDraft(ctx context.Context, principal, budgetID string) (*models.Budget, error)
	ShareBudget(ctx context.Context, principal, budgetID string, principalIDs []string) (*models.Budget, error)
	UnshareBudget(ctx context.Context, principal, budgetID, principalID string) (*models.Budget, error)
	GetBudgetSummary(ctx context.Context, principal, budgetID string) (*BudgetSummary, error)
}

// CreateEnvelopeInput describes a new envelope.
type CreateEnvelopeInput struct {
	Name               string
	Description        string
	Category           models.EnvelopeCategory
	Icon               string
	Color              string
	SortOrder          int
	AllocatedAmount    int64
	IsOverspendAllowed bool
	MaxOverspendAmount *int64
	IsRecurring        bool
	AllowRollover      bool
}

// UpdateEnvelopeInput holds the optional envelope fields that may change.
// Amounts change through AllocateEnvelope and transactions only.
type UpdateEnvelopeInput struct {
	Name               *string
	Description        *string
	Category           *models.EnvelopeCategory
	Icon               *string
	Color              *string
	SortOrder          *int
	IsOverspendAllowed *bool
	MaxOverspendAmount *int64
	ClearMaxOverspend  bool
	IsRecurring        *bool
	AllowRollover      *bool
}

// EnvelopeResult is an envelope after a mutation plus any non-fatal warnings.
type EnvelopeResult struct {
	Envelope *models.Envelope `json:"envelope"`
	Warnings []string         `json:"warnings,omitempty"`
}

// EnvelopeServicer defines the contract for envelope logic.
type EnvelopeServicer interface {
	CreateEnvelope(ctx context.Context, principal, budgetID string, in CreateEnvelopeInput) (*EnvelopeResult, error)
	GetEnvelope(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error)
	ListEnvelopes(ctx context.Context, principal, budgetID string, includeInactive bool) ([]models.Envelope, error)
	UpdateEnvelope(ctx context.Context, principal, budgetID, envelopeID string, in UpdateEnvelopeInput) (*models.Envelope, error)
	AllocateEnvelope(ctx context.Context, principal, budgetID, envelopeID string, allocated int64) (*EnvelopeResult, error)
	PauseEnvelope(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error)
	ResumeEnvelope(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error)
	CloseEnvelope(ctx context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error)
	DeleteEnvelope(ctx context.Context, principal, budgetID, envelopeID string) error
}

// UpdateTransactionInput holds the optional fields of a pending transaction
// that may change.
type UpdateTransactionInput struct {
	Amount      *int64
	EnvelopeID  *string
	Description *string
	Payee       *string
	Date        *time.Time
}

// TransactionResult is the outcome of a ledger command: the transaction and
// the documents whose balances it changed.
type TransactionResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Envelopes   []models.Envelope   `json:"envelopes,omitempty"`
	Budget      *models.Budget      `json:"budget,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// TransactionServicer defines the contract of the transaction processor.
type TransactionServicer interface {
	Apply(ctx context.Context, principal string, cmd Command) (*TransactionResult, error)
	GetTransaction(ctx context.Context, principal, budgetID, transactionID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, principal, budgetID string, filter query.TransactionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Transaction], error)
	UpdateTransaction(ctx context.Context, principal, budgetID, transactionID string, in UpdateTransactionInput) (*TransactionResult, error)
	ClearTransaction(ctx context.Context, principal, budgetID, transactionID string) (*models.Transaction, error)
	ReconcileTransaction(ctx context.Context, principal, budgetID, transactionID string) (*models.Transaction, error)
}

// RolloverTemplate shapes the next period. Zero dates default to the period
// following the previous budget with the same length.
type RolloverTemplate struct {
	Name        string
	Description string
	StartDate   *time.Time
	EndDate     *time.Time
	// Allocations overrides copied allocations by envelope name.
	Allocations map[string]int64
}

// RolloverResult is the newly opened period.
type RolloverResult struct {
	Budget    *models.Budget    `json:"budget"`
	Envelopes []models.Envelope `json:"envelopes"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// RolloverServicer defines the contract of the rollover engine.
type RolloverServicer interface {
	CloseBudget(ctx context.Context, principal, budgetID string) (*models.Budget, error)
	OpenNextPeriod(ctx context.Context, principal, previousBudgetID string, tmpl RolloverTemplate) (*RolloverResult, error)
}

// ArchiveServicer defines the contract of the retention sweep.
type ArchiveServicer interface {
	ArchiveExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(ctx context.Context, userID, budgetID, action, resourceType, resourceID string, changes map[string]interface{})
}
