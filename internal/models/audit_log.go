package models

import (
	"time"

	"envledger/internal/uuid"

	"gorm.io/gorm"
)

// AuditLog records sensitive ledger operations. Entries are append-only,
// so there is no audit block or version.
type AuditLog struct {
	ID           string    `gorm:"size:64;primaryKey" json:"id"`
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
	UserID       string    `gorm:"size:64;not null;index" json:"userId"`
	BudgetID     string    `gorm:"size:64;index" json:"budgetId,omitempty"`
	Action       string    `gorm:"not null" json:"action"`
	ResourceType string    `gorm:"not null" json:"resourceType"`
	ResourceID   string    `gorm:"size:64" json:"resourceId"`
	Changes      string    `json:"changes,omitempty"`
}

// BeforeCreate hook generates a UUIDv7 for new records
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New()
	}
	return nil
}
