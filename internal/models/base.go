package models

import (
	"time"

	"envledger/internal/uuid"

	"gorm.io/gorm"
)

// Routing columns. User and Budget documents are addressed by their own id;
// Envelope and Transaction documents are co-located under their budget.
const (
	RoutingByID     = "id"
	RoutingByBudget = "budget_id"
)

// Base is the audit block carried by every persisted document. Version is the
// optimistic-concurrency token: it starts at 1 and is bumped by every put.
type Base struct {
	ID        string    `gorm:"size:64;primaryKey" json:"id"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	CreatedBy string    `gorm:"size:64" json:"createdBy"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
	UpdatedBy string    `gorm:"size:64" json:"updatedBy"`
	IsActive  bool      `gorm:"not null;default:true;index" json:"isActive"`
}

// BeforeCreate hook generates a UUIDv7 for new records
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New()
	}
	if b.Version == 0 {
		b.Version = 1
	}
	return nil
}

// GetBase exposes the audit block to the entity store.
func (b *Base) GetBase() *Base { return b }

// Touch stamps the audit block for a write by principal at now.
func (b *Base) Touch(principal string, now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
		b.CreatedBy = principal
	}
	b.UpdatedAt = now
	b.UpdatedBy = principal
}

// Document is implemented by every entity the store persists.
type Document interface {
	GetBase() *Base
	RoutingColumn() string
	RoutingKey() string
}
