package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AttemptModel struct {
	ID          string         `gorm:"primaryKey"`
	UserID      string         `gorm:"not null;index"`
	OrderID     string         `gorm:"not null;index"`
	Method      string         `gorm:"not null"`
	Status      string         `gorm:"not null;index"`
	Total       string         `gorm:"not null"`
	Items       datatypes.JSON `gorm:"type:jsonb"`
	CheckoutURL string
	Error       string
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (AttemptModel) TableName() string {
	return "checkout_attempts"
}
