package models

import "time"

// Negotiation is one buyer shopping session: a set of rooms negotiating the
// same constraint sheet concurrently.
type Negotiation struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"size:64;uniqueIndex;not null"`
	ItemName    string `gorm:"size:200"`
	MaxBudget   float64
	Quantity    int    `gorm:"default:1"`
	MaxRounds   int    `gorm:"default:5"`
	Status      string `gorm:"size:16;default:pending;index"`
	Rooms       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
