package models

import "time"

// RoomOutcome archives the terminal result of one room. Success with a
// seller records the accepted deal; success=false records an explicit
// no-deal ending (max rounds, no acceptable offers).
type RoomOutcome struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SessionID       string `gorm:"size:64;index"`
	RoomID          string `gorm:"size:64;uniqueIndex;not null"`
	Success         bool   `gorm:"index"`
	SellerID        string `gorm:"size:64"`
	SellerName      string `gorm:"size:128"`
	FinalPrice      float64
	Quantity        int
	TotalCost       float64
	EffectiveTotal  *float64
	RecommendedCard string `gorm:"size:128"`
	CardSavings     *float64
	Reason          string `gorm:"type:text"`
	Rounds          int
	DecidedAt       *time.Time
	CreatedAt       time.Time
}
