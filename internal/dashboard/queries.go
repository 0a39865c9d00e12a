package dashboard

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/parley/internal/models"
)

// historyDefaultLimit bounds list queries when the caller gives no limit.
const historyDefaultLimit = 50

// historyMaxLimit caps list queries regardless of the requested limit.
const historyMaxLimit = 200

// OutcomeRow holds an archived room outcome for display.
type OutcomeRow struct {
	RoomID          string     `json:"room_id"`
	SessionID       string     `json:"session_id,omitempty"`
	Success         bool       `json:"success"`
	SellerID        string     `json:"seller_id,omitempty"`
	SellerName      string     `json:"seller_name,omitempty"`
	FinalPrice      float64    `json:"final_price,omitempty"`
	Quantity        int        `json:"quantity,omitempty"`
	TotalCost       float64    `json:"total_cost,omitempty"`
	EffectiveTotal  *float64   `json:"effective_total,omitempty"`
	RecommendedCard string     `json:"recommended_card,omitempty"`
	CardSavings     *float64   `json:"card_savings,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Rounds          int        `json:"rounds"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// OutcomeFilters holds optional filters for the history list.
type OutcomeFilters struct {
	SessionID string
	Success   *bool
	Limit     int
}

// ListOutcomes returns archived outcomes matching filters, newest first.
func ListOutcomes(db *gorm.DB, filters OutcomeFilters) []OutcomeRow {
	if db == nil {
		return []OutcomeRow{}
	}

	q := db.Model(&models.RoomOutcome{})
	if filters.SessionID != "" {
		q = q.Where("session_id = ?", filters.SessionID)
	}
	if filters.Success != nil {
		q = q.Where("success = ?", *filters.Success)
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	var outcomes []models.RoomOutcome
	q.Order("created_at DESC, id DESC").Limit(limit).Find(&outcomes)

	rows := make([]OutcomeRow, len(outcomes))
	for i, o := range outcomes {
		rows[i] = OutcomeRow{
			RoomID:          o.RoomID,
			SessionID:       o.SessionID,
			Success:         o.Success,
			SellerID:        o.SellerID,
			SellerName:      o.SellerName,
			FinalPrice:      o.FinalPrice,
			Quantity:        o.Quantity,
			TotalCost:       o.TotalCost,
			EffectiveTotal:  o.EffectiveTotal,
			RecommendedCard: o.RecommendedCard,
			CardSavings:     o.CardSavings,
			Reason:          o.Reason,
			Rounds:          o.Rounds,
			DecidedAt:       o.DecidedAt,
			CreatedAt:       o.CreatedAt,
		}
	}
	return rows
}

// SessionRow holds an archived session for display.
type SessionRow struct {
	SessionID   string     `json:"session_id"`
	ItemName    string     `json:"item_name,omitempty"`
	MaxBudget   float64    `json:"max_budget,omitempty"`
	Quantity    int        `json:"quantity"`
	MaxRounds   int        `json:"max_rounds"`
	Status      string     `json:"status"`
	Rooms       int        `json:"rooms"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListSessions returns archived sessions, newest first.
func ListSessions(db *gorm.DB, limit int) []SessionRow {
	if db == nil {
		return []SessionRow{}
	}
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	var sessions []models.Negotiation
	db.Order("created_at DESC, id DESC").Limit(limit).Find(&sessions)

	rows := make([]SessionRow, len(sessions))
	for i, s := range sessions {
		rows[i] = SessionRow{
			SessionID:   s.SessionID,
			ItemName:    s.ItemName,
			MaxBudget:   s.MaxBudget,
			Quantity:    s.Quantity,
			MaxRounds:   s.MaxRounds,
			Status:      s.Status,
			Rooms:       s.Rooms,
			CreatedAt:   s.CreatedAt,
			CompletedAt: s.CompletedAt,
		}
	}
	return rows
}

// HistorySummary aggregates archived outcomes for the stats endpoint.
type HistorySummary struct {
	Rooms      int64   `json:"rooms"`
	Deals      int64   `json:"deals"`
	NoDeals    int64   `json:"no_deals"`
	TotalSpend float64 `json:"total_spend"`
	AvgRounds  float64 `json:"avg_rounds"`
}

// SummarizeOutcomes returns aggregate counts over all archived outcomes.
// TotalSpend sums only successful deals; AvgRounds covers every room.
func SummarizeOutcomes(db *gorm.DB) (HistorySummary, error) {
	var s HistorySummary
	if db == nil {
		return s, nil
	}

	if err := db.Model(&models.RoomOutcome{}).Count(&s.Rooms).Error; err != nil {
		return s, err
	}
	if s.Rooms == 0 {
		return s, nil
	}
	if err := db.Model(&models.RoomOutcome{}).Where("success = ?", true).Count(&s.Deals).Error; err != nil {
		return s, err
	}
	s.NoDeals = s.Rooms - s.Deals

	row := db.Model(&models.RoomOutcome{}).
		Select("COALESCE(SUM(CASE WHEN success THEN total_cost ELSE 0 END), 0), COALESCE(AVG(rounds), 0)").
		Row()
	if err := row.Scan(&s.TotalSpend, &s.AvgRounds); err != nil {
		return s, err
	}
	return s, nil
}

// formatDuration formats a duration as a human-readable string like "2h 15m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		days := h / 24
		h = h % 24
		return fmt.Sprintf("%dd %dh", days, h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
