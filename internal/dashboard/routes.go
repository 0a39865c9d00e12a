package dashboard

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zulandar/parley/internal/room"
	"github.com/zulandar/parley/internal/session"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, store *room.Store, reg *session.Registry, db *gorm.DB) {
	router.GET("/healthz", handleHealth())

	api := router.Group("/api")
	api.GET("/rooms", handleRoomList(store))
	api.GET("/rooms/:id", handleRoomDetail(store))
	api.GET("/rooms/:id/events", handleRoomEvents(store))
	api.GET("/sessions", handleSessionList(reg))
	api.GET("/sessions/:id", handleSessionDetail(reg))
	api.GET("/history", handleHistory(db))
	api.GET("/history/sessions", handleHistorySessions(db))
	api.GET("/history/summary", handleHistorySummary(db))
}

func handleHealth() gin.HandlerFunc {
	started := time.Now()
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": formatDuration(time.Since(started)),
		})
	}
}

func handleRoomList(store *room.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries := store.Summaries()
		sort.Slice(summaries, func(i, j int) bool { return summaries[i].RoomID < summaries[j].RoomID })
		views := make([]roomSummaryView, len(summaries))
		for i, s := range summaries {
			views[i] = summaryToView(s)
		}
		c.JSON(http.StatusOK, gin.H{"rooms": views})
	}
}

func handleRoomDetail(store *room.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, ok := store.Snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
			return
		}
		c.JSON(http.StatusOK, roomToView(snap))
	}
}

func handleSessionList(reg *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		views := []sessionView{}
		if reg != nil {
			for _, snap := range reg.Sessions() {
				views = append(views, sessionToView(snap))
			}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": views})
	}
}

func handleSessionDetail(reg *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if reg == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		snap, ok := reg.Snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.JSON(http.StatusOK, sessionToView(snap))
	}
}

func handleHistory(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := OutcomeFilters{SessionID: c.Query("session")}
		if v := c.Query("success"); v != "" {
			success := v == "true" || v == "1"
			filters.Success = &success
		}
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filters.Limit = n
			}
		}
		c.JSON(http.StatusOK, gin.H{"outcomes": ListOutcomes(db, filters)})
	}
}

func handleHistorySessions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": ListSessions(db, limit)})
	}
}

func handleHistorySummary(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := SummarizeOutcomes(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "summary query failed"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// --- live state views ---

type offerView struct {
	SellerID   string    `json:"seller_id"`
	SellerName string    `json:"seller_name,omitempty"`
	Price      float64   `json:"price"`
	Quantity   int       `json:"quantity,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type bestView struct {
	SellerID   string  `json:"seller_id"`
	SellerName string  `json:"seller_name,omitempty"`
	Price      float64 `json:"price"`
}

type messageView struct {
	ID         string     `json:"id"`
	Round      int        `json:"round,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	SenderType string     `json:"sender_type"`
	SenderID   string     `json:"sender_id,omitempty"`
	SenderName string     `json:"sender_name,omitempty"`
	Body       string     `json:"body"`
	Mentioned  []string   `json:"mentioned,omitempty"`
	Offer      *offerView `json:"offer,omitempty"`
}

type responseView struct {
	SellerID   string   `json:"seller_id"`
	SellerName string   `json:"seller_name,omitempty"`
	LatencyMS  int64    `json:"latency_ms"`
	Price      *float64 `json:"price,omitempty"`
}

type roundView struct {
	Round       int            `json:"round"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	Responses   []responseView `json:"responses,omitempty"`
	Best        *bestView      `json:"best,omitempty"`
	CardSavings *float64       `json:"card_savings,omitempty"`
}

type decisionView struct {
	SellerID        string    `json:"seller_id,omitempty"`
	SellerName      string    `json:"seller_name,omitempty"`
	FinalPrice      float64   `json:"final_price,omitempty"`
	Quantity        int       `json:"quantity,omitempty"`
	TotalCost       float64   `json:"total_cost,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	EffectiveTotal  *float64  `json:"effective_total,omitempty"`
	RecommendedCard string    `json:"recommended_card,omitempty"`
	CardSavings     *float64  `json:"card_savings,omitempty"`
}

type roomSummaryView struct {
	RoomID       string    `json:"room_id"`
	Status       string    `json:"status"`
	CurrentRound int       `json:"current_round"`
	MaxRounds    int       `json:"max_rounds"`
	Messages     int       `json:"messages"`
	Offers       int       `json:"offers"`
	Best         *bestView `json:"best_offer,omitempty"`
	Decided      bool      `json:"decided"`
}

type roomView struct {
	RoomID       string               `json:"room_id"`
	Status       string               `json:"status"`
	CurrentRound int                  `json:"current_round"`
	MaxRounds    int                  `json:"max_rounds"`
	Messages     []messageView        `json:"messages"`
	Offers       map[string]offerView `json:"offers"`
	Best         *bestView            `json:"best_offer,omitempty"`
	Rounds       []roundView          `json:"rounds,omitempty"`
	Decision     *decisionView        `json:"decision,omitempty"`
}

func offerToView(o room.Offer) offerView {
	return offerView{
		SellerID:   o.SellerID,
		SellerName: o.SellerName,
		Price:      o.Price,
		Quantity:   o.Quantity,
		Timestamp:  o.Timestamp,
	}
}

func bestToView(b *room.BestOffer) *bestView {
	if b == nil {
		return nil
	}
	return &bestView{SellerID: b.SellerID, SellerName: b.SellerName, Price: b.Price}
}

func messageToView(m room.Message) messageView {
	v := messageView{
		ID:         m.ID,
		Round:      m.Round,
		Timestamp:  m.Timestamp,
		SenderType: m.SenderType,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Mentioned:  m.Mentioned,
	}
	if m.Offer != nil {
		o := offerToView(*m.Offer)
		v.Offer = &o
	}
	return v
}

func decisionToView(d *room.Decision) *decisionView {
	if d == nil {
		return nil
	}
	return &decisionView{
		SellerID:        d.SellerID,
		SellerName:      d.SellerName,
		FinalPrice:      d.FinalPrice,
		Quantity:        d.Quantity,
		TotalCost:       d.TotalCost,
		Reason:          d.Reason,
		Timestamp:       d.Timestamp,
		EffectiveTotal:  d.EffectiveTotal,
		RecommendedCard: d.RecommendedCard,
		CardSavings:     d.CardSavings,
	}
}

func summaryToView(s room.Summary) roomSummaryView {
	return roomSummaryView{
		RoomID:       s.RoomID,
		Status:       string(s.Status),
		CurrentRound: s.CurrentRound,
		MaxRounds:    s.MaxRounds,
		Messages:     s.Messages,
		Offers:       s.Offers,
		Best:         bestToView(s.Best),
		Decided:      s.Decided,
	}
}

func roomToView(s room.State) roomView {
	v := roomView{
		RoomID:       s.RoomID,
		Status:       string(s.ConnectionStatus),
		CurrentRound: s.CurrentRound,
		MaxRounds:    s.MaxRounds,
		Messages:     make([]messageView, len(s.Messages)),
		Offers:       make(map[string]offerView, len(s.Offers)),
		Best:         bestToView(s.Best()),
		Decision:     decisionToView(s.Decision),
	}
	for i, m := range s.Messages {
		v.Messages[i] = messageToView(m)
	}
	for id, o := range s.Offers {
		v.Offers[id] = offerToView(o)
	}
	for _, entry := range s.Timeline {
		rv := roundView{
			Round:       entry.Round,
			Best:        bestToView(entry.Best),
			CardSavings: entry.CardSavings,
		}
		if !entry.StartedAt.IsZero() {
			ts := entry.StartedAt
			rv.StartedAt = &ts
		}
		for _, resp := range entry.Responses {
			rv.Responses = append(rv.Responses, responseView{
				SellerID:   resp.SellerID,
				SellerName: resp.SellerName,
				LatencyMS:  resp.LatencyMS,
				Price:      resp.Price,
			})
		}
		v.Rounds = append(v.Rounds, rv)
	}
	return v
}

// --- session views ---

type dealView struct {
	SellerID   string    `json:"seller_id"`
	SellerName string    `json:"seller_name,omitempty"`
	FinalPrice float64   `json:"final_price"`
	Quantity   int       `json:"quantity"`
	TotalCost  float64   `json:"total_cost"`
	Reason     string    `json:"reason,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

type roomPhaseView struct {
	RoomID    string    `json:"room_id"`
	Round     int       `json:"round"`
	MaxRounds int       `json:"max_rounds"`
	Status    string    `json:"status"`
	Deal      *dealView `json:"deal,omitempty"`
}

type sessionView struct {
	SessionID   string          `json:"session_id"`
	ItemName    string          `json:"item_name,omitempty"`
	MaxBudget   float64         `json:"max_budget,omitempty"`
	Quantity    int             `json:"quantity"`
	MaxRounds   int             `json:"max_rounds"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Rooms       []roomPhaseView `json:"rooms"`
}

func sessionToView(snap session.Snapshot) sessionView {
	v := sessionView{
		SessionID: snap.SessionID,
		ItemName:  snap.ItemName,
		MaxBudget: snap.MaxBudget,
		Quantity:  snap.Quantity,
		MaxRounds: snap.MaxRounds,
		Status:    string(snap.Status),
		StartedAt: snap.StartedAt,
		Rooms:     make([]roomPhaseView, len(snap.Rooms)),
	}
	if !snap.CompletedAt.IsZero() {
		ts := snap.CompletedAt
		v.CompletedAt = &ts
	}
	for i, phase := range snap.Rooms {
		pv := roomPhaseView{
			RoomID:    phase.RoomID,
			Round:     phase.Round,
			MaxRounds: phase.MaxRounds,
			Status:    string(phase.Status),
		}
		if phase.Deal != nil {
			pv.Deal = &dealView{
				SellerID:   phase.Deal.SellerID,
				SellerName: phase.Deal.SellerName,
				FinalPrice: phase.Deal.FinalPrice,
				Quantity:   phase.Deal.Quantity,
				TotalCost:  phase.Deal.TotalCost,
				Reason:     phase.Deal.Reason,
				DecidedAt:  phase.Deal.DecidedAt,
			}
		}
		v.Rooms[i] = pv
	}
	return v
}
