package session

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/zulandar/parley/internal/clock"
	"github.com/zulandar/parley/internal/db"
	"github.com/zulandar/parley/internal/dispatch"
	"github.com/zulandar/parley/internal/models"
	"github.com/zulandar/parley/internal/room"
)

// Recorder archives room outcomes and session progress to the database. It
// implements the dispatcher's observer alongside the registry, so wiring it
// up is optional: without a database the registry still works in memory.
type Recorder struct {
	gdb      *gorm.DB
	registry *Registry
	clk      clock.Clock
	log      *slog.Logger
}

// RecorderOpts holds parameters for creating a Recorder.
type RecorderOpts struct {
	DB       *gorm.DB  // required
	Registry *Registry // optional, resolves room ids to session ids
	Clock    clock.Clock
	Logger   *slog.Logger
}

// NewRecorder creates a Recorder writing through the given database handle.
func NewRecorder(opts RecorderOpts) (*Recorder, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("session: recorder requires a database handle")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		gdb:      opts.DB,
		registry: opts.Registry,
		clk:      clk,
		log:      logger.With("component", "recorder"),
	}, nil
}

// RoomRoundStarted is a no-op; round progress is not archived.
func (rc *Recorder) RoomRoundStarted(string, int, int) {}

// RoomDecided is a no-op; the outcome row is written at completion so it
// carries the final round count.
func (rc *Recorder) RoomDecided(string, room.Decision) {}

// RoomCompleted writes the room's outcome row. Replays of the same room are
// absorbed by the unique index on room id.
func (rc *Recorder) RoomCompleted(roomID string, o dispatch.Outcome) {
	outcome := &models.RoomOutcome{
		RoomID: roomID,
		Rounds: o.Rounds,
		Reason: o.Reason,
	}
	if rc.registry != nil {
		outcome.SessionID, _ = rc.registry.SessionForRoom(roomID)
	}
	if d := o.Decision; d != nil && d.SellerID != "" {
		outcome.Success = true
		outcome.SellerID = d.SellerID
		outcome.SellerName = d.SellerName
		outcome.FinalPrice = d.FinalPrice
		outcome.Quantity = d.Quantity
		outcome.TotalCost = d.TotalCost
		outcome.EffectiveTotal = d.EffectiveTotal
		outcome.RecommendedCard = d.RecommendedCard
		outcome.CardSavings = d.CardSavings
		if d.Reason != "" {
			outcome.Reason = d.Reason
		}
		if !d.Timestamp.IsZero() {
			ts := d.Timestamp
			outcome.DecidedAt = &ts
		}
	}
	if err := db.SaveOutcome(rc.gdb, outcome); err != nil {
		rc.log.Error("failed to archive room outcome", "room_id", roomID, "error", err)
	}
}

// SessionStarted upserts the session row when a session begins.
func (rc *Recorder) SessionStarted(snap Snapshot) {
	if err := db.UpsertSession(rc.gdb, rc.negotiationRow(snap)); err != nil {
		rc.log.Error("failed to archive session start", "session_id", snap.SessionID, "error", err)
	}
}

// SessionCompleted refreshes the session row with its final state. Pass it
// as the registry's OnCompleted hook.
func (rc *Recorder) SessionCompleted(snap Snapshot) {
	if err := db.UpsertSession(rc.gdb, rc.negotiationRow(snap)); err != nil {
		rc.log.Error("failed to archive session completion", "session_id", snap.SessionID, "error", err)
	}
}

func (rc *Recorder) negotiationRow(snap Snapshot) *models.Negotiation {
	n := &models.Negotiation{
		SessionID: snap.SessionID,
		ItemName:  snap.ItemName,
		MaxBudget: snap.MaxBudget,
		Quantity:  snap.Quantity,
		MaxRounds: snap.MaxRounds,
		Status:    string(snap.Status),
		Rooms:     len(snap.Rooms),
		CreatedAt: snap.StartedAt,
		UpdatedAt: rc.clk.Now(),
	}
	if !snap.CompletedAt.IsZero() {
		ts := snap.CompletedAt
		n.CompletedAt = &ts
	}
	return n
}
