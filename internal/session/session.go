// Package session mirrors room lifecycle transitions into a coarse
// session-wide registry: which rooms are negotiating, their round progress,
// and the final deal per room. Message and offer content never crosses into
// this layer; the room store stays the single source of truth for it.
package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/parley/internal/clock"
	"github.com/zulandar/parley/internal/dispatch"
	"github.com/zulandar/parley/internal/room"
)

// Status tracks a session or room through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Deal is the coarse snapshot of a room's accepted decision.
type Deal struct {
	SellerID   string
	SellerName string
	FinalPrice float64
	Quantity   int
	TotalCost  float64
	Reason     string
	DecidedAt  time.Time
}

// RoomPhase is one room's progress as seen from the session level.
type RoomPhase struct {
	RoomID    string
	Round     int
	MaxRounds int
	Status    Status
	Deal      *Deal // nil until decided, and stays nil for a no-deal ending
}

// Snapshot is a point-in-time copy of one session.
type Snapshot struct {
	SessionID   string
	ItemName    string
	MaxBudget   float64
	Quantity    int
	MaxRounds   int
	Status      Status
	StartedAt   time.Time
	CompletedAt time.Time // zero until the last room completes
	Rooms       []RoomPhase
}

type sessionState struct {
	sessionID   string
	itemName    string
	maxBudget   float64
	quantity    int
	maxRounds   int
	status      Status
	startedAt   time.Time
	completedAt time.Time
	rooms       map[string]*RoomPhase
}

// Registry keys sessions by id and rooms by the session that owns them.
// It consumes the dispatcher's lifecycle signals; rooms that were never
// attached to a session are ignored.
type Registry struct {
	clk         clock.Clock
	log         *slog.Logger
	onCompleted func(Snapshot)

	mu        sync.Mutex
	sessions  map[string]*sessionState
	roomIndex map[string]string
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	Clock  clock.Clock  // defaults to the system clock
	Logger *slog.Logger // defaults to slog.Default()

	// OnCompleted fires once when a session's last room completes. Called
	// without registry locks held.
	OnCompleted func(Snapshot)
}

// NewRegistry creates an empty session registry.
func NewRegistry(opts RegistryOpts) *Registry {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clk:         clk,
		log:         logger.With("component", "session"),
		onCompleted: opts.OnCompleted,
		sessions:    make(map[string]*sessionState),
		roomIndex:   make(map[string]string),
	}
}

// BeginOpts carries the buyer constraints a session was started with.
type BeginOpts struct {
	ItemName  string
	MaxBudget float64
	Quantity  int
	MaxRounds int
}

// Begin registers a new session in the pending state.
func (r *Registry) Begin(sessionID string, opts BeginOpts) error {
	if sessionID == "" {
		return fmt.Errorf("session: session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return fmt.Errorf("session: %s already registered", sessionID)
	}
	r.sessions[sessionID] = &sessionState{
		sessionID: sessionID,
		itemName:  opts.ItemName,
		maxBudget: opts.MaxBudget,
		quantity:  opts.Quantity,
		maxRounds: opts.MaxRounds,
		status:    StatusPending,
		startedAt: r.clk.Now(),
		rooms:     make(map[string]*RoomPhase),
	}
	return nil
}

// Attach binds a room to a session. Attaching the same room twice is a
// no-op; attaching it to a different session is an error.
func (r *Registry) Attach(sessionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session: attach %s: unknown session %s", roomID, sessionID)
	}
	if owner, ok := r.roomIndex[roomID]; ok {
		if owner != sessionID {
			return fmt.Errorf("session: room %s already attached to %s", roomID, owner)
		}
		return nil
	}
	r.roomIndex[roomID] = sessionID
	s.rooms[roomID] = &RoomPhase{RoomID: roomID, Status: StatusPending, MaxRounds: s.maxRounds}
	return nil
}

// End removes a session and its room bindings.
func (r *Registry) End(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for roomID := range s.rooms {
		delete(r.roomIndex, roomID)
	}
	delete(r.sessions, sessionID)
}

// SessionForRoom resolves the session a room is attached to.
func (r *Registry) SessionForRoom(roomID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.roomIndex[roomID]
	return id, ok
}

// Snapshot returns a copy of one session's state.
func (r *Registry) Snapshot(sessionID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(s), true
}

// Sessions returns copies of every session, oldest first.
func (r *Registry) Sessions() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, snapshotLocked(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// RoomRoundStarted moves the room (and its session) to active and records
// round progress.
func (r *Registry) RoomRoundStarted(roomID string, round, maxRounds int) {
	r.mu.Lock()
	s, phase := r.lookupLocked(roomID)
	if phase == nil {
		r.mu.Unlock()
		return
	}
	phase.Round = round
	if maxRounds > 0 {
		phase.MaxRounds = maxRounds
	}
	if phase.Status == StatusPending {
		phase.Status = StatusActive
	}
	if s.status == StatusPending {
		s.status = StatusActive
	}
	r.mu.Unlock()
}

// RoomDecided records the deal snapshot and marks the room completed.
func (r *Registry) RoomDecided(roomID string, d room.Decision) {
	r.mu.Lock()
	s, phase := r.lookupLocked(roomID)
	if phase == nil {
		r.mu.Unlock()
		return
	}
	if d.SellerID != "" && phase.Deal == nil {
		phase.Deal = &Deal{
			SellerID:   d.SellerID,
			SellerName: d.SellerName,
			FinalPrice: d.FinalPrice,
			Quantity:   d.Quantity,
			TotalCost:  d.TotalCost,
			Reason:     d.Reason,
			DecidedAt:  d.Timestamp,
		}
	}
	phase.Status = StatusCompleted
	completed := r.maybeCompleteLocked(s)
	r.mu.Unlock()

	if completed != nil && r.onCompleted != nil {
		r.onCompleted(*completed)
	}
}

// RoomCompleted marks the room completed, keeping any deal recorded by the
// decision. A completion that carries a decision the stream dropped fills
// the gap.
func (r *Registry) RoomCompleted(roomID string, o dispatch.Outcome) {
	r.mu.Lock()
	s, phase := r.lookupLocked(roomID)
	if phase == nil {
		r.mu.Unlock()
		return
	}
	if phase.Deal == nil && o.Decision != nil && o.Decision.SellerID != "" {
		phase.Deal = &Deal{
			SellerID:   o.Decision.SellerID,
			SellerName: o.Decision.SellerName,
			FinalPrice: o.Decision.FinalPrice,
			Quantity:   o.Decision.Quantity,
			TotalCost:  o.Decision.TotalCost,
			Reason:     o.Decision.Reason,
			DecidedAt:  o.Decision.Timestamp,
		}
	}
	phase.Status = StatusCompleted
	completed := r.maybeCompleteLocked(s)
	r.mu.Unlock()

	if completed != nil && r.onCompleted != nil {
		r.onCompleted(*completed)
	}
}

// lookupLocked resolves the session and phase for a room. Callers hold mu.
func (r *Registry) lookupLocked(roomID string) (*sessionState, *RoomPhase) {
	sessionID, ok := r.roomIndex[roomID]
	if !ok {
		return nil, nil
	}
	s := r.sessions[sessionID]
	if s == nil {
		return nil, nil
	}
	return s, s.rooms[roomID]
}

// maybeCompleteLocked transitions the session to completed once every room
// is done, returning the completion snapshot exactly once.
func (r *Registry) maybeCompleteLocked(s *sessionState) *Snapshot {
	if s.status == StatusCompleted || len(s.rooms) == 0 {
		return nil
	}
	for _, phase := range s.rooms {
		if phase.Status != StatusCompleted {
			return nil
		}
	}
	s.status = StatusCompleted
	s.completedAt = r.clk.Now()
	snap := snapshotLocked(s)
	return &snap
}

func snapshotLocked(s *sessionState) Snapshot {
	snap := Snapshot{
		SessionID:   s.sessionID,
		ItemName:    s.itemName,
		MaxBudget:   s.maxBudget,
		Quantity:    s.quantity,
		MaxRounds:   s.maxRounds,
		Status:      s.status,
		StartedAt:   s.startedAt,
		CompletedAt: s.completedAt,
		Rooms:       make([]RoomPhase, 0, len(s.rooms)),
	}
	for _, phase := range s.rooms {
		p := *phase
		if phase.Deal != nil {
			deal := *phase.Deal
			p.Deal = &deal
		}
		snap.Rooms = append(snap.Rooms, p)
	}
	sort.Slice(snap.Rooms, func(i, j int) bool { return snap.Rooms[i].RoomID < snap.Rooms[j].RoomID })
	return snap
}
