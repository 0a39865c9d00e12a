package room

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind loses updates rather than stalling dispatch.
const subscriberBuffer = 64

// Store is the registry of live rooms, keyed by room id. Each room carries
// its own lock so rooms never contend with each other; the registry lock
// only guards create, lookup, and remove.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*slot
	log   *slog.Logger
}

type slot struct {
	mu      sync.Mutex
	state   *State
	subs    map[int]chan Update
	nextSub int
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	Logger *slog.Logger
}

// NewStore creates an empty room registry.
func NewStore(opts StoreOpts) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rooms: make(map[string]*slot),
		log:   logger.With("component", "room"),
	}
}

// Ensure creates state for roomID if it does not exist yet. Safe to call
// repeatedly.
func (st *Store) Ensure(roomID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.rooms[roomID]; !ok {
		st.rooms[roomID] = &slot{
			state: newState(roomID),
			subs:  make(map[int]chan Update),
		}
	}
}

// Remove tears down a room: its state is discarded and all subscriber
// channels are closed. Callers must close the room's live connection first.
func (st *Store) Remove(roomID string) {
	st.mu.Lock()
	sl, ok := st.rooms[roomID]
	if ok {
		delete(st.rooms, roomID)
	}
	st.mu.Unlock()
	if !ok {
		return
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	for id, ch := range sl.subs {
		close(ch)
		delete(sl.subs, id)
	}
}

// Snapshot returns a deep copy of the room's state.
func (st *Store) Snapshot(roomID string) (State, bool) {
	sl := st.slotFor(roomID)
	if sl == nil {
		return State{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.state.clone(), true
}

// RoomIDs returns the ids of all live rooms.
func (st *Store) RoomIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.rooms))
	for id := range st.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Summary is a compact per-room view for list endpoints and status output.
type Summary struct {
	RoomID       string
	Status       ConnectionStatus
	CurrentRound int
	MaxRounds    int
	Messages     int
	Offers       int
	Best         *BestOffer
	Decided      bool
}

// Summaries returns a compact view of every live room.
func (st *Store) Summaries() []Summary {
	ids := st.RoomIDs()
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		sl := st.slotFor(id)
		if sl == nil {
			continue
		}
		sl.mu.Lock()
		s := sl.state
		out = append(out, Summary{
			RoomID:       s.RoomID,
			Status:       s.ConnectionStatus,
			CurrentRound: s.CurrentRound,
			MaxRounds:    s.MaxRounds,
			Messages:     len(s.Messages),
			Offers:       len(s.Offers),
			Best:         s.Best(),
			Decided:      s.Decision != nil,
		})
		sl.mu.Unlock()
	}
	return out
}

// Subscribe registers for the room's updates. The returned cancel function
// unregisters and closes the channel. Subscribers that fall behind lose
// updates; they should resynchronize from a Snapshot.
func (st *Store) Subscribe(roomID string) (<-chan Update, func(), error) {
	sl := st.slotFor(roomID)
	if sl == nil {
		return nil, nil, fmt.Errorf("room: subscribe %s: %w", roomID, ErrUnknownRoom)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	id := sl.nextSub
	sl.nextSub++
	ch := make(chan Update, subscriberBuffer)
	sl.subs[id] = ch

	cancel := func() {
		sl.mu.Lock()
		defer sl.mu.Unlock()
		if existing, ok := sl.subs[id]; ok {
			delete(sl.subs, id)
			close(existing)
		}
	}
	return ch, cancel, nil
}

// SetStatus transitions the room's connection status. Unchanged transitions
// emit no update. Once a decision is recorded the room holds at stopped;
// reconnect churn between the decision and the terminal event cannot move
// it back.
func (st *Store) SetStatus(roomID string, status ConnectionStatus) error {
	sl := st.slotFor(roomID)
	if sl == nil {
		return fmt.Errorf("room: set status %s: %w", roomID, ErrUnknownRoom)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.state.Decision != nil && status != StatusStopped {
		return nil
	}
	if sl.state.ConnectionStatus == status {
		return nil
	}
	sl.state.ConnectionStatus = status
	sl.publish(Update{RoomID: roomID, Kind: UpdateStatus, Status: status})
	return nil
}

// Status returns the room's current connection status.
func (st *Store) Status(roomID string) (ConnectionStatus, bool) {
	sl := st.slotFor(roomID)
	if sl == nil {
		return "", false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.state.ConnectionStatus, true
}

// AppendMessage adds a message to the room timeline, assigning an id when
// the message has none. Returns the stored message.
func (st *Store) AppendMessage(roomID string, m Message) (Message, error) {
	sl := st.slotFor(roomID)
	if sl == nil {
		return Message{}, fmt.Errorf("room: append message %s: %w", roomID, ErrUnknownRoom)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if err := sl.state.appendMessage(m); err != nil {
		return Message{}, err
	}
	stored := sl.state.Messages[len(sl.state.Messages)-1]
	sl.publish(Update{RoomID: roomID, Kind: UpdateMessage, Message: &stored})
	return stored, nil
}

// OfferResult reports what an upsert changed.
type OfferResult struct {
	Applied     bool
	BestChanged bool
	Best        *BestOffer
}

// UpsertOffer applies a seller's offer. Stale offers (older than the
// seller's current one) are skipped with a log line, not an error. A best
// offer update is published only when the resolved (seller, price) pair
// actually changed.
func (st *Store) UpsertOffer(roomID string, o Offer) (OfferResult, error) {
	sl := st.slotFor(roomID)
	if sl == nil {
		return OfferResult{}, fmt.Errorf("room: upsert offer %s: %w", roomID, ErrUnknownRoom)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	prevBest := sl.state.Best()
	applied, err := sl.state.upsertOffer(o)
	if err != nil {
		return OfferResult{}, err
	}
	if !applied {
		st.log.Warn("stale offer ignored",
			"room", roomID, "seller", o.SellerID, "price", o.Price)
		return OfferResult{Applied: false, Best: prevBest}, nil
	}

	newBest := sl.state.Best()
	result := OfferResult{
		Applied:     true,
		BestChanged: !sameBest(prevBest, newBest),
		Best:        newBest,
	}

	sl.publish(Update{RoomID: roomID, Kind: UpdateOffer, Offer: &o})
	if result.BestChanged {
		sl.publish(Update{RoomID: roomID, Kind: UpdateBestOffer, Best: newBest})
	}
	return result, nil
}

// StartRound sets the room's current round, creating the round entry with
// its start time. maxRounds is only applied when positive. The per-round
// response counter resets.
func (st *Store) StartRound(roomID string, round, maxRounds int, at time.Time) error {
	sl := st.slotFor(roomID)
	if sl == nil {
		return fmt.Errorf("room: start round %s: %w", roomID, ErrUnknownRoom)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.state.CurrentRound = round
	if maxRounds > 0 {
		sl.state.MaxRounds = maxRounds
	}
	sl.state.ResponsesThisRound = 0
	sl.state.startRound(round, at)
	sl.publish(Update{
		RoomID:    roomID,
		Kind:      UpdateRound,
		Round:     round,
		MaxRounds: sl.state.MaxRounds,
	})
	return nil
}

// RecordResponse logs a seller turn against a round, computing the response
// latency from the round's start time when known. A zero round falls back
// to the room's current round; if no round is known at all the response is
// dropped with a log line.
func (st *Store) RecordResponse(roomID string, round int, resp SellerResponse, now time.Time) error {
	sl := st.slotFor(roomID)
	if sl == nil {
		return fmt.Errorf("room: record response %s: %w", roomID, ErrUnknownRoom)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if round <= 0 {
		round = sl.state.CurrentRound
	}
	if round <= 0 {
		st.log.Debug("seller response with no known round dropped",
			"room", roomID, "seller", resp.SellerID)
		return nil
	}

	entry := sl.state.ensureRound(round)
	resp.LatencyMS = roundLatency(entry, now)
	sl.state.recordResponse(round, resp)
	if round == sl.state.CurrentRound {
		sl.state.ResponsesThisRound++
	}
	return nil
}

// SetRoundBest records the round-level best offer snapshot.
func (st *Store) SetRoundBest(roomID string, round int, best BestOffer) error {
	sl := st.slotFor(roomID)
	if sl == nil {
		return fmt.Errorf("room: set round best %s: %w", roomID, ErrUnknownRoom)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if round <= 0 {
		round = sl.state.CurrentRound
	}
	if round <= 0 {
		return nil
	}
	entry := sl.state.ensureRound(round)
	entry.Best = &best
	return nil
}

// SetRoundSavings records card savings against a round.
func (st *Store) SetRoundSavings(roomID string, round int, savings float64) error {
	sl := st.slotFor(roomID)
	if sl == nil {
		return fmt.Errorf("room: set round savings %s: %w", roomID, ErrUnknownRoom)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if round <= 0 {
		round = sl.state.CurrentRound
	}
	if round <= 0 {
		return nil
	}
	entry := sl.state.ensureRound(round)
	entry.CardSavings = &savings
	return nil
}

// SetDecision records the terminal outcome and moves the room to stopped.
// A second decision for the same room is ignored with a log line.
func (st *Store) SetDecision(roomID string, d Decision) error {
	sl := st.slotFor(roomID)
	if sl == nil {
		return fmt.Errorf("room: set decision %s: %w", roomID, ErrUnknownRoom)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.state.Decision != nil {
		st.log.Warn("duplicate decision ignored", "room", roomID, "seller", d.SellerID)
		return nil
	}
	sl.state.Decision = &d
	sl.publish(Update{RoomID: roomID, Kind: UpdateDecision, Decision: &d})
	if sl.state.ConnectionStatus != StatusStopped {
		sl.state.ConnectionStatus = StatusStopped
		sl.publish(Update{RoomID: roomID, Kind: UpdateStatus, Status: StatusStopped})
	}
	return nil
}

func (st *Store) slotFor(roomID string) *slot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.rooms[roomID]
}

// publish sends to every subscriber without blocking. Callers hold the slot
// lock, so updates are observed in mutation order.
func (sl *slot) publish(u Update) {
	for _, ch := range sl.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// messageID builds a client-side message id, unique within a room.
func messageID(roomID string, seq int) string {
	return fmt.Sprintf("%s-m%d", roomID, seq)
}
