// Package dispatch maps decoded feed events onto room state mutations: one
// event in, a fixed set of store operations out, plus lifecycle signals for
// the session registry and notifiers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zulandar/parley/internal/clock"
	"github.com/zulandar/parley/internal/feed"
	"github.com/zulandar/parley/internal/room"
)

// ConnCloser force-closes a room's live stream connection. The dispatcher
// invokes it on the terminal event before any completion callback fires, so
// a pending reconnect can never resurrect a finished room.
type ConnCloser interface {
	Disconnect(roomID string)
}

// Observer receives room lifecycle signals. Implementations must not block;
// they are called inline from the dispatch path.
type Observer interface {
	// RoomRoundStarted fires on each round_start.
	RoomRoundStarted(roomID string, round, maxRounds int)

	// RoomDecided fires when a decision is recorded for the room.
	RoomDecided(roomID string, decision room.Decision)

	// RoomCompleted fires on the terminal event. The outcome carries the
	// final decision when one exists; nil means the negotiation ended
	// without a deal.
	RoomCompleted(roomID string, outcome Outcome)
}

// Outcome is the externally observable completion signal for a room.
type Outcome struct {
	RoomID   string
	Decision *room.Decision
	Reason   string
	Rounds   int
}

// Result tells the connection loop what an event implies for the stream.
type Result struct {
	// Acknowledged marks the server's connected handshake: the reconnect
	// counter resets.
	Acknowledged bool

	// Terminal means the room is finished. The connection has already been
	// force-closed through the bound ConnCloser; the receive loop must
	// return without reconnecting.
	Terminal bool

	// ServerErr carries a server-reported error. The connection loop
	// surfaces it and enters the backoff path.
	ServerErr error
}

// Dispatcher applies decoded events to the room store.
type Dispatcher struct {
	store     *room.Store
	clk       clock.Clock
	log       *slog.Logger
	observers []Observer

	mu     sync.Mutex
	closer ConnCloser
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Store     *room.Store
	Clock     clock.Clock    // defaults to the system clock
	Logger    *slog.Logger   // defaults to slog.Default()
	Observers []Observer
}

// New creates a Dispatcher.
func New(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("dispatch: store is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     opts.Store,
		clk:       clk,
		log:       logger.With("component", "dispatch"),
		observers: opts.Observers,
	}, nil
}

// BindCloser attaches the connection manager. The manager depends on the
// dispatcher, so this binding happens after both are constructed.
func (d *Dispatcher) BindCloser(c ConnCloser) {
	d.mu.Lock()
	d.closer = c
	d.mu.Unlock()
}

func (d *Dispatcher) forceClose(roomID string) {
	d.mu.Lock()
	closer := d.closer
	d.mu.Unlock()
	if closer != nil {
		closer.Disconnect(roomID)
	}
}

// Apply runs one decoded event against the room's state. All recoverable
// conditions (unknown room, post-decision stragglers) are absorbed here with
// a log line; only the stream-control outcome is returned.
func (d *Dispatcher) Apply(roomID string, evt *feed.Event) Result {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = d.clk.Now()
	}

	switch evt.Type {
	case feed.EventConnected:
		if err := d.store.SetStatus(roomID, room.StatusStreaming); err != nil {
			d.drop(roomID, evt, err)
		}
		return Result{Acknowledged: true}

	case feed.EventMessage, feed.EventBuyerMessage:
		d.applyMessage(roomID, evt, ts)
		return Result{}

	case feed.EventSellerResponse:
		d.applySellerResponse(roomID, evt, ts)
		return Result{}

	case feed.EventOffer:
		d.applyOffer(roomID, evt, ts)
		return Result{}

	case feed.EventRoundStart:
		if err := d.store.StartRound(roomID, evt.Round, evt.MaxRounds, ts); err != nil {
			d.drop(roomID, evt, err)
			return Result{}
		}
		for _, obs := range d.observers {
			obs.RoomRoundStarted(roomID, evt.Round, evt.MaxRounds)
		}
		return Result{}

	case feed.EventDecision:
		d.applyDecision(roomID, evt, ts)
		return Result{}

	case feed.EventComplete:
		return d.applyComplete(roomID, evt, ts)

	case feed.EventError:
		err := fmt.Errorf("dispatch: server error in room %s: %s", roomID, evt.Err.Message)
		d.log.Error("server reported error", "room", roomID, "error", evt.Err.Message)
		return Result{ServerErr: err}

	case feed.EventHeartbeat:
		return Result{}

	default:
		d.log.Debug("unhandled event type", "room", roomID, "type", evt.Type)
		return Result{}
	}
}

func (d *Dispatcher) applyMessage(roomID string, evt *feed.Event, ts time.Time) {
	m := evt.Message
	if _, err := d.store.AppendMessage(roomID, room.Message{
		Round:      evt.Round,
		Timestamp:  ts,
		SenderType: m.SenderType,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Mentioned:  m.Mentioned,
	}); err != nil {
		d.drop(roomID, evt, err)
	}
}

func (d *Dispatcher) applySellerResponse(roomID string, evt *feed.Event, ts time.Time) {
	m := evt.Message
	msg := room.Message{
		Round:      evt.Round,
		Timestamp:  ts,
		SenderType: m.SenderType,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
	}

	var price *float64
	if evt.Offer != nil {
		p := evt.Offer.Price
		price = &p
		msg.Offer = &room.Offer{
			SellerID:   evt.Offer.SellerID,
			SellerName: evt.Offer.SellerName,
			Price:      evt.Offer.Price,
			Quantity:   evt.Offer.Quantity,
			Timestamp:  ts,
		}
	}

	if _, err := d.store.AppendMessage(roomID, msg); err != nil {
		d.drop(roomID, evt, err)
		return
	}

	if msg.Offer != nil {
		res, err := d.store.UpsertOffer(roomID, *msg.Offer)
		if err != nil {
			d.drop(roomID, evt, err)
			return
		}
		if res.BestChanged && res.Best != nil {
			if err := d.store.SetRoundBest(roomID, evt.Round, *res.Best); err != nil {
				d.drop(roomID, evt, err)
			}
		}
	}

	resp := room.SellerResponse{
		SellerID:   m.SenderID,
		SellerName: m.SenderName,
		Price:      price,
	}
	if err := d.store.RecordResponse(roomID, evt.Round, resp, ts); err != nil {
		d.drop(roomID, evt, err)
	}
}

func (d *Dispatcher) applyOffer(roomID string, evt *feed.Event, ts time.Time) {
	offer := room.Offer{
		SellerID:   evt.Offer.SellerID,
		SellerName: evt.Offer.SellerName,
		Price:      evt.Offer.Price,
		Quantity:   evt.Offer.Quantity,
		Timestamp:  ts,
	}
	res, err := d.store.UpsertOffer(roomID, offer)
	if err != nil {
		d.drop(roomID, evt, err)
		return
	}
	if res.BestChanged && res.Best != nil {
		if err := d.store.SetRoundBest(roomID, evt.Round, *res.Best); err != nil {
			d.drop(roomID, evt, err)
		}
	}
}

func (d *Dispatcher) applyDecision(roomID string, evt *feed.Event, ts time.Time) {
	de := evt.Decision
	decision := room.Decision{
		SellerID:        de.SellerID,
		SellerName:      de.SellerName,
		FinalPrice:      de.FinalPrice,
		Quantity:        de.FinalQuantity,
		TotalCost:       de.TotalCost,
		Reason:          de.Reason,
		Timestamp:       ts,
		EffectiveTotal:  de.EffectiveTotal,
		RecommendedCard: de.RecommendedCard,
		CardSavings:     de.CardSavings,
	}
	if err := d.store.SetDecision(roomID, decision); err != nil {
		d.drop(roomID, evt, err)
		return
	}

	if decision.SellerID != "" {
		if _, err := d.store.AppendMessage(roomID, room.Message{
			Round:      evt.Round,
			Timestamp:  ts,
			SenderType: "system",
			SenderID:   "system",
			SenderName: "System",
			Body:       dealMessage(decision),
		}); err != nil {
			d.drop(roomID, evt, err)
		}
	}

	if de.CardSavings != nil {
		if err := d.store.SetRoundSavings(roomID, evt.Round, *de.CardSavings); err != nil {
			d.drop(roomID, evt, err)
		}
	}

	for _, obs := range d.observers {
		obs.RoomDecided(roomID, decision)
	}
}

// applyComplete handles the terminal event: the store moves to stopped, the
// connection is force-closed, and only then do completion callbacks fire.
func (d *Dispatcher) applyComplete(roomID string, evt *feed.Event, ts time.Time) Result {
	c := evt.Complete

	// A lossy stream can drop the decision event and still deliver the
	// completion. Reconstruct the decision from the completion payload.
	snap, known := d.store.Snapshot(roomID)
	if known && snap.Decision == nil && c.SellerID != "" {
		decision := room.Decision{
			SellerID:   c.SellerID,
			SellerName: c.SellerName,
			FinalPrice: c.FinalPrice,
			Quantity:   c.FinalQuantity,
			TotalCost:  c.FinalPrice * float64(c.FinalQuantity),
			Reason:     c.Reason,
			Timestamp:  ts,
		}
		if err := d.store.SetDecision(roomID, decision); err != nil {
			d.drop(roomID, evt, err)
		}
		snap, _ = d.store.Snapshot(roomID)
	}

	if err := d.store.SetStatus(roomID, room.StatusStopped); err != nil {
		d.drop(roomID, evt, err)
	}

	// Close the connection before the completion callbacks run.
	d.forceClose(roomID)

	outcome := Outcome{
		RoomID: roomID,
		Reason: c.Reason,
		Rounds: c.Rounds,
	}
	if known && snap.Decision != nil {
		dec := *snap.Decision
		outcome.Decision = &dec
	}
	for _, obs := range d.observers {
		obs.RoomCompleted(roomID, outcome)
	}
	return Result{Terminal: true}
}

// drop logs an absorbed condition. Late events after teardown and
// post-decision stragglers are expected; nothing propagates.
func (d *Dispatcher) drop(roomID string, evt *feed.Event, err error) {
	level := slog.LevelWarn
	if errors.Is(err, room.ErrUnknownRoom) || errors.Is(err, room.ErrTerminal) {
		level = slog.LevelDebug
	}
	d.log.Log(context.Background(), level, "event dropped",
		"room", roomID, "type", string(evt.Type), "reason", err)
}

// dealMessage renders the decision-confirmation system message.
func dealMessage(d room.Decision) string {
	body := fmt.Sprintf("Deal reached with %s: $%.2f/unit for %d units (total $%.2f)",
		d.SellerName, d.FinalPrice, d.Quantity, d.TotalCost)
	if d.Reason != "" {
		body += " - " + d.Reason
	}
	return body
}
