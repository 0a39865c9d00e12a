// Package room owns the reconciled state of each negotiation room: message
// timeline, per-seller offer map, round timeline, terminal decision, and
// stream status. The Store serializes mutations per room and publishes
// updates to subscribers.
package room

import (
	"errors"
	"time"
)

// ConnectionStatus describes the room's stream lifecycle.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusStreaming    ConnectionStatus = "streaming"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusStopped      ConnectionStatus = "stopped"
)

// ErrTerminal is returned for message/offer mutations arriving after the
// room's decision is set. Late events after completion are expected; callers
// log and drop.
var ErrTerminal = errors.New("room: negotiation already decided")

// ErrUnknownRoom is returned for operations on a room id with no state.
var ErrUnknownRoom = errors.New("room: unknown room")

// Message is one entry in a room's chat timeline.
type Message struct {
	ID         string
	Round      int
	Timestamp  time.Time
	SenderType string // "buyer", "seller", "system"
	SenderID   string
	SenderName string
	Body       string
	Mentioned  []string
	Offer      *Offer // attached offer, when the message carried one
}

// Offer is a seller's current proposal. The offer map keeps exactly one per
// seller, last write wins.
type Offer struct {
	SellerID   string
	SellerName string
	Price      float64
	Quantity   int
	Timestamp  time.Time
}

// BestOffer is the resolved lowest offer across sellers.
type BestOffer struct {
	SellerID   string
	SellerName string
	Price      float64
}

// SellerResponse records one seller turn within a round.
type SellerResponse struct {
	SellerID   string
	SellerName string
	LatencyMS  int64
	Price      *float64 // nil when the turn carried no offer
}

// RoundEntry accumulates per-round metrics. StartedAt stays zero until a
// round_start for that round is seen.
type RoundEntry struct {
	Round       int
	StartedAt   time.Time
	Responses   []SellerResponse
	Best        *BestOffer
	CardSavings *float64
}

// Decision is the terminal outcome. An empty SellerID means no deal.
type Decision struct {
	SellerID        string
	SellerName      string
	FinalPrice      float64
	Quantity        int
	TotalCost       float64
	Reason          string
	Timestamp       time.Time
	EffectiveTotal  *float64
	RecommendedCard string
	CardSavings     *float64
}

// State is the reconciled view of one room. It carries no locks; the Store
// owns synchronization and hands copies to readers.
type State struct {
	RoomID             string
	Messages           []Message
	Offers             map[string]Offer
	CurrentRound       int
	MaxRounds          int
	ResponsesThisRound int
	Decision           *Decision
	ConnectionStatus   ConnectionStatus
	Timeline           []RoundEntry

	sellerOrder []string // first-offer arrival order; best-offer tiebreak
	messageSeq  int
}

func newState(roomID string) *State {
	return &State{
		RoomID:           roomID,
		Offers:           make(map[string]Offer),
		ConnectionStatus: StatusDisconnected,
	}
}

// Best resolves the current best offer, or nil when no offers exist.
func (s *State) Best() *BestOffer {
	return resolveBest(s.Offers, s.sellerOrder)
}

// appendMessage adds m to the timeline in arrival order. After the decision
// is set only system messages (the deal confirmation) are accepted.
func (s *State) appendMessage(m Message) error {
	if s.Decision != nil && m.SenderType != "system" {
		return ErrTerminal
	}
	if m.ID == "" {
		s.messageSeq++
		m.ID = messageID(s.RoomID, s.messageSeq)
	}
	s.Messages = append(s.Messages, m)
	return nil
}

// upsertOffer applies o to the offer map. A stale offer (older timestamp
// than the seller's current one) is skipped, not an error: applied=false.
func (s *State) upsertOffer(o Offer) (applied bool, err error) {
	if s.Decision != nil {
		return false, ErrTerminal
	}
	prev, exists := s.Offers[o.SellerID]
	if exists && !o.Timestamp.IsZero() && !prev.Timestamp.IsZero() && o.Timestamp.Before(prev.Timestamp) {
		return false, nil
	}
	if !exists {
		s.sellerOrder = append(s.sellerOrder, o.SellerID)
	}
	s.Offers[o.SellerID] = o
	return true, nil
}

// clone returns a deep copy safe to hand to readers.
func (s *State) clone() State {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Offers = make(map[string]Offer, len(s.Offers))
	for k, v := range s.Offers {
		out.Offers[k] = v
	}
	out.Timeline = make([]RoundEntry, len(s.Timeline))
	for i, e := range s.Timeline {
		entry := e
		entry.Responses = append([]SellerResponse(nil), e.Responses...)
		out.Timeline[i] = entry
	}
	out.sellerOrder = append([]string(nil), s.sellerOrder...)
	if s.Decision != nil {
		d := *s.Decision
		out.Decision = &d
	}
	return out
}
