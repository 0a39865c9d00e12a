// Package feed decodes the negotiation backend's wire events into the closed
// set of typed domain events consumed by the dispatcher.
package feed

import "time"

// EventType identifies a wire event.
type EventType string

const (
	EventConnected      EventType = "connected"
	EventMessage        EventType = "message"
	EventBuyerMessage   EventType = "buyer_message"
	EventSellerResponse EventType = "seller_response"
	EventOffer          EventType = "offer"
	EventDecision       EventType = "decision"
	EventRoundStart     EventType = "round_start"
	EventComplete       EventType = "negotiation_complete"
	EventError          EventType = "error"
	EventHeartbeat      EventType = "heartbeat"
)

// Event is one decoded domain event. Exactly the payload fields relevant to
// the event's type are populated; the rest are nil.
type Event struct {
	Type      EventType
	Timestamp time.Time // zero when the wire timestamp was absent or unparseable
	Round     int       // 0 when the event carries no round number
	MaxRounds int       // round_start only

	Message  *MessageEvent  // message, buyer_message, seller_response
	Offer    *OfferEvent    // seller_response (when attached), offer
	Decision *DecisionEvent // decision
	Complete *CompleteEvent // negotiation_complete
	Err      *ErrorEvent    // error
}

// MessageEvent is the normalized chat content of a message-bearing event.
// Body is never empty.
type MessageEvent struct {
	SenderType string // "buyer", "seller", "system"
	SenderID   string
	SenderName string
	Body       string
	Mentioned  []string
}

// OfferEvent is a seller's price/quantity proposal.
type OfferEvent struct {
	SellerID   string
	SellerName string
	Price      float64
	Quantity   int
}

// DecisionEvent is the buyer's accepted deal. Optional numeric fields stay
// nil when the wire payload omitted them.
type DecisionEvent struct {
	SellerID        string
	SellerName      string
	FinalPrice      float64
	FinalQuantity   int
	TotalCost       float64
	EffectiveTotal  *float64
	RecommendedCard string
	CardSavings     *float64
	Reason          string
}

// CompleteEvent is the terminal signal for a room. An empty SellerID means
// the negotiation ended without a deal.
type CompleteEvent struct {
	SellerID      string
	SellerName    string
	FinalPrice    float64
	FinalQuantity int
	Reason        string
	Rounds        int
}

// ErrorEvent is a server-reported failure.
type ErrorEvent struct {
	Message string
}
