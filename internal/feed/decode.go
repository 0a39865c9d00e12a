package feed

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BuyerFiller replaces a buyer message whose text was entirely internal
// reasoning. Buyer turns must always render something.
const BuyerFiller = "Considering the current offers..."

// envelope is the wire frame: a type discriminator, a loosely typed payload,
// and a server timestamp.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// messagePayload covers message, buyer_message, and seller_response frames.
// The backend has used both "content" and "message" for the body, and both
// "round" and "round_number" for the round; accept all of them.
type messagePayload struct {
	SenderType       string     `json:"sender_type"`
	SenderID         string     `json:"sender_id"`
	SellerID         string     `json:"seller_id"`
	SenderName       string     `json:"sender_name"`
	Content          string     `json:"content"`
	Message          string     `json:"message"`
	MentionedSellers []string   `json:"mentioned_sellers"`
	MentionedAgents  []string   `json:"mentioned_agents"`
	Offer            *wireOffer `json:"offer"`
	Round            int        `json:"round"`
	RoundNumber      int        `json:"round_number"`
}

type wireOffer struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type offerPayload struct {
	SellerID    string     `json:"seller_id"`
	SellerName  string     `json:"seller_name"`
	SenderName  string     `json:"sender_name"`
	Offer       *wireOffer `json:"offer"`
	Price       float64    `json:"price"`
	Quantity    int        `json:"quantity"`
	Round       int        `json:"round"`
	RoundNumber int        `json:"round_number"`
}

type roundStartPayload struct {
	Round       int `json:"round"`
	RoundNumber int `json:"round_number"`
	MaxRounds   int `json:"max_rounds"`
}

type decisionPayload struct {
	ChosenSellerID   string   `json:"chosen_seller_id"`
	ChosenSellerName string   `json:"chosen_seller_name"`
	FinalPrice       float64  `json:"final_price"`
	FinalQuantity    int      `json:"final_quantity"`
	TotalCost        float64  `json:"total_cost"`
	EffectiveTotal   *float64 `json:"effective_total"`
	RecommendedCard  *string  `json:"recommended_card"`
	CardSavings      *float64 `json:"card_savings"`
	Reason           string   `json:"reason"`
}

type completePayload struct {
	SelectedSellerID   *string    `json:"selected_seller_id"`
	SelectedSellerName string     `json:"selected_seller_name"`
	FinalOffer         *wireOffer `json:"final_offer"`
	Reason             string     `json:"reason"`
	Rounds             int        `json:"rounds"`
}

type errorPayload struct {
	Error string `json:"error"`
	Round int    `json:"round"`
}

type heartbeatPayload struct {
	Round int `json:"round"`
}

// Decode parses one wire frame into a domain event.
//
// It returns (nil, nil) when the frame is valid but carries nothing usable
// (an empty non-buyer message, for example) and (nil, error) when the frame
// is malformed or missing required fields. Either way the caller drops the
// frame and keeps consuming; decode failures never cross the dispatch
// boundary.
func Decode(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("feed: decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("feed: frame has no type")
	}

	evt := &Event{
		Type:      EventType(env.Type),
		Timestamp: parseTimestamp(env.Timestamp),
	}

	switch evt.Type {
	case EventConnected, EventHeartbeat:
		var p heartbeatPayload
		unmarshalData(env.Data, &p)
		evt.Round = p.Round
		return evt, nil

	case EventMessage, EventBuyerMessage:
		return decodeMessage(env.Data, evt)

	case EventSellerResponse:
		return decodeSellerResponse(env.Data, evt)

	case EventOffer:
		return decodeOffer(env.Data, evt)

	case EventRoundStart:
		var p roundStartPayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, fmt.Errorf("feed: round_start: %w", err)
		}
		evt.Round = pickRound(p.Round, p.RoundNumber)
		if evt.Round <= 0 {
			return nil, fmt.Errorf("feed: round_start without a round number")
		}
		evt.MaxRounds = p.MaxRounds
		return evt, nil

	case EventDecision:
		var p decisionPayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, fmt.Errorf("feed: decision: %w", err)
		}
		d := &DecisionEvent{
			SellerID:       p.ChosenSellerID,
			SellerName:     p.ChosenSellerName,
			FinalPrice:     p.FinalPrice,
			FinalQuantity:  p.FinalQuantity,
			TotalCost:      p.TotalCost,
			EffectiveTotal: p.EffectiveTotal,
			CardSavings:    p.CardSavings,
			Reason:         p.Reason,
		}
		if p.RecommendedCard != nil {
			d.RecommendedCard = *p.RecommendedCard
		}
		evt.Decision = d
		return evt, nil

	case EventComplete:
		var p completePayload
		unmarshalData(env.Data, &p)
		c := &CompleteEvent{
			SellerName: p.SelectedSellerName,
			Reason:     p.Reason,
			Rounds:     p.Rounds,
		}
		if p.SelectedSellerID != nil {
			c.SellerID = *p.SelectedSellerID
		}
		if p.FinalOffer != nil {
			c.FinalPrice = p.FinalOffer.Price
			c.FinalQuantity = p.FinalOffer.Quantity
		}
		evt.Complete = c
		evt.Round = p.Rounds
		return evt, nil

	case EventError:
		var p errorPayload
		unmarshalData(env.Data, &p)
		if p.Error == "" {
			p.Error = "unspecified server error"
		}
		evt.Err = &ErrorEvent{Message: p.Error}
		evt.Round = p.Round
		return evt, nil

	default:
		return nil, fmt.Errorf("feed: unrecognized event type %q", env.Type)
	}
}

func decodeMessage(data json.RawMessage, evt *Event) (*Event, error) {
	var p messagePayload
	if err := unmarshalData(data, &p); err != nil {
		return nil, fmt.Errorf("feed: %s: %w", evt.Type, err)
	}

	senderType := p.SenderType
	if senderType == "" {
		if evt.Type == EventBuyerMessage {
			senderType = "buyer"
		} else {
			senderType = "system"
		}
	}

	body := StripThinking(pickBody(p.Content, p.Message))
	if body == "" {
		if senderType != "buyer" {
			return nil, nil // nothing usable
		}
		body = BuyerFiller
	}

	evt.Round = pickRound(p.Round, p.RoundNumber)
	evt.Message = &MessageEvent{
		SenderType: senderType,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Body:       body,
		Mentioned:  pickMentioned(p.MentionedSellers, p.MentionedAgents),
	}
	return evt, nil
}

func decodeSellerResponse(data json.RawMessage, evt *Event) (*Event, error) {
	var p messagePayload
	if err := unmarshalData(data, &p); err != nil {
		return nil, fmt.Errorf("feed: seller_response: %w", err)
	}

	sellerID := p.SellerID
	if sellerID == "" {
		sellerID = p.SenderID
	}
	if sellerID == "" {
		return nil, fmt.Errorf("feed: seller_response without seller_id")
	}
	if p.Offer != nil && p.Offer.Price < 0 {
		return nil, fmt.Errorf("feed: seller_response with negative price %v", p.Offer.Price)
	}

	body := StripThinking(pickBody(p.Content, p.Message))
	if body == "" && p.Offer == nil {
		return nil, nil // no text and no offer: nothing usable
	}
	if body == "" {
		body = fallbackOfferBody(p.Offer.Price, p.Offer.Quantity)
	}

	evt.Round = pickRound(p.Round, p.RoundNumber)
	evt.Message = &MessageEvent{
		SenderType: "seller",
		SenderID:   sellerID,
		SenderName: p.SenderName,
		Body:       body,
	}
	if p.Offer != nil {
		evt.Offer = &OfferEvent{
			SellerID:   sellerID,
			SellerName: p.SenderName,
			Price:      p.Offer.Price,
			Quantity:   p.Offer.Quantity,
		}
	}
	return evt, nil
}

func decodeOffer(data json.RawMessage, evt *Event) (*Event, error) {
	var p offerPayload
	if err := unmarshalData(data, &p); err != nil {
		return nil, fmt.Errorf("feed: offer: %w", err)
	}
	if p.SellerID == "" {
		return nil, fmt.Errorf("feed: offer without seller_id")
	}

	name := p.SellerName
	if name == "" {
		name = p.SenderName
	}
	price, quantity := p.Price, p.Quantity
	if p.Offer != nil {
		price, quantity = p.Offer.Price, p.Offer.Quantity
	}
	if price < 0 {
		return nil, fmt.Errorf("feed: offer with negative price %v", price)
	}

	evt.Round = pickRound(p.Round, p.RoundNumber)
	evt.Offer = &OfferEvent{
		SellerID:   p.SellerID,
		SellerName: name,
		Price:      price,
		Quantity:   quantity,
	}
	return evt, nil
}

// Tag matching is case-insensitive. Indexes must come from the original
// string: lowering can change byte offsets for case-expanding runes.
var (
	thinkBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)
	thinkOpenRe  = regexp.MustCompile(`(?i)<think>`)
)

// StripThinking removes <think>...</think> blocks, including an unterminated
// trailing block, and trims surrounding whitespace.
func StripThinking(s string) string {
	s = thinkBlockRe.ReplaceAllString(s, "")
	if loc := thinkOpenRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	return strings.TrimSpace(s)
}

// fallbackOfferBody renders a seller turn that carried an offer but no prose.
func fallbackOfferBody(price float64, quantity int) string {
	return fmt.Sprintf("Offering %s/unit for %d units",
		strconv.FormatFloat(price, 'f', -1, 64), quantity)
}

func pickBody(content, message string) string {
	if content != "" {
		return content
	}
	return message
}

func pickRound(round, roundNumber int) int {
	if round > 0 {
		return round
	}
	return roundNumber
}

func pickMentioned(sellers, agents []string) []string {
	if len(sellers) > 0 {
		return sellers
	}
	return agents
}

// unmarshalData tolerates a missing payload: several event types are valid
// with no data object at all.
func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

// timestampLayouts covers RFC 3339 and the zone-less ISO form the backend's
// serializer produces.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts a quoted ISO timestamp or a numeric epoch. It
// returns the zero time when the value is absent or unparseable; callers
// substitute arrival time.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}

	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil && epoch > 0 {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
	return time.Time{}
}
