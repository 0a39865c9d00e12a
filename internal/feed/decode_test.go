package feed

import (
	"strings"
	"testing"
	"time"
)

func decodeOK(t *testing.T, raw string) *Event {
	t.Helper()
	evt, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode(%s): %v", raw, err)
	}
	if evt == nil {
		t.Fatalf("Decode(%s) dropped the event", raw)
	}
	return evt
}

func TestDecode_MalformedFrame(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := Decode([]byte(`{"data":{}}`)); err == nil {
		t.Error("expected error for frame without type")
	}
	if _, err := Decode([]byte(`{"type":"telemetry","data":{}}`)); err == nil {
		t.Error("expected error for unrecognized type")
	}
}

func TestDecode_Connected(t *testing.T) {
	evt := decodeOK(t, `{"type":"connected","data":{"round":0}}`)
	if evt.Type != EventConnected {
		t.Errorf("type = %q, want connected", evt.Type)
	}
}

func TestDecode_BuyerMessage(t *testing.T) {
	evt := decodeOK(t, `{"type":"buyer_message","data":{
		"sender_id":"buyer-1","sender_name":"Alex","sender_type":"buyer",
		"message":"Can anyone do better than $100?",
		"mentioned_sellers":["s1","s2"],"round":2},
		"timestamp":"2025-06-01T10:00:00Z"}`)

	m := evt.Message
	if m == nil {
		t.Fatal("message payload missing")
	}
	if m.SenderType != "buyer" || m.SenderID != "buyer-1" || m.SenderName != "Alex" {
		t.Errorf("sender = %s/%s/%s", m.SenderType, m.SenderID, m.SenderName)
	}
	if m.Body != "Can anyone do better than $100?" {
		t.Errorf("body = %q", m.Body)
	}
	if len(m.Mentioned) != 2 {
		t.Errorf("mentioned = %v, want 2 entries", m.Mentioned)
	}
	if evt.Round != 2 {
		t.Errorf("round = %d, want 2", evt.Round)
	}
	if evt.Timestamp.IsZero() {
		t.Error("timestamp not parsed")
	}
}

func TestDecode_MessageBodyFromContentKey(t *testing.T) {
	evt := decodeOK(t, `{"type":"message","data":{"sender_type":"buyer","content":"hello"}}`)
	if evt.Message.Body != "hello" {
		t.Errorf("body = %q, want %q", evt.Message.Body, "hello")
	}
}

func TestDecode_StripsThinkingBlocks(t *testing.T) {
	evt := decodeOK(t, `{"type":"buyer_message","data":{
		"sender_type":"buyer",
		"message":"<think>they will cave at 90</think>I can offer $95."}}`)
	if evt.Message.Body != "I can offer $95." {
		t.Errorf("body = %q, want thinking stripped", evt.Message.Body)
	}
}

func TestDecode_EmptyBuyerMessageGetsFiller(t *testing.T) {
	evt := decodeOK(t, `{"type":"buyer_message","data":{
		"sender_type":"buyer","message":"<think>all reasoning</think>"}}`)
	if evt.Message.Body != BuyerFiller {
		t.Errorf("body = %q, want filler %q", evt.Message.Body, BuyerFiller)
	}
}

func TestDecode_EmptyNonBuyerMessageDropped(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"message","data":{"sender_type":"system","message":"  "}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt != nil {
		t.Errorf("expected drop, got %+v", evt)
	}
}

func TestDecode_SellerResponseWithOffer(t *testing.T) {
	evt := decodeOK(t, `{"type":"seller_response","data":{
		"seller_id":"s1","sender_name":"Acme","sender_type":"seller",
		"message":"Best I can do.","offer":{"price":99.5,"quantity":3},"round":1}}`)

	if evt.Message == nil || evt.Message.Body != "Best I can do." {
		t.Fatalf("message = %+v", evt.Message)
	}
	o := evt.Offer
	if o == nil {
		t.Fatal("offer payload missing")
	}
	if o.SellerID != "s1" || o.SellerName != "Acme" || o.Price != 99.5 || o.Quantity != 3 {
		t.Errorf("offer = %+v", o)
	}
}

func TestDecode_SellerResponseFallbackBody(t *testing.T) {
	evt := decodeOK(t, `{"type":"seller_response","data":{
		"seller_id":"s1","sender_name":"Acme",
		"message":"","offer":{"price":120,"quantity":2}}}`)
	want := "Offering 120/unit for 2 units"
	if evt.Message.Body != want {
		t.Errorf("body = %q, want %q", evt.Message.Body, want)
	}
}

func TestDecode_SellerResponseNoBodyNoOfferDropped(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"seller_response","data":{
		"seller_id":"s1","message":"<think>hmm</think>"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt != nil {
		t.Errorf("expected drop, got %+v", evt)
	}
}

func TestDecode_SellerResponseNegativePrice(t *testing.T) {
	_, err := Decode([]byte(`{"type":"seller_response","data":{
		"seller_id":"s1","message":"deal","offer":{"price":-1,"quantity":2}}}`))
	if err == nil {
		t.Error("expected error for negative offer price")
	}
}

func TestDecode_SellerResponseWithoutSellerID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"seller_response","data":{"message":"hi"}}`))
	if err == nil {
		t.Error("expected error for missing seller_id")
	}
}

func TestDecode_StandaloneOffer(t *testing.T) {
	evt := decodeOK(t, `{"type":"offer","data":{
		"seller_id":"s2","seller_name":"Bolt","offer":{"price":88,"quantity":1}}}`)
	if evt.Message != nil {
		t.Error("standalone offer must not carry a message")
	}
	if evt.Offer.Price != 88 || evt.Offer.SellerName != "Bolt" {
		t.Errorf("offer = %+v", evt.Offer)
	}
}

func TestDecode_OfferFlatFields(t *testing.T) {
	evt := decodeOK(t, `{"type":"offer","data":{"seller_id":"s2","price":42,"quantity":7}}`)
	if evt.Offer.Price != 42 || evt.Offer.Quantity != 7 {
		t.Errorf("offer = %+v", evt.Offer)
	}
}

func TestDecode_OfferNegativePrice(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"offer","data":{"seller_id":"s1","price":-1}}`)); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestDecode_RoundStart(t *testing.T) {
	evt := decodeOK(t, `{"type":"round_start","data":{"round_number":3,"max_rounds":10}}`)
	if evt.Round != 3 || evt.MaxRounds != 10 {
		t.Errorf("round = %d/%d, want 3/10", evt.Round, evt.MaxRounds)
	}

	if _, err := Decode([]byte(`{"type":"round_start","data":{"max_rounds":10}}`)); err == nil {
		t.Error("expected error for round_start without round")
	}
}

func TestDecode_Decision(t *testing.T) {
	evt := decodeOK(t, `{"type":"decision","data":{
		"decision":"accept","chosen_seller_id":"s2","chosen_seller_name":"Bolt",
		"final_price":100,"final_quantity":2,"total_cost":200,
		"effective_total":190,"recommended_card":"Sapphire","card_savings":10,
		"reason":"lowest total"}}`)

	d := evt.Decision
	if d == nil {
		t.Fatal("decision payload missing")
	}
	if d.SellerID != "s2" || d.FinalPrice != 100 || d.TotalCost != 200 {
		t.Errorf("decision = %+v", d)
	}
	if d.EffectiveTotal == nil || *d.EffectiveTotal != 190 {
		t.Errorf("effective total = %v, want 190", d.EffectiveTotal)
	}
	if d.CardSavings == nil || *d.CardSavings != 10 {
		t.Errorf("card savings = %v, want 10", d.CardSavings)
	}
	if d.RecommendedCard != "Sapphire" {
		t.Errorf("recommended card = %q", d.RecommendedCard)
	}
}

func TestDecode_DecisionNullOptionals(t *testing.T) {
	evt := decodeOK(t, `{"type":"decision","data":{
		"chosen_seller_id":"s1","final_price":50,"final_quantity":1,"total_cost":50,
		"recommended_card":null,"card_savings":null}}`)
	if evt.Decision.CardSavings != nil {
		t.Error("null card_savings should stay nil")
	}
	if evt.Decision.RecommendedCard != "" {
		t.Error("null recommended_card should stay empty")
	}
}

func TestDecode_CompleteWithDeal(t *testing.T) {
	evt := decodeOK(t, `{"type":"negotiation_complete","data":{
		"selected_seller_id":"s2","selected_seller_name":"Bolt",
		"final_offer":{"price":100,"quantity":2},"reason":"accepted","rounds":4}}`)
	c := evt.Complete
	if c.SellerID != "s2" || c.FinalPrice != 100 || c.Rounds != 4 {
		t.Errorf("complete = %+v", c)
	}
}

func TestDecode_CompleteNoDeal(t *testing.T) {
	evt := decodeOK(t, `{"type":"negotiation_complete","data":{
		"selected_seller_id":null,"final_offer":null,"reason":"Max rounds reached","rounds":10}}`)
	if evt.Complete.SellerID != "" {
		t.Errorf("seller id = %q, want empty for no deal", evt.Complete.SellerID)
	}
	if evt.Complete.Reason != "Max rounds reached" {
		t.Errorf("reason = %q", evt.Complete.Reason)
	}
}

func TestDecode_Error(t *testing.T) {
	evt := decodeOK(t, `{"type":"error","data":{"error":"orchestrator crashed","round":2}}`)
	if evt.Err.Message != "orchestrator crashed" || evt.Round != 2 {
		t.Errorf("error = %+v round=%d", evt.Err, evt.Round)
	}

	evt = decodeOK(t, `{"type":"error"}`)
	if evt.Err.Message == "" {
		t.Error("error event without payload should get a default message")
	}
}

func TestDecode_HeartbeatNoPayload(t *testing.T) {
	evt := decodeOK(t, `{"type":"heartbeat"}`)
	if evt.Type != EventHeartbeat {
		t.Errorf("type = %q", evt.Type)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", `"2025-06-01T10:00:00Z"`, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"zoneless iso", `"2025-06-01T10:00:00.500000"`, time.Date(2025, 6, 1, 10, 0, 0, 500000000, time.UTC)},
		{"epoch", `1748772000`, time.Unix(1748772000, 0).UTC()},
		{"garbage", `"yesterday"`, time.Time{}},
		{"null", `null`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp([]byte(tt.raw))
			if !got.Equal(tt.want) {
				t.Errorf("parseTimestamp(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestStripThinking(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no markers", "plain text", "plain text"},
		{"single block", "<think>a</think>keep", "keep"},
		{"multiple blocks", "<think>a</think>x<think>b</think>y", "xy"},
		{"unterminated", "lead<think>never closed", "lead"},
		{"mixed case", "<Think>a</THINK>keep", "keep"},
		{"only thinking", "<think>everything</think>", ""},
		{"case-expanding runes before block", "İİİİ<think>x</think>", "İİİİ"},
		{"case-expanding runes before unterminated",
			strings.Repeat("İ", 30) + "<think>secret", strings.Repeat("İ", 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripThinking(tt.in); got != tt.want {
				t.Errorf("StripThinking(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecode_WhitespaceBodiesTrimmed(t *testing.T) {
	evt := decodeOK(t, `{"type":"buyer_message","data":{"sender_type":"buyer","message":"  spaced  "}}`)
	if strings.HasPrefix(evt.Message.Body, " ") || strings.HasSuffix(evt.Message.Body, " ") {
		t.Errorf("body not trimmed: %q", evt.Message.Body)
	}
}
