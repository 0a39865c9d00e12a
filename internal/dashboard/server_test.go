package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zulandar/parley/internal/clock"
	"github.com/zulandar/parley/internal/db"
	"github.com/zulandar/parley/internal/dispatch"
	"github.com/zulandar/parley/internal/feed"
	"github.com/zulandar/parley/internal/models"
	"github.com/zulandar/parley/internal/room"
	"github.com/zulandar/parley/internal/session"
)

func TestStart_NilStore(t *testing.T) {
	err := Start(context.Background(), StartOpts{Store: nil})
	if err == nil {
		t.Fatal("expected error for nil store")
	}
	if !strings.Contains(err.Error(), "store is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "store is required")
	}
}

func TestStartOpts_ZeroValue(t *testing.T) {
	opts := StartOpts{}
	if opts.Store != nil || opts.DB != nil || opts.Port != 0 || opts.Out != nil {
		t.Error("zero-value StartOpts should have nil/zero fields")
	}
}

// --- fixtures ---

func newTestServer(t *testing.T, store *room.Store, reg *session.Registry, gdb *gorm.DB) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(newRouter(store, reg, gdb))
	t.Cleanup(srv.Close)
	return srv
}

func seedStore(t *testing.T) *room.Store {
	t.Helper()
	store := room.NewStore(room.StoreOpts{})

	store.Ensure("r-live")
	store.SetStatus("r-live", room.StatusStreaming)
	if err := store.StartRound("r-live", 1, 3, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	if _, err := store.AppendMessage("r-live", room.Message{
		SenderType: "buyer", SenderID: "buyer", Body: "Looking for 2 units",
	}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	for _, o := range []room.Offer{
		{SellerID: "s1", SellerName: "Acme", Price: 120, Quantity: 2},
		{SellerID: "s2", SellerName: "Bolt", Price: 100, Quantity: 2},
	} {
		if _, err := store.UpsertOffer("r-live", o); err != nil {
			t.Fatalf("UpsertOffer failed: %v", err)
		}
	}

	store.Ensure("r-done")
	if _, err := store.UpsertOffer("r-done", room.Offer{SellerID: "s9", SellerName: "Zip", Price: 80, Quantity: 1}); err != nil {
		t.Fatalf("UpsertOffer failed: %v", err)
	}
	if err := store.SetDecision("r-done", room.Decision{
		SellerID: "s9", SellerName: "Zip", FinalPrice: 80, Quantity: 1, TotalCost: 80,
		Timestamp: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SetDecision failed: %v", err)
	}
	return store
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

// --- route tests ---

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	var body map[string]string
	resp := getJSON(t, srv.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
	if body["uptime"] == "" {
		t.Error("uptime field missing")
	}
}

func TestRoomList(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	var body struct {
		Rooms []roomSummaryView `json:"rooms"`
	}
	getJSON(t, srv.URL+"/api/rooms", &body)

	if len(body.Rooms) != 2 {
		t.Fatalf("got %d rooms, want 2", len(body.Rooms))
	}
	if body.Rooms[0].RoomID != "r-done" || body.Rooms[1].RoomID != "r-live" {
		t.Errorf("order = [%s, %s], want sorted by id", body.Rooms[0].RoomID, body.Rooms[1].RoomID)
	}

	live := body.Rooms[1]
	if live.Status != "streaming" || live.CurrentRound != 1 || live.MaxRounds != 3 {
		t.Errorf("live summary = %+v", live)
	}
	if live.Offers != 2 || live.Messages != 1 {
		t.Errorf("counts = %d offers, %d messages", live.Offers, live.Messages)
	}
	if live.Best == nil || live.Best.SellerID != "s2" || live.Best.Price != 100 {
		t.Errorf("best = %+v, want s2 at 100", live.Best)
	}

	done := body.Rooms[0]
	if !done.Decided || done.Status != "stopped" {
		t.Errorf("done summary = %+v, want decided and stopped", done)
	}
}

func TestRoomDetail(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	var view roomView
	resp := getJSON(t, srv.URL+"/api/rooms/r-live", &view)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if view.RoomID != "r-live" || view.Status != "streaming" {
		t.Errorf("view = %s/%s", view.RoomID, view.Status)
	}
	if len(view.Messages) != 1 || view.Messages[0].Body != "Looking for 2 units" {
		t.Errorf("messages = %+v", view.Messages)
	}
	if len(view.Offers) != 2 {
		t.Errorf("got %d offers, want 2", len(view.Offers))
	}
	if view.Offers["s1"].Price != 120 {
		t.Errorf("s1 price = %v, want 120", view.Offers["s1"].Price)
	}
	if view.Best == nil || view.Best.SellerID != "s2" {
		t.Errorf("best = %+v, want s2", view.Best)
	}
	if len(view.Rounds) != 1 || view.Rounds[0].Round != 1 {
		t.Errorf("rounds = %+v", view.Rounds)
	}
	if view.Rounds[0].StartedAt == nil {
		t.Error("round started_at missing")
	}
	if view.Decision != nil {
		t.Error("live room should have no decision")
	}
}

func TestRoomDetail_Decided(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	var view roomView
	getJSON(t, srv.URL+"/api/rooms/r-done", &view)
	if view.Decision == nil {
		t.Fatal("decision missing")
	}
	if view.Decision.SellerID != "s9" || view.Decision.TotalCost != 80 {
		t.Errorf("decision = %+v", view.Decision)
	}
}

func TestRoomDetail_Unknown(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	resp := getJSON(t, srv.URL+"/api/rooms/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	resp := getJSON(t, srv.URL+"/nonexistent", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// --- session route tests ---

func TestSessionList_NilRegistry(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	var body struct {
		Sessions []sessionView `json:"sessions"`
	}
	getJSON(t, srv.URL+"/api/sessions", &body)
	if len(body.Sessions) != 0 {
		t.Errorf("got %d sessions, want 0 without a registry", len(body.Sessions))
	}
}

func TestSessionRoutes(t *testing.T) {
	reg := session.NewRegistry(session.RegistryOpts{Clock: clock.NewFake()})
	if err := reg.Begin("sess-1", session.BeginOpts{ItemName: "laptop", MaxBudget: 500, Quantity: 2, MaxRounds: 3}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := reg.Attach("sess-1", "r-live"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	reg.RoomRoundStarted("r-live", 2, 3)

	srv := newTestServer(t, seedStore(t), reg, nil)

	var list struct {
		Sessions []sessionView `json:"sessions"`
	}
	getJSON(t, srv.URL+"/api/sessions", &list)
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != "sess-1" {
		t.Fatalf("sessions = %+v", list.Sessions)
	}

	var view sessionView
	resp := getJSON(t, srv.URL+"/api/sessions/sess-1", &view)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if view.Status != "active" || view.ItemName != "laptop" {
		t.Errorf("view = %+v", view)
	}
	if len(view.Rooms) != 1 || view.Rooms[0].Round != 2 {
		t.Errorf("rooms = %+v", view.Rooms)
	}

	resp = getJSON(t, srv.URL+"/api/sessions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// --- history route tests ---

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(db.Opts{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return gdb
}

func seedHistory(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	decided := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	outcomes := []*models.RoomOutcome{
		{RoomID: "h1", SessionID: "sess-1", Success: true, SellerID: "s1", SellerName: "Acme",
			FinalPrice: 50, Quantity: 2, TotalCost: 100, Rounds: 2, DecidedAt: &decided},
		{RoomID: "h2", SessionID: "sess-1", Success: true, SellerID: "s2", SellerName: "Bolt",
			FinalPrice: 90, Quantity: 1, TotalCost: 90, Rounds: 3, DecidedAt: &decided},
		{RoomID: "h3", SessionID: "sess-2", Success: false, Reason: "max rounds reached", Rounds: 5},
	}
	for _, o := range outcomes {
		if err := db.SaveOutcome(gdb, o); err != nil {
			t.Fatalf("SaveOutcome(%s) failed: %v", o.RoomID, err)
		}
	}
	if err := db.UpsertSession(gdb, &models.Negotiation{
		SessionID: "sess-1", ItemName: "laptop", MaxBudget: 500, Quantity: 2,
		MaxRounds: 3, Status: "completed", Rooms: 2,
	}); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
}

func TestHistoryList(t *testing.T) {
	gdb := openTestDB(t)
	seedHistory(t, gdb)
	srv := newTestServer(t, seedStore(t), nil, gdb)

	var body struct {
		Outcomes []OutcomeRow `json:"outcomes"`
	}
	getJSON(t, srv.URL+"/api/history", &body)
	if len(body.Outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(body.Outcomes))
	}
	if body.Outcomes[0].RoomID != "h3" {
		t.Errorf("first row = %s, want newest (h3)", body.Outcomes[0].RoomID)
	}

	getJSON(t, srv.URL+"/api/history?success=true", &body)
	if len(body.Outcomes) != 2 {
		t.Errorf("success filter: got %d, want 2", len(body.Outcomes))
	}

	getJSON(t, srv.URL+"/api/history?session=sess-2", &body)
	if len(body.Outcomes) != 1 || body.Outcomes[0].RoomID != "h3" {
		t.Errorf("session filter: %+v", body.Outcomes)
	}

	getJSON(t, srv.URL+"/api/history?limit=1", &body)
	if len(body.Outcomes) != 1 {
		t.Errorf("limit: got %d, want 1", len(body.Outcomes))
	}
}

func TestHistorySummary(t *testing.T) {
	gdb := openTestDB(t)
	seedHistory(t, gdb)
	srv := newTestServer(t, seedStore(t), nil, gdb)

	var s HistorySummary
	getJSON(t, srv.URL+"/api/history/summary", &s)
	if s.Rooms != 3 || s.Deals != 2 || s.NoDeals != 1 {
		t.Errorf("summary counts = %+v", s)
	}
	if s.TotalSpend != 190 {
		t.Errorf("TotalSpend = %v, want 190", s.TotalSpend)
	}
	if s.AvgRounds < 3.3 || s.AvgRounds > 3.4 {
		t.Errorf("AvgRounds = %v, want ~3.33", s.AvgRounds)
	}
}

func TestHistorySessions(t *testing.T) {
	gdb := openTestDB(t)
	seedHistory(t, gdb)
	srv := newTestServer(t, seedStore(t), nil, gdb)

	var body struct {
		Sessions []SessionRow `json:"sessions"`
	}
	getJSON(t, srv.URL+"/api/history/sessions", &body)
	if len(body.Sessions) != 1 || body.Sessions[0].SessionID != "sess-1" {
		t.Fatalf("sessions = %+v", body.Sessions)
	}
	if body.Sessions[0].Status != "completed" || body.Sessions[0].Rooms != 2 {
		t.Errorf("row = %+v", body.Sessions[0])
	}
}

func TestHistory_NilDB(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	var body struct {
		Outcomes []OutcomeRow `json:"outcomes"`
	}
	getJSON(t, srv.URL+"/api/history", &body)
	if len(body.Outcomes) != 0 {
		t.Errorf("got %d outcomes, want 0 without a db", len(body.Outcomes))
	}

	var s HistorySummary
	resp := getJSON(t, srv.URL+"/api/history/summary", &s)
	if resp.StatusCode != http.StatusOK || s.Rooms != 0 {
		t.Errorf("summary without db: status %d, %+v", resp.StatusCode, s)
	}
}

// --- SSE relay tests ---

// readEvent reads one SSE event (event line, data line, blank) from br.
func readEvent(t *testing.T, br *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		}
	}
}

func TestRoomEvents_SnapshotThenUpdates(t *testing.T) {
	store := seedStore(t)
	srv := newTestServer(t, store, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/rooms/r-live/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content-type = %q, want text/event-stream", ct)
	}

	br := bufio.NewReader(resp.Body)
	event, data := readEvent(t, br)
	if event != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", event)
	}
	var snap roomView
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.RoomID != "r-live" || len(snap.Offers) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	// A mutation after subscribe shows up as an incremental event.
	if _, err := store.AppendMessage("r-live", room.Message{
		SenderType: "seller", SenderID: "s1", SenderName: "Acme", Body: "Can do 110",
	}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	event, data = readEvent(t, br)
	if event != "message" {
		t.Fatalf("second event = %q, want message", event)
	}
	var msg messageView
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Body != "Can do 110" || msg.SenderID != "s1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestRoomEvents_UnknownRoom(t *testing.T) {
	srv := newTestServer(t, seedStore(t), nil, nil)

	resp := getJSON(t, srv.URL+"/api/rooms/nope/events", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateToView_Kinds(t *testing.T) {
	price := 95.0
	tests := []struct {
		name   string
		update room.Update
		want   string
	}{
		{"status", room.Update{Kind: room.UpdateStatus, Status: room.StatusStreaming}, `"streaming"`},
		{"round", room.Update{Kind: room.UpdateRound, Round: 2, MaxRounds: 5}, `"round":2`},
		{"best", room.Update{Kind: room.UpdateBestOffer, Best: &room.BestOffer{SellerID: "s1", Price: price}}, `"seller_id":"s1"`},
		{"decision", room.Update{Kind: room.UpdateDecision, Decision: &room.Decision{SellerID: "s1", TotalCost: 190}}, `"total_cost":190`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := json.Marshal(updateToView(tt.update))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !strings.Contains(string(buf), tt.want) {
				t.Errorf("payload = %s, want to contain %s", buf, tt.want)
			}
		})
	}
}

// --- helper tests ---

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"seconds", 45 * time.Second, "45s"},
		{"minutes", 5 * time.Minute, "5m"},
		{"hours", 3*time.Hour + 15*time.Minute, "3h 15m"},
		{"days", 50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

// Keep the pipeline honest: an event applied through the dispatcher is
// visible through the API afterwards.
func TestDispatcherFeedsDashboard(t *testing.T) {
	store := room.NewStore(room.StoreOpts{})
	d, err := dispatch.New(dispatch.DispatcherOpts{Store: store, Clock: clock.NewFake()})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	store.Ensure("r-9")
	srv := newTestServer(t, store, nil, nil)

	evt, err := feed.Decode([]byte(`{"type":"offer_update","data":{"seller_id":"s1","seller_name":"Acme","price":75,"quantity":2},"timestamp":"2025-06-01T12:00:00Z"}`))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	d.Apply("r-9", evt)

	var view roomView
	getJSON(t, srv.URL+"/api/rooms/r-9", &view)
	if view.Offers["s1"].Price != 75 {
		t.Errorf("offer price = %v, want 75", view.Offers["s1"].Price)
	}
}
