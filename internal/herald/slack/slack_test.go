package slack

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/parley/internal/herald"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu       sync.Mutex
	authResp *slackapi.AuthTestResponse
	authErr  error
	posted   []postedMessage
	postErr  error
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123"},
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func (m *mockSlackClient) lastPosted() postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted[len(m.posted)-1]
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSlackClient) {
	t.Helper()
	client := newMockSlackClient()

	a, err := New(AdapterOpts{
		Client:    client,
		ChannelID: "C_DEFAULT",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, client
}

// --- New tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{ChannelID: "C1"})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestNew_WithBotToken(t *testing.T) {
	a, err := New(AdapterOpts{BotToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil {
		t.Fatal("expected non-nil adapter")
	}
}

func TestNew_WithMock(t *testing.T) {
	a, err := New(AdapterOpts{Client: newMockSlackClient()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil {
		t.Fatal("expected non-nil adapter")
	}
}

// --- Connect tests ---

func TestConnect_Success(t *testing.T) {
	a, _ := newTestAdapter(t)
	if a.BotUserID() != "U_BOT_123" {
		t.Errorf("bot user ID = %q, want U_BOT_123", a.BotUserID())
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid token")

	a, _ := New(AdapterOpts{Client: client})
	err := a.Connect(context.Background())
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !strings.Contains(err.Error(), "auth test") {
		t.Errorf("error = %q, want auth test error", err.Error())
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Close()
	err := a.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error for closed adapter")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	// Second connect should be a no-op.
	err := a.Connect(context.Background())
	if err != nil {
		t.Fatalf("second connect should not error: %v", err)
	}
}

// --- Send tests ---

func TestSend_SimpleText(t *testing.T) {
	a, client := newTestAdapter(t)

	err := a.Send(context.Background(), herald.OutboundMessage{
		ChannelID: "C1",
		Text:      "Parley herald online",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.postedCount() != 1 {
		t.Fatalf("expected 1 posted message, got %d", client.postedCount())
	}
	last := client.lastPosted()
	if last.channelID != "C1" {
		t.Errorf("channel = %q, want C1", last.channelID)
	}
}

func TestSend_DefaultChannel(t *testing.T) {
	a, client := newTestAdapter(t)

	err := a.Send(context.Background(), herald.OutboundMessage{
		Text: "hello default",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := client.lastPosted()
	if last.channelID != "C_DEFAULT" {
		t.Errorf("channel = %q, want C_DEFAULT", last.channelID)
	}
}

func TestSend_NoChannel(t *testing.T) {
	client := newMockSlackClient()
	a, _ := New(AdapterOpts{Client: client})
	a.Connect(context.Background())

	err := a.Send(context.Background(), herald.OutboundMessage{
		Text: "no channel",
	})
	if err == nil {
		t.Fatal("expected error for no channel")
	}
}

func TestSend_WithEvents(t *testing.T) {
	a, client := newTestAdapter(t)

	err := a.Send(context.Background(), herald.OutboundMessage{
		ChannelID: "C1",
		Text:      "events",
		Events: []herald.FormattedEvent{
			{
				Title:    "Deal closed in room-4",
				Body:     "Atlas Parts at $89.99 x 2",
				Color:    "#36a64f",
				Severity: "success",
				Fields: []herald.Field{
					{Name: "Room", Value: "room-4", Short: true},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.postedCount() != 1 {
		t.Fatal("expected 1 posted message")
	}
}

func TestSend_NotConnected(t *testing.T) {
	client := newMockSlackClient()
	a, _ := New(AdapterOpts{Client: client})

	err := a.Send(context.Background(), herald.OutboundMessage{
		ChannelID: "C1",
		Text:      "hello",
	})
	if err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestSend_PostError(t *testing.T) {
	a, client := newTestAdapter(t)
	client.postErr = fmt.Errorf("channel_not_found")

	err := a.Send(context.Background(), herald.OutboundMessage{
		ChannelID: "C1",
		Text:      "hello",
	})
	if err == nil {
		t.Fatal("expected post error")
	}
}

// --- Close tests ---

func TestClose_Success(t *testing.T) {
	a, _ := newTestAdapter(t)
	err := a.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Close()
	err := a.Close()
	if err != nil {
		t.Fatalf("second close should not error: %v", err)
	}
}

// --- buildMessageOptions tests ---

func TestBuildMessageOptions_TextOnly(t *testing.T) {
	opts := buildMessageOptions(herald.OutboundMessage{
		Text: "hello",
	})
	if len(opts) != 1 {
		t.Errorf("expected 1 option, got %d", len(opts))
	}
}

func TestBuildMessageOptions_WithEvents(t *testing.T) {
	opts := buildMessageOptions(herald.OutboundMessage{
		Text: "events",
		Events: []herald.FormattedEvent{
			{Title: "Test", Body: "body", Color: "#fff"},
		},
	})
	// Should have: attachments + text fallback.
	if len(opts) != 2 {
		t.Errorf("expected 2 options, got %d", len(opts))
	}
}

func TestBuildMessageOptions_EventsWithoutText(t *testing.T) {
	opts := buildMessageOptions(herald.OutboundMessage{
		Events: []herald.FormattedEvent{
			{Title: "Test", Body: "body", Color: "#fff"},
		},
	})
	if len(opts) != 1 {
		t.Errorf("expected 1 option (attachments only), got %d", len(opts))
	}
}

// --- eventToAttachment tests ---

func TestEventToAttachment(t *testing.T) {
	evt := herald.FormattedEvent{
		Title:    "Deal closed in room-18",
		Body:     "Atlas Parts at $89.99 x 2 ($179.98 total)",
		Color:    "#36a64f",
		Severity: "success",
		Fields: []herald.Field{
			{Name: "Room", Value: "room-18", Short: true},
			{Name: "Price", Value: "$89.99", Short: true},
		},
	}

	att := eventToAttachment(evt)
	if att.Title != "Deal closed in room-18" {
		t.Errorf("title = %q", att.Title)
	}
	if att.Text != "Atlas Parts at $89.99 x 2 ($179.98 total)" {
		t.Errorf("text = %q", att.Text)
	}
	if att.Color != "#36a64f" {
		t.Errorf("color = %q", att.Color)
	}
	if len(att.Fields) != 2 {
		t.Errorf("fields count = %d, want 2", len(att.Fields))
	}
	if att.Fields[0].Title != "Room" {
		t.Errorf("field[0] title = %q", att.Fields[0].Title)
	}
	if att.Fields[0].Short != true {
		t.Error("field[0] should be short")
	}
}

// --- retryOnRateLimit tests ---

func TestRetryOnRateLimit_Success(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("some other error")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("should not retry non-rate-limit errors, calls = %d", calls)
	}
}

func TestRetryOnRateLimit_RetriesAndSucceeds(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// maxRetries+1 total calls (initial + retries).
	if calls != maxRetries+1 {
		t.Errorf("expected %d calls, got %d", maxRetries+1, calls)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	calls := 0
	err := retryOnRateLimit(ctx, func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Second}
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before context cancel, got %d", calls)
	}
}

func TestRetryOnRateLimit_UsesDefaultBackoff(t *testing.T) {
	// When RetryAfter is 0, should use exponential backoff.
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 2 {
			return &slackapi.RateLimitedError{RetryAfter: 0}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

// --- Send rate limiting tests ---

func TestSend_RetriesOnRateLimit(t *testing.T) {
	a, client := newTestAdapter(t)

	rlClient := &rateLimitMockClient{
		inner:     client,
		failCount: 2,
	}
	a.client = rlClient

	err := a.Send(context.Background(), herald.OutboundMessage{
		ChannelID: "C1",
		Text:      "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rlClient.postCalls() != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", rlClient.postCalls())
	}
}

// rateLimitMockClient wraps a mock client and returns rate limit errors for the first N calls.
type rateLimitMockClient struct {
	inner     *mockSlackClient
	mu        sync.Mutex
	calls     int
	failCount int
}

func (r *rateLimitMockClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return r.inner.AuthTest()
}

func (r *rateLimitMockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	r.mu.Lock()
	r.calls++
	c := r.calls
	r.mu.Unlock()
	if c <= r.failCount {
		return "", "", &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	}
	return r.inner.PostMessage(channelID, options...)
}

func (r *rateLimitMockClient) postCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// --- Verify Adapter interface compliance ---

var _ herald.Adapter = (*Adapter)(nil)
