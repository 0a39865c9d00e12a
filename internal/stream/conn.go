package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/zulandar/parley/internal/clock"
	"github.com/zulandar/parley/internal/dispatch"
	"github.com/zulandar/parley/internal/feed"
	"github.com/zulandar/parley/internal/room"
)

// conn owns one room's live feed: the HTTP response body, the receive loop,
// and the reconnect state. It is created by the Manager and runs until the
// terminal event, retry exhaustion, or a deliberate disconnect.
type conn struct {
	roomID     string
	client     *Client
	store      *room.Store
	dispatcher *dispatch.Dispatcher
	clk        clock.Clock
	log        *slog.Logger

	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxAttempts int
	onError     func(roomID string, err error)
	onFatal     func(roomID string, err error)

	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	body   io.Closer
}

// close tears the connection down synchronously: the in-flight request is
// cancelled, the open body is closed, and any pending reconnect wait is
// released. Safe to call more than once and from any goroutine, including
// the receive loop itself.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	body := c.body
	c.body = nil
	c.mu.Unlock()

	close(c.stop)
	c.cancel()
	if body != nil {
		body.Close()
	}
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// run drives the connect/receive/backoff cycle. The attempt counter resets
// on each connected acknowledgment, so the retry budget applies to
// consecutive failures only.
func (c *conn) run(ctx context.Context) {
	defer close(c.done)

	attempt := 0
	for {
		if c.isClosed() || ctx.Err() != nil {
			return
		}

		err := c.streamOnce(ctx, &attempt)
		if err == nil {
			return // terminal event or deliberate close
		}
		if c.isClosed() || ctx.Err() != nil {
			return
		}

		if attempt >= c.maxAttempts {
			c.log.Error("stream retries exhausted, stopping room",
				"room", c.roomID, "attempts", attempt, "error", err)
			c.setStatus(room.StatusStopped)
			if c.onFatal != nil {
				c.onFatal(c.roomID, err)
			}
			c.close()
			return
		}

		wait := backoffDelay(c.baseBackoff, c.maxBackoff, attempt)
		attempt++
		c.setStatus(room.StatusReconnecting)
		c.log.Warn("stream lost, reconnecting",
			"room", c.roomID, "attempt", attempt, "max", c.maxAttempts,
			"wait", wait, "error", err)

		select {
		case <-c.clk.After(wait):
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// streamOnce opens the feed and dispatches frames until the stream ends.
// A nil return means the room is finished or was closed deliberately; any
// error sends the caller into the backoff path.
func (c *conn) streamOnce(ctx context.Context, attempt *int) error {
	body, err := c.client.OpenStream(ctx, c.roomID)
	if err != nil {
		return err
	}
	if !c.adoptBody(body) {
		body.Close()
		return nil // closed while dialing
	}
	defer c.releaseBody()

	sc := NewScanner(body)
	for sc.Next() {
		evt, err := feed.Decode([]byte(sc.Frame().Data))
		if err != nil {
			c.log.Debug("frame dropped", "room", c.roomID, "error", err)
			continue
		}
		if evt == nil {
			continue
		}

		res := c.dispatcher.Apply(c.roomID, evt)
		if res.Acknowledged {
			*attempt = 0
		}
		if res.Terminal {
			return nil
		}
		if res.ServerErr != nil {
			if c.onError != nil {
				c.onError(c.roomID, res.ServerErr)
			}
			return res.ServerErr
		}
	}

	if c.isClosed() {
		return nil
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("stream: read %s: %w", c.roomID, err)
	}
	return fmt.Errorf("stream: %s: feed closed without a terminal event", c.roomID)
}

// adoptBody publishes the live body so close can reach it. Returns false
// when the conn was closed while the dial was in flight.
func (c *conn) adoptBody(body io.ReadCloser) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.body = body
	return true
}

func (c *conn) releaseBody() {
	c.mu.Lock()
	body := c.body
	c.body = nil
	c.mu.Unlock()
	if body != nil {
		body.Close()
	}
}

// setStatus updates the room status. Failures (a room torn down underneath
// us) are expected near shutdown.
func (c *conn) setStatus(status room.ConnectionStatus) {
	if err := c.store.SetStatus(c.roomID, status); err != nil {
		c.log.Debug("status update dropped", "room", c.roomID, "status", string(status), "error", err)
	}
}

// backoffDelay returns base * 2^attempt capped at ceiling.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	wait := time.Duration(math.Pow(2, float64(attempt))) * base
	if wait > ceiling {
		wait = ceiling
	}
	return wait
}
