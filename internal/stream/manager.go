package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/parley/internal/clock"
	"github.com/zulandar/parley/internal/dispatch"
	"github.com/zulandar/parley/internal/room"
)

const (
	// defaultBaseBackoff is the first reconnect delay.
	defaultBaseBackoff = time.Second
	// defaultMaxBackoff caps the exponential reconnect delay.
	defaultMaxBackoff = 30 * time.Second
	// defaultMaxReconnect limits consecutive failed attempts before the
	// room is marked stopped.
	defaultMaxReconnect = 5
)

// Manager owns at most one live connection per room. Rooms are fully
// independent: no shared transport, no cross-room locking.
type Manager struct {
	client     *Client
	store      *room.Store
	dispatcher *dispatch.Dispatcher
	clk        clock.Clock
	log        *slog.Logger

	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
	onError      func(roomID string, err error)
	onFatal      func(roomID string, err error)

	mu    sync.Mutex
	conns map[string]*conn
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Client     *Client
	Store      *room.Store
	Dispatcher *dispatch.Dispatcher
	Clock      clock.Clock  // defaults to the system clock
	Logger     *slog.Logger // defaults to slog.Default()

	BaseBackoff  time.Duration // default 1s
	MaxBackoff   time.Duration // default 30s
	MaxReconnect int           // default 5

	// OnError receives server-reported stream errors. Advisory: the
	// manager keeps reconnecting after the callback returns.
	OnError func(roomID string, err error)

	// OnFatal fires once per room when the retry budget is exhausted.
	OnFatal func(roomID string, err error)
}

// NewManager creates a Manager and binds it to the dispatcher as the
// force-close hook for terminal events.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("stream: client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("stream: store is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("stream: dispatcher is required")
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}
	ceiling := opts.MaxBackoff
	if ceiling <= 0 {
		ceiling = defaultMaxBackoff
	}
	maxReconnect := opts.MaxReconnect
	if maxReconnect <= 0 {
		maxReconnect = defaultMaxReconnect
	}

	m := &Manager{
		client:       opts.Client,
		store:        opts.Store,
		dispatcher:   opts.Dispatcher,
		clk:          clk,
		log:          logger.With("component", "stream"),
		baseBackoff:  base,
		maxBackoff:   ceiling,
		maxReconnect: maxReconnect,
		onError:      opts.OnError,
		onFatal:      opts.OnFatal,
		conns:        make(map[string]*conn),
	}
	opts.Dispatcher.BindCloser(m)
	return m, nil
}

// Connect opens the room's event feed, creating room state lazily. Calling
// Connect for a room that already has a live connection is a no-op.
func (m *Manager) Connect(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("stream: room id is required")
	}

	m.mu.Lock()
	if _, ok := m.conns[roomID]; ok {
		m.mu.Unlock()
		return nil
	}

	m.store.Ensure(roomID)
	cctx, cancel := context.WithCancel(ctx)
	c := &conn{
		roomID:      roomID,
		client:      m.client,
		store:       m.store,
		dispatcher:  m.dispatcher,
		clk:         m.clk,
		log:         m.log,
		baseBackoff: m.baseBackoff,
		maxBackoff:  m.maxBackoff,
		maxAttempts: m.maxReconnect,
		onError:     m.onError,
		onFatal:     m.onFatal,
		cancel:      cancel,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	m.conns[roomID] = c
	m.mu.Unlock()

	c.setStatus(room.StatusConnecting)
	m.log.Info("connecting room stream", "room", roomID)

	go func() {
		c.run(cctx)
		m.forget(roomID, c)
	}()
	return nil
}

// Disconnect closes the room's connection and cancels any pending reconnect
// timer before returning. Idempotent; rooms that never connected are a
// no-op. A stopped room keeps its terminal status, anything else is marked
// disconnected.
func (m *Manager) Disconnect(roomID string) {
	m.mu.Lock()
	c := m.conns[roomID]
	delete(m.conns, roomID)
	m.mu.Unlock()

	if c == nil {
		return
	}
	c.close()
	if status, ok := m.store.Status(roomID); ok && status != room.StatusStopped {
		c.setStatus(room.StatusDisconnected)
	}
	m.log.Info("room stream disconnected", "room", roomID)
}

// DisconnectAll tears down every live connection. Used at shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*conn)
	m.mu.Unlock()

	for roomID, c := range conns {
		c.close()
		if status, ok := m.store.Status(roomID); ok && status != room.StatusStopped {
			c.setStatus(room.StatusDisconnected)
		}
	}
}

// Active returns the ids of rooms with a live connection, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// forget drops the conn from the registry once its run loop exits, unless a
// newer connection already replaced it.
func (m *Manager) forget(roomID string, c *conn) {
	m.mu.Lock()
	if cur, ok := m.conns[roomID]; ok && cur == c {
		delete(m.conns, roomID)
	}
	m.mu.Unlock()
}
