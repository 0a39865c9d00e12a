package herald

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/zulandar/parley/internal/clock"
	"github.com/zulandar/parley/internal/config"
	"github.com/zulandar/parley/internal/db"
	"github.com/zulandar/parley/internal/dispatch"
	"github.com/zulandar/parley/internal/models"
	"github.com/zulandar/parley/internal/room"
	"github.com/zulandar/parley/internal/session"
	"gorm.io/gorm"
)

// queueSize bounds the pending announcement buffer. Lifecycle callbacks must
// never block the dispatch path, so an overflowing queue drops instead.
const queueSize = 64

// announcement is one pending chat post with its dedupe identity.
type announcement struct {
	kind  string // "deal", "no_deal", "session", "digest"
	ref   string
	event FormattedEvent
}

// Daemon posts negotiation outcomes to a chat platform. It receives room
// signals as a dispatch observer and session summaries from the registry
// completion hook, dedupes them against the herald_posts table, and delivers
// them through the configured Adapter.
type Daemon struct {
	gdb     *gorm.DB
	cfg     *config.Config
	adapter Adapter
	clk     clock.Clock
	log     *slog.Logger
	out     io.Writer
	queue   chan announcement
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB      *gorm.DB
	Config  *config.Config
	Adapter Adapter
	Clock   clock.Clock  // defaults to the system clock
	Logger  *slog.Logger // defaults to slog.Default
	Out     io.Writer    // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("herald: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("herald: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("herald: adapter is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		gdb:     opts.DB,
		cfg:     opts.Config,
		adapter: opts.Adapter,
		clk:     clk,
		log:     log.With("component", "herald"),
		out:     out,
		queue:   make(chan announcement, queueSize),
	}, nil
}

// Run starts the herald daemon. It connects the adapter, starts the digest
// scheduler, and posts queued announcements until the context is cancelled.
// On shutdown it closes the adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Herald connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("herald: connect: %w", err)
	}

	go d.runDigestScheduler(ctx)

	fmt.Fprintf(d.out, "Herald online\n")
	if err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: d.cfg.Herald.Channel,
		Text:      "Parley herald online",
	}); err != nil {
		d.log.Warn("send online message", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Herald shutting down...\n")
			d.sendShutdown()
			if err := d.adapter.Close(); err != nil {
				d.log.Warn("close adapter", "error", err)
			}
			fmt.Fprintf(d.out, "Herald stopped\n")
			return nil

		case a := <-d.queue:
			d.post(ctx, a)
		}
	}
}

// --- dispatch.Observer ---

// RoomRoundStarted is a no-op; round progress is not announced.
func (d *Daemon) RoomRoundStarted(roomID string, round, maxRounds int) {}

// RoomDecided is a no-op; the terminal RoomCompleted signal carries the
// decision, so announcing here would double-post on every decided room.
func (d *Daemon) RoomDecided(roomID string, decision room.Decision) {}

// RoomCompleted queues a deal or no-deal announcement, subject to the
// configured event toggles.
func (d *Daemon) RoomCompleted(roomID string, o dispatch.Outcome) {
	if dec := o.Decision; dec != nil && dec.SellerID != "" {
		if !d.cfg.Herald.Events.Deals {
			return
		}
		d.enqueue(announcement{
			kind:  "deal",
			ref:   roomID,
			event: FormatDeal(roomID, *dec, o.Rounds),
		})
		return
	}
	if !d.cfg.Herald.Events.NoDeals {
		return
	}
	d.enqueue(announcement{
		kind:  "no_deal",
		ref:   roomID,
		event: FormatNoDeal(roomID, o.Reason, o.Rounds),
	})
}

// StreamFailed queues an alert for a room whose feed could not be
// re-established. Wire it to the stream manager's fatal callback.
func (d *Daemon) StreamFailed(roomID string, err error) {
	if !d.cfg.Herald.Events.Failures {
		return
	}
	d.enqueue(announcement{
		kind:  "stream_failure",
		ref:   roomID,
		event: FormatStreamFailure(roomID, err),
	})
}

// SessionCompleted queues a session summary announcement. Wire it to the
// registry's completion hook.
func (d *Daemon) SessionCompleted(snap session.Snapshot) {
	if !d.cfg.Herald.Events.Sessions {
		return
	}
	d.enqueue(announcement{
		kind:  "session",
		ref:   snap.SessionID,
		event: FormatSessionSummary(snap),
	})
}

// enqueue adds an announcement without blocking the caller.
func (d *Daemon) enqueue(a announcement) {
	select {
	case d.queue <- a:
	default:
		d.log.Warn("announcement dropped, queue full", "kind", a.kind, "ref", a.ref)
	}
}

// post delivers one announcement. The dedupe row is written first: a failed
// send drops the announcement rather than risk a double post on replay.
func (d *Daemon) post(ctx context.Context, a announcement) {
	fresh, err := db.MarkPosted(d.gdb, &models.HeraldPost{
		Kind:     a.kind,
		Ref:      a.ref,
		Channel:  d.cfg.Herald.Channel,
		PostedAt: d.clk.Now(),
	})
	if err != nil {
		d.log.Error("dedupe check failed", "kind", a.kind, "ref", a.ref, "error", err)
		return
	}
	if !fresh {
		d.log.Debug("already announced", "kind", a.kind, "ref", a.ref)
		return
	}

	if err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: d.cfg.Herald.Channel,
		Events:    []FormattedEvent{a.event},
	}); err != nil {
		d.log.Error("send announcement", "kind", a.kind, "ref", a.ref, "error", err)
	}
}

// runDigestScheduler manages cron-based daily and weekly digest timers.
// It returns immediately if neither digest is enabled. A nil channel blocks
// forever in select, which stands in for a disabled or mis-parsed schedule.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	dailyCfg := d.cfg.Herald.Digest.Daily
	weeklyCfg := d.cfg.Herald.Digest.Weekly

	if !dailyCfg.Enabled && !weeklyCfg.Enabled {
		return
	}

	var dailyCh, weeklyCh <-chan time.Time
	if dailyCfg.Enabled {
		if w := nextCronDuration(dailyCfg.Cron, d.clk.Now()); w > 0 {
			dailyCh = d.clk.After(w)
		}
	}
	if weeklyCfg.Enabled {
		if w := nextCronDuration(weeklyCfg.Cron, d.clk.Now()); w > 0 {
			weeklyCh = d.clk.After(w)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-dailyCh:
			d.fireDigest(ctx, "daily")
			dailyCh = nil
			if w := nextCronDuration(dailyCfg.Cron, d.clk.Now()); w > 0 {
				dailyCh = d.clk.After(w)
			}
		case <-weeklyCh:
			d.fireDigest(ctx, "weekly")
			weeklyCh = nil
			if w := nextCronDuration(weeklyCfg.Cron, d.clk.Now()); w > 0 {
				weeklyCh = d.clk.After(w)
			}
		}
	}
}

// fireDigest builds and posts a single digest (daily or weekly). The dedupe
// ref carries the window date so overlapping schedules post once per day.
func (d *Daemon) fireDigest(ctx context.Context, kind string) {
	now := d.clk.Now()

	var evt *FormattedEvent
	var err error
	switch kind {
	case "daily":
		evt, err = BuildDailyDigest(d.gdb, now)
	case "weekly":
		evt, err = BuildWeeklyDigest(d.gdb, now)
	}
	if err != nil {
		d.log.Error("build digest", "kind", kind, "error", err)
		return
	}
	if evt == nil {
		// No activity in the window.
		return
	}

	d.post(ctx, announcement{
		kind:  "digest",
		ref:   kind + "-" + now.Format("2006-01-02"),
		event: *evt,
	})
}

// sendShutdown posts a shutdown message to the adapter (best-effort).
func (d *Daemon) sendShutdown() {
	if err := d.adapter.Send(context.Background(), OutboundMessage{
		ChannelID: d.cfg.Herald.Channel,
		Text:      "Parley herald shutting down",
	}); err != nil {
		d.log.Warn("send shutdown message", "error", err)
	}
}
