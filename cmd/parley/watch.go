package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/parley/internal/room"
	"github.com/zulandar/parley/internal/session"
)

func newWatchCmd() *cobra.Command {
	var (
		configPath string
		roomsFlag  string
		sessionID  string
		start      bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow negotiations live",
		Long: `Watch connects to each room's event feed and renders the reconciled
state as it evolves. On a terminal the view redraws in place; otherwise
progress is printed line by line. Exits when the session completes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, configPath, roomsFlag, sessionID, start)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().StringVar(&roomsFlag, "rooms", "", "comma-separated room ids (default: rooms from config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: generated)")
	cmd.Flags().BoolVar(&start, "start", false, "ask the backend to start a negotiation in each room")
	return cmd
}

func runWatch(cmd *cobra.Command, configPath, roomsFlag, sessionID string, start bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	rooms := splitRooms(roomsFlag)
	if len(rooms) == 0 {
		rooms = cfg.Rooms
	}
	if len(rooms) == 0 {
		return fmt.Errorf("no rooms to watch: set rooms in %s or pass --rooms", configPath)
	}
	if sessionID == "" {
		sessionID = newSessionID()
	}

	live := term.IsTerminal(int(os.Stdout.Fd()))

	logger := slog.Default()
	if live {
		// Log lines would tear the redrawn table.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	errOut := cmd.ErrOrStderr()
	mon, err := buildMonitor(cfg, gormDB, monitorOpts{
		logger: logger,
		onFatal: func(roomID string, err error) {
			fmt.Fprintf(errOut, "room %s: feed lost: %v\n", roomID, err)
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mon.connectRooms(ctx, sessionID, rooms); err != nil {
		return err
	}
	defer mon.shutdown()

	out := cmd.OutOrStdout()
	if start {
		if err := mon.startNegotiations(ctx, out, rooms); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Watching session %s (%d rooms)\n", sessionID, len(rooms))
	if live {
		return watchLive(ctx, out, mon, sessionID)
	}
	return watchPlain(ctx, out, mon, sessionID)
}

// watchLive redraws the room table in place until the session completes or
// the context is cancelled.
func watchLive(ctx context.Context, out io.Writer, mon *monitor, sessionID string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(out, "\033[2J\033[H")
			snap, ok := mon.registry.Snapshot(sessionID)
			renderWatch(out, mon.store.Summaries(), snap, ok)
			if ok && snap.Status == session.StatusCompleted {
				renderSessionResult(out, snap)
				return nil
			}
		}
	}
}

// watchPlain prints a line whenever a room's reconciled state changes.
func watchPlain(ctx context.Context, out io.Writer, mon *monitor, sessionID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	seen := make(map[string]string)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sums := mon.store.Summaries()
			sort.Slice(sums, func(i, j int) bool { return sums[i].RoomID < sums[j].RoomID })
			for _, s := range sums {
				line := summaryLine(s)
				if seen[s.RoomID] == line {
					continue
				}
				seen[s.RoomID] = line
				fmt.Fprintln(out, line)
			}
			if snap, ok := mon.registry.Snapshot(sessionID); ok && snap.Status == session.StatusCompleted {
				renderSessionResult(out, snap)
				return nil
			}
		}
	}
}

func renderWatch(out io.Writer, sums []room.Summary, snap session.Snapshot, ok bool) {
	if ok {
		fmt.Fprintf(out, "Session %s: %s  %s x%d  budget %s\n\n",
			snap.SessionID, snap.Status, snap.ItemName, snap.Quantity, formatPrice(snap.MaxBudget))
	}
	if len(sums) == 0 {
		fmt.Fprintln(out, "No rooms connected.")
		return
	}

	sort.Slice(sums, func(i, j int) bool { return sums[i].RoomID < sums[j].RoomID })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tFEED\tROUND\tOFFERS\tBEST\tDECIDED")
	for _, s := range sums {
		best := "-"
		if s.Best != nil {
			best = fmt.Sprintf("%s %s", truncate(s.Best.SellerName, 20), formatPrice(s.Best.Price))
		}
		decided := "-"
		if s.Decided {
			decided = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			s.RoomID, s.Status, s.CurrentRound, s.MaxRounds, s.Offers, best, decided)
	}
	w.Flush()
}

// summaryLine is the plain-mode progress line for one room. Equal lines
// mean nothing worth reporting changed.
func summaryLine(s room.Summary) string {
	state := string(s.Status)
	if s.Decided {
		state = "decided"
	}
	best := "no offers"
	if s.Best != nil {
		best = fmt.Sprintf("best %s %s", truncate(s.Best.SellerName, 20), formatPrice(s.Best.Price))
	}
	return fmt.Sprintf("%s: %s round %d/%d, %d offers, %s",
		s.RoomID, state, s.CurrentRound, s.MaxRounds, s.Offers, best)
}

// renderSessionResult prints the per-room deals once a session finishes.
func renderSessionResult(out io.Writer, snap session.Snapshot) {
	deals := 0
	var spend float64
	for _, rp := range snap.Rooms {
		if rp.Deal != nil {
			deals++
			spend += rp.Deal.TotalCost
		}
	}

	fmt.Fprintf(out, "\nSession %s completed: %d/%d rooms closed a deal", snap.SessionID, deals, len(snap.Rooms))
	if deals > 0 {
		fmt.Fprintf(out, ", total spend %s", formatPrice(spend))
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tRESULT\tSELLER\tPRICE\tTOTAL")
	for _, rp := range snap.Rooms {
		if rp.Deal == nil {
			fmt.Fprintf(w, "%s\tno deal\t-\t-\t-\n", rp.RoomID)
			continue
		}
		fmt.Fprintf(w, "%s\tdeal\t%s\t%s\t%s\n",
			rp.RoomID, truncate(rp.Deal.SellerName, 24),
			formatPrice(rp.Deal.FinalPrice), formatPrice(rp.Deal.TotalCost))
	}
	w.Flush()
}
