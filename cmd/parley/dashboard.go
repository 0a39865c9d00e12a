package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/parley/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
		roomsFlag  string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the web dashboard",
		Long: `Dashboard serves the live room view and outcome history over HTTP.
When rooms are configured their feeds are followed so the view updates
in real time; with no rooms it serves the archive only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, port, roomsFlag, sessionID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default: dashboard.port from config)")
	cmd.Flags().StringVar(&roomsFlag, "rooms", "", "comma-separated room ids (default: rooms from config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: generated)")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath string, port int, roomsFlag, sessionID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	mon, err := buildMonitor(cfg, gormDB, monitorOpts{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rooms := splitRooms(roomsFlag)
	if len(rooms) == 0 {
		rooms = cfg.Rooms
	}
	if len(rooms) > 0 {
		if sessionID == "" {
			sessionID = newSessionID()
		}
		if err := mon.connectRooms(ctx, sessionID, rooms); err != nil {
			return err
		}
		defer mon.shutdown()
	}

	if port == 0 {
		port = cfg.Dashboard.Port
	}

	return dashboard.Start(ctx, dashboard.StartOpts{
		Store:    mon.store,
		Registry: mon.registry,
		DB:       gormDB,
		Port:     port,
		Out:      cmd.OutOrStdout(),
	})
}
