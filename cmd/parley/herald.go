package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/parley/internal/config"
	"github.com/zulandar/parley/internal/dispatch"
	"github.com/zulandar/parley/internal/herald"
	"github.com/zulandar/parley/internal/herald/discord"
	"github.com/zulandar/parley/internal/herald/slack"
)

func newHeraldCmd() *cobra.Command {
	var (
		configPath string
		roomsFlag  string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "herald",
		Short: "Run the chat announcement daemon",
		Long: `Herald connects to the configured chat platform and announces deals,
session results, and scheduled digests. When rooms are configured their
feeds are followed so announcements fire as rooms decide; with no rooms
it posts digests only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHerald(cmd, configPath, roomsFlag, sessionID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().StringVar(&roomsFlag, "rooms", "", "comma-separated room ids (default: rooms from config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: generated)")
	return cmd
}

func runHerald(cmd *cobra.Command, configPath, roomsFlag, sessionID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	daemon, err := herald.NewDaemon(herald.DaemonOpts{
		DB:      gormDB,
		Config:  cfg,
		Adapter: adapter,
		Out:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	mon, err := buildMonitor(cfg, gormDB, monitorOpts{
		observers:   []dispatch.Observer{daemon},
		onCompleted: daemon.SessionCompleted,
		onFatal:     daemon.StreamFailed,
	})
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

	return daemon.Run(ctx)
}

// createAdapter builds the chat adapter named by herald.platform.
func createAdapter(cfg *config.Config) (herald.Adapter, error) {
	switch cfg.Herald.Platform {
	case "slack":
		return slack.New(slack.AdapterOpts{
			BotToken:  cfg.Herald.Slack.BotToken,
			ChannelID: cfg.Herald.Channel,
		})
	case "discord":
		return discord.New(discord.AdapterOpts{
			BotToken:  cfg.Herald.Discord.BotToken,
			ChannelID: cfg.Herald.Channel,
		})
	case "":
		return nil, fmt.Errorf("no herald platform configured (set herald.platform to slack or discord)")
	default:
		return nil, fmt.Errorf("unsupported herald platform: %s", cfg.Herald.Platform)
	}
}
