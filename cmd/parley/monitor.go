package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/parley/internal/config"
	"github.com/zulandar/parley/internal/db"
	"github.com/zulandar/parley/internal/dispatch"
	"github.com/zulandar/parley/internal/room"
	"github.com/zulandar/parley/internal/session"
	"github.com/zulandar/parley/internal/stream"
)

// connectFromConfig loads config and opens the outcome archive.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(db.Opts{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", dbTarget(cfg), err)
	}

	return cfg, gormDB, nil
}

// dbTarget names the configured database for error and status messages.
func dbTarget(cfg *config.Config) string {
	if cfg.Database.Driver == "mysql" {
		return cfg.Database.Database
	}
	return cfg.Database.Path
}

// monitor bundles the full reconciliation pipeline: backend client, room
// store, dispatcher, session registry, outcome recorder, and stream manager.
// The watch, dashboard, and herald commands each run one.
type monitor struct {
	cfg      *config.Config
	store    *room.Store
	registry *session.Registry
	recorder *session.Recorder
	client   *stream.Client
	manager  *stream.Manager
}

type monitorOpts struct {
	logger *slog.Logger
	// observers see dispatcher lifecycle signals after the registry
	// and recorder have already processed them.
	observers []dispatch.Observer
	// onCompleted fires after the recorder archives a finished session.
	onCompleted func(session.Snapshot)
	onError     func(roomID string, err error)
	onFatal     func(roomID string, err error)
}

// buildMonitor wires a pipeline from config. The archive handle is shared
// with the caller so commands can query it directly.
func buildMonitor(cfg *config.Config, gormDB *gorm.DB, opts monitorOpts) (*monitor, error) {
	log := opts.logger
	if log == nil {
		log = slog.Default()
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	store := room.NewStore(room.StoreOpts{Logger: log})

	// The registry's completion hook needs the recorder, which is built
	// after the registry. rec is bound before any session can complete.
	var rec *session.Recorder
	registry := session.NewRegistry(session.RegistryOpts{
		Logger: log,
		OnCompleted: func(snap session.Snapshot) {
			if rec != nil {
				rec.SessionCompleted(snap)
			}
			if opts.onCompleted != nil {
				opts.onCompleted(snap)
			}
		},
	})

	rec, err := session.NewRecorder(session.RecorderOpts{
		DB:       gormDB,
		Registry: registry,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	observers := make([]dispatch.Observer, 0, 2+len(opts.observers))
	observers = append(observers, registry, rec)
	observers = append(observers, opts.observers...)

	dispatcher, err := dispatch.New(dispatch.DispatcherOpts{
		Store:     store,
		Logger:    log,
		Observers: observers,
	})
	if err != nil {
		return nil, err
	}

	client, err := stream.NewClient(stream.ClientOpts{
		BaseURL: cfg.Backend.URL,
		Token:   cfg.Backend.Token,
	})
	if err != nil {
		return nil, err
	}

	mgrOpts := stream.ManagerOpts{
		Client:     client,
		Store:      store,
		Dispatcher: dispatcher,
		Logger:     log,
		OnError:    opts.onError,
		OnFatal:    opts.onFatal,
	}
	if cfg.Backend.BaseBackoffSec > 0 {
		mgrOpts.BaseBackoff = time.Duration(cfg.Backend.BaseBackoffSec) * time.Second
	}
	if cfg.Backend.MaxBackoffSec > 0 {
		mgrOpts.MaxBackoff = time.Duration(cfg.Backend.MaxBackoffSec) * time.Second
	}
	if cfg.Backend.MaxReconnects > 0 {
		mgrOpts.MaxReconnect = cfg.Backend.MaxReconnects
	}

	manager, err := stream.NewManager(mgrOpts)
	if err != nil {
		return nil, err
	}

	return &monitor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		recorder: rec,
		client:   client,
		manager:  manager,
	}, nil
}

// connectRooms registers a session over the given rooms and opens each
// room's event feed.
func (m *monitor) connectRooms(ctx context.Context, sessionID string, rooms []string) error {
	err := m.registry.Begin(sessionID, session.BeginOpts{
		ItemName:  m.cfg.Session.ItemName,
		MaxBudget: m.cfg.Session.MaxBudget,
		Quantity:  m.cfg.Session.Quantity,
		MaxRounds: m.cfg.Session.MaxRounds,
	})
	if err != nil {
		return err
	}

	for _, roomID := range rooms {
		if err := m.registry.Attach(sessionID, roomID); err != nil {
			return err
		}
		if err := m.manager.Connect(ctx, roomID); err != nil {
			return fmt.Errorf("connect room %s: %w", roomID, err)
		}
	}

	if snap, ok := m.registry.Snapshot(sessionID); ok {
		m.recorder.SessionStarted(snap)
	}
	return nil
}

// startNegotiations asks the backend to begin a round in every room,
// using the session constraints from config.
func (m *monitor) startNegotiations(ctx context.Context, out io.Writer, rooms []string) error {
	req := stream.StartRequest{
		ItemName:  m.cfg.Session.ItemName,
		MaxBudget: m.cfg.Session.MaxBudget,
		Quantity:  m.cfg.Session.Quantity,
		MaxRounds: m.cfg.Session.MaxRounds,
	}
	for _, roomID := range rooms {
		if err := m.client.StartNegotiation(ctx, roomID, req); err != nil {
			return fmt.Errorf("start negotiation in %s: %w", roomID, err)
		}
		fmt.Fprintf(out, "Started negotiation in %s\n", roomID)
	}
	return nil
}

func (m *monitor) shutdown() {
	m.manager.DisconnectAll()
}
