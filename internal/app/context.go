package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"dochub/internal/config"
	"dochub/internal/db"
	"dochub/internal/domain"
	"dochub/internal/engine"
	"dochub/internal/events"
	"dochub/internal/migrate"
	"dochub/internal/notify"
	"dochub/internal/persist"
	"dochub/internal/selection"
	"dochub/internal/simulator"
)

// ErrNoJournal is returned by Events when the storage driver keeps no event log.
var ErrNoJournal = errors.New("event log requires the sqlite storage driver")

type Options struct {
	Workspace string
	// Config defaults to config.Default when nil.
	Config *config.Config
	Logger *slog.Logger
	Clock  clockwork.Clock
	// OnDismiss and OnRemoved are forwarded to the notification scheduler.
	OnDismiss func(domain.Notification)
	OnRemoved func(domain.Notification)
}

// App is one workspace wired up: storage, journal, notifications, simulator and the
// task store, loaded and ready.
type App struct {
	Config    *config.Config
	Engine    *engine.Engine
	Buffer    *selection.Buffer
	Notices   *notify.Scheduler
	Simulator *simulator.Simulator
	Journal   *events.Writer
	Seeded    bool

	conn   *sql.DB
	lease  *persist.SQLiteLease
	logger *slog.Logger
}

// leaseMargin is added to the analysis latency to bound a lease left by a dead session.
const leaseMargin = 30 * time.Second

// Open wires the workspace according to the storage driver and loads the task
// collection, falling back to the seed set when storage holds none.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Clock
	if c == nil {
		c = clockwork.NewRealClock()
	}

	a := &App{Config: cfg, Buffer: selection.New(), logger: logger}
	slot, err := a.openSlot(ctx, opts.Workspace, c)
	if err != nil {
		return nil, err
	}

	a.Notices = notify.New(notify.Options{
		Duration:  cfg.Notifications.Duration,
		Fade:      cfg.Notifications.Fade,
		Clock:     c,
		Logger:    logger,
		OnDismiss: opts.OnDismiss,
		OnRemoved: opts.OnRemoved,
	})
	a.Simulator = simulator.New(cfg.Processing.Latency, c, logger)

	eo := engine.Options{
		Persistence: persist.NewAdapter(slot, cfg.Storage.Key, logger),
		Notifier:    a.Notices,
		Processor:   a.Simulator,
		Logger:      logger,
		Now:         c.Now,
		PersistSeed: cfg.Seed.Persist,
	}
	if a.Journal != nil {
		eo.Journal = a.Journal
	}
	if a.lease != nil {
		eo.Lease = a.lease
		eo.LeaseTTL = cfg.Processing.Latency + leaseMargin
	}
	if cfg.Seed.Enabled {
		eo.Seed = engine.DefaultSeed
	}
	a.Engine = engine.New(eo)
	a.Seeded = a.Engine.LoadOrSeed(ctx)
	logger.Debug("workspace opened", "workspace", opts.Workspace, "driver", cfg.Storage.Driver, "seeded", a.Seeded)
	return a, nil
}

// openSlot opens storage for the configured driver. Only sqlite is safe for several
// processes on one workspace: it adds the revision-checked slot and the run lease.
func (a *App) openSlot(ctx context.Context, workspace string, c clockwork.Clock) (persist.Slot, error) {
	switch a.Config.Storage.Driver {
	case "", "sqlite":
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		if err := migrate.MigrateContext(ctx, conn, a.logger); err != nil {
			conn.Close()
			return nil, err
		}
		a.conn = conn
		a.Journal = &events.Writer{DB: conn, Now: c.Now}
		a.lease = persist.NewSQLiteLease(conn, c.Now)
		return persist.SQLiteSlot{DB: conn, Now: c.Now}, nil
	case "file":
		return persist.FileSlot{Dir: db.StateDir(workspace)}, nil
	case "memory":
		return persist.NewMemorySlot(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.Config.Storage.Driver)
	}
}

// Events returns the latest journal entries, newest first.
func (a *App) Events(ctx context.Context, n int, evtType, taskID string) ([]domain.Event, error) {
	if a.Journal == nil {
		return nil, ErrNoJournal
	}
	return a.Journal.Latest(ctx, n, evtType, taskID)
}

// Close releases the database, if one was opened.
func (a *App) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
