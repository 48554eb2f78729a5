// Package app wires configuration into the checkpoint store, browser,
// collector, and driver, and runs one year of the archive.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tsdataclinic/mta/internal/archive"
	"github.com/tsdataclinic/mta/internal/browser"
	"github.com/tsdataclinic/mta/internal/checkpoint"
	gcsstore "github.com/tsdataclinic/mta/internal/checkpoint/gcs"
	localstore "github.com/tsdataclinic/mta/internal/checkpoint/local"
	memorystore "github.com/tsdataclinic/mta/internal/checkpoint/memory"
	pgstore "github.com/tsdataclinic/mta/internal/checkpoint/postgres"
	"github.com/tsdataclinic/mta/internal/clock/system"
	"github.com/tsdataclinic/mta/internal/config"
	"github.com/tsdataclinic/mta/internal/driver"
	"github.com/tsdataclinic/mta/internal/hash/sha256"
	"github.com/tsdataclinic/mta/internal/id/uuid"
	"github.com/tsdataclinic/mta/internal/metrics"
	"github.com/tsdataclinic/mta/internal/notify"
	pubsubnotify "github.com/tsdataclinic/mta/internal/notify/pubsub"
	"github.com/tsdataclinic/mta/internal/planner"
	"github.com/tsdataclinic/mta/internal/report"
	"github.com/tsdataclinic/mta/internal/status"
)

const shutdownTimeout = 5 * time.Second

// Browser opens archive sessions and owns the underlying Chrome process.
type Browser interface {
	archive.SessionOpener
	Close()
}

// BrowserFactory starts a Browser.
type BrowserFactory func(cfg browser.Config, logger *zap.Logger) (Browser, error)

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Option customizes Build.
type Option func(*App)

// WithBrowserFactory replaces the chromedp browser.
func WithBrowserFactory(f BrowserFactory) Option {
	return func(a *App) { a.newBrowser = f }
}

// WithStore replaces the configured checkpoint store.
func WithStore(s checkpoint.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPublisher replaces the configured publisher.
func WithPublisher(p notify.Publisher, topic string) Option {
	return func(a *App) {
		a.publisher = p
		a.topic = topic
	}
}

// WithOutput redirects the summary table.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// App holds the long-lived services for one invocation.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      checkpoint.Store
	publisher  notify.Publisher
	topic      string
	newBrowser BrowserFactory
	ids        IDGenerator
	clock      driver.Clock
	out        io.Writer
	closers    []func() error
}

// Build creates the application's dependencies. The browser is started
// lazily on the first range that needs collecting.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
		out:    os.Stdout,
		newBrowser: func(cfg browser.Config, logger *zap.Logger) (Browser, error) {
			b, err := browser.New(cfg, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		if err := a.setupStore(ctx); err != nil {
			return nil, err
		}
	}
	if a.publisher == nil && cfg.PubSub.Enabled() {
		if err := a.setupPublisher(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.BackendLocal, "":
		s, err := localstore.New(localstore.Config{Dir: sc.Dir})
		if err != nil {
			return fmt.Errorf("local checkpoint store init failed: %w", err)
		}
		a.logger.Info("Using local checkpoint store", zap.String("dir", sc.Dir))
		a.store = s
	case config.BackendMemory:
		a.logger.Info("Using in-memory checkpoint store; checkpoints will not survive the process")
		a.store = memorystore.New()
	case config.BackendGCS:
		s, err := gcsstore.Open(ctx, gcsstore.Config{Bucket: sc.GCSBucket, Prefix: sc.Prefix}, a.logger)
		if err != nil {
			return fmt.Errorf("gcs checkpoint store init failed: %w", err)
		}
		a.logger.Info("Using GCS checkpoint store", zap.String("bucket", sc.GCSBucket), zap.String("prefix", sc.Prefix))
		a.store = s
		a.closers = append(a.closers, s.Close)
	case config.BackendPostgres:
		s, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			Table:           a.cfg.DB.Table,
			MaxConns:        a.cfg.DB.MaxConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres checkpoint store init failed: %w", err)
		}
		a.logger.Info("Using postgres checkpoint store", zap.String("table", a.cfg.DB.Table))
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		return fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	p, err := pubsubnotify.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Publishing checkpoint events", zap.String("topic", a.cfg.PubSub.TopicName))
	a.publisher = p
	a.topic = a.cfg.PubSub.TopicName
	a.closers = append(a.closers, p.Close)
	return nil
}

// Store returns the checkpoint store in use.
func (a *App) Store() checkpoint.Store {
	return a.store
}

// Plan reports which months of year already have checkpoints.
func (a *App) Plan(ctx context.Context, year int) ([]driver.PlanEntry, error) {
	runner := driver.New(a.store, nil, nil, nil, a.clock, nil, driver.Config{}, a.logger.Named("driver"))
	entries, err := runner.Pending(ctx, planner.Plan(year))
	if err != nil {
		return entries, fmt.Errorf("plan %d: %w", year, err)
	}
	return entries, nil
}

// Run collects every month of year that has no checkpoint yet, prints the
// summary table, and exports metrics when configured.
func (a *App) Run(ctx context.Context, year int) ([]driver.Outcome, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	logger := a.logger.With(zap.String("run_id", runID), zap.Int("year", year))
	ranges := planner.Plan(year)
	tracker := status.NewTracker(runID, a.clock.Now(), ranges)

	if addr := a.cfg.Status.Addr; addr != "" {
		srv := status.NewServer(tracker, logger.Named("status"))
		if _, err := srv.Start(addr); err != nil {
			return nil, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Status server shutdown failed", zap.Error(err))
			}
		}()
	}

	opener := &lazyBrowser{
		factory: a.newBrowser,
		cfg: browser.Config{
			Headless:          a.cfg.Browser.Headless,
			ExecPath:          a.cfg.Browser.ExecPath,
			UserAgent:         a.cfg.Browser.UserAgent,
			NavigationTimeout: a.cfg.Browser.NavTimeout(),
			SettleTimeout:     a.cfg.Browser.SettleTimeout(),
			ActionsPerSecond:  a.cfg.Browser.ActionsPerSecond,
		},
		logger: logger.Named("browser"),
	}
	defer opener.Close()

	collector, err := archive.NewCollector(opener, archive.Config{
		URL:           a.cfg.Archive.URL,
		Selectors:     a.cfg.Archive.Selectors,
		MaxPages:      a.cfg.Collector.MaxPages,
		ScreenshotDir: a.cfg.Browser.ScreenshotDir,
	}, tracker, logger.Named("collector"))
	if err != nil {
		return nil, fmt.Errorf("collector init failed: %w", err)
	}

	runner := driver.New(
		a.store,
		collector,
		a.publisher,
		sha256.New(),
		a.clock,
		tracker,
		driver.Config{RunID: runID, Topic: a.topic},
		logger.Named("driver"),
	)

	logger.Info("Starting run", zap.Int("ranges", len(ranges)))
	outcomes, runErr := runner.Run(ctx, ranges)
	report.Write(a.out, outcomes)

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			logger.Warn("Metrics export failed", zap.Error(err))
		}
	}
	if runErr != nil {
		return outcomes, runErr
	}
	logger.Info("Run finished", zap.Int("ranges", len(outcomes)))
	return outcomes, nil
}

// Close releases store and publisher resources and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

// lazyBrowser starts Chrome on the first Open so fully checkpointed years
// never launch a browser.
type lazyBrowser struct {
	factory BrowserFactory
	cfg     browser.Config
	logger  *zap.Logger

	mu      sync.Mutex
	browser Browser
}

func (l *lazyBrowser) Open(ctx context.Context) (archive.Session, error) {
	l.mu.Lock()
	if l.browser == nil {
		b, err := l.factory(l.cfg, l.logger)
		if err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("start browser: %w", err)
		}
		l.logger.Info("Browser started", zap.Bool("headless", l.cfg.Headless))
		l.browser = b
	}
	b := l.browser
	l.mu.Unlock()
	return b.Open(ctx)
}

func (l *lazyBrowser) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser != nil {
		l.browser.Close()
		l.browser = nil
	}
}
