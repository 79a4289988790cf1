package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/rr-lists/internal/lists/common/clock"
	"github.com/haukened/rr-lists/internal/lists/common/fsutil"
	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/config"
	"github.com/haukened/rr-lists/internal/lists/domain"
	"github.com/haukened/rr-lists/internal/lists/gateways/fetch"
	"github.com/haukened/rr-lists/internal/lists/parsers"
	"github.com/haukened/rr-lists/internal/lists/repos/liststore"
	"github.com/haukened/rr-lists/internal/lists/repos/statedb"
	"github.com/haukened/rr-lists/internal/lists/repos/trackerindex"
	"github.com/haukened/rr-lists/internal/lists/repos/trackerindex/bloom"
	"github.com/haukened/rr-lists/internal/lists/repos/trackerindex/lru"
	"github.com/haukened/rr-lists/internal/lists/services/ingest"
	"github.com/haukened/rr-lists/internal/lists/services/monitor"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-listd"

	// Upper bound for one scheduled refresh round
	defaultUpdateTimeout = 5 * time.Minute
)

// Application holds all the components of the list daemon
type Application struct {
	config *config.AppConfig
	logger log.Logger

	// db is nil when state is kept in memory
	db        *statedb.DB
	etags     statedb.ETagCache
	manifests statedb.ManifestStore

	trackers    *liststore.Store[domain.TrackerEntry]
	regions     *liststore.Store[domain.RegionFilter]
	attribution *liststore.Store[domain.AttributionToken]

	index     *trackerindex.Index
	monitor   *monitor.Monitor
	observer  *monitor.Observer
	service   *ingest.Service
	scheduler *ingest.Scheduler
}

func main() {
	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	if err := os.MkdirAll(cfg.DataDir, fsutil.DirPerm); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	app := &Application{config: cfg, logger: logger}

	// Build state layer
	if err := app.buildState(); err != nil {
		return nil, fmt.Errorf("failed to build state: %w", err)
	}

	// Build repository layer, hydrating every store from disk
	app.trackers = liststore.Open(cfg.ListPath(domain.ListTrackers), parsers.TrackerCodec{}, liststore.WithLogger(logger))
	app.regions = liststore.Open(cfg.ListPath(domain.ListRegions), parsers.RegionCodec{}, liststore.WithLogger(logger))
	app.attribution = liststore.Open(cfg.ListPath(domain.ListAttribution), parsers.AttributionCodec{}, liststore.WithLogger(logger))

	cache, err := lru.New(cfg.IndexCacheSize)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to build index cache: %w", err), app.Close())
	}
	app.index = trackerindex.New(cache, bloom.NewFactory(), cfg.IndexFPRate, clk)
	app.index.Rebuild(app.trackers.Entries())
	app.trackers.OnChange(app.index.Rebuild)

	// Build service layer
	app.monitor = monitor.New()
	app.observer = monitor.NewObserver(app.monitor, app.index, logger)

	fetcher := fetch.New(fetch.Options{
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	})

	app.service = ingest.NewService(ingest.Options{
		Lists: map[domain.ListKey]ingest.List{
			domain.ListTrackers:    {Store: app.trackers, Codec: parsers.TrackerCodec{}, Source: source(cfg, domain.ListTrackers)},
			domain.ListRegions:     {Store: app.regions, Codec: parsers.RegionCodec{}, Source: source(cfg, domain.ListRegions)},
			domain.ListAttribution: {Store: app.attribution, Codec: parsers.AttributionCodec{}, Source: source(cfg, domain.ListAttribution)},
		},
		Fetcher:     fetcher,
		ETags:       app.etags,
		Manifests:   app.manifests,
		Trackers:    app.trackers,
		RulesPath:   cfg.RulesPath(),
		Unprotected: cfg.Unprotected,
		Logger:      logger,
	})

	app.scheduler = ingest.NewScheduler(app.service, ingest.SchedulerConfig{
		Interval:      cfg.RefreshInterval,
		UpdateTimeout: defaultUpdateTimeout,
	}, logger)

	return app, nil
}

// buildState opens the bbolt state file, or falls back to memory when none is configured
func (app *Application) buildState() error {
	if app.config.StateDB == "" {
		app.logger.Warn(nil, "no state db configured, ETags and manifests will not survive a restart")
		app.etags = statedb.NewMemoryETagCache()
		app.manifests = statedb.NewMemoryManifestStore()
		return nil
	}
	db, err := statedb.Open(app.config.StateDB)
	if err != nil {
		return err
	}
	app.db = db
	app.etags = db.ETags(app.config.ETagSuite)
	app.manifests = db.Manifests()
	return nil
}

func source(cfg *config.AppConfig, key domain.ListKey) ingest.Source {
	u, m := cfg.Source(key)
	return ingest.Source{URL: u, ManifestURL: m}
}

// Run compiles the rules for the hydrated tracker list, watches the list
// files and refreshes on schedule until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	n, err := app.service.WriteRules(app.config.RulesPath())
	if err != nil {
		return fmt.Errorf("failed to write initial rules: %w", err)
	}
	app.logger.Info(map[string]any{"rules": n, "path": app.config.RulesPath()}, "initial rules compiled")

	// Another process may replace list files, e.g. `rr-listd ingest`.
	watchers := []func(context.Context) error{app.trackers.Watch, app.regions.Watch, app.attribution.Watch}
	for _, watch := range watchers {
		if err := watch(ctx); err != nil {
			app.logger.Warn(map[string]any{"error": err}, "failed to watch list file, external updates need a restart")
		}
	}

	if err := app.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	<-ctx.Done()

	// The loop exits on its own once ctx is done; Stop waits for it.
	if err := app.scheduler.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	// A refresh outlives a cancelled round; let it finish before state is closed.
	app.service.Wait()

	st := app.scheduler.Status()
	app.logger.Info(map[string]any{
		"rounds":       st.Rounds,
		"last_success": st.LastSuccess,
		"trackers":     app.index.Len(),
		"tracker_hits": app.monitor.Total(),
	}, "list daemon stopped")
	return nil
}

// Close releases the state database.
func (app *Application) Close() error {
	var err error
	if app.db != nil {
		err = multierr.Append(err, app.db.Close())
		app.db = nil
	}
	return err
}
