package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/aggregator"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/config"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/feedcache"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/infrastructure/feeds"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/infrastructure/llm"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/infrastructure/scheduler"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/infrastructure/storage"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/infrastructure/telegram"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/logging"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/metrics"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/prompt"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/response"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/store"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/usecase"
)

const (
	shutdownTimeout   = 10 * time.Second
	historyTimeout    = 5 * time.Second
	settlePollEvery   = 100 * time.Millisecond
	metricsReadLimit  = 5 * time.Second
	metricsWriteLimit = 15 * time.Second
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	cache      *feedcache.Cache
	aggregator *aggregator.Aggregator
	store      *store.Store
	client     ports.AnalysisClient
	pipeline   *usecase.Pipeline
	scheduler  *usecase.Scheduler
	hub        *feeds.Hub
	registry   *prometheus.Registry
}

// Status is a point-in-time view of the service.
type Status struct {
	Model       string                                 `json:"model"`
	FeedMode    string                                 `json:"feed_mode"`
	Sources     map[domain.SourceID]domain.SourceState `json:"sources"`
	LastQuality *domain.DataQuality                    `json:"last_quality,omitempty"`
	LastOutcome *domain.CycleOutcome                   `json:"last_outcome,omitempty"`
}

// New builds a runnable application. It connects to Postgres when a database
// URL is configured and falls back to an in-memory result store otherwise.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger.With("component", "app")}

	repo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	template := ""
	if cfg.Prompt.TemplatePath != "" {
		template, err = prompt.LoadTemplate(cfg.Prompt.TemplatePath)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	client, err := llm.NewClient(cfg.AI)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client

	a.cache = feedcache.New(baseLogger)
	a.aggregator = aggregator.New(a.cache, baseLogger)
	a.store = store.New(repo, baseLogger)

	var history usecase.HistorySource = a.cache
	switch cfg.Feeds.Mode {
	case config.FeedsPostgres:
		watcher := feeds.NewPostgresWatcher(a.pool, repo, baseLogger).WithBackoff(cfg.Feeds.ReconnectBackoff)
		a.hub = feeds.NewHub(watcher, a.cache, baseLogger)
	case config.FeedsFixtures:
		dir := feeds.NewDirSource(cfg.Feeds.FixturesDir, repo, cfg.Feeds.HistoryPoll, baseLogger)
		a.hub = feeds.NewHub(dir, a.cache, baseLogger)
	default:
		history = storeHistory{store: a.store}
	}

	var observers []ports.CycleObserver
	if tg := cfg.Notifications.Telegram; tg.Enabled() {
		observers = append(observers, telegram.NewNotifier(tg.BotToken, tg.ChatID, baseLogger))
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Aggregator: a.aggregator,
		History:    history,
		Formatter:  prompt.NewFormatter(template),
		Client:     client,
		Validator:  response.New(),
		Store:      a.store,
		Observers:  observers,
		Logger:     baseLogger,
	})

	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.RunOnStart, cfg.Scheduler.Location())
	a.scheduler = usecase.NewScheduler(driver, a.pipeline)

	a.registry = prometheus.NewRegistry()
	if err := metrics.Register(a.registry); err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := a.registry.Register(collectors.NewGoCollector()); err != nil {
		a.logger.Warn("go collector not registered", "error", err)
	}

	a.logger.Info("application configured",
		"provider", cfg.AI.Provider,
		"model", client.Model(),
		"feeds", cfg.Feeds.Mode,
		"interval", cfg.Scheduler.Interval,
		"persistent", a.pool != nil,
		"notifiers", len(observers))
	return a, nil
}

func (a *Application) openRepository(ctx context.Context) (ports.ResultRepository, error) {
	if a.cfg.Database.URL == "" {
		a.logger.Warn("no database configured; results are kept in memory")
		return storage.NewMemoryRepository(), nil
	}

	pool, err := storage.Connect(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	if a.cfg.Database.EnsureSchema {
		if err := storage.EnsureSchema(ctx, pool, a.cfg.Feeds.Mode == config.FeedsPostgres); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return storage.NewPostgresRepository(pool), nil
}

// Run starts feed subscriptions, the metrics listener and the interval
// scheduler, and blocks until ctx ends.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.hub != nil {
		g.Go(func() error {
			err := a.hub.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.cfg.Metrics.Address != "" {
		srv := a.metricsServer()
		g.Go(func() error {
			a.logger.Info("metrics server listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := a.scheduler.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "interval", a.cfg.Scheduler.Interval, "run_on_start", a.cfg.Scheduler.RunOnStart)

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.scheduler.Stop(stopCtx); err != nil {
			a.logger.Warn("scheduler did not stop cleanly", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// RunOnce lets feeds deliver for up to settle, then runs a single cycle.
// Waiting ends early once every source is available.
func (a *Application) RunOnce(ctx context.Context, settle time.Duration) domain.CycleOutcome {
	var out domain.CycleOutcome
	a.withFeeds(ctx, settle, func() { out = a.scheduler.RunNow(ctx) })
	return out
}

// Probe lets feeds deliver for up to settle and reports what arrived without
// running a cycle.
func (a *Application) Probe(ctx context.Context, settle time.Duration) Status {
	var st Status
	a.withFeeds(ctx, settle, func() { st = a.Status() })
	return st
}

func (a *Application) withFeeds(ctx context.Context, settle time.Duration, fn func()) {
	if a.hub == nil {
		fn()
		return
	}

	feedCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.hub.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("feeds stopped", "error", err)
		}
	}()
	defer func() {
		cancel()
		<-done
	}()

	a.awaitSources(ctx, settle)
	fn()
}

func (a *Application) awaitSources(ctx context.Context, settle time.Duration) {
	deadline := time.NewTimer(settle)
	defer deadline.Stop()
	tick := time.NewTicker(settlePollEvery)
	defer tick.Stop()

	for {
		if a.allAvailable() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

func (a *Application) allAvailable() bool {
	for _, st := range a.aggregator.Availability() {
		if !st.Available {
			return false
		}
	}
	return true
}

// Status reports source availability and the most recent cycle.
func (a *Application) Status() Status {
	st := Status{
		Model:    a.client.Model(),
		FeedMode: a.cfg.Feeds.Mode,
		Sources:  a.aggregator.Availability(),
	}
	if q, _, ok := a.aggregator.LastQuality(); ok {
		st.LastQuality = &q
	}
	if out, ok := a.pipeline.Last(); ok {
		st.LastOutcome = &out
	}
	return st
}

// Store exposes the result store for read commands.
func (a *Application) Store() *store.Store {
	return a.store
}

// Close releases the database pool and provider clients.
func (a *Application) Close() {
	if c, ok := a.client.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("close analysis client", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *Application) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	return &http.Server{
		Addr:         a.cfg.Metrics.Address,
		Handler:      mux,
		ReadTimeout:  metricsReadLimit,
		WriteTimeout: metricsWriteLimit,
	}
}

// storeHistory reads prompt history straight from the store when no feed
// pushes it.
type storeHistory struct {
	store *store.Store
}

func (h storeHistory) History() []domain.AnalysisResult {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	records, err := h.store.History(ctx)
	if err != nil {
		return nil
	}
	return records
}
