package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/metrics"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/prompt"
)

// Cycle stages, as reported in logs and failure metrics.
const (
	StageSnapshot = "snapshot"
	StageFormat   = "format"
	StageRequest  = "request"
	StageValidate = "validate"
	StageStore    = "store"
)

// MsgInsufficientData is reported when no source can contribute.
const MsgInsufficientData = "Insufficient data: no sources available"

// DefaultStoreTimeout bounds the Store step.
const DefaultStoreTimeout = 30 * time.Second

// Snapshotter produces the per-cycle view of every source.
type Snapshotter interface {
	Snapshot() domain.AggregatedSnapshot
}

// HistorySource supplies recent analyses used as prompt context.
type HistorySource interface {
	History() []domain.AnalysisResult
}

// Formatter renders a snapshot into a prompt.
type Formatter interface {
	Format(snap domain.AggregatedSnapshot, history []domain.AnalysisResult) prompt.Payload
}

// Validator turns raw completions into results.
type Validator interface {
	Validate(raw string, meta domain.CycleMetadata) (domain.AnalysisResult, error)
}

// ResultAppender persists validated results.
type ResultAppender interface {
	Append(ctx context.Context, result domain.AnalysisResult) (string, error)
}

// PipelineDeps wires all driven adapters into the cycle orchestrator.
type PipelineDeps struct {
	Aggregator Snapshotter
	History    HistorySource
	Formatter  Formatter
	Client     ports.AnalysisClient
	Validator  Validator
	Store      ResultAppender
	Observers  []ports.CycleObserver
	Logger     *slog.Logger

	// StoreTimeout bounds Append; zero means DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// Pipeline runs analysis cycles one at a time.
type Pipeline struct {
	aggregator Snapshotter
	history    HistorySource
	formatter  Formatter
	client     ports.AnalysisClient
	validator  Validator
	store      ResultAppender
	observers  []ports.CycleObserver
	logger     *slog.Logger
	now        func() time.Time

	storeTimeout time.Duration

	// run serializes cycles; scheduled and manual triggers share it.
	run sync.Mutex

	lastMu sync.RWMutex
	last   *domain.CycleOutcome
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	storeTimeout := deps.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Pipeline{
		aggregator:   deps.Aggregator,
		history:      deps.History,
		formatter:    deps.Formatter,
		client:       deps.Client,
		validator:    deps.Validator,
		store:        deps.Store,
		observers:    deps.Observers,
		logger:       logger.With("component", "pipeline"),
		now:          time.Now,
		storeTimeout: storeTimeout,
	}
}

// RunCycle executes Snapshot, Format, Request, Validate and Store. A failure
// at any step ends the cycle; a storage failure does not. It always returns a
// terminal outcome and never panics.
func (p *Pipeline) RunCycle(ctx context.Context) (out domain.CycleOutcome) {
	p.run.Lock()
	defer p.run.Unlock()

	start := p.now()
	cycleID := uuid.NewString()
	log := p.logger.With("cycle_id", cycleID)
	var quality *domain.DataQuality

	defer func() {
		if r := recover(); r != nil {
			out = p.fail(ctx, log, "panic", domain.Errorf(domain.ErrInternal, "cycle panicked: %v", r), quality, start)
		}
		p.remember(out)
	}()

	log.Info("cycle started")

	if p.aggregator == nil {
		return p.fail(ctx, log, StageSnapshot, domain.Errorf(domain.ErrInsufficientData, MsgInsufficientData), nil, start)
	}
	snap := p.aggregator.Snapshot()
	q := snap.Quality
	quality = &q
	if snap.Quality.Successful == 0 {
		return p.fail(ctx, log, StageSnapshot, domain.Errorf(domain.ErrInsufficientData, MsgInsufficientData), quality, start)
	}

	var history []domain.AnalysisResult
	if p.history != nil {
		history = p.history.History()
	}
	if p.formatter == nil {
		return p.fail(ctx, log, StageFormat, domain.Errorf(domain.ErrInternal, "prompt formatter not configured"), quality, start)
	}
	payload := p.formatter.Format(snap, history)

	if p.client == nil {
		return p.fail(ctx, log, StageRequest, domain.Errorf(domain.ErrInternal, "analysis client not configured"), quality, start)
	}
	raw, err := p.client.Analyze(ctx, payload.Text)
	if err != nil {
		return p.fail(ctx, log, StageRequest, err, quality, start)
	}

	meta := domain.CycleMetadata{
		CycleID:               cycleID,
		Model:                 p.client.Model(),
		SourcesUsed:           snap.Available(),
		SuccessfulSources:     snap.Quality.Successful,
		TotalSources:          snap.Quality.Total,
		AggregationDurationMS: snap.Duration.Milliseconds(),
	}
	if p.validator == nil {
		return p.fail(ctx, log, StageValidate, domain.Errorf(domain.ErrInternal, "response validator not configured"), quality, start)
	}
	result, err := p.validator.Validate(raw, meta)
	if err != nil {
		return p.fail(ctx, log, StageValidate, err, quality, start)
	}

	storage := p.persist(ctx, log, result)

	out = domain.CycleOutcome{
		Success:     true,
		Analysis:    &result,
		Storage:     &storage,
		DataQuality: quality,
		Timestamp:   p.now().UTC(),
	}
	metrics.ObserveCycle(p.now().Sub(start), metrics.OutcomeSuccess)
	log.Info("cycle completed",
		"score", result.Score,
		"certainty", result.Certainty,
		"sources", snap.Quality.Successful,
		"stored", storage.Stored,
		"duration", p.now().Sub(start))

	p.notify(ctx, log, out)
	return out
}

// Last returns the most recent outcome, if any cycle has run.
func (p *Pipeline) Last() (domain.CycleOutcome, bool) {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	if p.last == nil {
		return domain.CycleOutcome{}, false
	}
	return *p.last, true
}

func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, result domain.AnalysisResult) domain.StorageStatus {
	if p.store == nil {
		return domain.StorageStatus{Stored: false, Error: "result store not configured"}
	}
	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	id, err := p.store.Append(storeCtx, result)
	if err != nil {
		metrics.ObserveStageFailure(StageStore)
		log.Warn("analysis not stored", "error", err)
		return domain.StorageStatus{Stored: false, Error: err.Error()}
	}
	return domain.StorageStatus{Stored: true, ID: id}
}

func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, stage string, err error, quality *domain.DataQuality, start time.Time) domain.CycleOutcome {
	out := domain.CycleOutcome{
		Success:     false,
		DataQuality: quality,
		Error:       err.Error(),
		ErrorKind:   domain.KindOf(err),
		Timestamp:   p.now().UTC(),
	}
	metrics.ObserveStageFailure(stage)
	metrics.ObserveCycle(p.now().Sub(start), metrics.OutcomeError)
	log.Error("cycle failed", "stage", stage, "kind", out.ErrorKind, "error", err)

	p.notify(ctx, log, out)
	return out
}

func (p *Pipeline) notify(ctx context.Context, log *slog.Logger, out domain.CycleOutcome) {
	for _, o := range p.observers {
		if o == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("cycle observer panicked", "panic", r)
				}
			}()
			if out.Success {
				o.CycleCompleted(ctx, out)
			} else {
				o.CycleFailed(ctx, out)
			}
		}()
	}
}

func (p *Pipeline) remember(out domain.CycleOutcome) {
	p.lastMu.Lock()
	p.last = &out
	p.lastMu.Unlock()
}
