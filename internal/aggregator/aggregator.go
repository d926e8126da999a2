// Package aggregator merges the feed cache into one consistent snapshot per
// analysis cycle.
package aggregator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/metrics"
)

// DocumentReader is the read side of the feed cache.
type DocumentReader interface {
	Latest(id domain.SourceID) *domain.SourceDocument
}

// Aggregator builds snapshots from a DocumentReader.
type Aggregator struct {
	cache   DocumentReader
	sources []domain.Source
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.RWMutex
	last *domain.AggregatedSnapshot
}

// New wires the aggregator to a cache over every configured source.
func New(cache DocumentReader, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		cache:   cache,
		sources: domain.Sources(),
		now:     time.Now,
		logger:  logger,
	}
}

// Snapshot reads every source once and reports which ones are usable. It
// never fails; an empty cache yields a snapshot with zero available sources.
func (a *Aggregator) Snapshot() domain.AggregatedSnapshot {
	start := a.now()

	states := a.evaluate()
	quality := domain.DataQuality{Total: len(a.sources)}
	for _, st := range states {
		if st.Available {
			quality.Successful++
		} else {
			quality.Failed++
		}
		metrics.SetSourceAvailable(string(st.Source), st.Available)
	}

	snap := domain.AggregatedSnapshot{
		CapturedAt: start.UTC(),
		Sources:    states,
		Quality:    quality,
		Duration:   a.now().Sub(start),
	}

	a.mu.Lock()
	a.last = &snap
	a.mu.Unlock()

	a.logger.Debug("snapshot built",
		"successful", quality.Successful,
		"failed", quality.Failed,
		"total", quality.Total,
		"duration", snap.Duration)
	return snap
}

// Availability reports the current state of every source without recording
// a snapshot.
func (a *Aggregator) Availability() map[domain.SourceID]domain.SourceState {
	return a.evaluate()
}

// LastQuality returns the counters of the most recent snapshot.
func (a *Aggregator) LastQuality() (domain.DataQuality, time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return domain.DataQuality{}, time.Time{}, false
	}
	return a.last.Quality, a.last.CapturedAt, true
}

func (a *Aggregator) evaluate() map[domain.SourceID]domain.SourceState {
	states := make(map[domain.SourceID]domain.SourceState, len(a.sources))
	for _, src := range a.sources {
		states[src.ID] = a.evaluateSource(src)
	}
	return states
}

func (a *Aggregator) evaluateSource(src domain.Source) domain.SourceState {
	state := domain.SourceState{Source: src.ID}
	if a.cache == nil {
		state.Reason = domain.ReasonNoData
		return state
	}

	doc := a.cache.Latest(src.ID)
	if doc == nil {
		state.Reason = domain.ReasonNoData
		return state
	}
	state.Document = doc

	ts, ok := NormalizeTimestamp(recencyMarker(doc.Fields, src.RecencyField))
	if !ok {
		state.Reason = domain.ReasonNoTimestamp
		return state
	}

	state.Available = true
	state.Timestamp = ts
	return state
}
