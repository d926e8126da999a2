// Package feedcache keeps the latest document each feed has reported,
// plus the bounded analysis history used as prompt context.
package feedcache

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/metrics"
)

// slot holds one source's entry. Each slot has its own lock so a writer on
// one feed never blocks another.
type slot struct {
	mu        sync.RWMutex
	doc       *domain.SourceDocument
	updatedAt time.Time
	lastErr   error
	errAt     time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	// slots is populated once in New and never resized.
	slots map[domain.SourceID]*slot

	histMu  sync.RWMutex
	history []domain.AnalysisResult

	now    func() time.Time
	logger *slog.Logger
}

// New builds an empty cache with a slot per configured source.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		slots:  make(map[domain.SourceID]*slot, domain.SourceCount()),
		now:    time.Now,
		logger: logger,
	}
	for _, src := range domain.Sources() {
		c.slots[src.ID] = &slot{}
	}
	return c
}

// OnUpdate replaces the cached document for a source. A nil document means
// the feed reported that its latest document is gone.
func (c *Cache) OnUpdate(id domain.SourceID, doc *domain.SourceDocument) {
	s, ok := c.slots[id]
	if !ok {
		c.logger.Warn("update for unknown source ignored", "source", id)
		return
	}

	var stored *domain.SourceDocument
	if doc != nil {
		stored = &domain.SourceDocument{ID: doc.ID, Fields: maps.Clone(doc.Fields)}
	}

	s.mu.Lock()
	s.doc = stored
	s.updatedAt = c.now()
	s.lastErr = nil
	s.errAt = time.Time{}
	s.mu.Unlock()

	kind := "update"
	if stored == nil {
		kind = "clear"
	}
	metrics.ObserveFeedUpdate(string(id), kind)
	c.logger.Debug("feed updated", "source", id, "kind", kind)
}

// OnError records a push-channel failure and clears that source only.
func (c *Cache) OnError(id domain.SourceID, err error) {
	s, ok := c.slots[id]
	if !ok {
		return
	}

	s.mu.Lock()
	s.doc = nil
	s.lastErr = domain.NewError(domain.ErrFeedUnavailable, string(id)+" feed failed", err)
	s.errAt = c.now()
	s.mu.Unlock()

	metrics.ObserveFeedUpdate(string(id), "error")
	c.logger.Warn("feed error, source cleared", "source", id, "error", err)
}

// Latest returns the cached document for a source, or nil.
func (c *Cache) Latest(id domain.SourceID) *domain.SourceDocument {
	s, ok := c.slots[id]
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil
	}
	return &domain.SourceDocument{ID: s.doc.ID, Fields: maps.Clone(s.doc.Fields)}
}

// Failure is a recorded push-channel error.
type Failure struct {
	Err error
	At  time.Time
}

// LastFailure reports the most recent push-channel failure for a source since
// its last successful update.
func (c *Cache) LastFailure(id domain.SourceID) (Failure, bool) {
	s, ok := c.slots[id]
	if !ok {
		return Failure{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr == nil {
		return Failure{}, false
	}
	return Failure{Err: s.lastErr, At: s.errAt}, true
}

// UpdatedAt reports when the source last received an update or clear.
func (c *Cache) UpdatedAt(id domain.SourceID) time.Time {
	s, ok := c.slots[id]
	if !ok {
		return time.Time{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// SetHistory replaces the historical records, newest first, keeping at most
// domain.HistoryLimit entries.
func (c *Cache) SetHistory(records []domain.AnalysisResult) {
	n := len(records)
	if n > domain.HistoryLimit {
		n = domain.HistoryLimit
	}
	next := make([]domain.AnalysisResult, n)
	copy(next, records[:n])

	c.histMu.Lock()
	c.history = next
	c.histMu.Unlock()
}

// ClearHistory drops the history after its subscription failed.
func (c *Cache) ClearHistory(err error) {
	c.histMu.Lock()
	c.history = nil
	c.histMu.Unlock()
	c.logger.Warn("history feed error, history cleared", "error", err)
}

// History returns a copy of the historical records, newest first.
func (c *Cache) History() []domain.AnalysisResult {
	c.histMu.RLock()
	defer c.histMu.RUnlock()
	out := make([]domain.AnalysisResult, len(c.history))
	copy(out, c.history)
	return out
}
