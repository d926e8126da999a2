// Package store appends analysis results and serves the read shapes the
// service exposes.
package store

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/metrics"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

const (
	// DefaultLimit applies when a caller passes no usable limit.
	DefaultLimit = 10
	// MaxLimit caps every Recent query.
	MaxLimit = 50
)

// ClampLimit maps a requested limit into [1, MaxLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Store wraps a repository with id generation and the storage error kind.
type Store struct {
	repo   ports.ResultRepository
	newID  func() string
	logger *slog.Logger
}

// New builds a Store over repo.
func New(repo ports.ResultRepository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		newID:  func() string { return uuid.NewString() },
		logger: logger.With("component", "store"),
	}
}

// Append persists result under a fresh id.
func (s *Store) Append(ctx context.Context, result domain.AnalysisResult) (string, error) {
	if s.repo == nil {
		return "", domain.Errorf(domain.ErrStorage, "result store not configured")
	}
	id := s.newID()
	if err := s.repo.Insert(ctx, id, result); err != nil {
		metrics.ObserveStorageFailure()
		return "", domain.NewError(domain.ErrStorage, "store analysis", err)
	}
	s.logger.Info("analysis stored", "id", id, "score", result.Score)
	return id, nil
}

// Latest returns the newest result, or nil when nothing is stored.
func (s *Store) Latest(ctx context.Context) (*domain.StoredResult, error) {
	if s.repo == nil {
		return nil, domain.Errorf(domain.ErrStorage, "result store not configured")
	}
	res, err := s.repo.Latest(ctx)
	if err != nil {
		return nil, domain.NewError(domain.ErrStorage, "load latest analysis", err)
	}
	return res, nil
}

// Recent returns up to limit results, newest first. On failure it returns an
// empty slice together with the error.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.StoredResult, error) {
	if s.repo == nil {
		return []domain.StoredResult{}, domain.Errorf(domain.ErrStorage, "result store not configured")
	}
	res, err := s.repo.Recent(ctx, ClampLimit(limit))
	if err != nil {
		s.logger.Warn("recent analyses unavailable", "error", err)
		return []domain.StoredResult{}, domain.NewError(domain.ErrStorage, "load recent analyses", err)
	}
	if res == nil {
		res = []domain.StoredResult{}
	}
	return res, nil
}

// ByID returns one result, or nil when the id is unknown.
func (s *Store) ByID(ctx context.Context, id string) (*domain.StoredResult, error) {
	if s.repo == nil {
		return nil, domain.Errorf(domain.ErrStorage, "result store not configured")
	}
	res, err := s.repo.ByID(ctx, id)
	if err != nil {
		return nil, domain.NewError(domain.ErrStorage, "load analysis "+id, err)
	}
	return res, nil
}

// History returns the records used as prompt context.
func (s *Store) History(ctx context.Context) ([]domain.AnalysisResult, error) {
	recent, err := s.Recent(ctx, domain.HistoryLimit)
	out := make([]domain.AnalysisResult, 0, len(recent))
	for _, r := range recent {
		out = append(out, r.Result)
	}
	return out, err
}
