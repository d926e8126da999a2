package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

// ErrDuplicateID is returned when an id is inserted twice.
var ErrDuplicateID = errors.New("duplicate analysis id")

// MemoryRepository keeps results in process. Used when no database is
// configured and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows []domain.StoredResult
	// seq breaks timestamp ties so the later insert reads as newer.
	seq map[string]int
	n   int
}

var _ ports.ResultRepository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{seq: make(map[string]int)}
}

func (r *MemoryRepository) Insert(ctx context.Context, id string, result domain.AnalysisResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seq[id]; ok {
		return ErrDuplicateID
	}
	r.n++
	r.seq[id] = r.n
	r.rows = append(r.rows, domain.StoredResult{ID: id, Result: result})
	sort.SliceStable(r.rows, func(i, j int) bool {
		a, b := r.rows[i], r.rows[j]
		if !a.Result.Timestamp.Equal(b.Result.Timestamp) {
			return a.Result.Timestamp.After(b.Result.Timestamp)
		}
		return r.seq[a.ID] > r.seq[b.ID]
	})
	return nil
}

func (r *MemoryRepository) Latest(ctx context.Context) (*domain.StoredResult, error) {
	recent, err := r.Recent(ctx, 1)
	if err != nil || len(recent) == 0 {
		return nil, err
	}
	return &recent[0], nil
}

func (r *MemoryRepository) Recent(ctx context.Context, limit int) ([]domain.StoredResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit > len(r.rows) {
		limit = len(r.rows)
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]domain.StoredResult, limit)
	copy(out, r.rows[:limit])
	return out, nil
}

func (r *MemoryRepository) ByID(ctx context.Context, id string) (*domain.StoredResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, nil
}

// Len reports how many results are stored.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
