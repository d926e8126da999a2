package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/infrastructure/storage"
)

// recordingRepo captures the limit it was asked for and can be told to fail.
type recordingRepo struct {
	*storage.MemoryRepository
	lastLimit int
	fail      error
}

func (r *recordingRepo) Insert(ctx context.Context, id string, res domain.AnalysisResult) error {
	if r.fail != nil {
		return r.fail
	}
	return r.MemoryRepository.Insert(ctx, id, res)
}

func (r *recordingRepo) Recent(ctx context.Context, limit int) ([]domain.StoredResult, error) {
	r.lastLimit = limit
	if r.fail != nil {
		return nil, r.fail
	}
	return r.MemoryRepository.Recent(ctx, limit)
}

func newRepo() *recordingRepo {
	return &recordingRepo{MemoryRepository: storage.NewMemoryRepository()}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, 50, ClampLimit(50))
	assert.Equal(t, MaxLimit, ClampLimit(200))
}

func TestRecentClampsBeforeQuerying(t *testing.T) {
	t.Parallel()

	repo := newRepo()
	s := New(repo, nil)

	_, err := s.Recent(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, 50, repo.lastLimit)

	_, err = s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 10, repo.lastLimit)
}

func TestAppendAssignsIDs(t *testing.T) {
	t.Parallel()

	repo := newRepo()
	s := New(repo, nil)
	ctx := context.Background()

	id1, err := s.Append(ctx, domain.AnalysisResult{Score: 1, Timestamp: time.Now()})
	require.NoError(t, err)
	id2, err := s.Append(ctx, domain.AnalysisResult{Score: 2, Timestamp: time.Now().Add(time.Second)})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id2, latest.ID)

	byID, err := s.ByID(ctx, id1)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, 1, byID.Result.Score)
}

func TestAppendFailureIsStorageError(t *testing.T) {
	t.Parallel()

	repo := newRepo()
	repo.fail = errors.New("connection refused")
	s := New(repo, nil)

	id, err := s.Append(context.Background(), domain.AnalysisResult{})
	assert.Empty(t, id)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRecentFailureReturnsEmptySlice(t *testing.T) {
	t.Parallel()

	repo := newRepo()
	repo.fail = errors.New("timeout")
	s := New(repo, nil)

	got, err := s.Recent(context.Background(), 5)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestHistoryReturnsNewestFive(t *testing.T) {
	t.Parallel()

	repo := newRepo()
	s := New(repo, nil)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		_, err := s.Append(ctx, domain.AnalysisResult{Score: i, Timestamp: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	history, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, domain.HistoryLimit)
	assert.Equal(t, 6, history[0].Score)
	assert.Equal(t, 2, history[4].Score)
}

func TestNilRepository(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	_, err := s.Append(context.Background(), domain.AnalysisResult{})
	assert.ErrorIs(t, err, domain.ErrStorage)
	got, err := s.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.NotNil(t, got)
}
