package aggregator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/feedcache"
)

type dateObject struct{ t time.Time }

func (d dateObject) ToDate() time.Time { return d.t }

func TestNormalizeTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	cases := []struct {
		name string
		in   any
		ok   bool
	}{
		{"rfc3339", "2025-03-04T05:06:07Z", true},
		{"rfc3339 offset", "2025-03-04T07:06:07+02:00", true},
		{"sql layout", "2025-03-04 05:06:07", true},
		{"time", want, true},
		{"epoch millis int64", want.UnixMilli(), true},
		{"epoch millis float", float64(want.UnixMilli()), true},
		{"epoch millis json number", json.Number("1741064767000"), true},
		{"timestamptz", pgtype.Timestamptz{Time: want, Valid: true}, true},
		{"dater", dateObject{t: want}, true},
		{"seconds object", map[string]any{"seconds": float64(want.Unix()), "nanoseconds": float64(0)}, true},
		{"underscore seconds object", map[string]any{"_seconds": float64(want.Unix())}, true},
		{"garbage string", "yesterday", false},
		{"empty string", "", false},
		{"nil", nil, false},
		{"zero time", time.Time{}, false},
		{"invalid timestamptz", pgtype.Timestamptz{}, false},
		{"negative epoch", int64(-5), false},
		{"bool", true, false},
		{"object without seconds", map[string]any{"x": 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeTimestamp(tc.in)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, got.Equal(want), "got %s", got)
				assert.Equal(t, time.UTC, got.Location())
			}
		})
	}
}

func fullCache(t *testing.T) *feedcache.Cache {
	t.Helper()
	c := feedcache.New(nil)
	for _, src := range domain.Sources() {
		c.OnUpdate(src.ID, &domain.SourceDocument{
			ID:     string(src.ID),
			Fields: map[string]any{src.RecencyField: "2025-01-01T00:00:00Z"},
		})
	}
	return c
}

func TestSnapshotAllAvailable(t *testing.T) {
	t.Parallel()

	snap := New(fullCache(t), nil).Snapshot()

	assert.Equal(t, domain.DataQuality{Successful: 5, Failed: 0, Total: 5}, snap.Quality)
	assert.Len(t, snap.Available(), 5)
	assert.False(t, snap.CapturedAt.IsZero())
	assert.GreaterOrEqual(t, snap.Duration, time.Duration(0))
}

func TestSnapshotEmptyCache(t *testing.T) {
	t.Parallel()

	snap := New(feedcache.New(nil), nil).Snapshot()

	assert.Equal(t, domain.DataQuality{Successful: 0, Failed: 5, Total: 5}, snap.Quality)
	assert.Empty(t, snap.Available())
	for _, src := range domain.Sources() {
		st := snap.State(src.ID)
		assert.False(t, st.Available)
		assert.Equal(t, domain.ReasonNoData, st.Reason)
	}
}

func TestSnapshotMissingTimestamp(t *testing.T) {
	t.Parallel()

	c := fullCache(t)
	c.OnUpdate(domain.OnchainMetrics, &domain.SourceDocument{ID: "o", Fields: map[string]any{"tvl": 1}})

	snap := New(c, nil).Snapshot()

	st := snap.State(domain.OnchainMetrics)
	assert.False(t, st.Available)
	assert.Equal(t, domain.ReasonNoTimestamp, st.Reason)
	require.NotNil(t, st.Document, "document is kept for sections that render regardless")
	assert.Equal(t, domain.DataQuality{Successful: 4, Failed: 1, Total: 5}, snap.Quality)
}

func TestSnapshotFallsBackToTimestampField(t *testing.T) {
	t.Parallel()

	c := feedcache.New(nil)
	c.OnUpdate(domain.NewsSentiment, &domain.SourceDocument{
		ID:     "n",
		Fields: map[string]any{"timestamp": "2025-01-01T00:00:00Z"},
	})

	st := New(c, nil).Snapshot().State(domain.NewsSentiment)
	assert.True(t, st.Available)
}

func TestSnapshotDoesNotGateOnAge(t *testing.T) {
	t.Parallel()

	c := feedcache.New(nil)
	c.OnUpdate(domain.MarketSentiment, &domain.SourceDocument{
		ID:     "ancient",
		Fields: map[string]any{"timestamp": "1999-01-01T00:00:00Z"},
	})

	assert.True(t, New(c, nil).Snapshot().State(domain.MarketSentiment).Available)
}

func TestSnapshotIsIsolatedFromLaterUpdates(t *testing.T) {
	t.Parallel()

	c := fullCache(t)
	agg := New(c, nil)
	snap := agg.Snapshot()

	c.OnUpdate(domain.MarketSentiment, nil)

	assert.True(t, snap.State(domain.MarketSentiment).Available)
	assert.False(t, agg.Snapshot().State(domain.MarketSentiment).Available)
}

func TestLastQuality(t *testing.T) {
	t.Parallel()

	agg := New(fullCache(t), nil)
	_, _, ok := agg.LastQuality()
	assert.False(t, ok)

	agg.Snapshot()
	q, at, ok := agg.LastQuality()
	require.True(t, ok)
	assert.Equal(t, 5, q.Successful)
	assert.False(t, at.IsZero())
}

func TestNilCache(t *testing.T) {
	t.Parallel()

	snap := New(nil, nil).Snapshot()
	assert.Equal(t, 5, snap.Quality.Failed)
}
