package feedcache

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
)

func doc(id string, fields map[string]any) *domain.SourceDocument {
	return &domain.SourceDocument{ID: id, Fields: fields}
}

func TestLatestIsAbsentUntilFirstUpdate(t *testing.T) {
	t.Parallel()

	c := New(nil)
	for _, src := range domain.Sources() {
		assert.Nil(t, c.Latest(src.ID), src.ID)
	}
}

func TestOnUpdateIsLastWriteWins(t *testing.T) {
	t.Parallel()

	c := New(nil)
	c.OnUpdate(domain.MarketSentiment, doc("newer", map[string]any{"timestamp": "2025-01-02T00:00:00Z"}))
	// Arrives second with an older recency marker; the cache mirrors call order.
	c.OnUpdate(domain.MarketSentiment, doc("older", map[string]any{"timestamp": "2025-01-01T00:00:00Z"}))

	got := c.Latest(domain.MarketSentiment)
	require.NotNil(t, got)
	assert.Equal(t, "older", got.ID)
}

func TestOnUpdateNilClears(t *testing.T) {
	t.Parallel()

	c := New(nil)
	c.OnUpdate(domain.NewsSentiment, doc("a", nil))
	c.OnUpdate(domain.NewsSentiment, nil)
	assert.Nil(t, c.Latest(domain.NewsSentiment))
}

func TestOnErrorIsIsolatedPerSource(t *testing.T) {
	t.Parallel()

	c := New(nil)
	c.OnUpdate(domain.MarketSentiment, doc("m", nil))
	c.OnUpdate(domain.OnchainMetrics, doc("o", nil))

	c.OnError(domain.MarketSentiment, errors.New("stream reset"))

	assert.Nil(t, c.Latest(domain.MarketSentiment))
	require.NotNil(t, c.Latest(domain.OnchainMetrics))

	failure, ok := c.LastFailure(domain.MarketSentiment)
	require.True(t, ok)
	assert.ErrorIs(t, failure.Err, domain.ErrFeedUnavailable)
	assert.False(t, failure.At.IsZero())

	c.OnUpdate(domain.MarketSentiment, doc("m2", nil))
	_, ok = c.LastFailure(domain.MarketSentiment)
	assert.False(t, ok)
}

func TestUnknownSourceIgnored(t *testing.T) {
	t.Parallel()

	c := New(nil)
	c.OnUpdate("bogus", doc("x", nil))
	c.OnError("bogus", errors.New("boom"))
	assert.Nil(t, c.Latest("bogus"))
}

func TestLatestReturnsCopy(t *testing.T) {
	t.Parallel()

	c := New(nil)
	c.OnUpdate(domain.CombinedAssets, doc("c", map[string]any{"k": "v"}))

	got := c.Latest(domain.CombinedAssets)
	got.Fields["k"] = "mutated"

	assert.Equal(t, "v", c.Latest(domain.CombinedAssets).Fields["k"])
}

func TestHistoryIsBoundedAndOrdered(t *testing.T) {
	t.Parallel()

	c := New(nil)
	records := make([]domain.AnalysisResult, 7)
	for i := range records {
		records[i] = domain.AnalysisResult{Score: 70 - i}
	}
	c.SetHistory(records)

	got := c.History()
	require.Len(t, got, domain.HistoryLimit)
	assert.Equal(t, 70, got[0].Score)
	assert.Equal(t, 66, got[4].Score)

	c.ClearHistory(errors.New("listener closed"))
	assert.Empty(t, c.History())
}

func TestConcurrentUpdatesDoNotCorruptOtherSources(t *testing.T) {
	t.Parallel()

	c := New(nil)
	var wg sync.WaitGroup
	for _, src := range domain.Sources() {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.OnUpdate(src.ID, doc(fmt.Sprintf("%s-%d", src.ID, i), map[string]any{"n": i}))
				_ = c.Latest(src.ID)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.SetHistory([]domain.AnalysisResult{{Score: i}})
			_ = c.History()
		}
	}()
	wg.Wait()

	for _, src := range domain.Sources() {
		got := c.Latest(src.ID)
		require.NotNil(t, got)
		assert.Equal(t, fmt.Sprintf("%s-199", src.ID), got.ID)
	}
}
