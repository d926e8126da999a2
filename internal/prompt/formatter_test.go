package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
)

func available(id domain.SourceID, fields map[string]any) domain.SourceState {
	return domain.SourceState{
		Source:    id,
		Available: true,
		Document:  &domain.SourceDocument{ID: string(id), Fields: fields},
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func snapshot(states ...domain.SourceState) domain.AggregatedSnapshot {
	snap := domain.AggregatedSnapshot{
		CapturedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Sources:    map[domain.SourceID]domain.SourceState{},
		Quality:    domain.DataQuality{Total: domain.SourceCount()},
	}
	for _, st := range states {
		snap.Sources[st.Source] = st
		if st.Available {
			snap.Quality.Successful++
		}
	}
	snap.Quality.Failed = snap.Quality.Total - snap.Quality.Successful
	return snap
}

func TestFormatStripsBookkeepingAndNulls(t *testing.T) {
	t.Parallel()

	snap := snapshot(available(domain.MarketSentiment, map[string]any{
		"id":         "doc-1",
		"created_at": "2025-01-01T00:00:00Z",
		"stored_at":  "2025-01-01T00:00:00Z",
		"service":    "sentiment-agent",
		"sentiment":  "fearful",
		"score":      float64(22),
		"missing":    nil,
		"nested":     map[string]any{"keep": "yes", "gone": nil},
	}))

	p := NewFormatter("").Format(snap, nil)
	section := p.Sections["MarketSentiment"]

	for _, stripped := range []string{"doc-1", "created_at", "stored_at", "sentiment-agent", "missing", "gone"} {
		assert.NotContains(t, section, stripped)
	}
	assert.NotContains(t, section, "null")
	assert.Contains(t, section, `"sentiment": "fearful"`)
	assert.Contains(t, section, `"keep": "yes"`)
	assert.Contains(t, section, "\n  ", "rendered with two-space indentation")
}

func TestFormatUnavailableSourcesUsePlaceholders(t *testing.T) {
	t.Parallel()

	p := NewFormatter("").Format(snapshot(), nil)

	assert.Equal(t, "Market sentiment unavailable", p.Sections["MarketSentiment"])
	assert.Equal(t, "News sentiment unavailable", p.Sections["NewsSentiment"])
	assert.Equal(t, "Combined asset analysis unavailable", p.Sections["CombinedAssets"])
	assert.Equal(t, "On-chain metrics unavailable", p.Sections["OnchainMetrics"])
	assert.Equal(t, "Peak indicators unavailable", p.Sections["PeakIndicators"])
	assert.Equal(t, "No previous analyses available", p.Sections["History"])

	for key, v := range p.Sections {
		assert.NotEmpty(t, v, key)
	}
	assert.NotContains(t, p.Text, "{{.")
}

func TestFormatCollapsesCombinedAssetAnalyses(t *testing.T) {
	t.Parallel()

	snap := snapshot(available(domain.CombinedAssets, map[string]any{
		"bitcoin_analysis": map[string]any{
			"summary":    "BTC holding support",
			"timeframes": map[string]any{"1h": "noise"},
		},
		"ethereum_analysis": map[string]any{"price": 3000},
		"overall":           "neutral",
	}))

	section := NewFormatter("").Format(snap, nil).Sections["CombinedAssets"]

	assert.Contains(t, section, `"bitcoin_analysis": "BTC holding support"`)
	assert.NotContains(t, section, "timeframes")
	assert.NotContains(t, section, "ethereum_analysis")
	assert.Contains(t, section, `"overall": "neutral"`)
}

func TestFormatPeakIndicators(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{
			name: "lines",
			fields: map[string]any{"indicators": []any{
				map[string]any{"indicator_name": "Pi Cycle Top", "hit_status": true},
				map[string]any{"indicator_name": "MVRV Z-Score", "hit_status": false},
			}},
			want: "Pi Cycle Top: true\nMVRV Z-Score: false",
		},
		{
			name:   "not an array",
			fields: map[string]any{"indicators": "oops"},
			want:   "Peak indicators unavailable",
		},
		{
			name:   "malformed entry",
			fields: map[string]any{"indicators": []any{map[string]any{"indicator_name": "x", "hit_status": "yes"}}},
			want:   "Peak indicators unavailable",
		},
		{
			name:   "empty",
			fields: map[string]any{"indicators": []any{}},
			want:   "Peak indicators unavailable",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := snapshot(available(domain.PeakIndicators, tc.fields))
			assert.Equal(t, tc.want, NewFormatter("").Format(snap, nil).Sections["PeakIndicators"])
		})
	}
}

func TestRenderHistory(t *testing.T) {
	t.Parallel()

	history := []domain.AnalysisResult{
		{
			Score:       61,
			Certainty:   70,
			RiskFactors: []string{"leverage", "outflows"},
			Timestamp:   time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
			Narrative:   "raw narrative should not appear",
			Extra: map[string]any{
				"risk_level":           "elevated",
				"cascade_probability":  float64(35),
				"time_horizon":         "7d",
				"cross_domain_signals": []any{"funding", "stablecoin depeg"},
			},
		},
		{Score: 20, Certainty: 50},
	}

	got := RenderHistory(history)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"Analysis #1 (2025-05-01T09:00:00Z): score=61, risk_level=elevated, certainty=70, risk_factors=[leverage, outflows], cascade_probability=35, time_horizon=7d, cross_domain_signals=[funding, stablecoin depeg]",
		lines[0])
	assert.Equal(t,
		"Analysis #2 (n/a): score=20, risk_level=n/a, certainty=50, risk_factors=[], cascade_probability=n/a, time_horizon=n/a, cross_domain_signals=[]",
		lines[1])
	assert.NotContains(t, got, "raw narrative")
}

func TestRenderHistoryIsBounded(t *testing.T) {
	t.Parallel()

	history := make([]domain.AnalysisResult, 8)
	got := RenderHistory(history)
	assert.Len(t, strings.Split(got, "\n"), domain.HistoryLimit)
}

func TestSubstituteDoesNotExpandValues(t *testing.T) {
	t.Parallel()

	got := Substitute("a={{.A}} b={{.B}}", map[string]string{"A": "{{.B}}", "B": "2"})
	assert.Equal(t, "a={{.B}} b=2", got)
}

func TestCustomTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "custom.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("Q: {{.DataQuality}} @ {{.Timestamp}}"), 0o600))

	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)

	p := NewFormatter(tmpl).Format(snapshot(), nil)
	assert.Equal(t, "Q: 0/5 sources available (5 failed) @ 2025-06-01T12:00:00Z", p.Text)

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDefaultTemplateHasEveryPlaceholder(t *testing.T) {
	t.Parallel()

	tmpl := DefaultTemplate()
	for _, src := range domain.Sources() {
		assert.Contains(t, tmpl, "{{."+src.TemplateKey+"}}")
	}
	for _, k := range []string{KeyTimestamp, KeyDataQuality, KeyHistory} {
		assert.Contains(t, tmpl, "{{."+k+"}}")
	}
}
