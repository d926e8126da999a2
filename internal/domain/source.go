package domain

// SourceID identifies one of the fixed upstream feeds.
type SourceID string

const (
	MarketSentiment SourceID = "market_sentiment"
	NewsSentiment   SourceID = "news_sentiment"
	CombinedAssets  SourceID = "combined_assets"
	OnchainMetrics  SourceID = "onchain_metrics"
	PeakIndicators  SourceID = "peak_indicators"
)

// SourceKind selects how a source's payload is rendered for the model.
type SourceKind int

const (
	// KindDocument is rendered as indented structured text.
	KindDocument SourceKind = iota
	// KindIndicators is rendered as one "name: true/false" line per indicator.
	KindIndicators
)

const (
	// HistoryCollection is the store analysis results are appended to.
	HistoryCollection = "blackswan_analyses"
	// HistoryLimit bounds the historical context kept for the prompt.
	HistoryLimit = 5
)

// Source is the static configuration for a feed.
type Source struct {
	ID           SourceID
	Label        string
	Collection   string
	RecencyField string
	// FixedDocID is set for feeds that watch a single well-known document
	// instead of the most recent one.
	FixedDocID string
	Kind       SourceKind
	// CollapseFields lists nested objects reduced to their summary field
	// before rendering.
	CollapseFields []string
	// TemplateKey is the prompt placeholder the rendered section fills.
	TemplateKey string
}

var sources = []Source{
	{
		ID:           MarketSentiment,
		Label:        "Market sentiment",
		Collection:   "market_sentiment_analysis",
		RecencyField: "timestamp",
		TemplateKey:  "MarketSentiment",
	},
	{
		ID:           NewsSentiment,
		Label:        "News sentiment",
		Collection:   "news_sentiment_analysis",
		RecencyField: "created_at",
		TemplateKey:  "NewsSentiment",
	},
	{
		ID:             CombinedAssets,
		Label:          "Combined asset analysis",
		Collection:     "combined_asset_analysis",
		RecencyField:   "analysis_timestamp",
		CollapseFields: []string{"bitcoin_analysis", "ethereum_analysis"},
		TemplateKey:    "CombinedAssets",
	},
	{
		ID:           OnchainMetrics,
		Label:        "On-chain metrics",
		Collection:   "onchain_metrics",
		RecencyField: "updated_at",
		TemplateKey:  "OnchainMetrics",
	},
	{
		ID:           PeakIndicators,
		Label:        "Peak indicators",
		Collection:   "peak_indicators",
		RecencyField: "updated_at",
		FixedDocID:   "latest",
		Kind:         KindIndicators,
		TemplateKey:  "PeakIndicators",
	},
}

// Sources returns the configured sources in their canonical order.
func Sources() []Source {
	out := make([]Source, len(sources))
	copy(out, sources)
	return out
}

// SourceCount is the configured total used by data-quality counters.
func SourceCount() int {
	return len(sources)
}

// LookupSource resolves a source by identifier.
func LookupSource(id SourceID) (Source, bool) {
	for _, s := range sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}
