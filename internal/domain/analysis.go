package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AnalysisResult is a validated risk judgment produced by one cycle.
type AnalysisResult struct {
	Score       int
	Narrative   string
	Certainty   int
	RiskFactors []string
	Indicators  []string
	Reasoning   string
	Timestamp   time.Time
	Metadata    CycleMetadata
	// Extra keeps every field the model returned beyond the required ones.
	Extra map[string]any
}

// CycleMetadata describes the cycle that produced a result.
type CycleMetadata struct {
	CycleID               string     `json:"cycle_id,omitempty"`
	Model                 string     `json:"model"`
	SourcesUsed           []SourceID `json:"sources_used"`
	SuccessfulSources     int        `json:"successful_sources"`
	TotalSources          int        `json:"total_sources"`
	AggregationDurationMS int64      `json:"aggregation_duration_ms"`
}

var reservedResultKeys = []string{
	"score", "narrative", "certainty", "risk_factors", "indicators", "reasoning", "timestamp", "metadata",
}

// MarshalJSON flattens Extra alongside the typed fields.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+len(reservedResultKeys))
	for k, v := range r.Extra {
		out[k] = v
	}
	out["score"] = r.Score
	out["narrative"] = r.Narrative
	out["certainty"] = r.Certainty
	out["risk_factors"] = nonNil(r.RiskFactors)
	out["indicators"] = nonNil(r.Indicators)
	out["reasoning"] = r.Reasoning
	out["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	out["metadata"] = r.Metadata
	return json.Marshal(out)
}

// UnmarshalJSON restores typed fields and collects the rest into Extra.
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	var typed struct {
		Score       float64       `json:"score"`
		Narrative   string        `json:"narrative"`
		Certainty   float64       `json:"certainty"`
		RiskFactors []string      `json:"risk_factors"`
		Indicators  []string      `json:"indicators"`
		Reasoning   string        `json:"reasoning"`
		Timestamp   time.Time     `json:"timestamp"`
		Metadata    CycleMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return fmt.Errorf("decode analysis result: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode analysis extras: %w", err)
	}
	for _, k := range reservedResultKeys {
		delete(raw, k)
	}
	if len(raw) == 0 {
		raw = nil
	}

	*r = AnalysisResult{
		Score:       int(typed.Score),
		Narrative:   typed.Narrative,
		Certainty:   int(typed.Certainty),
		RiskFactors: typed.RiskFactors,
		Indicators:  typed.Indicators,
		Reasoning:   typed.Reasoning,
		Timestamp:   typed.Timestamp,
		Metadata:    typed.Metadata,
		Extra:       raw,
	}
	return nil
}

// ExtraValue returns a preserved model field, if present.
func (r AnalysisResult) ExtraValue(key string) (any, bool) {
	if r.Extra == nil {
		return nil, false
	}
	v, ok := r.Extra[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// StoredResult is an analysis result together with its store identifier.
type StoredResult struct {
	ID     string         `json:"id"`
	Result AnalysisResult `json:"analysis"`
}

// StorageStatus reports whether a cycle's result was persisted.
type StorageStatus struct {
	Stored bool   `json:"stored"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CycleOutcome is the terminal report of one analysis cycle.
type CycleOutcome struct {
	Success     bool            `json:"success"`
	Analysis    *AnalysisResult `json:"analysis,omitempty"`
	Storage     *StorageStatus  `json:"storage,omitempty"`
	DataQuality *DataQuality    `json:"data_quality,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
