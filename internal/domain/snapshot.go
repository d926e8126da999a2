package domain

import "time"

// Reasons reported for unavailable sources.
const (
	ReasonNoData      = "No data available"
	ReasonNoTimestamp = "No timestamp found"
)

// SourceDocument is the latest record a feed reported for a source.
type SourceDocument struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// SourceState is one source's entry in a snapshot.
type SourceState struct {
	Source    SourceID        `json:"source"`
	Available bool            `json:"available"`
	Document  *SourceDocument `json:"document,omitempty"`
	// Timestamp is the normalized recency marker; zero when unavailable.
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason,omitempty"`
}

// DataQuality counts how many sources contributed to a snapshot.
type DataQuality struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// AggregatedSnapshot is a point-in-time merge of every source's state.
type AggregatedSnapshot struct {
	CapturedAt time.Time
	Sources    map[SourceID]SourceState
	Quality    DataQuality
	Duration   time.Duration
}

// State returns the entry for id, reporting it unavailable when missing.
func (s AggregatedSnapshot) State(id SourceID) SourceState {
	if st, ok := s.Sources[id]; ok {
		return st
	}
	return SourceState{Source: id, Reason: ReasonNoData}
}

// Available lists contributing sources in canonical order.
func (s AggregatedSnapshot) Available() []SourceID {
	var ids []SourceID
	for _, src := range sources {
		if s.State(src.ID).Available {
			ids = append(ids, src.ID)
		}
	}
	return ids
}
