// Package prompt renders an aggregated snapshot and the analysis history into
// the text sent to the reasoning model.
package prompt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
)

//go:embed prompts/analysis.tmpl
var defaultTemplate string

// Template keys that are not tied to a source.
const (
	KeyTimestamp   = "Timestamp"
	KeyDataQuality = "DataQuality"
	KeyHistory     = "History"
)

const (
	noHistory         = "No previous analyses available"
	peakUnavailable   = "Peak indicators unavailable"
	missingValue      = "n/a"
	summaryField      = "summary"
	indentPrefix      = ""
	indentUnit        = "  "
	unavailableSuffix = " unavailable"
)

// bookkeepingFields are storage-side fields that carry no signal for the model.
var bookkeepingFields = []string{"id", "created_at", "updated_at", "stored_at", "service"}

// Payload is the prompt text together with the inputs that produced it.
type Payload struct {
	Text     string
	Sections map[string]string
	Snapshot domain.AggregatedSnapshot
	History  []domain.AnalysisResult
}

// Formatter turns snapshots into prompts.
type Formatter struct {
	template string
	now      func() time.Time
}

// NewFormatter returns a formatter over template. An empty template selects
// the built-in one.
func NewFormatter(template string) *Formatter {
	if strings.TrimSpace(template) == "" {
		template = defaultTemplate
	}
	return &Formatter{template: template, now: time.Now}
}

// DefaultTemplate returns the built-in prompt template.
func DefaultTemplate() string {
	return defaultTemplate
}

// LoadTemplate reads a template override from disk.
func LoadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template %s: %w", path, err)
	}
	return string(data), nil
}

// Format renders every section and substitutes them into the template.
func (f *Formatter) Format(snap domain.AggregatedSnapshot, history []domain.AnalysisResult) Payload {
	sections := make(map[string]string, domain.SourceCount()+3)
	for _, src := range domain.Sources() {
		sections[src.TemplateKey] = renderSource(src, snap.State(src.ID))
	}

	captured := snap.CapturedAt
	if captured.IsZero() {
		captured = f.now()
	}
	sections[KeyTimestamp] = captured.UTC().Format(time.RFC3339)
	sections[KeyDataQuality] = renderQuality(snap.Quality)
	sections[KeyHistory] = RenderHistory(history)

	return Payload{
		Text:     Substitute(f.template, sections),
		Sections: sections,
		Snapshot: snap,
		History:  history,
	}
}

// Substitute replaces {{.Key}} placeholders in one pass, so substituted
// values are never themselves expanded.
func Substitute(template string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for key, value := range data {
		pairs = append(pairs, fmt.Sprintf("{{.%s}}", key), value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func renderSource(src domain.Source, st domain.SourceState) string {
	if src.Kind == domain.KindIndicators {
		return renderIndicators(st.Document)
	}
	placeholder := src.Label + unavailableSuffix
	if !st.Available || st.Document == nil {
		return placeholder
	}
	text, err := renderDocument(src, st.Document.Fields)
	if err != nil {
		return placeholder
	}
	return text
}

func renderDocument(src domain.Source, fields map[string]any) (string, error) {
	filtered := make(map[string]any, len(fields))
	for k, v := range fields {
		filtered[k] = v
	}
	for _, k := range bookkeepingFields {
		delete(filtered, k)
	}
	for _, k := range src.CollapseFields {
		collapse(filtered, k)
	}

	cleaned, _ := dropNulls(filtered).(map[string]any)
	out, err := json.MarshalIndent(cleaned, indentPrefix, indentUnit)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", src.ID, err)
	}
	return string(out), nil
}

// collapse reduces a nested object to its summary text, dropping the field
// when there is none.
func collapse(fields map[string]any, key string) {
	v, ok := fields[key]
	if !ok {
		return
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return
	}
	if summary, ok := nested[summaryField]; ok && summary != nil {
		fields[key] = summary
		return
	}
	delete(fields, key)
}

func dropNulls(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			if item == nil {
				continue
			}
			out[k] = dropNulls(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			out = append(out, dropNulls(item))
		}
		return out
	}
	return v
}

func renderIndicators(doc *domain.SourceDocument) string {
	if doc == nil {
		return peakUnavailable
	}
	entries, ok := indicatorEntries(doc.Fields["indicators"])
	if !ok || len(entries) == 0 {
		return peakUnavailable
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name, ok := e["indicator_name"].(string)
		if !ok || name == "" {
			return peakUnavailable
		}
		hit, ok := e["hit_status"].(bool)
		if !ok {
			return peakUnavailable
		}
		lines = append(lines, fmt.Sprintf("%s: %t", name, hit))
	}
	return strings.Join(lines, "\n")
}

func indicatorEntries(v any) ([]map[string]any, bool) {
	switch x := v.(type) {
	case []map[string]any:
		return x, true
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}

func renderQuality(q domain.DataQuality) string {
	return fmt.Sprintf("%d/%d sources available (%d failed)", q.Successful, q.Total, q.Failed)
}

// RenderHistory summarises previous analyses, newest first.
func RenderHistory(history []domain.AnalysisResult) string {
	if len(history) == 0 {
		return noHistory
	}
	if len(history) > domain.HistoryLimit {
		history = history[:domain.HistoryLimit]
	}

	var b strings.Builder
	for i, r := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		ts := missingValue
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "Analysis #%d (%s): score=%d, risk_level=%s, certainty=%d, risk_factors=[%s], cascade_probability=%s, time_horizon=%s, cross_domain_signals=[%s]",
			i+1, ts, r.Score,
			extraScalar(r, "risk_level"),
			r.Certainty,
			strings.Join(r.RiskFactors, ", "),
			extraScalar(r, "cascade_probability"),
			extraScalar(r, "time_horizon"),
			extraList(r, "cross_domain_signals"),
		)
	}
	return b.String()
}

func extraScalar(r domain.AnalysisResult, key string) string {
	v, ok := r.ExtraValue(key)
	if !ok {
		return missingValue
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return missingValue
		}
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	}
	return fmt.Sprint(v)
}

func extraList(r domain.AnalysisResult, key string) string {
	v, ok := r.ExtraValue(key)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}
