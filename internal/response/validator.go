// Package response turns the model's free-form completion into a validated
// analysis result.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
)

// MsgNoJSON is reported when no extractor finds a JSON object.
const MsgNoJSON = "No JSON found in AI response"

// requiredFields are checked in this order; the first missing one is named.
var requiredFields = []string{"score", "narrative", "certainty", "risk_factors", "indicators", "reasoning"}

const resultSchemaJSON = `{
  "type": "object",
  "properties": {
    "score":        {"type": "integer"},
    "certainty":    {"type": "integer"},
    "narrative":    {"type": "string"},
    "reasoning":    {"type": "string"},
    "risk_factors": {"type": "array", "items": {"type": "string"}},
    "indicators":   {"type": "array", "items": {"type": "string"}}
  }
}`

var resultSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(resultSchemaJSON))
})

var fencedJSON = regexp.MustCompile("(?is)```json\\s*(.*?)```")

// extractor proposes a candidate JSON slice from raw text.
type extractor func(raw string) (string, bool)

var extractors = []extractor{
	fencedBlock,
	wholeText,
	braceSlice,
}

// bounds carries the range-checked fields.
type bounds struct {
	Score     float64 `validate:"min=0,max=100"`
	Certainty float64 `validate:"min=1,max=100"`
}

var boundNames = map[string]string{"Score": "score", "Certainty": "certainty"}

// Validator parses and validates completions. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// New returns a Validator.
func New() *Validator {
	return &Validator{validate: validator.New(), now: time.Now}
}

// Validate extracts the JSON object from raw, checks it and attaches meta. No
// partial result is ever returned alongside an error.
func (v *Validator) Validate(raw string, meta domain.CycleMetadata) (domain.AnalysisResult, error) {
	body, obj, ok := extract(raw)
	if !ok {
		return domain.AnalysisResult{}, domain.Errorf(domain.ErrParse, MsgNoJSON)
	}

	for _, f := range requiredFields {
		if val, present := obj[f]; !present || val == nil {
			return domain.AnalysisResult{}, domain.Errorf(domain.ErrValidation, "Missing required field: %s", f)
		}
	}

	if err := checkTypes(body); err != nil {
		return domain.AnalysisResult{}, err
	}

	score, _ := asFloat(obj["score"])
	certainty, _ := asFloat(obj["certainty"])
	if err := v.checkRanges(bounds{Score: score, Certainty: certainty}); err != nil {
		return domain.AnalysisResult{}, err
	}

	result := domain.AnalysisResult{
		Score:       int(math.Round(score)),
		Narrative:   obj["narrative"].(string),
		Certainty:   int(math.Round(certainty)),
		RiskFactors: asStrings(obj["risk_factors"]),
		Indicators:  asStrings(obj["indicators"]),
		Reasoning:   obj["reasoning"].(string),
		Timestamp:   v.now().UTC(),
		Metadata:    meta,
	}
	for k, val := range obj {
		if isRequired(k) || k == "timestamp" || k == "metadata" {
			continue
		}
		if result.Extra == nil {
			result.Extra = make(map[string]any)
		}
		result.Extra[k] = plainNumbers(val)
	}
	return result, nil
}

func extract(raw string) ([]byte, map[string]any, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil, false
	}
	for _, ex := range extractors {
		candidate, ok := ex(raw)
		if !ok {
			continue
		}
		if obj, ok := parseObject(candidate); ok {
			return []byte(candidate), obj, true
		}
	}
	return nil, nil, false
}

func fencedBlock(raw string) (string, bool) {
	m := fencedJSON.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func wholeText(raw string) (string, bool) {
	return strings.TrimSpace(raw), true
}

func braceSlice(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// parseObject accepts exactly one JSON object with nothing trailing.
func parseObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return obj, true
}

func checkTypes(body []byte) error {
	schema, err := resultSchema()
	if err != nil {
		return domain.NewError(domain.ErrValidation, "result schema unavailable", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(bytes.TrimSpace(body)))
	if err != nil {
		return domain.NewError(domain.ErrParse, MsgNoJSON, err)
	}
	if res.Valid() {
		return nil
	}

	errs := res.Errors()
	for _, f := range requiredFields {
		for _, desc := range errs {
			field := desc.Field()
			if field == f || strings.HasPrefix(field, f+".") {
				return domain.Errorf(domain.ErrValidation, "Invalid field type: %s: %s", f, desc.Description())
			}
		}
	}
	return domain.Errorf(domain.ErrValidation, "Invalid field type: %s", errs[0].Description())
}

func (v *Validator) checkRanges(b bounds) error {
	err := v.validate.Struct(b)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewError(domain.ErrValidation, "range check failed", err)
	}

	fe := fieldErrs[0]
	name := boundNames[fe.Field()]
	switch fe.Tag() {
	case "min":
		return domain.Errorf(domain.ErrValidation, "%s below minimum %s", name, fe.Param())
	case "max":
		return domain.Errorf(domain.ErrValidation, "%s above maximum %s", name, fe.Param())
	}
	return domain.Errorf(domain.ErrValidation, "%s out of range", name)
}

func isRequired(k string) bool {
	for _, f := range requiredFields {
		if f == k {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}

func asStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// plainNumbers converts decoder numbers to float64 so preserved fields look
// the same whether they came from the model or from storage.
func plainNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = plainNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plainNumbers(item)
		}
		return out
	}
	return v
}

