package cvoptimise

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("optimisation not found or you do not have permission to view it")
	ErrAnalysisFailed = errors.New("we couldn't analyse your CV right now, please try again in a few minutes")
)

type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// NormaliseImpact maps free text onto the three impact levels, defaulting to medium.
func NormaliseImpact(s string) Impact {
	switch Impact(strings.ToLower(strings.TrimSpace(s))) {
	case ImpactHigh:
		return ImpactHigh
	case ImpactLow:
		return ImpactLow
	}
	return ImpactMedium
}

type Optimisation struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	CVText         string        `json:"cv_text"`
	JobDescription string        `json:"job_description"`
	OverallScore   int           `json:"overall_score"`
	CreatedAt      time.Time     `json:"created_at"`
	Metadata       Metadata      `json:"metadata"`
	Improvements   []Improvement `json:"improvements"`
}

type Improvement struct {
	ID               string      `json:"id,omitempty"`
	Section          string      `json:"section"`
	Score            int         `json:"score"`
	Impact           Impact      `json:"impact"`
	Context          string      `json:"context,omitempty"`
	Suggestions      Suggestions `json:"suggestions"`
	OptimisedContent string      `json:"optimised_content,omitempty"`
}

type AnalysisResult struct {
	OverallScore int           `json:"overall_score"`
	Improvements []Improvement `json:"improvements"`
}

type Metadata struct {
	TokenCount     int           `json:"token_count,omitempty"`
	ProcessingTime time.Duration `json:"-"`
	ModelVersion   string        `json:"model_version,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	type alias Metadata
	return json.Marshal(struct {
		alias
		ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`
	}{alias(m), m.ProcessingTime.Milliseconds()})
}

// Suggestions is always a list once decoded. Rows written by older clients hold
// the list JSON-encoded inside a string, or a bare string. Elements of a list
// are kept exactly as written so a stored list reads back unchanged.
type Suggestions []string

const maxSuggestionDecodeDepth = 3

func ParseSuggestions(raw []byte) Suggestions {
	out := Suggestions{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return append(out, string(raw))
	}
	return append(out, suggestionsFromValue(v, 0)...)
}

// suggestionsFromValue unwraps whole-column string encodings up to
// maxSuggestionDecodeDepth. It never looks inside list elements.
func suggestionsFromValue(v interface{}, depth int) []string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if depth < maxSuggestionDecodeDepth && (s[0] == '[' || s[0] == '"') {
			var inner interface{}
			if err := json.Unmarshal([]byte(s), &inner); err == nil {
				return suggestionsFromValue(inner, depth+1)
			}
		}
		return []string{s}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if e, ok := suggestionElement(item); ok {
				out = append(out, e)
			}
		}
		return out
	}
	if e, ok := suggestionElement(v); ok {
		return []string{e}
	}
	return nil
}

func suggestionElement(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func (s *Suggestions) UnmarshalJSON(data []byte) error {
	*s = ParseSuggestions(data)
	return nil
}

func (s Suggestions) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// Scan implements sql.Scanner
func (s *Suggestions) Scan(src interface{}) error {
	switch t := src.(type) {
	case []byte:
		*s = ParseSuggestions(t)
	case string:
		*s = ParseSuggestions([]byte(t))
	case nil:
		*s = Suggestions{}
	default:
		return errors.New("unsupported suggestions column type")
	}
	return nil
}

// Value stores the list as a JSON string
func (s Suggestions) Value() (driver.Value, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
