package errors

import (
	"encoding/json"
	"errors"

	"github.com/sunholo/swiftinc/internal/schema"
)

// Report is the canonical structured error type for swiftinc. Every
// error-producing boundary (bitstream decode, integrator, planner,
// scheduler) returns *Report so callers can distinguish recoverable
// format/operational errors from the logic-bug SEM class (§7).
type Report struct {
	Schema  string         `json:"schema"`
	Code    string         `json:"code"`
	Phase   string         `json:"phase"`
	Message string         `json:"message"`
	Input   string         `json:"input,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Fix     *Fix           `json:"fix,omitempty"`
}

// ReportError wraps a Report as an error so it survives errors.As()
// unwrapping through ordinary %w-wrapping call chains.
type ReportError struct {
	Rep *Report
}

// Error implements the error interface.
func (e *ReportError) Error() string {
	if e.Rep == nil {
		return "unknown error"
	}
	return e.Rep.Code + ": " + e.Rep.Message
}

// AsReport attempts to extract a Report from an error chain.
func AsReport(err error) (*Report, bool) {
	var re *ReportError
	if errors.As(err, &re) {
		return re.Rep, true
	}
	return nil, false
}

// WrapReport wraps a Report as an error.
func WrapReport(r *Report) error {
	if r == nil {
		return nil
	}
	return &ReportError{Rep: r}
}

// ToJSON converts a Report to JSON (deterministic: fields in
// declaration order, Data keys sorted).
func (r *Report) ToJSON(compact bool) (string, error) {
	var data []byte
	var err error

	if compact {
		data, err = json.Marshal(r)
	} else {
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewReport creates a structured report for the given phase/code.
func NewReport(phase, code, message string) *Report {
	return &Report{
		Schema:  schema.ErrorV1,
		Code:    code,
		Phase:   phase,
		Message: message,
	}
}

// WithData attaches structured context data to the report.
func (r *Report) WithData(key string, value any) *Report {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data[key] = value
	return r
}

// WithInput records which input path this report concerns.
func (r *Report) WithInput(input string) *Report {
	r.Input = input
	return r
}

// NewGeneric creates a generic error report for an unstructured cause.
func NewGeneric(phase string, err error) *Report {
	return &Report{
		Schema:  schema.ErrorV1,
		Code:    "ERR000",
		Phase:   phase,
		Message: err.Error(),
		Data:    map[string]any{},
	}
}
