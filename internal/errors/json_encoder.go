package errors

import (
	"fmt"

	"github.com/sunholo/swiftinc/internal/schema"
)

// Fix represents a suggested remediation with a confidence score.
type Fix struct {
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
}

// Encoded represents a structured error in JSON form, suitable for a
// JSON reporter sink or CI log scraping.
type Encoded struct {
	Schema  string      `json:"schema"`
	Code    string      `json:"code"`
	Phase   string      `json:"phase"`
	Message string      `json:"message"`
	Fix     Fix         `json:"fix"`
	Context interface{} `json:"context,omitempty"`
	Input   string      `json:"input,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// New creates an encoded error for the given phase ("planner",
// "integrator", "tracer", "scheduler", "bitstream", "buildrecord").
func New(phase, code, msg string, ctx interface{}) Encoded {
	return Encoded{
		Schema:  schema.ErrorV1,
		Phase:   phase,
		Code:    code,
		Message: msg,
		Fix:     Fix{},
		Context: ctx,
	}
}

// WithFix adds a remediation suggestion to the error.
func (e Encoded) WithFix(suggestion string, confidence float64) Encoded {
	e.Fix = Fix{Suggestion: suggestion, Confidence: confidence}
	return e
}

// WithInput records which input path this error concerns.
func (e Encoded) WithInput(input string) Encoded {
	e.Input = input
	return e
}

// ToJSON converts the error to deterministic JSON.
func (e Encoded) ToJSON() ([]byte, error) {
	data, err := schema.MarshalDeterministic(e)
	if err != nil {
		fallback := Encoded{
			Schema:  schema.ErrorV1,
			Message: "encoding failed",
			Meta:    map[string]string{"original_error": err.Error()},
		}
		return schema.MarshalDeterministic(fallback)
	}
	return schema.FormatJSON(data)
}

// SafeEncodeError encodes any error without ever panicking, falling
// back to a generic ERR000 envelope if err doesn't carry a Report.
func SafeEncodeError(err error, phase string) []byte {
	if err == nil {
		return nil
	}
	if rep, ok := AsReport(err); ok {
		encoded := New(phase, rep.Code, rep.Message, rep.Data)
		data, _ := encoded.ToJSON()
		return data
	}
	encoded := New(phase, "ERR000", err.Error(), nil)
	data, _ := encoded.ToJSON()
	return data
}

// FormatLocation formats a source location as "path" or
// "path (input <input>)".
func FormatLocation(path, input string) string {
	if input == "" {
		return path
	}
	return fmt.Sprintf("%s (input %s)", path, input)
}
