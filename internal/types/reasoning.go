package types

import (
	"encoding/json"
	"strings"
)

// NoTraceSentinel is the value the backend writes when it produced no reasoning trace.
const NoTraceSentinel = "[No trace detected]"

// Reasoning is an optional auxiliary trace. Absent, blank and the sentinel
// value all normalize to "nothing to show".
type Reasoning struct {
	text string
	ok   bool
}

// NewReasoning normalizes s into a Reasoning value.
func NewReasoning(s string) Reasoning {
	if strings.TrimSpace(s) == "" || s == NoTraceSentinel {
		return Reasoning{}
	}
	return Reasoning{text: s, ok: true}
}

// Text returns the trace and whether there is one to show.
func (r Reasoning) Text() (string, bool) { return r.text, r.ok }

// Present reports whether there is a trace to show.
func (r Reasoning) Present() bool { return r.ok }

// MarshalJSON encodes an absent trace as null.
func (r Reasoning) MarshalJSON() ([]byte, error) {
	if !r.ok {
		return []byte("null"), nil
	}
	return json.Marshal(r.text)
}

// UnmarshalJSON accepts a string or null.
func (r *Reasoning) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil {
		*r = Reasoning{}
		return nil
	}
	*r = NewReasoning(*s)
	return nil
}
