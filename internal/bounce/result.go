package bounce

import (
	"encoding/json"
	"strings"
)

// Result is the outcome of one detection. It is not modified after it is
// returned.
type Result struct {
	Matches *MatchMap
	Headers *HeaderMap // registered headers found in the message
	Score   float64
	Bounced bool
	Max     int // score denominator
}

// Recipient returns the failed recipient address reported by the message,
// or "" when no recipient header matched
func (r *Result) Recipient() string {
	if m := r.Matches.Get("final-recipient"); len(m) > 0 && len(m[0].Groups) > 2 {
		return strings.TrimSpace(m[0].Groups[2])
	}
	if m := r.Matches.Get("x-failed-recipients"); len(m) > 0 && len(m[0].Groups) > 1 {
		return strings.TrimSpace(m[0].Groups[1])
	}
	return ""
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Matches   *MatchMap           `json:"matches"`
		Headers   map[string][]string `json:"headers"`
		Score     float64             `json:"score"`
		Bounced   bool                `json:"bounced"`
		Recipient string              `json:"recipient,omitempty"`
	}{r.Matches, r.Headers.Map(), r.Score, r.Bounced, r.Recipient()})
}

// Outcome is delivered once per asynchronous detection: either Result or Err
// is set, never both
type Outcome struct {
	Result *Result
	Err    error
}
