// Package reliability defines the trust-scoring types: normalized domains,
// evaluation outcomes and the persisted reliability record.
package reliability

import (
	"net"
	"strings"
	"time"
)

// Outcome classifies a resolution attempt for a domain.
type Outcome string

const (
	// OutcomeScored means consensus was reached and a score is present.
	OutcomeScored Outcome = "scored"
	// OutcomeFiltered means the importance filter skipped evaluation.
	OutcomeFiltered Outcome = "filtered"
	// OutcomeInconclusive means evaluators failed, disagreed, or were not
	// confident enough. Cached briefly so a retry can self-correct.
	OutcomeInconclusive Outcome = "inconclusive"
)

// Evaluation is one evaluator's raw judgment of a domain.
type Evaluation struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Assessment is the consensus answer returned to callers.
// Absence (a nil *Assessment) means "unknown/neutral", never zero.
type Assessment struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Record is the persisted form of one resolution attempt.
// Score is set only when Outcome is OutcomeScored.
type Record struct {
	Domain      string    `json:"domain"`
	Score       *float64  `json:"score,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Assessment converts a scored record to the caller-facing form.
// Returns nil for filtered and inconclusive records.
func (r *Record) Assessment() *Assessment {
	if r.Outcome != OutcomeScored || r.Score == nil {
		return nil
	}
	return &Assessment{Score: *r.Score, Confidence: r.Confidence}
}

// NormalizeDomain reduces a raw domain or URL to a bare lowercase host:
// scheme, path, query, port and a leading "www." are stripped.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.TrimPrefix(s, "www.")
}
