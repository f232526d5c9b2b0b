package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"evogate/internal/compare"
	"evogate/internal/validator"
)

// Record is one evolution log entry. Every evaluated candidate gets exactly one.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	EvaluationID string    `json:"evaluation_id"`
	Module       string    `json:"module"`

	OldComplexity int `json:"old_complexity"`
	NewComplexity int `json:"new_complexity"`

	ScoreImprovement       float64 `json:"score_improvement"`
	PerformanceImprovement float64 `json:"performance_improvement"`
	TotalImprovement       float64 `json:"total_improvement"`

	Decision      string `json:"decision"`
	Accepted      bool   `json:"accepted"`
	Indeterminate bool   `json:"indeterminate,omitempty"`
	// Reason is set when the candidate never reached comparison.
	Reason string `json:"reason,omitempty"`

	// Fingerprints identify the versions for audit only.
	OldFingerprint string `json:"old_fingerprint"`
	NewFingerprint string `json:"new_fingerprint"`
}

// DecisionRejectedUnsafe labels candidates stopped by the safety check.
const DecisionRejectedUnsafe = "reject_unsafe"

// Fingerprint returns the sha256 of code in hex.
func Fingerprint(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// NewRecord builds the log entry for a completed comparison.
func NewRecord(module, oldCode, newCode string, ev compare.Evaluation, now time.Time) Record {
	return Record{
		Timestamp:              now.UTC(),
		EvaluationID:           ev.ID,
		Module:                 module,
		OldComplexity:          validator.EstimateComplexity(oldCode),
		NewComplexity:          validator.EstimateComplexity(newCode),
		ScoreImprovement:       ev.ScoreImprovement,
		PerformanceImprovement: ev.PerformanceImprovement,
		TotalImprovement:       ev.TotalImprovement,
		Decision:               string(ev.Decision),
		Accepted:               ev.Accepted(),
		Indeterminate:          ev.Indeterminate,
		OldFingerprint:         Fingerprint(oldCode),
		NewFingerprint:         Fingerprint(newCode),
	}
}

// NewRejection builds the log entry for a candidate that failed validation.
func NewRejection(id, module, oldCode, newCode, reason string, now time.Time) Record {
	return Record{
		Timestamp:      now.UTC(),
		EvaluationID:   id,
		Module:         module,
		OldComplexity:  validator.EstimateComplexity(oldCode),
		NewComplexity:  validator.EstimateComplexity(newCode),
		Decision:       DecisionRejectedUnsafe,
		Reason:         reason,
		OldFingerprint: Fingerprint(oldCode),
		NewFingerprint: Fingerprint(newCode),
	}
}
