// Package knowledge maintains the per-payer outcome statistics the recovery
// workflow learns from. Patterns are running aggregates (counts, rates,
// averages), created on first observation of a key and updated incrementally
// on every terminal appeal outcome sharing that key; they are never deleted.
package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// PatternType groups pattern keys by what they measure.
type PatternType string

const (
	// PatternAppealSuccess keys outcomes by appeal level ("appeal_level_1" ...).
	PatternAppealSuccess PatternType = "appeal_success_factor"
	// PatternDenialCategory keys outcomes by the denial category appealed.
	PatternDenialCategory PatternType = "denial_category"
)

// confidenceSaturation controls how fast confidence approaches 1.0 with
// occurrence count. At n observations confidence is n/(n+10).
const confidenceSaturation = 10

// Confidence returns the bounded, monotonically increasing confidence for a
// pattern with n observations.
func Confidence(n int64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(n+confidenceSaturation)
}

// Pattern maps to the knowledge_pattern table. One record per
// (payer_id, pattern_type, pattern_key); success_rate is always derived,
// never stored independently.
type Pattern struct {
	ID                  uuid.UUID   `db:"id" json:"id"`
	PayerID             uuid.UUID   `db:"payer_id" json:"payer_id"`
	Type                PatternType `db:"pattern_type" json:"pattern_type"`
	Key                 string      `db:"pattern_key" json:"pattern_key"`
	OccurrenceCount     int64       `db:"occurrence_count" json:"occurrence_count"`
	SuccessCount        int64       `db:"success_count" json:"success_count"`
	AvgRecoveryAmount   float64     `db:"avg_recovery_amount" json:"avg_recovery_amount"`
	TotalRecoveryAmount int64       `db:"total_recovery_amount" json:"total_recovery_amount"`
	ConfidenceLevel     float64     `db:"confidence_level" json:"confidence_level"`
	VersionID           int         `db:"version_id" json:"version_id"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`
}

// SuccessRate is derived on read from the stored counts.
func (p *Pattern) SuccessRate() float64 {
	if p.OccurrenceCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.OccurrenceCount)
}

// Outcome is one terminal appeal result to be absorbed into a pattern.
type Outcome struct {
	PayerID         uuid.UUID
	Type            PatternType
	Key             string
	Success         bool
	RecoveredAmount int64
}

// apply folds one outcome into the pattern's running statistics.
func (p *Pattern) apply(o Outcome) {
	oldCount := p.OccurrenceCount
	newCount := oldCount + 1

	p.OccurrenceCount = newCount
	if o.Success {
		p.SuccessCount++
	}
	p.AvgRecoveryAmount = (p.AvgRecoveryAmount*float64(oldCount) + float64(o.RecoveredAmount)) / float64(newCount)
	p.TotalRecoveryAmount += o.RecoveredAmount
	p.ConfidenceLevel = Confidence(newCount)
}

// newPattern creates the first record for a key from its first outcome.
func newPattern(o Outcome) *Pattern {
	p := &Pattern{
		ID:      uuid.New(),
		PayerID: o.PayerID,
		Type:    o.Type,
		Key:     o.Key,
	}
	p.apply(o)
	return p
}
