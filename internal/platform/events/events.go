// Package events carries the workflow engine's outbound event contracts.
// External consumers (dashboards, notification senders, reporting
// projections) subscribe to these; the core never reads its own events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types produced by the workflow orchestrator.
const (
	TypeClaimStatusChanged = "claim.status_changed"
	TypeRecoveryProcessed  = "recovery.processed"
	TypePatternUpdated     = "pattern.updated"
)

// Event is the envelope every outbound event travels in.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ClaimStatusChanged is emitted after a claim's status transition commits.
type ClaimStatusChanged struct {
	ClaimID   uuid.UUID `json:"claim_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
}

// RecoveryProcessed is emitted after a recovery transaction is applied to a
// claim, carrying the gain-share split.
type RecoveryProcessed struct {
	ClaimID        uuid.UUID `json:"claim_id"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	FeeAmount      int64     `json:"fee_amount"`
	HospitalAmount int64     `json:"hospital_amount"`
}

// PatternUpdated is emitted after a knowledge pattern absorbs a terminal
// appeal outcome.
type PatternUpdated struct {
	PayerID     uuid.UUID `json:"payer_id"`
	PatternType string    `json:"pattern_type"`
	PatternKey  string    `json:"pattern_key"`
	SuccessRate float64   `json:"success_rate"`
}

// Publisher delivers events to external consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// New wraps a payload in an Event envelope.
func New(eventType string, payload interface{}) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}
