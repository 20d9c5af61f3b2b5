package recovery

import (
	"time"

	"github.com/google/uuid"
)

// All monetary amounts are integer minor units (paise). Splits are computed
// by subtraction from the total, never independently, so sums are exact.

// ClaimStatus enumerates the claim lifecycle states.
type ClaimStatus string

const (
	ClaimSubmitted         ClaimStatus = "submitted"
	ClaimUnderReview       ClaimStatus = "under_review"
	ClaimPendingDocuments  ClaimStatus = "pending_documents"
	ClaimApproved          ClaimStatus = "approved"
	ClaimPartiallyApproved ClaimStatus = "partially_approved"
	ClaimDenied            ClaimStatus = "denied"
	ClaimAppealed          ClaimStatus = "appealed"
	ClaimRecovered         ClaimStatus = "recovered"
	ClaimWrittenOff        ClaimStatus = "written_off"
)

// Terminal reports whether the status is absorbing: no event may move a
// claim out of it.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimRecovered || s == ClaimWrittenOff
}

var validClaimStatuses = map[ClaimStatus]bool{
	ClaimSubmitted: true, ClaimUnderReview: true, ClaimPendingDocuments: true,
	ClaimApproved: true, ClaimPartiallyApproved: true, ClaimDenied: true,
	ClaimAppealed: true, ClaimRecovered: true, ClaimWrittenOff: true,
}

// Claim maps to the claim table. Mutated only by the workflow orchestrator;
// never deleted, only transitioned to a terminal status.
type Claim struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	ClaimNumber     string      `db:"claim_number" json:"claim_number"`
	HospitalID      uuid.UUID   `db:"hospital_id" json:"hospital_id"`
	PayerID         uuid.UUID   `db:"payer_id" json:"payer_id"`
	PayerClaimRef   *string     `db:"payer_claim_ref" json:"payer_claim_ref,omitempty"`
	ClaimedAmount   int64       `db:"claimed_amount" json:"claimed_amount"`
	ApprovedAmount  int64       `db:"approved_amount" json:"approved_amount"`
	PaidAmount      int64       `db:"paid_amount" json:"paid_amount"`
	Status          ClaimStatus `db:"status" json:"status"`
	SubmittedAt     time.Time   `db:"submitted_at" json:"submitted_at"`
	StatusChangedAt time.Time   `db:"status_changed_at" json:"status_changed_at"`
	VersionID       int         `db:"version_id" json:"version_id"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// OutstandingAmount is derived on read, never stored.
func (c *Claim) OutstandingAmount() int64 { return c.ClaimedAmount - c.PaidAmount }

// AgedDays returns whole days since submission.
func (c *Claim) AgedDays(now time.Time) int {
	if now.Before(c.SubmittedAt) {
		return 0
	}
	return int(now.Sub(c.SubmittedAt).Hours() / 24)
}

// DenialCategory enumerates why a payer denied a claim.
type DenialCategory string

const (
	DenialMedicalNecessity    DenialCategory = "medical_necessity"
	DenialDocumentation       DenialCategory = "documentation_incomplete"
	DenialCodingError         DenialCategory = "coding_error"
	DenialEligibility         DenialCategory = "eligibility"
	DenialPolicyExclusion     DenialCategory = "policy_exclusion"
	DenialTariffDispute       DenialCategory = "tariff_dispute"
	DenialDuplicate           DenialCategory = "duplicate"
	DenialTimeLimitExceeded   DenialCategory = "time_limit_exceeded"
	DenialUnauthorizedService DenialCategory = "unauthorized_service"
	DenialOther               DenialCategory = "other"
)

var validDenialCategories = map[DenialCategory]bool{
	DenialMedicalNecessity: true, DenialDocumentation: true, DenialCodingError: true,
	DenialEligibility: true, DenialPolicyExclusion: true, DenialTariffDispute: true,
	DenialDuplicate: true, DenialTimeLimitExceeded: true, DenialUnauthorizedService: true,
	DenialOther: true,
}

// Denial maps to the denial table. Many denials may exist per claim over
// time; only the latest drives status. Immutable after creation except for
// the analysis fields (recovery probability, effort, priority score).
type Denial struct {
	ID                  uuid.UUID      `db:"id" json:"id"`
	ClaimID             uuid.UUID      `db:"claim_id" json:"claim_id"`
	Category            DenialCategory `db:"category" json:"category"`
	Amount              int64          `db:"amount" json:"amount"`
	DeniedAt            time.Time      `db:"denied_at" json:"denied_at"`
	RecoveryProbability *float64       `db:"recovery_probability" json:"recovery_probability,omitempty"`
	EffortScore         *int           `db:"effort_score" json:"effort_score,omitempty"`
	PriorityScore       *float64       `db:"priority_score" json:"priority_score,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
}

// AppealStatus enumerates the appeal lifecycle states.
type AppealStatus string

const (
	AppealDraft             AppealStatus = "draft"
	AppealSubmitted         AppealStatus = "submitted"
	AppealUnderReview       AppealStatus = "under_review"
	AppealInfoRequested     AppealStatus = "additional_info_requested"
	AppealAccepted          AppealStatus = "accepted"
	AppealPartiallyAccepted AppealStatus = "partially_accepted"
	AppealRejected          AppealStatus = "rejected"
	AppealWithdrawn         AppealStatus = "withdrawn"
)

// Terminal reports whether the appeal status is final. Once terminal, the
// record accepts no further transitions; a new appeal at a higher level must
// be created instead.
func (s AppealStatus) Terminal() bool {
	switch s {
	case AppealAccepted, AppealPartiallyAccepted, AppealRejected, AppealWithdrawn:
		return true
	}
	return false
}

// Successful reports whether the outcome counts as a recovery success for
// pattern learning.
func (s AppealStatus) Successful() bool {
	return s == AppealAccepted || s == AppealPartiallyAccepted
}

var validAppealStatuses = map[AppealStatus]bool{
	AppealDraft: true, AppealSubmitted: true, AppealUnderReview: true,
	AppealInfoRequested: true, AppealAccepted: true, AppealPartiallyAccepted: true,
	AppealRejected: true, AppealWithdrawn: true,
}

const MaxAppealLevel = 3

// Appeal maps to the appeal table. Status moves monotonically toward a
// terminal value; pattern_processed_at stamps the one-time aggregation so a
// re-read of an already-terminal appeal never re-triggers learning.
type Appeal struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	ClaimID            uuid.UUID    `db:"claim_id" json:"claim_id"`
	DenialID           *uuid.UUID   `db:"denial_id" json:"denial_id,omitempty"`
	Level              int          `db:"level" json:"level"`
	Status             AppealStatus `db:"status" json:"status"`
	OutcomeAmount      *int64       `db:"outcome_amount" json:"outcome_amount,omitempty"`
	SubmittedAt        *time.Time   `db:"submitted_at" json:"submitted_at,omitempty"`
	ResolvedAt         *time.Time   `db:"resolved_at" json:"resolved_at,omitempty"`
	PatternProcessedAt *time.Time   `db:"pattern_processed_at" json:"pattern_processed_at,omitempty"`
	VersionID          int          `db:"version_id" json:"version_id"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// PaymentStatus enumerates recovery transaction payment states.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentProcessed PaymentStatus = "processed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentDisputed  PaymentStatus = "disputed"
)

// paymentTransitions is the allowed payment-status graph:
// pending -> processed|failed, processed -> disputed.
var paymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:   {PaymentProcessed: true, PaymentFailed: true},
	PaymentProcessed: {PaymentDisputed: true},
}

// RecoveryTransaction maps to the recovery_transaction table. Created once
// per payment event; transaction_ref is the replay dedup key. The hard
// invariant fee_amount + hospital_amount == amount holds exactly.
type RecoveryTransaction struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	ClaimID        uuid.UUID     `db:"claim_id" json:"claim_id"`
	AppealID       *uuid.UUID    `db:"appeal_id" json:"appeal_id,omitempty"`
	TransactionRef string        `db:"transaction_ref" json:"transaction_ref"`
	Amount         int64         `db:"amount" json:"amount"`
	FeePercentage  float64       `db:"fee_percentage" json:"fee_percentage"`
	FeeAmount      int64         `db:"fee_amount" json:"fee_amount"`
	HospitalAmount int64         `db:"hospital_amount" json:"hospital_amount"`
	Method         *string       `db:"method" json:"method,omitempty"`
	PaymentStatus  PaymentStatus `db:"payment_status" json:"payment_status"`
	ProcessedAt    *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}
