package recovery

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestClaim(status ClaimStatus, claimed int64) *Claim {
	now := time.Now()
	return &Claim{
		ID:              uuid.New(),
		ClaimNumber:     "CLM-001",
		HospitalID:      uuid.New(),
		PayerID:         uuid.New(),
		ClaimedAmount:   claimed,
		Status:          status,
		SubmittedAt:     now.Add(-48 * time.Hour),
		StatusChangedAt: now,
	}
}

func TestTransitionTo(t *testing.T) {
	now := time.Now()
	allowed := []struct {
		from, to ClaimStatus
	}{
		{ClaimSubmitted, ClaimUnderReview},
		{ClaimUnderReview, ClaimPendingDocuments},
		{ClaimPendingDocuments, ClaimUnderReview},
		{ClaimUnderReview, ClaimApproved},
		{ClaimUnderReview, ClaimPartiallyApproved},
		{ClaimApproved, ClaimRecovered},
		{ClaimDenied, ClaimAppealed},
		{ClaimDenied, ClaimWrittenOff},
		{ClaimAppealed, ClaimWrittenOff},
	}
	for _, tt := range allowed {
		c := newTestClaim(tt.from, 100000)
		if err := TransitionTo(c, tt.to, now); err != nil {
			t.Errorf("TransitionTo(%s, %s) = %v, want nil", tt.from, tt.to, err)
		}
		if c.Status != tt.to {
			t.Errorf("status = %s, want %s", c.Status, tt.to)
		}
	}

	rejected := []struct {
		from, to ClaimStatus
	}{
		{ClaimSubmitted, ClaimApproved},
		{ClaimSubmitted, ClaimRecovered},
		{ClaimApproved, ClaimUnderReview},
		{ClaimRecovered, ClaimDenied},
		{ClaimRecovered, ClaimUnderReview},
		{ClaimWrittenOff, ClaimSubmitted},
	}
	for _, tt := range rejected {
		c := newTestClaim(tt.from, 100000)
		if err := TransitionTo(c, tt.to, now); !IsTransitionRejected(err) {
			t.Errorf("TransitionTo(%s, %s) = %v, want transition rejection", tt.from, tt.to, err)
		}
		if c.Status != tt.from {
			t.Errorf("status moved to %s on rejected transition", c.Status)
		}
	}
}

func TestTransitionToSameStatusNoop(t *testing.T) {
	c := newTestClaim(ClaimUnderReview, 100000)
	before := c.StatusChangedAt
	if err := TransitionTo(c, ClaimUnderReview, time.Now()); err != nil {
		t.Fatalf("same-status transition: %v", err)
	}
	if !c.StatusChangedAt.Equal(before) {
		t.Error("status_changed_at moved on no-op transition")
	}
}

func TestTransitionToUnknownStatus(t *testing.T) {
	c := newTestClaim(ClaimSubmitted, 100000)
	if err := TransitionTo(c, ClaimStatus("bogus"), time.Now()); !IsValidation(err) {
		t.Errorf("unknown status = %v, want validation error", err)
	}
}

func TestApplyDenial(t *testing.T) {
	now := time.Now()

	c := newTestClaim(ClaimUnderReview, 100000)
	if !ApplyDenial(c, now) {
		t.Error("denial from under_review should move status")
	}
	if c.Status != ClaimDenied {
		t.Errorf("status = %s, want denied", c.Status)
	}

	// A late denial must not regress an appealed or resolved claim.
	for _, status := range []ClaimStatus{ClaimAppealed, ClaimRecovered, ClaimWrittenOff} {
		c := newTestClaim(status, 100000)
		if ApplyDenial(c, now) {
			t.Errorf("denial from %s should not move status", status)
		}
		if c.Status != status {
			t.Errorf("status = %s, want %s", c.Status, status)
		}
	}
}

func TestApplyAppealSubmitted(t *testing.T) {
	now := time.Now()

	c := newTestClaim(ClaimDenied, 100000)
	if err := ApplyAppealSubmitted(c, now); err != nil {
		t.Fatalf("appeal from denied: %v", err)
	}
	if c.Status != ClaimAppealed {
		t.Errorf("status = %s, want appealed", c.Status)
	}

	for _, status := range []ClaimStatus{ClaimRecovered, ClaimWrittenOff} {
		c := newTestClaim(status, 100000)
		if err := ApplyAppealSubmitted(c, now); !IsTransitionRejected(err) {
			t.Errorf("appeal from %s = %v, want transition rejection", status, err)
		}
	}
}

func TestApplyAppealOutcome(t *testing.T) {
	now := time.Now()

	c := newTestClaim(ClaimAppealed, 125000)
	changed, err := ApplyAppealOutcome(c, 100000, now)
	if err != nil || !changed {
		t.Fatalf("outcome apply: changed=%v err=%v", changed, err)
	}
	if c.Status != ClaimRecovered || c.ApprovedAmount != 100000 {
		t.Errorf("claim = %s/%d, want recovered/100000", c.Status, c.ApprovedAmount)
	}

	// Replaying the same outcome is a no-op.
	changed, err = ApplyAppealOutcome(c, 100000, now)
	if err != nil || changed {
		t.Errorf("replay: changed=%v err=%v, want false/nil", changed, err)
	}

	// Outcome above the claimed amount is invalid.
	c2 := newTestClaim(ClaimAppealed, 125000)
	if _, err := ApplyAppealOutcome(c2, 125001, now); !IsValidation(err) {
		t.Errorf("oversized outcome = %v, want validation error", err)
	}

	// A written-off claim never resurrects.
	c3 := newTestClaim(ClaimWrittenOff, 125000)
	if _, err := ApplyAppealOutcome(c3, 50000, now); !IsTransitionRejected(err) {
		t.Errorf("outcome on written_off = %v, want transition rejection", err)
	}
}

func TestApplyRecovery(t *testing.T) {
	now := time.Now()
	c := newTestClaim(ClaimAppealed, 100000)

	if err := ApplyRecovery(c, 60000, now); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if c.PaidAmount != 60000 || c.Status != ClaimAppealed {
		t.Errorf("after partial payment: paid=%d status=%s", c.PaidAmount, c.Status)
	}

	if err := ApplyRecovery(c, 50000, now); !IsValidation(err) {
		t.Errorf("overpayment = %v, want validation error", err)
	}

	if err := ApplyRecovery(c, 40000, now); err != nil {
		t.Fatalf("final payment: %v", err)
	}
	if c.PaidAmount != 100000 || c.Status != ClaimRecovered {
		t.Errorf("after full payment: paid=%d status=%s", c.PaidAmount, c.Status)
	}
	if c.OutstandingAmount() != 0 {
		t.Errorf("outstanding = %d, want 0", c.OutstandingAmount())
	}
}

func TestTransitionAppeal(t *testing.T) {
	now := time.Now()
	a := &Appeal{ID: uuid.New(), ClaimID: uuid.New(), Level: 1, Status: AppealDraft}

	if err := TransitionAppeal(a, AppealSubmitted, now); err != nil {
		t.Fatalf("draft -> submitted: %v", err)
	}
	if a.SubmittedAt == nil {
		t.Error("submitted_at not stamped")
	}
	if err := TransitionAppeal(a, AppealUnderReview, now); err != nil {
		t.Fatalf("submitted -> under_review: %v", err)
	}
	if err := TransitionAppeal(a, AppealAccepted, now); err != nil {
		t.Fatalf("under_review -> accepted: %v", err)
	}
	if a.ResolvedAt == nil {
		t.Error("resolved_at not stamped on terminal status")
	}

	// Terminal appeals accept nothing further.
	if err := TransitionAppeal(a, AppealRejected, now); !IsTransitionRejected(err) {
		t.Errorf("transition out of accepted = %v, want rejection", err)
	}

	// Withdrawal is allowed straight from draft.
	b := &Appeal{ID: uuid.New(), ClaimID: uuid.New(), Level: 1, Status: AppealDraft}
	if err := TransitionAppeal(b, AppealWithdrawn, now); err != nil {
		t.Fatalf("draft -> withdrawn: %v", err)
	}

	// Draft cannot jump to accepted.
	d := &Appeal{ID: uuid.New(), ClaimID: uuid.New(), Level: 1, Status: AppealDraft}
	if err := TransitionAppeal(d, AppealAccepted, now); !IsTransitionRejected(err) {
		t.Errorf("draft -> accepted = %v, want rejection", err)
	}
}

func TestTransitionPayment(t *testing.T) {
	now := time.Now()
	tx := &RecoveryTransaction{ID: uuid.New(), PaymentStatus: PaymentPending}

	if err := TransitionPayment(tx, PaymentProcessed, now); err != nil {
		t.Fatalf("pending -> processed: %v", err)
	}
	if tx.ProcessedAt == nil {
		t.Error("processed_at not stamped")
	}
	if err := TransitionPayment(tx, PaymentDisputed, now); err != nil {
		t.Fatalf("processed -> disputed: %v", err)
	}
	if err := TransitionPayment(tx, PaymentPending, now); !IsTransitionRejected(err) {
		t.Errorf("disputed -> pending = %v, want rejection", err)
	}

	failed := &RecoveryTransaction{ID: uuid.New(), PaymentStatus: PaymentFailed}
	if err := TransitionPayment(failed, PaymentProcessed, now); !IsTransitionRejected(err) {
		t.Errorf("failed -> processed = %v, want rejection", err)
	}
}
