package recovery

import "time"

// claimTransitions is the allowed review-path graph for administrative
// moves. Workflow events (denial, appeal, recovery) have their own guarded
// Apply functions below and are not routed through this table.
var claimTransitions = map[ClaimStatus]map[ClaimStatus]bool{
	ClaimSubmitted: {
		ClaimUnderReview: true, ClaimDenied: true, ClaimWrittenOff: true,
	},
	ClaimUnderReview: {
		ClaimPendingDocuments: true, ClaimApproved: true, ClaimPartiallyApproved: true,
		ClaimDenied: true, ClaimWrittenOff: true,
	},
	ClaimPendingDocuments: {
		ClaimUnderReview: true, ClaimApproved: true, ClaimPartiallyApproved: true,
		ClaimDenied: true, ClaimWrittenOff: true,
	},
	ClaimApproved: {
		ClaimRecovered: true, ClaimDenied: true, ClaimWrittenOff: true,
	},
	ClaimPartiallyApproved: {
		ClaimRecovered: true, ClaimDenied: true, ClaimWrittenOff: true,
	},
	ClaimDenied: {
		ClaimAppealed: true, ClaimWrittenOff: true,
	},
	ClaimAppealed: {
		ClaimRecovered: true, ClaimWrittenOff: true,
	},
	// Terminal statuses are absorbing.
	ClaimRecovered:  {},
	ClaimWrittenOff: {},
}

// CanTransition reports whether the review-path graph allows from -> to.
func CanTransition(from, to ClaimStatus) bool {
	return claimTransitions[from][to]
}

func setStatus(c *Claim, to ClaimStatus, now time.Time) {
	c.Status = to
	c.StatusChangedAt = now
}

// TransitionTo applies an administrative review-path move, rejecting
// anything outside the graph. Terminal statuses never transition out.
func TransitionTo(c *Claim, to ClaimStatus, now time.Time) error {
	if !validClaimStatuses[to] {
		return validationf("status", "unknown claim status %q", to)
	}
	if c.Status == to {
		return nil
	}
	if c.Status.Terminal() {
		return &TransitionRejectedError{
			EntityID: c.ID, Current: string(c.Status), Attempted: string(to),
			Reason: "claim status is terminal",
		}
	}
	if !CanTransition(c.Status, to) {
		return &TransitionRejectedError{
			EntityID: c.ID, Current: string(c.Status), Attempted: string(to),
			Reason: "not an allowed transition",
		}
	}
	setStatus(c, to, now)
	return nil
}

// ApplyDenial handles a DenialRecorded event. A denial after the claim was
// appealed or resolved is recorded for history but does not regress status;
// the bool result reports whether the status actually moved.
func ApplyDenial(c *Claim, now time.Time) bool {
	switch c.Status {
	case ClaimAppealed, ClaimRecovered, ClaimWrittenOff:
		return false
	}
	setStatus(c, ClaimDenied, now)
	return true
}

// ApplyAppealSubmitted handles an AppealSubmitted event. Allowed from any
// non-terminal status.
func ApplyAppealSubmitted(c *Claim, now time.Time) error {
	if c.Status.Terminal() {
		return &TransitionRejectedError{
			EntityID: c.ID, Current: string(c.Status), Attempted: string(ClaimAppealed),
			Reason: "claim status is terminal",
		}
	}
	if c.Status != ClaimAppealed {
		setStatus(c, ClaimAppealed, now)
	}
	return nil
}

// ApplyAppealOutcome handles a terminal accepted/partially_accepted appeal:
// the claim moves to recovered and approved is set to the outcome amount.
// Re-applying the same outcome is idempotent and reports changed=false.
func ApplyAppealOutcome(c *Claim, outcomeAmount int64, now time.Time) (changed bool, err error) {
	if outcomeAmount < 0 || outcomeAmount > c.ClaimedAmount {
		return false, validationf("outcome_amount",
			"must be between 0 and claimed amount %d, got %d", c.ClaimedAmount, outcomeAmount)
	}
	if c.Status == ClaimRecovered && c.ApprovedAmount == outcomeAmount {
		return false, nil
	}
	if c.Status == ClaimWrittenOff {
		return false, &TransitionRejectedError{
			EntityID: c.ID, Current: string(c.Status), Attempted: string(ClaimRecovered),
			Reason: "claim is written off",
		}
	}
	c.ApprovedAmount = outcomeAmount
	if c.Status != ClaimRecovered {
		setStatus(c, ClaimRecovered, now)
	}
	return true, nil
}

// ApplyRecovery handles a processed recovery transaction: paid accrues the
// amount and the claim closes as recovered once fully paid. The caller is
// responsible for transaction-ref dedup; the guards here keep paid within
// the claimed amount and reject out-of-order payments that arrive before
// the payer's decision, so the caller can retry once the missing event
// lands.
func ApplyRecovery(c *Claim, amount int64, now time.Time) error {
	if amount <= 0 {
		return validationf("amount", "must be positive, got %d", amount)
	}
	if c.Status == ClaimWrittenOff {
		return &TransitionRejectedError{
			EntityID: c.ID, Current: string(c.Status), Attempted: string(ClaimRecovered),
			Reason: "claim is written off",
		}
	}
	switch c.Status {
	case ClaimSubmitted, ClaimUnderReview, ClaimPendingDocuments:
		return &TransitionRejectedError{
			EntityID: c.ID, Current: string(c.Status), Attempted: string(ClaimRecovered),
			Reason: "no payer decision recorded yet",
		}
	}
	if c.PaidAmount+amount > c.ClaimedAmount {
		return validationf("amount",
			"payment of %d exceeds outstanding amount %d", amount, c.OutstandingAmount())
	}
	c.PaidAmount += amount
	if c.PaidAmount >= c.ClaimedAmount && c.Status != ClaimRecovered {
		setStatus(c, ClaimRecovered, now)
	}
	return nil
}

// appealTransitions is the monotonic appeal-status graph. Terminal statuses
// have no outgoing edges.
var appealTransitions = map[AppealStatus]map[AppealStatus]bool{
	AppealDraft: {
		AppealSubmitted: true, AppealWithdrawn: true,
	},
	AppealSubmitted: {
		AppealUnderReview: true, AppealInfoRequested: true,
		AppealAccepted: true, AppealPartiallyAccepted: true,
		AppealRejected: true, AppealWithdrawn: true,
	},
	AppealUnderReview: {
		AppealInfoRequested: true,
		AppealAccepted:      true, AppealPartiallyAccepted: true,
		AppealRejected: true, AppealWithdrawn: true,
	},
	AppealInfoRequested: {
		AppealUnderReview: true,
		AppealAccepted:    true, AppealPartiallyAccepted: true,
		AppealRejected: true, AppealWithdrawn: true,
	},
}

// TransitionAppeal moves an appeal along the monotonic status graph.
func TransitionAppeal(a *Appeal, to AppealStatus, now time.Time) error {
	if !validAppealStatuses[to] {
		return validationf("status", "unknown appeal status %q", to)
	}
	if a.Status == to {
		return nil
	}
	if a.Status.Terminal() {
		return &TransitionRejectedError{
			EntityID: a.ID, Current: string(a.Status), Attempted: string(to),
			Reason: "appeal status is terminal; open a higher-level appeal instead",
		}
	}
	if !appealTransitions[a.Status][to] {
		return &TransitionRejectedError{
			EntityID: a.ID, Current: string(a.Status), Attempted: string(to),
			Reason: "not an allowed transition",
		}
	}
	a.Status = to
	if to == AppealSubmitted && a.SubmittedAt == nil {
		a.SubmittedAt = &now
	}
	if to.Terminal() {
		a.ResolvedAt = &now
	}
	return nil
}

// TransitionPayment moves a recovery transaction along the payment graph.
func TransitionPayment(t *RecoveryTransaction, to PaymentStatus, now time.Time) error {
	if t.PaymentStatus == to {
		return nil
	}
	if !paymentTransitions[t.PaymentStatus][to] {
		return &TransitionRejectedError{
			EntityID: t.ID, Current: string(t.PaymentStatus), Attempted: string(to),
			Reason: "not an allowed payment transition",
		}
	}
	t.PaymentStatus = to
	if to == PaymentProcessed {
		t.ProcessedAt = &now
	}
	return nil
}
