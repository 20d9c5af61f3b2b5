package recovery

import (
	"testing"
	"time"
)

func TestClaimDerivedFields(t *testing.T) {
	c := newTestClaim(ClaimSubmitted, 100000)
	c.PaidAmount = 30000
	if got := c.OutstandingAmount(); got != 70000 {
		t.Errorf("outstanding = %d, want 70000", got)
	}

	c.SubmittedAt = time.Now().Add(-50 * 24 * time.Hour)
	if got := c.AgedDays(time.Now()); got != 50 {
		t.Errorf("aged days = %d, want 50", got)
	}
	if got := c.AgedDays(c.SubmittedAt.Add(-time.Hour)); got != 0 {
		t.Errorf("aged days before submission = %d, want 0", got)
	}
}

func TestClaimStatusTerminal(t *testing.T) {
	terminal := map[ClaimStatus]bool{ClaimRecovered: true, ClaimWrittenOff: true}
	for status := range validClaimStatuses {
		if status.Terminal() != terminal[status] {
			t.Errorf("%s.Terminal() = %v", status, status.Terminal())
		}
	}
}

func TestAppealStatusPredicates(t *testing.T) {
	terminal := map[AppealStatus]bool{
		AppealAccepted: true, AppealPartiallyAccepted: true,
		AppealRejected: true, AppealWithdrawn: true,
	}
	successful := map[AppealStatus]bool{
		AppealAccepted: true, AppealPartiallyAccepted: true,
	}
	for status := range validAppealStatuses {
		if status.Terminal() != terminal[status] {
			t.Errorf("%s.Terminal() = %v", status, status.Terminal())
		}
		if status.Successful() != successful[status] {
			t.Errorf("%s.Successful() = %v", status, status.Successful())
		}
	}
}
