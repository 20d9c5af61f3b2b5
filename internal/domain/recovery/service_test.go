package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimloop/claimloop/internal/platform/events"
)

// -- Mock Repositories --

type mockClaimRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Claim
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{items: make(map[uuid.UUID]*Claim)}
}

func (m *mockClaimRepo) Create(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()
	c.VersionID = 1
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockClaimRepo) GetByClaimNumber(_ context.Context, claimNumber string) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.ClaimNumber == claimNumber {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockClaimRepo) Update(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.VersionID++
	c.UpdatedAt = time.Now()
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockClaimRepo) List(_ context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Claim
	for _, c := range m.items {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	return result, len(result), nil
}

type mockDenialRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Denial
}

func newMockDenialRepo() *mockDenialRepo {
	return &mockDenialRepo{items: make(map[uuid.UUID]*Denial)}
}

func (m *mockDenialRepo) Create(_ context.Context, d *Denial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.CreatedAt = time.Now()
	m.items[d.ID] = d
	return nil
}

func (m *mockDenialRepo) GetByID(_ context.Context, id uuid.UUID) (*Denial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDenialRepo) LatestByClaim(_ context.Context, claimID uuid.UUID) (*Denial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Denial
	for _, d := range m.items {
		if d.ClaimID != claimID {
			continue
		}
		if latest == nil || d.DeniedAt.After(latest.DeniedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *mockDenialRepo) ListByClaim(_ context.Context, claimID uuid.UUID, limit, offset int) ([]*Denial, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Denial
	for _, d := range m.items {
		if d.ClaimID == claimID {
			result = append(result, d)
		}
	}
	return result, len(result), nil
}

type mockAppealRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appeal
}

func newMockAppealRepo() *mockAppealRepo {
	return &mockAppealRepo{items: make(map[uuid.UUID]*Appeal)}
}

func (m *mockAppealRepo) Create(_ context.Context, a *Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	a.VersionID = 1
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppealRepo) GetByID(_ context.Context, id uuid.UUID) (*Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppealRepo) Update(_ context.Context, a *Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.VersionID++
	a.UpdatedAt = time.Now()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppealRepo) ListByClaim(_ context.Context, claimID uuid.UUID, limit, offset int) ([]*Appeal, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Appeal
	for _, a := range m.items {
		if a.ClaimID == claimID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockAppealRepo) MaxLevelByClaim(_ context.Context, claimID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, a := range m.items {
		if a.ClaimID == claimID && a.Level > max {
			max = a.Level
		}
	}
	return max, nil
}

type mockTxRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*RecoveryTransaction
}

func newMockTxRepo() *mockTxRepo {
	return &mockTxRepo{items: make(map[uuid.UUID]*RecoveryTransaction)}
}

func (m *mockTxRepo) Create(_ context.Context, t *RecoveryTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *mockTxRepo) GetByID(_ context.Context, id uuid.UUID) (*RecoveryTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTxRepo) GetByTransactionRef(_ context.Context, ref string) (*RecoveryTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.items {
		if t.TransactionRef == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockTxRepo) Update(_ context.Context, t *RecoveryTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.UpdatedAt = time.Now()
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *mockTxRepo) ListByClaim(_ context.Context, claimID uuid.UUID, limit, offset int) ([]*RecoveryTransaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*RecoveryTransaction
	for _, t := range m.items {
		if t.ClaimID == claimID {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

type patternCall struct {
	payerID     uuid.UUID
	patternType string
	patternKey  string
	success     bool
	recovered   int64
}

type mockPatterns struct {
	mu    sync.Mutex
	calls []patternCall
}

func (m *mockPatterns) RecordAppealOutcome(_ context.Context, payerID uuid.UUID, patternType, patternKey string, success bool, recoveredAmount int64) (PatternUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, patternCall{payerID, patternType, patternKey, success, recoveredAmount})
	rate := 0.0
	if success {
		rate = 1.0
	}
	return PatternUpdate{
		PayerID:     payerID,
		PatternType: patternType,
		PatternKey:  patternKey,
		SuccessRate: rate,
	}, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *mockPublisher) Publish(_ context.Context, evt events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockPublisher) ofType(eventType string) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// -- Fixture --

type fixture struct {
	svc      *Service
	claims   *mockClaimRepo
	denials  *mockDenialRepo
	appeals  *mockAppealRepo
	txs      *mockTxRepo
	patterns *mockPatterns
	pub      *mockPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		claims:   newMockClaimRepo(),
		denials:  newMockDenialRepo(),
		appeals:  newMockAppealRepo(),
		txs:      newMockTxRepo(),
		patterns: &mockPatterns{},
		pub:      &mockPublisher{},
	}
	f.svc = NewService(
		f.claims, f.denials, f.appeals, f.txs,
		f.patterns, nil, nil, f.pub,
		FixedFeeRate(20), zerolog.Nop(),
	)
	return f
}

func (f *fixture) submitClaim(t *testing.T, amount int64) *Claim {
	t.Helper()
	c, duplicate, err := f.svc.CreateClaim(context.Background(), CreateClaimInput{
		ClaimNumber:   "CLM-" + uuid.NewString()[:8],
		HospitalID:    uuid.New(),
		PayerID:       uuid.New(),
		ClaimedAmount: amount,
	})
	if err != nil || duplicate {
		t.Fatalf("CreateClaim: duplicate=%v err=%v", duplicate, err)
	}
	return c
}

// approvedClaim creates a claim and walks it to approved so payments apply.
func (f *fixture) approvedClaim(t *testing.T, amount int64) *Claim {
	t.Helper()
	c := f.submitClaim(t, amount)
	for _, status := range []ClaimStatus{ClaimUnderReview, ClaimApproved} {
		if _, err := f.svc.ReviewTransition(context.Background(), c.ID, status); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}
	got, err := f.svc.GetClaim(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

// -- Tests --

func TestCreateClaim(t *testing.T) {
	f := newFixture(t)
	c := f.submitClaim(t, 12500000)

	if c.Status != ClaimSubmitted {
		t.Errorf("status = %s, want submitted", c.Status)
	}
	if c.OutstandingAmount() != 12500000 {
		t.Errorf("outstanding = %d, want claimed amount", c.OutstandingAmount())
	}

	// Resubmitting the same claim number is a no-op.
	again, duplicate, err := f.svc.CreateClaim(context.Background(), CreateClaimInput{
		ClaimNumber:   c.ClaimNumber,
		HospitalID:    c.HospitalID,
		PayerID:       c.PayerID,
		ClaimedAmount: 999,
	})
	if err != nil || !duplicate {
		t.Fatalf("resubmit: duplicate=%v err=%v", duplicate, err)
	}
	if again.ID != c.ID || again.ClaimedAmount != 12500000 {
		t.Error("resubmit must return the original record unchanged")
	}
}

func TestCreateClaimValidation(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateClaim(context.Background(), CreateClaimInput{
		ClaimNumber:   "CLM-X",
		HospitalID:    uuid.New(),
		PayerID:       uuid.New(),
		ClaimedAmount: 0,
	})
	if !IsValidation(err) {
		t.Errorf("zero amount = %v, want validation error", err)
	}
}

// Full lifecycle: a 125,000 rupee claim is reviewed, denied, appealed, the
// appeal is accepted for 100,000 and the payment is processed with the
// 20 percent gain-share split.
func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.submitClaim(t, 12500000)

	if _, err := f.svc.ReviewTransition(ctx, c.ID, ClaimUnderReview); err != nil {
		t.Fatalf("to under_review: %v", err)
	}

	prob := 0.7
	d, err := f.svc.RecordDenial(ctx, RecordDenialInput{
		ClaimID:             c.ID,
		Category:            DenialMedicalNecessity,
		Amount:              12500000,
		RecoveryProbability: &prob,
	})
	if err != nil {
		t.Fatalf("RecordDenial: %v", err)
	}
	if d.PriorityScore == nil || *d.PriorityScore <= 0 {
		t.Error("denial not scored for triage")
	}
	got, _ := f.svc.GetClaim(ctx, c.ID)
	if got.Status != ClaimDenied {
		t.Fatalf("status = %s, want denied", got.Status)
	}

	a, err := f.svc.SubmitAppeal(ctx, SubmitAppealInput{ClaimID: c.ID, DenialID: &d.ID})
	if err != nil {
		t.Fatalf("SubmitAppeal: %v", err)
	}
	if a.Level != 1 || a.Status != AppealSubmitted {
		t.Fatalf("appeal = level %d %s, want level 1 submitted", a.Level, a.Status)
	}
	got, _ = f.svc.GetClaim(ctx, c.ID)
	if got.Status != ClaimAppealed {
		t.Fatalf("status = %s, want appealed", got.Status)
	}

	outcome := int64(10000000)
	a, err = f.svc.ChangeAppealStatus(ctx, ChangeAppealStatusInput{
		AppealID:      a.ID,
		Status:        AppealAccepted,
		OutcomeAmount: &outcome,
	})
	if err != nil {
		t.Fatalf("ChangeAppealStatus: %v", err)
	}
	if a.ResolvedAt == nil || a.PatternProcessedAt == nil {
		t.Error("terminal appeal not stamped")
	}
	got, _ = f.svc.GetClaim(ctx, c.ID)
	if got.Status != ClaimRecovered || got.ApprovedAmount != outcome {
		t.Fatalf("claim = %s/%d, want recovered/%d", got.Status, got.ApprovedAmount, outcome)
	}

	// Both pattern dimensions were learned exactly once.
	if len(f.patterns.calls) != 2 {
		t.Fatalf("pattern calls = %d, want 2", len(f.patterns.calls))
	}
	byKey := map[string]patternCall{}
	for _, call := range f.patterns.calls {
		byKey[call.patternKey] = call
		if !call.success || call.recovered != outcome {
			t.Errorf("pattern call %+v: want success with recovered %d", call, outcome)
		}
	}
	if _, ok := byKey["appeal_level_1"]; !ok {
		t.Error("missing appeal_level_1 pattern")
	}
	if _, ok := byKey[string(DenialMedicalNecessity)]; !ok {
		t.Error("missing denial category pattern")
	}

	// Payment arrives and is processed.
	tx, duplicate, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID:        c.ID,
		AppealID:       &a.ID,
		TransactionRef: "NEFT-2024-001",
		Amount:         outcome,
	})
	if err != nil || duplicate {
		t.Fatalf("RecordRecovery: duplicate=%v err=%v", duplicate, err)
	}
	if tx.FeeAmount != 2000000 || tx.HospitalAmount != 8000000 {
		t.Errorf("split = (%d, %d), want (2000000, 8000000)", tx.FeeAmount, tx.HospitalAmount)
	}
	if tx.FeeAmount+tx.HospitalAmount != tx.Amount {
		t.Error("split does not sum to amount")
	}

	tx, err = f.svc.ProcessRecovery(ctx, tx.ID)
	if err != nil {
		t.Fatalf("ProcessRecovery: %v", err)
	}
	if tx.PaymentStatus != PaymentProcessed || tx.ProcessedAt == nil {
		t.Errorf("tx = %s, want processed", tx.PaymentStatus)
	}
	got, _ = f.svc.GetClaim(ctx, c.ID)
	if got.PaidAmount != outcome {
		t.Errorf("paid = %d, want %d", got.PaidAmount, outcome)
	}

	if n := len(f.pub.ofType(events.TypeRecoveryProcessed)); n != 1 {
		t.Errorf("recovery.processed events = %d, want 1", n)
	}
	if n := len(f.pub.ofType(events.TypeClaimStatusChanged)); n < 4 {
		t.Errorf("claim.status_changed events = %d, want at least 4", n)
	}
	if n := len(f.pub.ofType(events.TypePatternUpdated)); n != 2 {
		t.Errorf("pattern.updated events = %d, want 2", n)
	}
}

func TestSubmitAppealOnRecoveredClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.submitClaim(t, 100000)

	for _, status := range []ClaimStatus{ClaimUnderReview, ClaimApproved, ClaimRecovered} {
		if _, err := f.svc.ReviewTransition(ctx, c.ID, status); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}

	_, err := f.svc.SubmitAppeal(ctx, SubmitAppealInput{ClaimID: c.ID})
	if !IsTransitionRejected(err) {
		t.Fatalf("appeal on recovered claim = %v, want transition rejection", err)
	}
	if appeals, total, _ := f.svc.ListAppeals(ctx, c.ID, 10, 0); total != 0 || len(appeals) != 0 {
		t.Error("rejected appeal must not be persisted")
	}
}

func TestAppealLadderExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.submitClaim(t, 100000)
	if _, err := f.svc.RecordDenial(ctx, RecordDenialInput{
		ClaimID: c.ID, Category: DenialOther, Amount: 100000,
	}); err != nil {
		t.Fatalf("RecordDenial: %v", err)
	}

	for level := 1; level <= MaxAppealLevel; level++ {
		a, err := f.svc.SubmitAppeal(ctx, SubmitAppealInput{ClaimID: c.ID})
		if err != nil {
			t.Fatalf("appeal level %d: %v", level, err)
		}
		if a.Level != level {
			t.Fatalf("level = %d, want %d", a.Level, level)
		}
		if level < MaxAppealLevel {
			if _, err := f.svc.ChangeAppealStatus(ctx, ChangeAppealStatusInput{
				AppealID: a.ID, Status: AppealRejected,
			}); err != nil {
				t.Fatalf("reject level %d: %v", level, err)
			}
		}
	}

	if _, err := f.svc.SubmitAppeal(ctx, SubmitAppealInput{ClaimID: c.ID}); !IsValidation(err) {
		t.Errorf("fourth appeal = %v, want validation error", err)
	}
}

func TestRejectedAppealLearnsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.submitClaim(t, 100000)
	d, err := f.svc.RecordDenial(ctx, RecordDenialInput{
		ClaimID: c.ID, Category: DenialCodingError, Amount: 100000,
	})
	if err != nil {
		t.Fatalf("RecordDenial: %v", err)
	}
	a, err := f.svc.SubmitAppeal(ctx, SubmitAppealInput{ClaimID: c.ID, DenialID: &d.ID})
	if err != nil {
		t.Fatalf("SubmitAppeal: %v", err)
	}
	if _, err := f.svc.ChangeAppealStatus(ctx, ChangeAppealStatusInput{
		AppealID: a.ID, Status: AppealRejected,
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if len(f.patterns.calls) != 2 {
		t.Fatalf("pattern calls = %d, want 2", len(f.patterns.calls))
	}
	for _, call := range f.patterns.calls {
		if call.success || call.recovered != 0 {
			t.Errorf("pattern call %+v: want failure with zero recovered", call)
		}
	}

	// The claim stays appealed; rejection does not resolve it.
	got, _ := f.svc.GetClaim(ctx, c.ID)
	if got.Status != ClaimAppealed {
		t.Errorf("status = %s, want appealed", got.Status)
	}

	// Replaying the terminal status must not learn twice.
	if _, err := f.svc.ChangeAppealStatus(ctx, ChangeAppealStatusInput{
		AppealID: a.ID, Status: AppealRejected,
	}); err != nil {
		t.Fatalf("replay reject: %v", err)
	}
	if len(f.patterns.calls) != 2 {
		t.Errorf("pattern calls after replay = %d, want 2", len(f.patterns.calls))
	}
}

// failingAppealRepo fails Update on demand to simulate a write error late in
// a unit of work.
type failingAppealRepo struct {
	*mockAppealRepo
	failUpdate bool
}

func (r *failingAppealRepo) Update(ctx context.Context, a *Appeal) error {
	if r.failUpdate {
		return errors.New("simulated write failure")
	}
	return r.mockAppealRepo.Update(ctx, a)
}

// A write failure inside the appeal-resolution unit must not leak any of the
// unit's events, the pattern update included.
func TestAppealResolutionFailurePublishesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appeals := &failingAppealRepo{mockAppealRepo: f.appeals}
	svc := NewService(
		f.claims, f.denials, appeals, f.txs,
		f.patterns, nil, nil, f.pub,
		FixedFeeRate(20), zerolog.Nop(),
	)

	c := f.submitClaim(t, 100000)
	if _, err := svc.RecordDenial(ctx, RecordDenialInput{
		ClaimID: c.ID, Category: DenialOther, Amount: 100000,
	}); err != nil {
		t.Fatalf("RecordDenial: %v", err)
	}
	a, err := svc.SubmitAppeal(ctx, SubmitAppealInput{ClaimID: c.ID})
	if err != nil {
		t.Fatalf("SubmitAppeal: %v", err)
	}

	published := len(f.pub.events)
	appeals.failUpdate = true
	outcome := int64(80000)
	if _, err := svc.ChangeAppealStatus(ctx, ChangeAppealStatusInput{
		AppealID: a.ID, Status: AppealAccepted, OutcomeAmount: &outcome,
	}); err == nil {
		t.Fatal("ChangeAppealStatus succeeded despite failing update")
	}

	if n := len(f.pub.events); n != published {
		t.Errorf("events published during failed unit = %d", n-published)
	}
	if n := len(f.pub.ofType(events.TypePatternUpdated)); n != 0 {
		t.Errorf("pattern.updated events = %d, want 0", n)
	}
}

func TestRejectedAppealIgnoresOutcomeAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.submitClaim(t, 100000)
	if _, err := f.svc.RecordDenial(ctx, RecordDenialInput{
		ClaimID: c.ID, Category: DenialOther, Amount: 100000,
	}); err != nil {
		t.Fatalf("RecordDenial: %v", err)
	}
	a, err := f.svc.SubmitAppeal(ctx, SubmitAppealInput{ClaimID: c.ID})
	if err != nil {
		t.Fatalf("SubmitAppeal: %v", err)
	}

	amount := int64(5000)
	a, err = f.svc.ChangeAppealStatus(ctx, ChangeAppealStatusInput{
		AppealID: a.ID, Status: AppealRejected, OutcomeAmount: &amount,
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if a.OutcomeAmount != nil {
		t.Errorf("outcome amount = %d on rejected appeal, want unset", *a.OutcomeAmount)
	}
}

func TestRecordRecoveryDedup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.approvedClaim(t, 100000)

	first, duplicate, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-42", Amount: 60000,
	})
	if err != nil || duplicate {
		t.Fatalf("first: duplicate=%v err=%v", duplicate, err)
	}

	// Replaying the same transaction_ref, even with a different amount, is a
	// no-op success returning the original record.
	second, duplicate, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-42", Amount: 99999,
	})
	if err != nil || !duplicate {
		t.Fatalf("replay: duplicate=%v err=%v", duplicate, err)
	}
	if second.ID != first.ID || second.Amount != 60000 {
		t.Error("replay must return the original transaction unchanged")
	}
	if _, total, _ := f.svc.ListTransactions(ctx, c.ID, 10, 0); total != 1 {
		t.Errorf("transactions = %d, want 1", total)
	}
}

// A payment referencing a claim with no payer decision yet is an
// out-of-order event: rejected so the sender retries once the decision
// arrives, never silently dropped or misapplied.
func TestRecordRecoveryBeforeDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.submitClaim(t, 100000)

	_, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-EARLY", Amount: 60000,
	})
	if !IsTransitionRejected(err) {
		t.Fatalf("payment before decision = %v, want transition rejection", err)
	}
	if _, total, _ := f.svc.ListTransactions(ctx, c.ID, 10, 0); total != 0 {
		t.Errorf("transactions = %d, want 0 after rejection", total)
	}

	// After the decision lands the same event applies cleanly.
	for _, status := range []ClaimStatus{ClaimUnderReview, ClaimApproved} {
		if _, err := f.svc.ReviewTransition(ctx, c.ID, status); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}
	if _, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-EARLY", Amount: 60000,
	}); err != nil {
		t.Fatalf("retry after decision: %v", err)
	}
}

func TestRecordRecoveryValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.approvedClaim(t, 100000)

	if _, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-1", Amount: 100001,
	}); !IsValidation(err) {
		t.Errorf("overpayment = %v, want validation error", err)
	}

	pct := 60.0
	if _, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-2", Amount: 50000, FeePercentage: &pct,
	}); !IsValidation(err) {
		t.Errorf("fee above ceiling = %v, want validation error", err)
	}

	if _, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, Amount: 50000,
	}); !IsValidation(err) {
		t.Errorf("missing ref = %v, want validation error", err)
	}
}

func TestProcessRecoveryIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.approvedClaim(t, 100000)

	tx, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-7", Amount: 100000,
	})
	if err != nil {
		t.Fatalf("RecordRecovery: %v", err)
	}
	if _, err := f.svc.ProcessRecovery(ctx, tx.ID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if _, err := f.svc.ProcessRecovery(ctx, tx.ID); err != nil {
		t.Fatalf("second process: %v", err)
	}

	got, _ := f.svc.GetClaim(ctx, c.ID)
	if got.PaidAmount != 100000 {
		t.Errorf("paid = %d, want 100000 after replayed processing", got.PaidAmount)
	}
	if got.Status != ClaimRecovered {
		t.Errorf("status = %s, want recovered", got.Status)
	}
	if n := len(f.pub.ofType(events.TypeRecoveryProcessed)); n != 1 {
		t.Errorf("recovery.processed events = %d, want 1", n)
	}
}

func TestFailAndDisputeRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.approvedClaim(t, 100000)

	tx, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-9", Amount: 100000,
	})
	if err != nil {
		t.Fatalf("RecordRecovery: %v", err)
	}

	tx, err = f.svc.FailRecovery(ctx, tx.ID)
	if err != nil {
		t.Fatalf("FailRecovery: %v", err)
	}
	if tx.PaymentStatus != PaymentFailed {
		t.Errorf("status = %s, want failed", tx.PaymentStatus)
	}

	// Failed payments never touch the claim.
	got, _ := f.svc.GetClaim(ctx, c.ID)
	if got.PaidAmount != 0 {
		t.Errorf("paid = %d, want 0", got.PaidAmount)
	}

	// Failed cannot be processed or disputed.
	if _, err := f.svc.ProcessRecovery(ctx, tx.ID); !IsTransitionRejected(err) {
		t.Errorf("process failed tx = %v, want rejection", err)
	}
	if _, err := f.svc.DisputeRecovery(ctx, tx.ID); !IsTransitionRejected(err) {
		t.Errorf("dispute failed tx = %v, want rejection", err)
	}

	// A processed payment can be disputed; applied amounts stay applied.
	tx2, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
		ClaimID: c.ID, TransactionRef: "UTR-10", Amount: 100000,
	})
	if err != nil {
		t.Fatalf("second RecordRecovery: %v", err)
	}
	if _, err := f.svc.ProcessRecovery(ctx, tx2.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	tx2, err = f.svc.DisputeRecovery(ctx, tx2.ID)
	if err != nil {
		t.Fatalf("DisputeRecovery: %v", err)
	}
	if tx2.PaymentStatus != PaymentDisputed {
		t.Errorf("status = %s, want disputed", tx2.PaymentStatus)
	}
	got, _ = f.svc.GetClaim(ctx, c.ID)
	if got.PaidAmount != 100000 {
		t.Errorf("paid = %d, want 100000 after dispute", got.PaidAmount)
	}
}

func TestPartialRecoveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.approvedClaim(t, 100000)

	for i, amount := range []int64{40000, 35000, 25000} {
		tx, _, err := f.svc.RecordRecovery(ctx, RecordRecoveryInput{
			ClaimID:        c.ID,
			TransactionRef: "UTR-PART-" + string(rune('A'+i)),
			Amount:         amount,
		})
		if err != nil {
			t.Fatalf("record %d: %v", amount, err)
		}
		if _, err := f.svc.ProcessRecovery(ctx, tx.ID); err != nil {
			t.Fatalf("process %d: %v", amount, err)
		}
	}

	got, _ := f.svc.GetClaim(ctx, c.ID)
	if got.PaidAmount != 100000 || got.Status != ClaimRecovered {
		t.Errorf("claim = %s paid %d, want recovered paid 100000", got.Status, got.PaidAmount)
	}
	if got.OutstandingAmount() != 0 {
		t.Errorf("outstanding = %d, want 0", got.OutstandingAmount())
	}
}

func TestOperationsOnMissingClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.GetClaim(ctx, uuid.New()); err != ErrNotFound {
		t.Errorf("GetClaim = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.ReviewTransition(ctx, uuid.New(), ClaimUnderReview); err != ErrNotFound {
		t.Errorf("ReviewTransition = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.SubmitAppeal(ctx, SubmitAppealInput{ClaimID: uuid.New()}); err != ErrNotFound {
		t.Errorf("SubmitAppeal = %v, want ErrNotFound", err)
	}
}
