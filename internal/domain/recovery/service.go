package recovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/claimloop/claimloop/internal/platform/events"
	"github.com/claimloop/claimloop/internal/platform/lock"
)

// TxRunner executes fn as one atomic unit of work. Production wiring binds
// this to db.WithTx over the pool; tests pass a passthrough.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Passthrough runs fn directly with no transaction. Useful for in-memory
// repositories.
func Passthrough(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// PatternUpdate reports the refreshed statistics after one appeal outcome is
// absorbed. The orchestrator publishes it with the rest of the unit's events
// once the unit commits.
type PatternUpdate struct {
	PayerID     uuid.UUID
	PatternType string
	PatternKey  string
	SuccessRate float64
}

// PatternRecorder receives terminal appeal outcomes for learning. Satisfied
// by the knowledge aggregator; the nil recorder disables learning.
type PatternRecorder interface {
	RecordAppealOutcome(ctx context.Context, payerID uuid.UUID, patternType, patternKey string, success bool, recoveredAmount int64) (PatternUpdate, error)
}

// Service is the recovery workflow orchestrator. All claim mutations go
// through it: it serializes work per claim, applies the transition rules,
// persists inside one unit of work and publishes events only after the unit
// commits.
type Service struct {
	claims   ClaimRepository
	denials  DenialRepository
	appeals  AppealRepository
	txs      RecoveryTransactionRepository
	patterns PatternRecorder

	locker  lock.Locker
	runTx   TxRunner
	events  events.Publisher
	feeRate FeeRateResolver
	scorer  PriorityScorer
	log     zerolog.Logger
	now     func() time.Time
}

type ServiceOption func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithPriorityScorer overrides the denial triage heuristic.
func WithPriorityScorer(scorer PriorityScorer) ServiceOption {
	return func(s *Service) { s.scorer = scorer }
}

func NewService(
	claims ClaimRepository,
	denials DenialRepository,
	appeals AppealRepository,
	txs RecoveryTransactionRepository,
	patterns PatternRecorder,
	locker lock.Locker,
	runTx TxRunner,
	pub events.Publisher,
	feeRate FeeRateResolver,
	log zerolog.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		claims:   claims,
		denials:  denials,
		appeals:  appeals,
		txs:      txs,
		patterns: patterns,
		locker:   locker,
		runTx:    runTx,
		events:   pub,
		feeRate:  feeRate,
		scorer:   DefaultPriorityScore,
		log:      log,
		now:      time.Now,
	}
	if s.locker == nil {
		s.locker = lock.NewKeyed()
	}
	if s.runTx == nil {
		s.runTx = Passthrough
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withClaim serializes and wraps one claim mutation: acquire the claim lock,
// load the claim, run fn inside a unit of work, then publish whatever events
// fn queued once the unit commits.
func (s *Service) withClaim(ctx context.Context, claimID uuid.UUID, fn func(ctx context.Context, c *Claim, queue *eventQueue) error) error {
	release, err := s.locker.Acquire(ctx, "claim:"+claimID.String())
	if err != nil {
		return fmt.Errorf("acquire claim lock: %w", err)
	}
	defer release()

	queue := &eventQueue{}
	err = s.runTx(ctx, func(ctx context.Context) error {
		c, err := s.claims.GetByID(ctx, claimID)
		if err != nil {
			return translateNoRows(err)
		}
		return fn(ctx, c, queue)
	})
	if err != nil {
		return err
	}
	queue.publish(ctx, s.events, s.log)
	return nil
}

type eventQueue struct {
	pending []events.Event
}

func (q *eventQueue) add(log zerolog.Logger, eventType string, payload interface{}) {
	evt, err := events.New(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("event encode failed")
		return
	}
	q.pending = append(q.pending, evt)
}

func (q *eventQueue) statusChange(log zerolog.Logger, claimID uuid.UUID, from, to ClaimStatus) {
	if from == to {
		return
	}
	q.add(log, events.TypeClaimStatusChanged, events.ClaimStatusChanged{
		ClaimID: claimID, OldStatus: string(from), NewStatus: string(to),
	})
}

func (q *eventQueue) patternUpdated(log zerolog.Logger, u PatternUpdate) {
	q.add(log, events.TypePatternUpdated, events.PatternUpdated{
		PayerID:     u.PayerID,
		PatternType: u.PatternType,
		PatternKey:  u.PatternKey,
		SuccessRate: u.SuccessRate,
	})
}

func (q *eventQueue) publish(ctx context.Context, pub events.Publisher, log zerolog.Logger) {
	if pub == nil {
		return
	}
	for _, evt := range q.pending {
		if err := pub.Publish(ctx, evt); err != nil {
			log.Warn().Err(err).Str("type", evt.Type).Msg("event publish failed")
		}
	}
}

func translateNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Claim intake and reads --

// CreateClaimInput carries a ClaimSubmitted event.
type CreateClaimInput struct {
	ClaimNumber   string
	HospitalID    uuid.UUID
	PayerID       uuid.UUID
	PayerClaimRef *string
	ClaimedAmount int64
	SubmittedAt   time.Time
}

// CreateClaim registers a submitted claim. Resubmitting a known claim number
// is a no-op returning the existing record.
func (s *Service) CreateClaim(ctx context.Context, in CreateClaimInput) (*Claim, bool, error) {
	if in.ClaimNumber == "" {
		return nil, false, validationf("claim_number", "is required")
	}
	if in.HospitalID == uuid.Nil {
		return nil, false, validationf("hospital_id", "is required")
	}
	if in.PayerID == uuid.Nil {
		return nil, false, validationf("payer_id", "is required")
	}
	if in.ClaimedAmount <= 0 {
		return nil, false, validationf("claimed_amount", "must be positive, got %d", in.ClaimedAmount)
	}

	existing, err := s.claims.GetByClaimNumber(ctx, in.ClaimNumber)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := s.now()
	submittedAt := in.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = now
	}
	c := &Claim{
		ID:              uuid.New(),
		ClaimNumber:     in.ClaimNumber,
		HospitalID:      in.HospitalID,
		PayerID:         in.PayerID,
		PayerClaimRef:   in.PayerClaimRef,
		ClaimedAmount:   in.ClaimedAmount,
		Status:          ClaimSubmitted,
		SubmittedAt:     submittedAt,
		StatusChangedAt: now,
	}
	if err := s.claims.Create(ctx, c); err != nil {
		return nil, false, err
	}
	s.log.Info().Str("claim_id", c.ID.String()).Str("claim_number", c.ClaimNumber).
		Int64("claimed_amount", c.ClaimedAmount).Msg("claim created")
	return c, false, nil
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := s.claims.GetByID(ctx, id)
	return c, translateNoRows(err)
}

func (s *Service) ListClaims(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	return s.claims.List(ctx, f, limit, offset)
}

func (s *Service) ListDenials(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*Denial, int, error) {
	return s.denials.ListByClaim(ctx, claimID, limit, offset)
}

func (s *Service) ListAppeals(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*Appeal, int, error) {
	return s.appeals.ListByClaim(ctx, claimID, limit, offset)
}

func (s *Service) ListTransactions(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*RecoveryTransaction, int, error) {
	return s.txs.ListByClaim(ctx, claimID, limit, offset)
}

// -- Review path --

// ReviewTransition applies an administrative status move along the review
// graph (under_review, pending_documents, approved, written_off and so on).
func (s *Service) ReviewTransition(ctx context.Context, claimID uuid.UUID, to ClaimStatus) (*Claim, error) {
	var out *Claim
	err := s.withClaim(ctx, claimID, func(ctx context.Context, c *Claim, queue *eventQueue) error {
		from := c.Status
		if err := TransitionTo(c, to, s.now()); err != nil {
			return err
		}
		if c.Status != from {
			if err := s.claims.Update(ctx, c); err != nil {
				return err
			}
			queue.statusChange(s.log, c.ID, from, c.Status)
		}
		out = c
		return nil
	})
	return out, err
}

// -- Denials --

// RecordDenialInput carries a DenialRecorded event.
type RecordDenialInput struct {
	ClaimID             uuid.UUID
	Category            DenialCategory
	Amount              int64
	DeniedAt            time.Time
	RecoveryProbability *float64
	EffortScore         *int
}

// RecordDenial stores the denial, scores it for triage and moves the claim
// to denied unless the claim has already progressed past denial.
func (s *Service) RecordDenial(ctx context.Context, in RecordDenialInput) (*Denial, error) {
	if !validDenialCategories[in.Category] {
		return nil, validationf("category", "unknown denial category %q", in.Category)
	}
	if in.Amount <= 0 {
		return nil, validationf("amount", "must be positive, got %d", in.Amount)
	}
	if in.RecoveryProbability != nil && (*in.RecoveryProbability < 0 || *in.RecoveryProbability > 1) {
		return nil, validationf("recovery_probability", "must be between 0 and 1, got %v", *in.RecoveryProbability)
	}
	if in.EffortScore != nil && (*in.EffortScore < 1 || *in.EffortScore > 10) {
		return nil, validationf("effort_score", "must be between 1 and 10, got %d", *in.EffortScore)
	}

	var out *Denial
	err := s.withClaim(ctx, in.ClaimID, func(ctx context.Context, c *Claim, queue *eventQueue) error {
		if in.Amount > c.ClaimedAmount {
			return validationf("amount",
				"denied amount %d exceeds claimed amount %d", in.Amount, c.ClaimedAmount)
		}

		now := s.now()
		deniedAt := in.DeniedAt
		if deniedAt.IsZero() {
			deniedAt = now
		}
		d := &Denial{
			ID:                  uuid.New(),
			ClaimID:             c.ID,
			Category:            in.Category,
			Amount:              in.Amount,
			DeniedAt:            deniedAt,
			RecoveryProbability: in.RecoveryProbability,
			EffortScore:         in.EffortScore,
		}
		score := s.scorer(d, c.ClaimedAmount)
		d.PriorityScore = &score
		if err := s.denials.Create(ctx, d); err != nil {
			return err
		}

		from := c.Status
		if ApplyDenial(c, now) {
			if err := s.claims.Update(ctx, c); err != nil {
				return err
			}
			queue.statusChange(s.log, c.ID, from, c.Status)
		}
		out = d
		return nil
	})
	return out, err
}

// -- Appeals --

// SubmitAppealInput carries an AppealSubmitted event.
type SubmitAppealInput struct {
	ClaimID  uuid.UUID
	DenialID *uuid.UUID
}

// SubmitAppeal opens the next-level appeal for a claim and moves the claim
// to appealed. Rejected when the claim is terminal or the appeal ladder is
// exhausted.
func (s *Service) SubmitAppeal(ctx context.Context, in SubmitAppealInput) (*Appeal, error) {
	var out *Appeal
	err := s.withClaim(ctx, in.ClaimID, func(ctx context.Context, c *Claim, queue *eventQueue) error {
		now := s.now()
		from := c.Status
		if err := ApplyAppealSubmitted(c, now); err != nil {
			return err
		}

		maxLevel, err := s.appeals.MaxLevelByClaim(ctx, c.ID)
		if err != nil {
			return err
		}
		if maxLevel >= MaxAppealLevel {
			return validationf("level",
				"appeal ladder exhausted at level %d", maxLevel)
		}

		if in.DenialID != nil {
			if _, err := s.denials.GetByID(ctx, *in.DenialID); err != nil {
				return translateNoRows(err)
			}
		}

		a := &Appeal{
			ID:          uuid.New(),
			ClaimID:     c.ID,
			DenialID:    in.DenialID,
			Level:       maxLevel + 1,
			Status:      AppealSubmitted,
			SubmittedAt: &now,
		}
		if err := s.appeals.Create(ctx, a); err != nil {
			return err
		}
		if c.Status != from {
			if err := s.claims.Update(ctx, c); err != nil {
				return err
			}
			queue.statusChange(s.log, c.ID, from, c.Status)
		}
		out = a
		return nil
	})
	return out, err
}

// ChangeAppealStatusInput carries an appeal status event, terminal or not.
// OutcomeAmount is required for accepted and partially_accepted.
type ChangeAppealStatusInput struct {
	AppealID      uuid.UUID
	Status        AppealStatus
	OutcomeAmount *int64
}

// ChangeAppealStatus moves the appeal along its graph. A terminal outcome
// also resolves the claim (accepted outcomes set the approved amount and
// close it as recovered) and is folded into the payer's knowledge patterns
// exactly once.
func (s *Service) ChangeAppealStatus(ctx context.Context, in ChangeAppealStatusInput) (*Appeal, error) {
	a, err := s.appeals.GetByID(ctx, in.AppealID)
	if err != nil {
		return nil, translateNoRows(err)
	}
	if in.Status.Successful() && in.OutcomeAmount == nil {
		return nil, validationf("outcome_amount", "is required for %s", in.Status)
	}

	var out *Appeal
	err = s.withClaim(ctx, a.ClaimID, func(ctx context.Context, c *Claim, queue *eventQueue) error {
		// Reload under the claim lock.
		a, err := s.appeals.GetByID(ctx, in.AppealID)
		if err != nil {
			return translateNoRows(err)
		}

		now := s.now()
		if err := TransitionAppeal(a, in.Status, now); err != nil {
			return err
		}
		// Outcome amount only means something on a successful resolution.
		if in.Status.Successful() && in.OutcomeAmount != nil {
			a.OutcomeAmount = in.OutcomeAmount
		}

		if a.Status.Terminal() {
			if err := s.resolveClaimFromAppeal(ctx, c, a, queue, now); err != nil {
				return err
			}
			if err := s.recordPatterns(ctx, c, a, queue, now); err != nil {
				return err
			}
		}

		if err := s.appeals.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (s *Service) resolveClaimFromAppeal(ctx context.Context, c *Claim, a *Appeal, queue *eventQueue, now time.Time) error {
	if !a.Status.Successful() {
		return nil
	}
	from := c.Status
	changed, err := ApplyAppealOutcome(c, *a.OutcomeAmount, now)
	if err != nil {
		return err
	}
	if changed {
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}
		queue.statusChange(s.log, c.ID, from, c.Status)
	}
	return nil
}

// recordPatterns folds a terminal appeal into the payer's knowledge, keyed
// both by appeal level and by the denial category appealed. The
// pattern_processed_at stamp makes replays of the terminal event no-ops.
// Pattern events go through the queue so they only escape if the whole unit
// commits.
func (s *Service) recordPatterns(ctx context.Context, c *Claim, a *Appeal, queue *eventQueue, now time.Time) error {
	if s.patterns == nil || a.PatternProcessedAt != nil {
		return nil
	}
	success := a.Status.Successful()
	var recovered int64
	if success && a.OutcomeAmount != nil {
		recovered = *a.OutcomeAmount
	}

	u, err := s.patterns.RecordAppealOutcome(ctx, c.PayerID,
		"appeal_success_factor", "appeal_level_"+strconv.Itoa(a.Level),
		success, recovered)
	if err != nil {
		return err
	}
	queue.patternUpdated(s.log, u)
	if a.DenialID != nil {
		d, err := s.denials.GetByID(ctx, *a.DenialID)
		if err != nil {
			return translateNoRows(err)
		}
		u, err := s.patterns.RecordAppealOutcome(ctx, c.PayerID,
			"denial_category", string(d.Category), success, recovered)
		if err != nil {
			return err
		}
		queue.patternUpdated(s.log, u)
	}
	a.PatternProcessedAt = &now
	return nil
}

// -- Recovery transactions --

// RecordRecoveryInput carries a RecoveryReceived event. FeePercentage nil
// falls back to the hospital's configured rate.
type RecordRecoveryInput struct {
	ClaimID        uuid.UUID
	AppealID       *uuid.UUID
	TransactionRef string
	Amount         int64
	FeePercentage  *float64
	Method         *string
}

// RecordRecovery registers an incoming recovery payment with its gain-share
// split, in payment status pending. Replaying a known transaction_ref is a
// no-op returning the existing transaction and duplicate=true.
func (s *Service) RecordRecovery(ctx context.Context, in RecordRecoveryInput) (*RecoveryTransaction, bool, error) {
	if in.TransactionRef == "" {
		return nil, false, validationf("transaction_ref", "is required")
	}

	if existing, err := s.txs.GetByTransactionRef(ctx, in.TransactionRef); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	var (
		out       *RecoveryTransaction
		duplicate bool
	)
	err := s.withClaim(ctx, in.ClaimID, func(ctx context.Context, c *Claim, queue *eventQueue) error {
		// Recheck under the lock; a concurrent replay may have landed first.
		if existing, err := s.txs.GetByTransactionRef(ctx, in.TransactionRef); err == nil {
			out, duplicate = existing, true
			return nil
		} else if !errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, ErrNotFound) {
			return err
		}

		if in.Amount <= 0 {
			return validationf("amount", "must be positive, got %d", in.Amount)
		}
		if c.Status == ClaimWrittenOff {
			return &TransitionRejectedError{
				EntityID: c.ID, Current: string(c.Status), Attempted: string(ClaimRecovered),
				Reason: "claim is written off",
			}
		}
		switch c.Status {
		case ClaimSubmitted, ClaimUnderReview, ClaimPendingDocuments:
			// Out-of-order event: the payment references a decision this
			// claim has not recorded yet. Reject so the sender retries
			// after the missing event arrives.
			return &TransitionRejectedError{
				EntityID: c.ID, Current: string(c.Status), Attempted: string(ClaimRecovered),
				Reason: "no payer decision recorded yet",
			}
		}
		if in.Amount > c.OutstandingAmount() {
			return validationf("amount",
				"payment of %d exceeds outstanding amount %d", in.Amount, c.OutstandingAmount())
		}
		if in.AppealID != nil {
			a, err := s.appeals.GetByID(ctx, *in.AppealID)
			if err != nil {
				return translateNoRows(err)
			}
			if a.ClaimID != c.ID {
				return validationf("appeal_id", "appeal belongs to a different claim")
			}
		}

		pct := s.feeRate(c.HospitalID.String())
		if in.FeePercentage != nil {
			pct = *in.FeePercentage
		}
		feeAmount, hospitalAmount, err := Split(in.Amount, pct)
		if err != nil {
			return err
		}

		t := &RecoveryTransaction{
			ID:             uuid.New(),
			ClaimID:        c.ID,
			AppealID:       in.AppealID,
			TransactionRef: in.TransactionRef,
			Amount:         in.Amount,
			FeePercentage:  pct,
			FeeAmount:      feeAmount,
			HospitalAmount: hospitalAmount,
			Method:         in.Method,
			PaymentStatus:  PaymentPending,
		}
		if err := s.txs.Create(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, duplicate, err
}

// ProcessRecovery marks a pending transaction processed and applies the
// amount to the claim, closing it as recovered once fully paid.
func (s *Service) ProcessRecovery(ctx context.Context, txID uuid.UUID) (*RecoveryTransaction, error) {
	t, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		return nil, translateNoRows(err)
	}

	var out *RecoveryTransaction
	err = s.withClaim(ctx, t.ClaimID, func(ctx context.Context, c *Claim, queue *eventQueue) error {
		t, err := s.txs.GetByID(ctx, txID)
		if err != nil {
			return translateNoRows(err)
		}
		if t.PaymentStatus == PaymentProcessed {
			out = t
			return nil
		}

		now := s.now()
		if err := TransitionPayment(t, PaymentProcessed, now); err != nil {
			return err
		}
		from := c.Status
		if err := ApplyRecovery(c, t.Amount, now); err != nil {
			return err
		}
		if err := s.txs.Update(ctx, t); err != nil {
			return err
		}
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}
		queue.statusChange(s.log, c.ID, from, c.Status)
		queue.add(s.log, events.TypeRecoveryProcessed, events.RecoveryProcessed{
			ClaimID:        c.ID,
			TransactionID:  t.ID,
			FeeAmount:      t.FeeAmount,
			HospitalAmount: t.HospitalAmount,
		})
		out = t
		return nil
	})
	return out, err
}

// FailRecovery marks a pending transaction failed. The claim is untouched.
func (s *Service) FailRecovery(ctx context.Context, txID uuid.UUID) (*RecoveryTransaction, error) {
	return s.movePayment(ctx, txID, PaymentFailed)
}

// DisputeRecovery marks a processed transaction disputed. Amounts already
// applied to the claim stay applied; reconciliation is an offline concern.
func (s *Service) DisputeRecovery(ctx context.Context, txID uuid.UUID) (*RecoveryTransaction, error) {
	return s.movePayment(ctx, txID, PaymentDisputed)
}

func (s *Service) movePayment(ctx context.Context, txID uuid.UUID, to PaymentStatus) (*RecoveryTransaction, error) {
	t, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		return nil, translateNoRows(err)
	}

	var out *RecoveryTransaction
	err = s.withClaim(ctx, t.ClaimID, func(ctx context.Context, c *Claim, queue *eventQueue) error {
		t, err := s.txs.GetByID(ctx, txID)
		if err != nil {
			return translateNoRows(err)
		}
		if err := TransitionPayment(t, to, s.now()); err != nil {
			return err
		}
		return s.txs.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	out, err = s.txs.GetByID(ctx, txID)
	return out, translateNoRows(err)
}
