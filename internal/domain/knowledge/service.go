package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/claimloop/claimloop/internal/domain/recovery"
)

const (
	defaultRetryMax     = 5
	retryBackoffInitial = 10 * time.Millisecond
	retryBackoffMax     = 100 * time.Millisecond
)

// Aggregator folds terminal appeal outcomes into per-payer patterns. It is
// called by the recovery workflow inside the same unit of work that stamps
// the appeal's pattern_processed_at, so each outcome is absorbed exactly
// once. Event emission stays with the caller; a pattern write that rolls
// back with its unit must not have announced itself.
type Aggregator struct {
	repo     PatternRepository
	log      zerolog.Logger
	retryMax int
}

func NewAggregator(repo PatternRepository, log zerolog.Logger, retryMax int) *Aggregator {
	if retryMax < 1 {
		retryMax = defaultRetryMax
	}
	return &Aggregator{repo: repo, log: log, retryMax: retryMax}
}

// RecordOutcome absorbs one outcome into its pattern and returns the
// refreshed record. Repositories that apply outcomes atomically are used
// directly; otherwise the read-modify-write is retried with version checks
// until it lands or the budget runs out.
func (a *Aggregator) RecordOutcome(ctx context.Context, o Outcome) (*Pattern, error) {
	if o.PayerID == uuid.Nil {
		return nil, fmt.Errorf("record outcome: payer id is required")
	}
	if o.Key == "" {
		return nil, fmt.Errorf("record outcome: pattern key is required")
	}

	var (
		p   *Pattern
		err error
	)
	if atomic, ok := a.repo.(AtomicApplier); ok {
		p, err = atomic.ApplyOutcome(ctx, o)
	} else {
		p, err = a.recordWithRetry(ctx, o)
	}
	if err != nil {
		return nil, err
	}

	a.log.Debug().
		Str("payer_id", p.PayerID.String()).
		Str("pattern_type", string(p.Type)).
		Str("pattern_key", p.Key).
		Int64("occurrences", p.OccurrenceCount).
		Float64("success_rate", p.SuccessRate()).
		Msg("pattern updated")

	return p, nil
}

func (a *Aggregator) recordWithRetry(ctx context.Context, o Outcome) (*Pattern, error) {
	backoff := retryBackoffInitial
	for attempt := 1; attempt <= a.retryMax; attempt++ {
		p, err := a.repo.Get(ctx, o.PayerID, o.Type, o.Key)
		switch {
		case errors.Is(err, pgx.ErrNoRows) || errors.Is(err, recovery.ErrNotFound):
			p = newPattern(o)
			if cerr := a.repo.Create(ctx, p); cerr == nil {
				return p, nil
			}
			// Lost the insert race; reread and fall through to update.
			continue
		case err != nil:
			return nil, err
		}

		expected := p.VersionID
		p.apply(o)
		ok, err := a.repo.UpdateVersioned(ctx, p, expected)
		if err != nil {
			return nil, err
		}
		if ok {
			return p, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryBackoffMax {
			backoff = retryBackoffMax
		}
	}
	return nil, &recovery.ConflictError{
		EntityID: fmt.Sprintf("%s/%s/%s", o.PayerID, o.Type, o.Key),
		Attempts: a.retryMax,
	}
}

// RecordAppealOutcome adapts the recovery workflow's untyped view of a
// pattern update. It satisfies recovery.PatternRecorder.
func (a *Aggregator) RecordAppealOutcome(ctx context.Context, payerID uuid.UUID, patternType, patternKey string, success bool, recoveredAmount int64) (recovery.PatternUpdate, error) {
	pt := PatternType(patternType)
	if pt != PatternAppealSuccess && pt != PatternDenialCategory {
		return recovery.PatternUpdate{}, fmt.Errorf("unknown pattern type %q", patternType)
	}
	p, err := a.RecordOutcome(ctx, Outcome{
		PayerID:         payerID,
		Type:            pt,
		Key:             patternKey,
		Success:         success,
		RecoveredAmount: recoveredAmount,
	})
	if err != nil {
		return recovery.PatternUpdate{}, err
	}
	return recovery.PatternUpdate{
		PayerID:     p.PayerID,
		PatternType: string(p.Type),
		PatternKey:  p.Key,
		SuccessRate: p.SuccessRate(),
	}, nil
}

// GetPattern looks up one pattern record.
func (a *Aggregator) GetPattern(ctx context.Context, payerID uuid.UUID, patternType PatternType, key string) (*Pattern, error) {
	p, err := a.repo.Get(ctx, payerID, patternType, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, recovery.ErrNotFound
	}
	return p, err
}

// ListPatterns returns patterns, optionally filtered by type.
func (a *Aggregator) ListPatterns(ctx context.Context, patternType PatternType, limit, offset int) ([]*Pattern, int, error) {
	if patternType != "" && patternType != PatternAppealSuccess && patternType != PatternDenialCategory {
		return nil, 0, fmt.Errorf("unknown pattern type %q", patternType)
	}
	return a.repo.List(ctx, patternType, limit, offset)
}

// ListByPayer returns all patterns learned for one payer.
func (a *Aggregator) ListByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]*Pattern, int, error) {
	return a.repo.ListByPayer(ctx, payerID, limit, offset)
}
