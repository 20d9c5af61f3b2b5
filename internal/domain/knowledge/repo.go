package knowledge

import (
	"context"

	"github.com/google/uuid"
)

// PatternRepository is the read/write surface for pattern records. Get
// returns recovery-domain ErrNotFound semantics via pgx.ErrNoRows; callers
// translate. UpdateVersioned compares the expected version and reports
// whether the write landed, which drives the optimistic retry loop.
type PatternRepository interface {
	Get(ctx context.Context, payerID uuid.UUID, patternType PatternType, key string) (*Pattern, error)
	Create(ctx context.Context, p *Pattern) error
	UpdateVersioned(ctx context.Context, p *Pattern, expectedVersion int) (bool, error)
	ListByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]*Pattern, int, error)
	List(ctx context.Context, patternType PatternType, limit, offset int) ([]*Pattern, int, error)
}

// AtomicApplier is implemented by repositories that can fold an outcome into
// a pattern in a single atomic statement (insert-or-update). When the
// repository offers this, the aggregator uses it and skips the
// read-modify-write retry loop entirely.
type AtomicApplier interface {
	ApplyOutcome(ctx context.Context, o Outcome) (*Pattern, error)
}
