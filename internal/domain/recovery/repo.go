package recovery

import (
	"context"

	"github.com/google/uuid"
)

// ClaimFilter narrows claim listings. Zero values mean "no filter".
type ClaimFilter struct {
	HospitalID uuid.UUID
	PayerID    uuid.UUID
	Status     ClaimStatus
}

type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByClaimNumber(ctx context.Context, claimNumber string) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error)
}

type DenialRepository interface {
	Create(ctx context.Context, d *Denial) error
	GetByID(ctx context.Context, id uuid.UUID) (*Denial, error)
	LatestByClaim(ctx context.Context, claimID uuid.UUID) (*Denial, error)
	ListByClaim(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*Denial, int, error)
}

type AppealRepository interface {
	Create(ctx context.Context, a *Appeal) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appeal, error)
	Update(ctx context.Context, a *Appeal) error
	ListByClaim(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*Appeal, int, error)
	// MaxLevelByClaim returns 0 when the claim has no appeals yet.
	MaxLevelByClaim(ctx context.Context, claimID uuid.UUID) (int, error)
}

type RecoveryTransactionRepository interface {
	Create(ctx context.Context, t *RecoveryTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*RecoveryTransaction, error)
	// GetByTransactionRef drives replay dedup; returns pgx.ErrNoRows when unseen.
	GetByTransactionRef(ctx context.Context, ref string) (*RecoveryTransaction, error)
	Update(ctx context.Context, t *RecoveryTransaction) error
	ListByClaim(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*RecoveryTransaction, int, error)
}
