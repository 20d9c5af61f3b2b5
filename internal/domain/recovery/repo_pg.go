package recovery

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimloop/claimloop/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Claim Repository ===========

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) ClaimRepository { return &claimRepoPG{pool: pool} }

func (r *claimRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const claimCols = `id, claim_number, hospital_id, payer_id, payer_claim_ref,
	claimed_amount, approved_amount, paid_amount, status,
	submitted_at, status_changed_at, version_id, created_at, updated_at`

func (r *claimRepoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.HospitalID, &c.PayerID, &c.PayerClaimRef,
		&c.ClaimedAmount, &c.ApprovedAmount, &c.PaidAmount, &c.Status,
		&c.SubmittedAt, &c.StatusChangedAt, &c.VersionID, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim (id, claim_number, hospital_id, payer_id, payer_claim_ref,
			claimed_amount, approved_amount, paid_amount, status,
			submitted_at, status_changed_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1)`,
		c.ID, c.ClaimNumber, c.HospitalID, c.PayerID, c.PayerClaimRef,
		c.ClaimedAmount, c.ApprovedAmount, c.PaidAmount, c.Status,
		c.SubmittedAt, c.StatusChangedAt)
	return err
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claim WHERE id = $1`, id))
}

func (r *claimRepoPG) GetByClaimNumber(ctx context.Context, claimNumber string) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claim WHERE claim_number = $1`, claimNumber))
}

func (r *claimRepoPG) Update(ctx context.Context, c *Claim) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim SET payer_claim_ref=$2, claimed_amount=$3, approved_amount=$4,
			paid_amount=$5, status=$6, status_changed_at=$7,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.PayerClaimRef, c.ClaimedAmount, c.ApprovedAmount,
		c.PaidAmount, c.Status, c.StatusChangedAt)
	return err
}

func (r *claimRepoPG) List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	where := ``
	var args []interface{}
	and := func(cond string, v interface{}) {
		args = append(args, v)
		clause := cond + `$` + strconv.Itoa(len(args))
		if where == `` {
			where = ` WHERE ` + clause
		} else {
			where += ` AND ` + clause
		}
	}
	if f.HospitalID != uuid.Nil {
		and(`hospital_id = `, f.HospitalID)
	}
	if f.PayerID != uuid.Nil {
		and(`payer_id = `, f.PayerID)
	}
	if f.Status != "" {
		and(`status = `, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claim`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claim`+where+
		` ORDER BY submitted_at DESC LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// =========== Denial Repository ===========

type denialRepoPG struct{ pool *pgxpool.Pool }

func NewDenialRepoPG(pool *pgxpool.Pool) DenialRepository { return &denialRepoPG{pool: pool} }

func (r *denialRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const denialCols = `id, claim_id, category, amount, denied_at,
	recovery_probability, effort_score, priority_score, created_at`

func (r *denialRepoPG) scanDenial(row pgx.Row) (*Denial, error) {
	var d Denial
	err := row.Scan(&d.ID, &d.ClaimID, &d.Category, &d.Amount, &d.DeniedAt,
		&d.RecoveryProbability, &d.EffortScore, &d.PriorityScore, &d.CreatedAt)
	return &d, err
}

func (r *denialRepoPG) Create(ctx context.Context, d *Denial) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO denial (id, claim_id, category, amount, denied_at,
			recovery_probability, effort_score, priority_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.ClaimID, d.Category, d.Amount, d.DeniedAt,
		d.RecoveryProbability, d.EffortScore, d.PriorityScore)
	return err
}

func (r *denialRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Denial, error) {
	return r.scanDenial(r.conn(ctx).QueryRow(ctx, `SELECT `+denialCols+` FROM denial WHERE id = $1`, id))
}

func (r *denialRepoPG) LatestByClaim(ctx context.Context, claimID uuid.UUID) (*Denial, error) {
	return r.scanDenial(r.conn(ctx).QueryRow(ctx, `SELECT `+denialCols+`
		FROM denial WHERE claim_id = $1 ORDER BY denied_at DESC, created_at DESC LIMIT 1`, claimID))
}

func (r *denialRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*Denial, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM denial WHERE claim_id = $1`, claimID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+denialCols+`
		FROM denial WHERE claim_id = $1 ORDER BY denied_at DESC LIMIT $2 OFFSET $3`, claimID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Denial
	for rows.Next() {
		d, err := r.scanDenial(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Appeal Repository ===========

type appealRepoPG struct{ pool *pgxpool.Pool }

func NewAppealRepoPG(pool *pgxpool.Pool) AppealRepository { return &appealRepoPG{pool: pool} }

func (r *appealRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const appealCols = `id, claim_id, denial_id, level, status, outcome_amount,
	submitted_at, resolved_at, pattern_processed_at, version_id, created_at, updated_at`

func (r *appealRepoPG) scanAppeal(row pgx.Row) (*Appeal, error) {
	var a Appeal
	err := row.Scan(&a.ID, &a.ClaimID, &a.DenialID, &a.Level, &a.Status, &a.OutcomeAmount,
		&a.SubmittedAt, &a.ResolvedAt, &a.PatternProcessedAt, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appealRepoPG) Create(ctx context.Context, a *Appeal) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appeal (id, claim_id, denial_id, level, status, outcome_amount,
			submitted_at, resolved_at, pattern_processed_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1)`,
		a.ID, a.ClaimID, a.DenialID, a.Level, a.Status, a.OutcomeAmount,
		a.SubmittedAt, a.ResolvedAt, a.PatternProcessedAt)
	return err
}

func (r *appealRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appeal, error) {
	return r.scanAppeal(r.conn(ctx).QueryRow(ctx, `SELECT `+appealCols+` FROM appeal WHERE id = $1`, id))
}

func (r *appealRepoPG) Update(ctx context.Context, a *Appeal) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appeal SET status=$2, outcome_amount=$3, submitted_at=$4,
			resolved_at=$5, pattern_processed_at=$6,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.OutcomeAmount, a.SubmittedAt,
		a.ResolvedAt, a.PatternProcessedAt)
	return err
}

func (r *appealRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*Appeal, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appeal WHERE claim_id = $1`, claimID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+appealCols+`
		FROM appeal WHERE claim_id = $1 ORDER BY level DESC LIMIT $2 OFFSET $3`, claimID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appeal
	for rows.Next() {
		a, err := r.scanAppeal(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appealRepoPG) MaxLevelByClaim(ctx context.Context, claimID uuid.UUID) (int, error) {
	var level int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(level), 0) FROM appeal WHERE claim_id = $1`, claimID).Scan(&level)
	return level, err
}

// =========== Recovery Transaction Repository ===========

type txRepoPG struct{ pool *pgxpool.Pool }

func NewRecoveryTransactionRepoPG(pool *pgxpool.Pool) RecoveryTransactionRepository {
	return &txRepoPG{pool: pool}
}

func (r *txRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const txCols = `id, claim_id, appeal_id, transaction_ref, amount,
	fee_percentage, fee_amount, hospital_amount, method,
	payment_status, processed_at, created_at, updated_at`

func (r *txRepoPG) scanTx(row pgx.Row) (*RecoveryTransaction, error) {
	var t RecoveryTransaction
	err := row.Scan(&t.ID, &t.ClaimID, &t.AppealID, &t.TransactionRef, &t.Amount,
		&t.FeePercentage, &t.FeeAmount, &t.HospitalAmount, &t.Method,
		&t.PaymentStatus, &t.ProcessedAt, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *txRepoPG) Create(ctx context.Context, t *RecoveryTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO recovery_transaction (id, claim_id, appeal_id, transaction_ref, amount,
			fee_percentage, fee_amount, hospital_amount, method, payment_status, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.ClaimID, t.AppealID, t.TransactionRef, t.Amount,
		t.FeePercentage, t.FeeAmount, t.HospitalAmount, t.Method, t.PaymentStatus, t.ProcessedAt)
	return err
}

func (r *txRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RecoveryTransaction, error) {
	return r.scanTx(r.conn(ctx).QueryRow(ctx, `SELECT `+txCols+` FROM recovery_transaction WHERE id = $1`, id))
}

func (r *txRepoPG) GetByTransactionRef(ctx context.Context, ref string) (*RecoveryTransaction, error) {
	return r.scanTx(r.conn(ctx).QueryRow(ctx,
		`SELECT `+txCols+` FROM recovery_transaction WHERE transaction_ref = $1`, ref))
}

func (r *txRepoPG) Update(ctx context.Context, t *RecoveryTransaction) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE recovery_transaction SET payment_status=$2, processed_at=$3, method=$4, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.PaymentStatus, t.ProcessedAt, t.Method)
	return err
}

func (r *txRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID, limit, offset int) ([]*RecoveryTransaction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM recovery_transaction WHERE claim_id = $1`, claimID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+txCols+`
		FROM recovery_transaction WHERE claim_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, claimID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*RecoveryTransaction
	for rows.Next() {
		t, err := r.scanTx(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
