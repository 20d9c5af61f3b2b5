package knowledge

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

type patternRepoPG struct{ pool *pgxpool.Pool }

func NewPatternRepoPG(pool *pgxpool.Pool) PatternRepository { return &patternRepoPG{pool: pool} }

func (r *patternRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patternCols = `id, payer_id, pattern_type, pattern_key,
	occurrence_count, success_count, avg_recovery_amount, total_recovery_amount,
	confidence_level, version_id, created_at, updated_at`

func (r *patternRepoPG) scanPattern(row pgx.Row) (*Pattern, error) {
	var p Pattern
	err := row.Scan(&p.ID, &p.PayerID, &p.Type, &p.Key,
		&p.OccurrenceCount, &p.SuccessCount, &p.AvgRecoveryAmount, &p.TotalRecoveryAmount,
		&p.ConfidenceLevel, &p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patternRepoPG) Get(ctx context.Context, payerID uuid.UUID, patternType PatternType, key string) (*Pattern, error) {
	return r.scanPattern(r.conn(ctx).QueryRow(ctx, `SELECT `+patternCols+`
		FROM knowledge_pattern WHERE payer_id = $1 AND pattern_type = $2 AND pattern_key = $3`,
		payerID, patternType, key))
}

func (r *patternRepoPG) Create(ctx context.Context, p *Pattern) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO knowledge_pattern (id, payer_id, pattern_type, pattern_key,
			occurrence_count, success_count, avg_recovery_amount, total_recovery_amount,
			confidence_level, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1)`,
		p.ID, p.PayerID, p.Type, p.Key,
		p.OccurrenceCount, p.SuccessCount, p.AvgRecoveryAmount, p.TotalRecoveryAmount,
		p.ConfidenceLevel)
	return err
}

func (r *patternRepoPG) UpdateVersioned(ctx context.Context, p *Pattern, expectedVersion int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE knowledge_pattern SET occurrence_count=$2, success_count=$3,
			avg_recovery_amount=$4, total_recovery_amount=$5, confidence_level=$6,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $7`,
		p.ID, p.OccurrenceCount, p.SuccessCount,
		p.AvgRecoveryAmount, p.TotalRecoveryAmount, p.ConfidenceLevel,
		expectedVersion)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	p.VersionID = expectedVersion + 1
	return true, nil
}

// ApplyOutcome folds one outcome into its pattern in a single statement.
// The upsert keeps concurrent writers correct without version checks:
// conflicting updates serialize on the row and each arithmetic step reads
// the committed counters.
func (r *patternRepoPG) ApplyOutcome(ctx context.Context, o Outcome) (*Pattern, error) {
	success := int64(0)
	if o.Success {
		success = 1
	}
	return r.scanPattern(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO knowledge_pattern (id, payer_id, pattern_type, pattern_key,
			occurrence_count, success_count, avg_recovery_amount, total_recovery_amount,
			confidence_level, version_id)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $6, 1.0/11.0, 1)
		ON CONFLICT (payer_id, pattern_type, pattern_key) DO UPDATE SET
			occurrence_count = knowledge_pattern.occurrence_count + 1,
			success_count = knowledge_pattern.success_count + $5,
			avg_recovery_amount = (knowledge_pattern.avg_recovery_amount * knowledge_pattern.occurrence_count + $6)
				/ (knowledge_pattern.occurrence_count + 1),
			total_recovery_amount = knowledge_pattern.total_recovery_amount + $6,
			confidence_level = (knowledge_pattern.occurrence_count + 1)::float8
				/ (knowledge_pattern.occurrence_count + 11),
			version_id = knowledge_pattern.version_id + 1,
			updated_at = NOW()
		RETURNING `+patternCols,
		uuid.New(), o.PayerID, o.Type, o.Key, success, o.RecoveredAmount))
}

func (r *patternRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Pattern, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_pattern `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patternCols+` FROM knowledge_pattern `+where+
		` ORDER BY occurrence_count DESC, updated_at DESC LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Pattern
	for rows.Next() {
		p, err := r.scanPattern(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patternRepoPG) ListByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]*Pattern, int, error) {
	return r.list(ctx, `WHERE payer_id = $1`, []interface{}{payerID}, limit, offset)
}

func (r *patternRepoPG) List(ctx context.Context, patternType PatternType, limit, offset int) ([]*Pattern, int, error) {
	if patternType == "" {
		return r.list(ctx, ``, nil, limit, offset)
	}
	return r.list(ctx, `WHERE pattern_type = $1`, []interface{}{patternType}, limit, offset)
}
