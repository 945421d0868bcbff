package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for ledger activities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_activities (
	id BIGSERIAL PRIMARY KEY,
	account_id TEXT NOT NULL,
	activity_type TEXT NOT NULL,
	activity_date DATE NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	unit_price DOUBLE PRECISION NOT NULL,
	currency TEXT NOT NULL,
	fee DOUBLE PRECISION NOT NULL DEFAULT 0,
	comment TEXT NOT NULL DEFAULT '',
	external_ref TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS ledger_activities_account_ref
	ON ledger_activities (account_id, external_ref)
	WHERE external_ref IS NOT NULL;`

// EnsureSchema creates the activities table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ledger: ensure schema: %w", err)
	}
	return nil
}

// InsertActivities persists a batch one record at a time, skipping records
// that violate the (account_id, external_ref) uniqueness guard. The batch
// is small and already rate-limited upstream, so per-row statements keep
// duplicate handling simple.
func (r *Repository) InsertActivities(ctx context.Context, records []ActivityRecord) (int, error) {
	const query = `
		INSERT INTO ledger_activities (
			account_id, activity_type, activity_date, quantity,
			unit_price, currency, fee, comment, external_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`

	inserted := 0
	for _, rec := range records {
		_, err := r.pool.Exec(ctx, query,
			rec.AccountID,
			string(rec.Type),
			rec.Date,
			rec.Quantity,
			rec.UnitPrice,
			rec.Currency,
			rec.Fee,
			rec.Comment,
			rec.ExternalRef,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				continue
			}
			return inserted, fmt.Errorf("ledger: insert activity: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

// ListActivities returns activities for one account, newest first.
func (r *Repository) ListActivities(ctx context.Context, accountID string, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT account_id, activity_type, activity_date, quantity,
			unit_price, currency, fee, comment, COALESCE(external_ref, '')
		FROM ledger_activities
		WHERE account_id = $1
		ORDER BY activity_date DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list activities: %w", err)
	}
	defer rows.Close()

	var out []ActivityRecord
	for rows.Next() {
		var rec ActivityRecord
		var typ string
		if err := rows.Scan(&rec.AccountID, &typ, &rec.Date, &rec.Quantity,
			&rec.UnitPrice, &rec.Currency, &rec.Fee, &rec.Comment, &rec.ExternalRef); err != nil {
			return nil, fmt.Errorf("ledger: scan activity: %w", err)
		}
		rec.Type = ActivityType(typ)
		out = append(out, rec)
	}
	return out, rows.Err()
}
