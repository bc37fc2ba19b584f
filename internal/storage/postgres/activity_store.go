package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nft-market/internal/domain"
	"nft-market/internal/storage"
)

// ActivityStore implements storage.ActivityStore using PostgreSQL.
type ActivityStore struct {
	pool *Pool
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(pool *Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

const activityColumns = `tx_hash, kind, token_id, account, status, error, block_number, submitted_at, settled_at, created_at`

// Insert adds a settled transaction. Returns ErrDuplicateKey if tx_hash exists.
func (s *ActivityStore) Insert(ctx context.Context, r *domain.ActivityRecord) (err error) {
	if err := storage.ValidateActivity(r); err != nil {
		return err
	}

	start := time.Now()
	defer func() { timed("activity_insert", start, err) }()

	query := `
		INSERT INTO activity (
			tx_hash, kind, token_id, account, status, error, block_number, submitted_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		r.TxHash,
		string(r.Kind),
		r.TokenID,
		domain.NormalizeAddress(r.Account),
		string(r.Status),
		r.Error,
		r.BlockNumber,
		r.SubmittedAt,
		r.SettledAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// GetByHash retrieves a record by transaction hash. Returns ErrNotFound if not exists.
func (s *ActivityStore) GetByHash(ctx context.Context, txHash string) (_ *domain.ActivityRecord, err error) {
	start := time.Now()
	defer func() { timed("activity_get", start, err) }()

	query := `SELECT ` + activityColumns + ` FROM activity WHERE tx_hash = $1`

	r, err := scanActivity(s.pool.QueryRow(ctx, query, txHash))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get activity by hash: %w", err)
	}
	return r, nil
}

// ListByAccount retrieves the most recent records of account, newest first.
func (s *ActivityStore) ListByAccount(ctx context.Context, account string, limit int) (_ []*domain.ActivityRecord, err error) {
	start := time.Now()
	defer func() { timed("activity_list", start, err) }()

	query := `
		SELECT ` + activityColumns + `
		FROM activity
		WHERE account = $1
		ORDER BY settled_at DESC, tx_hash ASC
	`
	args := []any{domain.NormalizeAddress(account)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity by account: %w", err)
	}
	defer rows.Close()

	var result []*domain.ActivityRecord
	for rows.Next() {
		r, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return result, nil
}

// scanActivity scans a single row into an ActivityRecord.
func scanActivity(row pgx.Row) (*domain.ActivityRecord, error) {
	var r domain.ActivityRecord
	var kind, status string

	err := row.Scan(
		&r.TxHash,
		&kind,
		&r.TokenID,
		&r.Account,
		&status,
		&r.Error,
		&r.BlockNumber,
		&r.SubmittedAt,
		&r.SettledAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Kind = domain.TxKind(kind)
	r.Status = domain.TxStatus(status)
	return &r, nil
}
