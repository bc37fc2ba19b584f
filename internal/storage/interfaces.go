package storage

import (
	"context"

	"nft-market/internal/domain"
)

// ActivityStore provides access to the activity journal of settled transactions.
type ActivityStore interface {
	// Insert adds a settled transaction. Returns ErrDuplicateKey if tx_hash exists.
	Insert(ctx context.Context, r *domain.ActivityRecord) error

	// GetByHash retrieves a record by transaction hash. Returns ErrNotFound if not exists.
	GetByHash(ctx context.Context, txHash string) (*domain.ActivityRecord, error)

	// ListByAccount retrieves the most recent records of account, newest first.
	// A limit <= 0 returns every record.
	ListByAccount(ctx context.Context, account string, limit int) ([]*domain.ActivityRecord, error)
}
