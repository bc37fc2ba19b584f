package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market/internal/domain"
	"nft-market/internal/storage"
	"nft-market/internal/storage/postgres"
)

func TestActivityStore(t *testing.T) {
	pool := newTestPool(t)

	store := postgres.NewActivityStore(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx, "TRUNCATE activity")
	require.NoError(t, err)

	buy := &domain.ActivityRecord{
		TxHash:      "0x01",
		Kind:        domain.TxBuy,
		TokenID:     ptr("7"),
		Account:     "0xAbC0000000000000000000000000000000000001",
		Status:      domain.TxStatusSuccess,
		BlockNumber: ptr(int64(123)),
		SubmittedAt: 1000,
		SettledAt:   5000,
	}
	failed := &domain.ActivityRecord{
		TxHash:      "0x02",
		Kind:        domain.TxApproveSpending,
		Account:     "0xabc0000000000000000000000000000000000001",
		Status:      domain.TxStatusFailed,
		Error:       ptr("transaction reverted"),
		SubmittedAt: 6000,
		SettledAt:   9000,
	}

	t.Run("Insert and GetByHash", func(t *testing.T) {
		require.NoError(t, store.Insert(ctx, buy))

		got, err := store.GetByHash(ctx, "0x01")
		require.NoError(t, err)
		assert.Equal(t, domain.TxBuy, got.Kind)
		assert.Equal(t, "7", *got.TokenID)
		assert.Equal(t, int64(123), *got.BlockNumber)
		assert.Nil(t, got.Error)
		assert.Equal(t, "0xabc0000000000000000000000000000000000001", got.Account)
		assert.NotZero(t, got.CreatedAt)
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := store.Insert(ctx, buy)
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.GetByHash(ctx, "0xmissing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListByAccount", func(t *testing.T) {
		require.NoError(t, store.Insert(ctx, failed))

		got, err := store.ListByAccount(ctx, "0xABC0000000000000000000000000000000000001", 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "0x02", got[0].TxHash)
		assert.Nil(t, got[0].TokenID)
		assert.Equal(t, "transaction reverted", *got[0].Error)

		limited, err := store.ListByAccount(ctx, "0xabc0000000000000000000000000000000000001", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}
