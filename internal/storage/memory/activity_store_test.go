package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market/internal/domain"
	"nft-market/internal/storage"
)

func ptr[T any](v T) *T {
	return &v
}

func record(hash string, account string, settledAt int64) *domain.ActivityRecord {
	return &domain.ActivityRecord{
		TxHash:      hash,
		Kind:        domain.TxBuy,
		TokenID:     ptr("1"),
		Account:     account,
		Status:      domain.TxStatusSuccess,
		BlockNumber: ptr(int64(100)),
		SubmittedAt: settledAt - 1000,
		SettledAt:   settledAt,
	}
}

func TestActivityStore_InsertAndGet(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()

	r := record("0xaa", "0xabc", 2000)
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.GetByHash(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	// Mutating the input must not change the stored copy
	r.Status = domain.TxStatusFailed
	got, err = store.GetByHash(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSuccess, got.Status)
}

func TestActivityStore_Duplicate(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, record("0xaa", "0xabc", 1)))
	err := store.Insert(ctx, record("0xaa", "0xabc", 2))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestActivityStore_InvalidInput(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()

	assert.ErrorIs(t, store.Insert(ctx, nil), storage.ErrInvalidInput)

	pending := record("0xbb", "0xabc", 1)
	pending.Status = domain.TxStatusConfirming
	assert.ErrorIs(t, store.Insert(ctx, pending), storage.ErrInvalidInput)

	noAccount := record("0xcc", "", 1)
	assert.ErrorIs(t, store.Insert(ctx, noAccount), storage.ErrInvalidInput)
}

func TestActivityStore_NotFound(t *testing.T) {
	store := NewActivityStore()

	_, err := store.GetByHash(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestActivityStore_ListByAccount(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, record("0x01", "0xABC", 100)))
	require.NoError(t, store.Insert(ctx, record("0x02", "0xabc", 300)))
	require.NoError(t, store.Insert(ctx, record("0x03", "0xabc", 200)))
	require.NoError(t, store.Insert(ctx, record("0x04", "0xdef", 400)))

	got, err := store.ListByAccount(ctx, "0xAbC", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "0x02", got[0].TxHash)
	assert.Equal(t, "0x03", got[1].TxHash)
	assert.Equal(t, "0x01", got[2].TxHash)

	limited, err := store.ListByAccount(ctx, "0xabc", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
