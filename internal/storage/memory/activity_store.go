package memory

import (
	"context"
	"sort"
	"sync"

	"nft-market/internal/domain"
	"nft-market/internal/storage"
)

// ActivityStore is an in-memory implementation of storage.ActivityStore.
type ActivityStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ActivityRecord // keyed by tx_hash
}

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		data: make(map[string]*domain.ActivityRecord),
	}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// Insert adds a settled transaction. Returns ErrDuplicateKey if tx_hash exists.
func (s *ActivityStore) Insert(_ context.Context, r *domain.ActivityRecord) error {
	if err := storage.ValidateActivity(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.TxHash]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	recordCopy := *r
	s.data[r.TxHash] = &recordCopy
	return nil
}

// GetByHash retrieves a record by transaction hash. Returns ErrNotFound if not exists.
func (s *ActivityStore) GetByHash(_ context.Context, txHash string) (*domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[txHash]
	if !exists {
		return nil, storage.ErrNotFound
	}

	recordCopy := *r
	return &recordCopy, nil
}

// ListByAccount retrieves the most recent records of account, newest first.
func (s *ActivityStore) ListByAccount(_ context.Context, account string, limit int) ([]*domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ActivityRecord
	for _, r := range s.data {
		if domain.SameAddress(r.Account, account) {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	// Sort by settled_at DESC, tx_hash ASC for stable ties
	sort.Slice(result, func(i, j int) bool {
		if result[i].SettledAt != result[j].SettledAt {
			return result[i].SettledAt > result[j].SettledAt
		}
		return result[i].TxHash < result[j].TxHash
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
