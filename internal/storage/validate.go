package storage

import "nft-market/internal/domain"

// ValidateActivity checks the fields every ActivityStore requires.
func ValidateActivity(r *domain.ActivityRecord) error {
	if r == nil || r.TxHash == "" || r.Account == "" {
		return ErrInvalidInput
	}
	if !r.Kind.IsValid() || !r.Status.Terminal() {
		return ErrInvalidInput
	}
	return nil
}
