package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxKind identifies which marketplace operation a transaction performs.
type TxKind string

const (
	TxApproveSpending TxKind = "APPROVE_SPENDING" // ERC-20 approve(marketplace, amount)
	TxApproveNFT      TxKind = "APPROVE_NFT"      // ERC-721 approve(marketplace, tokenId)
	TxList            TxKind = "LIST"
	TxBuy             TxKind = "BUY"
	TxCancel          TxKind = "CANCEL"
)

// String returns the string representation of TxKind.
func (k TxKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k TxKind) IsValid() bool {
	switch k {
	case TxApproveSpending, TxApproveNFT, TxList, TxBuy, TxCancel:
		return true
	}
	return false
}

// TxStatus is the lifecycle position of a submitted write.
type TxStatus string

const (
	TxStatusIdle       TxStatus = "IDLE"
	TxStatusPending    TxStatus = "PENDING"    // waiting for the wallet to sign and broadcast
	TxStatusConfirming TxStatus = "CONFIRMING" // broadcast, waiting to be mined
	TxStatusSuccess    TxStatus = "SUCCESS"
	TxStatusFailed     TxStatus = "FAILED"
)

// String returns the string representation of TxStatus.
func (s TxStatus) String() string {
	return string(s)
}

// InFlight reports whether the transaction still blocks further actions.
func (s TxStatus) InFlight() bool {
	return s == TxStatusPending || s == TxStatusConfirming
}

// Terminal reports whether the status can no longer change.
func (s TxStatus) Terminal() bool {
	return s == TxStatusSuccess || s == TxStatusFailed
}

// PendingTx is a point-in-time view of a submitted write.
type PendingTx struct {
	Hash        common.Hash
	Kind        TxKind
	TokenID     *big.Int // nil for spending approval
	Status      TxStatus
	Err         error
	BlockNumber uint64
	SubmittedAt time.Time
	SettledAt   time.Time
}
