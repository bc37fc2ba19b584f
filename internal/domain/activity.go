package domain

// ActivityRecord is a settled transaction kept for the history panel.
// Corresponds to activity table in PostgreSQL.
// It is display-only: on-chain state is always re-read from the chain.
type ActivityRecord struct {
	TxHash      string   // PK, 0x-prefixed
	Kind        TxKind   // operation performed
	TokenID     *string  // decimal token id (nullable for spending approval)
	Account     string   // sender, normalized
	Status      TxStatus // SUCCESS or FAILED
	Error       *string  // failure reason (nullable)
	BlockNumber *int64   // nullable when never mined
	SubmittedAt int64    // ms
	SettledAt   int64    // ms
	CreatedAt   int64    // record creation timestamp (ms)
}
