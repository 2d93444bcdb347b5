package domain

// TransferRequest describes one transfer for the orchestrator to drive.
// The idempotency key is the coordination primitive across every step, so
// it is minted once per transfer, before the first call.
type TransferRequest struct {
	SrcAccountID   int64  `json:"src_account_id"`
	DstAccountID   int64  `json:"dst_account_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// SrcEngine resolves the engine owning the source account.
func (r TransferRequest) SrcEngine() (Engine, error) {
	return EngineForAccount(r.SrcAccountID)
}

// DstEngine resolves the engine owning the destination account.
func (r TransferRequest) DstEngine() (Engine, error) {
	return EngineForAccount(r.DstAccountID)
}

// Internal reports whether both accounts live on the same engine.
func (r TransferRequest) Internal() bool {
	src, err := r.SrcEngine()
	if err != nil {
		return false
	}
	dst, err := r.DstEngine()
	if err != nil {
		return false
	}
	return src == dst
}
