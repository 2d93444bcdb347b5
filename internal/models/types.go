package models

import "encoding/json"

// Envelope is the uniform wire wrapper: {"ok":true,"data":...} on success,
// {"ok":false,"error":"..."} on failure. Data stays raw so callers can
// decode it into whatever the endpoint returns.
type Envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ProcExecRequest is the payload of POST /db/proc/exec. Args hold the IN
// parameters in call order; OutNames/OutTypes describe the OUT parameters
// the caller expects back. Mode selects between stored procedures ("proc",
// the default) and stored functions ("func").
type ProcExecRequest struct {
	Dbms     string   `json:"dbms"`
	Name     string   `json:"name"`
	Args     []any    `json:"args"`
	OutCount int      `json:"out_count,omitempty"`
	OutNames []string `json:"out_names,omitempty"`
	OutTypes []string `json:"out_types,omitempty"`
	Mode     string   `json:"mode,omitempty"`
}

// HoldRequest is the payload for the document-store remittance hold.
// Amount travels as a string to survive JSON number precision.
type HoldRequest struct {
	SrcAccountID   int64  `json:"src_account_id"`
	DstAccountID   int64  `json:"dst_account_id"`
	DstBank        string `json:"dst_bank"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Type           string `json:"type"`
}

// PrepareRequest is the payload for the document-store receive prepare,
// recorded on the destination engine of a cross-engine transfer. The bank
// code travels as dst_bank on this leg too, mirroring the hold payload.
type PrepareRequest struct {
	SrcAccountID   int64  `json:"src_account_id"`
	DstAccountID   int64  `json:"dst_account_id"`
	DstBank        string `json:"dst_bank"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Type           string `json:"type"`
}

// KeyRequest is the payload for every procedure addressed purely by
// idempotency key (release, confirms, internal transfer).
type KeyRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// RDGStartRequest starts the load generator. Zero-valued fields fall back
// to the configured defaults; AllowSameDB is a pointer so "explicitly
// false" and "not set" stay distinguishable.
type RDGStartRequest struct {
	Password    string   `json:"password"`
	BaseURL     string   `json:"base_url,omitempty"`
	RPS         int      `json:"rps,omitempty"`
	Concurrent  int      `json:"concurrent,omitempty"`
	ActiveDBMS  []string `json:"active_dbms,omitempty"`
	MinAmount   int64    `json:"min_amount,omitempty"`
	MaxAmount   int64    `json:"max_amount,omitempty"`
	AllowSameDB *bool    `json:"allow_same_db,omitempty"`
}

// ControlRequest guards the password-protected control endpoints,
// /rdg/stop and /system/reset.
type ControlRequest struct {
	Password string `json:"password"`
}
