package transfer

// Procedure describes one step of the transfer protocol: the stored
// procedure name on the SQL engines, the operation path on the document
// store, and the OUT shape. OutTypes carries the Oracle bind hints.
type Procedure struct {
	Name     string
	MongoOp  string
	OutNames []string
	OutTypes []string
}

var (
	ProcRemittanceHold = Procedure{
		Name:     "sp_remittance_hold",
		MongoOp:  "remittance/hold",
		OutNames: []string{"txn_id", "status"},
		OutTypes: []string{"NUMBER", "VARCHAR2"},
	}

	ProcRemittanceRelease = Procedure{
		Name:     "sp_remittance_release",
		MongoOp:  "remittance/release",
		OutNames: []string{"status", "result"},
		OutTypes: []string{"VARCHAR2", "VARCHAR2"},
	}

	ProcReceivePrepare = Procedure{
		Name:     "sp_receive_prepare",
		MongoOp:  "receive/prepare",
		OutNames: []string{"txn_id", "status"},
		OutTypes: []string{"NUMBER", "VARCHAR2"},
	}

	ProcConfirmDebitLocal = Procedure{
		Name:     "sp_confirm_debit_local",
		MongoOp:  "confirm/debit/local",
		OutNames: []string{"txn_id", "status", "result"},
		OutTypes: []string{"NUMBER", "VARCHAR2", "VARCHAR2"},
	}

	ProcConfirmCreditLocal = Procedure{
		Name:     "sp_confirm_credit_local",
		MongoOp:  "confirm/credit/local",
		OutNames: []string{"txn_id", "status", "result"},
		OutTypes: []string{"NUMBER", "VARCHAR2", "VARCHAR2"},
	}

	ProcTransferConfirmInternal = Procedure{
		Name:     "sp_transfer_confirm_internal",
		MongoOp:  "transfer/confirm/internal",
		OutNames: []string{"status", "result"},
		OutTypes: []string{"VARCHAR2", "VARCHAR2"},
	}
)
