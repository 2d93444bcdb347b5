package transfer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/models"
)

// fakeBank scripts procedure responses by call key ("mysql/sp_remittance_hold",
// "mongo/remittance/hold") and records every call in arrival order.
type fakeBank struct {
	t  *testing.T
	mu sync.Mutex

	calls   []string
	modes   map[string]string
	bodies  map[string][]byte
	data    map[string]map[string]any
	httpErr map[string]int
}

func newFakeBank(t *testing.T) (*fakeBank, *Orchestrator) {
	t.Helper()
	fb := &fakeBank{
		t:       t,
		modes:   make(map[string]string),
		bodies:  make(map[string][]byte),
		data:    make(map[string]map[string]any),
		httpErr: make(map[string]int),
	}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, 10, zap.NewNop())
	return fb, NewOrchestrator(client, zap.NewNop())
}

func (f *fakeBank) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("read body: %v", err)
		return
	}

	var key string
	switch {
	case r.URL.Path == "/db/proc/exec":
		var req models.ProcExecRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			f.t.Errorf("decode proc request: %v", err)
			return
		}
		key = req.Dbms + "/" + req.Name
		f.mu.Lock()
		f.modes[key] = req.Mode
		f.mu.Unlock()
	case strings.HasPrefix(r.URL.Path, "/mongo_proc/"):
		key = "mongo/" + strings.TrimPrefix(r.URL.Path, "/mongo_proc/")
	default:
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.bodies[key] = raw
	status, failed := f.httpErr[key]
	data, scripted := f.data[key]
	f.mu.Unlock()

	if failed {
		writeEnvelope(w, status, false, nil, "engine down")
		return
	}
	if !scripted {
		f.t.Errorf("unscripted call %s", key)
		writeEnvelope(w, http.StatusBadRequest, false, nil, "unscripted call")
		return
	}
	writeEnvelope(w, http.StatusOK, true, data, "")
}

func (f *fakeBank) sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBank) mode(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modes[key]
}

func (f *fakeBank) body(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func transferReq(src, dst int64, key string) domain.TransferRequest {
	return domain.TransferRequest{
		SrcAccountID:   src,
		DstAccountID:   dst,
		Amount:         2500,
		IdempotencyKey: key,
	}
}

func TestRunInternalTransfer(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mysql/sp_remittance_hold"] = map[string]any{"txn_id": 11, "status": "1"}
	fb.data["mysql/sp_transfer_confirm_internal"] = map[string]any{"status": "2", "result": "OK"}

	ok := orch.Run(context.Background(), transferReq(200001, 200002, "mm-1"))
	assert.True(t, ok)
	assert.Equal(t, []string{
		"mysql/sp_remittance_hold",
		"mysql/sp_transfer_confirm_internal",
	}, fb.sequence())
	assert.Equal(t, "proc", fb.mode("mysql/sp_remittance_hold"))
}

func TestRunInternalInsufficientFundsSkipsRelease(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mysql/sp_remittance_hold"] = map[string]any{"txn_id": 11, "status": "5"}

	ok := orch.Run(context.Background(), transferReq(200001, 200002, "mm-2"))
	assert.False(t, ok)
	// The engine answered, so there is no hold to sweep.
	assert.Equal(t, []string{"mysql/sp_remittance_hold"}, fb.sequence())
}

func TestRunInternalConfirmFailureReleasesHold(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mysql/sp_remittance_hold"] = map[string]any{"txn_id": 11, "status": "1"}
	fb.data["mysql/sp_transfer_confirm_internal"] = map[string]any{"status": "1", "result": "CONCURRENCY_FAIL"}
	fb.data["mysql/sp_remittance_release"] = map[string]any{"status": "3", "result": "OK"}

	ok := orch.Run(context.Background(), transferReq(200001, 200002, "mm-3"))
	assert.False(t, ok)
	assert.Equal(t, []string{
		"mysql/sp_remittance_hold",
		"mysql/sp_transfer_confirm_internal",
		"mysql/sp_remittance_release",
	}, fb.sequence())
}

func TestRunExternalTransfer(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mysql/sp_remittance_hold"] = map[string]any{"txn_id": 3, "status": "1"}
	fb.data["postgres/sp_receive_prepare"] = map[string]any{"txn_id": 9, "status": "1"}
	fb.data["mysql/sp_confirm_debit_local"] = map[string]any{"txn_id": 3, "status": "2", "result": "OK"}
	fb.data["postgres/sp_confirm_credit_local"] = map[string]any{"txn_id": 9, "status": "2", "result": "OK"}

	ok := orch.Run(context.Background(), transferReq(200001, 400003, "mp-1"))
	assert.True(t, ok)
	assert.Equal(t, []string{
		"mysql/sp_remittance_hold",
		"postgres/sp_receive_prepare",
		"mysql/sp_confirm_debit_local",
		"postgres/sp_confirm_credit_local",
	}, fb.sequence())
	assert.Equal(t, "proc", fb.mode("mysql/sp_confirm_debit_local"))
	assert.Equal(t, "func", fb.mode("postgres/sp_receive_prepare"))
	assert.Equal(t, "func", fb.mode("postgres/sp_confirm_credit_local"))
}

func TestRunExternalPrepareFailureReleasesHold(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mysql/sp_remittance_hold"] = map[string]any{"txn_id": 3, "status": "1"}
	fb.data["postgres/sp_receive_prepare"] = map[string]any{"txn_id": 9, "status": "6"}
	fb.data["mysql/sp_remittance_release"] = map[string]any{"status": "3", "result": "OK"}

	ok := orch.Run(context.Background(), transferReq(200001, 400003, "mp-2"))
	assert.False(t, ok)
	assert.Equal(t, []string{
		"mysql/sp_remittance_hold",
		"postgres/sp_receive_prepare",
		"mysql/sp_remittance_release",
	}, fb.sequence())
}

func TestRunExternalDebitFailureReleasesHold(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mysql/sp_remittance_hold"] = map[string]any{"txn_id": 3, "status": "1"}
	fb.data["postgres/sp_receive_prepare"] = map[string]any{"txn_id": 9, "status": "1"}
	fb.data["mysql/sp_confirm_debit_local"] = map[string]any{"status": "1", "result": "HOLD_RELEASED"}
	fb.data["mysql/sp_remittance_release"] = map[string]any{"status": "2", "result": "ALREADY_CAPTURED"}

	ok := orch.Run(context.Background(), transferReq(200001, 400003, "mp-3"))
	assert.False(t, ok)
	assert.Equal(t, []string{
		"mysql/sp_remittance_hold",
		"postgres/sp_receive_prepare",
		"mysql/sp_confirm_debit_local",
		"mysql/sp_remittance_release",
	}, fb.sequence())
}

func TestRunExternalCreditFailureIsNotCompensated(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mysql/sp_remittance_hold"] = map[string]any{"txn_id": 3, "status": "1"}
	fb.data["postgres/sp_receive_prepare"] = map[string]any{"txn_id": 9, "status": "1"}
	fb.data["mysql/sp_confirm_debit_local"] = map[string]any{"txn_id": 3, "status": "2", "result": "OK"}
	fb.data["postgres/sp_confirm_credit_local"] = map[string]any{"status": "1", "result": "TX_NOT_FOUND"}

	ok := orch.Run(context.Background(), transferReq(200001, 400003, "mp-4"))
	assert.False(t, ok)
	// The debit is final; releasing the source hold here would double-debit.
	assert.Equal(t, []string{
		"mysql/sp_remittance_hold",
		"postgres/sp_receive_prepare",
		"mysql/sp_confirm_debit_local",
		"postgres/sp_confirm_credit_local",
	}, fb.sequence())
}

func TestRunHoldTransportFailureSweepsRelease(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.httpErr["mysql/sp_remittance_hold"] = http.StatusInternalServerError
	fb.data["mysql/sp_remittance_release"] = map[string]any{"status": "1", "result": "TX_NOT_FOUND"}

	ok := orch.Run(context.Background(), transferReq(200001, 400003, "mp-5"))
	assert.False(t, ok)
	// The hold may have landed even though the response was lost.
	assert.Equal(t, []string{
		"mysql/sp_remittance_hold",
		"mysql/sp_remittance_release",
	}, fb.sequence())
}

func TestRunMongoInternalTransfer(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mongo/remittance/hold"] = map[string]any{"txn_id": "68af01", "status": "1"}
	fb.data["mongo/transfer/confirm/internal"] = map[string]any{"status": "2", "result": "OK"}

	ok := orch.Run(context.Background(), transferReq(100001, 100002, "mm-4"))
	assert.True(t, ok)
	assert.Equal(t, []string{
		"mongo/remittance/hold",
		"mongo/transfer/confirm/internal",
	}, fb.sequence())

	var hold models.HoldRequest
	require.NoError(t, json.Unmarshal(fb.body("mongo/remittance/hold"), &hold))
	assert.Equal(t, int64(100001), hold.SrcAccountID)
	assert.Equal(t, "2500", hold.Amount)
	assert.Equal(t, "1", hold.DstBank)
	assert.Equal(t, domain.TypeInternal, hold.Type)
}

func TestRunMongoToSQLTransfer(t *testing.T) {
	fb, orch := newFakeBank(t)
	fb.data["mongo/remittance/hold"] = map[string]any{"txn_id": "68af02", "status": "1"}
	fb.data["mysql/sp_receive_prepare"] = map[string]any{"txn_id": 4, "status": "1"}
	fb.data["mongo/confirm/debit/local"] = map[string]any{"txn_id": "68af02", "status": "2", "result": "OK"}
	fb.data["mysql/sp_confirm_credit_local"] = map[string]any{"txn_id": 4, "status": "2", "result": "OK"}

	ok := orch.Run(context.Background(), transferReq(100001, 200002, "mm-5"))
	assert.True(t, ok)
	assert.Equal(t, []string{
		"mongo/remittance/hold",
		"mysql/sp_receive_prepare",
		"mongo/confirm/debit/local",
		"mysql/sp_confirm_credit_local",
	}, fb.sequence())

	var prep models.ProcExecRequest
	require.NoError(t, json.Unmarshal(fb.body("mysql/sp_receive_prepare"), &prep))
	require.Len(t, prep.Args, 6)
	assert.Equal(t, "2", prep.Args[2])
	assert.Equal(t, domain.TypeIncomingExternal, prep.Args[5])
}

func TestRunRejectsUnknownEngine(t *testing.T) {
	fb, orch := newFakeBank(t)

	ok := orch.Run(context.Background(), transferReq(900001, 200002, "xx-1"))
	assert.False(t, ok)
	assert.Empty(t, fb.sequence())
}
