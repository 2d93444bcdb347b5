// Package transfer drives the two-phase transfer protocol across the
// ledger engines. Every step is addressed by the transfer's idempotency
// key, so a step whose response was lost can be retried or compensated
// without double-moving money.
package transfer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/models"
)

var (
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankbridge_transfers_total",
			Help: "Transfers by kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	transferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bankbridge_transfer_duration_seconds",
			Help:    "End-to-end transfer latency by kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// Orchestrator runs transfers against the procedure endpoints.
type Orchestrator struct {
	client *Client
	log    *zap.Logger
}

func NewOrchestrator(client *Client, log *zap.Logger) *Orchestrator {
	return &Orchestrator{client: client, log: log}
}

// Run executes one transfer end to end and reports success. Business
// failures are logged and compensated here, never returned as errors.
func (o *Orchestrator) Run(ctx context.Context, req domain.TransferRequest) bool {
	src, err := req.SrcEngine()
	if err != nil {
		o.log.Error("transfer rejected", zap.String("key", req.IdempotencyKey), zap.Error(err))
		return false
	}
	dst, err := req.DstEngine()
	if err != nil {
		o.log.Error("transfer rejected", zap.String("key", req.IdempotencyKey), zap.Error(err))
		return false
	}

	kind := "external"
	if src == dst {
		kind = "internal"
	}
	start := time.Now()
	var ok bool
	if src == dst {
		ok = o.runInternal(ctx, src, req)
	} else {
		ok = o.runExternal(ctx, src, dst, req)
	}
	transferDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if !ok {
		outcome = "fail"
	}
	transfersTotal.WithLabelValues(kind, outcome).Inc()
	return ok
}

// runInternal settles a same-engine transfer: hold, then one confirm that
// moves both legs.
func (o *Orchestrator) runInternal(ctx context.Context, eng domain.Engine, req domain.TransferRequest) bool {
	key := req.IdempotencyKey

	// Step 1: hold funds on the source account.
	result, err := o.hold(ctx, eng, req, domain.TypeInternal)
	if err != nil || statusOf(result) != domain.StatusHeld {
		o.log.Warn("hold failed",
			zap.String("key", key), zap.String("engine", string(eng)),
			zap.Int64("src", req.SrcAccountID), zap.Int64("dst", req.DstAccountID),
			zap.Int64("amount", req.Amount), zap.Any("result", result), zap.Error(err))
		// A lost response may still have recorded the hold.
		if err != nil {
			o.releaseHold(ctx, eng, key)
		}
		return false
	}

	// Step 2: settle both legs in one confirm.
	result, err = o.keyed(ctx, eng, ProcTransferConfirmInternal, key)
	if err != nil || statusOf(result) != domain.StatusConfirmed {
		o.log.Warn("internal confirm failed",
			zap.String("key", key), zap.String("engine", string(eng)),
			zap.Any("result", result), zap.Error(err))
		o.releaseHold(ctx, eng, key)
		return false
	}

	o.log.Info("internal transfer complete",
		zap.String("key", key), zap.String("engine", string(eng)),
		zap.Int64("src", req.SrcAccountID), zap.Int64("dst", req.DstAccountID),
		zap.Int64("amount", req.Amount))
	return true
}

// runExternal settles a cross-engine transfer: hold on the source engine,
// prepare on the destination, confirm the debit, confirm the credit.
func (o *Orchestrator) runExternal(ctx context.Context, src, dst domain.Engine, req domain.TransferRequest) bool {
	key := req.IdempotencyKey

	// Step 1: hold funds on the source engine.
	result, err := o.hold(ctx, src, req, domain.TypeOutgoingExternal)
	if err != nil || statusOf(result) != domain.StatusHeld {
		o.log.Warn("hold failed",
			zap.String("key", key), zap.String("engine", string(src)),
			zap.Int64("src", req.SrcAccountID), zap.Int64("dst", req.DstAccountID),
			zap.Int64("amount", req.Amount), zap.Any("result", result), zap.Error(err))
		if err != nil {
			o.releaseHold(ctx, src, key)
		}
		return false
	}

	// Step 2: prepare the incoming leg on the destination engine.
	result, err = o.prepare(ctx, dst, req)
	if err != nil || statusOf(result) != domain.StatusHeld {
		o.log.Warn("receive prepare failed",
			zap.String("key", key), zap.String("engine", string(dst)),
			zap.Any("result", result), zap.Error(err))
		o.releaseHold(ctx, src, key)
		return false
	}

	// Step 3: confirm the debit on the source engine.
	result, err = o.keyed(ctx, src, ProcConfirmDebitLocal, key)
	if err != nil || statusOf(result) != domain.StatusConfirmed {
		o.log.Warn("debit confirm failed",
			zap.String("key", key), zap.String("engine", string(src)),
			zap.Any("result", result), zap.Error(err))
		o.releaseHold(ctx, src, key)
		return false
	}

	// Step 4: confirm the credit on the destination engine. The debit is
	// already final and there is no compensation for this step; the
	// failure is surfaced for offline reconciliation.
	result, err = o.keyed(ctx, dst, ProcConfirmCreditLocal, key)
	if err != nil || statusOf(result) != domain.StatusConfirmed {
		o.log.Error("credit confirm failed after captured debit",
			zap.String("key", key),
			zap.String("src_engine", string(src)), zap.String("dst_engine", string(dst)),
			zap.Int64("src", req.SrcAccountID), zap.Int64("dst", req.DstAccountID),
			zap.Int64("amount", req.Amount), zap.Any("result", result), zap.Error(err))
		return false
	}

	o.log.Info("external transfer complete",
		zap.String("key", key),
		zap.String("src_engine", string(src)), zap.String("dst_engine", string(dst)),
		zap.Int64("src", req.SrcAccountID), zap.Int64("dst", req.DstAccountID),
		zap.Int64("amount", req.Amount))
	return true
}

// releaseHold gives the source reservation back after a failed transfer.
// Outcomes are only logged; release never turns a failure into a success.
func (o *Orchestrator) releaseHold(ctx context.Context, eng domain.Engine, key string) {
	result, err := o.keyed(ctx, eng, ProcRemittanceRelease, key)
	if err != nil {
		o.log.Warn("hold release failed",
			zap.String("key", key), zap.String("engine", string(eng)), zap.Error(err))
		return
	}
	switch {
	case statusOf(result) == domain.StatusReleased:
		o.log.Info("hold released",
			zap.String("key", key), zap.String("engine", string(eng)))
	case resultOf(result) == domain.ResultAlreadyReleased || resultOf(result) == domain.ResultAlreadyCaptured:
		o.log.Debug("hold already settled",
			zap.String("key", key), zap.String("result", resultOf(result)))
	default:
		o.log.Warn("hold release failed",
			zap.String("key", key), zap.String("engine", string(eng)), zap.Any("result", result))
	}
}

// hold issues the remittance hold for req on eng. The document store takes
// its amount as a string; the SQL engines as a number.
func (o *Orchestrator) hold(ctx context.Context, eng domain.Engine, req domain.TransferRequest, typ string) (map[string]any, error) {
	dstBank := bankCodeOf(req.DstAccountID)
	if eng == domain.EngineMongo {
		return o.client.CallMongo(ctx, ProcRemittanceHold.MongoOp, models.HoldRequest{
			SrcAccountID:   req.SrcAccountID,
			DstAccountID:   req.DstAccountID,
			DstBank:        dstBank,
			Amount:         strconv.FormatInt(req.Amount, 10),
			IdempotencyKey: req.IdempotencyKey,
			Type:           typ,
		})
	}
	args := []any{req.SrcAccountID, req.DstAccountID, dstBank, req.Amount, req.IdempotencyKey, typ}
	return o.client.CallSQL(ctx, eng, ProcRemittanceHold, args)
}

// prepare records the incoming leg on the destination engine.
func (o *Orchestrator) prepare(ctx context.Context, eng domain.Engine, req domain.TransferRequest) (map[string]any, error) {
	dstBank := bankCodeOf(req.DstAccountID)
	if eng == domain.EngineMongo {
		return o.client.CallMongo(ctx, ProcReceivePrepare.MongoOp, models.PrepareRequest{
			SrcAccountID:   req.SrcAccountID,
			DstAccountID:   req.DstAccountID,
			DstBank:        dstBank,
			Amount:         strconv.FormatInt(req.Amount, 10),
			IdempotencyKey: req.IdempotencyKey,
			Type:           domain.TypeIncomingExternal,
		})
	}
	args := []any{req.SrcAccountID, req.DstAccountID, dstBank, req.Amount, req.IdempotencyKey, domain.TypeIncomingExternal}
	return o.client.CallSQL(ctx, eng, ProcReceivePrepare, args)
}

// keyed runs a procedure addressed purely by idempotency key.
func (o *Orchestrator) keyed(ctx context.Context, eng domain.Engine, proc Procedure, key string) (map[string]any, error) {
	if eng == domain.EngineMongo {
		return o.client.CallMongo(ctx, proc.MongoOp, models.KeyRequest{IdempotencyKey: key})
	}
	return o.client.CallSQL(ctx, eng, proc, []any{key})
}

// bankCodeOf is the destination bank code as it travels on the wire: the
// account number's leading digit.
func bankCodeOf(accountID int64) string {
	return strconv.FormatInt(accountID/100000, 10)
}

// statusOf reads the status field of a procedure result. Engines disagree
// on OUT value types, so numbers are accepted alongside strings.
func statusOf(m map[string]any) string { return stringField(m, "status") }

// resultOf reads the result field of a procedure result.
func resultOf(m map[string]any) string { return stringField(m, "result") }

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
