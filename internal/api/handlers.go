// Package api is the HTTP facade: procedure dispatch for the SQL engines,
// the document-store procedure routes, load-generator control, and the
// system reset. Every response travels in the {ok, data|error} envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/engine"
	"github.com/bankbridge/bankbridge/internal/models"
	"github.com/bankbridge/bankbridge/internal/mongoproc"
	"github.com/bankbridge/bankbridge/internal/rdg"
	"github.com/bankbridge/bankbridge/internal/reset"
)

// MongoProcs is the document-store procedure surface served under
// /mongo_proc.
type MongoProcs interface {
	EnsureIndexes(ctx context.Context) error
	RemittanceHold(ctx context.Context, p mongoproc.HoldParams) (mongoproc.Result, error)
	RemittanceRelease(ctx context.Context, idempotencyKey string) (mongoproc.Result, error)
	ReceivePrepare(ctx context.Context, p mongoproc.HoldParams) (mongoproc.Result, error)
	ConfirmDebitLocal(ctx context.Context, idempotencyKey string) (mongoproc.Result, error)
	ConfirmCreditLocal(ctx context.Context, idempotencyKey string) (mongoproc.Result, error)
	TransferConfirmInternal(ctx context.Context, idempotencyKey string) (mongoproc.Result, error)
}

// GeneratorControl is the load-generator lifecycle surface served under
// /rdg.
type GeneratorControl interface {
	Start(cfg rdg.Config) error
	Stop() error
	Running() bool
	Config() rdg.Config
	Snapshot() rdg.Snapshot
}

// Resetter wipes engine state back to its seeded baseline.
type Resetter interface {
	Reset(ctx context.Context) (map[string]string, error)
}

type Handler struct {
	engines  *engine.Registry
	mongo    MongoProcs
	runner   GeneratorControl
	resetter Resetter
	password string
	defaults rdg.Config
	log      *zap.Logger
}

// NewHandler wires the facade. mongo may be nil when the document store is
// not enabled; its routes then answer 400.
func NewHandler(engines *engine.Registry, mongo MongoProcs, runner GeneratorControl, resetter Resetter, password string, defaults rdg.Config, log *zap.Logger) *Handler {
	return &Handler{
		engines:  engines,
		mongo:    mongo,
		runner:   runner,
		resetter: resetter,
		password: password,
		defaults: defaults,
		log:      log,
	}
}

// ExecProcHandler dispatches one stored-procedure call to a SQL engine.
func (h *Handler) ExecProcHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProcExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	eng, err := domain.ParseEngine(req.Dbms)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := engine.ValidateProcName(req.Name); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := h.engines.Get(eng)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := target.CallProcedure(r.Context(), engine.ProcCall{
		Name:     req.Name,
		Args:     req.Args,
		OutCount: req.OutCount,
		OutNames: req.OutNames,
		OutTypes: req.OutTypes,
		Mode:     req.Mode,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrProcedureUnsupported):
			respondWithError(w, http.StatusBadRequest,
				"document-store procedures are served under /mongo_proc")
		case errors.Is(err, domain.ErrEngineBusy):
			respondWithError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.log.Error("procedure call failed",
				zap.String("dbms", req.Dbms),
				zap.String("name", req.Name),
				zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondWithData(w, http.StatusOK, out)
}

// EnginesHandler lists the engines enabled on this deployment.
func (h *Handler) EnginesHandler(w http.ResponseWriter, r *http.Request) {
	respondWithData(w, http.StatusOK, map[string]any{"engines": h.engines.Names()})
}

// HealthzHandler pings every engine with a one-second budget each.
func (h *Handler) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	engines := make(map[string]string)
	healthy := true
	for _, eng := range h.engines.All() {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		err := eng.Ping(ctx)
		cancel()
		if err != nil {
			engines[string(eng.Name())] = "down"
			healthy = false
		} else {
			engines[string(eng.Name())] = "up"
		}
	}
	if !healthy {
		respondWithJSON(w, http.StatusServiceUnavailable, envelope{
			OK:    false,
			Data:  map[string]any{"status": "degraded", "engines": engines},
			Error: "one or more engines are down",
		})
		return
	}
	respondWithData(w, http.StatusOK, map[string]any{"status": "ok", "engines": engines})
}

// MongoInitIndexesHandler builds the unique indexes idempotent replay
// depends on.
func (h *Handler) MongoInitIndexesHandler(w http.ResponseWriter, r *http.Request) {
	if h.mongo == nil {
		respondWithError(w, http.StatusBadRequest, `engine "mongo" is not enabled`)
		return
	}
	if err := h.mongo.EnsureIndexes(r.Context()); err != nil {
		h.log.Error("index build failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithData(w, http.StatusOK, map[string]bool{"initialized": true})
}

func (h *Handler) MongoRemittanceHoldHandler(w http.ResponseWriter, r *http.Request) {
	h.mongoParams(w, r, "remittance/hold", func(ctx context.Context, p mongoproc.HoldParams) (mongoproc.Result, error) {
		return h.mongo.RemittanceHold(ctx, p)
	})
}

func (h *Handler) MongoReceivePrepareHandler(w http.ResponseWriter, r *http.Request) {
	h.mongoParams(w, r, "receive/prepare", func(ctx context.Context, p mongoproc.HoldParams) (mongoproc.Result, error) {
		return h.mongo.ReceivePrepare(ctx, p)
	})
}

func (h *Handler) MongoRemittanceReleaseHandler(w http.ResponseWriter, r *http.Request) {
	h.mongoKeyed(w, r, "remittance/release", func(ctx context.Context, key string) (mongoproc.Result, error) {
		return h.mongo.RemittanceRelease(ctx, key)
	})
}

func (h *Handler) MongoConfirmDebitHandler(w http.ResponseWriter, r *http.Request) {
	h.mongoKeyed(w, r, "confirm/debit/local", func(ctx context.Context, key string) (mongoproc.Result, error) {
		return h.mongo.ConfirmDebitLocal(ctx, key)
	})
}

func (h *Handler) MongoConfirmCreditHandler(w http.ResponseWriter, r *http.Request) {
	h.mongoKeyed(w, r, "confirm/credit/local", func(ctx context.Context, key string) (mongoproc.Result, error) {
		return h.mongo.ConfirmCreditLocal(ctx, key)
	})
}

func (h *Handler) MongoTransferConfirmInternalHandler(w http.ResponseWriter, r *http.Request) {
	h.mongoKeyed(w, r, "transfer/confirm/internal", func(ctx context.Context, key string) (mongoproc.Result, error) {
		return h.mongo.TransferConfirmInternal(ctx, key)
	})
}

// mongoParams serves the two procedures that take the full transfer shape.
func (h *Handler) mongoParams(w http.ResponseWriter, r *http.Request, op string, call func(context.Context, mongoproc.HoldParams) (mongoproc.Result, error)) {
	if h.mongo == nil {
		respondWithError(w, http.StatusBadRequest, `engine "mongo" is not enabled`)
		return
	}
	var req models.HoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	params, err := holdParamsFrom(req)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := call(r.Context(), params)
	if err != nil {
		h.log.Error("document procedure failed",
			zap.String("op", op),
			zap.String("key", params.IdempotencyKey),
			zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithData(w, http.StatusOK, res)
}

// mongoKeyed serves the procedures addressed purely by idempotency key.
func (h *Handler) mongoKeyed(w http.ResponseWriter, r *http.Request, op string, call func(context.Context, string) (mongoproc.Result, error)) {
	if h.mongo == nil {
		respondWithError(w, http.StatusBadRequest, `engine "mongo" is not enabled`)
		return
	}
	var req models.KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.IdempotencyKey == "" {
		respondWithError(w, http.StatusBadRequest, "idempotency_key is required")
		return
	}
	res, err := call(r.Context(), req.IdempotencyKey)
	if err != nil {
		h.log.Error("document procedure failed",
			zap.String("op", op),
			zap.String("key", req.IdempotencyKey),
			zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithData(w, http.StatusOK, res)
}

func holdParamsFrom(req models.HoldRequest) (mongoproc.HoldParams, error) {
	if req.IdempotencyKey == "" {
		return mongoproc.HoldParams{}, errors.New("idempotency_key is required")
	}
	if req.SrcAccountID == 0 || req.DstAccountID == 0 {
		return mongoproc.HoldParams{}, errors.New("src_account_id and dst_account_id are required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return mongoproc.HoldParams{}, errors.New("amount must be a decimal string")
	}
	if amount.Sign() <= 0 {
		return mongoproc.HoldParams{}, errors.New("amount must be positive")
	}
	return mongoproc.HoldParams{
		SrcAccountID:   req.SrcAccountID,
		DstAccountID:   req.DstAccountID,
		DstBank:        req.DstBank,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		Type:           req.Type,
	}, nil
}

// StartRDGHandler starts the load generator; request fields override the
// configured defaults.
func (h *Handler) StartRDGHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RDGStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Password != h.password {
		respondWithError(w, http.StatusForbidden, "Invalid password")
		return
	}

	cfg := h.defaults
	if req.BaseURL != "" {
		cfg.BaseURL = req.BaseURL
	}
	if req.RPS > 0 {
		cfg.RPS = req.RPS
	}
	if req.Concurrent > 0 {
		cfg.Concurrent = req.Concurrent
	}
	if len(req.ActiveDBMS) > 0 {
		engines, err := domain.ParseEngines(req.ActiveDBMS)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Engines = engines
	}
	if req.MinAmount > 0 {
		cfg.MinAmount = req.MinAmount
	}
	if req.MaxAmount > 0 {
		cfg.MaxAmount = req.MaxAmount
	}
	if req.AllowSameDB != nil {
		cfg.AllowSameDB = *req.AllowSameDB
	}

	if err := h.runner.Start(cfg); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithData(w, http.StatusOK, map[string]any{"running": true, "cfg": cfg})
}

// StopRDGHandler stops the generator. Stopping a stopped generator is not
// an error.
func (h *Handler) StopRDGHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Password != h.password {
		respondWithError(w, http.StatusForbidden, "Invalid password")
		return
	}
	if err := h.runner.Stop(); err != nil && !errors.Is(err, rdg.ErrNotRunning) {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithData(w, http.StatusOK, map[string]any{
		"running": false,
		"stats":   h.runner.Snapshot(),
	})
}

// RDGStatusHandler reports the generator's state, settings, and counters.
func (h *Handler) RDGStatusHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.runner.Config()
	if cfg.RPS == 0 {
		// Never started: show the defaults a start would use.
		cfg = h.defaults
	}
	respondWithData(w, http.StatusOK, map[string]any{
		"running": h.runner.Running(),
		"cfg":     cfg,
		"stats":   h.runner.Snapshot(),
	})
}

// ResetHandler wipes every engine back to seed state.
func (h *Handler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Password != h.password {
		respondWithError(w, http.StatusForbidden, "Invalid password")
		return
	}

	out, err := h.resetter.Reset(r.Context())
	if err != nil {
		if errors.Is(err, reset.ErrGeneratorRunning) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	allOK := true
	for _, status := range out {
		if status != "ok" {
			allOK = false
		}
	}
	respondWithData(w, http.StatusOK, map[string]any{"engines": out, "all_ok": allOK})
}

// envelope is the response wrapper. Unlike the client-side models.Envelope,
// data here is any value about to be encoded.
type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func respondWithData(w http.ResponseWriter, code int, data any) {
	respondWithJSON(w, code, envelope{OK: true, Data: data})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, envelope{OK: false, Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
