package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the full HTTP surface.
func NewRouter(h *Handler, log *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(log))
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HealthzHandler).Methods(http.MethodGet)

	r.HandleFunc("/db/proc/exec", h.ExecProcHandler).Methods(http.MethodPost)
	r.HandleFunc("/db/engines", h.EnginesHandler).Methods(http.MethodGet)

	m := r.PathPrefix("/mongo_proc").Subrouter()
	m.HandleFunc("/init/indexes", h.MongoInitIndexesHandler).Methods(http.MethodPost)
	m.HandleFunc("/remittance/hold", h.MongoRemittanceHoldHandler).Methods(http.MethodPost)
	m.HandleFunc("/remittance/release", h.MongoRemittanceReleaseHandler).Methods(http.MethodPost)
	m.HandleFunc("/receive/prepare", h.MongoReceivePrepareHandler).Methods(http.MethodPost)
	m.HandleFunc("/confirm/debit/local", h.MongoConfirmDebitHandler).Methods(http.MethodPost)
	m.HandleFunc("/confirm/credit/local", h.MongoConfirmCreditHandler).Methods(http.MethodPost)
	m.HandleFunc("/transfer/confirm/internal", h.MongoTransferConfirmInternalHandler).Methods(http.MethodPost)

	r.HandleFunc("/rdg/start", h.StartRDGHandler).Methods(http.MethodPost)
	r.HandleFunc("/rdg/stop", h.StopRDGHandler).Methods(http.MethodPost)
	r.HandleFunc("/rdg/status", h.RDGStatusHandler).Methods(http.MethodGet)

	r.HandleFunc("/system/reset", h.ResetHandler).Methods(http.MethodPost)

	return r
}
