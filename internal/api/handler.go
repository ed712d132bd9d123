package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/mandates/internal/config"
	"github.com/punchamoorthee/mandates/internal/domain"
	"github.com/punchamoorthee/mandates/internal/lock"
	"github.com/punchamoorthee/mandates/internal/service"
	"github.com/punchamoorthee/mandates/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandates_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mandates_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	mandates *service.MandateService
	captures *service.CaptureService
	accounts *service.AccountService
	ping     func(ctx context.Context) error
	features config.Features
	timeout  time.Duration
	logger   *zap.Logger
}

type Deps struct {
	Mandates *service.MandateService
	Captures *service.CaptureService
	Accounts *service.AccountService
	// Ping reports store health; nil means always healthy.
	Ping func(ctx context.Context) error
}

func NewHandler(deps Deps, cfg *config.Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ping := deps.Ping
	if ping == nil {
		ping = func(context.Context) error { return nil }
	}
	return &Handler{
		mandates: deps.Mandates,
		captures: deps.Captures,
		accounts: deps.Accounts,
		ping:     ping,
		features: cfg.Features,
		timeout:  cfg.RequestTimeout,
		logger:   logger,
	}
}

// Router registers every route on a new mux router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	const (
		mandates = "/v1/accounts/{account_id}/payment_mandates"
		mandate  = mandates + "/{id}"
		captures = "/v1/accounts/{account_id}/captures"
		capture  = captures + "/{capture_id}"
	)

	h.route(r, http.MethodGet, mandates, h.ListMandatesHandler)
	h.route(r, http.MethodPost, mandates, h.CreateMandateHandler)
	h.route(r, http.MethodGet, mandate, h.GetMandateHandler)
	h.route(r, http.MethodPost, mandate+"/use", h.UseMandateHandler)
	h.route(r, http.MethodPost, mandate+"/revoke", h.RevokeMandateHandler)
	h.route(r, http.MethodPost, captures, h.CreateCaptureHandler)
	h.route(r, http.MethodGet, capture, h.GetCaptureHandler)
	h.route(r, http.MethodPost, capture+"/reconcile", h.ReconcileCaptureHandler)
	h.route(r, http.MethodGet, capture+"/balances", h.CaptureBalancesHandler)
	h.route(r, http.MethodPost, "/v1/transactions", h.RecordTransactionHandler)
	h.route(r, http.MethodDelete, "/v1/accounts/{account_id}", h.EraseAccountHandler)
	h.route(r, http.MethodGet, "/health", h.HealthCheckHandler)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// route wraps fn with the request timeout and the HTTP metrics, labelled by
// the route template rather than the concrete path.
func (h *Handler) route(r *mux.Router, method, endpoint string, fn http.HandlerFunc) {
	r.HandleFunc(endpoint, func(w http.ResponseWriter, req *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(method, endpoint))
		defer timer.ObserveDuration()

		ctx := req.Context()
		if h.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
			defer cancel()
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, req.WithContext(ctx))
		httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(rec.status)).Inc()
	}).Methods(method)
}

// respondWithServiceError maps service and domain errors onto status codes.
// Anything unexpected is logged and reported as a 500 without detail.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var inactive *domain.MandateInactiveError
	switch {
	case errors.As(err, &inactive):
		respondWithError(w, http.StatusConflict, inactive.Error())
	case errors.Is(err, service.ErrMandateConflict), errors.Is(err, lock.ErrBusy):
		respondWithError(w, http.StatusConflict, "payment mandate is being modified, retry")
	case errors.Is(err, store.ErrOwnerMismatch):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrAmountLimitExceeded),
		errors.Is(err, service.ErrZeroAmount),
		errors.Is(err, service.ErrInvalidMandate),
		errors.Is(err, service.ErrInvalidCapture),
		errors.Is(err, service.ErrInvalidTransaction):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrErasureDisabled):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
