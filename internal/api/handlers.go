package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/punchamoorthee/mandates/internal/domain"
	"github.com/punchamoorthee/mandates/internal/models"
	"github.com/punchamoorthee/mandates/internal/service"
	"github.com/punchamoorthee/mandates/internal/store"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseLive reads the namespace flag; test is the default.
func parseLive(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("live")
	if v == "" {
		return false, nil
	}
	live, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid live flag %q", v)
	}
	return live, nil
}

func parseTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC 3339 time", key)
	}
	return &t, nil
}

func (h *Handler) ListMandatesHandler(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseTime(r, "from")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	mandates, err := h.mandates.ListPaymentMandates(r.Context(), accountID, live, store.ListOptions{From: from, To: to})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewMandateList(mandates))
}

func (h *Handler) CreateMandateHandler(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req models.CreateMandateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	m, err := h.mandates.CreatePaymentMandate(r.Context(), service.CreateMandateInput{
		AccountID:       accountID,
		Live:            live,
		Type:            req.Type,
		AmountLimit:     req.AmountLimit,
		UsageCountLimit: req.UsageCountLimit,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v1/accounts/%s/payment_mandates/%s", accountID, m.ID))
	respondWithJSON(w, http.StatusCreated, models.NewMandate(m))
}

func (h *Handler) GetMandateHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, found, err := h.mandates.GetPaymentMandate(r.Context(), vars["account_id"], live, vars["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Payment mandate not found")
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewMandate(m))
}

func (h *Handler) UseMandateHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req models.UseMandateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	m, found, err := h.mandates.UsePaymentMandate(r.Context(), vars["account_id"], live, vars["id"], req.Amount)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Payment mandate not found")
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewMandate(m))
}

func (h *Handler) RevokeMandateHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, found, err := h.mandates.RevokePaymentMandate(r.Context(), vars["account_id"], live, vars["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Payment mandate not found")
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewMandate(m))
}

// CreateCaptureHandler uses the referenced mandate and records a pending
// capture against it.
func (h *Handler) CreateCaptureHandler(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req models.CreateCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	c, found, err := h.captures.CreateCapture(r.Context(), service.CreateCaptureInput{
		AccountID:      accountID,
		Live:           live,
		PaymentMandate: req.PaymentMandate,
		Amount:         req.Amount,
		Currency:       req.Currency,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Payment mandate not found")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v1/accounts/%s/captures/%s", accountID, c.ID))
	respondWithJSON(w, http.StatusCreated, models.NewCapture(c))
}

func (h *Handler) GetCaptureHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, found, err := h.captures.GetCapture(r.Context(), vars["account_id"], live, vars["capture_id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Payment capture not found")
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewCapture(c))
}

func (h *Handler) ReconcileCaptureHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, found, err := h.captures.ReconcileCapture(r.Context(), vars["account_id"], live, vars["capture_id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Payment capture not found")
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewReconciliation(result.Capture, result.Changed))
}

func (h *Handler) CaptureBalancesHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	balances, found, err := h.captures.CaptureBalances(r.Context(), vars["account_id"], live, vars["capture_id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Payment capture not found")
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewBalanceList(balances))
}

// RecordTransactionHandler accepts a settlement update. When the transaction
// belongs to a known capture the reconciled capture is returned; otherwise
// the update is stored and acknowledged with 202.
func (h *Handler) RecordTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	result, found, err := h.captures.RecordTransaction(r.Context(), tx)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if !found {
		respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "recorded", "id": tx.ID})
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewReconciliation(result.Capture, result.Changed))
}

func (h *Handler) EraseAccountHandler(w http.ResponseWriter, r *http.Request) {
	live, err := parseLive(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.accounts.EraseAccount(r.Context(), mux.Vars(r)["account_id"], live, h.features); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
