/**
 * @description
 * This file contains the HTTP handlers for the payout-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * orchestration engine, and writing the HTTP response. They act as the bridge
 * between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For engine logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/trm/payout-service/internal/app"
	"github.com/trm/payout-service/internal/domain"
	"github.com/trm/payout-service/internal/store"
)

// PayoutHandlers holds the orchestration engine that handlers will use.
type PayoutHandlers struct {
	engine           *app.Engine
	dedupe           *app.WebhookDeduper
	webhookSecret    string
	webhookTolerance time.Duration
}

// NewPayoutHandlers creates a new instance of PayoutHandlers. dedupe may be
// nil when Redis is not configured.
func NewPayoutHandlers(engine *app.Engine, dedupe *app.WebhookDeduper, webhookSecret string, webhookTolerance time.Duration) *PayoutHandlers {
	if webhookTolerance <= 0 {
		webhookTolerance = 5 * time.Minute
	}
	return &PayoutHandlers{
		engine:           engine,
		dedupe:           dedupe,
		webhookSecret:    webhookSecret,
		webhookTolerance: webhookTolerance,
	}
}

type processPayoutRequest struct {
	ProviderCode string `json:"provider_code,omitempty"`
}

// ProcessPayoutHandler handles requests to process a single approved payout.
func (h *PayoutHandlers) ProcessPayoutHandler(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.parseID(w, r, "requestID")
	if !ok {
		return
	}

	var body processPayoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	actor, _ := GetAuthenticatedUserID(r.Context())
	result, err := h.engine.ProcessPayout(r.Context(), requestID, app.ProcessOptions{
		ProviderCode: body.ProviderCode,
		Actor:        actor,
	})
	if err != nil {
		h.writeEngineError(w, err, "failed to process payout", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RetryTransactionHandler handles manual retries of a failed transaction.
func (h *PayoutHandlers) RetryTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.parseID(w, r, "transactionID")
	if !ok {
		return
	}

	actor, _ := GetAuthenticatedUserID(r.Context())
	result, err := h.engine.RetryTransaction(r.Context(), transactionID, actor)
	if err != nil {
		h.writeEngineError(w, err, "failed to retry transaction", transactionID)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type createScheduledBatchRequest struct {
	MinAmount *int64 `json:"min_amount,omitempty"`
	MaxAmount *int64 `json:"max_amount,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Parallel  bool   `json:"parallel,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"`
}

// CreateScheduledBatchHandler groups approved payout requests into a new
// batch without processing it.
func (h *PayoutHandlers) CreateScheduledBatchHandler(w http.ResponseWriter, r *http.Request) {
	var body createScheduledBatchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	actor, _ := GetAuthenticatedUserID(r.Context())
	filter := domain.ScheduledBatchFilter{
		MinAmount: body.MinAmount,
		MaxAmount: body.MaxAmount,
		Limit:     body.Limit,
		CreatedBy: actor,
	}
	batch, count, err := h.engine.CreateScheduledBatch(r.Context(), filter, body.Parallel, body.ChunkSize)
	if err != nil {
		log.Printf("level=error component=api msg=\"scheduled batch creation failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to create batch")
		return
	}
	if batch == nil {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":    "No approved payout requests matched the filter",
			"item_count": 0,
		})
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"batch":      batch,
		"item_count": count,
	})
}

// ProcessBatchHandler runs a pending batch.
func (h *PayoutHandlers) ProcessBatchHandler(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.parseID(w, r, "batchID")
	if !ok {
		return
	}

	result, err := h.engine.ProcessBatch(r.Context(), batchID)
	if err != nil {
		h.writeEngineError(w, err, "failed to process batch", batchID)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetPayoutRequestHandler returns a payout request with its processing history.
func (h *PayoutHandlers) GetPayoutRequestHandler(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.parseID(w, r, "requestID")
	if !ok {
		return
	}
	req, err := h.engine.GetPayoutRequest(r.Context(), requestID)
	if err != nil {
		h.writeEngineError(w, err, "failed to load payout request", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// GetTransactionHandler returns a transaction with its provider response log.
func (h *PayoutHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.parseID(w, r, "transactionID")
	if !ok {
		return
	}
	tx, err := h.engine.GetTransaction(r.Context(), transactionID)
	if err != nil {
		h.writeEngineError(w, err, "failed to load transaction", transactionID)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// GetBatchHandler returns a batch with its items.
func (h *PayoutHandlers) GetBatchHandler(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.parseID(w, r, "batchID")
	if !ok {
		return
	}
	batch, items, err := h.engine.GetBatch(r.Context(), batchID)
	if err != nil {
		h.writeEngineError(w, err, "failed to load batch", batchID)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch": batch,
		"items": items,
	})
}

// GetReconciliationHandler returns the operator reconciliation report. The
// optional from/to query params are RFC 3339 timestamps.
func (h *PayoutHandlers) GetReconciliationHandler(w http.ResponseWriter, r *http.Request) {
	var filter domain.ReconciliationFilter
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp")
			return
		}
		filter.From = &from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp")
			return
		}
		filter.To = &to
	}

	report, err := h.engine.GetReconciliationReport(r.Context(), filter)
	if err != nil {
		log.Printf("level=error component=api msg=\"reconciliation report failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to build reconciliation report")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// GetProviderStatusesHandler returns every registered provider's health and
// running counters.
func (h *PayoutHandlers) GetProviderStatusesHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.GetProviderStatuses(r.Context()))
}

type verifyMethodRequest struct {
	Method       domain.PayoutMethod `json:"method"`
	ProviderCode string              `json:"provider_code,omitempty"`
}

// VerifyMethodHandler checks a payout destination against the provider that
// would serve it.
func (h *PayoutHandlers) VerifyMethodHandler(w http.ResponseWriter, r *http.Request) {
	var body verifyMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	verification, err := h.engine.VerifyPayoutMethod(r.Context(), body.Method, body.ProviderCode)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, verification)
}

// RetrySweepHandler triggers the retry sweep on demand. Exposed on the
// internal surface for operators and sibling services.
func (h *PayoutHandlers) RetrySweepHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.RetryFailedTransactions(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"retry sweep failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Retry sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *PayoutHandlers) parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// writeEngineError maps store sentinels onto HTTP statuses.
func (h *PayoutHandlers) writeEngineError(w http.ResponseWriter, err error, logMsg string, id uuid.UUID) {
	switch {
	case errors.Is(err, store.ErrPayoutRequestNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrBatchNotFound):
		h.writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, store.ErrInvalidState):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrRetryNotEligible):
		h.writeError(w, http.StatusConflict, "Transaction is not eligible for retry")
	default:
		log.Printf("level=error component=api msg=%q id=%s err=%v", logMsg, id, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PayoutHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PayoutHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
