/**
 * @description
 * Provider webhook intake. Deliveries are authenticated with an HMAC-SHA256
 * signature over "<timestamp>.<payload>" carried in the X-TRM-Signature header
 * as "v1=<hex>", with X-TRM-Timestamp bounding replay age. Verified deliveries
 * are deduplicated by signature before reaching the engine.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/trm/payout-service/internal/domain"
)

const (
	webhookSignatureHeader = "X-TRM-Signature"
	webhookTimestampHeader = "X-TRM-Timestamp"
	maxWebhookBodyBytes    = 1 << 20
)

// WebhookHandler receives asynchronous status updates from providers. Unknown
// transactions are acknowledged with 200 so the provider stops redelivering;
// only signature failures and malformed payloads are rejected.
func (h *PayoutHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	providerCode := chi.URLParam(r, "providerCode")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	signature := r.Header.Get(webhookSignatureHeader)
	timestamp := r.Header.Get(webhookTimestampHeader)
	if h.webhookSecret != "" {
		if !h.verifyWebhookSignature(body, signature, timestamp) {
			log.Printf("level=warn component=api msg=\"webhook signature rejected\" provider=%s", providerCode)
			h.writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
	}

	if !h.dedupe.FirstDelivery(r.Context(), providerCode, signature) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"applied": false,
		})
		return
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.TransactionID == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	result, err := h.engine.HandleWebhook(r.Context(), providerCode, payload)
	if err != nil {
		log.Printf("level=error component=api msg=\"webhook apply failed\" provider=%s provider_tx_id=%s err=%v", providerCode, payload.TransactionID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to apply webhook")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// verifyWebhookSignature checks the "v1=<hex>" HMAC over "<timestamp>.<body>".
func (h *PayoutHandlers) verifyWebhookSignature(body []byte, signature, timestamp string) bool {
	if signature == "" || timestamp == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(ts, 0))
	if age > h.webhookTolerance || age < -h.webhookTolerance {
		return false
	}

	provided, ok := strings.CutPrefix(signature, "v1=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(provided))
}
