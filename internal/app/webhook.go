/**
 * @description
 * Asynchronous provider status updates. Providers confirm or reject transfers
 * out of band; the updates arrive either as signed HTTP webhooks or as events
 * relayed over the message bus. Both paths land in HandleWebhook, which is
 * idempotent: replays of an already-applied status are acknowledged without
 * side effects.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/trm/payout-service/internal/domain"
	"github.com/trm/payout-service/internal/store"
)

// Routing keys the status relay consumer binds to.
const (
	RoutingKeyProviderStatusMomo = "provider.status.momo"
	RoutingKeyProviderStatusBank = "provider.status.bank"
)

// HandleWebhook applies a provider's asynchronous status update. The payload
// is keyed by the provider's own transaction id; an unknown id is acknowledged
// as a no-op so the provider stops redelivering.
func (e *Engine) HandleWebhook(ctx context.Context, providerCode string, payload domain.WebhookPayload) (*domain.WebhookResult, error) {
	tx, err := e.repo.FindTransactionByProviderTxID(ctx, providerCode, payload.TransactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			log.Printf("webhook for unknown transaction: provider=%s provider_tx_id=%s", providerCode, payload.TransactionID)
			return &domain.WebhookResult{Success: false, Error: "Transaction not found"}, nil
		}
		return nil, err
	}

	status, ok := normalizeProviderStatus(payload.Status)
	if !ok {
		return &domain.WebhookResult{
			Success:     false,
			Error:       "unrecognized status: " + payload.Status,
			Transaction: tx,
		}, nil
	}

	// Replays of the state we already hold are acknowledged without touching
	// anything.
	if tx.Status == status {
		return &domain.WebhookResult{Success: true, Applied: false, Transaction: tx}, nil
	}

	// A transaction that reached completed or failed never moves again from a
	// webhook. A provider contradicting a terminal state we already settled on
	// means the two ledgers disagree about money movement; that needs an
	// operator, not an automatic downgrade.
	if tx.Status == domain.TxStatusCompleted || tx.Status == domain.TxStatusFailed {
		if status == domain.TxStatusCompleted || status == domain.TxStatusFailed {
			log.Printf("CRITICAL: provider %s reports %s for transaction %s already %s; ignoring, operator review required",
				tx.ProviderCode, status, tx.ID, tx.Status)
		}
		return &domain.WebhookResult{Success: true, Applied: false, Transaction: tx}, nil
	}

	switch status {
	case domain.TxStatusCompleted:
		return e.applyWebhookCompletion(ctx, tx, payload)
	case domain.TxStatusFailed:
		return e.applyWebhookFailure(ctx, tx, payload)
	default:
		if err := e.repo.UpdateTransactionStatus(ctx, tx.ID, status); err != nil {
			return nil, err
		}
		tx.Status = status
		return &domain.WebhookResult{Success: true, Applied: true, Transaction: tx}, nil
	}
}

func (e *Engine) applyWebhookCompletion(ctx context.Context, tx *domain.PayoutTransaction, payload domain.WebhookPayload) (*domain.WebhookResult, error) {
	providerTxID := payload.TransactionID
	if err := e.repo.MarkTransactionCompleted(ctx, tx.ID, providerTxID); err != nil {
		return nil, err
	}
	tx.Status = domain.TxStatusCompleted
	tx.ProviderTxID = &providerTxID

	req, err := e.repo.FindPayoutRequestByID(ctx, tx.PayoutRequestID)
	if err != nil {
		log.Printf("CRITICAL: completed transaction %s but payout request %s not found: %v", tx.ID, tx.PayoutRequestID, err)
		return &domain.WebhookResult{Success: true, Applied: true, Transaction: tx}, nil
	}

	// A request that failed earlier sits in 'approved'; re-claim it so the
	// paid transition below can fire. The RowsAffected guard on the paid
	// update keeps balance settlement and notification single-shot even if a
	// duplicate delivery races past the replay check above.
	if req.Status == domain.PayoutStatusApproved {
		if claimed, claimErr := e.repo.ClaimPayoutRequestForProcessing(ctx, req.ID, "late completion via "+tx.ProviderCode); claimErr == nil {
			req = claimed
		}
	}
	if err := e.repo.MarkPayoutRequestPaid(ctx, req.ID, providerTxID, "confirmed via "+tx.ProviderCode+" webhook"); err != nil {
		if !errors.Is(err, store.ErrInvalidState) {
			log.Printf("CRITICAL: failed to mark payout request %s paid from webhook: %v", req.ID, err)
		}
		return &domain.WebhookResult{Success: true, Applied: true, Transaction: tx}, nil
	}
	if err := e.repo.SettlePayout(ctx, req.UserID, req.Amount); err != nil {
		log.Printf("CRITICAL: failed to settle balances for user %s on payout %s: %v", req.UserID, req.ID, err)
	}

	e.emitNotification(ctx, req, tx, "payout.paid", "")
	e.emitAudit(ctx, "webhook:"+tx.ProviderCode, "payout.confirmed", req.ID, map[string]interface{}{
		"transaction_id": tx.ID.String(),
		"provider_tx_id": providerTxID,
	})
	return &domain.WebhookResult{Success: true, Applied: true, Transaction: tx}, nil
}

func (e *Engine) applyWebhookFailure(ctx context.Context, tx *domain.PayoutTransaction, payload domain.WebhookPayload) (*domain.WebhookResult, error) {
	errorCode := payload.ErrorCode
	if errorCode == "" {
		errorCode = domain.ErrCodeProcessorError
	}
	errorMessage := payload.ErrorMessage
	if errorMessage == "" {
		errorMessage = "provider reported failure"
	}
	retryable := isRetryableWebhookCode(errorCode)

	if err := e.repo.MarkTransactionFailed(ctx, tx.ID, errorCode, errorMessage, retryable); err != nil {
		return nil, err
	}
	tx.Status = domain.TxStatusFailed
	tx.ErrorCode = &errorCode
	tx.ErrorMessage = &errorMessage
	tx.Retryable = retryable

	req, err := e.repo.FindPayoutRequestByID(ctx, tx.PayoutRequestID)
	if err != nil {
		log.Printf("CRITICAL: failed transaction %s but payout request %s not found: %v", tx.ID, tx.PayoutRequestID, err)
		return &domain.WebhookResult{Success: true, Applied: true, Transaction: tx}, nil
	}
	if req.Status == domain.PayoutStatusProcessing {
		note := "provider reported failure: " + errorMessage + " (" + errorCode + ")"
		if revertErr := e.repo.RevertPayoutRequestToApproved(ctx, req.ID, note); revertErr != nil {
			log.Printf("CRITICAL: failed to release payout request %s after webhook failure: %v", req.ID, revertErr)
		}
	}

	if !retryable || tx.Exhausted() {
		e.emitNotification(ctx, req, tx, "payout.failed", errorMessage)
	}
	e.emitAudit(ctx, "webhook:"+tx.ProviderCode, "payout.provider_failed", req.ID, map[string]interface{}{
		"transaction_id": tx.ID.String(),
		"error_code":     errorCode,
		"retryable":      retryable,
	})
	return &domain.WebhookResult{Success: true, Applied: true, Transaction: tx}, nil
}

// normalizeProviderStatus maps the status vocabularies providers actually use
// onto our transaction statuses.
func normalizeProviderStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "successful", "success", "completed", "paid":
		return domain.TxStatusCompleted, true
	case "failed", "failure", "rejected", "declined":
		return domain.TxStatusFailed, true
	case "pending", "processing", "initiated", "accepted":
		return domain.TxStatusProcessing, true
	default:
		return "", false
	}
}

func isRetryableWebhookCode(code string) bool {
	switch code {
	case "TIMEOUT", "PROVIDER_UNAVAILABLE", "RATE_LIMITED", "INSUFFICIENT_FLOAT", "INTERNAL_ERROR", domain.ErrCodeProcessorError:
		return true
	default:
		return false
	}
}

// ProviderStatusHandler returns the AMQP delivery handler for relayed provider
// status events. Malformed payloads are acked (re-queuing cannot fix them);
// repository errors nack for redelivery.
func (e *Engine) ProviderStatusHandler(providerCode string) func([]byte) bool {
	return func(body []byte) bool {
		var event domain.ProviderStatusEvent
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("level=error component=provider_status_consumer msg=\"malformed event; dropping\" provider=%s err=%v", providerCode, err)
			return true
		}
		code := event.ProviderCode
		if code == "" {
			code = providerCode
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := e.HandleWebhook(ctx, code, domain.WebhookPayload{
			TransactionID: event.ProviderTxID,
			Status:        event.Status,
			ErrorCode:     event.ErrorCode,
			ErrorMessage:  event.ErrorMessage,
		})
		if err != nil {
			log.Printf("level=error component=provider_status_consumer msg=\"apply failed; re-queuing\" provider=%s provider_tx_id=%s err=%v", code, event.ProviderTxID, err)
			return false
		}
		if !result.Success {
			// Unknown transaction or unusable status; redelivery will not help.
			log.Printf("level=warn component=provider_status_consumer msg=\"event not applied\" provider=%s provider_tx_id=%s reason=%q", code, event.ProviderTxID, result.Error)
		}
		return true
	}
}
