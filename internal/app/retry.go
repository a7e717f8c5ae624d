package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/trm/payout-service/internal/domain"
	"github.com/trm/payout-service/internal/store"
)

// RetrySummary reports the outcome of one retry sweep.
type RetrySummary struct {
	Scanned   int `json:"scanned"`
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RetryTransaction re-runs a failed transaction against its original provider.
// The transaction keeps its id, destination and the fee computed at creation;
// only retry_count and status move. Eligibility (failed, retryable, budget
// left) is enforced by the store's guarded update.
func (e *Engine) RetryTransaction(ctx context.Context, transactionID uuid.UUID, actor string) (*domain.PayoutResult, error) {
	tx, err := e.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	adapter, ok := e.providers.Get(tx.ProviderCode)
	if !ok {
		return &domain.PayoutResult{
			PayoutID:      tx.PayoutRequestID,
			TransactionID: &tx.ID,
			ErrorCode:     domain.ErrCodeProviderNotFound,
			ErrorMessage:  fmt.Sprintf("provider %s is no longer registered", tx.ProviderCode),
		}, nil
	}

	req, err := e.repo.FindPayoutRequestByID(ctx, tx.PayoutRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to find payout request for transaction %s: %w", tx.ID, err)
	}

	// Claim the request first so a concurrent ProcessPayout cannot open a
	// second transaction while this one is being re-armed.
	req, err = e.claimRequest(ctx, req, tx.ProviderCode, false)
	if err != nil {
		return nil, err
	}

	tx, err = e.repo.PrepareTransactionRetry(ctx, tx.ID)
	if err != nil {
		if revertErr := e.repo.RevertPayoutRequestToApproved(ctx, req.ID, "retry not eligible"); revertErr != nil {
			log.Printf("CRITICAL: failed to release payout request %s after ineligible retry: %v", req.ID, revertErr)
		}
		return nil, err
	}

	e.emitAudit(ctx, actor, "payout.retry", req.ID, map[string]interface{}{
		"transaction_id": tx.ID.String(),
		"retry_count":    tx.RetryCount,
		"max_retries":    tx.MaxRetries,
	})

	result := e.executeAttempt(ctx, req, tx, adapter, actor)
	return result, nil
}

// RetryFailedTransactions sweeps failed retryable transactions whose last
// failure is older than the backoff window and re-runs each. Individual
// ineligibility (a concurrent manual retry, budget exhausted in between) is
// skipped, not fatal.
func (e *Engine) RetryFailedTransactions(ctx context.Context) (*RetrySummary, error) {
	cutoff := time.Now().Add(-e.opts.RetryBackoff)
	candidates, err := e.repo.FindRetryableTransactions(ctx, cutoff, e.opts.RetrySweepLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to find retryable transactions: %w", err)
	}

	summary := &RetrySummary{Scanned: len(candidates)}
	for i := range candidates {
		tx := &candidates[i]
		result, err := e.RetryTransaction(ctx, tx.ID, "retry-sweep")
		if err != nil {
			if errors.Is(err, store.ErrRetryNotEligible) || errors.Is(err, store.ErrInvalidState) {
				summary.Skipped++
				continue
			}
			log.Printf("WARN: retry sweep failed for transaction %s: %v", tx.ID, err)
			summary.Skipped++
			continue
		}
		summary.Retried++
		if result.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	if summary.Retried > 0 {
		log.Printf("retry sweep done: scanned=%d retried=%d succeeded=%d failed=%d skipped=%d",
			summary.Scanned, summary.Retried, summary.Succeeded, summary.Failed, summary.Skipped)
	}
	return summary, nil
}
