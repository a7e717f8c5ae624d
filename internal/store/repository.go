/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payout-service. By defining an interface,
 * we decouple the orchestration engine from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/trm/payout-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payout request methods
	FindPayoutRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.PayoutRequest, error)
	// ClaimPayoutRequestForProcessing flips approved -> processing with a guarded
	// UPDATE. It is the mutual-exclusion gate that keeps a request from having two
	// transactions in flight: a request not in 'approved' returns ErrInvalidState.
	ClaimPayoutRequestForProcessing(ctx context.Context, requestID uuid.UUID, note string) (*domain.PayoutRequest, error)
	MarkPayoutRequestPaid(ctx context.Context, requestID uuid.UUID, providerTxID string, note string) error
	RevertPayoutRequestToApproved(ctx context.Context, requestID uuid.UUID, note string) error
	FindApprovedPayoutRequests(ctx context.Context, filter domain.ScheduledBatchFilter) ([]domain.PayoutRequest, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.PayoutTransaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.PayoutTransaction, error)
	FindTransactionByProviderTxID(ctx context.Context, providerCode, providerTxID string) (*domain.PayoutTransaction, error)
	UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error
	AppendProviderResponse(ctx context.Context, transactionID uuid.UUID, entry domain.ProviderResponseLogEntry) error
	MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID, providerTxID string) error
	MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, errorCode, errorMessage string, retryable bool) error
	// PrepareTransactionRetry re-arms a failed retryable transaction: status back
	// to 'pending' and retry_count incremented, guarded so the count can never
	// pass max_retries. Ineligible transactions return ErrRetryNotEligible.
	PrepareTransactionRetry(ctx context.Context, transactionID uuid.UUID) (*domain.PayoutTransaction, error)
	FindRetryableTransactions(ctx context.Context, failedBefore time.Time, limit int) ([]domain.PayoutTransaction, error)
	FindStuckProcessingTransactions(ctx context.Context, stuckSince time.Time) ([]domain.PayoutTransaction, error)
	TransactionStatusSummary(ctx context.Context, filter domain.ReconciliationFilter) ([]domain.StatusBreakdown, error)
	TransactionProviderSummary(ctx context.Context, filter domain.ReconciliationFilter) ([]domain.ProviderBreakdown, error)

	// Batch methods
	CreateBatchWithItems(ctx context.Context, batch *domain.PayoutBatch, items []domain.PayoutBatchItem) error
	FindBatchByID(ctx context.Context, batchID uuid.UUID) (*domain.PayoutBatch, error)
	FindBatchItems(ctx context.Context, batchID uuid.UUID) ([]domain.PayoutBatchItem, error)
	// ClaimBatchForProcessing flips pending -> processing; any other current
	// status returns ErrInvalidState.
	ClaimBatchForProcessing(ctx context.Context, batchID uuid.UUID) (*domain.PayoutBatch, error)
	UpdateBatchItem(ctx context.Context, itemID uuid.UUID, status string, errorMessage *string) error
	FinalizeBatch(ctx context.Context, batchID uuid.UUID, status string, batchErrors []string) error

	// User balance methods
	// SettlePayout atomically moves a paid amount out of the user's pending
	// balance and into their earned total in a single UPDATE.
	SettlePayout(ctx context.Context, userID uuid.UUID, amount int64) error

	// Provider methods
	FindActiveProviderConfigs(ctx context.Context) ([]domain.ProviderConfig, error)
	UpsertProviderStats(ctx context.Context, providerCode string, success bool, amount, latencyMS int64) error
	ListProviderStats(ctx context.Context) ([]domain.ProviderStats, error)
}
