/**
 * @description
 * This file defines the core domain models for the payout-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit, which avoids
 *   floating-point inaccuracies with financial data.
 * - Status values are plain strings that mirror the database enums; the allowed
 *   transitions are enforced by the orchestration engine and by guarded UPDATEs
 *   in the store layer, not by the type system.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payout request statuses. A request that exhausts its retry budget stays in
// 'approved' with the failure recorded in its processing history.
const (
	PayoutStatusApproved   = "approved"
	PayoutStatusProcessing = "processing"
	PayoutStatusPaid       = "paid"
)

// Payout transaction statuses.
const (
	TxStatusPending    = "pending"
	TxStatusInitiated  = "initiated"
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusFailed     = "failed"
)

// Batch statuses.
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusPartial    = "partial"
)

// Payment channel types. Each provider serves exactly one channel.
const (
	ChannelMobileMoney  = "mobile_money"
	ChannelBankTransfer = "bank_transfer"
)

// Engine error codes surfaced in results and API responses.
const (
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeProviderNotFound = "PROVIDER_NOT_FOUND"
	ErrCodeProcessorError   = "PROCESSOR_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
)

// PayoutMethod describes the destination of a payout: a channel type plus the
// account identifiers that channel needs. It is validated by the approval
// workflow before a request ever reaches this service, and snapshotted onto
// each transaction so retries always target the same destination.
type PayoutMethod struct {
	Channel       string `json:"channel"`                  // 'mobile_money' or 'bank_transfer'
	Network       string `json:"network,omitempty"`        // wallet network code, e.g. 'mtn', 'airtel'
	PhoneNumber   string `json:"phone_number,omitempty"`   // wallet destination
	BankCode      string `json:"bank_code,omitempty"`      // bank destination
	AccountNumber string `json:"account_number,omitempty"` // bank destination
	AccountName   string `json:"account_name,omitempty"`
}

// ProcessingHistoryEntry is one append-only record of a payout request status
// transition. The full list is retained for support and audit views.
type ProcessingHistoryEntry struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PayoutRequest is a referrer's claim on earned funds. The amount is immutable
// once created; only status and processing history change over its lifetime.
type PayoutRequest struct {
	ID                uuid.UUID                `json:"id" db:"id"`
	UserID            uuid.UUID                `json:"user_id" db:"user_id"`
	Amount            int64                    `json:"amount" db:"amount"`
	Currency          string                   `json:"currency" db:"currency"`
	Method            PayoutMethod             `json:"method" db:"method"`
	Status            string                   `json:"status" db:"status"`
	ProcessingHistory []ProcessingHistoryEntry `json:"processing_history" db:"processing_history"`
	CreatedAt         time.Time                `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at" db:"updated_at"`
}

// ProviderResponseLogEntry records one request/response exchange with a
// provider, regardless of outcome. The log is ordered and append-only.
type ProviderResponseLogEntry struct {
	Request    map[string]interface{} `json:"request"`
	Response   map[string]interface{} `json:"response"`
	DurationMS int64                  `json:"duration_ms"`
	At         time.Time              `json:"at"`
}

// PayoutTransaction is one concrete attempt to move money for a PayoutRequest
// via a specific provider. The fee is computed once at creation and never
// recomputed on retry.
type PayoutTransaction struct {
	ID              uuid.UUID                  `json:"id" db:"id"`
	PayoutRequestID uuid.UUID                  `json:"payout_request_id" db:"payout_request_id"`
	ProviderCode    string                     `json:"provider_code" db:"provider_code"`
	Amount          int64                      `json:"amount" db:"amount"`
	Fee             int64                      `json:"fee" db:"fee"`
	Currency        string                     `json:"currency" db:"currency"`
	Method          PayoutMethod               `json:"method" db:"method"`
	Status          string                     `json:"status" db:"status"`
	RetryCount      int                        `json:"retry_count" db:"retry_count"`
	MaxRetries      int                        `json:"max_retries" db:"max_retries"`
	Retryable       bool                       `json:"retryable" db:"retryable"`
	ResponseLog     []ProviderResponseLogEntry `json:"response_log" db:"response_log"`
	ProviderTxID    *string                    `json:"provider_tx_id,omitempty" db:"provider_tx_id"`
	ErrorCode       *string                    `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage    *string                    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time                  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at" db:"updated_at"`
}

// Exhausted reports whether the transaction has no retry budget left.
func (t *PayoutTransaction) Exhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// PayoutBatch is a named group of payout requests processed in one run. It
// holds weak references (ids only) to the requests, never owning them.
type PayoutBatch struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	Status             string    `json:"status" db:"status"`
	ChunkSize          int       `json:"chunk_size" db:"chunk_size"`
	ParallelProcessing bool      `json:"parallel_processing" db:"parallel_processing"`
	CreatedBy          string    `json:"created_by" db:"created_by"`
	Errors             []string  `json:"errors" db:"errors"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// PayoutBatchItem is the per-request outcome tracking row within a batch.
type PayoutBatchItem struct {
	ID              uuid.UUID `json:"id" db:"id"`
	BatchID         uuid.UUID `json:"batch_id" db:"batch_id"`
	PayoutRequestID uuid.UUID `json:"payout_request_id" db:"payout_request_id"`
	Status          string    `json:"status" db:"status"`
	ErrorMessage    *string   `json:"error_message,omitempty" db:"error_message"`
}

// ProviderConfig describes a registered money-movement provider. The registry
// is built from active configs at startup and is read-only afterwards.
type ProviderConfig struct {
	Code        string  `json:"code" db:"code"`
	DisplayName string  `json:"display_name" db:"display_name"`
	Channel     string  `json:"channel" db:"channel"` // 'mobile_money' or 'bank_transfer'
	BaseURL     string  `json:"base_url" db:"base_url"`
	APIKey      string  `json:"-" db:"api_key"`
	FeeFlat     int64   `json:"fee_flat" db:"fee_flat"`       // minor units
	FeePercent  float64 `json:"fee_percent" db:"fee_percent"` // 0..100
	Active      bool    `json:"active" db:"active"`
}

// PayoutResult is the structured, non-throwing outcome of a single payout
// attempt. Batch processing relies on it to continue past item failures.
type PayoutResult struct {
	Success       bool       `json:"success"`
	PayoutID      uuid.UUID  `json:"payout_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	ProviderTxID  *string    `json:"provider_tx_id,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CanRetry      bool       `json:"can_retry"`
}

// BatchResult summarizes a completed batch run.
type BatchResult struct {
	BatchID      uuid.UUID      `json:"batch_id"`
	Status       string         `json:"status"`
	Processed    int            `json:"processed"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	ItemResults  []PayoutResult `json:"item_results"`
	ErrorEntries []string       `json:"errors,omitempty"`
}

// ScheduledBatchFilter selects approved requests for scheduled batch creation.
type ScheduledBatchFilter struct {
	MinAmount *int64 `json:"min_amount,omitempty"`
	MaxAmount *int64 `json:"max_amount,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

// WebhookPayload is the provider callback body, keyed by the provider's own
// transaction id rather than our internal one.
type WebhookPayload struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// WebhookResult reports the outcome of applying a provider webhook.
type WebhookResult struct {
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
	Transaction *PayoutTransaction `json:"transaction,omitempty"`
	Applied     bool               `json:"applied"` // false for idempotent replays
}

// ProviderStats is the running per-provider counters used for reconciliation
// and health reporting.
type ProviderStats struct {
	ProviderCode   string `json:"provider_code" db:"provider_code"`
	SuccessCount   int64  `json:"success_count" db:"success_count"`
	FailureCount   int64  `json:"failure_count" db:"failure_count"`
	TotalAmount    int64  `json:"total_amount" db:"total_amount"`
	TotalLatencyMS int64  `json:"total_latency_ms" db:"total_latency_ms"`
}

// ProviderStatus is the point-in-time health snapshot returned by the status
// sweep. A provider whose balance call fails still appears, with Error set.
type ProviderStatus struct {
	ProviderCode string         `json:"provider_code"`
	Available    int64          `json:"available,omitempty"`
	Currency     string         `json:"currency,omitempty"`
	Healthy      bool           `json:"healthy"`
	Error        string         `json:"error,omitempty"`
	Stats        *ProviderStats `json:"stats,omitempty"`
}

// ReconciliationFilter bounds the reconciliation report by date.
type ReconciliationFilter struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// StatusBreakdown aggregates transaction counts and amounts for one status.
type StatusBreakdown struct {
	Status string `json:"status" db:"status"`
	Count  int64  `json:"count" db:"count"`
	Amount int64  `json:"amount" db:"amount"`
}

// ProviderBreakdown aggregates transaction outcomes for one provider.
type ProviderBreakdown struct {
	ProviderCode string `json:"provider_code" db:"provider_code"`
	Completed    int64  `json:"completed" db:"completed"`
	Failed       int64  `json:"failed" db:"failed"`
	Amount       int64  `json:"amount" db:"amount"`
}

// ReconciliationReport is the operator-facing rollup of transaction state,
// including transactions stuck in processing beyond the configured window.
type ReconciliationReport struct {
	Summary      []StatusBreakdown   `json:"summary"`
	ByProvider   []ProviderBreakdown `json:"by_provider"`
	Unreconciled []PayoutTransaction `json:"unreconciled"`
}
