/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to payout requests, transactions, batches, provider configuration and
 * user balances.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trm/payout-service/internal/domain"
)

var (
	ErrPayoutRequestNotFound = errors.New("payout request not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrBatchNotFound         = errors.New("batch not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidState          = errors.New("entity is not in a compatible state")
	ErrRetryNotEligible      = errors.New("transaction is not eligible for retry")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const payoutRequestColumns = `id, user_id, amount, currency, method, status, processing_history, created_at, updated_at`

func scanPayoutRequest(row pgx.Row) (*domain.PayoutRequest, error) {
	var (
		req        domain.PayoutRequest
		methodRaw  []byte
		historyRaw []byte
	)
	err := row.Scan(&req.ID, &req.UserID, &req.Amount, &req.Currency, &methodRaw, &req.Status, &historyRaw, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(methodRaw, &req.Method); err != nil {
		return nil, fmt.Errorf("failed to decode payout method: %w", err)
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &req.ProcessingHistory); err != nil {
			return nil, fmt.Errorf("failed to decode processing history: %w", err)
		}
	}
	return &req, nil
}

// FindPayoutRequestByID retrieves a payout request with its full processing history.
func (r *PostgresRepository) FindPayoutRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutRequestColumns + ` FROM payout_requests WHERE id = $1`
	req, err := scanPayoutRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// ClaimPayoutRequestForProcessing transitions approved -> processing atomically.
// The WHERE clause on status is the in-flight mutual-exclusion gate.
func (r *PostgresRepository) ClaimPayoutRequestForProcessing(ctx context.Context, requestID uuid.UUID, note string) (*domain.PayoutRequest, error) {
	query := `
		UPDATE payout_requests
		SET status = 'processing',
		    processing_history = processing_history || $2::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status = 'approved'
		RETURNING ` + payoutRequestColumns
	req, err := scanPayoutRequest(r.db.QueryRow(ctx, query, requestID, historyEntryJSON(domain.PayoutStatusProcessing, note)))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Distinguish "gone" from "wrong state" for the caller.
	var status string
	probeErr := r.db.QueryRow(ctx, `SELECT status FROM payout_requests WHERE id = $1`, requestID).Scan(&status)
	if probeErr != nil {
		if errors.Is(probeErr, pgx.ErrNoRows) {
			return nil, ErrPayoutRequestNotFound
		}
		return nil, probeErr
	}
	return nil, fmt.Errorf("%w: payout request is %s", ErrInvalidState, status)
}

// MarkPayoutRequestPaid finalizes a request after a successful transfer.
func (r *PostgresRepository) MarkPayoutRequestPaid(ctx context.Context, requestID uuid.UUID, providerTxID string, note string) error {
	query := `
		UPDATE payout_requests
		SET status = 'paid',
		    processing_history = processing_history || $2::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'`
	tag, err := r.db.Exec(ctx, query, requestID, historyEntryJSON(domain.PayoutStatusPaid, note))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RevertPayoutRequestToApproved makes a request eligible for another attempt
// after a failed transfer, recording the failure reason in its history.
func (r *PostgresRepository) RevertPayoutRequestToApproved(ctx context.Context, requestID uuid.UUID, note string) error {
	query := `
		UPDATE payout_requests
		SET status = 'approved',
		    processing_history = processing_history || $2::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'`
	tag, err := r.db.Exec(ctx, query, requestID, historyEntryJSON(domain.PayoutStatusApproved, note))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// FindApprovedPayoutRequests lists approved requests matching the optional
// amount bounds, oldest first, for scheduled batch creation.
func (r *PostgresRepository) FindApprovedPayoutRequests(ctx context.Context, filter domain.ScheduledBatchFilter) ([]domain.PayoutRequest, error) {
	query := `SELECT ` + payoutRequestColumns + ` FROM payout_requests WHERE status = 'approved'`
	args := []interface{}{}
	if filter.MinAmount != nil {
		args = append(args, *filter.MinAmount)
		query += fmt.Sprintf(" AND amount >= $%d", len(args))
	}
	if filter.MaxAmount != nil {
		args = append(args, *filter.MaxAmount)
		query += fmt.Sprintf(" AND amount <= $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.PayoutRequest
	for rows.Next() {
		req, err := scanPayoutRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

const transactionColumns = `id, payout_request_id, provider_code, amount, fee, currency, method, status,
	retry_count, max_retries, retryable, response_log, provider_tx_id, error_code, error_message, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.PayoutTransaction, error) {
	var (
		tx        domain.PayoutTransaction
		methodRaw []byte
		logRaw    []byte
	)
	err := row.Scan(&tx.ID, &tx.PayoutRequestID, &tx.ProviderCode, &tx.Amount, &tx.Fee, &tx.Currency, &methodRaw, &tx.Status,
		&tx.RetryCount, &tx.MaxRetries, &tx.Retryable, &logRaw, &tx.ProviderTxID, &tx.ErrorCode, &tx.ErrorMessage, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(methodRaw, &tx.Method); err != nil {
		return nil, fmt.Errorf("failed to decode transaction method: %w", err)
	}
	if len(logRaw) > 0 {
		if err := json.Unmarshal(logRaw, &tx.ResponseLog); err != nil {
			return nil, fmt.Errorf("failed to decode response log: %w", err)
		}
	}
	return &tx, nil
}

// CreateTransaction inserts a new transaction in its initial state.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.PayoutTransaction) error {
	methodRaw, err := json.Marshal(tx.Method)
	if err != nil {
		return fmt.Errorf("failed to encode transaction method: %w", err)
	}
	query := `
		INSERT INTO payout_transactions
			(id, payout_request_id, provider_code, amount, fee, currency, method, status, retry_count, max_retries, retryable, response_log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '[]'::jsonb)`
	_, err = r.db.Exec(ctx, query,
		tx.ID, tx.PayoutRequestID, tx.ProviderCode, tx.Amount, tx.Fee, tx.Currency, methodRaw,
		tx.Status, tx.RetryCount, tx.MaxRetries, tx.Retryable)
	return err
}

// FindTransactionByID retrieves a transaction with its provider response log.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.PayoutTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payout_transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// FindTransactionByProviderTxID resolves a webhook's provider-assigned id to
// our internal transaction.
func (r *PostgresRepository) FindTransactionByProviderTxID(ctx context.Context, providerCode, providerTxID string) (*domain.PayoutTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payout_transactions WHERE provider_code = $1 AND provider_tx_id = $2`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, providerCode, providerTxID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// UpdateTransactionStatus moves a transaction through its non-terminal states.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payout_transactions SET status = $2, updated_at = now() WHERE id = $1`,
		transactionID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// AppendProviderResponse appends one request/response exchange to the ordered log.
func (r *PostgresRepository) AppendProviderResponse(ctx context.Context, transactionID uuid.UUID, entry domain.ProviderResponseLogEntry) error {
	raw, err := json.Marshal([]domain.ProviderResponseLogEntry{entry})
	if err != nil {
		return fmt.Errorf("failed to encode response log entry: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE payout_transactions SET response_log = response_log || $2::jsonb, updated_at = now() WHERE id = $1`,
		transactionID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// MarkTransactionCompleted finalizes a successful attempt and stores the
// provider transaction id used for webhook resolution.
func (r *PostgresRepository) MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID, providerTxID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payout_transactions
		SET status = 'completed', provider_tx_id = $2, error_code = NULL, error_message = NULL, updated_at = now()
		WHERE id = $1`,
		transactionID, providerTxID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// MarkTransactionFailed records a failed attempt and its retryability.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, errorCode, errorMessage string, retryable bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payout_transactions
		SET status = 'failed', error_code = $2, error_message = $3, retryable = $4, updated_at = now()
		WHERE id = $1`,
		transactionID, errorCode, errorMessage, retryable)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// PrepareTransactionRetry re-arms a failed transaction for another attempt.
// The guard keeps retry_count strictly below max_retries at claim time, so the
// count increases monotonically and can never pass the budget.
func (r *PostgresRepository) PrepareTransactionRetry(ctx context.Context, transactionID uuid.UUID) (*domain.PayoutTransaction, error) {
	query := `
		UPDATE payout_transactions
		SET status = 'pending', retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'failed' AND retryable AND retry_count < max_retries
		RETURNING ` + transactionColumns
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, transactionID))
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if probeErr := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payout_transactions WHERE id = $1)`, transactionID).Scan(&exists); probeErr != nil {
		return nil, probeErr
	}
	if !exists {
		return nil, ErrTransactionNotFound
	}
	return nil, ErrRetryNotEligible
}

// FindRetryableTransactions lists failed retryable transactions whose backoff
// window has elapsed, oldest failures first.
func (r *PostgresRepository) FindRetryableTransactions(ctx context.Context, failedBefore time.Time, limit int) ([]domain.PayoutTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payout_transactions
		WHERE status = 'failed' AND retryable AND retry_count < max_retries AND updated_at <= $1
		ORDER BY updated_at ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, failedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// FindStuckProcessingTransactions lists transactions that entered 'processing'
// before stuckSince and never resolved; these surface as unreconciled.
func (r *PostgresRepository) FindStuckProcessingTransactions(ctx context.Context, stuckSince time.Time) ([]domain.PayoutTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payout_transactions
		WHERE status = 'processing' AND updated_at <= $1
		ORDER BY updated_at ASC`
	rows, err := r.db.Query(ctx, query, stuckSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]domain.PayoutTransaction, error) {
	var txs []domain.PayoutTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

// TransactionStatusSummary aggregates transaction counts and amounts by status
// over the optional date range.
func (r *PostgresRepository) TransactionStatusSummary(ctx context.Context, filter domain.ReconciliationFilter) ([]domain.StatusBreakdown, error) {
	query := `SELECT status, count(*), coalesce(sum(amount), 0) FROM payout_transactions`
	where, args := reconciliationWindow(filter)
	query += where + ` GROUP BY status ORDER BY status`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusBreakdown
	for rows.Next() {
		var b domain.StatusBreakdown
		if err := rows.Scan(&b.Status, &b.Count, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TransactionProviderSummary aggregates terminal outcomes per provider over
// the optional date range.
func (r *PostgresRepository) TransactionProviderSummary(ctx context.Context, filter domain.ReconciliationFilter) ([]domain.ProviderBreakdown, error) {
	query := `
		SELECT provider_code,
		       count(*) FILTER (WHERE status = 'completed'),
		       count(*) FILTER (WHERE status = 'failed'),
		       coalesce(sum(amount) FILTER (WHERE status = 'completed'), 0)
		FROM payout_transactions`
	where, args := reconciliationWindow(filter)
	query += where + ` GROUP BY provider_code ORDER BY provider_code`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProviderBreakdown
	for rows.Next() {
		var b domain.ProviderBreakdown
		if err := rows.Scan(&b.ProviderCode, &b.Completed, &b.Failed, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func reconciliationWindow(filter domain.ReconciliationFilter) (string, []interface{}) {
	where := ""
	args := []interface{}{}
	and := func() string {
		if where == "" {
			return " WHERE"
		}
		return " AND"
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where += fmt.Sprintf("%s created_at >= $%d", and(), len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where += fmt.Sprintf("%s created_at < $%d", and(), len(args))
	}
	return where, args
}

// CreateBatchWithItems inserts the batch and its item rows in one transaction.
func (r *PostgresRepository) CreateBatchWithItems(ctx context.Context, batch *domain.PayoutBatch, items []domain.PayoutBatchItem) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx)

	errorsRaw, err := json.Marshal(batch.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode batch errors: %w", err)
	}
	_, err = dbTx.Exec(ctx, `
		INSERT INTO payout_batches (id, name, status, chunk_size, parallel_processing, created_by, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batch.ID, batch.Name, batch.Status, batch.ChunkSize, batch.ParallelProcessing, batch.CreatedBy, errorsRaw)
	if err != nil {
		return err
	}

	for _, item := range items {
		_, err = dbTx.Exec(ctx, `
			INSERT INTO payout_batch_items (id, batch_id, payout_request_id, status)
			VALUES ($1, $2, $3, $4)`,
			item.ID, item.BatchID, item.PayoutRequestID, item.Status)
		if err != nil {
			return err
		}
	}
	return dbTx.Commit(ctx)
}

const batchColumns = `id, name, status, chunk_size, parallel_processing, created_by, errors, created_at, updated_at`

func scanBatch(row pgx.Row) (*domain.PayoutBatch, error) {
	var (
		batch     domain.PayoutBatch
		errorsRaw []byte
	)
	err := row.Scan(&batch.ID, &batch.Name, &batch.Status, &batch.ChunkSize, &batch.ParallelProcessing,
		&batch.CreatedBy, &errorsRaw, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &batch.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode batch errors: %w", err)
		}
	}
	return &batch, nil
}

// FindBatchByID retrieves a batch header.
func (r *PostgresRepository) FindBatchByID(ctx context.Context, batchID uuid.UUID) (*domain.PayoutBatch, error) {
	batch, err := scanBatch(r.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM payout_batches WHERE id = $1`, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return batch, nil
}

// FindBatchItems lists a batch's item rows in insertion order.
func (r *PostgresRepository) FindBatchItems(ctx context.Context, batchID uuid.UUID) ([]domain.PayoutBatchItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, batch_id, payout_request_id, status, error_message
		FROM payout_batch_items WHERE batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.PayoutBatchItem
	for rows.Next() {
		var item domain.PayoutBatchItem
		if err := rows.Scan(&item.ID, &item.BatchID, &item.PayoutRequestID, &item.Status, &item.ErrorMessage); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClaimBatchForProcessing transitions pending -> processing atomically.
func (r *PostgresRepository) ClaimBatchForProcessing(ctx context.Context, batchID uuid.UUID) (*domain.PayoutBatch, error) {
	query := `
		UPDATE payout_batches
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + batchColumns
	batch, err := scanBatch(r.db.QueryRow(ctx, query, batchID))
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var status string
	probeErr := r.db.QueryRow(ctx, `SELECT status FROM payout_batches WHERE id = $1`, batchID).Scan(&status)
	if probeErr != nil {
		if errors.Is(probeErr, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, probeErr
	}
	return nil, fmt.Errorf("%w: batch is %s", ErrInvalidState, status)
}

// UpdateBatchItem records one item's outcome.
func (r *PostgresRepository) UpdateBatchItem(ctx context.Context, itemID uuid.UUID, status string, errorMessage *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payout_batch_items SET status = $2, error_message = $3 WHERE id = $1`,
		itemID, status, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// FinalizeBatch writes the rollup status and accumulated error list.
func (r *PostgresRepository) FinalizeBatch(ctx context.Context, batchID uuid.UUID, status string, batchErrors []string) error {
	if batchErrors == nil {
		batchErrors = []string{}
	}
	errorsRaw, err := json.Marshal(batchErrors)
	if err != nil {
		return fmt.Errorf("failed to encode batch errors: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE payout_batches SET status = $2, errors = $3, updated_at = now() WHERE id = $1`,
		batchID, status, errorsRaw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// SettlePayout moves a paid amount from pending balance to earned total in a
// single atomic UPDATE. No cross-record transaction is needed because each
// payout settles independently.
func (r *PostgresRepository) SettlePayout(ctx context.Context, userID uuid.UUID, amount int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET pending_balance = pending_balance - $2,
		    total_earnings = total_earnings + $2,
		    updated_at = now()
		WHERE id = $1`,
		userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// FindActiveProviderConfigs loads the provider registry source rows.
func (r *PostgresRepository) FindActiveProviderConfigs(ctx context.Context) ([]domain.ProviderConfig, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, display_name, channel, base_url, api_key, fee_flat, fee_percent, active
		FROM payout_providers WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []domain.ProviderConfig
	for rows.Next() {
		var cfg domain.ProviderConfig
		if err := rows.Scan(&cfg.Code, &cfg.DisplayName, &cfg.Channel, &cfg.BaseURL, &cfg.APIKey, &cfg.FeeFlat, &cfg.FeePercent, &cfg.Active); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// UpsertProviderStats folds one attempt into the running per-provider counters.
func (r *PostgresRepository) UpsertProviderStats(ctx context.Context, providerCode string, success bool, amount, latencyMS int64) error {
	successInc, failureInc := int64(0), int64(1)
	if success {
		successInc, failureInc = 1, 0
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO provider_stats (provider_code, success_count, failure_count, total_amount, total_latency_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_code) DO UPDATE SET
			success_count = provider_stats.success_count + EXCLUDED.success_count,
			failure_count = provider_stats.failure_count + EXCLUDED.failure_count,
			total_amount = provider_stats.total_amount + EXCLUDED.total_amount,
			total_latency_ms = provider_stats.total_latency_ms + EXCLUDED.total_latency_ms`,
		providerCode, successInc, failureInc, amount, latencyMS)
	return err
}

// ListProviderStats returns the running counters for every provider seen.
func (r *PostgresRepository) ListProviderStats(ctx context.Context) ([]domain.ProviderStats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT provider_code, success_count, failure_count, total_amount, total_latency_ms
		FROM provider_stats ORDER BY provider_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.ProviderStats
	for rows.Next() {
		var s domain.ProviderStats
		if err := rows.Scan(&s.ProviderCode, &s.SuccessCount, &s.FailureCount, &s.TotalAmount, &s.TotalLatencyMS); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// historyEntryJSON builds the JSONB array fragment appended to a request's
// processing history alongside a status change.
func historyEntryJSON(status, note string) []byte {
	entry := []domain.ProcessingHistoryEntry{{
		Status:    status,
		Note:      note,
		Timestamp: time.Now().UTC(),
	}}
	raw, err := json.Marshal(entry)
	if err != nil {
		// A static struct cannot fail to marshal; keep the history well-formed anyway.
		return []byte(`[]`)
	}
	return raw
}
