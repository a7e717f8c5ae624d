/**
 * @description
 * This file contains the core orchestration logic for the payout-service. The
 * `Engine` struct turns approved payout requests into completed (or durably
 * failed) money transfers, coordinating the provider registry, the database
 * repository and the message broker.
 *
 * Key features:
 * - Single-payout processing with the request-level state gate that keeps at
 *   most one transaction in flight per request.
 * - Structured, non-throwing failure results so batch runs continue past
 *   individual item failures.
 * - Fire-and-forget side effects: notification and audit publishing failures
 *   are logged, never escalated into payout failures.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/provider, internal/store: Domain models, rails and data access.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/trm/payout-service/internal/domain"
	"github.com/trm/payout-service/internal/provider"
	"github.com/trm/payout-service/internal/store"
	"github.com/trm/payout-service/pkg/rabbitmq"
)

// Options carries the tunables the engine reads from configuration.
type Options struct {
	MaxRetries        int
	RetryBackoff      time.Duration
	StuckAfter        time.Duration
	DefaultChunkSize  int
	RetrySweepLimit   int
	NarrationTemplate string

	// DefaultFeePercent is the fee rule for providers whose config carries no
	// fee of its own.
	DefaultFeePercent float64
}

// Engine provides the payout orchestration logic.
type Engine struct {
	repo      store.Repository
	providers *provider.Registry
	events    rabbitmq.Publisher
	opts      Options
}

// ProcessOptions adjusts a single ProcessPayout call.
type ProcessOptions struct {
	ProviderCode string // explicit override; empty means resolve from the method
	Actor        string // recorded in audit events

	// batchReserved is set only by the batch runner, for requests it moved to
	// 'processing' at batch creation. Every other caller must win the
	// approved -> processing claim.
	batchReserved bool
}

// NewEngine creates a new orchestration engine. The provider registry is
// built once at startup and treated as read-only for the engine's lifetime.
func NewEngine(repo store.Repository, providers *provider.Registry, events rabbitmq.Publisher, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Minute
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 30 * time.Minute
	}
	if opts.DefaultChunkSize <= 0 {
		opts.DefaultChunkSize = 25
	}
	if opts.RetrySweepLimit <= 0 {
		opts.RetrySweepLimit = 200
	}
	if opts.NarrationTemplate == "" {
		opts.NarrationTemplate = "TRM referral payout %s"
	}
	return &Engine{
		repo:      repo,
		providers: providers,
		events:    events,
		opts:      opts,
	}
}

// ProcessPayout executes a single payout attempt end to end.
//
// Not-found and wrong-state conditions are returned as errors (the caller did
// something wrong); provider-side failures come back as a PayoutResult with
// Success=false so batch processing can continue past them.
func (e *Engine) ProcessPayout(ctx context.Context, requestID uuid.UUID, opts ProcessOptions) (*domain.PayoutResult, error) {
	req, err := e.repo.FindPayoutRequestByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to find payout request: %w", err)
	}

	providerCode, err := e.providers.Resolve(req.Method, opts.ProviderCode)
	if err != nil {
		// Configuration problem: fail fast without touching any state.
		log.Printf("ProcessPayout: no provider for request %s: %v", requestID, err)
		return &domain.PayoutResult{
			PayoutID:     req.ID,
			ErrorCode:    domain.ErrCodeProviderNotFound,
			ErrorMessage: err.Error(),
		}, nil
	}
	adapter, _ := e.providers.Get(providerCode)
	providerCfg, _ := e.providers.Config(providerCode)

	// The approved -> processing transition is the mutual-exclusion gate: a
	// request with a transaction already in flight is not in 'approved' and
	// fails here instead of racing.
	req, err = e.claimRequest(ctx, req, providerCode, opts.batchReserved)
	if err != nil {
		return nil, err
	}

	// Providers without a fee rule of their own fall back to the platform-wide
	// percentage.
	feeCfg := providerCfg
	if feeCfg.FeeFlat == 0 && feeCfg.FeePercent == 0 {
		feeCfg.FeePercent = e.opts.DefaultFeePercent
	}

	tx := &domain.PayoutTransaction{
		ID:              uuid.New(),
		PayoutRequestID: req.ID,
		ProviderCode:    providerCode,
		Amount:          req.Amount,
		Fee:             provider.Fee(feeCfg, req.Amount),
		Currency:        req.Currency,
		Method:          req.Method,
		Status:          domain.TxStatusPending,
		MaxRetries:      e.opts.MaxRetries,
	}
	if err := e.repo.CreateTransaction(ctx, tx); err != nil {
		if revertErr := e.repo.RevertPayoutRequestToApproved(ctx, req.ID, "transaction creation failed"); revertErr != nil {
			log.Printf("CRITICAL: failed to release payout request %s after transaction creation failure: %v", req.ID, revertErr)
		}
		return nil, fmt.Errorf("failed to create payout transaction: %w", err)
	}

	result := e.executeAttempt(ctx, req, tx, adapter, opts.Actor)
	return result, nil
}

// claimRequest flips approved -> processing. A request reserved for a pending
// batch arrives here already in 'processing' with no transaction attached yet;
// only the batch runner may honor that reservation. Any other caller hitting a
// request it did not claim fails fast, so a manual call racing a batch run (or
// another manual call) cannot open a second transaction.
func (e *Engine) claimRequest(ctx context.Context, req *domain.PayoutRequest, providerCode string, batchReserved bool) (*domain.PayoutRequest, error) {
	claimed, err := e.repo.ClaimPayoutRequestForProcessing(ctx, req.ID, "processing via "+providerCode)
	if err == nil {
		return claimed, nil
	}
	if batchReserved && errors.Is(err, store.ErrInvalidState) && req.Status == domain.PayoutStatusProcessing {
		return req, nil
	}
	return nil, err
}

// executeAttempt drives one transaction attempt through
// initiated -> processing -> {completed | failed}, recording the full
// request/response exchange regardless of outcome. The fee on tx is never
// touched here, so retries keep the fee computed at creation.
func (e *Engine) executeAttempt(ctx context.Context, req *domain.PayoutRequest, tx *domain.PayoutTransaction, adapter provider.Adapter, actor string) *domain.PayoutResult {
	if err := e.repo.UpdateTransactionStatus(ctx, tx.ID, domain.TxStatusInitiated); err != nil {
		log.Printf("WARN: failed to mark transaction %s initiated: %v", tx.ID, err)
	}
	if err := e.repo.UpdateTransactionStatus(ctx, tx.ID, domain.TxStatusProcessing); err != nil {
		log.Printf("WARN: failed to mark transaction %s processing: %v", tx.ID, err)
	}

	instruction := provider.PaymentInstruction{
		Reference: tx.ID.String(),
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Method:    tx.Method,
		Narration: fmt.Sprintf(e.opts.NarrationTemplate, req.ID),
	}

	started := time.Now()
	payment, invokeErr := invokeAdapter(ctx, adapter, instruction)
	latency := time.Since(started)

	e.recordExchange(ctx, tx.ID, instruction, payment, invokeErr, latency)

	if statsErr := e.repo.UpsertProviderStats(ctx, tx.ProviderCode, invokeErr == nil && payment != nil && payment.Success, tx.Amount, latency.Milliseconds()); statsErr != nil {
		log.Printf("WARN: failed to update provider stats for %s: %v", tx.ProviderCode, statsErr)
	}

	if invokeErr != nil {
		// Transport failures and panics never classify as terminal.
		return e.failAttempt(ctx, req, tx, domain.ErrCodeProcessorError, invokeErr.Error(), true, actor)
	}
	if !payment.Success {
		return e.failAttempt(ctx, req, tx, payment.ErrorCode, payment.ErrorMessage, provider.IsRetryable(payment.ErrorCode), actor)
	}
	return e.completeAttempt(ctx, req, tx, payment.ProviderTxID, actor)
}

// invokeAdapter calls the rail, converting panics into errors so an adapter
// bug degrades into a PROCESSOR_ERROR failure instead of taking the
// orchestrator down mid-batch.
func invokeAdapter(ctx context.Context, adapter provider.Adapter, in provider.PaymentInstruction) (result *provider.PaymentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return adapter.ProcessPayment(ctx, in)
}

func (e *Engine) recordExchange(ctx context.Context, txID uuid.UUID, in provider.PaymentInstruction, payment *provider.PaymentResult, invokeErr error, latency time.Duration) {
	response := map[string]interface{}{}
	if invokeErr != nil {
		response["error"] = invokeErr.Error()
	} else if payment != nil {
		response["success"] = payment.Success
		if payment.ProviderTxID != "" {
			response["provider_tx_id"] = payment.ProviderTxID
		}
		if payment.ErrorCode != "" {
			response["error_code"] = payment.ErrorCode
			response["error_message"] = payment.ErrorMessage
		}
	}
	entry := domain.ProviderResponseLogEntry{
		Request: map[string]interface{}{
			"reference": in.Reference,
			"amount":    in.Amount,
			"currency":  in.Currency,
			"narration": in.Narration,
		},
		Response:   response,
		DurationMS: latency.Milliseconds(),
		At:         time.Now().UTC(),
	}
	if err := e.repo.AppendProviderResponse(ctx, txID, entry); err != nil {
		log.Printf("WARN: failed to append provider response for transaction %s: %v", txID, err)
	}
}

func (e *Engine) completeAttempt(ctx context.Context, req *domain.PayoutRequest, tx *domain.PayoutTransaction, providerTxID, actor string) *domain.PayoutResult {
	if err := e.repo.MarkTransactionCompleted(ctx, tx.ID, providerTxID); err != nil {
		log.Printf("CRITICAL: provider accepted transfer %s but transaction %s could not be completed: %v", providerTxID, tx.ID, err)
	}
	if err := e.repo.MarkPayoutRequestPaid(ctx, req.ID, providerTxID, "paid via "+tx.ProviderCode); err != nil {
		log.Printf("CRITICAL: failed to mark payout request %s paid: %v", req.ID, err)
	}
	if err := e.repo.SettlePayout(ctx, req.UserID, req.Amount); err != nil {
		log.Printf("CRITICAL: failed to settle balances for user %s on payout %s: %v", req.UserID, req.ID, err)
	}

	e.emitNotification(ctx, req, tx, rabbitmq.RoutingKeyPayoutPaid, "")
	e.emitAudit(ctx, actor, "payout.processed", req.ID, map[string]interface{}{
		"transaction_id": tx.ID.String(),
		"provider_code":  tx.ProviderCode,
		"provider_tx_id": providerTxID,
		"amount":         req.Amount,
	})

	return &domain.PayoutResult{
		Success:       true,
		PayoutID:      req.ID,
		TransactionID: &tx.ID,
		ProviderTxID:  &providerTxID,
	}
}

func (e *Engine) failAttempt(ctx context.Context, req *domain.PayoutRequest, tx *domain.PayoutTransaction, errorCode, errorMessage string, retryable bool, actor string) *domain.PayoutResult {
	if err := e.repo.MarkTransactionFailed(ctx, tx.ID, errorCode, errorMessage, retryable); err != nil {
		log.Printf("CRITICAL: failed to mark transaction %s failed: %v", tx.ID, err)
	}

	note := fmt.Sprintf("attempt %d failed via %s: %s (%s)", tx.RetryCount+1, tx.ProviderCode, errorMessage, errorCode)
	if err := e.repo.RevertPayoutRequestToApproved(ctx, req.ID, note); err != nil {
		log.Printf("CRITICAL: failed to release payout request %s after failure: %v", req.ID, err)
	}

	canRetry := retryable && tx.RetryCount < tx.MaxRetries
	if !canRetry {
		e.emitNotification(ctx, req, tx, rabbitmq.RoutingKeyPayoutFailed, errorMessage)
	}
	e.emitAudit(ctx, actor, "payout.attempt_failed", req.ID, map[string]interface{}{
		"transaction_id": tx.ID.String(),
		"provider_code":  tx.ProviderCode,
		"error_code":     errorCode,
		"retryable":      retryable,
		"retry_count":    tx.RetryCount,
	})

	return &domain.PayoutResult{
		Success:       false,
		PayoutID:      req.ID,
		TransactionID: &tx.ID,
		ErrorCode:     errorCode,
		ErrorMessage:  errorMessage,
		CanRetry:      canRetry,
	}
}

// VerifyPayoutMethod checks a destination with the rail that would serve it,
// used before the first payment to a new account.
func (e *Engine) VerifyPayoutMethod(ctx context.Context, method domain.PayoutMethod, providerCode string) (*provider.AccountVerification, error) {
	code, err := e.providers.Resolve(method, providerCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", domain.ErrCodeProviderNotFound, err)
	}
	adapter, _ := e.providers.Get(code)
	return adapter.VerifyAccount(ctx, method)
}

// GetPayoutRequest exposes a request with its full processing history for
// support and admin views.
func (e *Engine) GetPayoutRequest(ctx context.Context, requestID uuid.UUID) (*domain.PayoutRequest, error) {
	return e.repo.FindPayoutRequestByID(ctx, requestID)
}

// GetTransaction exposes a transaction with its provider response log.
func (e *Engine) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.PayoutTransaction, error) {
	return e.repo.FindTransactionByID(ctx, transactionID)
}

func (e *Engine) emitNotification(ctx context.Context, req *domain.PayoutRequest, tx *domain.PayoutTransaction, eventType, reason string) {
	if e.events == nil {
		return
	}
	event := domain.PayoutNotificationEvent{
		UserID:          req.UserID,
		PayoutRequestID: req.ID,
		EventType:       eventType,
		Amount:          req.Amount,
		Currency:        req.Currency,
		ProviderCode:    tx.ProviderCode,
		Reason:          reason,
		OccurredAt:      time.Now().UTC(),
	}
	if err := e.events.PublishPayoutNotification(ctx, event); err != nil {
		log.Printf("WARN: failed to publish %s notification for payout %s: %v", eventType, req.ID, err)
	}
}

func (e *Engine) emitAudit(ctx context.Context, actor, action string, entityID uuid.UUID, detail map[string]interface{}) {
	if e.events == nil {
		return
	}
	if actor == "" {
		actor = "system"
	}
	event := domain.AuditEvent{
		Actor:      actor,
		Action:     action,
		EntityType: "payout_request",
		EntityID:   entityID.String(),
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	if err := e.events.PublishAuditEvent(ctx, event); err != nil {
		log.Printf("WARN: failed to publish audit event %s for %s: %v", action, entityID, err)
	}
}
