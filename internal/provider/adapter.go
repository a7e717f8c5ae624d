/**
 * @description
 * This file defines the uniform capability every money-movement rail must
 * implement. The orchestration engine only ever talks to this interface, so
 * real integrations (and deterministic test doubles) are swapped in without
 * touching the engine.
 *
 * @notes
 * - ProcessPayment must be safe to call at most once per transaction attempt;
 *   retry scheduling is the engine's job, never the adapter's.
 * - A provider-declined payment is reported as a PaymentResult with
 *   Success=false, not as a Go error. Errors are reserved for transport and
 *   unexpected failures, which the engine wraps as PROCESSOR_ERROR.
 */

package provider

import (
	"context"
	"math"
	"time"

	"github.com/trm/payout-service/internal/domain"
)

// PaymentInstruction is the engine's request to move money. Reference is our
// internal transaction id; providers echo it back for reconciliation.
type PaymentInstruction struct {
	Reference string
	Amount    int64
	Currency  string
	Method    domain.PayoutMethod
	Narration string
}

// PaymentResult is the outcome of a single disbursement attempt.
type PaymentResult struct {
	Success      bool
	ProviderTxID string
	Reference    string
	ProcessedAt  time.Time
	ErrorCode    string
	ErrorMessage string
}

// AccountVerification is the outcome of a destination account check.
type AccountVerification struct {
	Valid             bool
	NormalizedAccount string
	AccountName       string
	Error             string
}

// Balance reports a provider's available float. It feeds health reporting
// only; payout authorization happens upstream of this service.
type Balance struct {
	Available int64
	Currency  string
}

// Adapter wraps one external payment channel behind a fixed capability set.
// Adapters never mutate shared engine state.
type Adapter interface {
	Code() string
	ProcessPayment(ctx context.Context, in PaymentInstruction) (*PaymentResult, error)
	VerifyAccount(ctx context.Context, method domain.PayoutMethod) (*AccountVerification, error)
	GetBalance(ctx context.Context) (*Balance, error)
}

// Retryable provider error codes. Anything not listed here is terminal: the
// money either cannot move to that destination or must not be re-sent blind.
var retryableErrorCodes = map[string]bool{
	"TIMEOUT":              true,
	"PROVIDER_UNAVAILABLE": true,
	"RATE_LIMITED":         true,
	"INSUFFICIENT_FLOAT":   true,
	"INTERNAL_ERROR":       true,
}

// IsRetryable classifies a provider error code as retryable or terminal.
func IsRetryable(errorCode string) bool {
	return retryableErrorCodes[errorCode]
}

// Fee applies a provider's fee rule (flat minor units + percentage) to a
// gross amount. Called exactly once, at transaction creation.
func Fee(cfg domain.ProviderConfig, amount int64) int64 {
	fee := cfg.FeeFlat
	if cfg.FeePercent > 0 {
		fee += int64(math.Round(float64(amount) * cfg.FeePercent / 100))
	}
	return fee
}
