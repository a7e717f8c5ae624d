/**
 * @description
 * Mobile-money adapter. Wraps one wallet rail's disbursement API behind the
 * Adapter interface: authenticated HTTP requests, request body construction,
 * and response parsing, with local destination validation before any call.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, regexp, time: Standard Go libraries.
 */
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/trm/payout-service/internal/domain"
)

// Local mobile numbers: a leading zero plus nine digits, or an international
// form with 11-13 digits. Spaces and dashes are stripped before matching.
var msisdnPattern = regexp.MustCompile(`^(0\d{9}|\+?\d{11,13})$`)

// MobileMoneyAdapter disburses to a mobile wallet rail over HTTP.
type MobileMoneyAdapter struct {
	cfg        domain.ProviderConfig
	HTTPClient *http.Client
}

// NewMobileMoneyAdapter creates an adapter for one wallet provider config.
func NewMobileMoneyAdapter(cfg domain.ProviderConfig) *MobileMoneyAdapter {
	return &MobileMoneyAdapter{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Code returns the provider code this adapter serves.
func (a *MobileMoneyAdapter) Code() string { return a.cfg.Code }

type momoDisbursementRequest struct {
	Reference string `json:"reference"`
	Msisdn    string `json:"msisdn"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Narration string `json:"narration,omitempty"`
}

type momoDisbursementResponse struct {
	Status        string `json:"status"` // 'accepted' or 'rejected'
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	ProcessedAt   string `json:"processed_at"`
	Error         struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type momoAccountResponse struct {
	Active bool   `json:"active"`
	Msisdn string `json:"msisdn"`
	Name   string `json:"name"`
}

type momoBalanceResponse struct {
	Available int64  `json:"available"`
	Currency  string `json:"currency"`
}

// ProcessPayment submits one disbursement. A rejection from the rail comes
// back as a PaymentResult with Success=false; transport failures are errors.
func (a *MobileMoneyAdapter) ProcessPayment(ctx context.Context, in PaymentInstruction) (*PaymentResult, error) {
	msisdn := normalizeMsisdn(in.Method.PhoneNumber)
	payload := momoDisbursementRequest{
		Reference: in.Reference,
		Msisdn:    msisdn,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Narration: in.Narration,
	}

	var resp momoDisbursementResponse
	status, err := a.do(ctx, "POST", "/v1/disbursements", payload, &resp)
	if err != nil {
		return nil, err
	}

	if status < 200 || status >= 300 || strings.EqualFold(resp.Status, "rejected") {
		code := resp.Error.Code
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", status)
		}
		log.Printf("level=warn component=momo_adapter provider=%s op=disburse reference=%s code=%s msg=%q",
			a.cfg.Code, in.Reference, code, resp.Error.Message)
		return &PaymentResult{
			Success:      false,
			Reference:    in.Reference,
			ErrorCode:    code,
			ErrorMessage: resp.Error.Message,
		}, nil
	}

	processedAt, _ := time.Parse(time.RFC3339, resp.ProcessedAt)
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	return &PaymentResult{
		Success:      true,
		ProviderTxID: resp.TransactionID,
		Reference:    resp.Reference,
		ProcessedAt:  processedAt,
	}, nil
}

// VerifyAccount validates the wallet number format locally, then confirms the
// account is active with the rail's lookup endpoint.
func (a *MobileMoneyAdapter) VerifyAccount(ctx context.Context, method domain.PayoutMethod) (*AccountVerification, error) {
	msisdn := normalizeMsisdn(method.PhoneNumber)
	if !msisdnPattern.MatchString(msisdn) {
		return &AccountVerification{Valid: false, Error: "invalid mobile number format"}, nil
	}

	var resp momoAccountResponse
	status, err := a.do(ctx, "GET", "/v1/accounts/"+msisdn, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || !resp.Active {
		return &AccountVerification{Valid: false, NormalizedAccount: msisdn, Error: "wallet account not active"}, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("wallet account lookup failed (status %d)", status)
	}

	return &AccountVerification{
		Valid:             true,
		NormalizedAccount: msisdn,
		AccountName:       resp.Name,
	}, nil
}

// GetBalance fetches the rail's available float for health reporting.
func (a *MobileMoneyAdapter) GetBalance(ctx context.Context) (*Balance, error) {
	var resp momoBalanceResponse
	status, err := a.do(ctx, "GET", "/v1/balance", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("wallet balance request failed (status %d)", status)
	}
	return &Balance{Available: resp.Available, Currency: resp.Currency}, nil
}

// do executes one authenticated request and decodes the response body into
// out. The HTTP status is returned so callers can map rail rejections.
func (a *MobileMoneyAdapter) do(ctx context.Context, method, path string, payload, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute %s request: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func normalizeMsisdn(raw string) string {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	return cleaned
}
