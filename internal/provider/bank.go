/**
 * @description
 * Bank-transfer adapter. Wraps an interbank transfer rail (NUBAN-style
 * account numbers) behind the Adapter interface. Structure mirrors the
 * mobile-money adapter; only the payload shapes and validation differ.
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
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/trm/payout-service/internal/domain"
)

// Bank account numbers must be numeric and at least ten digits.
var bankAccountPattern = regexp.MustCompile(`^\d{10,}$`)

// BankTransferAdapter disburses to external bank accounts over HTTP.
type BankTransferAdapter struct {
	cfg        domain.ProviderConfig
	HTTPClient *http.Client
}

// NewBankTransferAdapter creates an adapter for one bank rail config.
func NewBankTransferAdapter(cfg domain.ProviderConfig) *BankTransferAdapter {
	return &BankTransferAdapter{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Code returns the provider code this adapter serves.
func (a *BankTransferAdapter) Code() string { return a.cfg.Code }

type bankTransferRequest struct {
	Reference     string `json:"reference"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Narration     string `json:"narration,omitempty"`
}

type bankTransferResponse struct {
	Status     string `json:"status"`
	TransferID string `json:"transfer_id"`
	Reference  string `json:"reference"`
	SettledAt  string `json:"settled_at"`
	Error      struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type bankEnquiryResponse struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Found         bool   `json:"found"`
}

type bankBalanceResponse struct {
	Available int64  `json:"available"`
	Currency  string `json:"currency"`
}

// ProcessPayment submits one interbank transfer.
func (a *BankTransferAdapter) ProcessPayment(ctx context.Context, in PaymentInstruction) (*PaymentResult, error) {
	payload := bankTransferRequest{
		Reference:     in.Reference,
		BankCode:      in.Method.BankCode,
		AccountNumber: strings.TrimSpace(in.Method.AccountNumber),
		AccountName:   in.Method.AccountName,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Narration:     in.Narration,
	}

	var resp bankTransferResponse
	status, err := a.do(ctx, "POST", "/v1/transfers", payload, &resp)
	if err != nil {
		return nil, err
	}

	if status < 200 || status >= 300 || strings.EqualFold(resp.Status, "rejected") {
		code := resp.Error.Code
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", status)
		}
		log.Printf("level=warn component=bank_adapter provider=%s op=transfer reference=%s code=%s msg=%q",
			a.cfg.Code, in.Reference, code, resp.Error.Message)
		return &PaymentResult{
			Success:      false,
			Reference:    in.Reference,
			ErrorCode:    code,
			ErrorMessage: resp.Error.Message,
		}, nil
	}

	settledAt, _ := time.Parse(time.RFC3339, resp.SettledAt)
	if settledAt.IsZero() {
		settledAt = time.Now().UTC()
	}

	return &PaymentResult{
		Success:      true,
		ProviderTxID: resp.TransferID,
		Reference:    resp.Reference,
		ProcessedAt:  settledAt,
	}, nil
}

// VerifyAccount runs a name enquiry after local format validation.
func (a *BankTransferAdapter) VerifyAccount(ctx context.Context, method domain.PayoutMethod) (*AccountVerification, error) {
	accountNumber := strings.TrimSpace(method.AccountNumber)
	if !bankAccountPattern.MatchString(accountNumber) {
		return &AccountVerification{Valid: false, Error: "account number must be numeric and at least 10 digits"}, nil
	}
	bankCode := strings.TrimSpace(method.BankCode)
	if bankCode == "" {
		return &AccountVerification{Valid: false, Error: "bank code is required"}, nil
	}

	query := url.Values{}
	query.Set("bank_code", bankCode)
	query.Set("account_number", accountNumber)
	path := "/v1/accounts/enquiry?" + query.Encode()
	var resp bankEnquiryResponse
	status, err := a.do(ctx, "GET", path, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || !resp.Found {
		return &AccountVerification{Valid: false, NormalizedAccount: accountNumber, Error: "account not found at bank"}, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("bank name enquiry failed (status %d)", status)
	}

	return &AccountVerification{
		Valid:             true,
		NormalizedAccount: resp.AccountNumber,
		AccountName:       resp.AccountName,
	}, nil
}

// GetBalance fetches the settlement account float for health reporting.
func (a *BankTransferAdapter) GetBalance(ctx context.Context) (*Balance, error) {
	var resp bankBalanceResponse
	status, err := a.do(ctx, "GET", "/v1/balance", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("bank balance request failed (status %d)", status)
	}
	return &Balance{Available: resp.Available, Currency: resp.Currency}, nil
}

func (a *BankTransferAdapter) do(ctx context.Context, method, path string, payload, out interface{}) (int, error) {
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
