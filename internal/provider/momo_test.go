package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trm/payout-service/internal/domain"
)

func momoAdapterForServer(srv *httptest.Server) *MobileMoneyAdapter {
	adapter := NewMobileMoneyAdapter(domain.ProviderConfig{
		Code:    "momo_mtn",
		Channel: domain.ChannelMobileMoney,
		BaseURL: srv.URL,
		APIKey:  "test-key",
	})
	adapter.HTTPClient = srv.Client()
	return adapter
}

func TestMobileMoneyProcessPayment_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/disbursements" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
			return
		}
		if body["msisdn"] != "0241234567" {
			t.Errorf("expected normalized msisdn, got %v", body["msisdn"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "accepted",
			"transaction_id": "mtn-abc-1",
			"reference":      body["reference"],
		})
	}))
	defer srv.Close()

	adapter := momoAdapterForServer(srv)
	result, err := adapter.ProcessPayment(context.Background(), PaymentInstruction{
		Reference: "ref-1",
		Amount:    25000,
		Currency:  "GHS",
		Method:    domain.PayoutMethod{Channel: domain.ChannelMobileMoney, PhoneNumber: "024 123 4567"},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.ProviderTxID != "mtn-abc-1" {
		t.Fatalf("expected provider tx id mtn-abc-1, got %q", result.ProviderTxID)
	}
}

func TestMobileMoneyProcessPayment_RejectionIsResultNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "rejected",
			"error": map[string]string{
				"code":    "INVALID_ACCOUNT",
				"message": "wallet not found",
			},
		})
	}))
	defer srv.Close()

	adapter := momoAdapterForServer(srv)
	result, err := adapter.ProcessPayment(context.Background(), PaymentInstruction{
		Reference: "ref-2",
		Amount:    1000,
		Currency:  "GHS",
		Method:    domain.PayoutMethod{Channel: domain.ChannelMobileMoney, PhoneNumber: "0241234567"},
	})
	if err != nil {
		t.Fatalf("expected rejection as result, got error %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.ErrorCode != "INVALID_ACCOUNT" {
		t.Fatalf("expected INVALID_ACCOUNT, got %q", result.ErrorCode)
	}
}

func TestMobileMoneyProcessPayment_TransportFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	adapter := momoAdapterForServer(srv)
	_, err := adapter.ProcessPayment(context.Background(), PaymentInstruction{
		Reference: "ref-3",
		Amount:    1000,
		Currency:  "GHS",
		Method:    domain.PayoutMethod{Channel: domain.ChannelMobileMoney, PhoneNumber: "0241234567"},
	})
	if err == nil {
		t.Fatal("expected transport error")
	}
}

func TestMobileMoneyVerifyAccount_RejectsMalformedNumberLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("expected no HTTP call for a malformed number")
	}))
	defer srv.Close()

	adapter := momoAdapterForServer(srv)
	verification, err := adapter.VerifyAccount(context.Background(), domain.PayoutMethod{PhoneNumber: "12ab"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if verification.Valid {
		t.Fatal("expected malformed number to be invalid")
	}
}

func TestMobileMoneyVerifyAccount_ActiveWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/0241234567" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"active": true,
			"msisdn": "0241234567",
			"name":   "Ama Mensah",
		})
	}))
	defer srv.Close()

	adapter := momoAdapterForServer(srv)
	verification, err := adapter.VerifyAccount(context.Background(), domain.PayoutMethod{PhoneNumber: "024-123-4567"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !verification.Valid || verification.AccountName != "Ama Mensah" {
		t.Fatalf("unexpected verification %+v", verification)
	}
}

func TestMobileMoneyGetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/balance" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"available": 9500000, "currency": "GHS"})
	}))
	defer srv.Close()

	adapter := momoAdapterForServer(srv)
	balance, err := adapter.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if balance.Available != 9500000 || balance.Currency != "GHS" {
		t.Fatalf("unexpected balance %+v", balance)
	}
}
