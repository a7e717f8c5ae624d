package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trm/payout-service/internal/domain"
)

func bankAdapterForServer(srv *httptest.Server) *BankTransferAdapter {
	adapter := NewBankTransferAdapter(domain.ProviderConfig{
		Code:    "bank_gh",
		Channel: domain.ChannelBankTransfer,
		BaseURL: srv.URL,
		APIKey:  "test-key",
	})
	adapter.HTTPClient = srv.Client()
	return adapter
}

func TestBankVerifyAccount_EscapesEnquiryQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/enquiry" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("bank_code"); got != "058&gh=1" {
			t.Errorf("bank code not preserved through the query, got %q", got)
		}
		if got := r.URL.Query().Get("account_number"); got != "0123456789" {
			t.Errorf("unexpected account number %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"found":          true,
			"account_number": "0123456789",
			"account_name":   "Kofi Boateng",
		})
	}))
	defer srv.Close()

	adapter := bankAdapterForServer(srv)
	verification, err := adapter.VerifyAccount(context.Background(), domain.PayoutMethod{
		Channel:       domain.ChannelBankTransfer,
		BankCode:      " 058&gh=1 ",
		AccountNumber: "0123456789",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !verification.Valid || verification.AccountName != "Kofi Boateng" {
		t.Fatalf("unexpected verification %+v", verification)
	}
}

func TestBankVerifyAccount_UnknownAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"found": false})
	}))
	defer srv.Close()

	adapter := bankAdapterForServer(srv)
	verification, err := adapter.VerifyAccount(context.Background(), domain.PayoutMethod{
		BankCode:      "058",
		AccountNumber: "0123456789",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if verification.Valid {
		t.Fatal("expected unknown account to be invalid")
	}
}
