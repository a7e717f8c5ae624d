package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func signWebhook(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	h := NewPayoutHandlers(nil, nil, "whsec_test", 5*time.Minute)
	body := []byte(`{"transaction_id":"tx-1","status":"successful"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	if !h.verifyWebhookSignature(body, signWebhook("whsec_test", ts, body), ts) {
		t.Fatal("expected valid signature to be accepted")
	}
}

func TestVerifyWebhookSignature_WrongSecret(t *testing.T) {
	h := NewPayoutHandlers(nil, nil, "whsec_test", 5*time.Minute)
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	if h.verifyWebhookSignature(body, signWebhook("whsec_other", ts, body), ts) {
		t.Fatal("expected signature from wrong secret to be rejected")
	}
}

func TestVerifyWebhookSignature_TamperedBody(t *testing.T) {
	h := NewPayoutHandlers(nil, nil, "whsec_test", 5*time.Minute)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signature := signWebhook("whsec_test", ts, []byte(`{"amount":100}`))

	if h.verifyWebhookSignature([]byte(`{"amount":999}`), signature, ts) {
		t.Fatal("expected tampered body to be rejected")
	}
}

func TestVerifyWebhookSignature_StaleTimestamp(t *testing.T) {
	h := NewPayoutHandlers(nil, nil, "whsec_test", 5*time.Minute)
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)

	if h.verifyWebhookSignature(body, signWebhook("whsec_test", ts, body), ts) {
		t.Fatal("expected stale timestamp to be rejected")
	}
}

func TestVerifyWebhookSignature_MissingPrefix(t *testing.T) {
	h := NewPayoutHandlers(nil, nil, "whsec_test", 5*time.Minute)
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	bare := strings.TrimPrefix(signWebhook("whsec_test", ts, body), "v1=")

	if h.verifyWebhookSignature(body, bare, ts) {
		t.Fatal("expected signature without v1= prefix to be rejected")
	}
}

func TestWebhookHandler_RejectsUnsignedDelivery(t *testing.T) {
	h := NewPayoutHandlers(nil, nil, "whsec_test", 5*time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/payouts/webhooks/momo_mtn", strings.NewReader(`{"transaction_id":"tx-1"}`))
	rec := httptest.NewRecorder()
	h.WebhookHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned delivery, got %d", rec.Code)
	}
}

func TestInternalAPIKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	handler := InternalAPIKeyMiddleware("sekrit")(next)

	req := httptest.NewRequest(http.MethodPost, "/payouts/internal/retry-sweep", nil)
	req.Header.Set("X-Internal-Api-Key", "sekrit")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/payouts/internal/retry-sweep", nil)
	req.Header.Set("X-Internal-Api-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong key, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler = InternalAPIKeyMiddleware("")(next)
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payouts/internal/retry-sweep", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when internal key is unset, got %d", rec.Code)
	}
}
