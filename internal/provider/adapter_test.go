package provider

import (
	"testing"

	"github.com/trm/payout-service/internal/domain"
)

func TestFee(t *testing.T) {
	cases := []struct {
		name    string
		flat    int64
		percent float64
		amount  int64
		want    int64
	}{
		{"flat only", 100, 0, 50000, 100},
		{"percent only", 0, 1.5, 100000, 1500},
		{"flat plus percent", 100, 1.0, 500000, 5100},
		{"percent rounds half up", 0, 0.5, 101, 1},
		{"zero config", 0, 0, 75000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Fee(domain.ProviderConfig{FeeFlat: tc.flat, FeePercent: tc.percent}, tc.amount)
			if got != tc.want {
				t.Fatalf("Fee(%d flat, %f%%, %d) = %d, want %d", tc.flat, tc.percent, tc.amount, got, tc.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	for _, code := range []string{"TIMEOUT", "PROVIDER_UNAVAILABLE", "RATE_LIMITED", "INSUFFICIENT_FLOAT", "INTERNAL_ERROR"} {
		if !IsRetryable(code) {
			t.Fatalf("expected %s to be retryable", code)
		}
	}
	for _, code := range []string{"INVALID_ACCOUNT", "ACCOUNT_BLOCKED", "HTTP_400", ""} {
		if IsRetryable(code) {
			t.Fatalf("expected %s to be terminal", code)
		}
	}
}

func TestNormalizeMsisdn(t *testing.T) {
	cases := map[string]string{
		"024 123 4567":   "0241234567",
		"024-123-4567":   "0241234567",
		"(0)241234567":   "0241234567",
		" +233241234567": "+233241234567",
	}
	for in, want := range cases {
		if got := normalizeMsisdn(in); got != want {
			t.Fatalf("normalizeMsisdn(%q) = %q, want %q", in, got, want)
		}
	}
}
