package provider

import (
	"testing"

	"github.com/trm/payout-service/internal/domain"
)

func registryFixture(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry([]domain.ProviderConfig{
		{Code: "momo_mtn", Channel: domain.ChannelMobileMoney, Active: true},
		{Code: "momo_airtel", Channel: domain.ChannelMobileMoney, Active: true},
		{Code: "bank_gh", Channel: domain.ChannelBankTransfer, Active: true},
		{Code: "momo_old", Channel: domain.ChannelMobileMoney, Active: false},
	})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	return registry
}

func TestNewRegistry_SkipsInactiveConfigs(t *testing.T) {
	registry := registryFixture(t)
	if _, ok := registry.Get("momo_old"); ok {
		t.Fatal("expected inactive provider to be excluded")
	}
	if len(registry.Codes()) != 3 {
		t.Fatalf("expected 3 providers, got %v", registry.Codes())
	}
}

func TestNewRegistry_RejectsUnknownChannel(t *testing.T) {
	_, err := NewRegistry([]domain.ProviderConfig{
		{Code: "crypto_x", Channel: "crypto", Active: true},
	})
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestResolve_OverrideWins(t *testing.T) {
	registry := registryFixture(t)
	code, err := registry.Resolve(domain.PayoutMethod{Channel: domain.ChannelMobileMoney, Network: "mtn"}, "momo_airtel")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if code != "momo_airtel" {
		t.Fatalf("expected override momo_airtel, got %q", code)
	}
}

func TestResolve_UnknownOverrideFails(t *testing.T) {
	registry := registryFixture(t)
	if _, err := registry.Resolve(domain.PayoutMethod{Channel: domain.ChannelMobileMoney}, "momo_vanished"); err == nil {
		t.Fatal("expected error for unregistered override")
	}
}

func TestResolve_PrefersNetworkMatchedWalletProvider(t *testing.T) {
	registry := registryFixture(t)
	code, err := registry.Resolve(domain.PayoutMethod{Channel: domain.ChannelMobileMoney, Network: "MTN"}, "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if code != "momo_mtn" {
		t.Fatalf("expected momo_mtn for MTN wallet, got %q", code)
	}
}

func TestResolve_FallsBackToFirstCodeInOrder(t *testing.T) {
	registry := registryFixture(t)
	// No provider is registered for the 'vodafone' network, so resolution
	// falls back to the first mobile-money code in sorted order.
	code, err := registry.Resolve(domain.PayoutMethod{Channel: domain.ChannelMobileMoney, Network: "vodafone"}, "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if code != "momo_airtel" {
		t.Fatalf("expected deterministic fallback momo_airtel, got %q", code)
	}
}

func TestResolve_NoProviderForChannel(t *testing.T) {
	registry, err := NewRegistry([]domain.ProviderConfig{
		{Code: "bank_gh", Channel: domain.ChannelBankTransfer, Active: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	if _, err := registry.Resolve(domain.PayoutMethod{Channel: domain.ChannelMobileMoney}, ""); err == nil {
		t.Fatal("expected error when no provider serves the channel")
	}
}
