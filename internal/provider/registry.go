/**
 * @description
 * The provider registry maps provider codes to adapter instances. It is built
 * once at startup from active provider configurations and treated as
 * read-only afterwards, so lookups need no locking.
 */
package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trm/payout-service/internal/domain"
)

// Registry holds one adapter per active provider configuration.
type Registry struct {
	adapters  map[string]Adapter
	configs   map[string]domain.ProviderConfig
	byChannel map[string][]string // channel -> provider codes, sorted
}

// NewRegistry builds adapters for every active config. Inactive configs are
// skipped; an unknown channel type is a configuration error.
func NewRegistry(configs []domain.ProviderConfig) (*Registry, error) {
	r := &Registry{
		adapters:  make(map[string]Adapter),
		configs:   make(map[string]domain.ProviderConfig),
		byChannel: make(map[string][]string),
	}

	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		var adapter Adapter
		switch cfg.Channel {
		case domain.ChannelMobileMoney:
			adapter = NewMobileMoneyAdapter(cfg)
		case domain.ChannelBankTransfer:
			adapter = NewBankTransferAdapter(cfg)
		default:
			return nil, fmt.Errorf("provider %s has unknown channel %q", cfg.Code, cfg.Channel)
		}
		r.adapters[cfg.Code] = adapter
		r.configs[cfg.Code] = cfg
		r.byChannel[cfg.Channel] = append(r.byChannel[cfg.Channel], cfg.Code)
	}

	for channel := range r.byChannel {
		sort.Strings(r.byChannel[channel])
	}
	return r, nil
}

// Register adds a pre-built adapter, primarily for tests that substitute
// deterministic doubles for the HTTP adapters.
func (r *Registry) Register(cfg domain.ProviderConfig, adapter Adapter) {
	r.adapters[cfg.Code] = adapter
	r.configs[cfg.Code] = cfg
	if !contains(r.byChannel[cfg.Channel], cfg.Code) {
		r.byChannel[cfg.Channel] = append(r.byChannel[cfg.Channel], cfg.Code)
		sort.Strings(r.byChannel[cfg.Channel])
	}
}

// Get returns the adapter registered under code.
func (r *Registry) Get(code string) (Adapter, bool) {
	a, ok := r.adapters[code]
	return a, ok
}

// Config returns the provider configuration registered under code.
func (r *Registry) Config(code string) (domain.ProviderConfig, bool) {
	cfg, ok := r.configs[code]
	return cfg, ok
}

// Codes lists all registered provider codes in sorted order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Resolve picks the provider code for a payout method. An explicit override
// wins; otherwise the method's channel maps deterministically: a wallet
// network with a matching "momo_<network>" code is preferred, then the first
// active provider of the channel in code order.
func (r *Registry) Resolve(method domain.PayoutMethod, override string) (string, error) {
	if override != "" {
		if _, ok := r.adapters[override]; !ok {
			return "", fmt.Errorf("provider %s is not registered", override)
		}
		return override, nil
	}

	codes := r.byChannel[method.Channel]
	if len(codes) == 0 {
		return "", fmt.Errorf("no active provider for channel %q", method.Channel)
	}

	if method.Channel == domain.ChannelMobileMoney && method.Network != "" {
		want := "momo_" + strings.ToLower(strings.TrimSpace(method.Network))
		for _, code := range codes {
			if code == want {
				return code, nil
			}
		}
	}
	return codes[0], nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
