package app

import (
	"context"
	"testing"
	"time"

	"github.com/trm/payout-service/internal/domain"
	"github.com/trm/payout-service/internal/provider"
	"github.com/trm/payout-service/internal/store"
)

type reconcileRepoStub struct {
	store.Repository

	summary    []domain.StatusBreakdown
	byProvider []domain.ProviderBreakdown
	stuck      []domain.PayoutTransaction
	stats      []domain.ProviderStats

	stuckCutoff time.Time
}

func (s *reconcileRepoStub) TransactionStatusSummary(ctx context.Context, filter domain.ReconciliationFilter) ([]domain.StatusBreakdown, error) {
	return s.summary, nil
}

func (s *reconcileRepoStub) TransactionProviderSummary(ctx context.Context, filter domain.ReconciliationFilter) ([]domain.ProviderBreakdown, error) {
	return s.byProvider, nil
}

func (s *reconcileRepoStub) FindStuckProcessingTransactions(ctx context.Context, stuckSince time.Time) ([]domain.PayoutTransaction, error) {
	s.stuckCutoff = stuckSince
	return s.stuck, nil
}

func (s *reconcileRepoStub) ListProviderStats(ctx context.Context) ([]domain.ProviderStats, error) {
	return s.stats, nil
}

func TestGetReconciliationReport(t *testing.T) {
	repo := &reconcileRepoStub{
		summary: []domain.StatusBreakdown{
			{Status: domain.TxStatusCompleted, Count: 12, Amount: 480000},
			{Status: domain.TxStatusFailed, Count: 2, Amount: 9000},
		},
		byProvider: []domain.ProviderBreakdown{
			{ProviderCode: "momo_mtn", Completed: 12, Failed: 2, Amount: 480000},
		},
		stuck: []domain.PayoutTransaction{{Status: domain.TxStatusProcessing}},
	}
	registry, _ := provider.NewRegistry(nil)
	engine := NewEngine(repo, registry, nil, Options{StuckAfter: 30 * time.Minute})

	report, err := engine.GetReconciliationReport(context.Background(), domain.ReconciliationFilter{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(report.Summary) != 2 || len(report.ByProvider) != 1 || len(report.Unreconciled) != 1 {
		t.Fatalf("unexpected report shape: %+v", report)
	}
	// The stuck cutoff must honor the configured window.
	age := time.Since(repo.stuckCutoff)
	if age < 29*time.Minute || age > 31*time.Minute {
		t.Fatalf("expected cutoff about 30m ago, got %s", age)
	}
}

func TestGetProviderStatuses_FailedProbeDoesNotMaskOthers(t *testing.T) {
	repo := &reconcileRepoStub{
		stats: []domain.ProviderStats{{ProviderCode: "momo_mtn", SuccessCount: 5, FailureCount: 1}},
	}
	healthy := &stubAdapter{code: "momo_mtn", balance: &provider.Balance{Available: 12345, Currency: "GHS"}}
	broken := &stubAdapter{code: "bank_gh"} // nil balance -> probe error
	registry, _ := provider.NewRegistry(nil)
	registry.Register(domain.ProviderConfig{Code: "momo_mtn", Channel: domain.ChannelMobileMoney, Active: true}, healthy)
	registry.Register(domain.ProviderConfig{Code: "bank_gh", Channel: domain.ChannelBankTransfer, Active: true}, broken)
	engine := NewEngine(repo, registry, nil, Options{})

	statuses := engine.GetProviderStatuses(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	byCode := map[string]domain.ProviderStatus{}
	for _, s := range statuses {
		byCode[s.ProviderCode] = s
	}
	mtn := byCode["momo_mtn"]
	if !mtn.Healthy || mtn.Available != 12345 {
		t.Fatalf("unexpected healthy status %+v", mtn)
	}
	if mtn.Stats == nil || mtn.Stats.SuccessCount != 5 {
		t.Fatalf("expected stats merged into status, got %+v", mtn.Stats)
	}
	bank := byCode["bank_gh"]
	if bank.Healthy || bank.Error == "" {
		t.Fatalf("expected unhealthy status with error, got %+v", bank)
	}
}
