package app

import (
	"context"
	"log"
	"time"

	"github.com/trm/payout-service/internal/domain"
)

// GetReconciliationReport rolls up transaction state for the operator view:
// counts and amounts per status, outcomes per provider, and the transactions
// stuck in 'processing' past the configured window that need manual follow-up
// with the provider.
func (e *Engine) GetReconciliationReport(ctx context.Context, filter domain.ReconciliationFilter) (*domain.ReconciliationReport, error) {
	summary, err := e.repo.TransactionStatusSummary(ctx, filter)
	if err != nil {
		return nil, err
	}
	byProvider, err := e.repo.TransactionProviderSummary(ctx, filter)
	if err != nil {
		return nil, err
	}
	stuck, err := e.repo.FindStuckProcessingTransactions(ctx, time.Now().Add(-e.opts.StuckAfter))
	if err != nil {
		return nil, err
	}
	return &domain.ReconciliationReport{
		Summary:      summary,
		ByProvider:   byProvider,
		Unreconciled: stuck,
	}, nil
}

// GetProviderStatuses probes every registered provider's balance endpoint and
// merges in the running counters. One provider failing its probe does not mask
// the others; it appears unhealthy with the error attached.
func (e *Engine) GetProviderStatuses(ctx context.Context) []domain.ProviderStatus {
	stats := map[string]*domain.ProviderStats{}
	if rows, err := e.repo.ListProviderStats(ctx); err != nil {
		log.Printf("WARN: failed to load provider stats: %v", err)
	} else {
		for i := range rows {
			stats[rows[i].ProviderCode] = &rows[i]
		}
	}

	codes := e.providers.Codes()
	statuses := make([]domain.ProviderStatus, 0, len(codes))
	for _, code := range codes {
		adapter, _ := e.providers.Get(code)
		status := domain.ProviderStatus{ProviderCode: code, Stats: stats[code]}

		balance, err := adapter.GetBalance(ctx)
		if err != nil {
			status.Healthy = false
			status.Error = err.Error()
		} else {
			status.Healthy = true
			status.Available = balance.Available
			status.Currency = balance.Currency
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// AlertStuckTransactions logs transactions stuck in 'processing' beyond the
// configured window. Run on a schedule so they surface without anyone pulling
// the reconciliation report.
func (e *Engine) AlertStuckTransactions(ctx context.Context) (int, error) {
	stuck, err := e.repo.FindStuckProcessingTransactions(ctx, time.Now().Add(-e.opts.StuckAfter))
	if err != nil {
		return 0, err
	}
	for i := range stuck {
		tx := &stuck[i]
		log.Printf("level=warn component=reconciliation msg=\"transaction stuck in processing\" transaction_id=%s provider=%s age=%s",
			tx.ID, tx.ProviderCode, time.Since(tx.UpdatedAt).Round(time.Second))
	}
	return len(stuck), nil
}
