/**
 * @description
 * Batch processing for the payout engine: scheduled batch creation, chunked
 * execution with optional intra-chunk parallelism, and the deterministic
 * status rollup (completed / failed / partial).
 */

package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/trm/payout-service/internal/domain"
)

// CreateScheduledBatch selects approved requests matching the optional amount
// bounds, reserves each against concurrent double-batching by moving it to
// 'processing' now, and groups them into a new pending batch. Provider calls
// happen later, when the batch runs.
func (e *Engine) CreateScheduledBatch(ctx context.Context, filter domain.ScheduledBatchFilter, parallel bool, chunkSize int) (*domain.PayoutBatch, int, error) {
	requests, err := e.repo.FindApprovedPayoutRequests(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to select approved requests: %w", err)
	}
	if len(requests) == 0 {
		return nil, 0, nil
	}

	if chunkSize <= 0 {
		chunkSize = e.opts.DefaultChunkSize
	}
	createdBy := filter.CreatedBy
	if createdBy == "" {
		createdBy = "scheduler"
	}

	batch := &domain.PayoutBatch{
		ID:                 uuid.New(),
		Name:               fmt.Sprintf("scheduled-%s", uuid.New().String()[:8]),
		Status:             domain.BatchStatusPending,
		ChunkSize:          chunkSize,
		ParallelProcessing: parallel,
		CreatedBy:          createdBy,
		Errors:             []string{},
	}

	var items []domain.PayoutBatchItem
	for _, req := range requests {
		// Requests claimed by a concurrent run simply drop out of this batch.
		if _, err := e.repo.ClaimPayoutRequestForProcessing(ctx, req.ID, "reserved for batch "+batch.ID.String()); err != nil {
			log.Printf("CreateScheduledBatch: skipping request %s: %v", req.ID, err)
			continue
		}
		items = append(items, domain.PayoutBatchItem{
			ID:              uuid.New(),
			BatchID:         batch.ID,
			PayoutRequestID: req.ID,
			Status:          domain.TxStatusPending,
		})
	}
	if len(items) == 0 {
		return nil, 0, nil
	}

	if err := e.repo.CreateBatchWithItems(ctx, batch, items); err != nil {
		// Release the reservations so the requests stay eligible.
		for _, item := range items {
			if revertErr := e.repo.RevertPayoutRequestToApproved(ctx, item.PayoutRequestID, "batch creation failed"); revertErr != nil {
				log.Printf("CRITICAL: failed to release request %s after batch creation failure: %v", item.PayoutRequestID, revertErr)
			}
		}
		return nil, 0, fmt.Errorf("failed to create batch: %w", err)
	}

	e.emitAudit(ctx, createdBy, "payout.batch_created", batch.ID, map[string]interface{}{
		"item_count": len(items),
		"parallel":   parallel,
	})
	return batch, len(items), nil
}

// ProcessBatch runs every item of a pending batch through the single-payout
// path. Items are processed in fixed-size chunks; within a chunk they run in
// parallel or strictly sequentially per the batch flag (some rails rate-limit
// concurrent calls). Chunk n+1 starts only after chunk n fully resolves.
func (e *Engine) ProcessBatch(ctx context.Context, batchID uuid.UUID) (*domain.BatchResult, error) {
	batch, err := e.repo.ClaimBatchForProcessing(ctx, batchID)
	if err != nil {
		return nil, err
	}
	items, err := e.repo.FindBatchItems(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch items: %w", err)
	}

	chunkSize := batch.ChunkSize
	if chunkSize <= 0 {
		chunkSize = e.opts.DefaultChunkSize
	}

	result := &domain.BatchResult{BatchID: batch.ID}
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		if batch.ParallelProcessing {
			e.processChunkParallel(ctx, chunk, result)
		} else {
			for i := range chunk {
				e.processBatchItem(ctx, &chunk[i], result, nil)
			}
		}
	}

	result.Status = rollupBatchStatus(result.Succeeded, result.Failed)
	if err := e.repo.FinalizeBatch(ctx, batch.ID, result.Status, result.ErrorEntries); err != nil {
		log.Printf("CRITICAL: failed to finalize batch %s: %v", batch.ID, err)
	}

	e.emitAudit(ctx, batch.CreatedBy, "payout.batch_processed", batch.ID, map[string]interface{}{
		"status":    result.Status,
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	return result, nil
}

// processChunkParallel fans one chunk out across goroutines. Chunk size bounds
// the number of concurrent provider calls.
func (e *Engine) processChunkParallel(ctx context.Context, chunk []domain.PayoutBatchItem, result *domain.BatchResult) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := range chunk {
		wg.Add(1)
		go func(item *domain.PayoutBatchItem) {
			defer wg.Done()
			e.processBatchItem(ctx, item, result, &mu)
		}(&chunk[i])
	}
	wg.Wait()
}

// processBatchItem invokes the single-payout path for one item and records
// its outcome. mu guards the shared result when items run in parallel.
func (e *Engine) processBatchItem(ctx context.Context, item *domain.PayoutBatchItem, result *domain.BatchResult, mu *sync.Mutex) {
	payoutResult, err := e.ProcessPayout(ctx, item.PayoutRequestID, ProcessOptions{
		Actor:         "batch:" + item.BatchID.String(),
		batchReserved: true,
	})

	var (
		itemStatus string
		errMsg     *string
		entry      string
	)
	switch {
	case err != nil:
		itemStatus = domain.TxStatusFailed
		msg := err.Error()
		errMsg = &msg
		entry = fmt.Sprintf("request %s: %s", item.PayoutRequestID, msg)
	case payoutResult.Success:
		itemStatus = domain.TxStatusCompleted
	default:
		itemStatus = domain.TxStatusFailed
		msg := payoutResult.ErrorMessage
		if msg == "" {
			msg = payoutResult.ErrorCode
		}
		errMsg = &msg
		entry = fmt.Sprintf("request %s: %s", item.PayoutRequestID, msg)
	}

	if updateErr := e.repo.UpdateBatchItem(ctx, item.ID, itemStatus, errMsg); updateErr != nil {
		log.Printf("WARN: failed to update batch item %s: %v", item.ID, updateErr)
	}

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	result.Processed++
	if itemStatus == domain.TxStatusCompleted {
		result.Succeeded++
	} else {
		result.Failed++
		result.ErrorEntries = append(result.ErrorEntries, entry)
	}
	if payoutResult != nil {
		result.ItemResults = append(result.ItemResults, *payoutResult)
	}
}

// rollupBatchStatus is the deterministic mapping from item outcomes to the
// batch status: all-success -> completed, all-failure -> failed, otherwise
// partial. An empty batch counts as completed.
func rollupBatchStatus(succeeded, failed int) string {
	switch {
	case failed == 0:
		return domain.BatchStatusCompleted
	case succeeded == 0:
		return domain.BatchStatusFailed
	default:
		return domain.BatchStatusPartial
	}
}

// GetBatch exposes a batch header with its items for operator views.
func (e *Engine) GetBatch(ctx context.Context, batchID uuid.UUID) (*domain.PayoutBatch, []domain.PayoutBatchItem, error) {
	batch, err := e.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	items, err := e.repo.FindBatchItems(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	return batch, items, nil
}
