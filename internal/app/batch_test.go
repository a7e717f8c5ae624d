package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/trm/payout-service/internal/domain"
	"github.com/trm/payout-service/internal/provider"
	"github.com/trm/payout-service/internal/store"
)

// batchAdapter fails any instruction whose amount appears in failAmounts.
type batchAdapter struct {
	mu          sync.Mutex
	failAmounts map[int64]bool
	calls       int
}

func (a *batchAdapter) Code() string { return "momo_mtn" }

func (a *batchAdapter) ProcessPayment(ctx context.Context, in provider.PaymentInstruction) (*provider.PaymentResult, error) {
	a.mu.Lock()
	a.calls++
	fail := a.failAmounts[in.Amount]
	a.mu.Unlock()
	if fail {
		return &provider.PaymentResult{Success: false, ErrorCode: "INVALID_ACCOUNT", ErrorMessage: "no such wallet"}, nil
	}
	return &provider.PaymentResult{Success: true, ProviderTxID: "tx-" + in.Reference}, nil
}

func (a *batchAdapter) VerifyAccount(ctx context.Context, method domain.PayoutMethod) (*provider.AccountVerification, error) {
	return &provider.AccountVerification{Valid: true}, nil
}

func (a *batchAdapter) GetBalance(ctx context.Context) (*provider.Balance, error) {
	return &provider.Balance{Available: 1 << 40, Currency: "GHS"}, nil
}

type batchRepoStub struct {
	store.Repository

	mu sync.Mutex

	reqs  map[uuid.UUID]*domain.PayoutRequest
	batch *domain.PayoutBatch
	items []domain.PayoutBatchItem

	claimBatchErr error
	itemUpdates   map[uuid.UUID]string
	finalStatus   string
	finalErrors   []string

	approved     []domain.PayoutRequest
	claimFailFor map[uuid.UUID]bool
	created      *domain.PayoutBatch
	createdItems []domain.PayoutBatchItem
	reverted     []uuid.UUID
}

func (s *batchRepoStub) FindPayoutRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[requestID]
	if !ok {
		return nil, store.ErrPayoutRequestNotFound
	}
	copied := *req
	return &copied, nil
}

func (s *batchRepoStub) ClaimPayoutRequestForProcessing(ctx context.Context, requestID uuid.UUID, note string) (*domain.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimFailFor[requestID] {
		return nil, store.ErrInvalidState
	}
	req, ok := s.reqs[requestID]
	if !ok {
		return nil, store.ErrPayoutRequestNotFound
	}
	req.Status = domain.PayoutStatusProcessing
	copied := *req
	return &copied, nil
}

func (s *batchRepoStub) CreateTransaction(ctx context.Context, tx *domain.PayoutTransaction) error {
	return nil
}

func (s *batchRepoStub) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	return nil
}

func (s *batchRepoStub) AppendProviderResponse(ctx context.Context, transactionID uuid.UUID, entry domain.ProviderResponseLogEntry) error {
	return nil
}

func (s *batchRepoStub) UpsertProviderStats(ctx context.Context, providerCode string, success bool, amount, latencyMS int64) error {
	return nil
}

func (s *batchRepoStub) MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID, providerTxID string) error {
	return nil
}

func (s *batchRepoStub) MarkPayoutRequestPaid(ctx context.Context, requestID uuid.UUID, providerTxID string, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.reqs[requestID]; ok {
		req.Status = domain.PayoutStatusPaid
	}
	return nil
}

func (s *batchRepoStub) SettlePayout(ctx context.Context, userID uuid.UUID, amount int64) error {
	return nil
}

func (s *batchRepoStub) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, errorCode, errorMessage string, retryable bool) error {
	return nil
}

func (s *batchRepoStub) RevertPayoutRequestToApproved(ctx context.Context, requestID uuid.UUID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.reqs[requestID]; ok {
		req.Status = domain.PayoutStatusApproved
	}
	s.reverted = append(s.reverted, requestID)
	return nil
}

func (s *batchRepoStub) ClaimBatchForProcessing(ctx context.Context, batchID uuid.UUID) (*domain.PayoutBatch, error) {
	if s.claimBatchErr != nil {
		return nil, s.claimBatchErr
	}
	if s.batch == nil || s.batch.ID != batchID {
		return nil, store.ErrBatchNotFound
	}
	s.batch.Status = domain.BatchStatusProcessing
	return s.batch, nil
}

func (s *batchRepoStub) FindBatchItems(ctx context.Context, batchID uuid.UUID) ([]domain.PayoutBatchItem, error) {
	return s.items, nil
}

func (s *batchRepoStub) UpdateBatchItem(ctx context.Context, itemID uuid.UUID, status string, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.itemUpdates == nil {
		s.itemUpdates = map[uuid.UUID]string{}
	}
	s.itemUpdates[itemID] = status
	return nil
}

func (s *batchRepoStub) FinalizeBatch(ctx context.Context, batchID uuid.UUID, status string, batchErrors []string) error {
	s.finalStatus = status
	s.finalErrors = batchErrors
	return nil
}

func (s *batchRepoStub) FindApprovedPayoutRequests(ctx context.Context, filter domain.ScheduledBatchFilter) ([]domain.PayoutRequest, error) {
	return s.approved, nil
}

func (s *batchRepoStub) CreateBatchWithItems(ctx context.Context, batch *domain.PayoutBatch, items []domain.PayoutBatchItem) error {
	s.created = batch
	s.createdItems = items
	return nil
}

func newBatchFixture(succeed, fail int, parallel bool) (*batchRepoStub, *batchAdapter, *Engine) {
	repo := &batchRepoStub{reqs: map[uuid.UUID]*domain.PayoutRequest{}}
	adapter := &batchAdapter{failAmounts: map[int64]bool{13: true}}

	batchID := uuid.New()
	repo.batch = &domain.PayoutBatch{
		ID:                 batchID,
		Status:             domain.BatchStatusPending,
		ChunkSize:          4,
		ParallelProcessing: parallel,
		CreatedBy:          "ops",
	}

	addItem := func(amount int64) {
		req := &domain.PayoutRequest{
			ID:       uuid.New(),
			UserID:   uuid.New(),
			Amount:   amount,
			Currency: "GHS",
			Method:   domain.PayoutMethod{Channel: domain.ChannelMobileMoney, Network: "mtn", PhoneNumber: "0241234567"},
			Status:   domain.PayoutStatusApproved,
		}
		repo.reqs[req.ID] = req
		repo.items = append(repo.items, domain.PayoutBatchItem{
			ID:              uuid.New(),
			BatchID:         batchID,
			PayoutRequestID: req.ID,
			Status:          domain.TxStatusPending,
		})
	}
	for i := 0; i < succeed; i++ {
		addItem(10)
	}
	for i := 0; i < fail; i++ {
		addItem(13)
	}

	registry, _ := provider.NewRegistry(nil)
	registry.Register(domain.ProviderConfig{Code: "momo_mtn", Channel: domain.ChannelMobileMoney, Active: true}, adapter)
	engine := NewEngine(repo, registry, nil, Options{})
	return repo, adapter, engine
}

func TestProcessBatch_PartialRollup(t *testing.T) {
	repo, adapter, engine := newBatchFixture(7, 3, false)

	result, err := engine.ProcessBatch(context.Background(), repo.batch.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Status != domain.BatchStatusPartial {
		t.Fatalf("expected partial status, got %q", result.Status)
	}
	if result.Processed != 10 || result.Succeeded != 7 || result.Failed != 3 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.ErrorEntries) != 3 {
		t.Fatalf("expected 3 error entries, got %d", len(result.ErrorEntries))
	}
	if adapter.calls != 10 {
		t.Fatalf("expected 10 provider calls, got %d", adapter.calls)
	}
	if repo.finalStatus != domain.BatchStatusPartial {
		t.Fatalf("expected batch finalized as partial, got %q", repo.finalStatus)
	}
	if len(repo.itemUpdates) != 10 {
		t.Fatalf("expected every item updated, got %d", len(repo.itemUpdates))
	}
}

func TestProcessBatch_AllSucceedRollsUpCompleted(t *testing.T) {
	repo, _, engine := newBatchFixture(5, 0, false)

	result, err := engine.ProcessBatch(context.Background(), repo.batch.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Status != domain.BatchStatusCompleted {
		t.Fatalf("expected completed, got %q", result.Status)
	}
	if len(result.ErrorEntries) != 0 {
		t.Fatalf("expected no errors, got %v", result.ErrorEntries)
	}
}

func TestProcessBatch_AllFailRollsUpFailed(t *testing.T) {
	repo, _, engine := newBatchFixture(0, 4, false)

	result, err := engine.ProcessBatch(context.Background(), repo.batch.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Status != domain.BatchStatusFailed {
		t.Fatalf("expected failed, got %q", result.Status)
	}
	if result.Failed != 4 {
		t.Fatalf("expected 4 failures, got %d", result.Failed)
	}
}

func TestProcessBatch_ParallelCountsMatchSequential(t *testing.T) {
	repo, adapter, engine := newBatchFixture(6, 2, true)

	result, err := engine.ProcessBatch(context.Background(), repo.batch.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Status != domain.BatchStatusPartial {
		t.Fatalf("expected partial, got %q", result.Status)
	}
	if result.Processed != 8 || result.Succeeded != 6 || result.Failed != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if adapter.calls != 8 {
		t.Fatalf("expected 8 provider calls, got %d", adapter.calls)
	}
}

func TestProcessBatch_RejectsNonPendingBatch(t *testing.T) {
	repo, _, engine := newBatchFixture(1, 0, false)
	repo.claimBatchErr = store.ErrInvalidState

	_, err := engine.ProcessBatch(context.Background(), repo.batch.ID)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCreateScheduledBatch_SkipsConcurrentlyClaimedRequests(t *testing.T) {
	repo, _, engine := newBatchFixture(0, 0, false)

	var lost uuid.UUID
	for i := 0; i < 3; i++ {
		req := &domain.PayoutRequest{ID: uuid.New(), Amount: 1000, Status: domain.PayoutStatusApproved}
		repo.reqs[req.ID] = req
		repo.approved = append(repo.approved, *req)
		if i == 1 {
			lost = req.ID
		}
	}
	repo.claimFailFor = map[uuid.UUID]bool{lost: true}

	batch, count, err := engine.CreateScheduledBatch(context.Background(), domain.ScheduledBatchFilter{}, false, 0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if batch == nil {
		t.Fatal("expected a batch")
	}
	if count != 2 {
		t.Fatalf("expected 2 items, got %d", count)
	}
	for _, item := range repo.createdItems {
		if item.PayoutRequestID == lost {
			t.Fatal("expected concurrently claimed request to be excluded")
		}
	}
}

func TestCreateScheduledBatch_NoMatchesCreatesNothing(t *testing.T) {
	repo, _, engine := newBatchFixture(0, 0, false)

	batch, count, err := engine.CreateScheduledBatch(context.Background(), domain.ScheduledBatchFilter{}, false, 0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if batch != nil || count != 0 {
		t.Fatalf("expected no batch for empty selection, got %+v count=%d", batch, count)
	}
	if repo.created != nil {
		t.Fatal("did not expect CreateBatchWithItems to be called")
	}
}
