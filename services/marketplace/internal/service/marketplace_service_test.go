package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/ledger"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/storage"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/verifier"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	sellerWallet = "SELLERWALLETADDR"
	buyerWallet  = "BUYERWALLETADDR"
	otherWallet  = "OTHERWALLETADDR"
)

// fakeStore holds listings in memory and reproduces the store's conditional
// sold transition under a mutex, so races resolve to exactly one winner.
type fakeStore struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*storage.Listing
	byAsset  map[uint64]uuid.UUID
	projects map[uint64]string

	createErr       error
	handOffErr      error
	handOffCalls    int
	handOffNewOwner string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings: make(map[uuid.UUID]*storage.Listing),
		byAsset:  make(map[uint64]uuid.UUID),
		projects: make(map[uint64]string),
	}
}

func (f *fakeStore) addActive(assetID uint64, price string) *storage.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	listing := &storage.Listing{
		ID:           uuid.New(),
		AssetID:      assetID,
		SellerWallet: sellerWallet,
		PriceAlgo:    decimal.RequireFromString(price),
		CO2Tonnes:    decimal.RequireFromString("2.5"),
		VintageYear:  2023,
		Status:       storage.ListingStatusActive,
	}
	f.listings[listing.ID] = listing
	f.byAsset[assetID] = listing.ID
	return listing
}

func (f *fakeStore) CreateListing(_ context.Context, listing storage.Listing) (*storage.Listing, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byAsset[listing.AssetID]; ok && f.listings[id].Status == storage.ListingStatusActive {
		return nil, storage.ErrDuplicateActiveListing
	}
	listing.ID = uuid.New()
	listing.Status = storage.ListingStatusActive
	f.listings[listing.ID] = &listing
	f.byAsset[listing.AssetID] = listing.ID
	return &listing, nil
}

func (f *fakeStore) GetActiveListing(_ context.Context, assetID uint64) (*storage.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byAsset[assetID]
	if !ok || f.listings[id].Status != storage.ListingStatusActive {
		return nil, storage.ErrNotFound
	}
	copied := *f.listings[id]
	return &copied, nil
}

func (f *fakeStore) ListListings(_ context.Context, filter storage.ListingFilter) ([]storage.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Listing
	for _, l := range f.listings {
		if filter.Status == "all" || filter.Status == l.Status || (filter.Status == "" && l.Status == storage.ListingStatusActive) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkListingSold(_ context.Context, listingID uuid.UUID, buyer, txnID string) (*storage.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	listing, ok := f.listings[listingID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if listing.Status != storage.ListingStatusActive {
		return nil, storage.ErrStaleStatus
	}
	listing.Status = storage.ListingStatusSold
	listing.BuyerWallet = &buyer
	listing.TxnID = &txnID
	copied := *listing
	return &copied, nil
}

func (f *fakeStore) CancelListing(_ context.Context, assetID uint64, requester string) (*storage.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byAsset[assetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	listing := f.listings[id]
	if listing.Status != storage.ListingStatusActive {
		return nil, storage.ErrStaleStatus
	}
	if listing.SellerWallet != requester {
		return nil, storage.ErrUnauthorized
	}
	listing.Status = storage.ListingStatusCancelled
	copied := *listing
	return &copied, nil
}

func (f *fakeStore) UpdateProjectOwner(_ context.Context, assetID uint64, newOwner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handOffCalls++
	f.handOffNewOwner = newOwner
	if f.handOffErr != nil {
		return f.handOffErr
	}
	f.projects[assetID] = newOwner
	return nil
}

type fakeVerifier struct {
	result verifier.Result
	err    error
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (verifier.Result, error) {
	return f.result, f.err
}

type fakeOwnership struct{ owns bool }

func (f *fakeOwnership) WalletOwnsAsset(_ context.Context, _ string, _ uint64, _ uint64) bool {
	return f.owns
}

type publishedMessage struct {
	topic string
	key   string
	value any
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (f *fakePublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}
	f.messages = append(f.messages, publishedMessage{topic: topic, key: key, value: value})
	return 0, 0, nil
}

func (f *fakePublisher) Close() error { return nil }

func confirmedPayment(amount string) verifier.Result {
	return verifier.Result{
		Confirmed: true,
		Round:     12345,
		Sender:    buyerWallet,
		Receiver:  sellerWallet,
		Amount:    decimal.RequireFromString(amount),
		Path:      "pending",
	}
}

func newService(store ListingStore, v TxnVerifier, o OwnershipChecker, pub *fakePublisher) *MarketplaceService {
	topics := Topics{Settlements: "marketplace.settlements", Listings: "marketplace.listings"}
	return NewMarketplaceService(store, v, o, pub, nil, nil, topics, "https://testnet.explorer.example")
}

func TestSettleHappyPath(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	pub := &fakePublisher{}
	svc := newService(store, &fakeVerifier{result: confirmedPayment("9.95")}, &fakeOwnership{owns: true}, pub)

	receipt, err := svc.Settle(context.Background(), SettleRequest{
		AssetID:     42,
		BuyerWallet: buyerWallet,
		TxnID:       "TXN1",
		OptInTxnID:  "OPTIN1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.ConfirmedRound != 12345 {
		t.Fatalf("expected round 12345, got %d", receipt.ConfirmedRound)
	}
	if receipt.SellerWallet != sellerWallet || receipt.BuyerWallet != buyerWallet {
		t.Fatalf("unexpected counterparties in receipt: %+v", receipt)
	}
	if receipt.OptInTxnID != "OPTIN1" {
		t.Fatalf("expected opt-in txn id echoed, got %q", receipt.OptInTxnID)
	}
	if receipt.ExplorerURL != "https://testnet.explorer.example/tx/TXN1" {
		t.Fatalf("unexpected explorer url: %s", receipt.ExplorerURL)
	}
	if store.handOffCalls != 1 || store.handOffNewOwner != buyerWallet {
		t.Fatalf("expected project hand-off to buyer")
	}
	if len(pub.messages) != 1 || pub.messages[0].topic != "marketplace.settlements" {
		t.Fatalf("expected one settlement event, got %+v", pub.messages)
	}
	event, ok := pub.messages[0].value.(settlementEvent)
	if !ok {
		t.Fatalf("expected settlementEvent payload, got %T", pub.messages[0].value)
	}
	if event.TxnID != "TXN1" || event.BuyerWallet != buyerWallet {
		t.Fatalf("unexpected event payload: %+v", event)
	}
}

func TestSettleOutOfToleranceStillSucceeds(t *testing.T) {
	store := newFakeStore()
	listing := store.addActive(42, "10")
	svc := newService(store, &fakeVerifier{result: confirmedPayment("9.0")}, &fakeOwnership{owns: true}, &fakePublisher{})

	receipt, err := svc.Settle(context.Background(), SettleRequest{AssetID: 42, BuyerWallet: buyerWallet, TxnID: "TXN1"})
	if err != nil {
		t.Fatalf("amount mismatch must not block settlement: %v", err)
	}
	if receipt.ListingID != listing.ID {
		t.Fatalf("unexpected listing in receipt")
	}
	if store.listings[listing.ID].Status != storage.ListingStatusSold {
		t.Fatalf("listing should be sold")
	}
}

func TestSettleCounterpartyMismatchStillSucceeds(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	result := confirmedPayment("10")
	result.Sender = otherWallet
	result.Receiver = otherWallet
	svc := newService(store, &fakeVerifier{result: result}, &fakeOwnership{owns: true}, &fakePublisher{})

	if _, err := svc.Settle(context.Background(), SettleRequest{AssetID: 42, BuyerWallet: buyerWallet, TxnID: "TXN1"}); err != nil {
		t.Fatalf("counterparty mismatch must not block settlement: %v", err)
	}
}

func TestSettleClaimedSellerMismatchStillSucceeds(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	svc := newService(store, &fakeVerifier{result: confirmedPayment("10")}, &fakeOwnership{owns: true}, &fakePublisher{})

	receipt, err := svc.Settle(context.Background(), SettleRequest{
		AssetID:      42,
		BuyerWallet:  buyerWallet,
		SellerWallet: otherWallet,
		TxnID:        "TXN1",
	})
	if err != nil {
		t.Fatalf("claimed seller mismatch must not block settlement: %v", err)
	}
	if receipt.SellerWallet != sellerWallet {
		t.Fatalf("receipt must carry the listing's seller, got %s", receipt.SellerWallet)
	}
}

func TestSettleSecondAttemptAlreadySettled(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	svc := newService(store, &fakeVerifier{result: confirmedPayment("10")}, &fakeOwnership{owns: true}, &fakePublisher{})

	req := SettleRequest{AssetID: 42, BuyerWallet: buyerWallet, TxnID: "TXN1"}
	if _, err := svc.Settle(context.Background(), req); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := svc.Settle(context.Background(), req); !errors.Is(err, ErrListingNotFound) && !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already-settled or not-found, got %v", err)
	}
}

func TestSettleConcurrentExactlyOneWinner(t *testing.T) {
	store := newFakeStore()
	listing := store.addActive(42, "10")
	svc := newService(store, &fakeVerifier{result: confirmedPayment("10")}, &fakeOwnership{owns: true}, &fakePublisher{})

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var settled, lost int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.settle(context.Background(), SettleRequest{AssetID: 42, BuyerWallet: buyerWallet, TxnID: "TXNRACE"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrListingNotFound):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if settled != 1 {
		t.Fatalf("expected exactly one settlement, got %d", settled)
	}
	if lost != workers-1 {
		t.Fatalf("expected %d losers, got %d", workers-1, lost)
	}
	if store.listings[listing.ID].Status != storage.ListingStatusSold {
		t.Fatalf("listing should be sold")
	}
}

func TestSettleUnverifiedPayment(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	svc := newService(store, &fakeVerifier{result: verifier.Result{Reason: "transaction not found"}}, &fakeOwnership{owns: true}, &fakePublisher{})

	_, err := svc.Settle(context.Background(), SettleRequest{AssetID: 42, BuyerWallet: buyerWallet, TxnID: "TXNBAD"})
	if !errors.Is(err, ErrPaymentUnverified) {
		t.Fatalf("expected unverified error, got %v", err)
	}
	if store.handOffCalls != 0 {
		t.Fatalf("no mutation expected on failed verification")
	}
}

func TestSettleLedgerOutage(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	svc := newService(store, &fakeVerifier{err: ledger.ErrUnavailable}, &fakeOwnership{owns: true}, &fakePublisher{})

	_, err := svc.Settle(context.Background(), SettleRequest{AssetID: 42, BuyerWallet: buyerWallet, TxnID: "TXN1"})
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}
}

func TestSettleListingNotFound(t *testing.T) {
	svc := newService(newFakeStore(), &fakeVerifier{result: confirmedPayment("10")}, &fakeOwnership{owns: true}, &fakePublisher{})
	_, err := svc.Settle(context.Background(), SettleRequest{AssetID: 99, BuyerWallet: buyerWallet, TxnID: "TXN1"})
	if !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSettleValidation(t *testing.T) {
	svc := newService(newFakeStore(), &fakeVerifier{}, &fakeOwnership{owns: true}, &fakePublisher{})
	cases := []SettleRequest{
		{BuyerWallet: buyerWallet, TxnID: "TXN1"},
		{AssetID: 42, TxnID: "TXN1"},
		{AssetID: 42, BuyerWallet: buyerWallet},
	}
	for _, req := range cases {
		if _, err := svc.Settle(context.Background(), req); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestSettleProjectHandOffFailureDoesNotUndoSale(t *testing.T) {
	store := newFakeStore()
	listing := store.addActive(42, "10")
	store.handOffErr = errors.New("projects table locked")
	svc := newService(store, &fakeVerifier{result: confirmedPayment("10")}, &fakeOwnership{owns: true}, &fakePublisher{})

	if _, err := svc.Settle(context.Background(), SettleRequest{AssetID: 42, BuyerWallet: buyerWallet, TxnID: "TXN1"}); err != nil {
		t.Fatalf("hand-off failure must not fail settlement: %v", err)
	}
	if store.listings[listing.ID].Status != storage.ListingStatusSold {
		t.Fatalf("listing should stay sold")
	}
}

func TestCreateListingRequiresOwnership(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeVerifier{}, &fakeOwnership{owns: false}, &fakePublisher{})

	_, err := svc.CreateListing(context.Background(), CreateListingRequest{
		AssetID:      42,
		SellerWallet: sellerWallet,
		PriceAlgo:    decimal.RequireFromString("10"),
	})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not-owner error, got %v", err)
	}
}

func TestCreateListingDuplicate(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	svc := newService(store, &fakeVerifier{}, &fakeOwnership{owns: true}, &fakePublisher{})

	_, err := svc.CreateListing(context.Background(), CreateListingRequest{
		AssetID:      42,
		SellerWallet: sellerWallet,
		PriceAlgo:    decimal.RequireFromString("10"),
	})
	if !errors.Is(err, ErrDuplicateListing) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestCreateListingPublishesEvent(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, &fakeVerifier{}, &fakeOwnership{owns: true}, pub)

	listing, err := svc.CreateListing(context.Background(), CreateListingRequest{
		AssetID:      42,
		SellerWallet: sellerWallet,
		PriceAlgo:    decimal.RequireFromString("12.5"),
		CO2Tonnes:    decimal.RequireFromString("3"),
		VintageYear:  2024,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if listing.Status != storage.ListingStatusActive {
		t.Fatalf("expected active listing")
	}
	if len(pub.messages) != 1 || pub.messages[0].topic != "marketplace.listings" {
		t.Fatalf("expected listing event, got %+v", pub.messages)
	}
}

func TestCancelListingErrors(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	svc := newService(store, &fakeVerifier{}, &fakeOwnership{owns: true}, &fakePublisher{})

	if _, err := svc.CancelListing(context.Background(), 42, otherWallet); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.CancelListing(context.Background(), 42, sellerWallet); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.CancelListing(context.Background(), 42, sellerWallet); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already-settled for repeat cancel, got %v", err)
	}
	if _, err := svc.CancelListing(context.Background(), 99, sellerWallet); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWithinToleranceBoundaries(t *testing.T) {
	ten := decimal.RequireFromString("10")
	cases := []struct {
		actual string
		want   bool
	}{
		{"10", true},
		{"9.9", true},    // exactly 1.00% below
		{"10.1", true},   // exactly 1.00% above
		{"9.899", false}, // 1.01% below
		{"10.101", false},
		{"0", false},
	}
	for _, tc := range cases {
		if got := withinTolerance(ten, decimal.RequireFromString(tc.actual)); got != tc.want {
			t.Fatalf("withinTolerance(10, %s) = %v, want %v", tc.actual, got, tc.want)
		}
	}
	if !withinTolerance(decimal.Zero, decimal.Zero) {
		t.Fatalf("zero expected must match exact zero")
	}
	if withinTolerance(decimal.Zero, decimal.RequireFromString("0.01")) {
		t.Fatalf("zero expected must reject any nonzero amount")
	}
}

func TestSettleUsesCallerExpectedPriceForTolerance(t *testing.T) {
	store := newFakeStore()
	store.addActive(42, "10")
	expected := decimal.RequireFromString("9.0")
	svc := newService(store, &fakeVerifier{result: confirmedPayment("9.0")}, &fakeOwnership{owns: true}, &fakePublisher{})

	// The comparison is telemetry either way; this just exercises the
	// caller-supplied expected price path.
	if _, err := svc.Settle(context.Background(), SettleRequest{
		AssetID:       42,
		BuyerWallet:   buyerWallet,
		TxnID:         "TXN1",
		ExpectedPrice: &expected,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}
}
