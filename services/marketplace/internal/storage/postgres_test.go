package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skipf("set RUN_DB_INTEGRATION to run database integration tests")
	}

	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Fatalf("setup db: %v", err)
	}
	t.Cleanup(func() {
		_ = testutil.CleanupTestData(context.Background(), pool)
		pool.Close()
	})
	if err := testutil.CleanupTestData(context.Background(), pool); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	return New(pool), pool
}

func activeListing(assetID uint64) Listing {
	return Listing{
		AssetID:      assetID,
		SellerWallet: testutil.SellerWallet,
		PriceAlgo:    testutil.DemoPrice(),
		CO2Tonnes:    testutil.DemoTonnes(),
		VintageYear:  2023,
	}
}

func TestCreateListingRejectsDuplicateActive(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	first, err := store.CreateListing(ctx, activeListing(testutil.DemoAssetID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != ListingStatusActive {
		t.Fatalf("expected active listing, got %s", first.Status)
	}

	if _, err := store.CreateListing(ctx, activeListing(testutil.DemoAssetID)); !errors.Is(err, ErrDuplicateActiveListing) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// A cancelled listing frees the asset for relisting.
	if _, err := store.CancelListing(ctx, testutil.DemoAssetID, testutil.SellerWallet); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := store.CreateListing(ctx, activeListing(testutil.DemoAssetID)); err != nil {
		t.Fatalf("relist after cancel: %v", err)
	}
}

func TestMarkListingSoldTransitions(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	listing, err := store.CreateListing(ctx, activeListing(testutil.DemoAssetID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sold, err := store.MarkListingSold(ctx, listing.ID, testutil.BuyerWallet, "TXNID1")
	if err != nil {
		t.Fatalf("mark sold: %v", err)
	}
	if sold.Status != ListingStatusSold {
		t.Fatalf("expected sold, got %s", sold.Status)
	}
	if sold.BuyerWallet == nil || *sold.BuyerWallet != testutil.BuyerWallet {
		t.Fatalf("expected buyer wallet recorded")
	}
	if sold.TxnID == nil || *sold.TxnID != "TXNID1" {
		t.Fatalf("expected txn id recorded")
	}

	if _, err := store.MarkListingSold(ctx, listing.ID, testutil.OtherWallet, "TXNID2"); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected stale status on second sale, got %v", err)
	}
}

func TestMarkListingSoldConcurrentSingleWinner(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	listing, err := store.CreateListing(ctx, activeListing(testutil.DemoAssetID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := store.MarkListingSold(ctx, listing.ID, testutil.BuyerWallet, "TXNRACE"); err == nil {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestCancelListingAuthorization(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.CreateListing(ctx, activeListing(testutil.DemoAssetID)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.CancelListing(ctx, testutil.DemoAssetID, testutil.OtherWallet); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	cancelled, err := store.CancelListing(ctx, testutil.DemoAssetID, testutil.SellerWallet)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != ListingStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	if _, err := store.CancelListing(ctx, testutil.DemoAssetID, testutil.SellerWallet); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected stale status on repeat cancel, got %v", err)
	}
	if _, err := store.CancelListing(ctx, testutil.SecondAssetID, testutil.SellerWallet); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown asset, got %v", err)
	}
}

func TestListListingsFilters(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	a, err := store.CreateListing(ctx, activeListing(testutil.DemoAssetID))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := store.CreateListing(ctx, activeListing(testutil.SecondAssetID)); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if _, err := store.MarkListingSold(ctx, a.ID, testutil.BuyerWallet, "TXNID1"); err != nil {
		t.Fatalf("mark sold: %v", err)
	}

	active, err := store.ListListings(ctx, ListingFilter{})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].AssetID != testutil.SecondAssetID {
		t.Fatalf("expected only the second listing active, got %d", len(active))
	}

	all, err := store.ListListings(ctx, ListingFilter{Status: "all"})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both listings, got %d", len(all))
	}
}

func TestProjectHandOff(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO projects (asset_id, name, location, project_type, standard, vintage_year, ipfs_hash, current_owner, status)
		VALUES ($1, 'Mangrove Restoration', 'Kenya', 'blue_carbon', 'VCS', 2023, 'QmTest', $2, 'listed')
	`, testutil.DemoAssetID, testutil.SellerWallet)
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	if err := store.UpdateProjectOwner(ctx, testutil.DemoAssetID, testutil.BuyerWallet); err != nil {
		t.Fatalf("hand off: %v", err)
	}
	project, err := store.GetProjectByAsset(ctx, testutil.DemoAssetID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project.CurrentOwner != testutil.BuyerWallet || project.Status != "sold" {
		t.Fatalf("expected sold project owned by buyer, got %+v", project)
	}

	if err := store.UpdateProjectOwner(ctx, testutil.SecondAssetID, testutil.BuyerWallet); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown project, got %v", err)
	}

	// The project summary rides along on the active-listing read.
	if _, err := store.CreateListing(ctx, activeListing(testutil.DemoAssetID)); err != nil {
		t.Fatalf("create: %v", err)
	}
	listing, err := store.GetActiveListing(ctx, testutil.DemoAssetID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if listing.Project == nil || listing.Project.Name != "Mangrove Restoration" {
		t.Fatalf("expected joined project summary, got %+v", listing.Project)
	}
	if !listing.PriceAlgo.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected price 10, got %s", listing.PriceAlgo)
	}
}
