package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/libs/kafka"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/ledger"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/storage"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/verifier"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation        = errors.New("invalid request")
	ErrListingNotFound   = errors.New("listing not found")
	ErrDuplicateListing  = errors.New("asset already has an active listing")
	ErrNotOwner          = errors.New("seller wallet does not hold the asset")
	ErrUnauthorized      = errors.New("wallet is not the seller")
	ErrAlreadySettled    = errors.New("listing is no longer active")
	ErrPaymentUnverified = errors.New("payment could not be verified")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// priceTolerance is the accepted relative drift between the expected price
// and the observed payment amount. Mismatches beyond it are logged, never
// blocked: the listing state transition is the gate, the payment comparison
// is reconciliation telemetry.
var priceTolerance = decimal.RequireFromString("0.01")

type ListingStore interface {
	CreateListing(ctx context.Context, listing storage.Listing) (*storage.Listing, error)
	GetActiveListing(ctx context.Context, assetID uint64) (*storage.Listing, error)
	ListListings(ctx context.Context, filter storage.ListingFilter) ([]storage.Listing, error)
	MarkListingSold(ctx context.Context, listingID uuid.UUID, buyerWallet, txnID string) (*storage.Listing, error)
	CancelListing(ctx context.Context, assetID uint64, requesterWallet string) (*storage.Listing, error)
	UpdateProjectOwner(ctx context.Context, assetID uint64, newOwner string) error
}

type TxnVerifier interface {
	Verify(ctx context.Context, txnID string) (verifier.Result, error)
}

type OwnershipChecker interface {
	WalletOwnsAsset(ctx context.Context, wallet string, assetID uint64, minAmount uint64) bool
}

type Topics struct {
	Settlements string
	Listings    string
}

type MarketplaceService struct {
	store       ListingStore
	verifier    TxnVerifier
	ownership   OwnershipChecker
	publisher   kafka.Publisher
	logger      *slog.Logger
	metrics     *Metrics
	topics      Topics
	explorerURL string
}

func NewMarketplaceService(store ListingStore, txnVerifier TxnVerifier, ownership OwnershipChecker,
	publisher kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics, explorerURL string) *MarketplaceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketplaceService{
		store:       store,
		verifier:    txnVerifier,
		ownership:   ownership,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
		topics:      topics,
		explorerURL: strings.TrimRight(explorerURL, "/"),
	}
}

type CreateListingRequest struct {
	AssetID      uint64
	SellerWallet string
	PriceAlgo    decimal.Decimal
	CO2Tonnes    decimal.Decimal
	VintageYear  int
}

type SettleRequest struct {
	AssetID     uint64
	BuyerWallet string
	TxnID       string
	OptInTxnID  string
	// SellerWallet is the seller the buyer believes they are paying. The
	// listing's seller is authoritative; a differing claim is logged.
	SellerWallet  string
	ExpectedPrice *decimal.Decimal
}

// Receipt is the settlement result returned to the buyer.
type Receipt struct {
	ListingID      uuid.UUID
	AssetID        uint64
	SellerWallet   string
	BuyerWallet    string
	PriceAlgo      decimal.Decimal
	CO2Tonnes      decimal.Decimal
	TxnID          string
	OptInTxnID     string
	ConfirmedRound uint64
	ExplorerURL    string
	Project        *storage.ProjectSummary
}

// CreateListing lists an asset for sale after proving the seller holds it on
// the ledger.
func (s *MarketplaceService) CreateListing(ctx context.Context, req CreateListingRequest) (*storage.Listing, error) {
	if req.AssetID == 0 {
		return nil, fmt.Errorf("%w: asset_id is required", ErrValidation)
	}
	if req.SellerWallet == "" {
		return nil, fmt.Errorf("%w: seller_wallet is required", ErrValidation)
	}
	if req.PriceAlgo.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price_algo must be positive", ErrValidation)
	}

	if !s.ownership.WalletOwnsAsset(ctx, req.SellerWallet, req.AssetID, 1) {
		s.metrics.listingCreation("rejected")
		return nil, ErrNotOwner
	}

	listing, err := s.store.CreateListing(ctx, storage.Listing{
		AssetID:      req.AssetID,
		SellerWallet: req.SellerWallet,
		PriceAlgo:    req.PriceAlgo,
		CO2Tonnes:    req.CO2Tonnes,
		VintageYear:  req.VintageYear,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateActiveListing) {
			s.metrics.listingCreation("duplicate")
			return nil, ErrDuplicateListing
		}
		s.metrics.listingCreation("error")
		return nil, err
	}

	s.metrics.listingCreation("created")
	s.publishListingEvent(ctx, "marketplace.listing.created", listing)
	return listing, nil
}

// ListListings returns listings for the public board.
func (s *MarketplaceService) ListListings(ctx context.Context, status string) ([]storage.Listing, error) {
	return s.store.ListListings(ctx, storage.ListingFilter{Status: status})
}

// CancelListing withdraws an active listing on behalf of its seller.
func (s *MarketplaceService) CancelListing(ctx context.Context, assetID uint64, requesterWallet string) (*storage.Listing, error) {
	if assetID == 0 || requesterWallet == "" {
		return nil, fmt.Errorf("%w: asset_id and wallet are required", ErrValidation)
	}

	listing, err := s.store.CancelListing(ctx, assetID, requesterWallet)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrListingNotFound
		case errors.Is(err, storage.ErrUnauthorized):
			return nil, ErrUnauthorized
		case errors.Is(err, storage.ErrStaleStatus):
			return nil, ErrAlreadySettled
		}
		return nil, err
	}

	s.publishListingEvent(ctx, "marketplace.listing.cancelled", listing)
	return listing, nil
}

// Settle reconciles a claimed payment against the ledger and, when the
// payment is confirmed, transitions the listing to sold. The conditional
// update in the store is the only serialization point; everything before it
// is read-only and everything after it is best effort.
func (s *MarketplaceService) Settle(ctx context.Context, req SettleRequest) (*Receipt, error) {
	start := time.Now()
	receipt, err := s.settle(ctx, req)
	s.metrics.settlement(settleStatus(err), time.Since(start))
	return receipt, err
}

func (s *MarketplaceService) settle(ctx context.Context, req SettleRequest) (*Receipt, error) {
	if req.AssetID == 0 {
		return nil, fmt.Errorf("%w: asset_id is required", ErrValidation)
	}
	if req.BuyerWallet == "" {
		return nil, fmt.Errorf("%w: buyer_wallet is required", ErrValidation)
	}
	if req.TxnID == "" {
		return nil, fmt.Errorf("%w: txn_id is required", ErrValidation)
	}

	listing, err := s.store.GetActiveListing(ctx, req.AssetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}

	result, err := s.verifier.Verify(ctx, req.TxnID)
	if err != nil {
		s.metrics.verification(result.Path, "error")
		if ledger.IsUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if !result.Confirmed {
		s.metrics.verification(result.Path, "unconfirmed")
		return nil, fmt.Errorf("%w: %s", ErrPaymentUnverified, result.Reason)
	}
	s.metrics.verification(result.Path, "confirmed")

	s.compareCounterparties(req, listing, result)
	s.comparePrice(req, listing, result)

	sold, err := s.store.MarkListingSold(ctx, listing.ID, req.BuyerWallet, req.TxnID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrStaleStatus):
			return nil, ErrAlreadySettled
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrListingNotFound
		}
		return nil, err
	}

	s.handOffProject(ctx, sold, req.BuyerWallet)
	s.publishSettlementEvent(ctx, sold, result)

	return &Receipt{
		ListingID:      sold.ID,
		AssetID:        sold.AssetID,
		SellerWallet:   sold.SellerWallet,
		BuyerWallet:    req.BuyerWallet,
		PriceAlgo:      sold.PriceAlgo,
		CO2Tonnes:      sold.CO2Tonnes,
		TxnID:          req.TxnID,
		OptInTxnID:     req.OptInTxnID,
		ConfirmedRound: result.Round,
		ExplorerURL:    s.explorerTxnURL(req.TxnID),
		Project:        listing.Project,
	}, nil
}

// compareCounterparties checks the payment's sender and receiver against the
// settlement request. Mismatches are warnings only.
func (s *MarketplaceService) compareCounterparties(req SettleRequest, listing *storage.Listing, result verifier.Result) {
	if req.SellerWallet != "" && req.SellerWallet != listing.SellerWallet {
		s.logger.Warn("claimed seller differs from listing seller",
			"txn_id", req.TxnID,
			"asset_id", req.AssetID,
			"claimed_seller", req.SellerWallet,
			"listing_seller", listing.SellerWallet,
		)
	}
	if result.Sender != req.BuyerWallet {
		s.logger.Warn("payment sender differs from claimed buyer",
			"txn_id", req.TxnID,
			"asset_id", req.AssetID,
			"claimed_buyer", req.BuyerWallet,
			"observed_sender", result.Sender,
		)
	}
	if result.Receiver != listing.SellerWallet {
		s.logger.Warn("payment receiver differs from listing seller",
			"txn_id", req.TxnID,
			"asset_id", req.AssetID,
			"listing_seller", listing.SellerWallet,
			"observed_receiver", result.Receiver,
		)
	}
}

// comparePrice checks the paid amount against the expected price within the
// tolerance. A caller-supplied expected price wins over the listing's asking
// price. Warning only.
func (s *MarketplaceService) comparePrice(req SettleRequest, listing *storage.Listing, result verifier.Result) {
	expected := listing.PriceAlgo
	if req.ExpectedPrice != nil {
		expected = *req.ExpectedPrice
	}
	if !withinTolerance(expected, result.Amount) {
		s.logger.Warn("payment amount outside tolerance",
			"txn_id", req.TxnID,
			"asset_id", req.AssetID,
			"expected", expected.String(),
			"observed", result.Amount.String(),
		)
	}
}

// withinTolerance reports whether actual is within the relative tolerance of
// expected. A zero expected price only matches an exact amount.
func withinTolerance(expected, actual decimal.Decimal) bool {
	diff := expected.Sub(actual).Abs()
	return diff.LessThanOrEqual(expected.Abs().Mul(priceTolerance))
}

// handOffProject flips the registered project to the buyer. The listing row
// is the system of record for the sale, so a failure here logs and moves on.
func (s *MarketplaceService) handOffProject(ctx context.Context, sold *storage.Listing, buyerWallet string) {
	if err := s.store.UpdateProjectOwner(ctx, sold.AssetID, buyerWallet); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		s.logger.Warn("project hand-off failed",
			"asset_id", sold.AssetID,
			"listing_id", sold.ID.String(),
			"error", err,
		)
	}
}

type settlementEvent struct {
	kafka.Envelope
	ListingID      string `json:"listing_id"`
	AssetID        uint64 `json:"asset_id"`
	SellerWallet   string `json:"seller_wallet"`
	BuyerWallet    string `json:"buyer_wallet"`
	PriceAlgo      string `json:"price_algo"`
	PaidAlgo       string `json:"paid_algo"`
	TxnID          string `json:"txn_id"`
	ConfirmedRound uint64 `json:"confirmed_round"`
}

func (s *MarketplaceService) publishSettlementEvent(ctx context.Context, sold *storage.Listing, result verifier.Result) {
	if s.publisher == nil || s.topics.Settlements == "" {
		return
	}

	txnID := ""
	if sold.TxnID != nil {
		txnID = *sold.TxnID
	}
	buyer := ""
	if sold.BuyerWallet != nil {
		buyer = *sold.BuyerWallet
	}

	eventID := kafka.DeterministicEventID(sold.ID.String(), txnID)
	envelope, err := kafka.NewEnvelopeWithID(eventID, "marketplace.settlement.completed", 1, sold.ID.String())
	if err != nil {
		s.logger.Error("settlement event envelope failed", "listing_id", sold.ID.String(), "error", err)
		return
	}

	event := settlementEvent{
		Envelope:       envelope,
		ListingID:      sold.ID.String(),
		AssetID:        sold.AssetID,
		SellerWallet:   sold.SellerWallet,
		BuyerWallet:    buyer,
		PriceAlgo:      sold.PriceAlgo.String(),
		PaidAlgo:       result.Amount.String(),
		TxnID:          txnID,
		ConfirmedRound: result.Round,
	}
	if _, _, err := s.publisher.PublishJSON(ctx, s.topics.Settlements, sold.ID.String(), event); err != nil {
		s.logger.Error("settlement event publish failed", "listing_id", sold.ID.String(), "error", err)
	}
}

type listingEvent struct {
	kafka.Envelope
	ListingID    string `json:"listing_id"`
	AssetID      uint64 `json:"asset_id"`
	SellerWallet string `json:"seller_wallet"`
	PriceAlgo    string `json:"price_algo"`
	Status       string `json:"status"`
}

func (s *MarketplaceService) publishListingEvent(ctx context.Context, eventType string, listing *storage.Listing) {
	if s.publisher == nil || s.topics.Listings == "" {
		return
	}

	envelope, err := kafka.NewEnvelope(eventType, 1, listing.ID.String())
	if err != nil {
		s.logger.Error("listing event envelope failed", "listing_id", listing.ID.String(), "error", err)
		return
	}

	event := listingEvent{
		Envelope:     envelope,
		ListingID:    listing.ID.String(),
		AssetID:      listing.AssetID,
		SellerWallet: listing.SellerWallet,
		PriceAlgo:    listing.PriceAlgo.String(),
		Status:       listing.Status,
	}
	if _, _, err := s.publisher.PublishJSON(ctx, s.topics.Listings, listing.ID.String(), event); err != nil {
		s.logger.Error("listing event publish failed", "listing_id", listing.ID.String(), "error", err)
	}
}

func (s *MarketplaceService) explorerTxnURL(txnID string) string {
	if s.explorerURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", s.explorerURL, txnID)
}

func settleStatus(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrPaymentUnverified):
		return "unverified"
	case errors.Is(err, ErrListingNotFound):
		return "not_found"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
