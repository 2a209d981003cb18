package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/rate"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/service"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type MarketplaceService interface {
	CreateListing(ctx context.Context, req service.CreateListingRequest) (*storage.Listing, error)
	ListListings(ctx context.Context, status string) ([]storage.Listing, error)
	CancelListing(ctx context.Context, assetID uint64, requesterWallet string) (*storage.Listing, error)
	Settle(ctx context.Context, req service.SettleRequest) (*service.Receipt, error)
}

type Handler struct {
	Service MarketplaceService
	Limiter rate.Limiter
	Logger  *slog.Logger
}

func New(svc MarketplaceService, limiter rate.Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Limiter: limiter, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine) {
	group := r.Group("/api/marketplace")
	group.GET("", h.ListListings)
	group.POST("/list", h.CreateListing)
	group.POST("/buy", h.Settle)
	group.POST("/cancel", h.CancelListing)
}

type createListingRequest struct {
	AssetID      uint64 `json:"asset_id"`
	SellerWallet string `json:"seller_wallet"`
	PriceAlgo    string `json:"price_algo"`
	CO2Tonnes    string `json:"co2_tonnes"`
	VintageYear  int    `json:"vintage_year"`
}

type buyRequest struct {
	AssetID       uint64 `json:"asset_id"`
	BuyerWallet   string `json:"buyer_wallet"`
	SellerWallet  string `json:"seller_wallet"`
	TxnID         string `json:"txn_id"`
	OptInTxnID    string `json:"opt_in_txn_id"`
	ExpectedPrice string `json:"expected_price"`
}

type cancelRequest struct {
	AssetID uint64 `json:"asset_id"`
	Wallet  string `json:"wallet"`
}

type projectItem struct {
	Name         string `json:"name"`
	Location     string `json:"location,omitempty"`
	ProjectType  string `json:"project_type,omitempty"`
	Standard     string `json:"standard,omitempty"`
	VintageYear  int    `json:"vintage_year,omitempty"`
	IPFSHash     string `json:"ipfs_hash,omitempty"`
	CurrentOwner string `json:"current_owner,omitempty"`
	Status       string `json:"status,omitempty"`
}

type listingItem struct {
	ListingID    string       `json:"listing_id"`
	AssetID      uint64       `json:"asset_id"`
	SellerWallet string       `json:"seller_wallet"`
	BuyerWallet  *string      `json:"buyer_wallet,omitempty"`
	PriceAlgo    string       `json:"price_algo"`
	CO2Tonnes    string       `json:"co2_tonnes"`
	VintageYear  int          `json:"vintage_year"`
	Status       string       `json:"status"`
	TxnID        *string      `json:"txn_id,omitempty"`
	CreatedAt    string       `json:"created_at"`
	UpdatedAt    string       `json:"updated_at"`
	Project      *projectItem `json:"project,omitempty"`
}

type receiptResponse struct {
	ListingID      string       `json:"listing_id"`
	AssetID        uint64       `json:"asset_id"`
	SellerWallet   string       `json:"seller_wallet"`
	BuyerWallet    string       `json:"buyer_wallet"`
	PriceAlgo      string       `json:"price_algo"`
	CO2Tonnes      string       `json:"co2_tonnes"`
	TxnID          string       `json:"txn_id"`
	OptInTxnID     string       `json:"opt_in_txn_id,omitempty"`
	ConfirmedRound uint64       `json:"confirmed_round"`
	ExplorerURL    string       `json:"explorer_url,omitempty"`
	Project        *projectItem `json:"project,omitempty"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (h *Handler) ListListings(c *gin.Context) {
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	switch status {
	case "", "all", storage.ListingStatusActive, storage.ListingStatusSold, storage.ListingStatusCancelled:
	default:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid status filter", nil)
		return
	}

	listings, err := h.Service.ListListings(c.Request.Context(), status)
	if err != nil {
		h.Logger.Error("list listings failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	items := make([]listingItem, 0, len(listings))
	for _, listing := range listings {
		items = append(items, listingToItem(listing))
	}
	c.JSON(http.StatusOK, gin.H{"listings": items})
}

func (h *Handler) CreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	price, err := decimal.NewFromString(strings.TrimSpace(req.PriceAlgo))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid price_algo", nil)
		return
	}
	tonnes := decimal.Zero
	if strings.TrimSpace(req.CO2Tonnes) != "" {
		tonnes, err = decimal.NewFromString(strings.TrimSpace(req.CO2Tonnes))
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid co2_tonnes", nil)
			return
		}
	}

	listing, err := h.Service.CreateListing(c.Request.Context(), service.CreateListingRequest{
		AssetID:      req.AssetID,
		SellerWallet: strings.TrimSpace(req.SellerWallet),
		PriceAlgo:    price,
		CO2Tonnes:    tonnes,
		VintageYear:  req.VintageYear,
	})
	if err != nil {
		h.writeServiceError(c, err, "create listing failed")
		return
	}

	c.JSON(http.StatusCreated, listingToItem(*listing))
}

func (h *Handler) Settle(c *gin.Context) {
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	if h.Limiter != nil {
		allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), c.ClientIP(), time.Now())
		if err != nil {
			// fail open: a limiter outage must not block settlements
			h.Logger.Warn("rate limiter check failed", "error", err)
		} else if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
	}

	input := service.SettleRequest{
		AssetID:      req.AssetID,
		BuyerWallet:  strings.TrimSpace(req.BuyerWallet),
		SellerWallet: strings.TrimSpace(req.SellerWallet),
		TxnID:        strings.TrimSpace(req.TxnID),
		OptInTxnID:   strings.TrimSpace(req.OptInTxnID),
	}
	if strings.TrimSpace(req.ExpectedPrice) != "" {
		expected, err := decimal.NewFromString(strings.TrimSpace(req.ExpectedPrice))
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid expected_price", nil)
			return
		}
		input.ExpectedPrice = &expected
	}

	receipt, err := h.Service.Settle(c.Request.Context(), input)
	if err != nil {
		h.writeServiceError(c, err, "settlement failed")
		return
	}

	resp := receiptResponse{
		ListingID:      receipt.ListingID.String(),
		AssetID:        receipt.AssetID,
		SellerWallet:   receipt.SellerWallet,
		BuyerWallet:    receipt.BuyerWallet,
		PriceAlgo:      receipt.PriceAlgo.String(),
		CO2Tonnes:      receipt.CO2Tonnes.String(),
		TxnID:          receipt.TxnID,
		OptInTxnID:     receipt.OptInTxnID,
		ConfirmedRound: receipt.ConfirmedRound,
		ExplorerURL:    receipt.ExplorerURL,
		Project:        projectToItem(receipt.Project),
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CancelListing(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	listing, err := h.Service.CancelListing(c.Request.Context(), req.AssetID, strings.TrimSpace(req.Wallet))
	if err != nil {
		h.writeServiceError(c, err, "cancel listing failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listing_id": listing.ID.String(),
		"status":     listing.Status,
		"updated_at": listing.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) writeServiceError(c *gin.Context, err error, logMessage string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, service.ErrListingNotFound):
		writeError(c, http.StatusNotFound, "LISTING_NOT_FOUND", "listing not found", nil)
	case errors.Is(err, service.ErrDuplicateListing):
		writeError(c, http.StatusBadRequest, "DUPLICATE_LISTING", "asset already has an active listing", nil)
	case errors.Is(err, service.ErrNotOwner):
		writeError(c, http.StatusForbidden, "NOT_OWNER", "seller wallet does not hold the asset", nil)
	case errors.Is(err, service.ErrUnauthorized):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "wallet is not the seller", nil)
	case errors.Is(err, service.ErrAlreadySettled):
		writeError(c, http.StatusConflict, "ALREADY_SETTLED", "listing is no longer active", nil)
	case errors.Is(err, service.ErrPaymentUnverified):
		writeError(c, http.StatusPaymentRequired, "PAYMENT_UNVERIFIED", err.Error(), nil)
	case errors.Is(err, service.ErrLedgerUnavailable):
		writeError(c, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "ledger unavailable, retry later", nil)
	default:
		h.Logger.Error(logMessage, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func listingToItem(listing storage.Listing) listingItem {
	return listingItem{
		ListingID:    listing.ID.String(),
		AssetID:      listing.AssetID,
		SellerWallet: listing.SellerWallet,
		BuyerWallet:  listing.BuyerWallet,
		PriceAlgo:    listing.PriceAlgo.String(),
		CO2Tonnes:    listing.CO2Tonnes.String(),
		VintageYear:  listing.VintageYear,
		Status:       listing.Status,
		TxnID:        listing.TxnID,
		CreatedAt:    listing.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    listing.UpdatedAt.UTC().Format(time.RFC3339),
		Project:      projectToItem(listing.Project),
	}
}

func projectToItem(p *storage.ProjectSummary) *projectItem {
	if p == nil {
		return nil
	}
	return &projectItem{
		Name:         p.Name,
		Location:     p.Location,
		ProjectType:  p.ProjectType,
		Standard:     p.Standard,
		VintageYear:  p.VintageYear,
		IPFSHash:     p.IPFSHash,
		CurrentOwner: p.CurrentOwner,
		Status:       p.Status,
	}
}

func writeError(c *gin.Context, status int, code, message string, details map[string]string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}
