package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ListingStatusActive    = "active"
	ListingStatusSold      = "sold"
	ListingStatusCancelled = "cancelled"
)

// Listing is one credit lot offered for sale. Rows are never deleted; sold
// and cancelled listings stay behind as the audit trail.
type Listing struct {
	ID           uuid.UUID
	AssetID      uint64
	SellerWallet string
	BuyerWallet  *string
	PriceAlgo    decimal.Decimal
	CO2Tonnes    decimal.Decimal
	VintageYear  int
	Status       string
	TxnID        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Project carries the joined project summary when the query asked for
	// it. Nil when the asset has no registered project.
	Project *ProjectSummary
}

// ProjectSummary is the slice of project metadata shown alongside a listing
// and in settlement receipts.
type ProjectSummary struct {
	Name         string
	Location     string
	ProjectType  string
	Standard     string
	VintageYear  int
	IPFSHash     string
	CurrentOwner string
	Status       string
}

// ListingFilter narrows ListListings. Zero value lists active listings.
type ListingFilter struct {
	Status string
	Limit  int
}
