package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrStaleStatus            = errors.New("listing no longer active")
	ErrUnauthorized           = errors.New("wallet does not own listing")
	ErrDuplicateActiveListing = errors.New("asset already has an active listing")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const listingColumns = `
	l.id, l.asset_id, l.seller_wallet, l.buyer_wallet, l.price_algo::text,
	l.co2_tonnes::text, l.vintage_year, l.status, l.txn_id, l.created_at, l.updated_at
`

const projectColumns = `
	p.name, p.location, p.project_type, p.standard, p.vintage_year,
	p.ipfs_hash, p.current_owner, p.status
`

// CreateListing inserts a new active listing. A partial unique index on
// (asset_id) WHERE status='active' guarantees at most one live listing per
// asset; violations map to ErrDuplicateActiveListing.
func (s *Store) CreateListing(ctx context.Context, listing Listing) (*Listing, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO listings (asset_id, seller_wallet, price_algo, co2_tonnes, vintage_year, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, asset_id, seller_wallet, buyer_wallet, price_algo::text, co2_tonnes::text, vintage_year, status, txn_id, created_at, updated_at
	`, listing.AssetID, listing.SellerWallet, listing.PriceAlgo.String(), listing.CO2Tonnes.String(), listing.VintageYear, ListingStatusActive)

	stored, err := scanListingRow(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateActiveListing
		}
		return nil, err
	}
	return stored, nil
}

// GetActiveListing returns the single active listing for the asset, with the
// project summary joined when one exists.
func (s *Store) GetActiveListing(ctx context.Context, assetID uint64) (*Listing, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+listingColumns+`, `+projectColumns+`
		FROM listings l
		LEFT JOIN projects p ON p.asset_id = l.asset_id
		WHERE l.asset_id = $1 AND l.status = 'active'
	`, assetID)

	listing, err := scanListingWithProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return listing, nil
}

// ListListings returns listings newest first, joined with project metadata.
// An empty status filter means active only; "all" lifts the filter.
func (s *Store) ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT ` + listingColumns + `, ` + projectColumns + `
		FROM listings l
		LEFT JOIN projects p ON p.asset_id = l.asset_id
	`
	args := []any{}
	status := strings.ToLower(strings.TrimSpace(filter.Status))
	if status == "" {
		status = ListingStatusActive
	}
	if status != "all" {
		query += " WHERE l.status = $1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY l.created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listings := make([]Listing, 0, limit)
	for rows.Next() {
		listing, err := scanListingWithProject(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *listing)
	}
	return listings, rows.Err()
}

// MarkListingSold is the settlement commit point. The conditional update
// only succeeds while the listing is still active, so exactly one caller
// wins a race on the same listing. The loser gets ErrStaleStatus.
func (s *Store) MarkListingSold(ctx context.Context, listingID uuid.UUID, buyerWallet, txnID string) (*Listing, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE listings
		SET status = $1, buyer_wallet = $2, txn_id = $3, updated_at = now()
		WHERE id = $4 AND status = 'active'
		RETURNING id, asset_id, seller_wallet, buyer_wallet, price_algo::text, co2_tonnes::text, vintage_year, status, txn_id, created_at, updated_at
	`, ListingStatusSold, buyerWallet, txnID, listingID)

	listing, err := scanListingRow(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var status string
		check := s.pool.QueryRow(ctx, `
			SELECT status
			FROM listings
			WHERE id = $1
		`, listingID)
		if scanErr := check.Scan(&status); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, scanErr
		}
		return nil, ErrStaleStatus
	}
	return listing, nil
}

// CancelListing withdraws an active listing. Only the seller wallet may
// cancel; the probe distinguishes a wrong wallet (ErrUnauthorized) from a
// listing that already left the active state (ErrStaleStatus).
func (s *Store) CancelListing(ctx context.Context, assetID uint64, requesterWallet string) (*Listing, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE listings
		SET status = $1, updated_at = now()
		WHERE asset_id = $2 AND seller_wallet = $3 AND status = 'active'
		RETURNING id, asset_id, seller_wallet, buyer_wallet, price_algo::text, co2_tonnes::text, vintage_year, status, txn_id, created_at, updated_at
	`, ListingStatusCancelled, assetID, requesterWallet)

	listing, err := scanListingRow(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var status, seller string
		check := s.pool.QueryRow(ctx, `
			SELECT status, seller_wallet
			FROM listings
			WHERE asset_id = $1 AND status = 'active'
		`, assetID)
		if scanErr := check.Scan(&status, &seller); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil, s.cancelMissReason(ctx, assetID)
			}
			return nil, scanErr
		}
		if seller != requesterWallet {
			return nil, ErrUnauthorized
		}
		return nil, ErrStaleStatus
	}
	return listing, nil
}

// cancelMissReason decides between ErrNotFound (asset never listed) and
// ErrStaleStatus (listed once, already sold or cancelled).
func (s *Store) cancelMissReason(ctx context.Context, assetID uint64) error {
	var exists bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE asset_id = $1)`, assetID)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrStaleStatus
	}
	return ErrNotFound
}

// GetProjectByAsset returns the project summary for an asset.
func (s *Store) GetProjectByAsset(ctx context.Context, assetID uint64) (*ProjectSummary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, location, project_type, standard, vintage_year, ipfs_hash, current_owner, status
		FROM projects
		WHERE asset_id = $1
	`, assetID)

	var p ProjectSummary
	if err := row.Scan(&p.Name, &p.Location, &p.ProjectType, &p.Standard, &p.VintageYear, &p.IPFSHash, &p.CurrentOwner, &p.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdateProjectOwner hands the project over to the buyer after settlement.
func (s *Store) UpdateProjectOwner(ctx context.Context, assetID uint64, newOwner string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET current_owner = $1, status = 'sold', updated_at = now()
		WHERE asset_id = $2
	`, newOwner, assetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanListingRow(row pgx.Row) (*Listing, error) {
	var listing Listing
	var priceStr, tonnesStr string
	if err := row.Scan(&listing.ID, &listing.AssetID, &listing.SellerWallet, &listing.BuyerWallet,
		&priceStr, &tonnesStr, &listing.VintageYear, &listing.Status, &listing.TxnID,
		&listing.CreatedAt, &listing.UpdatedAt); err != nil {
		return nil, err
	}
	if err := parseListingDecimals(&listing, priceStr, tonnesStr); err != nil {
		return nil, err
	}
	return &listing, nil
}

func scanListingWithProject(row pgx.Row) (*Listing, error) {
	var listing Listing
	var priceStr, tonnesStr string
	var name, location, projectType, standard, ipfsHash, currentOwner, projectStatus *string
	var projectVintage *int

	if err := row.Scan(&listing.ID, &listing.AssetID, &listing.SellerWallet, &listing.BuyerWallet,
		&priceStr, &tonnesStr, &listing.VintageYear, &listing.Status, &listing.TxnID,
		&listing.CreatedAt, &listing.UpdatedAt,
		&name, &location, &projectType, &standard, &projectVintage,
		&ipfsHash, &currentOwner, &projectStatus); err != nil {
		return nil, err
	}
	if err := parseListingDecimals(&listing, priceStr, tonnesStr); err != nil {
		return nil, err
	}

	if name != nil {
		listing.Project = &ProjectSummary{
			Name:         *name,
			Location:     deref(location),
			ProjectType:  deref(projectType),
			Standard:     deref(standard),
			IPFSHash:     deref(ipfsHash),
			CurrentOwner: deref(currentOwner),
			Status:       deref(projectStatus),
		}
		if projectVintage != nil {
			listing.Project.VintageYear = *projectVintage
		}
	}
	return &listing, nil
}

func parseListingDecimals(listing *Listing, priceStr, tonnesStr string) error {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}
	tonnes, err := decimal.NewFromString(tonnesStr)
	if err != nil {
		return fmt.Errorf("parse co2 tonnes: %w", err)
	}
	listing.PriceAlgo = price
	listing.CO2Tonnes = tonnes
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
