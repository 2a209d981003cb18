package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	demoSellerWallet = "SELLER7Q5VHJKWQT3PLA4YXMRZL2NVDCCBTJ5EAXHGEQZQ4AAAAAAAAAAAAA"
)

// seedDemoListings puts a couple of active listings on the board so the API
// has something to serve right after a fresh dev setup.
func seedDemoListings(ctx context.Context, pool *pgxpool.Pool) error {
	listings := []struct {
		assetID   uint64
		priceAlgo string
		co2Tonnes string
		vintage   int
	}{
		{812345001, "10", "2.5", 2023},
		{812345002, "18.75", "5", 2022},
	}

	for _, l := range listings {
		_, err := pool.Exec(ctx, `
			INSERT INTO listings (asset_id, seller_wallet, price_algo, co2_tonnes, vintage_year, status)
			SELECT $1, $2, $3, $4, $5, 'active'
			WHERE NOT EXISTS (
				SELECT 1 FROM listings WHERE asset_id = $1 AND status = 'active'
			)
		`, l.assetID, demoSellerWallet, l.priceAlgo, l.co2Tonnes, l.vintage)
		if err != nil {
			return err
		}
	}

	return nil
}
