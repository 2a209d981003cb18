package verifier

import (
	"context"

	"log/slog"

	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/ledger"
)

// OwnershipChecker proves asset ownership through the indexer. It answers
// false on every failure path: a wallet only counts as owner when the ledger
// positively says so.
type OwnershipChecker struct {
	client ledger.Client
	logger *slog.Logger
}

func NewOwnershipChecker(client ledger.Client, logger *slog.Logger) *OwnershipChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnershipChecker{client: client, logger: logger}
}

// WalletOwnsAsset reports whether wallet holds at least minAmount units of
// the asset. minAmount below 1 is treated as 1.
func (c *OwnershipChecker) WalletOwnsAsset(ctx context.Context, wallet string, assetID uint64, minAmount uint64) bool {
	if wallet == "" || assetID == 0 {
		return false
	}
	if minAmount < 1 {
		minAmount = 1
	}

	amount, optedIn, err := c.client.AssetHolding(ctx, wallet, assetID)
	if err != nil {
		c.logger.Warn("ownership check failed", "wallet", wallet, "asset_id", assetID, "error", err)
		return false
	}
	if !optedIn {
		return false
	}
	return amount >= minAmount
}
