package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"log/slog"

	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/ledger"
	"github.com/shopspring/decimal"
)

// MicroUnitsPerAlgo is the fixed conversion between the ledger's integer
// micro units and the major unit used for prices. Part of the contract with
// every payment comparison in the service.
const MicroUnitsPerAlgo = 1_000_000

const defaultRetryWait = 2 * time.Second

// Result is the outcome of a verification attempt. Confirmed=false with a
// Reason is a definitive answer; infrastructure failures surface as errors
// from Verify instead.
type Result struct {
	Confirmed   bool
	Round       uint64
	Sender      string
	Receiver    string
	Amount      decimal.Decimal
	AmountMicro uint64
	Path        string
	Reason      string
}

const (
	pathPending = "pending"
	pathIndexer = "indexer"
)

// Verifier resolves a transaction id to a confirmed payment. It consults the
// node's pending pool first because recently submitted transactions reach it
// before the indexer catches up, then falls back to the indexer.
type Verifier struct {
	client ledger.Client
	logger *slog.Logger

	// retryWait is how long to wait before re-querying a pending
	// transaction that has not yet been assigned a round. Overridden in
	// tests.
	retryWait time.Duration
}

func NewVerifier(client ledger.Client, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		client:    client,
		logger:    logger,
		retryWait: defaultRetryWait,
	}
}

// SetRetryWait overrides the delay before the single pending re-query.
func (v *Verifier) SetRetryWait(d time.Duration) {
	if d > 0 {
		v.retryWait = d
	}
}

// Verify resolves txnID against the ledger. The pending pool is queried
// first; an unconfirmed hit is re-queried exactly once after retryWait. If
// the pending path yields nothing usable the indexer decides: a miss there
// is a definitive unconfirmed result, a transport failure is an error.
func (v *Verifier) Verify(ctx context.Context, txnID string) (Result, error) {
	if txnID == "" {
		return Result{Reason: "transaction id required"}, nil
	}

	if res, ok := v.verifyPending(ctx, txnID); ok {
		return res, nil
	}

	info, err := v.client.ConfirmedTransaction(ctx, txnID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Result{Path: pathIndexer, Reason: "transaction not found"}, nil
		}
		return Result{}, fmt.Errorf("indexer lookup: %w", err)
	}

	res, ok := resultFrom(info, pathIndexer)
	if !ok {
		return res, nil
	}
	if !info.Confirmed() {
		res.Confirmed = false
		res.Reason = "transaction not yet confirmed"
	}
	return res, nil
}

// verifyPending returns (result, true) only when the pending pool produced a
// confirmed, well-formed payment. Any other outcome defers to the indexer.
func (v *Verifier) verifyPending(ctx context.Context, txnID string) (Result, bool) {
	info, err := v.client.PendingTransaction(ctx, txnID)
	if err != nil {
		v.logger.Debug("pending lookup failed, deferring to indexer", "txn_id", txnID, "error", err)
		return Result{}, false
	}

	if !info.Confirmed() {
		select {
		case <-time.After(v.retryWait):
		case <-ctx.Done():
			return Result{}, false
		}
		info, err = v.client.PendingTransaction(ctx, txnID)
		if err != nil || !info.Confirmed() {
			return Result{}, false
		}
	}

	if info.PoolError != "" {
		v.logger.Warn("transaction rejected by pool", "txn_id", txnID, "pool_error", info.PoolError)
		return Result{}, false
	}

	res, ok := resultFrom(info, pathPending)
	if !ok {
		v.logger.Warn("pending payload unusable, deferring to indexer",
			"txn_id", txnID, "reason", res.Reason)
		return Result{}, false
	}
	return res, true
}

// resultFrom normalizes a ledger view into a Result. ok=false means the
// payload cannot prove a payment; the Reason explains why.
func resultFrom(info ledger.TxnInfo, path string) (Result, bool) {
	if !info.IsPayment {
		return Result{Path: path, Reason: "not a payment transaction"}, false
	}
	if info.Sender == "" || info.Receiver == "" {
		return Result{Path: path, Reason: "unresolvable counterparty"}, false
	}
	return Result{
		Confirmed:   info.Confirmed(),
		Round:       info.ConfirmedRound,
		Sender:      info.Sender,
		Receiver:    info.Receiver,
		Amount:      MicroToAmount(info.AmountMicro),
		AmountMicro: info.AmountMicro,
		Path:        path,
	}, true
}

// MicroToAmount converts integer micro units to the major unit exactly.
func MicroToAmount(micro uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(micro), -6)
}
