package ledger

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound means the ledger answered and the entry does not exist.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrUnavailable means the ledger could not be reached or answered with
	// a server-side failure. Callers must not treat this as a miss.
	ErrUnavailable = errors.New("ledger unavailable")
)

// TxnInfo is the normalized view of a payment transaction, whether it came
// from the node's pending pool or the indexer's confirmed history.
type TxnInfo struct {
	ID             string
	ConfirmedRound uint64
	Sender         string
	Receiver       string
	AmountMicro    uint64
	IsPayment      bool
	PoolError      string
}

// Confirmed reports whether the transaction has landed in a block.
// Round zero always means unconfirmed.
func (t TxnInfo) Confirmed() bool {
	return t.ConfirmedRound > 0
}

// Client is the read-only ledger surface the marketplace needs. It never
// submits transactions.
type Client interface {
	// PendingTransaction looks the transaction up in the node's pending
	// pool. Recently confirmed transactions are still visible here with a
	// non-zero round.
	PendingTransaction(ctx context.Context, txnID string) (TxnInfo, error)
	// ConfirmedTransaction looks the transaction up in the indexer's
	// confirmed history.
	ConfirmedTransaction(ctx context.Context, txnID string) (TxnInfo, error)
	// AssetHolding returns the amount of the asset held by the wallet and
	// whether the wallet has opted in to it at all.
	AssetHolding(ctx context.Context, wallet string, assetID uint64) (amount uint64, optedIn bool, err error)
}

// IsUnavailable reports whether err represents a transport or server-side
// ledger failure rather than a definitive miss.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// classify maps raw SDK errors onto the package sentinels. The Algorand SDK
// surfaces HTTP status through error text, so a string check is the only
// handle available.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "404") || strings.Contains(msg, "not found") || strings.Contains(msg, "no transaction found") {
		return ErrNotFound
	}
	return ErrUnavailable
}
