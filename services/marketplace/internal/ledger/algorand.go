package ledger

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/indexer"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// AlgorandClient implements Client over an algod node (pending pool) and an
// indexer (confirmed history, account holdings).
type AlgorandClient struct {
	algod   *algod.Client
	indexer *indexer.Client
}

func NewAlgorandClient(algodAddr, algodToken, indexerAddr, indexerToken string) (*AlgorandClient, error) {
	algodClient, err := algod.MakeClient(algodAddr, algodToken)
	if err != nil {
		return nil, fmt.Errorf("create algod client: %w", err)
	}
	indexerClient, err := indexer.MakeClient(indexerAddr, indexerToken)
	if err != nil {
		return nil, fmt.Errorf("create indexer client: %w", err)
	}
	return &AlgorandClient{algod: algodClient, indexer: indexerClient}, nil
}

func (c *AlgorandClient) PendingTransaction(ctx context.Context, txnID string) (TxnInfo, error) {
	resp, stxn, err := c.algod.PendingTransactionInformation(txnID).Do(ctx)
	if err != nil {
		return TxnInfo{}, fmt.Errorf("pending transaction %s: %w", txnID, classify(err))
	}

	info := TxnInfo{
		ID:             txnID,
		ConfirmedRound: resp.ConfirmedRound,
		PoolError:      resp.PoolError,
		IsPayment:      stxn.Txn.Type == types.PaymentTx,
	}
	if stxn.Txn.Sender != (types.Address{}) {
		info.Sender = stxn.Txn.Sender.String()
	}
	if info.IsPayment {
		if stxn.Txn.Receiver != (types.Address{}) {
			info.Receiver = stxn.Txn.Receiver.String()
		}
		info.AmountMicro = uint64(stxn.Txn.Amount)
	}
	return info, nil
}

func (c *AlgorandClient) ConfirmedTransaction(ctx context.Context, txnID string) (TxnInfo, error) {
	resp, err := c.indexer.LookupTransaction(txnID).Do(ctx)
	if err != nil {
		return TxnInfo{}, fmt.Errorf("lookup transaction %s: %w", txnID, classify(err))
	}

	txn := resp.Transaction
	info := TxnInfo{
		ID:             txnID,
		ConfirmedRound: txn.ConfirmedRound,
		Sender:         txn.Sender,
		IsPayment:      txn.Type == "pay",
	}
	if info.IsPayment {
		info.Receiver = txn.PaymentTransaction.Receiver
		info.AmountMicro = txn.PaymentTransaction.Amount
	}
	return info, nil
}

func (c *AlgorandClient) AssetHolding(ctx context.Context, wallet string, assetID uint64) (uint64, bool, error) {
	resp, err := c.indexer.LookupAccountAssets(wallet).AssetID(assetID).Do(ctx)
	if err != nil {
		err = classify(err)
		if err == ErrNotFound {
			// Account unknown to the indexer means it holds nothing.
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup holdings for %s: %w", wallet, err)
	}

	for _, holding := range resp.Assets {
		if holding.AssetId == assetID {
			return holding.Amount, true, nil
		}
	}
	return 0, false, nil
}
