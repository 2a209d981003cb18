package ledger

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"http 404", errors.New("HTTP 404 Not Found"), ErrNotFound},
		{"indexer miss", errors.New("no transaction found for transaction id"), ErrNotFound},
		{"timeout", errors.New("dial tcp: i/o timeout"), ErrUnavailable},
		{"server error", errors.New("HTTP 500 Internal Server Error"), ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if !errors.Is(got, tc.want) && got != tc.want {
				t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	wrapped := fmt.Errorf("pending transaction TXN: %w", ErrUnavailable)
	if !IsUnavailable(wrapped) {
		t.Fatalf("expected wrapped unavailable error to match")
	}
	if IsUnavailable(fmt.Errorf("lookup: %w", ErrNotFound)) {
		t.Fatalf("not-found must not classify as unavailable")
	}
}

func TestConfirmedRoundZeroIsUnconfirmed(t *testing.T) {
	if (TxnInfo{ConfirmedRound: 0}).Confirmed() {
		t.Fatalf("round zero must read as unconfirmed")
	}
	if !(TxnInfo{ConfirmedRound: 1}).Confirmed() {
		t.Fatalf("round one must read as confirmed")
	}
}
