package testutil

import (
	"github.com/shopspring/decimal"
)

// Well-formed Algorand-style addresses for tests. They are syntactically
// plausible but never touch a real ledger.
const (
	SellerWallet = "SELLER7Q5VHJKWQT3PLA4YXMRZL2NVDCCBTJ5EAXHGEQZQ4AAAAAAAAAAAAA"
	BuyerWallet  = "BUYER4C3Q2WJXMHT6KNRZL7PVDACEBTJ5EAXHGEQZQ4BBBBBBBBBBBBBBBB"
	OtherWallet  = "OTHERWALLETQ2WJXMHT6KNRZL7PVDACEBTJ5EAXHGEQZQ4CCCCCCCCCCCCC"
)

const (
	DemoAssetID   uint64 = 812_345_001
	SecondAssetID uint64 = 812_345_002
)

func DemoPrice() decimal.Decimal {
	return decimal.RequireFromString("10")
}

func DemoTonnes() decimal.Decimal {
	return decimal.RequireFromString("2.5")
}
