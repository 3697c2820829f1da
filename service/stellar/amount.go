package stellar

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/price"
	"github.com/stellar/go/xdr"
)

// LedgerPrecision is the number of fractional digits the ledger represents
// natively. All monetary values are rounded to this precision before being
// placed on the wire.
const LedgerPrecision = 7

// NativeAssetCode is the reserved code for the network's native unit.
const NativeAssetCode = "XLM"

// Round rounds d to the ledger's native 7-digit precision, half away from
// zero. Callers must round every amount before building an operation so
// repeated conversions never accumulate float drift.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(LedgerPrecision)
}

// FormatAmount renders d as a wire-ready amount string at ledger precision.
func FormatAmount(d decimal.Decimal) string {
	return Round(d).StringFixed(LedgerPrecision)
}

// ParseAmount parses a decimal amount string, rejecting values the ledger
// cannot represent.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// PriceRatio computes the price of one unit of selling in terms of buying
// (buying/selling), rounded to ledger precision, as an xdr price fraction.
// Exchange offers use this ratio and its inverse so the two offers cross.
func PriceRatio(selling, buying decimal.Decimal) (xdr.Price, error) {
	if selling.IsZero() {
		return xdr.Price{}, fmt.Errorf("selling amount must be non-zero")
	}
	ratio := Round(buying.Div(selling))
	p, err := price.Parse(ratio.String())
	if err != nil {
		return xdr.Price{}, fmt.Errorf("price %s is not representable: %w", ratio, err)
	}
	return p, nil
}
