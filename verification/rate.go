package verification

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/vitwit/paygate/types"
)

// DefaultSlippage is the discount applied to the native amount a direct
// transfer must carry.
var DefaultSlippage = decimal.NewFromFloat(0.30)

// Pricing converts stablecoin prices into native-token amounts.
type Pricing struct {
	// NativeUSDRate is the price of one native token in stable units.
	NativeUSDRate decimal.Decimal
	// Slippage is the fraction below the converted amount still accepted.
	Slippage decimal.Decimal
}

// NewPricing validates rate and slippage.
func NewPricing(rate, slippage decimal.Decimal) (Pricing, error) {
	if !rate.IsPositive() {
		return Pricing{}, types.NewError(types.KindValidation, types.ErrConfigError, "native rate must be positive, got %s", rate)
	}
	if slippage.IsNegative() || slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Pricing{}, types.NewError(types.KindValidation, types.ErrConfigError, "slippage must be in [0,1), got %s", slippage)
	}
	return Pricing{NativeUSDRate: rate, Slippage: slippage}, nil
}

// NativeAmount returns floor(priceMinor / 10^6 / rate * 10^18) wei.
func (p Pricing) NativeAmount(priceMinor uint64) *big.Int {
	return minorToWei(priceMinor).Div(p.NativeUSDRate).Floor().BigInt()
}

// MinAcceptable returns the smallest transfer accepted for priceMinor,
// floor(NativeAmount * (1 - slippage)) computed without intermediate rounding.
func (p Pricing) MinAcceptable(priceMinor uint64) *big.Int {
	keep := decimal.NewFromInt(1).Sub(p.Slippage)
	return minorToWei(priceMinor).Mul(keep).Div(p.NativeUSDRate).Floor().BigInt()
}

// MinAcceptableWei discounts an already converted wei amount.
func (p Pricing) MinAcceptableWei(wei *big.Int) *big.Int {
	keep := decimal.NewFromInt(1).Sub(p.Slippage)
	return decimal.NewFromBigInt(wei, 0).Mul(keep).Floor().BigInt()
}

// 18 native decimals minus 6 stable decimals
func minorToWei(priceMinor uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(priceMinor), 18-types.StablecoinDecimals)
}
