package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vitwit/paygate/types"
)

var (
	contentIDPattern = regexp.MustCompile(`^[0-9]{1,78}$`)
	txHashPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// maxUint256 bounds ledger ids and amounts.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ValidateContentID checks that id is a positive uint256 in decimal form.
func ValidateContentID(id string) error {
	if !contentIDPattern.MatchString(id) {
		return types.NewError(types.KindValidation, types.ErrInvalidContentID, "content id must be a decimal integer, got %q", id)
	}
	n, _ := new(big.Int).SetString(id, 10)
	if n.Sign() <= 0 || n.Cmp(maxUint256) > 0 {
		return types.NewError(types.KindValidation, types.ErrInvalidContentID, "content id out of range: %s", id)
	}
	return nil
}

// ValidateAddress checks an EVM hex address.
func ValidateAddress(field, address string) error {
	if address == "" {
		return types.NewError(types.KindValidation, types.ErrInvalidAddress, "%s is required", field)
	}
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return types.NewError(types.KindValidation, types.ErrInvalidAddress, "%s is not a valid address: %q", field, address)
	}
	return nil
}

// ValidateTransactionHash checks an EVM transaction hash (0x + 64 hex).
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return types.NewError(types.KindValidation, types.ErrInvalidPayload, "transaction hash cannot be empty")
	}
	if !txHashPattern.MatchString(hash) {
		return types.NewError(types.KindValidation, types.ErrInvalidPayload, "transaction hash must be 0x followed by 64 hex characters")
	}
	return nil
}

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateBigInt parses a non-negative uint256 decimal string.
func ValidateBigInt(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid big integer format")
	}
	if n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("value out of uint256 range")
	}

	return n, nil
}

// FormatMinorUnits renders a 6-decimal price for humans, e.g. 1500000 -> "1.5".
func FormatMinorUnits(minor uint64) string {
	return decimal.New(int64(minor), -types.StablecoinDecimals).String()
}

// ParseMinorUnits converts a human price such as "1.50" into minor units.
func ParseMinorUnits(price string) (uint64, error) {
	dec, err := ValidateAmount(price)
	if err != nil {
		return 0, err
	}
	scaled := dec.Shift(types.StablecoinDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("price has more than %d decimals", types.StablecoinDecimals)
	}
	if !scaled.BigInt().IsUint64() {
		return 0, fmt.Errorf("price too large")
	}
	return scaled.BigInt().Uint64(), nil
}
