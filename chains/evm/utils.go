package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/r4-ndm/vaughan-gateway/types"
)

// FormatUnits renders a raw amount in the smallest unit as a decimal
// string with up to six fractional digits, trailing zeros trimmed.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil || raw.Sign() == 0 {
		return "0"
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(raw, div, new(big.Int))

	if frac.Sign() == 0 {
		return whole.String()
	}
	fracStr := fmt.Sprintf("%0*s", decimals, frac.String())
	if len(fracStr) > 6 {
		fracStr = fracStr[:6]
	}
	fracStr = strings.TrimRight(fracStr, "0")
	if fracStr == "" {
		return whole.String()
	}
	return whole.String() + "." + fracStr
}

// ParseAmount parses a decimal or 0x-hex amount into wei. Used for the
// value and gas-price fields of provider transaction objects.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
		if s == "" {
			return big.NewInt(0), nil
		}
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, types.NewWalletError(types.ErrCodeInvalidParams, "invalid amount %q", s)
	}
	return v, nil
}

// ValidateAddress checks that the string is a well-formed 20-byte hex
// address. Mixed-case addresses must additionally carry a valid EIP-55
// checksum.
func ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return types.NewWalletError(types.ErrCodeInvalidParams, "invalid address %q", address)
	}
	stripped := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	lower := strings.ToLower(stripped)
	upper := strings.ToUpper(stripped)
	if stripped == lower || stripped == upper {
		return nil
	}
	if common.HexToAddress(address).Hex() != "0x"+stripped {
		return types.NewWalletError(types.ErrCodeInvalidParams, "invalid address checksum %q", address)
	}
	return nil
}

// TruncateAddress shortens an address for display: 0x1234...abcd.
func TruncateAddress(address string, prefixLen, suffixLen int) string {
	if len(address) <= prefixLen+suffixLen {
		return address
	}
	return address[:prefixLen] + "..." + address[len(address)-suffixLen:]
}

// TxFee returns gasLimit*gasPrice.
func TxFee(gasLimit uint64, gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
}
