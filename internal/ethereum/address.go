package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const explorerTokenPrefix = "https://etherscan.io/token/"

// NormalizeAddress validates a hex contract address and returns its
// lower-case 0x form. ok is false for anything that is not 20 bytes of hex.
func NormalizeAddress(s string) (addr string, ok bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), true
}

// ChecksumAddress returns the EIP-55 form of a valid address.
func ChecksumAddress(s string) (string, error) {
	if !common.IsHexAddress(strings.TrimSpace(s)) {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(strings.TrimSpace(s)).Hex(), nil
}

func ExplorerTokenURL(contract string) string {
	return explorerTokenPrefix + contract
}

// ScaleDown converts a raw integer token amount into whole units by integer
// division with 10^decimals. The fractional part is discarded.
func ScaleDown(raw string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("negative decimals %d", decimals)
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", raw)
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return n.Quo(n, divisor), nil
}

// BigToFloat converts a big integer to float64, accepting precision loss
// above 2^53.
func BigToFloat(n *big.Int) float64 {
	f, _ := new(big.Float).SetInt(n).Float64()
	return f
}
