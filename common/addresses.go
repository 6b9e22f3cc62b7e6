package common

import (
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// ParseAddress parses a hex encoded 20-byte address. Unlike
// ethCommon.HexToAddress, malformed input is an error rather than a
// silently truncated or zero address.
func ParseAddress(s string) (ethCommon.Address, error) {
	if !ethCommon.IsHexAddress(s) {
		return ethCommon.Address{}, fmt.Errorf("malformed address '%s'", s)
	}
	return ethCommon.HexToAddress(s), nil
}

// IsZeroAddress reports whether addr is the zero address.
func IsZeroAddress(addr ethCommon.Address) bool {
	return addr == (ethCommon.Address{})
}
