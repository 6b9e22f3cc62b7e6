package common

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/cockroachdb/apd"
)

// EtherDecimals is the number of decimals between wei and ether.
const EtherDecimals = 18

// Ether is 1e18 wei.
var Ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil)

// ParseAmount parses an amount of wei. A value with an "ether" suffix
// (e.g. "1.5ether") is interpreted as a decimal number of ether.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "ether") {
		return ParseEther(strings.TrimSpace(strings.TrimSuffix(s, "ether")))
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount '%s'", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount '%s'", s)
	}
	return v, nil
}

// ParseEther parses a decimal ether amount into wei. Precision beyond
// one wei is rejected.
func ParseEther(s string) (*big.Int, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed ether amount '%s': %w", s, err)
	}
	if d.Negative {
		return nil, fmt.Errorf("negative amount '%s'", s)
	}
	exp := d.Exponent + EtherDecimals
	wei, err := numericToBigInt(&d.Coeff, exp)
	if err != nil {
		return nil, fmt.Errorf("ether amount '%s' has sub-wei precision", s)
	}
	return wei, nil
}

// FormatEther renders a wei amount as a decimal ether string without
// trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	d := apd.NewWithBigInt(new(big.Int).Set(wei), -EtherDecimals)
	var reduced apd.Decimal
	reduced.Reduce(d)
	if reduced.Exponent > 0 {
		// Reduce may leave a positive exponent for round values.
		_, _ = apd.BaseContext.Quantize(&reduced, &reduced, 0)
	}
	return reduced.Text('f')
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MaxBig returns the larger of a and b.
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// CloneBig returns a copy of v. A nil v yields zero.
func CloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
