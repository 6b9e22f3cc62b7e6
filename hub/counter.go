package hub

import (
	"fmt"
	"math/big"

	"github.com/oasisprotocol/vaulthub/common"
)

// Counter is a non-negative amount that never decreases. The zero value is
// a counter at zero.
type Counter struct {
	v *big.Int
}

// NewCounter returns a counter starting at v.
func NewCounter(v *big.Int) (Counter, error) {
	if v == nil || v.Sign() < 0 {
		return Counter{}, fmt.Errorf("%w: negative start %v", ErrCounterDecrease, v)
	}
	return Counter{v: common.CloneBig(v)}, nil
}

// Value returns a copy of the current value.
func (c Counter) Value() *big.Int {
	return common.CloneBig(c.v)
}

// Advance returns a counter at to, which must not be below c.
func (c Counter) Advance(to *big.Int) (Counter, error) {
	if to == nil {
		return c, fmt.Errorf("%w: missing value", ErrCounterDecrease)
	}
	if cur := c.Value(); to.Cmp(cur) < 0 {
		return c, fmt.Errorf("%w: %s < %s", ErrCounterDecrease, to, cur)
	}
	return Counter{v: common.CloneBig(to)}, nil
}

// Add returns a counter increased by delta, which must not be negative.
func (c Counter) Add(delta *big.Int) (Counter, error) {
	if delta == nil || delta.Sign() < 0 {
		return c, fmt.Errorf("%w: delta %v", ErrCounterDecrease, delta)
	}
	return Counter{v: new(big.Int).Add(c.Value(), delta)}, nil
}

func (c Counter) MarshalText() ([]byte, error) {
	return common.BigIntFrom(c.v).MarshalText()
}

func (c Counter) String() string {
	return c.Value().String()
}
