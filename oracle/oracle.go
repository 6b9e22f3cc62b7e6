// Package oracle converts between currency amounts and pool shares.
//
// The ledger treats the oracle as a read-only external dependency: it is
// consulted synchronously inside each operation and never cached across
// operations.
package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/cockroachdb/apd"
)

// sharePricePrecision is the number of significant digits used when
// rendering the share rate.
const sharePricePrecision = 36

// Oracle converts between currency and shares.
type Oracle interface {
	// SharesByPooledValue returns the shares worth value, rounding down.
	SharesByPooledValue(value *big.Int) *big.Int
	// PooledValueByShares returns the currency value of shares, rounding down.
	PooledValueByShares(shares *big.Int) *big.Int
	// PooledValueBySharesRoundUp returns the currency value of shares, rounding up.
	PooledValueBySharesRoundUp(shares *big.Int) *big.Int
}

// Pool prices shares against the aggregate pool: totalPooled currency
// backs totalShares shares.
type Pool struct {
	mu          sync.RWMutex
	totalPooled *big.Int
	totalShares *big.Int
}

var _ Oracle = (*Pool)(nil)

// NewPool creates a pool oracle. Both totals must be positive.
func NewPool(totalPooled, totalShares *big.Int) (*Pool, error) {
	p := &Pool{}
	if err := p.SetTotals(totalPooled, totalShares); err != nil {
		return nil, err
	}
	return p, nil
}

// NewParity returns a pool pricing one share at one unit of currency.
func NewParity() *Pool {
	return &Pool{totalPooled: big.NewInt(1), totalShares: big.NewInt(1)}
}

// SetTotals replaces the pool totals. This is the only mutation path and
// belongs to whoever owns the pool accounting, not the ledger.
func (p *Pool) SetTotals(totalPooled, totalShares *big.Int) error {
	if totalPooled == nil || totalPooled.Sign() <= 0 {
		return fmt.Errorf("oracle: total pooled value must be positive")
	}
	if totalShares == nil || totalShares.Sign() <= 0 {
		return fmt.Errorf("oracle: total shares must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalPooled = new(big.Int).Set(totalPooled)
	p.totalShares = new(big.Int).Set(totalShares)
	return nil
}

// Totals returns copies of the pool totals.
func (p *Pool) Totals() (totalPooled, totalShares *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.totalPooled), new(big.Int).Set(p.totalShares)
}

// SharesByPooledValue implements Oracle.
func (p *Pool) SharesByPooledValue(value *big.Int) *big.Int {
	pooled, shares := p.Totals()
	return mulDiv(value, shares, pooled, false)
}

// PooledValueByShares implements Oracle.
func (p *Pool) PooledValueByShares(shares *big.Int) *big.Int {
	pooled, total := p.Totals()
	return mulDiv(shares, pooled, total, false)
}

// PooledValueBySharesRoundUp implements Oracle.
func (p *Pool) PooledValueBySharesRoundUp(shares *big.Int) *big.Int {
	pooled, total := p.Totals()
	return mulDiv(shares, pooled, total, true)
}

// ShareRate returns the currency value of one share as a decimal.
func (p *Pool) ShareRate() (*apd.Decimal, error) {
	pooled, shares := p.Totals()
	ctx := apd.BaseContext.WithPrecision(sharePricePrecision)
	rate := new(apd.Decimal)
	if _, err := ctx.Quo(rate, apd.NewWithBigInt(pooled, 0), apd.NewWithBigInt(shares, 0)); err != nil {
		return nil, fmt.Errorf("oracle: share rate: %w", err)
	}
	reduced := new(apd.Decimal)
	reduced.Reduce(rate)
	return reduced, nil
}

// mulDiv computes x*y/d with the requested rounding. x and y are
// non-negative, d is positive.
func mulDiv(x, y, d *big.Int, roundUp bool) *big.Int {
	if x == nil || x.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(x, y)
	q, r := new(big.Int).QuoRem(num, d, new(big.Int))
	if roundUp && r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
