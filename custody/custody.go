// Package custody models the platform-level currency movement primitives
// the ledger depends on: outbound transfers with a success/failure signal
// and the fee quote for beacon-chain withdrawal requests.
package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrRecipientRejected is returned when the recipient refuses a transfer.
	ErrRecipientRejected = errors.New("recipient rejected transfer")
	// ErrInsufficientFunds is returned when the sender cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Transferer moves currency between accounts. A transfer either completes
// entirely or fails with no effect.
type Transferer interface {
	Transfer(ctx context.Context, from, to ethCommon.Address, amount *big.Int) error
	BalanceOf(addr ethCommon.Address) *big.Int
}

// ReceiveHook runs when an account is about to receive currency. Returning
// an error rejects the transfer. Hooks may call back into the ledger.
type ReceiveHook func(ctx context.Context, from ethCommon.Address, amount *big.Int) error

// Bank is an in-memory Transferer.
type Bank struct {
	mu       sync.Mutex
	balances map[ethCommon.Address]*big.Int
	hooks    map[ethCommon.Address]ReceiveHook
}

var _ Transferer = (*Bank)(nil)

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[ethCommon.Address]*big.Int),
		hooks:    make(map[ethCommon.Address]ReceiveHook),
	}
}

// Credit adds newly issued currency to addr.
func (b *Bank) Credit(addr ethCommon.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balanceLocked(addr).Add(b.balanceLocked(addr), amount)
}

// SetReceiveHook installs (or, with nil, removes) the receive hook of addr.
func (b *Bank) SetReceiveHook(addr ethCommon.Address, hook ReceiveHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hook == nil {
		delete(b.hooks, addr)
		return
	}
	b.hooks[addr] = hook
}

// BalanceOf implements Transferer.
func (b *Bank) BalanceOf(addr ethCommon.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balanceLocked(addr))
}

// Transfer implements Transferer. The recipient hook runs before funds
// move and without the bank lock held.
func (b *Bank) Transfer(ctx context.Context, from, to ethCommon.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("custody: invalid transfer amount %v", amount)
	}
	if amount.Sign() == 0 {
		return nil
	}

	b.mu.Lock()
	hook := b.hooks[to]
	if b.balanceLocked(from).Cmp(amount) < 0 {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), b.balanceLocked(from), amount)
	}
	b.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, from, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("%w: %v", ErrRecipientRejected, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.balanceLocked(from)
	// The hook may have moved funds in the meantime.
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), src, amount)
	}
	src.Sub(src, amount)
	dst := b.balanceLocked(to)
	dst.Add(dst, amount)
	return nil
}

func (b *Bank) balanceLocked(addr ethCommon.Address) *big.Int {
	bal, ok := b.balances[addr]
	if !ok {
		bal = new(big.Int)
		b.balances[addr] = bal
	}
	return bal
}

// FeeQuoter quotes the fee for a single beacon-chain validator withdrawal
// request. It is a pure external function from the ledger's perspective.
type FeeQuoter interface {
	WithdrawalRequestFee(ctx context.Context) (*big.Int, error)
}

// FixedQuoter always quotes the same fee.
type FixedQuoter struct {
	Fee *big.Int
}

// WithdrawalRequestFee implements FeeQuoter.
func (q FixedQuoter) WithdrawalRequestFee(context.Context) (*big.Int, error) {
	if q.Fee == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(q.Fee), nil
}
