// Package vault implements the single-vault balance, lock and valuation
// state machine.
//
// A vault keeps its currency with a custody.Transferer under its own
// address. Its total value is derived from the last report baseline and
// the funding delta accumulated since:
//
//	totalValue = report.totalValue + inOutDelta - report.inOutDelta
//
// clamped at zero.
package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/custody"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/log"
)

// PubkeyLength is the length of a beacon-chain validator public key.
const PubkeyLength = 48

// State is a point-in-time copy of the vault's bookkeeping.
type State struct {
	Hub                       ethCommon.Address
	InOutDelta                *big.Int
	ReportTotalValue          *big.Int
	ReportInOutDelta          *big.Int
	Locked                    *big.Int
	BeaconChainDepositsPaused bool
}

func newState() State {
	return State{
		InOutDelta:       new(big.Int),
		ReportTotalValue: new(big.Int),
		ReportInOutDelta: new(big.Int),
		Locked:           new(big.Int),
	}
}

func (s State) clone() State {
	s.InOutDelta = common.CloneBig(s.InOutDelta)
	s.ReportTotalValue = common.CloneBig(s.ReportTotalValue)
	s.ReportInOutDelta = common.CloneBig(s.ReportInOutDelta)
	s.Locked = common.CloneBig(s.Locked)
	return s
}

// TotalValue returns the current valuation.
func (s State) TotalValue() *big.Int {
	tv := new(big.Int).Add(s.ReportTotalValue, s.InOutDelta)
	tv.Sub(tv, s.ReportInOutDelta)
	if tv.Sign() < 0 {
		return new(big.Int)
	}
	return tv
}

// Unlocked returns max(totalValue - locked, 0).
func (s State) Unlocked() *big.Int {
	u := new(big.Int).Sub(s.TotalValue(), s.Locked)
	if u.Sign() < 0 {
		return new(big.Int)
	}
	return u
}

// Healthy reports whether totalValue >= locked.
func (s State) Healthy() bool {
	return s.TotalValue().Cmp(s.Locked) >= 0
}

// Attached reports whether a hub is attached.
func (s State) Attached() bool {
	return !common.IsZeroAddress(s.Hub)
}

// Config identifies a vault.
type Config struct {
	Address ethCommon.Address
	Owner   ethCommon.Address
	// Beacon receives beacon-chain deposits and validator withdrawal fees.
	Beacon ethCommon.Address
}

type transfer struct {
	from   ethCommon.Address
	to     ethCommon.Address
	amount *big.Int
}

// Vault is a single custodial account.
type Vault struct {
	address ethCommon.Address
	owner   ethCommon.Address
	beacon  ethCommon.Address

	custody custody.Transferer
	quoter  custody.FeeQuoter
	sink    events.Sink
	logger  *log.Logger

	// mu serializes mutations, transfers included.
	mu    sync.Mutex
	state atomic.Pointer[State]
}

// New creates a detached vault with an empty valuation.
func New(cfg Config, transferer custody.Transferer, quoter custody.FeeQuoter, sink events.Sink, logger *log.Logger) (*Vault, error) {
	if common.IsZeroAddress(cfg.Address) || common.IsZeroAddress(cfg.Owner) {
		return nil, fmt.Errorf("vault: %w: address and owner are required", ErrZeroAddress)
	}
	if sink == nil {
		sink = events.Nop{}
	}
	v := &Vault{
		address: cfg.Address,
		owner:   cfg.Owner,
		beacon:  cfg.Beacon,
		custody: transferer,
		quoter:  quoter,
		sink:    sink,
		logger:  logger.WithVault(cfg.Address),
	}
	st := newState()
	v.state.Store(&st)
	return v, nil
}

func (v *Vault) Address() ethCommon.Address { return v.address }

func (v *Vault) Owner() ethCommon.Address { return v.owner }

// State returns a copy of the committed state.
func (v *Vault) State() State {
	return v.state.Load().clone()
}

func (v *Vault) Hub() ethCommon.Address { return v.state.Load().Hub }

// Balance returns the currency currently held by the vault.
func (v *Vault) Balance() *big.Int {
	return v.custody.BalanceOf(v.address)
}

func (v *Vault) TotalValue() *big.Int { return v.state.Load().TotalValue() }

func (v *Vault) Locked() *big.Int { return common.CloneBig(v.state.Load().Locked) }

func (v *Vault) InOutDelta() *big.Int { return common.CloneBig(v.state.Load().InOutDelta) }

func (v *Vault) Unlocked() *big.Int { return v.state.Load().Unlocked() }

func (v *Vault) IsHealthy() bool { return v.state.Load().Healthy() }

func (v *Vault) BeaconChainDepositsPaused() bool {
	return v.state.Load().BeaconChainDepositsPaused
}

// mutate runs fn against a working copy of the state. The copy is
// published before the queued transfers run; if any transfer fails the
// completed ones are sent back and the previous state is put back.
//
// Concurrent callers wait for the mutation in progress. A call nested in
// one of this vault's transfers fails with ErrReentrantCall.
func (v *Vault) mutate(ctx context.Context, fn func(w *State) ([]transfer, error)) error {
	if InTransfer(ctx, v.address) {
		return ErrReentrantCall
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := v.state.Load()
	w := prev.clone()
	transfers, err := fn(&w)
	if err != nil {
		return err
	}
	v.state.Store(&w)
	if len(transfers) == 0 {
		return nil
	}

	tctx := withTransfer(ctx, v.address)
	for i, t := range transfers {
		if err := v.custody.Transfer(tctx, t.from, t.to, t.amount); err != nil {
			v.refund(tctx, transfers[:i])
			v.state.Store(prev)
			return fmt.Errorf("%w: %s to %s: %v", ErrTransferFailed, t.amount, t.to.Hex(), err)
		}
	}
	return nil
}

// refund reverses completed transfers, latest first.
func (v *Vault) refund(ctx context.Context, done []transfer) {
	for i := len(done) - 1; i >= 0; i-- {
		t := done[i]
		if err := v.custody.Transfer(ctx, t.to, t.from, t.amount); err != nil {
			v.logger.Error("failed to refund completed transfer",
				"from", t.to.Hex(),
				"amount", t.amount,
				"err", err,
			)
		}
	}
}

func (v *Vault) onlyOwner(caller ethCommon.Address) error {
	if caller != v.owner {
		return fmt.Errorf("%w: %s is not the vault owner", ErrUnauthorized, caller.Hex())
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}

// Fund moves amount from the owner into the vault.
func (v *Vault) Fund(ctx context.Context, caller ethCommon.Address, amount *big.Int) error {
	if err := v.onlyOwner(caller); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	err := v.mutate(ctx, func(w *State) ([]transfer, error) {
		w.InOutDelta.Add(w.InOutDelta, amount)
		return []transfer{{from: caller, to: v.address, amount: common.CloneBig(amount)}}, nil
	})
	if err != nil {
		return err
	}
	v.logger.Debug("vault funded", "amount", amount)
	v.sink.Emit(ctx, events.VaultFunded{Vault: v.address, Sender: caller, Amount: common.BigIntFrom(amount)})
	return nil
}

// Withdraw sends amount of unlocked value to recipient.
func (v *Vault) Withdraw(ctx context.Context, caller, recipient ethCommon.Address, amount *big.Int) error {
	if err := v.onlyOwner(caller); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if common.IsZeroAddress(recipient) {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	err := v.mutate(ctx, func(w *State) ([]transfer, error) {
		if balance := v.Balance(); amount.Cmp(balance) > 0 {
			return nil, fmt.Errorf("%w: requested %s, balance %s", ErrInsufficientBalance, amount, balance)
		}
		if unlocked := w.Unlocked(); amount.Cmp(unlocked) > 0 {
			return nil, fmt.Errorf("%w: requested %s, unlocked %s", ErrInsufficientUnlocked, amount, unlocked)
		}
		w.InOutDelta.Sub(w.InOutDelta, amount)
		return []transfer{{from: v.address, to: recipient, amount: common.CloneBig(amount)}}, nil
	})
	if err != nil {
		return err
	}
	v.logger.Debug("vault withdrawn", "recipient", recipient.Hex(), "amount", amount)
	v.sink.Emit(ctx, events.VaultWithdrawn{Vault: v.address, Recipient: recipient, Amount: common.BigIntFrom(amount)})
	return nil
}

// DepositToBeaconChain moves balance into validator-linked value. The
// valuation is unchanged.
func (v *Vault) DepositToBeaconChain(ctx context.Context, caller ethCommon.Address, amount *big.Int) error {
	if err := v.onlyOwner(caller); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	err := v.mutate(ctx, func(w *State) ([]transfer, error) {
		if w.BeaconChainDepositsPaused {
			return nil, ErrBeaconChainDepositsPaused
		}
		if balance := v.Balance(); amount.Cmp(balance) > 0 {
			return nil, fmt.Errorf("%w: requested %s, balance %s", ErrInsufficientBalance, amount, balance)
		}
		return []transfer{{from: v.address, to: v.beacon, amount: common.CloneBig(amount)}}, nil
	})
	if err != nil {
		return err
	}
	v.sink.Emit(ctx, events.BeaconChainDeposited{Vault: v.address, Amount: common.BigIntFrom(amount)})
	return nil
}

// TriggerValidatorWithdrawals requests the exit of the given validators.
// The caller pays quote * len(pubkeys) out of fee.
func (v *Vault) TriggerValidatorWithdrawals(ctx context.Context, caller ethCommon.Address, pubkeys [][]byte, fee *big.Int) error {
	if err := v.onlyOwner(caller); err != nil {
		return err
	}
	if len(pubkeys) == 0 {
		return fmt.Errorf("%w: no validators", ErrInvalidPubkey)
	}
	for i, pk := range pubkeys {
		if len(pk) != PubkeyLength {
			return fmt.Errorf("%w: pubkey %d has length %d", ErrInvalidPubkey, i, len(pk))
		}
	}
	quote, err := v.quoter.WithdrawalRequestFee(ctx)
	if err != nil {
		return fmt.Errorf("quoting withdrawal fee: %w", err)
	}
	required := new(big.Int).Mul(quote, big.NewInt(int64(len(pubkeys))))
	if fee == nil || fee.Cmp(required) < 0 {
		return fmt.Errorf("%w: provided %v, required %s", ErrInsufficientWithdrawalFee, fee, required)
	}
	err = v.mutate(ctx, func(*State) ([]transfer, error) {
		if required.Sign() == 0 {
			return nil, nil
		}
		return []transfer{{from: caller, to: v.beacon, amount: required}}, nil
	})
	if err != nil {
		return err
	}
	v.sink.Emit(ctx, events.ValidatorWithdrawalsTriggered{
		Vault:      v.address,
		Validators: len(pubkeys),
		Fee:        common.BigIntFrom(required),
	})
	return nil
}

// AttachHub hands hub-only control of the vault to hub.
func (v *Vault) AttachHub(ctx context.Context, caller, hub ethCommon.Address) error {
	if err := v.onlyOwner(caller); err != nil {
		return err
	}
	if common.IsZeroAddress(hub) {
		return fmt.Errorf("%w: hub", ErrZeroAddress)
	}
	err := v.mutate(ctx, func(w *State) ([]transfer, error) {
		if w.Attached() {
			return nil, fmt.Errorf("%w: %s", ErrVaultHubAlreadyAttached, w.Hub.Hex())
		}
		w.Hub = hub
		return nil, nil
	})
	if err != nil {
		return err
	}
	v.logger.Info("vault hub attached", "hub", hub.Hex())
	v.sink.Emit(ctx, events.VaultHubAttached{Vault: v.address, Hub: hub})
	return nil
}

// Apply runs fn as a single hub-only transaction. Changes made through tx
// are committed together, then the transfers tx queued are executed in
// order, those to the hub first. If fn or any transfer fails the vault is
// left unchanged and completed transfers are refunded.
func (v *Vault) Apply(ctx context.Context, caller ethCommon.Address, fn func(tx *Tx) error) error {
	return v.mutate(ctx, func(w *State) ([]transfer, error) {
		if !w.Attached() || caller != w.Hub {
			return nil, fmt.Errorf("%w: %s is not the vault hub", ErrUnauthorized, caller.Hex())
		}
		tx := &Tx{v: v, w: w, available: v.Balance()}
		if err := fn(tx); err != nil {
			return nil, err
		}
		return append(tx.hubTransfers, tx.transfers...), nil
	})
}

// Lock raises the locked amount.
func (v *Vault) Lock(ctx context.Context, caller ethCommon.Address, newLocked *big.Int) error {
	return v.Apply(ctx, caller, func(tx *Tx) error { return tx.Lock(newLocked) })
}

// Report replaces the valuation baseline and the locked amount.
func (v *Vault) Report(ctx context.Context, caller ethCommon.Address, totalValue, inOutDeltaRef, locked *big.Int) error {
	return v.Apply(ctx, caller, func(tx *Tx) error { return tx.Report(totalValue, inOutDeltaRef, locked) })
}

func (v *Vault) PauseBeaconChainDeposits(ctx context.Context, caller ethCommon.Address) error {
	return v.Apply(ctx, caller, func(tx *Tx) error { return tx.PauseBeaconChainDeposits() })
}

func (v *Vault) ResumeBeaconChainDeposits(ctx context.Context, caller ethCommon.Address) error {
	return v.Apply(ctx, caller, func(tx *Tx) error { return tx.ResumeBeaconChainDeposits() })
}

// DetachHub releases the vault from its hub. Only the hub may detach.
func (v *Vault) DetachHub(ctx context.Context, caller ethCommon.Address) error {
	if !v.state.Load().Attached() {
		return ErrVaultHubAlreadyDetached
	}
	return v.Apply(ctx, caller, func(tx *Tx) error { return tx.DetachHub() })
}
