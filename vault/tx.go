package vault

import (
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
)

// RebalanceCause tells the vault on whose behalf the hub rebalances.
type RebalanceCause int

const (
	// CauseOwner is a rebalance the owner asked the hub for.
	CauseOwner RebalanceCause = iota
	// CauseUnhealthy is a forced rebalance; the vault must be unhealthy.
	CauseUnhealthy
	// CauseRedemption pays down a redemption obligation.
	CauseRedemption
)

func (c RebalanceCause) String() string {
	switch c {
	case CauseOwner:
		return "owner"
	case CauseUnhealthy:
		return "unhealthy"
	case CauseRedemption:
		return "redemption"
	default:
		return fmt.Sprintf("RebalanceCause(%d)", int(c))
	}
}

// Tx is a hub-only transaction against a vault, see Vault.Apply.
type Tx struct {
	v         *Vault
	w         *State
	available *big.Int
	transfers []transfer
	// Transfers to the hub run before all others.
	hubTransfers []transfer
}

// State returns a copy of the working state.
func (tx *Tx) State() State { return tx.w.clone() }

// Balance returns the balance left after the transfers queued so far.
func (tx *Tx) Balance() *big.Int { return common.CloneBig(tx.available) }

func (tx *Tx) TotalValue() *big.Int { return tx.w.TotalValue() }

func (tx *Tx) Locked() *big.Int { return common.CloneBig(tx.w.Locked) }

// Lock raises the locked amount. Lowering it is only possible via Report.
func (tx *Tx) Lock(newLocked *big.Int) error {
	if newLocked == nil || newLocked.Sign() < 0 {
		return fmt.Errorf("%w: locked %v", ErrInvalidAmount, newLocked)
	}
	if newLocked.Cmp(tx.w.Locked) < 0 {
		return fmt.Errorf("%w: current %s, requested %s", ErrLockedCannotDecreaseOutsideOfReport, tx.w.Locked, newLocked)
	}
	if tv := tx.w.TotalValue(); newLocked.Cmp(tv) > 0 {
		return fmt.Errorf("%w: requested %s, total value %s", ErrLockedExceedsTotalValue, newLocked, tv)
	}
	tx.w.Locked = common.CloneBig(newLocked)
	return nil
}

// Report replaces the valuation baseline wholesale.
func (tx *Tx) Report(totalValue, inOutDeltaRef, locked *big.Int) error {
	if totalValue == nil || totalValue.Sign() < 0 {
		return fmt.Errorf("%w: total value %v", ErrInvalidAmount, totalValue)
	}
	if locked == nil || locked.Sign() < 0 {
		return fmt.Errorf("%w: locked %v", ErrInvalidAmount, locked)
	}
	if inOutDeltaRef == nil {
		return fmt.Errorf("%w: in/out delta reference missing", ErrInvalidAmount)
	}
	tx.w.ReportTotalValue = common.CloneBig(totalValue)
	tx.w.ReportInOutDelta = common.CloneBig(inOutDeltaRef)
	tx.w.Locked = common.CloneBig(locked)
	return nil
}

// Rebalance sends amount to the hub, lowering the valuation by amount.
func (tx *Tx) Rebalance(amount *big.Int, cause RebalanceCause) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if cause == CauseUnhealthy && tx.w.Healthy() {
		return fmt.Errorf("%w: total value %s, locked %s", ErrVaultHealthy, tx.w.TotalValue(), tx.w.Locked)
	}
	if tv := tx.w.TotalValue(); amount.Cmp(tv) > 0 {
		return fmt.Errorf("%w: requested %s, total value %s", ErrExceedsTotalValue, amount, tv)
	}
	return tx.send(tx.w.Hub, amount)
}

// Collect sends amount to recipient on the hub's behalf, lowering the
// valuation by amount. It is bounded by balance only.
func (tx *Tx) Collect(recipient ethCommon.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if common.IsZeroAddress(recipient) {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	return tx.send(recipient, amount)
}

func (tx *Tx) send(to ethCommon.Address, amount *big.Int) error {
	if amount.Cmp(tx.available) > 0 {
		return fmt.Errorf("%w: requested %s, balance %s", ErrInsufficientBalance, amount, tx.available)
	}
	tx.available.Sub(tx.available, amount)
	tx.w.InOutDelta.Sub(tx.w.InOutDelta, amount)
	t := transfer{from: tx.v.address, to: to, amount: common.CloneBig(amount)}
	if to == tx.w.Hub {
		tx.hubTransfers = append(tx.hubTransfers, t)
	} else {
		tx.transfers = append(tx.transfers, t)
	}
	return nil
}

func (tx *Tx) PauseBeaconChainDeposits() error {
	if tx.w.BeaconChainDepositsPaused {
		return ErrBeaconChainDepositsPaused
	}
	tx.w.BeaconChainDepositsPaused = true
	return nil
}

func (tx *Tx) ResumeBeaconChainDeposits() error {
	if !tx.w.BeaconChainDepositsPaused {
		return ErrBeaconChainDepositsNotPaused
	}
	tx.w.BeaconChainDepositsPaused = false
	return nil
}

// DetachHub clears the attached hub. It must be the last call of the
// transaction that makes it.
func (tx *Tx) DetachHub() error {
	if !tx.w.Attached() {
		return ErrVaultHubAlreadyDetached
	}
	tx.w.Hub = ethCommon.Address{}
	return nil
}
