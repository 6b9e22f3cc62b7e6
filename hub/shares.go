package hub

import (
	"context"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/vault"
)

var totalBasisPoints = big.NewInt(TotalBasisPoints)

// ceilDiv returns ceil(x / y) for non-negative x and positive y.
func ceilDiv(x, y *big.Int) *big.Int {
	q, m := new(big.Int).QuoRem(x, y, new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// lockFor returns the amount that must be locked to back value at the
// given reserve ratio: ceil(value * 100% / (100% - reserveRatio)).
func lockFor(value *big.Int, reserveRatioBP uint64) *big.Int {
	mintable := new(big.Int).Sub(totalBasisPoints, new(big.Int).SetUint64(reserveRatioBP))
	return ceilDiv(new(big.Int).Mul(value, totalBasisPoints), mintable)
}

// decreaseLiability removes shares from the liability. Redemption shares
// shrink by the same count, never below zero.
func (c *call) decreaseLiability(shares *big.Int) {
	c.rec.LiabilityShares = new(big.Int).Sub(c.rec.LiabilityShares, shares)
	cut := common.MinBig(c.rec.RedemptionShares, shares)
	if cut.Sign() > 0 {
		c.rec.RedemptionShares = new(big.Int).Sub(c.rec.RedemptionShares, cut)
	}
}

// MintShares issues shares to recipient against the vault's collateral.
// The value of the new total liability, grossed up by the reserve ratio,
// must fit into the total value net of unsettled fees. Redemption
// obligations do not reduce the capacity.
func (h *Hub) MintShares(ctx context.Context, caller, addr, recipient ethCommon.Address, shares *big.Int) error {
	return h.exec(ctx, "mint_shares", addr, func(c *call) error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		if shares == nil || shares.Sign() <= 0 {
			return c.fail(ErrInvalidAmount, "shares", shares)
		}
		if common.IsZeroAddress(recipient) {
			return c.fail(vault.ErrZeroAddress, "recipient", recipient.Hex())
		}
		if err := c.requireConnected(); err != nil {
			return err
		}
		liability := new(big.Int).Add(c.rec.LiabilityShares, shares)
		if liability.Cmp(c.rec.ShareLimit) > 0 {
			return c.fail(ErrShareLimitExceeded, "liability", liability, "share_limit", c.rec.ShareLimit)
		}

		return c.apply(ctx, func(tx *vault.Tx) error {
			totalValue := tx.TotalValue()
			unsettled := c.rec.UnsettledFees()
			if totalValue.Cmp(unsettled) <= 0 {
				return c.fail(ErrInsufficientValuationToMint, "total_value", totalValue, "unsettled_fees", unsettled)
			}
			available := new(big.Int).Sub(totalValue, unsettled)
			value := h.oracle.PooledValueBySharesRoundUp(liability)
			required := common.MaxBig(lockFor(value, c.rec.ReserveRatioBP), h.cfg.MinimalReserve)
			if required.Cmp(available) > 0 {
				return c.fail(ErrExceedsMintingCapacity, "required", required, "available", available)
			}
			locked := tx.Locked()
			if required.Cmp(locked) > 0 {
				if err := tx.Lock(required); err != nil {
					return err
				}
				locked = required
			}
			c.rec.LiabilityShares = liability
			c.buf.Add(events.MintedSharesOnVault{
				Vault:     addr,
				Recipient: recipient,
				Shares:    common.BigIntFrom(shares),
				Locked:    common.BigIntFrom(locked),
			})
			return nil
		})
	})
}

// BurnShares cancels shares of the vault's liability. The caller has
// already surrendered the shares.
func (h *Hub) BurnShares(ctx context.Context, caller, addr ethCommon.Address, shares *big.Int) error {
	return h.exec(ctx, "burn_shares", addr, func(c *call) error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		if shares == nil || shares.Sign() <= 0 {
			return c.fail(ErrInvalidAmount, "shares", shares)
		}
		if shares.Cmp(c.rec.LiabilityShares) > 0 {
			return c.fail(ErrInsufficientShares, "liability", c.rec.LiabilityShares, "requested", shares)
		}
		prevRedemption := c.rec.RedemptionShares
		c.decreaseLiability(shares)
		c.buf.Add(events.BurnedSharesOnVault{Vault: addr, Shares: common.BigIntFrom(shares)})
		if c.rec.RedemptionShares.Cmp(prevRedemption) != 0 {
			c.buf.Add(events.RedemptionSharesUpdated{Vault: addr, RedemptionShares: common.BigIntFrom(c.rec.RedemptionShares)})
		}
		return nil
	})
}

// SetVaultRedemptionShares sets the redemption obligation of the vault,
// clamped to its liability.
func (h *Hub) SetVaultRedemptionShares(ctx context.Context, caller, addr ethCommon.Address, desired *big.Int) error {
	return h.exec(ctx, "set_redemption_shares", addr, func(c *call) error {
		if err := c.requireCapability(ctx, caller, CapSetRedemptionShares); err != nil {
			return err
		}
		if desired == nil || desired.Sign() < 0 {
			return c.fail(ErrInvalidAmount, "redemption_shares", desired)
		}
		if c.rec.LiabilityShares.Sign() == 0 {
			return c.fail(ErrRedemptionSharesNotSet, "requested", desired)
		}
		c.rec.RedemptionShares = common.CloneBig(common.MinBig(desired, c.rec.LiabilityShares))
		c.buf.Add(events.RedemptionSharesUpdated{Vault: addr, RedemptionShares: common.BigIntFrom(c.rec.RedemptionShares)})
		return nil
	})
}

// Rebalance is the owner paying down shares of the liability with vault
// balance.
func (h *Hub) Rebalance(ctx context.Context, caller, addr ethCommon.Address, shares *big.Int) error {
	return h.exec(ctx, "rebalance", addr, func(c *call) error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		if shares == nil || shares.Sign() <= 0 {
			return c.fail(ErrInvalidAmount, "shares", shares)
		}
		if shares.Cmp(c.rec.LiabilityShares) > 0 {
			return c.fail(ErrInsufficientShares, "liability", c.rec.LiabilityShares, "requested", shares)
		}
		value := h.oracle.PooledValueBySharesRoundUp(shares)
		return c.apply(ctx, func(tx *vault.Tx) error {
			return c.rebalance(tx, shares, value, vault.CauseOwner)
		})
	})
}

// ForceRebalance restores the reserve ratio of an unhealthy vault from its
// balance. The amount is the smallest x with
//
//	(liability - x) * 100% <= (totalValue - x) * (100% - reserveRatio)
//
// capped by the balance, the total value and the liability.
func (h *Hub) ForceRebalance(ctx context.Context, caller, addr ethCommon.Address) error {
	return h.exec(ctx, "force_rebalance", addr, func(c *call) error {
		if err := c.requireCapability(ctx, caller, CapForceRebalance); err != nil {
			return err
		}
		return c.apply(ctx, func(tx *vault.Tx) error {
			st := tx.State()
			if st.Healthy() {
				return c.fail(ErrVaultHealthy, "total_value", st.TotalValue(), "locked", st.Locked)
			}
			liabilityValue := h.oracle.PooledValueBySharesRoundUp(c.rec.LiabilityShares)
			totalValue := st.TotalValue()

			var shortfall *big.Int
			if c.rec.ReserveRatioBP == 0 {
				shortfall = common.CloneBig(liabilityValue)
			} else {
				mintable := new(big.Int).Sub(totalBasisPoints, new(big.Int).SetUint64(c.rec.ReserveRatioBP))
				num := new(big.Int).Mul(liabilityValue, totalBasisPoints)
				num.Sub(num, new(big.Int).Mul(totalValue, mintable))
				if num.Sign() <= 0 {
					return c.fail(ErrNoRebalanceShortfall, "liability_value", liabilityValue, "total_value", totalValue)
				}
				shortfall = ceilDiv(num, new(big.Int).SetUint64(c.rec.ReserveRatioBP))
			}
			amount := common.MinBig(common.MinBig(shortfall, liabilityValue), common.MinBig(tx.Balance(), totalValue))
			if amount.Sign() == 0 {
				if tx.Balance().Sign() == 0 {
					return c.fail(ErrZeroBalance)
				}
				return c.fail(ErrNoRebalanceShortfall, "liability_value", liabilityValue, "total_value", totalValue)
			}
			shares := c.rec.LiabilityShares
			if amount.Cmp(liabilityValue) < 0 {
				shares = common.MinBig(h.oracle.SharesByPooledValue(amount), c.rec.LiabilityShares)
			}
			if shares.Sign() == 0 {
				return c.fail(ErrNoRebalanceShortfall, "amount", amount)
			}
			return c.rebalance(tx, shares, amount, vault.CauseUnhealthy)
		})
	})
}

// rebalance moves value to the hub and burns shares of the liability.
func (c *call) rebalance(tx *vault.Tx, shares, value *big.Int, cause vault.RebalanceCause) error {
	if err := tx.Rebalance(value, cause); err != nil {
		return err
	}
	c.decreaseLiability(shares)
	c.buf.Add(events.VaultRebalanced{
		Vault:  c.rec.Vault,
		Shares: common.BigIntFrom(shares),
		Value:  common.BigIntFrom(value),
		Cause:  cause.String(),
	})
	return nil
}
