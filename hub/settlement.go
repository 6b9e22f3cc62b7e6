package hub

import (
	"context"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/vault"
)

// Obligations are the amounts a vault currently owes.
type Obligations struct {
	// Redemption is the value of the redemption shares, rounded up.
	Redemption *big.Int
	Fees       *big.Int
}

// Outstanding reports whether anything is owed.
func (o Obligations) Outstanding() bool {
	return o.Redemption.Sign() > 0 || o.Fees.Sign() > 0
}

func (c *call) obligations() Obligations {
	return Obligations{
		Redemption: c.h.oracle.PooledValueBySharesRoundUp(c.rec.RedemptionShares),
		Fees:       c.rec.UnsettledFees(),
	}
}

// SettleVaultObligations pays down the vault's obligations from its
// balance: redemption first, then fees. Anyone may call it.
func (h *Hub) SettleVaultObligations(ctx context.Context, addr ethCommon.Address) error {
	return h.exec(ctx, "settle_vault_obligations", addr, func(c *call) error {
		return c.apply(ctx, func(tx *vault.Tx) error {
			if err := c.settle(tx, true); err != nil {
				return err
			}
			if err := c.updateDepositsPause(tx); err != nil {
				return err
			}
			return c.finalizeDisconnect(tx)
		})
	})
}

// settle runs one settlement pass within tx. With strict set, a vault
// that owes something but holds no balance fails with ErrZeroBalance;
// otherwise such a vault is skipped.
//
// Given balance B, redemption need R and fee need F, redemption receives
// min(B, R) and fees min(B - min(B, R), F). The fee transfer is executed
// before the hub leg.
func (c *call) settle(tx *vault.Tx, strict bool) error {
	owed := c.obligations()
	balance := tx.Balance()
	if balance.Sign() == 0 {
		if strict && owed.Outstanding() {
			return c.fail(ErrZeroBalance, "redemption", owed.Redemption, "fees", owed.Fees)
		}
		return nil
	}

	redemption := common.CloneBig(common.MinBig(common.MinBig(balance, owed.Redemption), tx.TotalValue()))
	shares := common.CloneBig(c.rec.RedemptionShares)
	if redemption.Cmp(owed.Redemption) < 0 {
		shares = common.CloneBig(common.MinBig(c.h.oracle.SharesByPooledValue(redemption), c.rec.RedemptionShares))
	}
	if shares.Sign() == 0 {
		// Too little to buy back a single share.
		redemption.SetInt64(0)
	}
	fees := common.CloneBig(common.MinBig(new(big.Int).Sub(balance, redemption), owed.Fees))
	if redemption.Sign() == 0 && fees.Sign() == 0 {
		return nil
	}

	if redemption.Sign() > 0 {
		if err := c.rebalance(tx, shares, redemption, vault.CauseRedemption); err != nil {
			return err
		}
	}
	if fees.Sign() > 0 {
		if err := tx.Collect(c.h.cfg.Treasury, fees); err != nil {
			return err
		}
		settled, err := c.rec.SettledFees.Add(fees)
		if err != nil {
			return err
		}
		c.rec.SettledFees = settled
	}

	remaining := c.obligations()
	c.buf.Add(events.VaultObligationsSettled{
		Vault:               c.rec.Vault,
		RedemptionSettled:   common.BigIntFrom(redemption),
		FeesSettled:         common.BigIntFrom(fees),
		RedemptionRemaining: common.BigIntFrom(remaining.Redemption),
		FeesRemaining:       common.BigIntFrom(remaining.Fees),
		FeesSettledTotal:    common.BigIntFrom(c.rec.SettledFees.Value()),
	})
	if fees.Sign() > 0 {
		c.buf.Add(events.LidoFeesUpdated{
			Vault:     c.rec.Vault,
			Unsettled: common.BigIntFrom(remaining.Fees),
			Settled:   common.BigIntFrom(c.rec.SettledFees.Value()),
		})
	}
	c.settledRedemption = redemption
	c.settledFees = fees
	return nil
}

// updateDepositsPause pauses beacon chain deposits while unsettled fees
// are at or above the threshold and resumes them otherwise.
func (c *call) updateDepositsPause(tx *vault.Tx) error {
	paused := c.rec.UnsettledFees().Cmp(c.h.cfg.DepositsPauseThreshold) >= 0
	vaultPaused := tx.State().BeaconChainDepositsPaused
	if paused != vaultPaused {
		var err error
		if paused {
			err = tx.PauseBeaconChainDeposits()
		} else {
			err = tx.ResumeBeaconChainDeposits()
		}
		if err != nil {
			return err
		}
	}
	if paused != c.rec.DepositsPaused {
		if paused {
			c.buf.Add(events.BeaconChainDepositsPaused{Vault: c.rec.Vault})
		} else {
			c.buf.Add(events.BeaconChainDepositsResumed{Vault: c.rec.Vault})
		}
		c.rec.DepositsPaused = paused
	}
	return nil
}
