package hub

import (
	"context"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/vault"
)

// VoluntaryDisconnect starts disconnecting a vault without liability. The
// disconnect completes once its obligations are settled.
func (h *Hub) VoluntaryDisconnect(ctx context.Context, caller, addr ethCommon.Address) error {
	return h.exec(ctx, "voluntary_disconnect", addr, func(c *call) error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		if err := c.requireConnected(); err != nil {
			return err
		}
		if c.rec.LiabilityShares.Sign() != 0 {
			return c.fail(ErrLiabilityOutstanding, "liability", c.rec.LiabilityShares)
		}
		c.rec.State = PendingDisconnect
		c.buf.Add(events.VaultDisconnectInitiated{Vault: addr})
		c.h.logger.Info("vault disconnect initiated", "vault", addr.Hex())
		return nil
	})
}

// FinalizeDisconnect completes a pending disconnect whose obligations are
// already settled. Anyone may call it.
func (h *Hub) FinalizeDisconnect(ctx context.Context, addr ethCommon.Address) error {
	return h.exec(ctx, "finalize_disconnect", addr, func(c *call) error {
		if c.rec.State != PendingDisconnect {
			return c.fail(ErrVaultNotPendingDisconnect, "state", c.rec.State)
		}
		if owed := c.obligations(); owed.Outstanding() {
			return c.fail(ErrObligationsOutstanding, "redemption", owed.Redemption, "fees", owed.Fees)
		}
		return c.apply(ctx, c.finalizeDisconnect)
	})
}

// finalizeDisconnect completes the disconnect if the record is pending
// and owes nothing: the lock is released, deposits resume, the vault is
// detached and the record removed.
func (c *call) finalizeDisconnect(tx *vault.Tx) error {
	if c.rec.State != PendingDisconnect || c.obligations().Outstanding() {
		return nil
	}
	st := tx.State()
	if err := tx.Report(st.TotalValue(), st.InOutDelta, new(big.Int)); err != nil {
		return err
	}
	if st.BeaconChainDepositsPaused {
		if err := tx.ResumeBeaconChainDeposits(); err != nil {
			return err
		}
	}
	if err := tx.DetachHub(); err != nil {
		return err
	}
	if c.rec.DepositsPaused {
		c.buf.Add(events.BeaconChainDepositsResumed{Vault: c.rec.Vault})
		c.rec.DepositsPaused = false
	}
	c.rec.State = Disconnected
	c.buf.Add(events.VaultDisconnected{Vault: c.rec.Vault})
	c.h.logger.Info("vault disconnected", "vault", c.rec.Vault.Hex())
	return nil
}
