package hub

import (
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
)

func (h *Hub) view(e *entry) VaultRecord {
	rec := e.record()
	st := e.vault.State()
	return VaultRecord{
		Record:                    rec,
		TotalValue:                st.TotalValue(),
		Locked:                    st.Locked,
		InOutDelta:                st.InOutDelta,
		Balance:                   e.vault.Balance(),
		BeaconChainDepositsPaused: st.BeaconChainDepositsPaused,
		Healthy:                   st.Healthy(),
	}
}

func (h *Hub) lookup(op string, addr ethCommon.Address) (*entry, error) {
	e, ok := h.records.get(addr)
	if !ok {
		return nil, h.notConnected(op, addr)
	}
	return e, nil
}

// Record returns the committed record of a connected vault.
func (h *Hub) Record(addr ethCommon.Address) (VaultRecord, error) {
	e, err := h.lookup("record", addr)
	if err != nil {
		return VaultRecord{}, err
	}
	return h.view(e), nil
}

// Records returns all records ordered by vault address.
func (h *Hub) Records() []VaultRecord {
	entries := h.records.list()
	out := make([]VaultRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.view(e))
	}
	return out
}

// Obligations returns what the vault currently owes.
func (h *Hub) Obligations(addr ethCommon.Address) (Obligations, error) {
	e, err := h.lookup("obligations", addr)
	if err != nil {
		return Obligations{}, err
	}
	rec := e.record()
	return Obligations{
		Redemption: h.oracle.PooledValueBySharesRoundUp(rec.RedemptionShares),
		Fees:       rec.UnsettledFees(),
	}, nil
}

// WithdrawableValue is what the owner could withdraw without touching the
// lock or the amounts owed: min(balance, unlocked) - fees - redemption,
// floored at zero.
func (h *Hub) WithdrawableValue(addr ethCommon.Address) (*big.Int, error) {
	e, err := h.lookup("withdrawable_value", addr)
	if err != nil {
		return nil, err
	}
	rec := e.record()
	st := e.vault.State()
	w := common.CloneBig(common.MinBig(e.vault.Balance(), st.Unlocked()))
	w.Sub(w, rec.UnsettledFees())
	w.Sub(w, h.oracle.PooledValueBySharesRoundUp(rec.RedemptionShares))
	if w.Sign() < 0 {
		return new(big.Int), nil
	}
	return w, nil
}

// IsVaultHealthy reports whether totalValue >= locked.
func (h *Hub) IsVaultHealthy(addr ethCommon.Address) (bool, error) {
	e, err := h.lookup("is_vault_healthy", addr)
	if err != nil {
		return false, err
	}
	return e.vault.IsHealthy(), nil
}

// SettleableVaults returns the vaults that owe something and hold a
// balance to pay it from.
func (h *Hub) SettleableVaults() []ethCommon.Address {
	var out []ethCommon.Address
	for _, e := range h.records.list() {
		rec := e.record()
		owed := rec.UnsettledFees().Sign() > 0 || rec.RedemptionShares.Sign() > 0
		pending := rec.State == PendingDisconnect
		if (owed || pending) && e.vault.Balance().Sign() > 0 {
			out = append(out, rec.Vault)
		}
	}
	return out
}
