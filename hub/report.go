package hub

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/vault"
)

// Report is an authenticated valuation snapshot of one vault.
type Report struct {
	Vault          ethCommon.Address
	TotalValue     *big.Int
	InOutDelta     *big.Int
	Locked         *big.Int
	CumulativeFees *big.Int
	Timestamp      time.Time
}

// maxAmountBits bounds report amounts to a 256-bit word. The signed
// in/out delta gets one bit less.
const maxAmountBits = 256

// Validate checks that all amounts are present, that the unsigned ones are
// not negative and that all fit a 256-bit word.
func (r Report) Validate() error {
	switch {
	case common.IsZeroAddress(r.Vault):
		return fmt.Errorf("%w: missing vault", ErrInvalidReport)
	case r.TotalValue == nil || r.TotalValue.Sign() < 0 || r.TotalValue.BitLen() > maxAmountBits:
		return fmt.Errorf("%w: total value %v", ErrInvalidReport, r.TotalValue)
	case r.InOutDelta == nil || r.InOutDelta.BitLen() > maxAmountBits-1:
		return fmt.Errorf("%w: in/out delta %v", ErrInvalidReport, r.InOutDelta)
	case r.Locked == nil || r.Locked.Sign() < 0 || r.Locked.BitLen() > maxAmountBits:
		return fmt.Errorf("%w: locked %v", ErrInvalidReport, r.Locked)
	case r.CumulativeFees == nil || r.CumulativeFees.Sign() < 0 || r.CumulativeFees.BitLen() > maxAmountBits:
		return fmt.Errorf("%w: cumulative fees %v", ErrInvalidReport, r.CumulativeFees)
	}
	return nil
}

// IngestReport applies a report: the cumulative fees are accepted, the
// valuation is forwarded to the vault and a settlement pass runs. A vault
// without balance is not settled. A pending disconnect completes if the
// pass leaves nothing owed.
func (h *Hub) IngestReport(ctx context.Context, caller ethCommon.Address, r Report) error {
	return h.exec(ctx, "ingest_report", r.Vault, func(c *call) error {
		if err := c.requireCapability(ctx, caller, CapSubmitReport); err != nil {
			return err
		}
		if err := r.Validate(); err != nil {
			return err
		}
		prev := c.rec.CumulativeFees.Value()
		if r.CumulativeFees.Cmp(prev) < 0 {
			return c.fail(ErrInvalidFees, "new", r.CumulativeFees, "old", prev)
		}
		cumulative, err := c.rec.CumulativeFees.Advance(r.CumulativeFees)
		if err != nil {
			return err
		}
		c.rec.CumulativeFees = cumulative
		c.rec.ReportedAt = r.Timestamp
		if c.rec.ReportedAt.IsZero() {
			c.rec.ReportedAt = time.Now().UTC()
		}

		return c.apply(ctx, func(tx *vault.Tx) error {
			if err := tx.Report(r.TotalValue, r.InOutDelta, r.Locked); err != nil {
				return err
			}
			c.buf.Add(events.VaultReportApplied{
				Vault:          r.Vault,
				TotalValue:     common.BigIntFrom(r.TotalValue),
				InOutDelta:     common.BigIntFrom(r.InOutDelta),
				Locked:         common.BigIntFrom(r.Locked),
				CumulativeFees: common.BigIntFrom(r.CumulativeFees),
			})
			if r.CumulativeFees.Cmp(prev) != 0 {
				c.buf.Add(events.LidoFeesUpdated{
					Vault:     r.Vault,
					Unsettled: common.BigIntFrom(c.rec.UnsettledFees()),
					Settled:   common.BigIntFrom(c.rec.SettledFees.Value()),
				})
			}
			if err := c.settle(tx, false); err != nil {
				return err
			}
			if err := c.updateDepositsPause(tx); err != nil {
				return err
			}
			return c.finalizeDisconnect(tx)
		})
	})
}
