package hub

import (
	"fmt"
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
)

// TotalBasisPoints is 100% in basis points.
const TotalBasisPoints = 10_000

// Params are the per-vault connection parameters.
type Params struct {
	ShareLimit           *big.Int
	ReserveRatioBP       uint64
	RebalanceThresholdBP uint64
	TreasuryFeeBP        uint64
}

// Validate checks 0 <= threshold <= reserve ratio < 100% and a
// non-negative share limit.
func (p Params) Validate() error {
	switch {
	case p.ShareLimit == nil || p.ShareLimit.Sign() < 0:
		return fmt.Errorf("%w: share limit %v", ErrInvalidParameters, p.ShareLimit)
	case p.ReserveRatioBP >= TotalBasisPoints:
		return fmt.Errorf("%w: reserve ratio %d bp", ErrInvalidParameters, p.ReserveRatioBP)
	case p.RebalanceThresholdBP > p.ReserveRatioBP:
		return fmt.Errorf("%w: rebalance threshold %d bp above reserve ratio %d bp", ErrInvalidParameters, p.RebalanceThresholdBP, p.ReserveRatioBP)
	case p.TreasuryFeeBP > TotalBasisPoints:
		return fmt.Errorf("%w: treasury fee %d bp", ErrInvalidParameters, p.TreasuryFeeBP)
	}
	return nil
}

func (p Params) clone() Params {
	p.ShareLimit = common.CloneBig(p.ShareLimit)
	return p
}

// Record is the hub's bookkeeping for one vault.
type Record struct {
	Vault ethCommon.Address
	Owner ethCommon.Address
	State ConnectionState
	Params

	LiabilityShares  *big.Int
	RedemptionShares *big.Int
	// CumulativeFees is the last accepted cumulative fee report.
	CumulativeFees Counter
	SettledFees    Counter
	DepositsPaused bool
	ReportedAt     time.Time
}

func (r Record) clone() Record {
	r.Params = r.Params.clone()
	r.LiabilityShares = common.CloneBig(r.LiabilityShares)
	r.RedemptionShares = common.CloneBig(r.RedemptionShares)
	return r
}

// UnsettledFees is cumulative minus settled fees.
func (r Record) UnsettledFees() *big.Int {
	return new(big.Int).Sub(r.CumulativeFees.Value(), r.SettledFees.Value())
}

// check verifies the record invariants.
func (r Record) check() error {
	switch {
	case r.LiabilityShares == nil || r.LiabilityShares.Sign() < 0:
		return fmt.Errorf("%w: liability shares %v", ErrInvariantViolation, r.LiabilityShares)
	case r.RedemptionShares == nil || r.RedemptionShares.Sign() < 0:
		return fmt.Errorf("%w: redemption shares %v", ErrInvariantViolation, r.RedemptionShares)
	case r.RedemptionShares.Cmp(r.LiabilityShares) > 0:
		return fmt.Errorf("%w: redemption shares %s above liability %s", ErrInvariantViolation, r.RedemptionShares, r.LiabilityShares)
	case r.UnsettledFees().Sign() < 0:
		return fmt.Errorf("%w: settled fees %s above cumulative %s", ErrInvariantViolation, r.SettledFees, r.CumulativeFees)
	}
	switch r.State {
	case PendingDisconnect:
		if r.LiabilityShares.Sign() != 0 {
			return fmt.Errorf("%w: pending disconnect with liability %s", ErrInvariantViolation, r.LiabilityShares)
		}
	case Disconnected:
		if r.LiabilityShares.Sign() != 0 || r.RedemptionShares.Sign() != 0 || r.UnsettledFees().Sign() != 0 {
			return fmt.Errorf("%w: disconnected with outstanding obligations", ErrInvariantViolation)
		}
	}
	return nil
}

// VaultRecord joins the hub record with the vault's own bookkeeping.
type VaultRecord struct {
	Record
	TotalValue                *big.Int
	Locked                    *big.Int
	InOutDelta                *big.Int
	Balance                   *big.Int
	BeaconChainDepositsPaused bool
	Healthy                   bool
}
