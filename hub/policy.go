package hub

import (
	"context"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// Capability names a privileged ledger operation.
type Capability string

const (
	CapConnectVault        Capability = "connect_vault"
	CapUpdateConnection    Capability = "update_connection"
	CapSetRedemptionShares Capability = "set_redemption_shares"
	CapForceRebalance      Capability = "force_rebalance"
	CapSubmitReport        Capability = "submit_report"
)

// Policy answers capability checks. The ledger queries it on every
// privileged call and does not cache the answer.
type Policy interface {
	Allowed(ctx context.Context, caller ethCommon.Address, capability Capability) bool
}

// RolePolicy grants each capability to a fixed set of addresses.
type RolePolicy struct {
	roles map[Capability]map[ethCommon.Address]struct{}
}

var _ Policy = (*RolePolicy)(nil)

func NewRolePolicy(roles map[Capability][]ethCommon.Address) *RolePolicy {
	p := &RolePolicy{roles: make(map[Capability]map[ethCommon.Address]struct{}, len(roles))}
	for capability, holders := range roles {
		set := make(map[ethCommon.Address]struct{}, len(holders))
		for _, h := range holders {
			set[h] = struct{}{}
		}
		p.roles[capability] = set
	}
	return p
}

func (p *RolePolicy) Allowed(_ context.Context, caller ethCommon.Address, capability Capability) bool {
	_, ok := p.roles[capability][caller]
	return ok
}

// AllowAll grants every capability to every caller.
type AllowAll struct{}

func (AllowAll) Allowed(context.Context, ethCommon.Address, Capability) bool { return true }
