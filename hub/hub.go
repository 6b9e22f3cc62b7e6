// Package hub implements the vault ledger: the registry of vault records,
// share minting and burning against vault collateral, the ordered
// settlement of redemption and fee obligations, report ingestion and the
// connect/disconnect lifecycle.
//
// Every exported operation is all-or-nothing. It runs with exclusive access
// to one vault record, stages record changes and events on a working copy,
// drives the vault through a single vault.Tx and commits only if all of
// that succeeded. Operations on different vaults run independently.
package hub

import (
	"context"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
	"github.com/oasisprotocol/vaulthub/oracle"
	"github.com/oasisprotocol/vaulthub/vault"
)

const moduleName = "hub"

// Config holds the hub-wide settings.
type Config struct {
	// Address is the hub's identity towards vaults and custody.
	Address ethCommon.Address
	// Treasury receives settled fees.
	Treasury ethCommon.Address
	// DepositsPauseThreshold pauses a vault's beacon chain deposits while
	// its unsettled fees are at or above it.
	DepositsPauseThreshold *big.Int
	// MinimalReserve is locked on connect and is the floor of every lock.
	MinimalReserve *big.Int
}

func (cfg Config) validate() error {
	if common.IsZeroAddress(cfg.Address) || common.IsZeroAddress(cfg.Treasury) {
		return fmt.Errorf("hub: address and treasury are required")
	}
	if cfg.DepositsPauseThreshold == nil || cfg.DepositsPauseThreshold.Sign() <= 0 {
		return fmt.Errorf("hub: deposits pause threshold must be positive")
	}
	if cfg.MinimalReserve == nil || cfg.MinimalReserve.Sign() < 0 {
		return fmt.Errorf("hub: minimal reserve must not be negative")
	}
	return nil
}

// Hub is the vault ledger.
type Hub struct {
	cfg     Config
	oracle  oracle.Oracle
	policy  Policy
	sink    events.Sink
	logger  *log.Logger
	metrics metrics.LedgerMetrics

	records *repository
}

// New creates a hub with no connected vaults.
func New(cfg Config, o oracle.Oracle, policy Policy, sink events.Sink, logger *log.Logger) (*Hub, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = events.Nop{}
	}
	cfg.DepositsPauseThreshold = common.CloneBig(cfg.DepositsPauseThreshold)
	cfg.MinimalReserve = common.CloneBig(cfg.MinimalReserve)
	return &Hub{
		cfg:     cfg,
		oracle:  o,
		policy:  policy,
		sink:    sink,
		logger:  logger.WithModule(moduleName),
		metrics: metrics.NewDefaultLedgerMetrics(moduleName),
		records: newRepository(),
	}, nil
}

func (h *Hub) Address() ethCommon.Address { return h.cfg.Address }

func (h *Hub) Treasury() ethCommon.Address { return h.cfg.Treasury }

// call is the working state of one operation on one record.
type call struct {
	h   *Hub
	op  string
	e   *entry
	rec Record
	buf events.Buffer

	validated         bool
	settledRedemption *big.Int
	settledFees       *big.Int
}

func (c *call) fail(kind error, kv ...interface{}) error {
	return newError(c.op, c.rec.Vault, kind, kv...)
}

// validate checks the working record against the committed one.
func (c *call) validate() error {
	if err := c.h.records.validate(c.e, c.rec); err != nil {
		return err
	}
	c.validated = true
	return nil
}

// apply runs fn in a vault transaction. The working record is validated
// inside the transaction so that an invalid record aborts the vault
// changes and transfers too.
func (c *call) apply(ctx context.Context, fn func(tx *vault.Tx) error) error {
	return c.e.vault.Apply(ctx, c.h.cfg.Address, func(tx *vault.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return c.validate()
	})
}

// exec runs fn with exclusive access to the record of addr and commits its
// changes if it succeeds.
func (h *Hub) exec(ctx context.Context, op string, addr ethCommon.Address, fn func(c *call) error) error {
	err := h.run(ctx, op, addr, fn)
	status := "ok"
	if err != nil {
		status = "error"
		h.logger.Debug("ledger operation failed", "op", op, "vault", addr.Hex(), "err", err)
	}
	h.metrics.Operation(op, status)
	return err
}

func (h *Hub) run(ctx context.Context, op string, addr ethCommon.Address, fn func(c *call) error) error {
	e, ok := h.records.get(addr)
	if !ok {
		return h.notConnected(op, addr)
	}
	// A transfer recipient calling back would wait on the lock its
	// caller holds.
	if vault.InTransfer(ctx, addr) {
		return newError(op, addr, ErrReentrantCall)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return h.notConnected(op, addr)
	}

	c := &call{h: h, op: op, e: e, rec: e.record()}
	if err := fn(c); err != nil {
		return wrapError(op, addr, err)
	}
	if !c.validated {
		if err := c.validate(); err != nil {
			return wrapError(op, addr, err)
		}
	}
	h.records.commit(e, c.rec)
	c.buf.Flush(ctx, h.sink)

	if c.settledRedemption != nil {
		h.metrics.Settled("redemption", c.settledRedemption)
	}
	if c.settledFees != nil {
		h.metrics.Settled("fees", c.settledFees)
	}
	h.updateGauges()
	return nil
}

func (h *Hub) notConnected(op string, addr ethCommon.Address) error {
	if h.records.isRetired(addr) {
		return newError(op, addr, ErrVaultHubAlreadyDetached)
	}
	return newError(op, addr, ErrVaultNotConnected)
}

func (h *Hub) updateGauges() {
	var connected, paused int
	for _, e := range h.records.list() {
		connected++
		if e.rec.Load().DepositsPaused {
			paused++
		}
	}
	h.metrics.SetConnected(connected)
	h.metrics.SetPaused(paused)
}

func (c *call) requireOwner(caller ethCommon.Address) error {
	if caller != c.rec.Owner {
		return c.fail(ErrUnauthorized, "caller", caller.Hex())
	}
	return nil
}

func (c *call) requireCapability(ctx context.Context, caller ethCommon.Address, capability Capability) error {
	if !c.h.policy.Allowed(ctx, caller, capability) {
		return c.fail(ErrUnauthorized, "caller", caller.Hex(), "capability", capability)
	}
	return nil
}

func (c *call) requireConnected() error {
	switch c.rec.State {
	case Connected:
		return nil
	case PendingDisconnect:
		return c.fail(ErrVaultPendingDisconnect)
	default:
		return c.fail(ErrVaultNotConnected)
	}
}

// ConnectVault admits v with the given parameters. The vault must be
// attached to this hub, healthy and worth at least the minimal reserve,
// which gets locked.
func (h *Hub) ConnectVault(ctx context.Context, caller ethCommon.Address, v *vault.Vault, p Params) error {
	const op = "connect_vault"
	err := h.connect(ctx, op, caller, v, p)
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.Operation(op, status)
	return err
}

func (h *Hub) connect(ctx context.Context, op string, caller ethCommon.Address, v *vault.Vault, p Params) error {
	addr := v.Address()
	if !h.policy.Allowed(ctx, caller, CapConnectVault) {
		return newError(op, addr, ErrUnauthorized, "caller", caller.Hex(), "capability", CapConnectVault)
	}
	if err := p.Validate(); err != nil {
		return wrapError(op, addr, err)
	}

	var buf events.Buffer
	err := h.records.admit(v, func(existing *Record) (Record, error) {
		if existing != nil {
			if existing.State == PendingDisconnect {
				return Record{}, newError(op, addr, ErrVaultPendingDisconnect)
			}
			return Record{}, newError(op, addr, ErrVaultAlreadyConnected)
		}
		if attached := v.Hub(); attached != h.cfg.Address {
			return Record{}, newError(op, addr, ErrVaultHubNotAttached, "attached", attached.Hex())
		}

		rec := Record{
			Vault:            addr,
			Owner:            v.Owner(),
			State:            Connected,
			Params:           p.clone(),
			LiabilityShares:  new(big.Int),
			RedemptionShares: new(big.Int),
		}
		err := v.Apply(ctx, h.cfg.Address, func(tx *vault.Tx) error {
			st := tx.State()
			if !st.Healthy() {
				return newError(op, addr, ErrVaultUnhealthy, "total_value", st.TotalValue(), "locked", st.Locked)
			}
			if tv := st.TotalValue(); tv.Cmp(h.cfg.MinimalReserve) < 0 {
				return newError(op, addr, ErrInsufficientReserve, "total_value", tv, "minimal_reserve", h.cfg.MinimalReserve)
			}
			if st.Locked.Cmp(h.cfg.MinimalReserve) < 0 {
				if err := tx.Lock(h.cfg.MinimalReserve); err != nil {
					return err
				}
			}
			rec.DepositsPaused = st.BeaconChainDepositsPaused
			return nil
		})
		if err != nil {
			return Record{}, wrapError(op, addr, err)
		}
		return rec, nil
	})
	if err != nil {
		return wrapError(op, addr, err)
	}

	h.logger.Info("vault connected", "vault", addr.Hex(), "share_limit", p.ShareLimit, "reserve_ratio_bp", p.ReserveRatioBP)
	buf.Add(events.VaultConnected{
		Vault:                addr,
		ShareLimit:           common.BigIntFrom(p.ShareLimit),
		ReserveRatioBP:       p.ReserveRatioBP,
		RebalanceThresholdBP: p.RebalanceThresholdBP,
		TreasuryFeeBP:        p.TreasuryFeeBP,
	})
	buf.Flush(ctx, h.sink)
	h.updateGauges()
	return nil
}

// UpdateConnection replaces the connection parameters of a connected vault.
func (h *Hub) UpdateConnection(ctx context.Context, caller, addr ethCommon.Address, p Params) error {
	return h.exec(ctx, "update_connection", addr, func(c *call) error {
		if err := c.requireCapability(ctx, caller, CapUpdateConnection); err != nil {
			return err
		}
		if err := c.requireConnected(); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		c.rec.Params = p.clone()
		c.buf.Add(events.VaultConnectionUpdated{
			Vault:                addr,
			ShareLimit:           common.BigIntFrom(p.ShareLimit),
			ReserveRatioBP:       p.ReserveRatioBP,
			RebalanceThresholdBP: p.RebalanceThresholdBP,
			TreasuryFeeBP:        p.TreasuryFeeBP,
		})
		return nil
	})
}
