package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/vault"
)

// Snapshotter produces the current persisted view of a vault.
type Snapshotter interface {
	Snapshot(addr ethCommon.Address) (storage.VaultSnapshot, bool)
}

// LedgerSnapshotter joins vault state with the hub record, if any.
type LedgerSnapshotter struct {
	Hub    *hub.Hub
	Vaults *vault.Registry
}

var _ Snapshotter = LedgerSnapshotter{}

func (s LedgerSnapshotter) Snapshot(addr ethCommon.Address) (storage.VaultSnapshot, bool) {
	v, ok := s.Vaults.Get(addr)
	if !ok {
		return storage.VaultSnapshot{}, false
	}
	st := v.State()
	snap := storage.VaultSnapshot{
		Vault:            addr,
		Owner:            v.Owner(),
		State:            hub.Disconnected.String(),
		LiabilityShares:  common.NewBigInt(0),
		RedemptionShares: common.NewBigInt(0),
		CumulativeFees:   common.NewBigInt(0),
		SettledFees:      common.NewBigInt(0),
		TotalValue:       common.BigIntFrom(st.TotalValue()),
		Locked:           common.BigIntFrom(st.Locked),
		Balance:          common.BigIntFrom(v.Balance()),
		DepositsPaused:   st.BeaconChainDepositsPaused,
		UpdatedAt:        time.Now().UTC(),
	}
	if rec, err := s.Hub.Record(addr); err == nil {
		snap.State = rec.State.String()
		snap.LiabilityShares = common.BigIntFrom(rec.LiabilityShares)
		snap.RedemptionShares = common.BigIntFrom(rec.RedemptionShares)
		snap.CumulativeFees = common.BigIntFrom(rec.CumulativeFees.Value())
		snap.SettledFees = common.BigIntFrom(rec.SettledFees.Value())
	}
	return snap, true
}

// Journal is an events.Sink that persists events and refreshes the
// snapshots of the vaults they concern. Events reach it after the ledger
// committed, so storage failures are logged and never undo ledger state.
type Journal struct {
	store  storage.LedgerStorage
	logger *log.Logger

	mu        sync.Mutex
	next      uint64
	snapshots Snapshotter
}

var _ events.Sink = (*Journal)(nil)

// NewJournal continues the journal already in store.
func NewJournal(ctx context.Context, store storage.LedgerStorage, logger *log.Logger) (*Journal, error) {
	last, err := store.LastEventSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: reading last sequence number: %w", err)
	}
	return &Journal{
		store:  store,
		logger: logger.WithModule("journal"),
		next:   last + 1,
	}, nil
}

// SetSnapshotter enables snapshot upserts. The journal is created before
// the ledger it observes, hence the late binding.
func (j *Journal) SetSnapshotter(s Snapshotter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots = s
}

// Emit implements events.Sink.
func (j *Journal) Emit(ctx context.Context, evs ...events.Event) {
	if len(evs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	j.mu.Lock()
	defer j.mu.Unlock()

	envs := events.Wrap(j.next, evs...)
	if err := j.store.AppendEvents(ctx, envs); err != nil {
		j.logger.Error("failed to journal events", "first_seq", j.next, "count", len(envs), "err", err)
		return
	}
	j.next += uint64(len(envs))

	if j.snapshots == nil {
		return
	}
	seen := map[ethCommon.Address]struct{}{}
	for _, ev := range evs {
		addr := ev.VaultAddress()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		snap, ok := j.snapshots.Snapshot(addr)
		if !ok {
			continue
		}
		if err := j.store.UpsertVault(ctx, snap); err != nil {
			j.logger.Error("failed to store vault snapshot", "vault", addr.Hex(), "err", err)
		}
	}
}
