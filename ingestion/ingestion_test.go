package ingestion

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/cache/kvstore"
	"github.com/oasisprotocol/vaulthub/custody"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/oracle"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/storage/memory"
	"github.com/oasisprotocol/vaulthub/vault"
)

var (
	hubAddr    = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a0")
	treasury   = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	factory    = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a2")
	beacon     = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a3")
	governance = ethCommon.HexToAddress("0x00000000000000000000000000000000000000b0")
	reporter   = ethCommon.HexToAddress("0x00000000000000000000000000000000000000b1")
	owner      = ethCommon.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func requireAmount(t *testing.T, expected, actual *big.Int) {
	t.Helper()
	require.NotNil(t, actual)
	require.Zero(t, expected.Cmp(actual), "expected %s, got %s", expected, actual)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	bank     *custody.Bank
	store    *memory.Store
	vaults   *vault.Registry
	hub      *hub.Hub
	ingester *Ingester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := log.NewDiscardLogger("ingestion_test")
	store := memory.New()

	journal, err := NewJournal(ctx, store, logger)
	require.NoError(t, err)
	sink := events.Multi{events.NewRecorder(100), journal}

	policy := hub.NewRolePolicy(map[hub.Capability][]ethCommon.Address{
		hub.CapConnectVault: {governance},
		hub.CapSubmitReport: {reporter},
	})
	h, err := hub.New(hub.Config{
		Address:                hubAddr,
		Treasury:               treasury,
		DepositsPauseThreshold: ether(1),
		MinimalReserve:         new(big.Int),
	}, oracle.NewParity(), policy, sink, logger)
	require.NoError(t, err)

	bank := custody.NewBank()
	bank.Credit(owner, ether(100))
	vaults := vault.NewRegistry(factory, beacon, bank, custody.FixedQuoter{Fee: big.NewInt(1)}, sink, logger)
	journal.SetSnapshotter(LedgerSnapshotter{Hub: h, Vaults: vaults})

	kv, err := kvstore.OpenKVStore(logger, t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	return &fixture{
		t:        t,
		ctx:      ctx,
		bank:     bank,
		store:    store,
		vaults:   vaults,
		hub:      h,
		ingester: NewIngester(h, policy, NewArchive(kv), store, logger),
	}
}

// connect creates, funds, attaches and connects a vault.
func (f *fixture) connect(fund *big.Int) *vault.Vault {
	f.t.Helper()
	v, err := f.vaults.Create(owner)
	require.NoError(f.t, err)
	require.NoError(f.t, v.AttachHub(f.ctx, owner, hubAddr))
	require.NoError(f.t, f.hub.ConnectVault(f.ctx, governance, v, hub.Params{ShareLimit: ether(10), TreasuryFeeBP: 500}))
	require.NoError(f.t, v.Fund(f.ctx, owner, fund))
	return v
}

func reportFor(v *vault.Vault, totalValue, cumulativeFees *big.Int, at time.Time) hub.Report {
	return hub.Report{
		Vault:          v.Address(),
		TotalValue:     totalValue,
		InOutDelta:     v.InOutDelta(),
		Locked:         v.Locked(),
		CumulativeFees: cumulativeFees,
		Timestamp:      at,
	}
}

func TestSubmitAppliesArchivesAndJournals(t *testing.T) {
	f := newFixture(t)
	v := f.connect(ether(2))
	at := time.Unix(1_700_000_000, 0).UTC()

	hash, err := f.ingester.Submit(f.ctx, reporter, reportFor(v, ether(2), ether(1), at))
	require.NoError(t, err)
	requireAmount(t, ether(1), f.bank.BalanceOf(treasury))

	latest, err := f.ingester.Latest(v.Address())
	require.NoError(t, err)
	require.Equal(t, hash, latest.Hash)
	require.Equal(t, reporter, latest.Submitter)
	require.True(t, at.Equal(latest.Timestamp))
	requireAmount(t, ether(1), latest.CumulativeFees.Big())

	journaled, err := f.store.Events(f.ctx, 0, 100)
	require.NoError(t, err)
	kinds := []events.Kind{}
	for i, e := range journaled {
		require.Equal(t, uint64(i+1), e.Seq)
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, events.KindVaultConnected)
	require.Contains(t, kinds, events.KindVaultReportApplied)
	require.Contains(t, kinds, events.KindVaultObligationsSettled)

	snap, err := f.store.Vault(f.ctx, v.Address())
	require.NoError(t, err)
	require.Equal(t, "connected", snap.State)
	require.Equal(t, owner, snap.Owner)
	requireAmount(t, ether(1), snap.SettledFees.Big())
	requireAmount(t, ether(1), snap.CumulativeFees.Big())
	requireAmount(t, ether(1), snap.Balance.Big())
}

func TestDuplicateReport(t *testing.T) {
	f := newFixture(t)
	v := f.connect(ether(2))
	r := reportFor(v, ether(2), ether(1), time.Unix(1_700_000_000, 0))

	_, err := f.ingester.Submit(f.ctx, reporter, r)
	require.NoError(t, err)
	_, err = f.ingester.Submit(f.ctx, reporter, r)
	require.ErrorIs(t, err, ErrDuplicateReport)
	_, _, err = f.ingester.Enqueue(f.ctx, reporter, r)
	require.ErrorIs(t, err, ErrDuplicateReport)

	// Only one settlement happened.
	requireAmount(t, ether(1), f.bank.BalanceOf(treasury))
}

func TestResubmittedSnapshotWithoutTimestamp(t *testing.T) {
	f := newFixture(t)
	v := f.connect(ether(2))
	r := reportFor(v, ether(2), ether(1), time.Time{})

	first, err := f.ingester.Submit(f.ctx, reporter, r)
	require.NoError(t, err)
	// The next period reports the same values for the idle vault.
	second, err := f.ingester.Submit(f.ctx, reporter, r)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	_, _, err = f.ingester.Enqueue(f.ctx, reporter, r)
	require.NoError(t, err)

	latest, err := f.ingester.Latest(v.Address())
	require.NoError(t, err)
	require.Equal(t, second, latest.Hash)
	require.False(t, latest.Timestamp.IsZero())
	requireAmount(t, ether(1), f.bank.BalanceOf(treasury))
}

func TestSubmitFromTransferHook(t *testing.T) {
	f := newFixture(t)
	v := f.connect(ether(2))

	var nested error
	f.bank.SetReceiveHook(treasury, func(ctx context.Context, _ ethCommon.Address, _ *big.Int) error {
		_, nested = f.ingester.Submit(ctx, reporter, reportFor(v, ether(2), ether(1), time.Unix(1, 0)))
		return nil
	})
	_, err := f.ingester.Submit(f.ctx, reporter, reportFor(v, ether(2), ether(1), time.Time{}))
	require.NoError(t, err)
	require.ErrorIs(t, nested, hub.ErrReentrantCall)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	v := f.connect(ether(2))

	r := reportFor(v, ether(2), ether(1), time.Time{})
	r.TotalValue = nil
	_, err := f.ingester.Submit(f.ctx, reporter, r)
	require.ErrorIs(t, err, hub.ErrInvalidReport)

	unknown := reportFor(v, ether(2), ether(1), time.Time{})
	unknown.Vault = ethCommon.HexToAddress("0x00000000000000000000000000000000000000ff")
	_, err = f.ingester.Submit(f.ctx, reporter, unknown)
	require.ErrorIs(t, err, hub.ErrVaultNotConnected)

	_, err = f.ingester.Submit(f.ctx, owner, reportFor(v, ether(2), ether(1), time.Time{}))
	require.ErrorIs(t, err, hub.ErrUnauthorized)
	_, _, err = f.ingester.Enqueue(f.ctx, owner, reportFor(v, ether(2), ether(1), time.Time{}))
	require.ErrorIs(t, err, hub.ErrUnauthorized)

	// Rejected reports are not archived and can be retried.
	_, err = f.ingester.Latest(v.Address())
	require.ErrorIs(t, err, ErrNotArchived)
	_, err = f.ingester.Submit(f.ctx, reporter, reportFor(v, ether(2), ether(1), time.Time{}))
	require.NoError(t, err)
}

func TestQueueProcessing(t *testing.T) {
	f := newFixture(t)
	v := f.connect(ether(5))
	base := time.Unix(1_700_000_000, 0)

	var ids []int64
	for i, fees := range []*big.Int{ether(1), ether(2), ether(1)} {
		id, _, err := f.ingester.Enqueue(f.ctx, reporter, reportFor(v, ether(5), fees, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	p := NewProcessor(f.ingester, f.store, log.NewDiscardLogger("ingestion_test"))
	n, err := p.QueueLength(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	items, err := p.GetItems(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.NoError(t, p.ProcessItem(f.ctx, items[0]))
	require.NoError(t, p.ProcessItem(f.ctx, items[1]))
	require.ErrorIs(t, p.ProcessItem(f.ctx, items[2]), hub.ErrInvalidFees)

	for i, status := range []storage.ReportStatus{storage.ReportProcessed, storage.ReportProcessed, storage.ReportFailed} {
		r, ok := f.store.Report(ids[i])
		require.True(t, ok)
		require.Equal(t, status, r.Status)
	}
	failed, _ := f.store.Report(ids[2])
	require.Contains(t, failed.Error, "invalid fees")

	n, err = p.QueueLength(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	requireAmount(t, ether(2), f.bank.BalanceOf(treasury))

	// A processed item cannot be completed twice.
	require.ErrorIs(t, p.ProcessItem(f.ctx, items[0]), storage.ErrNotFound)
}

func TestReportHash(t *testing.T) {
	vaultAddr := ethCommon.HexToAddress("0x00000000000000000000000000000000000000c5")
	r := hub.Report{
		Vault:          vaultAddr,
		TotalValue:     ether(3),
		InOutDelta:     big.NewInt(-5),
		Locked:         ether(1),
		CumulativeFees: big.NewInt(7),
		Timestamp:      time.Unix(100, 0),
	}
	h := ReportHash(r)
	require.Equal(t, h, ReportHash(r))
	requireAmount(t, big.NewInt(-5), r.InOutDelta)

	other := r
	other.InOutDelta = big.NewInt(5)
	require.NotEqual(t, h, ReportHash(other))

	other = r
	other.Timestamp = time.Unix(100, 1)
	require.NotEqual(t, h, ReportHash(other))

	// Amounts wider than a word would wrap in the hash; they are invalid.
	wide := r
	wide.TotalValue = new(big.Int).Add(r.TotalValue, new(big.Int).Lsh(big.NewInt(1), 256))
	require.ErrorIs(t, wide.Validate(), hub.ErrInvalidReport)
	wide = r
	wide.InOutDelta = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
	require.ErrorIs(t, wide.Validate(), hub.ErrInvalidReport)
	wide.InOutDelta = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	require.NoError(t, wide.Validate())
}

func TestJournalContinuesSequence(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	logger := log.NewDiscardLogger("ingestion_test")
	addr := ethCommon.HexToAddress("0x00000000000000000000000000000000000000c5")

	j, err := NewJournal(ctx, store, logger)
	require.NoError(t, err)
	j.Emit(ctx, events.VaultConnected{Vault: addr}, events.VaultDisconnectInitiated{Vault: addr})

	j, err = NewJournal(ctx, store, logger)
	require.NoError(t, err)
	j.Emit(ctx, events.VaultDisconnected{Vault: addr})

	last, err := store.LastEventSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)
	journaled, err := store.Events(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, journaled, 1)
	require.Equal(t, events.KindVaultDisconnected, journaled[0].Kind)
}
