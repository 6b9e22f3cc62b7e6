package keeper

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/config"
	"github.com/oasisprotocol/vaulthub/custody"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/oracle"
	"github.com/oasisprotocol/vaulthub/vault"
)

var (
	hubAddr  = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a0")
	treasury = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	factory  = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a2")
	beacon   = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a3")
	admin    = ethCommon.HexToAddress("0x00000000000000000000000000000000000000b0")
	owner    = ethCommon.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// setup connects n vaults that each owe 1 ether of fees and hold 2 ether.
func setup(t *testing.T, n int) (*hub.Hub, *custody.Bank, *vault.Registry) {
	ctx := context.Background()
	logger := log.NewDiscardLogger("keeper_test")
	h, err := hub.New(hub.Config{
		Address:                hubAddr,
		Treasury:               treasury,
		DepositsPauseThreshold: ether(1),
		MinimalReserve:         new(big.Int),
	}, oracle.NewParity(), hub.AllowAll{}, events.Nop{}, logger)
	require.NoError(t, err)

	bank := custody.NewBank()
	bank.Credit(owner, ether(100))
	vaults := vault.NewRegistry(factory, beacon, bank, custody.FixedQuoter{Fee: big.NewInt(1)}, events.Nop{}, logger)
	for i := 0; i < n; i++ {
		v, err := vaults.Create(owner)
		require.NoError(t, err)
		require.NoError(t, v.AttachHub(ctx, owner, hubAddr))
		require.NoError(t, h.ConnectVault(ctx, admin, v, hub.Params{ShareLimit: ether(10)}))
		// Unfunded at report time, so the fees stay unsettled.
		require.NoError(t, h.IngestReport(ctx, admin, hub.Report{
			Vault:          v.Address(),
			TotalValue:     new(big.Int),
			InOutDelta:     v.InOutDelta(),
			Locked:         v.Locked(),
			CumulativeFees: ether(1),
		}))
		require.NoError(t, v.Fund(ctx, owner, ether(2)))
	}
	return h, bank, vaults
}

func TestSweep(t *testing.T) {
	h, bank, _ := setup(t, 5)
	require.Len(t, h.SettleableVaults(), 5)

	k, err := New(config.KeeperConfig{Schedule: "@every 1h", Parallelism: 2}, h, log.NewDiscardLogger("keeper_test"))
	require.NoError(t, err)
	settled, err := k.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, settled)
	require.Empty(t, h.SettleableVaults())
	require.Zero(t, ether(5).Cmp(bank.BalanceOf(treasury)))

	settled, err = k.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, settled)
}

func TestSweepWaitsForBusyVault(t *testing.T) {
	ctx := context.Background()
	h, bank, vaults := setup(t, 1)
	v := vaults.List()[0]
	recipient := ethCommon.HexToAddress("0x00000000000000000000000000000000000000d0")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	bank.SetReceiveHook(recipient, func(context.Context, ethCommon.Address, *big.Int) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})
	withdrawErr := make(chan error, 1)
	go func() { withdrawErr <- v.Withdraw(ctx, owner, recipient, ether(1)) }()
	<-entered

	k, err := New(config.KeeperConfig{Schedule: "@every 1h"}, h, log.NewDiscardLogger("keeper_test"))
	require.NoError(t, err)
	type result struct {
		settled int
		err     error
	}
	swept := make(chan result, 1)
	go func() {
		n, err := k.Sweep(ctx)
		swept <- result{n, err}
	}()
	select {
	case r := <-swept:
		t.Fatalf("sweep finished while the vault was transferring: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-withdrawErr)
	r := <-swept
	require.NoError(t, r.err)
	require.Equal(t, 1, r.settled)
	require.Zero(t, ether(1).Cmp(bank.BalanceOf(treasury)))
}

type flakySettler struct {
	mu    sync.Mutex
	calls []ethCommon.Address
}

var (
	okVault     = ethCommon.HexToAddress("0x01")
	brokeVault  = ethCommon.HexToAddress("0x02")
	failedVault = ethCommon.HexToAddress("0x03")
	errBoom     = errors.New("boom")
)

func (s *flakySettler) SettleableVaults() []ethCommon.Address {
	return []ethCommon.Address{okVault, brokeVault, failedVault}
}

func (s *flakySettler) SettleVaultObligations(_ context.Context, addr ethCommon.Address) error {
	s.mu.Lock()
	s.calls = append(s.calls, addr)
	s.mu.Unlock()
	switch addr {
	case brokeVault:
		return hub.ErrZeroBalance
	case failedVault:
		return errBoom
	}
	return nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	s := &flakySettler{}
	k, err := New(config.KeeperConfig{Schedule: "@every 1h", Parallelism: 1}, s, log.NewDiscardLogger("keeper_test"))
	require.NoError(t, err)

	settled, err := k.Sweep(context.Background())
	require.Equal(t, 1, settled)
	require.ErrorIs(t, err, errBoom)
	require.NotErrorIs(t, err, hub.ErrZeroBalance)
	require.Len(t, s.calls, 3)
}

func TestScheduledSweep(t *testing.T) {
	h, _, _ := setup(t, 1)
	k, err := New(config.KeeperConfig{Schedule: "@every 1s"}, h, log.NewDiscardLogger("keeper_test"))
	require.NoError(t, err)
	require.Equal(t, "keeper", k.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(h.SettleableVaults()) == 0 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("keeper did not stop")
	}
}

func TestInvalidSchedule(t *testing.T) {
	_, err := New(config.KeeperConfig{Schedule: "every minute"}, &flakySettler{}, log.NewDiscardLogger("keeper_test"))
	require.Error(t, err)
}
