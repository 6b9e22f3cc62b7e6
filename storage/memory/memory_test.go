package memory

import (
	"context"
	"encoding/json"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/storage"
)

var (
	vaultA = ethCommon.HexToAddress("0x000000000000000000000000000000000000000a")
	vaultB = ethCommon.HexToAddress("0x000000000000000000000000000000000000000b")
)

func TestVaults(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Vault(ctx, vaultA)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.UpsertVault(ctx, storage.VaultSnapshot{Vault: vaultB, State: "connected"}))
	require.NoError(t, s.UpsertVault(ctx, storage.VaultSnapshot{Vault: vaultA, State: "connected"}))
	require.NoError(t, s.UpsertVault(ctx, storage.VaultSnapshot{Vault: vaultA, State: "pending_disconnect"}))

	v, err := s.Vault(ctx, vaultA)
	require.NoError(t, err)
	require.Equal(t, "pending_disconnect", v.State)

	all, err := s.Vaults(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, vaultA, all[0].Vault)
	require.Equal(t, vaultB, all[1].Vault)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	s := New()

	evs := events.Wrap(1,
		events.VaultConnected{Vault: vaultA, ShareLimit: common.NewBigInt(10)},
		events.BeaconChainDepositsPaused{Vault: vaultA},
		events.VaultDisconnected{Vault: vaultB},
	)
	require.NoError(t, s.AppendEvents(ctx, evs))
	require.Error(t, s.AppendEvents(ctx, evs[2:]), "sequence numbers must increase")

	last, err := s.LastEventSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)

	page, err := s.Events(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, events.KindBeaconChainDepositsPaused, page[0].Kind)

	all, err := s.Events(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, vaultB, all[2].Vault)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(all[0].Body, &body))
	require.Equal(t, "10", body["share_limit"])
}

func TestReportQueue(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.EnqueueReport(ctx, storage.QueuedReport{Hash: ethCommon.HexToHash("0x01"), Vault: vaultA})
	require.NoError(t, err)
	second, err := s.EnqueueReport(ctx, storage.QueuedReport{Hash: ethCommon.HexToHash("0x02"), Vault: vaultB})
	require.NoError(t, err)
	_, err = s.EnqueueReport(ctx, storage.QueuedReport{Hash: ethCommon.HexToHash("0x01"), Vault: vaultA})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	pending, err := s.PendingReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first, pending[0].ID)

	require.NoError(t, s.CompleteReport(ctx, first, storage.ReportFailed, "invalid fees"))
	require.ErrorIs(t, s.CompleteReport(ctx, first, storage.ReportProcessed, ""), storage.ErrNotFound)
	require.ErrorIs(t, s.CompleteReport(ctx, 42, storage.ReportProcessed, ""), storage.ErrNotFound)

	pending, err = s.PendingReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second, pending[0].ID)

	r, ok := s.Report(first)
	require.True(t, ok)
	require.Equal(t, storage.ReportFailed, r.Status)
	require.Equal(t, "invalid fees", r.Error)
}
