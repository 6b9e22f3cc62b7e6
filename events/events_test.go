package events

import (
	"context"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/common"
)

var testVault = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestBufferFlushesOnlyOnCommit(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(0)

	var buf Buffer
	buf.Add(VaultDisconnectInitiated{Vault: testVault})
	buf.Discard()
	buf.Flush(ctx, rec)
	require.Empty(t, rec.Events())

	buf.Add(
		LidoFeesUpdated{Vault: testVault, Unsettled: common.NewBigInt(1)},
		BeaconChainDepositsPaused{Vault: testVault},
	)
	buf.Flush(ctx, rec)
	require.Len(t, rec.Events(), 2)
	require.Empty(t, buf.Events())
	require.Len(t, rec.OfKind(KindBeaconChainDepositsPaused), 1)
}

func TestRecorderCapacity(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(2)
	for i := 0; i < 5; i++ {
		rec.Emit(ctx, VaultFunded{Vault: testVault, Amount: common.NewBigInt(int64(i))})
	}
	envs := rec.Envelopes(0)
	require.Len(t, envs, 2)
	require.Equal(t, uint64(4), envs[0].Seq)
	require.Equal(t, uint64(5), envs[1].Seq)
	require.Len(t, rec.Envelopes(4), 1)
	require.NotEqual(t, envs[0].ID, envs[1].ID)
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	Multi{a, b, Nop{}}.Emit(context.Background(), VaultDisconnected{Vault: testVault})
	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	require.Equal(t, testVault, a.Events()[0].VaultAddress())
}
