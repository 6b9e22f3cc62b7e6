package custody

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	alice = ethCommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = ethCommon.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	b.Credit(alice, big.NewInt(10))

	require.NoError(t, b.Transfer(ctx, alice, bob, big.NewInt(4)))
	require.Equal(t, int64(6), b.BalanceOf(alice).Int64())
	require.Equal(t, int64(4), b.BalanceOf(bob).Int64())

	err := b.Transfer(ctx, alice, bob, big.NewInt(7))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, int64(6), b.BalanceOf(alice).Int64())

	require.NoError(t, b.Transfer(ctx, alice, bob, big.NewInt(0)))
	require.Error(t, b.Transfer(ctx, alice, bob, big.NewInt(-1)))
}

func TestTransferRejectedByHook(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	b.Credit(alice, big.NewInt(10))
	b.SetReceiveHook(bob, func(context.Context, ethCommon.Address, *big.Int) error {
		return errors.New("no thanks")
	})

	err := b.Transfer(ctx, alice, bob, big.NewInt(1))
	require.ErrorIs(t, err, ErrRecipientRejected)
	require.Equal(t, int64(10), b.BalanceOf(alice).Int64())
	require.Equal(t, int64(0), b.BalanceOf(bob).Int64())

	b.SetReceiveHook(bob, nil)
	require.NoError(t, b.Transfer(ctx, alice, bob, big.NewInt(1)))
}

func TestHookDrainingSenderFailsTransfer(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	b.Credit(alice, big.NewInt(5))
	carol := ethCommon.HexToAddress("0x00000000000000000000000000000000000000c0")
	b.SetReceiveHook(bob, func(ctx context.Context, _ ethCommon.Address, _ *big.Int) error {
		return b.Transfer(ctx, alice, carol, big.NewInt(3))
	})

	err := b.Transfer(ctx, alice, bob, big.NewInt(5))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, int64(2), b.BalanceOf(alice).Int64())
	require.Equal(t, int64(3), b.BalanceOf(carol).Int64())
}

func TestFixedQuoter(t *testing.T) {
	fee, err := FixedQuoter{}.WithdrawalRequestFee(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), fee.Int64())

	q := FixedQuoter{Fee: big.NewInt(3)}
	fee, err = q.WithdrawalRequestFee(context.Background())
	require.NoError(t, err)
	fee.SetInt64(0)
	fee, _ = q.WithdrawalRequestFee(context.Background())
	require.Equal(t, int64(3), fee.Int64())
}
