package hub

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/events"
)

func TestConnectionStateTransitions(t *testing.T) {
	require.True(t, Disconnected.CanTransitionTo(Connected))
	require.True(t, Connected.CanTransitionTo(PendingDisconnect))
	require.True(t, PendingDisconnect.CanTransitionTo(Disconnected))
	require.True(t, Connected.CanTransitionTo(Connected))

	require.False(t, Disconnected.CanTransitionTo(PendingDisconnect))
	require.False(t, Connected.CanTransitionTo(Disconnected))
	require.False(t, PendingDisconnect.CanTransitionTo(Connected))

	text, err := PendingDisconnect.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "pending_disconnect", string(text))
	require.Equal(t, "ConnectionState(9)", ConnectionState(9).String())
}

func TestCounter(t *testing.T) {
	var c Counter
	require.Zero(t, c.Value().Sign())

	c, err := c.Advance(big.NewInt(5))
	require.NoError(t, err)
	_, err = c.Advance(big.NewInt(4))
	require.ErrorIs(t, err, ErrCounterDecrease)

	c, err = c.Add(big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, "8", c.String())
	_, err = c.Add(big.NewInt(-1))
	require.ErrorIs(t, err, ErrCounterDecrease)

	// Values handed out are copies.
	c.Value().SetInt64(100)
	require.Equal(t, int64(8), c.Value().Int64())

	_, err = NewCounter(big.NewInt(-1))
	require.ErrorIs(t, err, ErrCounterDecrease)
}

func TestParamsValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		p     Params
		valid bool
	}{
		{"zero", Params{ShareLimit: new(big.Int)}, true},
		{"typical", Params{ShareLimit: big.NewInt(10), ReserveRatioBP: 2000, RebalanceThresholdBP: 1000, TreasuryFeeBP: 500}, true},
		{"threshold equals ratio", Params{ShareLimit: big.NewInt(10), ReserveRatioBP: 2000, RebalanceThresholdBP: 2000}, true},
		{"missing limit", Params{}, false},
		{"negative limit", Params{ShareLimit: big.NewInt(-1)}, false},
		{"full reserve", Params{ShareLimit: big.NewInt(1), ReserveRatioBP: TotalBasisPoints}, false},
		{"threshold above ratio", Params{ShareLimit: big.NewInt(1), ReserveRatioBP: 100, RebalanceThresholdBP: 200}, false},
		{"fee above 100%", Params{ShareLimit: big.NewInt(1), TreasuryFeeBP: TotalBasisPoints + 1}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidParameters)
			}
		})
	}
}

func TestLockFor(t *testing.T) {
	require.Equal(t, int64(10), lockFor(big.NewInt(8), 2000).Int64())
	require.Equal(t, int64(2), lockFor(big.NewInt(2), 0).Int64())
	// ceil(1 * 10000 / 7000)
	require.Equal(t, int64(2), lockFor(big.NewInt(1), 3000).Int64())
	require.Equal(t, int64(0), lockFor(new(big.Int), 5000).Int64())
}

func TestRolePolicy(t *testing.T) {
	a := ethCommon.HexToAddress("0x01")
	b := ethCommon.HexToAddress("0x02")
	p := NewRolePolicy(map[Capability][]ethCommon.Address{
		CapSubmitReport:   {a},
		CapConnectVault:   {a, b},
		CapForceRebalance: nil,
	})
	ctx := context.Background()
	require.True(t, p.Allowed(ctx, a, CapSubmitReport))
	require.False(t, p.Allowed(ctx, b, CapSubmitReport))
	require.True(t, p.Allowed(ctx, b, CapConnectVault))
	require.False(t, p.Allowed(ctx, a, CapForceRebalance))
	require.False(t, p.Allowed(ctx, a, CapUpdateConnection))
	require.True(t, AllowAll{}.Allowed(ctx, b, CapForceRebalance))
}

func TestErrorFormatting(t *testing.T) {
	addr := ethCommon.HexToAddress("0x00000000000000000000000000000000000000ff")
	err := newError("ingest_report", addr, ErrInvalidFees, "old", big.NewInt(2), "new", big.NewInt(1))
	require.Equal(t, "ingest_report "+addr.Hex()+": invalid fees (new=1, old=2)", err.Error())
	require.ErrorIs(t, err, ErrInvalidFees)

	cause := fmt.Errorf("%w: balance 0", ErrTransferFailed)
	wrapped := wrapError("settle", addr, cause)
	var herr *Error
	require.True(t, errors.As(wrapped, &herr))
	require.Equal(t, ErrTransferFailed, herr.Kind)
	require.ErrorIs(t, wrapped, ErrTransferFailed)
	require.Contains(t, wrapped.Error(), "balance 0")

	// Already classified errors pass through.
	require.Same(t, err, wrapError("other", addr, err))
	require.NoError(t, wrapError("other", addr, nil))
}

func TestConcurrentOperations(t *testing.T) {
	f := newFixture(t, new(big.Int))
	a := f.connect(ether(100), defaultParams())
	b := f.connect(ether(100), defaultParams())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for _, v := range []ethCommon.Address{a.Address(), b.Address()} {
			wg.Add(1)
			go func(addr ethCommon.Address) {
				defer wg.Done()
				require.NoError(t, f.hub.MintShares(f.ctx, owner, addr, owner, ether(1)))
			}(v)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.hub.Record(a.Address())
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	requireAmount(t, ether(n), f.record(a).LiabilityShares)
	requireAmount(t, ether(n), f.record(b).LiabilityShares)
	requireAmount(t, ether(n), a.Locked())
	require.Len(t, f.recorder.OfKind(events.KindMintedSharesOnVault), 2*n)
}
