package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/cache/kvstore"
	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/config"
	"github.com/oasisprotocol/vaulthub/custody"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/ingestion"
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
	stranger   = ethCommon.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func amount(v *big.Int) *common.BigInt {
	b := common.BigIntFrom(v)
	return &b
}

type fixture struct {
	t      *testing.T
	router http.Handler
	bank   *custody.Bank
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := log.NewDiscardLogger("api_test")
	store := memory.New()
	journal, err := ingestion.NewJournal(ctx, store, logger)
	require.NoError(t, err)

	policy := hub.NewRolePolicy(map[hub.Capability][]ethCommon.Address{
		hub.CapConnectVault:   {governance},
		hub.CapSubmitReport:   {reporter},
		hub.CapForceRebalance: {governance},
	})
	pool := oracle.NewParity()
	h, err := hub.New(hub.Config{
		Address:                hubAddr,
		Treasury:               treasury,
		DepositsPauseThreshold: ether(1),
		MinimalReserve:         new(big.Int),
	}, pool, policy, journal, logger)
	require.NoError(t, err)

	bank := custody.NewBank()
	bank.Credit(owner, ether(100))
	vaults := vault.NewRegistry(factory, beacon, bank, custody.FixedQuoter{Fee: big.NewInt(1)}, journal, logger)
	journal.SetSnapshotter(ingestion.LedgerSnapshotter{Hub: h, Vaults: vaults})

	kv, err := kvstore.OpenKVStore(logger, t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	services := Services{
		Hub:      h,
		Vaults:   vaults,
		Oracle:   pool,
		Ingester: ingestion.NewIngester(h, policy, ingestion.NewArchive(kv), store, logger),
		Store:    store,
	}
	return &fixture{t: t, router: NewRouter(services, config.ServerConfig{Endpoint: "localhost:0"}, logger), bank: bank}
}

func (f *fixture) do(method, path string, caller *ethCommon.Address, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// connected creates a vault through the API and connects it with 2 ether.
func (f *fixture) connected() ethCommon.Address {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/vaults", &owner, nil)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[VaultCreated](f.t, rec)
	require.Equal(f.t, owner, created.Owner)
	base := "/v1/vaults/" + created.Vault.Hex()

	rec = f.do(http.MethodPost, base+"/attach", &owner, nil)
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, base+"/connect", &governance, ConnectParams{ShareLimit: amount(ether(10)), TreasuryFeeBP: 500})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, base+"/fund", &owner, AmountRequest{Amount: amount(ether(2))})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	return created.Vault
}

func TestVaultLifecycle(t *testing.T) {
	f := newFixture(t)
	v := f.connected()
	base := "/v1/vaults/" + v.Hex()

	sub := ingestion.Submission{
		Vault:          v,
		TotalValue:     amount(ether(2)),
		InOutDelta:     amount(ether(2)),
		Locked:         amount(new(big.Int)),
		CumulativeFees: amount(ether(1)),
	}
	rec := f.do(http.MethodPost, "/v1/reports", &reporter, sub)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decodeBody[ReportAccepted](t, rec)
	require.False(t, accepted.Queued)
	require.Zero(t, ether(1).Cmp(f.bank.BalanceOf(treasury)))

	rec = f.do(http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[storage.VaultSnapshot](t, rec)
	require.Equal(t, "connected", snap.State)
	require.Zero(t, ether(1).Cmp(snap.SettledFees.Big()))
	require.Zero(t, ether(1).Cmp(snap.Balance.Big()))

	rec = f.do(http.MethodGet, base+"/reports/latest", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, accepted.Hash, decodeBody[ingestion.ArchivedReport](t, rec).Hash)

	rec = f.do(http.MethodGet, base+"/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeBody[Health](t, rec).Healthy)

	rec = f.do(http.MethodGet, base+"/withdrawable", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, ether(1).Cmp(decodeBody[Withdrawable](t, rec).Withdrawable.Big()))

	rec = f.do(http.MethodGet, base+"/obligations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, decodeBody[Obligations](t, rec).Fees.Big().Sign())

	rec = f.do(http.MethodGet, "/v1/events?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[EventList](t, rec)
	require.Len(t, page.Events, 2)
	require.Equal(t, uint64(2), page.Next)
	rec = f.do(http.MethodGet, fmt.Sprintf("/v1/events?after=%d", page.Next), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeBody[EventList](t, rec).Events)

	rec = f.do(http.MethodGet, "/v1/vaults", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]storage.VaultSnapshot](t, rec), 1)

	rec = f.do(http.MethodGet, "/v1/oracle", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", decodeBody[OracleState](t, rec).ShareRate)

	rec = f.do(http.MethodPost, base+"/disconnect", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "pending_disconnect", decodeBody[storage.VaultSnapshot](t, rec).State)
	rec = f.do(http.MethodPost, base+"/finalize_disconnect", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "disconnected", decodeBody[storage.VaultSnapshot](t, rec).State)
}

func TestQueuedReport(t *testing.T) {
	f := newFixture(t)
	v := f.connected()
	sub := ingestion.Submission{
		Vault:          v,
		TotalValue:     amount(ether(2)),
		InOutDelta:     amount(ether(2)),
		Locked:         amount(new(big.Int)),
		CumulativeFees: amount(new(big.Int)),
		Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
	}
	rec := f.do(http.MethodPost, "/v1/reports?queue=true", &reporter, sub)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decodeBody[ReportAccepted](t, rec)
	require.True(t, accepted.Queued)
	require.Equal(t, int64(1), accepted.ID)

	rec = f.do(http.MethodPost, "/v1/reports?queue=true", &reporter, sub)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Without a timestamp, identical submissions are separate reports.
	sub.Timestamp = time.Time{}
	for id := int64(2); id <= 3; id++ {
		rec = f.do(http.MethodPost, "/v1/reports?queue=true", &reporter, sub)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		require.Equal(t, id, decodeBody[ReportAccepted](t, rec).ID)
	}
}

func TestErrorResponses(t *testing.T) {
	f := newFixture(t)
	v := f.connected()
	base := "/v1/vaults/" + v.Hex()

	rec := f.do(http.MethodPost, base+"/fund", nil, AmountRequest{Amount: amount(ether(1))})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody[HumanReadableError](t, rec).Msg, CallerHeader)

	rec = f.do(http.MethodPost, base+"/fund", &owner, AmountRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, base+"/force_rebalance", &stranger, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "unauthorized", decodeBody[HumanReadableError](t, rec).Kind)

	rec = f.do(http.MethodGet, "/v1/vaults/0x00000000000000000000000000000000000000ff", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodGet, "/v1/vaults/0x00000000000000000000000000000000000000ff/health", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodGet, "/v1/vaults/not-an-address", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, base+"/mint", &owner, SharesRequest{Recipient: owner, Shares: amount(ether(50))})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decodeBody[HumanReadableError](t, rec)
	require.NotEmpty(t, body.Kind)

	rec = f.do(http.MethodPost, base+"/burn", &owner, SharesRequest{Shares: amount(ether(1))})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.Equal(t, hub.ErrInsufficientShares.Error(), decodeBody[HumanReadableError](t, rec).Kind)

	rec = f.do(http.MethodGet, base+"/reports/latest", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/v1/nowhere", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestHttpCodeForError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: x", ErrBadRequest), http.StatusBadRequest},
		{ErrMissingCaller, http.StatusBadRequest},
		{fmt.Errorf("op: %w", hub.ErrUnauthorized), http.StatusForbidden},
		{fmt.Errorf("x: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", ingestion.ErrDuplicateReport), http.StatusConflict},
		{fmt.Errorf("x: %w", vault.ErrVaultHubAlreadyAttached), http.StatusConflict},
		{fmt.Errorf("x: %w", vault.ErrInsufficientBalance), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		require.Equal(t, tc.code, HttpCodeForError(tc.err), tc.err.Error())
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	require.Equal(t, "/v1/vaults/*/health", normalizeEndpoint("/v1/vaults/0x00000000000000000000000000000000000000ff/health"))
	require.Equal(t, "/v1/events", normalizeEndpoint("/v1/events"))
	require.Equal(t, "/v1/reports/*", normalizeEndpoint("/v1/reports/42"))
}
