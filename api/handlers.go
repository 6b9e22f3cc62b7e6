package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/ingestion"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/vault"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if HttpCodeForError(err) >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	HumanReadableJsonErrorHandler(w, r, err)
}

func callerFrom(r *http.Request) (ethCommon.Address, error) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		return ethCommon.Address{}, ErrMissingCaller
	}
	addr, err := common.ParseAddress(raw)
	if err != nil {
		return ethCommon.Address{}, fmt.Errorf("%w: %s: %v", ErrBadRequest, CallerHeader, err)
	}
	return addr, nil
}

func vaultAddress(r *http.Request) (ethCommon.Address, error) {
	addr, err := common.ParseAddress(chi.URLParam(r, "vault"))
	if err != nil {
		return ethCommon.Address{}, fmt.Errorf("%w: vault: %v", ErrBadRequest, err)
	}
	return addr, nil
}

func (h *Handler) vaultFrom(r *http.Request) (*vault.Vault, error) {
	addr, err := vaultAddress(r)
	if err != nil {
		return nil, err
	}
	v, ok := h.Vaults.Get(addr)
	if !ok {
		return nil, fmt.Errorf("vault %s: %w", addr.Hex(), ErrNotFound)
	}
	return v, nil
}

// decode reads the JSON body into dst. An empty body leaves dst as is.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body: %v", ErrBadRequest, err)
	}
	return nil
}

func required(v *common.BigInt, name string) (*big.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrBadRequest, name)
	}
	return v.Big(), nil
}

// mutation handles a POST on a vault: it resolves the caller and the
// vault, runs op and renders the resulting snapshot.
func (h *Handler) mutation(w http.ResponseWriter, r *http.Request, op func(caller ethCommon.Address, v *vault.Vault) error) {
	caller, err := callerFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.vaultFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := op(caller, v); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, _ := h.snapshots.Snapshot(v.Address())
	renderJSON(w, http.StatusOK, snap)
}

func (h *Handler) createVault(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.Vaults.Create(caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, VaultCreated{Vault: v.Address(), Owner: v.Owner()})
}

func (h *Handler) attach(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		return v.AttachHub(r.Context(), caller, h.Hub.Address())
	})
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var p ConnectParams
		if err := decode(r, &p); err != nil {
			return err
		}
		return h.Hub.ConnectVault(r.Context(), caller, v, p.params())
	})
}

func (h *Handler) updateConnection(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var p ConnectParams
		if err := decode(r, &p); err != nil {
			return err
		}
		return h.Hub.UpdateConnection(r.Context(), caller, v.Address(), p.params())
	})
}

func (h *Handler) fund(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var req AmountRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		amount, err := required(req.Amount, "amount")
		if err != nil {
			return err
		}
		return v.Fund(r.Context(), caller, amount)
	})
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var req TransferRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		amount, err := required(req.Amount, "amount")
		if err != nil {
			return err
		}
		return v.Withdraw(r.Context(), caller, req.Recipient, amount)
	})
}

func (h *Handler) depositToBeaconChain(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var req AmountRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		amount, err := required(req.Amount, "amount")
		if err != nil {
			return err
		}
		return v.DepositToBeaconChain(r.Context(), caller, amount)
	})
}

func (h *Handler) triggerValidatorWithdrawals(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var req ValidatorWithdrawalRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		fee, err := required(req.Fee, "fee")
		if err != nil {
			return err
		}
		pubkeys := make([][]byte, 0, len(req.Pubkeys))
		for _, pk := range req.Pubkeys {
			pubkeys = append(pubkeys, pk)
		}
		return v.TriggerValidatorWithdrawals(r.Context(), caller, pubkeys, fee)
	})
}

func (h *Handler) mint(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var req SharesRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		shares, err := required(req.Shares, "shares")
		if err != nil {
			return err
		}
		return h.Hub.MintShares(r.Context(), caller, v.Address(), req.Recipient, shares)
	})
}

func (h *Handler) burn(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var req SharesRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		shares, err := required(req.Shares, "shares")
		if err != nil {
			return err
		}
		return h.Hub.BurnShares(r.Context(), caller, v.Address(), shares)
	})
}

func (h *Handler) rebalance(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var req SharesRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		shares, err := required(req.Shares, "shares")
		if err != nil {
			return err
		}
		return h.Hub.Rebalance(r.Context(), caller, v.Address(), shares)
	})
}

func (h *Handler) forceRebalance(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		return h.Hub.ForceRebalance(r.Context(), caller, v.Address())
	})
}

func (h *Handler) setRedemption(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		var req SharesRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		shares, err := required(req.Shares, "shares")
		if err != nil {
			return err
		}
		return h.Hub.SetVaultRedemptionShares(r.Context(), caller, v.Address(), shares)
	})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(caller ethCommon.Address, v *vault.Vault) error {
		return h.Hub.VoluntaryDisconnect(r.Context(), caller, v.Address())
	})
}

// settle is permissionless and needs no caller.
func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	h.permissionless(w, r, h.Hub.SettleVaultObligations)
}

func (h *Handler) finalizeDisconnect(w http.ResponseWriter, r *http.Request) {
	h.permissionless(w, r, h.Hub.FinalizeDisconnect)
}

func (h *Handler) permissionless(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, addr ethCommon.Address) error) {
	addr, err := vaultAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := op(r.Context(), addr); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, _ := h.snapshots.Snapshot(addr)
	renderJSON(w, http.StatusOK, snap)
}

// submitReport applies a report, or queues it with ?queue=true.
func (h *Handler) submitReport(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var sub ingestion.Submission
	if err := decode(r, &sub); err != nil {
		h.fail(w, r, err)
		return
	}
	queue, _ := strconv.ParseBool(r.URL.Query().Get("queue"))
	if queue {
		id, hash, err := h.Ingester.Enqueue(r.Context(), caller, sub.Report())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		renderJSON(w, http.StatusAccepted, ReportAccepted{Hash: hash, Queued: true, ID: id})
		return
	}
	hash, err := h.Ingester.Submit(r.Context(), caller, sub.Report())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, ReportAccepted{Hash: hash})
}

func (h *Handler) listVaults(w http.ResponseWriter, r *http.Request) {
	out := []storage.VaultSnapshot{}
	for _, v := range h.Vaults.List() {
		if snap, ok := h.snapshots.Snapshot(v.Address()); ok {
			out = append(out, snap)
		}
	}
	renderJSON(w, http.StatusOK, out)
}

func (h *Handler) getVault(w http.ResponseWriter, r *http.Request) {
	v, err := h.vaultFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap, _ := h.snapshots.Snapshot(v.Address())
	renderJSON(w, http.StatusOK, snap)
}

func (h *Handler) getWithdrawable(w http.ResponseWriter, r *http.Request) {
	addr, err := vaultAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := h.Hub.WithdrawableValue(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, Withdrawable{Vault: addr, Withdrawable: common.BigIntFrom(amount)})
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	addr, err := vaultAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	healthy, err := h.Hub.IsVaultHealthy(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, Health{Vault: addr, Healthy: healthy})
}

func (h *Handler) getObligations(w http.ResponseWriter, r *http.Request) {
	addr, err := vaultAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Hub.Obligations(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, Obligations{
		Vault:      addr,
		Redemption: common.BigIntFrom(o.Redemption),
		Fees:       common.BigIntFrom(o.Fees),
	})
}

func (h *Handler) getLatestReport(w http.ResponseWriter, r *http.Request) {
	addr, err := vaultAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.Ingester.Latest(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, report)
}

func uintParam(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadRequest, name, err)
	}
	return v, nil
}

// listEvents pages through the journal with ?after=<seq>&limit=<n>.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	after, err := uintParam(r, "after", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := uintParam(r, "limit", defaultLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	evs, err := h.Store.Events(r.Context(), after, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	next := after
	if len(evs) > 0 {
		next = evs[len(evs)-1].Seq
	}
	renderJSON(w, http.StatusOK, EventList{Events: evs, Next: next})
}

func (h *Handler) getOracle(w http.ResponseWriter, r *http.Request) {
	pooled, shares := h.Oracle.Totals()
	rate, err := h.Oracle.ShareRate()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, OracleState{
		TotalPooled: common.BigIntFrom(pooled),
		TotalShares: common.BigIntFrom(shares),
		ShareRate:   rate.String(),
	})
}
