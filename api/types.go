package api

import (
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/storage"
)

type ConnectParams struct {
	ShareLimit           *common.BigInt `json:"share_limit"`
	ReserveRatioBP       uint64         `json:"reserve_ratio_bp"`
	RebalanceThresholdBP uint64         `json:"rebalance_threshold_bp"`
	TreasuryFeeBP        uint64         `json:"treasury_fee_bp"`
}

func (p ConnectParams) params() hub.Params {
	out := hub.Params{
		ReserveRatioBP:       p.ReserveRatioBP,
		RebalanceThresholdBP: p.RebalanceThresholdBP,
		TreasuryFeeBP:        p.TreasuryFeeBP,
	}
	if p.ShareLimit != nil {
		out.ShareLimit = p.ShareLimit.Big()
	}
	return out
}

type AmountRequest struct {
	Amount *common.BigInt `json:"amount"`
}

type TransferRequest struct {
	Recipient ethCommon.Address `json:"recipient"`
	Amount    *common.BigInt    `json:"amount"`
}

type SharesRequest struct {
	Recipient ethCommon.Address `json:"recipient,omitempty"`
	Shares    *common.BigInt    `json:"shares"`
}

type ValidatorWithdrawalRequest struct {
	Pubkeys []hexutil.Bytes `json:"pubkeys"`
	Fee     *common.BigInt  `json:"fee"`
}

type VaultCreated struct {
	Vault ethCommon.Address `json:"vault"`
	Owner ethCommon.Address `json:"owner"`
}

type Withdrawable struct {
	Vault        ethCommon.Address `json:"vault"`
	Withdrawable common.BigInt     `json:"withdrawable"`
}

type Health struct {
	Vault   ethCommon.Address `json:"vault"`
	Healthy bool              `json:"healthy"`
}

type Obligations struct {
	Vault      ethCommon.Address `json:"vault"`
	Redemption common.BigInt     `json:"redemption"`
	Fees       common.BigInt     `json:"fees"`
}

type ReportAccepted struct {
	Hash   ethCommon.Hash `json:"hash"`
	Queued bool           `json:"queued"`
	ID     int64          `json:"id,omitempty"`
}

type OracleState struct {
	TotalPooled common.BigInt `json:"total_pooled"`
	TotalShares common.BigInt `json:"total_shares"`
	ShareRate   string        `json:"share_rate"`
}

type EventList struct {
	Events []storage.JournaledEvent `json:"events"`
	// Next is the cursor for the following page.
	Next uint64 `json:"next"`
}
