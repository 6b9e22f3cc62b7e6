// Package events defines the ledger's observability surface: the events
// emitted by vaults and the hub, and the sinks that receive them.
package events

import (
	"context"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
)

// Kind names an event type.
type Kind string

const (
	KindVaultConnected             Kind = "VaultConnected"
	KindVaultConnectionUpdated     Kind = "VaultConnectionUpdated"
	KindVaultObligationsSettled    Kind = "VaultObligationsSettled"
	KindRedemptionSharesUpdated    Kind = "RedemptionSharesUpdated"
	KindLidoFeesUpdated            Kind = "LidoFeesUpdated"
	KindBeaconChainDepositsPaused  Kind = "BeaconChainDepositsPaused"
	KindBeaconChainDepositsResumed Kind = "BeaconChainDepositsResumed"
	KindVaultDisconnectInitiated   Kind = "VaultDisconnectInitiated"
	KindVaultDisconnected          Kind = "VaultDisconnected"
	KindMintedSharesOnVault        Kind = "MintedSharesOnVault"
	KindBurnedSharesOnVault        Kind = "BurnedSharesOnVault"
	KindVaultRebalanced            Kind = "VaultRebalanced"
	KindVaultReportApplied         Kind = "VaultReportApplied"

	KindVaultFunded                   Kind = "VaultFunded"
	KindVaultWithdrawn                Kind = "VaultWithdrawn"
	KindBeaconChainDeposited          Kind = "BeaconChainDeposited"
	KindValidatorWithdrawalsTriggered Kind = "ValidatorWithdrawalsTriggered"
	KindVaultHubAttached              Kind = "VaultHubAttached"
)

// Event is a single entry of the observability surface.
type Event interface {
	Kind() Kind
	VaultAddress() ethCommon.Address
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, evs ...Event)
}

// Nop is a sink that drops every event.
type Nop struct{}

func (Nop) Emit(context.Context, ...Event) {}

// Multi fans events out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, evs ...Event) {
	for _, s := range m {
		s.Emit(ctx, evs...)
	}
}

// Buffer stages events for the duration of one ledger call. Events only
// reach a sink through Flush, i.e. once the call has committed.
type Buffer struct {
	events []Event
}

// Add appends events to the buffer.
func (b *Buffer) Add(evs ...Event) {
	b.events = append(b.events, evs...)
}

// Events returns the staged events.
func (b *Buffer) Events() []Event {
	return b.events
}

// Flush emits all staged events to the sink and empties the buffer.
func (b *Buffer) Flush(ctx context.Context, sink Sink) {
	if len(b.events) == 0 {
		return
	}
	sink.Emit(ctx, b.events...)
	b.events = nil
}

// Discard drops all staged events.
func (b *Buffer) Discard() {
	b.events = nil
}

type VaultConnected struct {
	Vault                ethCommon.Address `json:"vault"`
	ShareLimit           common.BigInt     `json:"share_limit"`
	ReserveRatioBP       uint64            `json:"reserve_ratio_bp"`
	RebalanceThresholdBP uint64            `json:"rebalance_threshold_bp"`
	TreasuryFeeBP        uint64            `json:"treasury_fee_bp"`
}

type VaultConnectionUpdated struct {
	Vault                ethCommon.Address `json:"vault"`
	ShareLimit           common.BigInt     `json:"share_limit"`
	ReserveRatioBP       uint64            `json:"reserve_ratio_bp"`
	RebalanceThresholdBP uint64            `json:"rebalance_threshold_bp"`
	TreasuryFeeBP        uint64            `json:"treasury_fee_bp"`
}

type VaultObligationsSettled struct {
	Vault               ethCommon.Address `json:"vault"`
	RedemptionSettled   common.BigInt     `json:"redemption_settled"`
	FeesSettled         common.BigInt     `json:"fees_settled"`
	RedemptionRemaining common.BigInt     `json:"redemption_remaining"`
	FeesRemaining       common.BigInt     `json:"fees_remaining"`
	FeesSettledTotal    common.BigInt     `json:"fees_settled_total"`
}

type RedemptionSharesUpdated struct {
	Vault            ethCommon.Address `json:"vault"`
	RedemptionShares common.BigInt     `json:"redemption_shares"`
}

type LidoFeesUpdated struct {
	Vault     ethCommon.Address `json:"vault"`
	Unsettled common.BigInt     `json:"unsettled"`
	Settled   common.BigInt     `json:"settled"`
}

type BeaconChainDepositsPaused struct {
	Vault ethCommon.Address `json:"vault"`
}

type BeaconChainDepositsResumed struct {
	Vault ethCommon.Address `json:"vault"`
}

type VaultDisconnectInitiated struct {
	Vault ethCommon.Address `json:"vault"`
}

type VaultDisconnected struct {
	Vault ethCommon.Address `json:"vault"`
}

type MintedSharesOnVault struct {
	Vault     ethCommon.Address `json:"vault"`
	Recipient ethCommon.Address `json:"recipient"`
	Shares    common.BigInt     `json:"shares"`
	Locked    common.BigInt     `json:"locked"`
}

type BurnedSharesOnVault struct {
	Vault  ethCommon.Address `json:"vault"`
	Shares common.BigInt     `json:"shares"`
}

type VaultRebalanced struct {
	Vault  ethCommon.Address `json:"vault"`
	Shares common.BigInt     `json:"shares"`
	Value  common.BigInt     `json:"value"`
	Cause  string            `json:"cause"`
}

type VaultReportApplied struct {
	Vault          ethCommon.Address `json:"vault"`
	TotalValue     common.BigInt     `json:"total_value"`
	InOutDelta     common.BigInt     `json:"in_out_delta"`
	Locked         common.BigInt     `json:"locked"`
	CumulativeFees common.BigInt     `json:"cumulative_fees"`
}

type VaultFunded struct {
	Vault  ethCommon.Address `json:"vault"`
	Sender ethCommon.Address `json:"sender"`
	Amount common.BigInt     `json:"amount"`
}

type VaultWithdrawn struct {
	Vault     ethCommon.Address `json:"vault"`
	Recipient ethCommon.Address `json:"recipient"`
	Amount    common.BigInt     `json:"amount"`
}

type BeaconChainDeposited struct {
	Vault  ethCommon.Address `json:"vault"`
	Amount common.BigInt     `json:"amount"`
}

type ValidatorWithdrawalsTriggered struct {
	Vault      ethCommon.Address `json:"vault"`
	Validators int               `json:"validators"`
	Fee        common.BigInt     `json:"fee"`
}

type VaultHubAttached struct {
	Vault ethCommon.Address `json:"vault"`
	Hub   ethCommon.Address `json:"hub"`
}

func (e VaultConnected) Kind() Kind                { return KindVaultConnected }
func (e VaultConnectionUpdated) Kind() Kind        { return KindVaultConnectionUpdated }
func (e VaultObligationsSettled) Kind() Kind       { return KindVaultObligationsSettled }
func (e RedemptionSharesUpdated) Kind() Kind       { return KindRedemptionSharesUpdated }
func (e LidoFeesUpdated) Kind() Kind               { return KindLidoFeesUpdated }
func (e BeaconChainDepositsPaused) Kind() Kind     { return KindBeaconChainDepositsPaused }
func (e BeaconChainDepositsResumed) Kind() Kind    { return KindBeaconChainDepositsResumed }
func (e VaultDisconnectInitiated) Kind() Kind      { return KindVaultDisconnectInitiated }
func (e VaultDisconnected) Kind() Kind             { return KindVaultDisconnected }
func (e MintedSharesOnVault) Kind() Kind           { return KindMintedSharesOnVault }
func (e BurnedSharesOnVault) Kind() Kind           { return KindBurnedSharesOnVault }
func (e VaultRebalanced) Kind() Kind               { return KindVaultRebalanced }
func (e VaultReportApplied) Kind() Kind            { return KindVaultReportApplied }
func (e VaultFunded) Kind() Kind                   { return KindVaultFunded }
func (e VaultWithdrawn) Kind() Kind                { return KindVaultWithdrawn }
func (e BeaconChainDeposited) Kind() Kind          { return KindBeaconChainDeposited }
func (e ValidatorWithdrawalsTriggered) Kind() Kind { return KindValidatorWithdrawalsTriggered }
func (e VaultHubAttached) Kind() Kind              { return KindVaultHubAttached }

func (e VaultConnected) VaultAddress() ethCommon.Address                { return e.Vault }
func (e VaultConnectionUpdated) VaultAddress() ethCommon.Address        { return e.Vault }
func (e VaultObligationsSettled) VaultAddress() ethCommon.Address       { return e.Vault }
func (e RedemptionSharesUpdated) VaultAddress() ethCommon.Address       { return e.Vault }
func (e LidoFeesUpdated) VaultAddress() ethCommon.Address               { return e.Vault }
func (e BeaconChainDepositsPaused) VaultAddress() ethCommon.Address     { return e.Vault }
func (e BeaconChainDepositsResumed) VaultAddress() ethCommon.Address    { return e.Vault }
func (e VaultDisconnectInitiated) VaultAddress() ethCommon.Address      { return e.Vault }
func (e VaultDisconnected) VaultAddress() ethCommon.Address             { return e.Vault }
func (e MintedSharesOnVault) VaultAddress() ethCommon.Address           { return e.Vault }
func (e BurnedSharesOnVault) VaultAddress() ethCommon.Address           { return e.Vault }
func (e VaultRebalanced) VaultAddress() ethCommon.Address               { return e.Vault }
func (e VaultReportApplied) VaultAddress() ethCommon.Address            { return e.Vault }
func (e VaultFunded) VaultAddress() ethCommon.Address                   { return e.Vault }
func (e VaultWithdrawn) VaultAddress() ethCommon.Address                { return e.Vault }
func (e BeaconChainDeposited) VaultAddress() ethCommon.Address          { return e.Vault }
func (e ValidatorWithdrawalsTriggered) VaultAddress() ethCommon.Address { return e.Vault }
func (e VaultHubAttached) VaultAddress() ethCommon.Address              { return e.Vault }
