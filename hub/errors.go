package hub

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/vault"
)

// Error kinds. Use errors.Is to match them.
var (
	ErrInvalidFees                 = errors.New("invalid fees")
	ErrInvalidReport               = errors.New("invalid report")
	ErrInvalidParameters           = errors.New("invalid connection parameters")
	ErrRedemptionSharesNotSet      = errors.New("redemption shares not set")
	ErrExceedsMintingCapacity      = errors.New("exceeds minting capacity")
	ErrInsufficientValuationToMint = errors.New("insufficient valuation to mint")
	ErrShareLimitExceeded          = errors.New("share limit exceeded")
	ErrInsufficientShares          = errors.New("insufficient liability shares")
	ErrZeroBalance                 = errors.New("zero balance")
	ErrNoRebalanceShortfall        = errors.New("no rebalance shortfall")
	ErrVaultNotConnected           = errors.New("vault not connected")
	ErrVaultAlreadyConnected       = errors.New("vault already connected")
	ErrVaultPendingDisconnect      = errors.New("vault pending disconnect")
	ErrVaultNotPendingDisconnect   = errors.New("vault not pending disconnect")
	ErrVaultHubNotAttached         = errors.New("vault not attached to this hub")
	ErrVaultUnhealthy              = errors.New("vault unhealthy")
	ErrInsufficientReserve         = errors.New("total value below minimal reserve")
	ErrLiabilityOutstanding        = errors.New("liability shares outstanding")
	ErrObligationsOutstanding      = errors.New("obligations outstanding")
	ErrCounterDecrease             = errors.New("monotonic counter cannot decrease")
	ErrInvariantViolation          = errors.New("record invariant violation")

	ErrUnauthorized                        = vault.ErrUnauthorized
	ErrInvalidAmount                       = vault.ErrInvalidAmount
	ErrLockedCannotDecreaseOutsideOfReport = vault.ErrLockedCannotDecreaseOutsideOfReport
	ErrTransferFailed                      = vault.ErrTransferFailed
	ErrVaultHubAlreadyDetached             = vault.ErrVaultHubAlreadyDetached
	ErrVaultHealthy                        = vault.ErrVaultHealthy
	ErrReentrantCall                       = vault.ErrReentrantCall
)

// kinds lists every kind an Error may carry, most specific first.
var kinds = []error{
	ErrInvalidFees,
	ErrInvalidReport,
	ErrInvalidParameters,
	ErrRedemptionSharesNotSet,
	ErrExceedsMintingCapacity,
	ErrInsufficientValuationToMint,
	ErrShareLimitExceeded,
	ErrInsufficientShares,
	ErrZeroBalance,
	ErrNoRebalanceShortfall,
	ErrVaultNotConnected,
	ErrVaultAlreadyConnected,
	ErrVaultPendingDisconnect,
	ErrVaultNotPendingDisconnect,
	ErrVaultHubNotAttached,
	ErrVaultUnhealthy,
	ErrInsufficientReserve,
	ErrLiabilityOutstanding,
	ErrObligationsOutstanding,
	ErrCounterDecrease,
	ErrInvariantViolation,
	ErrUnauthorized,
	ErrInvalidAmount,
	ErrLockedCannotDecreaseOutsideOfReport,
	ErrTransferFailed,
	ErrVaultHubAlreadyDetached,
	ErrVaultHealthy,
	ErrReentrantCall,
	vault.ErrZeroAddress,
	vault.ErrInsufficientBalance,
	vault.ErrInsufficientUnlocked,
	vault.ErrExceedsTotalValue,
	vault.ErrLockedExceedsTotalValue,
	vault.ErrBeaconChainDepositsPaused,
	vault.ErrBeaconChainDepositsNotPaused,
	vault.ErrInsufficientWithdrawalFee,
	vault.ErrInvalidPubkey,
	vault.ErrVaultHubAlreadyAttached,
}

// KindOf returns the kind err matches, or nil for errors that are not
// ledger or vault rule violations.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Error is a failed ledger operation. Fields carries the offending values
// rendered as strings.
type Error struct {
	Kind   error
	Op     string
	Vault  ethCommon.Address
	Fields map[string]string
	// Err is the underlying failure when it carries more detail than Kind.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Op, e.Vault.Hex(), e.Kind)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil && e.Err != e.Kind {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil && e.Err != e.Kind {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// newError builds an Error from alternating field names and values.
func newError(op string, addr ethCommon.Address, kind error, kv ...interface{}) *Error {
	e := &Error{Kind: kind, Op: op, Vault: addr}
	if len(kv) > 0 {
		e.Fields = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Fields[fmt.Sprint(kv[i])] = fmt.Sprint(kv[i+1])
		}
	}
	return e
}

// wrapError turns err into an *Error for op, classifying it by kind.
func wrapError(op string, addr ethCommon.Address, err error) error {
	if err == nil {
		return nil
	}
	var herr *Error
	if errors.As(err, &herr) {
		return herr
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return &Error{Kind: k, Op: op, Vault: addr, Err: err}
		}
	}
	return &Error{Kind: err, Op: op, Vault: addr}
}
