package vault

import "errors"

var (
	ErrUnauthorized                        = errors.New("unauthorized")
	ErrInvalidAmount                       = errors.New("invalid amount")
	ErrZeroAddress                         = errors.New("zero address")
	ErrInsufficientBalance                 = errors.New("insufficient balance")
	ErrInsufficientUnlocked                = errors.New("insufficient unlocked value")
	ErrExceedsTotalValue                   = errors.New("amount exceeds total value")
	ErrLockedCannotDecreaseOutsideOfReport = errors.New("locked cannot decrease outside of report")
	ErrLockedExceedsTotalValue             = errors.New("locked exceeds total value")
	ErrTransferFailed                      = errors.New("transfer failed")
	ErrBeaconChainDepositsPaused           = errors.New("beacon chain deposits paused")
	ErrBeaconChainDepositsNotPaused        = errors.New("beacon chain deposits not paused")
	ErrInsufficientWithdrawalFee           = errors.New("insufficient validator withdrawal fee")
	ErrInvalidPubkey                       = errors.New("invalid validator pubkey")
	ErrVaultHubAlreadyAttached             = errors.New("vault hub already attached")
	ErrVaultHubAlreadyDetached             = errors.New("vault hub already detached")
	ErrVaultHealthy                        = errors.New("vault is healthy")
	// ErrReentrantCall is returned to calls made from within one of the
	// vault's own outbound transfers, see InTransfer.
	ErrReentrantCall = errors.New("reentrant call")
)
