package vault

import (
	"context"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

type transferKey struct{}

// transferFrame marks a vault whose outbound transfer is in progress on
// the context chain.
type transferFrame struct {
	vault  ethCommon.Address
	parent *transferFrame
}

// withTransfer returns the context handed to custody while vault
// transfers. Recipient hooks receive it and must pass it on when they call
// back into the ledger.
func withTransfer(ctx context.Context, vault ethCommon.Address) context.Context {
	parent, _ := ctx.Value(transferKey{}).(*transferFrame)
	return context.WithValue(ctx, transferKey{}, &transferFrame{vault: vault, parent: parent})
}

// InTransfer reports whether ctx was derived from an outbound transfer of
// vault, i.e. whether a call made with ctx is nested inside that transfer.
func InTransfer(ctx context.Context, vault ethCommon.Address) bool {
	f, _ := ctx.Value(transferKey{}).(*transferFrame)
	for ; f != nil; f = f.parent {
		if f.vault == vault {
			return true
		}
	}
	return false
}

// TransferInProgress reports whether ctx was derived from any vault's
// outbound transfer.
func TransferInProgress(ctx context.Context) bool {
	f, _ := ctx.Value(transferKey{}).(*transferFrame)
	return f != nil
}
