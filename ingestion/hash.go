package ingestion

import (
	"encoding/binary"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oasisprotocol/vaulthub/hub"
)

// word encodes v as a 32-byte two's complement word.
func word(v *big.Int) []byte {
	return math.U256Bytes(new(big.Int).Set(v))
}

// ReportHash identifies a report by its content: the keccak256 of the
// vault address, the four amounts as 256-bit words and the timestamp in
// unix nanoseconds. The report must be valid, which keeps every amount
// within a word.
func ReportHash(r hub.Report) ethCommon.Hash {
	var ts [8]byte
	if !r.Timestamp.IsZero() {
		binary.BigEndian.PutUint64(ts[:], uint64(r.Timestamp.UnixNano()))
	}
	return crypto.Keccak256Hash(
		r.Vault.Bytes(),
		word(r.TotalValue),
		word(r.InOutDelta),
		word(r.Locked),
		word(r.CumulativeFees),
		ts[:],
	)
}
