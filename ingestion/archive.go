package ingestion

import (
	"errors"
	"fmt"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/cache/kvstore"
	"github.com/oasisprotocol/vaulthub/common"
)

// ErrNotArchived is returned for vaults without an applied report.
var ErrNotArchived = errors.New("no archived report")

// ArchivedReport is an applied report as kept in the archive.
type ArchivedReport struct {
	Hash           ethCommon.Hash    `json:"hash"`
	Vault          ethCommon.Address `json:"vault"`
	TotalValue     common.BigInt     `json:"total_value"`
	InOutDelta     common.BigInt     `json:"in_out_delta"`
	Locked         common.BigInt     `json:"locked"`
	CumulativeFees common.BigInt     `json:"cumulative_fees"`
	Timestamp      time.Time         `json:"timestamp"`
	Submitter      ethCommon.Address `json:"submitter"`
	AppliedAt      time.Time         `json:"applied_at"`
}

// Archive records every applied report by hash, and the latest applied
// report of each vault.
type Archive struct {
	store kvstore.KVStore
}

func NewArchive(store kvstore.KVStore) *Archive {
	return &Archive{store: store}
}

func reportKey(hash ethCommon.Hash) kvstore.CacheKey {
	return kvstore.GenerateCacheKey("report", hash.Hex())
}

func latestKey(vault ethCommon.Address) kvstore.CacheKey {
	return kvstore.GenerateCacheKey("latest", vault.Hex())
}

// Has reports whether a report with this hash was applied.
func (a *Archive) Has(hash ethCommon.Hash) (bool, error) {
	return a.store.Has(reportKey(hash))
}

// Put archives an applied report.
func (a *Archive) Put(r ArchivedReport) error {
	if err := kvstore.PutTyped(a.store, reportKey(r.Hash), r); err != nil {
		return fmt.Errorf("archiving report %s: %w", r.Hash.Hex(), err)
	}
	if err := kvstore.PutTyped(a.store, latestKey(r.Vault), r.Hash); err != nil {
		return fmt.Errorf("archiving latest report of %s: %w", r.Vault.Hex(), err)
	}
	return nil
}

// Get returns the archived report with this hash.
func (a *Archive) Get(hash ethCommon.Hash) (*ArchivedReport, error) {
	var r ArchivedReport
	err := kvstore.GetTyped(a.store, reportKey(hash), &r)
	switch {
	case errors.Is(err, kvstore.ErrNoSuchKey):
		return nil, fmt.Errorf("report %s: %w", hash.Hex(), ErrNotArchived)
	case err != nil:
		return nil, err
	}
	return &r, nil
}

// Latest returns the last report applied to vault.
func (a *Archive) Latest(vault ethCommon.Address) (*ArchivedReport, error) {
	var hash ethCommon.Hash
	err := kvstore.GetTyped(a.store, latestKey(vault), &hash)
	switch {
	case errors.Is(err, kvstore.ErrNoSuchKey):
		return nil, fmt.Errorf("vault %s: %w", vault.Hex(), ErrNotArchived)
	case err != nil:
		return nil, err
	}
	return a.Get(hash)
}
