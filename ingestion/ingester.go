// Package ingestion is the boundary through which valuation reports reach
// the ledger: it validates and deduplicates them, applies them directly or
// through a persistent queue, and archives every applied report.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/vault"
)

const moduleName = "ingestion"

// ErrDuplicateReport is returned for a report that was already applied or
// queued.
var ErrDuplicateReport = errors.New("duplicate report")

// Applier applies a report to the ledger.
type Applier interface {
	IngestReport(ctx context.Context, caller ethCommon.Address, r hub.Report) error
}

// Ingester validates, deduplicates, applies and archives reports.
type Ingester struct {
	ledger  Applier
	policy  hub.Policy
	archive *Archive
	queue   storage.LedgerStorage
	logger  *log.Logger

	// Serializes the duplicate check with the apply and archive steps.
	mu sync.Mutex
	// lastReceipt is the last receipt time handed out, in unix microseconds.
	lastReceipt atomic.Int64
}

func NewIngester(ledger Applier, policy hub.Policy, archive *Archive, queue storage.LedgerStorage, logger *log.Logger) *Ingester {
	return &Ingester{
		ledger:  ledger,
		policy:  policy,
		archive: archive,
		queue:   queue,
		logger:  logger.WithModule(moduleName),
	}
}

// Submission is a report as submitted over the wire.
type Submission struct {
	Vault          ethCommon.Address `json:"vault"`
	TotalValue     *common.BigInt    `json:"total_value"`
	InOutDelta     *common.BigInt    `json:"in_out_delta"`
	Locked         *common.BigInt    `json:"locked"`
	CumulativeFees *common.BigInt    `json:"cumulative_fees"`
	Timestamp      time.Time         `json:"timestamp"`
}

func bigOrNil(b *common.BigInt) *big.Int {
	if b == nil {
		return nil
	}
	return b.Big()
}

// Report converts the submission. Absent amounts stay nil and fail
// validation.
func (s Submission) Report() hub.Report {
	return hub.Report{
		Vault:          s.Vault,
		TotalValue:     bigOrNil(s.TotalValue),
		InOutDelta:     bigOrNil(s.InOutDelta),
		Locked:         bigOrNil(s.Locked),
		CumulativeFees: bigOrNil(s.CumulativeFees),
		Timestamp:      s.Timestamp.UTC(),
	}
}

// stamp sets the receipt time on a report submitted without a timestamp.
// Two submissions of the same timestamped report are duplicates; reports
// without one are told apart by when they arrived. Receipt times are
// strictly increasing at microsecond resolution.
func (i *Ingester) stamp(r hub.Report) hub.Report {
	if !r.Timestamp.IsZero() {
		return r
	}
	now := time.Now().UnixMicro()
	for {
		last := i.lastReceipt.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if i.lastReceipt.CompareAndSwap(last, next) {
			r.Timestamp = time.UnixMicro(next).UTC()
			return r
		}
	}
}

func (i *Ingester) checkDuplicate(hash ethCommon.Hash) error {
	seen, err := i.archive.Has(hash)
	if err != nil {
		return fmt.Errorf("checking report archive: %w", err)
	}
	if seen {
		return fmt.Errorf("report %s: %w", hash.Hex(), ErrDuplicateReport)
	}
	return nil
}

// Submit applies r on behalf of caller and archives it. It returns the
// report hash.
func (i *Ingester) Submit(ctx context.Context, caller ethCommon.Address, r hub.Report) (ethCommon.Hash, error) {
	r = i.stamp(r)
	if err := r.Validate(); err != nil {
		return ethCommon.Hash{}, err
	}
	hash := ReportHash(r)
	return hash, i.apply(ctx, caller, r, hash)
}

func (i *Ingester) apply(ctx context.Context, caller ethCommon.Address, r hub.Report, hash ethCommon.Hash) error {
	// A transfer recipient submitting from its hook would wait on i.mu.
	if vault.TransferInProgress(ctx) {
		return fmt.Errorf("report %s: %w", hash.Hex(), hub.ErrReentrantCall)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkDuplicate(hash); err != nil {
		return err
	}
	if err := i.ledger.IngestReport(ctx, caller, r); err != nil {
		return err
	}
	archived := ArchivedReport{
		Hash:           hash,
		Vault:          r.Vault,
		TotalValue:     common.BigIntFrom(r.TotalValue),
		InOutDelta:     common.BigIntFrom(r.InOutDelta),
		Locked:         common.BigIntFrom(r.Locked),
		CumulativeFees: common.BigIntFrom(r.CumulativeFees),
		Timestamp:      r.Timestamp,
		Submitter:      caller,
		AppliedAt:      time.Now().UTC(),
	}
	if err := i.archive.Put(archived); err != nil {
		// The ledger already moved; a resubmission would be rejected by
		// the fee counter or reapply the same valuation.
		i.logger.Error("failed to archive applied report", "hash", hash.Hex(), "vault", r.Vault.Hex(), "err", err)
	}
	i.logger.Info("report applied", "hash", hash.Hex(), "vault", r.Vault.Hex())
	return nil
}

// Enqueue validates r and queues it for the report processor. The caller
// must be allowed to submit reports.
func (i *Ingester) Enqueue(ctx context.Context, caller ethCommon.Address, r hub.Report) (int64, ethCommon.Hash, error) {
	if !i.policy.Allowed(ctx, caller, hub.CapSubmitReport) {
		return 0, ethCommon.Hash{}, fmt.Errorf("enqueue report for %s: %w", r.Vault.Hex(), hub.ErrUnauthorized)
	}
	r = i.stamp(r)
	if err := r.Validate(); err != nil {
		return 0, ethCommon.Hash{}, err
	}
	hash := ReportHash(r)
	if err := i.checkDuplicate(hash); err != nil {
		return 0, hash, err
	}
	id, err := i.queue.EnqueueReport(ctx, storage.QueuedReport{
		Hash:           hash,
		Vault:          r.Vault,
		TotalValue:     common.BigIntFrom(r.TotalValue),
		InOutDelta:     common.BigIntFrom(r.InOutDelta),
		Locked:         common.BigIntFrom(r.Locked),
		CumulativeFees: common.BigIntFrom(r.CumulativeFees),
		Timestamp:      r.Timestamp,
		Submitter:      caller,
	})
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return 0, hash, fmt.Errorf("report %s: %w", hash.Hex(), ErrDuplicateReport)
	case err != nil:
		return 0, hash, fmt.Errorf("enqueue report: %w", err)
	}
	i.logger.Info("report queued", "id", id, "hash", hash.Hex(), "vault", r.Vault.Hex())
	return id, hash, nil
}

// Latest returns the last report applied to vault.
func (i *Ingester) Latest(addr ethCommon.Address) (*ArchivedReport, error) {
	return i.archive.Latest(addr)
}
