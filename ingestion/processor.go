package ingestion

import (
	"context"
	"fmt"

	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/worker/item"
)

// ProcessorName is the worker name of the report queue processor.
const ProcessorName = "report_queue"

// queueLengthCap caps the pending reports counted for the queue length
// metric.
const queueLengthCap = 1000

// Processor drains the pending report queue into the ledger.
type Processor struct {
	ingester *Ingester
	queue    storage.LedgerStorage
	logger   *log.Logger
}

var _ item.ItemProcessor[storage.QueuedReport] = (*Processor)(nil)

func NewProcessor(ingester *Ingester, queue storage.LedgerStorage, logger *log.Logger) *Processor {
	return &Processor{
		ingester: ingester,
		queue:    queue,
		logger:   logger.WithModule(ProcessorName),
	}
}

func (p *Processor) GetItems(ctx context.Context, limit uint64) ([]storage.QueuedReport, error) {
	return p.queue.PendingReports(ctx, limit)
}

// ProcessItem applies one queued report and records the outcome in the
// queue. A rejected report is marked failed with the ledger's error.
func (p *Processor) ProcessItem(ctx context.Context, q storage.QueuedReport) error {
	r := hub.Report{
		Vault:          q.Vault,
		TotalValue:     q.TotalValue.Big(),
		InOutDelta:     q.InOutDelta.Big(),
		Locked:         q.Locked.Big(),
		CumulativeFees: q.CumulativeFees.Big(),
		Timestamp:      q.Timestamp.UTC(),
	}
	applyErr := p.ingester.apply(ctx, q.Submitter, r, q.Hash)

	status, errText := storage.ReportProcessed, ""
	if applyErr != nil {
		status, errText = storage.ReportFailed, applyErr.Error()
	}
	if err := p.queue.CompleteReport(ctx, q.ID, status, errText); err != nil {
		return fmt.Errorf("completing report %d: %w", q.ID, err)
	}
	if applyErr != nil {
		return fmt.Errorf("report %d: %w", q.ID, applyErr)
	}
	return nil
}

func (p *Processor) QueueLength(ctx context.Context) (int, error) {
	pending, err := p.queue.PendingReports(ctx, queueLengthCap)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}
