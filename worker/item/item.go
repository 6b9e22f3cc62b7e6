// Package item implements the generic item based worker.
//
// An item based worker uses an ItemProcessor to process work items and
// handles the common logic for fetching batches of work items, pacing and
// reporting queue metrics.
package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
	"github.com/oasisprotocol/vaulthub/worker"
	"github.com/oasisprotocol/vaulthub/worker/util"
)

const (
	// Timeout to process a single batch.
	processBatchTimeout = 61 * time.Second
	// Default number of items processed in a batch.
	defaultBatchSize = 20
)

// ErrEmptyBatch is returned by processors that have no work items.
var ErrEmptyBatch = errors.New("no items in batch")

// Config configures an item based worker.
type Config struct {
	// BatchSize is the maximum number of items fetched at once.
	BatchSize uint64
	// Interval, if set, processes one batch every Interval instead of
	// backing off.
	Interval time.Duration
	// StopIfQueueEmptyFor, if set, stops the worker once its queue has
	// been empty for this long.
	StopIfQueueEmptyFor time.Duration
}

type ItemProcessor[Item any] interface {
	// GetItems fetches the next batch of work items.
	GetItems(ctx context.Context, limit uint64) ([]Item, error)
	// ProcessItem processes a single item. Failures are recorded by the
	// processor; a returned error only counts the item as failed.
	ProcessItem(ctx context.Context, item Item) error
	// QueueLength returns the number of total items in the work queue. This
	// is currently used for observability metrics.
	QueueLength(ctx context.Context) (int, error)
}

type itemBasedWorker[Item any] struct {
	cfg        Config
	workerName string

	processor ItemProcessor[Item]

	logger  *log.Logger
	metrics metrics.WorkerMetrics
}

var _ worker.Worker = (*itemBasedWorker[any])(nil)

// NewWorker returns a new item based worker using the provided item
// processor. Items of a batch are processed one at a time, in the order
// GetItems returned them.
//
// By default, the worker uses a backoff mechanism that runs as fast as
// possible while there is work and slows down while the queue is empty
// or failing.
func NewWorker[Item any](
	name string,
	cfg Config,
	processor ItemProcessor[Item],
	logger *log.Logger,
) worker.Worker {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &itemBasedWorker[Item]{
		cfg:        cfg,
		workerName: name,
		processor:  processor,
		logger:     logger.WithModule(name),
		metrics:    metrics.NewDefaultWorkerMetrics("vaulthub"),
	}
}

// sendQueueLengthMetric reports the current number of items in the work
// queue to Prometheus.
func (w *itemBasedWorker[Item]) sendQueueLengthMetric(ctx context.Context) (int, error) {
	queueLength, err := w.processor.QueueLength(ctx)
	if err != nil {
		w.logger.Warn("error fetching queue length", "err", err)
		return 0, err
	}
	w.metrics.QueueLength(w.workerName).Set(float64(queueLength))
	return queueLength, nil
}

// processBatch fetches the next batch of work items and processes them.
// It returns the number of items processed successfully and the first
// error encountered.
func (w *itemBasedWorker[Item]) processBatch(ctx context.Context) (int, error) {
	items, err := w.processor.GetItems(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("error fetching work items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	w.logger.Info("processing", "num_items", len(items))

	batchCtx, cancel := context.WithTimeout(ctx, processBatchTimeout)
	defer cancel()

	errs := make([]error, 0, len(items))
	for _, it := range items {
		if batchCtx.Err() != nil {
			w.logger.Warn("timed out processing batch", "remaining", len(items)-len(errs))
			break
		}
		err := w.processor.ProcessItem(batchCtx, it)
		if err != nil {
			w.logger.Error("failed to process item", "item", it, "err", err)
			w.metrics.Items(w.workerName, "failure").Inc()
		} else {
			w.metrics.Items(w.workerName, "success").Inc()
		}
		errs = append(errs, err)
	}

	numErrs, firstErr := processErrors(errs)
	return len(errs) - numErrs, firstErr
}

// Helper function that counts the number of errors and returns the first one if any.
func processErrors(errs []error) (int, error) {
	count := 0
	var firstErr error
	for _, e := range errs {
		if e != nil {
			count++
			if firstErr == nil {
				firstErr = e
			}
		}
	}

	return count, firstErr
}

// Start starts the item based worker.
func (w *itemBasedWorker[Item]) Start(ctx context.Context) {
	backoff, err := util.NewBackoff(
		100*time.Millisecond,
		6*time.Second,
	)
	if err != nil {
		w.logger.Error("error configuring backoff policy",
			"err", err.Error(),
		)
		return
	}
	mostRecentTask := time.Now()

	for firstIter := true; ; firstIter = false {
		delay := backoff.Timeout()
		if w.cfg.Interval != 0 {
			delay = w.cfg.Interval
		}
		if firstIter {
			delay = 0 // Don't sleep before first iteration.
		}
		select {
		case <-time.After(delay):
			// Process another batch of items.
		case <-ctx.Done():
			w.logger.Warn("shutting down item worker", "reason", ctx.Err())
			return
		}
		queueLength, err := w.sendQueueLengthMetric(ctx)
		if err == nil && queueLength == 0 && w.cfg.StopIfQueueEmptyFor != 0 && time.Since(mostRecentTask) > w.cfg.StopIfQueueEmptyFor {
			w.logger.Warn("item worker queue has been empty for a while; shutting down",
				"queue_empty_since", mostRecentTask,
				"stop_if_queue_empty_for", w.cfg.StopIfQueueEmptyFor)
			return
		}

		numProcessed, err := w.processBatch(ctx)
		if err != nil {
			w.logger.Error("error processing batch", "err", err)
			backoff.Failure()
			if numProcessed > 0 {
				mostRecentTask = time.Now()
			}
			continue
		}
		if numProcessed == 0 {
			// Poll an idle queue less often.
			backoff.Failure()
			continue
		}
		mostRecentTask = time.Now()
		backoff.Success()
	}
}

func (w *itemBasedWorker[Item]) Name() string {
	return w.workerName
}
