// Package keeper periodically settles the obligations of every vault that
// can pay them.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/vaulthub/config"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
	"github.com/oasisprotocol/vaulthub/worker"
)

const moduleName = "keeper"

const defaultParallelism = 4

// Settler is the part of the ledger the keeper drives.
type Settler interface {
	SettleableVaults() []ethCommon.Address
	SettleVaultObligations(ctx context.Context, addr ethCommon.Address) error
}

// Keeper runs settlement sweeps on a cron schedule.
type Keeper struct {
	settler     Settler
	schedule    string
	parallelism int

	logger  *log.Logger
	metrics metrics.WorkerMetrics
}

var _ worker.Worker = (*Keeper)(nil)

func New(cfg config.KeeperConfig, settler Settler, logger *log.Logger) (*Keeper, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("keeper: schedule '%s': %w", cfg.Schedule, err)
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Keeper{
		settler:     settler,
		schedule:    cfg.Schedule,
		parallelism: parallelism,
		logger:      logger.WithModule(moduleName),
		metrics:     metrics.NewDefaultWorkerMetrics("vaulthub"),
	}, nil
}

// benign reports errors caused by the ledger moving between listing and
// settling a vault.
func benign(err error) bool {
	return errors.Is(err, hub.ErrZeroBalance) ||
		errors.Is(err, hub.ErrVaultNotConnected) ||
		errors.Is(err, hub.ErrVaultHubAlreadyDetached)
}

// Sweep settles every settleable vault once. It returns the number of
// vaults settled and the errors of the failed ones.
func (k *Keeper) Sweep(ctx context.Context) (int, error) {
	vaults := k.settler.SettleableVaults()
	k.metrics.QueueLength(moduleName).Set(float64(len(vaults)))
	if len(vaults) == 0 {
		return 0, nil
	}

	var settled atomic.Int64
	errs := make([]error, len(vaults))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(k.parallelism)
	for i, addr := range vaults {
		g.Go(func() error {
			err := k.settler.SettleVaultObligations(gCtx, addr)
			switch {
			case err == nil:
				settled.Add(1)
				k.metrics.Items(moduleName, "success").Inc()
			case benign(err):
				k.logger.Debug("vault skipped", "vault", addr.Hex(), "reason", err)
				k.metrics.Items(moduleName, "skipped").Inc()
			default:
				k.logger.Error("settlement failed", "vault", addr.Hex(), "err", err)
				k.metrics.Items(moduleName, "failure").Inc()
				errs[i] = err
			}
			// Failures of one vault never stop the sweep.
			return nil
		})
	}
	_ = g.Wait()

	n := int(settled.Load())
	k.logger.Info("settlement sweep done", "candidates", len(vaults), "settled", n)
	return n, errors.Join(errs...)
}

// Start runs sweeps on the schedule until ctx is cancelled. A sweep that
// is still running when the next one is due is skipped.
func (k *Keeper) Start(ctx context.Context) {
	cl := cronLogger{k.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(k.schedule, func() {
		if _, err := k.Sweep(ctx); err != nil {
			k.logger.Warn("settlement sweep had failures", "err", err)
		}
	}); err != nil {
		k.logger.Error("failed to schedule settlement sweep", "schedule", k.schedule, "err", err)
		return
	}

	c.Start()
	k.logger.Info("keeper started", "schedule", k.schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	k.logger.Info("keeper stopped", "reason", ctx.Err())
}

func (k *Keeper) Name() string {
	return moduleName
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	logger *log.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
