// Package serve implements the `serve` sub-command.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver for golang_migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"       // support file scheme for golang_migrate
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/vaulthub/api"
	"github.com/oasisprotocol/vaulthub/cache/kvstore"
	cmdCommon "github.com/oasisprotocol/vaulthub/cmd/common"
	"github.com/oasisprotocol/vaulthub/config"
	"github.com/oasisprotocol/vaulthub/custody"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/ingestion"
	"github.com/oasisprotocol/vaulthub/keeper"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
	"github.com/oasisprotocol/vaulthub/oracle"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/vault"
	"github.com/oasisprotocol/vaulthub/worker"
	"github.com/oasisprotocol/vaulthub/worker/item"
)

const (
	moduleName = "serve"

	// recentEvents bounds the in-process event history kept for debugging.
	recentEvents = 1024
	// shutdownTimeout bounds draining of in-flight API requests.
	shutdownTimeout = 10 * time.Second
)

var (
	// Path to the configuration file.
	configFile string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the vault ledger with its API, report queue and keeper",
		Run:   runServe,
	}
)

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("config init failed",
			"error", err,
		)
		os.Exit(1)
	}

	if err = cmdCommon.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := cmdCommon.RootLogger().WithModule(moduleName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := Init(ctx, cfg)
	if err != nil {
		logger.Error("service failed to initialize", "error", err)
		os.Exit(1)
	}
	defer service.Close()

	if err := service.Run(ctx); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("service stopped")
}

// Service runs the ledger and everything driving it.
type Service struct {
	storage *cmdCommon.Storage
	archive kvstore.KVStore

	api      http.Handler
	apiAddr  string
	queue    worker.Worker
	keeper   *keeper.Keeper
	metrics  *metrics.PullService
	profiler *cmdCommon.Profiler
	logger   *log.Logger
}

// Init wires the ledger from cfg. Storage migrations run first.
func Init(ctx context.Context, cfg *config.Config) (*Service, error) {
	logger := cmdCommon.RootLogger().WithModule(moduleName)

	if cfg.Ledger == nil {
		return nil, errors.New("ledger config not provided")
	}
	if cfg.Ingestion == nil {
		return nil, errors.New("ingestion config not provided")
	}
	ledgerCfg, err := cfg.Ledger.Parse()
	if err != nil {
		return nil, fmt.Errorf("ledger config: %w", err)
	}

	if err = prepareStorage(ctx, cfg.Storage, logger); err != nil {
		return nil, err
	}
	store, err := cmdCommon.NewStorage(cfg.Storage, cmdCommon.RootLogger())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	s := &Service{storage: store, logger: logger}
	// Close whatever was opened if wiring fails part way.
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	journal, err := ingestion.NewJournal(ctx, store, cmdCommon.RootLogger())
	if err != nil {
		return nil, fmt.Errorf("opening event journal: %w", err)
	}
	sink := events.Multi{events.NewRecorder(recentEvents), journal}

	pool, err := oracle.NewPool(ledgerCfg.TotalPooled, ledgerCfg.TotalShares)
	if err != nil {
		return nil, fmt.Errorf("price oracle: %w", err)
	}
	roles := make(map[hub.Capability][]ethCommon.Address, len(ledgerCfg.Roles))
	for role, holders := range ledgerCfg.Roles {
		roles[hub.Capability(role)] = holders
	}
	policy := hub.NewRolePolicy(roles)

	ledger, err := hub.New(hub.Config{
		Address:                ledgerCfg.Hub,
		Treasury:               ledgerCfg.Treasury,
		DepositsPauseThreshold: ledgerCfg.DepositsPauseThreshold,
		MinimalReserve:         ledgerCfg.MinimalReserve,
	}, pool, policy, sink, cmdCommon.RootLogger())
	if err != nil {
		return nil, err
	}

	bank := custody.NewBank()
	for account, amount := range ledgerCfg.Balances {
		bank.Credit(account, amount)
	}
	vaults := vault.NewRegistry(
		ledgerCfg.VaultFactory,
		ledgerCfg.Beacon,
		bank,
		custody.FixedQuoter{Fee: ledgerCfg.WithdrawalFee},
		sink,
		cmdCommon.RootLogger(),
	)
	journal.SetSnapshotter(ingestion.LedgerSnapshotter{Hub: ledger, Vaults: vaults})

	archiveMetrics := metrics.NewDefaultArchiveMetrics(moduleName, "reports")
	s.archive, err = kvstore.OpenKVStore(cmdCommon.RootLogger(), cfg.Ingestion.ArchiveDir, &archiveMetrics)
	if err != nil {
		return nil, fmt.Errorf("opening report archive: %w", err)
	}
	ingester := ingestion.NewIngester(ledger, policy, ingestion.NewArchive(s.archive), store, cmdCommon.RootLogger())

	processor := ingestion.NewProcessor(ingester, store, cmdCommon.RootLogger())
	s.queue = item.NewWorker[storage.QueuedReport](
		ingestion.ProcessorName,
		item.Config{
			BatchSize: cfg.Ingestion.BatchSize,
			Interval:  cfg.Ingestion.Interval,
		},
		processor,
		cmdCommon.RootLogger(),
	)

	if cfg.Keeper != nil {
		if s.keeper, err = keeper.New(*cfg.Keeper, ledger, cmdCommon.RootLogger()); err != nil {
			return nil, err
		}
	}

	if cfg.Server != nil {
		s.apiAddr = cfg.Server.Endpoint
		s.api = api.NewRouter(api.Services{
			Hub:      ledger,
			Vaults:   vaults,
			Oracle:   pool,
			Ingester: ingester,
			Store:    store,
		}, *cfg.Server, cmdCommon.RootLogger())
	}

	if cfg.Metrics != nil {
		if s.metrics, err = metrics.NewPullService(cfg.Metrics.PullEndpoint, cmdCommon.RootLogger()); err != nil {
			return nil, err
		}
		if cfg.Metrics.PprofEndpoint != "" {
			if s.profiler, err = cmdCommon.NewProfiler(cfg.Metrics, cmdCommon.RootLogger()); err != nil {
				return nil, fmt.Errorf("pprof listener: %w", err)
			}
		}
	}

	ok = true
	return s, nil
}

// prepareStorage wipes the database if configured and applies migrations.
// The inmemory backend needs neither.
func prepareStorage(ctx context.Context, cfg *config.StorageConfig, logger *log.Logger) error {
	if cfg == nil {
		return nil
	}
	var backend config.StorageBackend
	if err := backend.Set(cfg.Backend); err != nil {
		return err
	}
	if backend != config.BackendPostgres {
		return nil
	}

	if cfg.WipeStorage {
		logger.Warn("wiping storage")
		if err := wipeStorage(ctx, cfg); err != nil {
			return fmt.Errorf("wiping storage: %w", err)
		}
		logger.Info("storage wiped")
	}

	m, err := migrate.New(cfg.Migrations, cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("migrator failed to start: %w", err)
	}
	defer m.Close()

	switch err = m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations needed to be applied")
	case err != nil:
		return fmt.Errorf("migrations failed: %w", err)
	default:
		logger.Info("migrations completed")
	}
	return nil
}

func wipeStorage(ctx context.Context, cfg *config.StorageConfig) error {
	store, err := cmdCommon.NewStorage(cfg, cmdCommon.RootLogger())
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Client.Wipe(ctx)
}

// Run starts every configured component and blocks until ctx is done or
// one of them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.queue.Start(ctx)
		return nil
	})
	if s.keeper != nil {
		g.Go(func() error {
			s.keeper.Start(ctx)
			return nil
		})
	}
	if s.metrics != nil {
		g.Go(func() error {
			return s.metrics.Run(ctx)
		})
	}
	if s.profiler != nil {
		g.Go(func() error {
			return s.profiler.Run(ctx)
		})
	}
	if s.api != nil {
		g.Go(func() error {
			return s.serveAPI(ctx)
		})
	}

	s.logger.Info("started all services")
	return g.Wait()
}

func (s *Service) serveAPI(ctx context.Context) error {
	server := &http.Server{
		Addr:           s.apiAddr,
		Handler:        s.api,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving api", "endpoint", s.apiAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Close releases the archive, storage and profiler listener.
func (s *Service) Close() {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Error("failed to close report archive", "err", err)
		}
	}
	if s.storage != nil {
		s.storage.Close()
	}
	if s.profiler != nil {
		s.profiler.Close()
	}
}

// Register registers the serve sub-command.
func Register(parentCmd *cobra.Command) {
	serveCmd.Flags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	parentCmd.AddCommand(serveCmd)
}
