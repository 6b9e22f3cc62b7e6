// Package config enables config file parsing.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/robfig/cron/v3"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/log"
)

// EnvPrefix is the prefix of environment variables merged into the
// configuration.
const EnvPrefix = "VAULTHUB__"

// Config contains the CLI configuration.
type Config struct {
	Ledger    *LedgerConfig    `koanf:"ledger"`
	Ingestion *IngestionConfig `koanf:"ingestion"`
	Keeper    *KeeperConfig    `koanf:"keeper"`
	Server    *ServerConfig    `koanf:"server"`
	Storage   *StorageConfig   `koanf:"storage"`
	Log       *LogConfig       `koanf:"log"`
	Metrics   *MetricsConfig   `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Ledger == nil {
		return fmt.Errorf("ledger: not configured")
	}
	if err := cfg.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if cfg.Ingestion != nil {
		if err := cfg.Ingestion.Validate(); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
	}
	if cfg.Keeper != nil {
		if err := cfg.Keeper.Validate(); err != nil {
			return fmt.Errorf("keeper: %w", err)
		}
	}
	if cfg.Server != nil {
		if err := cfg.Server.Validate(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	if cfg.Storage != nil {
		if err := cfg.Storage.Validate(); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// LedgerConfig is the configuration of the vault hub. Amounts are in wei,
// or in ether with an "ether" suffix.
type LedgerConfig struct {
	// Hub is the address the hub acts under towards vaults.
	Hub string `koanf:"hub"`
	// Treasury receives settled fees.
	Treasury string `koanf:"treasury"`
	// VaultFactory seeds the addresses of created vaults.
	VaultFactory string `koanf:"vault_factory"`
	// Beacon receives beacon chain deposits and withdrawal request fees.
	Beacon string `koanf:"beacon"`

	DepositsPauseThreshold string `koanf:"deposits_pause_threshold"`
	MinimalReserve         string `koanf:"minimal_reserve"`
	// WithdrawalFee is the per-validator withdrawal request fee quote.
	WithdrawalFee string `koanf:"withdrawal_fee"`

	Oracle OracleConfig `koanf:"oracle"`

	// Roles maps capability names to the addresses holding them.
	Roles map[string][]string `koanf:"roles"`

	// Balances credits custody accounts on startup, by address.
	Balances map[string]string `koanf:"balances"`
}

// OracleConfig holds the initial pool totals that set the share price.
type OracleConfig struct {
	TotalPooled string `koanf:"total_pooled"`
	TotalShares string `koanf:"total_shares"`
}

// Ledger is a parsed LedgerConfig.
type Ledger struct {
	Hub          ethCommon.Address
	Treasury     ethCommon.Address
	VaultFactory ethCommon.Address
	Beacon       ethCommon.Address

	DepositsPauseThreshold *big.Int
	MinimalReserve         *big.Int
	WithdrawalFee          *big.Int
	TotalPooled            *big.Int
	TotalShares            *big.Int

	Roles    map[string][]ethCommon.Address
	Balances map[ethCommon.Address]*big.Int
}

// Parse resolves the addresses and amounts of the configuration.
func (cfg *LedgerConfig) Parse() (*Ledger, error) {
	var (
		l   Ledger
		err error
	)
	addresses := []struct {
		name  string
		value string
		dst   *ethCommon.Address
	}{
		{"hub", cfg.Hub, &l.Hub},
		{"treasury", cfg.Treasury, &l.Treasury},
		{"vault_factory", cfg.VaultFactory, &l.VaultFactory},
		{"beacon", cfg.Beacon, &l.Beacon},
	}
	for _, a := range addresses {
		if *a.dst, err = common.ParseAddress(a.value); err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
	}

	amounts := []struct {
		name  string
		value string
		def   string
		dst   **big.Int
	}{
		{"deposits_pause_threshold", cfg.DepositsPauseThreshold, "1ether", &l.DepositsPauseThreshold},
		{"minimal_reserve", cfg.MinimalReserve, "1ether", &l.MinimalReserve},
		{"withdrawal_fee", cfg.WithdrawalFee, "1", &l.WithdrawalFee},
		{"oracle.total_pooled", cfg.Oracle.TotalPooled, "1ether", &l.TotalPooled},
		{"oracle.total_shares", cfg.Oracle.TotalShares, "1ether", &l.TotalShares},
	}
	for _, a := range amounts {
		v := a.value
		if v == "" {
			v = a.def
		}
		if *a.dst, err = common.ParseAmount(v); err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
	}
	if l.DepositsPauseThreshold.Sign() == 0 {
		return nil, fmt.Errorf("deposits_pause_threshold must be positive")
	}
	if l.TotalPooled.Sign() == 0 || l.TotalShares.Sign() == 0 {
		return nil, fmt.Errorf("oracle totals must be positive")
	}

	l.Roles = make(map[string][]ethCommon.Address, len(cfg.Roles))
	for role, members := range cfg.Roles {
		for _, m := range members {
			addr, err := common.ParseAddress(m)
			if err != nil {
				return nil, fmt.Errorf("roles.%s: %w", role, err)
			}
			l.Roles[role] = append(l.Roles[role], addr)
		}
	}

	l.Balances = make(map[ethCommon.Address]*big.Int, len(cfg.Balances))
	for account, amount := range cfg.Balances {
		addr, err := common.ParseAddress(account)
		if err != nil {
			return nil, fmt.Errorf("balances: %w", err)
		}
		if l.Balances[addr], err = common.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("balances.%s: %w", account, err)
		}
	}
	return &l, nil
}

// Validate validates the ledger configuration.
func (cfg *LedgerConfig) Validate() error {
	_, err := cfg.Parse()
	return err
}

// IngestionConfig is the configuration of report ingestion.
type IngestionConfig struct {
	// ArchiveDir is the directory of the accepted report archive.
	ArchiveDir string `koanf:"archive_dir"`
	// BatchSize is the number of queued reports processed per batch.
	BatchSize uint64 `koanf:"batch_size"`
	// Interval is the pause between batches of an idle queue.
	Interval time.Duration `koanf:"interval"`
}

// Validate validates the ingestion configuration.
func (cfg *IngestionConfig) Validate() error {
	if cfg.ArchiveDir == "" {
		return fmt.Errorf("invalid archive directory")
	}
	if cfg.BatchSize == 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("negative interval %s", cfg.Interval)
	}
	return nil
}

// KeeperConfig is the configuration of the settlement keeper.
type KeeperConfig struct {
	// Schedule is a standard cron expression or descriptor such as
	// "@every 1m".
	Schedule string `koanf:"schedule"`
	// Parallelism bounds the number of vaults settled at once.
	Parallelism int `koanf:"parallelism"`
}

// Validate validates the keeper configuration.
func (cfg *KeeperConfig) Validate() error {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return fmt.Errorf("malformed schedule '%s': %w", cfg.Schedule, err)
	}
	if cfg.Parallelism < 0 {
		return fmt.Errorf("negative parallelism %d", cfg.Parallelism)
	}
	return nil
}

// ServerConfig contains the API server configuration.
type ServerConfig struct {
	// Endpoint is the service endpoint from which to serve the API.
	Endpoint string `koanf:"endpoint"`

	// RequestTimeout bounds the handling of a single request.
	RequestTimeout *time.Duration `koanf:"request_timeout"`

	// CORSAllowedOrigins defaults to allowing any origin.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// Validate validates the server configuration.
func (cfg *ServerConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed server endpoint '%s'", cfg.Endpoint)
	}
	if cfg.RequestTimeout != nil && *cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// StorageBackend is a storage backend.
type StorageBackend uint

const (
	// BackendPostgres is the PostgreSQL storage backend.
	BackendPostgres StorageBackend = iota
	// BackendInMemory is the in-memory storage backend.
	BackendInMemory
)

// String returns the string representation of a StorageBackend.
func (sb *StorageBackend) String() string {
	switch *sb {
	case BackendPostgres:
		return "postgres"
	case BackendInMemory:
		return "inmemory"
	default:
		panic("config: unsupported storage backend")
	}
}

// Set sets the StorageBackend to the value specified by the provided string.
func (sb *StorageBackend) Set(s string) error {
	switch strings.ToLower(s) {
	case "postgres":
		*sb = BackendPostgres
	case "inmemory":
		*sb = BackendInMemory
	default:
		return fmt.Errorf("config: invalid storage backend: '%s'", s)
	}

	return nil
}

// Type returns the list of supported StorageBackends.
func (sb *StorageBackend) Type() string {
	return "[postgres,inmemory]"
}

// StorageConfig contains the storage layer configuration.
type StorageConfig struct {
	// Endpoint is the postgres connection string.
	Endpoint string `koanf:"endpoint"`

	// Backend is the storage backend to select.
	Backend string `koanf:"backend"`

	// Migrations is the directory containing schema migrations.
	Migrations string `koanf:"migrations"`

	// If true, we'll first delete all ledger tables in the DB.
	WipeStorage bool `koanf:"DANGER__WIPE_STORAGE_ON_STARTUP"`
}

// Validate validates the storage configuration.
func (cfg *StorageConfig) Validate() error {
	var sb StorageBackend
	if err := sb.Set(cfg.Backend); err != nil {
		return err
	}
	if sb != BackendPostgres {
		return nil
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed storage endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Migrations == "" {
		return fmt.Errorf("invalid path to migrations '%s'", cfg.Migrations)
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`

	// PprofEndpoint, if set, serves runtime profiles.
	PprofEndpoint string `koanf:"pprof_endpoint"`
	// PprofWindow is the longest CPU profile or trace served.
	PprofWindow time.Duration `koanf:"pprof_window"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	if cfg.PprofWindow < 0 {
		return fmt.Errorf("pprof_window must not be negative")
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	return initConfig(file.Provider(f))
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
