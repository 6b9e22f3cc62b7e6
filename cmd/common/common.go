// Package common implements common vaulthub command options.
package common

import (
	"fmt"
	"io"
	stdLog "log"
	"os"

	"github.com/akrylysov/pogreb"

	"github.com/oasisprotocol/vaulthub/config"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/storage/memory"
	"github.com/oasisprotocol/vaulthub/storage/postgres"
)

var rootLogger = log.NewDefaultLogger("vaulthub")

// Init initializes the common environment.
func Init(cfg *config.Config) error {
	var w io.Writer = os.Stdout
	format := log.FmtJSON
	level := log.LevelDebug

	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if err := format.Set(cfg.Log.Format); err != nil {
			return err
		}
		if err := level.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger, err := log.NewLogger("vaulthub", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger

	// Initialize pogreb logging.
	pogreb.SetLogger(stdLog.New(log.WriterIntoLogger(RootLogger().WithModule("pogreb")), "", 0))
	return nil
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

func getLoggingStream(cfg *config.LogConfig) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return os.Stdout, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Storage is a ledger storage backend together with its shutdown.
type Storage struct {
	storage.LedgerStorage
	// Client is the underlying postgres client, nil for the inmemory
	// backend.
	Client *postgres.Client
}

// Close releases the backend's connections.
func (s *Storage) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}

// NewStorage opens the configured ledger storage. A nil config selects the
// inmemory backend.
func NewStorage(cfg *config.StorageConfig, logger *log.Logger) (*Storage, error) {
	if cfg == nil {
		return &Storage{LedgerStorage: memory.New()}, nil
	}
	var backend config.StorageBackend
	if err := backend.Set(cfg.Backend); err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendPostgres:
		client, err := postgres.NewClient(cfg.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		return &Storage{LedgerStorage: postgres.NewLedgerStore(client), Client: client}, nil
	case config.BackendInMemory:
		return &Storage{LedgerStorage: memory.New()}, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %v", backend.String())
	}
}
