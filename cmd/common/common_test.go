package common

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/config"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/storage/memory"
)

func TestNewStorage(t *testing.T) {
	logger := log.NewDiscardLogger("common_test")

	s, err := NewStorage(nil, logger)
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, s.LedgerStorage)
	require.Nil(t, s.Client)
	s.Close()

	s, err = NewStorage(&config.StorageConfig{Backend: "inmemory"}, logger)
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, s.LedgerStorage)
	s.Close()

	_, err = NewStorage(&config.StorageConfig{Backend: "sqlite"}, logger)
	require.Error(t, err)

	_, err = NewStorage(&config.StorageConfig{Backend: "postgres", Endpoint: "an invalid connstring"}, logger)
	require.Error(t, err)
}

func TestInitLogging(t *testing.T) {
	path := t.TempDir() + "/vaulthub.log"
	require.NoError(t, Init(&config.Config{
		Log: &config.LogConfig{Format: "logfmt", Level: "info", File: path},
	}))
	require.Equal(t, log.LevelInfo, RootLogger().Level())

	require.Error(t, Init(&config.Config{
		Log: &config.LogConfig{Format: "xml", Level: "info"},
	}))
}
