// Package kvstore implements a key-value store.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"

	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
)

// ErrNoSuchKey is returned by the typed getters for absent keys.
var ErrNoSuchKey = errors.New("no such key")

// openTimeout bounds how long OpenKVStore waits for pogreb before
// continuing with an uninitialized store.
var openTimeout = 30 * time.Second

// A key in the KVStore.
type CacheKey []byte

// GenerateCacheKey derives a key from a namespace and its parameters.
func GenerateCacheKey(namespace string, params ...interface{}) CacheKey {
	raw, err := json.Marshal([]interface{}{namespace, params})
	if err != nil {
		// Keys are built from plain values; this is a programming error.
		panic(fmt.Sprintf("kvstore: unencodable key for %s: %v", namespace, err))
	}
	return CacheKey(raw)
}

// Pretty returns a human-readable version of the cache key, truncated.
// Intended only for debugging.
func (cacheKey CacheKey) Pretty() string {
	pretty := string(cacheKey)
	if !json.Valid(cacheKey) {
		pretty = fmt.Sprintf("%x", []byte(cacheKey))
	}
	if len(pretty) > 100 {
		pretty = pretty[:95] + "[...]"
	}
	return pretty
}

// A key-value store. Typed access is provided by GetTyped and PutTyped,
// which take a KVStore as the first argument so they can use generics.
type KVStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Close() error
}

type pogrebKVStore struct {
	db *pogreb.DB

	path    string
	logger  *log.Logger
	metrics *metrics.ArchiveMetrics // if nil, no metrics are emitted

	// Set once the store is opened, which happens in a background goroutine.
	initialized atomic.Bool
}

var _ KVStore = (*pogrebKVStore)(nil)

// Get implements KVStore.
func (s *pogrebKVStore) Get(key []byte) ([]byte, error) {
	if !s.initialized.Load() {
		return nil, fmt.Errorf("kvstore: not initialized yet")
	}
	return s.db.Get(key)
}

// Has implements KVStore.
func (s *pogrebKVStore) Has(key []byte) (bool, error) {
	if !s.initialized.Load() {
		return false, nil
	}
	return s.db.Has(key)
}

// Put implements KVStore.
func (s *pogrebKVStore) Put(key []byte, value []byte) error {
	if !s.initialized.Load() {
		return fmt.Errorf("kvstore: not initialized yet")
	}
	return s.db.Put(key, value)
}

// Close implements KVStore.
func (s *pogrebKVStore) Close() error {
	if !s.initialized.Load() {
		// If pogreb is in the middle of recovery in the background, it will
		// die and have to start over next time.
		s.logger.Warn("skipping closing uninitialized KVStore")
		return nil
	}
	s.logger.Info("closing KVStore", "path", s.path)
	return s.db.Close()
}

// Returns true if path exists.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Deletes all files that match the glob pattern.
func deleteFiles(pattern string) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("unable to glob for files %s to delete: %w", pattern, err)
	}
	var lastErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			lastErr = fmt.Errorf("unable to delete file %s: %w", f, err)
		}
	}
	return lastErr
}

// Pogreb backs up its indexes into <oldname>.bac before a reindex, and
// ".bac" becomes ".bac.bac" on every crash loop. Drop the stale copies so
// the names cannot outgrow the filesystem.
func (s *pogrebKVStore) pruneBackups() {
	if pathExists(filepath.Join(s.path, "lock")) {
		s.logger.Info("pogreb lock file found; the archive will be reindexed", "path", s.path)
	}
	if err := deleteFiles(filepath.Join(s.path, "*.bac.bac")); err != nil {
		s.logger.Warn("failed to delete excessively backed-up pogreb index files", "err", err)
	}
}

func (s *pogrebKVStore) init() error {
	s.pruneBackups()

	// Open the DB. If a reindex is needed, this can take a long time.
	s.logger.Info("(re)opening KVStore", "path", s.path)
	db, err := pogreb.Open(s.path, &pogreb.Options{BackgroundSyncInterval: -1})
	if err != nil {
		s.logger.Error("failed to initialize pogreb store", "err", err)
		return err
	}

	s.db = db
	s.initialized.Store(true)
	s.logger.Info("KVStore opened", "entries", db.Count())
	return nil
}

// OpenKVStore opens the store at path, creating it if needed. metrics
// may be nil.
//
// If pogreb has to reindex after a crash, opening continues in the
// background after a timeout; until then reads miss and writes fail.
func OpenKVStore(logger *log.Logger, path string, metrics *metrics.ArchiveMetrics) (KVStore, error) {
	store := &pogrebKVStore{
		logger:  logger,
		path:    path,
		metrics: metrics,
	}

	initErrCh := make(chan error, 1)
	go func() {
		initErrCh <- store.init()
	}()

	select {
	case err := <-initErrCh:
		if err != nil {
			return nil, err
		}
		return store, nil
	case <-time.After(openTimeout):
		logger.Warn("KVStore initialization timed out, continuing while the database is reindexing in the background")
		return store, nil
	}
}

func increaseReadCounter(store KVStore, status metrics.CacheReadStatus) {
	if s, ok := store.(*pogrebKVStore); ok && s.metrics != nil {
		s.metrics.Reads(status).Inc()
	}
}

// GetTyped fetches the value of key, decoded from JSON into value. It
// returns ErrNoSuchKey if the key is absent.
func GetTyped[Value any](store KVStore, key CacheKey, value *Value) error {
	isCached, err := store.Has(key)
	if err != nil {
		increaseReadCounter(store, metrics.CacheReadStatusError)
		return err
	}
	if !isCached {
		increaseReadCounter(store, metrics.CacheReadStatusMiss)
		return ErrNoSuchKey
	}
	raw, err := store.Get(key)
	if err != nil {
		increaseReadCounter(store, metrics.CacheReadStatusError)
		return fmt.Errorf("failed to fetch key %s: %w", key.Pretty(), err)
	}
	if err = json.Unmarshal(raw, value); err != nil {
		increaseReadCounter(store, metrics.CacheReadStatusBadValue)
		return fmt.Errorf("failed to unmarshal the value for key %s into %T: %w; raw value was %x", key.Pretty(), value, err, raw)
	}
	increaseReadCounter(store, metrics.CacheReadStatusHit)
	return nil
}

// PutTyped stores value under key, encoded as JSON.
func PutTyped[Value any](store KVStore, key CacheKey, value Value) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal the value for key %s: %w", key.Pretty(), err)
	}
	return store.Put(key, raw)
}
