// Package memory implements storage.LedgerStorage in process memory. It is
// used with the inmemory backend and in tests.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/storage"
)

const moduleName = "inmemory"

// Store is an in-memory ledger storage.
type Store struct {
	mu      sync.RWMutex
	vaults  map[ethCommon.Address]storage.VaultSnapshot
	events  []storage.JournaledEvent
	reports []storage.QueuedReport
	hashes  map[ethCommon.Hash]struct{}
}

var _ storage.LedgerStorage = (*Store)(nil)

func New() *Store {
	return &Store{
		vaults: make(map[ethCommon.Address]storage.VaultSnapshot),
		hashes: make(map[ethCommon.Hash]struct{}),
	}
}

func (s *Store) UpsertVault(_ context.Context, v storage.VaultSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[v.Vault] = v
	return nil
}

func (s *Store) Vault(_ context.Context, vault ethCommon.Address) (*storage.VaultSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[vault]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (s *Store) Vaults(context.Context) ([]storage.VaultSnapshot, error) {
	s.mu.RLock()
	out := make([]storage.VaultSnapshot, 0, len(s.vaults))
	for _, v := range s.vaults {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Vault[:], out[j].Vault[:]) < 0
	})
	return out, nil
}

func (s *Store) AppendEvents(_ context.Context, evs []events.Envelope) error {
	journaled := make([]storage.JournaledEvent, 0, len(evs))
	for _, e := range evs {
		body, err := json.Marshal(e.Event)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", e.Seq, err)
		}
		journaled = append(journaled, storage.JournaledEvent{
			ID:        e.ID.String(),
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Kind:      e.Kind,
			Vault:     e.Event.VaultAddress(),
			Body:      body,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastSeqLocked()
	for _, e := range journaled {
		if e.Seq <= last {
			return fmt.Errorf("event sequence %d not after %d", e.Seq, last)
		}
		last = e.Seq
	}
	s.events = append(s.events, journaled...)
	return nil
}

func (s *Store) Events(_ context.Context, after uint64, limit uint64) ([]storage.JournaledEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > after })
	out := []storage.JournaledEvent{}
	for ; i < len(s.events) && uint64(len(out)) < limit; i++ {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *Store) lastSeqLocked() uint64 {
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].Seq
}

func (s *Store) LastEventSeq(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeqLocked(), nil
}

func (s *Store) EnqueueReport(_ context.Context, r storage.QueuedReport) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[r.Hash]; ok {
		return 0, fmt.Errorf("report %s: %w", r.Hash.Hex(), storage.ErrAlreadyExists)
	}
	s.hashes[r.Hash] = struct{}{}
	r.ID = int64(len(s.reports) + 1)
	r.Status = storage.ReportPending
	r.Error = ""
	s.reports = append(s.reports, r)
	return r.ID, nil
}

func (s *Store) PendingReports(_ context.Context, limit uint64) ([]storage.QueuedReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []storage.QueuedReport{}
	for _, r := range s.reports {
		if uint64(len(out)) >= limit {
			break
		}
		if r.Status == storage.ReportPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) CompleteReport(_ context.Context, id int64, status storage.ReportStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.reports)) || s.reports[id-1].Status != storage.ReportPending {
		return fmt.Errorf("report %d: %w", id, storage.ErrNotFound)
	}
	s.reports[id-1].Status = status
	s.reports[id-1].Error = errText
	return nil
}

// Report returns a queued report by id regardless of its status.
func (s *Store) Report(id int64) (storage.QueuedReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.reports)) {
		return storage.QueuedReport{}, false
	}
	return s.reports[id-1], true
}

func (s *Store) Close() {}

func (s *Store) Name() string {
	return moduleName
}
