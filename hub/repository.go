package hub

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/oasisprotocol/vaulthub/vault"
)

// entry holds one vault's record. Writers hold mu for the duration of an
// operation; readers load the last committed record without locking.
type entry struct {
	vault *vault.Vault

	mu      sync.Mutex
	removed bool
	rec     atomic.Pointer[Record]
}

func (e *entry) record() Record {
	return e.rec.Load().clone()
}

// repository is the registry of vault records keyed by vault address.
type repository struct {
	mu      sync.RWMutex
	entries map[ethCommon.Address]*entry
	// retired holds vaults whose records completed a disconnect.
	retired map[ethCommon.Address]struct{}
}

func newRepository() *repository {
	return &repository{
		entries: make(map[ethCommon.Address]*entry),
		retired: make(map[ethCommon.Address]struct{}),
	}
}

func (r *repository) get(addr ethCommon.Address) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[addr]
	return e, ok
}

func (r *repository) isRetired(addr ethCommon.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.retired[addr]
	return ok
}

// admit inserts a new record for v. prepare runs under the repository
// lock after the existence check and may veto the insertion.
func (r *repository) admit(v *vault.Vault, prepare func(existing *Record) (Record, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *Record
	if e, ok := r.entries[v.Address()]; ok {
		rec := e.record()
		existing = &rec
	}
	rec, err := prepare(existing)
	if err != nil {
		return err
	}
	if err := rec.check(); err != nil {
		return err
	}
	if !Disconnected.CanTransitionTo(rec.State) {
		return fmt.Errorf("%w: cannot admit a record in state %s", ErrInvariantViolation, rec.State)
	}
	e := &entry{vault: v}
	e.rec.Store(&rec)
	r.entries[v.Address()] = e
	delete(r.retired, v.Address())
	return nil
}

// validate checks that next is a legal successor of the committed record.
func (r *repository) validate(e *entry, next Record) error {
	prev := e.rec.Load()
	if next.Vault != prev.Vault {
		return fmt.Errorf("%w: record vault changed", ErrInvariantViolation)
	}
	if !prev.State.CanTransitionTo(next.State) {
		return fmt.Errorf("%w: transition %s -> %s", ErrInvariantViolation, prev.State, next.State)
	}
	if next.SettledFees.Value().Cmp(prev.SettledFees.Value()) < 0 || next.CumulativeFees.Value().Cmp(prev.CumulativeFees.Value()) < 0 {
		return fmt.Errorf("%w: fee counters decreased", ErrInvariantViolation)
	}
	return next.check()
}

// commit publishes next. Callers hold e.mu and have validated next.
func (r *repository) commit(e *entry, next Record) {
	if next.State == Disconnected {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.entries, next.Vault)
		r.retired[next.Vault] = struct{}{}
		e.removed = true
	}
	e.rec.Store(&next)
}

// list returns all entries ordered by vault address.
func (r *repository) list() []*entry {
	r.mu.RLock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].vault.Address(), out[j].vault.Address()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}
