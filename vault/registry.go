package vault

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/custody"
	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/log"
)

// Registry creates vaults and looks them up by address. Vault addresses are
// derived from the factory address and a creation nonce.
type Registry struct {
	factory ethCommon.Address
	beacon  ethCommon.Address
	custody custody.Transferer
	quoter  custody.FeeQuoter
	sink    events.Sink
	logger  *log.Logger

	mu     sync.RWMutex
	nonce  uint64
	vaults map[ethCommon.Address]*Vault
}

func NewRegistry(factory, beacon ethCommon.Address, transferer custody.Transferer, quoter custody.FeeQuoter, sink events.Sink, logger *log.Logger) *Registry {
	return &Registry{
		factory: factory,
		beacon:  beacon,
		custody: transferer,
		quoter:  quoter,
		sink:    sink,
		logger:  logger.WithModule("vaults"),
		vaults:  make(map[ethCommon.Address]*Vault),
	}
}

// Create deploys a new detached vault owned by owner.
func (r *Registry) Create(owner ethCommon.Address) (*Vault, error) {
	if common.IsZeroAddress(owner) {
		return nil, fmt.Errorf("%w: owner", ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := crypto.CreateAddress(r.factory, r.nonce)
	v, err := New(Config{Address: addr, Owner: owner, Beacon: r.beacon}, r.custody, r.quoter, r.sink, r.logger)
	if err != nil {
		return nil, err
	}
	r.nonce++
	r.vaults[addr] = v
	r.logger.Info("vault created", "vault", addr.Hex(), "owner", owner.Hex())
	return v, nil
}

// Get returns the vault at addr.
func (r *Registry) Get(addr ethCommon.Address) (*Vault, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vaults[addr]
	return v, ok
}

// List returns all vaults ordered by address.
func (r *Registry) List() []*Vault {
	r.mu.RLock()
	out := make([]*Vault, 0, len(r.vaults))
	for _, v := range r.vaults {
		out = append(out, v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].address[:], out[j].address[:]) < 0
	})
	return out
}
