// Package storage defines storage interfaces.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/events"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a row with the same unique key exists.
var ErrAlreadyExists = errors.New("already exists")

// QueryResults represents the results from a read query.
type QueryResults = pgx.Rows

// QueryResult represents the result from a read query.
type QueryResult = pgx.Row

// Query is one statement of a QueryBatch.
type Query struct {
	Cmd  string
	Args []interface{}
}

// QueryBatch represents a batch of queries to be executed atomically.
type QueryBatch struct {
	items []*Query
}

// Queue adds a statement to the batch.
func (b *QueryBatch) Queue(cmd string, args ...interface{}) {
	b.items = append(b.items, &Query{Cmd: cmd, Args: args})
}

// Extend appends all statements of other.
func (b *QueryBatch) Extend(other *QueryBatch) {
	b.items = append(b.items, other.items...)
}

func (b *QueryBatch) Len() int {
	return len(b.items)
}

// Queries returns the queued statements.
func (b *QueryBatch) Queries() []*Query {
	return b.items
}

// AsPgxBatch converts the batch for submission in a single round trip.
func (b *QueryBatch) AsPgxBatch() pgx.Batch {
	var batch pgx.Batch
	for _, q := range b.items {
		batch.Queue(q.Cmd, q.Args...)
	}
	return batch
}

// TargetStorage defines an interface for reading and writing ledger data.
type TargetStorage interface {
	// SendBatch sends a batch of queries to be applied to target storage.
	SendBatch(ctx context.Context, batch *QueryBatch) error

	// Query submits a query to fetch data from target storage.
	Query(ctx context.Context, sql string, args ...interface{}) (QueryResults, error)

	// QueryRow submits a query to fetch a single row of data from target storage.
	QueryRow(ctx context.Context, sql string, args ...interface{}) QueryResult

	// Close shuts down the storage client.
	Close()

	// Name returns the name of the target storage.
	Name() string
}

// VaultSnapshot is the persisted view of one vault and its ledger record.
type VaultSnapshot struct {
	Vault            ethCommon.Address `json:"vault"`
	Owner            ethCommon.Address `json:"owner"`
	State            string            `json:"state"`
	LiabilityShares  common.BigInt     `json:"liability_shares"`
	RedemptionShares common.BigInt     `json:"redemption_shares"`
	CumulativeFees   common.BigInt     `json:"cumulative_fees"`
	SettledFees      common.BigInt     `json:"settled_fees"`
	TotalValue       common.BigInt     `json:"total_value"`
	Locked           common.BigInt     `json:"locked"`
	Balance          common.BigInt     `json:"balance"`
	DepositsPaused   bool              `json:"deposits_paused"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ReportStatus is the processing state of a queued report.
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportProcessed ReportStatus = "processed"
	ReportFailed    ReportStatus = "failed"
)

// QueuedReport is a report waiting in or processed from the report queue.
type QueuedReport struct {
	ID             int64             `json:"id"`
	Hash           ethCommon.Hash    `json:"hash"`
	Vault          ethCommon.Address `json:"vault"`
	TotalValue     common.BigInt     `json:"total_value"`
	InOutDelta     common.BigInt     `json:"in_out_delta"`
	Locked         common.BigInt     `json:"locked"`
	CumulativeFees common.BigInt     `json:"cumulative_fees"`
	Timestamp      time.Time         `json:"timestamp"`
	Submitter      ethCommon.Address `json:"submitter"`
	Status         ReportStatus      `json:"status"`
	Error          string            `json:"error,omitempty"`
}

// LedgerStorage persists the ledger's observable state: vault snapshots,
// the event journal and the pending report queue.
type LedgerStorage interface {
	// UpsertVault stores the latest snapshot of a vault.
	UpsertVault(ctx context.Context, v VaultSnapshot) error

	// Vault returns the latest snapshot of a vault, or ErrNotFound.
	Vault(ctx context.Context, vault ethCommon.Address) (*VaultSnapshot, error)

	// Vaults returns all snapshots ordered by vault address.
	Vaults(ctx context.Context) ([]VaultSnapshot, error)

	// AppendEvents journals events. Sequence numbers are unique.
	AppendEvents(ctx context.Context, evs []events.Envelope) error

	// Events returns up to limit journaled events with seq > after in
	// sequence order. Event bodies are returned as raw JSON.
	Events(ctx context.Context, after uint64, limit uint64) ([]JournaledEvent, error)

	// LastEventSeq returns the highest journaled sequence number, or 0.
	LastEventSeq(ctx context.Context) (uint64, error)

	// EnqueueReport queues a report for processing and returns its id.
	EnqueueReport(ctx context.Context, r QueuedReport) (int64, error)

	// PendingReports returns up to limit pending reports, oldest first.
	PendingReports(ctx context.Context, limit uint64) ([]QueuedReport, error)

	// CompleteReport marks a queued report processed or failed.
	CompleteReport(ctx context.Context, id int64, status ReportStatus, errText string) error

	// Close releases the underlying resources.
	Close()

	// Name returns the name of the storage backend.
	Name() string
}

// JournaledEvent is a persisted event.
type JournaledEvent struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      events.Kind       `json:"kind"`
	Vault     ethCommon.Address `json:"vault"`
	Body      json.RawMessage   `json:"body"`
}
