package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oasisprotocol/vaulthub/events"
	"github.com/oasisprotocol/vaulthub/storage"
)

// LedgerStore implements storage.LedgerStorage on top of a Client.
type LedgerStore struct {
	*Client
}

var _ storage.LedgerStorage = (*LedgerStore)(nil)

// NewLedgerStore wraps c. The ledger schema must have been migrated.
func NewLedgerStore(c *Client) *LedgerStore {
	return &LedgerStore{Client: c}
}

func (s *LedgerStore) UpsertVault(ctx context.Context, v storage.VaultSnapshot) error {
	batch := &storage.QueryBatch{}
	batch.Queue(upsertVault,
		v.Vault.Hex(),
		v.Owner.Hex(),
		v.State,
		v.LiabilityShares,
		v.RedemptionShares,
		v.CumulativeFees,
		v.SettledFees,
		v.TotalValue,
		v.Locked,
		v.Balance,
		v.DepositsPaused,
		v.UpdatedAt,
	)
	return s.SendBatch(ctx, batch)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVault(row rowScanner) (*storage.VaultSnapshot, error) {
	var (
		v            storage.VaultSnapshot
		vault, owner string
	)
	if err := row.Scan(
		&vault,
		&owner,
		&v.State,
		&v.LiabilityShares,
		&v.RedemptionShares,
		&v.CumulativeFees,
		&v.SettledFees,
		&v.TotalValue,
		&v.Locked,
		&v.Balance,
		&v.DepositsPaused,
		&v.UpdatedAt,
	); err != nil {
		return nil, err
	}
	v.Vault = ethCommon.HexToAddress(vault)
	v.Owner = ethCommon.HexToAddress(owner)
	return &v, nil
}

func (s *LedgerStore) Vault(ctx context.Context, vault ethCommon.Address) (*storage.VaultSnapshot, error) {
	v, err := scanVault(s.QueryRow(ctx, selectVault, vault.Hex()))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, storage.ErrNotFound
	case err != nil:
		return nil, err
	}
	return v, nil
}

func (s *LedgerStore) Vaults(ctx context.Context) ([]storage.VaultSnapshot, error) {
	rows, err := s.Query(ctx, selectVaults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.VaultSnapshot{}
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *LedgerStore) AppendEvents(ctx context.Context, evs []events.Envelope) error {
	if len(evs) == 0 {
		return nil
	}
	batch := &storage.QueryBatch{}
	for _, e := range evs {
		body, err := json.Marshal(e.Event)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", e.Seq, err)
		}
		batch.Queue(insertEvent,
			int64(e.Seq),
			e.ID.String(),
			e.Timestamp,
			string(e.Kind),
			e.Event.VaultAddress().Hex(),
			body,
		)
	}
	return s.SendBatch(ctx, batch)
}

func (s *LedgerStore) Events(ctx context.Context, after uint64, limit uint64) ([]storage.JournaledEvent, error) {
	rows, err := s.Query(ctx, selectEvents, int64(after), int64(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.JournaledEvent{}
	for rows.Next() {
		var (
			e     storage.JournaledEvent
			seq   int64
			kind  string
			vault string
			body  []byte
		)
		if err := rows.Scan(&e.ID, &seq, &e.Timestamp, &kind, &vault, &body); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Kind = events.Kind(kind)
		e.Vault = ethCommon.HexToAddress(vault)
		e.Body = body
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *LedgerStore) LastEventSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.QueryRow(ctx, selectLastEventSeq).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

func (s *LedgerStore) EnqueueReport(ctx context.Context, r storage.QueuedReport) (int64, error) {
	var id int64
	err := s.QueryRow(ctx, insertReport,
		r.Hash.Hex(),
		r.Vault.Hex(),
		r.TotalValue,
		r.InOutDelta,
		r.Locked,
		r.CumulativeFees,
		r.Timestamp,
		r.Submitter.Hex(),
	).Scan(&id)
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return 0, fmt.Errorf("report %s: %w", r.Hash.Hex(), storage.ErrAlreadyExists)
	case err != nil:
		return 0, err
	}
	return id, nil
}

func (s *LedgerStore) PendingReports(ctx context.Context, limit uint64) ([]storage.QueuedReport, error) {
	rows, err := s.Query(ctx, selectPendingReports, int64(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.QueuedReport{}
	for rows.Next() {
		var (
			r                      storage.QueuedReport
			hash, vault, submitter string
			status                 string
		)
		if err := rows.Scan(
			&r.ID,
			&hash,
			&vault,
			&r.TotalValue,
			&r.InOutDelta,
			&r.Locked,
			&r.CumulativeFees,
			&r.Timestamp,
			&submitter,
			&status,
			&r.Error,
		); err != nil {
			return nil, err
		}
		r.Hash = ethCommon.HexToHash(hash)
		r.Vault = ethCommon.HexToAddress(vault)
		r.Submitter = ethCommon.HexToAddress(submitter)
		r.Status = storage.ReportStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *LedgerStore) CompleteReport(ctx context.Context, id int64, status storage.ReportStatus, errText string) error {
	tag, err := s.Exec(ctx, completeReport, id, string(status), errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %d: %w", id, storage.ErrNotFound)
	}
	return nil
}
