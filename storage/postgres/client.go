// Package postgres implements the target storage interface
// backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
	"github.com/oasisprotocol/vaulthub/storage"
)

const (
	moduleName = "postgres"
)

// Client is a client for connecting to PostgreSQL.
type Client struct {
	pool    *pgxpool.Pool
	logger  *log.Logger
	metrics metrics.DatabaseMetrics
}

var _ storage.TargetStorage = (*Client)(nil)

// pgxLogger is a pgx-compatible logger interface that uses the service's
// standard logger as the backend.
type pgxLogger struct {
	logger *log.Logger
}

// logFuncForLevel maps a pgx log severity level to a corresponding logger function.
func (l *pgxLogger) logFuncForLevel(level tracelog.LogLevel) func(string, ...interface{}) {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return l.logger.Debug
	case tracelog.LogLevelInfo:
		return l.logger.Info
	case tracelog.LogLevelWarn:
		return l.logger.Warn
	case tracelog.LogLevelError, tracelog.LogLevelNone:
		return l.logger.Error
	default:
		l.logger.Warn("Unknown log level", "unknown_level", level)
		return l.logger.Info
	}
}

// Log implements the tracelog.Logger interface.
func (l *pgxLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	args := []interface{}{}
	for k, v := range data {
		args = append(args, k, v)
	}

	logFunc := l.logFuncForLevel(level)
	logFunc(msg, args...)
}

// NewClient creates a new PostgreSQL client.
func NewClient(connString string, l *log.Logger) (*Client, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// Set up pgx logging. For a log line to be produced, it needs to be >= the level
	// specified here, and >= the level of the underlying logger. "Info" level
	// logs every SQL statement executed.
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		LogLevel: tracelog.LogLevelWarn,
		Logger: &pgxLogger{
			logger: l.WithModule(moduleName).With("db", config.ConnConfig.Database),
		},
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:    pool,
		logger:  l.WithModule(moduleName),
		metrics: metrics.NewDefaultDatabaseMetrics(moduleName),
	}, nil
}

// SendBatch submits a new batch of queries as an atomic transaction to PostgreSQL.
//
// Updated row counts are discarded. Only atomic success or failure of the
// batch matters to callers.
func (c *Client) SendBatch(ctx context.Context, batch *storage.QueryBatch) error {
	return c.SendBatchWithOptions(ctx, batch, pgx.TxOptions{})
}

// Submits a new batch in a single roundtrip to the server. It reports
// errors poorly: if _any_ query is malformed, pgx will report the _first_
// query as failing.
func (c *Client) sendBatchWithOptionsFast(ctx context.Context, batch *storage.QueryBatch, opts pgx.TxOptions) error {
	pgxBatch := batch.AsPgxBatch()

	tx, err := c.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	batchResults := tx.SendBatch(ctx, &pgxBatch)

	// Exec individual queries in the batch.
	for i := 0; i < pgxBatch.Len(); i++ {
		if _, err := batchResults.Exec(); err != nil {
			common.CloseOrLog(batchResults, c.logger)
			rollbackErr := ""
			if err2 := tx.Rollback(ctx); err2 != nil {
				rollbackErr = fmt.Sprintf("; also failed to rollback tx: %s", err2.Error())
			}
			return fmt.Errorf("query %d %v: %w%s", i, batch.Queries()[i].Cmd, err, rollbackErr)
		}
	}
	if err := batchResults.Close(); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to close batch: %w", err)
	}

	// Commit the tx.
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// Submits a new batch of queries, sending one query at a time. Compared with
// `sendBatchWithOptionsFast`, this is slower but reports errors precisely.
func (c *Client) sendBatchWithOptionsSlow(ctx context.Context, batch *storage.QueryBatch, opts pgx.TxOptions) error {
	// Begin a transaction.
	tx, err := c.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	// Exec individual queries in the batch.
	for i, q := range batch.Queries() {
		if _, err2 := tx.Exec(ctx, q.Cmd, q.Args...); err2 != nil {
			rollbackErr := ""
			err3 := tx.Rollback(ctx)
			if err3 != nil {
				rollbackErr = fmt.Sprintf("; also failed to rollback tx: %s", err3.Error())
			}
			return fmt.Errorf("query %d %v: %w%s", i, q.Cmd, err2, rollbackErr)
		}
	}

	// Commit the transaction.
	err = tx.Commit(ctx)
	if err != nil {
		c.logger.Error("failed to submit tx",
			"error", err,
			"batch_len", batch.Len(),
		)
		return err
	}
	return nil
}

// SendBatchWithOptions submits a batch within a transaction using opts.
func (c *Client) SendBatchWithOptions(ctx context.Context, batch *storage.QueryBatch, opts pgx.TxOptions) error {
	done := c.metrics.Track(moduleName, "batch")
	err := c.sendBatchWithOptionsFast(ctx, batch, opts)
	if err != nil {
		// The tx was reverted, so we can resubmit. This time, use the slow
		// method for better error messages.
		err = c.sendBatchWithOptionsSlow(ctx, batch, opts)
	}
	done(status(err))
	return err
}

// Query submits a new read query to PostgreSQL.
func (c *Client) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	done := c.metrics.Track(moduleName, "query")
	rows, err := c.pool.Query(ctx, sql, args...)
	done(status(err))
	if err != nil {
		c.logger.Error("failed to query db",
			"error", err,
			"query_cmd", sql,
			"query_args", args,
		)
		return nil, err
	}
	return rows, nil
}

// QueryRow submits a new read query for a single row to PostgreSQL.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a single statement outside of a batch.
func (c *Client) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	done := c.metrics.Track(moduleName, "exec")
	tag, err := c.pool.Exec(ctx, sql, args...)
	done(status(err))
	return tag, err
}

// Close implements the storage.TargetStorage interface for Client.
func (c *Client) Close() {
	c.pool.Close()
}

// Name implements the storage.TargetStorage interface for Client.
func (c *Client) Name() string {
	return moduleName
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, pgx.ErrNoRows):
		return "not_found"
	default:
		return "failure"
	}
}

// Wipe removes the ledger schema and the migration bookkeeping.
func (c *Client) Wipe(ctx context.Context) error {
	for _, stmt := range []string{
		"DROP SCHEMA IF EXISTS ledger CASCADE;",
		"DROP TABLE IF EXISTS public.schema_migrations;",
	} {
		c.logger.Info("wiping", "statement", stmt)
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
