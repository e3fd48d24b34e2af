// Package db holds the read-only probes run against the indexer database.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"

	"github.com/opi-lc/opi-verifier/types"
)

// sqlStateUndefinedTable is the postgres error code for a missing relation.
const sqlStateUndefinedTable = "42P01"

// IndexerVersion is the single row of the <prefix>_indexer_version table.
type IndexerVersion struct {
	DBVersion        int64
	EventHashVersion int64
}

// Prober is the set of probes the checks run. Implementations must be safe
// for concurrent use; every probe is read-only.
type Prober interface {
	Now(ctx context.Context) (time.Time, error)
	TableExists(ctx context.Context, table string) (bool, error)
	IndexerVersion(ctx context.Context) (IndexerVersion, error)
	EventTypes(ctx context.Context) ([]string, error)
	RowCount(ctx context.Context, table string) (int64, error)
	Close()
}

type Config struct {
	DSN         string
	TablePrefix string
	Timeout     time.Duration // Per query
	Log         log.Logger
}

type PGXDB struct {
	pool    *pgxpool.Pool
	prefix  string
	timeout time.Duration
	log     log.Logger
}

var _ Prober = (*PGXDB)(nil)

// New creates a lazily connecting pool. Connection failures surface on the
// first probe.
func New(ctx context.Context, cfg Config) (*PGXDB, error) {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, types.NewConfigError("invalid database configuration: %v", err)
	}
	poolCfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}
	return &PGXDB{
		pool:    pool,
		prefix:  cfg.TablePrefix,
		timeout: cfg.Timeout,
		log:     cfg.Log,
	}, nil
}

// Table returns the prefixed name of a table.
func (p *PGXDB) Table(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "_" + suffix
}

func (p *PGXDB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *PGXDB) Now(ctx context.Context) (time.Time, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var now time.Time
	if err := p.pool.QueryRow(ctx, "SELECT NOW()").Scan(&now); err != nil {
		return time.Time{}, classify(pkgerrors.Wrap(err, "database connection failed"))
	}
	return now, nil
}

func (p *PGXDB) TableExists(ctx context.Context, table string) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	sql := `
SELECT EXISTS (
	SELECT FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`
	var exists bool
	if err := p.pool.QueryRow(ctx, sql, table).Scan(&exists); err != nil {
		return false, classify(pkgerrors.Wrapf(err, "failed to look up table %s", table))
	}
	return exists, nil
}

func (p *PGXDB) IndexerVersion(ctx context.Context) (IndexerVersion, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	table := p.Table("indexer_version")
	sql := fmt.Sprintf("SELECT db_version, event_hash_version FROM %s LIMIT 1", pgx.Identifier{table}.Sanitize())
	var v IndexerVersion
	if err := p.pool.QueryRow(ctx, sql).Scan(&v.DBVersion, &v.EventHashVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IndexerVersion{}, types.NewSchemaError("%s has no rows", table)
		}
		return IndexerVersion{}, classify(pkgerrors.Wrapf(err, "failed to read %s", table))
	}
	return v, nil
}

func (p *PGXDB) EventTypes(ctx context.Context) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	table := p.Table("event_types")
	rows, err := p.pool.Query(ctx, fmt.Sprintf("SELECT event_type_name FROM %s", pgx.Identifier{table}.Sanitize()))
	if err != nil {
		return nil, classify(pkgerrors.Wrapf(err, "failed to read %s", table))
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(pkgerrors.Wrapf(err, "failed to read %s", table))
	}
	return names, nil
}

func (p *PGXDB) RowCount(ctx context.Context, table string) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var n int64
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{table}.Sanitize())
	if err := p.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, classify(pkgerrors.Wrapf(err, "failed to count %s", table))
	}
	return n, nil
}

func (p *PGXDB) Close() {
	p.pool.Close()
}

// classify tags err with the kind a check should report: a missing relation
// is a schema problem, anything else is connectivity.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == sqlStateUndefinedTable {
			return &types.CheckError{Kind: types.KindSchema, Err: err}
		}
		return &types.CheckError{Kind: types.KindAssertion, Err: err}
	}
	return &types.CheckError{Kind: types.KindConnectivity, Err: err}
}
