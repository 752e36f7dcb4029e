// Package query builds processes whose body runs SQL against PostgreSQL.
//
// Statements are squirrel builders. Arguments that are Param values become
// process inputs and are bound to the input values at execution time:
//
//	q := query.Select("id", "name").
//	    From("parcels").
//	    Where(squirrel.Eq{"zone": query.Param("zone")}).
//	    OrderBy("id").
//	    Limit(10)
//	p, err := query.NewProcess("parcelsInZone", db, q)
//
// The resulting process has one input per distinct Param, in order of
// first appearance, and a single output named "rows".
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RowsOutput is the output of a query process.
const RowsOutput = "rows"

// AffectedOutput is the output of an exec process.
const AffectedOutput = "affected"

// DB is the subset of a pgx pool used by query bodies. Both *pgxpool.Pool
// and pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Param marks a statement argument that is provided by a process input of
// the same name.
type Param string

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Select starts a SELECT statement with PostgreSQL placeholders.
func Select(columns ...string) squirrel.SelectBuilder {
	return builder.Select(columns...)
}

// Insert starts an INSERT statement with PostgreSQL placeholders.
func Insert(table string) squirrel.InsertBuilder {
	return builder.Insert(table)
}

// Update starts an UPDATE statement with PostgreSQL placeholders.
func Update(table string) squirrel.UpdateBuilder {
	return builder.Update(table)
}

// Delete starts a DELETE statement with PostgreSQL placeholders.
func Delete(table string) squirrel.DeleteBuilder {
	return builder.Delete(table)
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
