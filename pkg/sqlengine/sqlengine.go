// Package sqlengine wraps an embedded modernc.org/sqlite database as the
// opaque "execute(stmt) -> rows | affected_count" collaborator that
// spec.md treats as out of scope (SQL parsing and execution). Everything
// above this package only ever sees Engine and Tx; no caller reaches for
// database/sql directly.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Engine owns one site's on-disk database file.
type Engine struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path.
func Open(path string) (*Engine, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite engine: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite engine: %w", err)
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying database handle.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Tx is an open local transaction against the engine.
type Tx struct {
	tx *sql.Tx
}

// Begin opens a new local transaction. The transaction is not tied to
// ctx's cancellation: it stays open until Commit or Rollback, even after
// the request that opened it has finished.
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	tx, err := e.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Result is the outcome of executing one statement: either a row set
// (for queries that produce results) or an affected-row count (for
// mutations), mirroring spec.md §4.1's "rows | affected_count" contract.
type Result struct {
	Columns         []string
	Rows            []map[string]any
	AffectedRecords int64
}

// Exec runs stmt inside tx. hasResults controls whether the statement is
// read as a query (populating Rows/Columns) or as a mutation (populating
// AffectedRecords) — the executor already knows which from the caller's
// has_results flag, so this package never has to sniff SQL text.
func (t *Tx) Exec(ctx context.Context, stmt string, hasResults bool, args ...any) (*Result, error) {
	if hasResults {
		return t.query(ctx, stmt, args...)
	}
	return t.exec(ctx, stmt, args...)
}

func (t *Tx) query(ctx context.Context, stmt string, args ...any) (*Result, error) {
	rows, err := t.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	var out []map[string]any
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Result{Columns: columns, Rows: out}, nil
}

func (t *Tx) exec(ctx context.Context, stmt string, args ...any) (*Result, error) {
	res, err := t.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	return &Result{AffectedRecords: affected}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// ApplyStatements opens a transaction and applies every statement in
// order, leaving the transaction open for the caller to commit or roll
// back via FinalizeReplication once the coordinator's decision is
// known. Used by the replication path to apply a peer's update history
// with no result decoding needed.
func (e *Engine) ApplyStatements(ctx context.Context, stmts []string) (*Tx, error) {
	tx, err := e.Begin(ctx)
	if err != nil {
		return nil, err
	}
	for _, stmt := range stmts {
		if _, err := tx.exec(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}
	return tx, nil
}
