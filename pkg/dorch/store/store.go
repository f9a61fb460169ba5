// Package store persists graph sessions and everything hanging off them:
// endpoints, ports, logical and external flow rules with their matches and
// actions, VLAN usage tracking, VNFs and users. SQLite is the backing
// engine; every mutating operation runs inside one transaction so a failed
// write never leaves a half-stored graph behind.
package store

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dorch-network/dorch/pkg/util"
)

// Options carries the persistence policy the store cannot derive itself.
type Options struct {
	// GreBridgeID is the switch id recorded for ports of gre-tunnel
	// endpoints; all GRE terminations live on one dedicated bridge.
	GreBridgeID string
}

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	opts Options
}

// Open opens (creating if needed) the database at path and ensures the
// schema. Use ":memory:" for throwaway stores.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, util.NewStorageError("open database", err)
	}
	// SQLite serialises writers anyway; one connection also keeps
	// in-memory databases coherent across the pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, opts: opts}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, util.NewStorageError("create schema", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. The daemon refuses to start
// when this fails.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return util.NewStorageError("ping", err)
	}
	return nil
}

// Transaction runs f inside a transaction, rolling back on error. A
// rollback failure is logged, not returned: the original error matters
// more.
func (s *Store) Transaction(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			util.Logger.Warnf("transaction rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can
// run standalone or inside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// storageError wraps err unless it already is a StorageError.
func storageError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var se *util.StorageError
	if errors.As(err, &se) {
		return err
	}
	return util.NewStorageError(operation, err)
}

// noRows reports the absent-result condition for callers that treat
// missing rows as nil.
func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func count(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
