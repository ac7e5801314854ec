// Package fsqlite is the public API (spec §6): Open a database file, run
// statements through a Connection, and step through results with a
// Statement. It wires the parser, vdbe, mvcc, and btree packages together
// the way the teacher's cmd/novusdb and engine packages wire its own
// storage stack to its own SQL front-end.
package fsqlite

import (
	"fmt"
	"strings"
	"sync"

	"github.com/frankensqlite/frankensqlite/btree"
	"github.com/frankensqlite/frankensqlite/mvcc"
	"github.com/frankensqlite/frankensqlite/parser"
	"github.com/frankensqlite/frankensqlite/storage"
	"github.com/frankensqlite/frankensqlite/vfs"
	"github.com/frankensqlite/frankensqlite/wal"
)

const defaultPageSize = 4096
const defaultCachePages = 2000

// Conn is an open database. Safe for concurrent use: every Execute/Prepare
// begins its own mvcc transaction.
type Conn struct {
	mu      sync.Mutex
	engine  *mvcc.Engine
	schema  *Schema
	pragmas *pragmaStore
}

// Open opens (creating if necessary) the database file at path. path may be
// ":memory:" for a private, process-local in-memory database, matching
// sqlite3_open's special-case filename.
func Open(path string) (*Conn, error) {
	var v vfs.VFS
	if path == ":memory:" {
		v = vfs.NewMemory()
	} else {
		v = vfs.Native()
	}
	pager, err := storage.Open(v, path, defaultPageSize, defaultCachePages, false)
	if err != nil {
		return nil, fmt.Errorf("fsqlite: open pager: %w", err)
	}
	w, err := wal.Open(v, path, defaultPageSize)
	if err != nil {
		return nil, fmt.Errorf("fsqlite: open wal: %w", err)
	}
	pragmas := newPragmaStore()
	engine := mvcc.New(pager, w, pragmas.bool("serializable"))
	return &Conn{engine: engine, schema: newSchema(), pragmas: pragmas}, nil
}

// Pragma sets or reads one of fsqlite's configuration knobs
// ("serializable", "merge_ladder"). Called with only name, it returns the
// current value; called with a value, it sets it. Only merge_ladder takes
// effect on an open connection: serializable is read once, when Open builds
// the engine, so setting it later changes the stored value but not the
// engine's commit validation.
func (c *Conn) Pragma(name string, value ...string) (string, error) {
	if len(value) == 0 {
		v, ok := c.pragmas.Get(name)
		if !ok {
			return "", fmt.Errorf("fsqlite: unknown pragma %q", name)
		}
		return v, nil
	}
	if err := c.pragmas.Set(name, value[0]); err != nil {
		return "", err
	}
	if name == "merge_ladder" {
		c.engine.EnableMergeLadder(c.pragmas.bool("merge_ladder"))
	}
	return value[0], nil
}

// Checkpoint copies committed WAL frames back into the main database file
// (spec §4.3), matching sqlite3's PRAGMA wal_checkpoint(MODE). mode is one
// of "passive", "full", "restart", "truncate" (case-insensitive); an empty
// mode defaults to "passive".
func (c *Conn) Checkpoint(mode string) (mvcc.CheckpointResult, error) {
	m, err := parseCheckpointMode(mode)
	if err != nil {
		return mvcc.CheckpointResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Checkpoint(m)
}

func parseCheckpointMode(mode string) (mvcc.CheckpointMode, error) {
	switch strings.ToLower(mode) {
	case "", "passive":
		return mvcc.CheckpointPassive, nil
	case "full":
		return mvcc.CheckpointFull, nil
	case "restart":
		return mvcc.CheckpointRestart, nil
	case "truncate":
		return mvcc.CheckpointTruncate, nil
	default:
		return 0, fmt.Errorf("fsqlite: unknown checkpoint mode %q", mode)
	}
}

// CreateTable registers a new table with the given column names and
// allocates its root page. There is no CREATE TABLE statement in the parser
// (see parser/parser.go); schema changes go through this Go API instead.
func (c *Conn) CreateTable(name string, columns []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	txn := c.engine.Begin()
	tbl, err := btree.NewTable(txn)
	if err != nil {
		txn.Abort()
		return fmt.Errorf("fsqlite: create table %s: %w", name, err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("fsqlite: create table %s: %w", name, err)
	}
	c.schema.put(&TableDef{Name: name, Columns: append([]string{}, columns...), RootPage: tbl.RootPage, Indexes: make(map[string]*IndexDef)})
	return nil
}

// CreateIndex registers a secondary index over one column of an existing
// table.
func (c *Conn) CreateIndex(indexName, tableName, column string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.schema.get(tableName)
	if err != nil {
		return err
	}
	if tbl.columnIndex(column) < 0 {
		return fmt.Errorf("fsqlite: no such column %q on table %q", column, tableName)
	}
	txn := c.engine.Begin()
	ix, err := btree.NewIndex(txn)
	if err != nil {
		txn.Abort()
		return fmt.Errorf("fsqlite: create index %s: %w", indexName, err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("fsqlite: create index %s: %w", indexName, err)
	}
	tbl.Indexes[indexName] = &IndexDef{Name: indexName, Column: column, RootPage: ix.RootPage}
	return nil
}

// Execute compiles and runs sql to completion (discarding any result rows)
// in its own transaction, and returns the number of rows affected.
func (c *Conn) Execute(sql string, args ...interface{}) (int, error) {
	stmt, err := c.Prepare(sql)
	if err != nil {
		return 0, err
	}
	defer stmt.Finalize()
	if err := stmt.Bind(args...); err != nil {
		return 0, err
	}
	n := 0
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return n, err
		}
		if !hasRow {
			break
		}
		n++
	}
	if err := stmt.commit(); err != nil {
		return n, err
	}
	if n == 0 {
		n = stmt.RowsAffected()
	}
	return n, nil
}

// Prepare parses sql and compiles it against the current schema, but does
// not yet run it — matching sqlite3_prepare/Statement.Step's split.
func (c *Conn) Prepare(sql string) (*Statement, error) {
	ast, err := parser.NewParser(sql).Parse()
	if err != nil {
		return nil, err
	}
	return &Statement{conn: c, ast: ast}, nil
}

// Tx is a transaction handle passed into Connection.Transaction's callback.
type Tx struct {
	conn *Conn
	txn  *mvcc.Transaction
}

// Execute runs sql inside the enclosing transaction (no implicit commit).
func (tx *Tx) Execute(sql string, args ...interface{}) (int, error) {
	ast, err := parser.NewParser(sql).Parse()
	if err != nil {
		return 0, err
	}
	stmt := &Statement{conn: tx.conn, ast: ast, sharedTxn: tx.txn}
	if err := stmt.Bind(args...); err != nil {
		return 0, err
	}
	n := 0
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return n, err
		}
		if !hasRow {
			break
		}
		n++
	}
	if n == 0 {
		n = stmt.RowsAffected()
	}
	return n, nil
}

// Savepoint/RollbackTo/Release expose the transaction's savepoint stack
// (spec §4.5.8) to multi-statement application code.
func (tx *Tx) Savepoint(name string) error       { return tx.txn.Savepoint(name) }
func (tx *Tx) RollbackTo(name string) error       { return tx.txn.RollbackTo(name) }
func (tx *Tx) ReleaseSavepoint(name string) error { return tx.txn.ReleaseSavepoint(name) }

// Transaction runs fn inside a single mvcc transaction, committing if fn
// returns nil and aborting otherwise.
func (c *Conn) Transaction(fn func(*Tx) error) error {
	txn := c.engine.Begin()
	if err := fn(&Tx{conn: c, txn: txn}); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}
