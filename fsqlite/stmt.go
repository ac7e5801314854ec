package fsqlite

import (
	"context"
	"fmt"

	"github.com/frankensqlite/frankensqlite/btree"
	"github.com/frankensqlite/frankensqlite/mvcc"
	"github.com/frankensqlite/frankensqlite/parser"
	"github.com/frankensqlite/frankensqlite/vdbe"
)

// Statement is a parsed, compiled query bound to a Connection. Mirrors
// sqlite3_stmt's bind/step/column/reset/finalize lifecycle (spec §6).
type Statement struct {
	conn      *Conn
	ast       parser.Statement
	sharedTxn *mvcc.Transaction // set by Tx.Execute; Prepare/Execute own their txn instead

	params []btree.Value

	ownTxn   *mvcc.Transaction
	executed bool
	finished bool

	resultCols []string
	rows       []map[string]btree.Value
	pos        int
	affected   int
}

// Bind attaches positional parameter values for the statement's "?"
// placeholders.
func (s *Statement) Bind(args ...interface{}) error {
	vals := make([]btree.Value, len(args))
	for i, a := range args {
		vals[i] = a
	}
	s.params = vals
	return nil
}

func (s *Statement) txn() *mvcc.Transaction {
	if s.sharedTxn != nil {
		return s.sharedTxn
	}
	if s.ownTxn == nil {
		s.ownTxn = s.conn.engine.Begin()
	}
	return s.ownTxn
}

// Step advances through the statement's results. For SELECT it returns true
// once per row until exhausted; for INSERT/UPDATE/DELETE it executes the
// whole operation on the first call and always returns false — use
// RowsAffected for the count.
func (s *Statement) Step() (bool, error) {
	if s.finished {
		return false, fmt.Errorf("fsqlite: step called on a finalized statement")
	}
	if !s.executed {
		if err := s.execute(); err != nil {
			return false, err
		}
		s.executed = true
	}
	if s.pos >= len(s.rows) {
		return false, nil
	}
	s.pos++
	return true, nil
}

func (s *Statement) execute() error {
	switch stmt := s.ast.(type) {
	case *parser.SelectStatement:
		return s.execSelect(stmt)
	case *parser.InsertStatement:
		return s.execInsert(stmt)
	case *parser.UpdateStatement:
		return s.execUpdate(stmt)
	case *parser.DeleteStatement:
		return s.execDelete(stmt)
	default:
		return fmt.Errorf("fsqlite: unsupported statement %T", s.ast)
	}
}

func (s *Statement) execSelect(sel *parser.SelectStatement) error {
	tbl, err := s.conn.schema.get(sel.From)
	if err != nil {
		return err
	}
	scanned, err := runScan(s.txn(), tbl)
	if err != nil {
		return err
	}

	star := len(sel.Columns) == 1
	if star {
		if _, ok := sel.Columns[0].(*parser.IdentExpr); ok && sel.Columns[0].(*parser.IdentExpr).Name == "*" {
			s.resultCols = append([]string{}, tbl.Columns...)
		} else {
			star = false
		}
	}
	if !star {
		for _, c := range sel.Columns {
			if id, ok := c.(*parser.IdentExpr); ok {
				s.resultCols = append(s.resultCols, id.Name)
			}
		}
	}

	for _, r := range scanned {
		row := rowAsMap(tbl, r)
		if sel.Where != nil {
			v, err := evalExpr(sel.Where, row, s.params)
			if err != nil {
				return err
			}
			if !truthyValue(v) {
				continue
			}
		}
		s.rows = append(s.rows, row)
		if sel.Limit >= 0 && len(s.rows) >= sel.Limit {
			break
		}
	}
	return nil
}

func (s *Statement) execInsert(ins *parser.InsertStatement) error {
	tbl, err := s.conn.schema.get(ins.Table)
	if err != nil {
		return err
	}
	txn := s.txn()
	for _, row := range ins.Rows {
		vals := make([]btree.Value, len(tbl.Columns))
		for _, fa := range row {
			name := fieldName(fa.Field)
			idx := tbl.columnIndex(name)
			if idx < 0 {
				return fmt.Errorf("fsqlite: no such column %q on table %q", name, ins.Table)
			}
			v, err := evalExpr(fa.Value, nil, s.params)
			if err != nil {
				return err
			}
			vals[idx] = v
		}
		prog := compileInsertOne(tbl, vals)
		vm := vdbe.New(prog, txn, nil)
		if err := vm.Run(context.Background()); err != nil {
			return err
		}
		s.affected++
	}
	return nil
}

func (s *Statement) execUpdate(upd *parser.UpdateStatement) error {
	tbl, err := s.conn.schema.get(upd.Table)
	if err != nil {
		return err
	}
	txn := s.txn()
	scanned, err := runScan(txn, tbl)
	if err != nil {
		return err
	}
	for _, r := range scanned {
		row := rowAsMap(tbl, r)
		if upd.Where != nil {
			v, err := evalExpr(upd.Where, row, s.params)
			if err != nil {
				return err
			}
			if !truthyValue(v) {
				continue
			}
		}
		vals := append([]btree.Value{}, r.cols...)
		for _, fa := range upd.Assignments {
			name := fieldName(fa.Field)
			idx := tbl.columnIndex(name)
			if idx < 0 {
				return fmt.Errorf("fsqlite: no such column %q on table %q", name, upd.Table)
			}
			v, err := evalExpr(fa.Value, row, s.params)
			if err != nil {
				return err
			}
			vals[idx] = v
		}
		prog := compileUpdateOne(tbl, r.rowid, vals)
		vm := vdbe.New(prog, txn, nil)
		if err := vm.Run(context.Background()); err != nil {
			return err
		}
		s.affected++
	}
	return nil
}

func (s *Statement) execDelete(del *parser.DeleteStatement) error {
	tbl, err := s.conn.schema.get(del.Table)
	if err != nil {
		return err
	}
	txn := s.txn()
	scanned, err := runScan(txn, tbl)
	if err != nil {
		return err
	}
	for _, r := range scanned {
		row := rowAsMap(tbl, r)
		if del.Where != nil {
			v, err := evalExpr(del.Where, row, s.params)
			if err != nil {
				return err
			}
			if !truthyValue(v) {
				continue
			}
		}
		prog := compileDeleteOne(tbl, r.rowid)
		vm := vdbe.New(prog, txn, nil)
		if err := vm.Run(context.Background()); err != nil {
			return err
		}
		s.affected++
	}
	return nil
}

func fieldName(e parser.Expr) string {
	switch x := e.(type) {
	case *parser.IdentExpr:
		return x.Name
	case *parser.DotExpr:
		return x.Parts[len(x.Parts)-1]
	default:
		return ""
	}
}

// Column returns the value of the current row's i'th result column.
func (s *Statement) Column(i int) (btree.Value, error) {
	if s.pos == 0 || s.pos > len(s.rows) {
		return nil, fmt.Errorf("fsqlite: no current row")
	}
	if i < 0 || i >= len(s.resultCols) {
		return nil, fmt.Errorf("fsqlite: column index %d out of range", i)
	}
	return s.rows[s.pos-1][s.resultCols[i]], nil
}

// ColumnNames returns the current result set's column names.
func (s *Statement) ColumnNames() []string {
	return append([]string{}, s.resultCols...)
}

// RowsAffected returns how many rows the last INSERT/UPDATE/DELETE touched.
func (s *Statement) RowsAffected() int { return s.affected }

// Reset rewinds the statement so it can be Step-ed through again with
// (possibly new) bound parameters, without recompiling the AST.
func (s *Statement) Reset() {
	s.executed = false
	s.rows = nil
	s.resultCols = nil
	s.pos = 0
	s.affected = 0
	if s.ownTxn != nil {
		s.ownTxn.Abort()
		s.ownTxn = nil
	}
}

// commit commits the statement's own transaction, if it opened one (a
// statement run via Tx.Execute shares its caller's transaction instead).
func (s *Statement) commit() error {
	if s.ownTxn == nil {
		return nil
	}
	err := s.ownTxn.Commit()
	s.ownTxn = nil
	return err
}

// Commit commits the statement's own transaction. Callers that drive a
// Statement directly through Prepare/Step (rather than Connection.Execute,
// which calls this automatically) must call it once Step is exhausted.
func (s *Statement) Commit() error { return s.commit() }

// Finalize releases the statement's resources, aborting any transaction it
// opened for itself that was never committed.
func (s *Statement) Finalize() error {
	if s.finished {
		return nil
	}
	s.finished = true
	if s.ownTxn != nil {
		return s.ownTxn.Abort()
	}
	return nil
}
