package vdbe

import (
	"context"
	"errors"
	"fmt"

	"github.com/frankensqlite/frankensqlite/btree"
	"github.com/frankensqlite/frankensqlite/storage"
)

// ErrInterrupted is returned when the calling context is cancelled between
// opcode-count checkpoints (spec §4.7 "Suspension").
var ErrInterrupted = errors.New("vdbe: interrupted")

// checkInterval is how many opcodes the VM executes between context
// cancellation checks; spec §4.7 names 1024 as the default.
const checkInterval = 1024

func rootAsPageNumber(root uint32) storage.PageNumber {
	return storage.PageNumber(root)
}

// Txn is the subset of *mvcc.Transaction the VM drives directly: page access
// (satisfying btree.PageSource structurally) and transaction-control
// opcodes. It has no intent-logging method, so the VM records no
// merge-ladder intents.
// Declared locally so vdbe does not import mvcc's commit/SSI internals,
// mirroring how btree.PageSource avoids the same import.
type Txn interface {
	btree.PageSource
	Commit() error
	Abort() error
	Savepoint(name string) error
	RollbackTo(name string) error
	ReleaseSavepoint(name string) error
}

// RowHandler receives one OpResultRow's worth of output values.
type RowHandler func(vals []btree.Value) error

// VM is one run of a compiled Program against a transaction's page view.
// Grounded on JuniperBible's internal/vdbe.VM (register file + cursor array +
// fetch-decode-execute loop), narrowed to the opcode subset opcode.go
// defines and rewired onto this module's btree/mvcc stack instead of
// JuniperBible's pager-backed B-tree.
type VM struct {
	prog *Program
	txn  Txn

	regs    []btree.Value
	cursors []*Cursor
	pc      int

	onRow  RowHandler
	params []btree.Value

	opCount int
}

// New creates a VM ready to run prog against txn. onRow is called once per
// OpResultRow; it may be nil for statements that produce no rows.
func New(prog *Program, txn Txn, onRow RowHandler) *VM {
	return &VM{
		prog:    prog,
		txn:     txn,
		regs:    make([]btree.Value, prog.NumRegisters),
		cursors: make([]*Cursor, 0, 4),
		onRow:   onRow,
	}
}

// SetParams supplies the bound parameter values OpVariable reads from,
// letting one compiled Program be re-run for different binds without
// recompiling its bytecode.
func (vm *VM) SetParams(params []btree.Value) {
	vm.params = params
}

func (vm *VM) cursor(i int) *Cursor {
	for len(vm.cursors) <= i {
		vm.cursors = append(vm.cursors, nil)
	}
	return vm.cursors[i]
}

func (vm *VM) setCursor(i int, c *Cursor) {
	for len(vm.cursors) <= i {
		vm.cursors = append(vm.cursors, nil)
	}
	vm.cursors[i] = c
}

// Run executes the program to completion (Halt) or until ctx is cancelled.
func (vm *VM) Run(ctx context.Context) error {
	for {
		if vm.pc < 0 || vm.pc >= len(vm.prog.Instructions) {
			return fmt.Errorf("vdbe: program counter %d out of range", vm.pc)
		}
		vm.opCount++
		if vm.opCount%checkInterval == 0 {
			select {
			case <-ctx.Done():
				return ErrInterrupted
			default:
			}
		}

		ins := vm.prog.Instructions[vm.pc]
		halt, err := vm.step(ins)
		if err != nil {
			return err
		}
		if halt {
			return nil
		}
	}
}

// step executes one instruction, advancing vm.pc, and reports whether the
// program should stop.
func (vm *VM) step(ins Instruction) (bool, error) {
	next := vm.pc + 1

	switch ins.Op {
	case OpInit, OpNoop:
	case OpGoto:
		next = ins.P2
	case OpHalt:
		return true, nil

	case OpInteger:
		vm.regs[ins.P2] = int64(ins.P1)
	case OpString:
		vm.regs[ins.P2] = ins.P4
	case OpNull:
		vm.regs[ins.P2] = nil
	case OpCopy:
		vm.regs[ins.P2] = vm.regs[ins.P1]
	case OpVariable:
		if ins.P1 < len(vm.params) {
			vm.regs[ins.P2] = vm.params[ins.P1]
		} else {
			vm.regs[ins.P2] = nil
		}

	case OpOpenRead, OpOpenWrite:
		def, ok := ins.P4.(*CursorDef)
		if !ok {
			return false, fmt.Errorf("vdbe: OpenRead/OpenWrite requires a *CursorDef P4")
		}
		var c *Cursor
		var err error
		if def.IsIndex {
			c, err = openIndexCursor(vm.txn, def.RootPage)
		} else {
			c, err = openTableCursor(vm.txn, def.RootPage)
		}
		if err != nil {
			return false, err
		}
		c.def = *def
		vm.setCursor(ins.P1, c)
	case OpClose:
		vm.setCursor(ins.P1, nil)

	case OpRewind:
		c := vm.cursor(ins.P1)
		hasRows, err := c.rewind()
		if err != nil {
			return false, err
		}
		if !hasRows {
			next = ins.P2
		}
	case OpNext:
		c := vm.cursor(ins.P1)
		hasMore, err := c.advance()
		if err != nil {
			return false, err
		}
		if hasMore {
			next = ins.P2
		}

	case OpColumn:
		c := vm.cursor(ins.P1)
		vals, err := c.columns()
		if err != nil {
			return false, err
		}
		if ins.P2 >= len(vals) {
			vm.regs[ins.P3] = nil
		} else {
			vm.regs[ins.P3] = vals[ins.P2]
		}
	case OpRowid:
		c := vm.cursor(ins.P1)
		vm.regs[ins.P2] = int64(c.rowid)
	case OpResultRow:
		if vm.onRow != nil {
			row := make([]btree.Value, ins.P2)
			copy(row, vm.regs[ins.P1:ins.P1+ins.P2])
			if err := vm.onRow(row); err != nil {
				return false, err
			}
		}

	case OpMakeRecord:
		vals := make([]btree.Value, ins.P2)
		copy(vals, vm.regs[ins.P1:ins.P1+ins.P2])
		vm.regs[ins.P3] = btree.EncodeRecord(vals)
	case OpNewRowid:
		c := vm.cursor(ins.P1)
		rowid, err := c.nextRowid()
		if err != nil {
			return false, err
		}
		vm.regs[ins.P2] = int64(rowid)
	case OpInsert:
		c := vm.cursor(ins.P1)
		record, _ := vm.regs[ins.P2].([]byte)
		rowid := asUint64(vm.regs[ins.P3])
		if err := c.table.Insert(rowid, record); err != nil {
			return false, err
		}
	case OpDelete:
		c := vm.cursor(ins.P1)
		if err := c.table.Delete(c.rowid); err != nil {
			return false, err
		}
	case OpSeekRowid, OpNotExists:
		c := vm.cursor(ins.P1)
		rowid := asUint64(vm.regs[ins.P3])
		record, found, err := c.table.Get(rowid)
		if err != nil {
			return false, err
		}
		if !found {
			next = ins.P2
		} else {
			c.rowid = rowid
			c.record = record
			c.valid = true
		}

	case OpIdxInsert:
		c := vm.cursor(ins.P1)
		key, _ := vm.regs[ins.P2].([]byte)
		rowid := asUint64(vm.regs[ins.P3])
		if err := c.index.Insert(key, rowid); err != nil {
			return false, err
		}
	case OpIdxDelete:
		c := vm.cursor(ins.P1)
		key, _ := vm.regs[ins.P2].([]byte)
		rowid := asUint64(vm.regs[ins.P3])
		if err := c.index.Delete(key, rowid); err != nil {
			return false, err
		}

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if compareOp(ins.Op, vm.regs[ins.P1], vm.regs[ins.P3]) {
			next = ins.P2
		}

	case OpIf:
		if truthy(vm.regs[ins.P1]) {
			next = ins.P2
		}
	case OpIfNot:
		if !truthy(vm.regs[ins.P1]) {
			next = ins.P2
		}

	case OpTransaction:
		// The mvcc.Transaction this VM runs against is already open; this
		// opcode exists for bytecode-shape parity with spec §4.7 and is a
		// no-op here.

	case OpCommit:
		if err := vm.txn.Commit(); err != nil {
			return false, err
		}
	case OpRollback:
		if err := vm.txn.Abort(); err != nil {
			return false, err
		}
	case OpSavepoint:
		name, _ := ins.P4.(string)
		if err := vm.txn.Savepoint(name); err != nil {
			return false, err
		}
	case OpReleaseSavepoint:
		name, _ := ins.P4.(string)
		if err := vm.txn.ReleaseSavepoint(name); err != nil {
			return false, err
		}
	case OpRollbackTo:
		name, _ := ins.P4.(string)
		if err := vm.txn.RollbackTo(name); err != nil {
			return false, err
		}

	case OpInitCoroutine:
		vm.regs[ins.P1] = int64(ins.P3)
	case OpYield:
		cur := int64(next)
		target, _ := vm.regs[ins.P1].(int64)
		vm.regs[ins.P1] = cur
		next = int(target)
	case OpEndCoroutine:
		target, _ := vm.regs[ins.P1].(int64)
		next = int(target)

	default:
		return false, fmt.Errorf("vdbe: unimplemented opcode %s", ins.Op)
	}

	vm.pc = next
	return false, nil
}

func asUint64(v btree.Value) uint64 {
	switch x := v.(type) {
	case int64:
		return uint64(x)
	case int:
		return uint64(x)
	case uint64:
		return x
	default:
		return 0
	}
}

func truthy(v btree.Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

// compareOp evaluates a against b for op, following the teacher's
// numeric/string comparison split (eval.go's compareNumbers/compareStrings):
// numeric types compare by value, strings lexically, anything else only
// supports equality.
func compareOp(op Opcode, a, b btree.Value) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return numericCompare(op, af, bf)
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return stringCompare(op, as, bs)
		}
	}
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	default:
		return false
	}
}

func asFloat(v btree.Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func numericCompare(op Opcode, a, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

func stringCompare(op Opcode, a, b string) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}
