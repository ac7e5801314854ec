package vdbe

import (
	"context"
	"testing"

	"github.com/frankensqlite/frankensqlite/btree"
	"github.com/frankensqlite/frankensqlite/mvcc"
	"github.com/frankensqlite/frankensqlite/storage"
	"github.com/frankensqlite/frankensqlite/vfs"
	"github.com/frankensqlite/frankensqlite/wal"
)

func newTestEngine(t *testing.T) *mvcc.Engine {
	t.Helper()
	mem := vfs.NewMemory()
	pager, err := storage.Open(mem, "test.db", 4096, 64, false)
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	w, err := wal.Open(mem, "test.db", 4096)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	return mvcc.New(pager, w, true)
}

func newTestTable(t *testing.T, eng *mvcc.Engine) uint32 {
	t.Helper()
	txn := eng.Begin()
	tbl, err := btree.NewTable(txn)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return uint32(tbl.RootPage)
}

func TestInsertThenScan(t *testing.T) {
	eng := newTestEngine(t)
	root := newTestTable(t, eng)

	insert := &Program{
		NumRegisters: 3,
		Instructions: []Instruction{
			{Op: OpInteger, P1: 1, P2: 0},
			{Op: OpString, P4: "alice", P2: 1},
			{Op: OpOpenWrite, P1: 0, P4: &CursorDef{RootPage: root}},
			{Op: OpMakeRecord, P1: 1, P2: 1, P3: 2},
			{Op: OpInsert, P1: 0, P2: 2, P3: 0},
			{Op: OpHalt},
		},
	}
	wtxn := eng.Begin()
	vm := New(insert, wtxn, nil)
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("run insert: %v", err)
	}
	if err := wtxn.Commit(); err != nil {
		t.Fatalf("commit insert: %v", err)
	}

	scan := &Program{
		NumRegisters: 1,
		Instructions: []Instruction{
			{Op: OpOpenRead, P1: 0, P4: &CursorDef{RootPage: root}},
			{Op: OpRewind, P1: 0, P2: 5},
			{Op: OpColumn, P1: 0, P2: 0, P3: 0},
			{Op: OpResultRow, P1: 0, P2: 1},
			{Op: OpNext, P1: 0, P2: 2},
			{Op: OpHalt},
		},
	}
	var rows [][]btree.Value
	rtxn := eng.Begin()
	vm2 := New(scan, rtxn, func(vals []btree.Value) error {
		row := make([]btree.Value, len(vals))
		copy(row, vals)
		rows = append(rows, row)
		return nil
	})
	if err := vm2.Run(context.Background()); err != nil {
		t.Fatalf("run scan: %v", err)
	}

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0][0] != "alice" {
		t.Fatalf("expected alice, got %v", rows[0][0])
	}
}

func TestComparisonJump(t *testing.T) {
	eng := newTestEngine(t)
	txn := eng.Begin()
	prog := &Program{
		NumRegisters: 2,
		Instructions: []Instruction{
			{Op: OpInteger, P1: 5, P2: 0},
			{Op: OpInteger, P1: 5, P2: 1},
			{Op: OpEq, P1: 0, P2: 4, P3: 1},
			{Op: OpInteger, P1: 0, P2: 0}, // skipped if equal
			{Op: OpHalt},
		},
	}
	vm := New(prog, txn, nil)
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if vm.regs[0] != int64(5) {
		t.Fatalf("expected jump over reset, reg0=%v", vm.regs[0])
	}
}

// TestCoroutineRegisterSwap exercises InitCoroutine/Yield/EndCoroutine's
// pc<->register swap directly (the same mechanism SQLite's own OP_Yield
// uses): Yield saves the resumption point into the shared register and
// jumps to whatever pc that register held, so a coroutine and its caller
// trade places across calls without a separate call stack.
func TestCoroutineRegisterSwap(t *testing.T) {
	eng := newTestEngine(t)
	txn := eng.Begin()
	prog := &Program{
		NumRegisters: 2,
		Instructions: []Instruction{
			{Op: OpInitCoroutine, P1: 0, P3: 3}, // 0: regs[0] = 3
			{Op: OpYield, P1: 0},                // 1: swap into coroutine
			{Op: OpHalt},                        // 2: main's resume point
			{Op: OpInteger, P1: 42, P2: 1},       // 3: coroutine body
			{Op: OpEndCoroutine, P1: 0},          // 4: back to main
		},
	}
	vm := New(prog, txn, nil)
	if err := vm.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if vm.regs[1] != int64(42) {
		t.Fatalf("expected coroutine body to run, reg1=%v", vm.regs[1])
	}
}

func TestInterruptedRun(t *testing.T) {
	eng := newTestEngine(t)
	txn := eng.Begin()
	instrs := make([]Instruction, 0, 3000)
	for i := 0; i < 2000; i++ {
		instrs = append(instrs, Instruction{Op: OpGoto, P2: i + 1})
	}
	instrs = append(instrs, Instruction{Op: OpHalt})
	prog := &Program{NumRegisters: 1, Instructions: instrs}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	vm := New(prog, txn, nil)
	if err := vm.Run(ctx); err != ErrInterrupted {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}
