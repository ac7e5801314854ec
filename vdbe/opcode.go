// Package vdbe implements the register-based bytecode interpreter spec §4.7
// (C7) describes: a flat instruction array, a register file typed with the
// Value variant, an array of table/index cursors, and cooperative coroutine
// opcodes. Grounded on JuniperBible's internal/vdbe package (opcode
// numbering style, cursor array, coroutine Yield/Resume model), scoped to a
// small opcode subset; fsqlite's codegen emits only the cursor, literal,
// record and insert/delete opcodes among them.
package vdbe

// Opcode is a single VDBE instruction's operation.
type Opcode uint8

const (
	OpInit Opcode = iota
	OpGoto
	OpHalt

	OpInteger  // p1=value, p2=reg
	OpString   // p4=string, p2=reg
	OpNull     // p2=reg
	OpCopy     // p1=srcReg, p2=dstReg
	OpVariable // p1=bound-parameter index, p2=dest reg

	OpOpenRead  // p1=cursor, p4=*CursorDef
	OpOpenWrite // p1=cursor, p4=*CursorDef
	OpClose     // p1=cursor

	OpRewind // p1=cursor, p2=jump-if-empty
	OpNext   // p1=cursor, p2=jump-if-more

	OpColumn    // p1=cursor, p2=column index, p3=dest reg
	OpRowid     // p1=cursor, p2=dest reg
	OpResultRow // p1=first reg, p2=reg count

	OpMakeRecord // p1=first reg, p2=reg count, p3=dest reg
	OpNewRowid   // p1=cursor, p2=dest reg
	OpInsert     // p1=cursor, p2=record reg, p3=rowid reg
	OpDelete     // p1=cursor
	OpSeekRowid  // p1=cursor, p2=jump-if-not-found, p3=rowid reg
	OpNotExists  // p1=cursor, p2=jump-if-not-found, p3=rowid reg

	OpIdxInsert // p1=cursor, p2=key reg, p3=rowid reg
	OpIdxDelete // p1=cursor, p2=key reg, p3=rowid reg

	OpEq // p1=regA, p2=jump, p3=regB: jump if equal
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpIf    // p1=reg, p2=jump if truthy
	OpIfNot // p1=reg, p2=jump if falsy

	OpTransaction // p1: 0=read 1=write
	OpCommit
	OpRollback
	OpSavepoint        // p4=name
	OpReleaseSavepoint // p4=name
	OpRollbackTo       // p4=name

	OpInitCoroutine // p1=reg to receive the entry pc, p3=entry pc; p2 unused
	OpYield         // p1=reg holding coroutine pc
	OpEndCoroutine  // p1=reg holding coroutine pc

	OpNoop
)

var opcodeNames = map[Opcode]string{
	OpInit: "Init", OpGoto: "Goto", OpHalt: "Halt",
	OpInteger: "Integer", OpString: "String", OpNull: "Null", OpCopy: "Copy", OpVariable: "Variable",
	OpOpenRead: "OpenRead", OpOpenWrite: "OpenWrite", OpClose: "Close",
	OpRewind: "Rewind", OpNext: "Next",
	OpColumn: "Column", OpRowid: "Rowid", OpResultRow: "ResultRow",
	OpMakeRecord: "MakeRecord", OpNewRowid: "NewRowid", OpInsert: "Insert", OpDelete: "Delete",
	OpSeekRowid: "SeekRowid", OpNotExists: "NotExists",
	OpIdxInsert: "IdxInsert", OpIdxDelete: "IdxDelete",
	OpEq: "Eq", OpNe: "Ne", OpLt: "Lt", OpLe: "Le", OpGt: "Gt", OpGe: "Ge",
	OpIf: "If", OpIfNot: "IfNot",
	OpTransaction: "Transaction", OpCommit: "Commit", OpRollback: "Rollback",
	OpSavepoint: "Savepoint", OpReleaseSavepoint: "ReleaseSavepoint", OpRollbackTo: "RollbackTo",
	OpInitCoroutine: "InitCoroutine", OpYield: "Yield", OpEndCoroutine: "EndCoroutine",
	OpNoop: "Noop",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "Unknown"
}
