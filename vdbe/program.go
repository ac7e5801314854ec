package vdbe

// Instruction is one VDBE bytecode op: opcode plus up to three integer
// operands and a typed P4 payload, the shape spec §4.7 names
// (opcode, p1, p2, p3, p4, p5).
type Instruction struct {
	Op Opcode
	P1 int
	P2 int
	P3 int
	P4 interface{}
	P5 uint8
}

// CursorDef describes one OpenRead/OpenWrite operand: which B-tree to open
// and whether it is a table (rowid-keyed) or index (value-keyed) tree.
type CursorDef struct {
	RootPage uint32
	IsIndex  bool
	NCols    int
}

// Program is a compiled sequence of instructions, the codegen's output and
// the VM's input.
type Program struct {
	Instructions []Instruction
	NumRegisters int
}
