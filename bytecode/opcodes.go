package bytecode

import "fmt"

// Opcode identifies an instruction. The numeric values are part of the
// serialized module format and must not be reordered.
type Opcode byte

const (
	// ========================================================================
	// Control and loads (0-3)
	// ========================================================================

	OpHlt Opcode = 0 // Stop execution
	OpLd  Opcode = 1 // Load immediate: ld <t> <imm16> (sign-extended)
	OpLdb Opcode = 2 // Load constant: ldb <t> <index16>
	OpLdr Opcode = 3 // Load callee result: ldr <t>

	// ========================================================================
	// Arithmetic (4-7)
	// ========================================================================

	OpAdd Opcode = 4 // add <t> <l> <r>
	OpSub Opcode = 5 // sub <t> <l> <r>
	OpMul Opcode = 6 // mul <t> <l> <r>
	OpDiv Opcode = 7 // div <t> <l> <r>

	// ========================================================================
	// Logic and comparison (8-16)
	// ========================================================================

	OpAnd Opcode = 8  // and <t> <l> <r>, result 0/1
	OpOr  Opcode = 9  // or <t> <l> <r>, result 0/1
	OpNot Opcode = 10 // not <t> <l>, result 0/1
	OpEq  Opcode = 11 // eq <t> <l> <r>
	OpLt  Opcode = 12 // lt <t> <l> <r>
	OpLe  Opcode = 13 // le <t> <l> <r>
	OpGt  Opcode = 14 // gt <t> <l> <r>
	OpGe  Opcode = 15 // ge <t> <l> <r>
	OpNeq Opcode = 16 // neq <t> <l> <r>

	// ========================================================================
	// Calls (17-19)
	// ========================================================================

	OpCal Opcode = 17 // Push frame and call: cal <fid24>
	OpTlc Opcode = 18 // Tail call reusing the frame: tlc <fid24>
	OpRet Opcode = 19 // Pop frame and resume at the saved return address

	// ========================================================================
	// Moves (20-21)
	// ========================================================================

	OpMov Opcode = 20 // mov <t> <l>
	OpMvo Opcode = 21 // Move with offset: mvo <t> <l> <offset>, writes t+offset

	// ========================================================================
	// Jumps (22-24)
	// ========================================================================

	OpJmf Opcode = 22 // Jump forward: jmf <offset24>
	OpJmb Opcode = 23 // Jump backward: jmb <offset24>
	OpJtf Opcode = 24 // Jump forward if reg[t] != 0: jtf <t> <offset16>

	// ========================================================================
	// I/O (25-26)
	// ========================================================================

	OpWri Opcode = 25 // Print reg[l] and copy it to reg[t]
	OpRdi Opcode = 26 // Read an integer line into reg[t]
)

// OperandKind describes how the three operand bytes of an instruction are
// interpreted.
type OperandKind uint8

const (
	OperandNone      OperandKind = iota // no operands
	OperandReg                          // target register only
	OperandRegReg                       // target, left
	OperandRegRegReg                    // target, left, right
	OperandRegImm16                     // target, 16-bit value in left|right<<8
	OperandAddr24                       // 24-bit value in target|left<<8|right<<16
	OperandRegRegOff                    // target, left, raw 8-bit offset
)

// OpcodeInfo provides metadata about each opcode for disassembly and validation.
type OpcodeInfo struct {
	Name     string      // Mnemonic
	Operands OperandKind // Operand layout
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpHlt: {"hlt", OperandNone},
	OpLd:  {"ld", OperandRegImm16},
	OpLdb: {"ldb", OperandRegImm16},
	OpLdr: {"ldr", OperandReg},

	OpAdd: {"add", OperandRegRegReg},
	OpSub: {"sub", OperandRegRegReg},
	OpMul: {"mul", OperandRegRegReg},
	OpDiv: {"div", OperandRegRegReg},

	OpAnd: {"and", OperandRegRegReg},
	OpOr:  {"or", OperandRegRegReg},
	OpNot: {"not", OperandRegReg},
	OpEq:  {"eq", OperandRegRegReg},
	OpLt:  {"lt", OperandRegRegReg},
	OpLe:  {"le", OperandRegRegReg},
	OpGt:  {"gt", OperandRegRegReg},
	OpGe:  {"ge", OperandRegRegReg},
	OpNeq: {"neq", OperandRegRegReg},

	OpCal: {"call", OperandAddr24},
	OpTlc: {"tailcall", OperandAddr24},
	OpRet: {"ret", OperandNone},

	OpMov: {"mov", OperandRegReg},
	OpMvo: {"mvo", OperandRegRegOff},

	OpJmf: {"jmp", OperandAddr24},
	OpJmb: {"jmb", OperandAddr24},
	OpJtf: {"jmt", OperandRegImm16},

	OpWri: {"write", OperandRegReg},
	OpRdi: {"read", OperandReg},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(0xNN)" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsJump returns true for the relative jump instructions.
func (op Opcode) IsJump() bool {
	return op >= OpJmf && op <= OpJtf
}

// IsCall returns true for cal and tlc.
func (op Opcode) IsCall() bool {
	return op == OpCal || op == OpTlc
}

// IsBinary returns true for three-register arithmetic, logic and comparison
// instructions.
func (op Opcode) IsBinary() bool {
	return GetOpcodeInfo(op).Operands == OperandRegRegReg
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := OpHlt; op <= OpRdi; op++ {
		if op.Valid() {
			opcodes = append(opcodes, op)
		}
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
