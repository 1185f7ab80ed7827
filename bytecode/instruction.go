package bytecode

import "fmt"

// Register numbers a slot inside one frame window.
type Register = uint8

// Reserved registers.
const (
	RegRET Register = 0 // return address of the current frame
	RegVAL Register = 1 // first parameter, and the return value slot
)

// Window is the number of registers in one call frame. A call advances the
// thread's base by exactly one window.
const Window = 256

// Encoding limits.
const (
	MaxImm16  = 1<<16 - 1
	MaxAddr24 = 1<<24 - 1

	// ImmMin and ImmMax bound integers that fit an ld immediate.
	ImmMin = -1 << 15
	ImmMax = 1<<15 - 1
)

// InstructionSize is the encoded width of every instruction in bytes.
const InstructionSize = 4

// Instruction is a fixed-width 4-byte instruction. The meaning of the three
// operand bytes depends on the opcode (see OperandKind).
type Instruction struct {
	Op     Opcode
	Target byte
	Left   byte
	Right  byte
}

// Make builds an instruction from raw operand bytes.
func Make(op Opcode, target, left, right byte) Instruction {
	return Instruction{Op: op, Target: target, Left: left, Right: right}
}

// MakeImm16 builds an instruction carrying a 16-bit value split across the
// left (low byte) and right (high byte) operands.
func MakeImm16(op Opcode, target byte, value uint16) Instruction {
	return Instruction{Op: op, Target: target, Left: byte(value), Right: byte(value >> 8)}
}

// MakeAddr24 builds an instruction carrying a 24-bit value split across all
// three operand bytes, least significant byte in Target.
func MakeAddr24(op Opcode, value uint32) Instruction {
	return Instruction{Op: op, Target: byte(value), Left: byte(value >> 8), Right: byte(value >> 16)}
}

// Imm16 returns the unsigned 16-bit value packed in left|right<<8.
func (i Instruction) Imm16() uint16 {
	return uint16(i.Left) | uint16(i.Right)<<8
}

// Int16 returns Imm16 sign-extended.
func (i Instruction) Int16() int64 {
	return int64(int16(i.Imm16()))
}

// Addr24 returns the 24-bit value packed in target|left<<8|right<<16.
func (i Instruction) Addr24() uint32 {
	return uint32(i.Target) | uint32(i.Left)<<8 | uint32(i.Right)<<16
}

// Bytes returns the 4-byte encoding of the instruction.
func (i Instruction) Bytes() [InstructionSize]byte {
	return [InstructionSize]byte{byte(i.Op), i.Target, i.Left, i.Right}
}

// DecodeInstruction decodes 4 bytes into an instruction.
func DecodeInstruction(b []byte) (Instruction, error) {
	if len(b) < InstructionSize {
		return Instruction{}, fmt.Errorf("instruction needs %d bytes, got %d", InstructionSize, len(b))
	}
	return Instruction{Op: Opcode(b[0]), Target: b[1], Left: b[2], Right: b[3]}, nil
}

// String renders the instruction without symbolic context.
func (i Instruction) String() string {
	return FormatInstruction(i, 0, nil, nil)
}
