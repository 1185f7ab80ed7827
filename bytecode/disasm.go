package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders code as one line per instruction, each prefixed with
// its address ("0x%05x: "). Constants and functions are optional; when given,
// constant loads and calls are annotated with the value or entry address.
func Disassemble(constants []int64, functions []uint64, code []Instruction) string {
	var sb strings.Builder
	for pc, inst := range code {
		fmt.Fprintf(&sb, "0x%05x: %s\n", pc, FormatInstruction(inst, pc, constants, functions))
	}
	return sb.String()
}

// DisassembleInstruction renders a single instruction at pc.
func (m *Module) DisassembleInstruction(pc int) string {
	if pc < 0 || pc >= len(m.Code) {
		return "<end of code>"
	}
	return FormatInstruction(m.Code[pc], pc, m.Constants, m.Functions)
}

// Disassemble returns a human-readable listing of the whole module.
func (m *Module) Disassemble() string {
	return m.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a header describing the
// constant pool and function table, and function entry labels in the code.
func (m *Module) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		fmt.Fprintf(&sb, "; === %s ===\n", name)
	}
	fmt.Fprintf(&sb, "; Entry: 0x%05x\n", m.EntryPoint)

	if len(m.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range m.Constants {
			fmt.Fprintf(&sb, ";   [%3d] %d\n", i, c)
		}
	}

	if len(m.Functions) > 0 {
		sb.WriteString("; Functions:\n")
		for i, addr := range m.Functions {
			fmt.Fprintf(&sb, ";   [%3d] 0x%05x\n", i, addr)
		}
	}
	sb.WriteString("\n")

	entries := make(map[int][]int, len(m.Functions))
	for id, addr := range m.Functions {
		entries[int(addr)] = append(entries[int(addr)], id)
	}

	for pc, inst := range m.Code {
		for _, id := range entries[pc] {
			fmt.Fprintf(&sb, "fn%d:\n", id)
		}
		if uint64(pc) == m.EntryPoint {
			sb.WriteString("main:\n")
		}
		fmt.Fprintf(&sb, "0x%05x: %s\n", pc, FormatInstruction(inst, pc, m.Constants, m.Functions))
	}

	return sb.String()
}

// DisassembleToLines returns the plain listing as a slice of lines.
func (m *Module) DisassembleToLines() []string {
	lines := make([]string, len(m.Code))
	for pc, inst := range m.Code {
		lines[pc] = fmt.Sprintf("0x%05x: %s", pc, FormatInstruction(inst, pc, m.Constants, m.Functions))
	}
	return lines
}

// FormatInstruction renders inst as it appears at address pc. Jump targets
// are resolved against pc; constants and functions may be nil.
func FormatInstruction(inst Instruction, pc int, constants []int64, functions []uint64) string {
	info := GetOpcodeInfo(inst.Op)
	if !inst.Op.Valid() {
		return fmt.Sprintf("%s 0x%02x 0x%02x 0x%02x", info.Name, inst.Target, inst.Left, inst.Right)
	}

	switch inst.Op {
	case OpLd:
		return fmt.Sprintf("%s r%d, %d", info.Name, inst.Target, inst.Int16())

	case OpLdb:
		idx := inst.Imm16()
		if int(idx) < len(constants) {
			return fmt.Sprintf("%s r%d, #%d ; %d", info.Name, inst.Target, idx, constants[idx])
		}
		return fmt.Sprintf("%s r%d, #%d", info.Name, inst.Target, idx)

	case OpCal, OpTlc:
		id := inst.Addr24()
		if int(id) < len(functions) {
			return fmt.Sprintf("%s fn%d ; @0x%05x", info.Name, id, functions[id])
		}
		return fmt.Sprintf("%s fn%d", info.Name, id)

	case OpJmf:
		off := int(inst.Addr24())
		return fmt.Sprintf("%s +%d ; -> 0x%05x", info.Name, off, pc+off)

	case OpJmb:
		off := int(inst.Addr24())
		return fmt.Sprintf("%s -%d ; -> 0x%05x", info.Name, off, pc-off)

	case OpJtf:
		off := int(inst.Imm16())
		return fmt.Sprintf("%s r%d, +%d ; -> 0x%05x", info.Name, inst.Target, off, pc+off)
	}

	switch info.Operands {
	case OperandReg:
		return fmt.Sprintf("%s r%d", info.Name, inst.Target)
	case OperandRegReg:
		return fmt.Sprintf("%s r%d, r%d", info.Name, inst.Target, inst.Left)
	case OperandRegRegReg:
		return fmt.Sprintf("%s r%d, r%d, r%d", info.Name, inst.Target, inst.Left, inst.Right)
	case OperandRegRegOff:
		return fmt.Sprintf("%s r%d, r%d, +%d", info.Name, inst.Target, inst.Left, inst.Right)
	}

	return info.Name
}
