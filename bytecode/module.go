package bytecode

import (
	"errors"
	"fmt"
)

var (
	ErrTooManyConstants = errors.New("constant pool exceeds 16-bit index space")
	ErrTooManyFunctions = errors.New("function table exceeds 24-bit index space")
	ErrInvalidModule    = errors.New("invalid module")
)

// Module is a compiled program: one instruction stream shared by every
// function and the top-level code, a constant pool for integers that do not
// fit an immediate, and the table of function entry addresses.
//
// A Module is built once by the code generator and is read-only afterwards;
// any number of threads may execute it concurrently.
type Module struct {
	Functions  []uint64      // function id -> code address
	Constants  []int64       // constant id -> value
	EntryPoint uint64        // address of the first top-level instruction
	Code       []Instruction // instruction stream

	constIndex map[int64]uint16
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{
		Functions: make([]uint64, 0, 8),
		Constants: make([]int64, 0, 8),
		Code:      make([]Instruction, 0, 64),
	}
}

// Emit appends an instruction and returns its address.
func (m *Module) Emit(inst Instruction) int {
	pc := len(m.Code)
	m.Code = append(m.Code, inst)
	return pc
}

// Patch replaces the instruction at pc.
func (m *Module) Patch(pc int, inst Instruction) {
	m.Code[pc] = inst
}

// CurrentOffset returns the address the next emitted instruction will get.
func (m *Module) CurrentOffset() int {
	return len(m.Code)
}

// AddConstant adds an integer to the pool and returns its index.
// If the value is already pooled, the existing index is returned.
func (m *Module) AddConstant(value int64) (uint16, error) {
	if m.constIndex == nil {
		m.constIndex = make(map[int64]uint16, len(m.Constants))
		for i, c := range m.Constants {
			if _, ok := m.constIndex[c]; !ok {
				m.constIndex[c] = uint16(i)
			}
		}
	}
	if idx, ok := m.constIndex[value]; ok {
		return idx, nil
	}
	if len(m.Constants) > MaxImm16 {
		return 0, ErrTooManyConstants
	}
	idx := uint16(len(m.Constants))
	m.Constants = append(m.Constants, value)
	m.constIndex[value] = idx
	return idx, nil
}

// AddFunction reserves the next function id. Its address is set later with
// SetFunctionAddr, once the body is emitted.
func (m *Module) AddFunction() (uint32, error) {
	if len(m.Functions) > MaxAddr24 {
		return 0, ErrTooManyFunctions
	}
	id := uint32(len(m.Functions))
	m.Functions = append(m.Functions, 0)
	return id, nil
}

// SetFunctionAddr records the code address of function id.
func (m *Module) SetFunctionAddr(id uint32, addr int) {
	m.Functions[id] = uint64(addr)
}

// Validate checks that every index and jump target embedded in the code is
// inside the module. The dispatch loop relies on this to skip per-instruction
// checks on constant and function lookups.
func (m *Module) Validate() error {
	n := uint64(len(m.Code))
	if n == 0 {
		return fmt.Errorf("%w: empty code section", ErrInvalidModule)
	}
	if m.EntryPoint >= n {
		return fmt.Errorf("%w: entry point 0x%x outside code (len %d)", ErrInvalidModule, m.EntryPoint, n)
	}
	for id, addr := range m.Functions {
		if addr >= n {
			return fmt.Errorf("%w: function %d address 0x%x outside code", ErrInvalidModule, id, addr)
		}
	}
	for pc, inst := range m.Code {
		if !inst.Op.Valid() {
			return fmt.Errorf("%w: unknown opcode 0x%02x at 0x%05x", ErrInvalidModule, byte(inst.Op), pc)
		}
		switch inst.Op {
		case OpLdb:
			if int(inst.Imm16()) >= len(m.Constants) {
				return fmt.Errorf("%w: constant index %d out of range at 0x%05x", ErrInvalidModule, inst.Imm16(), pc)
			}
		case OpCal, OpTlc:
			if int(inst.Addr24()) >= len(m.Functions) {
				return fmt.Errorf("%w: function id %d out of range at 0x%05x", ErrInvalidModule, inst.Addr24(), pc)
			}
		case OpJmf:
			if uint64(pc)+uint64(inst.Addr24()) >= n {
				return fmt.Errorf("%w: jump target outside code at 0x%05x", ErrInvalidModule, pc)
			}
		case OpJmb:
			if uint64(inst.Addr24()) > uint64(pc) {
				return fmt.Errorf("%w: backward jump before start of code at 0x%05x", ErrInvalidModule, pc)
			}
		case OpJtf:
			if uint64(pc)+uint64(inst.Imm16()) >= n {
				return fmt.Errorf("%w: conditional jump target outside code at 0x%05x", ErrInvalidModule, pc)
			}
		}
	}
	if last := m.Code[n-1].Op; last != OpHlt && last != OpRet && last != OpJmb && last != OpTlc {
		return fmt.Errorf("%w: code falls off the end (last op %s)", ErrInvalidModule, last)
	}
	return nil
}

// FunctionAt returns the id of the function whose entry is addr, if any.
func (m *Module) FunctionAt(addr int) (uint32, bool) {
	for id, a := range m.Functions {
		if a == uint64(addr) {
			return uint32(id), true
		}
	}
	return 0, false
}
