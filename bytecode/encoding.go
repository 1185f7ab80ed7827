package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncated    = errors.New("unexpected end of module data")
	ErrTrailingData = errors.New("trailing bytes after module data")
)

// Serialize encodes the module to bytes for storage/transport.
// All integers are little-endian and fixed width.
// Format:
//
//	[func_count:8] [func_addr:8]...
//	[const_count:8] [const:8]...
//	[entry_point:8]
//	[code_count:8] [op:1 target:1 left:1 right:1]...
func (m *Module) Serialize() ([]byte, error) {
	size := 32 + 8*len(m.Functions) + 8*len(m.Constants) + InstructionSize*len(m.Code)
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(m.Functions)))
	for _, addr := range m.Functions {
		buf = binary.LittleEndian.AppendUint64(buf, addr)
	}

	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(m.Constants)))
	for _, c := range m.Constants {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(c))
	}

	buf = binary.LittleEndian.AppendUint64(buf, m.EntryPoint)

	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(m.Code)))
	for _, inst := range m.Code {
		buf = append(buf, byte(inst.Op), inst.Target, inst.Left, inst.Right)
	}

	return buf, nil
}

// Deserialize decodes a module produced by Serialize. The result is not
// validated; callers that execute it should call Validate (vm.NewThread does).
func Deserialize(data []byte) (*Module, error) {
	r := reader{data: data}

	funcCount, err := r.count("function count", 8)
	if err != nil {
		return nil, err
	}
	m := &Module{Functions: make([]uint64, funcCount)}
	for i := range m.Functions {
		m.Functions[i], _ = r.uint64("")
	}

	constCount, err := r.count("constant count", 8)
	if err != nil {
		return nil, err
	}
	m.Constants = make([]int64, constCount)
	for i := range m.Constants {
		v, _ := r.uint64("")
		m.Constants[i] = int64(v)
	}

	if m.EntryPoint, err = r.uint64("entry point"); err != nil {
		return nil, err
	}

	codeCount, err := r.count("code length", InstructionSize)
	if err != nil {
		return nil, err
	}
	m.Code = make([]Instruction, codeCount)
	for i := range m.Code {
		b := r.data[r.pos : r.pos+InstructionSize]
		m.Code[i] = Instruction{Op: Opcode(b[0]), Target: b[1], Left: b[2], Right: b[3]}
		r.pos += InstructionSize
	}

	if r.pos != len(data) {
		return nil, fmt.Errorf("%w: %d bytes at pos %d", ErrTrailingData, len(data)-r.pos, r.pos)
	}
	return m, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) uint64(what string) (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("%w: reading %s at pos %d", ErrTruncated, what, r.pos)
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// count reads a length prefix and checks that elemSize*n bytes follow, so a
// corrupt count cannot trigger a huge allocation.
func (r *reader) count(what string, elemSize int) (int, error) {
	n, err := r.uint64(what)
	if err != nil {
		return 0, err
	}
	remaining := uint64(len(r.data) - r.pos)
	if n > remaining/uint64(elemSize) {
		return 0, fmt.Errorf("%w: %s %d needs %d bytes at pos %d, have %d",
			ErrTruncated, what, n, n*uint64(elemSize), r.pos, remaining)
	}
	return int(n), nil
}
