package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	if got := OpcodeCount(); got != 27 {
		t.Errorf("OpcodeCount() = %d, want 27", got)
	}
	if got := len(AllOpcodes()); got != 27 {
		t.Errorf("len(AllOpcodes()) = %d, want 27", got)
	}
}

// The byte values are part of the serialized format.
func TestOpcodeValues(t *testing.T) {
	tests := []struct {
		op   Opcode
		want byte
	}{
		{OpHlt, 0}, {OpLd, 1}, {OpLdb, 2}, {OpLdr, 3},
		{OpAdd, 4}, {OpSub, 5}, {OpMul, 6}, {OpDiv, 7},
		{OpAnd, 8}, {OpOr, 9}, {OpNot, 10}, {OpEq, 11},
		{OpLt, 12}, {OpLe, 13}, {OpGt, 14}, {OpGe, 15}, {OpNeq, 16},
		{OpCal, 17}, {OpTlc, 18}, {OpRet, 19},
		{OpMov, 20}, {OpMvo, 21},
		{OpJmf, 22}, {OpJmb, 23}, {OpJtf, 24},
		{OpWri, 25}, {OpRdi, 26},
	}
	for _, tt := range tests {
		if byte(tt.op) != tt.want {
			t.Errorf("%s = %d, want %d", tt.op, byte(tt.op), tt.want)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpHlt, "hlt"},
		{OpLd, "ld"},
		{OpLdb, "ldb"},
		{OpAdd, "add"},
		{OpCal, "call"},
		{OpTlc, "tailcall"},
		{OpJmf, "jmp"},
		{OpJtf, "jmt"},
		{OpWri, "write"},
		{OpRdi, "read"},
		{Opcode(0xFF), "UNKNOWN(0xFF)"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(%d).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestOpcodeClassification(t *testing.T) {
	for _, op := range []Opcode{OpJmf, OpJmb, OpJtf} {
		if !op.IsJump() {
			t.Errorf("%s should be a jump", op)
		}
	}
	if OpCal.IsJump() || OpHlt.IsJump() {
		t.Error("call/hlt classified as jumps")
	}
	if !OpCal.IsCall() || !OpTlc.IsCall() || OpRet.IsCall() {
		t.Error("IsCall misclassifies call opcodes")
	}
	for _, op := range []Opcode{OpAdd, OpSub, OpMul, OpDiv, OpAnd, OpOr, OpEq, OpLt, OpLe, OpGt, OpGe, OpNeq} {
		if !op.IsBinary() {
			t.Errorf("%s should be binary", op)
		}
	}
	if OpNot.IsBinary() || OpMov.IsBinary() {
		t.Error("not/mov classified as binary")
	}
}

func TestInstructionOperands(t *testing.T) {
	inst := MakeImm16(OpLd, 3, uint16(0xFFFE))
	if inst.Left != 0xFE || inst.Right != 0xFF {
		t.Fatalf("imm16 split wrong: %+v", inst)
	}
	if inst.Imm16() != 0xFFFE {
		t.Errorf("Imm16() = %#x, want 0xfffe", inst.Imm16())
	}
	if inst.Int16() != -2 {
		t.Errorf("Int16() = %d, want -2", inst.Int16())
	}

	call := MakeAddr24(OpCal, 0x123456)
	if call.Target != 0x56 || call.Left != 0x34 || call.Right != 0x12 {
		t.Fatalf("addr24 split wrong: %+v", call)
	}
	if call.Addr24() != 0x123456 {
		t.Errorf("Addr24() = %#x, want 0x123456", call.Addr24())
	}

	b := call.Bytes()
	decoded, err := DecodeInstruction(b[:])
	if err != nil {
		t.Fatalf("DecodeInstruction: %v", err)
	}
	if decoded != call {
		t.Errorf("DecodeInstruction = %+v, want %+v", decoded, call)
	}

	if _, err := DecodeInstruction([]byte{1, 2}); err == nil {
		t.Error("expected error for short instruction")
	}
}
