package compiler

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/lilium/bytecode"
)

func mustCompile(t *testing.T, src string) *bytecode.Module {
	t.Helper()
	m, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("generated module is invalid: %v\n%s", err, m.Disassemble())
	}
	return m
}

func ops(code []bytecode.Instruction) []bytecode.Opcode {
	out := make([]bytecode.Opcode, len(code))
	for i, inst := range code {
		out[i] = inst.Op
	}
	return out
}

func countOp(code []bytecode.Instruction, op bytecode.Opcode) int {
	n := 0
	for _, inst := range code {
		if inst.Op == op {
			n++
		}
	}
	return n
}

func TestCompileBinaryOp(t *testing.T) {
	m := mustCompile(t, "(+ 1 2)")
	want := []bytecode.Instruction{
		bytecode.MakeImm16(bytecode.OpLd, 2, 1),
		bytecode.MakeImm16(bytecode.OpLd, 3, 2),
		bytecode.Make(bytecode.OpAdd, 1, 2, 3),
		bytecode.Make(bytecode.OpHlt, 0, 0, 0),
	}
	if fmt.Sprint(m.Code) != fmt.Sprint(want) {
		t.Errorf("code =\n%s\nwant\n%s", bytecode.Disassemble(nil, nil, m.Code), bytecode.Disassemble(nil, nil, want))
	}
	if m.EntryPoint != 0 || len(m.Functions) != 0 || len(m.Constants) != 0 {
		t.Errorf("unexpected module tables: entry=%d functions=%v constants=%v", m.EntryPoint, m.Functions, m.Constants)
	}
}

func TestCompileOperators(t *testing.T) {
	for _, op := range Operators() {
		m := mustCompile(t, fmt.Sprintf("(%s 6 3)", op))
		if got := m.Code[2].Op; got != binaryOps[op] {
			t.Errorf("operator %s compiled to %s", op, got)
		}
	}
}

func TestCompileLiteralBoundary(t *testing.T) {
	tests := []struct {
		value int64
		op    bytecode.Opcode
	}{
		{0, bytecode.OpLd},
		{32767, bytecode.OpLd},
		{-32768, bytecode.OpLd},
		{32768, bytecode.OpLdb},
		{-32769, bytecode.OpLdb},
		{1 << 40, bytecode.OpLdb},
	}
	for _, tt := range tests {
		m := mustCompile(t, fmt.Sprint(tt.value))
		inst := m.Code[0]
		if inst.Op != tt.op || inst.Target != 1 {
			t.Errorf("%d compiled to %s", tt.value, inst)
			continue
		}
		switch tt.op {
		case bytecode.OpLd:
			if inst.Int16() != tt.value {
				t.Errorf("%d loaded as immediate %d", tt.value, inst.Int16())
			}
		case bytecode.OpLdb:
			if m.Constants[inst.Imm16()] != tt.value {
				t.Errorf("%d pooled as %d", tt.value, m.Constants[inst.Imm16()])
			}
		}
	}
}

func TestCompileConstantDedup(t *testing.T) {
	m := mustCompile(t, "(+ 100000 (- 100000 200000))")
	if len(m.Constants) != 2 {
		t.Errorf("constants = %v, want two distinct entries", m.Constants)
	}
}

func TestCompileCallProtocol(t *testing.T) {
	m := mustCompile(t, "(def add (a b) (+ a b)) (add 1 2)")
	entry := int(m.EntryPoint)
	want := []bytecode.Instruction{
		bytecode.MakeImm16(bytecode.OpLd, 2, 1),
		bytecode.MakeImm16(bytecode.OpLd, 3, 2),
		bytecode.Make(bytecode.OpMvo, 2, 2, 255),
		bytecode.Make(bytecode.OpMvo, 3, 3, 255),
		bytecode.MakeAddr24(bytecode.OpCal, 0),
		bytecode.Make(bytecode.OpLdr, 1, 0, 0),
		bytecode.Make(bytecode.OpHlt, 0, 0, 0),
	}
	if got := m.Code[entry:]; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("entry code =\n%s\nwant\n%s", bytecode.Disassemble(nil, nil, got), bytecode.Disassemble(nil, nil, want))
	}

	// The body reads its parameters from VAL and VAL+1 and returns.
	body := m.Code[m.Functions[0]:entry]
	if body[len(body)-1].Op != bytecode.OpRet {
		t.Errorf("function does not end in ret:\n%s", m.Disassemble())
	}
	if countOp(body, bytecode.OpAdd) != 1 {
		t.Errorf("expected one add in body:\n%s", m.Disassemble())
	}
}

func TestCompileTailCalls(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantTail int
		wantCall int
	}{
		{"self tail call", "(def f (a) (f a)) 0", 1, 0},
		{"not tail under operator", "(def f (a) (+ 1 (f a))) 0", 0, 1},
		{"tail in both branches", "(def f (a) (if a ((f (- a 1))) ((f a)))) 0", 2, 0},
		{"condition is not tail", "(def f (a) (if (f a) (1) (2))) 0", 0, 1},
		{"let body is not tail", "(def f (a) (let ((b a)) (f b))) 0", 0, 1},
		{"earlier body expression is not tail", "(def f (a) (f a) (f a)) 0", 1, 1},
		{"top level is never tail", "(def f (a) a) (f 1)", 0, 1},
		{"argument of a tail call", "(def f (a) (f (f a))) 0", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustCompile(t, tt.src)
			if got := countOp(m.Code, bytecode.OpTlc); got != tt.wantTail {
				t.Errorf("tail calls = %d, want %d\n%s", got, tt.wantTail, m.Disassemble())
			}
			if got := countOp(m.Code, bytecode.OpCal); got != tt.wantCall {
				t.Errorf("calls = %d, want %d\n%s", got, tt.wantCall, m.Disassemble())
			}
		})
	}
}

func TestCompileTailCallMovesArguments(t *testing.T) {
	m := mustCompile(t, "(def sum (a b) (sum b a)) 0")
	body := m.Code[m.Functions[0]:m.EntryPoint]
	// Arguments are staged in scratch before overwriting the parameters.
	want := []bytecode.Opcode{
		bytecode.OpMov, bytecode.OpMov, // b, a -> scratch
		bytecode.OpMov, bytecode.OpMov, // scratch -> VAL, VAL+1
		bytecode.OpTlc,
		bytecode.OpRet,
	}
	if fmt.Sprint(ops(body)) != fmt.Sprint(want) {
		t.Errorf("body =\n%s", bytecode.Disassemble(nil, nil, body))
	}
	if body[2].Target != 1 || body[3].Target != 2 {
		t.Errorf("parameters not written to VAL/VAL+1:\n%s", bytecode.Disassemble(nil, nil, body))
	}
}

func TestCompileConditionalLayout(t *testing.T) {
	m := mustCompile(t, "(if 1 (10) (20))")
	want := []bytecode.Instruction{
		bytecode.MakeImm16(bytecode.OpLd, 2, 1),
		bytecode.MakeImm16(bytecode.OpJtf, 2, 3),
		bytecode.MakeImm16(bytecode.OpLd, 1, 20),
		bytecode.MakeAddr24(bytecode.OpJmf, 2),
		bytecode.MakeImm16(bytecode.OpLd, 1, 10),
		bytecode.Make(bytecode.OpHlt, 0, 0, 0),
	}
	if fmt.Sprint(m.Code) != fmt.Sprint(want) {
		t.Errorf("code =\n%s\nwant\n%s", bytecode.Disassemble(nil, nil, m.Code), bytecode.Disassemble(nil, nil, want))
	}
}

func TestCompileUnaryAndIO(t *testing.T) {
	m := mustCompile(t, "(write (! (read)))")
	want := []bytecode.Opcode{bytecode.OpRdi, bytecode.OpNot, bytecode.OpWri, bytecode.OpHlt}
	if fmt.Sprint(ops(m.Code)) != fmt.Sprint(want) {
		t.Errorf("code =\n%s", bytecode.Disassemble(nil, nil, m.Code))
	}
}

func TestCompileFunctionOrder(t *testing.T) {
	m := mustCompile(t, "(def a () (b)) (def b () 1) (a)")
	if len(m.Functions) != 2 {
		t.Fatalf("functions = %v", m.Functions)
	}
	if !(m.Functions[0] < m.Functions[1] && m.Functions[1] < m.EntryPoint) {
		t.Errorf("functions %v and entry %d not laid out in source order", m.Functions, m.EntryPoint)
	}
	if last := m.Code[len(m.Code)-1]; last.Op != bytecode.OpHlt {
		t.Errorf("program ends with %s", last)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
		ident string
	}{
		{"undefined variable", "(+ x 1)", ErrUndefinedVariable, "x"},
		{"variable out of scope", "(def f (a) a) a", ErrUndefinedVariable, "a"},
		{"let binding out of scope", "(+ (let ((y 1)) y) y)", ErrUndefinedVariable, "y"},
		{"undefined function", "(nope 1)", ErrUndefinedFunction, "nope"},
		{"invalid operation", "(% 1 2)", ErrInvalidOperation, "%"},
		{"wrong argument count", "(def f (a) a) (f 1 2)", ErrArity, "f"},
		{"duplicate function", "(def f () 1) (def f () 2)", ErrDuplicateFunction, "f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Compile(%q) error = %v, want %v", tt.input, err, tt.want)
			}
			var ce *Error
			if !errors.As(err, &ce) {
				t.Fatalf("error %v is not a *Error", err)
			}
			if ce.Name != tt.ident {
				t.Errorf("Name = %q, want %q", ce.Name, tt.ident)
			}
			if ce.Pos.Line == 0 {
				t.Errorf("error has no position: %v", err)
			}
		})
	}
}

func TestCompileRegisterOverflow(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("(let (")
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&sb, "(v%d %d)", i, i)
	}
	sb.WriteString(") 0)")
	if _, err := Compile(sb.String()); !errors.Is(err, ErrRegisterOverflow) {
		t.Errorf("expected ErrRegisterOverflow, got %v", err)
	}

	// Deeply right-nested operators need two scratch registers per level.
	nested := strings.Repeat("(+ 1 ", 200) + "1" + strings.Repeat(")", 200)
	if _, err := Compile(nested); !errors.Is(err, ErrRegisterOverflow) {
		t.Errorf("expected ErrRegisterOverflow for deep nesting, got %v", err)
	}
}

func TestCompileTooManyParams(t *testing.T) {
	params := make([]string, MaxParams+1)
	for i := range params {
		params[i] = fmt.Sprintf("p%d", i)
	}
	src := fmt.Sprintf("(def f (%s) 0)", strings.Join(params, " "))
	if _, err := Compile(src); !errors.Is(err, ErrRegisterOverflow) {
		t.Errorf("expected ErrRegisterOverflow, got %v", err)
	}
}

func TestAnalyzeKeepsPartialResults(t *testing.T) {
	a := Analyze("(def f (a) a) (def g (b) (f b b))")
	if !errors.Is(a.Err, ErrArity) {
		t.Fatalf("Err = %v, want ErrArity", a.Err)
	}
	if a.Functions == nil || a.Functions.Len() != 2 {
		t.Fatalf("functions not collected: %+v", a.Functions)
	}
	if info, ok := a.Functions.Lookup("g"); !ok || info.ID != 1 || info.Params[0] != "b" {
		t.Errorf("Lookup(g) = %+v, %v", info, ok)
	}
	if a.Module != nil {
		t.Error("Module should be nil on error")
	}
}
