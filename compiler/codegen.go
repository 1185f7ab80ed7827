package compiler

import "github.com/chazu/lilium/bytecode"

// ---------------------------------------------------------------------------
// Codegen: lower expressions to register bytecode
// ---------------------------------------------------------------------------

// binaryOps maps surface operators to their instructions.
var binaryOps = map[string]bytecode.Opcode{
	"+":  bytecode.OpAdd,
	"-":  bytecode.OpSub,
	"*":  bytecode.OpMul,
	"/":  bytecode.OpDiv,
	"&":  bytecode.OpAnd,
	"|":  bytecode.OpOr,
	"==": bytecode.OpEq,
	"<":  bytecode.OpLt,
	"<=": bytecode.OpLe,
	">":  bytecode.OpGt,
	">=": bytecode.OpGe,
	"!=": bytecode.OpNeq,
}

// Operators returns the binary operator symbols accepted by the compiler.
func Operators() []string {
	return []string{"+", "-", "*", "/", "&", "|", "==", "<", "<=", ">", ">=", "!="}
}

// Generator lowers a parsed program into a Module.
//
// Registers are allocated per frame with a bump pointer. Every lowering call
// is given the register that must receive the value (dst) and the first
// register it may use as scratch (free). A lowering writes dst only as its
// last effect, so dst may safely be a register the expression also reads.
type Generator struct {
	mod   *bytecode.Module
	funcs *FunctionTable
}

// Generate compiles exprs into a module. Pass 1 collects every function
// definition; pass 2 emits the function bodies in source order, then the
// top-level expressions at the entry point, then a final hlt.
func Generate(exprs []Expr) (*bytecode.Module, error) {
	funcs, err := CollectFunctions(exprs)
	if err != nil {
		return nil, err
	}
	return GenerateWith(funcs, exprs)
}

// GenerateWith runs pass 2 against an already collected function table.
func GenerateWith(funcs *FunctionTable, exprs []Expr) (*bytecode.Module, error) {
	g := &Generator{mod: bytecode.NewModule(), funcs: funcs}

	for range funcs.Functions() {
		if _, err := g.mod.AddFunction(); err != nil {
			return nil, err
		}
	}

	for _, info := range funcs.Functions() {
		if err := g.function(info); err != nil {
			return nil, err
		}
	}

	g.mod.EntryPoint = uint64(g.mod.CurrentOffset())
	top := newScope(int(bytecode.RegVAL) + 1)
	for _, e := range exprs {
		if _, ok := e.(*FuncDef); ok {
			continue
		}
		if err := g.expr(e, int(bytecode.RegVAL), top.next, top, false); err != nil {
			return nil, err
		}
	}
	g.emit(bytecode.Make(bytecode.OpHlt, 0, 0, 0))

	return g.mod, nil
}

// function emits a function body. Parameters occupy VAL.. in order; the
// body's value is left in VAL and control returns to the caller.
func (g *Generator) function(info *FunctionInfo) error {
	g.mod.SetFunctionAddr(info.ID, g.mod.CurrentOffset())

	sc := newScope(int(bytecode.RegVAL))
	for i, p := range info.Params {
		sc.bind(p, BindParam, int(bytecode.RegVAL)+i)
	}

	dst := int(bytecode.RegVAL)
	if err := g.block(info.Def.Body, dst, scratch(dst, sc), sc, true); err != nil {
		return err
	}
	g.emit(bytecode.Make(bytecode.OpRet, 0, 0, 0))
	return nil
}

// scratch returns the first register above both dst and every live binding.
func scratch(dst int, sc *scope) int {
	if sc.next > dst+1 {
		return sc.next
	}
	return dst + 1
}

// block lowers a sequence whose value is its last expression. Earlier
// expressions are evaluated for effect into a scratch register.
func (g *Generator) block(body []Expr, dst, free int, sc *scope, tail bool) error {
	for i, e := range body {
		if i == len(body)-1 {
			return g.expr(e, dst, free, sc, tail)
		}
		if err := g.expr(e, free, free+1, sc, false); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) expr(e Expr, dst, free int, sc *scope, tail bool) error {
	if _, err := reg(dst, e); err != nil {
		return err
	}

	switch n := e.(type) {
	case *IntLiteral:
		return g.literal(n, dst)

	case *Variable:
		b, ok := sc.lookup(n.Name)
		if !ok {
			return errorAt(n.SpanVal.Start, ErrUndefinedVariable, n.Name, "")
		}
		if b.Reg != dst {
			g.emit(bytecode.Make(bytecode.OpMov, byte(dst), byte(b.Reg), 0))
		}
		return nil

	case *BinaryOp:
		op, ok := binaryOps[n.Op]
		if !ok {
			return errorAt(n.SpanVal.Start, ErrInvalidOperation, n.Op, "")
		}
		l, r := free, free+1
		if _, err := reg(r, n); err != nil {
			return err
		}
		if err := g.expr(n.Left, l, l+1, sc, false); err != nil {
			return err
		}
		if err := g.expr(n.Right, r, r+1, sc, false); err != nil {
			return err
		}
		g.emit(bytecode.Make(op, byte(dst), byte(l), byte(r)))
		return nil

	case *UnaryOp:
		if n.Op != "!" {
			return errorAt(n.SpanVal.Start, ErrInvalidOperation, n.Op, "")
		}
		if _, err := reg(free, n); err != nil {
			return err
		}
		if err := g.expr(n.Operand, free, free+1, sc, false); err != nil {
			return err
		}
		g.emit(bytecode.Make(bytecode.OpNot, byte(dst), byte(free), 0))
		return nil

	case *Write:
		if _, err := reg(free, n); err != nil {
			return err
		}
		if err := g.expr(n.Value, free, free+1, sc, false); err != nil {
			return err
		}
		g.emit(bytecode.Make(bytecode.OpWri, byte(dst), byte(free), 0))
		return nil

	case *Read:
		g.emit(bytecode.Make(bytecode.OpRdi, byte(dst), 0, 0))
		return nil

	case *Call:
		return g.call(n, dst, free, sc, tail)

	case *Let:
		inner := sc.clone()
		next := free
		for _, b := range n.Bindings {
			if _, err := reg(next, n); err != nil {
				return err
			}
			if err := g.expr(b.Init, next, next+1, inner, false); err != nil {
				return err
			}
			inner.bind(b.Name, BindLocal, next)
			next++
		}
		// A let body is never a tail context: its bindings live in this frame.
		return g.block(n.Body, dst, scratch(dst, inner), inner, false)

	case *If:
		return g.conditional(n, dst, free, sc, tail)

	case *FuncDef:
		return errorAt(n.SpanVal.Start, ErrSyntax, n.Name, "function definitions are only allowed at top level")
	}

	return errorAt(e.Span().Start, ErrInvalidOperation, "", "unsupported expression %T", e)
}

func (g *Generator) literal(n *IntLiteral, dst int) error {
	if n.Value >= bytecode.ImmMin && n.Value <= bytecode.ImmMax {
		g.emit(bytecode.MakeImm16(bytecode.OpLd, byte(dst), uint16(int16(n.Value))))
		return nil
	}
	idx, err := g.mod.AddConstant(n.Value)
	if err != nil {
		return errorAt(n.SpanVal.Start, err, "", "")
	}
	g.emit(bytecode.MakeImm16(bytecode.OpLdb, byte(dst), idx))
	return nil
}

// call lowers a function application. Arguments are evaluated into
// consecutive scratch registers before any of them is moved, so a nested
// call in a later argument cannot overwrite an earlier one.
//
// A regular call relocates argument i into VAL+i of the next frame with
// mvo (target 2+i plus offset 255 reaches base+256+1+i), calls, and copies
// the callee's VAL into dst with ldr. A tail call moves the arguments into
// this frame's parameter registers and jumps with tlc.
func (g *Generator) call(n *Call, dst, free int, sc *scope, tail bool) error {
	info, ok := g.funcs.Lookup(n.Name)
	if !ok {
		return errorAt(n.NameSpan.Start, ErrUndefinedFunction, n.Name, "")
	}
	if len(n.Args) != len(info.Params) {
		return errorAt(n.NameSpan.Start, ErrArity, n.Name,
			"expects %d arguments, got %d", len(info.Params), len(n.Args))
	}

	for i, arg := range n.Args {
		if _, err := reg(free+i, arg); err != nil {
			return err
		}
		if err := g.expr(arg, free+i, free+i+1, sc, false); err != nil {
			return err
		}
	}

	if tail {
		for i := range n.Args {
			param := int(bytecode.RegVAL) + i
			if param != free+i {
				g.emit(bytecode.Make(bytecode.OpMov, byte(param), byte(free+i), 0))
			}
		}
		g.emit(bytecode.MakeAddr24(bytecode.OpTlc, info.ID))
		return nil
	}

	for i := range n.Args {
		g.emit(bytecode.Make(bytecode.OpMvo, byte(int(bytecode.RegVAL)+1+i), byte(free+i), bytecode.Window-1))
	}
	g.emit(bytecode.MakeAddr24(bytecode.OpCal, info.ID))
	g.emit(bytecode.Make(bytecode.OpLdr, byte(dst), 0, 0))
	return nil
}

// conditional lowers an if:
//
//	      jtf cond, +len(else)+2
//	      <else>
//	      jmf +len(then)+1
//	      <then>
//	cont:
func (g *Generator) conditional(n *If, dst, free int, sc *scope, tail bool) error {
	if _, err := reg(free, n); err != nil {
		return err
	}
	if err := g.expr(n.Cond, free, free+1, sc, false); err != nil {
		return err
	}

	jtf := g.emit(bytecode.Instruction{})
	if err := g.block(n.Else, dst, free, sc, tail); err != nil {
		return err
	}
	jmf := g.emit(bytecode.Instruction{})
	if err := g.block(n.Then, dst, free, sc, tail); err != nil {
		return err
	}
	end := g.mod.CurrentOffset()

	skipElse := jmf + 1 - jtf
	if skipElse > bytecode.MaxImm16 {
		return errorAt(n.SpanVal.Start, ErrJumpTooFar, "", "else branch spans %d instructions", skipElse)
	}
	g.mod.Patch(jtf, bytecode.MakeImm16(bytecode.OpJtf, byte(free), uint16(skipElse)))

	skipThen := end - jmf
	if skipThen > bytecode.MaxAddr24 {
		return errorAt(n.SpanVal.Start, ErrJumpTooFar, "", "then branch spans %d instructions", skipThen)
	}
	g.mod.Patch(jmf, bytecode.MakeAddr24(bytecode.OpJmf, uint32(skipThen)))
	return nil
}

func (g *Generator) emit(inst bytecode.Instruction) int {
	return g.mod.Emit(inst)
}

// reg checks that r is addressable inside one frame window.
func reg(r int, at Expr) (byte, error) {
	if r >= bytecode.Window {
		return 0, errorAt(at.Span().Start, ErrRegisterOverflow, "", "needs register %d", r)
	}
	return byte(r), nil
}
