package vm

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/lilium/bytecode"
)

// checkInterval is the number of dispatched instructions between context and
// step limit checks. Must be a power of two.
const checkInterval = 1024

const (
	regRET = int(bytecode.RegRET)
	regVAL = int(bytecode.RegVAL)
)

// Run executes from entry until hlt or a fault. Registers and the frame base
// persist across runs, so a thread can be resumed at another entry point.
//
// Division by zero faults. Integer overflow wraps, including
// math.MinInt64 / -1, which yields math.MinInt64.
func (t *Thread) Run(ctx context.Context, entry int) error {
	code := t.code
	if entry < 0 || entry >= len(code) {
		return &Fault{PC: entry, Base: t.base, Err: fmt.Errorf("%w: entry 0x%x", ErrInvalidAddress, entry)}
	}
	if t.base < 0 || t.base+Window > len(t.registers) {
		return &Fault{PC: entry, Op: code[entry].Op, Base: t.base, Err: ErrStackOverflow}
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}

	functions := t.functions
	constants := t.constants
	regs := t.registers
	base := t.base
	pc := entry
	var steps uint64

	defer func() { t.steps += steps }()

	for {
		inst := code[pc]

		steps++
		if steps&(checkInterval-1) == 0 {
			if t.stepLimit != 0 && steps > t.stepLimit {
				return t.fault(pc, base, inst.Op, ErrStepLimit)
			}
			if done != nil {
				select {
				case <-done:
					return t.fault(pc, base, inst.Op, ctx.Err())
				default:
				}
			}
		}
		if t.trace != nil {
			t.traceInstruction(pc, base, inst)
		}

		switch inst.Op {
		case bytecode.OpHlt:
			t.base = base
			return nil

		case bytecode.OpLd:
			store(regs, base+int(inst.Target), inst.Int16())
			pc++

		case bytecode.OpLdb:
			store(regs, base+int(inst.Target), constants[inst.Imm16()])
			pc++

		case bytecode.OpLdr:
			src := base + Window + regVAL
			if checked && src >= len(regs) {
				return t.fault(pc, base, inst.Op, ErrStackOverflow)
			}
			store(regs, base+int(inst.Target), load(regs, src))
			pc++

		case bytecode.OpAdd:
			store(regs, base+int(inst.Target), load(regs, base+int(inst.Left))+load(regs, base+int(inst.Right)))
			pc++

		case bytecode.OpSub:
			store(regs, base+int(inst.Target), load(regs, base+int(inst.Left))-load(regs, base+int(inst.Right)))
			pc++

		case bytecode.OpMul:
			store(regs, base+int(inst.Target), load(regs, base+int(inst.Left))*load(regs, base+int(inst.Right)))
			pc++

		case bytecode.OpDiv:
			d := load(regs, base+int(inst.Right))
			if d == 0 {
				return t.fault(pc, base, inst.Op, ErrDivisionByZero)
			}
			store(regs, base+int(inst.Target), load(regs, base+int(inst.Left))/d)
			pc++

		case bytecode.OpAnd:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) != 0 && load(regs, base+int(inst.Right)) != 0))
			pc++

		case bytecode.OpOr:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) != 0 || load(regs, base+int(inst.Right)) != 0))
			pc++

		case bytecode.OpNot:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) == 0))
			pc++

		case bytecode.OpEq:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) == load(regs, base+int(inst.Right))))
			pc++

		case bytecode.OpLt:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) < load(regs, base+int(inst.Right))))
			pc++

		case bytecode.OpLe:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) <= load(regs, base+int(inst.Right))))
			pc++

		case bytecode.OpGt:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) > load(regs, base+int(inst.Right))))
			pc++

		case bytecode.OpGe:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) >= load(regs, base+int(inst.Right))))
			pc++

		case bytecode.OpNeq:
			store(regs, base+int(inst.Target), b2i(load(regs, base+int(inst.Left)) != load(regs, base+int(inst.Right))))
			pc++

		case bytecode.OpCal:
			next := base + Window
			if checked && next+Window > len(regs) {
				if !t.grow(next + Window) {
					return t.fault(pc, base, inst.Op, ErrStackOverflow)
				}
				regs = t.registers
			}
			base = next
			store(regs, base+regRET, int64(pc+1))
			pc = int(functions[inst.Addr24()])

		case bytecode.OpTlc:
			pc = int(functions[inst.Addr24()])

		case bytecode.OpRet:
			if checked && base == 0 {
				return t.fault(pc, base, inst.Op, ErrStackUnderflow)
			}
			ra := load(regs, base+regRET)
			if checked && (ra < 0 || ra >= int64(len(code))) {
				return t.fault(pc, base, inst.Op, fmt.Errorf("%w: 0x%x", ErrInvalidReturn, ra))
			}
			base -= Window
			pc = int(ra)

		case bytecode.OpMov:
			store(regs, base+int(inst.Target), load(regs, base+int(inst.Left)))
			pc++

		case bytecode.OpMvo:
			dst := base + int(inst.Target) + int(inst.Right)
			if checked && dst >= len(regs) {
				if !t.grow(dst + 1) {
					return t.fault(pc, base, inst.Op, ErrStackOverflow)
				}
				regs = t.registers
			}
			store(regs, dst, load(regs, base+int(inst.Left)))
			pc++

		case bytecode.OpJmf:
			pc += int(inst.Addr24())

		case bytecode.OpJmb:
			pc -= int(inst.Addr24())

		case bytecode.OpJtf:
			if load(regs, base+int(inst.Target)) != 0 {
				pc += int(inst.Imm16())
			} else {
				pc++
			}

		case bytecode.OpWri:
			v := load(regs, base+int(inst.Left))
			store(regs, base+int(inst.Target), v)
			if _, err := fmt.Fprintln(t.stdout, v); err != nil {
				return t.fault(pc, base, inst.Op, fmt.Errorf("%w: %w", ErrOutput, err))
			}
			pc++

		case bytecode.OpRdi:
			v, err := t.readInt()
			if err != nil {
				return t.fault(pc, base, inst.Op, err)
			}
			store(regs, base+int(inst.Target), v)
			pc++

		default:
			return t.fault(pc, base, inst.Op, ErrInvalidOpcode)
		}
	}
}

// fault stops the thread at pc, keeping base for inspection.
func (t *Thread) fault(pc, base int, op bytecode.Opcode, err error) error {
	t.base = base
	return &Fault{PC: pc, Op: op, Base: base, Err: err}
}

func (t *Thread) readInt() (int64, error) {
	line, err := t.stdin.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return 0, fmt.Errorf("%w: %w", ErrBadInput, err)
	}
	v, perr := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadInput, strings.TrimSpace(line))
	}
	return v, nil
}

func (t *Thread) traceInstruction(pc, base int, inst bytecode.Instruction) {
	fmt.Fprintf(t.trace, "[%05x] base=%-6d %s\n", pc, base,
		bytecode.FormatInstruction(inst, pc, t.constants, t.functions))
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
