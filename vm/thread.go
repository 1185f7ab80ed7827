package vm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/chazu/lilium/bytecode"
)

// Window is the number of registers in one frame.
const Window = bytecode.Window

// DefaultFrames is the register file size, in frames, used when no size
// option is given.
const DefaultFrames = 64

// Thread executes a Module. The module's tables are shared read-only; the
// register file and frame base belong to the thread. A Thread must not be
// used from more than one goroutine at a time, but any number of threads
// may run over the same Module concurrently.
type Thread struct {
	functions []uint64
	constants []int64
	code      []bytecode.Instruction

	registers []int64
	base      int

	maxRegisters int    // growth cap; 0 disables growth
	stepLimit    uint64 // 0 means unlimited
	steps        uint64

	stdout io.Writer
	stdin  *bufio.Reader
	trace  io.Writer
}

// Option configures a Thread.
type Option func(*Thread)

// WithRegisters sets the initial register file size. Values below one frame
// are rejected by NewThread.
func WithRegisters(n int) Option {
	return func(t *Thread) {
		t.registers = make([]int64, n)
	}
}

// WithFrames sets the initial register file size in frames.
func WithFrames(n int) Option {
	return WithRegisters(n * Window)
}

// WithMaxFrames lets the register file grow, by doubling, up to n frames
// when a call would not fit. Without it the initial size is a hard limit.
func WithMaxFrames(n int) Option {
	return func(t *Thread) {
		t.maxRegisters = n * Window
	}
}

// WithStepLimit bounds the number of instructions a single Run may execute.
// The limit is enforced at the same granularity as context cancellation.
func WithStepLimit(n uint64) Option {
	return func(t *Thread) {
		t.stepLimit = n
	}
}

// WithStdout sets where write instructions print. Defaults to os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(t *Thread) {
		t.stdout = w
	}
}

// WithStdin sets where read instructions take input from. Defaults to os.Stdin.
func WithStdin(r io.Reader) Option {
	return func(t *Thread) {
		if br, ok := r.(*bufio.Reader); ok {
			t.stdin = br
			return
		}
		t.stdin = bufio.NewReader(r)
	}
}

// WithTrace logs every executed instruction to w.
func WithTrace(w io.Writer) Option {
	return func(t *Thread) {
		t.trace = w
	}
}

// NewThread validates m and creates a thread over it.
func NewThread(m *bytecode.Module, opts ...Option) (*Thread, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	t := &Thread{
		functions: m.Functions,
		constants: m.Constants,
		code:      m.Code,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.registers == nil {
		t.registers = make([]int64, DefaultFrames*Window)
	}
	if len(t.registers) < Window {
		return nil, fmt.Errorf("%w: register file of %d registers cannot hold one frame", ErrStackOverflow, len(t.registers))
	}
	if t.maxRegisters != 0 && t.maxRegisters < len(t.registers) {
		t.maxRegisters = len(t.registers)
	}
	if t.stdout == nil {
		t.stdout = os.Stdout
	}
	if t.stdin == nil {
		t.stdin = bufio.NewReader(os.Stdin)
	}
	return t, nil
}

// Result returns the value register of the current frame. After a program
// halts this is the value of its last top-level expression.
func (t *Thread) Result() int64 {
	return t.registers[t.base+int(bytecode.RegVAL)]
}

// Base returns the current frame base.
func (t *Thread) Base() int {
	return t.base
}

// Registers returns the register file. The slice is owned by the thread and
// may be replaced when the file grows.
func (t *Thread) Registers() []int64 {
	return t.registers
}

// Steps returns the number of instructions executed by all runs so far.
func (t *Thread) Steps() uint64 {
	return t.steps
}

// Reset clears the registers and returns to the bottom frame.
func (t *Thread) Reset() {
	clear(t.registers)
	t.base = 0
	t.steps = 0
}

// grow enlarges the register file to hold at least need registers, doubling
// each time and never exceeding the configured maximum.
func (t *Thread) grow(need int) bool {
	if need > t.maxRegisters {
		return false
	}
	n := len(t.registers)
	for n < need {
		n *= 2
	}
	if n > t.maxRegisters {
		n = t.maxRegisters
	}
	regs := make([]int64, n)
	copy(regs, t.registers)
	t.registers = regs
	return true
}

// Execute runs m from its entry point on a fresh thread and returns the
// program's value.
func Execute(ctx context.Context, m *bytecode.Module, opts ...Option) (int64, error) {
	t, err := NewThread(m, opts...)
	if err != nil {
		return 0, err
	}
	if err := t.Run(ctx, int(m.EntryPoint)); err != nil {
		return t.Result(), err
	}
	return t.Result(), nil
}
