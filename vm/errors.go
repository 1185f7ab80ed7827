package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/lilium/bytecode"
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrStackOverflow  = errors.New("stackoverflow")
	ErrStackUnderflow = errors.New("return with no caller frame")
	ErrInvalidReturn  = errors.New("return address outside code")
	ErrInvalidAddress = errors.New("address outside code")
	ErrInvalidOpcode  = errors.New("invalid opcode")
	ErrBadInput       = errors.New("malformed integer input")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrOutput         = errors.New("write failed")
)

// Fault is a runtime error raised by a thread. It records where execution
// stopped; the thread's registers and base are left as they were.
type Fault struct {
	PC   int             // address of the faulting instruction
	Op   bytecode.Opcode // its opcode
	Base int             // frame base at the time of the fault
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at 0x%05x (%s, base %d): %v", f.PC, f.Op, f.Base, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}
