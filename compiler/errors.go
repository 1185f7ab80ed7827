package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/lilium/bytecode"
)

var (
	ErrSyntax            = errors.New("syntax error")
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrUndefinedFunction = errors.New("undefined function")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrRegisterOverflow  = errors.New("register window exhausted")
	ErrJumpTooFar        = errors.New("jump distance out of range")
	ErrArity             = errors.New("wrong number of arguments")
	ErrDuplicateFunction = errors.New("duplicate function definition")

	// Pool limits are reported with the bytecode package's sentinels so
	// errors.Is works against either name.
	ErrTooManyConstants = bytecode.ErrTooManyConstants
	ErrTooManyFunctions = bytecode.ErrTooManyFunctions
)

// Error is a compile error with the source position it was raised at.
type Error struct {
	Err  error    // one of the Err* sentinels
	Pos  Position // where the offending construct starts
	Name string   // offending identifier or operator, if any
	Msg  string   // optional detail
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d:%d: %v", e.Pos.Line, e.Pos.Column, e.Err)
	if e.Name != "" {
		fmt.Fprintf(&sb, " %q", e.Name)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errorAt(pos Position, err error, name string, format string, args ...any) *Error {
	e := &Error{Err: err, Pos: pos, Name: name}
	if format != "" {
		e.Msg = fmt.Sprintf(format, args...)
	}
	return e
}
