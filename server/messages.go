package server

import (
	"errors"

	"github.com/chazu/lilium/compiler"
)

// CompileRequest asks for source to be compiled.
type CompileRequest struct {
	Source string `cbor:"1,keyasint"`
}

// CompileResponse carries the serialized module.
type CompileResponse struct {
	Module       []byte `cbor:"1,keyasint"`
	SourceHash   string `cbor:"2,keyasint"`
	Cached       bool   `cbor:"3,keyasint,omitempty"`
	Instructions int    `cbor:"4,keyasint"`
	Constants    int    `cbor:"5,keyasint"`
	Functions    int    `cbor:"6,keyasint"`
}

// RunRequest runs either Source or a serialized Module. Input feeds read
// instructions one line at a time.
type RunRequest struct {
	Source    string `cbor:"1,keyasint,omitempty"`
	Module    []byte `cbor:"2,keyasint,omitempty"`
	Input     string `cbor:"3,keyasint,omitempty"`
	StepLimit uint64 `cbor:"4,keyasint,omitempty"` // capped by the server's limit
}

// RunResponse reports the outcome of a run. A runtime fault is not an RPC
// error: Success is false and Error describes the fault.
type RunResponse struct {
	RunID   string `cbor:"1,keyasint"`
	Success bool   `cbor:"2,keyasint"`
	Value   int64  `cbor:"3,keyasint"`
	Output  string `cbor:"4,keyasint,omitempty"`
	Steps   uint64 `cbor:"5,keyasint"`
	Error   string `cbor:"6,keyasint,omitempty"`
	FaultPC int    `cbor:"7,keyasint,omitempty"`
	Cached  bool   `cbor:"8,keyasint,omitempty"`
	Micros  int64  `cbor:"9,keyasint"`
}

// DisassembleRequest names either Source or a serialized Module.
type DisassembleRequest struct {
	Source string `cbor:"1,keyasint,omitempty"`
	Module []byte `cbor:"2,keyasint,omitempty"`
	Name   string `cbor:"3,keyasint,omitempty"`
}

// DisassembleResponse carries the listing.
type DisassembleResponse struct {
	Listing string `cbor:"1,keyasint"`
}

// CheckRequest validates source without running it.
type CheckRequest struct {
	Source string `cbor:"1,keyasint"`
}

// CheckResponse lists problems found in the source and the functions it
// defines.
type CheckResponse struct {
	Valid       bool         `cbor:"1,keyasint"`
	Diagnostics []Diagnostic `cbor:"2,keyasint,omitempty"`
	Functions   []string     `cbor:"3,keyasint,omitempty"`
}

// Diagnostic is a compile error located in the source. Line and Column are
// 1-based; zero means unknown.
type Diagnostic struct {
	Line    int    `cbor:"1,keyasint"`
	Column  int    `cbor:"2,keyasint"`
	Kind    string `cbor:"3,keyasint"`
	Name    string `cbor:"4,keyasint,omitempty"`
	Message string `cbor:"5,keyasint"`
}

// diagnosticFor converts a compile error.
func diagnosticFor(err error) Diagnostic {
	var ce *compiler.Error
	if errors.As(err, &ce) {
		return Diagnostic{
			Line:    ce.Pos.Line,
			Column:  ce.Pos.Column,
			Kind:    ce.Err.Error(),
			Name:    ce.Name,
			Message: err.Error(),
		}
	}
	return Diagnostic{Kind: "error", Message: err.Error()}
}
