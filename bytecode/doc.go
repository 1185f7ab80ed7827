// Package bytecode defines the register bytecode executed by the lilium VM.
//
// Every instruction is exactly four bytes: an opcode followed by three
// operand bytes. Depending on the opcode the operands are read as
// registers, a 16-bit value split over left/right (left | right<<8), or a
// 24-bit value split over all three (target | left<<8 | right<<16).
//
// # Module Layout
//
// A Module holds a single instruction stream shared by all functions and the
// top-level code, a pool of int64 constants for literals that do not fit a
// 16-bit immediate, the function table (function id -> code address) and the
// entry point of the top-level code. Modules serialize to a fixed-width
// little-endian layout (see Serialize).
//
// # Frames
//
// Registers are addressed relative to a per-call base. A call advances the
// base by Window (256) registers. Register 0 of each frame holds the return
// address and register 1 holds the first parameter and, on return, the
// result.
package bytecode
