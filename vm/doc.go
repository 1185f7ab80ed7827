// Package vm runs lilium bytecode modules.
//
// A Thread owns a flat register file of int64 values addressed relative to a
// frame base. Each frame is a window of 256 registers: register 0 holds the
// return address and register 1 the first parameter and the return value.
//
// Calling convention:
//
//   - the caller writes arguments into registers 1.. of the next window
//     (base+256+1..) with mvo
//   - cal advances base by 256, stores the return address in the new frame's
//     register 0 and jumps to the function's entry
//   - ret jumps back and restores base; the caller reads the result from
//     base+256+1 with ldr
//   - tlc jumps to a function without touching base, so tail recursion runs
//     in constant register space
//
// The default build checks that every pushed frame fits the register file and
// reports ErrStackOverflow otherwise (or grows the file when WithMaxFrames is
// set). Building with the lilium_unchecked tag removes these checks together
// with Go's bounds checks on register access.
//
// Threads honour context cancellation and an optional step budget, both
// polled every 1024 instructions.
package vm
