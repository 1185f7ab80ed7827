package vm

import (
	"context"
	"strings"
	"testing"

	"github.com/chazu/lilium/compiler"
)

const countSrc = `
(def count (n acc)
  (if (> n 0)
    ((count (- n 1) (+ acc 1)))
    (acc)))
`

// A tail-recursive loop a million calls deep runs in two frames.
func TestTailRecursionDepth(t *testing.T) {
	m, err := compiler.Compile(countSrc + "(count 1000000 0)")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(m.Disassemble(), "tailcall fn0") {
		t.Fatalf("recursive call was not compiled as a tail call:\n%s", m.Disassemble())
	}

	th, err := NewThread(m, WithFrames(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := th.Run(context.Background(), int(m.EntryPoint)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := th.Result(); got != 1000000 {
		t.Errorf("count = %d, want 1000000", got)
	}
	if th.Base() != 0 {
		t.Errorf("base = %d after halt, want 0", th.Base())
	}
	if len(th.Registers()) != 2*Window {
		t.Errorf("register file grew to %d", len(th.Registers()))
	}
}

func TestTailCallAccumulator(t *testing.T) {
	src := `
		(def sum (a b)
		  (if (> a 0)
		    ((sum (- a 1) (+ b 1)))
		    ((+ b 1))))
		(sum 200 0)`
	if got := mustRun(t, src, WithRegisters(1536)); got != 201 {
		t.Errorf("sum 200 0 = %d, want 201", got)
	}
}

// Tail calls swap arguments in place without clobbering each other.
func TestTailCallArgumentShuffle(t *testing.T) {
	src := `
		(def swap (n a b)
		  (if (> n 0)
		    ((swap (- n 1) b a))
		    ((- a b))))
		(swap 3 10 1)`
	if got := mustRun(t, src, WithFrames(2)); got != -9 {
		t.Errorf("swap = %d, want -9", got)
	}
}

func TestMutualTailRecursion(t *testing.T) {
	src := `
		(def even? (n) (if (== n 0) (1) ((odd? (- n 1)))))
		(def odd? (n) (if (== n 0) (0) ((even? (- n 1)))))
		(+ (even? 100001) (* 10 (odd? 100001)))`
	if got := mustRun(t, src, WithFrames(2)); got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}
