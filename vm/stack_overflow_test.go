package vm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chazu/lilium/compiler"
)

const nonTailSum = `
(def sum (a)
  (if (> a 0)
    ((+ 1 (sum (- a 1))))
    ((+ 0 1))))
(sum 10)`

func TestNonTailRecursionOverflows(t *testing.T) {
	if !checked {
		t.Skip("frame checks are disabled in unchecked builds")
	}
	_, err := runProgram(t, nonTailSum, WithRegisters(1536))
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("expected ErrStackOverflow, got %v", err)
	}
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected *Fault, got %T", err)
	}
	if f.Base == 0 {
		t.Error("fault should report the frame that overflowed")
	}
}

func TestRegisterFileGrowth(t *testing.T) {
	if !checked {
		t.Skip("growth is only available in checked builds")
	}
	m, err := compiler.Compile(nonTailSum)
	if err != nil {
		t.Fatal(err)
	}
	th, err := NewThread(m, WithFrames(2), WithMaxFrames(16))
	if err != nil {
		t.Fatal(err)
	}
	if err := th.Run(context.Background(), int(m.EntryPoint)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if th.Result() != 11 {
		t.Errorf("sum 10 = %d, want 11", th.Result())
	}
	if n := len(th.Registers()); n != 16*Window {
		t.Errorf("register file has %d registers, want %d", n, 16*Window)
	}

	_, err = runProgram(t, nonTailSum, WithFrames(2), WithMaxFrames(8))
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("expected ErrStackOverflow past the growth cap, got %v", err)
	}
}

const infiniteLoop = "(def loop (n) (loop n)) (loop 0)"

func TestStepLimit(t *testing.T) {
	_, err := runProgram(t, infiniteLoop, WithStepLimit(10000))
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}

	// The budget applies to each run.
	if got := mustRun(t, "(+ 1 2)", WithStepLimit(1)); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestContextCancellation(t *testing.T) {
	m, err := compiler.Compile(infiniteLoop)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Execute(ctx, m); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := Execute(ctx, m); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}
