package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/lilium/bytecode"
	"github.com/chazu/lilium/vm"
)

const squareSrc = "(def sq (x) (* x x)) (write (sq (read))) (sq 12)"

func TestCompile(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, WithCache(openTestCache(t)))

	resp, err := client.Compile(ctx, &CompileRequest{Source: squareSrc})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if resp.Cached {
		t.Error("first compile reported cached")
	}
	if resp.Functions != 1 || resp.Instructions == 0 || len(resp.SourceHash) != 64 {
		t.Errorf("unexpected summary: %+v", resp)
	}
	m, err := bytecode.Deserialize(resp.Module)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	again, err := client.Compile(ctx, &CompileRequest{Source: squareSrc})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Cached {
		t.Error("second compile should come from the cache")
	}
}

func TestCompileErrors(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	_, err := client.Compile(ctx, &CompileRequest{Source: "(undefined 1)"})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "undefined function") {
		t.Errorf("error should name the problem: %v", err)
	}

	_, err = client.Compile(ctx, &CompileRequest{})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument for empty source, got %v", err)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	resp, err := client.Run(ctx, &RunRequest{Source: squareSrc, Input: "5\n"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success || resp.Value != 144 || resp.Output != "25\n" {
		t.Errorf("unexpected run: %+v", resp)
	}
	if _, err := uuid.Parse(resp.RunID); err != nil {
		t.Errorf("RunID %q is not a UUID: %v", resp.RunID, err)
	}
	if resp.Steps == 0 {
		t.Error("Steps not reported")
	}

	other, err := client.Run(ctx, &RunRequest{Source: squareSrc, Input: "1\n"})
	if err != nil {
		t.Fatal(err)
	}
	if other.RunID == resp.RunID {
		t.Error("runs share an id")
	}
}

func TestRunModule(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	compiled, err := client.Compile(ctx, &CompileRequest{Source: "(+ 40 2)"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Run(ctx, &RunRequest{Module: compiled.Module})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Value != 42 {
		t.Errorf("unexpected run: %+v", resp)
	}

	_, err = client.Run(ctx, &RunRequest{Module: compiled.Module[:5]})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument for truncated module, got %v", err)
	}
	_, err = client.Run(ctx, &RunRequest{Source: "1", Module: compiled.Module})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("expected InvalidArgument for source and module, got %v", err)
	}
}

func TestRunFaults(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t,
		WithStepLimit(50000),
		WithVMOptions(vm.WithFrames(4)),
		WithMaxOutput(8))

	tests := []struct {
		name string
		req  *RunRequest
		want string
	}{
		{"division by zero", &RunRequest{Source: "(/ 1 0)"}, vm.ErrDivisionByZero.Error()},
		{"step limit", &RunRequest{Source: "(def loop (n) (loop n)) (loop 0)"}, vm.ErrStepLimit.Error()},
		{"request step limit", &RunRequest{Source: "(def count (n) (if (> n 0) ((count (- n 1))) (0))) (count 5000)", StepLimit: 2000}, vm.ErrStepLimit.Error()},
		{"stack overflow", &RunRequest{Source: "(def deep (n) (+ 1 (deep n))) (deep 0)"}, vm.ErrStackOverflow.Error()},
		{"bad input", &RunRequest{Source: "(read)", Input: "x"}, vm.ErrBadInput.Error()},
		{"output limit", &RunRequest{Source: "(write 123456) (write 123456)"}, vm.ErrOutput.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Run(ctx, tt.req)
			if err != nil {
				t.Fatalf("faults are not RPC errors: %v", err)
			}
			if resp.Success || !strings.Contains(resp.Error, tt.want) {
				t.Errorf("expected failure containing %q, got %+v", tt.want, resp)
			}
		})
	}
}

func TestRunTimeout(t *testing.T) {
	client := newTestClient(t, WithRunTimeout(20*time.Millisecond))
	resp, err := client.Run(context.Background(), &RunRequest{Source: "(def loop (n) (loop n)) (loop 0)"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || !strings.Contains(resp.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("expected deadline fault, got %+v", resp)
	}
}

func TestDisassemble(t *testing.T) {
	client := newTestClient(t)
	resp, err := client.Disassemble(context.Background(), &DisassembleRequest{Source: "(+ 1 2)", Name: "sum"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"; === sum ===", "0x00002: add r1, r2, r3", "hlt"} {
		if !strings.Contains(resp.Listing, want) {
			t.Errorf("listing missing %q:\n%s", want, resp.Listing)
		}
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	ok, err := client.Check(ctx, &CheckRequest{Source: "(def f (x) x) (def g () 1) (f (g))"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok.Valid || len(ok.Diagnostics) != 0 || strings.Join(ok.Functions, ",") != "f,g" {
		t.Errorf("unexpected check: %+v", ok)
	}

	bad, err := client.Check(ctx, &CheckRequest{Source: "(def f (x) x)\n(f y)"})
	if err != nil {
		t.Fatal(err)
	}
	if bad.Valid || len(bad.Diagnostics) != 1 {
		t.Fatalf("unexpected check: %+v", bad)
	}
	d := bad.Diagnostics[0]
	if d.Line != 2 || d.Column != 4 || d.Name != "y" || d.Kind != "undefined variable" {
		t.Errorf("diagnostic = %+v", d)
	}
	if len(bad.Functions) != 1 {
		t.Errorf("functions should survive a code generation error: %v", bad.Functions)
	}
}

func TestConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, WithWorkers(2))

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			resp, err := client.Run(ctx, &RunRequest{Source: "(def count (n acc) (if (> n 0) ((count (- n 1) (+ acc 1))) (acc))) (count 10000 0)"})
			if err == nil && resp.Value != 10000 {
				err = errors.New("wrong result")
			}
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

func TestEffectiveLimit(t *testing.T) {
	tests := []struct{ server, request, want uint64 }{
		{0, 0, 0},
		{0, 10, 10},
		{100, 0, 100},
		{100, 10, 10},
		{100, 1000, 100},
	}
	for _, tt := range tests {
		if got := effectiveLimit(tt.server, tt.request); got != tt.want {
			t.Errorf("effectiveLimit(%d, %d) = %d, want %d", tt.server, tt.request, got, tt.want)
		}
	}
}
