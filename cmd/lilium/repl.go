package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/urfave/cli"

	"github.com/chazu/lilium/bytecode"
	"github.com/chazu/lilium/compiler"
	"github.com/chazu/lilium/vm"
)

const (
	historyFile = ".lilium_history"
	promptMain  = "lilium> "
	promptCont  = "   ...> "
)

// session keeps the definitions entered so far. Each input is compiled
// together with them and run on a fresh thread.
type session struct {
	// definition source in entry order, and each function's slot in it
	defs  []string
	index map[string]int

	opts []vm.Option
	last *bytecode.Module
	out  io.Writer
}

func newSession(out io.Writer, opts ...vm.Option) *session {
	return &session{
		index: make(map[string]int),
		opts:  opts,
		out:   out,
	}
}

// result is what one input produced.
type result struct {
	defined  []string
	value    int64
	hasValue bool
}

// eval compiles input with the accumulated definitions and runs it when it
// contains expressions. Definitions are kept only if the whole input
// compiles; a later definition replaces an earlier one of the same name.
func (s *session) eval(ctx context.Context, input string) (*result, error) {
	exprs, err := compiler.Parse(input)
	if err != nil {
		return nil, err
	}

	res := &result{}
	var newDefs []*compiler.FuncDef
	var body []string
	for _, e := range exprs {
		sp := e.Span()
		text := input[sp.Start.Offset:sp.End.Offset]
		if def, ok := e.(*compiler.FuncDef); ok {
			newDefs = append(newDefs, def)
			res.defined = append(res.defined, def.Name)
			continue
		}
		body = append(body, text)
	}

	defs := append([]string(nil), s.defs...)
	index := make(map[string]int, len(s.index))
	for k, v := range s.index {
		index[k] = v
	}
	for _, def := range newDefs {
		sp := def.Span()
		text := input[sp.Start.Offset:sp.End.Offset]
		if i, ok := index[def.Name]; ok {
			defs[i] = text
		} else {
			index[def.Name] = len(defs)
			defs = append(defs, text)
		}
	}

	src := strings.Join(defs, "\n") + "\n" + strings.Join(body, "\n")
	m, err := compiler.Compile(src)
	if err != nil {
		return nil, err
	}
	s.defs, s.index, s.last = defs, index, m

	if len(body) == 0 {
		return res, nil
	}
	opts := append(append([]vm.Option{}, s.opts...), vm.WithStdout(s.out))
	res.value, err = vm.Execute(ctx, m, opts...)
	if err != nil {
		return nil, err
	}
	res.hasValue = true
	return res, nil
}

// command handles a ":" line. It reports false for :quit.
func (s *session) command(line string) bool {
	switch strings.Fields(line)[0] {
	case ":quit", ":q":
		return false
	case ":defs":
		for _, d := range s.defs {
			fmt.Fprintln(s.out, d)
		}
	case ":disasm":
		if s.last == nil {
			fmt.Fprintln(s.out, "nothing compiled yet")
		} else {
			fmt.Fprint(s.out, s.last.Disassemble())
		}
	case ":reset":
		s.defs, s.index, s.last = nil, make(map[string]int), nil
	default:
		fmt.Fprintln(s.out, "commands: :defs :disasm :reset :quit")
	}
	return true
}

// depth returns how many parentheses input leaves open.
func depth(input string) int {
	d := 0
	for _, tok := range compiler.Tokenize(input) {
		switch tok.Type {
		case compiler.TokenLParen:
			d++
		case compiler.TokenRParen:
			d--
		}
	}
	return d
}

func cmdRepl(c *cli.Context) error {
	fmt.Printf("lilium %s. Type :quit to exit.\n", version)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	var out bytes.Buffer
	s := newSession(&out, vmOptions(c)...)
	for {
		input, ok := readInput(ln)
		if !ok {
			fmt.Println()
			return nil
		}
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(input, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			if !s.command(trimmed) {
				return nil
			}
			fmt.Print(out.String())
			out.Reset()
			continue
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		res, err := s.eval(ctx, input)
		stop()
		fmt.Print(out.String())
		out.Reset()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		for _, name := range res.defined {
			fmt.Printf("defined %s\n", name)
		}
		if res.hasValue {
			fmt.Println(res.value)
		}
	}
}

// readInput reads lines until the parentheses balance.
func readInput(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			return "", false
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if depth(b.String()) <= 0 {
			return b.String(), true
		}
	}
}
