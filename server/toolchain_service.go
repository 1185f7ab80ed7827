package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/lilium/bytecode"
	"github.com/chazu/lilium/compiler"
	"github.com/chazu/lilium/store"
	"github.com/chazu/lilium/vm"
)

const (
	// ToolchainServiceName is the fully-qualified name of the service.
	ToolchainServiceName = "lilium.v1.Toolchain"

	CompileProcedure     = "/" + ToolchainServiceName + "/Compile"
	RunProcedure         = "/" + ToolchainServiceName + "/Run"
	DisassembleProcedure = "/" + ToolchainServiceName + "/Disassemble"
	CheckProcedure       = "/" + ToolchainServiceName + "/Check"
)

// RunIDHeader carries the run identifier on Run responses.
const RunIDHeader = "Lilium-Run-Id"

var errOutputLimit = errors.New("output limit exceeded")

// ToolchainService implements the compile/run/disassemble/check procedures.
type ToolchainService struct {
	pool  *WorkerPool
	cache *store.ModuleCache // may be nil

	vmOptions  []vm.Option
	stepLimit  uint64
	runTimeout time.Duration
	maxOutput  int
}

// NewToolchainService creates a ToolchainService that runs programs on pool.
// Only the cache, VM, step limit, timeout and output options apply.
func NewToolchainService(pool *WorkerPool, opts ...Option) *ToolchainService {
	cfg := newServerConfig(opts)
	return &ToolchainService{
		pool:       pool,
		cache:      cfg.cache,
		vmOptions:  cfg.vmOptions,
		stepLimit:  cfg.stepLimit,
		runTimeout: cfg.runTimeout,
		maxOutput:  cfg.maxOutput,
	}
}

// NewToolchainHandler builds an http.Handler serving every procedure of the
// service, returning the path prefix to mount it on.
func NewToolchainHandler(svc *ToolchainService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, svc.Compile, opts...))
	mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, svc.Run, opts...))
	mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, opts...))
	mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, svc.Check, opts...))
	return "/" + ToolchainServiceName + "/", mux
}

// Compile compiles source and returns the serialized module.
func (s *ToolchainService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	source := req.Msg.Source
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	m, cached, err := s.compile(ctx, source)
	if err != nil {
		return nil, err
	}
	data, err := m.Serialize()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(&CompileResponse{
		Module:       data,
		SourceHash:   store.HashSource(source).String(),
		Cached:       cached,
		Instructions: len(m.Code),
		Constants:    len(m.Constants),
		Functions:    len(m.Functions),
	}), nil
}

// Run executes a program on the worker pool.
func (s *ToolchainService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	m, cached, err := s.load(ctx, req.Msg.Source, req.Msg.Module)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	result, err := s.pool.Do(ctx, func(ctx context.Context) (any, error) {
		return s.execute(ctx, id, m, req.Msg), nil
	})
	if err != nil {
		log.Warningf("run %s: %s", id, err)
		return nil, connectError(err)
	}

	resp := result.(*RunResponse)
	resp.Cached = cached
	res := connect.NewResponse(resp)
	res.Header().Set(RunIDHeader, id)
	return res, nil
}

// Disassemble returns the listing of a program.
func (s *ToolchainService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	m, _, err := s.load(ctx, req.Msg.Source, req.Msg.Module)
	if err != nil {
		return nil, err
	}
	name := req.Msg.Name
	if name == "" {
		name = "module"
	}
	return connect.NewResponse(&DisassembleResponse{
		Listing: m.DisassembleWithName(name),
	}), nil
}

// Check validates source without executing it. Compile errors are reported
// as diagnostics, not RPC errors.
func (s *ToolchainService) Check(
	ctx context.Context,
	req *connect.Request[CheckRequest],
) (*connect.Response[CheckResponse], error) {
	source := req.Msg.Source
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	a := compiler.Analyze(source)
	resp := &CheckResponse{Valid: a.Err == nil}
	if a.Err != nil {
		resp.Diagnostics = []Diagnostic{diagnosticFor(a.Err)}
	}
	if a.Functions != nil {
		for _, fn := range a.Functions.Functions() {
			resp.Functions = append(resp.Functions, fn.Name)
		}
	}
	return connect.NewResponse(resp), nil
}

// compile goes through the module cache when one is configured.
func (s *ToolchainService) compile(ctx context.Context, source string) (*bytecode.Module, bool, error) {
	var (
		m      *bytecode.Module
		cached bool
		err    error
	)
	if s.cache != nil {
		m, cached, err = s.cache.Compile(ctx, source)
	} else {
		m, err = compiler.Compile(source)
	}
	if err != nil {
		var ce *compiler.Error
		if errors.As(err, &ce) {
			return nil, false, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, false, connect.NewError(connect.CodeInternal, err)
	}
	return m, cached, nil
}

// load resolves a request's program from source or serialized module bytes.
func (s *ToolchainService) load(ctx context.Context, source string, module []byte) (*bytecode.Module, bool, error) {
	switch {
	case source != "" && len(module) > 0:
		return nil, false, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source and module are mutually exclusive"))
	case source != "":
		return s.compile(ctx, source)
	case len(module) > 0:
		m, err := bytecode.Deserialize(module)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			return nil, false, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return m, false, nil
	default:
		return nil, false, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source or module is required"))
	}
}

// execute runs m on a fresh thread. Called on a worker goroutine.
func (s *ToolchainService) execute(ctx context.Context, id string, m *bytecode.Module, req *RunRequest) *RunResponse {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	out := &limitedBuffer{max: s.maxOutput}
	opts := append([]vm.Option{}, s.vmOptions...)
	opts = append(opts,
		vm.WithStdout(out),
		vm.WithStdin(strings.NewReader(req.Input)),
		vm.WithStepLimit(effectiveLimit(s.stepLimit, req.StepLimit)),
	)

	resp := &RunResponse{RunID: id}
	start := time.Now()

	th, err := vm.NewThread(m, opts...)
	if err == nil {
		err = th.Run(ctx, int(m.EntryPoint))
		resp.Value = th.Result()
		resp.Steps = th.Steps()
	}
	resp.Micros = time.Since(start).Microseconds()
	resp.Output = out.String()

	if err != nil {
		resp.Error = err.Error()
		var f *vm.Fault
		if errors.As(err, &f) {
			resp.FaultPC = f.PC
		}
		log.Infof("run %s faulted after %d steps: %s", id, resp.Steps, err)
		return resp
	}
	resp.Success = true
	log.Debugf("run %s: value=%d steps=%d in %dus", id, resp.Value, resp.Steps, resp.Micros)
	return resp
}

// effectiveLimit returns the smaller non-zero step limit.
func effectiveLimit(server, request uint64) uint64 {
	switch {
	case server == 0:
		return request
	case request == 0 || request > server:
		return server
	default:
		return request
	}
}

// connectError maps worker pool errors to connect codes.
func connectError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrPoolStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// limitedBuffer collects program output up to max bytes; 0 means unlimited.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max > 0 && b.buf.Len()+len(p) > b.max {
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

// ToolchainClient calls a Toolchain service.
type ToolchainClient struct {
	compile     *connect.Client[CompileRequest, CompileResponse]
	run         *connect.Client[RunRequest, RunResponse]
	disassemble *connect.Client[DisassembleRequest, DisassembleResponse]
	check       *connect.Client[CheckRequest, CheckResponse]
}

// NewToolchainClient creates a client for the service at baseURL, for
// example http://127.0.0.1:7420.
func NewToolchainClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ToolchainClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &ToolchainClient{
		compile:     connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, opts...),
		run:         connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts...),
		disassemble: connect.NewClient[DisassembleRequest, DisassembleResponse](httpClient, baseURL+DisassembleProcedure, opts...),
		check:       connect.NewClient[CheckRequest, CheckResponse](httpClient, baseURL+CheckProcedure, opts...),
	}
}

// Compile calls Toolchain.Compile.
func (c *ToolchainClient) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	res, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Run calls Toolchain.Run.
func (c *ToolchainClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	res, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Disassemble calls Toolchain.Disassemble.
func (c *ToolchainClient) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	res, err := c.disassemble.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Check calls Toolchain.Check.
func (c *ToolchainClient) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	res, err := c.check.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
