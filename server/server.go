package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/lilium/store"
	"github.com/chazu/lilium/vm"
)

var log = commonlog.GetLogger("lilium.server")

// Server exposes the Toolchain service over HTTP using the CBOR codec.
type Server struct {
	pool    *WorkerPool
	service *ToolchainService
	mux     *http.ServeMux
	http    *http.Server
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	workers    int
	queue      int
	cache      *store.ModuleCache
	vmOptions  []vm.Option
	stepLimit  uint64
	runTimeout time.Duration
	maxOutput  int
}

func newServerConfig(opts []Option) *serverConfig {
	cfg := &serverConfig{
		workers:    4,
		queue:      64,
		runTimeout: 10 * time.Second,
		maxOutput:  1 << 20,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithWorkers sets how many programs may run at once.
func WithWorkers(n int) Option {
	return func(c *serverConfig) { c.workers = n }
}

// WithQueue sets how many runs may wait for a worker.
func WithQueue(n int) Option {
	return func(c *serverConfig) { c.queue = n }
}

// WithCache compiles through the given module cache.
func WithCache(cache *store.ModuleCache) Option {
	return func(c *serverConfig) { c.cache = cache }
}

// WithVMOptions sets the thread options used for every run.
func WithVMOptions(opts ...vm.Option) Option {
	return func(c *serverConfig) { c.vmOptions = opts }
}

// WithStepLimit caps the instructions a single run may execute. Requests may
// ask for a lower limit but never a higher one. 0 disables the cap.
func WithStepLimit(n uint64) Option {
	return func(c *serverConfig) { c.stepLimit = n }
}

// WithRunTimeout bounds the wall-clock time of a single run.
func WithRunTimeout(d time.Duration) Option {
	return func(c *serverConfig) { c.runTimeout = d }
}

// WithMaxOutput bounds the bytes a run may write. 0 means unlimited.
func WithMaxOutput(n int) Option {
	return func(c *serverConfig) { c.maxOutput = n }
}

// New creates a Server and starts its worker pool.
func New(opts ...Option) *Server {
	cfg := newServerConfig(opts)
	pool := NewWorkerPool(cfg.workers, cfg.queue)
	svc := NewToolchainService(pool, opts...)

	s := &Server{
		pool:    pool,
		service: svc,
		mux:     http.NewServeMux(),
	}
	path, handler := NewToolchainHandler(svc)
	s.mux.Handle(path, handler)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Noticef("lilium toolchain service listening on %s (%d workers)", addr, s.pool.Size())
	log.Infof("  Connect (CBOR): http://%s%s", addr, RunProcedure)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight ones, then stops
// the worker pool.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.Stop()
	return err
}

// Stop shuts down the worker pool.
func (s *Server) Stop() {
	s.pool.Stop()
}
