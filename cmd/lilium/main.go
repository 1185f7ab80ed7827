// Lilium CLI - compile, inspect and run lilium programs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	"github.com/urfave/cli"

	"github.com/chazu/lilium/bytecode"
	"github.com/chazu/lilium/compiler"
	"github.com/chazu/lilium/config"
	"github.com/chazu/lilium/dist"
	"github.com/chazu/lilium/server"
	"github.com/chazu/lilium/store"
	"github.com/chazu/lilium/vm"

	_ "github.com/tliron/commonlog/simple"
)

const version = "0.1.0"

var log = commonlog.GetLogger("lilium")

var (
	cfg        *config.Config
	verbose    bool
	configDir  string
	useCache   bool
	traceRun   bool
	printValue bool
	outputPath string
	remoteURL  string
	remoteIn   string
)

func main() {
	app := cli.NewApp()
	app.Name = "lilium"
	app.Usage = "a tiny Lisp compiled to register bytecode"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:        "verbose, v",
			Usage:       "log debug output to stderr",
			Destination: &verbose,
		},
		cli.StringFlag{
			Name:        "config",
			Usage:       "directory to search for lilium.toml (default: current directory)",
			Destination: &configDir,
		},
	}
	app.Before = setup

	cacheFlag := cli.BoolFlag{
		Name:        "cache",
		Usage:       "compile through the module cache",
		Destination: &useCache,
	}
	vmFlags := []cli.Flag{
		cli.IntFlag{Name: "frames", Usage: "initial register file size in frames (default from lilium.toml)"},
		cli.IntFlag{Name: "max-frames", Usage: "let the register file grow up to this many frames"},
		cli.Uint64Flag{Name: "step-limit", Usage: "stop after this many instructions"},
	}

	app.Commands = []cli.Command{
		{
			Name:      "compile",
			Aliases:   []string{"c"},
			Usage:     "Compile source file(s) to FILE.bc",
			ArgsUsage: "[FILE...]",
			Flags: []cli.Flag{
				cacheFlag,
				cli.StringFlag{
					Name:        "output, o",
					Usage:       "output path (single input only)",
					Destination: &outputPath,
				},
			},
			Action: cmdCompile,
		},
		{
			Name:      "disasm",
			Aliases:   []string{"d"},
			Usage:     "Print the bytecode listing of a .bc, .lpk or source file",
			ArgsUsage: "[FILE]",
			Action:    cmdDisasm,
		},
		{
			Name:      "run",
			Aliases:   []string{"r"},
			Usage:     "Run a .bc, .lpk or source file",
			ArgsUsage: "[FILE]",
			Flags: append([]cli.Flag{
				cacheFlag,
				cli.BoolFlag{
					Name:        "trace, t",
					Usage:       "log every executed instruction to stderr",
					Destination: &traceRun,
				},
				cli.BoolFlag{
					Name:        "print, p",
					Usage:       "print the program's value after it halts",
					Destination: &printValue,
				},
				cli.StringFlag{
					Name:        "remote",
					Usage:       "run on a lilium service at this URL instead of locally",
					Destination: &remoteURL,
				},
				cli.StringFlag{
					Name:        "input",
					Usage:       "input lines for read when running remotely",
					Destination: &remoteIn,
				},
			}, vmFlags...),
			Action: cmdRun,
		},
		{
			Name:   "repl",
			Usage:  "Start an interactive session",
			Flags:  vmFlags,
			Action: cmdRepl,
		},
		{
			Name:  "serve",
			Usage: "Serve the compile/run service over HTTP",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Usage: "listen address (default from lilium.toml)"},
				cli.IntFlag{Name: "workers", Usage: "concurrent runs (default from lilium.toml)"},
				cacheFlag,
			},
			Action: cmdServe,
		},
		{
			Name:  "lsp",
			Usage: "Start the language server on stdio",
			Action: func(c *cli.Context) error {
				return server.NewLSP(version).Run()
			},
		},
		{
			Name:      "pack",
			Usage:     "Package a source file as a verifiable .lpk chunk",
			ArgsUsage: "[FILE]",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "output, o",
					Usage:       "output path",
					Destination: &outputPath,
				},
			},
			Action: cmdPack,
		},
		{
			Name:  "cache",
			Usage: "Inspect or clear the module cache",
			Subcommands: []cli.Command{
				{Name: "stats", Usage: "Show cache statistics", Action: cmdCacheStats},
				{Name: "purge", Usage: "Remove every cached module", Action: cmdCachePurge},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads lilium.toml and configures logging.
func setup(c *cli.Context) error {
	dir := configDir
	if dir == "" {
		dir = "."
	}
	var err error
	cfg, err = config.FindAndLoad(dir)
	if err != nil {
		return err
	}

	verbosity := cfg.Log.Verbosity
	if verbose {
		verbosity = 2
	}
	var path *string
	if cfg.Log.File != "" {
		p := cfg.Resolve(cfg.Log.File)
		path = &p
	}
	commonlog.Configure(verbosity, path)
	if cfg.Dir != "" {
		log.Debugf("using %s", filepath.Join(cfg.Dir, config.Filename))
	}
	return nil
}

// vmOptions combines lilium.toml with command-line overrides.
func vmOptions(c *cli.Context) []vm.Option {
	opts := cfg.VMOptions()
	if n := c.Int("frames"); n > 0 {
		opts = append(opts, vm.WithFrames(n))
	}
	if n := c.Int("max-frames"); n > 0 {
		opts = append(opts, vm.WithMaxFrames(n))
	}
	if n := c.Uint64("step-limit"); n > 0 {
		opts = append(opts, vm.WithStepLimit(n))
	}
	return opts
}

func openCache() (*store.ModuleCache, error) {
	if !useCache && !cfg.Cache.Enabled {
		return nil, nil
	}
	return store.Open(cfg.CachePath())
}

// loadModule reads path as serialized bytecode (.bc), a packed chunk (.lpk)
// or source text.
func loadModule(ctx context.Context, path string, cache *store.ModuleCache) (*bytecode.Module, error) {
	switch filepath.Ext(path) {
	case ".bc":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		m, err := bytecode.Deserialize(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return m, nil

	case dist.Extension:
		chunk, err := dist.ReadFile(path)
		if err != nil {
			return nil, err
		}
		m, err := dist.Verify(chunk)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		log.Debugf("verified chunk %s (%s)", chunk.Name, chunk.HashString())
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m *bytecode.Module
	if cache != nil {
		var hit bool
		m, hit, err = cache.Compile(ctx, string(data))
		log.Debugf("%s: cache hit=%v", path, hit)
	} else {
		m, err = compiler.Compile(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", path, err)
	}
	return m, nil
}

// oneArg returns the single FILE argument, falling back to the project entry
// from lilium.toml when none is given.
func oneArg(c *cli.Context) (string, error) {
	switch c.NArg() {
	case 0:
		if entry := cfg.EntryPath(); entry != "" {
			return entry, nil
		}
	case 1:
		return c.Args().First(), nil
	}
	return "", fmt.Errorf("%s: expected exactly one FILE argument", c.Command.Name)
}

func cmdCompile(c *cli.Context) error {
	paths := []string(c.Args())
	if len(paths) == 0 {
		if entry := cfg.EntryPath(); entry != "" {
			paths = []string{entry}
		} else {
			return errors.New("compile: no input files")
		}
	}
	if outputPath != "" && len(paths) > 1 {
		return errors.New("compile: --output needs a single input")
	}
	cache, err := openCache()
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	for _, path := range paths {
		m, err := loadModule(context.Background(), path, cache)
		if err != nil {
			return err
		}
		data, err := m.Serialize()
		if err != nil {
			return err
		}
		out := outputPath
		if out == "" {
			out = path + ".bc"
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		log.Infof("compiled %s -> %s (%d instructions)", path, out, len(m.Code))
	}
	return nil
}

func cmdDisasm(c *cli.Context) error {
	path, err := oneArg(c)
	if err != nil {
		return err
	}
	m, err := loadModule(context.Background(), path, nil)
	if err != nil {
		return err
	}
	fmt.Print(m.DisassembleWithName(filepath.Base(path)))
	return nil
}

func cmdRun(c *cli.Context) error {
	path, err := oneArg(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if remoteURL != "" {
		return runRemote(ctx, path)
	}

	cache, err := openCache()
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}
	m, err := loadModule(ctx, path, cache)
	if err != nil {
		return err
	}

	opts := vmOptions(c)
	if traceRun {
		opts = append(opts, vm.WithTrace(os.Stderr))
	}
	start := time.Now()
	value, err := vm.Execute(ctx, m, opts...)
	if err != nil {
		return err
	}
	log.Debugf("%s halted in %s", path, time.Since(start))
	if printValue {
		fmt.Println(value)
	}
	return nil
}

func runRemote(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	req := &server.RunRequest{Input: remoteIn, StepLimit: cfg.VM.StepLimit}
	if filepath.Ext(path) == ".bc" {
		req.Module = data
	} else {
		req.Source = string(data)
	}
	if remoteIn != "" && !strings.HasSuffix(remoteIn, "\n") {
		req.Input += "\n"
	}

	client := server.NewToolchainClient(http.DefaultClient, remoteURL)
	resp, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Print(resp.Output)
	log.Debugf("run %s: %d steps in %dus", resp.RunID, resp.Steps, resp.Micros)
	if !resp.Success {
		return fmt.Errorf("run %s: %s", resp.RunID, resp.Error)
	}
	if printValue {
		fmt.Println(resp.Value)
	}
	return nil
}

func cmdServe(c *cli.Context) error {
	addr := cfg.Server.Addr
	if a := c.String("addr"); a != "" {
		addr = a
	}
	workers := cfg.Server.Workers
	if n := c.Int("workers"); n > 0 {
		workers = n
	}

	opts := []server.Option{
		server.WithWorkers(workers),
		server.WithVMOptions(cfg.VMOptions()...),
		server.WithStepLimit(cfg.VM.StepLimit),
	}
	cache, err := openCache()
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
		opts = append(opts, server.WithCache(cache))
	}

	srv := server.New(opts...)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(addr) }()

	select {
	case err := <-errc:
		srv.Stop()
		return err
	case <-ctx.Done():
	}
	log.Notice("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func cmdPack(c *cli.Context) error {
	path, err := oneArg(c)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	chunk, err := dist.Pack(name, string(data))
	if err != nil {
		return fmt.Errorf("%s:%w", path, err)
	}
	out := outputPath
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + dist.Extension
	}
	if err := dist.WriteFile(out, chunk); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", chunk.HashString(), out)
	return nil
}

func cmdCacheStats(c *cli.Context) error {
	cache, err := store.Open(cfg.CachePath())
	if err != nil {
		return err
	}
	defer cache.Close()
	st, err := cache.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d modules\n", cache.Path(), st.Entries)
	return nil
}

func cmdCachePurge(c *cli.Context) error {
	cache, err := store.Open(cfg.CachePath())
	if err != nil {
		return err
	}
	defer cache.Close()
	n, err := cache.Purge(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("removed %d modules\n", n)
	return nil
}
