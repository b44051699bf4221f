// Command moth compiles YAML IR documents to bytecode and runs them.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/moth/codecache"
	"github.com/chazu/moth/ir"
	"github.com/chazu/moth/manifest"
	"github.com/chazu/moth/server"
	"github.com/chazu/moth/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options are the parsed command line.
type options struct {
	config    string
	dis       bool
	dumpIR    bool
	strict    bool
	verbosity int
	noCache   bool
	lsp       bool
	serve     string
	file      string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("moth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &options{}
	fs.StringVar(&opts.config, "config", "", "path to moth.toml (default: search upward from the working directory)")
	fs.BoolVar(&opts.dis, "dis", false, "print the disassembly instead of running")
	fs.BoolVar(&opts.dumpIR, "ir", false, "print the decoded IR instead of running")
	fs.BoolVar(&opts.strict, "strict", false, "run every function in strict mode")
	fs.IntVar(&opts.verbosity, "v", -1, "log verbosity (overrides the config file)")
	fs.BoolVar(&opts.noCache, "no-cache", false, "do not read or write the code cache")
	fs.BoolVar(&opts.lsp, "lsp", false, "serve the language server on stdio")
	fs.StringVar(&opts.serve, "serve", "", "serve the compile service on `addr`")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: moth [options] file.yaml\n")
		fmt.Fprintf(stderr, "       moth -lsp\n")
		fmt.Fprintf(stderr, "       moth -serve host:port\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch {
	case opts.lsp || opts.serve != "":
		if fs.NArg() != 0 {
			fs.Usage()
			return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
		}
	case fs.NArg() == 1:
		opts.file = fs.Arg(0)
	default:
		fs.Usage()
		return nil, fmt.Errorf("expected exactly one IR file")
	}
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	m, err := loadManifest(opts.config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	verbosity := m.Log.Verbosity
	if opts.verbosity >= 0 {
		verbosity = opts.verbosity
	}
	commonlog.Configure(verbosity, m.LogFile())

	if opts.lsp {
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	cfg := m.EngineConfig()
	if opts.strict {
		cfg.Strict = true
	}

	var cache *codecache.Cache
	if m.Cache.Enabled && !opts.noCache {
		cache, err = codecache.Open(m.CachePath())
		if err != nil {
			// A broken cache never stops compilation.
			commonlog.GetLogger("moth").Warningf("code cache disabled: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	if opts.serve != "" {
		e := vm.NewEngine(cfg)
		installNatives(e, stdout)
		srvOpts := []server.ServerOption{server.WithHandleTTL(m.Server.HandleTTL.Duration)}
		if cache != nil {
			srvOpts = append(srvOpts, server.WithCache(cache))
		}
		srv := server.NewCompileServer(e, srvOpts...)
		defer srv.Stop()
		if err := srv.ListenAndServe(opts.serve); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if err := runFile(opts, cfg, cache, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return manifest.FindAndLoad(wd)
}

// runFile compiles one IR document and either prints it or runs it.
func runFile(opts *options, cfg vm.Config, cache *codecache.Cache, stdout io.Writer) error {
	source, err := os.ReadFile(opts.file)
	if err != nil {
		return err
	}

	if opts.dumpIR {
		return dumpIR(source, stdout)
	}

	var cf *vm.CompiledFunction
	if cache != nil {
		cf, _, err = cache.Compile(context.Background(), source)
	} else {
		cf, err = codecache.CompileSource(source)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", opts.file, err)
	}

	if opts.dis {
		fmt.Fprintln(stdout, cf.Disassemble())
		return nil
	}

	e := vm.NewEngine(cfg)
	defer e.Close()
	installNatives(e, stdout)

	result, err := e.Run(cf)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, vm.ToString(result))
	return nil
}

func dumpIR(source []byte, stdout io.Writer) error {
	mod, err := ir.Decode(source)
	if err != nil {
		return err
	}
	for i, fn := range mod.Functions {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		fmt.Fprint(stdout, fn.Dump())
	}
	return nil
}

// installNatives defines the host functions scripts may call.
func installNatives(e *vm.Engine, stdout io.Writer) {
	e.DefineNative("print", func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = vm.ToString(a)
		}
		fmt.Fprintln(stdout, strings.Join(parts, " "))
		return vm.Undefined, nil
	})
}
