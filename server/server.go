// Package server exposes engines to other processes: a connect-based
// compile service over HTTP and an LSP server for IR documents.
package server

import (
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/moth/codecache"
	"github.com/chazu/moth/vm"
)

var log = commonlog.GetLogger("moth.server")

// ErrStopped is returned for work submitted to a stopped worker.
var ErrStopped = errors.New("server: engine worker stopped")

// CompileServer serves the compile service over Connect with a CBOR codec.
type CompileServer struct {
	worker  *EngineWorker
	handles *HandleStore
	service *CompileService
	mux     *http.ServeMux

	stopSweeper func()
}

// ServerOption configures a CompileServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cache     *codecache.Cache
	handleTTL time.Duration
}

// WithCache stores compiled units in cache. Without it every Compile
// selects from scratch.
func WithCache(cache *codecache.Cache) ServerOption {
	return func(c *serverConfig) { c.cache = cache }
}

// WithHandleTTL sets how long an unused handle survives.
func WithHandleTTL(ttl time.Duration) ServerOption {
	return func(c *serverConfig) { c.handleTTL = ttl }
}

// NewCompileServer creates a server that owns e.
func NewCompileServer(e *vm.Engine, opts ...ServerOption) *CompileServer {
	cfg := &serverConfig{handleTTL: 30 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	sweepInterval := cfg.handleTTL / 6
	if sweepInterval < time.Second {
		sweepInterval = time.Second
	}

	worker := NewEngineWorker(e)
	handles := NewHandleStore()
	s := &CompileServer{
		worker:  worker,
		handles: handles,
		service: NewCompileService(worker, handles, cfg.cache),
		mux:     http.NewServeMux(),
	}

	codec := connect.WithCodec(defaultCodec)
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, s.service.Compile, codec))
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, s.service.Run, codec))
	s.mux.Handle(ReleaseProcedure, connect.NewUnaryHandler(ReleaseProcedure, s.service.Release, codec))
	s.mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, s.service.Stats, codec))

	handles.OnEvict(func(cf *vm.CompiledFunction) {
		if _, err := worker.Do(func(e *vm.Engine) (any, error) {
			return e.Unload(cf), nil
		}); err != nil && !errors.Is(err, ErrStopped) {
			log.Warningf("unloading %s: %v", cf.Name, err)
		}
	})
	s.stopSweeper = handles.StartSweeper(sweepInterval, cfg.handleTTL)
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *CompileServer) Handler() http.Handler { return s.mux }

// Handles returns the handle store.
func (s *CompileServer) Handles() *HandleStore { return s.handles }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *CompileServer) ListenAndServe(addr string) error {
	log.Noticef("compile service listening on %s", addr)
	log.Noticef("  Connect (HTTP/CBOR): http://%s%s", addr, CompileProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the sweeper and the engine worker.
func (s *CompileServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}
