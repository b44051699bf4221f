package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/moth/codecache"
	"github.com/chazu/moth/ir"
	"github.com/chazu/moth/isel"
	"github.com/chazu/moth/vm"
)

// Procedure paths of the compile service.
const (
	ServiceName      = "moth.v1.CompileService"
	CompileProcedure = "/" + ServiceName + "/Compile"
	RunProcedure     = "/" + ServiceName + "/Run"
	ReleaseProcedure = "/" + ServiceName + "/Release"
	StatsProcedure   = "/" + ServiceName + "/Stats"
)

// CompileRequest carries a YAML IR document.
type CompileRequest struct {
	Source      string `cbor:"1,keyasint"`
	Disassemble bool   `cbor:"2,keyasint,omitempty"`
}

// CompileResponse describes the compiled entry function.
type CompileResponse struct {
	Handle      string `cbor:"1,keyasint"`
	Function    string `cbor:"2,keyasint"`
	FrameSize   int    `cbor:"3,keyasint"`
	CodeSize    int    `cbor:"4,keyasint"`
	Cached      bool   `cbor:"5,keyasint"`
	Disassembly string `cbor:"6,keyasint,omitempty"`
}

// RunRequest names a compiled unit to run on the server engine.
type RunRequest struct {
	Handle string `cbor:"1,keyasint"`
}

// RunResponse is the completion value of a run. A value thrown out of the
// entry function is reported with Thrown set; the run itself succeeded.
type RunResponse struct {
	Value  string `cbor:"1,keyasint"`
	Type   string `cbor:"2,keyasint"`
	Thrown bool   `cbor:"3,keyasint,omitempty"`
}

// ReleaseRequest drops a handle.
type ReleaseRequest struct {
	Handle string `cbor:"1,keyasint"`
}

// ReleaseResponse reports whether the handle existed.
type ReleaseResponse struct {
	Released bool `cbor:"1,keyasint"`
}

// StatsRequest has no fields.
type StatsRequest struct{}

// StatsResponse summarizes server state.
type StatsResponse struct {
	Handles     int   `cbor:"1,keyasint"`
	CachedUnits int   `cbor:"2,keyasint"`
	CacheBytes  int64 `cbor:"3,keyasint"`
	CacheHits   int64 `cbor:"4,keyasint"`
}

// CompileService implements the compile service procedures.
type CompileService struct {
	worker  *EngineWorker
	handles *HandleStore
	cache   *codecache.Cache
}

// NewCompileService creates the service. cache may be nil.
func NewCompileService(worker *EngineWorker, handles *HandleStore, cache *codecache.Cache) *CompileService {
	return &CompileService{worker: worker, handles: handles, cache: cache}
}

// Compile decodes and selects the request source and registers the unit.
func (s *CompileService) Compile(ctx context.Context, req *connect.Request[CompileRequest]) (*connect.Response[CompileResponse], error) {
	src := []byte(req.Msg.Source)

	var (
		cf     *vm.CompiledFunction
		cached bool
		err    error
	)
	if s.cache != nil {
		cf, cached, err = s.cache.Compile(ctx, src)
	} else {
		cf, err = codecache.CompileSource(src)
	}
	if err != nil {
		if errors.Is(err, ir.ErrDecode) || errors.Is(err, isel.ErrInternal) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	id := s.handles.Create(cf, cached)
	log.Infof("compiled %s as %s (cached=%t)", cf.Name, id, cached)

	resp := &CompileResponse{
		Handle:    id,
		Function:  cf.Name,
		FrameSize: cf.FrameSize,
		CodeSize:  len(cf.Code),
		Cached:    cached,
	}
	if req.Msg.Disassemble {
		resp.Disassembly = cf.Disassemble()
	}
	return connect.NewResponse(resp), nil
}

// Run executes a compiled unit on the server engine.
func (s *CompileService) Run(ctx context.Context, req *connect.Request[RunRequest]) (*connect.Response[RunResponse], error) {
	cf, ok := s.handles.Lookup(req.Msg.Handle)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown handle %q", req.Msg.Handle))
	}

	result, err := s.worker.Do(func(e *vm.Engine) (any, error) {
		v, err := e.Run(cf)
		if exc, ok := vm.AsException(err); ok {
			return &RunResponse{Value: exc.Error(), Type: vm.TypeOf(exc.Value), Thrown: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return &RunResponse{Value: vm.ToString(v), Type: vm.TypeOf(v)}, nil
	})
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return nil, connect.NewError(connect.CodeUnavailable, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp := result.(*RunResponse)
	log.Debugf("ran %s: %s %s (thrown=%t)", req.Msg.Handle, resp.Type, resp.Value, resp.Thrown)
	return connect.NewResponse(resp), nil
}

// Release drops a handle.
func (s *CompileService) Release(ctx context.Context, req *connect.Request[ReleaseRequest]) (*connect.Response[ReleaseResponse], error) {
	released := s.handles.Release(req.Msg.Handle)
	return connect.NewResponse(&ReleaseResponse{Released: released}), nil
}

// Stats reports handle and cache counts.
func (s *CompileService) Stats(ctx context.Context, req *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error) {
	resp := &StatsResponse{Handles: s.handles.Len()}
	if s.cache != nil {
		st, err := s.cache.Stats(ctx)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		resp.CachedUnits, resp.CacheBytes, resp.CacheHits = st.Units, st.Bytes, st.Hits
	}
	return connect.NewResponse(resp), nil
}
