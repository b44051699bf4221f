package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// CompileClient calls a compile service.
type CompileClient struct {
	compile *connect.Client[CompileRequest, CompileResponse]
	run     *connect.Client[RunRequest, RunResponse]
	release *connect.Client[ReleaseRequest, ReleaseResponse]
	stats   *connect.Client[StatsRequest, StatsResponse]
}

// NewCompileClient creates a client for the service at baseURL
// ("http://host:port").
func NewCompileClient(httpClient connect.HTTPClient, baseURL string) *CompileClient {
	baseURL = strings.TrimRight(baseURL, "/")
	codec := connect.WithCodec(defaultCodec)
	return &CompileClient{
		compile: connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, codec),
		run:     connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, codec),
		release: connect.NewClient[ReleaseRequest, ReleaseResponse](httpClient, baseURL+ReleaseProcedure, codec),
		stats:   connect.NewClient[StatsRequest, StatsResponse](httpClient, baseURL+StatsProcedure, codec),
	}
}

// Compile compiles an IR document and returns its handle.
func (c *CompileClient) Compile(ctx context.Context, source string, disassemble bool) (*CompileResponse, error) {
	resp, err := c.compile.CallUnary(ctx, connect.NewRequest(&CompileRequest{Source: source, Disassemble: disassemble}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Run runs a compiled unit.
func (c *CompileClient) Run(ctx context.Context, handle string) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(&RunRequest{Handle: handle}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Release drops a handle.
func (c *CompileClient) Release(ctx context.Context, handle string) (bool, error) {
	resp, err := c.release.CallUnary(ctx, connect.NewRequest(&ReleaseRequest{Handle: handle}))
	if err != nil {
		return false, err
	}
	return resp.Msg.Released, nil
}

// Stats returns server counters.
func (c *CompileClient) Stats(ctx context.Context) (*StatsResponse, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&StatsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
