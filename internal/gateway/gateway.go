// Package gateway exposes the sandboxed filesystem operations as MCP
// tools over stdio or streamable HTTP. The tool set is a closed table
// registered at construction; there is no dynamic name→handler lookup.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"fsgate/internal/extract"
	"fsgate/internal/gitrun"
	"fsgate/internal/mutation"
	"fsgate/internal/pathguard"
	"fsgate/internal/search"
	"fsgate/internal/taskreg"
	"fsgate/internal/taskstream"
)

// Version is stamped by the build; main overrides it.
var Version = "dev"

// Deps carries every collaborator the tool handlers use.
type Deps struct {
	Guard     *pathguard.Guard
	Engine    *mutation.Engine
	Search    *search.Index
	Tasks     *taskreg.Registry
	Git       gitrun.Runner
	Extractor extract.DocumentExtractor
	Vision    extract.VisionClient
	Log       *slog.Logger

	// PythonBin resolves the interpreter for python_run tools.
	PythonBin string
	// DefaultTaskTimeout bounds foreground runs without an explicit
	// timeout.
	DefaultTaskTimeout time.Duration
}

type Gateway struct {
	deps   Deps
	server *mcp.Server
	hub    *taskstream.Hub
}

func New(deps Deps) *Gateway {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.PythonBin == "" {
		deps.PythonBin = "python3"
	}
	if deps.DefaultTaskTimeout <= 0 {
		deps.DefaultTaskTimeout = 5 * time.Minute
	}
	g := &Gateway{
		deps: deps,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "fsgate",
			Version: Version,
		}, nil),
	}
	if deps.Tasks != nil {
		g.hub = taskstream.NewHub(deps.Tasks, deps.Log)
	}
	g.registerFilesystemTools()
	g.registerSearchTools()
	g.registerTaskTools()
	g.registerGitTools()
	g.registerDocumentTools()
	return g
}

// RunStdio serves a single session over stdin/stdout until the client
// disconnects or ctx is cancelled.
func (g *Gateway) RunStdio(ctx context.Context) error {
	g.deps.Log.Info("serving", "transport", "stdio", "root", g.deps.Guard.Root())
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves streamable-HTTP MCP sessions plus the websocket task
// stream until ctx is cancelled.
func (g *Gateway) RunHTTP(ctx context.Context, host string, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, nil))
	if g.hub != nil {
		mux.HandleFunc("/ws/tasks/{id}", g.hub.HandleWS)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srv := &http.Server{Addr: addr, Handler: mux}
	g.deps.Log.Info("serving", "transport", "http", "addr", addr, "root", g.deps.Guard.Root())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
