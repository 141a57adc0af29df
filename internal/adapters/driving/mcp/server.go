package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/fagdag/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

const (
	queryInstructions = "Use search to find passages in the indexed documents and ask to get an " +
		"answer grounded in them. Answers list the chunks they were based on."
	ingestInstructions = " Use ingest_text to add a document; ingesting the same id again replaces it."
)

// Server exposes the question answering pipeline to MCP clients.
type Server struct {
	ports  *Ports
	server *mcp.Server
}

// NewServer creates a new MCP server with the given ports.
func NewServer(ports *Ports) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	s := &Server{
		ports: ports,
		server: mcp.NewServer(
			&mcp.Implementation{Name: "fagdag", Version: Version},
			&mcp.ServerOptions{Instructions: instructions(ports)},
		),
	}
	s.server.AddReceivingMiddleware(logRequests)

	s.registerTools()
	s.registerResources()

	return s, nil
}

func instructions(ports *Ports) string {
	if ports.Ingest == nil {
		return queryInstructions
	}
	return queryInstructions + ingestInstructions
}

// logRequests logs every call a client makes and how long it took.
func logRequests(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		start := time.Now()
		result, err := next(ctx, method, req)
		if err != nil {
			logger.Warn("MCP %s failed after %s: %v", method, time.Since(start).Round(time.Millisecond), err)
			return result, err
		}
		logger.Debug("MCP %s took %s", method, time.Since(start).Round(time.Millisecond))
		return result, nil
	}
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over t. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// RunHTTP serves Handler on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("MCP server shutdown: %v", err)
		}
	}()

	logger.Info("MCP server listening on %s", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
