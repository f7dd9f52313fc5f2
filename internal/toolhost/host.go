// Package toolhost serves the data summary operations to agents over MCP.
package toolhost

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stellarlinkco/mixdata/internal/config"
	"github.com/stellarlinkco/mixdata/internal/datasummary"
)

const ServerName = "mixdata"

const shutdownTimeout = 5 * time.Second

// Version is reported to clients in the MCP handshake.
var Version = "dev"

type Options struct {
	Logger     *slog.Logger
	Listener   net.Listener   // for testing; nil listens on the configured address
	SignalChan chan os.Signal // for testing signal handling
}

// Host owns the MCP server and the HTTP listener that carries it.
type Host struct {
	cfg        config.ServerConfig
	registry   *Registry
	server     *mcp.Server
	handler    http.Handler
	logger     *slog.Logger
	listener   net.Listener
	signalChan chan os.Signal
	httpServer *http.Server
}

func New(cfg *config.Config, opts Options) (*Host, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	summarizer := datasummary.NewSummarizer(cfg.Data.Dir, datasummary.Options{
		PreviewRows:  cfg.Data.PreviewRows,
		MaxCellWidth: cfg.Data.MaxCellWidth,
		Logger:       logger.With("component", "summary"),
	})
	registry, err := NewRegistry(summarizer)
	if err != nil {
		return nil, errors.Wrap(err, "build operation registry")
	}

	h := &Host{
		cfg:        cfg.Server,
		registry:   registry,
		server:     NewMCPServer(registry, logger),
		logger:     logger,
		listener:   opts.Listener,
		signalChan: opts.SignalChan,
	}

	getServer := func(*http.Request) *mcp.Server { return h.server }
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.SSEPath, mcp.NewSSEHandler(getServer, nil))
	mux.Handle(cfg.Server.StreamPath, mcp.NewStreamableHTTPHandler(getServer, nil))
	h.handler = requestLoggingMiddleware(logger.With("component", "http"))(mux)
	return h, nil
}

// NewMCPServer registers every operation of reg on a fresh MCP server.
func NewMCPServer(reg *Registry, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: Version}, nil)
	for _, op := range reg.Operations() {
		server.AddTool(&mcp.Tool{
			Name:        op.Name,
			Description: op.Description,
			InputSchema: op.Schema,
		}, toolHandler(op, logger))
	}
	return server
}

func toolHandler(op *Operation, logger *slog.Logger) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger.Debug("tool call", "tool", op.Name, "args", string(req.Params.Arguments))
		text, err := op.Invoke(ctx, req.Params.Arguments)
		if err != nil {
			logger.Warn("rejected tool call", "tool", op.Name, "err", err)
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

func (h *Host) Handler() http.Handler { return h.handler }

func (h *Host) Registry() *Registry { return h.registry }

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// the listener down.
func (h *Host) Run(ctx context.Context) error {
	ln := h.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", h.cfg.ListenAddr())
		if err != nil {
			return errors.Wrapf(err, "listen on %s", h.cfg.ListenAddr())
		}
	}

	h.httpServer = &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := h.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	h.logger.Info("tool host running",
		"addr", ln.Addr().String(),
		"sse", h.cfg.SSEPath,
		"streamable", h.cfg.StreamPath,
		"tools", h.registry.Names())

	// Use injected signal channel for testing, or create default
	sigCh := h.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		h.logger.Info("received signal", "signal", sig.String())
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	}

	h.logger.Info("tool host shutting down")
	return h.Shutdown()
}

// Shutdown ends the open MCP sessions, which releases their event streams,
// then stops accepting requests and waits briefly for the rest.
func (h *Host) Shutdown() error {
	if h.httpServer == nil {
		return nil
	}
	closed := 0
	for ss := range h.server.Sessions() {
		if err := ss.Close(); err != nil {
			h.logger.Debug("close session", "session", ss.ID(), "err", err)
		}
		closed++
	}
	if closed > 0 {
		h.logger.Info("closed client sessions", "count", closed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.httpServer.Shutdown(ctx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return errors.Wrap(err, "shutdown")
		}
		h.logger.Warn("open streams did not finish in time, closing", "timeout", shutdownTimeout)
		return h.httpServer.Close()
	}
	h.logger.Info("tool host shutdown complete")
	return nil
}
