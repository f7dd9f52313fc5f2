// Package agentclient connects a local LLM agent to the tool host and runs
// the conversation with the user.
package agentclient

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stellarlinkco/mixdata/internal/config"
)

var (
	ErrNotInitialized = errors.New("agent not initialized: run setup first")
	ErrEmptyMessage   = errors.New("message is empty")
)

const clientName = "mixdata-agent"

type Options struct {
	RuntimeFactory RuntimeFactory
	// Transport overrides the transport built from the server config.
	Transport mcp.Transport
	Stdout    io.Writer
	Stderr    io.Writer
	Logger    *slog.Logger
}

// Client holds one tool host session, one agent runtime and one
// conversation. It is meant for a single user at a time.
type Client struct {
	cfg     *config.Config
	opts    Options
	console *Console
	logger  *slog.Logger

	mu        sync.Mutex
	session   *mcp.ClientSession
	tools     []*mcp.Tool
	runtime   Runtime
	sessionID string
}

func New(cfg *config.Config, opts Options) *Client {
	if opts.RuntimeFactory == nil {
		opts.RuntimeFactory = DefaultRuntimeFactory
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		opts:    opts,
		console: NewConsole(opts.Stdout, opts.Stderr),
		logger:  logger,
	}
}

// Connect opens the tool host session and lists its operations. It is a
// no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.session != nil {
		return nil
	}
	transport := c.opts.Transport
	endpoint := c.cfg.Server.Endpoint()
	if transport == nil {
		transport = newTransport(c.cfg.Server.Transport, endpoint)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: "dev"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return errors.Wrapf(err, "connect to tool host at %s", endpoint)
	}

	var tools []*mcp.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return errors.Wrap(err, "list tools")
		}
		tools = append(tools, t)
	}
	c.logger.Info("connected to tool host", "endpoint", endpoint, "tools", len(tools))
	c.session = session
	c.tools = tools
	return nil
}

func newTransport(kind, endpoint string) mcp.Transport {
	if kind == config.TransportStreamable {
		return &mcp.StreamableClientTransport{Endpoint: endpoint}
	}
	return &mcp.SSEClientTransport{Endpoint: endpoint}
}

// Setup connects to the tool host, prints the available tools, binds the
// host to a new agent runtime and starts a fresh conversation. The client's
// own session serves the tool listing; the runtime opens its own.
func (c *Client) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runtime != nil {
		return nil
	}
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	c.console.Tools(c.tools)

	runtime, err := c.opts.RuntimeFactory(ctx, c.cfg, []string{c.cfg.Server.MCPSpec()})
	if err != nil {
		return errors.Wrap(err, "create agent")
	}
	c.runtime = runtime
	c.sessionID = uuid.NewString()
	c.logger.Debug("conversation started", "session", c.sessionID)
	c.console.Ready(c.cfg.Agent.Model)
	return nil
}

// PrintTools connects to the tool host and prints its operations with
// their parameters. No agent runtime is created.
func (c *Client) PrintTools(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.console.ToolDetails(c.Tools())
	return nil
}

// Tools returns the operations listed by the tool host.
func (c *Client) Tools() []*mcp.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*mcp.Tool(nil), c.tools...)
}

// Chat sends one message in the client's conversation and returns the
// agent's final answer. With verbose set, the message, every tool call and
// result, and the answer are printed as the runtime streams them.
func (c *Client) Chat(ctx context.Context, message string, verbose bool) (string, error) {
	c.mu.Lock()
	runtime, sessionID := c.runtime, c.sessionID
	c.mu.Unlock()

	if runtime == nil {
		return "", ErrNotInitialized
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	req := api.Request{Prompt: message, SessionID: sessionID}

	if !verbose {
		resp, err := runtime.Run(ctx, req)
		if err != nil {
			return "", errors.Wrap(err, "agent run")
		}
		if resp == nil || resp.Result == nil {
			return "", nil
		}
		return resp.Result.Output, nil
	}

	c.console.User(message)
	events, err := runtime.RunStream(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "agent run")
	}
	t := newTurn(c.console)
	for evt := range events {
		t.apply(evt)
	}
	if t.err != nil {
		return "", errors.Wrap(t.err, "agent run")
	}
	answer := t.answer()
	c.console.Agent(answer)
	return answer, nil
}

// Interactive reads lines from in until exit, end of input, or ctx is
// cancelled. Chat errors are printed and the loop continues.
func (c *Client) Interactive(ctx context.Context, in io.Reader) error {
	c.console.Banner()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		c.console.Prompt()
		var line string
		select {
		case <-ctx.Done():
			c.console.Goodbye()
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return errors.Wrap(err, "read input")
					}
				default:
				}
				c.console.Goodbye()
				return nil
			}
			line = l
		}

		input := strings.TrimSpace(line)
		switch {
		case input == "":
			continue
		case strings.EqualFold(input, "exit"), strings.EqualFold(input, "quit"):
			c.console.Goodbye()
			return nil
		case strings.EqualFold(input, "help"):
			c.console.Help()
			continue
		}

		if _, err := c.Chat(ctx, input, true); err != nil {
			if ctx.Err() != nil {
				c.console.Goodbye()
				return nil
			}
			c.logger.Debug("chat failed", "err", err)
			c.console.Error(err)
		}
	}
}

// Ask runs a single message without the verbose trace and prints the answer.
func (c *Client) Ask(ctx context.Context, message string) error {
	answer, err := c.Chat(ctx, message, false)
	if err != nil {
		return err
	}
	c.console.Answer(answer)
	return nil
}

// Close releases the runtime and the tool host session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runtime != nil {
		c.runtime.Close()
		c.runtime = nil
	}
	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	return err
}
