package appliance

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/soven/internal/observe"
)

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 5 * time.Second

// Config describes the MCP server that controls the appliance.
type Config struct {
	// Transport is "stdio" or "streamable-http".
	Transport Transport

	// Command is the executable and arguments for stdio servers.
	Command string

	// Env holds extra environment variables for stdio servers.
	Env map[string]string

	// URL is the endpoint of streamable-http servers.
	URL string

	// Tools maps command tokens to tool names. Tokens without an entry call
	// the tool of the same name.
	Tools map[string]string
}

// MCPOption configures an [MCPDispatcher].
type MCPOption func(*MCPDispatcher)

// WithToolMap sets the token to tool name mapping.
func WithToolMap(m map[string]string) MCPOption {
	return func(d *MCPDispatcher) {
		for k, v := range m {
			d.toolMap[k] = v
		}
	}
}

// WithCallTimeout overrides [DefaultCallTimeout]. Non-positive values are ignored.
func WithCallTimeout(t time.Duration) MCPOption {
	return func(d *MCPDispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithMetrics records tool calls as provider requests on m.
func WithMetrics(m *observe.Metrics) MCPOption {
	return func(d *MCPDispatcher) { d.metrics = m }
}

// MCPDispatcher calls one MCP tool per command token with the arguments
// {"device_id": entityID, "command": token}.
type MCPDispatcher struct {
	mu      sync.RWMutex
	session *mcpsdk.ClientSession
	tools   []string
	toolMap map[string]string
	timeout time.Duration
	metrics *observe.Metrics
}

var _ Dispatcher = (*MCPDispatcher)(nil)

// Dial connects to the server described by cfg.
func Dial(ctx context.Context, cfg Config, opts ...MCPOption) (*MCPDispatcher, error) {
	if !cfg.Transport.IsValid() {
		return nil, fmt.Errorf("appliance: unknown transport %q", cfg.Transport)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, errors.New("appliance: stdio transport requires a command")
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, errors.New("appliance: streamable-http transport requires a url")
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	return Connect(ctx, transport, append([]MCPOption{WithToolMap(cfg.Tools)}, opts...)...)
}

// Connect opens a client session over transport and discovers the tools the
// server offers.
func Connect(ctx context.Context, transport mcpsdk.Transport, opts ...MCPOption) (*MCPDispatcher, error) {
	d := &MCPDispatcher{
		toolMap: make(map[string]string),
		timeout: DefaultCallTimeout,
	}
	for _, o := range opts {
		o(d)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "soven-appliance", Version: "2.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("appliance: connect: %w", err)
	}

	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("appliance: list tools: %w", err)
		}
		d.tools = append(d.tools, tool.Name)
	}
	slices.Sort(d.tools)
	d.session = session

	observe.Logger(ctx).Info("appliance: connected", "tools", d.tools)
	return d, nil
}

// Tools returns the tool names offered by the server, sorted.
func (d *MCPDispatcher) Tools() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.tools)
}

// ToolFor returns the tool name a command token maps to.
func (d *MCPDispatcher) ToolFor(command string) string {
	if t, ok := d.toolMap[command]; ok {
		return t
	}
	return command
}

// Dispatch implements [Dispatcher].
//
// Tokens whose tool the server does not offer fail without a round trip. A
// tool result flagged as an error is returned as an error carrying its text.
func (d *MCPDispatcher) Dispatch(ctx context.Context, entityID, command string) error {
	d.mu.RLock()
	session := d.session
	tool := d.ToolFor(command)
	_, known := slices.BinarySearch(d.tools, tool)
	d.mu.RUnlock()

	if session == nil {
		return errors.New("appliance: dispatcher is closed")
	}
	if !known {
		return fmt.Errorf("appliance: server offers no tool %q for command %q", tool, command)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name: tool,
		Arguments: map[string]any{
			"device_id": entityID,
			"command":   command,
		},
	})
	if err == nil && res.IsError {
		err = fmt.Errorf("tool error: %s", resultText(res))
	}
	if d.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			d.metrics.RecordProviderError(ctx, "mcp", "appliance")
		}
		d.metrics.RecordProviderRequest(ctx, "mcp", "appliance", status)
	}
	if err != nil {
		return fmt.Errorf("appliance: call %q: %w", tool, err)
	}
	return nil
}

// Close ends the client session. Dispatch fails after Close.
func (d *MCPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	if err != nil {
		return fmt.Errorf("appliance: close: %w", err)
	}
	return nil
}

func resultText(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
