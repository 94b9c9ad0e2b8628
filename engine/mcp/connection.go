package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/answergrid/answergrid/engine/schema"
	"github.com/answergrid/answergrid/engine/tool"
)

// State tracks a connection through its lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Status is a point-in-time snapshot of one server connection.
type Status struct {
	Server        string    `json:"server"`
	Endpoint      string    `json:"endpoint"`
	State         State     `json:"state"`
	ToolCount     int       `json:"tool_count"`
	LastConnected time.Time `json:"last_connected,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	Attempts      int       `json:"attempts"`
	Successes     int       `json:"successes"`
}

// Connection owns the client for one remote server. Invocation over an
// established connection is safe for concurrent callers; per-call state
// lives entirely in the request.
type Connection struct {
	config ServerConfig

	mu            sync.RWMutex
	client        *client.Client
	state         State
	tools         []tool.Descriptor
	lastConnected time.Time
	lastError     string
	lastErrorTime time.Time
	attempts      int
	successes     int
}

func NewConnection(config ServerConfig) *Connection {
	return &Connection{config: config, state: StateDisconnected}
}

// Connect dials the server, runs the initialize handshake, and discovers
// its tools. On failure the connection lands in StateError with the error
// recorded; the next Connect or a configuration refresh may retry.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnecting {
		// Another caller owns the in-flight dial; doubling up would leak
		// the losing session.
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.attempts++
	c.mu.Unlock()

	mcpClient, err := c.dial()
	if err != nil {
		return c.fail(ctx, fmt.Errorf("failed to create client: %w", err))
	}
	if err := mcpClient.Start(ctx); err != nil {
		return c.fail(ctx, fmt.Errorf("failed to start transport: %w", err))
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "answergrid",
		Version: "1.0.0",
	}
	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		_ = mcpClient.Close()
		return c.fail(ctx, fmt.Errorf("initialize handshake failed: %w", err))
	}

	descriptors, err := discoverTools(ctx, mcpClient, c.config.Name)
	if err != nil {
		_ = mcpClient.Close()
		return c.fail(ctx, fmt.Errorf("tool discovery failed: %w", err))
	}

	c.mu.Lock()
	c.client = mcpClient
	c.state = StateConnected
	c.tools = descriptors
	c.lastConnected = time.Now()
	c.successes++
	c.mu.Unlock()
	recordConnect(ctx, c.config.Name, connectOutcomeSuccess)
	return nil
}

func (c *Connection) dial() (*client.Client, error) {
	switch c.config.Transport {
	case TransportSSE:
		return client.NewSSEMCPClient(c.config.Endpoint, transport.WithHeaders(c.config.Headers))
	default:
		return client.NewStreamableHttpClient(c.config.Endpoint, transport.WithHTTPHeaders(c.config.Headers))
	}
}

func (c *Connection) fail(ctx context.Context, err error) error {
	c.mu.Lock()
	c.state = StateError
	c.lastError = err.Error()
	c.lastErrorTime = time.Now()
	c.mu.Unlock()
	recordConnect(ctx, c.config.Name, connectOutcomeFailure)
	return fmt.Errorf("server %q: %w", c.config.Name, err)
}

// Disconnect closes the client and returns the connection to the
// disconnected state.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	mcpClient := c.client
	c.client = nil
	c.state = StateDisconnected
	c.tools = nil
	c.mu.Unlock()
	if mcpClient == nil {
		return nil
	}
	return mcpClient.Close()
}

// Tools returns the descriptors discovered on this server.
func (c *Connection) Tools() []tool.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]tool.Descriptor(nil), c.tools...)
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot of the connection counters.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Server:        c.config.Name,
		Endpoint:      c.config.Endpoint,
		State:         c.state,
		ToolCount:     len(c.tools),
		LastConnected: c.lastConnected,
		LastError:     c.lastError,
		LastErrorTime: c.lastErrorTime,
		Attempts:      c.attempts,
		Successes:     c.successes,
	}
}

// CallTool invokes a bare (non-namespaced) tool name on this server.
func (c *Connection) CallTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	c.mu.RLock()
	mcpClient := c.client
	state := c.state
	c.mu.RUnlock()
	if state != StateConnected || mcpClient == nil {
		return "", fmt.Errorf("server %q is not connected", c.config.Name)
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = toolName
	request.Params.Arguments = args
	result, err := mcpClient.CallTool(ctx, request)
	if err != nil {
		recordToolCall(ctx, c.config.Name, true)
		return "", fmt.Errorf("server %q: tool %q call failed: %w", c.config.Name, toolName, err)
	}
	text := extractText(result)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		recordToolCall(ctx, c.config.Name, true)
		return "", fmt.Errorf("server %q: tool %q: %s", c.config.Name, toolName, text)
	}
	recordToolCall(ctx, c.config.Name, false)
	return text, nil
}

func discoverTools(ctx context.Context, mcpClient *client.Client, server string) ([]tool.Descriptor, error) {
	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	descriptors := make([]tool.Descriptor, 0, len(result.Tools))
	for i := range result.Tools {
		t := &result.Tools[i]
		descriptors = append(descriptors, tool.Descriptor{
			Name:        QualifiedName(server, t.Name),
			Description: t.Description,
			Parameters:  convertInputSchema(t.InputSchema),
			Enabled:     true,
			Origin:      tool.OriginRemote,
			Server:      server,
		})
	}
	return descriptors, nil
}

// convertInputSchema round-trips the SDK's schema type into the generic
// map form used everywhere else.
func convertInputSchema(input mcp.ToolInputSchema) *schema.Schema {
	raw, err := json.Marshal(input)
	if err != nil {
		return &schema.Schema{"type": "object", "properties": map[string]any{}}
	}
	s := schema.Schema{}
	if err := json.Unmarshal(raw, &s); err != nil {
		return &schema.Schema{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := s["type"]; !ok {
		s["type"] = "object"
	}
	return &s
}

func extractText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
