// Package mcp manages connections to remote capability servers: one
// connection per configured server, discovery of that server's tools under
// namespaced names, and invocation over the open connection.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Transport kinds accepted for remote servers. Only HTTP-based transports
// are supported; local-process transports are excluded for multi-tenant
// isolation.
const (
	TransportStreamableHTTP = "streamable_http"
	TransportSSE            = "sse"
)

// NameSeparator joins server and tool into the namespaced qualified name.
const NameSeparator = "__"

// ServerConfig describes one remote capability server.
type ServerConfig struct {
	Name      string            `json:"name"`
	Endpoint  string            `json:"endpoint"`
	Transport string            `json:"transport,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// Validate normalizes and checks a server configuration.
func (c *ServerConfig) Validate() error {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if strings.Contains(c.Name, NameSeparator) {
		return fmt.Errorf("server name %q must not contain %q", c.Name, NameSeparator)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("server %q: endpoint is required", c.Name)
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return fmt.Errorf("server %q: endpoint must be an HTTP(S) URL", c.Name)
	}
	if c.Transport == "" {
		c.Transport = TransportStreamableHTTP
	}
	if c.Transport != TransportStreamableHTTP && c.Transport != TransportSSE {
		return fmt.Errorf("server %q: unsupported transport %q", c.Name, c.Transport)
	}
	return nil
}

// ParseServers decodes a JSON array of server configurations, as stored in
// the configuration store under the remote_servers entry.
func ParseServers(content string) ([]ServerConfig, error) {
	var servers []ServerConfig
	if err := json.Unmarshal([]byte(content), &servers); err != nil {
		return nil, fmt.Errorf("failed to decode server configurations: %w", err)
	}
	for i := range servers {
		if err := servers[i].Validate(); err != nil {
			return nil, err
		}
	}
	return servers, nil
}

// QualifiedName builds the namespaced tool name "<server>__<tool>".
func QualifiedName(server, toolName string) string {
	return server + NameSeparator + toolName
}

// SplitName splits a namespaced tool name into server and bare tool name.
func SplitName(qualified string) (server, toolName string, ok bool) {
	parts := strings.SplitN(qualified, NameSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
