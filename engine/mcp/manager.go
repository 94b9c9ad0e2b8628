package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/answergrid/answergrid/engine/tool"
	"github.com/answergrid/answergrid/pkg/logger"
)

// Manager owns one Connection per configured server and implements the
// registry's remote provider contract. It is constructed once at process
// start and torn down once at shutdown.
type Manager struct {
	discoveryTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection
	configs     []ServerConfig
}

// NewManager builds a manager for the given servers. Disabled servers are
// kept in configuration but never dialed.
func NewManager(servers []ServerConfig, discoveryTimeout time.Duration) (*Manager, error) {
	if discoveryTimeout <= 0 {
		discoveryTimeout = 10 * time.Second
	}
	m := &Manager{
		discoveryTimeout: discoveryTimeout,
		connections:      make(map[string]*Connection),
	}
	if err := m.applyConfigs(servers); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) applyConfigs(servers []ServerConfig) error {
	seen := make(map[string]struct{}, len(servers))
	for i := range servers {
		if err := servers[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[servers[i].Name]; dup {
			return fmt.Errorf("duplicate server name %q", servers[i].Name)
		}
		seen[servers[i].Name] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = servers
	for _, cfg := range servers {
		if _, exists := m.connections[cfg.Name]; !exists && cfg.Enabled {
			m.connections[cfg.Name] = NewConnection(cfg)
		}
	}
	// Drop connections whose server was removed or disabled.
	for name, conn := range m.connections {
		if !m.serverEnabled(name) {
			_ = conn.Disconnect()
			delete(m.connections, name)
		}
	}
	return nil
}

func (m *Manager) serverEnabled(name string) bool {
	for _, cfg := range m.configs {
		if cfg.Name == name {
			return cfg.Enabled
		}
	}
	return false
}

// Start connects every enabled server concurrently. Each connection is
// independent: a server that fails to connect is recorded in its status
// and never blocks the others, so Start itself does not fail.
func (m *Manager) Start(ctx context.Context) {
	log := logger.FromContext(ctx)
	m.mu.RLock()
	connections := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		connections = append(connections, conn)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, conn := range connections {
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()
			connectCtx, cancel := context.WithTimeout(ctx, m.discoveryTimeout)
			defer cancel()
			if err := conn.Connect(connectCtx); err != nil {
				log.Warn("remote server connection failed", "error", err)
				return
			}
			log.Info("remote server connected",
				"server", conn.config.Name, "tools", len(conn.Tools()))
		}(conn)
	}
	wg.Wait()
}

// Refresh reapplies the stored configuration and retries servers that are
// not connected. Connected servers rediscover their tool list on the next
// reconnect; they are left untouched here to avoid dropping in-flight calls.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	configs := append([]ServerConfig(nil), m.configs...)
	m.mu.RUnlock()
	if err := m.applyConfigs(configs); err != nil {
		return err
	}

	m.mu.RLock()
	var pending []*Connection
	for _, conn := range m.connections {
		if conn.State() != StateConnected {
			pending = append(pending, conn)
		}
	}
	m.mu.RUnlock()

	log := logger.FromContext(ctx)
	var wg sync.WaitGroup
	for _, conn := range pending {
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()
			connectCtx, cancel := context.WithTimeout(ctx, m.discoveryTimeout)
			defer cancel()
			if err := conn.Connect(connectCtx); err != nil {
				log.Warn("remote server reconnect failed", "error", err)
			}
		}(conn)
	}
	wg.Wait()
	return nil
}

// Reconfigure replaces the server set, connecting any newly enabled
// servers and dropping removed ones.
func (m *Manager) Reconfigure(ctx context.Context, servers []ServerConfig) error {
	if err := m.applyConfigs(servers); err != nil {
		return err
	}
	return m.Refresh(ctx)
}

// ListTools returns the namespaced descriptors of every connected server.
func (m *Manager) ListTools(_ context.Context) []tool.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tool.Descriptor
	for _, conn := range m.connections {
		out = append(out, conn.Tools()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool routes a namespaced tool name to its owning server.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	server, toolName, ok := SplitName(name)
	if !ok {
		return "", fmt.Errorf("invalid remote tool name %q", name)
	}
	m.mu.RLock()
	conn, exists := m.connections[server]
	m.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("unknown server %q", server)
	}
	return conn.CallTool(ctx, toolName, args)
}

// Statuses reports the per-server counters for operational visibility.
func (m *Manager) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.connections))
	for name, conn := range m.connections {
		out[name] = conn.Status()
	}
	return out
}

// Shutdown disconnects all servers concurrently.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	connections := m.connections
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for name, conn := range connections {
		g.Go(func() error {
			if err := conn.Disconnect(); err != nil {
				return fmt.Errorf("failed to disconnect %q: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
