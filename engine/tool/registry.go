package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/answergrid/answergrid/pkg/logger"
)

// RemoteProvider feeds the registry with tools discovered on remote
// servers. Implemented by the capability manager.
type RemoteProvider interface {
	// ListTools returns the namespaced descriptors of all discovered tools.
	ListTools(ctx context.Context) []Descriptor
	// CallTool invokes a namespaced remote tool.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	// Refresh re-reads server configuration and re-runs discovery.
	Refresh(ctx context.Context) error
}

// RegistryConfig configures the unified registry.
type RegistryConfig struct {
	Remote        RemoteProvider
	InvokeTimeout time.Duration
	// AllowedServers restricts remote tools to these servers when non-empty.
	// Local tools are never filtered.
	AllowedServers []string
	// DeniedServers excludes remote tools from these servers. Deny wins
	// over allow.
	DeniedServers []string
}

// Registry is the merged local+remote tool view.
type Registry struct {
	config     RegistryConfig
	allowedSet map[string]struct{}
	deniedSet  map[string]struct{}

	localMu sync.RWMutex
	local   map[string]LocalTool

	remoteMu sync.RWMutex
	remote   []Descriptor

	// Singleflight keeps concurrent refreshes from stampeding discovery.
	sfGroup singleflight.Group
}

func NewRegistry(config RegistryConfig) *Registry {
	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = 15 * time.Second
	}
	return &Registry{
		config:     config,
		local:      make(map[string]LocalTool),
		allowedSet: buildNameSet(config.AllowedServers),
		deniedSet:  buildNameSet(config.DeniedServers),
	}
}

func buildNameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		canonical := canonicalize(name)
		if canonical != "" {
			set[canonical] = struct{}{}
		}
	}
	return set
}

func canonicalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a local tool. Local tools take precedence over remote
// tools with the same name.
func (r *Registry) Register(ctx context.Context, t LocalTool) error {
	if t == nil {
		return fmt.Errorf("tool is required")
	}
	canonical := canonicalize(t.Name())
	if canonical == "" {
		return fmt.Errorf("tool name is required")
	}
	r.localMu.Lock()
	defer r.localMu.Unlock()
	r.local[canonical] = t
	logger.FromContext(ctx).Debug("registered local tool", "name", canonical)
	return nil
}

// List returns the merged tool view sorted by name. With enabledOnly set,
// disabled descriptors are dropped.
func (r *Registry) List(ctx context.Context, enabledOnly bool) []Descriptor {
	seen := make(map[string]struct{})
	var out []Descriptor

	r.localMu.RLock()
	for canonical, t := range r.local {
		seen[canonical] = struct{}{}
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParamsSchema(),
			Enabled:     true,
			Origin:      OriginLocal,
		})
	}
	r.localMu.RUnlock()

	for _, desc := range r.remoteSnapshot(ctx) {
		if !r.serverAllowed(desc.Server) {
			continue
		}
		if _, taken := seen[canonicalize(desc.Name)]; taken {
			continue
		}
		if enabledOnly && !desc.Enabled {
			continue
		}
		out = append(out, desc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke validates and runs a tool by name. Failures are reported inside
// the result, never as a panic or batch abort.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) InvocationResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.config.InvokeTimeout)
	defer cancel()

	canonical := canonicalize(name)
	r.localMu.RLock()
	local, isLocal := r.local[canonical]
	r.localMu.RUnlock()

	if isLocal {
		return r.invokeLocal(ctx, local, args, start)
	}
	return r.invokeRemote(ctx, name, args, start)
}

func (r *Registry) invokeLocal(
	ctx context.Context,
	t LocalTool,
	args map[string]any,
	start time.Time,
) InvocationResult {
	if err := validateArgs(ctx, t, args); err != nil {
		return FailedResult(t.Name(), args, err, time.Since(start))
	}
	content, err := t.Call(ctx, args)
	if err != nil {
		return FailedResult(t.Name(), args, err, time.Since(start))
	}
	return InvocationResult{
		Name:      t.Name(),
		Arguments: args,
		Content:   content,
		Success:   true,
		Duration:  time.Since(start),
	}
}

func (r *Registry) invokeRemote(
	ctx context.Context,
	name string,
	args map[string]any,
	start time.Time,
) InvocationResult {
	if r.config.Remote == nil {
		return FailedResult(name, args, fmt.Errorf("unknown tool %q", name), time.Since(start))
	}
	desc, found := r.findRemote(ctx, name)
	if !found {
		return FailedResult(name, args, fmt.Errorf("unknown tool %q", name), time.Since(start))
	}
	if !desc.Enabled {
		return FailedResult(name, args, fmt.Errorf("tool %q is disabled", name), time.Since(start))
	}
	if !r.serverAllowed(desc.Server) {
		return FailedResult(name, args, fmt.Errorf("tool %q is not permitted", name), time.Since(start))
	}
	content, err := r.config.Remote.CallTool(ctx, desc.Name, args)
	if err != nil {
		return FailedResult(name, args, err, time.Since(start))
	}
	return InvocationResult{
		Name:      desc.Name,
		Arguments: args,
		Content:   content,
		Success:   true,
		Duration:  time.Since(start),
	}
}

// Refresh re-reads remote configuration and re-publishes the merged view.
// Concurrent callers share one underlying refresh.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.config.Remote == nil {
		return nil
	}
	_, err, _ := r.sfGroup.Do("refresh", func() (any, error) {
		if err := r.config.Remote.Refresh(ctx); err != nil {
			return nil, err
		}
		snapshot := r.config.Remote.ListTools(ctx)
		r.remoteMu.Lock()
		r.remote = snapshot
		r.remoteMu.Unlock()
		return nil, nil
	})
	return err
}

func (r *Registry) remoteSnapshot(ctx context.Context) []Descriptor {
	r.remoteMu.RLock()
	snapshot := r.remote
	r.remoteMu.RUnlock()
	if snapshot != nil || r.config.Remote == nil {
		return snapshot
	}
	// First use: populate from the provider without forcing a rediscovery.
	snapshot = r.config.Remote.ListTools(ctx)
	r.remoteMu.Lock()
	r.remote = snapshot
	r.remoteMu.Unlock()
	return snapshot
}

func (r *Registry) findRemote(ctx context.Context, name string) (Descriptor, bool) {
	canonical := canonicalize(name)
	for _, desc := range r.remoteSnapshot(ctx) {
		if canonicalize(desc.Name) == canonical {
			return desc, true
		}
	}
	return Descriptor{}, false
}

func (r *Registry) serverAllowed(server string) bool {
	canonical := canonicalize(server)
	if _, denied := r.deniedSet[canonical]; denied {
		return false
	}
	if len(r.allowedSet) == 0 {
		return true
	}
	_, allowed := r.allowedSet[canonical]
	return allowed
}
