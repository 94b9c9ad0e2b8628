package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answergrid/answergrid/engine/schema"
)

type fakeRemote struct {
	mu       sync.Mutex
	tools    []Descriptor
	refreshN int
	callErr  error
	lastName string
	lastArgs map[string]any
}

func (f *fakeRemote) ListTools(context.Context) []Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Descriptor(nil), f.tools...)
}

func (f *fakeRemote) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return "", f.callErr
	}
	f.lastName = name
	f.lastArgs = args
	return "remote result", nil
}

func (f *fakeRemote) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshN++
	return nil
}

type staticTool struct {
	name   string
	params *schema.Schema
	reply  string
	err    error
}

func (s *staticTool) Name() string                 { return s.name }
func (s *staticTool) Description() string          { return "static test tool" }
func (s *staticTool) ParamsSchema() *schema.Schema { return s.params }
func (s *staticTool) Call(context.Context, map[string]any) (string, error) {
	return s.reply, s.err
}

func TestRegistry_List(t *testing.T) {
	t.Run("Should merge local and remote tools sorted by name", func(t *testing.T) {
		remote := &fakeRemote{tools: []Descriptor{
			{Name: "docs__search", Enabled: true, Origin: OriginRemote, Server: "docs"},
		}}
		registry := NewRegistry(RegistryConfig{Remote: remote})
		require.NoError(t, registry.Register(context.Background(), NewCalculator()))

		descriptors := registry.List(context.Background(), true)
		require.Len(t, descriptors, 2)
		assert.Equal(t, "calculator", descriptors[0].Name)
		assert.Equal(t, OriginLocal, descriptors[0].Origin)
		assert.Equal(t, "docs__search", descriptors[1].Name)
	})

	t.Run("Should give local tools precedence on name collision", func(t *testing.T) {
		remote := &fakeRemote{tools: []Descriptor{
			{Name: "calculator", Enabled: true, Origin: OriginRemote, Server: "math"},
		}}
		registry := NewRegistry(RegistryConfig{Remote: remote})
		require.NoError(t, registry.Register(context.Background(), NewCalculator()))

		descriptors := registry.List(context.Background(), true)
		require.Len(t, descriptors, 1)
		assert.Equal(t, OriginLocal, descriptors[0].Origin)
	})

	t.Run("Should drop disabled remote tools when enabledOnly is set", func(t *testing.T) {
		remote := &fakeRemote{tools: []Descriptor{
			{Name: "docs__search", Enabled: false, Origin: OriginRemote, Server: "docs"},
		}}
		registry := NewRegistry(RegistryConfig{Remote: remote})

		assert.Empty(t, registry.List(context.Background(), true))
		assert.Len(t, registry.List(context.Background(), false), 1)
	})

	t.Run("Should filter remote servers by allow and deny lists", func(t *testing.T) {
		remote := &fakeRemote{tools: []Descriptor{
			{Name: "docs__search", Enabled: true, Origin: OriginRemote, Server: "docs"},
			{Name: "crm__lookup", Enabled: true, Origin: OriginRemote, Server: "crm"},
		}}
		registry := NewRegistry(RegistryConfig{
			Remote:         remote,
			AllowedServers: []string{"docs", "crm"},
			DeniedServers:  []string{"crm"},
		})

		descriptors := registry.List(context.Background(), true)
		require.Len(t, descriptors, 1)
		assert.Equal(t, "docs__search", descriptors[0].Name)
	})
}

func TestRegistry_Invoke(t *testing.T) {
	t.Run("Should invoke a local tool", func(t *testing.T) {
		registry := NewRegistry(RegistryConfig{})
		require.NoError(t, registry.Register(context.Background(), NewCalculator()))

		result := registry.Invoke(context.Background(), "calculator", map[string]any{
			"expression": "17% of 4500",
		})
		assert.True(t, result.Success)
		assert.Equal(t, "765", result.Content)
	})

	t.Run("Should fail validation before execution", func(t *testing.T) {
		registry := NewRegistry(RegistryConfig{})
		require.NoError(t, registry.Register(context.Background(), NewCalculator()))

		result := registry.Invoke(context.Background(), "calculator", map[string]any{
			"expression": 42,
		})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "INVALID_TOOL_ARGS")
	})

	t.Run("Should report a failed result instead of aborting on tool error", func(t *testing.T) {
		registry := NewRegistry(RegistryConfig{})
		require.NoError(t, registry.Register(context.Background(), &staticTool{
			name: "broken",
			err:  errors.New("backend exploded"),
		}))

		result := registry.Invoke(context.Background(), "broken", nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "backend exploded")
	})

	t.Run("Should dispatch namespaced names to the remote provider", func(t *testing.T) {
		remote := &fakeRemote{tools: []Descriptor{
			{Name: "docs__search", Enabled: true, Origin: OriginRemote, Server: "docs"},
		}}
		registry := NewRegistry(RegistryConfig{Remote: remote})

		result := registry.Invoke(context.Background(), "docs__search", map[string]any{"q": "vacuum"})
		assert.True(t, result.Success)
		assert.Equal(t, "remote result", result.Content)
		assert.Equal(t, "docs__search", remote.lastName)
	})

	t.Run("Should fail unknown tools gracefully", func(t *testing.T) {
		registry := NewRegistry(RegistryConfig{})
		result := registry.Invoke(context.Background(), "nope", nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "unknown tool")
	})

	t.Run("Should refuse tools on denied servers", func(t *testing.T) {
		remote := &fakeRemote{tools: []Descriptor{
			{Name: "crm__lookup", Enabled: true, Origin: OriginRemote, Server: "crm"},
		}}
		registry := NewRegistry(RegistryConfig{Remote: remote, DeniedServers: []string{"crm"}})

		result := registry.Invoke(context.Background(), "crm__lookup", nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not permitted")
	})
}

func TestRegistry_Refresh(t *testing.T) {
	t.Run("Should republish the remote view", func(t *testing.T) {
		remote := &fakeRemote{}
		registry := NewRegistry(RegistryConfig{Remote: remote})
		assert.Empty(t, registry.List(context.Background(), true))

		remote.mu.Lock()
		remote.tools = []Descriptor{{Name: "docs__search", Enabled: true, Origin: OriginRemote, Server: "docs"}}
		remote.mu.Unlock()
		require.NoError(t, registry.Refresh(context.Background()))

		assert.Len(t, registry.List(context.Background(), true), 1)
		assert.Equal(t, 1, remote.refreshN)
	})

	t.Run("Should be a no-op without a remote provider", func(t *testing.T) {
		registry := NewRegistry(RegistryConfig{InvokeTimeout: time.Second})
		assert.NoError(t, registry.Refresh(context.Background()))
	})
}
