package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answergrid/answergrid/engine/configstore"
	"github.com/answergrid/answergrid/pkg/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Model.Provider = "mock"
	// A placeholder token keeps the embedder constructor offline-safe.
	cfg.Model.APIKey = "test-key"
	return cfg
}

func TestNew(t *testing.T) {
	t.Run("Should assemble the engine from defaults with an in-memory store", func(t *testing.T) {
		engine, err := New(context.Background(), testConfig())
		require.NoError(t, err)
		defer func() { require.NoError(t, engine.Shutdown(context.Background())) }()

		require.NotNil(t, engine.Orchestrator)
		_, ok := engine.Store.(*configstore.MemoryStore)
		assert.True(t, ok)
	})

	t.Run("Should register the builtin calculator", func(t *testing.T) {
		engine, err := New(context.Background(), testConfig())
		require.NoError(t, err)
		defer func() { require.NoError(t, engine.Shutdown(context.Background())) }()

		names := make([]string, 0)
		for _, d := range engine.Registry.List(context.Background(), true) {
			names = append(names, d.Name)
		}
		assert.Contains(t, names, "calculator")
	})

	t.Run("Should refresh without any remote servers configured", func(t *testing.T) {
		engine, err := New(context.Background(), testConfig())
		require.NoError(t, err)
		defer func() { require.NoError(t, engine.Shutdown(context.Background())) }()

		assert.NoError(t, engine.Refresh(context.Background()))
	})
}
