// Package app is the composition root: it assembles the answering
// pipeline from process configuration and owns the lifecycle of the
// shared components (remote tool connections, stores, caches).
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/answergrid/answergrid/engine/analyzer"
	"github.com/answergrid/answergrid/engine/confidence"
	"github.com/answergrid/answergrid/engine/configstore"
	"github.com/answergrid/answergrid/engine/generator"
	"github.com/answergrid/answergrid/engine/llm"
	"github.com/answergrid/answergrid/engine/mcp"
	"github.com/answergrid/answergrid/engine/orchestrator"
	"github.com/answergrid/answergrid/engine/retrieval"
	"github.com/answergrid/answergrid/engine/tool"
	"github.com/answergrid/answergrid/pkg/config"
	"github.com/answergrid/answergrid/pkg/logger"
)

// App holds the long-lived components. Construct once at process start,
// share across requests, and tear down with Shutdown.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *tool.Registry
	Manager      *mcp.Manager
	Store        configstore.Store

	client      llm.Client
	cache       *orchestrator.ResponseCache
	environment string
}

// New wires every component from cfg. Remote server connections are
// established before returning; individual connection failures are
// logged, not fatal.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open config store: %w", err)
	}

	factory := llm.NewFactory()
	providerConfig := llm.ProviderConfig{
		Provider: llm.Provider(cfg.Model.Provider),
		Model:    cfg.Model.Model,
		APIKey:   cfg.Model.APIKey,
		APIURL:   cfg.Model.APIURL,
	}
	client, err := factory.CreateClient(ctx, &providerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	retriever, err := newRetriever(cfg)
	if err != nil {
		return nil, err
	}

	servers := loadServers(ctx, store, cfg.Store.Environment)
	manager, err := mcp.NewManager(servers, cfg.Tools.DiscoveryTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid remote server configuration: %w", err)
	}
	manager.Start(ctx)

	registry := tool.NewRegistry(tool.RegistryConfig{
		Remote:         manager,
		InvokeTimeout:  cfg.Tools.InvokeTimeout,
		AllowedServers: cfg.Tools.AllowedServers,
		DeniedServers:  cfg.Tools.DeniedServers,
	})
	if err := registry.Register(ctx, tool.NewCalculator()); err != nil {
		return nil, err
	}

	cache, err := orchestrator.NewResponseCache(cfg.Cache.ResponseTTL, cfg.Cache.ResponseEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to build response cache: %w", err)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Analyzer:  analyzer.NewService(client, cfg.Analyzer.Timeout),
		Retriever: retriever,
		Registry:  registry,
		Generator: generator.NewService(factory, client, store, cfg.Store.Environment, providerConfig, generator.ModelSettings{
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxTokens,
		}),
		Scorer:   confidence.NewScorer(scorerConfig(cfg), client),
		Selector: client,
		Store:    store,
		Cache:    cache,
	}, orchestrator.Config{
		Environment:         cfg.Store.Environment,
		EscalationThreshold: cfg.Confidence.EscalationThreshold,
	})

	log.Info("engine assembled",
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Model,
		"remote_servers", len(servers))
	return &App{
		Orchestrator: orch,
		Registry:     registry,
		Manager:      manager,
		Store:        store,
		client:       client,
		cache:        cache,
		environment:  cfg.Store.Environment,
	}, nil
}

// Refresh re-reads remote server configuration from the store and
// reconciles connections and the registry's merged view.
func (a *App) Refresh(ctx context.Context) error {
	servers := loadServers(ctx, a.Store, a.environment)
	if servers != nil {
		if err := a.Manager.Reconfigure(ctx, servers); err != nil {
			return err
		}
	} else if err := a.Manager.Refresh(ctx); err != nil {
		return err
	}
	return a.Registry.Refresh(ctx)
}

// Shutdown tears down connections and stores. Safe to call once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.client.Close(); err != nil {
		errs = append(errs, err)
	}
	a.cache.Close()
	a.Store.Close()
	return errors.Join(errs...)
}

func newStore(ctx context.Context, cfg *config.Config) (configstore.Store, error) {
	if cfg.Store.DSN == "" {
		return configstore.NewMemoryStore(), nil
	}
	return configstore.NewPostgresStore(ctx, cfg.Store.DSN)
}

func newRetriever(cfg *config.Config) (*retrieval.Service, error) {
	embedder, err := retrieval.NewEmbedder(&retrieval.EmbedderConfig{
		Model:     cfg.Retrieval.EmbedderModel,
		APIKey:    cfg.Model.APIKey,
		CacheSize: cfg.Retrieval.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}
	search := retrieval.NewHTTPSearchClient(cfg.Retrieval.SearchURL, cfg.Retrieval.APIKey, cfg.Retrieval.Timeout)
	var reranker retrieval.Reranker
	if cfg.Retrieval.RerankURL != "" {
		reranker = retrieval.NewCrossEncoderReranker(cfg.Retrieval.RerankURL, cfg.Retrieval.APIKey, cfg.Retrieval.Timeout)
	}
	return retrieval.NewService(embedder, search, reranker, nil, retrieval.ServiceConfig{
		Limit:         cfg.Retrieval.Limit,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		MaxTokens:     cfg.Retrieval.MaxTokens,
	}), nil
}

func scorerConfig(cfg *config.Config) confidence.ScorerConfig {
	scorer := confidence.DefaultScorerConfig()
	if cfg.Confidence.Method != "" {
		scorer.Method = confidence.Method(cfg.Confidence.Method)
	}
	if cfg.Confidence.SimilarityWeight > 0 {
		scorer.SimilarityWeight = cfg.Confidence.SimilarityWeight
	}
	if cfg.Confidence.SourceCountWeight > 0 {
		scorer.SourceCountWeight = cfg.Confidence.SourceCountWeight
	}
	if cfg.Confidence.CompletenessWeight > 0 {
		scorer.CompletenessWeight = cfg.Confidence.CompletenessWeight
	}
	if cfg.Confidence.FormulaWeight > 0 {
		scorer.FormulaWeight = cfg.Confidence.FormulaWeight
	}
	if cfg.Confidence.ModelWeight > 0 {
		scorer.ModelWeight = cfg.Confidence.ModelWeight
	}
	if cfg.Confidence.ModelTimeout > 0 {
		scorer.ModelTimeout = cfg.Confidence.ModelTimeout
	}
	return scorer
}

// loadServers reads the active remote server configuration. A missing
// entry means no remote servers, not a failure.
func loadServers(ctx context.Context, store configstore.Store, environment string) []mcp.ServerConfig {
	entry, err := store.GetActive(ctx, configstore.NameMCPServers, environment)
	if err != nil {
		if !errors.Is(err, configstore.ErrNotFound) {
			logger.FromContext(ctx).Warn("failed to load remote server configuration", "error", err)
		}
		return nil
	}
	servers, err := mcp.ParseServers(entry.Content)
	if err != nil {
		logger.FromContext(ctx).Error("active remote server configuration is malformed", "error", err)
		return nil
	}
	return servers
}
