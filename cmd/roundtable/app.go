package main

import (
	"context"
	"fmt"

	"roundtable/internal/cache"
	"roundtable/internal/config"
	"roundtable/internal/logging"
	"roundtable/internal/memory"
	"roundtable/internal/store"
	"roundtable/internal/transport"
	"roundtable/internal/types"
)

// app bundles the wired long-lived services behind every subcommand.
type app struct {
	cfg   *config.Config
	store *store.Store
	cache *cache.Cache
	facts *memory.FactStore
}

// openApp loads configuration, initializes the categorized file logger,
// opens the database, and rehydrates the cache and fact store from it.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	cats := make(map[string]bool, len(cfg.Logging.Categories))
	for _, c := range cfg.Logging.Categories {
		cats[c] = true
	}
	if err := logging.Initialize(workspace, logging.Options{
		DebugMode:  cfg.Logging.Debug,
		Categories: cats,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}

	c := cache.New(st.CacheEntries())
	c.OnChange(func(entries map[string]cache.Entry) {
		if err := st.SaveCache(entries); err != nil {
			logging.StoreError("failed to persist cache: %v", err)
		}
	})

	facts := memory.NewFactStore(memory.FactStoreConfig{
		FeedbackBoost:      cfg.Memory.FeedbackBoost,
		PruneMinConfidence: cfg.Memory.PruneMinConfidence,
		PruneStaleAfter:    cfg.PruneStaleAfter(),
		PruneMaxUsage:      cfg.Memory.PruneMaxUsage,
	}, st.Facts())
	facts.OnChange(func(snapshot []types.Fact) {
		if err := st.SaveFacts(snapshot); err != nil {
			logging.StoreError("failed to persist facts: %v", err)
		}
	})

	return &app{cfg: cfg, store: st, cache: c, facts: facts}, nil
}

// close releases everything openApp wired, newest first.
func (a *app) close() {
	a.cache.Stop()
	if err := a.store.Close(); err != nil {
		logging.StoreError("failed to close store: %v", err)
	}
	logging.CloseAll()
}

// discoverAgents probes the configured local runtime endpoints.
func (a *app) discoverAgents(ctx context.Context) []types.AgentIdentity {
	if !a.cfg.Discovery.Enabled {
		return nil
	}
	var found []types.AgentIdentity
	for _, endpoint := range a.cfg.Discovery.Endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, a.cfg.DiscoveryTimeout())
		agents, err := transport.DiscoverModels(probeCtx, endpoint)
		cancel()
		if err != nil {
			logging.Boot("discovery skipped %s: %v", endpoint, err)
			continue
		}
		logging.Boot("discovered %d models at %s", len(agents), endpoint)
		found = append(found, agents...)
	}
	return found
}
