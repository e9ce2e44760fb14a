package main

import (
	"context"
	"log"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent"
	"github.com/mohammad-safakhou/roadbook/internal/agent/telemetry"
	"github.com/mohammad-safakhou/roadbook/internal/cache"
	"github.com/mohammad-safakhou/roadbook/internal/search"
	"github.com/mohammad-safakhou/roadbook/provider"
)

// buildAgent wires the ask pipeline for CLI use. Redis is optional here:
// a missing cache only disables answer reuse.
func buildAgent(ctx context.Context, cfg *config.Config) (*agent.Agent, search.Searcher, *telemetry.Telemetry, error) {
	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, nil, nil, err
	}
	searcher, err := search.NewSearcher(cfg.Search, llm)
	if err != nil {
		return nil, nil, nil, err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	var askCache agent.AskCache
	if cfg.Cache.Enabled {
		if rdb, err := cache.Conn(ctx, cfg.Storage.Redis); err != nil {
			log.Printf("cache unavailable, continuing without it: %v", err)
		} else {
			askCache = cache.New(rdb, cfg.Cache.TTL)
		}
	}

	ag, err := agent.New(cfg, searcher, llm, askCache, tele)
	if err != nil {
		return nil, nil, nil, err
	}
	return ag, searcher, tele, nil
}
