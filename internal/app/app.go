// Package app 根据配置组装检索源、缓存、LLM和服务，供HTTP服务和命令行共用
package app

import (
	"context"
	"fmt"

	"reviewscout/config"
	"reviewscout/internal/cache"
	"reviewscout/internal/fetcher"
	"reviewscout/internal/service"
	"reviewscout/pkg/logger"
)

// App 组装好的服务
type App struct {
	Config    *config.Config
	Analyzer  *service.Analyzer
	Discovery *service.DiscoveryService
	Cache     cache.Cache
	// LLMProvider 为空表示没有可用的LLM
	LLMProvider string

	closers []func() error
}

// New 按配置创建App
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.Named("app")
	a := &App{Config: cfg}

	a.Cache = a.openCache(ctx, log)

	generator, err := newTextGenerator(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if generator == nil {
		log.Warn(ctx, "no LLM API key configured, analysis disabled and reasoning falls back to defaults")
	} else {
		a.LLMProvider = cfg.Provider()
		log.Info(ctx, "LLM provider configured", logger.String("provider", a.LLMProvider))
	}

	searchers := []fetcher.Searcher{
		fetcher.NewPubMedFetcher(cfg.NCBIKey, cfg.ContactEmail),
		fetcher.NewArxivFetcher(),
		fetcher.NewBiorxivFetcher(),
	}
	search := fetcher.NewSearchClient(searchers,
		fetcher.WithSearchCache(a.Cache, cfg.CacheTTL),
		fetcher.WithSearchTimeout(cfg.SearchTimeout),
	)

	var institutions fetcher.InstitutionLookup
	if cfg.EnableOpenAlex {
		institutions = fetcher.NewOpenAlexFetcher(cfg.ContactEmail)
	}

	reasoner := service.NewReasoningEnhancer(generator,
		service.WithBatchSize(cfg.ReasoningBatchSize),
		service.WithBatchPause(cfg.ReasoningBatchPause),
		service.WithLLMTimeout(cfg.LLMTimeout),
	)

	a.Analyzer = service.NewAnalyzer(generator, cfg.LLMTimeout)
	a.Discovery = service.NewDiscoveryService(search, reasoner, institutions, DiscoveryConfig(cfg))
	return a, nil
}

// DiscoveryConfig 把应用配置转换为发现流程参数
func DiscoveryConfig(cfg *config.Config) service.DiscoveryConfig {
	d := service.DefaultDiscoveryConfig()
	d.MinPublications = cfg.MinPublications
	d.MaxConcurrency = cfg.MaxConcurrency
	d.IndexMinInterval = cfg.IndexMinInterval
	d.VerifyIndexes = cfg.VerifyIndexList()
	d.AuthorMaxResults = cfg.AuthorMaxResults
	d.TopicMaxResults = cfg.TopicMaxResults
	d.MaxQueriesPerIndex = cfg.MaxQueriesPerIndex
	d.MaxDiscovered = cfg.MaxDiscovered
	d.COIWindowYears = cfg.COIWindowYears
	d.EnableOpenAlex = cfg.EnableOpenAlex
	return d
}

// openCache 优先PostgreSQL，其次文件缓存，最后内存缓存
func (a *App) openCache(ctx context.Context, log logger.Logger) cache.Cache {
	cfg := a.Config
	if cfg.DatabaseURL != "" {
		pg, err := cache.NewPostgresCache(cfg.DatabaseURL)
		if err == nil {
			err = pg.EnsureSchema(ctx)
			if err != nil {
				pg.Close()
			}
		}
		if err == nil {
			log.Info(ctx, "Using PostgreSQL cache")
			a.closers = append(a.closers, pg.Close)
			return pg
		}
		log.Warn(ctx, "Failed to connect to PostgreSQL, falling back", logger.Error(err))
	}
	if cfg.CacheDir != "" {
		fc, err := cache.NewFileCache(cfg.CacheDir)
		if err == nil {
			log.Info(ctx, "Using file cache", logger.String("dir", cfg.CacheDir))
			return fc
		}
		log.Warn(ctx, "Failed to open file cache, using memory cache", logger.Error(err))
	}
	log.Info(ctx, "Using memory cache")
	return cache.NewMemoryCache()
}

func newTextGenerator(ctx context.Context, cfg *config.Config) (fetcher.TextGenerator, error) {
	switch cfg.Provider() {
	case "openrouter":
		return fetcher.NewOpenRouterClient(cfg.OpenRouterKey, cfg.OpenRouterModel), nil
	case "gemini":
		client, err := fetcher.NewGeminiClient(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini: %w", err)
		}
		return client, nil
	}
	return nil, nil
}

// Close 释放缓存连接
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
