package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"reviewscout/internal/cache"
	"reviewscout/internal/model"
	"reviewscout/pkg/logger"
	"reviewscout/pkg/metrics"
)

const (
	defaultSearchTimeout = 30 * time.Second
	defaultCacheTTL      = 24 * time.Hour
)

// SearchClient 统一的文献检索入口：缓存 -> 限速 -> 超时 -> 指标
type SearchClient struct {
	searchers map[model.Index]Searcher
	pacer     *Pacer
	cache     cache.Cache
	cacheTTL  time.Duration
	timeout   time.Duration
	log       logger.Logger
}

// SearchOption 配置SearchClient
type SearchOption func(*SearchClient)

// WithSearchCache 设置检索缓存
func WithSearchCache(c cache.Cache, ttl time.Duration) SearchOption {
	return func(s *SearchClient) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithSearchTimeout 设置单次调用超时
func WithSearchTimeout(d time.Duration) SearchOption {
	return func(s *SearchClient) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPacer 设置限速器
func WithPacer(p *Pacer) SearchOption {
	return func(s *SearchClient) {
		if p != nil {
			s.pacer = p
		}
	}
}

// NewSearchClient 创建检索客户端
func NewSearchClient(searchers []Searcher, opts ...SearchOption) *SearchClient {
	c := &SearchClient{
		searchers: make(map[model.Index]Searcher),
		pacer:     NewPacer(0),
		cacheTTL:  defaultCacheTTL,
		timeout:   defaultSearchTimeout,
		log:       logger.Named("search"),
	}
	for _, s := range searchers {
		c.searchers[s.Index()] = s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForRun 返回共享检索源和缓存、但使用新限速器的副本（每次运行一个）
func (c *SearchClient) ForRun(p *Pacer) *SearchClient {
	clone := *c
	clone.pacer = p
	return &clone
}

// Supports 是否配置了该检索源
func (c *SearchClient) Supports(index model.Index) bool {
	_, ok := c.searchers[index]
	return ok
}

// Search 执行一次检索
// 失败时返回空切片和包装了ErrSearchFailed的错误，由调用方决定是否记录
func (c *SearchClient) Search(ctx context.Context, index model.Index, query string, maxResults int) ([]model.Article, error) {
	searcher, ok := c.searchers[index]
	if !ok {
		return []model.Article{}, fmt.Errorf("%w: index %s not configured", ErrSearchFailed, index)
	}

	cacheKey := strconv.Itoa(maxResults) + "|" + query
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, string(index), cacheKey)
		if err == nil && cached != nil {
			c.log.Debug(ctx, "cache hit", logger.String("index", string(index)), logger.String("query", query))
			metrics.RecordSearch(string(index), metrics.OutcomeCacheHit, 0, len(cached.Articles))
			return cached.Articles, nil
		}
	}

	var articles []model.Article
	start := time.Now()
	err := c.pacer.Do(ctx, index, func(paced context.Context) error {
		// 已发出的请求不随调用方取消，只受自身超时约束
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(paced), c.timeout)
		defer cancel()

		var callErr error
		articles, callErr = searcher.Search(callCtx, query, maxResults)
		if callErr == nil && callCtx.Err() != nil {
			callErr = callCtx.Err()
		}
		return callErr
	})
	elapsed := time.Since(start)

	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		metrics.RecordSearch(string(index), outcome, elapsed, 0)
		c.log.Warn(ctx, "search failed",
			logger.String("index", string(index)),
			logger.String("query", query),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
		return []model.Article{}, fmt.Errorf("%w: %s: %w", ErrSearchFailed, index, err)
	}

	if articles == nil {
		articles = []model.Article{}
	}
	metrics.RecordSearch(string(index), metrics.OutcomeOK, elapsed, len(articles))
	c.log.Debug(ctx, "search done",
		logger.String("index", string(index)),
		logger.String("query", query),
		logger.Int("articles", len(articles)),
		logger.Duration("elapsed", elapsed))

	if c.cache != nil {
		if err := c.cache.Set(ctx, string(index), cacheKey, articles, c.cacheTTL); err != nil {
			c.log.Warn(ctx, "cache write failed", logger.String("index", string(index)), logger.Error(err))
		}
	}
	return articles, nil
}
