package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"reviewscout/internal/model"
)

// CachedResult 缓存的检索结果
type CachedResult struct {
	Source    string          `json:"source"` // 检索源: "pubmed" / "arxiv" / "biorxiv"
	Key       string          `json:"key"`    // 查询键
	Articles  []model.Article `json:"articles"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Cache 检索结果缓存接口
type Cache interface {
	Get(ctx context.Context, source, key string) (*CachedResult, error)
	Set(ctx context.Context, source, key string, articles []model.Article, ttl time.Duration) error
	Delete(ctx context.Context, source, key string) error
}

func newResult(source, key string, articles []model.Article, ttl time.Duration) *CachedResult {
	now := time.Now()
	return &CachedResult{
		Source:    source,
		Key:       key,
		Articles:  articles,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// FileCache 基于文件的缓存实现
type FileCache struct {
	dir string
	mu  sync.RWMutex
}

// NewFileCache 创建文件缓存
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

// cacheFile 查询字符串可能含任意字符，用名字空间UUID做文件名
func (c *FileCache) cacheFile(source, key string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"|"+key))
	return filepath.Join(c.dir, source+"-"+id.String()+".json")
}

// Get 获取缓存
func (c *FileCache) Get(ctx context.Context, source, key string) (*CachedResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.cacheFile(source, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // 缓存不存在
		}
		return nil, err
	}

	var result CachedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	// 检查是否过期
	if time.Now().After(result.ExpiresAt) {
		go c.Delete(context.Background(), source, key)
		return nil, nil
	}

	return &result, nil
}

// Set 设置缓存
func (c *FileCache) Set(ctx context.Context, source, key string, articles []model.Article, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jsonData, err := json.MarshalIndent(newResult(source, key, articles, ttl), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.cacheFile(source, key), jsonData, 0644)
}

// Delete 删除缓存
func (c *FileCache) Delete(ctx context.Context, source, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.cacheFile(source, key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MemoryCache 内存缓存实现（用于测试或单机部署）
type MemoryCache struct {
	data map[string]*CachedResult
	mu   sync.RWMutex
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]*CachedResult),
	}
}

func memoryKey(source, key string) string {
	return source + "|" + key
}

// Get 获取缓存
func (c *MemoryCache) Get(ctx context.Context, source, key string) (*CachedResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result, ok := c.data[memoryKey(source, key)]
	if !ok {
		return nil, nil
	}

	if time.Now().After(result.ExpiresAt) {
		go c.Delete(context.Background(), source, key)
		return nil, nil
	}

	return result, nil
}

// Set 设置缓存
func (c *MemoryCache) Set(ctx context.Context, source, key string, articles []model.Article, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[memoryKey(source, key)] = newResult(source, key, articles, ttl)
	return nil
}

// Delete 删除缓存
func (c *MemoryCache) Delete(ctx context.Context, source, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, memoryKey(source, key))
	return nil
}

// Len 当前条目数（含未清理的过期条目）
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// PostgresCache PostgreSQL缓存实现
type PostgresCache struct {
	db *sql.DB
}

// NewPostgresCache 创建PostgreSQL缓存
func NewPostgresCache(databaseURL string) (*PostgresCache, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresCache{db: db}, nil
}

// EnsureSchema 创建缓存表
func (c *PostgresCache) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS search_cache (
		source     TEXT        NOT NULL,
		cache_key  TEXT        NOT NULL,
		articles   JSONB       NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (source, cache_key)
	)
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Get 获取缓存
func (c *PostgresCache) Get(ctx context.Context, source, key string) (*CachedResult, error) {
	query := `
	SELECT source, cache_key, articles, created_at, expires_at
	FROM search_cache
	WHERE source = $1 AND cache_key = $2 AND expires_at > NOW()
	`

	var result CachedResult
	var articlesJSON []byte

	err := c.db.QueryRowContext(ctx, query, source, key).Scan(
		&result.Source,
		&result.Key,
		&articlesJSON,
		&result.CreatedAt,
		&result.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil // 缓存不存在或已过期
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(articlesJSON, &result.Articles); err != nil {
		return nil, err
	}

	return &result, nil
}

// Set 设置缓存
func (c *PostgresCache) Set(ctx context.Context, source, key string, articles []model.Article, ttl time.Duration) error {
	articlesJSON, err := json.Marshal(articles)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO search_cache (source, cache_key, articles, created_at, expires_at)
	VALUES ($1, $2, $3, NOW(), $4)
	ON CONFLICT (source, cache_key)
	DO UPDATE SET articles = $3, created_at = NOW(), expires_at = $4
	`

	_, err = c.db.ExecContext(ctx, query, source, key, articlesJSON, time.Now().Add(ttl))
	return err
}

// Delete 删除缓存
func (c *PostgresCache) Delete(ctx context.Context, source, key string) error {
	query := `DELETE FROM search_cache WHERE source = $1 AND cache_key = $2`
	_, err := c.db.ExecContext(ctx, query, source, key)
	return err
}

// Close 关闭数据库连接
func (c *PostgresCache) Close() error {
	return c.db.Close()
}

// CleanExpired 清理过期缓存
func (c *PostgresCache) CleanExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM search_cache WHERE expires_at < NOW()`
	result, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
