package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"reviewscout/internal/model"
)

// ConfigFileEnv 指定YAML配置文件路径的环境变量
const ConfigFileEnv = "REVIEWSCOUT_CONFIG"

// Config 应用配置
// 环境变量名是koanf标签的大写形式，例如 MIN_PUBLICATIONS
type Config struct {
	Port      string `koanf:"port"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// LLM
	LLMProvider     string        `koanf:"llm_provider"` // openrouter | gemini，为空时按已配置的key选择
	OpenRouterKey   string        `koanf:"openrouter_api_key"`
	OpenRouterModel string        `koanf:"openrouter_model"`
	GeminiKey       string        `koanf:"gemini_api_key"`
	GeminiModel     string        `koanf:"gemini_model"`
	LLMTimeout      time.Duration `koanf:"llm_timeout"`

	// 缓存
	DatabaseURL string        `koanf:"database_url"`
	CacheDir    string        `koanf:"cache_dir"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`

	// 文献检索
	NCBIKey            string        `koanf:"ncbi_api_key"`
	ContactEmail       string        `koanf:"contact_email"`
	SearchTimeout      time.Duration `koanf:"search_timeout"`
	IndexMinInterval   time.Duration `koanf:"index_min_interval"`
	VerifyIndexes      []string      `koanf:"verify_indexes"`
	AuthorMaxResults   int           `koanf:"author_max_results"`
	TopicMaxResults    int           `koanf:"topic_max_results"`
	MaxQueriesPerIndex int           `koanf:"max_queries_per_index"`
	EnableOpenAlex     bool          `koanf:"enable_openalex"`

	// 发现流程
	MinPublications     int           `koanf:"min_publications"`
	MaxConcurrency      int           `koanf:"max_concurrency"`
	MaxDiscovered       int           `koanf:"max_discovered"`
	ReasoningBatchSize  int           `koanf:"reasoning_batch_size"`
	ReasoningBatchPause time.Duration `koanf:"reasoning_batch_pause"`
	COIWindowYears      int           `koanf:"coi_window_years"`
}

// New 返回带默认值的配置
func New() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "info",
		LogFormat: "json",

		OpenRouterModel: "google/gemini-2.5-flash",
		GeminiModel:     "gemini-2.5-flash",
		LLMTimeout:      90 * time.Second,

		CacheTTL: 24 * time.Hour,

		SearchTimeout:      30 * time.Second,
		IndexMinInterval:   400 * time.Millisecond,
		VerifyIndexes:      []string{string(model.IndexPubMed), string(model.IndexArxiv)},
		AuthorMaxResults:   50,
		TopicMaxResults:    30,
		MaxQueriesPerIndex: 5,
		EnableOpenAlex:     true,

		MinPublications:     3,
		MaxConcurrency:      2,
		MaxDiscovered:       25,
		ReasoningBatchSize:  10,
		ReasoningBatchPause: 500 * time.Millisecond,
		COIWindowYears:      3,
	}
}

var knownKeys = map[string]bool{
	"port": true, "log_level": true, "log_format": true,
	"llm_provider": true, "openrouter_api_key": true, "openrouter_model": true,
	"gemini_api_key": true, "gemini_model": true, "llm_timeout": true,
	"database_url": true, "cache_dir": true, "cache_ttl": true,
	"ncbi_api_key": true, "contact_email": true, "search_timeout": true,
	"index_min_interval": true, "verify_indexes": true, "author_max_results": true,
	"topic_max_results": true, "max_queries_per_index": true, "enable_openalex": true,
	"min_publications": true, "max_concurrency": true, "max_discovered": true,
	"reasoning_batch_size": true, "reasoning_batch_pause": true, "coi_window_years": true,
}

// Load 按 默认值 -> YAML文件(REVIEWSCOUT_CONFIG) -> .env -> 环境变量 的顺序加载配置
func Load() (*Config, error) {
	// .env 不覆盖已有的环境变量
	_ = godotenv.Load()

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.ProviderWithValue("", ".", func(s, v string) (string, interface{}) {
		key := strings.ToLower(s)
		if !knownKeys[key] {
			return "", nil
		}
		if key == "verify_indexes" {
			return key, splitCSV(v)
		}
		return key, v
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	// 列表整体替换，不与默认值按下标合并
	cfg.VerifyIndexes = nil
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if len(cfg.VerifyIndexes) == 0 {
		cfg.VerifyIndexes = base.VerifyIndexes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置，返回所有问题
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
	}

	if strings.TrimSpace(c.Port) == "" {
		invalid("port must not be empty")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		invalid("log_format must be json or console, got %q", c.LogFormat)
	}
	switch strings.ToLower(c.LLMProvider) {
	case "", "openrouter", "gemini":
	default:
		invalid("llm_provider must be openrouter or gemini, got %q", c.LLMProvider)
	}
	if c.MinPublications < 1 {
		invalid("min_publications must be >= 1, got %d", c.MinPublications)
	}
	if c.MaxConcurrency < 1 {
		invalid("max_concurrency must be >= 1, got %d", c.MaxConcurrency)
	}
	if c.ReasoningBatchSize < 1 {
		invalid("reasoning_batch_size must be >= 1, got %d", c.ReasoningBatchSize)
	}
	if c.AuthorMaxResults < 1 || c.TopicMaxResults < 1 {
		invalid("author_max_results and topic_max_results must be >= 1")
	}
	if c.MaxQueriesPerIndex < 1 {
		invalid("max_queries_per_index must be >= 1, got %d", c.MaxQueriesPerIndex)
	}
	if c.MaxDiscovered < 1 {
		invalid("max_discovered must be >= 1, got %d", c.MaxDiscovered)
	}
	if c.SearchTimeout <= 0 || c.LLMTimeout <= 0 {
		invalid("search_timeout and llm_timeout must be positive")
	}
	if c.IndexMinInterval < 0 || c.ReasoningBatchPause < 0 {
		invalid("index_min_interval and reasoning_batch_pause must not be negative")
	}
	if len(c.VerifyIndexes) == 0 {
		invalid("verify_indexes must not be empty")
	}
	for _, name := range c.VerifyIndexes {
		if _, ok := model.ParseIndex(name); !ok {
			invalid("unknown index %q in verify_indexes", name)
		}
	}
	return errors.Join(errs...)
}

// VerifyIndexList 解析后的核验检索源，忽略无法识别的名称
func (c *Config) VerifyIndexList() []model.Index {
	var out []model.Index
	for _, name := range c.VerifyIndexes {
		if index, ok := model.ParseIndex(name); ok {
			out = append(out, index)
		}
	}
	return out
}

// Provider 实际使用的LLM提供方，没有可用key时返回空字符串
func (c *Config) Provider() string {
	switch strings.ToLower(c.LLMProvider) {
	case "openrouter":
		if c.OpenRouterKey != "" {
			return "openrouter"
		}
	case "gemini":
		if c.GeminiKey != "" {
			return "gemini"
		}
	case "":
		if c.OpenRouterKey != "" {
			return "openrouter"
		}
		if c.GeminiKey != "" {
			return "gemini"
		}
	}
	return ""
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
