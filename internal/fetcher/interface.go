package fetcher

import (
	"context"
	"errors"

	"reviewscout/internal/model"
)

// ErrSearchFailed 检索源调用失败（超时、网络错误、非200响应、解析失败）
var ErrSearchFailed = errors.New("bibliographic search failed")

// Searcher 单个文献检索源 (PubMed / arXiv / bioRxiv)
type Searcher interface {
	Index() model.Index
	Search(ctx context.Context, query string, maxResults int) ([]model.Article, error)
}

// TextGenerator LLM文本生成 (OpenRouter / Gemini)
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// InstitutionLookup 按作者名查询所在机构 (OpenAlex)
type InstitutionLookup interface {
	LookupInstitution(ctx context.Context, name string) (string, error)
}
