package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reviewscout/internal/model"
)

const biorxivBaseURL = "https://www.biorxiv.org"

// BiorxivFetcher bioRxiv搜索页抓取（bioRxiv没有按作者/主题检索的公开API）
type BiorxivFetcher struct {
	httpClient *http.Client
	baseURL    string
}

// NewBiorxivFetcher 创建bioRxiv获取器
func NewBiorxivFetcher() *BiorxivFetcher {
	return &BiorxivFetcher{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: biorxivBaseURL,
	}
}

// WithBaseURL 替换站点地址（测试用）
func (b *BiorxivFetcher) WithBaseURL(baseURL string) *BiorxivFetcher {
	b.baseURL = strings.TrimRight(baseURL, "/")
	return b
}

// Index 实现Searcher
func (b *BiorxivFetcher) Index() model.Index { return model.IndexBiorxiv }

// Search 检索bioRxiv
func (b *BiorxivFetcher) Search(ctx context.Context, query string, maxResults int) ([]model.Article, error) {
	term := query + " numresults:" + strconv.Itoa(maxResults) + " sort:relevance-rank"
	reqURL := b.baseURL + "/search/" + url.PathEscape(term)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; reviewscout/1.0)")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("biorxiv returned status %d", resp.StatusCode)
	}

	return parseBiorxivResults(string(body), maxResults)
}
