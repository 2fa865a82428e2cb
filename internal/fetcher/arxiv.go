package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reviewscout/internal/model"
)

const arxivBaseURL = "https://export.arxiv.org/api/query"

// ArxivFetcher arXiv Atom API 检索
type ArxivFetcher struct {
	httpClient *http.Client
	baseURL    string
}

// NewArxivFetcher 创建arXiv获取器
func NewArxivFetcher() *ArxivFetcher {
	return &ArxivFetcher{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: arxivBaseURL,
	}
}

// WithBaseURL 替换API地址（测试用）
func (a *ArxivFetcher) WithBaseURL(baseURL string) *ArxivFetcher {
	a.baseURL = baseURL
	return a
}

// Index 实现Searcher
func (a *ArxivFetcher) Index() model.Index { return model.IndexArxiv }

// Search 检索arXiv
func (a *ArxivFetcher) Search(ctx context.Context, query string, maxResults int) ([]model.Article, error) {
	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return parseArxivFeed(body)
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID         string          `xml:"id"`
	Title      string          `xml:"title"`
	Summary    string          `xml:"summary"`
	Published  string          `xml:"published"`
	Authors    []arxivAuthor   `xml:"author"`
	Categories []arxivCategory `xml:"category"`
}

type arxivAuthor struct {
	Name         string   `xml:"name"`
	Affiliations []string `xml:"http://arxiv.org/schemas/atom affiliation"`
}

type arxivCategory struct {
	Term string `xml:"term,attr"`
}

// parseArxivFeed 解析Atom feed
func parseArxivFeed(data []byte) ([]model.Article, error) {
	var feed arxivFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("failed to decode arxiv feed: %w", err)
	}

	articles := make([]model.Article, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		id := extractArxivID(entry.ID)
		// 无结果时arXiv会返回一个只有错误信息的entry
		if id == "" || strings.Contains(entry.ID, "api/errors") {
			continue
		}

		article := model.Article{
			ID:       "arxiv:" + id,
			Index:    model.IndexArxiv,
			Title:    cleanText(entry.Title),
			Abstract: cleanText(entry.Summary),
			Year:     parseYear(entry.Published),
			URL:      "https://arxiv.org/abs/" + id,
		}

		hasAffiliation := false
		for _, author := range entry.Authors {
			name := cleanText(author.Name)
			if name == "" {
				continue
			}
			aff := ""
			if len(author.Affiliations) > 0 {
				aff = cleanText(author.Affiliations[0])
			}
			if aff != "" {
				hasAffiliation = true
				if article.Affiliation == "" {
					article.Affiliation = aff
				}
			}
			article.Authors = append(article.Authors, name)
			article.AuthorAffiliations = append(article.AuthorAffiliations, aff)
		}
		if !hasAffiliation {
			article.AuthorAffiliations = nil
		}

		for _, cat := range entry.Categories {
			if cat.Term != "" {
				article.Terms = append(article.Terms, cat.Term)
			}
		}

		articles = append(articles, article)
	}
	return articles, nil
}

// extractArxivID "http://arxiv.org/abs/2101.00001v2" -> "2101.00001"
func extractArxivID(idURL string) string {
	idURL = strings.TrimSpace(idURL)
	idx := strings.Index(idURL, "/abs/")
	if idx == -1 {
		return ""
	}
	id := idURL[idx+len("/abs/"):]
	if v := strings.LastIndex(id, "v"); v > 0 {
		if _, err := strconv.Atoi(id[v+1:]); err == nil {
			id = id[:v]
		}
	}
	return id
}
