package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reviewscout/internal/utils"
)

// OpenAlexFetcher OpenAlex API获取器（免费学术API），用于补全作者机构
type OpenAlexFetcher struct {
	httpClient *http.Client
	baseURL    string
	mailto     string
}

// NewOpenAlexFetcher 创建OpenAlex获取器
func NewOpenAlexFetcher(mailto string) *OpenAlexFetcher {
	return &OpenAlexFetcher{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: "https://api.openalex.org",
		mailto:  mailto,
	}
}

// WithBaseURL 替换API地址（测试用）
func (o *OpenAlexFetcher) WithBaseURL(baseURL string) *OpenAlexFetcher {
	o.baseURL = strings.TrimRight(baseURL, "/")
	return o
}

type openAlexInstitution struct {
	DisplayName string `json:"display_name"`
}

type openAlexAuthorsResponse struct {
	Results []struct {
		DisplayName           string                `json:"display_name"`
		WorksCount            int                   `json:"works_count"`
		LastKnownInstitutions []openAlexInstitution `json:"last_known_institutions"`
		LastKnownInstitution  *openAlexInstitution  `json:"last_known_institution"`
	} `json:"results"`
}

// LookupInstitution 按作者名查询最近所在机构
// 只接受与name同一身份的作者，多个时取作品数最多的；查不到返回空字符串
func (o *OpenAlexFetcher) LookupInstitution(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) < 3 {
		return "", nil
	}

	params := url.Values{}
	params.Set("search", name)
	params.Set("per-page", "10")
	if o.mailto != "" {
		params.Set("mailto", o.mailto)
	}
	reqURL := fmt.Sprintf("%s/authors?%s", o.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	// OpenAlex 建议设置 User-Agent 包含邮箱，可以获得更高的速率限制
	ua := "reviewscout/1.0"
	if o.mailto != "" {
		ua += " (mailto:" + o.mailto + ")"
	}
	req.Header.Set("User-Agent", ua)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openalex returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result openAlexAuthorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	target := utils.ParsePersonName(name)
	best := ""
	bestWorks := -1
	for _, r := range result.Results {
		if !utils.SameIdentity(target, utils.ParsePersonName(r.DisplayName)) {
			continue
		}
		inst := ""
		if len(r.LastKnownInstitutions) > 0 {
			inst = r.LastKnownInstitutions[0].DisplayName
		} else if r.LastKnownInstitution != nil {
			inst = r.LastKnownInstitution.DisplayName
		}
		if inst == "" {
			continue
		}
		if r.WorksCount > bestWorks {
			bestWorks = r.WorksCount
			best = inst
		}
	}

	return strings.TrimSpace(best), nil
}
