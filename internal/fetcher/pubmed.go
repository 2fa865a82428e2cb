package fetcher

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"reviewscout/internal/model"
)

const pubmedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedFetcher NCBI E-utilities 检索 (esearch + efetch)
type PubMedFetcher struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tool       string
	email      string
}

// NewPubMedFetcher 创建PubMed获取器，apiKey可为空（限速更严）
func NewPubMedFetcher(apiKey, email string) *PubMedFetcher {
	return &PubMedFetcher{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: pubmedBaseURL,
		apiKey:  apiKey,
		tool:    "reviewscout",
		email:   email,
	}
}

// WithBaseURL 替换E-utilities地址（测试用）
func (p *PubMedFetcher) WithBaseURL(baseURL string) *PubMedFetcher {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

// Index 实现Searcher
func (p *PubMedFetcher) Index() model.Index { return model.IndexPubMed }

type esearchResponse struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search 先esearch拿PMID，再efetch拿文献详情
func (p *PubMedFetcher) Search(ctx context.Context, query string, maxResults int) ([]model.Article, error) {
	ids, err := p.searchIDs(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Article{}, nil
	}
	return p.fetchArticles(ctx, ids)
}

func (p *PubMedFetcher) commonParams() url.Values {
	params := url.Values{}
	params.Set("db", "pubmed")
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}
	if p.tool != "" {
		params.Set("tool", p.tool)
	}
	if p.email != "" {
		params.Set("email", p.email)
	}
	return params
}

func (p *PubMedFetcher) searchIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	params := p.commonParams()
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("sort", "relevance")
	params.Set("retmax", strconv.Itoa(maxResults))

	body, err := p.get(ctx, p.baseURL+"/esearch.fcgi?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var result esearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode esearch response: %w", err)
	}
	return result.ESearchResult.IDList, nil
}

func (p *PubMedFetcher) fetchArticles(ctx context.Context, ids []string) ([]model.Article, error) {
	params := p.commonParams()
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "xml")

	// efetch和esearch共用同一个检索源的节奏
	if err := Pace(ctx); err != nil {
		return nil, err
	}
	body, err := p.get(ctx, p.baseURL+"/efetch.fcgi?"+params.Encode())
	if err != nil {
		return nil, err
	}
	return parsePubMedXML(body)
}

func (p *PubMedFetcher) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pubmed returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

type pubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Title struct {
				Inner string `xml:",innerxml"`
			} `xml:"ArticleTitle"`
			Abstract []struct {
				Label string `xml:"Label,attr"`
				Inner string `xml:",innerxml"`
			} `xml:"Abstract>AbstractText"`
			Authors []pubmedAuthor `xml:"AuthorList>Author"`
			Journal struct {
				PubDate struct {
					Year        string `xml:"Year"`
					MedlineDate string `xml:"MedlineDate"`
				} `xml:"JournalIssue>PubDate"`
			} `xml:"Journal"`
			ArticleDate []struct {
				Year string `xml:"Year"`
			} `xml:"ArticleDate"`
		} `xml:"Article"`
		MeshHeadings []string `xml:"MeshHeadingList>MeshHeading>DescriptorName"`
		Keywords     []string `xml:"KeywordList>Keyword"`
	} `xml:"MedlineCitation"`
}

type pubmedAuthor struct {
	LastName       string   `xml:"LastName"`
	ForeName       string   `xml:"ForeName"`
	Initials       string   `xml:"Initials"`
	CollectiveName string   `xml:"CollectiveName"`
	Affiliations   []string `xml:"AffiliationInfo>Affiliation"`
}

// displayName ForeName齐全时用 "Jane Q Smith"，否则用 PubMed 的 "Smith JQ"
func (a pubmedAuthor) displayName() string {
	last := strings.TrimSpace(a.LastName)
	if last == "" {
		return ""
	}
	if fore := strings.TrimSpace(a.ForeName); fore != "" {
		return fore + " " + last
	}
	if a.Initials != "" {
		return last + " " + strings.TrimSpace(a.Initials)
	}
	return last
}

var yearRe = regexp.MustCompile(`(19|20)\d{2}`)

// parsePubMedXML 解析efetch返回的XML
func parsePubMedXML(data []byte) ([]model.Article, error) {
	var set pubmedArticleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode efetch response: %w", err)
	}

	articles := make([]model.Article, 0, len(set.Articles))
	for _, pa := range set.Articles {
		c := pa.Citation
		pmid := strings.TrimSpace(c.PMID)
		if pmid == "" {
			continue
		}

		article := model.Article{
			ID:    "pmid:" + pmid,
			Index: model.IndexPubMed,
			Title: stripMarkup(c.Article.Title.Inner),
			URL:   "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/",
		}

		var abstract []string
		for _, section := range c.Article.Abstract {
			text := stripMarkup(section.Inner)
			if text == "" {
				continue
			}
			if section.Label != "" {
				text = section.Label + ": " + text
			}
			abstract = append(abstract, text)
		}
		article.Abstract = strings.Join(abstract, " ")

		hasAffiliation := false
		for _, author := range c.Article.Authors {
			name := author.displayName()
			if name == "" {
				continue // 团体作者
			}
			aff := ""
			if len(author.Affiliations) > 0 {
				aff = strings.TrimSpace(author.Affiliations[0])
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

		article.Year = parseYear(c.Article.Journal.PubDate.Year)
		if article.Year == 0 {
			article.Year = parseYear(c.Article.Journal.PubDate.MedlineDate)
		}
		if article.Year == 0 && len(c.Article.ArticleDate) > 0 {
			article.Year = parseYear(c.Article.ArticleDate[0].Year)
		}

		for _, term := range append(c.MeshHeadings, c.Keywords...) {
			if t := strings.TrimSpace(term); t != "" {
				article.Terms = append(article.Terms, t)
			}
		}

		articles = append(articles, article)
	}
	return articles, nil
}

func parseYear(s string) int {
	m := yearRe.FindString(s)
	if m == "" {
		return 0
	}
	year, _ := strconv.Atoi(m)
	return year
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
