package model

import (
	"strings"
	"time"
)

// Index 文献检索源
type Index string

const (
	IndexPubMed  Index = "pubmed"
	IndexArxiv   Index = "arxiv"
	IndexBiorxiv Index = "biorxiv"
)

// AllIndexes 所有支持的检索源
var AllIndexes = []Index{IndexPubMed, IndexArxiv, IndexBiorxiv}

// ParseIndex 解析检索源名称（大小写不敏感）
func ParseIndex(s string) (Index, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pubmed", "medline":
		return IndexPubMed, true
	case "arxiv":
		return IndexArxiv, true
	case "biorxiv":
		return IndexBiorxiv, true
	}
	return "", false
}

// ReviewerSource LLM推荐审稿人的依据来源
type ReviewerSource string

const (
	SourceKnownExpert         ReviewerSource = "known_expert"
	SourceReferences          ReviewerSource = "references"
	SourceMentionedInProposal ReviewerSource = "mentioned_in_proposal"
	SourceFieldLeader         ReviewerSource = "field_leader"
	SourceUnspecified         ReviewerSource = "unspecified"
	// SourceTopicSearch 由主题检索发现（Track B）
	SourceTopicSearch ReviewerSource = "topic_search"
)

// ParseReviewerSource 把LLM给出的自由文本映射到来源枚举
func ParseReviewerSource(text string) ReviewerSource {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.NewReplacer("_", " ", "-", " ").Replace(t)
	switch {
	case t == "":
		return SourceUnspecified
	case strings.Contains(t, "reference") || strings.Contains(t, "cited"):
		return SourceReferences
	case strings.Contains(t, "mention"):
		return SourceMentionedInProposal
	case strings.Contains(t, "leader") || strings.Contains(t, "pioneer"):
		return SourceFieldLeader
	case strings.Contains(t, "known") || strings.Contains(t, "expert"):
		return SourceKnownExpert
	}
	return SourceUnspecified
}

// VerificationStatus 候选人核验状态
type VerificationStatus string

const (
	StatusVerified   VerificationStatus = "verified"
	StatusDiscovered VerificationStatus = "discovered"
	StatusUnverified VerificationStatus = "unverified"
)

// Rank 排序优先级，越小越靠前
func (s VerificationStatus) Rank() int {
	switch s {
	case StatusVerified:
		return 0
	case StatusDiscovered:
		return 1
	}
	return 2
}

// ProposalInfo 提案元数据（只读）
type ProposalInfo struct {
	Title          string   `json:"title"`
	Authors        []string `json:"authors"`
	Institution    string   `json:"institution,omitempty"`
	PrimaryArea    string   `json:"primary_area,omitempty"`
	SecondaryAreas []string `json:"secondary_areas,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Summary        string   `json:"summary,omitempty"`
}

// ExpertiseTerms 主领域+次领域+关键词，大小写不敏感去重
func (p ProposalInfo) ExpertiseTerms() []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			return
		}
		seen[key] = true
		terms = append(terms, t)
	}
	add(p.PrimaryArea)
	for _, t := range p.SecondaryAreas {
		add(t)
	}
	for _, t := range p.Keywords {
		add(t)
	}
	return terms
}

// SuggestedReviewer LLM推荐的审稿人
type SuggestedReviewer struct {
	Name        string         `json:"name"`
	Institution string         `json:"institution,omitempty"`
	Expertise   []string       `json:"expertise,omitempty"`
	Seniority   string         `json:"seniority,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Concerns    string         `json:"concerns,omitempty"`
	Source      ReviewerSource `json:"source"`
}

// SearchQuery 单个检索主题
type SearchQuery struct {
	Topic string `json:"topic"`
	Index Index  `json:"index"`
}

// SearchQueries 按检索源分组的主题查询
type SearchQueries struct {
	PubMed  []string `json:"pubmed"`
	Arxiv   []string `json:"arxiv"`
	Biorxiv []string `json:"biorxiv"`
}

// For 返回某个检索源的查询
func (q SearchQueries) For(index Index) []string {
	switch index {
	case IndexPubMed:
		return q.PubMed
	case IndexArxiv:
		return q.Arxiv
	case IndexBiorxiv:
		return q.Biorxiv
	}
	return nil
}

// All 展开为SearchQuery列表
func (q SearchQueries) All() []SearchQuery {
	var out []SearchQuery
	for _, index := range AllIndexes {
		for _, topic := range q.For(index) {
			out = append(out, SearchQuery{Topic: topic, Index: index})
		}
	}
	return out
}

// Total 查询总数
func (q SearchQueries) Total() int {
	return len(q.PubMed) + len(q.Arxiv) + len(q.Biorxiv)
}

// Validation 分析结果校验
type Validation struct {
	IsValid bool     `json:"is_valid"`
	Issues  []string `json:"issues"`
}

// AnalysisResult 第一阶段LLM分析结果
type AnalysisResult struct {
	Proposal      ProposalInfo        `json:"proposal"`
	Suggestions   []SuggestedReviewer `json:"suggestions"`
	SearchQueries SearchQueries       `json:"search_queries"`
	Validation    Validation          `json:"validation"`
}

// Article 检索返回的文献（仅在一次运行内使用）
type Article struct {
	ID      string   `json:"id"`
	Index   Index    `json:"index"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	// AuthorAffiliations 与Authors按下标对齐，检索源不提供时为空
	AuthorAffiliations []string `json:"author_affiliations,omitempty"`
	Affiliation        string   `json:"affiliation,omitempty"`
	Year               int      `json:"year,omitempty"`
	Abstract           string   `json:"abstract,omitempty"`
	Terms              []string `json:"terms,omitempty"`
	URL                string   `json:"url,omitempty"`
}

// Coauthorship 候选人与某位提案作者的合著记录
type Coauthorship struct {
	ProposalAuthor string   `json:"proposal_author"`
	PaperCount     int      `json:"paper_count"`
	PaperTitles    []string `json:"paper_titles"`
	LatestYear     int      `json:"latest_year,omitempty"`
}

// Candidate 审稿候选人
type Candidate struct {
	Name              string             `json:"name"`
	NameVariants      []string           `json:"name_variants,omitempty"`
	Affiliation       string             `json:"affiliation,omitempty"`
	AffiliationSource string             `json:"affiliation_source,omitempty"` // articles | openalex | suggested
	Articles          []Article          `json:"articles,omitempty"`
	Confidence        float64            `json:"confidence"`
	Reasoning         string             `json:"reasoning,omitempty"`
	Seniority         string             `json:"seniority,omitempty"`
	Expertise         []string           `json:"expertise,omitempty"`
	Concerns          string             `json:"concerns,omitempty"`
	Status            VerificationStatus `json:"status"`
	Source            ReviewerSource     `json:"source"`
	Reason            string             `json:"reason,omitempty"`
	FoundVia          []SearchQuery      `json:"found_via,omitempty"`
	Relevant          *bool              `json:"relevant,omitempty"`
	ReasoningEnhanced bool               `json:"reasoning_enhanced,omitempty"`
	HasCoauthorCOI    bool               `json:"has_coauthor_coi"`
	IsProposalAuthor  bool               `json:"is_proposal_author,omitempty"`
	Coauthorships     []Coauthorship     `json:"coauthorships,omitempty"`
	CompositeScore    float64            `json:"composite_score"`
}

// ArticleCount 匹配到的文献数量
func (c *Candidate) ArticleCount() int {
	return len(c.Articles)
}

// DiscoveryStats 单次运行的统计
type DiscoveryStats struct {
	Suggestions       int           `json:"suggestions"`
	Verified          int           `json:"verified"`
	Unverified        int           `json:"unverified"`
	Discovered        int           `json:"discovered"`
	Excluded          int           `json:"excluded"`
	COIFlagged        int           `json:"coi_flagged"`
	QueriesPerIndex   map[Index]int `json:"queries_per_index"`
	ArticlesPerIndex  map[Index]int `json:"articles_per_index"`
	FailedSearches    int           `json:"failed_searches"`
	ReasoningBatches  int           `json:"reasoning_batches"`
	ReasoningFailures int           `json:"reasoning_failures"`
	DurationMs        int64         `json:"duration_ms"`
}

// DiscoveryResult 一次发现运行的最终结果
type DiscoveryResult struct {
	RunID       string         `json:"run_id"`
	Verified    []Candidate    `json:"verified"`
	Unverified  []Candidate    `json:"unverified"`
	Discovered  []Candidate    `json:"discovered"`
	Ranked      []Candidate    `json:"ranked"`
	Stats       DiscoveryStats `json:"stats"`
	Degraded    []string       `json:"degraded,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}
