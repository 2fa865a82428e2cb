package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"reviewscout/internal/fetcher"
	"reviewscout/internal/model"
	"reviewscout/internal/utils"
	"reviewscout/pkg/logger"
	"reviewscout/pkg/metrics"
)

// maxProposalChars 送入LLM的提案文本上限
const maxProposalChars = 60000

const analysisSystemPrompt = `You are an expert scientific program officer. Read the research proposal and
identify qualified peer reviewers plus literature search queries that will find more of them.

Respond in plain text using exactly these labels:

TITLE: <proposal title>
AUTHORS: <proposal authors separated by ;>
INSTITUTION: <lead institution>
PRIMARY_AREA: <primary research area>
SECONDARY_AREAS: <areas separated by ;>
KEYWORDS: <keywords separated by ;>
SUMMARY: <two sentence summary>

Then one block per suggested reviewer (8 to 15 reviewers, none of them proposal authors):
REVIEWER:
NAME: <full name>
INSTITUTION: <institution>
EXPERTISE: <areas separated by ;>
SENIORITY: <junior|mid-career|senior>
REASONING: <why this person fits>
CONCERNS: <possible conflicts or none>
SOURCE: <known expert|references|mentioned in proposal|field leader>

Then three numbered lists of short topic queries (3 to 5 each):
PUBMED_QUERIES:
1. <query>
ARXIV_QUERIES:
1. <query>
BIORXIV_QUERIES:
1. <query>`

// AnalysisRequest 第一阶段分析请求
type AnalysisRequest struct {
	ProposalText string   `json:"proposal_text"`
	Notes        string   `json:"notes,omitempty"`
	Exclusions   []string `json:"exclusions,omitempty"`
}

// Analyzer 调用LLM从提案中提取元数据、推荐审稿人和检索主题
type Analyzer struct {
	generator fetcher.TextGenerator
	timeout   time.Duration
	log       logger.Logger
}

// NewAnalyzer 创建Analyzer
func NewAnalyzer(generator fetcher.TextGenerator, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Analyzer{
		generator: generator,
		timeout:   timeout,
		log:       logger.Named("Analysis"),
	}
}

// Analyze 执行第一阶段分析
// 提案为空、没有LLM、LLM调用失败时返回错误；响应格式问题只记录到Validation
func (a *Analyzer) Analyze(ctx context.Context, req AnalysisRequest) (*model.AnalysisResult, error) {
	text := strings.TrimSpace(req.ProposalText)
	if text == "" {
		return nil, ErrEmptyProposal
	}
	if a.generator == nil {
		return nil, ErrNoTextGenerator
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.generator.Generate(callCtx, analysisSystemPrompt, buildAnalysisPrompt(text, req.Notes, req.Exclusions))
	metrics.RecordLLMLatency(string(model.StageAnalysis), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("analysis generation failed: %w", err)
	}

	result := ParseAnalysisResponse(resp)
	if len(req.Exclusions) > 0 {
		kept := result.Suggestions[:0]
		for _, s := range result.Suggestions {
			if matchesAny(s.Name, req.Exclusions) {
				continue
			}
			kept = append(kept, s)
		}
		result.Suggestions = kept
	}

	a.log.Info(ctx, "analysis completed",
		logger.Int("suggestions", len(result.Suggestions)),
		logger.Int("queries", result.SearchQueries.Total()),
		logger.Strings("issues", result.Validation.Issues),
		logger.Duration("elapsed", time.Since(start)))
	return result, nil
}

func buildAnalysisPrompt(text, notes string, exclusions []string) string {
	if len(text) > maxProposalChars {
		text = text[:maxProposalChars]
	}
	var b strings.Builder
	b.WriteString("PROPOSAL TEXT:\n")
	b.WriteString(text)
	b.WriteString("\n")
	if notes = strings.TrimSpace(notes); notes != "" {
		b.WriteString("\nADDITIONAL NOTES FROM THE PROGRAM OFFICER:\n")
		b.WriteString(notes)
		b.WriteString("\n")
	}
	if len(exclusions) > 0 {
		b.WriteString("\nDO NOT SUGGEST THESE PEOPLE:\n")
		for _, e := range exclusions {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

func matchesAny(name string, names []string) bool {
	for _, n := range names {
		if utils.NamesMatch(name, n) {
			return true
		}
	}
	return false
}

var (
	analysisLabelRe = regexp.MustCompile(`^[\s#>*_]*([A-Za-z][A-Za-z _\-]*?)(?:\s*#?\d+)?[\s*_]*:[\s*_]*(.*)$`)
	reviewerHeadRe  = regexp.MustCompile(`(?i)^[\s#>*_]*(?:suggested\s+)?reviewer\s*#?\d*[\s*_]*:?[\s*_]*$`)
	listItemRe      = regexp.MustCompile(`^\s*(?:\d+\s*[.)]|[-*•])\s+(.+)$`)
)

type analysisSection int

const (
	sectionMeta analysisSection = iota
	sectionReviewer
	sectionQueries
)

// ParseAnalysisResponse 容错解析第一阶段LLM响应
// 标签顺序和markdown强调可以变化；缺失的部分得到空值并记录到Validation.Issues
func ParseAnalysisResponse(text string) *model.AnalysisResult {
	result := &model.AnalysisResult{
		Suggestions: []model.SuggestedReviewer{},
		SearchQueries: model.SearchQueries{
			PubMed:  []string{},
			Arxiv:   []string{},
			Biorxiv: []string{},
		},
	}

	section := sectionMeta
	var reviewer *model.SuggestedReviewer
	var queryIndex model.Index
	var appendTo *string

	flush := func() {
		if reviewer != nil && strings.TrimSpace(reviewer.Name) != "" {
			if reviewer.Source == "" {
				reviewer.Source = model.SourceUnspecified
			}
			result.Suggestions = append(result.Suggestions, *reviewer)
		}
		reviewer = nil
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.Trim(line, "-=*_#") == "" {
			appendTo = nil
			continue
		}

		if reviewerHeadRe.MatchString(line) {
			flush()
			section = sectionReviewer
			reviewer = &model.SuggestedReviewer{}
			appendTo = nil
			continue
		}

		if m := analysisLabelRe.FindStringSubmatch(line); m != nil {
			label := normalizeLabel(m[1])
			value := cleanValue(m[2])

			if index, ok := queryLabel(label); ok {
				flush()
				section = sectionQueries
				queryIndex = index
				appendTo = nil
				for _, q := range splitList(value) {
					addQuery(&result.SearchQueries, index, q)
				}
				continue
			}

			if label == "REVIEWER" || label == "SUGGESTED_REVIEWER" {
				flush()
				section = sectionReviewer
				reviewer = &model.SuggestedReviewer{}
				appendTo = nil
				if value != "" {
					reviewer.Name = value
				}
				continue
			}

			if section == sectionReviewer && reviewer != nil {
				if field := reviewerField(reviewer, label, value); field != nil {
					appendTo = field
					continue
				}
			}

			if field := metaField(&result.Proposal, label, value); field != nil || isMetaLabel(label) {
				if section != sectionMeta {
					flush()
					section = sectionMeta
				}
				appendTo = field
				continue
			}
		}

		switch section {
		case sectionQueries:
			item := line
			if m := listItemRe.FindStringSubmatch(line); m != nil {
				item = m[1]
			}
			addQuery(&result.SearchQueries, queryIndex, cleanValue(item))
		default:
			if appendTo != nil {
				*appendTo = strings.TrimSpace(*appendTo + " " + cleanValue(line))
			}
		}
	}
	flush()

	result.Suggestions = dedupeSuggestions(result.Suggestions)
	result.Validation = validateAnalysis(result)
	return result
}

func normalizeLabel(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_`\"' ")
	return strings.TrimSpace(s)
}

func queryLabel(label string) (model.Index, bool) {
	if !strings.Contains(label, "QUER") {
		return "", false
	}
	switch {
	case strings.Contains(label, "BIORXIV"):
		return model.IndexBiorxiv, true
	case strings.Contains(label, "ARXIV"):
		return model.IndexArxiv, true
	case strings.Contains(label, "PUBMED"), strings.Contains(label, "MEDLINE"):
		return model.IndexPubMed, true
	}
	return "", false
}

func reviewerField(r *model.SuggestedReviewer, label, value string) *string {
	switch label {
	case "NAME", "FULL_NAME":
		r.Name = value
		return &r.Name
	case "INSTITUTION", "AFFILIATION":
		r.Institution = value
		return &r.Institution
	case "EXPERTISE", "EXPERTISE_AREAS", "AREAS":
		r.Expertise = splitList(value)
		return new(string)
	case "SENIORITY", "CAREER_STAGE":
		r.Seniority = value
		return &r.Seniority
	case "REASONING", "REASON", "RATIONALE":
		r.Reasoning = value
		return &r.Reasoning
	case "CONCERNS", "CONCERN", "POTENTIAL_CONCERNS":
		if strings.EqualFold(value, "none") {
			value = ""
		}
		r.Concerns = value
		return &r.Concerns
	case "SOURCE":
		r.Source = model.ParseReviewerSource(value)
		return new(string)
	}
	return nil
}

var metaLabels = map[string]bool{
	"TITLE": true, "PROPOSAL_TITLE": true, "AUTHORS": true, "PROPOSAL_AUTHORS": true,
	"INSTITUTION": true, "PRIMARY_AREA": true, "PRIMARY_FIELD": true,
	"SECONDARY_AREAS": true, "SECONDARY_FIELDS": true, "KEYWORDS": true, "SUMMARY": true,
}

func isMetaLabel(label string) bool { return metaLabels[label] }

func metaField(p *model.ProposalInfo, label, value string) *string {
	switch label {
	case "TITLE", "PROPOSAL_TITLE":
		p.Title = value
		return &p.Title
	case "AUTHORS", "PROPOSAL_AUTHORS":
		p.Authors = splitList(value)
	case "INSTITUTION":
		p.Institution = value
		return &p.Institution
	case "PRIMARY_AREA", "PRIMARY_FIELD":
		p.PrimaryArea = value
		return &p.PrimaryArea
	case "SECONDARY_AREAS", "SECONDARY_FIELDS":
		p.SecondaryAreas = splitList(value)
	case "KEYWORDS":
		p.Keywords = splitList(value)
	case "SUMMARY":
		p.Summary = value
		return &p.Summary
	}
	return nil
}

// splitList 优先按分号切分，没有分号时按逗号
func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	sep := ";"
	if !strings.Contains(value, ";") {
		sep = ","
	}
	var out []string
	for _, part := range strings.Split(value, sep) {
		if part = cleanValue(part); part != "" && !strings.EqualFold(part, "none") {
			out = append(out, part)
		}
	}
	return out
}

func addQuery(q *model.SearchQueries, index model.Index, topic string) {
	topic = cleanValue(topic)
	if topic == "" {
		return
	}
	list := q.For(index)
	for _, existing := range list {
		if strings.EqualFold(existing, topic) {
			return
		}
	}
	switch index {
	case model.IndexPubMed:
		q.PubMed = append(q.PubMed, topic)
	case model.IndexArxiv:
		q.Arxiv = append(q.Arxiv, topic)
	case model.IndexBiorxiv:
		q.Biorxiv = append(q.Biorxiv, topic)
	}
}

func dedupeSuggestions(in []model.SuggestedReviewer) []model.SuggestedReviewer {
	out := make([]model.SuggestedReviewer, 0, len(in))
	for _, s := range in {
		dup := false
		for _, o := range out {
			if utils.NamesMatch(s.Name, o.Name) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

func validateAnalysis(r *model.AnalysisResult) model.Validation {
	issues := []string{}
	if r.Proposal.Title == "" {
		issues = append(issues, "no proposal title extracted")
	}
	if len(r.Suggestions) == 0 {
		issues = append(issues, "no reviewer suggestions parsed")
	}
	if r.SearchQueries.Total() == 0 {
		issues = append(issues, "no search queries generated")
	} else {
		for _, index := range model.AllIndexes {
			if len(r.SearchQueries.For(index)) == 0 {
				issues = append(issues, fmt.Sprintf("no %s search queries generated", index))
			}
		}
	}
	return model.Validation{IsValid: len(issues) == 0, Issues: issues}
}
