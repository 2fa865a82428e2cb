package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"reviewscout/internal/fetcher"
	"reviewscout/internal/model"
	"reviewscout/pkg/logger"
	"reviewscout/pkg/metrics"
)

const (
	DefaultReasoningBatchSize  = 10
	DefaultReasoningBatchPause = 500 * time.Millisecond
	// DefaultReasoning 批次失败或没有解析到时的默认说明
	DefaultReasoning = "Relevant to the proposal topics; reasoning unavailable."

	recentPublicationsPerCandidate = 3
)

const reasoningSystemPrompt = `You are an experienced scientific program officer assessing potential peer reviewers.
For each numbered candidate decide whether their recent publications make them a relevant reviewer for the proposal.
Answer with exactly one line per candidate, in the same order and numbering, using this format:
N. RELEVANT: Yes|No | REASONING: <one or two sentences> | SENIORITY: <junior|mid-career|senior>`

// ReasoningEntry 解析出的单个候选人结论
type ReasoningEntry struct {
	Relevant  *bool
	Reasoning string
	Seniority string
}

// ReasoningReport 一次增强的批次统计
type ReasoningReport struct {
	Batches  int
	Failures int
}

// ReasoningEnhancer 分批请求LLM为发现的候选人生成相关性说明
type ReasoningEnhancer struct {
	generator fetcher.TextGenerator
	batchSize int
	pause     time.Duration
	timeout   time.Duration
	log       logger.Logger
}

// ReasoningOption 配置项
type ReasoningOption func(*ReasoningEnhancer)

// WithBatchSize 每批候选人数
func WithBatchSize(n int) ReasoningOption {
	return func(e *ReasoningEnhancer) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithBatchPause 批次间隔
func WithBatchPause(d time.Duration) ReasoningOption {
	return func(e *ReasoningEnhancer) {
		if d >= 0 {
			e.pause = d
		}
	}
}

// WithLLMTimeout 单次LLM调用超时
func WithLLMTimeout(d time.Duration) ReasoningOption {
	return func(e *ReasoningEnhancer) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewReasoningEnhancer 创建ReasoningEnhancer，generator为nil时所有候选人得到默认说明
func NewReasoningEnhancer(generator fetcher.TextGenerator, opts ...ReasoningOption) *ReasoningEnhancer {
	e := &ReasoningEnhancer{
		generator: generator,
		batchSize: DefaultReasoningBatchSize,
		pause:     DefaultReasoningBatchPause,
		timeout:   90 * time.Second,
		log:       logger.Named("Reasoning"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enhance 原地补充候选人的Relevant/Reasoning/Seniority
// 单批失败不影响其他批次，只有ctx取消时返回错误
func (e *ReasoningEnhancer) Enhance(ctx context.Context, candidates []*model.Candidate, proposal model.ProposalInfo) (ReasoningReport, error) {
	var report ReasoningReport
	if len(candidates) == 0 {
		return report, nil
	}
	if e.generator == nil {
		for _, c := range candidates {
			applyDefaultReasoning(c)
		}
		return report, nil
	}

	for start := 0; start < len(candidates); start += e.batchSize {
		if start > 0 && e.pause > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(e.pause):
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		end := start + e.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]
		report.Batches++

		if err := e.enhanceBatch(ctx, batch, proposal); err != nil {
			report.Failures++
			metrics.RecordReasoningBatch(false)
			e.log.Warn(ctx, "reasoning batch failed, using defaults",
				logger.Int("batch", report.Batches),
				logger.Int("size", len(batch)),
				logger.Error(err))
			for _, c := range batch {
				applyDefaultReasoning(c)
			}
			continue
		}
		metrics.RecordReasoningBatch(true)
	}
	return report, nil
}

func (e *ReasoningEnhancer) enhanceBatch(ctx context.Context, batch []*model.Candidate, proposal model.ProposalInfo) error {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	text, err := e.generator.Generate(callCtx, reasoningSystemPrompt, buildReasoningPrompt(batch, proposal))
	metrics.RecordLLMLatency(string(model.StageReasoning), time.Since(start))
	if err != nil {
		return err
	}

	entries := ParseReasoningResponse(text)
	if len(entries) == 0 {
		return fmt.Errorf("no parsable lines in reasoning response")
	}

	for i, c := range batch {
		entry, ok := entries[i+1]
		if !ok {
			applyDefaultReasoning(c)
			continue
		}
		if entry.Relevant != nil {
			c.Relevant = entry.Relevant
		} else {
			c.Relevant = boolPtr(true)
		}
		if entry.Reasoning != "" {
			c.Reasoning = entry.Reasoning
			c.ReasoningEnhanced = true
		} else if c.Reasoning == "" {
			c.Reasoning = DefaultReasoning
		}
		if entry.Seniority != "" {
			c.Seniority = entry.Seniority
		}
	}
	return nil
}

func applyDefaultReasoning(c *model.Candidate) {
	if c.Relevant == nil {
		c.Relevant = boolPtr(true)
	}
	if c.Reasoning == "" {
		c.Reasoning = DefaultReasoning
	}
}

func boolPtr(b bool) *bool { return &b }

// recentArticles 按年份倒序取最近的n篇
func recentArticles(articles []model.Article, n int) []model.Article {
	sorted := make([]model.Article, len(articles))
	copy(sorted, articles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Year > sorted[j].Year })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func buildReasoningPrompt(batch []*model.Candidate, proposal model.ProposalInfo) string {
	var b strings.Builder
	b.WriteString("PROPOSAL\n")
	if proposal.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", proposal.Title)
	}
	if terms := proposal.ExpertiseTerms(); len(terms) > 0 {
		fmt.Fprintf(&b, "Areas: %s\n", strings.Join(terms, "; "))
	}
	if proposal.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", proposal.Summary)
	}

	b.WriteString("\nCANDIDATES\n")
	for i, c := range batch {
		fmt.Fprintf(&b, "%d. %s", i+1, c.Name)
		if c.Affiliation != "" {
			fmt.Fprintf(&b, " (%s)", c.Affiliation)
		}
		b.WriteString("\n")
		for _, a := range recentArticles(c.Articles, recentPublicationsPerCandidate) {
			if a.Year > 0 {
				fmt.Fprintf(&b, "   - %s (%d)\n", a.Title, a.Year)
			} else {
				fmt.Fprintf(&b, "   - %s\n", a.Title)
			}
		}
	}
	return b.String()
}

var (
	reasoningLineRe  = regexp.MustCompile(`^(?i:candidate\s*)?#?(\d+)\s*[.):\-]?\s*(.*)$`)
	reasoningLabelRe = regexp.MustCompile(`(?i)\b(relevant|relevance|reasoning|reason|seniority)\b\**\s*:`)
)

// ParseReasoningResponse 解析 "N. RELEVANT: Yes | REASONING: ... | SENIORITY: ..." 格式
// 标签顺序、markdown强调、缺少分隔符都可以容忍；无法解析的行直接忽略
func ParseReasoningResponse(text string) map[int]ReasoningEntry {
	entries := make(map[int]ReasoningEntry)
	current := 0

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimLeft(line, "-*#> ")
		if line == "" {
			continue
		}

		rest := line
		if m := reasoningLineRe.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			current = n
			rest = m[2]
		} else if current == 0 {
			continue
		}

		locs := reasoningLabelRe.FindAllStringSubmatchIndex(rest, -1)
		if len(locs) == 0 {
			continue
		}

		entry := entries[current]
		for i, loc := range locs {
			label := strings.ToLower(rest[loc[2]:loc[3]])
			end := len(rest)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			value := strings.Trim(rest[loc[1]:end], " \t|*_;")

			switch label {
			case "relevant", "relevance":
				entry.Relevant = parseYesNo(value)
			case "reasoning", "reason":
				entry.Reasoning = value
			case "seniority":
				entry.Seniority = value
			}
		}
		entries[current] = entry
	}
	return entries
}

func parseYesNo(v string) *bool {
	v = strings.ToLower(strings.TrimSpace(v))
	switch {
	case strings.HasPrefix(v, "yes"), strings.HasPrefix(v, "true"), v == "y":
		return boolPtr(true)
	case strings.HasPrefix(v, "no"), strings.HasPrefix(v, "false"), v == "n":
		return boolPtr(false)
	}
	return nil
}
