package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reviewscout/internal/fetcher"
	"reviewscout/internal/model"
	"reviewscout/internal/utils"
	"reviewscout/pkg/logger"
	"reviewscout/pkg/metrics"
)

// DiscoveryConfig 发现流程参数
type DiscoveryConfig struct {
	MinPublications    int
	MaxConcurrency     int
	IndexMinInterval   time.Duration
	VerifyIndexes      []model.Index
	AuthorMaxResults   int
	TopicMaxResults    int
	MaxQueriesPerIndex int
	MaxDiscovered      int
	COIWindowYears     int
	EnableOpenAlex     bool
	RankWeights        RankWeights
}

// DefaultDiscoveryConfig 默认参数
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		MinPublications:    3,
		MaxConcurrency:     2,
		IndexMinInterval:   400 * time.Millisecond,
		VerifyIndexes:      []model.Index{model.IndexPubMed, model.IndexArxiv},
		AuthorMaxResults:   50,
		TopicMaxResults:    30,
		MaxQueriesPerIndex: 5,
		MaxDiscovered:      25,
		COIWindowYears:     DefaultCOIWindowYears,
		EnableOpenAlex:     true,
		RankWeights:        DefaultRankWeights(),
	}
}

func (c *DiscoveryConfig) applyDefaults() {
	d := DefaultDiscoveryConfig()
	if c.MinPublications <= 0 {
		c.MinPublications = d.MinPublications
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if len(c.VerifyIndexes) == 0 {
		c.VerifyIndexes = d.VerifyIndexes
	}
	if c.AuthorMaxResults <= 0 {
		c.AuthorMaxResults = d.AuthorMaxResults
	}
	if c.TopicMaxResults <= 0 {
		c.TopicMaxResults = d.TopicMaxResults
	}
	if c.MaxQueriesPerIndex <= 0 {
		c.MaxQueriesPerIndex = d.MaxQueriesPerIndex
	}
	if c.MaxDiscovered <= 0 {
		c.MaxDiscovered = d.MaxDiscovered
	}
	if c.RankWeights == (RankWeights{}) {
		c.RankWeights = d.RankWeights
	}
}

// DiscoveryRequest 一次发现运行的输入
type DiscoveryRequest struct {
	Analysis   *model.AnalysisResult `json:"analysis"`
	Exclusions []string              `json:"exclusions,omitempty"`
	// RunID 为空时自动生成
	RunID string `json:"run_id,omitempty"`
}

// DiscoveryService 审稿人发现与核验
type DiscoveryService struct {
	search       *fetcher.SearchClient
	reasoner     *ReasoningEnhancer
	institutions fetcher.InstitutionLookup
	cfg          DiscoveryConfig
	now          func() time.Time
	log          logger.Logger
}

// NewDiscoveryService 创建DiscoveryService
// reasoner为nil时发现的候选人只得到默认说明；institutions为nil时不做OpenAlex补全
func NewDiscoveryService(search *fetcher.SearchClient, reasoner *ReasoningEnhancer, institutions fetcher.InstitutionLookup, cfg DiscoveryConfig) *DiscoveryService {
	cfg.applyDefaults()
	if reasoner == nil {
		reasoner = NewReasoningEnhancer(nil)
	}
	return &DiscoveryService{
		search:       search,
		reasoner:     reasoner,
		institutions: institutions,
		cfg:          cfg,
		now:          time.Now,
		log:          logger.Named("Discovery"),
	}
}

// Config 当前参数
func (s *DiscoveryService) Config() DiscoveryConfig {
	return s.cfg
}

// discoveryRun 单次运行的可变状态
type discoveryRun struct {
	id       string
	search   *fetcher.SearchClient
	progress chan<- model.ProgressEvent
	proposal model.ProposalInfo

	mu       sync.Mutex
	stats    model.DiscoveryStats
	degraded []string
}

func (r *discoveryRun) emit(stage model.StageType, status model.StageStatus, message string, data interface{}) {
	if r.progress == nil {
		return
	}
	ev := model.ProgressEvent{
		Stage:   stage,
		Status:  status,
		Message: message,
		Data:    data,
		Time:    time.Now().UnixMilli(),
	}
	select {
	case r.progress <- ev:
	default:
	}
}

func (r *discoveryRun) recordSearch(index model.Index, articles int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.QueriesPerIndex[index]++
	r.stats.ArticlesPerIndex[index] += articles
	if err != nil {
		r.stats.FailedSearches++
	}
}

func (r *discoveryRun) degrade(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = append(r.degraded, fmt.Sprintf(format, args...))
}

// Discover 执行完整的发现流程：
// Track A核验推荐审稿人与Track B主题检索并行 -> 机构补全 -> 利益冲突 -> 批量生成说明 -> 排序
// progress为nil或消费过慢时事件会被丢弃，不影响结果；ctx取消时返回ctx.Err()且不返回部分结果
func (s *DiscoveryService) Discover(ctx context.Context, req DiscoveryRequest, progress chan<- model.ProgressEvent) (*model.DiscoveryResult, error) {
	if req.Analysis == nil {
		return nil, ErrMissingAnalysis
	}
	analysis := req.Analysis
	if len(analysis.Suggestions) == 0 && analysis.SearchQueries.Total() == 0 {
		return nil, ErrNothingToDiscover
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logger.WithRunID(ctx, runID)
	startedAt := s.now()

	run := &discoveryRun{
		id:       runID,
		search:   s.search.ForRun(fetcher.NewPacer(s.cfg.IndexMinInterval)),
		progress: progress,
		proposal: analysis.Proposal,
		stats: model.DiscoveryStats{
			Suggestions:      len(analysis.Suggestions),
			QueriesPerIndex:  make(map[model.Index]int),
			ArticlesPerIndex: make(map[model.Index]int),
		},
	}

	s.log.Info(ctx, "discovery started",
		logger.Int("suggestions", len(analysis.Suggestions)),
		logger.Int("queries", analysis.SearchQueries.Total()))

	result, err := s.discover(ctx, run, analysis, req.Exclusions)
	elapsed := time.Since(startedAt)
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeCanceled
		}
		metrics.RecordRun(outcome, elapsed)
		s.log.Warn(ctx, "discovery aborted", logger.Duration("elapsed", elapsed), logger.Error(err))
		return nil, err
	}

	result.StartedAt = startedAt
	result.CompletedAt = s.now()
	result.Stats.DurationMs = elapsed.Milliseconds()

	metrics.RecordRun(metrics.OutcomeOK, elapsed)
	metrics.RecordCandidates(string(model.StatusVerified), len(result.Verified))
	metrics.RecordCandidates(string(model.StatusUnverified), len(result.Unverified))
	metrics.RecordCandidates(string(model.StatusDiscovered), len(result.Discovered))

	s.log.Info(ctx, "discovery completed",
		logger.Int("verified", result.Stats.Verified),
		logger.Int("unverified", result.Stats.Unverified),
		logger.Int("discovered", result.Stats.Discovered),
		logger.Int("coi_flagged", result.Stats.COIFlagged),
		logger.Int("failed_searches", result.Stats.FailedSearches),
		logger.Duration("elapsed", elapsed))
	return result, nil
}

func (s *DiscoveryService) discover(ctx context.Context, run *discoveryRun, analysis *model.AnalysisResult, exclusions []string) (*model.DiscoveryResult, error) {
	excluded := parseNames(exclusions)

	suggestions := make([]model.SuggestedReviewer, 0, len(analysis.Suggestions))
	for _, sug := range analysis.Suggestions {
		if matchesParsed(utils.ParsePersonName(sug.Name), excluded) {
			run.stats.Excluded++
			continue
		}
		suggestions = append(suggestions, sug)
	}

	// Track B 不应重新发现这些人
	skip := append([]utils.PersonName{}, excluded...)
	skip = append(skip, parseNames(analysis.Proposal.Authors)...)
	for _, sug := range analysis.Suggestions {
		skip = append(skip, utils.ParsePersonName(sug.Name))
	}

	var verified, unverified, discovered []model.Candidate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		verified, unverified, err = s.verifyAll(gctx, run, suggestions)
		return err
	})
	g.Go(func() error {
		var err error
		discovered, err = s.discoverAll(gctx, run, analysis.SearchQueries, skip)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.enrichAffiliations(ctx, run, verified, unverified, discovered); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 利益冲突
	run.emit(model.StageCOI, model.StatusRunning, "checking co-authorship with proposal authors", nil)
	all := candidatePointers(verified, unverified, discovered)
	flagged := CheckCoauthorshipsForCandidates(all, analysis.Proposal.Authors, COIOptions{
		WindowYears: s.cfg.COIWindowYears,
		Now:         s.now(),
	})
	run.stats.COIFlagged = flagged
	metrics.RecordCOIFlagged(flagged)
	if len(analysis.Proposal.Authors) == 0 {
		run.degrade("coi: proposal authors unknown, co-authorship not checked")
		run.emit(model.StageCOI, model.StatusSkipped, "no proposal authors", nil)
	} else {
		run.emit(model.StageCOI, model.StatusDone, fmt.Sprintf("%d candidates flagged", flagged),
			map[string]interface{}{"flagged": flagged})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 生成说明
	if len(discovered) > 0 {
		run.emit(model.StageReasoning, model.StatusRunning, fmt.Sprintf("generating reasoning for %d discovered candidates", len(discovered)), nil)
		report, err := s.reasoner.Enhance(ctx, candidatePointers(discovered), analysis.Proposal)
		if err != nil {
			return nil, err
		}
		run.stats.ReasoningBatches = report.Batches
		run.stats.ReasoningFailures = report.Failures
		if report.Failures > 0 {
			run.degrade("reasoning: %d of %d batches failed, default reasoning used", report.Failures, report.Batches)
		}
		run.emit(model.StageReasoning, model.StatusDone, "reasoning completed",
			map[string]interface{}{"batches": report.Batches, "failures": report.Failures})
	} else {
		run.emit(model.StageReasoning, model.StatusSkipped, "no discovered candidates", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 排序
	run.emit(model.StageRanking, model.StatusRunning, "ranking candidates", nil)
	keywords := analysis.Proposal.Keywords
	if len(keywords) == 0 {
		keywords = analysis.Proposal.ExpertiseTerms()
	}
	ranked := RankAllCandidates(verified, discovered, unverified, keywords, s.cfg.RankWeights)
	run.emit(model.StageRanking, model.StatusDone, fmt.Sprintf("%d candidates ranked", len(ranked)), nil)

	run.stats.Verified = len(verified)
	run.stats.Unverified = len(unverified)
	run.stats.Discovered = len(discovered)
	if run.stats.FailedSearches > 0 {
		run.degrade("search: %d bibliographic calls failed", run.stats.FailedSearches)
	}

	return &model.DiscoveryResult{
		RunID:      run.id,
		Verified:   nonNil(verified),
		Unverified: nonNil(unverified),
		Discovered: nonNil(discovered),
		Ranked:     nonNil(ranked),
		Stats:      run.stats,
		Degraded:   run.degraded,
	}, nil
}

// ---------------------------------------------------------------------------
// Track A
// ---------------------------------------------------------------------------

func (s *DiscoveryService) verifyAll(ctx context.Context, run *discoveryRun, suggestions []model.SuggestedReviewer) ([]model.Candidate, []model.Candidate, error) {
	if len(suggestions) == 0 {
		run.emit(model.StageVerification, model.StatusSkipped, "no suggested reviewers", nil)
		return nil, nil, nil
	}
	run.emit(model.StageVerification, model.StatusRunning, fmt.Sprintf("verifying %d suggested reviewers", len(suggestions)), nil)

	results := make([]model.Candidate, len(suggestions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, sug := range suggestions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.verifyCandidate(gctx, run, sug)
			c := &results[i]
			run.emit(model.StageVerification, model.StatusRunning,
				fmt.Sprintf("%s: %s (%d articles)", c.Name, c.Status, c.ArticleCount()),
				map[string]interface{}{"name": c.Name, "status": c.Status, "articles": c.ArticleCount()})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var verified, unverified []model.Candidate
	for _, c := range results {
		if c.Status == model.StatusVerified {
			verified = append(verified, c)
		} else {
			unverified = append(unverified, c)
		}
	}
	run.emit(model.StageVerification, model.StatusDone,
		fmt.Sprintf("%d verified, %d unverified", len(verified), len(unverified)),
		map[string]interface{}{"verified": len(verified), "unverified": len(unverified)})
	return verified, unverified, nil
}

// verifyCandidate 用纯作者查询和消歧查询在各检索源核验一个推荐审稿人
func (s *DiscoveryService) verifyCandidate(ctx context.Context, run *discoveryRun, sug model.SuggestedReviewer) model.Candidate {
	name := utils.ParsePersonName(sug.Name).Display()
	if name == "" {
		name = strings.TrimSpace(sug.Name)
	}
	variants := utils.GenerateNameVariants(sug.Name)
	expertise := sug.Expertise
	if len(expertise) == 0 {
		expertise = run.proposal.ExpertiseTerms()
	}

	c := model.Candidate{
		Name:         name,
		NameVariants: variants,
		Seniority:    sug.Seniority,
		Expertise:    sug.Expertise,
		Reasoning:    sug.Reasoning,
		Concerns:     sug.Concerns,
		Source:       sug.Source,
	}
	if c.Source == "" {
		c.Source = model.SourceUnspecified
	}
	if inst := strings.TrimSpace(sug.Institution); inst != "" {
		c.Affiliation = inst
		c.AffiliationSource = AffiliationFromSuggested
	}

	var plain, disambiguated []model.Article
	var failed []string
	var firstErr error
	searched := 0

	for _, index := range s.cfg.VerifyIndexes {
		if !run.search.Supports(index) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		queryName := QueryName(index, sug.Name)
		if queryName == "" {
			continue
		}
		searched++
		indexFailed := false

		articles, err := run.search.Search(ctx, index, BuildAuthorQuery(index, queryName), s.cfg.AuthorMaxResults)
		run.recordSearch(index, len(articles), err)
		if err != nil {
			indexFailed = true
			if firstErr == nil {
				firstErr = err
			}
		}
		plain = append(plain, articles...)

		if len(expertise) > 0 {
			articles, err = run.search.Search(ctx, index, BuildDisambiguatedAuthorQuery(index, queryName, expertise), s.cfg.AuthorMaxResults)
			run.recordSearch(index, len(articles), err)
			if err != nil {
				indexFailed = true
				if firstErr == nil {
					firstErr = err
				}
			}
			disambiguated = append(disambiguated, articles...)
		}
		if indexFailed {
			failed = append(failed, string(index))
		}
	}

	plain = FilterToMatchingAuthorMultiVariant(Dedupe(plain), variants)
	disambiguated = FilterToMatchingAuthorMultiVariant(Dedupe(disambiguated), variants)
	chosen, tier := SelectArticleSet(disambiguated, plain, expertise, s.cfg.MinPublications)
	c.Articles = chosen

	match := CalculateExpertiseMatch(chosen, expertise)
	count := len(chosen)

	if count >= s.cfg.MinPublications {
		c.Status = model.StatusVerified
		c.Confidence = verifiedConfidence(count, s.cfg.MinPublications, match, tier)
	} else {
		c.Status = model.StatusUnverified
		c.Confidence = verifiedConfidence(count, s.cfg.MinPublications, match, tier) * 0.5
		c.Reason = unverifiedReason(count, s.cfg.MinPublications, searched, failed, firstErr)
	}

	s.log.Debug(ctx, "candidate verified",
		logger.String("name", c.Name),
		logger.String("status", string(c.Status)),
		logger.String("tier", tier),
		logger.Int("articles", count),
		logger.Float64("expertise_match", match))
	return c
}

func unverifiedReason(count, minimum, searched int, failed []string, firstErr error) string {
	var base string
	switch {
	case searched == 0:
		base = "no bibliographic index available for verification"
	case count == 0:
		base = "no matching publications found"
	default:
		base = fmt.Sprintf("only %d matching publications found (minimum %d)", count, minimum)
	}
	if len(failed) == 0 || firstErr == nil {
		return base
	}
	return fmt.Sprintf("bibliographic search failed on %s: %v (%s)", strings.Join(failed, ", "), firstErr, base)
}

// verifiedConfidence 证据量、领域匹配和文献集层级的加权
func verifiedConfidence(count, minimum int, match float64, tier string) float64 {
	evidence := math.Min(float64(count)/float64(2*minimum), 1)
	tierScore := 0.0
	switch tier {
	case TierDisambiguated:
		if count > 0 {
			tierScore = 1
		}
	case TierNarrowed:
		tierScore = 0.5
	}
	return round3(0.4*evidence + 0.4*match + 0.2*tierScore)
}

// discoveredConfidence 主题检索发现的候选人，证据量按最少发表数封顶
func discoveredConfidence(count, minimum int, match float64) float64 {
	if minimum <= 0 {
		minimum = 1
	}
	evidence := math.Min(float64(count)/float64(minimum), 1)
	return round3(0.4*evidence + 0.6*match)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ---------------------------------------------------------------------------
// Track B
// ---------------------------------------------------------------------------

// authorPool 按身份合并主题检索到的作者，并发安全
type authorPool struct {
	mu      sync.Mutex
	buckets map[string][]*poolEntry
	order   int
}

type poolEntry struct {
	person   utils.PersonName
	name     string
	variants []string
	articles []model.Article
	seen     map[string]bool
	foundVia []model.SearchQuery
	first    int
}

func newAuthorPool() *authorPool {
	return &authorPool{buckets: make(map[string][]*poolEntry)}
}

func (p *authorPool) add(author string, person utils.PersonName, article model.Article, via model.SearchQuery) {
	key := person.IdentityKey()

	p.mu.Lock()
	defer p.mu.Unlock()

	var entry *poolEntry
	for _, e := range p.buckets[key] {
		if utils.SameIdentity(e.person, person) {
			entry = e
			break
		}
	}
	if entry == nil {
		entry = p.reordered(author)
	}
	if entry == nil {
		entry = &poolEntry{person: person, name: person.Display(), seen: make(map[string]bool), first: p.order}
		p.order++
		p.buckets[key] = append(p.buckets[key], entry)
	} else if moreComplete(person, entry.person) {
		entry.person = person
		entry.name = person.Display()
	}

	if !containsFold(entry.variants, author) {
		entry.variants = append(entry.variants, author)
	}
	if k := articleKey(article); !entry.seen[k] {
		entry.seen[k] = true
		entry.articles = append(entry.articles, article)
	}
	for _, v := range entry.foundVia {
		if v == via {
			return
		}
	}
	entry.foundVia = append(entry.foundVia, via)
}

// reordered 找名字单词相同、仅先后不同的已有作者，多个时取最早出现的
func (p *authorPool) reordered(author string) *poolEntry {
	var found *poolEntry
	for _, bucket := range p.buckets {
		for _, e := range bucket {
			if found != nil && e.first >= found.first {
				continue
			}
			if utils.SameNameWords(e.name, author) {
				found = e
			}
		}
	}
	return found
}

func (p *authorPool) entries() []*poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*poolEntry
	for _, bucket := range p.buckets {
		out = append(out, bucket...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].first < out[j].first })
	return out
}

// moreComplete 全名优先于缩写，其次名字部分更长
func moreComplete(a, b utils.PersonName) bool {
	if a.HasFullFirst() != b.HasFullFirst() {
		return a.HasFullFirst()
	}
	return len(a.Given) > len(b.Given)
}

func (s *DiscoveryService) discoverAll(ctx context.Context, run *discoveryRun, queries model.SearchQueries, skip []utils.PersonName) ([]model.Candidate, error) {
	if queries.Total() == 0 {
		run.emit(model.StageDiscovery, model.StatusSkipped, "no search queries", nil)
		return nil, nil
	}
	run.emit(model.StageDiscovery, model.StatusRunning, fmt.Sprintf("running %d topic queries", queries.Total()), nil)

	pool := newAuthorPool()
	g, gctx := errgroup.WithContext(ctx)
	for _, index := range model.AllIndexes {
		topics := queries.For(index)
		if len(topics) == 0 {
			continue
		}
		if !run.search.Supports(index) {
			run.degrade("discovery: %s not configured, %d queries skipped", index, len(topics))
			continue
		}
		if len(topics) > s.cfg.MaxQueriesPerIndex {
			topics = topics[:s.cfg.MaxQueriesPerIndex]
		}
		g.Go(func() error {
			// 同一检索源内顺序执行
			for _, topic := range topics {
				if err := gctx.Err(); err != nil {
					return err
				}
				query := BuildTopicQuery(index, topic)
				if query == "" {
					continue
				}
				articles, err := run.search.Search(gctx, index, query, s.cfg.TopicMaxResults)
				run.recordSearch(index, len(articles), err)
				via := model.SearchQuery{Topic: topic, Index: index}
				for _, article := range articles {
					for _, author := range article.Authors {
						person := utils.ParsePersonName(author)
						if person.IsEmpty() || matchesParsed(person, skip) {
							continue
						}
						pool.add(author, person, article, via)
					}
				}
				run.emit(model.StageDiscovery, model.StatusRunning,
					fmt.Sprintf("%s: %q returned %d articles", index, topic, len(articles)),
					map[string]interface{}{"index": index, "topic": topic, "articles": len(articles)})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	expertise := run.proposal.ExpertiseTerms()
	entries := pool.entries()
	candidates := make([]model.Candidate, 0, len(entries))
	for _, e := range entries {
		if len(e.articles) == 0 {
			continue
		}
		match := CalculateExpertiseMatch(e.articles, expertise)
		candidates = append(candidates, model.Candidate{
			Name:         e.name,
			NameVariants: append(utils.GenerateNameVariants(e.name), e.variants...),
			Articles:     e.articles,
			Confidence:   discoveredConfidence(len(e.articles), s.cfg.MinPublications, match),
			Status:       model.StatusDiscovered,
			Source:       model.SourceTopicSearch,
			FoundVia:     e.foundVia,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ArticleCount() != candidates[j].ArticleCount() {
			return candidates[i].ArticleCount() > candidates[j].ArticleCount()
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > s.cfg.MaxDiscovered {
		candidates = candidates[:s.cfg.MaxDiscovered]
	}

	run.emit(model.StageDiscovery, model.StatusDone,
		fmt.Sprintf("%d candidates discovered from %d distinct authors", len(candidates), len(entries)),
		map[string]interface{}{"discovered": len(candidates), "authors": len(entries)})
	return candidates, nil
}

// ---------------------------------------------------------------------------
// 机构补全
// ---------------------------------------------------------------------------

// enrichAffiliations 文献 -> OpenAlex -> LLM推荐时给出的机构
func (s *DiscoveryService) enrichAffiliations(ctx context.Context, run *discoveryRun, groups ...[]model.Candidate) error {
	run.emit(model.StageAffiliation, model.StatusRunning, "resolving affiliations", nil)

	var missing []*model.Candidate
	fromArticles := 0
	for _, group := range groups {
		for i := range group {
			c := &group[i]
			if aff := ExtractBestAffiliationMultiVariant(c.Articles, c.NameVariants); aff != "" {
				c.Affiliation = aff
				c.AffiliationSource = AffiliationFromArticles
				fromArticles++
				continue
			}
			if c.Status != model.StatusUnverified {
				missing = append(missing, c)
			}
		}
	}

	fromOpenAlex := 0
	if s.cfg.EnableOpenAlex && s.institutions != nil && len(missing) > 0 {
		var mu sync.Mutex
		failures := 0
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.MaxConcurrency)
		for _, c := range missing {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				inst, err := s.institutions.LookupInstitution(gctx, c.Name)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures++
					s.log.Debug(gctx, "openalex lookup failed", logger.String("name", c.Name), logger.Error(err))
					return nil
				}
				if inst != "" {
					c.Affiliation = inst
					c.AffiliationSource = AffiliationFromOpenAlex
					fromOpenAlex++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if failures > 0 {
			run.degrade("affiliation: openalex lookup failed for %d candidates", failures)
		}
	}

	run.emit(model.StageAffiliation, model.StatusDone, "affiliations resolved",
		map[string]interface{}{"from_articles": fromArticles, "from_openalex": fromOpenAlex})
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func parseNames(names []string) []utils.PersonName {
	out := make([]utils.PersonName, 0, len(names))
	for _, n := range names {
		if p := utils.ParsePersonName(n); !p.IsEmpty() {
			out = append(out, p)
		}
	}
	return out
}

func matchesParsed(p utils.PersonName, names []utils.PersonName) bool {
	for _, n := range names {
		if utils.SameIdentity(p, n) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func candidatePointers(groups ...[]model.Candidate) []*model.Candidate {
	var out []*model.Candidate
	for _, group := range groups {
		for i := range group {
			out = append(out, &group[i])
		}
	}
	return out
}

func nonNil(c []model.Candidate) []model.Candidate {
	if c == nil {
		return []model.Candidate{}
	}
	return c
}
