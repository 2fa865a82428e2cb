package service

import (
	"strings"

	"reviewscout/internal/model"
	"reviewscout/internal/utils"
)

// 文献集选择层级
const (
	TierDisambiguated = "disambiguated"
	TierNarrowed      = "narrowed"
	TierPlain         = "plain"
)

// AuthorMatcher 预解析一组名字变体，用于在作者列表中识别同一个人
type AuthorMatcher struct {
	canonical utils.PersonName
	name      string
	exact     map[string]bool
}

// NewAuthorMatcher 以信息量最大的变体为准做身份比较，其余变体做精确匹配
func NewAuthorMatcher(variants []string) *AuthorMatcher {
	m := &AuthorMatcher{exact: make(map[string]bool)}
	bestScore := -1
	for _, v := range variants {
		key := utils.NormalizeNameKey(v)
		if key == "" {
			continue
		}
		m.exact[key] = true

		p := utils.ParsePersonName(v)
		if p.IsEmpty() {
			continue
		}
		score := len(p.Given)
		if p.HasFullFirst() {
			score += 10
		}
		if score > bestScore {
			bestScore = score
			m.canonical = p
			m.name = v
		}
	}
	return m
}

// Matches 作者名是否指向该候选人
func (m *AuthorMatcher) Matches(author string) bool {
	if author == "" {
		return false
	}
	if m.exact[utils.NormalizeNameKey(author)] {
		return true
	}
	if utils.SameIdentity(m.canonical, utils.ParsePersonName(author)) {
		return true
	}
	// 姓在前的全名写法 "Zhang Wei"
	return utils.SameNameWords(m.name, author)
}

// AuthorSlot 候选人在作者列表中的位置，找不到返回-1
func (m *AuthorMatcher) AuthorSlot(authors []string) int {
	for i, a := range authors {
		if m.Matches(a) {
			return i
		}
	}
	return -1
}

// FilterToMatchingAuthorMultiVariant 只保留作者列表中有该候选人的文献
func FilterToMatchingAuthorMultiVariant(articles []model.Article, variants []string) []model.Article {
	out := make([]model.Article, 0, len(articles))
	if len(variants) == 0 {
		return out
	}
	matcher := NewAuthorMatcher(variants)
	for _, a := range articles {
		if matcher.AuthorSlot(a.Authors) >= 0 {
			out = append(out, a)
		}
	}
	return out
}

// articleKey 去重键：优先ID，否则检索源+标题
func articleKey(a model.Article) string {
	if id := strings.TrimSpace(a.ID); id != "" {
		return "id|" + strings.ToLower(id)
	}
	title := strings.ToLower(strings.Join(strings.Fields(a.Title), " "))
	return "title|" + string(a.Index) + "|" + title
}

// Dedupe 去重，保留第一次出现的文献；幂等
func Dedupe(articles []model.Article) []model.Article {
	seen := make(map[string]bool, len(articles))
	out := make([]model.Article, 0, len(articles))
	for _, a := range articles {
		key := articleKey(a)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// SelectArticleSet 三级选择：
//  1. 消歧查询结果数量达到阈值时直接使用
//  2. 否则用纯作者查询结果中与领域相关的文献，达到阈值时使用
//  3. 否则取两者中较大的原始集合（相等时取消歧结果）
func SelectArticleSet(disambiguated, plain []model.Article, expertise []string, threshold int) ([]model.Article, string) {
	if len(disambiguated) >= threshold && len(disambiguated) > 0 {
		return disambiguated, TierDisambiguated
	}

	if len(expertise) > 0 {
		narrowed := make([]model.Article, 0, len(plain))
		for _, a := range plain {
			if ArticleMatchesExpertise(a, expertise) {
				narrowed = append(narrowed, a)
			}
		}
		if len(narrowed) >= threshold && len(narrowed) > 0 {
			return narrowed, TierNarrowed
		}
	}

	if len(plain) > len(disambiguated) {
		return plain, TierPlain
	}
	return disambiguated, TierDisambiguated
}
