package service

import (
	"regexp"
	"strings"

	"reviewscout/internal/model"
)

// 机构来源
const (
	AffiliationFromArticles  = "articles"
	AffiliationFromOpenAlex  = "openalex"
	AffiliationFromSuggested = "suggested"
)

var (
	electronicAddressRe = regexp.MustCompile(`(?i)[;,.]?\s*electronic address:.*$`)
	emailRe             = regexp.MustCompile(`\S+@\S+`)
)

// cleanAffiliation 去掉邮箱和"Electronic address"尾巴
func cleanAffiliation(aff string) string {
	aff = electronicAddressRe.ReplaceAllString(aff, "")
	aff = emailRe.ReplaceAllString(aff, "")
	aff = strings.Join(strings.Fields(aff), " ")
	return strings.Trim(aff, " ,;.")
}

// ExtractBestAffiliationMultiVariant 从文献中提取候选人最常出现的机构
// 优先使用候选人自己作者位上的机构；检索源不提供逐作者机构时退回文献级机构
// 出现次数相同时取年份最新的；没有任何机构时返回空字符串
func ExtractBestAffiliationMultiVariant(articles []model.Article, variants []string) string {
	if len(articles) == 0 || len(variants) == 0 {
		return ""
	}
	matcher := NewAuthorMatcher(variants)

	type affStats struct {
		display    string
		count      int
		latestYear int
		order      int
	}
	stats := make(map[string]*affStats)

	for _, a := range articles {
		slot := matcher.AuthorSlot(a.Authors)
		if slot < 0 {
			continue
		}

		raw := ""
		if len(a.AuthorAffiliations) > 0 {
			if slot < len(a.AuthorAffiliations) {
				raw = a.AuthorAffiliations[slot]
			}
		} else {
			raw = a.Affiliation
		}

		aff := cleanAffiliation(raw)
		if aff == "" {
			continue
		}
		key := strings.ToLower(aff)
		s := stats[key]
		if s == nil {
			s = &affStats{display: aff, order: len(stats)}
			stats[key] = s
		}
		s.count++
		if a.Year > s.latestYear {
			s.latestYear = a.Year
		}
	}

	var best *affStats
	for _, s := range stats {
		switch {
		case best == nil:
			best = s
		case s.count != best.count:
			if s.count > best.count {
				best = s
			}
		case s.latestYear != best.latestYear:
			if s.latestYear > best.latestYear {
				best = s
			}
		case s.order < best.order:
			best = s
		}
	}
	if best == nil {
		return ""
	}
	return best.display
}
