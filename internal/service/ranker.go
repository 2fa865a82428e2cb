package service

import (
	"sort"
	"strings"

	"reviewscout/internal/model"
	"reviewscout/internal/utils"
)

// RankWeights 综合得分权重
type RankWeights struct {
	VerifiedBoost    float64
	KeywordBoost     float64
	KeywordThreshold float64
	// NotRelevantFactor LLM明确判断不相关时的得分系数
	NotRelevantFactor float64
}

// DefaultRankWeights 默认权重
func DefaultRankWeights() RankWeights {
	return RankWeights{
		VerifiedBoost:     0.2,
		KeywordBoost:      0.1,
		KeywordThreshold:  0.5,
		NotRelevantFactor: 0.5,
	}
}

// CompositeScore 计算候选人综合得分
func CompositeScore(c *model.Candidate, keywords []string, w RankWeights) float64 {
	score := c.Confidence
	if c.Status == model.StatusVerified {
		score += w.VerifiedBoost
	}
	if len(keywords) > 0 && len(c.Articles) > 0 && CalculateExpertiseMatch(c.Articles, keywords) >= w.KeywordThreshold {
		score += w.KeywordBoost
	}
	if c.Relevant != nil && !*c.Relevant {
		score *= w.NotRelevantFactor
	}
	return score
}

// RankAllCandidates 合并三类候选人并排序
// 同一身份只保留状态最好的一条；未核验的候选人始终排在已核验和发现的候选人之后
func RankAllCandidates(verified, discovered, unverified []model.Candidate, keywords []string, w RankWeights) []model.Candidate {
	all := make([]model.Candidate, 0, len(verified)+len(discovered)+len(unverified))
	all = append(all, verified...)
	all = append(all, discovered...)
	all = append(all, unverified...)

	for i := range all {
		all[i].CompositeScore = CompositeScore(&all[i], keywords, w)
	}

	merged := mergeByIdentity(all)

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := &merged[i], &merged[j]
		aUnverified := a.Status == model.StatusUnverified
		bUnverified := b.Status == model.StatusUnverified
		if aUnverified != bUnverified {
			return !aUnverified
		}
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.Status.Rank() != b.Status.Rank() {
			return a.Status.Rank() < b.Status.Rank()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.ArticleCount() != b.ArticleCount() {
			return a.ArticleCount() > b.ArticleCount()
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return merged
}

// mergeByIdentity 同一身份的候选人合并为一条，保留状态更好（其次得分更高）的记录
func mergeByIdentity(candidates []model.Candidate) []model.Candidate {
	out := make([]model.Candidate, 0, len(candidates))
	parsed := make([]utils.PersonName, 0, len(candidates))

	for _, c := range candidates {
		p := utils.ParsePersonName(c.Name)
		dup := -1
		for i := range out {
			if utils.SameIdentity(parsed[i], p) {
				dup = i
				break
			}
		}
		if dup == -1 {
			out = append(out, c)
			parsed = append(parsed, p)
			continue
		}
		if better(&c, &out[dup]) {
			c.HasCoauthorCOI = c.HasCoauthorCOI || out[dup].HasCoauthorCOI
			c.IsProposalAuthor = c.IsProposalAuthor || out[dup].IsProposalAuthor
			out[dup] = c
			parsed[dup] = p
		} else {
			out[dup].HasCoauthorCOI = out[dup].HasCoauthorCOI || c.HasCoauthorCOI
			out[dup].IsProposalAuthor = out[dup].IsProposalAuthor || c.IsProposalAuthor
		}
	}
	return out
}

func better(a, b *model.Candidate) bool {
	if a.Status.Rank() != b.Status.Rank() {
		return a.Status.Rank() < b.Status.Rank()
	}
	return a.CompositeScore > b.CompositeScore
}
