package service

import (
	"time"

	"reviewscout/internal/model"
	"reviewscout/internal/utils"
)

// DefaultCOIWindowYears 默认只看近3个日历年（含当年）的合著
const DefaultCOIWindowYears = 3

// COIOptions 利益冲突检查参数
type COIOptions struct {
	// WindowYears 合著时间窗口，<=0表示不限
	WindowYears int
	// Now 当前时间，零值时取time.Now()
	Now time.Time
}

// CheckCoauthorshipsForCandidates 检查候选人与提案作者的合著关系，原地更新候选人
// 未核验或没有文献的候选人跳过；候选人自己的作者位不计入
// 年份未知的文献保守地计入；候选人本身就是提案作者时也标记冲突
// 返回被标记利益冲突的候选人数
func CheckCoauthorshipsForCandidates(candidates []*model.Candidate, proposalAuthors []string, opts COIOptions) int {
	if len(proposalAuthors) == 0 {
		return 0
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	minYear := 0
	if opts.WindowYears > 0 {
		minYear = now.Year() - opts.WindowYears + 1
	}

	authors := make([]utils.PersonName, 0, len(proposalAuthors))
	names := make([]string, 0, len(proposalAuthors))
	for _, a := range proposalAuthors {
		p := utils.ParsePersonName(a)
		if p.IsEmpty() {
			continue
		}
		authors = append(authors, p)
		names = append(names, a)
	}

	flagged := 0
	for _, c := range candidates {
		if c == nil {
			continue
		}
		c.Coauthorships = nil
		c.HasCoauthorCOI = false
		c.IsProposalAuthor = false

		self := utils.ParsePersonName(c.Name)
		for _, pa := range authors {
			if utils.SameIdentity(self, pa) {
				c.IsProposalAuthor = true
				break
			}
		}

		if c.Status == model.StatusUnverified || len(c.Articles) == 0 {
			continue
		}

		variants := c.NameVariants
		if len(variants) == 0 {
			variants = utils.GenerateNameVariants(c.Name)
		}
		matcher := NewAuthorMatcher(variants)

		// 按提案作者统计合著
		type coauthorStats struct {
			count      int
			titles     []string
			latestYear int
		}
		stats := make([]*coauthorStats, len(authors))

		for _, article := range c.Articles {
			if article.Year != 0 && article.Year < minYear {
				continue
			}
			slot := matcher.AuthorSlot(article.Authors)
			counted := make(map[int]bool)
			for i, author := range article.Authors {
				if i == slot {
					continue
				}
				parsed := utils.ParsePersonName(author)
				for j, pa := range authors {
					if counted[j] || !utils.SameIdentity(parsed, pa) {
						continue
					}
					counted[j] = true
					if stats[j] == nil {
						stats[j] = &coauthorStats{}
					}
					stats[j].count++
					stats[j].titles = append(stats[j].titles, article.Title)
					if article.Year > stats[j].latestYear {
						stats[j].latestYear = article.Year
					}
				}
			}
		}

		for j, s := range stats {
			if s == nil {
				continue
			}
			c.Coauthorships = append(c.Coauthorships, model.Coauthorship{
				ProposalAuthor: names[j],
				PaperCount:     s.count,
				PaperTitles:    s.titles,
				LatestYear:     s.latestYear,
			})
		}
		if len(c.Coauthorships) > 0 || c.IsProposalAuthor {
			c.HasCoauthorCOI = true
			flagged++
		}
	}
	return flagged
}
