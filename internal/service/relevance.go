package service

import (
	"strings"
	"unicode"

	"reviewscout/internal/model"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "into": true,
	"is": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"with": true, "via": true, "using": true, "based": true, "its": true,
	"their": true, "this": true, "that": true, "we": true, "our": true,
	"study": true, "studies": true, "analysis": true, "approach": true,
}

// tokenize 小写、按非字母数字切分、去停用词、简单去复数
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, stem(f))
	}
	return tokens
}

func stem(t string) string {
	if len(t) > 4 && strings.HasSuffix(t, "ies") {
		return t[:len(t)-3] + "y"
	}
	if len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
		return t[:len(t)-1]
	}
	return t
}

// corpus 一组文献的文本语料
type corpus struct {
	text   string
	tokens map[string]bool
}

func newCorpus(articles []model.Article) *corpus {
	var b strings.Builder
	for _, a := range articles {
		b.WriteString(a.Title)
		b.WriteString(" ")
		b.WriteString(a.Abstract)
		b.WriteString(" ")
		b.WriteString(strings.Join(a.Terms, " "))
		b.WriteString(" ")
	}
	text := strings.ToLower(b.String())
	c := &corpus{text: " " + strings.Join(strings.Fields(text), " ") + " ", tokens: make(map[string]bool)}
	for _, t := range tokenize(text) {
		c.tokens[t] = true
	}
	return c
}

// covers 领域短语整体出现，或至少一半实词出现
func (c *corpus) covers(area string) bool {
	phrase := strings.Join(strings.Fields(strings.ToLower(area)), " ")
	if phrase == "" {
		return false
	}
	if strings.Contains(c.text, phrase) {
		return true
	}
	tokens := tokenize(area)
	if len(tokens) == 0 {
		return false
	}
	hit := 0
	for _, t := range tokens {
		if c.tokens[t] {
			hit++
		}
	}
	return hit*2 >= len(tokens)
}

// CalculateExpertiseMatch 文献与领域的匹配度：命中的领域数 / 领域总数，范围[0,1]
// 没有领域或没有文献时返回0
func CalculateExpertiseMatch(articles []model.Article, expertiseAreas []string) float64 {
	areas := nonEmpty(expertiseAreas)
	if len(areas) == 0 || len(articles) == 0 {
		return 0
	}
	c := newCorpus(articles)
	matched := 0
	for _, area := range areas {
		if c.covers(area) {
			matched++
		}
	}
	score := float64(matched) / float64(len(areas))
	if score > 1 {
		score = 1
	}
	return score
}

// ArticleMatchesExpertise 单篇文献是否命中任一领域
func ArticleMatchesExpertise(article model.Article, expertiseAreas []string) bool {
	c := newCorpus([]model.Article{article})
	for _, area := range nonEmpty(expertiseAreas) {
		if c.covers(area) {
			return true
		}
	}
	return false
}

func nonEmpty(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
