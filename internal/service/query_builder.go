package service

import (
	"regexp"
	"strings"

	"reviewscout/internal/model"
	"reviewscout/internal/utils"
)

// MaxDisambiguationTerms 消歧查询最多附加的领域词数量
const MaxDisambiguationTerms = 3

var (
	// LLM生成的主题常带编号或引号
	topicNumberingRe = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)
	fieldSyntaxRe    = regexp.MustCompile(`\[[A-Za-z/ ]+\]|\b(?:au|ti|abs|all|cat):|\bAND\b|\bOR\b`)
)

// QueryName 各检索源偏好的作者名写法：PubMed用 "Smith JQ"，其他用 "Jane Smith"
func QueryName(index model.Index, name string) string {
	p := utils.ParsePersonName(name)
	if p.IsEmpty() {
		return strings.TrimSpace(name)
	}
	if len(p.Given) == 0 {
		return p.Surname
	}
	if index == model.IndexPubMed {
		return p.Surname + " " + p.Initials()
	}
	if p.HasFullFirst() {
		return p.First() + " " + p.Surname
	}
	if initials := []rune(p.Initials()); len(initials) > 0 {
		return string(initials[:1]) + " " + p.Surname
	}
	return p.Surname
}

// BuildAuthorQuery 纯作者查询
func BuildAuthorQuery(index model.Index, nameVariant string) string {
	name := cleanQueryTerm(nameVariant)
	switch index {
	case model.IndexPubMed:
		return `"` + name + `"[Author]`
	case model.IndexArxiv:
		return `au:"` + name + `"`
	case model.IndexBiorxiv:
		return "author1:" + name
	}
	return name
}

// BuildDisambiguatedAuthorQuery 作者 AND (领域词1 OR 领域词2 ...)，最多3个领域词
func BuildDisambiguatedAuthorQuery(index model.Index, nameVariant string, expertise []string) string {
	author := BuildAuthorQuery(index, nameVariant)
	terms := cleanTerms(expertise, MaxDisambiguationTerms)
	if len(terms) == 0 {
		return author
	}

	switch index {
	case model.IndexPubMed:
		clauses := make([]string, len(terms))
		for i, t := range terms {
			clauses[i] = `"` + t + `"[Title/Abstract]`
		}
		return author + " AND (" + strings.Join(clauses, " OR ") + ")"
	case model.IndexArxiv:
		clauses := make([]string, len(terms))
		for i, t := range terms {
			clauses[i] = `all:"` + t + `"`
		}
		return author + " AND (" + strings.Join(clauses, " OR ") + ")"
	case model.IndexBiorxiv:
		return author + " abstract_title:" + strings.Join(terms, " ") + " abstract_title_flags:match-any"
	}
	return author + " " + strings.Join(terms, " ")
}

// BuildTopicQuery 主题查询；已经带检索语法的主题原样保留
func BuildTopicQuery(index model.Index, topic string) string {
	topic = CleanTopic(topic)
	if topic == "" {
		return ""
	}
	if fieldSyntaxRe.MatchString(topic) {
		return topic
	}

	switch index {
	case model.IndexPubMed:
		if strings.Contains(topic, " ") {
			return `"` + strings.ReplaceAll(topic, `"`, "") + `"[Title/Abstract]`
		}
		return topic + "[Title/Abstract]"
	case model.IndexArxiv:
		return `all:"` + strings.ReplaceAll(topic, `"`, "") + `"`
	case model.IndexBiorxiv:
		return "abstract_title:" + strings.ReplaceAll(topic, `"`, "") + " abstract_title_flags:match-all"
	}
	return topic
}

// CleanTopic 去掉编号、多余引号和空白
func CleanTopic(topic string) string {
	topic = topicNumberingRe.ReplaceAllString(topic, "")
	topic = strings.TrimSpace(topic)
	// 整体被引号包住时去掉外层引号
	if len(topic) >= 2 && strings.HasPrefix(topic, `"`) && strings.HasSuffix(topic, `"`) && strings.Count(topic, `"`) == 2 {
		topic = topic[1 : len(topic)-1]
	}
	return strings.Join(strings.Fields(topic), " ")
}

func cleanQueryTerm(s string) string {
	s = strings.NewReplacer(`"`, "", "[", "", "]", "", "(", "", ")", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func cleanTerms(terms []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range terms {
		t = cleanQueryTerm(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}
