package utils

import (
	"sort"
	"strings"
	"unicode"
)

// NameWords 名字里的完整单词，去变音小写后排序
// 连字符名字拆开；称谓、学位、引用标记和单字母首字母都不计
func NameWords(raw string) []string {
	s := citationMarkRe.ReplaceAllString(raw, " ")
	s = strings.NewReplacer(",", " ", "-", " ").Replace(s)
	tokens := stripTrailingSuffixes(stripPrefixes(strings.Fields(s)))

	var words []string
	for _, t := range tokens {
		if pubmedInitialsRe.MatchString(t) || dottedInitialsRe.MatchString(t) {
			// "JQ" "J.Q." 是首字母，"Li" "LI" 这类姓氏例外
			if !shortSurnames[strings.ToUpper(t)] {
				continue
			}
		}
		var b strings.Builder
		for _, r := range FoldASCII(t) {
			if unicode.IsLetter(r) || r == '\'' {
				b.WriteRune(unicode.ToLower(r))
			}
		}
		if w := b.String(); len(w) > 1 && !nameSuffixes[w] {
			words = append(words, w)
		}
	}
	sort.Strings(words)
	return words
}

// SameNameWords 两个名字由同一组完整单词组成，不论先后
// 用来认出姓在前的写法："Zhang Wei" 与 "Wei Zhang"；两边都至少要有两个完整单词
func SameNameWords(a, b string) bool {
	wa, wb := NameWords(a), NameWords(b)
	if len(wa) < 2 || len(wa) != len(wb) {
		return false
	}
	for i := range wa {
		if wa[i] != wb[i] {
			return false
		}
	}
	return true
}
