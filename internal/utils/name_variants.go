package utils

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// 名字前缀称谓（只在开头剥离）
var namePrefixes = map[string]bool{
	"dr": true, "prof": true, "professor": true, "mr": true, "mrs": true,
	"ms": true, "mx": true, "sir": true, "dame": true, "assoc": true,
}

// 名字后缀学位/辈分
var nameSuffixes = map[string]bool{
	"phd": true, "ph.d": true, "md": true, "m.d": true, "dphil": true,
	"msc": true, "bsc": true, "mba": true, "jr": true, "sr": true,
	"ii": true, "iii": true, "iv": true, "frs": true, "facs": true,
}

// 姓氏前置小品词
var surnameParticles = map[string]bool{
	"van": true, "von": true, "de": true, "der": true, "den": true,
	"da": true, "di": true, "du": true, "del": true, "della": true,
	"la": true, "le": true, "bin": true, "al": true, "el": true,
	"dos": true, "das": true, "ter": true, "ten": true, "st": true,
}

// 全大写时会被误认成PubMed首字母的常见短姓氏 "Wei LI"
// MA、HE 作为首字母更常见，不列入
var shortSurnames = map[string]bool{
	"LI": true, "WU": true, "XU": true, "HU": true, "YU": true, "LU": true,
	"DU": true, "GU": true, "SU": true, "QU": true, "NG": true, "HO": true,
	"OH": true, "WEI": true, "LIU": true, "ZHU": true, "SUN": true, "LIN": true,
	"GAO": true, "GUO": true, "LUO": true, "TAN": true, "YAN": true, "PAN": true,
	"FAN": true, "HAN": true, "XIE": true, "CAI": true, "DAI": true, "YAO": true,
	"QIN": true, "KIM": true, "LEE": true, "LIM": true, "LAU": true, "LAM": true,
	"ONG": true, "KOH": true, "GOH": true, "TEO": true, "YIP": true, "PAK": true,
}

// 无法通过NFD分解的字母
var foldReplacer = strings.NewReplacer(
	"ø", "o", "Ø", "O", "ß", "ss", "ł", "l", "Ł", "L",
	"æ", "ae", "Æ", "AE", "œ", "oe", "Œ", "OE", "đ", "d", "Đ", "D", "ı", "i",
)

var (
	citationMarkRe = regexp.MustCompile(`\[\d+\]|\(.*?\)|\*`)
	// PubMed 作者格式 "Smith JQ" 的首字母段
	pubmedInitialsRe = regexp.MustCompile(`^[A-Z]{1,3}$`)
	// 连写的首字母 "J.Q." / "J.-P."
	dottedInitialsRe = regexp.MustCompile(`^(?:\p{Lu}\.-?){2,}$`)
)

// PersonName 解析后的人名
type PersonName struct {
	Raw     string
	Given   []string // 名（完整单词或单个首字母）
	Surname string
}

// FoldASCII 去除变音符号，"José Müller" -> "Jose Muller"
func FoldASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return foldReplacer.Replace(out)
}

// ParsePersonName 解析人名，支持 "Last, First"、PubMed "Last FM"、"First M. Last" 格式
func ParsePersonName(raw string) PersonName {
	p := PersonName{Raw: raw}
	s := citationMarkRe.ReplaceAllString(raw, " ")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return p
	}

	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	// 去掉逗号后的学位后缀 "Jane Smith, PhD"
	for len(parts) > 1 && isSuffixPart(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}

	if len(parts) >= 2 && parts[1] != "" {
		surnameTokens := stripPrefixes(strings.Fields(parts[0]))
		p.Surname = strings.Join(surnameTokens, " ")
		p.Given = splitGiven(stripPrefixes(strings.Fields(parts[1])))
		return p
	}

	tokens := stripPrefixes(strings.Fields(parts[0]))
	tokens = stripTrailingSuffixes(tokens)
	if len(tokens) == 0 {
		return p
	}
	if len(tokens) == 1 {
		p.Surname = strings.Trim(tokens[0], ".")
		return p
	}

	// PubMed格式：最后一个token是大写首字母，常见短姓氏除外
	last := tokens[len(tokens)-1]
	if pubmedInitialsRe.MatchString(last) && !shortSurnames[last] {
		p.Surname = strings.Join(tokens[:len(tokens)-1], " ")
		for _, r := range last {
			p.Given = append(p.Given, string(r))
		}
		return p
	}

	start := len(tokens) - 1
	for start > 1 && surnameParticles[strings.ToLower(tokens[start-1])] {
		start--
	}
	p.Surname = strings.Join(tokens[start:], " ")
	p.Given = splitGiven(tokens[:start])
	return p
}

func stripPrefixes(tokens []string) []string {
	for len(tokens) > 1 && namePrefixes[strings.ToLower(strings.Trim(tokens[0], "."))] {
		tokens = tokens[1:]
	}
	return tokens
}

func stripTrailingSuffixes(tokens []string) []string {
	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		core := strings.ToLower(strings.Trim(last, "."))
		// "Smith MD" 在PubMed里是首字母，不当作学位
		if !nameSuffixes[core] || pubmedInitialsRe.MatchString(last) && core != "ii" && core != "iii" && core != "iv" {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func isSuffixPart(part string) bool {
	fields := strings.Fields(part)
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if !nameSuffixes[strings.ToLower(strings.Trim(f, "."))] {
			return false
		}
	}
	return true
}

// splitGiven 把名拆成完整单词或首字母
func splitGiven(tokens []string) []string {
	var given []string
	for _, t := range tokens {
		switch {
		case dottedInitialsRe.MatchString(t):
			for _, r := range t {
				if unicode.IsUpper(r) {
					given = append(given, string(r))
				}
			}
		case pubmedInitialsRe.MatchString(t) && len(t) > 1:
			// "JQ Smith"
			for _, r := range t {
				given = append(given, string(r))
			}
		default:
			w := strings.Trim(t, ".")
			if w != "" {
				given = append(given, w)
			}
		}
	}
	return given
}

// IsEmpty 是否没有解析出任何内容
func (p PersonName) IsEmpty() bool {
	return p.Surname == ""
}

// First 第一个名（可能只是首字母）
func (p PersonName) First() string {
	if len(p.Given) == 0 {
		return ""
	}
	return p.Given[0]
}

// HasFullFirst 第一个名是否为完整单词
func (p PersonName) HasFullFirst() bool {
	return len([]rune(p.First())) > 1
}

// Initials 所有名的首字母（大写），连字符名字展开 "Jean-Pierre" -> "JP"
func (p PersonName) Initials() string {
	var b strings.Builder
	for _, g := range p.Given {
		for _, piece := range strings.Split(g, "-") {
			if r := []rune(FoldASCII(piece)); len(r) > 0 {
				b.WriteRune(unicode.ToUpper(r[0]))
			}
		}
	}
	return b.String()
}

// splitInitials 拆出第一个首字母和其余首字母
func splitInitials(initials string) (string, string) {
	r := []rune(initials)
	if len(r) == 0 {
		return "", ""
	}
	return string(r[:1]), string(r[1:])
}

// Display 规范展示形式 "Jane Q. Smith"
func (p PersonName) Display() string {
	if p.IsEmpty() {
		return strings.TrimSpace(p.Raw)
	}
	var parts []string
	for _, g := range p.Given {
		if len([]rune(g)) == 1 {
			parts = append(parts, g+".")
		} else {
			parts = append(parts, g)
		}
	}
	parts = append(parts, p.Surname)
	return strings.Join(parts, " ")
}

// surnameKey 比较用的姓氏键：去变音、小写、忽略空格连字符和撇号
func surnameKey(s string) string {
	s = strings.ToLower(FoldASCII(s))
	return strings.NewReplacer(" ", "", "-", "", "'", "", "’", "").Replace(s)
}

// IdentityKey 分桶用的粗粒度键（姓+首字母）
func (p PersonName) IdentityKey() string {
	if p.IsEmpty() {
		return ""
	}
	firstInitial, _ := splitInitials(p.Initials())
	if firstInitial == "" {
		return surnameKey(p.Surname)
	}
	return surnameKey(p.Surname) + "|" + firstInitial
}

// GenerateNameVariants 生成检索和匹配用的名字变体，有序且大小写不敏感去重
func GenerateNameVariants(name string) []string {
	p := ParsePersonName(name)
	if p.IsEmpty() {
		if t := strings.TrimSpace(name); t != "" {
			return []string{t}
		}
		return []string{}
	}
	if len(p.Given) == 0 {
		return dedupeFold([]string{p.Surname})
	}

	initials := p.Initials()
	first := p.First()
	firstInitial, _ := splitInitials(initials)
	// 中间名只取第二个名起，"Jean-Pierre" 的P不是中间名
	var middleDotted []string
	for _, g := range p.Given[1:] {
		if r := []rune(FoldASCII(g)); len(r) > 0 {
			middleDotted = append(middleDotted, string(unicode.ToUpper(r[0]))+".")
		}
	}
	var allDotted []string
	for _, r := range initials {
		allDotted = append(allDotted, string(r)+".")
	}

	var variants []string
	variants = append(variants, p.Display())
	if p.HasFullFirst() {
		variants = append(variants, first+" "+p.Surname)
		if len(middleDotted) > 0 {
			variants = append(variants, first+" "+strings.Join(middleDotted, " ")+" "+p.Surname)
		}
	}
	variants = append(variants,
		strings.Join(allDotted, " ")+" "+p.Surname,
		firstInitial+". "+p.Surname,
		p.Surname+" "+initials,
		p.Surname+" "+firstInitial,
	)
	if p.HasFullFirst() {
		variants = append(variants, p.Surname+", "+first)
	}
	return dedupeFold(variants)
}

// dedupeFold 去重并补充去变音形式
func dedupeFold(variants []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(variants)*2)
	add := func(v string) {
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, v)
	}
	for _, v := range variants {
		add(v)
	}
	for _, v := range variants {
		add(FoldASCII(v))
	}
	return out
}

// SameIdentity 判断两个解析后的名字是否为同一个人
// 要求：姓相同、首字母相同、两边都有完整名时名相同、中间名首字母兼容
func SameIdentity(a, b PersonName) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return false
	}
	if surnameKey(a.Surname) != surnameKey(b.Surname) {
		return false
	}
	ia, ib := a.Initials(), b.Initials()
	if ia == "" || ib == "" {
		return ia == ib
	}
	fa, ma := splitInitials(ia)
	fb, mb := splitInitials(ib)
	if fa != fb {
		return false
	}
	if a.HasFullFirst() && b.HasFullFirst() {
		if !strings.EqualFold(FoldASCII(a.First()), FoldASCII(b.First())) {
			return false
		}
	}
	return ma == "" || mb == "" || strings.HasPrefix(ma, mb) || strings.HasPrefix(mb, ma)
}

// NamesMatch 两个原始名字字符串是否指向同一个人
func NamesMatch(a, b string) bool {
	return SameIdentity(ParsePersonName(a), ParsePersonName(b))
}

// NormalizeNameKey 精确比较用的归一化形式
func NormalizeNameKey(s string) string {
	s = strings.ToLower(FoldASCII(s))
	s = strings.NewReplacer(".", " ", ",", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
