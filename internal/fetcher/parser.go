package fetcher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"reviewscout/internal/model"
)

var (
	// bioRxiv DOI 中带发布日期: 10.1101/2021.03.04.433868
	biorxivDOIRe = regexp.MustCompile(`10\.1101/((?:19|20)\d{2})\.\d{2}\.\d{2}\.\d+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// stripMarkup 去除标题/摘要中的内联标记（<i>、<sup>等）并反转义实体
func stripMarkup(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return cleanText(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return cleanText(s)
	}
	return cleanText(doc.Text())
}

// cleanText 合并多余空白
func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// parseBiorxivResults 解析bioRxiv搜索结果页
func parseBiorxivResults(html string, maxResults int) ([]model.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	articles := make([]model.Article, 0)
	doc.Find("li.search-result").Each(func(i int, s *goquery.Selection) {
		if maxResults > 0 && len(articles) >= maxResults {
			return
		}

		titleSel := s.Find(".highwire-cite-title").First()
		title := cleanText(titleSel.Text())
		if title == "" {
			return
		}

		href, _ := s.Find("a.highwire-cite-linked-title").First().Attr("href")
		doiText := cleanText(s.Find(".highwire-cite-metadata-doi").First().Text())

		article := model.Article{
			Index: model.IndexBiorxiv,
			Title: title,
		}

		doi := ""
		if m := biorxivDOIRe.FindStringSubmatch(doiText + " " + href); m != nil {
			doi = m[0]
			article.Year, _ = strconv.Atoi(m[1])
		}
		switch {
		case doi != "":
			article.ID = "doi:" + doi
			article.URL = "https://doi.org/" + doi
		case href != "":
			article.ID = "biorxiv:" + href
		}
		if href != "" {
			if strings.HasPrefix(href, "/") {
				href = "https://www.biorxiv.org" + href
			}
			article.URL = href
		}

		s.Find(".highwire-citation-author").Each(func(j int, a *goquery.Selection) {
			given := cleanText(a.Find(".nlm-given-names").Text())
			surname := cleanText(a.Find(".nlm-surname").Text())
			name := strings.TrimSpace(given + " " + surname)
			if name == "" {
				name = cleanText(a.Text())
			}
			if name != "" {
				article.Authors = append(article.Authors, name)
			}
		})

		articles = append(articles, article)
	})

	return articles, nil
}
