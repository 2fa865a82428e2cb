package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <title type="html">ArXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2301.01234v2</id>
    <published>2023-01-03T18:00:00Z</published>
    <title>Diffusion Models for
      Protein Design</title>
    <summary>  We study generative models
      for proteins. </summary>
    <author><name>Jane Smith</name><arxiv:affiliation>Stanford University</arxiv:affiliation></author>
    <author><name>Wei Zhang</name></author>
    <category term="q-bio.BM" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2201.00001v1</id>
    <published>2022-01-01T00:00:00Z</published>
    <title>Another</title>
    <summary>Text</summary>
    <author><name>Jane Smith</name></author>
  </entry>
</feed>`

func TestParseArxivFeed(t *testing.T) {
	articles, err := parseArxivFeed([]byte(arxivFixture))
	if err != nil {
		t.Fatalf("parseArxivFeed error: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("got %d articles, want 2", len(articles))
	}

	a := articles[0]
	if a.ID != "arxiv:2301.01234" || a.Year != 2023 {
		t.Errorf("id/year = %s/%d", a.ID, a.Year)
	}
	if a.Title != "Diffusion Models for Protein Design" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Abstract != "We study generative models for proteins." {
		t.Errorf("abstract = %q", a.Abstract)
	}
	if len(a.AuthorAffiliations) != 2 || a.AuthorAffiliations[0] != "Stanford University" {
		t.Errorf("affiliations = %v", a.AuthorAffiliations)
	}
	if a.Affiliation != "Stanford University" {
		t.Errorf("affiliation = %q", a.Affiliation)
	}
	if len(a.Terms) != 2 || a.Terms[0] != "q-bio.BM" {
		t.Errorf("terms = %v", a.Terms)
	}
	if articles[1].AuthorAffiliations != nil {
		t.Errorf("expected nil affiliations, got %v", articles[1].AuthorAffiliations)
	}
}

func TestExtractArxivID(t *testing.T) {
	testCases := map[string]string{
		"http://arxiv.org/abs/2301.01234v2":   "2301.01234",
		"http://arxiv.org/abs/hep-th/9901001": "hep-th/9901001",
		"http://arxiv.org/api/errors#bad":     "",
	}
	for in, want := range testCases {
		if got := extractArxivID(in); got != want {
			t.Errorf("extractArxivID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArxivFetcherSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search_query"); got != `au:"Jane Smith"` {
			t.Errorf("search_query = %q", got)
		}
		w.Write([]byte(arxivFixture))
	}))
	defer server.Close()

	articles, err := NewArxivFetcher().WithBaseURL(server.URL).Search(context.Background(), `au:"Jane Smith"`, 10)
	if err != nil || len(articles) != 2 {
		t.Fatalf("Search = %d articles, %v", len(articles), err)
	}
}

const biorxivFixture = `<html><body>
<ul class="highwire-search-results-list">
  <li class="first search-result search-result-highwire-citation">
    <div class="highwire-cite">
      <span class="highwire-cite-title"><a class="highwire-cite-linked-title" href="/content/10.1101/2021.03.04.433868v1"><span class="highwire-cite-title">Single-cell atlas of the mouse retina</span></a></span>
      <div class="highwire-cite-authors"><span class="highwire-citation-authors">
        <span class="highwire-citation-author first"><span class="nlm-given-names">Jane Q.</span> <span class="nlm-surname">Smith</span></span>,
        <span class="highwire-citation-author"><span class="nlm-given-names">Ana</span> <span class="nlm-surname">García</span></span>
      </span></div>
      <div class="highwire-cite-metadata"><span class="highwire-cite-metadata-doi">doi: https://doi.org/10.1101/2021.03.04.433868</span></div>
    </div>
  </li>
  <li class="search-result">
    <span class="highwire-cite-title"><a class="highwire-cite-linked-title" href="/content/10.1101/2020.05.01.000001v2">Retinal ganglion cells</a></span>
    <span class="highwire-citation-author"><span class="nlm-given-names">Jane</span> <span class="nlm-surname">Smith</span></span>
  </li>
</ul></body></html>`

func TestParseBiorxivResults(t *testing.T) {
	articles, err := parseBiorxivResults(biorxivFixture, 10)
	if err != nil {
		t.Fatalf("parseBiorxivResults error: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("got %d articles, want 2", len(articles))
	}

	a := articles[0]
	if a.Title != "Single-cell atlas of the mouse retina" {
		t.Errorf("title = %q", a.Title)
	}
	if a.ID != "doi:10.1101/2021.03.04.433868" || a.Year != 2021 {
		t.Errorf("id/year = %s/%d", a.ID, a.Year)
	}
	if len(a.Authors) != 2 || a.Authors[0] != "Jane Q. Smith" || a.Authors[1] != "Ana García" {
		t.Errorf("authors = %v", a.Authors)
	}
	if articles[1].Year != 2020 {
		t.Errorf("second year = %d", articles[1].Year)
	}

	limited, _ := parseBiorxivResults(biorxivFixture, 1)
	if len(limited) != 1 {
		t.Errorf("maxResults not honored: %d", len(limited))
	}
}

func TestOpenAlexLookupInstitution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/authors") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"results":[
			{"display_name":"John Smith","works_count":500,"last_known_institutions":[{"display_name":"MIT"}]},
			{"display_name":"Jane Q. Smith","works_count":40,"last_known_institutions":[{"display_name":"Broad Institute"}]},
			{"display_name":"Jane Smith","works_count":90,"last_known_institution":{"display_name":"Harvard University"}}
		]}`))
	}))
	defer server.Close()

	o := NewOpenAlexFetcher("ops@example.org").WithBaseURL(server.URL)
	inst, err := o.LookupInstitution(context.Background(), "Jane Q. Smith")
	if err != nil {
		t.Fatalf("LookupInstitution error: %v", err)
	}
	if inst != "Harvard University" {
		t.Errorf("institution = %q, want Harvard University", inst)
	}

	none, err := o.LookupInstitution(context.Background(), "Li")
	if err != nil || none != "" {
		t.Errorf("short name lookup = %q, %v", none, err)
	}
}

func TestOpenRouterGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"  1. RELEVANT: Yes  "}}]}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient("key", "").WithEndpoint(server.URL)
	out, err := client.Generate(context.Background(), "system", "user")
	if err != nil || out != "1. RELEVANT: Yes" {
		t.Errorf("Generate = %q, %v", out, err)
	}

	bad := NewOpenRouterClient("wrong", "m").WithEndpoint(server.URL)
	if _, err := bad.Generate(context.Background(), "", "user"); err == nil {
		t.Error("expected error on 401")
	}
}
