package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"reviewscout/internal/fetcher"
	"reviewscout/internal/model"
)

// fakeSearcher 按查询内容返回预设文献，可模拟慢响应
type fakeSearcher struct {
	index   model.Index
	respond func(query string) ([]model.Article, time.Duration, error)

	mu      sync.Mutex
	queries []string
}

func (f *fakeSearcher) Index() model.Index { return f.index }

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]model.Article, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	articles, delay, err := f.respond(query)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return articles, err
}

type fakeInstitutions map[string]string

func (f fakeInstitutions) LookupInstitution(ctx context.Context, name string) (string, error) {
	return f[name], nil
}

func pubmedArticle(id, title string, year int, authors []string, affiliations []string) model.Article {
	return model.Article{
		ID:                 "pmid:" + id,
		Index:              model.IndexPubMed,
		Title:              title,
		Year:               year,
		Authors:            authors,
		AuthorAffiliations: affiliations,
	}
}

func newTestDiscoveryService(searcher *fakeSearcher, gen *fakeGenerator) *DiscoveryService {
	client := fetcher.NewSearchClient([]fetcher.Searcher{searcher}, fetcher.WithSearchTimeout(50*time.Millisecond))
	cfg := DefaultDiscoveryConfig()
	cfg.IndexMinInterval = 0
	var generator fetcher.TextGenerator
	if gen != nil {
		generator = gen
	}
	svc := NewDiscoveryService(client,
		NewReasoningEnhancer(generator, WithBatchPause(0)),
		fakeInstitutions{"Dan Brown": "MIT"},
		cfg)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func testAnalysis() *model.AnalysisResult {
	return &model.AnalysisResult{
		Proposal: model.ProposalInfo{
			Title:       "Durable base editing",
			Authors:     []string{"Alice Author"},
			PrimaryArea: "gene editing",
			Keywords:    []string{"base editing", "CRISPR"},
		},
		Suggestions: []model.SuggestedReviewer{
			{Name: "Dr. Jane Q. Smith", Expertise: []string{"gene editing"}, Source: model.SourceFieldLeader},
			{Name: "Bob Jones", Institution: "Yale University", Expertise: []string{"gene editing"}, Source: model.SourceKnownExpert},
		},
		SearchQueries: model.SearchQueries{PubMed: []string{"base editing"}},
	}
}

func testSearcher() *fakeSearcher {
	janeAff := []string{"Broad Institute", ""}
	jane := []model.Article{
		pubmedArticle("1", "Base editing for gene editing therapy", 2024, []string{"Jane Q Smith", "Alice Author"}, janeAff),
		pubmedArticle("2", "Gene editing in primates", 2023, []string{"Jane Q Smith", "Wei Zhang"}, janeAff),
		pubmedArticle("3", "Prime and base editing compared", 2022, []string{"Smith JQ"}, nil),
		pubmedArticle("4", "Gene editing safety", 2021, []string{"Jane Q Smith", "Doe J"}, janeAff),
	}
	topic := []model.Article{
		pubmedArticle("10", "Base editing in primates", 2023,
			[]string{"Carol White", "Smith JQ", "Alice Author"}, []string{"University of Oslo", "", ""}),
		pubmedArticle("11", "Base editing delivery", 2022,
			[]string{"White C", "Dan Brown"}, nil),
	}

	return &fakeSearcher{
		index: model.IndexPubMed,
		respond: func(query string) ([]model.Article, time.Duration, error) {
			switch {
			case strings.Contains(query, "Jones"):
				return nil, 2 * time.Second, nil
			case strings.Contains(query, "Smith"):
				return jane, 0, nil
			case strings.Contains(query, "[Title/Abstract]"):
				return topic, 0, nil
			}
			return nil, 0, nil
		},
	}
}

func TestDiscover(t *testing.T) {
	convey.Convey("Given a discovery service over a fake PubMed", t, func() {
		gen := &fakeGenerator{responses: []string{
			"1. RELEVANT: Yes | REASONING: Leads primate base editing | SENIORITY: mid-career\n" +
				"2. RELEVANT: No | REASONING: Delivery engineering only | SENIORITY: junior",
		}}
		searcher := testSearcher()
		svc := newTestDiscoveryService(searcher, gen)
		progress := make(chan model.ProgressEvent, 256)

		result, err := svc.Discover(context.Background(), DiscoveryRequest{Analysis: testAnalysis()}, progress)
		convey.So(err, convey.ShouldBeNil)
		convey.So(result, convey.ShouldNotBeNil)

		convey.Convey("A well published suggestion is verified", func() {
			convey.So(len(result.Verified), convey.ShouldEqual, 1)
			jane := result.Verified[0]
			convey.So(jane.Name, convey.ShouldEqual, "Jane Q. Smith")
			convey.So(jane.Status, convey.ShouldEqual, model.StatusVerified)
			convey.So(jane.ArticleCount(), convey.ShouldEqual, 4)
			convey.So(jane.Affiliation, convey.ShouldEqual, "Broad Institute")
			convey.So(jane.AffiliationSource, convey.ShouldEqual, AffiliationFromArticles)
		})

		convey.Convey("A timed out search leaves only that candidate unverified", func() {
			convey.So(len(result.Unverified), convey.ShouldEqual, 1)
			bob := result.Unverified[0]
			convey.So(bob.Name, convey.ShouldEqual, "Bob Jones")
			convey.So(bob.Reason, convey.ShouldStartWith, "bibliographic search failed on pubmed")
			convey.So(bob.Affiliation, convey.ShouldEqual, "Yale University")
			convey.So(bob.AffiliationSource, convey.ShouldEqual, AffiliationFromSuggested)
			convey.So(result.Stats.FailedSearches, convey.ShouldEqual, 2)
		})

		convey.Convey("Topic search discovers and merges new authors", func() {
			convey.So(len(result.Discovered), convey.ShouldEqual, 2)
			carol := result.Discovered[0]
			convey.So(carol.Name, convey.ShouldEqual, "Carol White")
			convey.So(carol.ArticleCount(), convey.ShouldEqual, 2)
			convey.So(carol.Status, convey.ShouldEqual, model.StatusDiscovered)
			convey.So(carol.Source, convey.ShouldEqual, model.SourceTopicSearch)
			convey.So(carol.Affiliation, convey.ShouldEqual, "University of Oslo")
			convey.So(carol.FoundVia, convey.ShouldResemble, []model.SearchQuery{{Topic: "base editing", Index: model.IndexPubMed}})
			convey.So(carol.Reasoning, convey.ShouldEqual, "Leads primate base editing")

			dan := result.Discovered[1]
			convey.So(dan.Name, convey.ShouldEqual, "Dan Brown")
			convey.So(dan.Affiliation, convey.ShouldEqual, "MIT")
			convey.So(dan.AffiliationSource, convey.ShouldEqual, AffiliationFromOpenAlex)
			convey.So(*dan.Relevant, convey.ShouldBeFalse)
		})

		convey.Convey("Suggested reviewers and proposal authors are never rediscovered", func() {
			for _, c := range result.Discovered {
				convey.So(c.Name, convey.ShouldNotContainSubstring, "Smith")
				convey.So(c.Name, convey.ShouldNotContainSubstring, "Author")
			}
		})

		convey.Convey("Co-authorship with a proposal author is flagged", func() {
			convey.So(result.Verified[0].HasCoauthorCOI, convey.ShouldBeTrue)
			convey.So(result.Verified[0].Coauthorships[0].ProposalAuthor, convey.ShouldEqual, "Alice Author")
			convey.So(result.Discovered[0].HasCoauthorCOI, convey.ShouldBeTrue)
			convey.So(result.Discovered[1].HasCoauthorCOI, convey.ShouldBeFalse)
			convey.So(result.Unverified[0].HasCoauthorCOI, convey.ShouldBeFalse)
			convey.So(result.Stats.COIFlagged, convey.ShouldEqual, 2)
		})

		convey.Convey("The ranked list holds everyone once with unverified last", func() {
			convey.So(len(result.Ranked), convey.ShouldEqual, 4)
			convey.So(result.Ranked[0].Name, convey.ShouldEqual, "Jane Q. Smith")
			convey.So(result.Ranked[3].Name, convey.ShouldEqual, "Bob Jones")
		})

		convey.Convey("Stats and progress are reported", func() {
			convey.So(result.RunID, convey.ShouldNotBeEmpty)
			convey.So(result.Stats.Suggestions, convey.ShouldEqual, 2)
			convey.So(result.Stats.QueriesPerIndex[model.IndexPubMed], convey.ShouldEqual, 5)
			convey.So(result.Stats.ReasoningBatches, convey.ShouldEqual, 1)
			convey.So(result.Degraded, convey.ShouldNotBeEmpty)

			close(progress)
			stages := map[model.StageType]bool{}
			for ev := range progress {
				stages[ev.Stage] = true
			}
			convey.So(stages[model.StageVerification], convey.ShouldBeTrue)
			convey.So(stages[model.StageDiscovery], convey.ShouldBeTrue)
			convey.So(stages[model.StageRanking], convey.ShouldBeTrue)
		})
	})
}

func TestDiscoverVerificationThreshold(t *testing.T) {
	convey.Convey("Given a candidate with too few matching articles", t, func() {
		searcher := &fakeSearcher{
			index: model.IndexPubMed,
			respond: func(query string) ([]model.Article, time.Duration, error) {
				return []model.Article{
					pubmedArticle("1", "Gene editing", 2024, []string{"Smith JQ"}, nil),
					pubmedArticle("2", "Gene editing again", 2023, []string{"John Smith"}, nil),
				}, 0, nil
			},
		}
		svc := newTestDiscoveryService(searcher, nil)
		analysis := &model.AnalysisResult{
			Suggestions: []model.SuggestedReviewer{{Name: "Jane Q. Smith", Expertise: []string{"gene editing"}}},
		}

		result, err := svc.Discover(context.Background(), DiscoveryRequest{Analysis: analysis}, nil)

		convey.So(err, convey.ShouldBeNil)
		convey.So(result.Verified, convey.ShouldBeEmpty)
		convey.So(len(result.Unverified), convey.ShouldEqual, 1)
		convey.So(result.Unverified[0].Reason, convey.ShouldEqual, "only 1 matching publications found (minimum 3)")
		convey.So(result.Discovered, convey.ShouldBeEmpty)
	})
}

func TestDiscoverExclusions(t *testing.T) {
	convey.Convey("Given an exclusion list", t, func() {
		svc := newTestDiscoveryService(testSearcher(), &fakeGenerator{})
		req := DiscoveryRequest{Analysis: testAnalysis(), Exclusions: []string{"Bob Jones", "C. White"}}

		result, err := svc.Discover(context.Background(), req, nil)

		convey.So(err, convey.ShouldBeNil)
		convey.So(result.Stats.Excluded, convey.ShouldEqual, 1)
		convey.So(result.Unverified, convey.ShouldBeEmpty)
		for _, c := range result.Ranked {
			convey.So(c.Name, convey.ShouldNotEqual, "Carol White")
			convey.So(c.Name, convey.ShouldNotEqual, "Bob Jones")
		}
	})
}

func TestDiscoverInputErrors(t *testing.T) {
	convey.Convey("Given invalid discovery input", t, func() {
		svc := newTestDiscoveryService(testSearcher(), nil)

		convey.Convey("A missing analysis is rejected", func() {
			_, err := svc.Discover(context.Background(), DiscoveryRequest{}, nil)
			convey.So(err, convey.ShouldEqual, ErrMissingAnalysis)
		})

		convey.Convey("An analysis with nothing to search is rejected", func() {
			_, err := svc.Discover(context.Background(), DiscoveryRequest{Analysis: &model.AnalysisResult{}}, nil)
			convey.So(err, convey.ShouldEqual, ErrNothingToDiscover)
		})

		convey.Convey("A cancelled run returns no partial result", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			result, err := svc.Discover(ctx, DiscoveryRequest{Analysis: testAnalysis()}, nil)
			convey.So(result, convey.ShouldBeNil)
			convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
		})
	})
}

func TestDiscoveredConfidence(t *testing.T) {
	convey.Convey("Evidence saturates at the configured minimum", t, func() {
		convey.So(discoveredConfidence(3, 3, 0.5), convey.ShouldEqual, 0.7)
		convey.So(discoveredConfidence(3, 5, 0.5), convey.ShouldEqual, 0.54)
		convey.So(discoveredConfidence(5, 5, 0.5), convey.ShouldEqual, 0.7)
		convey.So(discoveredConfidence(9, 5, 0.5), convey.ShouldEqual, 0.7)
	})

	convey.Convey("A non-positive minimum counts any article as full evidence", t, func() {
		convey.So(discoveredConfidence(1, 0, 0), convey.ShouldEqual, 0.4)
	})
}
