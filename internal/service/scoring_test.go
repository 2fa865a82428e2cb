package service

import (
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"reviewscout/internal/model"
	"reviewscout/internal/utils"
)

func TestCalculateExpertiseMatch(t *testing.T) {
	convey.Convey("Given a set of articles", t, func() {
		articles := []model.Article{
			{Title: "Base editing of PCSK9 in primates", Abstract: "Durable LDL cholesterol reduction.", Terms: []string{"Gene Editing"}},
			{Title: "Adenine base editors", Abstract: "Improved editing windows in human cells."},
		}

		convey.Convey("Empty expertise scores zero", func() {
			convey.So(CalculateExpertiseMatch(articles, nil), convey.ShouldEqual, 0)
			convey.So(CalculateExpertiseMatch(articles, []string{"", "  "}), convey.ShouldEqual, 0)
		})

		convey.Convey("No articles scores zero", func() {
			convey.So(CalculateExpertiseMatch(nil, []string{"gene editing"}), convey.ShouldEqual, 0)
		})

		convey.Convey("Score is the share of matched areas", func() {
			score := CalculateExpertiseMatch(articles, []string{"gene editing", "cholesterol", "astrophysics", "quantum computing"})
			convey.So(score, convey.ShouldEqual, 0.5)
		})

		convey.Convey("Half the content words are enough for a match", func() {
			convey.So(CalculateExpertiseMatch(articles, []string{"mitochondrial editing"}), convey.ShouldEqual, 1)
		})

		convey.Convey("Score is never above one", func() {
			convey.So(CalculateExpertiseMatch(articles, []string{"base editing", "Base Editing"}), convey.ShouldBeLessThanOrEqualTo, 1)
		})
	})
}

func TestExtractBestAffiliation(t *testing.T) {
	convey.Convey("Given articles with per-author affiliations", t, func() {
		variants := utils.GenerateNameVariants("Jane Q. Smith")
		articles := []model.Article{
			{ID: "1", Year: 2019, Authors: []string{"Smith JQ", "Doe J"}, AuthorAffiliations: []string{"Harvard Medical School, Boston, MA.", "MIT"}},
			{ID: "2", Year: 2021, Authors: []string{"Doe J", "Smith JQ"}, AuthorAffiliations: []string{"MIT", "Broad Institute. Electronic address: jsmith@broad.org."}},
			{ID: "3", Year: 2020, Authors: []string{"Smith JQ"}, AuthorAffiliations: []string{"Harvard Medical School, Boston, MA"}},
			{ID: "4", Year: 2023, Authors: []string{"Jane Smith", "Wei Zhang"}, Affiliation: "Wei's lab"},
		}

		convey.Convey("The candidate's own most frequent affiliation wins", func() {
			convey.So(ExtractBestAffiliationMultiVariant(articles, variants), convey.ShouldEqual, "Harvard Medical School, Boston, MA")
		})

		convey.Convey("Ties go to the most recent", func() {
			got := ExtractBestAffiliationMultiVariant(articles[:2], variants)
			convey.So(got, convey.ShouldEqual, "Broad Institute")
		})

		convey.Convey("Article level affiliation is used when authors carry none", func() {
			convey.So(ExtractBestAffiliationMultiVariant(articles[3:], variants), convey.ShouldEqual, "Wei's lab")
		})

		convey.Convey("Unknown affiliation is empty", func() {
			convey.So(ExtractBestAffiliationMultiVariant(nil, variants), convey.ShouldEqual, "")
			convey.So(ExtractBestAffiliationMultiVariant([]model.Article{{Authors: []string{"Jane Smith"}}}, variants), convey.ShouldEqual, "")
		})
	})
}

func TestCheckCoauthorships(t *testing.T) {
	convey.Convey("Given candidates and proposal authors", t, func() {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		verified := &model.Candidate{
			Name:   "Jane Q. Smith",
			Status: model.StatusVerified,
			Articles: []model.Article{
				{ID: "1", Title: "Shared work", Year: 2024, Authors: []string{"Smith JQ", "Author A"}},
				{ID: "2", Title: "Old shared work", Year: 2015, Authors: []string{"Jane Smith", "Alice Author"}},
				{ID: "3", Title: "Undated shared work", Authors: []string{"Alice Author", "Jane Smith"}},
				{ID: "4", Title: "Solo", Year: 2024, Authors: []string{"Jane Smith"}},
			},
		}
		clean := &model.Candidate{
			Name:     "Wei Zhang",
			Status:   model.StatusDiscovered,
			Articles: []model.Article{{ID: "5", Year: 2024, Authors: []string{"Wei Zhang", "Bob Brown"}}},
		}
		unverified := &model.Candidate{
			Name:     "Carol White",
			Status:   model.StatusUnverified,
			Articles: []model.Article{{ID: "6", Year: 2024, Authors: []string{"Carol White", "Alice Author"}}},
		}
		author := &model.Candidate{
			Name:     "Alice Author",
			Status:   model.StatusVerified,
			Articles: []model.Article{{ID: "7", Year: 2024, Authors: []string{"Alice Author"}}},
		}
		candidates := []*model.Candidate{verified, clean, unverified, author}

		convey.Convey("Recent and undated shared papers are flagged", func() {
			flagged := CheckCoauthorshipsForCandidates(candidates, []string{"Alice Author"}, COIOptions{WindowYears: 3, Now: now})
			convey.So(flagged, convey.ShouldEqual, 2)
			convey.So(verified.HasCoauthorCOI, convey.ShouldBeTrue)
			convey.So(len(verified.Coauthorships), convey.ShouldEqual, 1)
			convey.So(verified.Coauthorships[0].PaperCount, convey.ShouldEqual, 2)
			convey.So(verified.Coauthorships[0].LatestYear, convey.ShouldEqual, 2024)
			convey.So(clean.HasCoauthorCOI, convey.ShouldBeFalse)
		})

		convey.Convey("Unverified candidates are skipped", func() {
			CheckCoauthorshipsForCandidates(candidates, []string{"Alice Author"}, COIOptions{WindowYears: 3, Now: now})
			convey.So(unverified.HasCoauthorCOI, convey.ShouldBeFalse)
			convey.So(unverified.Coauthorships, convey.ShouldBeEmpty)
		})

		convey.Convey("A proposal author is flagged as such", func() {
			CheckCoauthorshipsForCandidates(candidates, []string{"Alice Author"}, COIOptions{WindowYears: 3, Now: now})
			convey.So(author.IsProposalAuthor, convey.ShouldBeTrue)
			convey.So(author.HasCoauthorCOI, convey.ShouldBeTrue)
			convey.So(author.Coauthorships, convey.ShouldBeEmpty)
		})

		convey.Convey("Disabling the window counts old papers too", func() {
			CheckCoauthorshipsForCandidates(candidates, []string{"Alice Author"}, COIOptions{Now: now})
			convey.So(verified.Coauthorships[0].PaperCount, convey.ShouldEqual, 3)
		})

		convey.Convey("The window covers the current calendar year and the two before it", func() {
			early := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
			edge := &model.Candidate{
				Name:     "Dana Edge",
				Status:   model.StatusVerified,
				Articles: []model.Article{{ID: "8", Year: 2022, Authors: []string{"Dana Edge", "Alice Author"}}},
			}
			inside := &model.Candidate{
				Name:     "Evan Inside",
				Status:   model.StatusVerified,
				Articles: []model.Article{{ID: "9", Year: 2023, Authors: []string{"Evan Inside", "Alice Author"}}},
			}
			flagged := CheckCoauthorshipsForCandidates([]*model.Candidate{edge, inside}, []string{"Alice Author"}, COIOptions{WindowYears: 3, Now: early})
			convey.So(flagged, convey.ShouldEqual, 1)
			convey.So(edge.HasCoauthorCOI, convey.ShouldBeFalse)
			convey.So(inside.HasCoauthorCOI, convey.ShouldBeTrue)
			convey.So(inside.Coauthorships[0].LatestYear, convey.ShouldEqual, 2023)
		})

		convey.Convey("No proposal authors flags nobody", func() {
			convey.So(CheckCoauthorshipsForCandidates(candidates, nil, COIOptions{}), convey.ShouldEqual, 0)
		})
	})
}

func TestRankAllCandidates(t *testing.T) {
	convey.Convey("Given candidates of every status", t, func() {
		no := false
		verified := []model.Candidate{
			{Name: "Jane Smith", Status: model.StatusVerified, Confidence: 0.3, Articles: make([]model.Article, 4)},
		}
		discovered := []model.Candidate{
			{Name: "Wei Zhang", Status: model.StatusDiscovered, Confidence: 0.6, Articles: make([]model.Article, 2)},
			{Name: "Bob Brown", Status: model.StatusDiscovered, Confidence: 0.9, Relevant: &no, Articles: make([]model.Article, 5)},
			{Name: "Smith J", Status: model.StatusDiscovered, Confidence: 0.99, Articles: make([]model.Article, 1)},
		}
		unverified := []model.Candidate{
			{Name: "Carol White", Status: model.StatusUnverified, Confidence: 1.0},
		}

		ranked := RankAllCandidates(verified, discovered, unverified, nil, DefaultRankWeights())

		convey.Convey("Identity duplicates collapse to the best status", func() {
			convey.So(len(ranked), convey.ShouldEqual, 4)
			for _, c := range ranked {
				convey.So(c.Name, convey.ShouldNotEqual, "Smith J")
			}
		})

		convey.Convey("Unverified never ranks above evidence-backed candidates", func() {
			convey.So(ranked[len(ranked)-1].Name, convey.ShouldEqual, "Carol White")
		})

		convey.Convey("Composite score orders the rest", func() {
			convey.So(ranked[0].Name, convey.ShouldEqual, "Wei Zhang")
			convey.So(ranked[1].Name, convey.ShouldEqual, "Jane Smith")
			convey.So(ranked[2].Name, convey.ShouldEqual, "Bob Brown")
			convey.So(ranked[2].CompositeScore, convey.ShouldAlmostEqual, 0.45, 1e-9)
		})
	})

	convey.Convey("Ties break on status then confidence then article count", t, func() {
		w := RankWeights{NotRelevantFactor: 1}
		ranked := RankAllCandidates(
			[]model.Candidate{{Name: "Ann Verified", Status: model.StatusVerified, Confidence: 0.5}},
			[]model.Candidate{
				{Name: "Ben Few", Status: model.StatusDiscovered, Confidence: 0.5, Articles: make([]model.Article, 1)},
				{Name: "Cal Many", Status: model.StatusDiscovered, Confidence: 0.5, Articles: make([]model.Article, 3)},
			},
			nil, nil, w)
		convey.So(ranked[0].Name, convey.ShouldEqual, "Ann Verified")
		convey.So(ranked[1].Name, convey.ShouldEqual, "Cal Many")
		convey.So(ranked[2].Name, convey.ShouldEqual, "Ben Few")
	})
}
