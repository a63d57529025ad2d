package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/mwidz/offerlens/internal/model"
)

// forEachBackend runs the shared Store contract tests against every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open("sqlite", filepath.Join(t.TempDir(), "offerlens.db"))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})

	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		fn(t, s)
	})
}

func mustInsert(t *testing.T, s Store, url string) model.JobLink {
	t.Helper()
	created, err := s.InsertLink(context.Background(), url)
	if err != nil {
		t.Fatalf("InsertLink(%s): %v", url, err)
	}
	if !created {
		t.Fatalf("InsertLink(%s) reported duplicate for fresh URL", url)
	}
	links, err := s.PendingLinks(context.Background(), 0)
	if err != nil {
		t.Fatalf("PendingLinks: %v", err)
	}
	for _, l := range links {
		if l.URL == url {
			return l
		}
	}
	t.Fatalf("inserted link %s not found among pending", url)
	return model.JobLink{}
}

func testDetail(linkID int64) *model.JobDetail {
	min, max := 20000, 26000
	return &model.JobDetail{
		LinkID:         linkID,
		Title:          "Senior Go Developer",
		Company:        "Acme Sp. z o.o.",
		Location:       "Warszawa",
		RemoteType:     "remote",
		ContractType:   "b2b",
		ExpLevel:       "senior",
		EmploymentType: "full_time",
		SalaryMin:      &min,
		SalaryMax:      &max,
		SalaryCurrency: "PLN",
		SalaryRate:     "monthly",
		SalaryType:     "net",
		TechStack:      []string{"go", "postgresql", "kubernetes"},
		Description:    "We build boring reliable systems.",
	}
}

func testAnalysis(linkID int64) *model.JobAnalysis {
	return &model.JobAnalysis{
		LinkID:           linkID,
		Language:         "en",
		ShortSummary:     "Backend role on an internal platform team.",
		CringeScore:      10,
		RedFlagScore:     15,
		WorkCultureScore: 70,
		StabilityScore:   80,
		BenefitScore:     60,
		InclusivityScore: 50,
		CorporateScore:   40,
		FitScore:         82,
		FitReasoning:     "Stack matches almost entirely.",
		Decision:         model.DecisionApply,
	}
}

func TestInsertLinkDeduplicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		created, err := s.InsertLink(ctx, "https://example.com/offer/1")
		if err != nil || !created {
			t.Fatalf("first insert: created=%v err=%v", created, err)
		}
		created, err = s.InsertLink(ctx, "https://example.com/offer/1")
		if err != nil {
			t.Fatalf("duplicate insert: %v", err)
		}
		if created {
			t.Error("duplicate insert reported created=true")
		}

		links, err := s.PendingLinks(ctx, 0)
		if err != nil {
			t.Fatalf("PendingLinks: %v", err)
		}
		if len(links) != 1 {
			t.Fatalf("got %d links, want 1", len(links))
		}
		if links[0].Status != model.StatusDiscovered {
			t.Errorf("status = %s, want discovered", links[0].Status)
		}
		if links[0].FetchedAt != nil || links[0].AnalyzedAt != nil {
			t.Error("fresh link has fetch or analysis timestamps")
		}
	})
}

func TestPendingLinksOrderAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		urls := []string{
			"https://example.com/offer/a",
			"https://example.com/offer/b",
			"https://example.com/offer/c",
		}
		for _, u := range urls {
			mustInsert(t, s, u)
		}

		links, err := s.PendingLinks(ctx, 2)
		if err != nil {
			t.Fatalf("PendingLinks: %v", err)
		}
		if len(links) != 2 {
			t.Fatalf("got %d links, want 2", len(links))
		}
		if links[0].URL != urls[0] || links[1].URL != urls[1] {
			t.Errorf("pending not oldest first: %s, %s", links[0].URL, links[1].URL)
		}
	})
}

func TestSaveDetailRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		link := mustInsert(t, s, "https://example.com/offer/detail")

		if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
			t.Fatalf("SaveDetail: %v", err)
		}

		got, err := s.DetailByLinkID(ctx, link.ID)
		if err != nil {
			t.Fatalf("DetailByLinkID: %v", err)
		}
		if got.Title != "Senior Go Developer" || got.Company != "Acme Sp. z o.o." {
			t.Errorf("detail fields lost: %+v", got)
		}
		if !reflect.DeepEqual(got.TechStack, []string{"go", "postgresql", "kubernetes"}) {
			t.Errorf("tech stack = %v", got.TechStack)
		}
		if got.SalaryMin == nil || *got.SalaryMin != 20000 {
			t.Errorf("salary min = %v", got.SalaryMin)
		}
		if got.FetchedAt.IsZero() {
			t.Error("fetched_at not set on save")
		}

		links, err := s.LinksByStatus(ctx, model.StatusFetched, 0)
		if err != nil {
			t.Fatalf("LinksByStatus: %v", err)
		}
		if len(links) != 1 || links[0].ID != link.ID {
			t.Fatalf("link not advanced to fetched: %+v", links)
		}
		if links[0].FetchedAt == nil {
			t.Error("fetched_at not recorded on link")
		}
	})
}

func TestSaveDetailNeverRegressesStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		link := mustInsert(t, s, "https://example.com/offer/refetch")

		if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
			t.Fatalf("SaveDetail: %v", err)
		}
		if err := s.SaveAnalysis(ctx, testAnalysis(link.ID)); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}

		// Re-fetching an analyzed offer refreshes the detail row but must
		// not pull the link back to fetched.
		d := testDetail(link.ID)
		d.Description = "Updated posting text."
		if err := s.SaveDetail(ctx, d); err != nil {
			t.Fatalf("re-save detail: %v", err)
		}

		analyzed, err := s.LinksByStatus(ctx, model.StatusAnalyzed, 0)
		if err != nil {
			t.Fatalf("LinksByStatus: %v", err)
		}
		if len(analyzed) != 1 {
			t.Fatalf("analyzed link regressed, got %d analyzed", len(analyzed))
		}
		got, err := s.DetailByLinkID(ctx, link.ID)
		if err != nil {
			t.Fatalf("DetailByLinkID: %v", err)
		}
		if got.Description != "Updated posting text." {
			t.Error("detail upsert did not refresh description")
		}
	})
}

func TestSaveAnalysisMarksAnalyzed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		link := mustInsert(t, s, "https://example.com/offer/analyze")
		if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
			t.Fatalf("SaveDetail: %v", err)
		}

		if err := s.SaveAnalysis(ctx, testAnalysis(link.ID)); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}

		got, err := s.AnalysisByLinkID(ctx, link.ID)
		if err != nil {
			t.Fatalf("AnalysisByLinkID: %v", err)
		}
		if got.FitScore != 82 || got.Decision != model.DecisionApply {
			t.Errorf("analysis fields lost: %+v", got)
		}
		if got.AnalyzedAt.IsZero() {
			t.Error("analyzed_at not set on save")
		}

		pending, err := s.PendingLinks(ctx, 0)
		if err != nil {
			t.Fatalf("PendingLinks: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("analyzed link still pending: %+v", pending)
		}
	})
}

func TestSaveAnalysisRejectsInvalidWithoutTrace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		link := mustInsert(t, s, "https://example.com/offer/invalid")
		if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
			t.Fatalf("SaveDetail: %v", err)
		}

		cases := []func(*model.JobAnalysis){
			func(a *model.JobAnalysis) { a.FitScore = 150 },
			func(a *model.JobAnalysis) { a.CringeScore = -1 },
			func(a *model.JobAnalysis) { a.Decision = "MAYBE" },
		}
		for _, mutate := range cases {
			a := testAnalysis(link.ID)
			mutate(a)
			if err := s.SaveAnalysis(ctx, a); err == nil {
				t.Fatalf("SaveAnalysis accepted invalid record %+v", a)
			}
		}

		if _, err := s.AnalysisByLinkID(ctx, link.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("partial analysis persisted: err=%v", err)
		}
		fetched, err := s.LinksByStatus(ctx, model.StatusFetched, 0)
		if err != nil {
			t.Fatalf("LinksByStatus: %v", err)
		}
		if len(fetched) != 1 {
			t.Errorf("link left fetched after rejected analysis, got %d", len(fetched))
		}
	})
}

func TestSaveAnalysisUpsertIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		link := mustInsert(t, s, "https://example.com/offer/rescore")
		if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
			t.Fatalf("SaveDetail: %v", err)
		}
		if err := s.SaveAnalysis(ctx, testAnalysis(link.ID)); err != nil {
			t.Fatalf("first SaveAnalysis: %v", err)
		}

		second := testAnalysis(link.ID)
		second.FitScore = 40
		second.Decision = model.DecisionWatch
		if err := s.SaveAnalysis(ctx, second); err != nil {
			t.Fatalf("second SaveAnalysis: %v", err)
		}

		got, err := s.AnalysisByLinkID(ctx, link.ID)
		if err != nil {
			t.Fatalf("AnalysisByLinkID: %v", err)
		}
		if got.FitScore != 40 || got.Decision != model.DecisionWatch {
			t.Errorf("rescore did not replace row: %+v", got)
		}

		offers, err := s.AnalyzedOffers(ctx, "", 0)
		if err != nil {
			t.Fatalf("AnalyzedOffers: %v", err)
		}
		if len(offers) != 1 {
			t.Errorf("rescore duplicated analysis rows: %d", len(offers))
		}
	})
}

func TestAnalyzedOffersBestFitFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		fits := []struct {
			url      string
			fit      int
			decision model.Decision
		}{
			{"https://example.com/offer/mid", 55, model.DecisionWatch},
			{"https://example.com/offer/top", 90, model.DecisionApply},
			{"https://example.com/offer/low", 20, model.DecisionIgnore},
		}
		for _, f := range fits {
			link := mustInsert(t, s, f.url)
			if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
				t.Fatalf("SaveDetail: %v", err)
			}
			a := testAnalysis(link.ID)
			a.FitScore = f.fit
			a.Decision = f.decision
			if err := s.SaveAnalysis(ctx, a); err != nil {
				t.Fatalf("SaveAnalysis: %v", err)
			}
		}

		offers, err := s.AnalyzedOffers(ctx, "", 0)
		if err != nil {
			t.Fatalf("AnalyzedOffers: %v", err)
		}
		if len(offers) != 3 {
			t.Fatalf("got %d offers, want 3", len(offers))
		}
		for i, want := range []int{90, 55, 20} {
			if offers[i].Analysis.FitScore != want {
				t.Errorf("offer[%d].FitScore = %d, want %d", i, offers[i].Analysis.FitScore, want)
			}
		}
		if offers[0].Detail == nil || offers[0].Detail.Title == "" {
			t.Error("offer missing joined detail")
		}

		applies, err := s.AnalyzedOffers(ctx, model.DecisionApply, 0)
		if err != nil {
			t.Fatalf("AnalyzedOffers(APPLY): %v", err)
		}
		if len(applies) != 1 || applies[0].Analysis.FitScore != 90 {
			t.Errorf("decision filter broken: %+v", applies)
		}
	})
}

func TestRecordTagUseConvergesUnderConcurrency(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const workers = 8

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.RecordTagUse(ctx, []string{"golang", "remote-work"})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("RecordTagUse: %v", err)
			}
		}

		tags, err := s.ListTags(ctx)
		if err != nil {
			t.Fatalf("ListTags: %v", err)
		}
		if len(tags) != 2 {
			t.Fatalf("concurrent coinage split rows: %+v", tags)
		}
		for _, tc := range tags {
			if tc.Count != workers {
				t.Errorf("tag %s count = %d, want %d", tc.Tag, tc.Count, workers)
			}
		}
	})
}

func TestListTagsMostUsedFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.RecordTagUse(ctx, []string{"go", "go", "go", "docker", "docker", "scrum"}); err != nil {
			t.Fatalf("RecordTagUse: %v", err)
		}

		tags, err := s.ListTags(ctx)
		if err != nil {
			t.Fatalf("ListTags: %v", err)
		}
		want := []model.TagCount{{Tag: "go", Count: 3}, {Tag: "docker", Count: 2}, {Tag: "scrum", Count: 1}}
		if !reflect.DeepEqual(tags, want) {
			t.Errorf("tags = %+v, want %+v", tags, want)
		}
	})
}

func TestStatsAggregates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		mustInsert(t, s, "https://example.com/offer/raw")
		fetchedLink := mustInsert(t, s, "https://example.com/offer/fetched")
		if err := s.SaveDetail(ctx, testDetail(fetchedLink.ID)); err != nil {
			t.Fatalf("SaveDetail: %v", err)
		}
		for i, fit := range []int{80, 90} {
			link := mustInsert(t, s, "https://example.com/offer/done"+string(rune('a'+i)))
			if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
				t.Fatalf("SaveDetail: %v", err)
			}
			a := testAnalysis(link.ID)
			a.FitScore = fit
			if err := s.SaveAnalysis(ctx, a); err != nil {
				t.Fatalf("SaveAnalysis: %v", err)
			}
		}
		if err := s.RecordTagUse(ctx, []string{"go", "docker"}); err != nil {
			t.Fatalf("RecordTagUse: %v", err)
		}

		stats, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.StatusCounts[model.StatusDiscovered] != 1 ||
			stats.StatusCounts[model.StatusFetched] != 1 ||
			stats.StatusCounts[model.StatusAnalyzed] != 2 {
			t.Errorf("status counts = %+v", stats.StatusCounts)
		}
		if stats.DecisionCounts[model.DecisionApply] != 2 {
			t.Errorf("decision counts = %+v", stats.DecisionCounts)
		}
		fs := stats.FitByDecision[model.DecisionApply]
		if fs.Min != 80 || fs.Max != 90 || fs.Avg != 85 {
			t.Errorf("fit summary = %+v", fs)
		}
		if stats.TagCount != 2 {
			t.Errorf("tag count = %d, want 2", stats.TagCount)
		}
	})
}

func TestWipeAnalysisOnlyResetsLinks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		link := mustInsert(t, s, "https://example.com/offer/wipe")
		if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
			t.Fatalf("SaveDetail: %v", err)
		}
		if err := s.SaveAnalysis(ctx, testAnalysis(link.ID)); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}
		if err := s.RecordTagUse(ctx, []string{"go"}); err != nil {
			t.Fatalf("RecordTagUse: %v", err)
		}

		if err := s.Wipe(ctx, false); err != nil {
			t.Fatalf("Wipe(analysis): %v", err)
		}

		pending, err := s.PendingLinks(ctx, 0)
		if err != nil {
			t.Fatalf("PendingLinks: %v", err)
		}
		if len(pending) != 1 || pending[0].Status != model.StatusDiscovered {
			t.Errorf("link not reset: %+v", pending)
		}
		if pending[0].FetchedAt != nil || pending[0].AnalyzedAt != nil {
			t.Error("reset link kept stale timestamps")
		}
		if _, err := s.DetailByLinkID(ctx, link.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("detail survived wipe: %v", err)
		}
		if _, err := s.AnalysisByLinkID(ctx, link.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("analysis survived wipe: %v", err)
		}
		tags, err := s.ListTags(ctx)
		if err != nil {
			t.Fatalf("ListTags: %v", err)
		}
		if len(tags) != 1 {
			t.Errorf("analysis-only wipe touched tag catalog: %+v", tags)
		}
	})
}

func TestWipeFullClearsEverything(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		link := mustInsert(t, s, "https://example.com/offer/wipe-all")
		if err := s.SaveDetail(ctx, testDetail(link.ID)); err != nil {
			t.Fatalf("SaveDetail: %v", err)
		}
		if err := s.SaveAnalysis(ctx, testAnalysis(link.ID)); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}
		if err := s.RecordTagUse(ctx, []string{"go"}); err != nil {
			t.Fatalf("RecordTagUse: %v", err)
		}

		if err := s.Wipe(ctx, true); err != nil {
			t.Fatalf("Wipe(full): %v", err)
		}

		pending, err := s.PendingLinks(ctx, 0)
		if err != nil {
			t.Fatalf("PendingLinks: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("links survived full wipe: %+v", pending)
		}
		tags, err := s.ListTags(ctx)
		if err != nil {
			t.Fatalf("ListTags: %v", err)
		}
		if len(tags) != 0 {
			t.Errorf("tags survived full wipe: %+v", tags)
		}

		created, err := s.InsertLink(ctx, "https://example.com/offer/wipe-all")
		if err != nil || !created {
			t.Errorf("re-insert after full wipe: created=%v err=%v", created, err)
		}
	})
}
