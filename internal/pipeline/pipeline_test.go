package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mwidz/offerlens/internal/llm"
	"github.com/mwidz/offerlens/internal/model"
	"github.com/mwidz/offerlens/internal/retry"
	"github.com/mwidz/offerlens/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quickBudget() retry.Budget {
	return retry.Budget{MaxRetries: 0, BaseDelay: time.Millisecond}
}

type fakeFetcher struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{fail: make(map[string]error), calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*model.JobDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.fail[url]; ok {
		return nil, err
	}
	return &model.JobDetail{
		Title:       "Role at " + url,
		Company:     "Acme",
		Description: strings.Repeat("work ", 120),
	}, nil
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	fail     map[int64]error
	decision map[int64]model.Decision
	calls    int
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{fail: make(map[int64]error), decision: make(map[int64]model.Decision)}
}

func (a *fakeAnalyzer) Score(ctx context.Context, d *model.JobDetail) (*model.JobAnalysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if err, ok := a.fail[d.LinkID]; ok {
		return nil, err
	}
	decision := model.DecisionWatch
	if dec, ok := a.decision[d.LinkID]; ok {
		decision = dec
	}
	return &model.JobAnalysis{
		LinkID:           d.LinkID,
		Language:         "en",
		ShortSummary:     "summary",
		CringeScore:      10,
		RedFlagScore:     10,
		WorkCultureScore: 60,
		StabilityScore:   60,
		BenefitScore:     60,
		InclusivityScore: 50,
		CorporateScore:   50,
		FitScore:         65,
		FitReasoning:     "fine",
		Decision:         decision,
	}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	offers []store.Offer
	err    error
}

func (n *fakeNotifier) NotifyApply(ctx context.Context, offer store.Offer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers = append(n.offers, offer)
	return n.err
}

func newOrchestrator(st store.Store, f *fakeFetcher, a *fakeAnalyzer, n Notifier, workers int) *Orchestrator {
	return New(st, f, a, n, workers, quickBudget(), discardLogger())
}

func discoverN(t *testing.T, o *Orchestrator, n int) []string {
	t.Helper()
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/offer/%d", i)
	}
	added, _, err := o.Discover(context.Background(), urls, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if added != n {
		t.Fatalf("added %d, want %d", added, n)
	}
	return urls
}

func TestRunProcessesAllPendingLinks(t *testing.T) {
	st := store.NewMemoryStore()
	o := newOrchestrator(st, newFakeFetcher(), newFakeAnalyzer(), nil, 2)
	discoverN(t, o, 3)

	tally, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tally.Processed != 3 || tally.Fetched != 3 || tally.Analyzed != 3 || tally.Failed != 0 {
		t.Errorf("tally = %+v", tally)
	}
	if tally.Decisions[model.DecisionWatch] != 3 {
		t.Errorf("decisions = %+v", tally.Decisions)
	}

	pending, err := st.PendingLinks(context.Background(), 0)
	if err != nil {
		t.Fatalf("PendingLinks: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d links still pending after clean run", len(pending))
	}
}

func TestFetchFailureLeavesLinkDiscovered(t *testing.T) {
	st := store.NewMemoryStore()
	fetcher := newFakeFetcher()
	analyzer := newFakeAnalyzer()
	o := newOrchestrator(st, fetcher, analyzer, nil, 1)
	urls := discoverN(t, o, 2)
	fetcher.fail[urls[0]] = &model.HTTPError{StatusCode: 503, Err: errors.New("boards down")}

	tally, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tally.Analyzed != 1 || tally.Failed != 1 {
		t.Errorf("tally = %+v", tally)
	}

	discovered, err := st.LinksByStatus(context.Background(), model.StatusDiscovered, 0)
	if err != nil {
		t.Fatalf("LinksByStatus: %v", err)
	}
	if len(discovered) != 1 || discovered[0].URL != urls[0] {
		t.Errorf("failed link not left discovered: %+v", discovered)
	}
	if _, err := st.DetailByLinkID(context.Background(), discovered[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed fetch left a detail row: %v", err)
	}
}

func TestScoringFailureLeavesLinkFetched(t *testing.T) {
	st := store.NewMemoryStore()
	analyzer := newFakeAnalyzer()
	o := newOrchestrator(st, newFakeFetcher(), analyzer, nil, 1)
	discoverN(t, o, 1)

	links, _ := st.PendingLinks(context.Background(), 0)
	analyzer.fail[links[0].ID] = errors.New("stage 2 (risk): exhausted")

	tally, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tally.Fetched != 1 || tally.Analyzed != 0 || tally.Failed != 1 {
		t.Errorf("tally = %+v", tally)
	}

	fetched, err := st.LinksByStatus(context.Background(), model.StatusFetched, 0)
	if err != nil {
		t.Fatalf("LinksByStatus: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("link not parked in fetched: %+v", fetched)
	}
	if _, err := st.AnalysisByLinkID(context.Background(), fetched[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed scoring left an analysis row: %v", err)
	}
}

func TestRerunResumesFromFetchedPhase(t *testing.T) {
	st := store.NewMemoryStore()
	fetcher := newFakeFetcher()
	analyzer := newFakeAnalyzer()
	o := newOrchestrator(st, fetcher, analyzer, nil, 1)
	urls := discoverN(t, o, 1)

	links, _ := st.PendingLinks(context.Background(), 0)
	analyzer.fail[links[0].ID] = errors.New("parse exhausted")
	if _, err := o.Run(context.Background(), 0); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Second run must reuse the stored detail, not refetch.
	delete(analyzer.fail, links[0].ID)
	tally, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if tally.Analyzed != 1 || tally.Fetched != 0 {
		t.Errorf("tally = %+v", tally)
	}
	if fetcher.calls[urls[0]] != 1 {
		t.Errorf("fetch called %d times, want 1", fetcher.calls[urls[0]])
	}
}

func TestRunIsIdempotentWhenEverythingAnalyzed(t *testing.T) {
	st := store.NewMemoryStore()
	analyzer := newFakeAnalyzer()
	o := newOrchestrator(st, newFakeFetcher(), analyzer, nil, 1)
	discoverN(t, o, 2)

	if _, err := o.Run(context.Background(), 0); err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := analyzer.calls

	tally, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if tally.Processed != 0 {
		t.Errorf("second run reprocessed %d links", tally.Processed)
	}
	if analyzer.calls != callsAfterFirst {
		t.Errorf("second run re-scored analyzed offers")
	}
}

func TestDiscoverSkipsDuplicatesAndFiltered(t *testing.T) {
	st := store.NewMemoryStore()
	o := newOrchestrator(st, newFakeFetcher(), newFakeAnalyzer(), nil, 1)

	filter := NewLinkFilter([]string{"/offers/"}, []string{"intern"})
	urls := []string{
		"https://example.com/offers/go-dev",
		"https://example.com/offers/go-dev",
		"https://example.com/offers/go-intern",
		"https://example.com/about",
	}
	added, skipped, err := o.Discover(context.Background(), urls, filter)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if added != 1 || skipped != 3 {
		t.Errorf("added=%d skipped=%d, want 1/3", added, skipped)
	}
}

func TestRunLimitCapsBatch(t *testing.T) {
	st := store.NewMemoryStore()
	o := newOrchestrator(st, newFakeFetcher(), newFakeAnalyzer(), nil, 4)
	discoverN(t, o, 5)

	tally, err := o.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tally.Processed != 2 {
		t.Errorf("processed %d, want 2", tally.Processed)
	}
	pending, _ := st.PendingLinks(context.Background(), 0)
	if len(pending) != 3 {
		t.Errorf("%d pending, want 3", len(pending))
	}
}

func TestNotifierCalledOnlyForApply(t *testing.T) {
	st := store.NewMemoryStore()
	analyzer := newFakeAnalyzer()
	notifier := &fakeNotifier{}
	o := newOrchestrator(st, newFakeFetcher(), analyzer, notifier, 1)
	discoverN(t, o, 3)

	links, _ := st.PendingLinks(context.Background(), 0)
	analyzer.decision[links[0].ID] = model.DecisionApply
	analyzer.decision[links[1].ID] = model.DecisionIgnore

	if _, err := o.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(notifier.offers) != 1 {
		t.Fatalf("notified %d offers, want 1", len(notifier.offers))
	}
	if notifier.offers[0].Analysis.Decision != model.DecisionApply {
		t.Errorf("notified decision = %s", notifier.offers[0].Analysis.Decision)
	}
}

func TestNotifierFailureDoesNotFailRun(t *testing.T) {
	st := store.NewMemoryStore()
	analyzer := newFakeAnalyzer()
	notifier := &fakeNotifier{err: errors.New("webhook down")}
	o := newOrchestrator(st, newFakeFetcher(), analyzer, notifier, 1)
	discoverN(t, o, 1)

	links, _ := st.PendingLinks(context.Background(), 0)
	analyzer.decision[links[0].ID] = model.DecisionApply

	tally, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tally.Analyzed != 1 {
		t.Errorf("tally = %+v", tally)
	}
	analyzed, _ := st.LinksByStatus(context.Background(), model.StatusAnalyzed, 0)
	if len(analyzed) != 1 {
		t.Errorf("analysis not persisted despite notifier failure")
	}
}

// brokenStore fails SaveAnalysis to prove store failures abort the run.
type brokenStore struct {
	store.Store
}

func (b *brokenStore) SaveAnalysis(ctx context.Context, a *model.JobAnalysis) error {
	return errors.New("disk full")
}

func TestStoreFailureAbortsRun(t *testing.T) {
	inner := store.NewMemoryStore()
	st := &brokenStore{Store: inner}
	o := newOrchestrator(st, newFakeFetcher(), newFakeAnalyzer(), nil, 1)
	discoverN(t, o, 1)

	if _, err := o.Run(context.Background(), 0); err == nil {
		t.Fatal("Run swallowed a store failure")
	}
}

func TestLLMConfigErrorAbortsRun(t *testing.T) {
	st := store.NewMemoryStore()
	analyzer := newFakeAnalyzer()
	o := newOrchestrator(st, newFakeFetcher(), analyzer, nil, 1)
	discoverN(t, o, 3)

	links, _ := st.PendingLinks(context.Background(), 0)
	for _, l := range links {
		analyzer.fail[l.ID] = &llm.ConfigError{Reason: "authentication rejected"}
	}

	_, err := o.Run(context.Background(), 0)
	if !llm.IsConfigError(err) {
		t.Fatalf("Run err = %v, want ConfigError to surface", err)
	}
	// The batch must stop at the first dead-endpoint response instead of
	// calling the scorer once per remaining link.
	if analyzer.calls != 1 {
		t.Errorf("scorer called %d times, want 1", analyzer.calls)
	}
}

func TestRunEveryStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	o := newOrchestrator(st, newFakeFetcher(), newFakeAnalyzer(), nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunEvery(ctx, 10*time.Millisecond, 0) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunEvery returned %v on cancel, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunEvery did not stop after cancel")
	}
}
