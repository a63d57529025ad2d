package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mwidz/offerlens/internal/model"
)

// MemoryStore is an in-memory Store used by tests and as a scratch backend.
// It mirrors the transactional semantics of SQLStore: detail and analysis
// writes either land fully or not at all.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	links    map[int64]*model.JobLink
	byURL    map[string]int64
	details  map[int64]*model.JobDetail
	analyses map[int64]*model.JobAnalysis
	tags     map[string]int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		links:    make(map[int64]*model.JobLink),
		byURL:    make(map[string]int64),
		details:  make(map[int64]*model.JobDetail),
		analyses: make(map[int64]*model.JobAnalysis),
		tags:     make(map[string]int64),
		now:      time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) InsertLink(ctx context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byURL[url]; ok {
		return false, nil
	}
	id := m.nextID
	m.nextID++
	m.links[id] = &model.JobLink{
		ID:           id,
		URL:          url,
		Status:       model.StatusDiscovered,
		DiscoveredAt: m.now().UTC(),
	}
	m.byURL[url] = id
	return true, nil
}

func (m *MemoryStore) PendingLinks(ctx context.Context, limit int) ([]model.JobLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLinks(func(l *model.JobLink) bool {
		return l.Status != model.StatusAnalyzed
	}, limit), nil
}

func (m *MemoryStore) LinksByStatus(ctx context.Context, status model.Status, limit int) ([]model.JobLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLinks(func(l *model.JobLink) bool {
		return l.Status == status
	}, limit), nil
}

// selectLinks returns copies sorted oldest first. Caller holds mu.
func (m *MemoryStore) selectLinks(keep func(*model.JobLink) bool, limit int) []model.JobLink {
	var out []model.JobLink
	for _, l := range m.links {
		if keep(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) SaveDetail(ctx context.Context, d *model.JobDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[d.LinkID]
	if !ok {
		return fmt.Errorf("save detail: link %d: %w", d.LinkID, ErrNotFound)
	}
	now := m.now().UTC()
	cp := *d
	cp.TechStack = append([]string(nil), d.TechStack...)
	cp.FetchedAt = now
	m.details[d.LinkID] = &cp

	if l.Status == model.StatusDiscovered {
		l.Status = model.StatusFetched
		l.FetchedAt = &now
	}
	return nil
}

func (m *MemoryStore) DetailByLinkID(ctx context.Context, linkID int64) (*model.JobDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.details[linkID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SaveAnalysis(ctx context.Context, a *model.JobAnalysis) error {
	if err := validateAnalysis(a); err != nil {
		return fmt.Errorf("refusing to persist analysis: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[a.LinkID]
	if !ok {
		return fmt.Errorf("save analysis: link %d: %w", a.LinkID, ErrNotFound)
	}
	now := m.now().UTC()
	cp := *a
	cp.AnalyzedAt = now
	m.analyses[a.LinkID] = &cp

	l.Status = model.StatusAnalyzed
	l.AnalyzedAt = &now
	return nil
}

func (m *MemoryStore) AnalysisByLinkID(ctx context.Context, linkID int64) (*model.JobAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[linkID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) AnalyzedOffers(ctx context.Context, decision model.Decision, limit int) ([]Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var offers []Offer
	for id, a := range m.analyses {
		if decision != "" && a.Decision != decision {
			continue
		}
		o := Offer{Link: *m.links[id]}
		cp := *a
		o.Analysis = &cp
		if d, ok := m.details[id]; ok {
			dc := *d
			o.Detail = &dc
		}
		offers = append(offers, o)
	}
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].Analysis.FitScore != offers[j].Analysis.FitScore {
			return offers[i].Analysis.FitScore > offers[j].Analysis.FitScore
		}
		return offers[i].Link.ID < offers[j].Link.ID
	})
	if limit > 0 && len(offers) > limit {
		offers = offers[:limit]
	}
	return offers, nil
}

func (m *MemoryStore) ListTags(ctx context.Context) ([]model.TagCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tags := make([]model.TagCount, 0, len(m.tags))
	for tag, count := range m.tags {
		tags = append(tags, model.TagCount{Tag: tag, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Tag < tags[j].Tag
	})
	return tags, nil
}

func (m *MemoryStore) RecordTagUse(ctx context.Context, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		m.tags[tag]++
	}
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{
		StatusCounts:   make(map[model.Status]int),
		DecisionCounts: make(map[model.Decision]int),
		FitByDecision:  make(map[model.Decision]FitSummary),
		TagCount:       len(m.tags),
	}
	for _, l := range m.links {
		stats.StatusCounts[l.Status]++
	}
	sums := make(map[model.Decision]int)
	for _, a := range m.analyses {
		fs := stats.FitByDecision[a.Decision]
		if fs.Count == 0 || a.FitScore < fs.Min {
			fs.Min = a.FitScore
		}
		if a.FitScore > fs.Max {
			fs.Max = a.FitScore
		}
		fs.Count++
		sums[a.Decision] += a.FitScore
		stats.FitByDecision[a.Decision] = fs
		stats.DecisionCounts[a.Decision]++
	}
	for d, fs := range stats.FitByDecision {
		fs.Avg = float64(sums[d]) / float64(fs.Count)
		stats.FitByDecision[d] = fs
	}
	return stats, nil
}

func (m *MemoryStore) Wipe(ctx context.Context, full bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.details = make(map[int64]*model.JobDetail)
	m.analyses = make(map[int64]*model.JobAnalysis)
	if full {
		m.links = make(map[int64]*model.JobLink)
		m.byURL = make(map[string]int64)
		m.tags = make(map[string]int64)
		return nil
	}
	for _, l := range m.links {
		l.Status = model.StatusDiscovered
		l.FetchedAt = nil
		l.AnalyzedAt = nil
	}
	return nil
}
