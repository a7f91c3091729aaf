package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service/feed"
	"github.com/ifuryst/cascade/internal/service/store"
)

var errNotFound = errors.New("not found")

type memArticles struct {
	mu       sync.Mutex
	nextID   uint
	byID     map[uint]*models.Article
	history  map[uint][]models.ArticleStatus
	rewrites []models.RewriteRecord
}

func newMemArticles() *memArticles {
	return &memArticles{byID: map[uint]*models.Article{}, history: map[uint][]models.ArticleStatus{}}
}

func (m *memArticles) CreateArticle(_ context.Context, a *models.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.SourceURL == a.SourceURL {
			return store.ErrDuplicateURL
		}
	}
	m.nextID++
	a.ID = m.nextID
	cp := *a
	m.byID[a.ID] = &cp
	m.history[a.ID] = []models.ArticleStatus{a.Status}
	return nil
}

func (m *memArticles) FindArticleByURL(_ context.Context, url string) (*models.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.SourceURL == url {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memArticles) GetArticle(_ context.Context, id uint) (*models.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memArticles) UpdateArticleStatus(_ context.Context, id uint, status models.ArticleStatus, rewritten *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return errNotFound
	}
	if !a.Status.CanTransition(status) {
		return fmt.Errorf("illegal %s -> %s", a.Status, status)
	}
	a.Status = status
	if rewritten != nil {
		a.RewrittenContent = rewritten
	}
	m.history[id] = append(m.history[id], status)
	return nil
}

func (m *memArticles) CreateRewriteRecord(_ context.Context, r *models.RewriteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewrites = append(m.rewrites, *r)
	return nil
}

func (m *memArticles) get(id uint) models.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *memArticles) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type fakeRewriter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRewriter) Rewrite(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("**rewritten** %s #%d", text, f.calls), nil
}

type fakeAssets struct {
	mu         sync.Mutex
	downloaded []string
	cleaned    []string
	err        error
}

func (f *fakeAssets) Download(_ context.Context, urls []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.downloaded = append(f.downloaded, urls...)
	paths := make([]string, len(urls))
	for i := range urls {
		paths[i] = fmt.Sprintf("/tmp/stage/%d.jpg", i)
	}
	return paths, nil
}

func (f *fakeAssets) Cleanup(paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, paths...)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []uint
	paths     []string
	err       error
}

func (f *fakePublisher) PublishArticle(_ context.Context, a *models.Article, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, a.ID)
	f.paths = append(f.paths, paths...)
	return nil
}

type fakeFeed struct {
	pages       [][]feed.Item
	total       int
	repeatLast  bool
	listCalls   int
	detailCalls int
}

func (f *fakeFeed) ListItems(_ context.Context, _ string, page, _ int) (*feed.ItemPage, error) {
	f.listCalls++
	if page > len(f.pages) {
		if !f.repeatLast || len(f.pages) == 0 {
			return &feed.ItemPage{Total: f.total}, nil
		}
		page = len(f.pages)
	}
	return &feed.ItemPage{Items: f.pages[page-1], Total: f.total}, nil
}

func (f *fakeFeed) FullContent(_ context.Context, item feed.Item) (string, error) {
	if item.Content != "" {
		return item.Content, nil
	}
	f.detailCalls++
	return "<p>full " + item.ID + "</p>", nil
}

type fakeFailures struct {
	mu     sync.Mutex
	stages []string
}

func (f *fakeFailures) RecordArticleFailure(_ uint, stage string, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

// racingArticles holds the first n lookups until all of them missed, so
// concurrent pushes of one URL all reach CreateArticle.
type racingArticles struct {
	*memArticles
	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func newRacingArticles(n int) *racingArticles {
	return &racingArticles{memArticles: newMemArticles(), waiting: n, release: make(chan struct{})}
}

func (r *racingArticles) FindArticleByURL(ctx context.Context, url string) (*models.Article, error) {
	a, err := r.memArticles.FindArticleByURL(ctx, url)

	r.mu.Lock()
	if r.waiting == 0 {
		r.mu.Unlock()
		return a, err
	}
	r.waiting--
	if r.waiting == 0 {
		close(r.release)
	}
	r.mu.Unlock()

	<-r.release
	return a, err
}
