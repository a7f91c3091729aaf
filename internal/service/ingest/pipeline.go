// Package ingest turns pushed or synced feed items into articles and drives
// each article through rewrite, asset staging and publishing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/events"
	"github.com/ifuryst/cascade/internal/metrics"
	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service/feed"
	"github.com/ifuryst/cascade/internal/service/store"
)

type (
	ArticleStore interface {
		CreateArticle(ctx context.Context, article *models.Article) error
		FindArticleByURL(ctx context.Context, sourceURL string) (*models.Article, error)
		GetArticle(ctx context.Context, id uint) (*models.Article, error)
		UpdateArticleStatus(ctx context.Context, id uint, status models.ArticleStatus, rewritten *string) error
		CreateRewriteRecord(ctx context.Context, record *models.RewriteRecord) error
	}

	Rewriter interface {
		Rewrite(ctx context.Context, text string) (string, error)
	}

	AssetStager interface {
		Download(ctx context.Context, urls []string) ([]string, error)
		Cleanup(paths []string)
	}

	// Publisher pushes a rewritten article to the remote site using the
	// already staged asset files.
	Publisher interface {
		PublishArticle(ctx context.Context, article *models.Article, assetPaths []string) error
	}

	FeedSource interface {
		ListItems(ctx context.Context, accountID string, page, pageSize int) (*feed.ItemPage, error)
		FullContent(ctx context.Context, item feed.Item) (string, error)
	}

	FailureRecorder interface {
		RecordArticleFailure(articleID uint, stage string, err error)
	}
)

// ErrMissingURL is returned for an item without a source URL; the URL is the
// dedup key.
var ErrMissingURL = errors.New("source url is required")

// PushedItem is one content item delivered by the feed webhook.
type PushedItem struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Images      []string `json:"images"`
	Author      string   `json:"author"`
	PublishTime int64    `json:"publish_time"`
	AccountID   string   `json:"account_id"`
	AccountName string   `json:"account_name"`
	URL         string   `json:"url"`
}

type IngestResult struct {
	ArticleID uint `json:"article_id"`
	Duplicate bool `json:"duplicate"`
}

type Dependencies struct {
	Articles ArticleStore
	Rewriter Rewriter
	Assets   AssetStager
	// Publisher may be nil; articles then stop at rewritten.
	Publisher Publisher
	Feed      FeedSource
	Failures  FailureRecorder
	Bus       events.Bus
	Recorder  metrics.Recorder
}

type Pipeline struct {
	deps     Dependencies
	logger   *zap.Logger
	pageSize int
	wg       sync.WaitGroup
}

func NewPipeline(deps Dependencies, pageSize int, logger *zap.Logger) *Pipeline {
	if deps.Bus == nil {
		deps.Bus = events.NopBus{}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Pipeline{deps: deps, logger: logger, pageSize: pageSize}
}

func (p *Pipeline) duplicate(existing *models.Article) *IngestResult {
	p.logger.Info("Duplicate source URL, skipping",
		zap.String("url", existing.SourceURL),
		zap.Uint("article_id", existing.ID))
	return &IngestResult{ArticleID: existing.ID, Duplicate: true}
}

// Ingest stores item as a received article and continues processing in the
// background. A source URL seen before is skipped and the existing article's
// id returned.
func (p *Pipeline) Ingest(ctx context.Context, item PushedItem) (*IngestResult, error) {
	if item.URL == "" {
		return nil, ErrMissingURL
	}

	existing, err := p.deps.Articles.FindArticleByURL(ctx, item.URL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return p.duplicate(existing), nil
	}

	article := newArticle(item)
	if err := p.deps.Articles.CreateArticle(ctx, article); err != nil {
		if !errors.Is(err, store.ErrDuplicateURL) {
			return nil, err
		}
		// lost the insert race to a concurrent push of the same URL
		existing, err := p.deps.Articles.FindArticleByURL(ctx, item.URL)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("article for %s vanished after duplicate insert", item.URL)
		}
		return p.duplicate(existing), nil
	}
	p.announce(ctx, article, "")

	p.logger.Info("Article received",
		zap.Uint("article_id", article.ID),
		zap.String("title", article.Title),
		zap.Int("images", len(article.Images)))

	p.continueInBackground(ctx, article)
	return &IngestResult{ArticleID: article.ID}, nil
}

func newArticle(item PushedItem) *models.Article {
	article := &models.Article{
		Title:             item.Title,
		Content:           item.Content,
		Images:            models.StringArray(dedupe(append(append([]string{}, item.Images...), ExtractImageURLs(item.Content)...))),
		Author:            item.Author,
		SourceURL:         item.URL,
		SourceAccountID:   item.AccountID,
		SourceAccountName: item.AccountName,
		Status:            models.ArticleReceived,
	}
	if item.PublishTime > 0 {
		t := time.Unix(item.PublishTime, 0)
		article.PublishedAt = &t
	}
	return article
}

// continueInBackground must not tie the article to the caller's lifetime:
// the push request returns long before rewriting finishes.
func (p *Pipeline) continueInBackground(ctx context.Context, article *models.Article) {
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Article processing panicked",
					zap.Uint("article_id", article.ID),
					zap.Any("panic", r))
			}
		}()
		_ = p.Process(ctx, article)
	}()
}

// Wait blocks until every background continuation has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// Process runs the rewrite, stage and publish chain for a received article.
// The first failure marks the article failed and ends the chain.
func (p *Pipeline) Process(ctx context.Context, article *models.Article) error {
	err := p.process(ctx, article)
	if err != nil {
		p.fail(ctx, article, err)
	}
	return err
}

func (p *Pipeline) process(ctx context.Context, article *models.Article) error {
	if err := p.transition(ctx, article, models.ArticleRewriting, nil); err != nil {
		return &stageError{stage: "rewriting", err: err}
	}

	rewritten, err := p.deps.Rewriter.Rewrite(ctx, HTMLText(article.Content))
	if err != nil {
		return &stageError{stage: "rewrite", err: err}
	}
	if err := p.transition(ctx, article, models.ArticleRewritten, &rewritten); err != nil {
		return &stageError{stage: "rewritten", err: err}
	}
	p.saveRewrite(ctx, article.ID, 0, rewritten, nil)

	if p.deps.Publisher == nil {
		p.logger.Info("Publishing disabled, article stays rewritten", zap.Uint("article_id", article.ID))
		return nil
	}

	if err := p.transition(ctx, article, models.ArticlePublishing, nil); err != nil {
		return &stageError{stage: "publishing", err: err}
	}

	var paths []string
	if len(article.Images) > 0 {
		paths, err = p.deps.Assets.Download(ctx, article.Images)
		if err != nil {
			return &stageError{stage: "assets", err: err}
		}
		defer p.deps.Assets.Cleanup(paths)
	}

	if err := p.deps.Publisher.PublishArticle(ctx, article, paths); err != nil {
		return &stageError{stage: "publish", err: err}
	}
	if err := p.transition(ctx, article, models.ArticlePublished, nil); err != nil {
		return &stageError{stage: "published", err: err}
	}

	p.logger.Info("Article published", zap.Uint("article_id", article.ID))
	return nil
}

func (p *Pipeline) transition(ctx context.Context, article *models.Article, status models.ArticleStatus, rewritten *string) error {
	if err := p.deps.Articles.UpdateArticleStatus(ctx, article.ID, status, rewritten); err != nil {
		return err
	}
	article.Status = status
	if rewritten != nil {
		article.RewrittenContent = rewritten
	}
	p.announce(ctx, article, "")
	return nil
}

func (p *Pipeline) fail(ctx context.Context, article *models.Article, err error) {
	stage := "unknown"
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}

	p.logger.Error("Article processing failed",
		zap.Uint("article_id", article.ID),
		zap.String("stage", stage),
		zap.String("status", string(article.Status)),
		zap.Error(err))

	if p.deps.Failures != nil {
		p.deps.Failures.RecordArticleFailure(article.ID, stage, err)
	}

	if !article.Status.CanTransition(models.ArticleFailed) {
		p.logger.Warn("Article cannot be marked failed from its current status",
			zap.Uint("article_id", article.ID),
			zap.String("status", string(article.Status)))
		return
	}
	if uerr := p.deps.Articles.UpdateArticleStatus(ctx, article.ID, models.ArticleFailed, nil); uerr != nil {
		p.logger.Error("Failed to mark article failed", zap.Uint("article_id", article.ID), zap.Error(uerr))
		return
	}
	article.Status = models.ArticleFailed
	p.announce(ctx, article, err.Error())
}

func (p *Pipeline) announce(ctx context.Context, article *models.Article, errMsg string) {
	p.deps.Recorder.IncArticle(string(article.Status))
	evt := events.StatusChanged{
		Kind:      events.KindArticle,
		ID:        article.ID,
		Status:    string(article.Status),
		Error:     errMsg,
		Timestamp: time.Now(),
	}
	if err := p.deps.Bus.Publish(ctx, evt); err != nil {
		p.logger.Warn("Failed to publish article event", zap.Uint("article_id", article.ID), zap.Error(err))
	}
}

func (p *Pipeline) saveRewrite(ctx context.Context, articleID uint, variant int, content string, rewriteErr error) {
	record := &models.RewriteRecord{ArticleID: articleID, Variant: variant, Content: content}
	if rewriteErr != nil {
		record.Error = rewriteErr.Error()
	}
	if err := p.deps.Articles.CreateRewriteRecord(ctx, record); err != nil {
		p.logger.Warn("Failed to save rewrite record", zap.Uint("article_id", articleID), zap.Error(err))
	}
}
