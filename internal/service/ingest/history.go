package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service/feed"
	"github.com/ifuryst/cascade/internal/service/store"
)

const maxRewriteVariants = 5

type ImportResult struct {
	Pages    int `json:"pages"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type SyncResult struct {
	Fetched  int `json:"fetched"`
	Ingested int `json:"ingested"`
}

type VariantResult struct {
	Variant int    `json:"variant"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ImportHistory backfills articles from the feed, page by page, until a page
// comes back empty, the reported total is covered, or limit articles were imported (limit <= 0 means no
// limit). Imported articles are stored as received and not processed.
func (p *Pipeline) ImportHistory(ctx context.Context, accountID string, limit int) (*ImportResult, error) {
	result := &ImportResult{}

	for page := 1; ; page++ {
		items, err := p.deps.Feed.ListItems(ctx, accountID, page, p.pageSize)
		if err != nil {
			return result, fmt.Errorf("failed to list feed page %d: %w", page, err)
		}
		if len(items.Items) == 0 {
			break
		}
		result.Pages++
		last := items.Total > 0 && page*p.pageSize >= items.Total

		for _, item := range items.Items {
			if limit > 0 && result.Imported >= limit {
				p.logHistory(accountID, result)
				return result, nil
			}

			created, err := p.insertItem(ctx, item)
			switch {
			case err != nil:
				result.Failed++
				p.logger.Warn("Failed to import feed item", zap.String("item_id", item.ID), zap.Error(err))
			case created:
				result.Imported++
			default:
				result.Skipped++
			}
		}
		if last {
			break
		}
	}

	p.logHistory(accountID, result)
	return result, nil
}

func (p *Pipeline) logHistory(accountID string, result *ImportResult) {
	p.logger.Info("History import finished",
		zap.String("account_id", accountID),
		zap.Int("pages", result.Pages),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
}

// insertItem stores item unless its URL is known, fetching the full body
// when the listing only carried a summary.
func (p *Pipeline) insertItem(ctx context.Context, item feed.Item) (bool, error) {
	existing, err := p.deps.Articles.FindArticleByURL(ctx, item.URL)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	pushed, err := p.pushedFromFeed(ctx, item)
	if err != nil {
		return false, err
	}

	article := newArticle(pushed)
	if err := p.deps.Articles.CreateArticle(ctx, article); err != nil {
		if errors.Is(err, store.ErrDuplicateURL) {
			return false, nil
		}
		return false, err
	}
	p.announce(ctx, article, "")
	return true, nil
}

func (p *Pipeline) pushedFromFeed(ctx context.Context, item feed.Item) (PushedItem, error) {
	content, err := p.deps.Feed.FullContent(ctx, item)
	if err != nil {
		return PushedItem{}, fmt.Errorf("failed to fetch content for %s: %w", item.ID, err)
	}
	return PushedItem{
		Title:       item.Title,
		Content:     content,
		Images:      item.Images,
		Author:      item.Author,
		PublishTime: item.PublishTime,
		AccountID:   item.AccountID,
		AccountName: item.AccountName,
		URL:         item.URL,
	}, nil
}

// Sync pulls the newest feed page and ingests every unseen item exactly like
// a push, including background processing.
func (p *Pipeline) Sync(ctx context.Context) (*SyncResult, error) {
	items, err := p.deps.Feed.ListItems(ctx, "", 1, p.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list feed: %w", err)
	}

	result := &SyncResult{Fetched: len(items.Items)}
	for _, item := range items.Items {
		if strings.TrimSpace(item.URL) == "" {
			continue
		}
		existing, err := p.deps.Articles.FindArticleByURL(ctx, item.URL)
		if err != nil {
			return result, err
		}
		if existing != nil {
			continue
		}

		pushed, err := p.pushedFromFeed(ctx, item)
		if err != nil {
			p.logger.Warn("Skipping feed item", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		res, err := p.Ingest(ctx, pushed)
		if err != nil {
			return result, err
		}
		if !res.Duplicate {
			result.Ingested++
		}
	}

	p.logger.Info("Feed sync finished", zap.Int("fetched", result.Fetched), zap.Int("ingested", result.Ingested))
	return result, nil
}

// RewriteVariants requests n independent rewrites of an article at once and
// records each one. A failed variant is reported, not returned as an error.
func (p *Pipeline) RewriteVariants(ctx context.Context, articleID uint, n int) ([]VariantResult, error) {
	article, err := p.deps.Articles.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		n = 1
	}
	if n > maxRewriteVariants {
		n = maxRewriteVariants
	}

	source := HTMLText(article.Content)
	results := make([]VariantResult, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(variant int) {
			defer wg.Done()
			text, err := p.deps.Rewriter.Rewrite(ctx, source)
			p.saveRewrite(ctx, article.ID, variant, text, err)

			res := VariantResult{Variant: variant, Content: text}
			if err != nil {
				res.Error = err.Error()
			}
			results[variant-1] = res
		}(i + 1)
	}
	wg.Wait()

	return results, nil
}

// ArticleText is the body the remote composer receives for article.
func ArticleText(article *models.Article) string {
	if article.RewrittenContent != nil && strings.TrimSpace(*article.RewrittenContent) != "" {
		return MarkdownText(*article.RewrittenContent)
	}
	return HTMLText(article.Content)
}
