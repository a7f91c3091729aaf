package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/cascade/internal/models"
)

type ArticleStore struct {
	db *gorm.DB
}

func NewArticleStore(db *gorm.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// CreateArticle inserts article and returns ErrDuplicateURL when another
// article already holds its source URL.
func (s *ArticleStore) CreateArticle(ctx context.Context, article *models.Article) error {
	if article.Status == "" {
		article.Status = models.ArticleReceived
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_url"}}, DoNothing: true}).
		Create(article)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateURL
		}
		return fmt.Errorf("failed to create article: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateURL
	}
	return nil
}

// FindArticleByURL returns nil without error when no article has the URL.
func (s *ArticleStore) FindArticleByURL(ctx context.Context, sourceURL string) (*models.Article, error) {
	var article models.Article
	err := s.db.WithContext(ctx).Where("source_url = ?", sourceURL).First(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query article by url: %w", err)
	}
	return &article, nil
}

func (s *ArticleStore) GetArticle(ctx context.Context, id uint) (*models.Article, error) {
	var article models.Article
	err := s.db.WithContext(ctx).First(&article, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article %d: %w", id, err)
	}
	return &article, nil
}

// UpdateArticleStatus moves the article to status, storing rewritten when
// it is non-nil. Transitions outside the article lattice are rejected.
func (s *ArticleStore) UpdateArticleStatus(ctx context.Context, id uint, status models.ArticleStatus, rewritten *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var article models.Article
		if err := tx.Select("id", "status").First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load article %d: %w", id, err)
		}

		if !article.Status.CanTransition(status) {
			return fmt.Errorf("%w: article %d %s -> %s", ErrInvalidTransition, id, article.Status, status)
		}

		updates := map[string]interface{}{"status": status}
		if rewritten != nil {
			updates["rewritten_content"] = *rewritten
		}

		if err := tx.Model(&models.Article{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update article %d: %w", id, err)
		}
		return nil
	})
}

func (s *ArticleStore) DeleteArticlesByAccount(ctx context.Context, sourceAccountID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("source_account_id = ?", sourceAccountID).Delete(&models.Article{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete articles for account %s: %w", sourceAccountID, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *ArticleStore) CreateRewriteRecord(ctx context.Context, record *models.RewriteRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create rewrite record: %w", err)
	}
	return nil
}
