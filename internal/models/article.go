package models

import (
	"time"
)

type ArticleStatus string

const (
	ArticleReceived   ArticleStatus = "received"
	ArticleRewriting  ArticleStatus = "rewriting"
	ArticleRewritten  ArticleStatus = "rewritten"
	ArticlePublishing ArticleStatus = "publishing"
	ArticlePublished  ArticleStatus = "published"
	ArticleFailed     ArticleStatus = "failed"
)

// failed is only reachable from the three in-flight states.
var articleTransitions = map[ArticleStatus][]ArticleStatus{
	ArticleReceived:   {ArticleRewriting},
	ArticleRewriting:  {ArticleRewritten, ArticleFailed},
	ArticleRewritten:  {ArticlePublishing, ArticleFailed},
	ArticlePublishing: {ArticlePublished, ArticleFailed},
}

// CanTransition reports whether an article may move from s to next.
func (s ArticleStatus) CanTransition(next ArticleStatus) bool {
	for _, allowed := range articleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ArticleStatus) Terminal() bool {
	return len(articleTransitions[s]) == 0
}

type Article struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	Title             string        `gorm:"not null;size:500" json:"title"`
	Content           string        `gorm:"type:text" json:"content"`
	Images            StringArray   `gorm:"type:text[]" json:"images"`
	PublishedAt       *time.Time    `json:"published_at"`
	Author            string        `gorm:"size:200" json:"author"`
	SourceURL         string        `gorm:"uniqueIndex;not null;size:1000" json:"source_url"`
	SourceAccountID   string        `gorm:"size:100;index" json:"source_account_id"`
	SourceAccountName string        `gorm:"size:200" json:"source_account_name"`
	Status            ArticleStatus `gorm:"size:50;default:'received';index" json:"status"`
	RewrittenContent  *string       `gorm:"type:text" json:"rewritten_content"`
	CreatedAt         time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// RewriteRecord keeps every rewrite variant produced for an article.
type RewriteRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ArticleID uint      `gorm:"not null;index" json:"article_id"`
	Variant   int       `gorm:"not null" json:"variant"`
	Content   string    `gorm:"type:text" json:"content"`
	Error     string    `gorm:"type:text" json:"error"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
