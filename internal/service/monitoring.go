package service

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/cascade/internal/models"
)

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// RecordError 记录错误日志
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) {
	if m == nil || m.db == nil {
		return
	}

	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
		Context: "{}",
	}

	for _, option := range options {
		option(errorLog)
	}

	if err := m.db.Create(errorLog).Error; err != nil {
		m.logger.Warn("Failed to record error log", zap.String("title", title), zap.Error(err))
	}
}

// RecordArticleFailure 记录文章处理失败
func (m *MonitoringService) RecordArticleFailure(articleID uint, stage string, err error) {
	m.RecordError("ERROR", "pipeline", fmt.Sprintf("Article %d failed at %s", articleID, stage), err.Error(),
		WithArticle(articleID),
		WithContext(map[string]interface{}{"stage": stage}))
}

// ErrorLogOption 错误日志选项
type ErrorLogOption func(*models.ErrorLog)

// WithTask 设置任务ID
func WithTask(taskID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.TaskID = &taskID
	}
}

// WithArticle 设置文章ID
func WithArticle(articleID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ArticleID = &articleID
	}
}

// WithContext 设置上下文信息
func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = string(contextBytes)
		}
	}
}
