package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/events"
	"github.com/ifuryst/cascade/internal/metrics"
	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service/automation"
	"github.com/ifuryst/cascade/internal/service/ingest"
	"github.com/ifuryst/cascade/pkg/util"
)

const (
	// The remote task table shows only the start of each post body.
	contentPrefixRunes = 20
	maxErrorLength     = 2000
)

// ErrInvalidTask is returned when a task request is missing required fields.
var ErrInvalidTask = errors.New("invalid publish task")

type (
	TaskStore interface {
		CreateTask(ctx context.Context, task *models.PublishTask) error
		CreateClaimedTask(ctx context.Context, task *models.PublishTask) error
		GetTask(ctx context.Context, id uint) (*models.PublishTask, error)
		MarkProcessing(ctx context.Context, id uint) (bool, error)
		UpdateTaskStatus(ctx context.Context, id uint, status models.TaskStatus, errMsg, remoteTaskID string) error
		ListUserTasks(ctx context.Context, userID uint, page, pageSize int) ([]models.PublishTask, int64, error)
	}

	RemoteDriver interface {
		ResolveAccount(ctx context.Context, userID uint, accountID *uint) (*models.RemoteAccount, error)
		Publish(ctx context.Context, task *models.PublishTask, assetPaths []string) (*automation.PublishResult, error)
		PublishBatch(ctx context.Context, first *models.PublishTask, followUps []*models.PublishTask, account *models.RemoteAccount, assetPaths []string) error
		DeleteByTitle(ctx context.Context, title string, account *models.RemoteAccount) (bool, error)
		DeleteByTitleAndContent(ctx context.Context, title, contentPrefix string, account *models.RemoteAccount) (bool, error)
	}
)

// PublisherService executes publish tasks against the remote site and
// records their outcome.
type PublisherService struct {
	logger            *zap.Logger
	config            *config.IngestConfig
	tasks             TaskStore
	driver            RemoteDriver
	assets            ingest.AssetStager
	bus               events.Bus
	recorder          metrics.Recorder
	monitoringService *MonitoringService
}

func NewPublisherService(cfg *config.IngestConfig, tasks TaskStore, driver RemoteDriver, assets ingest.AssetStager, bus events.Bus, recorder metrics.Recorder, monitoring *MonitoringService, logger *zap.Logger) *PublisherService {
	if bus == nil {
		bus = events.NopBus{}
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &PublisherService{
		logger:            logger,
		config:            cfg,
		tasks:             tasks,
		driver:            driver,
		assets:            assets,
		bus:               bus,
		recorder:          recorder,
		monitoringService: monitoring,
	}
}

// CreateTask validates and stores a pending task for the scheduler.
func (s *PublisherService) CreateTask(ctx context.Context, task *models.PublishTask) error {
	if task.UserID == 0 {
		return fmt.Errorf("%w: user_id is required", ErrInvalidTask)
	}
	if strings.TrimSpace(task.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if task.RandomDelayMinutes < 0 {
		return fmt.Errorf("%w: random_delay_minutes must not be negative", ErrInvalidTask)
	}
	if task.Immediate || task.ScheduledAt.IsZero() {
		task.ScheduledAt = time.Now()
	}

	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return err
	}
	s.logger.Info("Publish task created",
		zap.Uint("task_id", task.ID),
		zap.Uint("user_id", task.UserID),
		zap.Time("scheduled_at", task.ScheduledAt))
	s.announce(ctx, task, "")
	return nil
}

func (s *PublisherService) GetTask(ctx context.Context, id uint) (*models.PublishTask, error) {
	return s.tasks.GetTask(ctx, id)
}

func (s *PublisherService) ListTasks(ctx context.Context, userID uint, page, pageSize int) ([]models.PublishTask, int64, error) {
	return s.tasks.ListUserTasks(ctx, userID, page, pageSize)
}

// ExecuteTask claims a due task and publishes it. The task is marked
// completed or failed before ExecuteTask returns.
func (s *PublisherService) ExecuteTask(ctx context.Context, task *models.PublishTask) error {
	claimed, err := s.tasks.MarkProcessing(ctx, task.ID)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Info("Task already claimed, skipping", zap.Uint("task_id", task.ID))
		return nil
	}
	task.Status = models.TaskProcessing
	s.announce(ctx, task, "")

	var paths []string
	if len(task.Images) > 0 {
		paths, err = s.assets.Download(ctx, task.Images)
		if err != nil {
			return s.finish(ctx, task, "", fmt.Errorf("failed to stage assets: %w", err))
		}
		defer s.assets.Cleanup(paths)
	}

	result, err := s.driver.Publish(ctx, task, paths)
	if err != nil {
		return s.finish(ctx, task, "", err)
	}
	return s.finish(ctx, task, result.RemoteTaskID, nil)
}

// PublishArticle publishes a rewritten article right away as a task owned
// by the configured ingest user.
func (s *PublisherService) PublishArticle(ctx context.Context, article *models.Article, assetPaths []string) error {
	articleID := article.ID
	task := &models.PublishTask{
		UserID:    s.config.OwnerUserID,
		ArticleID: &articleID,
		Title:     article.Title,
		Content:   ingest.ArticleText(article),
		Images:    article.Images,
		Immediate: true,
	}
	if err := s.tasks.CreateClaimedTask(ctx, task); err != nil {
		return err
	}
	s.announce(ctx, task, "")

	result, err := s.driver.Publish(ctx, task, assetPaths)
	if err != nil {
		return s.finish(ctx, task, "", err)
	}
	return s.finish(ctx, task, result.RemoteTaskID, nil)
}

// finish records the terminal status of a processing task and returns
// cause unchanged.
func (s *PublisherService) finish(ctx context.Context, task *models.PublishTask, remoteTaskID string, cause error) error {
	status, errMsg := models.TaskCompleted, ""
	if cause != nil {
		status, errMsg = models.TaskFailed, util.Truncate(cause.Error(), maxErrorLength)
	}

	if err := s.tasks.UpdateTaskStatus(ctx, task.ID, status, errMsg, remoteTaskID); err != nil {
		s.logger.Error("Failed to update task status",
			zap.Uint("task_id", task.ID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
	task.Status = status
	s.recorder.IncTask(string(status))
	s.announce(ctx, task, errMsg)

	if cause != nil {
		s.logger.Error("Publish task failed", zap.Uint("task_id", task.ID), zap.Error(cause))
		s.monitoringService.RecordError("ERROR", "publisher",
			fmt.Sprintf("Task %d failed", task.ID), errMsg, WithTask(task.ID))
		return cause
	}

	if remoteTaskID != "" {
		task.RemoteTaskID = &remoteTaskID
	}
	s.logger.Info("Publish task completed",
		zap.Uint("task_id", task.ID),
		zap.String("remote_task_id", remoteTaskID))
	return nil
}

func (s *PublisherService) announce(ctx context.Context, task *models.PublishTask, errMsg string) {
	evt := events.StatusChanged{
		Kind:      events.KindTask,
		ID:        task.ID,
		Status:    string(task.Status),
		Error:     errMsg,
		Timestamp: time.Now(),
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Warn("Failed to publish task event", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}

// ChainRequest describes a follow-chain: one post published now and
// replicated once per follow-up with its own title and schedule.
type ChainRequest struct {
	UserID    uint                 `json:"user_id"`
	AccountID *uint                `json:"account_id"`
	First     models.PublishTask   `json:"first"`
	FollowUps []models.PublishTask `json:"follow_ups"`
}

func (r *ChainRequest) Validate() error {
	if r.UserID == 0 {
		return fmt.Errorf("%w: user_id is required", ErrInvalidTask)
	}
	if strings.TrimSpace(r.First.Title) == "" {
		return fmt.Errorf("%w: first.title is required", ErrInvalidTask)
	}
	for i, f := range r.FollowUps {
		if strings.TrimSpace(f.Title) == "" {
			return fmt.Errorf("%w: follow_ups[%d].title is required", ErrInvalidTask, i)
		}
		if f.ScheduledAt.IsZero() {
			return fmt.Errorf("%w: follow_ups[%d].scheduled_at is required", ErrInvalidTask, i)
		}
	}
	return nil
}

// PublishChain runs a follow-chain in one remote session. Nothing is
// persisted as tasks; a failure is logged and recorded.
func (s *PublisherService) PublishChain(ctx context.Context, req ChainRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	account, err := s.driver.ResolveAccount(ctx, req.UserID, req.AccountID)
	if err != nil {
		return err
	}

	first := req.First
	first.UserID = req.UserID
	first.Immediate = true
	followUps := make([]*models.PublishTask, len(req.FollowUps))
	for i := range req.FollowUps {
		f := req.FollowUps[i]
		f.UserID = req.UserID
		followUps[i] = &f
	}

	var paths []string
	if len(first.Images) > 0 {
		paths, err = s.assets.Download(ctx, first.Images)
		if err != nil {
			return fmt.Errorf("failed to stage assets: %w", err)
		}
		defer s.assets.Cleanup(paths)
	}

	start := time.Now()
	if err := s.driver.PublishBatch(ctx, &first, followUps, account, paths); err != nil {
		s.logger.Error("Follow-chain failed",
			zap.String("title", first.Title),
			zap.Int("follow_ups", len(followUps)),
			zap.Error(err))
		s.monitoringService.RecordError("ERROR", "chain",
			fmt.Sprintf("Follow-chain %q failed", first.Title), err.Error(),
			WithContext(map[string]interface{}{"user_id": req.UserID, "follow_ups": len(followUps)}))
		return err
	}

	s.logger.Info("Follow-chain published",
		zap.String("title", first.Title),
		zap.Int("follow_ups", len(followUps)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// DeleteRemote removes a remote task by title. With a content prefix only a
// row whose content also matches is removed.
func (s *PublisherService) DeleteRemote(ctx context.Context, userID uint, accountID *uint, title, contentPrefix string) (bool, error) {
	if strings.TrimSpace(title) == "" {
		return false, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}

	account, err := s.driver.ResolveAccount(ctx, userID, accountID)
	if err != nil {
		return false, err
	}

	prefix := util.ContentPrefix(contentPrefix, contentPrefixRunes)
	if prefix == "" {
		return s.driver.DeleteByTitle(ctx, title, account)
	}
	return s.driver.DeleteByTitleAndContent(ctx, title, prefix, account)
}
