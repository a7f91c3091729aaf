package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/metrics"
	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service/ingest"
)

type (
	DueTaskSource interface {
		GetDueTasks(ctx context.Context, now time.Time) ([]models.PublishTask, error)
	}

	TaskExecutor interface {
		ExecuteTask(ctx context.Context, task *models.PublishTask) error
	}

	FeedSyncer interface {
		Sync(ctx context.Context) (*ingest.SyncResult, error)
	}

	IntervalStore interface {
		GetInt(ctx context.Context, key string, fallback int) (int, error)
		SetInt(ctx context.Context, key string, value int) error
	}
)

// Scheduler runs the fixed-cadence publish sweep and the resettable feed
// sync job. At most one sweep runs at a time.
type Scheduler struct {
	config   *config.SchedulerConfig
	logger   *zap.Logger
	tasks    DueTaskSource
	executor TaskExecutor
	syncer   FeedSyncer
	settings IntervalStore
	recorder metrics.Recorder
	now      func() time.Time

	cron      gocron.Scheduler
	sweeping  atomic.Bool
	syncCount atomic.Int64

	mu           sync.Mutex
	syncJobID    uuid.UUID
	syncInterval int
}

func NewScheduler(cfg *config.SchedulerConfig, tasks DueTaskSource, executor TaskExecutor, syncer FeedSyncer, settings IntervalStore, recorder metrics.Recorder, logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Scheduler{
		config:       cfg,
		logger:       logger,
		tasks:        tasks,
		executor:     executor,
		syncer:       syncer,
		settings:     settings,
		recorder:     recorder,
		now:          time.Now,
		cron:         cron,
		syncInterval: cfg.SyncIntervalMinutes,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	tick := config.Duration(s.config.PublishTick, time.Minute)
	if _, err := s.cron.NewJob(
		gocron.DurationJob(tick),
		gocron.NewTask(func() { s.Tick(ctx) }),
		gocron.WithName("publish-sweep"),
	); err != nil {
		return fmt.Errorf("failed to schedule publish sweep: %w", err)
	}

	minutes, err := s.settings.GetInt(ctx, models.SettingSyncIntervalMinutes, s.config.SyncIntervalMinutes)
	if err != nil || minutes < 1 {
		s.logger.Warn("Using configured sync interval", zap.Int("minutes", s.config.SyncIntervalMinutes), zap.Error(err))
		minutes = s.config.SyncIntervalMinutes
	}

	s.mu.Lock()
	err = s.installSyncJob(ctx, minutes)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.Duration("publish_tick", tick),
		zap.Int("sync_interval_minutes", minutes))
	return nil
}

func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.logger.Info("Scheduler shutdown completed")
	return nil
}

// Tick runs one sweep of due tasks, or nothing if a sweep is still running.
// Tasks run one after another; a failing task never stops the sweep.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Info("Publish sweep already in progress, skipping tick")
		s.recorder.ObserveSweep("skipped", 0)
		return
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Publish sweep panicked", zap.Any("panic", r))
		}
		s.recorder.ObserveSweep("run", time.Since(start))
	}()

	tasks, err := s.tasks.GetDueTasks(ctx, s.now())
	if err != nil {
		s.logger.Error("Failed to load due tasks", zap.Error(err))
		return
	}
	if len(tasks) == 0 {
		return
	}

	s.logger.Info("Processing due tasks", zap.Int("count", len(tasks)))
	for i := range tasks {
		s.runTask(ctx, &tasks[i])
	}
	s.logger.Info("Publish sweep finished",
		zap.Int("count", len(tasks)),
		zap.Duration("duration", time.Since(start)))
}

func (s *Scheduler) runTask(ctx context.Context, task *models.PublishTask) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Publish task panicked", zap.Uint("task_id", task.ID), zap.Any("panic", r))
		}
	}()

	if err := s.executor.ExecuteTask(ctx, task); err != nil {
		s.logger.Error("Publish task failed",
			zap.Uint("task_id", task.ID),
			zap.String("title", task.Title),
			zap.Error(err))
	}
}

// SetSyncInterval replaces the sync job with one at the new cadence, stores
// the value, and runs one sync right away.
func (s *Scheduler) SetSyncInterval(ctx context.Context, minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("sync interval must be at least 1 minute, got %d", minutes)
	}

	if err := s.settings.SetInt(ctx, models.SettingSyncIntervalMinutes, minutes); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.installSyncJob(ctx, minutes)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Info("Sync interval updated", zap.Int("minutes", minutes))
	s.SyncOnce(ctx)
	return nil
}

// installSyncJob must be called with mu held.
func (s *Scheduler) installSyncJob(ctx context.Context, minutes int) error {
	if s.syncJobID != uuid.Nil {
		if err := s.cron.RemoveJob(s.syncJobID); err != nil {
			s.logger.Warn("Failed to remove previous sync job", zap.Error(err))
		}
		s.syncJobID = uuid.Nil
	}

	jobCtx := context.WithoutCancel(ctx)
	job, err := s.cron.NewJob(
		gocron.DurationJob(time.Duration(minutes)*time.Minute),
		gocron.NewTask(func() { s.SyncOnce(jobCtx) }),
		gocron.WithName("feed-sync"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule feed sync: %w", err)
	}

	s.syncJobID = job.ID()
	s.syncInterval = minutes
	return nil
}

// SyncOnce runs one feed sync. Failures are logged and never propagate.
func (s *Scheduler) SyncOnce(ctx context.Context) {
	s.syncCount.Add(1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.recorder.IncSync("error")
			s.logger.Error("Feed sync panicked", zap.Any("panic", r))
		}
	}()

	result, err := s.syncer.Sync(ctx)
	if err != nil {
		s.recorder.IncSync("error")
		s.logger.Error("Feed sync failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}

	s.recorder.IncSync("ok")
	s.logger.Info("Feed sync completed",
		zap.Int("fetched", result.Fetched),
		zap.Int("ingested", result.Ingested),
		zap.Duration("duration", time.Since(start)))
}

func (s *Scheduler) SyncInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncInterval
}

func (s *Scheduler) SyncCount() int64 {
	return s.syncCount.Load()
}

// Sweeping reports whether a publish sweep is currently running.
func (s *Scheduler) Sweeping() bool {
	return s.sweeping.Load()
}
