package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ifuryst/cascade/internal/models"
)

type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// CreateTask inserts a new task; every task starts pending.
func (s *TaskStore) CreateTask(ctx context.Context, task *models.PublishTask) error {
	task.Status = models.TaskPending
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create publish task: %w", err)
	}
	return nil
}

// CreateClaimedTask inserts a task that is already processing, for callers
// that execute it themselves right away. The scheduler never sees it as due.
func (s *TaskStore) CreateClaimedTask(ctx context.Context, task *models.PublishTask) error {
	task.Status = models.TaskProcessing
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create publish task: %w", err)
	}
	return nil
}

func (s *TaskStore) GetTask(ctx context.Context, id uint) (*models.PublishTask, error) {
	var task models.PublishTask
	err := s.db.WithContext(ctx).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return &task, nil
}

// GetDueTasks returns pending tasks scheduled at or before now, oldest first.
func (s *TaskStore) GetDueTasks(ctx context.Context, now time.Time) ([]models.PublishTask, error) {
	var tasks []models.PublishTask
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.TaskPending, now).
		Order("scheduled_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to get due tasks: %w", err)
	}
	return tasks, nil
}

// MarkProcessing claims a pending task. It returns false when another
// caller already moved the task out of pending.
func (s *TaskStore) MarkProcessing(ctx context.Context, id uint) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.PublishTask{}).
		Where("id = ? AND status = ?", id, models.TaskPending).
		Update("status", models.TaskProcessing)
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim task %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *TaskStore) UpdateTaskStatus(ctx context.Context, id uint, status models.TaskStatus, errMsg, remoteTaskID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.PublishTask
		if err := tx.Select("id", "status").First(&task, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load task %d: %w", id, err)
		}

		if !task.Status.CanTransition(status) {
			return fmt.Errorf("%w: task %d %s -> %s", ErrInvalidTransition, id, task.Status, status)
		}

		updates := map[string]interface{}{"status": status}
		if errMsg != "" {
			updates["error"] = errMsg
		}
		if remoteTaskID != "" {
			updates["remote_task_id"] = remoteTaskID
		}

		if err := tx.Model(&models.PublishTask{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update task %d: %w", id, err)
		}
		return nil
	})
}

func (s *TaskStore) ListUserTasks(ctx context.Context, userID uint, page, pageSize int) ([]models.PublishTask, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.PublishTask{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	var tasks []models.PublishTask
	if err := query.Order("scheduled_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tasks).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, total, nil
}
