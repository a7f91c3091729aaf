package models

import (
	"time"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskProcessing},
	TaskProcessing: {TaskCompleted, TaskFailed},
}

// CanTransition reports whether a task may move from s to next.
// Completed and failed tasks never move again.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RemoteTimeLayout is the schedule format the remote composer accepts.
const RemoteTimeLayout = "2006-01-02 15:04:05"

type PublishTask struct {
	ID                 uint        `gorm:"primaryKey" json:"id"`
	UserID             uint        `gorm:"not null;index" json:"user_id"`
	ArticleID          *uint       `gorm:"index" json:"article_id"`
	Title              string      `gorm:"size:500" json:"title"`
	Content            string      `gorm:"type:text" json:"content"`
	Images             StringArray `gorm:"type:text[]" json:"images"`
	AccountID          *uint       `json:"account_id"`
	ScheduledAt        time.Time   `gorm:"not null;index" json:"scheduled_at"`
	Immediate          bool        `gorm:"default:false" json:"immediate"`
	RandomDelayMinutes int         `gorm:"default:0" json:"random_delay_minutes"`
	RandomFiller       bool        `gorm:"default:false" json:"random_filler"`
	Status             TaskStatus  `gorm:"size:50;default:'pending';index" json:"status"`
	Error              *string     `gorm:"type:text" json:"error"`
	RemoteTaskID       *string     `gorm:"size:100" json:"remote_task_id"`
	CreatedAt          time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsDue reports whether the task should be picked up by a sweep at now.
func (t *PublishTask) IsDue(now time.Time) bool {
	return t.Status == TaskPending && !t.ScheduledAt.After(now)
}
