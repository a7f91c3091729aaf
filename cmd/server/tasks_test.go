package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ifuryst/cascade/internal/models"
)

func TestRenderTasks(t *testing.T) {
	errMsg := "submission rejected: title too long"
	remote := "r-42"
	out := renderTasks([]models.PublishTask{
		{ID: 1, Title: "Promo", ScheduledAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), Status: models.TaskCompleted, RemoteTaskID: &remote},
		{ID: 2, Title: "Now", Immediate: true, Status: models.TaskFailed, Error: &errMsg},
	})

	assert.Contains(t, out, "2026-03-01 09:30:00")
	assert.Contains(t, out, "immediate")
	assert.Contains(t, out, "r-42")
	assert.Contains(t, out, "title too long")
	assert.Contains(t, out, "completed")
}
