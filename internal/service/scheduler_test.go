package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service/ingest"
)

type memTaskSource struct {
	tasks []models.PublishTask
}

func (m *memTaskSource) GetDueTasks(_ context.Context, now time.Time) ([]models.PublishTask, error) {
	var due []models.PublishTask
	for _, t := range m.tasks {
		if t.IsDue(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

type recordingExecutor struct {
	mu      sync.Mutex
	ran     []uint
	fail    map[uint]bool
	block   chan struct{}
	started chan struct{}
}

func (r *recordingExecutor) ExecuteTask(_ context.Context, task *models.PublishTask) error {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, task.ID)
	if r.fail[task.ID] {
		return errors.New("remote rejected")
	}
	if task.Title == "panic" {
		panic("boom")
	}
	return nil
}

func (r *recordingExecutor) calls() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint(nil), r.ran...)
}

type countingSyncer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingSyncer) Sync(context.Context) (*ingest.SyncResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &ingest.SyncResult{}, nil
}

type memSettings struct {
	values map[string]int
}

func (m *memSettings) GetInt(_ context.Context, key string, fallback int) (int, error) {
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return fallback, nil
}

func (m *memSettings) SetInt(_ context.Context, key string, value int) error {
	m.values[key] = value
	return nil
}

func newTestScheduler(t *testing.T, tasks DueTaskSource, exec TaskExecutor, syncer FeedSyncer, logger *zap.Logger) (*Scheduler, *memSettings) {
	t.Helper()
	settings := &memSettings{values: map[string]int{}}
	cfg := &config.SchedulerConfig{Enabled: true, PublishTick: "1h", SyncIntervalMinutes: 30}
	s, err := NewScheduler(cfg, tasks, exec, syncer, settings, nil, logger)
	require.NoError(t, err)
	return s, settings
}

func TestTickProcessesOnlyDueTasks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tasks := &memTaskSource{tasks: []models.PublishTask{
		{ID: 1, Status: models.TaskPending, ScheduledAt: now.Add(-10 * time.Second)},
		{ID: 2, Status: models.TaskPending, ScheduledAt: now.Add(time.Hour)},
	}}
	exec := &recordingExecutor{}
	s, _ := newTestScheduler(t, tasks, exec, &countingSyncer{}, zap.NewNop())
	s.now = func() time.Time { return now }

	s.Tick(context.Background())

	assert.Equal(t, []uint{1}, exec.calls())
	assert.Equal(t, models.TaskPending, tasks.tasks[1].Status)
	assert.False(t, s.Sweeping())
}

func TestTickContinuesAfterTaskFailure(t *testing.T) {
	now := time.Now()
	tasks := &memTaskSource{tasks: []models.PublishTask{
		{ID: 1, Status: models.TaskPending, ScheduledAt: now.Add(-3 * time.Minute)},
		{ID: 2, Title: "panic", Status: models.TaskPending, ScheduledAt: now.Add(-2 * time.Minute)},
		{ID: 3, Status: models.TaskPending, ScheduledAt: now.Add(-time.Minute)},
	}}
	exec := &recordingExecutor{fail: map[uint]bool{1: true}}
	s, _ := newTestScheduler(t, tasks, exec, &countingSyncer{}, zap.NewNop())

	s.Tick(context.Background())

	assert.Equal(t, []uint{1, 2, 3}, exec.calls())
	assert.False(t, s.Sweeping())
}

func TestTickIsSingleFlight(t *testing.T) {
	tasks := &memTaskSource{tasks: []models.PublishTask{
		{ID: 1, Status: models.TaskPending, ScheduledAt: time.Now().Add(-time.Minute)},
	}}
	exec := &recordingExecutor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	core, logs := observer.New(zapcore.InfoLevel)
	s, _ := newTestScheduler(t, tasks, exec, &countingSyncer{}, zap.New(core))

	done := make(chan struct{})
	go func() {
		s.Tick(context.Background())
		close(done)
	}()
	<-exec.started
	assert.True(t, s.Sweeping())

	s.Tick(context.Background())
	assert.Equal(t, 1, logs.FilterMessage("Publish sweep already in progress, skipping tick").Len())

	close(exec.block)
	<-done

	assert.Equal(t, []uint{1}, exec.calls())
	assert.False(t, s.Sweeping())
}

func TestSetSyncIntervalRunsOnceAndPersists(t *testing.T) {
	syncer := &countingSyncer{}
	s, settings := newTestScheduler(t, &memTaskSource{}, &recordingExecutor{}, syncer, zap.NewNop())

	require.NoError(t, s.SetSyncInterval(context.Background(), 5))

	assert.Equal(t, int64(1), s.SyncCount())
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, 5, s.SyncInterval())
	assert.Equal(t, 5, settings.values[models.SettingSyncIntervalMinutes])

	require.NoError(t, s.SetSyncInterval(context.Background(), 10))
	assert.Equal(t, int64(2), s.SyncCount())
	assert.Equal(t, 10, s.SyncInterval())

	assert.Error(t, s.SetSyncInterval(context.Background(), 0))
	assert.Equal(t, 10, s.SyncInterval())
}

func TestSyncOnceSwallowsErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	s, _ := newTestScheduler(t, &memTaskSource{}, &recordingExecutor{}, &countingSyncer{err: errors.New("feed down")}, zap.New(core))

	assert.NotPanics(t, func() { s.SyncOnce(context.Background()) })
	assert.Equal(t, int64(1), s.SyncCount())
	assert.Equal(t, 1, logs.FilterMessage("Feed sync failed").Len())
}

func TestStartUsesPersistedInterval(t *testing.T) {
	s, settings := newTestScheduler(t, &memTaskSource{}, &recordingExecutor{}, &countingSyncer{}, zap.NewNop())
	settings.values[models.SettingSyncIntervalMinutes] = 7

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 7, s.SyncInterval())
	assert.Equal(t, int64(0), s.SyncCount())
}
