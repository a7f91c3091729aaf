package automation

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/models"
)

type fakeAccounts struct {
	account *models.RemoteAccount
}

func (f *fakeAccounts) GetDefaultAccount(context.Context, uint) (*models.RemoteAccount, error) {
	return f.account, nil
}

func (f *fakeAccounts) GetAccount(_ context.Context, _ uint, id uint) (*models.RemoteAccount, error) {
	if f.account != nil && f.account.ID == id {
		return f.account, nil
	}
	return nil, nil
}

func testAccount() *models.RemoteAccount {
	return &models.RemoteAccount{ID: 7, UserID: 1, Username: "alice", Password: "secret", IsDefault: true}
}

func newTestDriver(t *testing.T, site *fakeSite, logger *zap.Logger, screenshotDir string) *Driver {
	t.Helper()
	cfg := &config.RemoteConfig{
		BaseURL:       "https://remote.test/",
		LoginPath:     "/login",
		HomePath:      "/index",
		ScreenshotDir: screenshotDir,
		Timings: config.TimingsConfig{
			Navigation: "40ms",
			Step:       "20ms",
			Fallback:   "1ms",
			Submit:     "40ms",
		},
	}
	waiter := NewWaiter(logger, time.Millisecond, nil)
	return NewDriver(cfg, site, &fakeAccounts{account: testAccount()}, NewLocatorSet(DefaultLocators()), waiter, logger)
}

func scheduledTask(title string) *models.PublishTask {
	return &models.PublishTask{
		ID:                 1,
		UserID:             1,
		Title:              title,
		Content:            "Hello world",
		ScheduledAt:        time.Date(2026, 5, 1, 9, 30, 0, 0, time.Local),
		RandomDelayMinutes: 5,
	}
}

func TestPublishScheduledTaskWithAssets(t *testing.T) {
	site := newFakeSite()
	d := newTestDriver(t, site, zap.NewNop(), "")

	res, err := d.Publish(context.Background(), scheduledTask("Launch"), []string{"/tmp/a.jpg", "/tmp/b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "1001", res.RemoteTaskID)

	c := site.loc.Compose
	assert.Equal(t, "2026-05-01 09:30:00", site.fields[c.ScheduleTime])
	assert.Equal(t, "5", site.fields[c.RandomDelay])
	assert.True(t, site.clicked("Select all"))
	assert.True(t, site.clicked("Image"))
	assert.False(t, site.clicked("immediate"))
	assert.Equal(t, []string{"/tmp/a.jpg", "/tmp/b.jpg"}, site.attached)
	assert.Equal(t, []string{"Launch"}, site.titles())
	assert.Equal(t, 1, site.closed)
}

func TestPublishFallsBackToFirstSubAccount(t *testing.T) {
	site := newFakeSite()
	site.noSelectAll = true
	d := newTestDriver(t, site, zap.NewNop(), "")

	_, err := d.Publish(context.Background(), scheduledTask("Launch"), nil)
	require.NoError(t, err)
	assert.True(t, site.clicked("first-sub-account"))
	assert.False(t, site.clicked("Image"))
}

func TestPublishImmediateMissingRowIsOnlyWarning(t *testing.T) {
	site := newFakeSite()
	site.hideNewRows = true
	core, logs := observer.New(zapcore.WarnLevel)
	d := newTestDriver(t, site, zap.New(core), "")

	task := scheduledTask("Flash")
	task.Immediate = true

	res, err := d.Publish(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Empty(t, res.RemoteTaskID)
	assert.True(t, site.clicked("immediate"))
	assert.NotContains(t, site.fields, site.loc.Compose.ScheduleTime)
	assert.Equal(t, 1, logs.FilterMessage("Submitted task not visible in task table").Len())
}

func TestPublishBadCredentials(t *testing.T) {
	site := newFakeSite()
	site.password = "other"
	dir := t.TempDir()
	d := newTestDriver(t, site, zap.NewNop(), dir)

	_, err := d.Publish(context.Background(), scheduledTask("Launch"), nil)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.URL, "/login")
	assert.Equal(t, 1, site.closed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoginRedirectQueryIsNotHomePage(t *testing.T) {
	site := newFakeSite()
	site.password = "other"
	site.rejectLocation = "https://remote.test/login?redirect=/index"
	d := newTestDriver(t, site, zap.NewNop(), t.TempDir())

	_, err := d.Publish(context.Background(), scheduledTask("Launch"), nil)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "https://remote.test/login?redirect=/index", authErr.URL)
	assert.Zero(t, site.submits)
}

func TestOnHomePage(t *testing.T) {
	d := &Driver{homePath: "/index"}
	assert.True(t, d.onHomePage("https://remote.test/index"))
	assert.True(t, d.onHomePage("https://remote.test/index/dashboard?tab=1"))
	assert.False(t, d.onHomePage("https://remote.test/login?redirect=/index"))
	assert.False(t, d.onHomePage("https://remote.test/indexes"))
	assert.False(t, d.onHomePage("https://remote.test/login#/index"))
}

func TestPublishMissingComposeTrigger(t *testing.T) {
	site := newFakeSite()
	site.missingCompose = true
	d := newTestDriver(t, site, zap.NewNop(), "")

	_, err := d.Publish(context.Background(), scheduledTask("Launch"), nil)
	var uiErr *UiElementNotFound
	require.ErrorAs(t, err, &uiErr)
	assert.Equal(t, "compose trigger", uiErr.Control)
	assert.Equal(t, 1, site.closed)
}

func TestPublishErrorToast(t *testing.T) {
	site := newFakeSite()
	site.errorToast = "Daily quota exceeded"
	d := newTestDriver(t, site, zap.NewNop(), "")

	_, err := d.Publish(context.Background(), scheduledTask("Launch"), nil)
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "Daily quota exceeded", subErr.Message)
	assert.Empty(t, site.titles())
}

func TestPublishValidationError(t *testing.T) {
	site := newFakeSite()
	site.validationError = "Publish time must be in the future"
	d := newTestDriver(t, site, zap.NewNop(), "")

	_, err := d.Publish(context.Background(), scheduledTask("Launch"), nil)
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "Publish time must be in the future", subErr.Message)
}

func TestPublishWithoutAccount(t *testing.T) {
	site := newFakeSite()
	d := newTestDriver(t, site, zap.NewNop(), "")
	d.accounts = &fakeAccounts{}

	_, err := d.Publish(context.Background(), scheduledTask("Launch"), nil)
	assert.ErrorIs(t, err, ErrNoAccount)
	assert.Equal(t, 0, site.launches)
}

func TestLaunchRetriedOnce(t *testing.T) {
	site := newFakeSite()
	site.failLaunches = 1
	d := newTestDriver(t, site, zap.NewNop(), "")

	_, err := d.Publish(context.Background(), scheduledTask("Launch"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, site.launches)

	site.failLaunches = 2
	site.launches = 0
	_, err = d.Publish(context.Background(), scheduledTask("Again"), nil)
	require.Error(t, err)
	assert.Equal(t, 2, site.launches)
}

func TestReplicateSourceMissing(t *testing.T) {
	site := newFakeSite()
	site.addRow("Other", "x")
	d := newTestDriver(t, site, zap.NewNop(), "")

	err := d.Replicate(context.Background(), "Launch", scheduledTask("Launch 2"), testAccount())
	var notFound *SourceTaskNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Launch", notFound.Title)
}

func TestReplicateKeepsAudience(t *testing.T) {
	site := newFakeSite()
	site.addRow("Launch", "Hello world")
	d := newTestDriver(t, site, zap.NewNop(), "")

	next := scheduledTask("Launch 2")
	next.Content = ""
	require.NoError(t, d.Replicate(context.Background(), "Launch", next, testAccount()))

	assert.Equal(t, []string{"Launch", "Launch 2"}, site.titles())
	assert.False(t, site.clicked("Select all"))
	assert.Equal(t, "Hello world", site.rows[1].content)
}

func TestDeleteByTitle(t *testing.T) {
	site := newFakeSite()
	site.addRow("Promo", "Hello world")
	site.addRow("Keep", "x")
	d := newTestDriver(t, site, zap.NewNop(), "")

	deleted, err := d.DeleteByTitle(context.Background(), "Absent", testAccount())
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = d.DeleteByTitle(context.Background(), "Promo", testAccount())
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"Keep"}, site.titles())
	assert.Equal(t, 2, site.closed)
}

func TestDeleteByTitleAndContentMismatch(t *testing.T) {
	site := newFakeSite()
	site.addRow("Promo", "Goodbye")
	core, logs := observer.New(zapcore.WarnLevel)
	d := newTestDriver(t, site, zap.New(core), "")

	deleted, err := d.DeleteByTitleAndContent(context.Background(), "Promo", "Hello world", testAccount())
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, []string{"Promo"}, site.titles())
	assert.Equal(t, 1, logs.FilterMessageSnippet("content did not").Len())
}

func TestDeleteByTitleAndContentMatch(t *testing.T) {
	site := newFakeSite()
	site.addRow("Promo", "Goodbye")
	site.addRow("Promo", "Hello world, again")
	d := newTestDriver(t, site, zap.NewNop(), "")

	deleted, err := d.DeleteByTitleAndContent(context.Background(), "Promo", "Hello world", testAccount())
	require.NoError(t, err)
	assert.True(t, deleted)
	require.Len(t, site.rows, 1)
	assert.Equal(t, "Goodbye", site.rows[0].content)
}

func TestPublishBatchSingleSession(t *testing.T) {
	site := newFakeSite()
	d := newTestDriver(t, site, zap.NewNop(), "")

	first := scheduledTask("Chain")
	followUps := []*models.PublishTask{scheduledTask("Chain 2"), scheduledTask("Chain 3")}

	require.NoError(t, d.PublishBatch(context.Background(), first, followUps, testAccount(), nil))
	assert.Equal(t, []string{"Chain", "Chain 2", "Chain 3"}, site.titles())
	assert.Equal(t, 1, site.launches)
	assert.Equal(t, 1, site.closed)
}

func TestPublishBatchAbortsOnFailure(t *testing.T) {
	site := newFakeSite()
	site.failSubmitNumber = 2
	d := newTestDriver(t, site, zap.NewNop(), "")

	first := scheduledTask("Chain")
	followUps := []*models.PublishTask{scheduledTask("Chain 2"), scheduledTask("Chain 3")}

	err := d.PublishBatch(context.Background(), first, followUps, testAccount(), nil)
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Contains(t, err.Error(), "follow-up 1 of 2")
	assert.Equal(t, []string{"Chain"}, site.titles())
	assert.Equal(t, 1, site.closed)
}

func TestIsDriverError(t *testing.T) {
	assert.True(t, IsDriverError(&SubmissionError{Message: "x"}))
	assert.False(t, IsDriverError(ErrNoAccount))
}
