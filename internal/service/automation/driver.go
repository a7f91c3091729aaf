package automation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/models"
)

// AccountSource supplies remote credentials.
type AccountSource interface {
	GetDefaultAccount(ctx context.Context, userID uint) (*models.RemoteAccount, error)
	GetAccount(ctx context.Context, userID, id uint) (*models.RemoteAccount, error)
}

type Timings struct {
	Navigation time.Duration
	Step       time.Duration
	Fallback   time.Duration
	Submit     time.Duration
}

func TimingsFromConfig(cfg config.TimingsConfig) Timings {
	return Timings{
		Navigation: config.Duration(cfg.Navigation, 30*time.Second),
		Step:       config.Duration(cfg.Step, 10*time.Second),
		Fallback:   config.Duration(cfg.Fallback, time.Second),
		Submit:     config.Duration(cfg.Submit, 15*time.Second),
	}
}

type PublishResult struct {
	// RemoteTaskID is empty when the new row could not be read back.
	RemoteTaskID string
}

// Driver performs publish, replicate and delete operations against the
// remote site. Every public call runs in its own browser session that is
// closed before the call returns.
type Driver struct {
	logger        *zap.Logger
	launcher      Launcher
	accounts      AccountSource
	locators      *LocatorSet
	waiter        *Waiter
	timings       Timings
	baseURL       string
	loginPath     string
	homePath      string
	screenshotDir string
	now           func() time.Time
}

func NewDriver(cfg *config.RemoteConfig, launcher Launcher, accounts AccountSource, locators *LocatorSet, waiter *Waiter, logger *zap.Logger) *Driver {
	return &Driver{
		logger:        logger,
		launcher:      launcher,
		accounts:      accounts,
		locators:      locators,
		waiter:        waiter,
		timings:       TimingsFromConfig(cfg.Timings),
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		loginPath:     cfg.LoginPath,
		homePath:      cfg.HomePath,
		screenshotDir: cfg.ScreenshotDir,
		now:           time.Now,
	}
}

// ResolveAccount returns the task's explicit account, or the user's default.
func (d *Driver) ResolveAccount(ctx context.Context, userID uint, accountID *uint) (*models.RemoteAccount, error) {
	var (
		account *models.RemoteAccount
		err     error
	)
	if accountID != nil {
		account, err = d.accounts.GetAccount(ctx, userID, *accountID)
	} else {
		account, err = d.accounts.GetDefaultAccount(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load remote account for user %d: %w", userID, err)
	}
	if account == nil {
		return nil, ErrNoAccount
	}
	return account, nil
}

// Publish creates task on the remote site, attaching the already staged
// asset files.
func (d *Driver) Publish(ctx context.Context, task *models.PublishTask, assetPaths []string) (*PublishResult, error) {
	account, err := d.ResolveAccount(ctx, task.UserID, task.AccountID)
	if err != nil {
		return nil, err
	}

	result := &PublishResult{}
	err = d.withSession(ctx, "publish", account, func(r *run) error {
		if err := r.openPublishSurface(ctx); err != nil {
			return err
		}
		id, err := r.publish(ctx, task, assetPaths)
		result.RemoteTaskID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Replicate copies the row titled sourceTitle into a new post described by task.
func (d *Driver) Replicate(ctx context.Context, sourceTitle string, task *models.PublishTask, account *models.RemoteAccount) error {
	return d.withSession(ctx, "replicate", account, func(r *run) error {
		if err := r.openPublishSurface(ctx); err != nil {
			return err
		}
		return r.replicate(ctx, sourceTitle, task)
	})
}

// DeleteByTitle deletes the first remote task titled title. It reports false
// when no such task exists.
func (d *Driver) DeleteByTitle(ctx context.Context, title string, account *models.RemoteAccount) (bool, error) {
	var deleted bool
	err := d.withSession(ctx, "delete", account, func(r *run) error {
		if err := r.openPublishSurface(ctx); err != nil {
			return err
		}
		var err error
		deleted, err = r.deleteMatching(ctx, title, "")
		return err
	})
	return deleted, err
}

// DeleteByTitleAndContent only deletes a row whose content cell also contains
// contentPrefix, so an unrelated task sharing the title is left alone.
func (d *Driver) DeleteByTitleAndContent(ctx context.Context, title, contentPrefix string, account *models.RemoteAccount) (bool, error) {
	var deleted bool
	err := d.withSession(ctx, "delete", account, func(r *run) error {
		if err := r.openPublishSurface(ctx); err != nil {
			return err
		}
		var err error
		deleted, err = r.deleteMatching(ctx, title, contentPrefix)
		return err
	})
	return deleted, err
}

// PublishBatch publishes first and then replicates it once per follow-up,
// all in one session. The first failure aborts the rest.
func (d *Driver) PublishBatch(ctx context.Context, first *models.PublishTask, followUps []*models.PublishTask, account *models.RemoteAccount, assetPaths []string) error {
	return d.withSession(ctx, "publish-batch", account, func(r *run) error {
		if err := r.openPublishSurface(ctx); err != nil {
			return err
		}
		if _, err := r.publish(ctx, first, assetPaths); err != nil {
			return fmt.Errorf("first post: %w", err)
		}
		for i, next := range followUps {
			if err := r.replicate(ctx, first.Title, next); err != nil {
				return fmt.Errorf("follow-up %d of %d: %w", i+1, len(followUps), err)
			}
		}
		return nil
	})
}

func (d *Driver) withSession(ctx context.Context, op string, account *models.RemoteAccount, fn func(r *run) error) error {
	if account == nil {
		return ErrNoAccount
	}

	session, err := d.launch(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			d.logger.Warn("Failed to close browser session", zap.Error(err))
		}
	}()

	r := &run{
		driver:  d,
		session: session,
		loc:     d.locators.Load(),
		logger:  d.logger.With(zap.String("op", op), zap.Uint("account_id", account.ID)),
	}

	err = r.login(ctx, account)
	if err == nil {
		err = fn(r)
	}
	if err != nil {
		d.captureFailure(ctx, session, op)
		return err
	}
	return nil
}

// launch tries twice at most.
func (d *Driver) launch(ctx context.Context) (Session, error) {
	session, err := d.launcher.Launch(ctx)
	if err == nil {
		return session, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	d.logger.Warn("Browser launch failed, retrying once", zap.Error(err))
	session, err = d.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return session, nil
}

func (d *Driver) captureFailure(ctx context.Context, session Session, op string) {
	if d.screenshotDir == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timings.Step)
	defer cancel()

	buf, err := session.Screenshot(ctx)
	if err != nil {
		d.logger.Warn("Failed to capture failure screenshot", zap.Error(err))
		return
	}
	if err := os.MkdirAll(d.screenshotDir, 0755); err != nil {
		d.logger.Warn("Failed to create screenshot directory", zap.Error(err))
		return
	}

	name := fmt.Sprintf("%s-%s-%s.png", op, d.now().Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(d.screenshotDir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		d.logger.Warn("Failed to write failure screenshot", zap.Error(err))
		return
	}
	d.logger.Warn("Failure screenshot saved", zap.String("path", path))
}

func (d *Driver) url(path string) string {
	return d.baseURL + path
}

// run is the state of one session: every step is strictly sequential.
type run struct {
	driver  *Driver
	session Session
	loc     Locators
	logger  *zap.Logger
}

func (r *run) wait(ctx context.Context, name string, cond Predicate, timeout time.Duration) WaitOutcome {
	return r.driver.waiter.SmartWait(ctx, name, cond, timeout, r.driver.timings.Fallback)
}

func (r *run) visible(selector string) Predicate {
	return func(ctx context.Context) (bool, error) {
		return r.session.Exists(ctx, selector)
	}
}

func (r *run) controlVisible(c Control) Predicate {
	return func(ctx context.Context) (bool, error) {
		return r.session.ControlExists(ctx, c)
	}
}

// visibleNow is a single check; evaluation errors read as absent.
func (r *run) visibleNow(ctx context.Context, selector string) bool {
	ok, err := r.session.Exists(ctx, selector)
	if err != nil {
		r.logger.Debug("Visibility check failed", zap.String("selector", selector), zap.Error(err))
		return false
	}
	return ok
}

func located(control string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("failed to locate %s: %w", control, err)
	}
	if !ok {
		return &UiElementNotFound{Control: control}
	}
	return nil
}

// click waits for a required control and clicks it.
func (r *run) click(ctx context.Context, name string, c Control) error {
	r.wait(ctx, name, r.controlVisible(c), r.driver.timings.Step)
	ok, err := r.session.Click(ctx, c)
	return located(name, ok, err)
}

// fill waits for a required field and sets its value.
func (r *run) fill(ctx context.Context, name, selector, value string) error {
	r.wait(ctx, name, r.visible(selector), r.driver.timings.Step)
	ok, err := r.session.Fill(ctx, selector, value)
	return located(name, ok, err)
}

func (r *run) login(ctx context.Context, account *models.RemoteAccount) error {
	if err := r.session.Navigate(ctx, r.driver.url(r.driver.loginPath)); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	l := r.loc.Login
	if err := r.fill(ctx, "login username", l.Username, account.Username); err != nil {
		return err
	}
	if err := r.fill(ctx, "login password", l.Password, account.Password); err != nil {
		return err
	}
	if account.TOTPSecret != "" && l.OTP != "" {
		code, err := totp.GenerateCode(account.TOTPSecret, r.driver.now())
		if err != nil {
			return fmt.Errorf("failed to generate one-time code: %w", err)
		}
		if err := r.fill(ctx, "login one-time code", l.OTP, code); err != nil {
			return err
		}
	}
	if err := r.click(ctx, "login submit", l.Submit); err != nil {
		return err
	}

	r.wait(ctx, "login redirect", func(ctx context.Context) (bool, error) {
		loc, err := r.session.Location(ctx)
		return r.driver.onHomePage(loc), err
	}, r.driver.timings.Navigation)

	loc, err := r.session.Location(ctx)
	if err != nil || !r.driver.onHomePage(loc) {
		return &AuthenticationError{URL: loc}
	}

	r.logger.Info("Logged in to remote site")
	return nil
}

// onHomePage matches the path of loc only, so a login page carrying the home
// path in its query string does not count as logged in.
func (d *Driver) onHomePage(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	home := strings.TrimSuffix(d.homePath, "/")
	if home == "" {
		return u.Path == "/" || u.Path == ""
	}
	return u.Path == home || strings.HasPrefix(u.Path, home+"/")
}

func (r *run) openPublishSurface(ctx context.Context) error {
	for _, step := range r.loc.Menu {
		if err := r.click(ctx, fmt.Sprintf("menu %q", step.Text), step); err != nil {
			return err
		}
	}
	if r.loc.Surface != "" {
		r.wait(ctx, "publish surface", r.visible(r.loc.Surface), r.driver.timings.Navigation)
	}
	return nil
}

func (r *run) expectDialog(ctx context.Context) error {
	dialog := r.loc.Compose.Dialog
	r.wait(ctx, "compose dialog", r.visible(dialog), r.driver.timings.Step)
	if !r.visibleNow(ctx, dialog) {
		return &UiElementNotFound{Control: "compose dialog"}
	}
	return nil
}

// publish composes and submits one post. The returned id is empty when the
// new row cannot be found afterwards.
func (r *run) publish(ctx context.Context, task *models.PublishTask, assetPaths []string) (string, error) {
	if err := r.click(ctx, "compose trigger", r.loc.Compose.Open); err != nil {
		return "", err
	}
	if err := r.expectDialog(ctx); err != nil {
		return "", err
	}
	if err := r.fillCompose(ctx, task, assetPaths, false); err != nil {
		return "", err
	}
	if err := r.submit(ctx); err != nil {
		return "", err
	}
	return r.confirmRow(ctx, task.Title), nil
}

func (r *run) replicate(ctx context.Context, sourceTitle string, task *models.PublishTask) error {
	t := r.loc.Table

	rows := r.tableRows(ctx)
	matches := r.matchTitle(rows, sourceTitle)
	if len(matches) == 0 {
		return &SourceTaskNotFound{Title: sourceTitle}
	}

	ok, err := r.session.ClickInRow(ctx, t.Row, matches[0].Index, t.Replicate)
	if err := located("replicate control", ok, err); err != nil {
		return err
	}
	if err := r.expectDialog(ctx); err != nil {
		return err
	}
	// The copy keeps the source's audience selection.
	if err := r.fillCompose(ctx, task, nil, true); err != nil {
		return err
	}
	if err := r.submit(ctx); err != nil {
		return err
	}
	r.confirmRow(ctx, task.Title)

	r.logger.Info("Replicated remote task",
		zap.String("source_title", sourceTitle),
		zap.String("title", task.Title))
	return nil
}

func (r *run) fillCompose(ctx context.Context, task *models.PublishTask, assetPaths []string, replicate bool) error {
	c := r.loc.Compose

	if err := r.fill(ctx, "title input", c.Title, task.Title); err != nil {
		return err
	}
	if !replicate {
		if err := r.selectSubAccounts(ctx); err != nil {
			return err
		}
	}
	if !replicate || task.Content != "" {
		if err := r.fill(ctx, "body input", c.Body, task.Content); err != nil {
			return err
		}
	}

	if len(assetPaths) > 0 {
		if err := r.click(ctx, "image mode", c.ImageMode); err != nil {
			return err
		}
		if err := r.session.AttachFiles(ctx, c.FileInput, assetPaths); err != nil {
			return fmt.Errorf("failed to attach %d files: %w", len(assetPaths), err)
		}
		if c.Uploading != "" {
			r.wait(ctx, "uploads", func(ctx context.Context) (bool, error) {
				busy, err := r.session.Exists(ctx, c.Uploading)
				return !busy, err
			}, r.driver.timings.Submit)
		}
	}

	if task.Immediate {
		return r.click(ctx, "immediate toggle", c.Immediate)
	}

	scheduled := task.ScheduledAt.In(time.Local).Format(models.RemoteTimeLayout)
	if err := r.fill(ctx, "schedule time", c.ScheduleTime, scheduled); err != nil {
		return err
	}
	if task.RandomDelayMinutes > 0 {
		if err := r.fill(ctx, "random delay", c.RandomDelay, strconv.Itoa(task.RandomDelayMinutes)); err != nil {
			return err
		}
	}
	if task.RandomFiller {
		if err := r.click(ctx, "random filler", c.RandomFiller); err != nil {
			return err
		}
	}
	return nil
}

// selectSubAccounts prefers "select all" and falls back to the first option.
func (r *run) selectSubAccounts(ctx context.Context) error {
	c := r.loc.Compose
	r.wait(ctx, "sub-accounts", r.visible(c.SubAccount), r.driver.timings.Step)

	ok, err := r.session.Click(ctx, c.SelectAll)
	if err != nil {
		return fmt.Errorf("failed to locate select-all control: %w", err)
	}
	if ok {
		return nil
	}

	r.logger.Info("No select-all control, selecting the first sub-account")
	ok, err = r.session.Click(ctx, Control{Selector: c.SubAccount})
	return located("sub-account option", ok, err)
}

func (r *run) submit(ctx context.Context) error {
	c := r.loc.Compose
	if err := r.click(ctx, "submit button", c.Submit); err != nil {
		return err
	}

	r.wait(ctx, "submit result", func(ctx context.Context) (bool, error) {
		for _, sel := range []string{c.SuccessToast, c.ErrorToast, c.ValidationError} {
			ok, err := r.session.Exists(ctx, sel)
			if err != nil || ok {
				return ok, err
			}
		}
		open, err := r.session.Exists(ctx, c.Dialog)
		return !open, err
	}, r.driver.timings.Submit)

	// Success toast, then error toast, then a dialog that stayed open.
	if r.visibleNow(ctx, c.SuccessToast) {
		return nil
	}
	if r.visibleNow(ctx, c.ErrorToast) {
		msg, _ := r.session.Text(ctx, c.ErrorToast)
		return &SubmissionError{Message: msg}
	}
	if r.visibleNow(ctx, c.Dialog) {
		if r.visibleNow(ctx, c.ValidationError) {
			msg, _ := r.session.Text(ctx, c.ValidationError)
			return &SubmissionError{Message: msg}
		}
		r.logger.Warn("Compose dialog still open after submit without an error message")
	}
	return nil
}

// confirmRow looks for title in the refreshed table and returns the row's
// remote id. A missing row is only a warning: immediate posts may already
// have executed and left the table.
func (r *run) confirmRow(ctx context.Context, title string) string {
	if title == "" {
		return ""
	}

	t := r.loc.Table
	if _, err := r.session.Click(ctx, t.Refresh); err != nil {
		r.logger.Debug("Refresh control unavailable", zap.Error(err))
	}

	var found *Row
	r.wait(ctx, "task row", func(ctx context.Context) (bool, error) {
		rows, err := r.session.Rows(ctx, t.Row)
		if err != nil {
			return false, err
		}
		if matches := r.matchTitle(rows, title); len(matches) > 0 {
			found = &matches[0]
		}
		return found != nil, nil
	}, r.driver.timings.Step)

	if found == nil {
		r.logger.Warn("Submitted task not visible in task table", zap.String("title", title))
		return ""
	}
	return found.Cell(t.IDColumn)
}

// tableRows waits for the table to render at least one row.
func (r *run) tableRows(ctx context.Context) []Row {
	var rows []Row
	r.wait(ctx, "task table", func(ctx context.Context) (bool, error) {
		var err error
		rows, err = r.session.Rows(ctx, r.loc.Table.Row)
		return len(rows) > 0, err
	}, r.driver.timings.Step)
	return rows
}

func (r *run) matchTitle(rows []Row, title string) []Row {
	title = strings.TrimSpace(title)
	var out []Row
	for _, row := range rows {
		if len(row.Cells) == 0 {
			if strings.Contains(row.Text, title) {
				out = append(out, row)
			}
			continue
		}
		if row.Cell(r.loc.Table.TitleColumn) == title {
			out = append(out, row)
		}
	}
	return out
}

func (r *run) matchContent(rows []Row, contentPrefix string) []Row {
	var out []Row
	for _, row := range rows {
		if strings.Contains(row.Cell(r.loc.Table.ContentColumn), contentPrefix) {
			out = append(out, row)
		}
	}
	return out
}

func (r *run) deleteMatching(ctx context.Context, title, contentPrefix string) (bool, error) {
	t := r.loc.Table

	candidates := r.matchTitle(r.tableRows(ctx), title)
	if len(candidates) == 0 {
		r.logger.Info("No remote task to delete", zap.String("title", title))
		return false, nil
	}
	if contentPrefix != "" {
		candidates = r.matchContent(candidates, contentPrefix)
		if len(candidates) == 0 {
			r.logger.Warn("Remote task title matched but content did not, not deleting",
				zap.String("title", title),
				zap.String("content_prefix", contentPrefix))
			return false, nil
		}
	}

	count := func(ctx context.Context) (int, error) {
		rows, err := r.session.Rows(ctx, t.Row)
		if err != nil {
			return 0, err
		}
		matches := r.matchTitle(rows, title)
		if contentPrefix != "" {
			matches = r.matchContent(matches, contentPrefix)
		}
		return len(matches), nil
	}
	before := len(candidates)

	ok, err := r.session.ClickInRow(ctx, t.Row, candidates[0].Index, t.Delete)
	if err := located("delete control", ok, err); err != nil {
		return false, err
	}

	// Native confirm dialogs are accepted by the session; an in-page one
	// needs a click.
	out := r.wait(ctx, "delete confirmation", r.controlVisible(t.Confirm), r.driver.timings.Step)
	if out.Satisfied {
		if _, err := r.session.Click(ctx, t.Confirm); err != nil {
			return false, fmt.Errorf("failed to confirm delete: %w", err)
		}
	}

	r.wait(ctx, "row removed", func(ctx context.Context) (bool, error) {
		n, err := count(ctx)
		return n < before, err
	}, r.driver.timings.Step)

	after, err := count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to verify delete: %w", err)
	}
	if after >= before {
		return false, &SubmissionError{Message: fmt.Sprintf("task %q still listed after delete", title)}
	}

	r.logger.Info("Deleted remote task", zap.String("title", title))
	return true, nil
}

// IsDriverError reports whether err came from the remote site rather than
// from local plumbing.
func IsDriverError(err error) bool {
	var (
		authErr   *AuthenticationError
		uiErr     *UiElementNotFound
		submitErr *SubmissionError
		sourceErr *SourceTaskNotFound
	)
	return errors.As(err, &authErr) || errors.As(err, &uiErr) || errors.As(err, &submitErr) || errors.As(err, &sourceErr)
}
