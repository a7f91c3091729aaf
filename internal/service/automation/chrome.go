package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// domHelpers is prepended to every in-page script.
const domHelpers = `
const __visible = el => !!(el && (el.offsetWidth || el.offsetHeight || el.getClientRects().length));
const __text = el => ((el && (el.innerText || el.textContent)) || '').trim();
const __find = (root, sel, text) => Array.from(root.querySelectorAll(sel))
	.find(el => __visible(el) && (!text || __text(el).includes(text)));
`

// ChromeLauncher starts a fresh Chrome for every session.
type ChromeLauncher struct {
	logger        *zap.Logger
	headless      bool
	execPath      string
	actionTimeout time.Duration
}

func NewChromeLauncher(logger *zap.Logger, headless bool, execPath string, actionTimeout time.Duration) *ChromeLauncher {
	return &ChromeLauncher{
		logger:        logger,
		headless:      headless,
		execPath:      execPath,
		actionTimeout: actionTimeout,
	}
}

func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.headless),
		chromedp.WindowSize(1440, 900),
	)
	if l.execPath != "" {
		opts = append(opts, chromedp.ExecPath(l.execPath))
	}

	// The browser must outlive the caller's request context; it is torn down
	// by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.logger.Sugar().Debugf))

	s := &chromeSession{
		ctx:           browserCtx,
		logger:        l.logger,
		actionTimeout: l.actionTimeout,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}

	// Native confirm/alert dialogs would block every later action.
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			s.logger.Debug("Accepting native dialog", zap.String("message", e.Message))
			go func() {
				if err := chromedp.Run(browserCtx, page.HandleJavaScriptDialog(true)); err != nil {
					s.logger.Warn("Failed to accept native dialog", zap.Error(err))
				}
			}()
		}
	})

	// The first Run allocates the browser and binds it to browserCtx, so it
	// must not carry a per-action timeout.
	if err := chromedp.Run(browserCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return s, nil
}

type chromeSession struct {
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *zap.Logger
	actionTimeout time.Duration
}

func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.actionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// eval calls fn(args...) inside the page and decodes its result into out.
func (s *chromeSession) eval(ctx context.Context, out any, fn string, args ...any) error {
	encoded := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("failed to encode script argument: %w", err)
		}
		encoded[i] = string(b)
	}
	script := fmt.Sprintf("(() => {%s\nreturn (%s)(%s);})()", domHelpers, fn, strings.Join(encoded, ","))
	return s.run(ctx, chromedp.Evaluate(script, out))
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, chromedp.Location(&url))
	return url, err
}

func (s *chromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	return s.ControlExists(ctx, Control{Selector: selector})
}

func (s *chromeSession) ControlExists(ctx context.Context, c Control) (bool, error) {
	var found bool
	err := s.eval(ctx, &found, `(sel, text) => !!__find(document, sel, text)`, c.Selector, c.Text)
	return found, err
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.eval(ctx, &text, `(sel) => __text(__find(document, sel, ''))`, selector)
	return text, err
}

func (s *chromeSession) Fill(ctx context.Context, selector, value string) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `(sel, value) => {
		const el = __find(document, sel, '');
		if (!el) return false;
		el.focus();
		if (el.isContentEditable) {
			el.innerText = value;
		} else {
			const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
			Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, value);
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		el.blur();
		return true;
	}`, selector, value)
	return ok, err
}

func (s *chromeSession) Click(ctx context.Context, c Control) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `(sel, text) => {
		const el = __find(document, sel, text);
		if (!el) return false;
		el.click();
		return true;
	}`, c.Selector, c.Text)
	return ok, err
}

func (s *chromeSession) AttachFiles(ctx context.Context, selector string, paths []string) error {
	// File inputs are usually hidden, so this goes through CDP instead of __find.
	return s.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (s *chromeSession) Rows(ctx context.Context, selector string) ([]Row, error) {
	var rows []Row
	err := s.eval(ctx, &rows, `(sel) => Array.from(document.querySelectorAll(sel)).map((r, i) => ({
		index: i,
		text: __text(r),
		cells: Array.from(r.querySelectorAll('td')).map(c => __text(c)),
	}))`, selector)
	return rows, err
}

func (s *chromeSession) ClickInRow(ctx context.Context, rowSelector string, index int, c Control) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `(rowSel, index, sel, text) => {
		const row = document.querySelectorAll(rowSel)[index];
		if (!row) return false;
		const el = __find(row, sel, text);
		if (!el) return false;
		el.click();
		return true;
	}`, rowSelector, index, c.Selector, c.Text)
	return ok, err
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.FullScreenshot(&buf, 80))
	return buf, err
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
