package automation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

type fakeRow struct {
	id, title, content string
}

// fakeSite simulates the remote admin UI behind DefaultLocators.
type fakeSite struct {
	mu  sync.Mutex
	loc Locators

	username, password string
	missingCompose     bool
	noSelectAll        bool
	hideNewRows        bool
	errorToast         string
	validationError    string
	failSubmitNumber   int
	failLaunches       int
	rejectLocation     string

	launches    int
	closed      int
	location    string
	menuClicks  int
	dialogOpen  bool
	confirmOpen bool
	toast       string
	validation  string
	fields      map[string]string
	clicks      []string
	attached    []string
	submits     int
	pendingDel  int
	rows        []fakeRow
	nextID      int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		loc:        DefaultLocators(),
		username:   "alice",
		password:   "secret",
		fields:     map[string]string{},
		pendingDel: -1,
		nextID:     1000,
	}
}

func (f *fakeSite) Launch(context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	if f.failLaunches > 0 {
		f.failLaunches--
		return nil, errors.New("chrome failed to start")
	}
	f.location = "about:blank"
	f.menuClicks = 0
	f.dialogOpen = false
	return &fakeSession{site: f}, nil
}

func (f *fakeSite) addRow(title, content string) {
	f.nextID++
	f.rows = append(f.rows, fakeRow{id: strconv.Itoa(f.nextID), title: title, content: content})
}

func (f *fakeSite) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.rows {
		out = append(out, r.title)
	}
	return out
}

func (f *fakeSite) clicked(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clicks {
		if c == name {
			return true
		}
	}
	return false
}

type fakeSession struct {
	site *fakeSite
}

func (s *fakeSession) onLogin() bool   { return strings.HasSuffix(s.site.location, "/login") }
func (s *fakeSession) loggedIn() bool  { return strings.HasSuffix(s.site.location, "/index") }
func (s *fakeSession) onSurface() bool { return s.loggedIn() && s.site.menuClicks >= len(s.site.loc.Menu) }

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	s.site.location = url
	return nil
}

func (s *fakeSession) Location(context.Context) (string, error) {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	return s.site.location, nil
}

func (s *fakeSession) Exists(_ context.Context, selector string) (bool, error) {
	f := s.site
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.loc.Compose
	switch selector {
	case f.loc.Login.Username, f.loc.Login.Password:
		return s.onLogin(), nil
	case f.loc.Surface:
		return s.onSurface(), nil
	case c.Dialog, c.Title, c.Body, c.SubAccount, c.ScheduleTime, c.RandomDelay:
		return f.dialogOpen, nil
	case c.SuccessToast:
		return f.toast == "success", nil
	case c.ErrorToast:
		return f.toast == "error", nil
	case c.ValidationError:
		return f.dialogOpen && f.validation != "", nil
	}
	return false, nil
}

func (s *fakeSession) ControlExists(_ context.Context, c Control) (bool, error) {
	f := s.site
	f.mu.Lock()
	defer f.mu.Unlock()
	return s.controlVisible(c), nil
}

func (s *fakeSession) controlVisible(c Control) bool {
	f := s.site
	for _, step := range f.loc.Menu {
		if c == step {
			return s.loggedIn()
		}
	}
	switch c {
	case f.loc.Login.Submit:
		return s.onLogin()
	case f.loc.Compose.Open:
		return s.onSurface() && !f.missingCompose
	case f.loc.Compose.SelectAll:
		return f.dialogOpen && !f.noSelectAll
	case f.loc.Compose.Submit, f.loc.Compose.ImageMode, f.loc.Compose.Immediate, f.loc.Compose.RandomFiller,
		Control{Selector: f.loc.Compose.SubAccount}:
		return f.dialogOpen
	case f.loc.Table.Confirm:
		return f.confirmOpen
	case f.loc.Table.Refresh:
		return s.onSurface()
	}
	return false
}

func (s *fakeSession) Text(_ context.Context, selector string) (string, error) {
	f := s.site
	f.mu.Lock()
	defer f.mu.Unlock()
	switch selector {
	case f.loc.Compose.ErrorToast:
		return f.errorToast, nil
	case f.loc.Compose.ValidationError:
		return f.validation, nil
	}
	return "", nil
}

func (s *fakeSession) Fill(_ context.Context, selector, value string) (bool, error) {
	f := s.site
	f.mu.Lock()
	defer f.mu.Unlock()
	switch selector {
	case f.loc.Login.Username, f.loc.Login.Password:
		if !s.onLogin() {
			return false, nil
		}
	default:
		if !f.dialogOpen {
			return false, nil
		}
	}
	f.fields[selector] = value
	return true, nil
}

func (s *fakeSession) Click(_ context.Context, c Control) (bool, error) {
	f := s.site
	f.mu.Lock()
	defer f.mu.Unlock()

	if !s.controlVisible(c) {
		return false, nil
	}

	for _, step := range f.loc.Menu {
		if c == step {
			f.menuClicks++
			return true, nil
		}
	}

	switch c {
	case f.loc.Login.Submit:
		if f.fields[f.loc.Login.Username] == f.username && f.fields[f.loc.Login.Password] == f.password {
			f.location = "https://remote.test/index"
		} else if f.rejectLocation != "" {
			f.location = f.rejectLocation
		}
	case f.loc.Compose.Open:
		f.dialogOpen = true
		f.toast = ""
		f.validation = ""
		f.fields = map[string]string{}
	case f.loc.Compose.Submit:
		f.submits++
		switch {
		case f.errorToast != "" || f.submits == f.failSubmitNumber:
			if f.errorToast == "" {
				f.errorToast = "Publish limit reached"
			}
			f.toast = "error"
		case f.validationError != "":
			f.validation = f.validationError
		default:
			f.toast = "success"
			f.dialogOpen = false
			if !f.hideNewRows {
				f.addRow(f.fields[f.loc.Compose.Title], f.fields[f.loc.Compose.Body])
			}
		}
	case f.loc.Table.Confirm:
		if f.pendingDel >= 0 {
			f.rows = append(f.rows[:f.pendingDel], f.rows[f.pendingDel+1:]...)
			f.pendingDel = -1
		}
		f.confirmOpen = false
	}

	name := c.Text
	if c == (Control{Selector: f.loc.Compose.SubAccount}) {
		name = "first-sub-account"
	}
	if c == f.loc.Compose.Immediate {
		name = "immediate"
	}
	f.clicks = append(f.clicks, name)
	return true, nil
}

func (s *fakeSession) AttachFiles(_ context.Context, _ string, paths []string) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	s.site.attached = append(s.site.attached, paths...)
	return nil
}

func (s *fakeSession) Rows(context.Context, string) ([]Row, error) {
	f := s.site
	f.mu.Lock()
	defer f.mu.Unlock()
	if !s.onSurface() {
		return nil, nil
	}
	rows := make([]Row, len(f.rows))
	for i, r := range f.rows {
		rows[i] = Row{Index: i, Text: r.id + " " + r.title + " " + r.content, Cells: []string{r.id, r.title, r.content}}
	}
	return rows, nil
}

func (s *fakeSession) ClickInRow(_ context.Context, _ string, index int, c Control) (bool, error) {
	f := s.site
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.rows) {
		return false, nil
	}
	switch c {
	case f.loc.Table.Replicate:
		f.dialogOpen = true
		f.toast = ""
		f.fields = map[string]string{
			f.loc.Compose.Title: f.rows[index].title,
			f.loc.Compose.Body:  f.rows[index].content,
		}
	case f.loc.Table.Delete:
		f.pendingDel = index
		f.confirmOpen = true
	default:
		return false, nil
	}
	return true, nil
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (s *fakeSession) Close() error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	s.site.closed++
	return nil
}
