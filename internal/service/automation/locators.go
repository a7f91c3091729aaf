package automation

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Control is a clickable element: the first visible match of Selector whose
// text contains Text (any match when Text is empty).
type Control struct {
	Selector string `yaml:"selector"`
	Text     string `yaml:"text"`
}

type LoginLocators struct {
	Username string  `yaml:"username"`
	Password string  `yaml:"password"`
	OTP      string  `yaml:"otp"`
	Submit   Control `yaml:"submit"`
}

type ComposeLocators struct {
	Open            Control `yaml:"open"`
	Dialog          string  `yaml:"dialog"`
	Title           string  `yaml:"title"`
	Body            string  `yaml:"body"`
	SelectAll       Control `yaml:"select_all"`
	SubAccount      string  `yaml:"sub_account"`
	ImageMode       Control `yaml:"image_mode"`
	FileInput       string  `yaml:"file_input"`
	Uploading       string  `yaml:"uploading"`
	ScheduleTime    string  `yaml:"schedule_time"`
	RandomDelay     string  `yaml:"random_delay"`
	RandomFiller    Control `yaml:"random_filler"`
	Immediate       Control `yaml:"immediate"`
	Submit          Control `yaml:"submit"`
	SuccessToast    string  `yaml:"success_toast"`
	ErrorToast      string  `yaml:"error_toast"`
	ValidationError string  `yaml:"validation_error"`
}

// TableLocators describe the remote task table. Column indexes are zero-based
// cell positions within a row.
type TableLocators struct {
	Row           string  `yaml:"row"`
	IDColumn      int     `yaml:"id_column"`
	TitleColumn   int     `yaml:"title_column"`
	ContentColumn int     `yaml:"content_column"`
	Refresh       Control `yaml:"refresh"`
	Replicate     Control `yaml:"replicate"`
	Delete        Control `yaml:"delete"`
	Confirm       Control `yaml:"confirm"`
}

// Locators is the lookup table of every selector and label the driver uses.
type Locators struct {
	Login   LoginLocators   `yaml:"login"`
	Menu    []Control       `yaml:"menu"`
	Surface string          `yaml:"surface"`
	Compose ComposeLocators `yaml:"compose"`
	Table   TableLocators   `yaml:"table"`
}

func DefaultLocators() Locators {
	return Locators{
		Login: LoginLocators{
			Username: "input[name='username']",
			Password: "input[name='password']",
			OTP:      "input[name='code']",
			Submit:   Control{Selector: "button", Text: "Log in"},
		},
		Menu: []Control{
			{Selector: ".el-submenu__title", Text: "Content"},
			{Selector: ".el-menu-item", Text: "Scheduled Posts"},
		},
		Surface: ".app-container .el-table",
		Compose: ComposeLocators{
			Open:            Control{Selector: "button", Text: "New"},
			Dialog:          ".el-dialog__wrapper:not([style*='display: none']) .el-dialog",
			Title:           ".el-dialog input[name='title']",
			Body:            ".el-dialog textarea[name='content']",
			SelectAll:       Control{Selector: ".el-dialog .el-checkbox", Text: "Select all"},
			SubAccount:      ".el-dialog .el-checkbox-group .el-checkbox",
			ImageMode:       Control{Selector: ".el-dialog .el-radio", Text: "Image"},
			FileInput:       ".el-dialog input[type='file']",
			Uploading:       ".el-dialog .el-upload-list__item.is-uploading",
			ScheduleTime:    ".el-dialog input[placeholder='Publish time']",
			RandomDelay:     ".el-dialog input[name='randomDelay']",
			RandomFiller:    Control{Selector: ".el-dialog .el-checkbox", Text: "Random filler"},
			Immediate:       Control{Selector: ".el-dialog .el-switch", Text: ""},
			Submit:          Control{Selector: ".el-dialog__footer button", Text: "Confirm"},
			SuccessToast:    ".el-message--success",
			ErrorToast:      ".el-message--error",
			ValidationError: ".el-dialog .el-form-item__error",
		},
		Table: TableLocators{
			Row:           ".el-table__body tr.el-table__row",
			IDColumn:      0,
			TitleColumn:   1,
			ContentColumn: 2,
			Refresh:       Control{Selector: "button", Text: "Refresh"},
			Replicate:     Control{Selector: "button", Text: "Replicate"},
			Delete:        Control{Selector: "button", Text: "Delete"},
			Confirm:       Control{Selector: ".el-message-box__btns button", Text: "OK"},
		},
	}
}

// LoadLocators reads a YAML locator file on top of the defaults, so a file
// only needs the entries it overrides.
func LoadLocators(path string) (Locators, error) {
	loc := DefaultLocators()
	data, err := os.ReadFile(path)
	if err != nil {
		return loc, fmt.Errorf("failed to read locators file: %w", err)
	}
	if err := yaml.Unmarshal(data, &loc); err != nil {
		return DefaultLocators(), fmt.Errorf("failed to parse locators file: %w", err)
	}
	if err := loc.Validate(); err != nil {
		return DefaultLocators(), err
	}
	return loc, nil
}

func (l Locators) Validate() error {
	switch {
	case l.Login.Username == "" || l.Login.Password == "":
		return fmt.Errorf("locators: login fields are required")
	case l.Compose.Open.Selector == "" || l.Compose.Submit.Selector == "":
		return fmt.Errorf("locators: compose open/submit controls are required")
	case l.Table.Row == "":
		return fmt.Errorf("locators: table row selector is required")
	}
	return nil
}

// LocatorSet holds the active table and can be swapped while sessions run.
// A session reads it once at start, so a reload never changes a running
// publish midway.
type LocatorSet struct {
	current atomic.Pointer[Locators]
}

func NewLocatorSet(initial Locators) *LocatorSet {
	s := &LocatorSet{}
	s.Store(initial)
	return s
}

func (s *LocatorSet) Load() Locators {
	return *s.current.Load()
}

func (s *LocatorSet) Store(l Locators) {
	s.current.Store(&l)
}
