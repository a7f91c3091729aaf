package automation

import "context"

// Row is one rendered row of the remote task table.
type Row struct {
	Index int      `json:"index"`
	Text  string   `json:"text"`
	Cells []string `json:"cells"`
}

// Cell returns the trimmed text of column i, or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

// Session is one exclusive browser session against the remote site. Lookups
// only consider visible elements. Methods that act on a control report
// whether it was found instead of failing.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	ControlExists(ctx context.Context, c Control) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Fill(ctx context.Context, selector, value string) (bool, error)
	Click(ctx context.Context, c Control) (bool, error)
	AttachFiles(ctx context.Context, selector string, paths []string) error
	Rows(ctx context.Context, selector string) ([]Row, error)
	ClickInRow(ctx context.Context, rowSelector string, index int, c Control) (bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher opens new sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
