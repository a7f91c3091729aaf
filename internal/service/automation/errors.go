package automation

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeoutExceeded marks a wait that ran past its timeout and fallback
	// without a pass/fail signal. It is logged, never returned to callers.
	ErrTimeoutExceeded = errors.New("wait timeout exceeded")

	// ErrNoAccount is returned when a user has no remote account to publish with.
	ErrNoAccount = errors.New("no remote account configured")
)

// AuthenticationError means login did not land on the authenticated page.
type AuthenticationError struct {
	URL string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("login failed: landed on %q", e.URL)
}

// UiElementNotFound means a required control could not be located.
type UiElementNotFound struct {
	Control string
}

func (e *UiElementNotFound) Error() string {
	return fmt.Sprintf("ui element not found: %s", e.Control)
}

// SubmissionError carries the message the remote site showed on submit.
type SubmissionError struct {
	Message string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission rejected: %s", e.Message)
}

// SourceTaskNotFound means no task row matched the given title.
type SourceTaskNotFound struct {
	Title string
}

func (e *SourceTaskNotFound) Error() string {
	return fmt.Sprintf("source task not found: %q", e.Title)
}
