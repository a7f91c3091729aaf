// Package metrics records scheduler, task, article and wait outcomes.
package metrics

import "time"

// Recorder is implemented by metric backends. Every method must be cheap and
// safe for concurrent use.
type Recorder interface {
	ObserveSweep(result string, d time.Duration)
	IncTask(result string)
	IncArticle(status string)
	IncWait(via string)
	IncSync(result string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) ObserveSweep(string, time.Duration) {}
func (NoopRecorder) IncTask(string)                     {}
func (NoopRecorder) IncArticle(string)                  {}
func (NoopRecorder) IncWait(string)                     {}
func (NoopRecorder) IncSync(string)                     {}
