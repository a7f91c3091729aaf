package automation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/metrics"
)

const (
	ViaCondition = "condition"
	ViaFallback  = "fallback-timeout"
)

// Predicate is evaluated against the remote page. An evaluation error counts
// as "not yet".
type Predicate func(ctx context.Context) (bool, error)

// WaitOutcome reports how a SmartWait finished.
type WaitOutcome struct {
	Satisfied bool
	Via       string
}

// Waiter polls predicates on behalf of the driver.
type Waiter struct {
	logger   *zap.Logger
	poll     time.Duration
	recorder metrics.Recorder
}

func NewWaiter(logger *zap.Logger, poll time.Duration, recorder metrics.Recorder) *Waiter {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Waiter{logger: logger, poll: poll, recorder: recorder}
}

// SmartWait returns as soon as cond holds, or after timeout plus fallback
// when it never does. It never fails: the timeout branch is only logged.
// A cancelled ctx ends the wait at once with the fallback outcome.
func (w *Waiter) SmartWait(ctx context.Context, name string, cond Predicate, timeout, fallback time.Duration) WaitOutcome {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		if ok, err := cond(ctx); err == nil && ok {
			w.recorder.IncWait(ViaCondition)
			return WaitOutcome{Satisfied: true, Via: ViaCondition}
		}

		select {
		case <-ctx.Done():
			w.recorder.IncWait(ViaFallback)
			return WaitOutcome{Via: ViaFallback}
		case <-deadline.C:
			w.logger.Warn("Condition not met, continuing after fallback delay",
				zap.String("wait", name),
				zap.Duration("timeout", timeout),
				zap.Duration("fallback", fallback),
				zap.Error(ErrTimeoutExceeded))
			sleep(ctx, fallback)
			w.recorder.IncWait(ViaFallback)
			return WaitOutcome{Via: ViaFallback}
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
