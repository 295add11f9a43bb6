package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/sitewise/internal/concurrency"
	"github.com/harunnryd/sitewise/internal/model/contract"
)

// StepReport describes one finished step. Messages holds the history entries added since the
// previous report; the first report of a run also carries the input messages. A Fallback report
// carries the plain answer given after the primary path failed.
type StepReport struct {
	RunID     string
	SessionID string
	Model     string
	Step      Step
	Messages  []contract.Message
	Final     bool
	Fallback  bool
	StartedAt time.Time
	EndedAt   time.Time
}

// StepObserver is notified of finished steps. Observers run on their own goroutine and must not
// assume the run is still in progress.
type StepObserver interface {
	OnStep(ctx context.Context, report StepReport)
}

type StepObserverFunc func(ctx context.Context, report StepReport)

func (f StepObserverFunc) OnStep(ctx context.Context, report StepReport) {
	f(ctx, report)
}

// notify hands report to every observer without waiting for them.
func notify(ctx context.Context, observers []StepObserver, report StepReport) {
	if len(observers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, obs := range observers {
		obs := obs
		concurrency.SafeGo(func() {
			obs.OnStep(ctx, report)
		}, func(r interface{}) {
			slog.Error("Step observer panicked", "run_id", report.RunID, "step", report.Step.Index, "panic", r)
		})
	}
}
