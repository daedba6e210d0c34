package backup

import (
	"time"

	"github.com/virtkit/vboxbackup/internal/retention"
	"github.com/virtkit/vboxbackup/internal/vbox"
)

// Outcome is the per-job tally entry. Every per-VM failure is converted into
// one of these at the job boundary; nothing aborts the batch.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Job tracks one VM through its backup pipeline. Owned by the orchestrator
// for a single iteration.
type Job struct {
	ID         string
	Target     vbox.VM
	StartedAt  time.Time
	OutputPath string
	WasRunning bool
}

// Summary is the final result of a backup run.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Sweep     *retention.Result
}
