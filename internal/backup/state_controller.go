package backup

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/virtkit/vboxbackup/internal/config"
	"github.com/virtkit/vboxbackup/internal/vbox"
)

// settleDelay gives the hypervisor time to release its exclusive disk locks
// after a savestate before the state is re-queried.
const settleDelay = 5 * time.Second

// Decision is the result of preparing a VM for export.
type Decision struct {
	Proceed bool
	// WasRunning is set when the VM was transitioned out of the running
	// state solely to enable the export, and so must be restored afterwards.
	WasRunning bool
	// Outcome is the tally entry when Proceed is false.
	Outcome Outcome
}

// StateController queries VM runtime state and drives the transitions needed
// for a safe export, plus the post-backup restoration.
type StateController struct {
	cp     ControlPlane
	log    log.FieldLogger
	settle time.Duration
}

func NewStateController(cp ControlPlane, logger log.FieldLogger) *StateController {
	return &StateController{
		cp:     cp,
		log:    logger,
		settle: settleDelay,
	}
}

// PrepareForBackup decides whether the VM can be exported and performs any
// state transition the running-VM policy calls for.
func (sc *StateController) PrepareForBackup(ctx context.Context, vm vbox.VM, policy config.RunningVMPolicy) Decision {
	state := sc.cp.State(ctx, vm)
	logger := sc.log.WithFields(log.Fields{
		"vm":    vm.Name,
		"state": string(state),
	})

	if state == vbox.StateRunning {
		switch policy {
		case config.PolicyPause:
			if err := sc.cp.Pause(ctx, vm); err != nil {
				logger.WithError(err).Error("Cannot backup VM: failed to pause")
				return Decision{Outcome: OutcomeFailed}
			}
			return Decision{Proceed: true, WasRunning: true}

		case config.PolicySuspend:
			if err := sc.cp.SaveState(ctx, vm); err != nil {
				logger.WithError(err).Error("Cannot backup VM: failed to suspend")
				return Decision{Outcome: OutcomeFailed}
			}
			// Let the hypervisor finish writing the saved state and drop
			// its disk locks before trusting the re-query.
			time.Sleep(sc.settle)
			if got := sc.cp.State(ctx, vm); got != vbox.StateSaved {
				logger.WithField("requeried_state", string(got)).Warn(
					"VM did not report saved state after suspend, proceeding anyway")
			}
			return Decision{Proceed: true, WasRunning: true}

		case config.PolicySkip:
			logger.Warn("Skipping VM: running and policy is skip")
			return Decision{Outcome: OutcomeSkipped}

		case config.PolicyFail:
			logger.Error("Cannot backup VM: running and policy is fail")
			return Decision{Outcome: OutcomeFailed}

		default:
			// PolicyAllow, or an unrecognized value that slipped past
			// config validation.
			logger.Warn("VM is running, attempting backup anyway (disk may be locked)")
			return Decision{Proceed: true}
		}
	}

	if !state.SafeForExport() {
		logger.Warn("VM is in an unexpected state, export may hold disk locks")
	}
	return Decision{Proceed: true}
}

// RestoreAfterBackup returns a suspended or paused VM to its pre-backup
// running state. Failures here are warnings only: a successful backup is
// never retroactively failed by restoration.
func (sc *StateController) RestoreAfterBackup(ctx context.Context, vm vbox.VM, wasRunning bool) {
	if !wasRunning {
		return
	}

	state := sc.cp.State(ctx, vm)
	logger := sc.log.WithFields(log.Fields{
		"vm":    vm.Name,
		"state": string(state),
	})

	switch state {
	case vbox.StateSaved:
		if err := sc.cp.StartHeadless(ctx, vm); err != nil {
			logger.WithError(err).Warn("Failed to restart VM from saved state")
		}
	case vbox.StatePaused:
		if err := sc.cp.Resume(ctx, vm); err != nil {
			logger.WithError(err).Warn("Failed to resume VM")
		}
	case vbox.StateRunning:
		// Already back, nothing to do.
	default:
		logger.Warn("Unexpected state after backup, leaving VM as-is")
	}
}
