// Package backup sequences the per-VM backup pipeline: state detection and
// safe transitions, the long-running export, post-backup restoration, and
// best-effort packaging, followed by one retention sweep per run.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/virtkit/vboxbackup/internal/archive"
	"github.com/virtkit/vboxbackup/internal/config"
	"github.com/virtkit/vboxbackup/internal/retention"
	"github.com/virtkit/vboxbackup/internal/vbox"
)

// Packager bundles an exported image into a compressed container.
type Packager interface {
	Package(imagePath string) (archive.Result, error)
}

// Sweeper removes aged-out artifacts from the backup store.
type Sweeper interface {
	Sweep(storeDir string, retentionDays int) (retention.Result, error)
}

// ProgressSink receives export output lines for live console display.
type ProgressSink interface {
	Line(string)
	Finish()
}

// Orchestrator runs the full backup batch. VMs are processed strictly
// sequentially: the control plane serializes expensive operations per
// machine and concurrent exports risk ambiguous disk-lock failures.
type Orchestrator struct {
	cp       ControlPlane
	cfg      config.Config
	states   *StateController
	packager Packager
	sweeper  Sweeper
	log      log.FieldLogger

	// newSink, when non-nil, builds a live progress sink per export.
	newSink func(task string) ProgressSink
	now     func() time.Time
}

func NewOrchestrator(cp ControlPlane, cfg config.Config, packager Packager, sweeper Sweeper, logger log.FieldLogger, newSink func(task string) ProgressSink) *Orchestrator {
	return &Orchestrator{
		cp:       cp,
		cfg:      cfg,
		states:   NewStateController(cp, logger),
		packager: packager,
		sweeper:  sweeper,
		log:      logger,
		newSink:  newSink,
		now:      time.Now,
	}
}

// Run executes the whole batch and returns the tally. No per-VM failure
// aborts the batch; the sweep runs once at the end when cleanup is enabled.
func (o *Orchestrator) Run(ctx context.Context) Summary {
	o.log.Info(strings.Repeat("=", 60))
	o.log.Info("Starting VirtualBox VM backup run")
	o.log.Info(strings.Repeat("=", 60))

	all, err := o.cp.ListVMs(ctx)
	if err != nil {
		o.log.WithError(err).Warn("Failed to list VMs")
	}

	targets := Select(all, o.cfg.VMsToBackup, o.cfg.VMsToExclude)
	if len(targets) == 0 {
		o.log.Warn("No VMs to backup")
		return Summary{}
	}
	o.log.WithField("count", len(targets)).Info("Found VMs to backup")

	if err := os.MkdirAll(o.cfg.BackupDirectory, 0o755); err != nil {
		o.log.WithError(err).Error("Cannot create backup directory")
		return Summary{Failed: len(targets)}
	}

	var summary Summary
	for _, vm := range targets {
		switch o.backupOne(ctx, vm) {
		case OutcomeSucceeded:
			summary.Succeeded++
		case OutcomeSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	o.log.WithFields(log.Fields{
		"successful": summary.Succeeded,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	}).Info("Backup process complete")

	if o.cfg.AutoCleanup {
		result, err := o.sweeper.Sweep(o.cfg.BackupDirectory, o.cfg.RetentionDays)
		if err != nil {
			o.log.WithError(err).Warn("Cleanup failed")
		} else {
			summary.Sweep = &result
		}
	}
	return summary
}

// backupOne drives a single VM through prepare, export, restore and package.
// Every failure is converted into an Outcome at this boundary.
func (o *Orchestrator) backupOne(ctx context.Context, vm vbox.VM) Outcome {
	job := Job{
		ID:        uuid.New().String(),
		Target:    vm,
		StartedAt: o.now(),
	}
	job.OutputPath = filepath.Join(
		o.cfg.BackupDirectory,
		fmt.Sprintf("%s_%s.ova", vm.Name, job.StartedAt.Format("20060102_150405")),
	)

	logger := o.log.WithFields(log.Fields{
		"job_id": job.ID,
		"vm":     vm.Name,
	})
	logger.Info("🎬 Starting backup of VM")

	decision := o.states.PrepareForBackup(ctx, vm, o.cfg.HandleRunningVMs)
	if !decision.Proceed {
		return decision.Outcome
	}
	job.WasRunning = decision.WasRunning

	if o.cfg.IncludeManifest {
		logger.WithField("output", job.OutputPath).Info("Exporting VM with manifest (integrity checksums)")
	} else {
		logger.WithField("output", job.OutputPath).Info("Exporting VM")
	}

	var onLine func(string)
	var sink ProgressSink
	if o.newSink != nil {
		sink = o.newSink("Exporting " + vm.Name)
		onLine = sink.Line
	}

	out, exportErr := o.cp.Export(ctx, vm, job.OutputPath, o.cfg.IncludeManifest, onLine)

	// Restore state before judging the export so a paused or suspended VM
	// doesn't stay down after a failed export either.
	if o.cfg.ResumeAfterBackup {
		o.states.RestoreAfterBackup(ctx, vm, job.WasRunning)
	}

	if exportErr != nil {
		logger.WithError(exportErr).WithField("output", tail(out, 20)).Error("Failed to export VM")
		return OutcomeFailed
	}
	if sink != nil {
		sink.Finish()
	}
	logger.Info("✅ Successfully backed up VM")

	if o.cfg.Compression {
		if _, err := o.packager.Package(job.OutputPath); err != nil {
			// Best-effort: the export already succeeded and the original
			// artifact is preserved on packaging failure.
			logger.WithError(err).Warn("Failed to compress backup")
		}
	}
	return OutcomeSucceeded
}

// tail returns the last n lines of combined command output for log context.
func tail(out string, n int) string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
