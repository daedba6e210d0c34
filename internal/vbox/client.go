// Package vbox is the single boundary to the VBoxManage control plane. All
// parsing of its textual output lives here; the rest of the codebase only
// sees typed machine references and states.
package vbox

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// VM is a reference to a machine in the VirtualBox inventory. Identity is the
// UUID; the name is what selection policy and artifact naming use.
type VM struct {
	Name string
	UUID string
}

// ControlPlaneError wraps a failed VBoxManage invocation together with its
// combined stdout/stderr for diagnostics.
type ControlPlaneError struct {
	Op     string
	Output string
	Err    error
}

func (e *ControlPlaneError) Error() string {
	return fmt.Sprintf("vboxmanage %s failed: %v", e.Op, e.Err)
}

func (e *ControlPlaneError) Unwrap() error {
	return e.Err
}

// Client drives the VBoxManage binary.
type Client struct {
	bin    string
	runner Runner
	log    log.FieldLogger
}

func NewClient(bin string, runner Runner, logger log.FieldLogger) *Client {
	return &Client{
		bin:    bin,
		runner: runner,
		log:    logger,
	}
}

// Verify probes the control-plane binary. An unusable binary is a
// configuration problem and should abort before any backup work starts.
func (c *Client) Verify(ctx context.Context) error {
	out, err := c.runner.Run(ctx, c.bin, "--version")
	if err != nil {
		return &ControlPlaneError{Op: "--version", Output: out, Err: err}
	}
	c.log.WithField("version", strings.TrimSpace(out)).Debug("VBoxManage binary verified")
	return nil
}

// ListVMs returns the registered machine inventory. Lines have the form
// `"vm name" {uuid}`; anything that doesn't match is skipped.
func (c *Client) ListVMs(ctx context.Context) ([]VM, error) {
	out, err := c.runner.Run(ctx, c.bin, "list", "vms")
	if err != nil {
		return nil, &ControlPlaneError{Op: "list vms", Output: out, Err: err}
	}

	var vms []VM
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "\"")
		if len(parts) < 2 {
			continue
		}
		name := parts[1]
		uuid := strings.Trim(strings.TrimSpace(parts[len(parts)-1]), "{}")
		vms = append(vms, VM{Name: name, UUID: uuid})
	}
	return vms, nil
}

// State queries the machine-readable VM info and extracts the current state.
// The structured VMState key takes precedence; when it is absent the
// free-form text is scanned heuristically, defaulting to poweredoff. A failed
// query yields StateUnknown.
func (c *Client) State(ctx context.Context, vm VM) VMState {
	out, err := c.runner.Run(ctx, c.bin, "showvminfo", vm.UUID, "--machinereadable")
	if err != nil {
		c.log.WithFields(log.Fields{
			"vm": vm.Name,
		}).WithError(err).Warn("Failed to query VM state")
		return StateUnknown
	}

	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "VMState=") {
			value := strings.Trim(strings.TrimSpace(strings.SplitN(line, "=", 2)[1]), "\"")
			return VMState(value)
		}
	}

	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "running"):
		return StateRunning
	case strings.Contains(lower, "paused"):
		return StatePaused
	case strings.Contains(lower, "saved"):
		return StateSaved
	default:
		return StatePoweredOff
	}
}

// Pause pauses a running machine.
func (c *Client) Pause(ctx context.Context, vm VM) error {
	c.log.WithField("vm", vm.Name).Info("Pausing VM")
	return c.control(ctx, vm, "pause")
}

// Resume resumes a paused machine.
func (c *Client) Resume(ctx context.Context, vm VM) error {
	c.log.WithField("vm", vm.Name).Info("Resuming VM")
	return c.control(ctx, vm, "resume")
}

// SaveState suspends a running machine to disk. The hypervisor releases its
// disk locks once the save completes.
func (c *Client) SaveState(ctx context.Context, vm VM) error {
	c.log.WithField("vm", vm.Name).Info("Suspending VM (saving state)")
	return c.control(ctx, vm, "savestate")
}

func (c *Client) control(ctx context.Context, vm VM, verb string) error {
	out, err := c.runner.Run(ctx, c.bin, "controlvm", vm.UUID, verb)
	if err != nil {
		return &ControlPlaneError{Op: "controlvm " + verb, Output: out, Err: err}
	}
	return nil
}

// StartHeadless starts a machine from its saved state without a console.
func (c *Client) StartHeadless(ctx context.Context, vm VM) error {
	c.log.WithField("vm", vm.Name).Info("Starting VM (headless)")
	out, err := c.runner.Run(ctx, c.bin, "startvm", vm.UUID, "--type", "headless")
	if err != nil {
		return &ControlPlaneError{Op: "startvm", Output: out, Err: err}
	}
	return nil
}

// Export exports the machine to a portable OVA at outputPath. Exports of
// large disks run for a long time, so every output line is relayed to onLine
// and the debug log as it arrives instead of blocking silently; the combined
// output is also returned for diagnostics.
func (c *Client) Export(ctx context.Context, vm VM, outputPath string, withManifest bool, onLine func(string)) (string, error) {
	args := []string{"export", vm.UUID, "--output", outputPath}
	if withManifest {
		args = append(args, "--manifest")
	}

	logger := c.log.WithFields(log.Fields{
		"vm":     vm.Name,
		"output": outputPath,
	})
	logger.Debug("Running command: ", c.bin, " ", strings.Join(args, " "))

	relay := func(line string) {
		if strings.TrimSpace(line) != "" {
			logger.Debug(line)
		}
		if onLine != nil {
			onLine(line)
		}
	}

	out, err := c.runner.Stream(ctx, relay, c.bin, args...)
	if err != nil {
		return out, &ControlPlaneError{Op: "export", Output: out, Err: err}
	}
	return out, nil
}
