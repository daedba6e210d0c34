package backup

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/virtkit/vboxbackup/internal/vbox"
)

// fakeControlPlane records every operation and simulates state transitions
// so the pipeline can be exercised without a hypervisor.
type fakeControlPlane struct {
	vms    []vbox.VM
	states map[string]vbox.VMState
	calls  []string

	listErr   error
	pauseErr  error
	saveErr   error
	resumeErr error
	startErr  error
	exportErr map[string]error

	// exportWrites makes Export create the image (and manifest) on disk so
	// the real packager can run against the fake.
	exportWrites bool
}

func newFakeControlPlane(vms ...vbox.VM) *fakeControlPlane {
	f := &fakeControlPlane{
		vms:       vms,
		states:    make(map[string]vbox.VMState),
		exportErr: make(map[string]error),
	}
	for _, vm := range vms {
		f.states[vm.UUID] = vbox.StatePoweredOff
	}
	return f
}

func (f *fakeControlPlane) record(op string, vm vbox.VM) {
	f.calls = append(f.calls, op+":"+vm.Name)
}

func (f *fakeControlPlane) callsFor(op string) []string {
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, op+":") {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeControlPlane) ListVMs(ctx context.Context) ([]vbox.VM, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.vms, nil
}

func (f *fakeControlPlane) State(ctx context.Context, vm vbox.VM) vbox.VMState {
	f.record("state", vm)
	if s, ok := f.states[vm.UUID]; ok {
		return s
	}
	return vbox.StateUnknown
}

func (f *fakeControlPlane) Pause(ctx context.Context, vm vbox.VM) error {
	f.record("pause", vm)
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.states[vm.UUID] = vbox.StatePaused
	return nil
}

func (f *fakeControlPlane) Resume(ctx context.Context, vm vbox.VM) error {
	f.record("resume", vm)
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.states[vm.UUID] = vbox.StateRunning
	return nil
}

func (f *fakeControlPlane) SaveState(ctx context.Context, vm vbox.VM) error {
	f.record("savestate", vm)
	if f.saveErr != nil {
		return f.saveErr
	}
	f.states[vm.UUID] = vbox.StateSaved
	return nil
}

func (f *fakeControlPlane) StartHeadless(ctx context.Context, vm vbox.VM) error {
	f.record("start", vm)
	if f.startErr != nil {
		return f.startErr
	}
	f.states[vm.UUID] = vbox.StateRunning
	return nil
}

func (f *fakeControlPlane) Export(ctx context.Context, vm vbox.VM, outputPath string, withManifest bool, onLine func(string)) (string, error) {
	f.record("export", vm)
	if err := f.exportErr[vm.Name]; err != nil {
		return "export error output", err
	}
	if onLine != nil {
		onLine("0%...10%...100%")
	}
	if f.exportWrites {
		if err := os.WriteFile(outputPath, []byte("image"), 0o644); err != nil {
			return "", err
		}
		if withManifest {
			stem := strings.TrimSuffix(outputPath, ".ova")
			if err := os.WriteFile(stem+".mf", []byte("SHA1(x)=0"), 0o644); err != nil {
				return "", err
			}
		}
	}
	return fmt.Sprintf("Successfully exported %s", vm.Name), nil
}
