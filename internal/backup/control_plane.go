package backup

import (
	"context"

	"github.com/virtkit/vboxbackup/internal/vbox"
)

// ControlPlane is the narrow view of the virtualization control plane the
// backup pipeline needs. *vbox.Client implements it; tests substitute fakes.
type ControlPlane interface {
	ListVMs(ctx context.Context) ([]vbox.VM, error)
	State(ctx context.Context, vm vbox.VM) vbox.VMState
	Pause(ctx context.Context, vm vbox.VM) error
	Resume(ctx context.Context, vm vbox.VM) error
	SaveState(ctx context.Context, vm vbox.VM) error
	StartHeadless(ctx context.Context, vm vbox.VM) error
	Export(ctx context.Context, vm vbox.VM, outputPath string, withManifest bool, onLine func(string)) (string, error)
}
