package vbox

// VMState is the runtime state of a virtual machine as reported by VBoxManage.
type VMState string

const (
	StateRunning    VMState = "running"
	StatePaused     VMState = "paused"
	StateSaved      VMState = "saved"
	StatePoweredOff VMState = "poweredoff"
	StateAborted    VMState = "aborted"
	StateUnknown    VMState = "unknown"
)

// SafeForExport reports whether a VM in this state can be exported without
// the hypervisor holding an exclusive lock on its disks.
func (s VMState) SafeForExport() bool {
	switch s {
	case StatePoweredOff, StateSaved, StatePaused, StateAborted:
		return true
	default:
		return false
	}
}
