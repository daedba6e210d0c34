package backup

import (
	"testing"

	"github.com/virtkit/vboxbackup/internal/vbox"
)

func inventory(names ...string) []vbox.VM {
	vms := make([]vbox.VM, 0, len(names))
	for _, n := range names {
		vms = append(vms, vbox.VM{Name: n, UUID: "uuid-" + n})
	}
	return vms
}

func TestSelect(t *testing.T) {
	all := inventory("A", "B", "C", "D")

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{"whitelist wins exclusively", []string{"A", "C"}, []string{"A"}, []string{"A", "C"}},
		{"blacklist applies without whitelist", nil, []string{"B"}, []string{"A", "C", "D"}},
		{"empty selects everything", nil, nil, []string{"A", "B", "C", "D"}},
		{"whitelist of unknown names selects nothing", []string{"Z"}, nil, nil},
		{"exclude everything", nil, []string{"A", "B", "C", "D"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(all, tt.include, tt.exclude)
			if len(got) != len(tt.want) {
				t.Fatalf("Select() = %v, want names %v", got, tt.want)
			}
			for i, vm := range got {
				if vm.Name != tt.want[i] {
					t.Errorf("Select()[%d] = %s, want %s", i, vm.Name, tt.want[i])
				}
			}
		})
	}
}
