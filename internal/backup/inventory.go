package backup

import "github.com/virtkit/vboxbackup/internal/vbox"

// Select applies the include/exclude policy to the machine inventory. A
// non-empty include list wins exclusively and the exclude list is ignored;
// otherwise everything not excluded is kept.
func Select(all []vbox.VM, include, exclude []string) []vbox.VM {
	if len(include) > 0 {
		wanted := make(map[string]bool, len(include))
		for _, name := range include {
			wanted[name] = true
		}
		var selected []vbox.VM
		for _, vm := range all {
			if wanted[vm.Name] {
				selected = append(selected, vm)
			}
		}
		return selected
	}

	blocked := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		blocked[name] = true
	}
	var selected []vbox.VM
	for _, vm := range all {
		if !blocked[vm.Name] {
			selected = append(selected, vm)
		}
	}
	return selected
}
