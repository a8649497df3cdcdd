package pkgmgr

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/host"
)

const defaultModulesDir = "/usr/lib/modules"

// kernelCheck answers whether the running kernel has been replaced on disk.
type kernelCheck struct {
	modulesDir    string
	kernelVersion func() (string, error)
}

func newKernelCheck() kernelCheck {
	return kernelCheck{modulesDir: defaultModulesDir, kernelVersion: host.KernelVersion}
}

// running returns the running kernel release, or "" when unknown.
func (k kernelCheck) running() string {
	v, err := k.kernelVersion()
	if err != nil {
		return ""
	}
	return v
}

// modulesRemoved reports whether the module tree of the running kernel is
// gone, which happens once the kernel package has been upgraded.
func (k kernelCheck) modulesRemoved(release string) bool {
	if release == "" {
		return false
	}
	if _, err := os.Stat(k.modulesDir); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(k.modulesDir, release))
	return os.IsNotExist(err)
}
