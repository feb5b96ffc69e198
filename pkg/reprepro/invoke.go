package reprepro

import (
	"os/exec"

	"github.com/pkg/errors"
)

// Binary is the external archive manager this package drives.
const Binary = "reprepro"

// Invoker assembles reprepro invocations against an archive root. The
// commands are executed by the caller as recorded runs, so the Invoker
// itself never mutates anything.
type Invoker struct {
	// BaseDir as passed to --basedir, relative invocations expect the
	// process working directory to be the archive dataset root.
	BaseDir string
}

// Check verifies the reprepro binary is available.
func (i *Invoker) Check() error {
	if _, err := exec.LookPath(Binary); err != nil {
		return errors.Errorf("required tool not found on PATH: %s", Binary)
	}

	return nil
}

func (i *Invoker) command(args ...string) []string {
	base := i.BaseDir
	if base == "" {
		base = "."
	}

	return append([]string{Binary, "--basedir", base}, args...)
}

// Include stages a .changes upload into a distribution.
func (i *Invoker) Include(codename, changesFile string) []string {
	return i.command("include", codename, changesFile)
}

// IncludeDsc stages a source package into a distribution.
func (i *Invoker) IncludeDsc(codename, dscFile string) []string {
	return i.command("includedsc", codename, dscFile)
}

// IncludeDeb stages a lone binary package into a distribution.
func (i *Invoker) IncludeDeb(codename, debFile string) []string {
	return i.command("includedeb", codename, debFile)
}

// Export regenerates the index files of every configured distribution.
func (i *Invoker) Export() []string {
	return i.command("export")
}
