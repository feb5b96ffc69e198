package ops

import (
	"github.com/hashicorp/go-hclog"
)

// logOrDefault lets op structs run with a nil logger in tests.
func logOrDefault(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.L()
	}

	return l
}

// Layout of the dataset hierarchy. A distribution dataset holds its
// builder and packages, an archive dataset holds distributions plus the
// reprepro configuration and output.
const (
	BuilderDir  = "builder"
	PackagesDir = "packages"
	DistsDir    = "distributions"
)
