package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"debfab.dev/debfab/pkg/dataset"
)

// Debian source package name constraint: lowercase alphanumerics plus
// "+", "-", ".", at least two characters, leading alphanumeric.
var pkgNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)

// PackageNew scaffolds a package dataset inside a distribution and
// registers it as a subdataset under packages/<name>.
type PackageNew struct {
	L hclog.Logger

	Maintainer string
}

func (p *PackageNew) SetLogger(l hclog.Logger) {
	p.L = l
}

func (p *PackageNew) Create(ctx context.Context, distPath, name string) (*dataset.Dataset, error) {
	if !pkgNameRe.MatchString(name) {
		return nil, errors.Errorf("invalid source package name %q", name)
	}

	ds, err := dataset.Require(distPath, dataset.KindDistribution)
	if err != nil {
		return nil, err
	}

	ds.Author = p.Maintainer

	relpath := filepath.Join(PackagesDir, name)
	pkgPath := filepath.Join(distPath, relpath)

	if _, err := os.Stat(pkgPath); err == nil {
		return nil, errors.Errorf("package %s already exists in %s",
			name, ds.Descriptor().Name)
	}

	logOrDefault(p.L).Info("creating package dataset",
		"distribution", ds.Descriptor().Name, "package", name)

	pds, err := dataset.Init(pkgPath, dataset.Descriptor{
		Kind: dataset.KindPackage,
		Name: name,
	})
	if err != nil {
		return nil, err
	}

	pds.Author = p.Maintainer

	// source/ holds the unpacked source tree, build artifacts land in
	// the dataset root next to it.
	err = os.MkdirAll(filepath.Join(pkgPath, "source"), 0755)
	if err != nil {
		return nil, err
	}

	err = os.WriteFile(filepath.Join(pkgPath, "source", ".gitkeep"), nil, 0644)
	if err != nil {
		return nil, err
	}

	err = pds.SaveAll(fmt.Sprintf("[debfab] package %s layout", name))
	if err != nil {
		return nil, err
	}

	err = ds.AddSubdataset(relpath, "",
		fmt.Sprintf("[debfab] register package %s", name))
	if err != nil {
		return nil, err
	}

	return pds, nil
}
