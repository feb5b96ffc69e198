package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"debfab.dev/debfab/pkg/builder"
	"debfab.dev/debfab/pkg/dataset"
)

// DistributionNew creates a distribution dataset: a packages/ area and a
// builder subdataset carrying the initial build environment spec.
type DistributionNew struct {
	L hclog.Logger

	Maintainer string
	Spec       *builder.Spec
}

func (d *DistributionNew) SetLogger(l hclog.Logger) {
	d.L = l
}

// Create sets up the distribution dataset at path with the given codename.
func (d *DistributionNew) Create(ctx context.Context, path, codename string) (*dataset.Dataset, error) {
	if codename == "" {
		return nil, errors.New("a distribution needs a codename")
	}

	if d.Spec == nil {
		return nil, errors.New("a distribution needs a builder spec")
	}

	if err := d.Spec.Validate(); err != nil {
		return nil, err
	}

	L := logOrDefault(d.L)
	L.Info("creating distribution dataset", "path", path, "codename", codename)

	ds, err := dataset.Init(path, dataset.Descriptor{
		Kind: dataset.KindDistribution,
		Name: codename,
	})
	if err != nil {
		return nil, err
	}

	ds.Author = d.Maintainer

	err = os.MkdirAll(filepath.Join(path, PackagesDir), 0755)
	if err != nil {
		return nil, err
	}

	err = os.WriteFile(filepath.Join(path, PackagesDir, ".gitkeep"), nil, 0644)
	if err != nil {
		return nil, err
	}

	builderPath := filepath.Join(path, BuilderDir)

	bds, err := dataset.Init(builderPath, dataset.Descriptor{
		Kind: dataset.KindBuilder,
		Name: codename,
	})
	if err != nil {
		return nil, err
	}

	bds.Author = d.Maintainer

	err = builder.SaveSpec(builderPath, d.Spec)
	if err != nil {
		return nil, err
	}

	// The bootstrapped trees never enter version control.
	err = os.WriteFile(filepath.Join(builderPath, ".gitignore"),
		[]byte("/.debfab-lock\n/cache/\n"), 0644)
	if err != nil {
		return nil, err
	}

	err = bds.SaveAll("[debfab] initial builder spec")
	if err != nil {
		return nil, err
	}

	err = ds.AddSubdataset(BuilderDir, "",
		fmt.Sprintf("[debfab] register builder for %s", codename))
	if err != nil {
		return nil, err
	}

	err = ds.SaveAll(fmt.Sprintf("[debfab] distribution %s layout", codename))
	if err != nil {
		return nil, err
	}

	return ds, nil
}
