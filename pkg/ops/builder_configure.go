package ops

import (
	"context"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"debfab.dev/debfab/pkg/builder"
	"debfab.dev/debfab/pkg/dataset"
)

// BuilderConfigure rewrites the build environment spec of a
// distribution's builder subdataset.
type BuilderConfigure struct {
	L hclog.Logger

	Maintainer string
	Spec       *builder.Spec
}

func (b *BuilderConfigure) SetLogger(l hclog.Logger) {
	b.L = l
}

// Configure saves the spec and records the change in both the builder
// dataset and the owning distribution.
func (b *BuilderConfigure) Configure(ctx context.Context, distPath string) error {
	err := b.Spec.Validate()
	if err != nil {
		return err
	}

	ds, err := dataset.Require(distPath, dataset.KindDistribution)
	if err != nil {
		return err
	}

	ds.Author = b.Maintainer

	builderPath := filepath.Join(distPath, BuilderDir)

	bds, err := dataset.Require(builderPath, dataset.KindBuilder)
	if err != nil {
		return err
	}

	bds.Author = b.Maintainer

	logOrDefault(b.L).Info("configuring builder",
		"distribution", ds.Descriptor().Name,
		"type", b.Spec.Type,
		"suite", b.Spec.Suite,
		"architectures", b.Spec.Architectures)

	err = builder.SaveSpec(builderPath, b.Spec)
	if err != nil {
		return err
	}

	err = bds.SaveAll("[debfab] configure builder")
	if err != nil {
		return err
	}

	// record the moved builder gitlink
	return ds.SaveAll("[debfab] update builder configuration")
}
