package ops

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"debfab.dev/debfab/pkg/builder"
	"debfab.dev/debfab/pkg/dataset"
)

// BuilderBootstrap materializes the build environments a distribution's
// builder spec describes, one per architecture.
type BuilderBootstrap struct {
	L hclog.Logger

	Maintainer string

	// Architectures constrains bootstrapping, empty means every
	// architecture of the spec.
	Architectures []string
}

func (b *BuilderBootstrap) SetLogger(l hclog.Logger) {
	b.L = l
}

func (b *BuilderBootstrap) Bootstrap(ctx context.Context, distPath string) error {
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

	spec, err := builder.LoadSpec(builderPath)
	if err != nil {
		return err
	}

	arches := b.Architectures
	if len(arches) == 0 {
		arches = spec.Architectures
	}

	L := logOrDefault(b.L)

	boot := &builder.Bootstrap{
		L:    L,
		Dir:  builderPath,
		Spec: spec,
	}

	for _, arch := range arches {
		L.Info("bootstrapping builder", "suite", spec.Suite, "arch", arch, "type", spec.Type)

		err = boot.Arch(ctx, arch)
		if err != nil {
			return err
		}
	}

	rec := &dataset.RunRecord{
		ID:     dataset.NewID(),
		Action: "bootstrap-builder",
		Cmd:    append([]string{"debfab", "bootstrap-builder", "--arch"}, strings.Join(arches, ",")),
	}

	err = bds.SaveAll(dataset.RunMessage(rec))
	if err != nil {
		return err
	}

	return ds.SaveAll("[debfab] bootstrap builder")
}
