package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"debfab.dev/debfab/pkg/builder"
	"debfab.dev/debfab/pkg/dataset"
	"debfab.dev/debfab/pkg/reprepro"
)

// DistributionAdd registers a distribution dataset with an archive:
// cloned below distributions/<codename> and appended as a stanza to
// conf/distributions.
type DistributionAdd struct {
	L hclog.Logger

	Maintainer string

	// Architectures and Components override what the distribution's
	// builder spec declares.
	Architectures []string
	Components    []string

	// SigningKeyPath resolves the SignWith fingerprint of the stanza.
	SigningKeyPath string
}

func (d *DistributionAdd) SetLogger(l hclog.Logger) {
	d.L = l
}

// Add registers the distribution found at source (a local dataset path
// or a git URL) with the archive dataset.
func (d *DistributionAdd) Add(ctx context.Context, archivePath, source string) error {
	ds, err := dataset.Require(archivePath, dataset.KindArchive)
	if err != nil {
		return err
	}

	ds.Author = d.Maintainer

	codename, arches, components, err := d.describeSource(source)
	if err != nil {
		return err
	}

	existing, err := reprepro.LoadDistributions(archivePath)
	if err != nil {
		return err
	}

	for _, dist := range existing {
		if dist.Codename == codename {
			return errors.Errorf("distribution %s already configured", codename)
		}
	}

	relpath := filepath.Join(DistsDir, codename)

	logOrDefault(d.L).Info("registering distribution",
		"archive", archivePath, "codename", codename, "source", source)

	err = ds.CloneSubdataset(source, relpath,
		fmt.Sprintf("[debfab] add distribution %s", codename))
	if err != nil {
		return err
	}

	stanza := reprepro.Distribution{
		Codename:      codename,
		Suite:         codename,
		Label:         ds.Descriptor().Name,
		Origin:        ds.Descriptor().Name,
		Description:   fmt.Sprintf("%s packages for %s", ds.Descriptor().Name, codename),
		Architectures: append([]string{"source"}, arches...),
		Components:    components,
	}

	if d.SigningKeyPath != "" {
		key, err := reprepro.LoadSigningKey(d.SigningKeyPath)
		if err != nil {
			return err
		}

		stanza.SignWith = key.Fingerprint()
	}

	err = reprepro.AddDistribution(archivePath, stanza)
	if err != nil {
		return err
	}

	return ds.SaveAll(fmt.Sprintf("[debfab] configure distribution %s", codename))
}

// describeSource reads the codename and builder defaults out of the
// distribution being registered. For remote sources the flags must carry
// the codename's settings, the codename itself defaults to the URL base.
func (d *DistributionAdd) describeSource(source string) (string, []string, []string, error) {
	arches := d.Architectures
	components := d.Components

	if fi, err := os.Stat(source); err == nil && fi.IsDir() {
		src, err := dataset.Require(source, dataset.KindDistribution)
		if err != nil {
			return "", nil, nil, err
		}

		codename := src.Descriptor().Name

		if spec, err := builder.LoadSpec(filepath.Join(source, BuilderDir)); err == nil {
			if len(arches) == 0 {
				arches = spec.Architectures
			}

			if len(components) == 0 {
				components = spec.Components
			}
		}

		if len(components) == 0 {
			components = []string{"main"}
		}

		if len(arches) == 0 {
			return "", nil, nil, errors.New("no architectures known for distribution")
		}

		return codename, arches, components, nil
	}

	codename := strings.TrimSuffix(filepath.Base(source), ".git")

	if len(arches) == 0 {
		return "", nil, nil, errors.Errorf(
			"architectures must be given when adding remote distribution %s", source)
	}

	if len(components) == 0 {
		components = []string{"main"}
	}

	return codename, arches, components, nil
}
