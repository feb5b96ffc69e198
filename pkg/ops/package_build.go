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
	"debfab.dev/debfab/pkg/deb"
)

// Artifact is a file produced by a package build.
type Artifact struct {
	Path string
	Size int64

	// Filled for .deb artifacts.
	Package      string
	Version      string
	Architecture string
}

// PackageBuild runs the distribution's builder over a package dataset,
// recording the build and its artifacts in the package's history.
type PackageBuild struct {
	L hclog.Logger

	Maintainer string

	// Architectures constrains the build, empty means every architecture
	// of the builder spec.
	Architectures []string

	// DscPath, when set, is a source package unpacked into the package
	// dataset before building.
	DscPath string
}

func (p *PackageBuild) SetLogger(l hclog.Logger) {
	p.L = l
}

func (p *PackageBuild) Build(ctx context.Context, distPath, name string) ([]Artifact, error) {
	ds, err := dataset.Require(distPath, dataset.KindDistribution)
	if err != nil {
		return nil, err
	}

	ds.Author = p.Maintainer

	pkgPath := filepath.Join(distPath, PackagesDir, name)

	pds, err := dataset.Require(pkgPath, dataset.KindPackage)
	if err != nil {
		return nil, err
	}

	pds.Author = p.Maintainer
	pds.L = logOrDefault(p.L)

	builderPath, err := filepath.Abs(filepath.Join(distPath, BuilderDir))
	if err != nil {
		return nil, err
	}

	spec, err := builder.LoadSpec(builderPath)
	if err != nil {
		return nil, err
	}

	if p.DscPath != "" {
		err = p.unpackSource(ctx, pds)
		if err != nil {
			return nil, err
		}
	}

	srcRel, err := p.findSourceTree(pkgPath)
	if err != nil {
		return nil, err
	}

	srcAbs, err := filepath.Abs(filepath.Join(pkgPath, srcRel))
	if err != nil {
		return nil, err
	}

	arches := p.Architectures
	if len(arches) == 0 {
		arches = spec.Architectures
	}

	L := logOrDefault(p.L)

	for _, arch := range arches {
		stamp, err := builder.LoadStamp(builderPath, arch)
		if err != nil {
			return nil, err
		}

		if stamp == nil {
			return nil, errors.Errorf(
				"builder not bootstrapped for %s, run bootstrap-builder first", arch)
		}

		rec := &dataset.RunRecord{
			Action: fmt.Sprintf("build-package %s [%s]", name, arch),
			Cmd:    spec.BuildCommand(builderPath, srcAbs, arch),
			Inputs: []string{filepath.Join(srcRel, "debian", "changelog")},
		}

		if spec.Type == builder.TypeHost {
			// dpkg-buildpackage runs inside the source tree and drops
			// its artifacts one level up
			rec.Dir = srcRel
			rec.Env = spec.BuildEnv()
		}

		L.Info("building package", "package", name, "arch", arch,
			"cmd", strings.Join(rec.Cmd, " "))

		err = pds.Run(ctx, rec, nil, nil)
		if err != nil {
			return nil, err
		}
	}

	artifacts, err := p.scanArtifacts(pkgPath, srcRel)
	if err != nil {
		return nil, err
	}

	err = ds.SaveAll(fmt.Sprintf("[debfab] build %s", name))
	if err != nil {
		return nil, err
	}

	return artifacts, nil
}

// unpackSource extracts the configured .dsc into source/ as a recorded
// run of dpkg-source.
func (p *PackageBuild) unpackSource(ctx context.Context, pds *dataset.Dataset) error {
	dscAbs, err := filepath.Abs(p.DscPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(dscAbs)
	if err != nil {
		return errors.Wrap(err, "reading source package")
	}

	dsc, err := deb.ParseDsc(data)
	if err != nil {
		return err
	}

	target := filepath.Join("source", dsc.Source+"-"+upstreamVersion(dsc.Version))

	rec := &dataset.RunRecord{
		Action: fmt.Sprintf("unpack-source %s %s", dsc.Source, dsc.Version),
		Cmd:    []string{"dpkg-source", "--no-check", "-x", dscAbs, target},
		Inputs: []string{dscAbs},
	}

	return pds.Run(ctx, rec, nil, nil)
}

// findSourceTree locates the debian source tree inside a package
// dataset: either source/ itself or its single debianized child.
func (p *PackageBuild) findSourceTree(pkgPath string) (string, error) {
	if _, err := os.Stat(filepath.Join(pkgPath, "source", "debian", "changelog")); err == nil {
		return "source", nil
	}

	entries, err := os.ReadDir(filepath.Join(pkgPath, "source"))
	if err != nil {
		return "", err
	}

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}

		tree := filepath.Join("source", ent.Name())

		if _, err := os.Stat(filepath.Join(pkgPath, tree, "debian", "changelog")); err == nil {
			return tree, nil
		}
	}

	return "", errors.New("no debian source tree found below source/")
}

// scanArtifacts lists the build products of the package dataset. They
// land one level above the source tree, which is the dataset root for a
// flat source/ layout and source/ itself for an unpacked tree below it.
func (p *PackageBuild) scanArtifacts(pkgPath, srcRel string) ([]Artifact, error) {
	dirs := []string{pkgPath}

	if parent := filepath.Dir(srcRel); parent != "." {
		dirs = append(dirs, filepath.Join(pkgPath, parent))
	}

	var artifacts []Artifact

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}

		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}

			ext := filepath.Ext(ent.Name())
			if ext != ".deb" && ext != ".changes" && ext != ".dsc" {
				continue
			}

			info, err := ent.Info()
			if err != nil {
				return nil, err
			}

			art := Artifact{
				Path: filepath.Join(dir, ent.Name()),
				Size: info.Size(),
			}

			if ext == ".deb" {
				ci, err := deb.ExtractControlFile(art.Path)
				if err != nil {
					return nil, errors.Wrapf(err, "inspecting %s", ent.Name())
				}

				art.Package = ci.Package
				art.Version = ci.Version
				art.Architecture = ci.Architecture
			}

			artifacts = append(artifacts, art)
		}
	}

	return artifacts, nil
}

// upstreamVersion strips the epoch and debian revision off a version.
func upstreamVersion(version string) string {
	if idx := strings.IndexByte(version, ':'); idx != -1 {
		version = version[idx+1:]
	}

	if idx := strings.LastIndexByte(version, '-'); idx != -1 {
		version = version[:idx]
	}

	return version
}
