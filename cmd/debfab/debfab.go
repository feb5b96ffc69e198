package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"debfab.dev/debfab/pkg/builder"
	"debfab.dev/debfab/pkg/cmd"
	"debfab.dev/debfab/pkg/config"
	"debfab.dev/debfab/pkg/dataset"
	"debfab.dev/debfab/pkg/humanize"
	"debfab.dev/debfab/pkg/lockfile"
	"debfab.dev/debfab/pkg/ops"
)

func main() {
	c := cli.NewCLI("debfab", "0.1.0")
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"new-distribution": func() (cli.Command, error) {
			return cmd.New(
				"new-distribution",
				"Create a new distribution dataset with its builder",
				newDistributionF,
			), nil
		},
		"configure-builder": func() (cli.Command, error) {
			return cmd.New(
				"configure-builder",
				"Rewrite the build environment spec of a distribution",
				configureBuilderF,
			), nil
		},
		"bootstrap-builder": func() (cli.Command, error) {
			return cmd.New(
				"bootstrap-builder",
				"Materialize the build environments of a distribution",
				bootstrapBuilderF,
			), nil
		},
		"new-package": func() (cli.Command, error) {
			return cmd.New(
				"new-package",
				"Create a package dataset inside a distribution",
				newPackageF,
			), nil
		},
		"build-package": func() (cli.Command, error) {
			return cmd.New(
				"build-package",
				"Build a package with the distribution's builder",
				buildPackageF,
			), nil
		},
		"new-reprepro-repository": func() (cli.Command, error) {
			return cmd.New(
				"new-reprepro-repository",
				"Create a reprepro archive dataset",
				newArchiveF,
			), nil
		},
		"add-distribution": func() (cli.Command, error) {
			return cmd.New(
				"add-distribution",
				"Register a distribution with an archive",
				addDistributionF,
			), nil
		},
		"update-reprepro-repository": func() (cli.Command, error) {
			return cmd.New(
				"update-reprepro-repository",
				"Feed new builds from registered distributions into the archive",
				updateArchiveF,
			), nil
		},
		"setup": func() (cli.Command, error) {
			return cmd.New(
				"setup",
				"Show the effective configuration",
				setupF,
			), nil
		},
		"debug": func() (cli.Command, error) {
			return cmd.New(
				"debug",
				"Dump configuration and dataset state",
				debugF,
			), nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		log.Println(err)
	}

	os.Exit(exitStatus)
}

func newLogger() hclog.Logger {
	level := hclog.Info

	if lv := os.Getenv("DEBFAB_LOG"); lv != "" {
		level = hclog.LevelFromString(lv)
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:  "debfab",
		Level: level,
	})
}

// specFromFlags merges builder flags over the configured defaults.
func specFromFlags(cfg *config.Config, typ, suite, mirror, tarball string, arches, components, extra []string) *builder.Spec {
	spec := &builder.Spec{
		Type:          typ,
		Suite:         suite,
		Mirror:        mirror,
		Architectures: arches,
		Components:    components,
		BaseTarball:   tarball,
		ExtraPackages: extra,
	}

	if spec.Type == "" {
		spec.Type = cfg.BuilderType
	}

	if spec.Suite == "" {
		spec.Suite = cfg.Suite
	}

	if spec.Mirror == "" {
		spec.Mirror = cfg.Mirror
	}

	if len(spec.Architectures) == 0 {
		spec.Architectures = cfg.Architectures
	}

	if len(spec.Components) == 0 {
		spec.Components = cfg.Components
	}

	return spec
}

func takeLock(ctx context.Context, dir string) (func(), error) {
	var shown bool

	return lockfile.Take(ctx, filepath.Join(dir, ".debfab-lock"), func() {
		if !shown {
			fmt.Printf("Lock detected, waiting...\n")
			shown = true
		}
	})
}

func newDistributionF(ctx context.Context, opts struct {
	Codename    string   `long:"codename" description:"distribution codename, defaults to the directory name"`
	Builder     string   `long:"builder" description:"builder type: host or chroot"`
	Suite       string   `long:"suite" description:"suite to build against"`
	Mirror      string   `long:"mirror" description:"debian mirror for the builder"`
	Arch        []string `short:"a" long:"arch" description:"architecture to build for, repeatable"`
	Component   []string `long:"component" description:"archive component, repeatable"`
	BaseTarball string   `long:"base-tarball" description:"fetch this base tree instead of running debootstrap"`

	Pos struct {
		Path string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	codename := opts.Codename
	if codename == "" {
		codename = filepath.Base(filepath.Clean(opts.Pos.Path))
	}

	op := &ops.DistributionNew{
		L:          newLogger(),
		Maintainer: cfg.Maintainer,
		Spec: specFromFlags(cfg, opts.Builder, opts.Suite, opts.Mirror,
			opts.BaseTarball, opts.Arch, opts.Component, nil),
	}

	// the suite defaults to the codename it builds for
	if opts.Suite == "" {
		op.Spec.Suite = codename
	}

	ds, err := op.Create(ctx, opts.Pos.Path, codename)
	if err != nil {
		return err
	}

	fmt.Printf("Distribution %s created at %s\n", codename, ds.Path())

	return nil
}

func configureBuilderF(ctx context.Context, opts struct {
	Dataset     string   `short:"d" long:"dataset" description:"distribution dataset" default:"."`
	Builder     string   `long:"builder" description:"builder type: host or chroot"`
	Suite       string   `long:"suite" description:"suite to build against"`
	Mirror      string   `long:"mirror" description:"debian mirror for the builder"`
	Arch        []string `short:"a" long:"arch" description:"architecture to build for, repeatable"`
	Component   []string `long:"component" description:"archive component, repeatable"`
	BaseTarball string   `long:"base-tarball" description:"fetch this base tree instead of running debootstrap"`
	Extra       []string `long:"extra-package" description:"additional package installed into the environment, repeatable"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	op := &ops.BuilderConfigure{
		L:          newLogger(),
		Maintainer: cfg.Maintainer,
		Spec: specFromFlags(cfg, opts.Builder, opts.Suite, opts.Mirror,
			opts.BaseTarball, opts.Arch, opts.Component, opts.Extra),
	}

	return op.Configure(ctx, opts.Dataset)
}

func bootstrapBuilderF(ctx context.Context, opts struct {
	Dataset string   `short:"d" long:"dataset" description:"distribution dataset" default:"."`
	Arch    []string `short:"a" long:"arch" description:"bootstrap only this architecture, repeatable"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	cleanup, err := takeLock(ctx, opts.Dataset)
	if err != nil {
		return err
	}

	defer cleanup()

	op := &ops.BuilderBootstrap{
		L:             newLogger(),
		Maintainer:    cfg.Maintainer,
		Architectures: opts.Arch,
	}

	return op.Bootstrap(ctx, opts.Dataset)
}

func newPackageF(ctx context.Context, opts struct {
	Dataset string `short:"d" long:"dataset" description:"distribution dataset" default:"."`

	Pos struct {
		Name string `positional-arg-name:"name" required:"yes"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	op := &ops.PackageNew{
		L:          newLogger(),
		Maintainer: cfg.Maintainer,
	}

	pds, err := op.Create(ctx, opts.Dataset, opts.Pos.Name)
	if err != nil {
		return err
	}

	fmt.Printf("Package %s created at %s\n", opts.Pos.Name, pds.Path())

	return nil
}

func buildPackageF(ctx context.Context, opts struct {
	Dataset string   `short:"d" long:"dataset" description:"distribution dataset" default:"."`
	Arch    []string `short:"a" long:"arch" description:"build only this architecture, repeatable"`
	Dsc     string   `long:"dsc" description:"unpack this source package before building"`

	Pos struct {
		Name string `positional-arg-name:"name" required:"yes"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	cleanup, err := takeLock(ctx, opts.Dataset)
	if err != nil {
		return err
	}

	defer cleanup()

	op := &ops.PackageBuild{
		L:             newLogger(),
		Maintainer:    cfg.Maintainer,
		Architectures: opts.Arch,
		DscPath:       opts.Dsc,
	}

	artifacts, err := op.Build(ctx, opts.Dataset, opts.Pos.Name)
	if err != nil {
		return err
	}

	for _, art := range artifacts {
		sz, unit := humanize.Size(art.Size)

		if art.Package != "" {
			fmt.Printf("%s %s %s\t%.2f%s\t%s\n",
				art.Package, art.Version, art.Architecture, sz, unit, art.Path)
		} else {
			fmt.Printf("%.2f%s\t%s\n", sz, unit, art.Path)
		}
	}

	return nil
}

func newArchiveF(ctx context.Context, opts struct {
	Label      string `long:"label" description:"archive label, defaults to the directory name"`
	SigningKey string `long:"signing-key" description:"armored secret key whose public half ships with the archive"`

	Pos struct {
		Path string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	label := opts.Label
	if label == "" {
		label = filepath.Base(filepath.Clean(opts.Pos.Path))
	}

	signingKey := opts.SigningKey
	if signingKey == "" {
		signingKey = cfg.SigningKeyPath
	}

	op := &ops.ArchiveNew{
		L:              newLogger(),
		Maintainer:     cfg.Maintainer,
		Label:          label,
		SigningKeyPath: signingKey,
	}

	ds, err := op.Create(ctx, opts.Pos.Path)
	if err != nil {
		return err
	}

	fmt.Printf("Archive %s created at %s\n", label, ds.Path())

	return nil
}

func addDistributionF(ctx context.Context, opts struct {
	Dataset    string   `short:"d" long:"dataset" description:"archive dataset" default:"."`
	Arch       []string `short:"a" long:"arch" description:"architecture served for this distribution, repeatable"`
	Component  []string `long:"component" description:"component served for this distribution, repeatable"`
	SigningKey string   `long:"signing-key" description:"armored secret key resolving the SignWith fingerprint"`

	Pos struct {
		Source string `positional-arg-name:"distribution" required:"yes"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	signingKey := opts.SigningKey
	if signingKey == "" {
		signingKey = cfg.SigningKeyPath
	}

	op := &ops.DistributionAdd{
		L:              newLogger(),
		Maintainer:     cfg.Maintainer,
		Architectures:  opts.Arch,
		Components:     opts.Component,
		SigningKeyPath: signingKey,
	}

	return op.Add(ctx, opts.Dataset, opts.Pos.Source)
}

func updateArchiveF(ctx context.Context, opts struct {
	Dataset string `short:"d" long:"dataset" description:"archive dataset" default:"."`

	Pos struct {
		Path string `positional-arg-name:"path"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	cleanup, err := takeLock(ctx, opts.Dataset)
	if err != nil {
		return err
	}

	defer cleanup()

	op := &ops.ArchiveUpdate{
		L:          newLogger(),
		Maintainer: cfg.Maintainer,
		Constrain:  opts.Pos.Path,
	}

	included, err := op.Update(ctx, opts.Dataset)
	if err != nil {
		return err
	}

	if len(included) == 0 {
		fmt.Println("Archive already up to date")
		return nil
	}

	for _, inc := range included {
		fmt.Printf("%s %s %s\n", inc.Distribution, inc.Kind, inc.Path)
	}

	return nil
}

func setupF(ctx context.Context, opts struct{}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Config: %s\n", cfg.Path())
	fmt.Printf("Maintainer: %s\n", cfg.Maintainer)
	fmt.Printf("Default suite: %s\n", cfg.Suite)
	fmt.Printf("Default mirror: %s\n", cfg.Mirror)
	fmt.Printf("Default architectures: %v\n", cfg.Architectures)
	fmt.Printf("Builder type: %s\n", cfg.BuilderType)

	if cfg.SigningKeyPath != "" {
		fmt.Printf("Signing key: %s\n", cfg.SigningKeyPath)
	}

	return nil
}

func debugF(ctx context.Context, opts struct {
	Dataset string `short:"d" long:"dataset" description:"dataset to inspect" default:"."`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	spew.Dump(cfg)

	ds, err := dataset.Open(opts.Dataset)
	if err != nil {
		return err
	}

	spew.Dump(ds.Descriptor())

	subs, err := ds.Subdatasets()
	if err != nil {
		return err
	}

	for _, sub := range subs {
		fmt.Printf("%s\t%s\t%s\n", sub.Path, sub.Hash, sub.URL)
	}

	return nil
}
