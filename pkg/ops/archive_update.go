package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"debfab.dev/debfab/pkg/dataset"
	"debfab.dev/debfab/pkg/deb"
	"debfab.dev/debfab/pkg/progress"
	"debfab.dev/debfab/pkg/reprepro"
)

// Inclusion describes one file fed into reprepro during an update.
type Inclusion struct {
	Distribution string
	Kind         string // include, includedsc, includedeb
	Path         string
}

// ArchiveUpdate feeds the archive with everything that changed in its
// registered distributions since the last time the served tree moved.
//
// The reference point is the newest commit touching www/. Distribution
// subdatasets whose gitlink moved since then are walked, inside them the
// package subdatasets whose gitlink moved, and inside those the added or
// modified .changes, .dsc and .deb files get included.
type ArchiveUpdate struct {
	L hclog.Logger

	Maintainer string

	// Constrain limits the update to distributions whose registration
	// path matches the given prefix, empty means all of them.
	Constrain string
}

func (a *ArchiveUpdate) SetLogger(l hclog.Logger) {
	a.L = l
}

func (a *ArchiveUpdate) Update(ctx context.Context, archivePath string) ([]Inclusion, error) {
	ds, err := dataset.Require(archivePath, dataset.KindArchive)
	if err != nil {
		return nil, err
	}

	ds.Author = a.Maintainer
	ds.L = logOrDefault(a.L)

	inv := &reprepro.Invoker{BaseDir: "."}

	err = inv.Check()
	if err != nil {
		return nil, err
	}

	ref, err := ds.LastCommitTouching(reprepro.WWWDir)
	if err != nil {
		return nil, err
	}

	L := logOrDefault(a.L)
	L.Debug("using archive update reference", "ref", ref.String())

	dists, err := a.changedDistributions(ds, ref)
	if err != nil {
		return nil, err
	}

	var included []Inclusion

	for _, dist := range dists {
		incs, err := a.updateFromDistribution(ctx, ds, inv, dist)
		if err != nil {
			return nil, err
		}

		included = append(included, incs...)
	}

	return included, nil
}

// distChange is a distribution subdataset whose state moved since the
// reference commit.
type distChange struct {
	codename string
	relpath  string
	change   dataset.Change
}

func (a *ArchiveUpdate) changedDistributions(ds *dataset.Dataset, ref dataset.Hash) ([]distChange, error) {
	subs, err := ds.Subdatasets()
	if err != nil {
		return nil, err
	}

	registered := make(map[string]struct{})

	for _, sub := range subs {
		if strings.HasPrefix(sub.Path, DistsDir+"/") {
			registered[sub.Path] = struct{}{}
		}
	}

	changes, err := ds.DiffSince(ref)
	if err != nil {
		return nil, err
	}

	var dists []distChange

	for _, ch := range changes {
		if _, ok := registered[ch.Path]; !ok {
			continue
		}

		if !ch.Subdataset() || ch.From == ch.To {
			continue
		}

		if a.Constrain != "" && !strings.HasPrefix(ch.Path, filepath.ToSlash(a.Constrain)) {
			continue
		}

		dists = append(dists, distChange{
			codename: filepath.Base(ch.Path),
			relpath:  ch.Path,
			change:   ch,
		})
	}

	sort.Slice(dists, func(i, j int) bool {
		return dists[i].relpath < dists[j].relpath
	})

	return dists, nil
}

func (a *ArchiveUpdate) updateFromDistribution(ctx context.Context, ds *dataset.Dataset, inv *reprepro.Invoker, dist distChange) ([]Inclusion, error) {
	L := logOrDefault(a.L)
	L.Debug("updating from distribution", "codename", dist.codename)

	distRepo, err := dataset.EnsureRepo(ds.Path(), dist.relpath)
	if err != nil {
		return nil, errors.Wrapf(err,
			"materializing distribution %s", dist.codename)
	}

	changes, err := dataset.DiffCommits(distRepo, dist.change.From, dist.change.To)
	if err != nil {
		return nil, err
	}

	var included []Inclusion

	for _, ch := range changes {
		if !strings.HasPrefix(ch.Path, PackagesDir+"/") {
			continue
		}

		if !ch.Subdataset() || ch.From == ch.To {
			continue
		}

		incs, err := a.updateFromPackage(ctx, ds, inv, dist, ch)
		if err != nil {
			return nil, err
		}

		included = append(included, incs...)
	}

	return included, nil
}

func (a *ArchiveUpdate) updateFromPackage(ctx context.Context, ds *dataset.Dataset, inv *reprepro.Invoker, dist distChange, pkg dataset.Change) ([]Inclusion, error) {
	L := logOrDefault(a.L)
	L.Debug("updating from package", "distribution", dist.codename, "package", pkg.Path)

	pkgRel := filepath.Join(dist.relpath, pkg.Path)

	pkgRepo, err := dataset.EnsureRepo(filepath.Join(ds.Path(), dist.relpath), pkg.Path)
	if err != nil {
		return nil, errors.Wrapf(err,
			"materializing package %s of %s", pkg.Path, dist.codename)
	}

	changes, err := dataset.DiffCommits(pkgRepo, pkg.From, pkg.To)
	if err != nil {
		return nil, err
	}

	// pending maps archive-relative paths of importable files, entries
	// are consumed as the .changes and .dsc handling claims them.
	pending := make(map[string]struct{})

	for _, ch := range changes {
		if ch.Removed() {
			continue
		}

		switch filepath.Ext(ch.Path) {
		case ".changes", ".dsc", ".deb":
			pending[filepath.Join(pkgRel, ch.Path)] = struct{}{}
		}
	}

	if len(pending) == 0 {
		return nil, nil
	}

	bar := progress.Count(ctx, int64(len(pending)), "including "+dist.codename)
	defer bar.Close()

	var included []Inclusion

	record := func(kind, file string) ([]Inclusion, error) {
		rec := &dataset.RunRecord{
			Action: fmt.Sprintf("update-archive.%s %s", kind, filepath.Base(file)),
			Cmd:    nil,
			Inputs: []string{file},
		}

		switch kind {
		case "include":
			rec.Cmd = inv.Include(dist.codename, file)
		case "includedsc":
			rec.Cmd = inv.IncludeDsc(dist.codename, file)
		case "includedeb":
			rec.Cmd = inv.IncludeDeb(dist.codename, file)
		}

		err := ds.Run(ctx, rec, nil, nil)
		if err != nil {
			return nil, err
		}

		bar.Tick()

		return append(included, Inclusion{
			Distribution: dist.codename,
			Kind:         kind,
			Path:         file,
		}), nil
	}

	// uploads first: a .changes claims every file it references
	for _, file := range sortedPending(pending, ".changes") {
		data, err := os.ReadFile(filepath.Join(ds.Path(), file))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", file)
		}

		upload, err := deb.ParseChanges(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", file)
		}

		delete(pending, file)

		for _, ref := range upload.Files {
			delete(pending, filepath.Join(filepath.Dir(file), ref.Name))
		}

		included, err = record("include", file)
		if err != nil {
			return nil, err
		}
	}

	// source packages next, claiming their referenced files
	for _, file := range sortedPending(pending, ".dsc") {
		data, err := os.ReadFile(filepath.Join(ds.Path(), file))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", file)
		}

		src, err := deb.ParseDsc(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", file)
		}

		for _, ref := range src.Files {
			refPath := filepath.Join(ds.Path(), filepath.Dir(file), ref.Name)
			if _, err := os.Stat(refPath); err != nil {
				return nil, errors.Errorf("%s references missing file %s", file, ref.Name)
			}

			delete(pending, filepath.Join(filepath.Dir(file), ref.Name))
		}

		delete(pending, file)

		L.Debug("importing source package", "dsc", file, "source", src.Source)

		included, err = record("includedsc", file)
		if err != nil {
			return nil, err
		}
	}

	// lonely debs last
	for _, file := range sortedPending(pending, ".deb") {
		ci, err := deb.ExtractControlFile(filepath.Join(ds.Path(), file))
		if err != nil {
			return nil, errors.Wrapf(err, "inspecting %s", file)
		}

		delete(pending, file)

		L.Debug("importing binary package", "deb", file,
			"package", ci.Package, "version", ci.Version)

		included, err = record("includedeb", file)
		if err != nil {
			return nil, err
		}
	}

	return included, nil
}

func sortedPending(pending map[string]struct{}, ext string) []string {
	var out []string

	for file := range pending {
		if filepath.Ext(file) == ext {
			out = append(out, file)
		}
	}

	sort.Strings(out)

	return out
}
