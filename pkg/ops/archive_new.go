package ops

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"debfab.dev/debfab/pkg/dataset"
	"debfab.dev/debfab/pkg/reprepro"
)

// ArchiveNew creates a reprepro archive dataset: the conf/ directory with
// options and an empty distributions file, the served www/ tree, and the
// area where distribution datasets get registered.
type ArchiveNew struct {
	L hclog.Logger

	Maintainer string
	Label      string

	// SigningKeyPath, when set, ships the armored public key at
	// www/archive.key so apt clients can pin it.
	SigningKeyPath string
}

func (a *ArchiveNew) SetLogger(l hclog.Logger) {
	a.L = l
}

func (a *ArchiveNew) Create(ctx context.Context, path string) (*dataset.Dataset, error) {
	L := logOrDefault(a.L)
	L.Info("creating archive dataset", "path", path, "label", a.Label)

	ds, err := dataset.Init(path, dataset.Descriptor{
		Kind: dataset.KindArchive,
		Name: a.Label,
	})
	if err != nil {
		return nil, err
	}

	ds.Author = a.Maintainer

	for _, dir := range []string{
		reprepro.ConfDir,
		reprepro.WWWDir,
		DistsDir,
	} {
		err = os.MkdirAll(filepath.Join(path, dir), 0755)
		if err != nil {
			return nil, err
		}
	}

	err = os.WriteFile(filepath.Join(path, DistsDir, ".gitkeep"), nil, 0644)
	if err != nil {
		return nil, err
	}

	err = os.WriteFile(filepath.Join(path, reprepro.ConfDir, "distributions"), nil, 0644)
	if err != nil {
		return nil, err
	}

	err = reprepro.WriteOptions(path)
	if err != nil {
		return nil, err
	}

	// reprepro's berkeley db is derived state and stays untracked
	err = os.WriteFile(filepath.Join(path, ".gitignore"),
		[]byte("/.debfab-lock\n/db/\n"), 0644)
	if err != nil {
		return nil, err
	}

	if a.SigningKeyPath != "" {
		key, err := reprepro.LoadSigningKey(a.SigningKeyPath)
		if err != nil {
			return nil, err
		}

		pub, err := key.ExportPublic()
		if err != nil {
			return nil, err
		}

		err = os.WriteFile(filepath.Join(path, reprepro.WWWDir, reprepro.ArchiveKey), pub, 0644)
		if err != nil {
			return nil, err
		}

		L.Info("archive signing key published", "fingerprint", key.Fingerprint())
	}

	err = ds.SaveAll("[debfab] archive layout")
	if err != nil {
		return nil, err
	}

	return ds, nil
}
