package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

const gitmodulesName = ".gitmodules"

// Subdataset is a dataset registered inside another one: a git submodule
// entry plus the gitlink hash recorded in the parent's HEAD tree.
type Subdataset struct {
	Name string
	Path string
	URL  string

	// Hash is the child commit recorded in the parent HEAD, zero when the
	// registration has not been saved yet.
	Hash plumbing.Hash
}

func (d *Dataset) loadModules() (*config.Modules, error) {
	return readModules(d.path)
}

func readModules(dir string) (*config.Modules, error) {
	modules := config.NewModules()

	data, err := os.ReadFile(filepath.Join(dir, gitmodulesName))
	if err != nil {
		if os.IsNotExist(err) {
			return modules, nil
		}

		return nil, err
	}

	err = modules.Unmarshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing .gitmodules")
	}

	return modules, nil
}

func (d *Dataset) saveModules(modules *config.Modules) error {
	data, err := modules.Marshal()
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(d.path, gitmodulesName), data, 0644)
}

// AddSubdataset registers the dataset at relpath (already initialized and
// committed below this dataset's root) as a subdataset. The registration
// itself is committed.
func (d *Dataset) AddSubdataset(relpath, url, message string) error {
	relpath = filepath.ToSlash(filepath.Clean(relpath))

	if _, err := Open(filepath.Join(d.path, relpath)); err != nil {
		return errors.Wrapf(err, "subdataset candidate at %s", relpath)
	}

	modules, err := d.loadModules()
	if err != nil {
		return err
	}

	if _, ok := modules.Submodules[relpath]; ok {
		return errors.Errorf("subdataset already registered at %s", relpath)
	}

	if url == "" {
		url = "./" + relpath
	}

	modules.Submodules[relpath] = &config.Submodule{
		Name: relpath,
		Path: relpath,
		URL:  url,
	}

	err = d.saveModules(modules)
	if err != nil {
		return err
	}

	// With the module registered, the next save stages the child HEAD as
	// a gitlink entry.
	return d.SaveAll(message)
}

// CloneSubdataset clones a dataset from url to relpath and registers it.
func (d *Dataset) CloneSubdataset(url, relpath, message string) error {
	target := filepath.Join(d.path, relpath)

	_, err := git.PlainClone(target, false, &git.CloneOptions{
		URL: url,
	})
	if err != nil {
		return errors.Wrapf(err, "cloning %s", url)
	}

	return d.AddSubdataset(relpath, url, message)
}

// Subdatasets lists the registered subdatasets with the gitlink hashes
// recorded in HEAD.
func (d *Dataset) Subdatasets() ([]Subdataset, error) {
	modules, err := d.loadModules()
	if err != nil {
		return nil, err
	}

	var tree *object.Tree

	if head, err := d.repo.Head(); err == nil {
		commit, err := d.repo.CommitObject(head.Hash())
		if err != nil {
			return nil, err
		}

		tree, err = commit.Tree()
		if err != nil {
			return nil, err
		}
	}

	var subs []Subdataset

	for _, mod := range modules.Submodules {
		sub := Subdataset{
			Name: mod.Name,
			Path: mod.Path,
			URL:  mod.URL,
		}

		if tree != nil {
			if entry, err := tree.FindEntry(mod.Path); err == nil &&
				entry.Mode == filemode.Submodule {
				sub.Hash = entry.Hash
			}
		}

		subs = append(subs, sub)
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].Path < subs[j].Path
	})

	return subs, nil
}

// EnsureRepo opens the git repository at relpath below parentDir. When
// the worktree is missing it is cloned back from its .gitmodules
// registration, with relative URLs resolved against the parent's
// origin remote.
func EnsureRepo(parentDir, relpath string) (*git.Repository, error) {
	full := filepath.Join(parentDir, relpath)

	repo, err := git.PlainOpen(full)
	if err == nil {
		return repo, nil
	}

	if err != git.ErrRepositoryNotExists {
		return nil, err
	}

	modules, err := readModules(parentDir)
	if err != nil {
		return nil, err
	}

	key := filepath.ToSlash(filepath.Clean(relpath))

	mod, ok := modules.Submodules[key]
	if !ok {
		return nil, errors.Errorf("no subdataset registered at %s", key)
	}

	url := mod.URL

	if strings.HasPrefix(url, "./") || strings.HasPrefix(url, "../") {
		parent, err := git.PlainOpen(parentDir)
		if err != nil {
			return nil, err
		}

		origin, err := parent.Remote("origin")
		if err != nil {
			return nil, errors.Wrapf(err, "resolving relative url %s", url)
		}

		url = filepath.Join(origin.Config().URLs[0], url)
	}

	repo, err = git.PlainClone(full, false, &git.CloneOptions{URL: url})
	if err != nil {
		return nil, errors.Wrapf(err, "cloning %s", url)
	}

	return repo, nil
}

// SubdatasetAt reports the registered subdataset covering relpath, if any.
func (d *Dataset) SubdatasetAt(relpath string) (*Subdataset, error) {
	relpath = filepath.ToSlash(filepath.Clean(relpath))

	subs, err := d.Subdatasets()
	if err != nil {
		return nil, err
	}

	for _, sub := range subs {
		if sub.Path == relpath {
			return &sub, nil
		}
	}

	return nil, nil
}
