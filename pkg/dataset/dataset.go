package dataset

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/hashicorp/go-hclog"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Kind classifies what a dataset holds. Stored in the descriptor and
// checked by operations that only make sense on one kind.
type Kind string

const (
	KindDistribution Kind = "distribution"
	KindBuilder      Kind = "builder"
	KindPackage      Kind = "package"
	KindArchive      Kind = "archive"
)

const (
	markerDir      = ".debfab"
	descriptorName = "dataset.json"
)

// Descriptor is the persisted identity of a dataset.
type Descriptor struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`

	// Name carries the kind-specific name: the distribution codename,
	// the package source name, or the archive label.
	Name string `json:"name,omitempty"`
}

// Dataset is a git repository carrying a debfab descriptor.
type Dataset struct {
	L hclog.Logger

	path string
	repo *git.Repository
	desc Descriptor

	// Author used for commits, "Name <email>" form.
	Author string
}

var ErrNoDataset = errors.New("no dataset found")

// Hash re-exports the git object hash type used throughout the dataset
// API, callers rarely need to import go-git's plumbing for it.
type Hash = plumbing.Hash

// NewID returns a fresh random dataset (or run) identifier.
func NewID() string {
	buf := make([]byte, 16)

	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}

	return base58.Encode(buf)
}

// Init creates a new dataset: a git repository with a committed descriptor.
func Init(path string, desc Descriptor) (*Dataset, error) {
	if desc.ID == "" {
		desc.ID = NewID()
	}

	err := os.MkdirAll(path, 0755)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, errors.Wrapf(err, "initializing dataset repository at %s", path)
	}

	ds := &Dataset{
		L:    hclog.L(),
		path: path,
		repo: repo,
		desc: desc,
	}

	err = ds.writeDescriptor()
	if err != nil {
		return nil, err
	}

	// operation locks live in the worktree but never enter history
	err = os.WriteFile(filepath.Join(path, ".gitignore"), []byte("/.debfab-lock\n"), 0644)
	if err != nil {
		return nil, err
	}

	err = ds.SaveAll(fmt.Sprintf("[debfab] new %s dataset", desc.Kind))
	if err != nil {
		return nil, err
	}

	return ds, nil
}

// Open opens an existing dataset rooted at path.
func Open(path string) (*Dataset, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return nil, errors.Wrapf(ErrNoDataset, "at %s", path)
		}

		return nil, err
	}

	ds := &Dataset{
		L:    hclog.L(),
		path: path,
		repo: repo,
	}

	f, err := os.Open(filepath.Join(path, markerDir, descriptorName))
	if err != nil {
		return nil, errors.Wrapf(ErrNoDataset, "missing descriptor at %s", path)
	}

	defer f.Close()

	err = json.NewDecoder(f).Decode(&ds.desc)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding dataset descriptor at %s", path)
	}

	return ds, nil
}

// Require opens a dataset and verifies its kind.
func Require(path string, kind Kind) (*Dataset, error) {
	ds, err := Open(path)
	if err != nil {
		return nil, err
	}

	if ds.desc.Kind != kind {
		return nil, errors.Errorf("dataset at %s is a %s dataset, expected %s",
			path, ds.desc.Kind, kind)
	}

	return ds, nil
}

func (d *Dataset) Path() string {
	return d.path
}

func (d *Dataset) Descriptor() Descriptor {
	return d.desc
}

func (d *Dataset) Repo() *git.Repository {
	return d.repo
}

func (d *Dataset) writeDescriptor() error {
	dir := filepath.Join(d.path, markerDir)

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(&d.desc, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, descriptorName), append(data, '\n'), 0644)
}

func (d *Dataset) signature() *object.Signature {
	name := "debfab"
	email := "debfab@localhost"

	author := d.Author
	if author == "" {
		author = os.Getenv("DEBFAB_AUTHOR")
	}

	if author != "" {
		if idx := strings.IndexByte(author, '<'); idx != -1 {
			name = strings.TrimSpace(author[:idx])
			email = strings.Trim(strings.TrimSpace(author[idx:]), "<>")
		} else {
			name = author
		}
	}

	return &object.Signature{
		Name:  name,
		Email: email,
		When:  time.Now(),
	}
}

// SaveAll stages every change in the worktree and commits it. A clean
// worktree is not an error, the current HEAD is returned instead.
func (d *Dataset) SaveAll(message string) error {
	_, err := d.saveAll(message)
	return err
}

func (d *Dataset) saveAll(message string) (plumbing.Hash, error) {
	idx, err := d.stageAll()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "staging worktree changes")
	}

	if d.indexMatchesHead(idx) {
		head, err := d.repo.Head()
		if err != nil {
			return plumbing.ZeroHash, errors.Wrap(err, "empty dataset with nothing to save")
		}

		d.L.Debug("worktree clean, nothing to save", "path", d.path)
		return head.Hash(), nil
	}

	wt, err := d.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: d.signature(),
	})
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "committing dataset changes")
	}

	d.L.Debug("saved dataset state", "path", d.path, "commit", hash.String())

	return hash, nil
}

// stageAll rebuilds the index from the worktree: tracked files hashed as
// blob objects, registered subdatasets as gitlink entries carrying their
// current HEAD. go-git's worktree staging cannot represent a nested
// repository as a gitlink, so the index is written directly and the
// commit is built from it.
func (d *Dataset) stageAll() (*index.Index, error) {
	gitlinks, err := d.gitlinkEntries()
	if err != nil {
		return nil, err
	}

	wt, err := d.repo.Worktree()
	if err != nil {
		return nil, err
	}

	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return nil, err
	}

	ignored := gitignore.NewMatcher(patterns)

	idx := &index.Index{Version: 2}
	idx.Entries = append(idx.Entries, gitlinks...)

	registered := make(map[string]struct{}, len(gitlinks))
	for _, entry := range gitlinks {
		registered[entry.Name] = struct{}{}
	}

	walkErr := filepath.Walk(d.path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(d.path, p)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		rel = filepath.ToSlash(rel)
		parts := strings.Split(rel, "/")

		if info.IsDir() {
			if info.Name() == git.GitDirName {
				return filepath.SkipDir
			}

			if _, ok := registered[rel]; ok {
				return filepath.SkipDir
			}

			if ignored.Match(parts, true) {
				return filepath.SkipDir
			}

			return nil
		}

		if ignored.Match(parts, false) {
			return nil
		}

		entry, err := d.blobEntry(p, rel, info)
		if err != nil {
			return err
		}

		idx.Entries = append(idx.Entries, entry)

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].Name < idx.Entries[j].Name
	})

	err = d.repo.Storer.SetIndex(idx)
	if err != nil {
		return nil, err
	}

	return idx, nil
}

// indexMatchesHead reports whether the staged index is identical to the
// HEAD tree, meaning there is nothing new to commit.
func (d *Dataset) indexMatchesHead(idx *index.Index) bool {
	head, err := d.repo.Head()
	if err != nil {
		return false
	}

	commit, err := d.repo.CommitObject(head.Hash())
	if err != nil {
		return false
	}

	tree, err := commit.Tree()
	if err != nil {
		return false
	}

	staged := make(map[string]*index.Entry, len(idx.Entries))
	for _, entry := range idx.Entries {
		staged[entry.Name] = entry
	}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	matched := 0

	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return false
		}

		if entry.Mode == filemode.Dir {
			continue
		}

		e, ok := staged[name]
		if !ok || e.Hash != entry.Hash || e.Mode != entry.Mode {
			return false
		}

		matched++
	}

	return matched == len(idx.Entries)
}

// gitlinkEntries resolves the index entries for all registered
// subdatasets. A materialized child contributes its current HEAD; a
// missing worktree keeps the gitlink already recorded in this dataset's
// HEAD tree.
func (d *Dataset) gitlinkEntries() ([]*index.Entry, error) {
	modules, err := d.loadModules()
	if err != nil {
		return nil, err
	}

	var entries []*index.Entry

	for _, mod := range modules.Submodules {
		path := mod.Path

		sub, err := git.PlainOpen(filepath.Join(d.path, path))
		if err != nil {
			if err == git.ErrRepositoryNotExists {
				if hash, ok := d.recordedGitlink(path); ok {
					entries = append(entries, &index.Entry{
						Name: path,
						Hash: hash,
						Mode: filemode.Submodule,
					})
				}

				continue
			}

			return nil, errors.Wrapf(err, "opening subdataset %s", path)
		}

		head, err := sub.Head()
		if err != nil {
			return nil, errors.Wrapf(err, "subdataset %s has no commits", path)
		}

		entries = append(entries, &index.Entry{
			Name: path,
			Hash: head.Hash(),
			Mode: filemode.Submodule,
		})
	}

	return entries, nil
}

func (d *Dataset) recordedGitlink(path string) (plumbing.Hash, bool) {
	head, err := d.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, false
	}

	commit, err := d.repo.CommitObject(head.Hash())
	if err != nil {
		return plumbing.ZeroHash, false
	}

	tree, err := commit.Tree()
	if err != nil {
		return plumbing.ZeroHash, false
	}

	entry, err := tree.FindEntry(path)
	if err != nil || entry.Mode != filemode.Submodule {
		return plumbing.ZeroHash, false
	}

	return entry.Hash, true
}

// blobEntry writes the file contents as a blob object and returns the
// matching index entry.
func (d *Dataset) blobEntry(path, rel string, info os.FileInfo) (*index.Entry, error) {
	var (
		data []byte
		mode = filemode.Regular
	)

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}

		data = []byte(target)
		mode = filemode.Symlink
	} else {
		var err error

		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if info.Mode()&0111 != 0 {
			mode = filemode.Executable
		}
	}

	obj := d.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	w, err := obj.Writer()
	if err != nil {
		return nil, err
	}

	_, err = w.Write(data)
	if err != nil {
		w.Close()
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	hash, err := d.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return nil, err
	}

	return &index.Entry{
		Name:       rel,
		Hash:       hash,
		Mode:       mode,
		Size:       uint32(len(data)),
		ModifiedAt: info.ModTime(),
	}, nil
}

// Head returns the current HEAD commit hash.
func (d *Dataset) Head() (plumbing.Hash, error) {
	ref, err := d.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return ref.Hash(), nil
}

// LastCommitTouching returns the hash of the newest commit whose changes
// touch the given path prefix, or plumbing.ZeroHash when no commit does.
func (d *Dataset) LastCommitTouching(prefix string) (plumbing.Hash, error) {
	prefix = filepath.ToSlash(filepath.Clean(prefix))

	iter, err := d.repo.Log(&git.LogOptions{
		PathFilter: func(p string) bool {
			return p == prefix || strings.HasPrefix(p, prefix+"/")
		},
	})
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return plumbing.ZeroHash, nil
		}

		return plumbing.ZeroHash, err
	}

	defer iter.Close()

	commit, err := iter.Next()
	if err != nil {
		// no commit touches the prefix
		return plumbing.ZeroHash, nil
	}

	return commit.Hash, nil
}
