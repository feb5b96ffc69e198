package builder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v3"
)

// Builder environment types.
const (
	// TypeHost builds directly on the host with its toolchain.
	TypeHost = "host"

	// TypeChroot builds inside a bootstrapped chroot tree.
	TypeChroot = "chroot"
)

// SpecName is the builder spec file inside a builder dataset.
const SpecName = "spec.yaml"

// Spec describes a build environment. It lives as spec.yaml in the
// builder dataset of a distribution.
type Spec struct {
	Type   string `yaml:"type"`
	Suite  string `yaml:"suite"`
	Mirror string `yaml:"mirror,omitempty"`

	Architectures []string `yaml:"architectures,omitempty"`
	Components    []string `yaml:"components,omitempty"`

	// BaseTarball, when set, is fetched and unpacked instead of running
	// debootstrap. Anything go-getter understands is accepted.
	BaseTarball string `yaml:"base-tarball,omitempty"`

	ExtraPackages []string `yaml:"extra-packages,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`
}

// DefaultMirror is used when neither spec nor config name one.
const DefaultMirror = "http://deb.debian.org/debian"

func (s *Spec) Validate() error {
	switch s.Type {
	case TypeHost, TypeChroot:
	case "":
		return errors.New("builder spec has no type")
	default:
		return errors.Errorf("unknown builder type %q", s.Type)
	}

	if s.Suite == "" {
		return errors.New("builder spec has no suite")
	}

	if len(s.Architectures) == 0 {
		return errors.New("builder spec has no architectures")
	}

	return nil
}

// CacheDir is the per-arch directory holding the bootstrapped tree,
// relative to the builder dataset root.
func (s *Spec) CacheDir(arch string) string {
	return filepath.Join("cache", fmt.Sprintf("%s-%s", s.Suite, arch))
}

// LoadSpec reads and validates the spec of a builder dataset root.
func LoadSpec(dir string) (*Spec, error) {
	data, err := os.ReadFile(filepath.Join(dir, SpecName))
	if err != nil {
		return nil, errors.Wrap(err, "reading builder spec")
	}

	var spec Spec

	err = yaml.Unmarshal(data, &spec)
	if err != nil {
		return nil, errors.Wrap(err, "parsing builder spec")
	}

	err = spec.Validate()
	if err != nil {
		return nil, err
	}

	return &spec, nil
}

// SaveSpec validates and writes the spec into a builder dataset root.
func SaveSpec(dir string, spec *Spec) error {
	err := spec.Validate()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, SpecName), data, 0644)
}
