package reprepro

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"debfab.dev/debfab/pkg/deb"
)

// Layout of a reprepro archive dataset.
const (
	ConfDir     = "conf"
	WWWDir      = "www"
	DBDir       = "db"
	DistsDir    = "distributions"
	ArchiveKey  = "archive.key"
	distrosName = "distributions"
	optionsName = "options"
)

// Distribution is one stanza of conf/distributions.
type Distribution struct {
	Codename      string
	Suite         string
	Origin        string
	Label         string
	Description   string
	Architectures []string
	Components    []string
	SignWith      string
}

func (d *Distribution) Validate() error {
	if d.Codename == "" {
		return errors.New("distribution stanza has no codename")
	}

	if len(d.Architectures) == 0 {
		return errors.New("distribution stanza has no architectures")
	}

	if len(d.Components) == 0 {
		return errors.New("distribution stanza has no components")
	}

	return nil
}

// Paragraph renders the stanza in reprepro's conf/distributions order.
func (d *Distribution) Paragraph() *deb.Paragraph {
	p := deb.NewParagraph()

	set := func(key, val string) {
		if val != "" {
			p.Set(key, val)
		}
	}

	set("Codename", d.Codename)
	set("Suite", d.Suite)
	set("Origin", d.Origin)
	set("Label", d.Label)
	set("Description", d.Description)
	set("Architectures", strings.Join(d.Architectures, " "))
	set("Components", strings.Join(d.Components, " "))
	set("SignWith", d.SignWith)

	return p
}

func distributionFromParagraph(p *deb.Paragraph) Distribution {
	return Distribution{
		Codename:      p.Get("Codename"),
		Suite:         p.Get("Suite"),
		Origin:        p.Get("Origin"),
		Label:         p.Get("Label"),
		Description:   p.Get("Description"),
		Architectures: strings.Fields(p.Get("Architectures")),
		Components:    strings.Fields(p.Get("Components")),
		SignWith:      p.Get("SignWith"),
	}
}

// ParseDistributions reads a conf/distributions document.
func ParseDistributions(r io.Reader) ([]Distribution, error) {
	paras, err := deb.ParseParagraphs(r)
	if err != nil {
		return nil, err
	}

	var dists []Distribution

	for _, p := range paras {
		d := distributionFromParagraph(p)
		if err := d.Validate(); err != nil {
			return nil, err
		}

		dists = append(dists, d)
	}

	return dists, nil
}

// RenderDistributions writes stanzas separated by blank lines.
func RenderDistributions(w io.Writer, dists []Distribution) error {
	for i, d := range dists {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}

		if err := d.Paragraph().Render(w); err != nil {
			return err
		}
	}

	return nil
}

func distributionsPath(base string) string {
	return filepath.Join(base, ConfDir, distrosName)
}

// LoadDistributions reads the distributions of an archive root. A missing
// file is an empty archive, not an error.
func LoadDistributions(base string) ([]Distribution, error) {
	f, err := os.Open(distributionsPath(base))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	defer f.Close()

	return ParseDistributions(f)
}

// AddDistribution appends a stanza to conf/distributions. A duplicate
// codename is rejected.
func AddDistribution(base string, dist Distribution) error {
	err := dist.Validate()
	if err != nil {
		return err
	}

	existing, err := LoadDistributions(base)
	if err != nil {
		return err
	}

	for _, d := range existing {
		if d.Codename == dist.Codename {
			return errors.Errorf("distribution %s already configured", dist.Codename)
		}
	}

	existing = append(existing, dist)

	var buf bytes.Buffer

	err = RenderDistributions(&buf, existing)
	if err != nil {
		return err
	}

	return os.WriteFile(distributionsPath(base), buf.Bytes(), 0644)
}

// WriteOptions writes conf/options pointing reprepro's output and
// database below the archive root.
func WriteOptions(base string) error {
	opts := strings.Join([]string{
		"outdir +b/" + WWWDir,
		"dbdir +b/" + DBDir,
		"verbose",
	}, "\n") + "\n"

	return os.WriteFile(filepath.Join(base, ConfDir, optionsName), []byte(opts), 0644)
}
