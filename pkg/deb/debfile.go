package deb

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/ulikunitz/xz"
)

// ControlInfo is the identifying metadata extracted from a binary package.
type ControlInfo struct {
	Package      string
	Version      string
	Architecture string

	// Control is the raw control stanza as found in the archive.
	Control string
}

// Filename returns the canonical <package>_<version>_<arch>.deb name.
func (c *ControlInfo) Filename() string {
	return fmt.Sprintf("%s_%s_%s.deb", c.Package, c.Version, c.Architecture)
}

// ExtractControl reads a .deb (an ar archive) and returns the control
// stanza from its control.tar member. Plain, gzip and xz compressed
// control members are supported.
func ExtractControl(r io.Reader) (*ControlInfo, error) {
	arR := ar.NewReader(r)

	for {
		header, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading ar header: %w", err)
		}

		if !strings.HasPrefix(header.Name, "control.tar") {
			continue
		}

		var tr io.Reader = arR

		switch {
		case strings.HasSuffix(header.Name, ".gz"):
			gzr, err := gzip.NewReader(arR)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", header.Name, err)
			}

			defer gzr.Close()
			tr = gzr
		case strings.HasSuffix(header.Name, ".xz"):
			xzr, err := xz.NewReader(arR)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", header.Name, err)
			}

			tr = xzr
		}

		return controlFromTar(tar.NewReader(tr))
	}

	return nil, fmt.Errorf("no control.tar member found")
}

// ExtractControlFile is ExtractControl over a file on disk.
func ExtractControlFile(path string) (*ControlInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	return ExtractControl(f)
}

func controlFromTar(tr *tar.Reader) (*ControlInfo, error) {
	for {
		th, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading control tar: %w", err)
		}

		if filepath.Base(th.Name) != "control" {
			continue
		}

		raw, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading control stanza: %w", err)
		}

		para, err := ParseParagraph(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("parsing control stanza: %w", err)
		}

		ci := &ControlInfo{
			Package:      para.Get("Package"),
			Version:      para.Get("Version"),
			Architecture: para.Get("Architecture"),
			Control:      string(raw),
		}

		if ci.Package == "" {
			return nil, fmt.Errorf("control stanza is missing a Package field")
		}

		return ci, nil
	}

	return nil, fmt.Errorf("control file not found in control.tar")
}
