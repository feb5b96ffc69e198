package deb

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// FileRef is one entry of a Files field in a .dsc or .changes file.
type FileRef struct {
	MD5  string
	Size int64
	Name string
}

// Dsc is the parsed form of a Debian source control (.dsc) file.
type Dsc struct {
	Source  string
	Version string
	Files   []FileRef
}

// Changes is the parsed form of a .changes upload control file.
type Changes struct {
	Source       string
	Version      string
	Distribution string
	Architecture string
	Files        []FileRef
}

// stripClearsign removes an optional OpenPGP clearsign wrapper, returning
// the signed payload. Unsigned input passes through unchanged.
func stripClearsign(data []byte) []byte {
	if !bytes.Contains(data, []byte("BEGIN PGP SIGNED MESSAGE")) {
		return data
	}

	block, _ := clearsign.Decode(data)
	if block == nil {
		return data
	}

	return block.Plaintext
}

// ParseDsc parses a .dsc file, clearsigned or not. Signature validity is
// not checked here, that is the archive manager's job.
func ParseDsc(data []byte) (*Dsc, error) {
	para, err := ParseParagraph(bytes.NewReader(stripClearsign(data)))
	if err != nil {
		return nil, err
	}

	files, err := parseFileRefs(para.Lines("Files"))
	if err != nil {
		return nil, err
	}

	d := &Dsc{
		Source:  para.Get("Source"),
		Version: para.Get("Version"),
		Files:   files,
	}

	if d.Source == "" {
		return nil, fmt.Errorf("dsc is missing a Source field")
	}

	return d, nil
}

// ParseChanges parses a .changes file, clearsigned or not.
func ParseChanges(data []byte) (*Changes, error) {
	para, err := ParseParagraph(bytes.NewReader(stripClearsign(data)))
	if err != nil {
		return nil, err
	}

	files, err := parseFileRefs(para.Lines("Files"))
	if err != nil {
		return nil, err
	}

	c := &Changes{
		Source:       para.Get("Source"),
		Version:      para.Get("Version"),
		Distribution: para.Get("Distribution"),
		Architecture: para.Get("Architecture"),
		Files:        files,
	}

	if c.Source == "" {
		return nil, fmt.Errorf("changes file is missing a Source field")
	}

	return c, nil
}

// parseFileRefs parses Files continuation lines. Lines carry the md5sum,
// the size, optional section/priority columns, and the file name last.
func parseFileRefs(lines []string) ([]FileRef, error) {
	var refs []FileRef

	for _, line := range lines {
		parts := strings.Fields(line)
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed Files line: %q", line)
		}

		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed size in Files line %q: %w", line, err)
		}

		refs = append(refs, FileRef{
			MD5:  parts[0],
			Size: size,
			Name: parts[len(parts)-1],
		})
	}

	return refs, nil
}
