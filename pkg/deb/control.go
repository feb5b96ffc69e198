package deb

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Paragraph is a single deb822 stanza: an ordered list of fields with
// folded (continuation line) values.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html
type Paragraph struct {
	keys   []string
	values map[string]string
}

func NewParagraph() *Paragraph {
	return &Paragraph{values: make(map[string]string)}
}

// Get returns the value of a field, with surrounding whitespace trimmed.
// Folded values keep their embedded newlines.
func (p *Paragraph) Get(key string) string {
	return p.values[key]
}

func (p *Paragraph) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Set adds or replaces a field, preserving the position of an existing key.
func (p *Paragraph) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}

	p.values[key] = value
}

func (p *Paragraph) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// List splits a comma separated field value into its trimmed elements.
func (p *Paragraph) List(key string) []string {
	val := p.values[key]
	if val == "" {
		return nil
	}

	var out []string

	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}

	return out
}

// Lines returns the continuation lines of a multiline field such as Files
// or Checksums-Sha256, one element per line, trimmed.
func (p *Paragraph) Lines(key string) []string {
	var out []string

	for _, line := range strings.Split(p.values[key], "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}

	return out
}

// Render writes the paragraph in deb822 form. Values containing newlines
// are written as folded fields with a leading space per continuation line.
func (p *Paragraph) Render(w io.Writer) error {
	for _, key := range p.keys {
		val := p.values[key]

		if !strings.Contains(val, "\n") {
			if _, err := fmt.Fprintf(w, "%s: %s\n", key, val); err != nil {
				return err
			}

			continue
		}

		lines := strings.Split(val, "\n")

		if _, err := fmt.Fprintf(w, "%s: %s\n", key, lines[0]); err != nil {
			return err
		}

		for _, line := range lines[1:] {
			if strings.TrimSpace(line) == "" {
				line = "."
			}

			if _, err := fmt.Fprintf(w, " %s\n", strings.TrimPrefix(line, " ")); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Paragraph) String() string {
	var sb strings.Builder
	p.Render(&sb)
	return sb.String()
}

// ParseParagraphs reads a deb822 document and returns its stanzas in order.
// Comment lines are skipped, continuation lines are folded into the value
// of the preceding field separated by newlines.
func ParseParagraphs(r io.Reader) ([]*Paragraph, error) {
	var (
		paras   []*Paragraph
		current *Paragraph
		lastKey string
	)

	flush := func() {
		if current != nil && len(current.keys) > 0 {
			paras = append(paras, current)
		}

		current = nil
		lastKey = ""
	}

	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 64*1024), 1024*1024)

	for scan.Scan() {
		line := scan.Text()

		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case strings.HasPrefix(line, "#"):
			// comment
		case strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t"):
			if current == nil || lastKey == "" {
				return nil, fmt.Errorf("continuation line without a field: %q", line)
			}

			cont := strings.TrimRight(line[1:], " \t")
			if strings.TrimSpace(cont) == "." {
				cont = ""
			}

			current.values[lastKey] += "\n" + cont
		default:
			idx := strings.IndexByte(line, ':')
			if idx == -1 {
				return nil, fmt.Errorf("malformed control line: %q", line)
			}

			if current == nil {
				current = NewParagraph()
			}

			key := strings.TrimSpace(line[:idx])
			current.Set(key, strings.TrimSpace(line[idx+1:]))
			lastKey = key
		}
	}

	if err := scan.Err(); err != nil {
		return nil, err
	}

	flush()

	return paras, nil
}

// ParseParagraph reads a document expected to hold exactly one stanza.
func ParseParagraph(r io.Reader) (*Paragraph, error) {
	paras, err := ParseParagraphs(r)
	if err != nil {
		return nil, err
	}

	if len(paras) == 0 {
		return nil, fmt.Errorf("no stanza found")
	}

	return paras[0], nil
}
