package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// RunRecord is the provenance attached to a recorded run. It is embedded
// as JSON in the commit message of the commit that captures the run's
// results.
type RunRecord struct {
	ID     string   `json:"id"`
	Action string   `json:"action"`
	Cmd    []string `json:"cmd"`
	Dir    string   `json:"dir,omitempty"`
	Env    []string `json:"env,omitempty"`

	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`

	// ExitStatus of the command, nonzero only on a failed run. Failed
	// runs never commit, the status survives on the record itself.
	ExitStatus int `json:"exit-status,omitempty"`

	// InputSum is a blake2b-256 digest over the declared input files at
	// the time the command ran.
	InputSum string `json:"input-sum,omitempty"`
}

const runRecordMarker = "=== debfab run record ==="

// Run executes an external command inside the dataset worktree and saves
// all resulting changes in a single commit carrying the run record. The
// record's ID is assigned here if unset.
func (d *Dataset) Run(ctx context.Context, rec *RunRecord, stdout, stderr io.Writer) error {
	if len(rec.Cmd) == 0 {
		return errors.New("recorded run needs a command")
	}

	if rec.ID == "" {
		rec.ID = NewID()
	}

	sum, err := d.digestInputs(rec.Inputs)
	if err != nil {
		return err
	}

	rec.InputSum = sum

	dir := d.path
	if rec.Dir != "" {
		dir = filepath.Join(d.path, rec.Dir)
	}

	d.L.Debug("recorded run", "id", rec.ID, "action", rec.Action, "cmd", rec.Cmd, "dir", dir)

	cmd := exec.CommandContext(ctx, rec.Cmd[0], rec.Cmd[1:]...)
	cmd.Dir = dir

	if len(rec.Env) > 0 {
		cmd.Env = append(os.Environ(), rec.Env...)
	}

	if stdout == nil {
		stdout = os.Stdout
	}

	if stderr == nil {
		stderr = os.Stderr
	}

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err = cmd.Run()
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			rec.ExitStatus = exit.ExitCode()
		}

		return errors.Wrapf(err, "running %s", strings.Join(rec.Cmd, " "))
	}

	return d.SaveAll(RunMessage(rec))
}

// RunMessage renders the commit message for a run record.
func RunMessage(rec *RunRecord) string {
	data, _ := json.MarshalIndent(rec, "", "  ")

	subject := rec.Action
	if subject == "" {
		subject = strings.Join(rec.Cmd, " ")
	}

	return fmt.Sprintf("[debfab] %s\n\n%s\n%s\n", subject, runRecordMarker, data)
}

// ParseRunMessage extracts the run record from a commit message, or nil
// when the commit does not describe a recorded run.
func ParseRunMessage(message string) (*RunRecord, error) {
	idx := strings.Index(message, runRecordMarker)
	if idx == -1 {
		return nil, nil
	}

	var rec RunRecord

	err := json.Unmarshal([]byte(message[idx+len(runRecordMarker):]), &rec)
	if err != nil {
		return nil, errors.Wrap(err, "decoding run record")
	}

	return &rec, nil
}

// digestInputs hashes the declared input files, names and contents, in a
// stable order. Missing inputs are an error: a run must not start without
// the material it declares.
func (d *Dataset) digestInputs(inputs []string) (string, error) {
	if len(inputs) == 0 {
		return "", nil
	}

	sorted := make([]string, len(inputs))
	copy(sorted, inputs)
	sort.Strings(sorted)

	h, _ := blake2b.New256(nil)

	for _, input := range sorted {
		path := input
		if !filepath.IsAbs(path) {
			path = filepath.Join(d.path, input)
		}

		f, err := os.Open(path)
		if err != nil {
			return "", errors.Wrapf(err, "declared run input missing: %s", input)
		}

		fmt.Fprintf(h, "%s\x00", filepath.ToSlash(input))

		_, err = io.Copy(h, f)
		f.Close()

		if err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
