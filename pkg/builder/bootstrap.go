package builder

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Stamp records a completed bootstrap of one architecture. It is the part
// of the environment state that gets committed: the chroot tree itself
// stays out of version control (see the dataset .gitignore).
type Stamp struct {
	Suite  string    `json:"suite"`
	Arch   string    `json:"arch"`
	Method string    `json:"method"`
	When   time.Time `json:"bootstrapped"`
}

const stampDir = "state"

// Bootstrap materializes build environments described by a Spec inside a
// builder dataset root.
type Bootstrap struct {
	L hclog.Logger

	Dir  string
	Spec *Spec
}

func (b *Bootstrap) logger() hclog.Logger {
	if b.L == nil {
		return hclog.L()
	}

	return b.L
}

// RequiredTools lists the external binaries the spec depends on.
func (b *Bootstrap) RequiredTools() []string {
	if b.Spec.Type == TypeHost {
		return []string{"dpkg-buildpackage", "dpkg-source"}
	}

	tools := []string{"systemd-nspawn"}

	if b.Spec.BaseTarball == "" {
		tools = append(tools, "debootstrap")
	}

	return tools
}

// CheckTools verifies the required external binaries are on PATH, naming
// the missing one.
func (b *Bootstrap) CheckTools() error {
	for _, tool := range b.RequiredTools() {
		if _, err := exec.LookPath(tool); err != nil {
			return errors.Errorf("required tool not found on PATH: %s", tool)
		}
	}

	return nil
}

// Arch bootstraps a single architecture. Host builders only verify their
// tools. Chroot builders either unpack a base tarball or run debootstrap,
// then install the spec's extra packages.
func (b *Bootstrap) Arch(ctx context.Context, arch string) error {
	err := b.CheckTools()
	if err != nil {
		return err
	}

	if b.Spec.Type == TypeHost {
		return b.writeStamp(arch, "host")
	}

	target := filepath.Join(b.Dir, b.Spec.CacheDir(arch))

	err = os.MkdirAll(filepath.Dir(target), 0755)
	if err != nil {
		return err
	}

	method := "debootstrap"

	if b.Spec.BaseTarball != "" {
		method = "base-tarball"

		b.logger().Info("fetching base tarball", "url", b.Spec.BaseTarball, "target", target)

		err = b.fetchBase(ctx, target)
		if err != nil {
			return err
		}
	} else {
		err = b.debootstrap(ctx, arch, target)
		if err != nil {
			return err
		}
	}

	if len(b.Spec.ExtraPackages) > 0 {
		err = b.installExtra(ctx, target)
		if err != nil {
			return err
		}
	}

	return b.writeStamp(arch, method)
}

func (b *Bootstrap) fetchBase(ctx context.Context, target string) error {
	client := &getter.Client{
		Ctx:  ctx,
		Src:  b.Spec.BaseTarball,
		Dst:  target,
		Mode: getter.ClientModeDir,
	}

	err := client.Get()
	if err != nil {
		return errors.Wrapf(err, "fetching base tarball %s", b.Spec.BaseTarball)
	}

	return nil
}

func (b *Bootstrap) debootstrap(ctx context.Context, arch, target string) error {
	mirror := b.Spec.Mirror
	if mirror == "" {
		mirror = DefaultMirror
	}

	args := []string{
		"--arch=" + arch,
		"--variant=buildd",
		b.Spec.Suite,
		target,
		mirror,
	}

	b.logger().Info("running debootstrap", "suite", b.Spec.Suite, "arch", arch)

	cmd := exec.CommandContext(ctx, "debootstrap", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err != nil {
		return errors.Wrap(err, "debootstrap failed")
	}

	return nil
}

func (b *Bootstrap) installExtra(ctx context.Context, target string) error {
	args := append([]string{
		"-D", target,
		"apt-get", "install", "--yes", "--no-install-recommends",
	}, b.Spec.ExtraPackages...)

	b.logger().Info("installing extra packages", "packages", b.Spec.ExtraPackages)

	cmd := exec.CommandContext(ctx, "systemd-nspawn", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err != nil {
		return errors.Wrap(err, "installing extra packages")
	}

	return nil
}

func (b *Bootstrap) writeStamp(arch, method string) error {
	dir := filepath.Join(b.Dir, stampDir)

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	stamp := Stamp{
		Suite:  b.Spec.Suite,
		Arch:   arch,
		Method: method,
		When:   time.Now().UTC(),
	}

	data, err := json.MarshalIndent(&stamp, "", "  ")
	if err != nil {
		return err
	}

	name := filepath.Join(dir, "bootstrap-"+arch+".json")

	return os.WriteFile(name, append(data, '\n'), 0644)
}

// LoadStamp reads the bootstrap stamp for an architecture, nil when the
// architecture was never bootstrapped.
func LoadStamp(dir, arch string) (*Stamp, error) {
	data, err := os.ReadFile(filepath.Join(dir, stampDir, "bootstrap-"+arch+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var stamp Stamp

	err = json.Unmarshal(data, &stamp)
	if err != nil {
		return nil, err
	}

	return &stamp, nil
}
