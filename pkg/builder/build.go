package builder

import (
	"fmt"
	"path/filepath"
	"sort"
)

// BuildCommand assembles the dpkg-buildpackage invocation for one
// architecture. srcDir is the absolute path of the unpacked package
// source tree. Host builders run the build in place, chroot builders
// wrap it in systemd-nspawn with the source tree bound at /build.
func (s *Spec) BuildCommand(builderDir, srcDir, arch string) []string {
	build := []string{
		"dpkg-buildpackage",
		"--no-sign",
		"--host-arch=" + arch,
	}

	if s.Type == TypeHost {
		return build
	}

	target := filepath.Join(builderDir, s.CacheDir(arch))

	cmd := []string{
		"systemd-nspawn",
		"--quiet",
		"-D", target,
		"--bind", fmt.Sprintf("%s:/build", filepath.Dir(srcDir)),
		"--chdir", "/build/" + filepath.Base(srcDir),
	}

	for _, kv := range s.sortedEnv() {
		cmd = append(cmd, "--setenv="+kv)
	}

	return append(cmd, build...)
}

// BuildEnv returns the spec's extra build environment as KEY=VALUE pairs,
// used directly for host builds.
func (s *Spec) BuildEnv() []string {
	return s.sortedEnv()
}

func (s *Spec) sortedEnv() []string {
	if len(s.Env) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}

	return out
}
