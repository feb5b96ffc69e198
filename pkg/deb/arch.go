package deb

import (
	"github.com/shirou/gopsutil/v3/host"
)

var kernelToDpkg = map[string]string{
	"x86_64":  "amd64",
	"amd64":   "amd64",
	"aarch64": "arm64",
	"arm64":   "arm64",
	"armv7l":  "armhf",
	"armv6l":  "armel",
	"i386":    "i386",
	"i686":    "i386",
	"ppc64le": "ppc64el",
	"riscv64": "riscv64",
	"s390x":   "s390x",
}

// HostArchitecture reports the dpkg architecture name of the running host.
// Unknown kernels fall back to amd64 rather than failing, callers can
// always override via configuration.
func HostArchitecture() string {
	arch, err := host.KernelArch()
	if err != nil {
		return "amd64"
	}

	if dpkg, ok := kernelToDpkg[arch]; ok {
		return dpkg
	}

	return "amd64"
}
