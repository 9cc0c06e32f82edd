package arch

import (
	"fmt"
	"sort"
	"strings"
)

// Architecture is the canonical (kernel/qemu) name of a target CPU architecture.
type Architecture string

const (
	X86_64  Architecture = "x86_64"
	I686    Architecture = "i686"
	AArch64 Architecture = "aarch64"
	ARMV7L  Architecture = "armv7l"
	ARMEL   Architecture = "armel"
	PPC     Architecture = "ppc"
	PPC64LE Architecture = "ppc64le"
	S390X   Architecture = "s390x"
	MIPS    Architecture = "mips"
	MIPSEL  Architecture = "mipsel"
	MIPS64  Architecture = "mips64"
	RISCV64 Architecture = "riscv64"
)

type names struct {
	debian string
	qemu   string
}

var table = map[Architecture]names{
	X86_64:  {debian: "amd64", qemu: "x86_64"},
	I686:    {debian: "i386", qemu: "i386"},
	AArch64: {debian: "arm64", qemu: "aarch64"},
	ARMV7L:  {debian: "armhf", qemu: "arm"},
	ARMEL:   {debian: "armel", qemu: "arm"},
	PPC:     {debian: "powerpc", qemu: "ppc"},
	PPC64LE: {debian: "ppc64el", qemu: "ppc64le"},
	S390X:   {debian: "s390x", qemu: "s390x"},
	MIPS:    {debian: "mips", qemu: "mips"},
	MIPSEL:  {debian: "mipsel", qemu: "mipsel"},
	MIPS64:  {debian: "mips64el", qemu: "mips64el"},
	RISCV64: {debian: "riscv64", qemu: "riscv64"},
}

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	out := make([]Architecture, 0, len(table))
	for a := range table {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsValid reports whether a matches a supported architecture value.
func (a Architecture) IsValid() bool {
	_, ok := table[a]
	return ok
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// Debian returns the name debootstrap and dpkg use for the architecture.
func (a Architecture) Debian() string {
	return table[a].debian
}

// QEMU returns the qemu user-mode suffix, as in qemu-<suffix>-static and the
// binfmt_misc entry qemu-<suffix>.
func (a Architecture) QEMU() string {
	return table[a].qemu
}

// EmulatorName returns the file name of the statically linked user-mode emulator.
func (a Architecture) EmulatorName() string {
	if !a.IsValid() {
		return ""
	}
	return "qemu-" + a.QEMU() + "-static"
}

// Parse returns the canonical Architecture for the provided string or an error if unsupported.
func Parse(value string) (Architecture, error) {
	if arch := Normalize(value); arch != "" {
		return arch, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// Normalize maps Debian, kernel and qemu spellings onto a canonical Architecture.
// Returns "" when the string cannot be normalized.
func Normalize(value string) Architecture {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case string(X86_64), "x86-64", "amd64":
		return X86_64
	case "x86", "i386", "i486", "i586", string(I686), "386":
		return I686
	case string(AArch64), "arm64":
		return AArch64
	case string(ARMV7L), "armv7", "armhf":
		return ARMV7L
	case string(ARMEL), "arm", "armv5", "armv5tel":
		return ARMEL
	case string(PPC), "powerpc":
		return PPC
	case string(PPC64LE), "ppc64el", "powerpc64le":
		return PPC64LE
	case string(S390X):
		return S390X
	case string(MIPS64), "mips64el":
		return MIPS64
	case string(MIPS):
		return MIPS
	case string(MIPSEL):
		return MIPSEL
	case string(RISCV64):
		return RISCV64
	default:
		return ""
	}
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.Debian())
	}
	sort.Strings(out)
	return out
}
