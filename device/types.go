package device

import (
	"fmt"
	"io"
	"strings"
)

// Domain is a physical memory pool that can back a buffer object.
type Domain int

// The memory domains a buffer object can be placed in.
const (
	DomainVRAM Domain = iota
	DomainGTT
	DomainSystem
)

var domainNames = map[Domain]string{
	DomainVRAM:   "VRAM",
	DomainGTT:    "GTT",
	DomainSystem: "SYSTEM",
}

func (d Domain) String() string {
	if name, ok := domainNames[d]; ok {
		return name
	}

	return fmt.Sprintf("Domain(%d)", int(d))
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	_, ok := domainNames[d]
	return ok
}

// ParseDomain converts a domain name, case-insensitively, to a Domain.
func ParseDomain(s string) (Domain, error) {
	for d, name := range domainNames {
		if strings.EqualFold(s, name) {
			return d, nil
		}
	}

	return 0, fmt.Errorf("unknown memory domain %q", s)
}

// Flags are buffer creation flags.
type Flags uint32

// Creation flags.
const (
	FlagEncrypted Flags = 1 << iota
	FlagNoCPUAccess
)

// Has reports whether all bits in f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// EngineKind selects the hardware engine class a submission runs on.
type EngineKind int

// Engine kinds.
const (
	EngineGFX EngineKind = iota
	EngineDMA
)

func (k EngineKind) String() string {
	switch k {
	case EngineGFX:
		return "GFX"
	case EngineDMA:
		return "DMA"
	default:
		return fmt.Sprintf("EngineKind(%d)", int(k))
	}
}

// Capability is a bitmask of device security features.
type Capability uint32

// CapTMZ marks a device that supports trusted-memory-zone encryption.
const CapTMZ Capability = 1 << 0

// Has reports whether c contains every bit of c2.
func (c Capability) Has(c2 Capability) bool {
	return c&c2 == c2
}

// Version is a driver protocol version.
type Version struct {
	Major, Minor int
}

// AtLeast reports whether v is no older than min.
func (v Version) AtLeast(min Version) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}

	return v.Minor >= min.Minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ParseVersion parses a "major.minor" string.
func ParseVersion(s string) (Version, error) {
	var v Version

	_, err := fmt.Sscanf(s, "%d.%d", &v.Major, &v.Minor)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}

	return v, nil
}

// Handle identifies a buffer object inside a driver.
type Handle uint32

// ContextHandle identifies a command submission context inside a driver.
type ContextHandle uint32

// AllocRequest describes a buffer object to create.
type AllocRequest struct {
	Size      uint64
	Alignment uint64
	Domain    Domain
	Flags     Flags
}

// Submission is a command stream to execute synchronously on a ring.
type Submission struct {
	Engine  EngineKind
	Ring    uint32
	Words   []uint32
	Handles []Handle
	Secure  bool
}

// Mapping is a CPU view of the bytes of a buffer object. Offsets are
// relative to the start of the buffer. A mapping keeps addressing the
// buffer's current backing memory even after the buffer migrates.
type Mapping interface {
	io.ReaderAt
	io.WriterAt

	// Len returns the number of mapped bytes.
	Len() int
}
