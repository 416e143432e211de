package simgpu

import (
	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sim"
)

// Faults select the misbehaviours the simulated GPU injects.
type Faults struct {
	// BrokenMigration makes migrations copy encrypted memory without
	// re-encrypting it for the new physical address.
	BrokenMigration bool `yaml:"broken_migration"`

	// HangRings is a mask of rings that never complete a submission.
	HangRings uint32 `yaml:"hang_rings"`

	// LoseContextAt is the 1-based index of the submission that loses its
	// context. Zero disables the fault.
	LoseContextAt int `yaml:"lose_context_at"`

	// FailAllocAt is the 1-based index of the allocation that fails. Zero
	// disables the fault.
	FailAllocAt int `yaml:"fail_alloc_at"`

	// FailPlacement makes every placement change fail.
	FailPlacement bool `yaml:"fail_placement"`
}

// Config holds the properties of a simulated GPU.
type Config struct {
	Version     device.Version
	Caps        device.Capability
	GFXRings    uint32
	DMARings    uint32
	Freq        sim.Freq
	WaitTimeout sim.VTimeInSec
	LoopRetries int
	VRAMSize    uint64
	GTTSize     uint64
	SystemSize  uint64
	Faults      Faults
}

// DefaultConfig returns a TMZ capable GPU with one GFX ring and two SDMA
// rings.
func DefaultConfig() Config {
	return Config{
		Version:     device.Version{Major: 3, Minor: 42},
		Caps:        device.CapTMZ,
		GFXRings:    0b1,
		DMARings:    0b11,
		Freq:        1 * sim.GHz,
		WaitTimeout: 2,
		LoopRetries: 4,
		VRAMSize:    256 << 20,
		GTTSize:     512 << 20,
		SystemSize:  512 << 20,
	}
}
