package simgpu

import (
	"crypto/rand"
	"fmt"

	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sim"
)

// A Builder can build simulated GPUs.
type Builder struct {
	cfg Config
	key []byte
}

// MakeBuilder creates a new builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b Builder) WithConfig(cfg Config) Builder {
	b.cfg = cfg
	return b
}

// WithVersion sets the driver protocol version the GPU reports.
func (b Builder) WithVersion(v device.Version) Builder {
	b.cfg.Version = v
	return b
}

// WithCapabilities sets the security capabilities the GPU reports.
func (b Builder) WithCapabilities(caps device.Capability) Builder {
	b.cfg.Caps = caps
	return b
}

// WithRings sets the ring mask of an engine.
func (b Builder) WithRings(kind device.EngineKind, mask uint32) Builder {
	switch kind {
	case device.EngineGFX:
		b.cfg.GFXRings = mask
	case device.EngineDMA:
		b.cfg.DMARings = mask
	}

	return b
}

// WithFreq sets the frequency the engines work at.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.cfg.Freq = freq
	return b
}

// WithWaitTimeout sets how long, in simulated time, a submission may run.
func (b Builder) WithWaitTimeout(t sim.VTimeInSec) Builder {
	b.cfg.WaitTimeout = t
	return b
}

// WithLoopRetries sets how many times a looping atomic retries a failed
// compare.
func (b Builder) WithLoopRetries(n int) Builder {
	b.cfg.LoopRetries = n
	return b
}

// WithFaults sets the faults to inject.
func (b Builder) WithFaults(f Faults) Builder {
	b.cfg.Faults = f
	return b
}

// WithKey sets the 32-byte memory encryption key. A random key is used if
// no key is set.
func (b Builder) WithKey(key []byte) Builder {
	b.key = append([]byte(nil), key...)
	return b
}

// Build creates a simulated GPU.
func (b Builder) Build(name string) (*Driver, error) {
	if b.cfg.Freq <= 0 {
		return nil, fmt.Errorf("invalid frequency %v", b.cfg.Freq)
	}

	if b.cfg.WaitTimeout <= 0 {
		return nil, fmt.Errorf("invalid wait timeout %v", b.cfg.WaitTimeout)
	}

	key := b.key
	if key == nil {
		key = make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate memory key: %w", err)
		}
	}

	cipher, err := newTMZCipher(key)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		name:   name,
		cfg:    b.cfg,
		cipher: cipher,
		engine: sim.NewSerialEngine(),
	}
	d.engine.AcceptHook(sim.NewEventLogger(eventLogLevel))
	d.reset()

	return d, nil
}
