// Package config loads the settings of a securebounce run. Values come from
// the defaults, then a YAML file, then the environment. Command line flags
// are applied last by the caller.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sim"
	"github.com/sarchlab/securebounce/simgpu"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts the name of every environment variable read by FromEnv.
const EnvPrefix = "SECUREBOUNCE_"

// Backends.
const (
	BackendSim    = "sim"
	BackendAMDGPU = "amdgpu"
)

// Simulator holds the knobs of the simulated GPU.
type Simulator struct {
	Version     string        `yaml:"version"`
	TMZ         bool          `yaml:"tmz"`
	GFXRings    uint32        `yaml:"gfx_rings"`
	DMARings    uint32        `yaml:"dma_rings"`
	FreqMHz     float64       `yaml:"freq_mhz"`
	WaitTimeout float64       `yaml:"wait_timeout"`
	LoopRetries int           `yaml:"loop_retries"`
	Key         string        `yaml:"key"`
	Faults      simgpu.Faults `yaml:"faults"`
}

// Config is the configuration of a run.
type Config struct {
	Backend     string    `yaml:"backend"`
	RenderNode  string    `yaml:"render_node"`
	MinVersion  string    `yaml:"min_version"`
	Scenarios   []string  `yaml:"scenarios"`
	Jobs        int       `yaml:"jobs"`
	Repeat      int       `yaml:"repeat"`
	Record      string    `yaml:"record"`
	Progress    bool      `yaml:"progress"`
	MonitorPort int       `yaml:"monitor_port"`
	OpenBrowser bool      `yaml:"open_browser"`
	Sim         Simulator `yaml:"sim"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	sc := simgpu.DefaultConfig()

	return Config{
		Backend:    BackendSim,
		RenderNode: "/dev/dri/renderD128",
		MinVersion: device.DefaultMinVersion.String(),
		Jobs:       1,
		Repeat:     1,
		Progress:   true,
		Sim: Simulator{
			Version:     sc.Version.String(),
			TMZ:         sc.Caps.Has(device.CapTMZ),
			GFXRings:    sc.GFXRings,
			DMARings:    sc.DMARings,
			FreqMHz:     float64(sc.Freq / sim.MHz),
			WaitTimeout: float64(sc.WaitTimeout),
			LoopRetries: sc.LoopRetries,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}

	return c, nil
}

// LoadDotEnv adds the variables of the given env files to the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}

	return nil
}

type binding struct {
	name string
	set  func(c *Config, v string) error
}

func parseUint32(v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 0, 32)
	return uint32(n), err
}

var bindings = []binding{
	{"BACKEND", func(c *Config, v string) error { c.Backend = v; return nil }},
	{"RENDER_NODE", func(c *Config, v string) error { c.RenderNode = v; return nil }},
	{"MIN_VERSION", func(c *Config, v string) error { c.MinVersion = v; return nil }},
	{"SCENARIOS", func(c *Config, v string) error {
		c.Scenarios = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Scenarios = append(c.Scenarios, s)
			}
		}
		return nil
	}},
	{"JOBS", func(c *Config, v string) (err error) { c.Jobs, err = strconv.Atoi(v); return }},
	{"REPEAT", func(c *Config, v string) (err error) { c.Repeat, err = strconv.Atoi(v); return }},
	{"RECORD", func(c *Config, v string) error { c.Record = v; return nil }},
	{"PROGRESS", func(c *Config, v string) (err error) { c.Progress, err = strconv.ParseBool(v); return }},
	{"MONITOR_PORT", func(c *Config, v string) (err error) { c.MonitorPort, err = strconv.Atoi(v); return }},
	{"OPEN_BROWSER", func(c *Config, v string) (err error) { c.OpenBrowser, err = strconv.ParseBool(v); return }},
	{"SIM_VERSION", func(c *Config, v string) error { c.Sim.Version = v; return nil }},
	{"SIM_TMZ", func(c *Config, v string) (err error) { c.Sim.TMZ, err = strconv.ParseBool(v); return }},
	{"SIM_GFX_RINGS", func(c *Config, v string) (err error) { c.Sim.GFXRings, err = parseUint32(v); return }},
	{"SIM_DMA_RINGS", func(c *Config, v string) (err error) { c.Sim.DMARings, err = parseUint32(v); return }},
	{"SIM_FREQ_MHZ", func(c *Config, v string) (err error) { c.Sim.FreqMHz, err = strconv.ParseFloat(v, 64); return }},
	{"SIM_WAIT_TIMEOUT", func(c *Config, v string) (err error) { c.Sim.WaitTimeout, err = strconv.ParseFloat(v, 64); return }},
	{"SIM_LOOP_RETRIES", func(c *Config, v string) (err error) { c.Sim.LoopRetries, err = strconv.Atoi(v); return }},
	{"SIM_KEY", func(c *Config, v string) error { c.Sim.Key = v; return nil }},
	{"SIM_BROKEN_MIGRATION", func(c *Config, v string) (err error) { c.Sim.Faults.BrokenMigration, err = strconv.ParseBool(v); return }},
	{"SIM_HANG_RINGS", func(c *Config, v string) (err error) { c.Sim.Faults.HangRings, err = parseUint32(v); return }},
	{"SIM_LOSE_CONTEXT_AT", func(c *Config, v string) (err error) { c.Sim.Faults.LoseContextAt, err = strconv.Atoi(v); return }},
	{"SIM_FAIL_ALLOC_AT", func(c *Config, v string) (err error) { c.Sim.Faults.FailAllocAt, err = strconv.Atoi(v); return }},
	{"SIM_FAIL_PLACEMENT", func(c *Config, v string) (err error) { c.Sim.Faults.FailPlacement, err = strconv.ParseBool(v); return }},
}

// EnvNames returns the names of the environment variables FromEnv reads.
func EnvNames() []string {
	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = EnvPrefix + b.name
	}

	return names
}

// FromEnv overrides the fields whose variables lookup finds. Pass
// os.LookupEnv to read the process environment.
func (c *Config) FromEnv(lookup func(string) (string, bool)) error {
	var errs []error

	for _, b := range bindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}

		if err := b.set(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, b.name, v, err))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the fields that do not depend on the backend.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendSim, BackendAMDGPU:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if _, err := device.ParseVersion(c.MinVersion); err != nil {
		errs = append(errs, fmt.Errorf("min_version: %w", err))
	}

	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be positive, got %d", c.Jobs))
	}

	if c.Repeat < 1 {
		errs = append(errs, fmt.Errorf("repeat must be positive, got %d", c.Repeat))
	}

	if c.Backend == BackendSim {
		if _, err := c.Sim.Build(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// MinDriverVersion returns the parsed minimum driver version.
func (c *Config) MinDriverVersion() (device.Version, error) {
	return device.ParseVersion(c.MinVersion)
}

// Build turns the knobs into a simulated GPU builder.
func (s Simulator) Build() (simgpu.Builder, error) {
	v, err := device.ParseVersion(s.Version)
	if err != nil {
		return simgpu.Builder{}, fmt.Errorf("sim.version: %w", err)
	}

	if s.FreqMHz <= 0 {
		return simgpu.Builder{}, fmt.Errorf("sim.freq_mhz must be positive, got %v", s.FreqMHz)
	}

	if s.WaitTimeout <= 0 {
		return simgpu.Builder{}, fmt.Errorf("sim.wait_timeout must be positive, got %v", s.WaitTimeout)
	}

	var caps device.Capability
	if s.TMZ {
		caps |= device.CapTMZ
	}

	b := simgpu.MakeBuilder().
		WithVersion(v).
		WithCapabilities(caps).
		WithRings(device.EngineGFX, s.GFXRings).
		WithRings(device.EngineDMA, s.DMARings).
		WithFreq(sim.Freq(s.FreqMHz) * sim.MHz).
		WithWaitTimeout(sim.VTimeInSec(s.WaitTimeout)).
		WithLoopRetries(s.LoopRetries).
		WithFaults(s.Faults)

	if s.Key != "" {
		key, err := hex.DecodeString(s.Key)
		if err != nil {
			return simgpu.Builder{}, fmt.Errorf("sim.key: %w", err)
		}

		if len(key) != 32 {
			return simgpu.Builder{}, fmt.Errorf("sim.key must be 32 bytes, got %d", len(key))
		}

		b = b.WithKey(key)
	}

	return b, nil
}
