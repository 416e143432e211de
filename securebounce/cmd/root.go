// Package cmd provides the command-line interface of securebounce.
package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/securebounce/amdgpu"
	"github.com/sarchlab/securebounce/config"
	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/simgpu"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
	"k8s.io/klog/v2"
)

const deviceName = "GPU"

var (
	configPath string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "securebounce",
	Short: "securebounce verifies secure memory migration on GPUs.",
	Long: `securebounce allocates encrypted buffers, copies data through them ` +
		`with the secure SDMA engine, and moves them between memory pools ` +
		`to check that the contents survive re-encryption. It runs on an ` +
		`amdgpu render node or on a simulated GPU.`,
	SilenceUsage: true,
}

func init() {
	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)

	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVar(&envFile, "env-file", ".env", "file of "+config.EnvPrefix+"* variables")
	addDeviceFlags(f)
}

func addDeviceFlags(f *pflag.FlagSet) {
	f.String("backend", config.BackendSim, "device backend, sim or amdgpu")
	f.String("render-node", amdgpu.DefaultRenderNode, "amdgpu render node")
	f.String("min-version", device.DefaultMinVersion.String(), "oldest driver version to test")
	f.Bool("sim-tmz", true, "simulated GPU reports TMZ support")
	f.String("sim-version", "", "driver version the simulated GPU reports")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	atexit.Register(klog.Flush)

	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// loadConfig layers the configuration sources. Later sources win: defaults,
// the YAML file, the env file and the environment, then explicit flags.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}

	c, err := config.Load(configPath)
	if err != nil {
		return c, err
	}

	if err := c.FromEnv(os.LookupEnv); err != nil {
		return c, err
	}

	applyFlags(flags, &c)

	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func applyFlags(flags *pflag.FlagSet, c *config.Config) {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}

	str("backend", &c.Backend)
	str("render-node", &c.RenderNode)
	str("min-version", &c.MinVersion)
	str("sim-version", &c.Sim.Version)
	boolean("sim-tmz", &c.Sim.TMZ)

	if flags.Changed("scenario") {
		c.Scenarios, _ = flags.GetStringSlice("scenario")
	}

	num("jobs", &c.Jobs)
	num("repeat", &c.Repeat)
	num("monitor-port", &c.MonitorPort)
	str("record", &c.Record)
	boolean("progress", &c.Progress)
	boolean("open-browser", &c.OpenBrowser)
}

// newDriver builds the driver of the configured backend. The simulated GPU
// is also returned so that its state can be inspected.
func newDriver(c config.Config) (device.Driver, *simgpu.Driver, error) {
	if c.Backend == config.BackendAMDGPU {
		d := amdgpu.MakeBuilder().
			WithRenderNode(c.RenderNode).
			Build(deviceName)

		return d, nil, nil
	}

	b, err := c.Sim.Build()
	if err != nil {
		return nil, nil, err
	}

	gpu, err := b.Build(deviceName)
	if err != nil {
		return nil, nil, err
	}

	return gpu, gpu, nil
}
