package cmd

import (
	"fmt"
	"io"

	"github.com/sarchlab/securebounce/config"
	"github.com/sarchlab/securebounce/device"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print what the device supports.",
	Long: "`info` opens the device and prints its driver version, TMZ " +
		"support, rings, and whether the suite would run on it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}

		return info(cmd.OutOrStdout(), c)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func info(w io.Writer, c config.Config) error {
	drv, _, err := newDriver(c)
	if err != nil {
		return err
	}

	minVersion, err := c.MinDriverVersion()
	if err != nil {
		return err
	}

	// Open any version so that old drivers can still be described.
	dev, err := device.Open(drv, device.WithMinVersion(device.Version{}))
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Fprintf(w, "backend:  %s\n", c.Backend)
	fmt.Fprintf(w, "version:  %s\n", dev.Version())
	fmt.Fprintf(w, "tmz:      %t\n", dev.Supports(device.CapTMZ))

	for _, kind := range []device.EngineKind{device.EngineGFX, device.EngineDMA} {
		rings, err := dev.QueryRings(kind)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%-4s rings: %#x\n", kind, rings)
	}

	suite := "runs"

	switch {
	case !dev.Version().AtLeast(minVersion):
		suite = fmt.Sprintf("skipped, driver is older than %s", minVersion)
	case !dev.Supports(device.CapTMZ):
		suite = "skipped, no TMZ support"
	}

	fmt.Fprintf(w, "suite:    %s\n", suite)

	return nil
}
