package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cheggaaa/pb/v3"
	"github.com/sarchlab/securebounce/bounce"
	"github.com/sarchlab/securebounce/config"
	"github.com/sarchlab/securebounce/datarecording"
	"github.com/sarchlab/securebounce/monitoring"
	"github.com/sarchlab/securebounce/sim"
	"github.com/sarchlab/securebounce/simgpu"
	"github.com/sarchlab/securebounce/tracing"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

var errSuiteFailed = errors.New("secure memory suite failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the secure memory scenarios.",
	Long: "`run` opens the device and runs the selected scenarios. The exit " +
		"status is non-zero when a scenario fails or errors. A device " +
		"without TMZ support skips the suite.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}

		return run(cmd.Context(), cmd.OutOrStdout(), c)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd.Flags())
}

func addRunFlags(f *pflag.FlagSet) {
	f.StringSlice("scenario", nil, "run only scenarios whose name contains the filter")
	f.Int("jobs", 1, "number of scenarios to run at the same time")
	f.Int("repeat", 1, "number of rounds of the suite")
	f.String("record", "", "record verdicts and traces into this SQLite database or clickhouse:// DSN")
	f.Bool("progress", true, "show a progress bar")
	f.Int("monitor-port", 0, "serve the monitor on this port, 0 disables it")
	f.Bool("open-browser", false, "open the monitor in a browser")
}

func run(ctx context.Context, w io.Writer, c config.Config) error {
	drv, gpu, err := newDriver(c)
	if err != nil {
		return err
	}

	scenarios, err := bounce.Select(c.Scenarios...)
	if err != nil {
		return err
	}

	minVersion, err := c.MinDriverVersion()
	if err != nil {
		return err
	}

	r := bounce.NewRunner(drv).
		WithName(deviceName).
		WithMinVersion(minVersion).
		WithScenarios(scenarios).
		WithJobs(c.Jobs).
		WithRepeat(c.Repeat)

	if c.Progress {
		bar := watchProgress(r)
		defer bar.Finish()
	}

	var rec datarecording.DataRecorder
	if c.Record != "" {
		rec, err = datarecording.Open(c.Record)
		if err != nil {
			return err
		}
		defer rec.Close()

		tracing.CollectTrace(r, tracing.NewDBTracer(r, rec, "scenario_tasks"))
	}

	var usage *tracing.UsageTracer
	if gpu != nil {
		usage = tracing.NewUsageTracer(gpu, func(t tracing.Task) bool {
			return t.Kind == tracing.KindSubmission || t.Kind == tracing.KindMigration
		})
		tracing.CollectTrace(gpu, usage)
	}

	if c.MonitorPort != 0 {
		stop, err := startMonitor(c, r, gpu)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	report, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if rec != nil {
		report.Record(rec)
	}

	if err := report.Write(w); err != nil {
		return err
	}

	if usage != nil {
		fmt.Fprintf(w, "\n%s simulated engine usage:\n", gpu.Name())
		if err := usage.Write(w); err != nil {
			return err
		}
	}

	if !report.Passed() {
		return errSuiteFailed
	}

	return nil
}

func startMonitor(c config.Config, r *bounce.Runner, gpu *simgpu.Driver) (func(), error) {
	m := monitoring.NewMonitor().
		WithPortNumber(c.MonitorPort).
		WithBrowser(c.OpenBrowser)

	if gpu != nil {
		m.RegisterDevice(gpu.Name(), func() any { return gpu.State() })
	}

	m.Watch(r)

	if err := m.StartServer(); err != nil {
		return nil, err
	}

	klog.InfoS("Monitor started", "port", m.Port())

	return func() {
		if err := m.StopServer(); err != nil {
			klog.ErrorS(err, "stopping monitor")
		}
	}, nil
}

// progressHook advances a terminal progress bar as scenarios end.
type progressHook struct {
	bar *pb.ProgressBar
}

func (h *progressHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != bounce.HookPosScenarioEnd {
		return
	}

	h.bar.Increment()
}

func watchProgress(r *bounce.Runner) *pb.ProgressBar {
	bar := pb.New(r.NumScenarios()).
		SetTemplate(pb.Simple).
		SetWriter(os.Stderr).
		Set("prefix", r.Name()+" ")

	r.AcceptHook(&progressHook{bar: bar.Start()})

	return bar
}
