package bounce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sarchlab/securebounce/cs"
	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sim"
	"github.com/sarchlab/securebounce/tracing"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// HookPosScenarioStart is triggered before a scenario runs. The hook item is
// the Scenario.
var HookPosScenarioStart = &sim.HookPos{Name: "ScenarioStart"}

// HookPosScenarioEnd is triggered after a scenario session is closed. The
// hook item is the Verdict.
var HookPosScenarioEnd = &sim.HookPos{Name: "ScenarioEnd"}

// A Runner opens a device and runs scenarios on it.
type Runner struct {
	sim.HookableBase

	name      string
	driver    device.Driver
	devOpts   []device.Option
	scenarios []Scenario
	jobs      int
	repeat    int
	clock     *tracing.WallClock
}

// NewRunner creates a runner of the whole suite on the driver.
func NewRunner(drv device.Driver) *Runner {
	return &Runner{
		name:      "Runner",
		driver:    drv,
		scenarios: Suite(),
		jobs:      1,
		repeat:    1,
		clock:     &tracing.WallClock{},
	}
}

// WithName sets the name the runner reports to tracers.
func (r *Runner) WithName(name string) *Runner {
	r.name = name
	return r
}

// WithMinVersion sets the oldest driver protocol the suite accepts.
func (r *Runner) WithMinVersion(v device.Version) *Runner {
	r.devOpts = append(r.devOpts, device.WithMinVersion(v))
	return r
}

// WithScenarios replaces the scenarios to run.
func (r *Runner) WithScenarios(scenarios []Scenario) *Runner {
	r.scenarios = scenarios
	return r
}

// WithJobs sets how many scenarios may run at the same time.
func (r *Runner) WithJobs(n int) *Runner {
	r.jobs = max(n, 1)
	return r
}

// WithRepeat sets how many times the scenarios run.
func (r *Runner) WithRepeat(n int) *Runner {
	r.repeat = max(n, 1)
	return r
}

// Name returns the name of the runner.
func (r *Runner) Name() string {
	return r.name
}

// CurrentTime returns the wall time since the runner first ran, in seconds.
func (r *Runner) CurrentTime() sim.VTimeInSec {
	return r.clock.CurrentTime()
}

// NumScenarios returns the number of scenario runs Run performs.
func (r *Runner) NumScenarios() int {
	return len(r.scenarios) * r.repeat
}

// Run opens the device and runs every round of the scenarios. A device that
// cannot run the suite yields Skip verdicts rather than an error. The error
// is non-nil only if the run was cancelled or the device could not be closed.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{Device: r.name}

	dev, err := device.Open(r.driver, r.devOpts...)
	if err == nil {
		err = dev.Gate()
		if err != nil {
			_ = dev.Close()
		}
	}

	if err != nil {
		if !errors.Is(err, device.ErrDeviceUnavailable) {
			return nil, err
		}

		klog.InfoS("Skipping suite", "reason", err)
		r.skipAll(report, err)

		return report, nil
	}

	klog.InfoS("Device opened", "version", dev.Version(),
		"tmz", dev.Supports(device.CapTMZ))

	for round := 0; round < r.repeat; round++ {
		verdicts, err := r.runRound(ctx, dev, round)
		if err != nil {
			_ = dev.Close()
			return nil, err
		}

		report.Verdicts = append(report.Verdicts, verdicts...)
	}

	if err := dev.Close(); err != nil {
		return report, fmt.Errorf("close device: %w", err)
	}

	return report, nil
}

func (r *Runner) skipAll(report *Report, reason error) {
	for round := 0; round < r.repeat; round++ {
		for _, sc := range r.scenarios {
			v := Verdict{
				Round:    round,
				Scenario: sc.Name,
				Status:   Skip,
				StepName: "init",
				Err:      reason,
			}
			report.Verdicts = append(report.Verdicts, v)

			r.InvokeHook(sim.HookCtx{Domain: r, Pos: HookPosScenarioEnd, Item: v})
		}
	}
}

func (r *Runner) runRound(
	ctx context.Context,
	dev *device.Device,
	round int,
) ([]Verdict, error) {
	verdicts := make([]Verdict, len(r.scenarios))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.jobs)

	for i, sc := range r.scenarios {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			verdicts[i] = r.runScenario(dev, sc, round)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return verdicts, nil
}

func (r *Runner) runScenario(dev *device.Device, sc Scenario, round int) Verdict {
	taskID := fmt.Sprintf("%s.%d.%s", r.name, round, sim.GetIDGenerator().Generate())
	tracing.StartTask(r, tracing.Task{
		ID:     taskID,
		Kind:   tracing.KindScenario,
		What:   sc.Name,
		Detail: round,
	})

	r.InvokeHook(sim.HookCtx{Domain: r, Pos: HookPosScenarioStart, Item: sc})

	start := time.Now()
	v := Verdict{Round: round, Scenario: sc.Name}

	s, err := newSession(sc.Name, dev)
	if err != nil {
		v.StepName = "init"
		v.fatal(err)
	} else {
		runErr := sc.Run(s)
		v.Step, v.StepName = s.step, s.stepName

		closeErr := s.close()
		v.judge(s.mismatches, errors.Join(runErr, closeErr))
	}

	v.Duration = time.Since(start)

	klog.InfoS("Scenario finished", "scenario", sc.Name, "round", round,
		"status", v.Status, "step", v.Step, "stepName", v.StepName,
		"mismatches", len(v.Mismatches), "duration", v.Duration)

	tracing.EndTask(r, taskID)
	r.InvokeHook(sim.HookCtx{Domain: r, Pos: HookPosScenarioEnd, Item: v})

	return v
}

func (v *Verdict) fatal(err error) {
	v.Status = Error
	v.Err = err

	if kind, ok := cs.KindOf(err); ok {
		v.ErrorKind = kind.String()
	}
}

// judge sets the status from what the session found. A fatal error wins over
// mismatches. A failing verdict points at the first mismatch.
func (v *Verdict) judge(mismatches []Mismatch, err error) {
	v.Mismatches = mismatches

	switch {
	case err != nil:
		v.fatal(err)
	case len(mismatches) > 0:
		v.Status = Fail
		v.Step = mismatches[0].Step
		v.StepName = mismatches[0].Name
	default:
		v.Status = Pass
		v.Step, v.StepName = 0, ""
	}
}
