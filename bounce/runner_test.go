package bounce_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/securebounce/bo"
	"github.com/sarchlab/securebounce/bounce"
	"github.com/sarchlab/securebounce/datarecording"
	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sim"
	"github.com/sarchlab/securebounce/simgpu"
	"github.com/sarchlab/securebounce/tracing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(3*i + 7)
	}

	return key
}

type leakCheck struct {
	lock   sync.Mutex
	gpu    *simgpu.Driver
	leaked []string
}

func (c *leakCheck) Func(ctx sim.HookCtx) {
	if ctx.Pos != bounce.HookPosScenarioEnd {
		return
	}

	v := ctx.Item.(bounce.Verdict)
	stats := c.gpu.Stats()

	c.lock.Lock()
	defer c.lock.Unlock()

	if stats.LiveBuffers != 0 || stats.LiveContexts != 0 {
		c.leaked = append(c.leaked, v.Scenario)
	}
}

func findVerdict(vs []bounce.Verdict, name string) bounce.Verdict {
	for _, v := range vs {
		if v.Scenario == name {
			return v
		}
	}

	Fail("no verdict for " + name)

	return bounce.Verdict{}
}

var _ = Describe("Runner", func() {
	var (
		builder simgpu.Builder
		gpu     *simgpu.Driver
		leaks   *leakCheck
	)

	newRunner := func() *bounce.Runner {
		var err error
		gpu, err = builder.Build("GPU")
		Expect(err).NotTo(HaveOccurred())

		r := bounce.NewRunner(gpu)
		leaks = &leakCheck{gpu: gpu}
		r.AcceptHook(leaks)

		return r
	}

	run := func(r *bounce.Runner) *bounce.Report {
		report, err := r.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(leaks.leaked).To(BeEmpty())

		return report
	}

	BeforeEach(func() {
		builder = simgpu.MakeBuilder().WithKey(testKey())
	})

	It("should pass the whole suite on a working GPU", func() {
		report := run(newRunner())

		Expect(report.Sequence(0)).To(Equal([]bounce.Status{
			bounce.Pass, bounce.Pass, bounce.Pass, bounce.Pass,
		}))
		Expect(report.Passed()).To(BeTrue())
		Expect(gpu.Stats().LiveBuffers).To(BeZero())
	})

	It("should give the same verdicts on every round", func() {
		report := run(newRunner().WithRepeat(2))

		Expect(report.Rounds()).To(Equal(2))
		Expect(report.Idempotent()).To(BeTrue())
		Expect(report.Sequence(1)).To(Equal(report.Sequence(0)))
	})

	It("should give the same verdicts with parallel jobs", func() {
		report, err := newRunner().WithJobs(4).Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Count(bounce.Pass)).To(Equal(4))
		Expect(report.Verdicts[3].Scenario).To(Equal("secure bounce"))
	})

	It("should catch migrations that do not re-encrypt", func() {
		builder = builder.WithFaults(simgpu.Faults{BrokenMigration: true})

		report := run(newRunner())
		v := findVerdict(report.Verdicts, "secure bounce")

		Expect(v.Status).To(Equal(bounce.Fail))
		Expect(v.Mismatches[0].Name).To(Equal("bob probe"))
		Expect(v.Mismatches[0].Offset).To(BeZero())
		Expect(v.Mismatches[0].Observed).To(HavePrefix("equal"))
		Expect(v.Mismatches[0].Expected).To(Equal("not-equal"))
		Expect(findVerdict(report.Verdicts, "sDMA secure linear copy").Status).
			To(Equal(bounce.Pass))
		Expect(report.Passed()).To(BeFalse())
	})

	It("should report hung rings as timeouts and free everything", func() {
		builder = builder.
			WithFaults(simgpu.Faults{HangRings: 0b1}).
			WithWaitTimeout(0.001)

		report := run(newRunner())

		Expect(findVerdict(report.Verdicts, "allocate secure buffer").Status).
			To(Equal(bounce.Pass))

		v := findVerdict(report.Verdicts, "sDMA secure command submission")
		Expect(v.Status).To(Equal(bounce.Error))
		Expect(v.ErrorKind).To(Equal("Timeout"))
		Expect(v.StepName).To(Equal("secure write"))
		Expect(errors.Is(v.Err, device.ErrTimeout)).To(BeTrue())
		Expect(report.Count(bounce.Error)).To(Equal(3))
	})

	It("should report lost contexts and go on with other scenarios", func() {
		builder = builder.WithFaults(simgpu.Faults{LoseContextAt: 1})

		report := run(newRunner())

		v := findVerdict(report.Verdicts, "sDMA secure command submission")
		Expect(v.Status).To(Equal(bounce.Error))
		Expect(v.ErrorKind).To(Equal("ContextLost"))
		Expect(findVerdict(report.Verdicts, "secure bounce").Status).
			To(Equal(bounce.Pass))
	})

	It("should report failed allocations", func() {
		builder = builder.WithFaults(simgpu.Faults{FailAllocAt: 2})

		report := run(newRunner().WithScenarios(bounce.Suite()[:1]))

		v := report.Verdicts[0]
		var allocErr *bo.AllocationError
		Expect(v.Status).To(Equal(bounce.Error))
		Expect(errors.As(v.Err, &allocErr)).To(BeTrue())
		Expect(allocErr.Domain).To(Equal(device.DomainGTT))
		Expect(v.Step).To(Equal(3))
	})

	It("should report failed placements", func() {
		builder = builder.WithFaults(simgpu.Faults{FailPlacement: true})

		scenarios, err := bounce.Select("bounce")
		Expect(err).NotTo(HaveOccurred())

		report := run(newRunner().WithScenarios(scenarios))

		Expect(report.Verdicts[0].Status).To(Equal(bounce.Error))
		Expect(report.Verdicts[0].StepName).To(Equal("move bob to GTT"))
		Expect(report.Verdicts[0].ErrorKind).To(BeEmpty())
	})

	It("should skip the suite without TMZ", func() {
		builder = builder.WithCapabilities(0)

		report := run(newRunner())

		Expect(report.Count(bounce.Skip)).To(Equal(4))
		Expect(device.IsSkip(report.Verdicts[0].Err)).To(BeTrue())
		Expect(report.Passed()).To(BeTrue())
	})

	It("should skip the suite on old drivers", func() {
		builder = builder.WithVersion(device.Version{Major: 3, Minor: 30})

		report := run(newRunner())

		Expect(report.Count(bounce.Skip)).To(Equal(4))
	})

	It("should accept older drivers when asked", func() {
		builder = builder.WithVersion(device.Version{Major: 3, Minor: 30})
		scenarios, _ := bounce.Select("allocate")

		report := run(newRunner().
			WithMinVersion(device.Version{Major: 3, Minor: 0}).
			WithScenarios(scenarios))

		Expect(report.Sequence(0)).To(Equal([]bounce.Status{bounce.Pass}))
	})

	It("should stop when cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newRunner().Run(ctx)

		Expect(err).To(MatchError(context.Canceled))
	})

	It("should trace scenarios", func() {
		r := newRunner()
		tracer := tracing.NewUsageTracer(r, tracing.KindFilter(tracing.KindScenario))
		tracing.CollectTrace(r, tracer)

		run(r)

		u := tracer.Usage(tracing.KindScenario)
		Expect(u.Tasks).To(Equal(uint64(4)))
		Expect(u.Busy).To(BeNumerically(">", 0))
	})

	It("should record the report", func() {
		builder = builder.WithFaults(simgpu.Faults{BrokenMigration: true})
		report := run(newRunner())

		rec, err := datarecording.New(filepath.Join(GinkgoT().TempDir(), "run"))
		Expect(err).NotTo(HaveOccurred())
		defer rec.Close()

		report.Record(rec)

		Expect(rec.ListTables()).To(Equal([]string{"mismatches", "verdicts"}))
	})

	It("should print a summary", func() {
		builder = builder.WithFaults(simgpu.Faults{BrokenMigration: true})
		report := run(newRunner())

		var out strings.Builder
		Expect(report.Write(&out)).To(Succeed())

		Expect(out.String()).To(ContainSubstring("FAIL secure bounce"))
		Expect(out.String()).To(ContainSubstring("3 passed, 1 failed"))
	})
})

var _ = Describe("Select", func() {
	It("should keep suite order", func() {
		scenarios, err := bounce.Select("bounce", "allocate")

		Expect(err).NotTo(HaveOccurred())
		Expect(scenarios).To(HaveLen(2))
		Expect(scenarios[0].Name).To(Equal("allocate secure buffer"))
		Expect(scenarios[1].Name).To(Equal("secure bounce"))
	})

	It("should reject unknown scenarios", func() {
		_, err := bounce.Select("display")

		Expect(err).To(MatchError(ContainSubstring("display")))
	})
})
