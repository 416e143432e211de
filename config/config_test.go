package config_test

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/securebounce/config"
	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sim"
)

func lookupIn(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	writeFile := func(name, content string) string {
		p := filepath.Join(dir, name)
		Expect(os.WriteFile(p, []byte(content), 0o644)).To(Succeed())

		return p
	}

	It("should have valid defaults", func() {
		c := config.Default()

		Expect(c.Validate()).To(Succeed())
		Expect(c.Backend).To(Equal(config.BackendSim))
		Expect(c.MinVersion).To(Equal("3.37"))
		Expect(c.Sim.TMZ).To(BeTrue())
		Expect(c.Sim.FreqMHz).To(Equal(1000.0))
	})

	It("should read YAML over the defaults", func() {
		p := writeFile("run.yaml", `
backend: sim
jobs: 3
scenarios: [bounce]
sim:
  version: "3.40"
  dma_rings: 6
  faults:
    broken_migration: true
    hang_rings: 2
`)

		c, err := config.Load(p)

		Expect(err).NotTo(HaveOccurred())
		Expect(c.Jobs).To(Equal(3))
		Expect(c.Repeat).To(Equal(1))
		Expect(c.Scenarios).To(Equal([]string{"bounce"}))
		Expect(c.Sim.DMARings).To(Equal(uint32(6)))
		Expect(c.Sim.Faults.BrokenMigration).To(BeTrue())
		Expect(c.Sim.Faults.HangRings).To(Equal(uint32(2)))
		Expect(c.Sim.WaitTimeout).To(Equal(2.0))
	})

	It("should reject unknown YAML fields", func() {
		p := writeFile("bad.yaml", "jbos: 3\n")

		_, err := config.Load(p)

		Expect(err).To(MatchError(ContainSubstring("jbos")))
	})

	It("should let the environment win over the file", func() {
		p := writeFile("run.yaml", "jobs: 3\nrepeat: 2\n")
		env, err := godotenv.Unmarshal(strings.Join([]string{
			"SECUREBOUNCE_JOBS=5",
			"SECUREBOUNCE_SCENARIOS=allocate, bounce",
			"SECUREBOUNCE_SIM_DMA_RINGS=0b100",
			"SECUREBOUNCE_SIM_LOSE_CONTEXT_AT=7",
		}, "\n"))
		Expect(err).NotTo(HaveOccurred())

		c, err := config.Load(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.FromEnv(lookupIn(env))).To(Succeed())

		Expect(c.Jobs).To(Equal(5))
		Expect(c.Repeat).To(Equal(2))
		Expect(c.Scenarios).To(Equal([]string{"allocate", "bounce"}))
		Expect(c.Sim.DMARings).To(Equal(uint32(4)))
		Expect(c.Sim.Faults.LoseContextAt).To(Equal(7))
	})

	It("should report every malformed variable", func() {
		c := config.Default()

		err := c.FromEnv(lookupIn(map[string]string{
			"SECUREBOUNCE_JOBS":    "many",
			"SECUREBOUNCE_SIM_TMZ": "maybe",
		}))

		Expect(err).To(MatchError(ContainSubstring("SECUREBOUNCE_JOBS")))
		Expect(err).To(MatchError(ContainSubstring("SECUREBOUNCE_SIM_TMZ")))
	})

	It("should load env files without overriding the environment", func() {
		p := writeFile(".env", "SECUREBOUNCE_RECORD=from_file\nSECUREBOUNCE_REPEAT=9\n")
		GinkgoT().Setenv("SECUREBOUNCE_REPEAT", "4")
		GinkgoT().Setenv("SECUREBOUNCE_RECORD", "")
		Expect(os.Unsetenv("SECUREBOUNCE_RECORD")).To(Succeed())

		Expect(config.LoadDotEnv(p, filepath.Join(dir, "missing.env"))).To(Succeed())

		c := config.Default()
		Expect(c.FromEnv(os.LookupEnv)).To(Succeed())
		Expect(c.Record).To(Equal("from_file"))
		Expect(c.Repeat).To(Equal(4))
	})

	It("should list the variables it reads", func() {
		Expect(config.EnvNames()).To(ContainElements(
			"SECUREBOUNCE_BACKEND", "SECUREBOUNCE_SIM_BROKEN_MIGRATION"))
	})

	It("should reject bad values", func() {
		c := config.Default()
		c.Backend = "nvidia"
		c.Jobs = 0
		c.Sim.Key = "abcd"

		err := c.Validate()

		Expect(err).To(MatchError(ContainSubstring("nvidia")))
		Expect(err).To(MatchError(ContainSubstring("jobs")))
		Expect(err).To(MatchError(ContainSubstring("32 bytes")))
	})

	It("should build the simulated GPU", func() {
		c := config.Default()
		c.Sim.Version = "3.50"
		c.Sim.TMZ = false
		c.Sim.FreqMHz = 500
		c.Sim.Key = strings.Repeat("ab", 32)

		b, err := c.Sim.Build()
		Expect(err).NotTo(HaveOccurred())

		gpu, err := b.Build("GPU")
		Expect(err).NotTo(HaveOccurred())

		cfg := gpu.Config()
		Expect(cfg.Version).To(Equal(device.Version{Major: 3, Minor: 50}))
		Expect(cfg.Caps.Has(device.CapTMZ)).To(BeFalse())
		Expect(cfg.Freq).To(Equal(500 * sim.MHz))
	})
})
