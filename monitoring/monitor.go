// Package monitoring serves the progress, the verdicts, and the device state
// of a running suite over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sarchlab/securebounce/bounce"
	"github.com/sarchlab/securebounce/monitoring/web"
	"github.com/sarchlab/securebounce/sim"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"k8s.io/klog/v2"
)

// A StateFunc returns a snapshot of a device for inspection.
type StateFunc func() any

type verdictRsp struct {
	Round    int    `json:"round"`
	Scenario string `json:"scenario"`
	Status   string `json:"status"`
	Step     int    `json:"step"`
	StepName string `json:"step_name"`
	Detail   string `json:"detail"`
}

// Monitor turns a run into a server that reports its progress.
type Monitor struct {
	portNumber  int
	openBrowser bool

	lock     sync.Mutex
	devices  map[string]StateFunc
	verdicts []verdictRsp

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	registry  *prometheus.Registry
	scenarios *prometheus.CounterVec
	durations prometheus.Histogram

	listener net.Listener
	server   *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	m := &Monitor{
		devices:  make(map[string]StateFunc),
		registry: prometheus.NewRegistry(),
		scenarios: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securebounce",
			Name:      "scenarios_total",
			Help:      "Finished scenario runs by status.",
		}, []string{"status"}),
		durations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "securebounce",
			Name:      "scenario_duration_seconds",
			Help:      "Wall time of scenario runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	m.registry.MustRegister(
		m.scenarios,
		m.durations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor page in a browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterDevice adds a device whose state is served under its name.
func (m *Monitor) RegisterDevice(name string, state StateFunc) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.devices[name] = state
}

// Watch follows the scenarios of a runner with a progress bar.
func (m *Monitor) Watch(r *bounce.Runner) *ProgressBar {
	bar := m.CreateProgressBar(r.Name(), uint64(r.NumScenarios()))
	r.AcceptHook(&runnerHook{m: m, bar: bar})

	return bar
}

type runnerHook struct {
	m   *Monitor
	bar *ProgressBar
}

// Func updates the progress bar and the verdict list.
func (h *runnerHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case bounce.HookPosScenarioStart:
		h.bar.IncrementInProgress(1)
	case bounce.HookPosScenarioEnd:
		v := ctx.Item.(bounce.Verdict)
		if v.Status == bounce.Skip {
			h.bar.IncrementFinished(1)
		} else {
			h.bar.MoveInProgressToFinished(1)
		}

		h.m.recordVerdict(v)
	}
}

func (m *Monitor) recordVerdict(v bounce.Verdict) {
	m.scenarios.WithLabelValues(v.Status.String()).Inc()
	m.durations.Observe(v.Duration.Seconds())

	rsp := verdictRsp{
		Round:    v.Round,
		Scenario: v.Scenario,
		Status:   v.Status.String(),
		Step:     v.Step,
		StepName: v.StepName,
	}

	switch {
	case v.Err != nil:
		rsp.Detail = v.Err.Error()
	case len(v.Mismatches) > 0:
		rsp.Detail = v.Mismatches[0].String()
	}

	m.lock.Lock()
	m.verdicts = append(m.verdicts, rsp)
	m.lock.Unlock()
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handlers of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/verdicts", m.listVerdicts)
	r.HandleFunc("/api/device", m.listDevices)
	r.HandleFunc("/api/device/{name}", m.deviceState)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background.
func (m *Monitor) StartServer() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d", m.Port())
	fmt.Fprintf(os.Stderr, "Monitoring with %s\n", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.ErrorS(err, "Monitor stopped")
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			klog.ErrorS(err, "Opening browser", "url", url)
		}
	}

	return nil
}

// Port returns the port the server listens on.
func (m *Monitor) Port() int {
	return m.listener.Addr().(*net.TCPAddr).Port
}

// StopServer closes the server.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}

	return m.server.Close()
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBar, len(m.progressBars))
	for i, b := range m.progressBars {
		bars[i] = b.snapshot()
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

func (m *Monitor) listVerdicts(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	defer m.lock.Unlock()

	writeJSON(w, m.verdicts)
}

func (m *Monitor) listDevices(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	m.lock.Unlock()

	sort.Strings(names)
	writeJSON(w, names)
}

func (m *Monitor) deviceState(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	m.lock.Lock()
	state, ok := m.devices[name]
	m.lock.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Device not found"))
		dieOnErr(err)

		return
	}

	snapshot := state()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(4)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("seconds"); s != "" {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error: invalid duration %q", s)

			return
		}

		duration = time.Duration(secs * float64(time.Second))
	}

	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
