package tracing

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/sarchlab/securebounce/sim"
)

// Usage sums up the finished tasks of one kind.
type Usage struct {
	Kind  string
	Tasks uint64

	// Busy adds up the durations of the tasks. Overlapping tasks are counted
	// in full.
	Busy sim.VTimeInSec

	// Steps counts the milestones by name.
	Steps map[string]uint64
}

type openTask struct {
	kind  string
	start sim.VTimeInSec
	steps map[string]uint64
}

// UsageTracer accumulates the busy time and the step counts of the tasks that
// pass its filter, grouped by task kind.
type UsageTracer struct {
	clock  sim.TimeTeller
	filter TaskFilter

	lock  sync.Mutex
	open  map[string]*openTask
	kinds map[string]*Usage
}

// NewUsageTracer creates a tracer that reads task times from clock.
func NewUsageTracer(clock sim.TimeTeller, filter TaskFilter) *UsageTracer {
	return &UsageTracer{
		clock:  clock,
		filter: filter,
		open:   make(map[string]*openTask),
		kinds:  make(map[string]*Usage),
	}
}

// StartTask opens a task that passes the filter.
func (t *UsageTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	now := t.clock.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	t.open[task.ID] = &openTask{
		kind:  task.Kind,
		start: now,
		steps: make(map[string]uint64),
	}
}

// StepTask counts the steps of an open task.
func (t *UsageTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	o, ok := t.open[task.ID]
	if !ok {
		return
	}

	for _, s := range task.Steps {
		o.steps[s.What]++
	}
}

// EndTask folds an open task into the usage of its kind.
func (t *UsageTracer) EndTask(task Task) {
	now := t.clock.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	o, ok := t.open[task.ID]
	if !ok {
		return
	}
	delete(t.open, task.ID)

	u, ok := t.kinds[o.kind]
	if !ok {
		u = &Usage{Kind: o.kind, Steps: make(map[string]uint64)}
		t.kinds[o.kind] = u
	}

	u.Tasks++
	u.Busy += now - o.start
	for name, n := range o.steps {
		u.Steps[name] += n
	}
}

// Usage returns a copy of the usage of a task kind.
func (t *UsageTracer) Usage(kind string) Usage {
	t.lock.Lock()
	defer t.lock.Unlock()

	u, ok := t.kinds[kind]
	if !ok {
		return Usage{Kind: kind, Steps: map[string]uint64{}}
	}

	c := *u
	c.Steps = make(map[string]uint64, len(u.Steps))
	for name, n := range u.Steps {
		c.Steps[name] = n
	}

	return c
}

// Kinds returns the kinds with finished tasks, sorted.
func (t *UsageTracer) Kinds() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	kinds := make([]string, 0, len(t.kinds))
	for k := range t.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	return kinds
}

// Write prints one row per kind with its task count, busy time, and steps.
func (t *UsageTracer) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tTASKS\tBUSY\tSTEPS")

	for _, kind := range t.Kinds() {
		u := t.Usage(kind)

		names := make([]string, 0, len(u.Steps))
		for name := range u.Steps {
			names = append(names, name)
		}
		sort.Strings(names)

		steps := make([]string, len(names))
		for i, name := range names {
			steps[i] = fmt.Sprintf("%s=%d", name, u.Steps[name])
		}

		fmt.Fprintf(tw, "%s\t%d\t%.9fs\t%s\n",
			kind, u.Tasks, float64(u.Busy), strings.Join(steps, " "))
	}

	return tw.Flush()
}
