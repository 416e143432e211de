package tracing

import (
	"sync"

	"github.com/sarchlab/securebounce/datarecording"
	"github.com/sarchlab/securebounce/sim"
)

type taskTableEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
	Steps     int
}

// DBTracer is a tracer that stores finished tasks into a data recorder.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder
	tableName  string

	tracingTasks map[string]Task
}

// NewDBTracer creates a new DBTracer that writes into the given table.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	dataRecorder datarecording.DataRecorder,
	tableName string,
) *DBTracer {
	dataRecorder.CreateTable(tableName, taskTableEntry{})

	return &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tableName:    tableName,
		tracingTasks: make(map[string]Task),
	}
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task.StartTime = t.timeTeller.CurrentTime()
	t.tracingTasks[task.ID] = task
}

// StepTask records a step of a task.
func (t *DBTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	now := t.timeTeller.CurrentTime()
	for _, step := range task.Steps {
		step.Time = now
		original.Steps = append(original.Steps, step)
	}
	t.tracingTasks[task.ID] = original
}

// EndTask writes the finished task.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}
	delete(t.tracingTasks, task.ID)

	t.backend.InsertData(t.tableName, taskTableEntry{
		ID:        original.ID,
		ParentID:  original.ParentID,
		Kind:      original.Kind,
		What:      original.What,
		Location:  original.Where,
		StartTime: float64(original.StartTime),
		EndTime:   float64(t.timeTeller.CurrentTime()),
		Steps:     len(original.Steps),
	})
}

// Pending returns the number of started tasks that have not ended.
func (t *DBTracer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.tracingTasks)
}
