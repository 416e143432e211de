// Package tracing reports the start, the steps, and the end of tasks to
// tracers through hooks.
package tracing

import (
	"github.com/sarchlab/securebounce/sim"
)

// NamedHookable is a named domain that reports tasks through its hooks.
type NamedHookable interface {
	sim.Hookable
	Name() string
	InvokeHook(sim.HookCtx)
	Hooks() []sim.Hook
}

// Hook positions of task events. The hook item is a Task.
var (
	HookPosTaskStart = &sim.HookPos{Name: "TaskStart"}
	HookPosTaskStep  = &sim.HookPos{Name: "TaskStep"}
	HookPosTaskEnd   = &sim.HookPos{Name: "TaskEnd"}
)

// Kinds of the tasks the harness traces.
const (
	KindScenario   = "scenario"
	KindSubmission = "submission"
	KindMigration  = "migration"
)

// StartTask reports the start of a task. ID, Kind and What must be set. Where
// is always the name of the domain.
func StartTask(domain NamedHookable, task Task) {
	if domain.NumHooks() == 0 {
		return
	}

	task.Where = domain.Name()
	if err := task.validate(); err != nil {
		panic(err)
	}

	report(domain, HookPosTaskStart, task)
}

// AddTaskStep reports that a task reached a milestone.
func AddTaskStep(domain NamedHookable, id string, what string) {
	if domain.NumHooks() == 0 {
		return
	}

	report(domain, HookPosTaskStep, Task{ID: id, Steps: []TaskStep{{What: what}}})
}

// EndTask reports the end of a task.
func EndTask(domain NamedHookable, id string) {
	if domain.NumHooks() == 0 {
		return
	}

	report(domain, HookPosTaskEnd, Task{ID: id})
}

func report(domain NamedHookable, pos *sim.HookPos, task Task) {
	domain.InvokeHook(sim.HookCtx{
		Domain: domain,
		Pos:    pos,
		Item:   task,
	})
}
