package sim

import (
	"reflect"

	"k8s.io/klog/v2"
)

// EventLogger is a hook that logs every event an engine handles at the given
// klog verbosity.
type EventLogger struct {
	level klog.Level
}

// NewEventLogger returns an EventLogger that logs at the verbosity level.
func NewEventLogger(level klog.Level) *EventLogger {
	return &EventLogger{level: level}
}

// Func writes the event information into the log.
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	logger := klog.V(h.level)
	if !logger.Enabled() {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	handler := reflect.TypeOf(evt.Handler()).String()
	if named, ok := evt.Handler().(interface{ Name() string }); ok {
		handler = named.Name()
	}

	logger.InfoS("Event", "time", float64(evt.Time()),
		"type", reflect.TypeOf(evt).String(), "handler", handler)
}
