package tracing

import (
	"sync"
	"time"

	"github.com/sarchlab/securebounce/sim"
)

// A Tracer can collect task traces
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}

// WallClock is a TimeTeller that reports the seconds passed since it was
// created. It times domains that do not run on a simulated engine.
type WallClock struct {
	once  sync.Once
	start time.Time
}

// CurrentTime returns the seconds since the first call.
func (c *WallClock) CurrentTime() sim.VTimeInSec {
	c.once.Do(func() { c.start = time.Now() })

	return sim.VTimeInSec(time.Since(c.start).Seconds())
}
