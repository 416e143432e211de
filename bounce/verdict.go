package bounce

import (
	"fmt"
	"time"
)

// Status is the outcome of a scenario.
type Status int

// Scenario outcomes.
const (
	Pass Status = iota
	Fail
	Skip
	Error
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	case Skip:
		return "SKIP"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// A Mismatch is an assertion that did not hold. Offset is the byte offset of
// the first word that disagreed, if the assertion looks at words.
type Mismatch struct {
	Step     int
	Name     string
	Offset   uint64
	Observed string
	Expected string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("step %d %s @0x%x: observed %s, expected %s",
		m.Step, m.Name, m.Offset, m.Observed, m.Expected)
}

// A Verdict is the result of one run of a scenario.
type Verdict struct {
	Round    int
	Scenario string
	Status   Status

	// Step and StepName locate the first failure. They are zero for passing
	// scenarios.
	Step     int
	StepName string

	// Err is the fatal error of an Error verdict or the reason of a Skip.
	Err error

	// ErrorKind names the submission failure kind, if Err holds one.
	ErrorKind string

	Mismatches []Mismatch
	Duration   time.Duration
}

func (v Verdict) String() string {
	switch v.Status {
	case Fail:
		return fmt.Sprintf("%s %s: %s", v.Status, v.Scenario, v.Mismatches[0])
	case Error, Skip:
		return fmt.Sprintf("%s %s: step %d (%s): %v",
			v.Status, v.Scenario, v.Step, v.StepName, v.Err)
	default:
		return fmt.Sprintf("%s %s", v.Status, v.Scenario)
	}
}
