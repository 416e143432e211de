package bounce

import (
	"fmt"
	"io"
	"slices"

	"github.com/sarchlab/securebounce/datarecording"
)

// A Report collects the verdicts of every round of a run.
type Report struct {
	Device   string
	Verdicts []Verdict
}

// Rounds returns the number of rounds in the report.
func (r *Report) Rounds() int {
	n := 0
	for _, v := range r.Verdicts {
		n = max(n, v.Round+1)
	}

	return n
}

// Round returns the verdicts of one round in suite order.
func (r *Report) Round(round int) []Verdict {
	var vs []Verdict
	for _, v := range r.Verdicts {
		if v.Round == round {
			vs = append(vs, v)
		}
	}

	return vs
}

// Sequence returns the statuses of one round in suite order.
func (r *Report) Sequence(round int) []Status {
	var seq []Status
	for _, v := range r.Round(round) {
		seq = append(seq, v.Status)
	}

	return seq
}

// Idempotent reports whether every round produced the same statuses.
func (r *Report) Idempotent() bool {
	first := r.Sequence(0)
	for i := 1; i < r.Rounds(); i++ {
		if !slices.Equal(first, r.Sequence(i)) {
			return false
		}
	}

	return true
}

// Count returns how many verdicts have the status.
func (r *Report) Count(s Status) int {
	n := 0
	for _, v := range r.Verdicts {
		if v.Status == s {
			n++
		}
	}

	return n
}

// Passed reports whether no scenario failed or errored.
func (r *Report) Passed() bool {
	return r.Count(Fail) == 0 && r.Count(Error) == 0
}

// Write prints a one-line summary per verdict followed by the totals.
func (r *Report) Write(w io.Writer) error {
	for _, v := range r.Verdicts {
		prefix := ""
		if r.Rounds() > 1 {
			prefix = fmt.Sprintf("[%d] ", v.Round)
		}

		if _, err := fmt.Fprintf(w, "%s%s (%v)\n", prefix, v, v.Duration); err != nil {
			return err
		}

		for _, m := range v.Mismatches {
			if _, err := fmt.Fprintf(w, "    %s\n", m); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "%d passed, %d failed, %d skipped, %d errors\n",
		r.Count(Pass), r.Count(Fail), r.Count(Skip), r.Count(Error))

	return err
}

type verdictEntry struct {
	Device     string
	Round      int
	Scenario   string
	Status     string
	Step       int
	StepName   string
	ErrorKind  string
	Error      string
	Mismatches int
	Duration   float64
}

type mismatchEntry struct {
	Device   string
	Round    int
	Scenario string
	Step     int
	Name     string
	Offset   uint64
	Observed string
	Expected string
}

// Record writes the verdicts and the mismatches into two tables.
func (r *Report) Record(rec datarecording.DataRecorder) {
	rec.CreateTable("verdicts", verdictEntry{})
	rec.CreateTable("mismatches", mismatchEntry{})

	for _, v := range r.Verdicts {
		e := verdictEntry{
			Device:     r.Device,
			Round:      v.Round,
			Scenario:   v.Scenario,
			Status:     v.Status.String(),
			Step:       v.Step,
			StepName:   v.StepName,
			ErrorKind:  v.ErrorKind,
			Mismatches: len(v.Mismatches),
			Duration:   v.Duration.Seconds(),
		}
		if v.Err != nil {
			e.Error = v.Err.Error()
		}
		rec.InsertData("verdicts", e)

		for _, m := range v.Mismatches {
			rec.InsertData("mismatches", mismatchEntry{
				Device:   r.Device,
				Round:    v.Round,
				Scenario: v.Scenario,
				Step:     m.Step,
				Name:     m.Name,
				Offset:   m.Offset,
				Observed: m.Observed,
				Expected: m.Expected,
			})
		}
	}

	rec.Flush()
}
