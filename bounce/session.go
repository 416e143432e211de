package bounce

import (
	"errors"
	"fmt"

	"github.com/sarchlab/securebounce/bo"
	"github.com/sarchlab/securebounce/cs"
	"github.com/sarchlab/securebounce/device"
	"gvisor.dev/gvisor/pkg/cleanup"
	"k8s.io/klog/v2"
)

// A Session is the state a scenario owns: one context, the buffers it
// allocated, and the mismatches it found. Closing the session frees the
// buffers in reverse allocation order and then releases the context.
type Session struct {
	scenario string
	dev      *device.Device
	ctx      *cs.Context
	alloc    *bo.Allocator

	cu          cleanup.Cleanup
	cleanupErrs []error

	step       int
	stepName   string
	mismatches []Mismatch
}

func newSession(scenario string, dev *device.Device) (*Session, error) {
	ctx, err := cs.NewContext(dev, device.EngineDMA)
	if err != nil {
		return nil, err
	}

	s := &Session{
		scenario: scenario,
		dev:      dev,
		ctx:      ctx,
		alloc:    bo.NewAllocator(dev),
		stepName: "init",
	}

	s.cu = cleanup.Make(func() {
		if err := ctx.Release(); err != nil {
			s.cleanupErrs = append(s.cleanupErrs, err)
		}
	})

	return s, nil
}

// Device returns the device the session runs on.
func (s *Session) Device() *device.Device {
	return s.dev
}

// Context returns the submission context of the session.
func (s *Session) Context() *cs.Context {
	return s.ctx
}

// Step starts the next step of the script.
func (s *Session) Step(name string) {
	s.step++
	s.stepName = name

	klog.V(1).InfoS("Step", "scenario", s.scenario, "step", s.step, "name", name)
}

// Mismatches returns the mismatches recorded so far.
func (s *Session) Mismatches() []Mismatch {
	return s.mismatches
}

// Alloc allocates a buffer that is freed when the session closes, unless
// the script frees it earlier.
func (s *Session) Alloc(
	size uint64,
	domain device.Domain,
	encrypted bool,
	opts ...bo.Option,
) (*bo.BufferObject, error) {
	b, err := s.alloc.Allocate(size, pageSize, domain, encrypted, opts...)
	if err != nil {
		return nil, err
	}

	s.cu.Add(func() {
		if b.Freed() {
			return
		}

		if err := s.alloc.Free(b); err != nil {
			s.cleanupErrs = append(s.cleanupErrs, err)
		}
	})

	return b, nil
}

// Free releases a buffer before the session closes.
func (s *Session) Free(b *bo.BufferObject) error {
	return s.alloc.Free(b)
}

// close unwinds the cleanup chain.
func (s *Session) close() error {
	s.cu.Clean()

	return errors.Join(s.cleanupErrs...)
}

func (s *Session) mismatch(name string, offset uint64, observed, expected string) {
	m := Mismatch{
		Step:     s.step,
		Name:     name,
		Offset:   offset,
		Observed: observed,
		Expected: expected,
	}
	s.mismatches = append(s.mismatches, m)

	klog.InfoS("Mismatch", "scenario", s.scenario, "step", s.step,
		"check", name, "offset", offset,
		"observed", observed, "expected", expected)
}

// ExpectWord checks the i-th CPU visible word of a buffer.
func (s *Session) ExpectWord(name string, b *bo.BufferObject, i int, want uint32) error {
	w, err := b.Word(i)
	if err != nil {
		return err
	}

	if w != want {
		s.mismatch(name, uint64(4*i), hex(w), hex(want))
	}

	return nil
}

// ExpectPattern checks whether every CPU visible word of a buffer is the
// pattern.
func (s *Session) ExpectPattern(
	name string,
	b *bo.BufferObject,
	pattern uint32,
	want bool,
) error {
	words, err := b.Words()
	if err != nil {
		return err
	}

	first, holds := -1, true
	for i, w := range words {
		if w != pattern {
			first, holds = i, false
			break
		}
	}

	if holds == want {
		return nil
	}

	if holds {
		s.mismatch(name, 0, "all "+hex(pattern), "not all "+hex(pattern))
	} else {
		s.mismatch(name, uint64(4*first), hex(words[first]), hex(pattern))
	}

	return nil
}

// ExpectEqual checks whether two buffers hold the same CPU visible bytes.
func (s *Session) ExpectEqual(name string, a, b *bo.BufferObject, want bool) error {
	equal, err := a.Equal(b)
	if err != nil {
		return err
	}

	if equal != want {
		s.mismatch(name, 0, equality(equal), equality(want))
	}

	return nil
}

// Probe runs a secure compare and swap of newValue against cmpValue on every
// word of the buffer. A word the CPU sees change after the probe reports
// not-equal; an unchanged word reports equal. Only the first word that
// reports the wrong outcome is recorded.
func (s *Session) Probe(
	name string,
	b *bo.BufferObject,
	newValue, cmpValue uint32,
	wantChange bool,
) error {
	var wrong, first int

	for i := 0; i < b.NumWords(); i++ {
		before, err := b.Word(i)
		if err != nil {
			return err
		}

		err = cs.CompareSwap(s.ctx, true, b, uint64(4*i), newValue, cmpValue)
		if err != nil {
			return err
		}

		after, err := b.Word(i)
		if err != nil {
			return err
		}

		if (before != after) != wantChange {
			if wrong == 0 {
				first = i
			}
			wrong++
		}
	}

	if wrong > 0 {
		observed := probeOutcome(!wantChange)
		if wrong > 1 {
			observed = fmt.Sprintf("%s (%d of %d words)", observed, wrong, b.NumWords())
		}

		s.mismatch(name, uint64(4*first), observed, probeOutcome(wantChange))
	}

	return nil
}

func hex(w uint32) string {
	return fmt.Sprintf("0x%08x", w)
}

func equality(equal bool) string {
	if equal {
		return "equal"
	}

	return "different"
}

func probeOutcome(changed bool) string {
	if changed {
		return "not-equal"
	}

	return "equal"
}
