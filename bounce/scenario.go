// Package bounce verifies that encrypted GPU memory stays opaque to the CPU
// across copies and migrations while plain memory stays stable.
package bounce

import (
	"fmt"
	"strings"

	"github.com/sarchlab/securebounce/bo"
	"github.com/sarchlab/securebounce/cs"
	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/placement"
)

// Values the scenarios write and probe with.
const (
	Pattern    uint32 = 0xdeadbeef
	ProbeValue uint32 = 0x12345678
)

const (
	pageSize   = 4096
	bounceSize = 16 << 10
	lcopyWords = 64
	lcopySize  = 4 * lcopyWords
)

// A Scenario is a named script run in its own session. A returned error is
// fatal; assertions are recorded on the session instead.
type Scenario struct {
	Name string
	Run  func(s *Session) error
}

// Suite returns the secure memory scenarios in the order they run.
func Suite() []Scenario {
	return []Scenario{
		{Name: "allocate secure buffer", Run: allocateSecureBuffer},
		{Name: "sDMA secure command submission", Run: secureCommandSubmission},
		{Name: "sDMA secure linear copy", Run: secureLinearCopy},
		{Name: "secure bounce", Run: secureBounce},
	}
}

// Select returns the scenarios of the suite whose names contain one of the
// filters, in suite order. No filter selects the whole suite.
func Select(filters ...string) ([]Scenario, error) {
	suite := Suite()
	if len(filters) == 0 {
		return suite, nil
	}

	var selected []Scenario
	used := make(map[string]bool)

	for _, sc := range suite {
		for _, f := range filters {
			if strings.Contains(sc.Name, f) {
				selected = append(selected, sc)
				used[f] = true

				break
			}
		}
	}

	for _, f := range filters {
		if !used[f] {
			return nil, fmt.Errorf("no scenario matches %q", f)
		}
	}

	return selected, nil
}

func allocateSecureBuffer(s *Session) error {
	cases := []struct {
		name   string
		domain device.Domain
		opts   []bo.Option
	}{
		{name: "VRAM", domain: device.DomainVRAM},
		{name: "GTT", domain: device.DomainGTT},
		{
			name:   "GTT without CPU access",
			domain: device.DomainGTT,
			opts:   []bo.Option{bo.WithNoCPUAccess()},
		},
	}

	for _, c := range cases {
		s.Step("allocate in " + c.name)

		b, err := s.Alloc(pageSize, c.domain, true, c.opts...)
		if err != nil {
			return err
		}

		if !b.Encrypted() {
			s.mismatch("encrypted "+c.name, 0, "plain", "encrypted")
		}

		if want := len(c.opts) == 0; b.Mapped() != want {
			s.mismatch("cpu mapping "+c.name, 0,
				fmt.Sprint(b.Mapped()), fmt.Sprint(want))
		}

		s.Step("free in " + c.name)

		if err := s.Free(b); err != nil {
			return err
		}
	}

	return nil
}

func secureCommandSubmission(s *Session) error {
	s.Step("allocate")

	b, err := s.Alloc(lcopySize, device.DomainVRAM, true)
	if err != nil {
		return err
	}

	s.Step("secure write")

	if err := cs.Write(s.Context(), true, b, repeat(Pattern, lcopyWords)...); err != nil {
		return err
	}

	s.Step("readback")

	if err := s.ExpectPattern("ciphertext", b, Pattern, false); err != nil {
		return err
	}

	s.Step("probe")

	return s.Probe("secure probe", b, ProbeValue, Pattern, true)
}

func bufferKind(encrypted bool) string {
	if encrypted {
		return "tmz"
	}

	return "plain"
}

func secureLinearCopy(s *Session) error {
	for _, aliceEnc := range []bool{false, true} {
		for _, bobEnc := range []bool{false, true} {
			for _, secure := range []bool{false, true} {
				err := roundTrip(s, aliceEnc, bobEnc, secure)
				if err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// roundTrip writes the pattern into alice and copies alice to bob,
// both in the given mode. Only a clear write into a plain buffer keeps the
// pattern, and only a clear copy into a plain buffer keeps the bytes.
func roundTrip(s *Session, aliceEnc, bobEnc, secure bool) error {
	mode := 0
	if secure {
		mode = 1
	}
	tag := fmt.Sprintf("[alice %s, bob %s, mode %d]",
		bufferKind(aliceEnc), bufferKind(bobEnc), mode)

	s.Step("allocate " + tag)

	alice, err := s.Alloc(lcopySize, device.DomainVRAM, aliceEnc)
	if err != nil {
		return err
	}

	bob, err := s.Alloc(lcopySize, device.DomainVRAM, bobEnc)
	if err != nil {
		return err
	}

	s.Step("write alice " + tag)

	if err := cs.Write(s.Context(), secure, alice, repeat(Pattern, lcopyWords)...); err != nil {
		return err
	}

	s.Step("copy alice to bob " + tag)

	if err := cs.Copy(s.Context(), secure, alice, bob, lcopySize); err != nil {
		return err
	}

	s.Step("compare " + tag)

	err = s.ExpectPattern("alice holds the pattern "+tag,
		alice, Pattern, !aliceEnc && !secure)
	if err != nil {
		return err
	}

	err = s.ExpectEqual("bob equals alice "+tag, bob, alice, !bobEnc && !secure)
	if err != nil {
		return err
	}

	if aliceEnc && bobEnc && secure {
		s.Step("probe bob " + tag)

		if err := s.Probe("bob probe "+tag, bob, ProbeValue, Pattern, true); err != nil {
			return err
		}
	}

	s.Step("free " + tag)

	if err := s.Free(bob); err != nil {
		return err
	}

	return s.Free(alice)
}

func secureBounce(s *Session) error {
	s.Step("allocate")

	var bufs [4]*bo.BufferObject
	for i, encrypted := range []bool{false, true, true, false} {
		b, err := s.Alloc(bounceSize, device.DomainVRAM, encrypted)
		if err != nil {
			return err
		}
		bufs[i] = b
	}
	alice, bob, charlie, dave := bufs[0], bufs[1], bufs[2], bufs[3]

	s.Step("fill alice")

	if err := alice.Fill(Pattern); err != nil {
		return err
	}

	ctx := s.Context()

	s.Step("secure copy alice to bob")

	if err := cs.Copy(ctx, true, alice, bob, bounceSize); err != nil {
		return err
	}

	s.Step("move bob to GTT")

	if err := placement.Move(ctx, bob, device.DomainGTT); err != nil {
		return err
	}

	s.Step("secure copy bob to charlie")

	if err := cs.Copy(ctx, true, bob, charlie, bounceSize); err != nil {
		return err
	}

	s.Step("move charlie to GTT")

	if err := placement.Move(ctx, charlie, device.DomainGTT); err != nil {
		return err
	}

	s.Step("clear copy charlie to dave")

	if err := cs.Copy(ctx, false, charlie, dave, bounceSize); err != nil {
		return err
	}

	s.Step("check alice")

	if err := s.ExpectWord("alice word 0", alice, 0, Pattern); err != nil {
		return err
	}

	s.Step("probe bob")

	if err := s.Probe("bob probe", bob, ProbeValue, Pattern, true); err != nil {
		return err
	}

	s.Step("probe charlie")

	if err := s.Probe("charlie probe", charlie, ProbeValue, Pattern, true); err != nil {
		return err
	}

	s.Step("probe dave")

	return s.Probe("dave probe", dave, ProbeValue, Pattern, false)
}

func repeat(w uint32, n int) []uint32 {
	words := make([]uint32, n)
	for i := range words {
		words[i] = w
	}

	return words
}
