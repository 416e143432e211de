// Package placement forces buffer objects to migrate between memory domains.
package placement

import (
	"fmt"

	"github.com/sarchlab/securebounce/bo"
	"github.com/sarchlab/securebounce/cs"
	"github.com/sarchlab/securebounce/device"
	"k8s.io/klog/v2"
)

// NopCount is the length of the NOP stream that makes the driver validate,
// and therefore move, the buffer.
const NopCount = 12

// PlacementError is returned when the driver refuses a placement change.
type PlacementError struct {
	Handle device.Handle
	From   device.Domain
	To     device.Domain
	Err    error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("moving buffer %d from %s to %s: %v",
		e.Handle, e.From, e.To, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// Move changes the placement of the buffer and submits a NOP stream that
// references it so the move takes effect. The recorded domain of the buffer is
// updated only on success.
func Move(ctx *cs.Context, b *bo.BufferObject, to device.Domain) error {
	from := b.Domain()

	if b.Freed() {
		return &PlacementError{Handle: b.Handle(), From: from, To: to, Err: bo.ErrFreed}
	}

	drv := ctx.Device().Driver()
	if err := drv.SetPlacement(b.Handle(), to); err != nil {
		return &PlacementError{Handle: b.Handle(), From: from, To: to, Err: err}
	}

	if err := cs.Nop(ctx, NopCount, b); err != nil {
		return err
	}

	b.SetDomain(to)

	klog.V(1).InfoS("Buffer moved", "handle", b.Handle(), "from", from, "to", to)

	return nil
}
