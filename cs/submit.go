package cs

import (
	"fmt"
	"sync"

	"github.com/sarchlab/securebounce/bo"
	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sdma"
	"github.com/sarchlab/securebounce/sim"
	"k8s.io/klog/v2"
)

// HookPosSubmitStart is triggered before a request is handed to the driver.
var HookPosSubmitStart = &sim.HookPos{Name: "SubmitStart"}

// HookPosSubmitEnd is triggered after the driver returns. The hook detail is
// the submission error, if any.
var HookPosSubmitEnd = &sim.HookPos{Name: "SubmitEnd"}

// A Request is a single-use command submission.
type Request struct {
	ID      string
	Words   sdma.Packet
	Buffers []*bo.BufferObject
	Secure  bool

	lock      sync.Mutex
	submitted bool
}

// NewRequest creates a request that references the given buffers.
func NewRequest(words sdma.Packet, secure bool, buffers ...*bo.BufferObject) *Request {
	return &Request{
		ID:      sim.GetIDGenerator().Generate(),
		Words:   words,
		Buffers: buffers,
		Secure:  secure,
	}
}

func (r *Request) claim() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.submitted {
		return fmt.Errorf("request %s: %w", r.ID, ErrReused)
	}
	r.submitted = true

	return nil
}

// Submit executes a request on the context ring and waits for it.
func Submit(ctx *Context, req *Request) error {
	if ctx.isReleased() {
		return fmt.Errorf("submit request %s: %w", req.ID, ErrReleased)
	}

	if err := req.claim(); err != nil {
		return err
	}

	handles := make([]device.Handle, 0, len(req.Buffers))
	for _, b := range req.Buffers {
		if b.Freed() {
			return fmt.Errorf("submit request %s: buffer %d: %w",
				req.ID, b.Handle(), bo.ErrFreed)
		}
		handles = append(handles, b.Handle())
	}

	hookCtx := sim.HookCtx{
		Domain: ctx,
		Pos:    HookPosSubmitStart,
		Item:   req,
	}
	ctx.InvokeHook(hookCtx)

	err := ctx.dev.Driver().Submit(ctx.handle, device.Submission{
		Engine:  ctx.kind,
		Ring:    ctx.ring,
		Words:   req.Words,
		Handles: handles,
		Secure:  req.Secure,
	})
	if err != nil {
		err = &SubmissionError{
			Kind: Classify(err),
			Ring: ctx.ring,
			Err:  err,
		}
	}

	hookCtx.Pos = HookPosSubmitEnd
	hookCtx.Detail = err
	ctx.InvokeHook(hookCtx)

	if klog.V(2).Enabled() {
		klog.InfoS("Submitted", "request", req.ID, "ring", ctx.ring,
			"words", len(req.Words), "secure", req.Secure, "err", err)
	}

	return err
}

// Copy copies size bytes from the start of src to the start of dst.
func Copy(ctx *Context, secure bool, src, dst *bo.BufferObject, size uint32) error {
	p, err := sdma.LinearCopy(secure, size, src.GPUAddress(), dst.GPUAddress())
	if err != nil {
		return err
	}

	return Submit(ctx, NewRequest(p, secure, src, dst))
}

// Write stores words at the start of dst.
func Write(ctx *Context, secure bool, dst *bo.BufferObject, words ...uint32) error {
	p, err := sdma.LinearWrite(secure, dst.GPUAddress(), uint32(len(words)), words...)
	if err != nil {
		return err
	}

	return Submit(ctx, NewRequest(p, secure, dst))
}

// CompareSwap runs an atomic compare and swap on the word at offset bytes
// into dst.
func CompareSwap(
	ctx *Context,
	secure bool,
	dst *bo.BufferObject,
	offset uint64,
	newValue, cmpValue uint32,
) error {
	p := sdma.AtomicCompareSwap(secure, dst.Addr(offset), newValue, cmpValue)

	return Submit(ctx, NewRequest(p, secure, dst))
}

// Nop submits count NOP words referencing the given buffers.
func Nop(ctx *Context, count int, buffers ...*bo.BufferObject) error {
	return Submit(ctx, NewRequest(sdma.Nop(count), false, buffers...))
}
