package simgpu

import (
	"encoding/binary"
	"fmt"
	"log"
	"reflect"

	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sdma"
	"github.com/sarchlab/securebounce/sim"
	"github.com/sarchlab/securebounce/tracing"
)

// Cycles each command occupies the engine.
const (
	nopCycles        = 1
	copySetupCycles  = 8
	copyBytesPerCyc  = 32
	writeSetupCycles = 4
	atomicCycles     = 16
)

// commandEvent runs one command of a submission.
type commandEvent struct {
	*sim.EventBase
	index   int
	attempt int
}

// fenceEvent marks the end of a submission.
type fenceEvent struct {
	*sim.EventBase
}

// spinEvent keeps a hung ring busy forever.
type spinEvent struct {
	*sim.EventBase
}

// An execution interprets the commands of one submission on the engine.
type execution struct {
	d          *Driver
	taskID     string
	engine     device.EngineKind
	secure     bool
	cmds       []sdma.Command
	referenced map[device.Handle]*buffer
	done       bool
}

func (x *execution) engineTime() sim.TimeTeller {
	return x.d.engine
}

func (x *execution) after(cycles uint64) sim.VTimeInSec {
	return x.d.cfg.Freq.NCyclesLater(cycles, x.engineTime().CurrentTime())
}

func (x *execution) start() {
	now := x.engineTime().CurrentTime()

	if len(x.cmds) == 0 {
		x.d.engine.Schedule(&fenceEvent{EventBase: sim.NewEventBase(now, x)})
		return
	}

	x.d.engine.Schedule(&commandEvent{EventBase: sim.NewEventBase(now, x)})
}

func (x *execution) hang() {
	now := x.engineTime().CurrentTime()
	x.d.engine.Schedule(&spinEvent{EventBase: sim.NewEventBase(now, x)})
}

// Handle processes the events of the execution.
func (x *execution) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *commandEvent:
		return x.handleCommand(e)
	case *fenceEvent:
		x.done = true
		return nil
	case *spinEvent:
		next := e.Time() + x.d.cfg.WaitTimeout/16
		x.d.engine.Schedule(&spinEvent{EventBase: sim.NewEventBase(next, x)})
		return nil
	default:
		log.Panicf("cannot handle event of type %s", reflect.TypeOf(e))
	}

	return nil
}

func (x *execution) handleCommand(e *commandEvent) error {
	cmd := x.cmds[e.index]

	cycles, retry, err := x.execute(cmd, e.attempt)
	if err != nil {
		return err
	}

	if retry {
		x.d.engine.Schedule(&commandEvent{
			EventBase: sim.NewEventBase(x.after(cycles), x),
			index:     e.index,
			attempt:   e.attempt + 1,
		})

		return nil
	}

	next := x.after(cycles)
	if e.index+1 == len(x.cmds) {
		x.d.engine.Schedule(&fenceEvent{EventBase: sim.NewEventBase(next, x)})
		return nil
	}

	x.d.engine.Schedule(&commandEvent{
		EventBase: sim.NewEventBase(next, x),
		index:     e.index + 1,
	})

	return nil
}

// execute applies a command. It returns the cycles the command takes and
// whether the command must run again.
func (x *execution) execute(cmd sdma.Command, attempt int) (uint64, bool, error) {
	x.d.stats.Commands++

	switch cmd := cmd.(type) {
	case sdma.NopCmd:
		return nopCycles, false, nil
	case sdma.CopyCmd:
		tracing.AddTaskStep(x.d, x.taskID, "copy")
		return x.copy(cmd)
	case sdma.WriteCmd:
		tracing.AddTaskStep(x.d, x.taskID, "write")
		return x.write(cmd)
	case sdma.AtomicCmd:
		tracing.AddTaskStep(x.d, x.taskID, "atomic")
		return x.atomic(cmd, attempt)
	default:
		log.Panicf("cannot execute command of type %s", reflect.TypeOf(cmd))
	}

	return 0, false, nil
}

func (x *execution) copy(cmd sdma.CopyCmd) (uint64, bool, error) {
	secure := x.secure && cmd.Secure
	n := uint64(cmd.Size)

	src, srcOff, err := x.d.translate(cmd.Src, n, x.referenced)
	if err != nil {
		return 0, false, err
	}

	dst, dstOff, err := x.d.translate(cmd.Dst, n, x.referenced)
	if err != nil {
		return 0, false, err
	}

	data, err := x.d.view(src, srcOff, n, secure)
	if err != nil {
		return 0, false, err
	}

	if err := x.d.store(dst, dstOff, data, secure); err != nil {
		return 0, false, err
	}

	return copySetupCycles + n/copyBytesPerCyc, false, nil
}

func (x *execution) write(cmd sdma.WriteCmd) (uint64, bool, error) {
	secure := x.secure && cmd.Secure
	n := uint64(4 * len(cmd.Data))

	dst, off, err := x.d.translate(cmd.Dst, n, x.referenced)
	if err != nil {
		return 0, false, err
	}

	data := make([]byte, n)
	for i, w := range cmd.Data {
		binary.LittleEndian.PutUint32(data[4*i:], w)
	}

	if err := x.d.store(dst, off, data, secure); err != nil {
		return 0, false, err
	}

	return writeSetupCycles + uint64(len(cmd.Data)), false, nil
}

func (x *execution) atomic(cmd sdma.AtomicCmd, attempt int) (uint64, bool, error) {
	secure := x.secure && cmd.Secure

	dst, off, err := x.d.translate(cmd.Dst, 4, x.referenced)
	if err != nil {
		return 0, false, err
	}

	raw, err := x.d.view(dst, off, 4, secure)
	if err != nil {
		return 0, false, err
	}

	if binary.LittleEndian.Uint32(raw) == cmd.Cmp {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], cmd.Src)

		return atomicCycles, false, x.d.store(dst, off, word[:], secure)
	}

	if cmd.Loop && attempt < x.d.cfg.LoopRetries {
		return uint64(max(cmd.LoopInterval, 1)), true, nil
	}

	return atomicCycles, false, nil
}

func validateCommands(kind device.EngineKind, cmds []sdma.Command) error {
	for i, c := range cmds {
		switch c := c.(type) {
		case sdma.NopCmd:
			continue
		case sdma.AtomicCmd:
			if c.Op != sdma.AtomicCmpSwapRtn32 {
				return fmt.Errorf("command %d: atomic op %d: %w",
					i, c.Op, device.ErrInvalidPacket)
			}
		}

		if kind != device.EngineDMA {
			return fmt.Errorf("command %d: %T on %s engine: %w",
				i, cmds[i], kind, device.ErrInvalidPacket)
		}
	}

	return nil
}
