package simgpu

import (
	"fmt"
	"sort"
)

// BufferState describes one live buffer.
type BufferState struct {
	Handle    uint32
	Size      uint64
	Domain    string
	Pending   string
	Encrypted bool
	VA        string
	PA        string
}

// State is a snapshot of the GPU for inspection.
type State struct {
	Name         string
	Time         float64
	Stats        Stats
	Pages        int
	StorageUnits int
	Buffers      []BufferState
}

// State takes a snapshot of the GPU.
func (d *Driver) State() State {
	d.lock.Lock()
	defer d.lock.Unlock()

	s := State{
		Name:  d.name,
		Time:  float64(d.engine.CurrentTime()),
		Stats: d.stats,
		Pages: d.pageTable.numPages(),
	}
	s.Stats.LiveBuffers = len(d.buffers)
	s.Stats.LiveContexts = len(d.contexts)

	for _, p := range d.pools {
		s.StorageUnits += p.storage.unitsInUse()
	}

	for _, b := range d.buffers {
		bs := BufferState{
			Handle:    uint32(b.handle),
			Size:      b.size,
			Domain:    b.domain.String(),
			Encrypted: b.encrypted(),
			PA:        fmt.Sprintf("0x%x", b.pa),
		}

		if b.gpuMapped {
			bs.VA = fmt.Sprintf("0x%x", b.va)
		}

		if b.pending != nil {
			bs.Pending = b.pending.String()
		}

		s.Buffers = append(s.Buffers, bs)
	}

	sort.Slice(s.Buffers, func(i, j int) bool {
		return s.Buffers[i].Handle < s.Buffers[j].Handle
	})

	return s
}
