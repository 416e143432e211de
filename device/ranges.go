package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrOutOfSpace is returned when a RangeAllocator cannot satisfy a request.
var ErrOutOfSpace = errors.New("address range exhausted")

type extent struct {
	start, size uint64
}

// RangeAllocator hands out aligned, non-overlapping ranges from an address
// window. Drivers use it for GPU virtual addresses and for physical pools.
type RangeAllocator struct {
	lock sync.Mutex
	base uint64
	size uint64
	free []extent
	used map[uint64]uint64
}

// NewRangeAllocator creates an allocator over [base, base+size).
func NewRangeAllocator(base, size uint64) *RangeAllocator {
	return &RangeAllocator{
		base: base,
		size: size,
		free: []extent{{start: base, size: size}},
		used: make(map[uint64]uint64),
	}
}

// Alloc reserves size bytes aligned to alignment, which must be a power of
// two. The first fitting hole wins.
func (a *RangeAllocator) Alloc(size, alignment uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("alloc of zero bytes")
	}

	if alignment == 0 {
		alignment = 1
	}

	if alignment&(alignment-1) != 0 {
		return 0, fmt.Errorf("alignment %d is not a power of two", alignment)
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	for i, e := range a.free {
		start := (e.start + alignment - 1) &^ (alignment - 1)
		if start < e.start || start-e.start+size > e.size {
			continue
		}

		a.carve(i, start, size)
		a.used[start] = size

		return start, nil
	}

	return 0, fmt.Errorf("%d bytes: %w", size, ErrOutOfSpace)
}

func (a *RangeAllocator) carve(i int, start, size uint64) {
	e := a.free[i]

	var pieces []extent
	if start > e.start {
		pieces = append(pieces, extent{start: e.start, size: start - e.start})
	}

	end := start + size
	if tail := e.start + e.size - end; tail > 0 {
		pieces = append(pieces, extent{start: end, size: tail})
	}

	a.free = append(a.free[:i], append(pieces, a.free[i+1:]...)...)
}

// Release returns a range obtained from Alloc.
func (a *RangeAllocator) Release(start uint64) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	size, ok := a.used[start]
	if !ok {
		return fmt.Errorf("release of unknown range 0x%x: %w",
			start, ErrNotFound)
	}
	delete(a.used, start)

	a.free = append(a.free, extent{start: start, size: size})
	sort.Slice(a.free, func(i, j int) bool {
		return a.free[i].start < a.free[j].start
	})

	merged := a.free[:1]
	for _, e := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.start+last.size == e.start {
			last.size += e.size
			continue
		}
		merged = append(merged, e)
	}
	a.free = merged

	return nil
}

// InUse returns the number of live ranges.
func (a *RangeAllocator) InUse() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	return len(a.used)
}

// Base returns the first address managed by the allocator.
func (a *RangeAllocator) Base() uint64 {
	return a.base
}

// Contains reports whether addr falls inside the managed window.
func (a *RangeAllocator) Contains(addr uint64) bool {
	return addr >= a.base && addr-a.base < a.size
}
