package simgpu

import (
	"sync"

	"github.com/sarchlab/securebounce/device"
)

const (
	log2PageSize = 12
	pageSize     = 1 << log2PageSize
)

// A page is an entry in the GPU page table, maintaining the information about
// how to translate a virtual address to a physical address.
type page struct {
	VAddr  uint64
	PAddr  uint64
	Domain device.Domain
	Handle device.Handle
}

// pageTable holds the GPU virtual memory mappings of the device.
type pageTable struct {
	sync.Mutex
	entries map[uint64]page
}

func newPageTable() *pageTable {
	return &pageTable{
		entries: make(map[uint64]page),
	}
}

func alignToPage(addr uint64) uint64 {
	return (addr >> log2PageSize) << log2PageSize
}

// insert puts a new page into the table.
func (pt *pageTable) insert(p page) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustNotExist(p.VAddr)
	pt.entries[p.VAddr] = p
}

// remove removes the page that starts at vAddr.
func (pt *pageTable) remove(vAddr uint64) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vAddr)
	delete(pt.entries, vAddr)
}

// find returns the page that contains the given virtual address.
func (pt *pageTable) find(vAddr uint64) (page, bool) {
	pt.Lock()
	defer pt.Unlock()

	p, found := pt.entries[alignToPage(vAddr)]

	return p, found
}

// update changes the fields of an existing page. VAddr locates the page.
func (pt *pageTable) update(p page) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(p.VAddr)
	pt.entries[p.VAddr] = p
}

func (pt *pageTable) numPages() int {
	pt.Lock()
	defer pt.Unlock()

	return len(pt.entries)
}

func (pt *pageTable) pageMustExist(vAddr uint64) {
	if _, found := pt.entries[vAddr]; !found {
		panic("page does not exist")
	}
}

func (pt *pageTable) pageMustNotExist(vAddr uint64) {
	if _, found := pt.entries[vAddr]; found {
		panic("page exist")
	}
}
