package simgpu

import "fmt"

// A storage keeps the bytes of a physical memory pool.
//
// The storage manages the memory in units, similar to pages. For the units
// that are not touched by read and write, no memory is allocated.
type storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

func newStorage(capacity uint64) *storage {
	return &storage{
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

func (s *storage) createOrGetStorageUnit(address uint64) ([]byte, error) {
	if address >= s.capacity {
		return nil, fmt.Errorf("address 0x%x beyond storage capacity 0x%x",
			address, s.capacity)
	}

	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit, nil
}

func (s *storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

func (s *storage) read(address uint64, length uint64) ([]byte, error) {
	res := make([]byte, length)

	for done := uint64(0); done < length; {
		currAddr := address + done

		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return nil, err
		}

		_, inUnitAddr := s.parseAddress(currAddr)
		n := min(length-done, s.unitSize-inUnitAddr)

		copy(res[done:done+n], unit[inUnitAddr:inUnitAddr+n])
		done += n
	}

	return res, nil
}

func (s *storage) write(address uint64, data []byte) error {
	length := uint64(len(data))

	for done := uint64(0); done < length; {
		currAddr := address + done

		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return err
		}

		_, inUnitAddr := s.parseAddress(currAddr)
		n := min(length-done, s.unitSize-inUnitAddr)

		copy(unit[inUnitAddr:inUnitAddr+n], data[done:done+n])
		done += n
	}

	return nil
}

// release drops the units that hold [address, address+length). The range
// must be unit aligned.
func (s *storage) release(address, length uint64) {
	for a := address; a < address+length; a += s.unitSize {
		delete(s.data, a)
	}
}

func (s *storage) unitsInUse() int {
	return len(s.data)
}
