package marshal

import (
	"sync"

	"github.com/wippyai/svn-ffi/pool"
)

// Allocation is one block written for a foreign call.
type Allocation struct {
	Handle pool.Handle
	Size   uint32
	Align  uint32
}

// AllocationList records the blocks written for one call. Pool memory is
// released in bulk, so the list never frees; it lets the caller check that
// every block is still alive before handing addresses to native code.
type AllocationList struct {
	allocations []Allocation
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &AllocationList{allocations: make([]Allocation, 0, 8)}
	},
}

func NewAllocationList() *AllocationList {
	return allocationListPool.Get().(*AllocationList)
}

const maxPooledAllocationCapacity = 128

// Release returns the list for reuse. The list is invalid afterwards.
func (al *AllocationList) Release() {
	if cap(al.allocations) > maxPooledAllocationCapacity {
		return
	}
	al.Reset()
	allocationListPool.Put(al)
}

func (al *AllocationList) Add(h pool.Handle, size, align uint32) {
	al.allocations = append(al.allocations, Allocation{
		Handle: h,
		Size:   size,
		Align:  align,
	})
}

// Check returns an error if any recorded block's pool was destroyed or
// cleared since it was written.
func (al *AllocationList) Check() error {
	for _, a := range al.allocations {
		if _, err := a.Handle.Addr(); err != nil {
			return err
		}
	}
	return nil
}

// Bytes is the total size of recorded blocks.
func (al *AllocationList) Bytes() uint64 {
	var n uint64
	for _, a := range al.allocations {
		n += uint64(a.Size)
	}
	return n
}

func (al *AllocationList) Reset() {
	clear(al.allocations)
	al.allocations = al.allocations[:0]
}

func (al *AllocationList) Count() int {
	return len(al.allocations)
}
