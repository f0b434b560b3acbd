package libsvn

import (
	"sort"

	"github.com/tetratelabs/wazero/api"
)

const (
	heapBase  = 1024
	blockSize = 8192
	pageSize  = 65536
	align     = 8
)

type span struct {
	start, size uint32
}

// heap carves linear memory into blocks for pools. Freed blocks go back on a
// first-fit free list and are coalesced with their neighbours.
type heap struct {
	top  uint32
	free []span
}

func alignUp(n uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// alloc returns a block of at least size bytes, growing memory as needed.
func (h *heap) alloc(m api.Memory, size uint64) (span, bool) {
	if h.top == 0 {
		h.top = heapBase
	}
	size = alignUp(size)
	if size == 0 || size > 1<<32-pageSize {
		return span{}, false
	}
	n := uint32(size)

	for i, s := range h.free {
		if s.size < n {
			continue
		}
		got := span{start: s.start, size: n}
		if s.size == n {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = span{start: s.start + n, size: s.size - n}
		}
		return got, true
	}

	end := uint64(h.top) + size
	if cur := uint64(m.Size()); end > cur {
		pages := (end - cur + pageSize - 1) / pageSize
		if pages > 1<<16 {
			return span{}, false
		}
		if _, ok := m.Grow(uint32(pages)); !ok {
			return span{}, false
		}
	}
	got := span{start: h.top, size: n}
	h.top = uint32(end)
	return got, true
}

func (h *heap) release(s span) {
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].start > s.start })
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = s

	// merge with the following span, then the preceding one
	if i+1 < len(h.free) && h.free[i].start+h.free[i].size == h.free[i+1].start {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].start+h.free[i-1].size == h.free[i].start {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
	if last := len(h.free) - 1; last >= 0 && h.free[last].start+h.free[last].size == h.top {
		h.top = h.free[last].start
		h.free = h.free[:last]
	}
}
