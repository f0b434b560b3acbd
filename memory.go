package svnffi

import "context"

// Memory is the foreign address space shared with the native library.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of foreign memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator hands out zeroed foreign memory. Allocations are released in bulk
// by whoever owns the allocator, never individually.
type Allocator interface {
	Alloc(ctx context.Context, size, align uint32) (uint32, error)
}

// Addresser is anything that already lives in foreign memory.
type Addresser interface {
	Addr() (uint32, error)
}
