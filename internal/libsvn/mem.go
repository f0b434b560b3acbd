package libsvn

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// fault is a native memory access violation.
type fault string

func (f fault) Error() string { return "libsvn: " + string(f) }

func segv(op string, addr, n uint32) fault {
	return fault(fmt.Sprintf("%s of %d bytes at 0x%x out of bounds", op, n, addr))
}

// mem is a C view of the caller's linear memory. Every accessor faults on a
// bad address instead of returning an error, like a native library would.
type mem struct {
	m api.Memory
}

func memOf(mod api.Module) mem {
	return mem{m: mod.Memory()}
}

func (m mem) u32(addr uint32) uint32 {
	if addr == 0 {
		panic(segv("read", addr, 4))
	}
	v, ok := m.m.ReadUint32Le(addr)
	if !ok {
		panic(segv("read", addr, 4))
	}
	return v
}

func (m mem) i32(addr uint32) int32 { return int32(m.u32(addr)) }

func (m mem) putU32(addr, v uint32) {
	if addr == 0 || !m.m.WriteUint32Le(addr, v) {
		panic(segv("write", addr, 4))
	}
}

func (m mem) putI32(addr uint32, v int32) { m.putU32(addr, uint32(v)) }

func (m mem) putU64(addr uint32, v uint64) {
	if addr == 0 || !m.m.WriteUint64Le(addr, v) {
		panic(segv("write", addr, 8))
	}
}

// bytes copies n bytes out of linear memory.
func (m mem) bytes(addr, n uint32) []byte {
	if n == 0 {
		return []byte{}
	}
	if addr == 0 {
		panic(segv("read", addr, n))
	}
	b, ok := m.m.Read(addr, n)
	if !ok {
		panic(segv("read", addr, n))
	}
	return bytes.Clone(b)
}

func (m mem) put(addr uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	if addr == 0 || !m.m.Write(addr, data) {
		panic(segv("write", addr, uint32(len(data))))
	}
}

func (m mem) zero(addr, n uint32) {
	if n == 0 {
		return
	}
	b, ok := m.m.Read(addr, n)
	if !ok {
		panic(segv("write", addr, n))
	}
	clear(b)
}

// cstr reads a NUL-terminated string.
func (m mem) cstr(addr uint32) string {
	if addr == 0 {
		panic(segv("read", addr, 1))
	}
	var out []byte
	size := m.m.Size()
	for p := addr; ; {
		if p >= size {
			panic(segv("read", addr, p-addr))
		}
		chunk := min(256, size-p)
		b, _ := m.m.Read(p, chunk)
		if i := bytes.IndexByte(b, 0); i >= 0 {
			return string(append(out, b[:i]...))
		}
		out = append(out, b...)
		p += chunk
	}
}

// optCstr reads a string argument that may be NULL.
func (m mem) optCstr(addr uint32) (string, bool) {
	if addr == 0 {
		return "", false
	}
	return m.cstr(addr), true
}

// svn_string_t {const char *data; apr_size_t len;}
func (m mem) svnString(addr uint32) []byte {
	data := m.u32(addr)
	n := m.u32(addr + 4)
	return m.bytes(data, n)
}

func arg(stack []uint64, i int) uint32 { return api.DecodeU32(stack[i]) }

func ret(stack []uint64, v uint32) { stack[0] = api.EncodeU32(v) }
