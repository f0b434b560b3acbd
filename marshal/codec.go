package marshal

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	svnffi "github.com/wippyai/svn-ffi"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/pool"
)

// Codec reads and writes values in the foreign memory of one pool.
type Codec struct {
	Mem svnffi.Memory

	// Pool receives every allocation Write makes and owns the handles Read
	// produces.
	Pool *pool.Pool

	// Allocs, when set, records every allocation Write makes.
	Allocs *AllocationList
}

// NewCodec returns a codec allocating in p.
func NewCodec(p *pool.Pool) *Codec {
	return &Codec{Mem: p.Library().Memory(), Pool: p}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}

// Read interprets the memory at addr per d. Address zero yields nil.
func (c *Codec) Read(addr uint32, d Descriptor) (any, error) {
	if addr == 0 {
		return nil, nil
	}
	switch d.Kind {
	case KindInt8:
		return read(c.Mem.ReadU8, addr, func(v uint8) any { return int8(v) })
	case KindUint8:
		return read(c.Mem.ReadU8, addr, func(v uint8) any { return v })
	case KindInt16:
		return read(c.Mem.ReadU16, addr, func(v uint16) any { return int16(v) })
	case KindUint16:
		return read(c.Mem.ReadU16, addr, func(v uint16) any { return v })
	case KindInt32:
		return read(c.Mem.ReadU32, addr, func(v uint32) any { return int32(v) })
	case KindUint32:
		return read(c.Mem.ReadU32, addr, func(v uint32) any { return v })
	case KindInt64:
		return read(c.Mem.ReadU64, addr, func(v uint64) any { return int64(v) })
	case KindUint64:
		return read(c.Mem.ReadU64, addr, func(v uint64) any { return v })
	case KindBool:
		return read(c.Mem.ReadU32, addr, func(v uint32) any { return v != 0 })
	case KindPointer:
		ptr, err := c.Mem.ReadU32(addr)
		if err != nil || ptr == 0 {
			return nil, err
		}
		return Address(ptr), nil
	case KindString:
		return c.readString(addr, d.Len)
	case KindCountedString:
		data, err := c.Mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		n, err := c.Mem.ReadU32(addr + 4)
		if err != nil {
			return nil, err
		}
		if data == 0 {
			return "", nil
		}
		return c.readString(data, int(n))
	case KindHandle:
		if c.Pool == nil {
			return nil, errors.New(errors.PhaseUnmarshal, errors.KindNilPointer).
				ForeignType(d.Name).
				Detail("handle read without an owning pool").
				Build()
		}
		h := c.Pool.Handle(addr)
		if d.Wrap == nil {
			return h, nil
		}
		return d.Wrap(h), nil
	case KindChain:
		return c.readChain(addr, d)
	default:
		return nil, errors.Unsupported(errors.PhaseUnmarshal, "descriptor kind "+d.Kind.String())
	}
}

func read[T any](get func(uint32) (T, error), addr uint32, conv func(T) any) (any, error) {
	v, err := get(addr)
	if err != nil {
		return nil, err
	}
	return conv(v), nil
}

func (c *Codec) readChain(addr uint32, d Descriptor) (any, error) {
	if len(d.Chain) == 0 {
		return nil, errors.InvalidData(errors.PhaseUnmarshal, nil, "empty descriptor chain")
	}
	last := len(d.Chain) - 1
	for range d.Chain[:last] {
		ptr, err := c.Mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return nil, nil
		}
		addr = ptr
	}
	return c.Read(addr, d.Chain[last])
}

func (c *Codec) readString(addr uint32, n int) (string, error) {
	if n == NativeLength {
		return c.readCString(addr)
	}
	if n < 0 {
		return "", errors.InvalidData(errors.PhaseUnmarshal, nil, fmt.Sprintf("string length %d", n))
	}
	b, err := c.Mem.Read(addr, uint32(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readCString reads up to the NUL terminator.
func (c *Codec) readCString(addr uint32) (string, error) {
	sizer, ok := c.Mem.(svnffi.MemorySizer)
	if !ok {
		var out []byte
		for p := addr; ; p++ {
			b, err := c.Mem.ReadU8(p)
			if err != nil {
				return "", err
			}
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
		}
	}

	var out []byte
	size := sizer.Size()
	for p := addr; ; {
		if p >= size {
			return "", errors.MemoryFault(errors.PhaseUnmarshal, addr, p-addr)
		}
		chunk, err := c.Mem.Read(p, min(256, size-p))
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk...)
		p += uint32(len(chunk))
	}
}

// Write stores v per d and returns an address for a foreign argument.
// Addressers pass through unchanged and nil becomes NULL.
func (c *Codec) Write(ctx context.Context, v any, d Descriptor) (uint32, error) {
	if v == nil {
		return 0, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return 0, nil
	}
	if a, ok := v.(svnffi.Addresser); ok {
		return a.Addr()
	}

	switch d.Kind {
	case KindInt8, KindUint8, KindInt16, KindUint16, KindInt32, KindUint32, KindInt64, KindUint64:
		bits, err := integer(v, d)
		if err != nil {
			return 0, err
		}
		return c.writeScalar(ctx, bits, d.Size())
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return 0, errors.TypeMismatch(errors.PhaseMarshal, nil, typeName(v), d.Name)
		}
		var bits uint64
		if b {
			bits = 1
		}
		return c.writeScalar(ctx, bits, 4)
	case KindPointer:
		ptr, ok := v.(uint32)
		if !ok {
			return 0, errors.TypeMismatch(errors.PhaseMarshal, nil, typeName(v), d.Name)
		}
		return c.writeScalar(ctx, uint64(ptr), pointerSize)
	case KindString:
		data, ok := byteString(v)
		if !ok {
			return 0, errors.TypeMismatch(errors.PhaseMarshal, nil, typeName(v), d.Name)
		}
		return c.writeChars(ctx, data)
	case KindCountedString:
		data, ok := byteString(v)
		if !ok {
			return 0, errors.TypeMismatch(errors.PhaseMarshal, nil, typeName(v), d.Name)
		}
		return c.writeCounted(ctx, data)
	case KindHandle:
		return 0, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
			GoType(typeName(v)).
			ForeignType(d.Name).
			Detail("handles are written by address").
			Build()
	case KindChain:
		return c.writeChain(ctx, v, d)
	default:
		return 0, errors.Unsupported(errors.PhaseMarshal, "descriptor kind "+d.Kind.String())
	}
}

func byteString(v any) ([]byte, bool) {
	switch s := v.(type) {
	case string:
		return []byte(s), true
	case []byte:
		return s, true
	}
	return nil, false
}

// integer converts any Go integer to the bit pattern of d, checking range.
func integer(v any, d Descriptor) (uint64, error) {
	bits := d.Size() * 8
	signed := d.Kind == KindInt8 || d.Kind == KindInt16 || d.Kind == KindInt32 || d.Kind == KindInt64
	rv := reflect.ValueOf(v)

	switch {
	case rv.CanInt():
		n := rv.Int()
		if signed {
			lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
			if n < lo || n > hi {
				return 0, errors.Overflow(errors.PhaseMarshal, nil, v, d.Name)
			}
		} else if n < 0 || (bits < 64 && uint64(n) > uint64(1)<<bits-1) {
			return 0, errors.Overflow(errors.PhaseMarshal, nil, v, d.Name)
		}
		return uint64(n), nil
	case rv.CanUint():
		n := rv.Uint()
		if signed && n > uint64(1)<<(bits-1)-1 {
			return 0, errors.Overflow(errors.PhaseMarshal, nil, v, d.Name)
		}
		if !signed && bits < 64 && n > uint64(1)<<bits-1 {
			return 0, errors.Overflow(errors.PhaseMarshal, nil, v, d.Name)
		}
		return n, nil
	}
	return 0, errors.TypeMismatch(errors.PhaseMarshal, nil, typeName(v), d.Name)
}

func (c *Codec) alloc(ctx context.Context, size, align uint32) (uint32, error) {
	if c.Pool == nil {
		return 0, errors.New(errors.PhaseMarshal, errors.KindAllocation).
			Detail("codec has no pool").
			Build()
	}
	addr, err := c.Pool.Alloc(ctx, size, align)
	if err != nil {
		return 0, err
	}
	if c.Allocs != nil {
		c.Allocs.Add(c.Pool.Handle(addr), size, align)
	}
	return addr, nil
}

func (c *Codec) writeScalar(ctx context.Context, bits uint64, size uint32) (uint32, error) {
	addr, err := c.alloc(ctx, size, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		err = c.Mem.WriteU8(addr, uint8(bits))
	case 2:
		err = c.Mem.WriteU16(addr, uint16(bits))
	case 4:
		err = c.Mem.WriteU32(addr, uint32(bits))
	default:
		err = c.Mem.WriteU64(addr, bits)
	}
	return addr, err
}

// writeChars stores NUL-terminated char data.
func (c *Codec) writeChars(ctx context.Context, data []byte) (uint32, error) {
	if uint64(len(data)) >= 1<<32-1 {
		return 0, errors.Overflow(errors.PhaseMarshal, nil, len(data), "apr_size_t")
	}
	addr, err := c.alloc(ctx, uint32(len(data))+1, 1)
	if err != nil {
		return 0, err
	}
	// pool memory is zeroed, so the terminator is already there
	if err := c.Mem.Write(addr, data); err != nil {
		return 0, err
	}
	return addr, nil
}

// writeCounted stores an svn_string_t {data, len} and its data.
func (c *Codec) writeCounted(ctx context.Context, data []byte) (uint32, error) {
	chars, err := c.writeChars(ctx, data)
	if err != nil {
		return 0, err
	}
	addr, err := c.alloc(ctx, 8, pointerSize)
	if err != nil {
		return 0, err
	}
	if err := c.Mem.WriteU32(addr, chars); err != nil {
		return 0, err
	}
	if err := c.Mem.WriteU32(addr+4, uint32(len(data))); err != nil {
		return 0, err
	}
	return addr, nil
}

func (c *Codec) writeChain(ctx context.Context, v any, d Descriptor) (uint32, error) {
	if len(d.Chain) == 0 {
		return 0, errors.InvalidData(errors.PhaseMarshal, nil, "empty descriptor chain")
	}
	last := len(d.Chain) - 1
	addr, err := c.Write(ctx, v, d.Chain[last])
	if err != nil {
		return 0, err
	}
	for range d.Chain[:last] {
		slot, err := c.writeScalar(ctx, uint64(addr), pointerSize)
		if err != nil {
			return 0, err
		}
		addr = slot
	}
	return addr, nil
}

// Scalar reports whether d travels by value in a foreign argument or return
// slot rather than by address.
func (d Descriptor) Scalar() bool {
	switch d.Kind {
	case KindInt8, KindUint8, KindInt16, KindUint16, KindInt32, KindUint32, KindInt64, KindUint64,
		KindBool, KindPointer:
		return true
	}
	return false
}

// Encode returns the argument slot value for v. Scalars travel by value;
// everything else is written with Write and travels by address.
func (c *Codec) Encode(ctx context.Context, v any, d Descriptor) (uint64, error) {
	if !d.Scalar() {
		addr, err := c.Write(ctx, v, d)
		return uint64(addr), err
	}
	switch x := v.(type) {
	case nil:
		return 0, nil
	case svnffi.Addresser:
		addr, err := x.Addr()
		return uint64(addr), err
	case bool:
		if d.Kind != KindBool {
			return 0, errors.TypeMismatch(errors.PhaseMarshal, nil, "bool", d.Name)
		}
		if x {
			return 1, nil
		}
		return 0, nil
	}
	if d.Kind == KindBool {
		return 0, errors.TypeMismatch(errors.PhaseMarshal, nil, typeName(v), d.Name)
	}
	if d.Kind == KindPointer {
		d = Uint32
	}
	return integer(v, d)
}

// Decode interprets a foreign return value. Scalars are converted from the
// raw bits; any other descriptor treats bits as an address and reads it, so
// a NULL return is absent.
func (c *Codec) Decode(bits uint64, d Descriptor) (any, error) {
	switch d.Kind {
	case KindInt8:
		return int8(bits), nil
	case KindUint8:
		return uint8(bits), nil
	case KindInt16:
		return int16(bits), nil
	case KindUint16:
		return uint16(bits), nil
	case KindInt32:
		return int32(bits), nil
	case KindUint32:
		return uint32(bits), nil
	case KindInt64:
		return int64(bits), nil
	case KindUint64:
		return bits, nil
	case KindBool:
		return uint32(bits) != 0, nil
	case KindPointer:
		if uint32(bits) == 0 {
			return nil, nil
		}
		return Address(uint32(bits)), nil
	}
	return c.Read(uint32(bits), d)
}

// As converts a value produced by Read to T. An absent value yields the zero
// T and false. Char data converts to []byte and an Address to uint32, so
// both round-trip through the types Write accepts.
func As[T any](v any) (T, bool, error) {
	var zero T
	if v == nil {
		return zero, false, nil
	}
	if t, ok := v.(T); ok {
		return t, true, nil
	}
	var conv any
	switch x := v.(type) {
	case string:
		conv = []byte(x)
	case Address:
		conv = uint32(x)
	}
	if t, ok := conv.(T); ok {
		return t, true, nil
	}
	return zero, false, errors.TypeMismatch(errors.PhaseUnmarshal, nil, typeName(v), reflect.TypeFor[T]().String())
}
