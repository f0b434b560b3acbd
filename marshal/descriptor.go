package marshal

import "github.com/wippyai/svn-ffi/pool"

// Kind identifies the representation a Descriptor reads and writes.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindBool
	KindPointer
	KindString
	KindCountedString
	KindHandle
	KindChain
)

var kindNames = [...]string{
	KindInvalid:       "invalid",
	KindInt8:          "int8",
	KindUint8:         "uint8",
	KindInt16:         "int16",
	KindUint16:        "uint16",
	KindInt32:         "int32",
	KindUint32:        "uint32",
	KindInt64:         "int64",
	KindUint64:        "uint64",
	KindBool:          "bool",
	KindPointer:       "pointer",
	KindString:        "string",
	KindCountedString: "counted_string",
	KindHandle:        "handle",
	KindChain:         "chain",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// NativeLength as a string length means "up to the NUL terminator".
const NativeLength = -1

// pointerSize is the width of a foreign pointer, size_t and long.
const pointerSize = 4

// Descriptor describes how a value is laid out in foreign memory.
type Descriptor struct {
	// Wrap builds the Go value for a Handle descriptor. Nil yields the
	// pool.Handle itself.
	Wrap func(h pool.Handle) any

	// Name is the foreign type, used in error messages.
	Name string

	// Chain holds the steps of a Chain descriptor.
	Chain []Descriptor

	// Len is the byte length of a String descriptor, or NativeLength.
	Len int

	Kind Kind
}

// Primitive descriptors, named by foreign type where the ABI fixes the width.
var (
	Int8     = Descriptor{Kind: KindInt8, Name: "int8_t"}
	Uint8    = Descriptor{Kind: KindUint8, Name: "uint8_t"}
	Int16    = Descriptor{Kind: KindInt16, Name: "int16_t"}
	Uint16   = Descriptor{Kind: KindUint16, Name: "uint16_t"}
	Int32    = Descriptor{Kind: KindInt32, Name: "int32_t"}
	Uint32   = Descriptor{Kind: KindUint32, Name: "uint32_t"}
	Int64    = Descriptor{Kind: KindInt64, Name: "int64_t"}
	Uint64   = Descriptor{Kind: KindUint64, Name: "uint64_t"}
	Int      = Descriptor{Kind: KindInt32, Name: "int"}
	Long     = Descriptor{Kind: KindInt32, Name: "long"}
	Size     = Descriptor{Kind: KindUint32, Name: "apr_size_t"}
	Revnum   = Descriptor{Kind: KindInt32, Name: "svn_revnum_t"}
	Filesize = Descriptor{Kind: KindInt64, Name: "svn_filesize_t"}
	Bool     = Descriptor{Kind: KindBool, Name: "svn_boolean_t"}

	// Pointer reads as Address; NULL is absent.
	Pointer = Descriptor{Kind: KindPointer, Name: "void *"}

	// String is NUL-terminated char data.
	String = Descriptor{Kind: KindString, Name: "char *", Len: NativeLength}

	// CountedString is an svn_string_t.
	CountedString = Descriptor{Kind: KindCountedString, Name: "svn_string_t *"}
)

// Handle describes an opaque foreign object. Reading wraps the address with
// wrap; writing passes an Addresser through.
func Handle(name string, wrap func(h pool.Handle) any) Descriptor {
	return Descriptor{Kind: KindHandle, Name: name, Wrap: wrap}
}

// Chain describes a value reached through len(steps)-1 pointers.
func Chain(steps ...Descriptor) Descriptor {
	name := "chain"
	if len(steps) > 0 {
		name = steps[len(steps)-1].Name
		for range steps[:len(steps)-1] {
			name += "*"
		}
	}
	return Descriptor{Kind: KindChain, Name: name, Chain: steps}
}

// Ref describes a pointer to d, the usual out-parameter shape.
func Ref(d Descriptor) Descriptor {
	return Chain(Pointer, d)
}

// WithLen returns a String descriptor reading exactly n bytes.
func (d Descriptor) WithLen(n int) Descriptor {
	d.Len = n
	return d
}

// Size is the number of bytes the value occupies where it is stored. Strings,
// handles and chains are stored as pointers.
func (d Descriptor) Size() uint32 {
	switch d.Kind {
	case KindInt8, KindUint8:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt64, KindUint64:
		return 8
	case KindInvalid:
		return 0
	default:
		return pointerSize
	}
}

// Fixed reports whether values of d have a width known without looking at
// them.
func (d Descriptor) Fixed() bool {
	switch d.Kind {
	case KindInt8, KindUint8, KindInt16, KindUint16, KindInt32, KindUint32,
		KindInt64, KindUint64, KindBool, KindPointer:
		return true
	}
	return false
}

func (d Descriptor) String() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Kind.String()
}

// Address is a raw foreign address. It passes through Write unchanged.
type Address uint32

// Addr implements svnffi.Addresser.
func (a Address) Addr() (uint32, error) {
	return uint32(a), nil
}
