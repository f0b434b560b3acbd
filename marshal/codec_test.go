package marshal

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/internal/testenv"
	"github.com/wippyai/svn-ffi/pool"
)

func TestMain(m *testing.M) {
	testenv.Main(m)
}

func newCodec(t *testing.T) *Codec {
	t.Helper()
	return NewCodec(testenv.Pool(t))
}

var allDescriptors = []Descriptor{
	Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64,
	Int, Long, Size, Revnum, Filesize, Bool, Pointer, String, CountedString,
	Handle("svn_repos_t", nil),
	Ref(String),
	Chain(Pointer, Pointer, Int32),
}

func TestRead_NullIsAbsent(t *testing.T) {
	c := newCodec(t)
	for _, d := range allDescriptors {
		t.Run(d.String(), func(t *testing.T) {
			v, err := c.Read(0, d)
			if err != nil {
				t.Fatalf("Read(0) failed: %v", err)
			}
			if v != nil {
				t.Fatalf("Read(0) = %#v, want nil", v)
			}
		})
	}
}

func TestRead_PresentZero(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	tests := []struct {
		d    Descriptor
		zero any
	}{
		{Int8, int8(0)},
		{Uint16, uint16(0)},
		{Int32, int32(0)},
		{Uint64, uint64(0)},
		{Bool, false},
		{String, ""},
		{CountedString, ""},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			addr, err := c.Write(ctx, tt.zero, tt.d)
			if err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := c.Read(addr, tt.d)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if got == nil {
				t.Fatal("present zero must not read as absent")
			}
			if got != tt.zero {
				t.Errorf("Read = %#v, want %#v", got, tt.zero)
			}
		})
	}
}

func roundTrip(t *rapid.T, c *Codec, v any, d Descriptor) any {
	addr, err := c.Write(context.Background(), v, d)
	if err != nil {
		t.Fatalf("Write(%v, %s) failed: %v", v, d, err)
	}
	got, err := c.Read(addr, d)
	if err != nil {
		t.Fatalf("Read(%s) failed: %v", d, err)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	c := newCodec(t)

	rapid.Check(t, func(t *rapid.T) {
		checks := []struct {
			d Descriptor
			v any
		}{
			{Int8, rapid.Int8().Draw(t, "int8")},
			{Uint8, rapid.Uint8().Draw(t, "uint8")},
			{Int16, rapid.Int16().Draw(t, "int16")},
			{Uint16, rapid.Uint16().Draw(t, "uint16")},
			{Int32, rapid.Int32().Draw(t, "int32")},
			{Uint32, rapid.Uint32().Draw(t, "uint32")},
			{Int64, rapid.Int64().Draw(t, "int64")},
			{Uint64, rapid.Uint64().Draw(t, "uint64")},
			{Bool, rapid.Bool().Draw(t, "bool")},
			{String, string(rapid.SliceOf(rapid.ByteRange(1, 255)).Draw(t, "cstring"))},
			{CountedString, string(rapid.SliceOf(rapid.Byte()).Draw(t, "counted"))},
		}
		for _, ck := range checks {
			if got := roundTrip(t, c, ck.v, ck.d); got != ck.v {
				t.Fatalf("%s: round trip %#v -> %#v", ck.d, ck.v, got)
			}
		}
	})
}

func TestWrite_ConvertsIntegers(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	tests := []struct {
		name string
		v    any
		d    Descriptor
		want any
	}{
		{"int to int32", 42, Int32, int32(42)},
		{"int to uint8", 255, Uint8, uint8(255)},
		{"uint to int64", uint(7), Int64, int64(7)},
		{"negative int64 to int16", int64(-300), Int16, int16(-300)},
		{"int to long", -1, Long, int32(-1)},
		{"uint64 max", uint64(1<<64 - 1), Uint64, uint64(1<<64 - 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := c.Write(ctx, tt.v, tt.d)
			if err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := c.Read(addr, tt.d)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestWrite_Misuse(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	tests := []struct {
		name string
		v    any
		d    Descriptor
		kind errors.Kind
	}{
		{"uint8 overflow", 256, Uint8, errors.KindOverflow},
		{"int8 underflow", -129, Int8, errors.KindOverflow},
		{"negative to unsigned", -1, Uint32, errors.KindOverflow},
		{"uint64 into int64", uint64(1 << 63), Int64, errors.KindOverflow},
		{"string as int", "12", Int32, errors.KindTypeMismatch},
		{"int as bool", 1, Bool, errors.KindTypeMismatch},
		{"int as string", 5, String, errors.KindTypeMismatch},
		{"string as handle", "x", Handle("svn_fs_t", nil), errors.KindTypeMismatch},
		{"empty chain", 1, Chain(), errors.KindInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Write(ctx, tt.v, tt.d)
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: tt.kind}) {
				t.Fatalf("expected marshal/%s, got %v", tt.kind, err)
			}
		})
	}
}

func TestString_WithLen(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	addr, err := c.Write(ctx, "hello, world", String)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(addr, String.WithLen(5))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	got, _ = c.Read(addr, String)
	if got != "hello, world" {
		t.Errorf("native length read = %q", got)
	}
}

func TestCountedString_Binary(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	data := []byte{'a', 0, 'b', 0, 0}
	addr, err := c.Write(ctx, data, CountedString)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(addr, CountedString)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(data), got); diff != "" {
		t.Errorf("counted string mismatch (-want +got):\n%s", diff)
	}

	b, ok, err := As[[]byte](got)
	if err != nil || !ok {
		t.Fatalf("As[[]byte] = %v, %v", ok, err)
	}
	if diff := cmp.Diff(data, b); diff != "" {
		t.Errorf("bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestBytes_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(t, "data")
		addr, err := c.Write(ctx, data, CountedString)
		if err != nil {
			t.Fatal(err)
		}
		v, err := c.Read(addr, CountedString)
		if err != nil {
			t.Fatal(err)
		}
		got, ok, err := As[[]byte](v)
		if err != nil || !ok {
			t.Fatalf("read back = %v, %v", ok, err)
		}
		if diff := cmp.Diff(data, got); diff != "" {
			t.Fatalf("bytes mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestPointer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	slot, err := c.Write(ctx, uint32(7), Pointer)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := c.Read(slot, Pointer)
	if err != nil {
		t.Fatal(err)
	}
	if raw != Address(7) {
		t.Fatalf("Read = %#v, want Address(7)", raw)
	}
	ptr, ok, err := As[uint32](raw)
	if err != nil || !ok || ptr != 7 {
		t.Fatalf("As[uint32] = %d, %v, %v", ptr, ok, err)
	}

	// NULL is absent
	slot, err = c.Write(ctx, uint32(0), Pointer)
	if err != nil {
		t.Fatal(err)
	}
	raw, err = c.Read(slot, Pointer)
	if err != nil {
		t.Fatal(err)
	}
	ptr, ok, err = As[uint32](raw)
	if err != nil || ok || ptr != 0 {
		t.Fatalf("NULL pointer = %d, %v, %v", ptr, ok, err)
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	addr, err := c.Write(ctx, "nested", Chain(Pointer, Pointer, String))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(addr, Chain(Pointer, Pointer, String))
	if err != nil {
		t.Fatal(err)
	}
	if got != "nested" {
		t.Errorf("got %#v", got)
	}

	// one level less reads the pointer in the middle
	mid, err := c.Read(addr, Ref(Pointer))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mid.(Address); !ok {
		t.Errorf("expected Address, got %T", mid)
	}

	// a NULL link anywhere in the chain is absent
	slot, err := c.Write(ctx, uint32(0), Pointer)
	if err != nil {
		t.Fatal(err)
	}
	got, err = c.Read(slot, Ref(Int32))
	if err != nil || got != nil {
		t.Errorf("NULL link: got %#v, %v", got, err)
	}
}

type repo struct {
	h pool.Handle
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)
	d := Handle("svn_repos_t", func(h pool.Handle) any { return &repo{h: h} })

	addr, err := c.Pool.Alloc(ctx, 16, 8)
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Read(addr, d)
	if err != nil {
		t.Fatal(err)
	}
	r, ok := v.(*repo)
	if !ok {
		t.Fatalf("expected *repo, got %T", v)
	}
	if got, err := r.h.Addr(); err != nil || got != addr {
		t.Fatalf("handle addr = %d, %v", got, err)
	}

	// handles pass through Write unchanged
	back, err := c.Write(ctx, r.h, d)
	if err != nil || back != addr {
		t.Fatalf("Write(handle) = %d, %v", back, err)
	}
	back, err = c.Write(ctx, Address(addr), Pointer)
	if err != nil || back != addr {
		t.Fatalf("Write(Address) = %d, %v", back, err)
	}
	var nilPool *pool.Pool
	if back, err := c.Write(ctx, nilPool, d); err != nil || back != 0 {
		t.Fatalf("Write(nil pool) = %d, %v", back, err)
	}
}

func TestAllocationList(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)
	c.Allocs = NewAllocationList()
	defer c.Allocs.Release()

	if _, err := c.Write(ctx, int32(1), Int32); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(ctx, "abc", CountedString); err != nil {
		t.Fatal(err)
	}
	if c.Allocs.Count() != 3 {
		t.Fatalf("Count = %d, want 3", c.Allocs.Count())
	}
	if c.Allocs.Bytes() != 4+4+8 {
		t.Errorf("Bytes = %d, want 16", c.Allocs.Bytes())
	}
	if err := c.Allocs.Check(); err != nil {
		t.Fatalf("Check failed while pool alive: %v", err)
	}

	if err := c.Pool.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Allocs.Check(); !stderrors.Is(err, pool.ErrPoolDestroyed) {
		t.Fatalf("Check after Clear: expected ErrPoolDestroyed, got %v", err)
	}
}

func TestDescriptor(t *testing.T) {
	if Ref(CountedString).Name != "svn_string_t **" {
		t.Errorf("Ref name = %q", Ref(CountedString).Name)
	}
	if !Int64.Fixed() || String.Fixed() || CountedString.Fixed() {
		t.Error("Fixed misreports")
	}
	sizes := map[string]uint32{
		"int8_t": Int8.Size(), "uint16_t": Uint16.Size(), "int": Int.Size(),
		"svn_filesize_t": Filesize.Size(), "char *": String.Size(),
	}
	want := map[string]uint32{
		"int8_t": 1, "uint16_t": 2, "int": 4, "svn_filesize_t": 8, "char *": 4,
	}
	if diff := cmp.Diff(want, sizes); diff != "" {
		t.Errorf("sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestAs(t *testing.T) {
	v, ok, err := As[int32](int32(5))
	if err != nil || !ok || v != 5 {
		t.Fatalf("As[int32](5) = %v, %v, %v", v, ok, err)
	}
	v, ok, err = As[int32](nil)
	if err != nil || ok || v != 0 {
		t.Fatalf("As[int32](nil) = %v, %v, %v", v, ok, err)
	}
	if _, _, err := As[string](int32(5)); !stderrors.Is(err, &errors.Error{Kind: errors.KindTypeMismatch}) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	if b, ok, err := As[[]byte]("x\x00y"); err != nil || !ok || string(b) != "x\x00y" {
		t.Fatalf("As[[]byte](string) = %q, %v, %v", b, ok, err)
	}
	if _, _, err := As[[]byte](int32(5)); !stderrors.Is(err, &errors.Error{Kind: errors.KindTypeMismatch}) {
		t.Fatalf("expected type mismatch for int as []byte, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t)

	tests := []struct {
		v    any
		d    Descriptor
		want any
	}{
		{-1, Revnum, int32(-1)},
		{int64(1 << 40), Filesize, int64(1 << 40)},
		{true, Bool, true},
		{uint32(0x1000), Pointer, Address(0x1000)},
		{nil, Pointer, nil},
		{"trunk/README", String, "trunk/README"},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			bits, err := c.Encode(ctx, tt.v, tt.d)
			if err != nil {
				t.Fatalf("Encode(%v) failed: %v", tt.v, err)
			}
			got, err := c.Decode(bits, tt.d)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}

	if _, err := c.Encode(ctx, 1, Bool); !stderrors.Is(err, &errors.Error{Kind: errors.KindTypeMismatch}) {
		t.Fatalf("expected type mismatch for int as bool, got %v", err)
	}
	if _, err := c.Encode(ctx, int64(1<<40), Revnum); !stderrors.Is(err, &errors.Error{Kind: errors.KindOverflow}) {
		t.Fatalf("expected overflow, got %v", err)
	}
}
