package container

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/internal/testenv"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
)

func TestMain(m *testing.M) {
	testenv.Main(m)
}

func props(t *testing.T, p *pool.Pool) *Hash[string, string] {
	t.Helper()
	h, err := NewHash[string, string](context.Background(), p, marshal.String, marshal.CountedString)
	if err != nil {
		t.Fatalf("NewHash failed: %v", err)
	}
	return h
}

func TestHash_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	h := props(t, testenv.Pool(t))

	if _, ok, err := h.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}

	if err := h.Set(ctx, "svn:eol-style", "native"); err != nil {
		t.Fatal(err)
	}
	if err := h.Set(ctx, "svn:mime-type", "text/plain"); err != nil {
		t.Fatal(err)
	}
	if err := h.Set(ctx, "svn:eol-style", "LF"); err != nil {
		t.Fatal(err)
	}

	v, ok, err := h.Get(ctx, "svn:eol-style")
	if err != nil || !ok || v != "LF" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if n, _ := h.Len(ctx); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}

	if err := h.Delete(ctx, "svn:eol-style"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.Get(ctx, "svn:eol-style"); ok {
		t.Error("deleted key still present")
	}
	if n, _ := h.Len(ctx); n != 1 {
		t.Errorf("Len after Delete = %d, want 1", n)
	}
}

func TestHash_EmptyValueIsPresent(t *testing.T) {
	ctx := context.Background()
	h := props(t, testenv.Pool(t))

	if err := h.Set(ctx, "empty", ""); err != nil {
		t.Fatal(err)
	}
	v, ok, err := h.Get(ctx, "empty")
	if err != nil || !ok || v != "" {
		t.Fatalf("Get(empty) = %q, %v, %v", v, ok, err)
	}
}

func TestHash_NilValueDeletes(t *testing.T) {
	ctx := context.Background()
	p := testenv.Pool(t)
	h, err := NewHash[string, *int32](ctx, p, marshal.String, marshal.Int32)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Set(ctx, "k", nil); err != nil {
		t.Fatal(err)
	}
	if n, _ := h.Len(ctx); n != 0 {
		t.Fatalf("nil value should not insert, Len = %d", n)
	}
}

func TestHash_FixedWidthKeys(t *testing.T) {
	ctx := context.Background()
	h, err := NewHash[int32, string](ctx, testenv.Pool(t), marshal.Revnum, marshal.String)
	if err != nil {
		t.Fatal(err)
	}
	for rev, log := range map[int32]string{1: "initial import", 2: "fix typo", -1: "invalid"} {
		if err := h.Set(ctx, rev, log); err != nil {
			t.Fatal(err)
		}
	}
	got, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[int32]string{1: "initial import", 2: "fix typo", -1: "invalid"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

type point struct{ x, y int }

func TestHash_UndeterminableKeyLength(t *testing.T) {
	ctx := context.Background()
	h, err := NewHash[point, string](ctx, testenv.Pool(t), marshal.Handle("struct point", nil), marshal.String)
	if err != nil {
		t.Fatal(err)
	}

	err = h.Set(ctx, point{1, 2}, "x")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindInvalidInput}) {
		t.Fatalf("expected marshal/invalid_input, got %v", err)
	}
	if n, _ := h.Len(ctx); n != 0 {
		t.Errorf("misuse must not reach the native hash, Len = %d", n)
	}
}

func TestKeyLength(t *testing.T) {
	tests := []struct {
		key  any
		d    marshal.Descriptor
		want uint32
	}{
		{"path", marshal.String, hashKeyString},
		{[]byte{1, 2, 3}, marshal.String, 3},
		{int64(9), marshal.Int64, 8},
		{int32(9), marshal.Revnum, 4},
		{uint8(1), marshal.Uint8, 1},
	}
	for _, tt := range tests {
		got, err := keyLength(tt.key, tt.d)
		if err != nil {
			t.Fatalf("keyLength(%v) failed: %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("keyLength(%v) = %d, want %d", tt.key, got, tt.want)
		}
	}
	if _, err := keyLength(3.5, marshal.CountedString); err == nil {
		t.Error("expected error for a key of unknown length")
	}
}

func TestHash_CursorIsOneShot(t *testing.T) {
	ctx := context.Background()
	h := props(t, testenv.Pool(t))
	for _, k := range []string{"a", "b", "c"} {
		_ = h.Set(ctx, k, k+k)
	}

	c, err := h.Cursor(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for c.Next(ctx) {
		if c.Value() != c.Key()+c.Key() {
			t.Errorf("value for %q = %q", c.Key(), c.Value())
		}
		keys = append(keys, c.Key())
	}
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	if diff := cmp.Diff([]string{"a", "b", "c"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if c.Next(ctx) {
		t.Error("an exhausted cursor must not restart")
	}

	// a fresh cursor sees everything again
	n := 0
	for range h.All(ctx) {
		n++
	}
	if n != 3 {
		t.Errorf("All yielded %d entries, want 3", n)
	}
}

func TestHash_EmptyCursor(t *testing.T) {
	ctx := context.Background()
	h := props(t, testenv.Pool(t))
	c, err := h.Cursor(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Next(ctx) {
		t.Fatal("empty hash yielded an entry")
	}
	snap, err := h.Snapshot(ctx)
	if err != nil || len(snap) != 0 {
		t.Fatalf("Snapshot = %v, %v", snap, err)
	}
}

func TestHash_SnapshotOutlivesPool(t *testing.T) {
	ctx := context.Background()
	p := testenv.Pool(t)
	h := props(t, p)
	_ = h.Set(ctx, "svn:log", "message")

	snap, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Destroy(ctx); err != nil {
		t.Fatal(err)
	}
	if snap["svn:log"] != "message" {
		t.Errorf("snapshot lost data: %v", snap)
	}
	if _, _, err := h.Get(ctx, "svn:log"); !stderrors.Is(err, pool.ErrPoolDestroyed) {
		t.Errorf("Get on destroyed pool: expected ErrPoolDestroyed, got %v", err)
	}
}

func TestHash_CursorDiesWithPool(t *testing.T) {
	ctx := context.Background()
	p := testenv.Pool(t)
	h := props(t, p)
	_ = h.Set(ctx, "a", "1")
	_ = h.Set(ctx, "b", "2")

	c, err := h.Cursor(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Next(ctx) {
		t.Fatal("expected a first entry")
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Next(ctx) {
		t.Fatal("cursor advanced after its pool was cleared")
	}
	if !stderrors.Is(c.Err(), pool.ErrPoolDestroyed) {
		t.Errorf("expected ErrPoolDestroyed, got %v", c.Err())
	}
}

func TestHash_NestedHashes(t *testing.T) {
	ctx := context.Background()
	p := testenv.Pool(t)

	inner := props(t, p)
	_ = inner.Set(ctx, "svn:executable", "*")

	wrap := func(h pool.Handle) any {
		return WrapHash[string, string](h, marshal.String, marshal.CountedString)
	}
	outer, err := NewHash[string, *Hash[string, string]](ctx, p, marshal.String, marshal.Handle("apr_hash_t", wrap))
	if err != nil {
		t.Fatal(err)
	}
	if err := outer.Set(ctx, "bin/tool", inner); err != nil {
		t.Fatal(err)
	}

	got, ok, err := outer.Get(ctx, "bin/tool")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	v, ok, err := got.Get(ctx, "svn:executable")
	if err != nil || !ok || v != "*" {
		t.Fatalf("nested Get = %q, %v, %v", v, ok, err)
	}
}

func TestArray(t *testing.T) {
	ctx := context.Background()
	a, err := NewArray[string](ctx, testenv.Pool(t), 1, marshal.String)
	if err != nil {
		t.Fatal(err)
	}

	if empty, err := a.Empty(ctx); err != nil || !empty {
		t.Fatalf("new array Empty = %v, %v", empty, err)
	}
	if _, ok, err := a.Pop(ctx); err != nil || ok {
		t.Fatalf("Pop on empty = %v, %v", ok, err)
	}

	paths := []string{"trunk/a.txt", "trunk/b.txt", "branches/x/c.txt"}
	for _, p := range paths {
		if err := a.Push(ctx, p); err != nil {
			t.Fatalf("Push(%q) failed: %v", p, err)
		}
	}
	if n, _ := a.Len(); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(paths, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	var seen []string
	for i, v := range a.All() {
		if v != paths[i] {
			t.Errorf("All()[%d] = %q", i, v)
		}
		seen = append(seen, v)
	}
	if len(seen) != 3 {
		t.Errorf("All yielded %d elements", len(seen))
	}

	last, ok, err := a.Pop(ctx)
	if err != nil || !ok || last != "branches/x/c.txt" {
		t.Fatalf("Pop = %q, %v, %v", last, ok, err)
	}
	if _, err := a.At(2); !stderrors.Is(err, &errors.Error{Kind: errors.KindOutOfBounds}) {
		t.Errorf("At past the end: expected out_of_bounds, got %v", err)
	}
	if empty, _ := a.Empty(ctx); empty {
		t.Error("array with two elements reported empty")
	}
}

func TestArray_Integers(t *testing.T) {
	ctx := context.Background()
	a, err := NewArray[int64](ctx, testenv.Pool(t), 0, marshal.Filesize)
	if err != nil {
		t.Fatal(err)
	}
	for i := range int64(20) {
		if err := a.Push(ctx, i*i); err != nil {
			t.Fatal(err)
		}
	}
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range snap {
		if v != int64(i*i) {
			t.Fatalf("element %d = %d", i, v)
		}
	}
}

func TestHash_LookupsDoNotGrowPool(t *testing.T) {
	ctx := context.Background()
	p := testenv.Pool(t)
	h := props(t, p)
	if err := h.Set(ctx, "svn:eol-style", "native"); err != nil {
		t.Fatal(err)
	}

	before, err := p.Alloc(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	key := strings.Repeat("k", 1001)
	for range 1000 {
		if _, ok, err := h.Get(ctx, key); err != nil || ok {
			t.Fatalf("Get(missing) = %v, %v", ok, err)
		}
		if err := h.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
	}
	after, err := p.Alloc(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if grown := after - before; grown > 16 {
		t.Errorf("pool grew by %d bytes after 1000 lookups", grown)
	}

	if v, ok, err := h.Get(ctx, "svn:eol-style"); err != nil || !ok || v != "native" {
		t.Errorf("Get after lookups = %q, %v, %v", v, ok, err)
	}
}

func TestHash_BinaryValues(t *testing.T) {
	ctx := context.Background()
	h, err := NewHash[string, []byte](ctx, testenv.Pool(t), marshal.String, marshal.CountedString)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]byte{
		"trunk/a.bin": {0, 1, 2, 0, 255},
		"trunk/b.txt": []byte("abc"),
		"trunk/empty": {},
	}
	for k, v := range want {
		if err := h.Set(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}

	v, ok, err := h.Get(ctx, "trunk/a.bin")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if diff := cmp.Diff(want["trunk/a.bin"], v); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	got, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestHashFrom(t *testing.T) {
	ctx := context.Background()
	want := map[string]string{"svn:eol-style": "native", "svn:keywords": "Id"}
	h, err := HashFrom(ctx, testenv.Pool(t), want, marshal.String, marshal.CountedString)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// CopyFrom merges over existing entries
	if err := h.CopyFrom(ctx, map[string]string{"svn:keywords": "Rev"}); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := h.Get(ctx, "svn:keywords"); v != "Rev" {
		t.Errorf("after CopyFrom = %q", v)
	}
	if n, _ := h.Len(ctx); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func TestArrayFrom(t *testing.T) {
	ctx := context.Background()
	paths := []string{"trunk/old.txt", "branches/gone"}
	a, err := ArrayFrom(ctx, testenv.Pool(t), paths, marshal.String)
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(paths, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	empty, err := ArrayFrom[string](ctx, testenv.Pool(t), nil, marshal.String)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := empty.Empty(ctx); !ok {
		t.Error("ArrayFrom(nil) not empty")
	}
}
