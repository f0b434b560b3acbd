package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/internal/libsvn"
)

// testMemoryPages keeps foreign memory small enough to exhaust.
const testMemoryPages = 64

func TestMain(m *testing.M) {
	ctx := context.Background()
	lib, err := engine.Load(ctx, &engine.Config{MemoryLimitPages: testMemoryPages})
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	if _, err := Init(ctx, lib); err != nil {
		fmt.Fprintln(os.Stderr, "init:", err)
		os.Exit(1)
	}
	code := m.Run()
	if err := Terminate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "terminate:", err)
		code = 1
	}
	_ = lib.Close(ctx)
	os.Exit(code)
}

func child(t *testing.T, parent *Pool) *Pool {
	t.Helper()
	p, err := Create(context.Background(), parent)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return p
}

func TestInit_OnlyOnce(t *testing.T) {
	_, err := Init(context.Background(), Root().Library())
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindAlreadyInit}) {
		t.Fatalf("expected already_initialized, got %v", err)
	}
}

func TestProcess_Lifecycle(t *testing.T) {
	ctx := context.Background()
	lib, err := engine.Load(ctx, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer lib.Close(ctx)

	var s process
	if err := s.terminate(ctx); err == nil {
		t.Fatal("terminate before init should fail")
	}
	root, err := s.init(ctx, lib)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	kid := child(t, root)

	if err := s.terminate(ctx); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if root.Alive() || kid.Alive() {
		t.Error("terminate should destroy the whole tree")
	}
	if _, err := s.init(ctx, lib); err == nil {
		t.Fatal("init after terminate should fail")
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	p := child(t, nil)
	defer p.Destroy(ctx)

	if p.Parent() != Root() {
		t.Fatal("nil parent should mean the root pool")
	}
	addr, err := p.Addr()
	if err != nil {
		t.Fatal(err)
	}
	parent, err := p.Library().Call(ctx, "apr_pool_parent_get", uint64(addr))
	if err != nil {
		t.Fatal(err)
	}
	rootAddr, _ := Root().Addr()
	if uint32(parent) != rootAddr {
		t.Errorf("native parent = 0x%x, want 0x%x", parent, rootAddr)
	}
}

func TestDestroy_Cascades(t *testing.T) {
	ctx := context.Background()
	p := child(t, nil)
	q := child(t, p)
	r := child(t, q)

	addr, err := r.Alloc(ctx, 16, 8)
	if err != nil {
		t.Fatal(err)
	}
	h := r.Handle(addr)
	if !h.Valid() {
		t.Fatal("fresh handle should be valid")
	}

	if err := p.Destroy(ctx); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	for name, pool := range map[string]*Pool{"p": p, "q": q, "r": r} {
		if pool.Alive() {
			t.Errorf("%s should be dead", name)
		}
	}
	if _, err := h.Addr(); !stderrors.Is(err, ErrPoolDestroyed) {
		t.Errorf("handle in grandchild: expected ErrPoolDestroyed, got %v", err)
	}
	if _, err := q.Alloc(ctx, 8, 8); !stderrors.Is(err, ErrPoolDestroyed) {
		t.Errorf("Alloc in destroyed child: expected ErrPoolDestroyed, got %v", err)
	}
	if err := q.Destroy(ctx); !stderrors.Is(err, ErrPoolDestroyed) {
		t.Errorf("Destroy of cascaded child: expected ErrPoolDestroyed, got %v", err)
	}
	if err := p.Destroy(ctx); !stderrors.Is(err, ErrPoolDestroyed) {
		t.Errorf("second Destroy: expected ErrPoolDestroyed, got %v", err)
	}
}

func TestCreate_DestroyedParent(t *testing.T) {
	ctx := context.Background()
	p := child(t, nil)
	addr, _ := p.Addr()
	if err := p.Destroy(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := Create(ctx, p); !stderrors.Is(err, ErrPoolDestroyed) {
		t.Fatalf("expected ErrPoolDestroyed, got %v", err)
	}

	// The native allocator rejects the dead region on its own.
	slot, err := Root().Alloc(ctx, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	status, err := Root().Library().Call(ctx, "apr_pool_create_ex", uint64(slot), uint64(addr), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if int32(status) != libsvn.APR_EINVAL {
		t.Errorf("native status = %d, want APR_EINVAL", status)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	p := child(t, nil)
	defer p.Destroy(ctx)
	kid := child(t, p)

	addr, err := p.Alloc(ctx, 32, 8)
	if err != nil {
		t.Fatal(err)
	}
	h := p.Handle(addr)

	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if !p.Alive() {
		t.Fatal("Clear must keep the pool alive")
	}
	if kid.Alive() {
		t.Error("Clear must destroy children")
	}
	if _, err := h.Addr(); !stderrors.Is(err, ErrPoolDestroyed) {
		t.Errorf("pre-clear handle: expected ErrPoolDestroyed, got %v", err)
	}

	again, err := p.Alloc(ctx, 32, 8)
	if err != nil {
		t.Fatalf("Alloc after Clear failed: %v", err)
	}
	if got, err := p.Handle(again).Addr(); err != nil || got != again {
		t.Errorf("post-clear handle = %d, %v", got, err)
	}
}

func TestAlloc(t *testing.T) {
	ctx := context.Background()
	p := child(t, nil)
	defer p.Destroy(ctx)
	mem := p.Library().Memory()

	tests := []struct {
		size, align uint32
	}{
		{0, 1},
		{1, 1},
		{13, 4},
		{24, 8},
		{100, 16},
		{7, 64},
		{9000, 8},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.size, tt.align), func(t *testing.T) {
			addr, err := p.Alloc(ctx, tt.size, tt.align)
			if err != nil {
				t.Fatalf("Alloc failed: %v", err)
			}
			if addr == 0 {
				t.Fatal("Alloc returned NULL")
			}
			if addr%tt.align != 0 {
				t.Errorf("address 0x%x not aligned to %d", addr, tt.align)
			}
			data, err := mem.Read(addr, tt.size)
			if err != nil {
				t.Fatal(err)
			}
			for i, b := range data {
				if b != 0 {
					t.Fatalf("byte %d = %d, want zeroed memory", i, b)
				}
			}
		})
	}

	if _, err := p.Alloc(ctx, 8, 3); err == nil {
		t.Error("expected error for non power of two alignment")
	}
}

func TestAlloc_OutOfMemory(t *testing.T) {
	ctx := context.Background()
	p := child(t, nil)
	defer p.Destroy(ctx)

	var aborts []int32
	SetAbortHandler(func(status int32) { aborts = append(aborts, status) })
	defer SetAbortHandler(nil)

	_, err := p.Alloc(ctx, testMemoryPages*65536, 8)
	if !stderrors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if len(aborts) != 1 || aborts[0] != libsvn.APR_ENOMEM {
		t.Fatalf("abort calls = %v, want [%d]", aborts, libsvn.APR_ENOMEM)
	}

	// the pool survives a failed allocation
	if _, err := p.Alloc(ctx, 64, 8); err != nil {
		t.Fatalf("Alloc after failure: %v", err)
	}
}

func TestCleanups(t *testing.T) {
	ctx := context.Background()
	p := child(t, nil)
	q := child(t, p)

	var order []string
	_ = p.AddCleanup(func() { order = append(order, "p1") })
	_ = p.AddCleanup(func() { order = append(order, "p2") })
	_ = q.AddCleanup(func() { order = append(order, "q") })

	if err := p.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"q", "p2", "p1"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("cleanup order = %v, want %v", order, want)
	}

	order = nil
	_ = p.AddCleanup(func() { order = append(order, "again") })
	if err := p.Destroy(ctx); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(order) != "[again]" {
		t.Fatalf("cleanups after Destroy = %v", order)
	}
	if err := p.AddCleanup(func() {}); !stderrors.Is(err, ErrPoolDestroyed) {
		t.Errorf("AddCleanup on dead pool: expected ErrPoolDestroyed, got %v", err)
	}
}

func TestHandle_Null(t *testing.T) {
	var h Handle
	if !h.IsNull() {
		t.Fatal("zero Handle should be NULL")
	}
	addr, err := h.Addr()
	if err != nil || addr != 0 {
		t.Fatalf("Addr() = %d, %v", addr, err)
	}
	if Root().Handle(0) != (Handle{}) {
		t.Error("Handle(0) should be NULL")
	}
}
