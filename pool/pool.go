package pool

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"go.uber.org/zap"

	svnffi "github.com/wippyai/svn-ffi"
	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/internal/libsvn"
)

// nativeAlign is the alignment apr_palloc guarantees.
const nativeAlign = 8

var (
	// ErrPoolDestroyed matches use of a destroyed pool or of a handle that
	// outlived its pool generation.
	ErrPoolDestroyed = &errors.Error{Phase: errors.PhasePool, Kind: errors.KindDestroyed}

	// ErrOutOfMemory matches a native allocation failure whose abort handler
	// returned.
	ErrOutOfMemory = &errors.Error{Kind: errors.KindOutOfMemory}
)

var (
	// tree guards liveness, generations and the parent/child links of all
	// pools.
	tree sync.Mutex

	// slotMu guards engine.ScratchAddr, the out-parameter of pool creation.
	slotMu sync.Mutex
)

// Pool is a native apr_pool_t.
type Pool struct {
	lib      *engine.Library
	parent   *Pool
	children []*Pool
	cleanups []func()
	epoch    uint64
	addr     uint32
	dead     bool
}

// Create makes a child of parent. A nil parent means the root pool.
func Create(ctx context.Context, parent *Pool) (*Pool, error) {
	if parent == nil {
		if parent = Root(); parent == nil {
			return nil, errors.NotInitialized(errors.PhasePool, "root pool")
		}
	}
	if !parent.Alive() {
		return nil, errors.PoolDestroyed(parent.String())
	}

	lib := parent.lib
	slotMu.Lock()
	defer slotMu.Unlock()
	status, err := lib.Call(ctx, "apr_pool_create_ex", engine.ScratchAddr, uint64(parent.addr), 0, 0)
	if err != nil {
		return nil, err
	}
	switch int32(status) {
	case libsvn.APR_SUCCESS:
	case libsvn.APR_ENOMEM:
		return nil, errors.New(errors.PhaseAlloc, errors.KindOutOfMemory).
			Detail("apr_pool_create_ex: %s", libsvn.Strerror(libsvn.APR_ENOMEM)).
			Build()
	case libsvn.APR_EINVAL:
		return nil, errors.PoolDestroyed(parent.String())
	default:
		return nil, errors.New(errors.PhasePool, errors.KindAllocation).
			Detail("apr_pool_create_ex: %s", libsvn.Strerror(int32(status))).
			Build()
	}
	addr, err := lib.Memory().ReadU32(engine.ScratchAddr)
	if err != nil {
		return nil, err
	}

	p := &Pool{lib: lib, addr: addr, parent: parent}
	tree.Lock()
	parent.children = append(parent.children, p)
	tree.Unlock()

	engine.Logger().Debug("pool created",
		zap.Uint32("pool", addr),
		zap.Uint32("parent", parent.addr))
	return p, nil
}

func (p *Pool) String() string {
	return fmt.Sprintf("0x%x", p.addr)
}

// Addr returns the apr_pool_t address, or an error once p is destroyed.
func (p *Pool) Addr() (uint32, error) {
	tree.Lock()
	defer tree.Unlock()
	if p.dead {
		return 0, errors.PoolDestroyed(p.String())
	}
	return p.addr, nil
}

// Alive reports whether p may still be used.
func (p *Pool) Alive() bool {
	tree.Lock()
	defer tree.Unlock()
	return !p.dead
}

// Parent returns the parent pool, or nil for the root.
func (p *Pool) Parent() *Pool {
	return p.parent
}

// Library returns the native library p lives in.
func (p *Pool) Library() *engine.Library {
	return p.lib
}

// Handle wraps an address allocated in p at the current generation.
func (p *Pool) Handle(addr uint32) Handle {
	if addr == 0 {
		return Handle{}
	}
	tree.Lock()
	defer tree.Unlock()
	return Handle{pool: p, addr: addr, epoch: p.epoch}
}

// Alloc returns size zeroed bytes aligned to align, valid until p is cleared
// or destroyed.
func (p *Pool) Alloc(ctx context.Context, size, align uint32) (uint32, error) {
	addr, err := p.Addr()
	if err != nil {
		return 0, err
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, errors.InvalidInput(errors.PhaseAlloc, fmt.Sprintf("alignment %d is not a power of two", align))
	}
	n := size
	if align > nativeAlign {
		if size > math.MaxUint32-align {
			return 0, errors.Overflow(errors.PhaseAlloc, nil, size, "apr_size_t")
		}
		n += align
	}

	ptr, err := p.lib.Call(ctx, "apr_palloc", uint64(addr), uint64(n))
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.OutOfMemory(size)
	}
	out := uint32(ptr)
	if align > nativeAlign {
		out = (out + align - 1) &^ (align - 1)
	}
	return out, nil
}

// AddCleanup registers f to run after p is cleared or destroyed, including
// through an ancestor. Cleanups run in reverse order of registration and must
// not touch foreign memory of p.
func (p *Pool) AddCleanup(f func()) error {
	tree.Lock()
	defer tree.Unlock()
	if p.dead {
		return errors.PoolDestroyed(p.String())
	}
	p.cleanups = append(p.cleanups, f)
	return nil
}

// Clear releases everything allocated in p and destroys its children. p stays
// usable; handles made before the clear do not.
func (p *Pool) Clear(ctx context.Context) error {
	addr, err := p.Addr()
	if err != nil {
		return err
	}
	if _, err := p.lib.Call(ctx, "apr_pool_clear", uint64(addr)); err != nil {
		return err
	}

	tree.Lock()
	p.epoch++
	gen := p.epoch
	var pending []func()
	for _, c := range p.children {
		pending = c.kill(pending)
	}
	p.children = nil
	pending = takeCleanups(p, pending)
	tree.Unlock()

	runCleanups(pending)
	engine.Logger().Debug("pool cleared", zap.Uint32("pool", addr), zap.Uint64("generation", gen))
	return nil
}

// Destroy releases p and every descendant. Only the first call succeeds.
func (p *Pool) Destroy(ctx context.Context) error {
	addr, err := p.Addr()
	if err != nil {
		return err
	}
	if _, err := p.lib.Call(ctx, "apr_pool_destroy", uint64(addr)); err != nil {
		return err
	}

	tree.Lock()
	pending := p.kill(nil)
	if p.parent != nil {
		p.parent.children = slices.DeleteFunc(p.parent.children, func(c *Pool) bool { return c == p })
	}
	tree.Unlock()

	runCleanups(pending)
	engine.Logger().Debug("pool destroyed", zap.Uint32("pool", addr))
	return nil
}

// kill marks p and its descendants dead, children first, and collects their
// cleanups. Caller holds tree.
func (p *Pool) kill(pending []func()) []func() {
	for _, c := range p.children {
		pending = c.kill(pending)
	}
	p.children = nil
	p.dead = true
	return takeCleanups(p, pending)
}

func takeCleanups(p *Pool, pending []func()) []func() {
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		pending = append(pending, p.cleanups[i])
	}
	p.cleanups = nil
	return pending
}

func runCleanups(pending []func()) {
	for _, f := range pending {
		f()
	}
}

var (
	_ svnffi.Allocator = (*Pool)(nil)
	_ svnffi.Addresser = (*Pool)(nil)
	_ svnffi.Addresser = Handle{}
)
