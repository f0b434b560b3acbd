package libsvn

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

const (
	poolMagic      = 0x50525041 // "APRP"
	poolHeaderSize = 16
)

type poolState struct {
	addr     uint32
	parent   uint32
	children []uint32
	blocks   []span
	cur, end uint32
	abortFn  uint32
	cleanups []func()
}

func (l *Library) aprInitialize(_ context.Context, _ api.Module, stack []uint64) {
	l.mu.Lock()
	l.initialized++
	l.mu.Unlock()
	ret(stack, APR_SUCCESS)
}

func (l *Library) aprTerminate(_ context.Context, mod api.Module, _ []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized == 0 {
		return
	}
	l.initialized--
	if l.initialized > 0 {
		return
	}
	m := memOf(mod)
	for addr, p := range l.pools {
		if p.parent == 0 {
			l.destroyPool(m, addr)
		}
	}
}

// createPool allocates a pool header block. Caller holds l.mu.
func (l *Library) createPool(m mem, parent, abortFn uint32) (uint32, bool) {
	if parent != 0 {
		pp, ok := l.pools[parent]
		if !ok {
			return 0, false
		}
		if abortFn == 0 {
			abortFn = pp.abortFn
		}
	}
	blk, ok := l.heap.alloc(m.m, blockSize)
	if !ok {
		return 0, false
	}
	m.zero(blk.start, poolHeaderSize)
	m.putU32(blk.start, poolMagic)
	m.putU32(blk.start+4, parent)
	m.putU32(blk.start+8, abortFn)

	p := &poolState{
		addr:    blk.start,
		parent:  parent,
		blocks:  []span{blk},
		cur:     blk.start + poolHeaderSize,
		end:     blk.start + blk.size,
		abortFn: abortFn,
	}
	l.pools[p.addr] = p
	if parent != 0 {
		pp := l.pools[parent]
		pp.children = append(pp.children, p.addr)
	}
	return p.addr, true
}

// clearPool drops everything allocated in p except its header. Caller holds
// l.mu.
func (l *Library) clearPool(m mem, p *poolState) {
	for len(p.children) > 0 {
		l.destroyPool(m, p.children[len(p.children)-1])
	}
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		p.cleanups[i]()
	}
	p.cleanups = nil
	for _, b := range p.blocks[1:] {
		l.heap.release(b)
	}
	p.blocks = p.blocks[:1]
	p.cur = p.addr + poolHeaderSize
	p.end = p.addr + p.blocks[0].size
}

// destroyPool clears p and returns its header block. Caller holds l.mu.
func (l *Library) destroyPool(m mem, addr uint32) {
	p, ok := l.pools[addr]
	if !ok {
		return
	}
	l.clearPool(m, p)
	if pp, ok := l.pools[p.parent]; ok {
		for i, c := range pp.children {
			if c == addr {
				pp.children = append(pp.children[:i], pp.children[i+1:]...)
				break
			}
		}
	}
	m.putU32(addr, 0)
	l.heap.release(p.blocks[0])
	delete(l.pools, addr)
}

// palloc carves size zeroed bytes out of p. Caller holds l.mu. A zero return
// means the heap is exhausted; the caller is responsible for the abort call.
func (l *Library) palloc(m mem, p *poolState, size uint32) uint32 {
	sz := alignUp(uint64(size))
	if sz > 1<<32-align {
		return 0
	}
	n := max(uint32(sz), align)
	if uint64(p.cur)+uint64(n) > uint64(p.end) {
		want := max(uint64(blockSize), uint64(n))
		blk, ok := l.heap.alloc(m.m, want)
		if !ok {
			return 0
		}
		p.blocks = append(p.blocks, blk)
		p.cur = blk.start
		p.end = blk.start + blk.size
	}
	addr := p.cur
	p.cur += n
	m.zero(addr, n)
	return addr
}

// onCleanup registers f to run when p is cleared or destroyed. Caller holds
// l.mu.
func (p *poolState) onCleanup(f func()) {
	p.cleanups = append(p.cleanups, f)
}

// abort runs the pool's abort function after an allocation failure.
func abort(ctx context.Context, mod api.Module, abortFn uint32) {
	if abortFn != 0 {
		call(ctx, mod, AbortFn, abortFn, APR_ENOMEM)
	}
}

// allocLocked is palloc for a pool by address, returning the abort function
// to run when it fails.
func (l *Library) allocLocked(m mem, pool, size uint32) (addr, abortFn uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[pool]
	if !ok {
		panic(fault("allocation in an unknown pool"))
	}
	return l.palloc(m, p, size), p.abortFn
}

// allocIn is palloc plus the abort protocol, for functions that allocate
// their results in a caller pool.
func (l *Library) allocIn(ctx context.Context, mod api.Module, pool, size uint32) uint32 {
	addr, abortFn := l.allocLocked(memOf(mod), pool, size)
	if addr == 0 {
		abort(ctx, mod, abortFn)
	}
	return addr
}

// apr_status_t apr_pool_create_ex(apr_pool_t **newpool, apr_pool_t *parent,
// apr_abortfunc_t abort_fn, apr_allocator_t *allocator)
func (l *Library) aprPoolCreateEx(ctx context.Context, mod api.Module, stack []uint64) {
	out, parent, abortFn := arg(stack, 0), arg(stack, 1), arg(stack, 2)
	m := memOf(mod)

	l.mu.Lock()
	if l.initialized == 0 {
		l.mu.Unlock()
		ret(stack, APR_EINVAL)
		return
	}
	if parent != 0 {
		if _, ok := l.pools[parent]; !ok {
			l.mu.Unlock()
			ret(stack, APR_EINVAL)
			return
		}
	}
	addr, ok := l.createPool(m, parent, abortFn)
	if !ok && parent != 0 && abortFn == 0 {
		abortFn = l.pools[parent].abortFn
	}
	l.mu.Unlock()

	if !ok {
		abort(ctx, mod, abortFn)
		ret(stack, APR_ENOMEM)
		return
	}
	m.putU32(out, addr)
	ret(stack, APR_SUCCESS)
}

// void apr_pool_clear(apr_pool_t *p)
func (l *Library) aprPoolClear(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pools[arg(stack, 0)]; ok {
		l.clearPool(m, p)
	}
}

// void apr_pool_destroy(apr_pool_t *p)
func (l *Library) aprPoolDestroy(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyPool(m, arg(stack, 0))
}

// apr_pool_t *apr_pool_parent_get(apr_pool_t *pool)
func (l *Library) aprPoolParentGet(_ context.Context, _ api.Module, stack []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[arg(stack, 0)]
	if !ok {
		ret(stack, 0)
		return
	}
	ret(stack, p.parent)
}

// void *apr_palloc(apr_pool_t *p, apr_size_t size)
func (l *Library) aprPalloc(ctx context.Context, mod api.Module, stack []uint64) {
	ret(stack, l.allocIn(ctx, mod, arg(stack, 0), arg(stack, 1)))
}
