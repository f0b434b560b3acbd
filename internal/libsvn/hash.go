package libsvn

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// APR_HASH_KEY_STRING: the key is NUL-terminated.
const hashKeyString = 0xffffffff

const (
	hashMagic     = 0x48534148 // "HASH"
	hashSize      = 16
	hashIterSize  = 16
	hashIterMagic = 0x54494841 // "AHIT"
)

type hashEntry struct {
	key, klen, val uint32
	dead           bool
}

type hashState struct {
	addr    uint32
	pool    uint32
	entries []hashEntry
	index   map[string]int
	live    int
}

// newHash creates an apr_hash_t in pool. Caller holds l.mu.
func (l *Library) newHash(m mem, pool uint32) uint32 {
	p, ok := l.pools[pool]
	if !ok {
		panic(fault("apr_hash_make on an unknown pool"))
	}
	addr := l.palloc(m, p, hashSize)
	if addr == 0 {
		return 0
	}
	m.putU32(addr, hashMagic)
	m.putU32(addr+4, pool)
	l.hashes[addr] = &hashState{addr: addr, pool: pool, index: make(map[string]int)}
	p.onCleanup(func() { delete(l.hashes, addr) })
	return addr
}

func (l *Library) hash(addr uint32) *hashState {
	h, ok := l.hashes[addr]
	if !ok {
		panic(fault("not an apr_hash_t"))
	}
	return h
}

func keyBytes(m mem, key, klen uint32) ([]byte, uint32) {
	if klen == hashKeyString {
		s := m.cstr(key)
		return []byte(s), uint32(len(s))
	}
	return m.bytes(key, klen), klen
}

// hashSet mirrors apr_hash_set. Caller holds l.mu.
func (l *Library) hashSet(m mem, h *hashState, key, klen, val uint32) {
	kb, n := keyBytes(m, key, klen)
	i, found := h.index[string(kb)]
	switch {
	case found && val == 0:
		h.entries[i].dead = true
		delete(h.index, string(kb))
		h.live--
	case found:
		h.entries[i].val = val
	case val != 0:
		h.index[string(kb)] = len(h.entries)
		h.entries = append(h.entries, hashEntry{key: key, klen: n, val: val})
		h.live++
	}
	m.putU32(h.addr+8, uint32(h.live))
}

// apr_hash_t *apr_hash_make(apr_pool_t *pool)
func (l *Library) aprHashMake(ctx context.Context, mod api.Module, stack []uint64) {
	addr, abortFn := l.makeHash(memOf(mod), arg(stack, 0))
	if addr == 0 {
		abort(ctx, mod, abortFn)
	}
	ret(stack, addr)
}

func (l *Library) makeHash(m mem, pool uint32) (addr, abortFn uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr = l.newHash(m, pool)
	return addr, l.pools[pool].abortFn
}

// unsigned int apr_hash_count(apr_hash_t *ht)
func (l *Library) aprHashCount(_ context.Context, _ api.Module, stack []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret(stack, uint32(l.hash(arg(stack, 0)).live))
}

// void *apr_hash_get(apr_hash_t *ht, const void *key, apr_ssize_t klen)
func (l *Library) aprHashGet(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.hash(arg(stack, 0))
	kb, _ := keyBytes(m, arg(stack, 1), arg(stack, 2))
	i, ok := h.index[string(kb)]
	if !ok {
		ret(stack, 0)
		return
	}
	ret(stack, h.entries[i].val)
}

// void apr_hash_set(apr_hash_t *ht, const void *key, apr_ssize_t klen,
// const void *val)
func (l *Library) aprHashSet(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashSet(m, l.hash(arg(stack, 0)), arg(stack, 1), arg(stack, 2), arg(stack, 3))
}

// nextLive returns the first live entry index at or after i, or -1.
func (h *hashState) nextLive(i int) int {
	for ; i < len(h.entries); i++ {
		if !h.entries[i].dead {
			return i
		}
	}
	return -1
}

// apr_hash_index_t *apr_hash_first(apr_pool_t *p, apr_hash_t *ht)
func (l *Library) aprHashFirst(ctx context.Context, mod api.Module, stack []uint64) {
	hi, abortFn, empty := l.hashFirst(memOf(mod), arg(stack, 0), arg(stack, 1))
	if hi == 0 && !empty {
		abort(ctx, mod, abortFn)
	}
	ret(stack, hi)
}

func (l *Library) hashFirst(m mem, pool, ht uint32) (hi, abortFn uint32, empty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.hash(ht)
	first := h.nextLive(0)
	if first < 0 {
		return 0, 0, true
	}
	if pool == 0 {
		pool = h.pool
	}
	p, ok := l.pools[pool]
	if !ok {
		panic(fault("apr_hash_first on an unknown pool"))
	}
	hi = l.palloc(m, p, hashIterSize)
	if hi != 0 {
		m.putU32(hi, hashIterMagic)
		m.putU32(hi+4, ht)
		m.putU32(hi+8, uint32(first))
	}
	return hi, p.abortFn, false
}

func (l *Library) iter(m mem, hi uint32) (*hashState, int) {
	if m.u32(hi) != hashIterMagic {
		panic(fault("not an apr_hash_index_t"))
	}
	return l.hash(m.u32(hi + 4)), int(m.u32(hi + 8))
}

// apr_hash_index_t *apr_hash_next(apr_hash_index_t *hi)
func (l *Library) aprHashNext(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	hi := arg(stack, 0)
	l.mu.Lock()
	defer l.mu.Unlock()
	h, i := l.iter(m, hi)
	next := h.nextLive(i + 1)
	if next < 0 {
		m.putU32(hi+8, uint32(len(h.entries)))
		ret(stack, 0)
		return
	}
	m.putU32(hi+8, uint32(next))
	ret(stack, hi)
}

// void apr_hash_this(apr_hash_index_t *hi, const void **key,
// apr_ssize_t *klen, void **val)
func (l *Library) aprHashThis(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	hi, keyOut, klenOut, valOut := arg(stack, 0), arg(stack, 1), arg(stack, 2), arg(stack, 3)
	l.mu.Lock()
	defer l.mu.Unlock()
	h, i := l.iter(m, hi)
	if i >= len(h.entries) {
		panic(fault("apr_hash_this past the end"))
	}
	e := h.entries[i]
	if keyOut != 0 {
		m.putU32(keyOut, e.key)
	}
	if klenOut != 0 {
		m.putU32(klenOut, e.klen)
	}
	if valOut != 0 {
		m.putU32(valOut, e.val)
	}
}

// apr_pool_t *apr_hash_pool_get(const apr_hash_t *thehash)
func (l *Library) aprHashPoolGet(_ context.Context, _ api.Module, stack []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret(stack, l.hash(arg(stack, 0)).pool)
}
