package libsvn

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// apr_array_header_t field offsets.
const (
	arrPool    = 0
	arrEltSize = 4
	arrNelts   = 8
	arrNalloc  = 12
	arrElts    = 16
	arrSize    = 20
)

// apr_array_header_t *apr_array_make(apr_pool_t *p, int nelts, int elt_size)
func (l *Library) aprArrayMake(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	pool, nelts, eltSize := arg(stack, 0), arg(stack, 1), arg(stack, 2)
	if int32(nelts) < 0 || int32(eltSize) <= 0 {
		ret(stack, 0)
		return
	}
	nalloc := max(nelts, 1)
	addr, abortFn := l.allocLocked(m, pool, arrSize)
	if addr == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, 0)
		return
	}
	elts, abortFn := l.allocLocked(m, pool, nalloc*eltSize)
	if elts == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, 0)
		return
	}
	m.putU32(addr+arrPool, pool)
	m.putU32(addr+arrEltSize, eltSize)
	m.putU32(addr+arrNelts, 0)
	m.putU32(addr+arrNalloc, nalloc)
	m.putU32(addr+arrElts, elts)
	ret(stack, addr)
}

// void *apr_array_push(apr_array_header_t *arr)
func (l *Library) aprArrayPush(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	arr := arg(stack, 0)
	eltSize := m.u32(arr + arrEltSize)
	nelts := m.u32(arr + arrNelts)
	nalloc := m.u32(arr + arrNalloc)
	elts := m.u32(arr + arrElts)

	if nelts == nalloc {
		grown := max(nalloc*2, 1)
		next, abortFn := l.allocLocked(m, m.u32(arr+arrPool), grown*eltSize)
		if next == 0 {
			abort(ctx, mod, abortFn)
			ret(stack, 0)
			return
		}
		m.put(next, m.bytes(elts, nelts*eltSize))
		elts = next
		m.putU32(arr+arrElts, elts)
		m.putU32(arr+arrNalloc, grown)
	}

	slot := elts + nelts*eltSize
	m.zero(slot, eltSize)
	m.putU32(arr+arrNelts, nelts+1)
	ret(stack, slot)
}

// void *apr_array_pop(apr_array_header_t *arr)
func (l *Library) aprArrayPop(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	arr := arg(stack, 0)
	nelts := m.u32(arr + arrNelts)
	if nelts == 0 {
		ret(stack, 0)
		return
	}
	nelts--
	m.putU32(arr+arrNelts, nelts)
	ret(stack, m.u32(arr+arrElts)+nelts*m.u32(arr+arrEltSize))
}

// int apr_is_empty_array(const apr_array_header_t *a)
func (l *Library) aprIsEmptyArray(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	arr := arg(stack, 0)
	if arr == 0 || m.u32(arr+arrNelts) == 0 {
		ret(stack, 1)
		return
	}
	ret(stack, 0)
}

// arrayPointers reads an array of pointers.
func arrayPointers(m mem, arr uint32) []uint32 {
	if arr == 0 {
		return nil
	}
	n := m.u32(arr + arrNelts)
	elts := m.u32(arr + arrElts)
	out := make([]uint32, n)
	for i := range out {
		out[i] = m.u32(elts + uint32(i)*4)
	}
	return out
}
