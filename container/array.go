package container

import (
	"context"
	"iter"

	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
)

// apr_array_header_t field offsets.
const (
	arrNelts = 8
	arrElts  = 16
)

// Array is a typed view of an apr_array_header_t whose elements are pointers
// to values described by elem.
type Array[T any] struct {
	h    pool.Handle
	elem marshal.Descriptor
}

// NewArray creates an empty array in p with room for capacity elements.
func NewArray[T any](ctx context.Context, p *pool.Pool, capacity int, elem marshal.Descriptor) (*Array[T], error) {
	addr, err := p.Addr()
	if err != nil {
		return nil, err
	}
	if capacity < 0 || capacity > 1<<24 {
		return nil, errors.InvalidInput(errors.PhaseMarshal, "array capacity out of range")
	}
	arr, err := p.Library().Call(ctx, "apr_array_make", uint64(addr), uint64(capacity), 4)
	if err != nil {
		return nil, err
	}
	if arr == 0 {
		return nil, errors.OutOfMemory(uint32(capacity) * 4)
	}
	return WrapArray[T](p.Handle(uint32(arr)), elem), nil
}

// ArrayFrom creates an array in p holding the elements of s in order.
func ArrayFrom[T any](ctx context.Context, p *pool.Pool, s []T, elem marshal.Descriptor) (*Array[T], error) {
	a, err := NewArray[T](ctx, p, len(s), elem)
	if err != nil {
		return nil, err
	}
	for _, v := range s {
		if err := a.Push(ctx, v); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// WrapArray views an existing array of pointers.
func WrapArray[T any](h pool.Handle, elem marshal.Descriptor) *Array[T] {
	return &Array[T]{h: h, elem: elem}
}

// Addr implements svnffi.Addresser.
func (a *Array[T]) Addr() (uint32, error) {
	return a.h.Addr()
}

// Push appends v. Its foreign copy is written into the array's pool.
func (a *Array[T]) Push(ctx context.Context, v T) error {
	arr, err := a.h.Addr()
	if err != nil {
		return err
	}
	p := a.h.Pool()
	ptr, err := marshal.NewCodec(p).Write(ctx, v, a.elem)
	if err != nil {
		return err
	}
	slot, err := p.Library().Call(ctx, "apr_array_push", uint64(arr))
	if err != nil {
		return err
	}
	if slot == 0 {
		return errors.OutOfMemory(4)
	}
	return p.Library().Memory().WriteU32(uint32(slot), ptr)
}

// Pop removes the last element. It reports false on an empty array.
func (a *Array[T]) Pop(ctx context.Context) (T, bool, error) {
	var zero T
	arr, err := a.h.Addr()
	if err != nil {
		return zero, false, err
	}
	p := a.h.Pool()
	slot, err := p.Library().Call(ctx, "apr_array_pop", uint64(arr))
	if err != nil || slot == 0 {
		return zero, false, err
	}
	ptr, err := p.Library().Memory().ReadU32(uint32(slot))
	if err != nil {
		return zero, false, err
	}
	v, err := marshal.NewCodec(p).Read(ptr, a.elem)
	if err != nil {
		return zero, false, err
	}
	// a present element may still point at NULL
	got, _, err := marshal.As[T](v)
	return got, err == nil, err
}

// Len returns the element count.
func (a *Array[T]) Len() (int, error) {
	arr, err := a.h.Addr()
	if err != nil {
		return 0, err
	}
	n, err := a.h.Pool().Library().Memory().ReadU32(arr + arrNelts)
	return int(n), err
}

// Empty reports whether the array has no elements.
func (a *Array[T]) Empty(ctx context.Context) (bool, error) {
	arr, err := a.h.Addr()
	if err != nil {
		return false, err
	}
	r, err := a.h.Pool().Library().Call(ctx, "apr_is_empty_array", uint64(arr))
	return r != 0, err
}

// At returns element i.
func (a *Array[T]) At(i int) (T, error) {
	var zero T
	n, err := a.Len()
	if err != nil {
		return zero, err
	}
	if i < 0 || i >= n {
		return zero, errors.OutOfBounds(errors.PhaseUnmarshal, nil, i, n)
	}
	arr, _ := a.h.Addr()
	mem := a.h.Pool().Library().Memory()
	elts, err := mem.ReadU32(arr + arrElts)
	if err != nil {
		return zero, err
	}
	ptr, err := mem.ReadU32(elts + uint32(i)*4)
	if err != nil {
		return zero, err
	}
	v, err := marshal.NewCodec(a.h.Pool()).Read(ptr, a.elem)
	if err != nil {
		return zero, err
	}
	got, _, err := marshal.As[T](v)
	return got, err
}

// All yields every element in order. It stops early on error.
func (a *Array[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		n, err := a.Len()
		if err != nil {
			return
		}
		for i := range n {
			v, err := a.At(i)
			if err != nil || !yield(i, v) {
				return
			}
		}
	}
}

// Snapshot copies every element into a Go slice.
func (a *Array[T]) Snapshot() ([]T, error) {
	n, err := a.Len()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := range n {
		v, err := a.At(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
