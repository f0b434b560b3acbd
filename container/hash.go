package container

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/multierr"

	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
)

// hashKeyString is APR_HASH_KEY_STRING as an apr_ssize_t argument.
const hashKeyString = 0xffffffff

// Hash is a typed view of an apr_hash_t. Values are stored by pointer.
type Hash[K comparable, V any] struct {
	h   pool.Handle
	key marshal.Descriptor
	val marshal.Descriptor
}

// NewHash creates an empty apr_hash_t in p.
func NewHash[K comparable, V any](ctx context.Context, p *pool.Pool, key, val marshal.Descriptor) (*Hash[K, V], error) {
	addr, err := p.Addr()
	if err != nil {
		return nil, err
	}
	ht, err := p.Library().Call(ctx, "apr_hash_make", uint64(addr))
	if err != nil {
		return nil, err
	}
	if ht == 0 {
		return nil, errors.OutOfMemory(16)
	}
	return WrapHash[K, V](p.Handle(uint32(ht)), key, val), nil
}

// HashFrom creates a hash in p holding every entry of m.
func HashFrom[K comparable, V any](ctx context.Context, p *pool.Pool, m map[K]V, key, val marshal.Descriptor) (*Hash[K, V], error) {
	h, err := NewHash[K, V](ctx, p, key, val)
	if err != nil {
		return nil, err
	}
	if err := h.CopyFrom(ctx, m); err != nil {
		return nil, err
	}
	return h, nil
}

// WrapHash views an existing apr_hash_t, such as one returned through an
// out-parameter.
func WrapHash[K comparable, V any](h pool.Handle, key, val marshal.Descriptor) *Hash[K, V] {
	return &Hash[K, V]{h: h, key: key, val: val}
}

// Addr implements svnffi.Addresser.
func (h *Hash[K, V]) Addr() (uint32, error) {
	return h.h.Addr()
}

// Pool is the pool the hash lives in. Set writes keys and values there.
func (h *Hash[K, V]) Pool() *pool.Pool {
	return h.h.Pool()
}

func (h *Hash[K, V]) codec() *marshal.Codec {
	return marshal.NewCodec(h.h.Pool())
}

func (h *Hash[K, V]) call(ctx context.Context, symbol string, args ...uint64) (uint64, error) {
	return h.h.Pool().Library().Call(ctx, symbol, args...)
}

// keyLength derives the apr_ssize_t key length from the key itself.
func keyLength(key any, d marshal.Descriptor) (uint32, error) {
	switch k := key.(type) {
	case string:
		return hashKeyString, nil
	case []byte:
		return uint32(len(k)), nil
	}
	if d.Fixed() {
		return d.Size(), nil
	}
	return 0, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
		GoType(fmt.Sprintf("%T", key)).
		ForeignType(d.Name).
		Detail("cannot determine hash key length").
		Build()
}

// writeKey stores key with c and returns its address and length.
func (h *Hash[K, V]) writeKey(ctx context.Context, c *marshal.Codec, key K) (uint32, uint32, error) {
	klen, err := keyLength(key, h.key)
	if err != nil {
		return 0, 0, err
	}
	d := h.key
	if _, ok := any(key).(string); ok {
		d = marshal.String
	}
	addr, err := c.Write(ctx, key, d)
	if err != nil {
		return 0, 0, err
	}
	return addr, klen, nil
}

// withKey writes key into a scratch child of the hash pool for the length of
// f. Native code does not keep keys it only looks up.
func (h *Hash[K, V]) withKey(ctx context.Context, key K, f func(ht, k, klen uint32) error) (err error) {
	ht, err := h.h.Addr()
	if err != nil {
		return err
	}
	scratch, err := pool.Create(ctx, h.h.Pool())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, scratch.Destroy(ctx))
	}()
	k, klen, err := h.writeKey(ctx, marshal.NewCodec(scratch), key)
	if err != nil {
		return err
	}
	return f(ht, k, klen)
}

// Get returns the value stored under key and whether it is present.
func (h *Hash[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	var ptr uint64
	err := h.withKey(ctx, key, func(ht, k, klen uint32) (err error) {
		ptr, err = h.call(ctx, "apr_hash_get", uint64(ht), uint64(k), uint64(klen))
		return err
	})
	if err != nil {
		return zero, false, err
	}
	v, err := h.codec().Read(uint32(ptr), h.val)
	if err != nil {
		return zero, false, err
	}
	return marshal.As[V](v)
}

// Set stores value under key. Key and value are written into the hash pool.
// A nil value deletes the entry.
func (h *Hash[K, V]) Set(ctx context.Context, key K, value V) error {
	ht, err := h.h.Addr()
	if err != nil {
		return err
	}
	c := h.codec()
	k, klen, err := h.writeKey(ctx, c, key)
	if err != nil {
		return err
	}
	v, err := c.Write(ctx, value, h.val)
	if err != nil {
		return err
	}
	_, err = h.call(ctx, "apr_hash_set", uint64(ht), uint64(k), uint64(klen), uint64(v))
	return err
}

// Delete removes key.
func (h *Hash[K, V]) Delete(ctx context.Context, key K) error {
	return h.withKey(ctx, key, func(ht, k, klen uint32) error {
		_, err := h.call(ctx, "apr_hash_set", uint64(ht), uint64(k), uint64(klen), 0)
		return err
	})
}

// CopyFrom sets every entry of m.
func (h *Hash[K, V]) CopyFrom(ctx context.Context, m map[K]V) error {
	for k, v := range m {
		if err := h.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries.
func (h *Hash[K, V]) Len(ctx context.Context) (int, error) {
	ht, err := h.h.Addr()
	if err != nil {
		return 0, err
	}
	n, err := h.call(ctx, "apr_hash_count", uint64(ht))
	return int(uint32(n)), err
}

// Cursor starts a one-shot walk over the entries.
func (h *Hash[K, V]) Cursor(ctx context.Context) (*Cursor[K, V], error) {
	ht, err := h.h.Addr()
	if err != nil {
		return nil, err
	}
	owner, err := h.h.Pool().Addr()
	if err != nil {
		return nil, err
	}
	hi, err := h.call(ctx, "apr_hash_first", uint64(owner), uint64(ht))
	if err != nil {
		return nil, err
	}
	// key, klen and value out-parameters of apr_hash_this
	out, err := h.h.Pool().Alloc(ctx, 12, 4)
	if err != nil {
		return nil, err
	}
	return &Cursor[K, V]{hash: h, hi: h.h.Pool().Handle(uint32(hi)), out: out, pending: hi != 0}, nil
}

// All yields every entry from a fresh cursor. It stops early on a foreign
// error; use Cursor or Snapshot to observe the error.
func (h *Hash[K, V]) All(ctx context.Context) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		c, err := h.Cursor(ctx)
		if err != nil {
			return
		}
		for c.Next(ctx) {
			if !yield(c.Key(), c.Value()) {
				return
			}
		}
	}
}

// Snapshot copies every entry into a Go map that does not depend on foreign
// memory.
func (h *Hash[K, V]) Snapshot(ctx context.Context) (map[K]V, error) {
	c, err := h.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[K]V)
	for c.Next(ctx) {
		out[c.Key()] = c.Value()
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Cursor walks a hash with the native first/next protocol. It cannot be
// restarted once exhausted.
type Cursor[K comparable, V any] struct {
	hash    *Hash[K, V]
	hi      pool.Handle
	key     K
	val     V
	err     error
	out     uint32
	pending bool
	started bool
	done    bool
}

// Next advances to the next entry and reports whether there is one.
func (c *Cursor[K, V]) Next(ctx context.Context) bool {
	if c.done {
		return false
	}
	hi, err := c.hi.Addr()
	if err != nil {
		return c.fail(err)
	}
	if c.started {
		next, err := c.hash.call(ctx, "apr_hash_next", uint64(hi))
		if err != nil {
			return c.fail(err)
		}
		c.pending = next != 0
	}
	c.started = true
	if !c.pending {
		c.done = true
		return false
	}
	if err := c.load(ctx, hi); err != nil {
		return c.fail(err)
	}
	return true
}

func (c *Cursor[K, V]) fail(err error) bool {
	c.err = err
	c.done = true
	return false
}

// load reads the current entry through apr_hash_this.
func (c *Cursor[K, V]) load(ctx context.Context, hi uint32) error {
	p := c.hash.h.Pool()
	out := c.out
	if _, err := c.hash.call(ctx, "apr_hash_this", uint64(hi), uint64(out), uint64(out+4), uint64(out+8)); err != nil {
		return err
	}
	mem := p.Library().Memory()
	keyPtr, err := mem.ReadU32(out)
	if err != nil {
		return err
	}
	klen, err := mem.ReadU32(out + 4)
	if err != nil {
		return err
	}
	valPtr, err := mem.ReadU32(out + 8)
	if err != nil {
		return err
	}

	codec := c.hash.codec()
	kd := c.hash.key
	if kd.Kind == marshal.KindString {
		kd = kd.WithLen(int(klen))
	}
	k, err := codec.Read(keyPtr, kd)
	if err != nil {
		return err
	}
	if c.key, _, err = marshal.As[K](k); err != nil {
		return err
	}
	v, err := codec.Read(valPtr, c.hash.val)
	if err != nil {
		return err
	}
	c.val, _, err = marshal.As[V](v)
	return err
}

// Key returns the current key.
func (c *Cursor[K, V]) Key() K {
	return c.key
}

// Value returns the current value.
func (c *Cursor[K, V]) Value() V {
	return c.val
}

// Err returns the error that ended the walk, if any.
func (c *Cursor[K, V]) Err() error {
	return c.err
}
