package pool

import "github.com/wippyai/svn-ffi/errors"

// Handle is a non-owning reference to foreign memory inside a pool. The zero
// Handle is NULL.
type Handle struct {
	pool  *Pool
	addr  uint32
	epoch uint64
}

// Addr returns the address, or an error matching ErrPoolDestroyed if the
// pool was destroyed or cleared since the handle was made.
func (h Handle) Addr() (uint32, error) {
	if h.addr == 0 {
		return 0, nil
	}
	tree.Lock()
	defer tree.Unlock()
	if h.pool.dead {
		return 0, errors.PoolDestroyed(h.pool.String())
	}
	if h.pool.epoch != h.epoch {
		return 0, errors.StaleHandle(h.addr, h.epoch, h.pool.epoch)
	}
	return h.addr, nil
}

// Pool returns the owning pool, or nil for NULL.
func (h Handle) Pool() *Pool {
	return h.pool
}

// IsNull reports whether h refers to address zero.
func (h Handle) IsNull() bool {
	return h.addr == 0
}

// Valid reports whether Addr would succeed.
func (h Handle) Valid() bool {
	_, err := h.Addr()
	return err == nil
}
