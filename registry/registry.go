package registry

import (
	"sync"

	"github.com/wippyai/svn-ffi/errors"
)

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New(errors.PhaseRegistry, errors.KindDestroyed).
	Detail("registry closed").
	Build()

// Token identifies a registered object. Zero is never issued.
type Token uint32

// Registry maps tokens to managed objects.
type Registry struct {
	entries  []entry
	freeList []Token
	live     int
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value any
	valid bool
}

// Default is the registry used by the callback bridge.
var Default = New()

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries:  make([]entry, 0, 64),
		freeList: make([]Token, 0, 16),
	}
}

// Register stores v and returns its token.
func (r *Registry) Register(v any) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}

	r.live++
	e := entry{value: v, valid: true}
	if n := len(r.freeList); n > 0 {
		tok := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.entries[tok-1] = e
		return tok, nil
	}
	r.entries = append(r.entries, e)
	return Token(len(r.entries)), nil
}

// Resolve returns the object registered under tok.
func (r *Registry) Resolve(tok Token) (any, bool) {
	if tok == 0 {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := int(tok) - 1
	if idx >= len(r.entries) || !r.entries[idx].valid {
		return nil, false
	}
	return r.entries[idx].value, true
}

// Release forgets tok and returns the object it referred to. Releasing an
// unknown or already released token reports false.
func (r *Registry) Release(tok Token) (any, bool) {
	if tok == 0 {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := int(tok) - 1
	if idx >= len(r.entries) || !r.entries[idx].valid {
		return nil, false
	}
	v := r.entries[idx].value
	r.entries[idx] = entry{}
	r.freeList = append(r.freeList, tok)
	r.live--
	return v, true
}

// ReleaseIf releases tok only while it still refers to v, so a stale
// release cannot drop a later registration that reused the token. v must be
// comparable.
func (r *Registry) ReleaseIf(tok Token, v any) bool {
	if tok == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := int(tok) - 1
	if idx >= len(r.entries) || !r.entries[idx].valid || r.entries[idx].value != v {
		return false
	}
	r.entries[idx] = entry{}
	r.freeList = append(r.freeList, tok)
	r.live--
	return true
}

// Len returns the number of live tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Close releases every token. Later Register calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.entries = nil
	r.freeList = nil
	r.live = 0
}
