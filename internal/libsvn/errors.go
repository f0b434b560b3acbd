package libsvn

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/tetratelabs/wazero/api"
)

// svn_error_t field offsets.
const (
	errAprErr  = 0
	errMessage = 4
	errChild   = 8
	errPool    = 12
	errFile    = 16
	errLine    = 20
	errSize    = 24
)

// cstrIn copies s into p as a NUL-terminated string. Caller holds l.mu.
func (l *Library) cstrIn(m mem, p *poolState, s string) uint32 {
	addr := l.palloc(m, p, uint32(len(s))+1)
	if addr == 0 {
		return 0
	}
	m.put(addr, []byte(s))
	return addr
}

// newError builds an svn_error_t. Chains share the pool of their innermost
// error so clearing the top clears the whole chain.
func (l *Library) newError(m mem, code int32, child uint32, msg *string, file string, line int) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pool uint32
	if child != 0 {
		pool = m.u32(child + errPool)
	} else {
		var ok bool
		if pool, ok = l.createPool(m, 0, 0); !ok {
			panic(fault("out of memory creating an error"))
		}
	}
	p, ok := l.pools[pool]
	if !ok {
		panic(fault("error chain refers to a cleared pool"))
	}
	addr := l.palloc(m, p, errSize)
	if addr == 0 {
		panic(fault("out of memory creating an error"))
	}
	m.putI32(addr+errAprErr, code)
	if msg != nil {
		m.putU32(addr+errMessage, l.cstrIn(m, p, *msg))
	}
	m.putU32(addr+errChild, child)
	m.putU32(addr+errPool, pool)
	if file != "" {
		m.putU32(addr+errFile, l.cstrIn(m, p, file))
	}
	m.putI32(addr+errLine, int32(line))
	return addr
}

// errorf creates an error with a formatted message, recording the native
// source location of the caller.
func (l *Library) errorf(mod api.Module, code int32, child uint32, format string, args ...any) uint32 {
	msg := fmt.Sprintf(format, args...)
	file, line := where()
	return l.newError(memOf(mod), code, child, &msg, file, line)
}

// errorCode creates an error whose message is left to svn_strerror.
func (l *Library) errorCode(mod api.Module, code int32, child uint32) uint32 {
	file, line := where()
	return l.newError(memOf(mod), code, child, nil, file, line)
}

func where() (string, int) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "", 0
	}
	return "libsvn/" + filepath.Base(file), line
}

// svn_error_t *svn_error_create(apr_status_t apr_err, svn_error_t *child,
// const char *message)
func (l *Library) svnErrorCreate(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	code, child := int32(arg(stack, 0)), arg(stack, 1)
	var msg *string
	if s, ok := m.optCstr(arg(stack, 2)); ok {
		msg = &s
	}
	ret(stack, l.newError(m, code, child, msg, "", 0))
}

// void svn_error_clear(svn_error_t *error)
func (l *Library) svnErrorClear(_ context.Context, mod api.Module, stack []uint64) {
	err := arg(stack, 0)
	if err == 0 {
		return
	}
	m := memOf(mod)
	pool := m.u32(err + errPool)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyPool(m, pool)
}

// char *svn_strerror(apr_status_t statcode, char *buf, apr_size_t bufsize)
func (l *Library) svnStrerror(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	code, buf, size := int32(arg(stack, 0)), arg(stack, 1), arg(stack, 2)
	if size == 0 {
		ret(stack, buf)
		return
	}
	msg := []byte(Strerror(code))
	if uint32(len(msg)) > size-1 {
		msg = msg[:size-1]
	}
	m.put(buf, append(msg, 0))
	ret(stack, buf)
}

// svnStringIn allocates an svn_string_t holding data. Caller holds l.mu.
func (l *Library) svnStringIn(m mem, p *poolState, data []byte) uint32 {
	s := l.palloc(m, p, 8)
	if s == 0 {
		return 0
	}
	buf := l.palloc(m, p, uint32(len(data))+1)
	if buf == 0 {
		return 0
	}
	m.put(buf, data)
	m.putU32(s, buf)
	m.putU32(s+4, uint32(len(data)))
	return s
}

// svn_string_t *svn_string_ncreate(const char *bytes, apr_size_t size,
// apr_pool_t *pool)
func (l *Library) svnStringNcreate(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	data := m.bytes(arg(stack, 0), arg(stack, 1))
	s, abortFn := l.stringLocked(m, arg(stack, 2), data)
	if s == 0 {
		abort(ctx, mod, abortFn)
	}
	ret(stack, s)
}

func (l *Library) stringLocked(m mem, pool uint32, data []byte) (addr, abortFn uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[pool]
	if !ok {
		panic(fault("allocation in an unknown pool"))
	}
	return l.svnStringIn(m, p, data), p.abortFn
}
