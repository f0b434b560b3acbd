package libsvn

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

const (
	streamMagic = 0x4d525453 // "STRM"
	streamSize  = 16
	chunkSize   = 16384
)

type streamState struct {
	pool    uint32
	baton   uint32
	readFn  uint32
	writeFn uint32
	closeFn uint32

	// set for streams the library produces itself
	native bool
	data   []byte
	pos    int

	closed bool
}

// newStream allocates an svn_stream_t. Caller holds l.mu.
func (l *Library) newStream(m mem, p *poolState, s *streamState) uint32 {
	addr := l.palloc(m, p, streamSize)
	if addr == 0 {
		return 0
	}
	m.putU32(addr, streamMagic)
	m.putU32(addr+4, p.addr)
	s.pool = p.addr
	l.streams[addr] = s
	p.onCleanup(func() { delete(l.streams, addr) })
	return addr
}

func (l *Library) stream(addr uint32) *streamState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.streams[addr]
	if !ok {
		panic(fault("not an svn_stream_t"))
	}
	return s
}

// svn_stream_t *svn_stream_create(void *baton, apr_pool_t *pool)
func (l *Library) svnStreamCreate(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	baton, pool := arg(stack, 0), arg(stack, 1)
	addr, abortFn := func() (uint32, uint32) {
		l.mu.Lock()
		defer l.mu.Unlock()
		p, ok := l.pools[pool]
		if !ok {
			panic(fault("svn_stream_create on an unknown pool"))
		}
		return l.newStream(m, p, &streamState{baton: baton}), p.abortFn
	}()
	if addr == 0 {
		abort(ctx, mod, abortFn)
	}
	ret(stack, addr)
}

// void svn_stream_set_read(svn_stream_t *stream, svn_read_fn_t read_fn)
func (l *Library) svnStreamSetRead(_ context.Context, _ api.Module, stack []uint64) {
	s := l.stream(arg(stack, 0))
	l.mu.Lock()
	s.readFn = arg(stack, 1)
	l.mu.Unlock()
}

// void svn_stream_set_write(svn_stream_t *stream, svn_write_fn_t write_fn)
func (l *Library) svnStreamSetWrite(_ context.Context, _ api.Module, stack []uint64) {
	s := l.stream(arg(stack, 0))
	l.mu.Lock()
	s.writeFn = arg(stack, 1)
	l.mu.Unlock()
}

// void svn_stream_set_close(svn_stream_t *stream, svn_close_fn_t close_fn)
func (l *Library) svnStreamSetClose(_ context.Context, _ api.Module, stack []uint64) {
	s := l.stream(arg(stack, 0))
	l.mu.Lock()
	s.closeFn = arg(stack, 1)
	l.mu.Unlock()
}

// streamRead fills buffer with up to *lenp bytes and stores the count read in
// *lenp. A count short of the request means end of stream.
func (l *Library) streamRead(ctx context.Context, mod api.Module, addr, buffer, lenp uint32) uint32 {
	m := memOf(mod)
	s := l.stream(addr)
	if s.closed {
		return l.errorf(mod, SVN_ERR_STREAM_UNEXPECTED_EOF, 0, "Read from a closed stream")
	}
	if s.native {
		want := m.u32(lenp)
		l.mu.Lock()
		n := min(int(want), len(s.data)-s.pos)
		chunk := s.data[s.pos : s.pos+n]
		s.pos += n
		l.mu.Unlock()
		m.put(buffer, chunk)
		m.putU32(lenp, uint32(n))
		return 0
	}
	if s.readFn == 0 {
		return l.errorf(mod, SVN_ERR_STREAM_NOT_SUPPORTED, 0, "Read operation not supported")
	}
	return uint32(call(ctx, mod, ReadFn, s.readFn, uint64(s.baton), uint64(buffer), uint64(lenp)))
}

// streamWrite writes *lenp bytes of data. A handler that accepts fewer bytes
// than offered without reporting an error is turned into a write error.
func (l *Library) streamWrite(ctx context.Context, mod api.Module, addr, data, lenp uint32) uint32 {
	m := memOf(mod)
	s := l.stream(addr)
	if s.closed {
		return l.errorf(mod, SVN_ERR_IO_WRITE_ERROR, 0, "Write to a closed stream")
	}
	if s.native || s.writeFn == 0 {
		return l.errorf(mod, SVN_ERR_STREAM_NOT_SUPPORTED, 0, "Write operation not supported")
	}
	want := m.u32(lenp)
	err := uint32(call(ctx, mod, WriteFn, s.writeFn, uint64(s.baton), uint64(data), uint64(lenp)))
	if err != 0 {
		return err
	}
	if got := m.u32(lenp); got < want {
		return l.errorf(mod, SVN_ERR_IO_WRITE_ERROR, 0, "Short write: %d of %d bytes accepted", got, want)
	}
	return 0
}

func (l *Library) streamClose(ctx context.Context, mod api.Module, addr uint32) uint32 {
	s := l.stream(addr)
	l.mu.Lock()
	if s.closed {
		l.mu.Unlock()
		return 0
	}
	s.closed = true
	closeFn := s.closeFn
	l.mu.Unlock()
	if closeFn == 0 {
		return 0
	}
	return uint32(call(ctx, mod, CloseFn, closeFn, uint64(s.baton)))
}

// svn_error_t *svn_stream_read(svn_stream_t *stream, char *buffer,
// apr_size_t *len)
func (l *Library) svnStreamRead(ctx context.Context, mod api.Module, stack []uint64) {
	ret(stack, l.streamRead(ctx, mod, arg(stack, 0), arg(stack, 1), arg(stack, 2)))
}

// svn_error_t *svn_stream_write(svn_stream_t *stream, const char *data,
// apr_size_t *len)
func (l *Library) svnStreamWrite(ctx context.Context, mod api.Module, stack []uint64) {
	ret(stack, l.streamWrite(ctx, mod, arg(stack, 0), arg(stack, 1), arg(stack, 2)))
}

// svn_error_t *svn_stream_close(svn_stream_t *stream)
func (l *Library) svnStreamClose(ctx context.Context, mod api.Module, stack []uint64) {
	ret(stack, l.streamClose(ctx, mod, arg(stack, 0)))
}

// svn_error_t *svn_stream_copy3(svn_stream_t *from, svn_stream_t *to,
// svn_cancel_func_t cancel_func, void *cancel_baton, apr_pool_t *pool)
func (l *Library) svnStreamCopy3(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	from, to, pool := arg(stack, 0), arg(stack, 1), arg(stack, 4)

	buf := l.allocIn(ctx, mod, pool, chunkSize)
	lenp := l.allocIn(ctx, mod, pool, 4)
	if buf == 0 || lenp == 0 {
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}

	var err uint32
	for err == 0 {
		m.putU32(lenp, chunkSize)
		if err = l.streamRead(ctx, mod, from, buf, lenp); err != 0 {
			break
		}
		n := m.u32(lenp)
		if n > 0 {
			err = l.streamWrite(ctx, mod, to, buf, lenp)
		}
		if n < chunkSize {
			break
		}
	}

	closeFrom := l.streamClose(ctx, mod, from)
	closeTo := l.streamClose(ctx, mod, to)
	switch {
	case err != 0:
		ret(stack, err)
	case closeFrom != 0:
		ret(stack, closeFrom)
	default:
		ret(stack, closeTo)
	}
}

// nativeStream creates a read-only stream over data in pool.
func (l *Library) nativeStream(m mem, pool uint32, data []byte) (addr, abortFn uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[pool]
	if !ok {
		panic(fault("allocation in an unknown pool"))
	}
	return l.newStream(m, p, &streamState{native: true, data: data}), p.abortFn
}
