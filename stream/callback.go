package stream

import (
	"bytes"
	"context"
	"io"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/internal/libsvn"
	"github.com/wippyai/svn-ffi/pool"
	"github.com/wippyai/svn-ffi/registry"
	"github.com/wippyai/svn-ffi/svnerr"
)

// Native names of the stream callbacks.
const (
	ReadCallback  = "svnffi_stream_read"
	WriteCallback = "svnffi_stream_write"
	CloseCallback = "svnffi_stream_close"
)

func init() {
	engine.RegisterCallback(engine.Callback{Name: ReadCallback, Sig: libsvn.ReadFn, Fn: onRead})
	engine.RegisterCallback(engine.Callback{Name: WriteCallback, Sig: libsvn.WriteFn, Fn: onWrite})
	engine.RegisterCallback(engine.Callback{Name: CloseCallback, Sig: libsvn.CloseFn, Fn: onClose})
}

// baton is what a stream token resolves to.
type baton struct {
	obj  any
	pool *pool.Pool
}

func lookup(stack []uint64) (*baton, registry.Token, bool) {
	tok := registry.Token(api.DecodeU32(stack[0]))
	v, ok := registry.Default.Resolve(tok)
	if !ok {
		return nil, tok, false
	}
	b, ok := v.(*baton)
	return b, tok, ok
}

// fail stores a new native error in the callback result slot.
func fail(ctx context.Context, stack []uint64, p *pool.Pool, code int32, msg string) {
	if p == nil || !p.Alive() {
		p = pool.Root()
	}
	stack[0] = api.EncodeU32(nativeError(ctx, p, code, msg))
}

// nativeError stages msg in a throwaway child of p; svn_error_create copies
// it into the error's own pool.
func nativeError(ctx context.Context, p *pool.Pool, code int32, msg string) uint32 {
	log := engine.Logger().With(zap.Int32("code", code), zap.String("message", msg))
	scratch, err := pool.Create(ctx, p)
	if err != nil {
		log.Warn("stream callback error dropped", zap.Error(err))
		return 0
	}
	defer func() {
		if err := scratch.Destroy(ctx); err != nil {
			log.Warn("scratch pool destroy failed", zap.Error(err))
		}
	}()
	addr, err := svnerr.New(ctx, scratch, code, 0, msg)
	if err != nil {
		log.Warn("stream callback error dropped", zap.Error(err))
		return 0
	}
	return addr
}

func onRead(ctx context.Context, lib *engine.Library, stack []uint64) {
	b, tok, ok := lookup(stack)
	if !ok {
		fail(ctx, stack, nil, libsvn.SVN_ERR_STREAM_NOT_SUPPORTED, "Read from a released stream")
		return
	}
	r, ok := b.obj.(io.Reader)
	if !ok {
		fail(ctx, stack, b.pool, libsvn.SVN_ERR_STREAM_NOT_SUPPORTED, "Read operation not supported")
		return
	}

	mem := lib.Memory()
	buf, lenp := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
	want, err := mem.ReadU32(lenp)
	if err != nil {
		fail(ctx, stack, b.pool, libsvn.APR_EINVAL, err.Error())
		return
	}
	engine.Logger().Debug("stream read callback",
		zap.Uint32("token", uint32(tok)),
		zap.Uint32("requested", want))

	data := make([]byte, want)
	n, err := io.ReadFull(r, data)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		fail(ctx, stack, b.pool, libsvn.APR_EGENERAL, err.Error())
		return
	}
	if err := mem.Write(buf, data[:n]); err != nil {
		fail(ctx, stack, b.pool, libsvn.APR_EINVAL, err.Error())
		return
	}
	if err := mem.WriteU32(lenp, uint32(n)); err != nil {
		fail(ctx, stack, b.pool, libsvn.APR_EINVAL, err.Error())
		return
	}
	stack[0] = 0
}

func onWrite(ctx context.Context, lib *engine.Library, stack []uint64) {
	b, tok, ok := lookup(stack)
	if !ok {
		fail(ctx, stack, nil, libsvn.SVN_ERR_STREAM_NOT_SUPPORTED, "Write to a released stream")
		return
	}
	w, ok := b.obj.(io.Writer)
	if !ok {
		fail(ctx, stack, b.pool, libsvn.SVN_ERR_STREAM_NOT_SUPPORTED, "Write operation not supported")
		return
	}

	mem := lib.Memory()
	data, lenp := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
	size, err := mem.ReadU32(lenp)
	if err != nil {
		fail(ctx, stack, b.pool, libsvn.APR_EINVAL, err.Error())
		return
	}
	view, err := mem.Read(data, size)
	if err != nil {
		fail(ctx, stack, b.pool, libsvn.APR_EINVAL, err.Error())
		return
	}
	engine.Logger().Debug("stream write callback",
		zap.Uint32("token", uint32(tok)),
		zap.Uint32("offered", size))

	// the view aliases foreign memory, which writers may retain
	n, werr := w.Write(bytes.Clone(view))
	if err := mem.WriteU32(lenp, uint32(n)); err != nil {
		fail(ctx, stack, b.pool, libsvn.APR_EINVAL, err.Error())
		return
	}
	if werr != nil {
		fail(ctx, stack, b.pool, libsvn.SVN_ERR_IO_WRITE_ERROR, werr.Error())
		return
	}
	stack[0] = 0
}

func onClose(ctx context.Context, _ *engine.Library, stack []uint64) {
	b, tok, ok := lookup(stack)
	if !ok {
		stack[0] = 0
		return
	}
	registry.Default.ReleaseIf(tok, b)
	engine.Logger().Debug("stream close callback", zap.Uint32("token", uint32(tok)))

	if c, ok := b.obj.(io.Closer); ok {
		if err := c.Close(); err != nil {
			fail(ctx, stack, b.pool, libsvn.APR_EGENERAL, err.Error())
			return
		}
	}
	stack[0] = 0
}
