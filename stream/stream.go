package stream

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/invoke"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
	"github.com/wippyai/svn-ffi/registry"
	"github.com/wippyai/svn-ffi/svnerr"
)

// bufSize is the transfer window for Read and Write on the Go side.
const bufSize = 16384

// Descriptor wraps an svn_stream_t address as a *Stream. Streams read this
// way use context.Background until WithContext.
var Descriptor = marshal.Handle("svn_stream_t", func(h pool.Handle) any {
	return Open(context.Background(), h)
})

var (
	create = &invoke.Binding{
		Symbol:  "svn_stream_create",
		Params:  []marshal.Descriptor{marshal.Uint32},
		Returns: marshal.Handle("svn_stream_t", nil),
		MapArgs: invoke.AppendPool,
	}
	setRead  = &invoke.Binding{Symbol: "svn_stream_set_read", Params: []marshal.Descriptor{marshal.Pointer}}
	setWrite = &invoke.Binding{Symbol: "svn_stream_set_write", Params: []marshal.Descriptor{marshal.Pointer}}
	setClose = &invoke.Binding{Symbol: "svn_stream_set_close", Params: []marshal.Descriptor{marshal.Pointer}}
	closeFn  = &invoke.Binding{Symbol: "svn_stream_close", Validate: svnerr.Validate}
	copy3    = &invoke.Binding{
		Symbol:   "svn_stream_copy3",
		Params:   []marshal.Descriptor{Descriptor, marshal.Pointer, marshal.Pointer},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
)

// Stream is an svn_stream_t. A Stream is an io.ReadWriteCloser for Go code
// and must not be used from several goroutines at once.
type Stream struct {
	ctx context.Context
	h   pool.Handle
	tok registry.Token

	// transfer window, allocated in the stream's pool on first use
	buf  uint32
	lenp uint32
	eof  bool
}

// Wrap creates a native stream in p backed by obj, which must be an
// io.Reader, an io.Writer or both. If obj is also an io.Closer it is closed
// when the native stream is. The object stays registered until the stream
// is closed or p is destroyed.
func Wrap(ctx context.Context, p *pool.Pool, obj any) (*Stream, error) {
	_, canRead := obj.(io.Reader)
	_, canWrite := obj.(io.Writer)
	if !canRead && !canWrite {
		return nil, errors.New(errors.PhaseCallback, errors.KindInvalidInput).
			GoType(typeName(obj)).
			Detail("stream object is neither an io.Reader nor an io.Writer").
			Build()
	}

	b := &baton{obj: obj, pool: p}
	tok, err := registry.Default.Register(b)
	if err != nil {
		return nil, errors.Registration(errors.PhaseCallback, "stream", typeName(obj), err)
	}
	s, err := wrap(ctx, p, b, tok, canRead, canWrite)
	if err != nil {
		registry.Default.ReleaseIf(tok, b)
		return nil, err
	}
	return s, nil
}

func wrap(ctx context.Context, p *pool.Pool, b *baton, tok registry.Token, canRead, canWrite bool) (*Stream, error) {
	lib := p.Library()
	h, ok, err := invoke.As[pool.Handle](create.Invoke(ctx, p, invoke.NoReceiver, uint32(tok)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pool.ErrOutOfMemory
	}
	s := &Stream{ctx: ctx, h: h, tok: tok}

	install := []struct {
		set  *invoke.Binding
		name string
		want bool
	}{
		{setRead, ReadCallback, canRead},
		{setWrite, WriteCallback, canWrite},
		{setClose, CloseCallback, true},
	}
	for _, in := range install {
		if !in.want {
			continue
		}
		fn, err := lib.FuncPtr(in.name)
		if err != nil {
			return nil, err
		}
		if _, err := in.set.Invoke(ctx, p, s, fn); err != nil {
			return nil, err
		}
	}

	if err := p.AddCleanup(func() { registry.Default.ReleaseIf(tok, b) }); err != nil {
		return nil, err
	}
	engine.Logger().Debug("stream wrapped",
		zap.Uint32("token", uint32(tok)),
		zap.String("object", typeName(b.obj)))
	return s, nil
}

// Open adapts a stream the native library produced.
func Open(ctx context.Context, h pool.Handle) *Stream {
	return &Stream{ctx: ctx, h: h}
}

// Addr returns the svn_stream_t address.
func (s *Stream) Addr() (uint32, error) {
	return s.h.Addr()
}

// Token returns the registry token of a wrapped Go object, or zero for a
// native stream.
func (s *Stream) Token() registry.Token {
	return s.tok
}

// WithContext returns a copy of s that makes native calls under ctx.
func (s *Stream) WithContext(ctx context.Context) *Stream {
	c := *s
	c.ctx = ctx
	return &c
}

func (s *Stream) window() error {
	if s.buf != 0 {
		return nil
	}
	p := s.h.Pool()
	if p == nil {
		return errors.NilPointer(errors.PhaseCallback, []string{"svn_stream_t"}, "*stream.Stream")
	}
	buf, err := p.Alloc(s.ctx, bufSize, 1)
	if err != nil {
		return err
	}
	lenp, err := p.Alloc(s.ctx, 4, 4)
	if err != nil {
		return err
	}
	s.buf, s.lenp = buf, lenp
	return nil
}

// Read implements io.Reader with svn_stream_read. A short native read marks
// the end of the stream.
func (s *Stream) Read(b []byte) (int, error) {
	if s.eof {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}
	addr, err := s.h.Addr()
	if err != nil {
		return 0, err
	}
	if err := s.window(); err != nil {
		return 0, err
	}
	lib := s.h.Pool().Library()
	mem := lib.Memory()

	want := uint32(min(len(b), bufSize))
	if err := mem.WriteU32(s.lenp, want); err != nil {
		return 0, err
	}
	ret, err := lib.Call(s.ctx, "svn_stream_read", uint64(addr), uint64(s.buf), uint64(s.lenp))
	if err != nil {
		return 0, err
	}
	if err := svnerr.Check(s.ctx, lib, uint32(ret)); err != nil {
		return 0, err
	}
	got, err := mem.ReadU32(s.lenp)
	if err != nil {
		return 0, err
	}
	if got < want {
		s.eof = true
	}
	if got == 0 {
		return 0, io.EOF
	}
	data, err := mem.Read(s.buf, got)
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

// Write implements io.Writer with svn_stream_write.
func (s *Stream) Write(b []byte) (int, error) {
	addr, err := s.h.Addr()
	if err != nil {
		return 0, err
	}
	if err := s.window(); err != nil {
		return 0, err
	}
	lib := s.h.Pool().Library()
	mem := lib.Memory()

	var total int
	for len(b) > 0 {
		chunk := b[:min(len(b), bufSize)]
		if err := mem.Write(s.buf, chunk); err != nil {
			return total, err
		}
		if err := mem.WriteU32(s.lenp, uint32(len(chunk))); err != nil {
			return total, err
		}
		ret, err := lib.Call(s.ctx, "svn_stream_write", uint64(addr), uint64(s.buf), uint64(s.lenp))
		if err != nil {
			return total, err
		}
		if err := svnerr.Check(s.ctx, lib, uint32(ret)); err != nil {
			n, _ := mem.ReadU32(s.lenp)
			return total + int(min(n, uint32(len(chunk)))), err
		}
		total += len(chunk)
		b = b[len(chunk):]
	}
	return total, nil
}

// Close closes the native stream, which closes and releases a wrapped Go
// object. Closing twice is harmless.
func (s *Stream) Close() error {
	p := s.h.Pool()
	if p == nil {
		return nil
	}
	_, err := closeFn.Invoke(s.ctx, p, s)
	return err
}

// ReadAll reads s to the end.
func ReadAll(ctx context.Context, s *Stream) ([]byte, error) {
	return io.ReadAll(s.WithContext(ctx))
}

// Copy copies from to to natively with svn_stream_copy3 and closes both.
// Scratch memory comes from p.
func Copy(ctx context.Context, p *pool.Pool, from, to *Stream) error {
	_, err := copy3.Invoke(ctx, p, from, to, uint32(0), uint32(0))
	return err
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
