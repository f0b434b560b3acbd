package svn

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/invoke"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
	"github.com/wippyai/svn-ffi/stream"
	"github.com/wippyai/svn-ffi/svnerr"
)

// svn_diff_file_options_t field offsets.
const (
	optIgnoreSpace    = 0
	optIgnoreEOLStyle = 4
	optShowCFunction  = 8
)

// IgnoreSpace selects how whitespace differences are treated.
type IgnoreSpace int32

const (
	IgnoreSpaceNone   IgnoreSpace = 0 // whitespace is significant
	IgnoreSpaceChange IgnoreSpace = 1 // runs of whitespace compare equal
	IgnoreSpaceAll    IgnoreSpace = 2 // whitespace is ignored
)

// FileOptions configures FileDiff.
type FileOptions struct {
	IgnoreSpace    IgnoreSpace
	IgnoreEOLStyle bool
	ShowCFunction  bool
}

var diffHandle = marshal.Handle("svn_diff_t", nil)

var (
	fileOptionsCreate = &invoke.Binding{
		Symbol:  "svn_diff_file_options_create",
		Returns: marshal.Pointer,
		MapArgs: invoke.AppendPool,
	}
	fileDiff = &invoke.Binding{
		Symbol:   "svn_diff_file_diff_2",
		Outs:     []marshal.Descriptor{marshal.Ref(diffHandle)},
		Params:   []marshal.Descriptor{marshal.String, marshal.String, marshal.Pointer},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
	containsDiffs     = &invoke.Binding{Symbol: "svn_diff_contains_diffs", Transform: invoke.Truthy}
	containsConflicts = &invoke.Binding{Symbol: "svn_diff_contains_conflicts", Transform: invoke.Truthy}
	outputUnified     = &invoke.Binding{
		Symbol: "svn_diff_file_output_unified3",
		Params: []marshal.Descriptor{
			diffHandle,
			marshal.String, marshal.String, // paths
			marshal.String, marshal.String, // headers
			marshal.String, marshal.String, // encoding, relative_to
			marshal.Bool,
		},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
)

// Diff is a line diff of two files. It lives in the pool it was made in.
type Diff struct {
	h        pool.Handle
	pool     *pool.Pool
	original string
	modified string
	opts     FileOptions
}

// FileDiff diffs the files at original and modified. A nil p means the root
// pool, and nil opts the defaults.
func FileDiff(ctx context.Context, p *pool.Pool, original, modified string, opts *FileOptions) (*Diff, error) {
	p, err := parentOr(p)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &FileOptions{}
	}
	if opts.IgnoreSpace < IgnoreSpaceNone || opts.IgnoreSpace > IgnoreSpaceAll {
		return nil, errors.InvalidInput(errors.PhaseMarshal, "unknown ignore-space mode")
	}

	optAddr, err := fileOptions(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	h, ok, err := invoke.As[pool.Handle](fileDiff.Invoke(ctx, p, invoke.NoReceiver,
		optional(original), optional(modified), optAddr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pool.ErrOutOfMemory
	}
	return &Diff{h: h, pool: p, original: original, modified: modified, opts: *opts}, nil
}

// fileOptions allocates an svn_diff_file_options_t in p and fills it in.
func fileOptions(ctx context.Context, p *pool.Pool, opts *FileOptions) (uint32, error) {
	addr, ok, err := invoke.As[marshal.Address](fileOptionsCreate.Invoke(ctx, p, invoke.NoReceiver))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, pool.ErrOutOfMemory
	}
	mem := p.Library().Memory()
	fields := []struct {
		off uint32
		val uint32
	}{
		{optIgnoreSpace, uint32(opts.IgnoreSpace)},
		{optIgnoreEOLStyle, flag(opts.IgnoreEOLStyle)},
		{optShowCFunction, flag(opts.ShowCFunction)},
	}
	for _, f := range fields {
		if err := mem.WriteU32(uint32(addr)+f.off, f.val); err != nil {
			return 0, err
		}
	}
	return uint32(addr), nil
}

func flag(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Addr returns the svn_diff_t address.
func (d *Diff) Addr() (uint32, error) {
	return d.h.Addr()
}

// Changed reports whether the files differ.
func (d *Diff) Changed(ctx context.Context) (bool, error) {
	v, _, err := invoke.As[bool](containsDiffs.Invoke(ctx, d.pool, d))
	return v, err
}

// Conflicts reports whether the diff has conflicts. Two-way diffs have none.
func (d *Diff) Conflicts(ctx context.Context) (bool, error) {
	v, _, err := invoke.As[bool](containsConflicts.Invoke(ctx, d.pool, d))
	return v, err
}

// UnifiedOptions configures unified output.
type UnifiedOptions struct {
	// OriginalHeader and ModifiedHeader replace the file paths in the
	// "---" and "+++" lines.
	OriginalHeader string
	ModifiedHeader string

	// RelativeTo is stripped from the file paths in default headers.
	RelativeTo string

	// Encoding of the headers. Defaults to utf-8.
	Encoding string
}

const defaultEncoding = "utf-8"

// Unified renders the diff in unified format. Equal files render as "".
func (d *Diff) Unified(ctx context.Context, opts UnifiedOptions) (string, error) {
	var buf bytes.Buffer
	if err := d.WriteUnified(ctx, &buf, opts); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteUnified writes the unified diff to w through a native stream.
func (d *Diff) WriteUnified(ctx context.Context, w io.Writer, opts UnifiedOptions) error {
	if opts.Encoding == "" {
		opts.Encoding = defaultEncoding
	}
	scratch, err := pool.Create(ctx, d.pool)
	if err != nil {
		return err
	}
	defer func() {
		if err := scratch.Destroy(ctx); err != nil {
			engine.Logger().Warn("diff output pool destroy failed", zap.Error(err))
		}
	}()

	out, err := stream.Wrap(ctx, scratch, writerOnly{w})
	if err != nil {
		return err
	}
	_, err = outputUnified.Invoke(ctx, scratch, out,
		d,
		d.original, d.modified,
		optional(opts.OriginalHeader), optional(opts.ModifiedHeader),
		opts.Encoding, optional(opts.RelativeTo),
		d.opts.ShowCFunction,
	)
	return err
}

// writerOnly hides any Reader or Closer the destination implements, so the
// native stream neither reads from it nor closes it.
type writerOnly struct {
	io.Writer
}
