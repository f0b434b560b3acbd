package svn

import (
	"context"

	"github.com/wippyai/svn-ffi/invoke"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
	"github.com/wippyai/svn-ffi/stream"
	"github.com/wippyai/svn-ffi/svnerr"
)

// node binds an fs function of the form
// svn_error_t *f(T *out, svn_fs_root_t *root, const char *path, apr_pool_t *pool).
func node(symbol string, out marshal.Descriptor, transform func(any) (any, error)) *invoke.Binding {
	return &invoke.Binding{
		Symbol:    symbol,
		Outs:      []marshal.Descriptor{out},
		Params:    []marshal.Descriptor{marshal.String},
		MapArgs:   invoke.AppendPool,
		Validate:  svnerr.Validate,
		Transform: transform,
	}
}

var (
	isDir        = node("svn_fs_is_dir", marshal.Int32, invoke.Truthy)
	isFile       = node("svn_fs_is_file", marshal.Int32, invoke.Truthy)
	fileLength   = node("svn_fs_file_length", marshal.Filesize, nil)
	fileContents = node("svn_fs_file_contents", marshal.Ref(stream.Descriptor), nil)
	createdRev   = node("svn_fs_node_created_rev", marshal.Revnum, nil)
	createdPath  = node("svn_fs_node_created_path", marshal.Ref(marshal.String), nil)
	nodeProp     = &invoke.Binding{
		Symbol:   "svn_fs_node_prop",
		Outs:     []marshal.Descriptor{marshal.Ref(marshal.CountedString)},
		Params:   []marshal.Descriptor{marshal.String, marshal.String},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
	rootRevision = &invoke.Binding{Symbol: "svn_fs_revision_root_revision", Returns: marshal.Revnum}
	closeRoot    = &invoke.Binding{Symbol: "svn_fs_close_root"}
)

// Root is a filesystem root: a tree of files and directories. Paths are
// relative to the root; a leading slash is accepted.
type Root struct {
	h    pool.Handle
	pool *pool.Pool
}

// Addr returns the svn_fs_root_t address.
func (r *Root) Addr() (uint32, error) {
	return r.h.Addr()
}

// IsDir reports whether path is a directory. A missing path is not.
func (r *Root) IsDir(ctx context.Context, path string) (bool, error) {
	v, _, err := invoke.As[bool](isDir.Invoke(ctx, r.pool, r, path))
	return v, err
}

// IsFile reports whether path is a file. A missing path is not.
func (r *Root) IsFile(ctx context.Context, path string) (bool, error) {
	v, _, err := invoke.As[bool](isFile.Invoke(ctx, r.pool, r, path))
	return v, err
}

// FileSize returns the length of the file at path in bytes.
func (r *Root) FileSize(ctx context.Context, path string) (int64, error) {
	v, _, err := invoke.As[int64](fileLength.Invoke(ctx, r.pool, r, path))
	return v, err
}

// Open returns a stream over the contents of the file at path. The stream
// lives in the root's pool.
func (r *Root) Open(ctx context.Context, path string) (*stream.Stream, error) {
	s, ok, err := invoke.As[*stream.Stream](fileContents.Invoke(ctx, r.pool, r, path))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pool.ErrOutOfMemory
	}
	return s.WithContext(ctx), nil
}

// Contents returns the contents of the file at path.
func (r *Root) Contents(ctx context.Context, path string) ([]byte, error) {
	s, err := r.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return stream.ReadAll(ctx, s)
}

// CreatedRev returns the revision in which path was last changed.
func (r *Root) CreatedRev(ctx context.Context, path string) (int32, error) {
	v, _, err := invoke.As[int32](createdRev.Invoke(ctx, r.pool, r, path))
	return v, err
}

// CreatedPath returns the absolute path under which path was last changed.
func (r *Root) CreatedPath(ctx context.Context, path string) (string, error) {
	v, _, err := invoke.As[string](createdPath.Invoke(ctx, r.pool, r, path))
	return v, err
}

// Prop returns the property name of path and whether it is set.
func (r *Root) Prop(ctx context.Context, path, name string) (string, bool, error) {
	return invoke.As[string](nodeProp.Invoke(ctx, r.pool, r, path, name))
}

// Close releases the root and its pool. Closing twice is harmless.
func (r *Root) Close(ctx context.Context) error {
	if !r.pool.Alive() {
		return nil
	}
	if _, err := closeRoot.Invoke(ctx, r.pool, r); err != nil {
		return err
	}
	return r.pool.Destroy(ctx)
}
