package svn

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/container"
	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/invoke"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
	"github.com/wippyai/svn-ffi/svnerr"
)

var rootHandle = marshal.Handle("svn_fs_root_t", nil)

var (
	youngestRev = &invoke.Binding{
		Symbol:   "svn_fs_youngest_rev",
		Outs:     []marshal.Descriptor{marshal.Revnum},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
	revisionRoot = &invoke.Binding{
		Symbol:   "svn_fs_revision_root",
		Outs:     []marshal.Descriptor{marshal.Ref(rootHandle)},
		Params:   []marshal.Descriptor{marshal.Revnum},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
	revisionProplist = &invoke.Binding{
		Symbol:   "svn_fs_revision_proplist",
		Outs:     []marshal.Descriptor{marshal.Ref(hashHandle)},
		Params:   []marshal.Descriptor{marshal.Revnum},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
)

// Revision properties set by every commit.
const (
	PropDate   = "svn:date"
	PropAuthor = "svn:author"
	PropLog    = "svn:log"
)

// FS is the versioned filesystem of a repository.
type FS struct {
	h    pool.Handle
	repo *Repo
}

// Addr returns the svn_fs_t address.
func (fs *FS) Addr() (uint32, error) {
	return fs.h.Addr()
}

// Youngest returns the head revision number.
func (fs *FS) Youngest(ctx context.Context) (int32, error) {
	rev, _, err := invoke.As[int32](youngestRev.Invoke(ctx, fs.repo.pool, fs))
	return rev, err
}

// Revision opens the root of revision num in a child of the repository
// pool. Close it when done, or let Repo.Close reclaim it.
func (fs *FS) Revision(ctx context.Context, num int32) (*Revision, error) {
	p, err := pool.Create(ctx, fs.repo.pool)
	if err != nil {
		return nil, err
	}
	h, ok, err := invoke.As[pool.Handle](revisionRoot.Invoke(ctx, p, fs, num))
	if err == nil && !ok {
		err = pool.ErrOutOfMemory
	}
	if err != nil {
		if derr := p.Destroy(ctx); derr != nil {
			engine.Logger().Warn("revision pool destroy failed", zap.Int32("revision", num), zap.Error(derr))
		}
		return nil, err
	}
	return &Revision{Root: Root{h: h, pool: p}, fs: fs}, nil
}

// RevisionProps returns the properties of revision num.
func (fs *FS) RevisionProps(ctx context.Context, num int32) (map[string]string, error) {
	scratch, err := pool.Create(ctx, fs.repo.pool)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scratch.Destroy(ctx); err != nil {
			engine.Logger().Warn("proplist pool destroy failed", zap.Error(err))
		}
	}()
	h, ok, err := invoke.As[pool.Handle](revisionProplist.Invoke(ctx, scratch, fs, num))
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]string{}, nil
	}
	return container.WrapHash[string, string](h, marshal.String, marshal.CountedString).Snapshot(ctx)
}

// Revision is the root of one committed revision.
type Revision struct {
	Root
	fs *FS
}

// Num returns the revision number.
func (r *Revision) Num(ctx context.Context) (int32, error) {
	rev, _, err := invoke.As[int32](rootRevision.Invoke(ctx, r.pool, r))
	return rev, err
}

// Props returns the revision properties: date, author and log message.
func (r *Revision) Props(ctx context.Context) (map[string]string, error) {
	num, err := r.Num(ctx)
	if err != nil {
		return nil, err
	}
	return r.fs.RevisionProps(ctx, num)
}
