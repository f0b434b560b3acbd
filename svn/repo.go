package svn

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/container"
	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/invoke"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
	"github.com/wippyai/svn-ffi/svnerr"
)

var (
	reposHandle = marshal.Handle("svn_repos_t", nil)
	fsHandle    = marshal.Handle("svn_fs_t", nil)
	hashHandle  = marshal.Handle("apr_hash_t", nil)
)

var (
	reposCreate = &invoke.Binding{
		Symbol: "svn_repos_create",
		Outs:   []marshal.Descriptor{marshal.Ref(reposHandle)},
		Params: []marshal.Descriptor{
			marshal.String, marshal.String, marshal.String, hashHandle, hashHandle,
		},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
	reposOpen = &invoke.Binding{
		Symbol:   "svn_repos_open",
		Outs:     []marshal.Descriptor{marshal.Ref(reposHandle)},
		Params:   []marshal.Descriptor{marshal.String},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
	reposDelete = &invoke.Binding{
		Symbol:   "svn_repos_delete",
		Params:   []marshal.Descriptor{marshal.String},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
	reposFS = &invoke.Binding{
		Symbol:  "svn_repos_fs",
		Returns: fsHandle,
	}
	commitSimple = &invoke.Binding{
		Symbol: "svn_repos_commit_simple",
		Outs:   []marshal.Descriptor{marshal.Revnum},
		Params: []marshal.Descriptor{
			hashHandle, marshal.Handle("apr_array_header_t", nil), hashHandle, marshal.String, marshal.String,
		},
		MapArgs:  invoke.AppendPool,
		Validate: svnerr.Validate,
	}
)

// Repo is an open repository. It owns a child pool of the pool it was
// opened in; everything read from it lives there until Close.
type Repo struct {
	pool *pool.Pool
	h    pool.Handle
	path string
	fs   *FS
}

// CreateRepo creates an empty repository at path, whose parent directory
// must exist. A nil parent means the root pool. An empty path is passed to
// the native library as NULL and rejected there.
func CreateRepo(ctx context.Context, parent *pool.Pool, path string) (*Repo, error) {
	return openRepo(ctx, parent, path, func(p *pool.Pool) (any, error) {
		return reposCreate.Invoke(ctx, p, invoke.NoReceiver, optional(path), nil, nil, nil, nil)
	})
}

// OpenRepo opens the repository at path.
func OpenRepo(ctx context.Context, parent *pool.Pool, path string) (*Repo, error) {
	return openRepo(ctx, parent, path, func(p *pool.Pool) (any, error) {
		return reposOpen.Invoke(ctx, p, invoke.NoReceiver, optional(path))
	})
}

func openRepo(ctx context.Context, parent *pool.Pool, path string, open func(*pool.Pool) (any, error)) (*Repo, error) {
	p, err := pool.Create(ctx, parent)
	if err != nil {
		return nil, err
	}
	h, ok, err := invoke.As[pool.Handle](open(p))
	if err == nil && !ok {
		err = pool.ErrOutOfMemory
	}
	if err != nil {
		if derr := p.Destroy(ctx); derr != nil {
			engine.Logger().Warn("repository pool destroy failed", zap.String("path", path), zap.Error(derr))
		}
		return nil, err
	}
	engine.Logger().Debug("repository opened", zap.String("path", path), zap.Stringer("pool", p))
	return &Repo{pool: p, h: h, path: path}, nil
}

// DeleteRepo removes the repository at path from disk.
func DeleteRepo(ctx context.Context, parent *pool.Pool, path string) error {
	p, err := parentOr(parent)
	if err != nil {
		return err
	}
	_, err = reposDelete.Invoke(ctx, p, invoke.NoReceiver, optional(path))
	return err
}

// optional maps an empty string to NULL.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Addr returns the svn_repos_t address.
func (r *Repo) Addr() (uint32, error) {
	return r.h.Addr()
}

// Path returns the path the repository was opened with.
func (r *Repo) Path() string {
	return r.path
}

// Pool returns the pool that owns the repository.
func (r *Repo) Pool() *pool.Pool {
	return r.pool
}

// FS returns the repository's filesystem.
func (r *Repo) FS(ctx context.Context) (*FS, error) {
	if r.fs != nil {
		return r.fs, nil
	}
	h, ok, err := invoke.As[pool.Handle](reposFS.Invoke(ctx, r.pool, r))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NilPointer(errors.PhaseInvoke, []string{reposFS.Symbol}, "*svn.FS")
	}
	r.fs = &FS{h: h, repo: r}
	return r.fs, nil
}

// Youngest returns the head revision number.
func (r *Repo) Youngest(ctx context.Context) (int32, error) {
	fs, err := r.FS(ctx)
	if err != nil {
		return 0, err
	}
	return fs.Youngest(ctx)
}

// Revision opens the root of revision num.
func (r *Repo) Revision(ctx context.Context, num int32) (*Revision, error) {
	fs, err := r.FS(ctx)
	if err != nil {
		return nil, err
	}
	return fs.Revision(ctx, num)
}

// Commit describes one commit made with Repo.Commit.
type Commit struct {
	// Files maps paths to new contents. Missing parent directories are
	// created.
	Files map[string][]byte

	// Deletes lists paths to remove, before Files is applied.
	Deletes []string

	// Props maps file paths to properties to set on them.
	Props map[string]map[string]string

	Author  string
	Message string
}

// Commit writes c as a new revision and returns its number.
func (r *Repo) Commit(ctx context.Context, c *Commit) (int32, error) {
	scratch, err := pool.Create(ctx, r.pool)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := scratch.Destroy(ctx); err != nil {
			engine.Logger().Warn("commit pool destroy failed", zap.Error(err))
		}
	}()

	changes, err := container.HashFrom(ctx, scratch, c.Files, marshal.String, marshal.CountedString)
	if err != nil {
		return 0, err
	}
	deletes, err := container.ArrayFrom(ctx, scratch, c.Deletes, marshal.String)
	if err != nil {
		return 0, err
	}
	sets := make(map[string]*container.Hash[string, string], len(c.Props))
	for path, set := range c.Props {
		if sets[path], err = container.HashFrom(ctx, scratch, set, marshal.String, marshal.CountedString); err != nil {
			return 0, err
		}
	}
	props, err := container.HashFrom(ctx, scratch, sets, marshal.String, hashHandle)
	if err != nil {
		return 0, err
	}

	rev, _, err := invoke.As[int32](commitSimple.Invoke(ctx, scratch, r,
		changes, deletes, props, optional(c.Author), optional(c.Message)))
	if err != nil {
		return 0, err
	}
	engine.Logger().Debug("committed",
		zap.String("repository", r.path),
		zap.Int32("revision", rev),
		zap.Int("files", len(c.Files)),
		zap.Int("deletes", len(c.Deletes)))
	return rev, nil
}

// Close destroys the repository's pool and everything read through it.
func (r *Repo) Close(ctx context.Context) error {
	if !r.pool.Alive() {
		return nil
	}
	return r.pool.Destroy(ctx)
}
