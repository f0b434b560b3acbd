package libsvn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"
)

const (
	reposMagic = 0x4f504552 // "REPO"
	fsMagic    = 0x53465346 // "FSFS"
	rootMagic  = 0x544f4f52 // "ROOT"

	repoFormat = "5"
)

type repoState struct {
	path string
	fs   uint32
}

type rootState struct {
	repo *repoState
	snap *snapshot
}

// snapshot is the full tree of one revision as stored in db/revs/N.json.
type snapshot struct {
	Rev   int32                `json:"rev"`
	Props map[string]string    `json:"props"`
	Dirs  map[string]int32     `json:"dirs"`
	Files map[string]*fileNode `json:"files"`
}

type fileNode struct {
	Content []byte            `json:"content"`
	Props   map[string]string `json:"props,omitempty"`
	Created int32             `json:"created"`
}

// failure is a native error waiting to be materialized in linear memory.
type failure struct {
	code int32
	msg  string
}

func fail(code int32, format string, args ...any) *failure {
	return &failure{code: code, msg: fmt.Sprintf(format, args...)}
}

// osFailure maps a Go filesystem error onto an APR status. Missing files
// keep the generic message.
func osFailure(err error, p string) *failure {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &failure{code: APR_ENOENT}
	case errors.Is(err, fs.ErrExist):
		return fail(APR_EEXIST, "'%s' exists and is non-empty", p)
	case errors.Is(err, fs.ErrPermission):
		return fail(APR_EACCES, "Can't create directory '%s'", p)
	default:
		return fail(APR_EGENERAL, "%s", err.Error())
	}
}

// raise materializes f, optionally wrapped by a parent error code.
func (l *Library) raise(mod api.Module, f *failure, wrap int32) uint32 {
	file, line := where()
	m := memOf(mod)
	var msg *string
	if f.msg != "" {
		msg = &f.msg
	}
	err := l.newError(m, f.code, 0, msg, file, line)
	if wrap != 0 {
		err = l.newError(m, wrap, err, nil, file, line)
	}
	return err
}

func cleanPath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

func revPath(repo string, rev int32) string {
	return filepath.Join(repo, "db", "revs", strconv.Itoa(int(rev))+".json")
}

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

func createRepo(p string) *failure {
	if st, err := os.Stat(p); err == nil {
		entries, rerr := os.ReadDir(p)
		if !st.IsDir() || rerr != nil || len(entries) > 0 {
			return osFailure(fs.ErrExist, p)
		}
	} else if err := os.Mkdir(p, 0o755); err != nil {
		return osFailure(err, p)
	}
	if err := os.MkdirAll(filepath.Join(p, "db", "revs"), 0o755); err != nil {
		return osFailure(err, p)
	}
	rev0 := &snapshot{
		Props: map[string]string{"svn:date": now()},
		Dirs:  map[string]int32{"": 0},
		Files: map[string]*fileNode{},
	}
	if f := writeSnapshot(p, rev0); f != nil {
		return f
	}
	if err := os.WriteFile(filepath.Join(p, "format"), []byte(repoFormat+"\n"), 0o644); err != nil {
		return osFailure(err, p)
	}
	return nil
}

func checkRepo(p string) *failure {
	formatFile := filepath.Join(p, "format")
	raw, err := os.ReadFile(formatFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail(APR_ENOENT, "Can't open file '%s'", formatFile)
		}
		return osFailure(err, formatFile)
	}
	if got := strings.TrimSpace(string(raw)); got != repoFormat {
		return fail(SVN_ERR_REPOS_UNSUPPORTED_VERSION, "Expected repository format '%s'; found format '%s'", repoFormat, got)
	}
	return nil
}

func youngest(repo string) (int32, *failure) {
	raw, err := os.ReadFile(filepath.Join(repo, "db", "current"))
	if err != nil {
		return 0, fail(SVN_ERR_FS_CORRUPT, "Can't read '%s'", filepath.Join(repo, "db", "current"))
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fail(SVN_ERR_FS_CORRUPT, "Corrupt current file in '%s'", repo)
	}
	return int32(n), nil
}

func readSnapshot(repo string, rev int32) (*snapshot, *failure) {
	raw, err := os.ReadFile(revPath(repo, rev))
	if err != nil {
		return nil, fail(SVN_ERR_FS_CORRUPT, "Revision file for r%d is missing", rev)
	}
	var s snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fail(SVN_ERR_FS_CORRUPT, "Revision file for r%d is corrupt", rev)
	}
	return &s, nil
}

func writeSnapshot(repo string, s *snapshot) *failure {
	raw, err := json.Marshal(s)
	if err != nil {
		return fail(SVN_ERR_FS_GENERAL, "%s", err.Error())
	}
	if err := os.WriteFile(revPath(repo, s.Rev), raw, 0o644); err != nil {
		return osFailure(err, repo)
	}
	current := filepath.Join(repo, "db", "current")
	if err := os.WriteFile(current, []byte(strconv.Itoa(int(s.Rev))+"\n"), 0o644); err != nil {
		return osFailure(err, current)
	}
	return nil
}

// newRepo allocates the svn_repos_t and svn_fs_t pair in pool.
func (l *Library) newRepo(m mem, pool uint32, p string) (addr, abortFn uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps, ok := l.pools[pool]
	if !ok {
		panic(fault("allocation in an unknown pool"))
	}
	addr = l.palloc(m, ps, 16)
	fsAddr := l.palloc(m, ps, 8)
	if addr == 0 || fsAddr == 0 {
		return 0, ps.abortFn
	}
	m.putU32(addr, reposMagic)
	m.putU32(addr+4, pool)
	m.putU32(addr+8, fsAddr)
	m.putU32(fsAddr, fsMagic)
	m.putU32(fsAddr+4, addr)

	l.repos[addr] = &repoState{path: p, fs: fsAddr}
	l.fss[fsAddr] = addr
	ps.onCleanup(func() {
		delete(l.repos, addr)
		delete(l.fss, fsAddr)
	})
	return addr, ps.abortFn
}

func (l *Library) repoOf(addr uint32) *repoState {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.repos[addr]
	if !ok {
		panic(fault("not an svn_repos_t"))
	}
	return r
}

func (l *Library) repoOfFS(addr uint32) *repoState {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.repos[l.fss[addr]]
	if !ok {
		panic(fault("not an svn_fs_t"))
	}
	return r
}

func (l *Library) rootOf(addr uint32) *rootState {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.roots[addr]
	if !ok {
		panic(fault("not an svn_fs_root_t"))
	}
	return r
}

// svn_error_t *svn_repos_create(svn_repos_t **repos_p, const char *path,
// const char *unused_1, const char *unused_2, apr_hash_t *config,
// apr_hash_t *fs_config, apr_pool_t *pool)
func (l *Library) svnReposCreate(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	out, pool := arg(stack, 0), arg(stack, 6)
	p, ok := m.optCstr(arg(stack, 1))
	if !ok {
		ret(stack, l.raise(mod, fail(SVN_ERR_INCORRECT_PARAMS, "Repository path cannot be nil"), SVN_ERR_REPOS_CREATE_FAILED))
		return
	}
	if f := createRepo(p); f != nil {
		ret(stack, l.raise(mod, f, SVN_ERR_REPOS_CREATE_FAILED))
		return
	}
	addr, abortFn := l.newRepo(m, pool, p)
	if addr == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	m.putU32(out, addr)
	ret(stack, 0)
}

// svn_error_t *svn_repos_open(svn_repos_t **repos_p, const char *path,
// apr_pool_t *pool)
func (l *Library) svnReposOpen(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	out, pool := arg(stack, 0), arg(stack, 2)
	p, ok := m.optCstr(arg(stack, 1))
	if !ok {
		ret(stack, l.errorf(mod, SVN_ERR_INCORRECT_PARAMS, 0, "Repository path cannot be nil"))
		return
	}
	if f := checkRepo(p); f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	addr, abortFn := l.newRepo(m, pool, p)
	if addr == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	m.putU32(out, addr)
	ret(stack, 0)
}

// svn_error_t *svn_repos_delete(const char *path, apr_pool_t *pool)
func (l *Library) svnReposDelete(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	p, ok := m.optCstr(arg(stack, 0))
	if !ok {
		ret(stack, l.errorf(mod, SVN_ERR_INCORRECT_PARAMS, 0, "Repository path cannot be nil"))
		return
	}
	if f := checkRepo(p); f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	if err := os.RemoveAll(p); err != nil {
		ret(stack, l.raise(mod, osFailure(err, p), 0))
		return
	}
	ret(stack, 0)
}

// svn_fs_t *svn_repos_fs(svn_repos_t *repos)
func (l *Library) svnReposFS(_ context.Context, _ api.Module, stack []uint64) {
	ret(stack, l.repoOf(arg(stack, 0)).fs)
}

// svn_error_t *svn_fs_youngest_rev(svn_revnum_t *youngest_p, svn_fs_t *fs,
// apr_pool_t *pool)
func (l *Library) svnFSYoungestRev(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	r := l.repoOfFS(arg(stack, 1))
	rev, f := youngest(r.path)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	m.putI32(arg(stack, 0), rev)
	ret(stack, 0)
}

// svn_error_t *svn_fs_revision_root(svn_fs_root_t **root_p, svn_fs_t *fs,
// svn_revnum_t rev, apr_pool_t *pool)
func (l *Library) svnFSRevisionRoot(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	out, fsAddr, rev, pool := arg(stack, 0), arg(stack, 1), int32(arg(stack, 2)), arg(stack, 3)
	r := l.repoOfFS(fsAddr)
	head, f := youngest(r.path)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	if rev < 0 || rev > head {
		ret(stack, l.errorf(mod, SVN_ERR_FS_NO_SUCH_REVISION, 0, "No such revision %d", rev))
		return
	}
	snap, f := readSnapshot(r.path, rev)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}

	addr, abortFn := func() (uint32, uint32) {
		l.mu.Lock()
		defer l.mu.Unlock()
		ps, ok := l.pools[pool]
		if !ok {
			panic(fault("allocation in an unknown pool"))
		}
		addr := l.palloc(m, ps, 16)
		if addr == 0 {
			return 0, ps.abortFn
		}
		m.putU32(addr, rootMagic)
		m.putU32(addr+4, fsAddr)
		m.putI32(addr+8, rev)
		l.roots[addr] = &rootState{repo: r, snap: snap}
		ps.onCleanup(func() { delete(l.roots, addr) })
		return addr, ps.abortFn
	}()
	if addr == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	m.putU32(out, addr)
	ret(stack, 0)
}

// svn_revnum_t svn_fs_revision_root_revision(svn_fs_root_t *root)
func (l *Library) svnFSRevisionRootRevision(_ context.Context, _ api.Module, stack []uint64) {
	ret(stack, uint32(l.rootOf(arg(stack, 0)).snap.Rev))
}

// void svn_fs_close_root(svn_fs_root_t *root)
func (l *Library) svnFSCloseRoot(_ context.Context, _ api.Module, stack []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.roots, arg(stack, 0))
}

// node resolves path in a root to a file, a directory, or neither.
func (r *rootState) node(p string) (file *fileNode, dir bool) {
	p = cleanPath(p)
	if f, ok := r.snap.Files[p]; ok {
		return f, false
	}
	_, dir = r.snap.Dirs[p]
	return nil, dir
}

func (r *rootState) notFound(p string) *failure {
	return fail(SVN_ERR_FS_NOT_FOUND, "File not found: revision %d, path '/%s'", r.snap.Rev, cleanPath(p))
}

// svn_error_t *svn_fs_is_dir(svn_boolean_t *is_dir, svn_fs_root_t *root,
// const char *path, apr_pool_t *pool)
func (l *Library) svnFSIsDir(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	r := l.rootOf(arg(stack, 1))
	_, dir := r.node(m.cstr(arg(stack, 2)))
	m.putU32(arg(stack, 0), boolean(dir))
	ret(stack, 0)
}

// svn_error_t *svn_fs_is_file(svn_boolean_t *is_file, svn_fs_root_t *root,
// const char *path, apr_pool_t *pool)
func (l *Library) svnFSIsFile(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	r := l.rootOf(arg(stack, 1))
	f, _ := r.node(m.cstr(arg(stack, 2)))
	m.putU32(arg(stack, 0), boolean(f != nil))
	ret(stack, 0)
}

func boolean(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// file resolves path to a file node or a failure.
func (r *rootState) file(p string) (*fileNode, *failure) {
	f, dir := r.node(p)
	switch {
	case f != nil:
		return f, nil
	case dir:
		return nil, fail(SVN_ERR_FS_NOT_FILE, "'/%s' is not a file", cleanPath(p))
	default:
		return nil, r.notFound(p)
	}
}

// svn_error_t *svn_fs_file_length(svn_filesize_t *length_p,
// svn_fs_root_t *root, const char *path, apr_pool_t *pool)
func (l *Library) svnFSFileLength(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	r := l.rootOf(arg(stack, 1))
	f, fl := r.file(m.cstr(arg(stack, 2)))
	if fl != nil {
		ret(stack, l.raise(mod, fl, 0))
		return
	}
	m.putU64(arg(stack, 0), uint64(len(f.Content)))
	ret(stack, 0)
}

// svn_error_t *svn_fs_file_contents(svn_stream_t **contents,
// svn_fs_root_t *root, const char *path, apr_pool_t *pool)
func (l *Library) svnFSFileContents(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	r := l.rootOf(arg(stack, 1))
	f, fl := r.file(m.cstr(arg(stack, 2)))
	if fl != nil {
		ret(stack, l.raise(mod, fl, 0))
		return
	}
	addr, abortFn := l.nativeStream(m, arg(stack, 3), f.Content)
	if addr == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	m.putU32(arg(stack, 0), addr)
	ret(stack, 0)
}

// svn_error_t *svn_fs_node_created_rev(svn_revnum_t *revision,
// svn_fs_root_t *root, const char *path, apr_pool_t *pool)
func (l *Library) svnFSNodeCreatedRev(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	r := l.rootOf(arg(stack, 1))
	p := m.cstr(arg(stack, 2))
	f, dir := r.node(p)
	switch {
	case f != nil:
		m.putI32(arg(stack, 0), f.Created)
	case dir:
		m.putI32(arg(stack, 0), r.snap.Dirs[cleanPath(p)])
	default:
		ret(stack, l.raise(mod, r.notFound(p), 0))
		return
	}
	ret(stack, 0)
}

// svn_error_t *svn_fs_node_created_path(const char **created_path,
// svn_fs_root_t *root, const char *path, apr_pool_t *pool)
func (l *Library) svnFSNodeCreatedPath(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	r := l.rootOf(arg(stack, 1))
	p := m.cstr(arg(stack, 2))
	if f, dir := r.node(p); f == nil && !dir {
		ret(stack, l.raise(mod, r.notFound(p), 0))
		return
	}
	created := "/" + cleanPath(p)
	s := l.allocIn(ctx, mod, arg(stack, 3), uint32(len(created))+1)
	if s == 0 {
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	m.put(s, []byte(created))
	m.putU32(arg(stack, 0), s)
	ret(stack, 0)
}

// svn_error_t *svn_fs_node_prop(svn_string_t **value_p, svn_fs_root_t *root,
// const char *path, const char *propname, apr_pool_t *pool)
func (l *Library) svnFSNodeProp(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	out := arg(stack, 0)
	r := l.rootOf(arg(stack, 1))
	p, name := m.cstr(arg(stack, 2)), m.cstr(arg(stack, 3))
	f, dir := r.node(p)
	if f == nil && !dir {
		ret(stack, l.raise(mod, r.notFound(p), 0))
		return
	}
	var value string
	var ok bool
	if f != nil {
		value, ok = f.Props[name]
	}
	if !ok {
		m.putU32(out, 0)
		ret(stack, 0)
		return
	}
	s, abortFn := l.stringLocked(m, arg(stack, 4), []byte(value))
	if s == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	m.putU32(out, s)
	ret(stack, 0)
}

// propHash builds an apr_hash_t of const char* to svn_string_t* in pool.
func (l *Library) propHash(m mem, pool uint32, props map[string]string) (addr, abortFn uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[pool]
	if !ok {
		panic(fault("allocation in an unknown pool"))
	}
	addr = l.newHash(m, pool)
	if addr == 0 {
		return 0, p.abortFn
	}
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	h := l.hashes[addr]
	for _, k := range names {
		key := l.cstrIn(m, p, k)
		val := l.svnStringIn(m, p, []byte(props[k]))
		if key == 0 || val == 0 {
			return 0, p.abortFn
		}
		l.hashSet(m, h, key, hashKeyString, val)
	}
	return addr, p.abortFn
}

// svn_error_t *svn_fs_revision_proplist(apr_hash_t **table_p, svn_fs_t *fs,
// svn_revnum_t rev, apr_pool_t *pool)
func (l *Library) svnFSRevisionProplist(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	r := l.repoOfFS(arg(stack, 1))
	rev := int32(arg(stack, 2))
	head, f := youngest(r.path)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	if rev < 0 || rev > head {
		ret(stack, l.errorf(mod, SVN_ERR_FS_NO_SUCH_REVISION, 0, "No such revision %d", rev))
		return
	}
	snap, f := readSnapshot(r.path, rev)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	addr, abortFn := l.propHash(m, arg(stack, 3), snap.Props)
	if addr == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	m.putU32(arg(stack, 0), addr)
	ret(stack, 0)
}
