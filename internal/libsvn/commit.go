package libsvn

import (
	"context"
	"maps"
	"path"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// hashPairs reads every live entry of an apr_hash_t as key bytes and value
// pointer.
func (l *Library) hashPairs(m mem, addr uint32) ([]string, []uint32) {
	if addr == 0 {
		return nil, nil
	}
	l.mu.Lock()
	h, ok := l.hashes[addr]
	if !ok {
		l.mu.Unlock()
		panic(fault("not an apr_hash_t"))
	}
	entries := append([]hashEntry(nil), h.entries...)
	l.mu.Unlock()

	var keys []string
	var vals []uint32
	for _, e := range entries {
		if e.dead {
			continue
		}
		keys = append(keys, string(m.bytes(e.key, e.klen)))
		vals = append(vals, e.val)
	}
	return keys, vals
}

func (s *snapshot) clone(rev int32) *snapshot {
	next := &snapshot{
		Rev:   rev,
		Props: map[string]string{},
		Dirs:  maps.Clone(s.Dirs),
		Files: make(map[string]*fileNode, len(s.Files)),
	}
	for k, f := range s.Files {
		cp := *f
		cp.Props = maps.Clone(f.Props)
		next.Files[k] = &cp
	}
	return next
}

// touch marks p and all of its ancestors as changed in rev.
func (s *snapshot) touch(p string, rev int32) {
	for {
		p = path.Dir("/" + p)
		p = strings.Trim(p, "/")
		s.Dirs[p] = rev
		if p == "" {
			return
		}
	}
}

func (s *snapshot) put(p string, content []byte, rev int32) *failure {
	if p == "" {
		return fail(SVN_ERR_FS_NOT_FILE, "'/' is not a file")
	}
	if _, dir := s.Dirs[p]; dir {
		return fail(SVN_ERR_FS_ALREADY_EXISTS, "Path '/%s' already exists", p)
	}
	for parent := path.Dir(p); parent != "." && parent != "/"; parent = path.Dir(parent) {
		if _, file := s.Files[parent]; file {
			return fail(SVN_ERR_FS_NOT_DIRECTORY, "'/%s' is not a directory", parent)
		}
	}
	f, ok := s.Files[p]
	if !ok {
		f = &fileNode{}
		s.Files[p] = f
	}
	f.Content = content
	f.Created = rev
	s.touch(p, rev)
	return nil
}

func (s *snapshot) remove(p string, rev int32) *failure {
	if _, ok := s.Files[p]; ok {
		delete(s.Files, p)
		s.touch(p, rev)
		return nil
	}
	if _, ok := s.Dirs[p]; !ok || p == "" {
		return fail(SVN_ERR_FS_NOT_FOUND, "File not found: transaction '%d', path '/%s'", rev, p)
	}
	prefix := p + "/"
	for k := range s.Files {
		if strings.HasPrefix(k, prefix) {
			delete(s.Files, k)
		}
	}
	for k := range s.Dirs {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(s.Dirs, k)
		}
	}
	s.touch(p, rev)
	return nil
}

// svn_error_t *svn_repos_commit_simple(svn_revnum_t *new_rev,
// svn_repos_t *repos, apr_hash_t *changes, apr_array_header_t *deletes,
// apr_hash_t *props, const char *author, const char *log_msg,
// apr_pool_t *pool)
//
// changes maps paths to svn_string_t* contents, deletes lists paths, and
// props maps file paths to hashes of property name to svn_string_t*.
func (l *Library) svnReposCommitSimple(_ context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	out := arg(stack, 0)
	r := l.repoOf(arg(stack, 1))
	changes, deletes, props := arg(stack, 2), arg(stack, 3), arg(stack, 4)

	head, f := youngest(r.path)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	prev, f := readSnapshot(r.path, head)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	rev := head + 1
	next := prev.clone(rev)

	for _, p := range arrayPointers(m, deletes) {
		if f := next.remove(cleanPath(m.cstr(p)), rev); f != nil {
			ret(stack, l.raise(mod, f, 0))
			return
		}
	}
	keys, vals := l.hashPairs(m, changes)
	for i, k := range keys {
		if f := next.put(cleanPath(k), m.svnString(vals[i]), rev); f != nil {
			ret(stack, l.raise(mod, f, 0))
			return
		}
	}
	keys, vals = l.hashPairs(m, props)
	for i, k := range keys {
		p := cleanPath(k)
		node, ok := next.Files[p]
		if !ok {
			ret(stack, l.raise(mod, fail(SVN_ERR_FS_NOT_FOUND, "File not found: transaction '%d', path '/%s'", rev, p), 0))
			return
		}
		names, values := l.hashPairs(m, vals[i])
		if node.Props == nil {
			node.Props = map[string]string{}
		}
		for j, name := range names {
			node.Props[name] = string(m.svnString(values[j]))
		}
		node.Created = rev
		next.touch(p, rev)
	}

	next.Props["svn:date"] = now()
	if author, ok := m.optCstr(arg(stack, 5)); ok {
		next.Props["svn:author"] = author
	}
	if msg, ok := m.optCstr(arg(stack, 6)); ok {
		next.Props["svn:log"] = msg
	}
	if f := writeSnapshot(r.path, next); f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	m.putI32(out, rev)
	ret(stack, 0)
}
