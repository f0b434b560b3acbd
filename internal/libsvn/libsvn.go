// Package libsvn is the native side of the bridge: a Subversion/APR shaped C
// library implemented as wazero host functions over the caller's linear
// memory.
//
// Everything here follows C conventions. Pointers are 32-bit offsets, address
// zero is NULL, results come back through out-parameters, failures come back
// as svn_error_t chains, and callers hand in function pointers that the
// library invokes through the caller's funcref table. Misuse of an address is
// a fault, which surfaces to the caller as a trapped call.
package libsvn

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// ModuleName is the import module name of the native library.
const ModuleName = "libsvn"

var i32 = api.ValueTypeI32

func i32s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

// Signature is the C type of a function pointer the library calls.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Invoker is the name of the caller export that dispatches a function pointer
// of this signature: the pointer first, then the arguments.
func (s Signature) Invoker() string {
	b := []byte("__invoke_")
	for _, p := range s.Params {
		b = append(b, valueTypeChar(p))
	}
	b = append(b, '_')
	for _, r := range s.Results {
		b = append(b, valueTypeChar(r))
	}
	return string(b)
}

func valueTypeChar(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI64:
		return 'j'
	case api.ValueTypeF32:
		return 'f'
	case api.ValueTypeF64:
		return 'd'
	default:
		return 'i'
	}
}

// Function pointer types the library invokes.
var (
	// svn_read_fn_t(baton, buffer, len*) -> svn_error_t*
	ReadFn = Signature{Params: i32s(3), Results: i32s(1)}
	// svn_write_fn_t(baton, data, len*) -> svn_error_t*
	WriteFn = Signature{Params: i32s(3), Results: i32s(1)}
	// svn_close_fn_t(baton) -> svn_error_t*
	CloseFn = Signature{Params: i32s(1), Results: i32s(1)}
	// apr_abortfunc_t(status) -> int
	AbortFn = Signature{Params: i32s(1), Results: i32s(1)}
)

// CallbackSignatures lists every function pointer type the library may call.
func CallbackSignatures() []Signature {
	return []Signature{ReadFn, WriteFn, CloseFn, AbortFn}
}

// Func is one exported native symbol.
type Func struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Fn      api.GoModuleFunc
}

// Library holds all native state. One Library backs one caller module.
type Library struct {
	mu          sync.Mutex
	initialized int
	heap        heap
	pools       map[uint32]*poolState
	hashes      map[uint32]*hashState
	streams     map[uint32]*streamState
	repos       map[uint32]*repoState
	fss         map[uint32]uint32
	roots       map[uint32]*rootState
	diffs       map[uint32]*diffState
}

// New creates an empty native library.
func New() *Library {
	return &Library{
		pools:   make(map[uint32]*poolState),
		hashes:  make(map[uint32]*hashState),
		streams: make(map[uint32]*streamState),
		repos:   make(map[uint32]*repoState),
		fss:     make(map[uint32]uint32),
		roots:   make(map[uint32]*rootState),
		diffs:   make(map[uint32]*diffState),
	}
}

func fn(name string, params, results int, f api.GoModuleFunc) Func {
	return Func{Name: name, Params: i32s(params), Results: i32s(results), Fn: f}
}

// Exports returns every native symbol sorted by name.
func (l *Library) Exports() []Func {
	funcs := []Func{
		fn("apr_initialize", 0, 1, l.aprInitialize),
		fn("apr_terminate", 0, 0, l.aprTerminate),
		fn("apr_pool_create_ex", 4, 1, l.aprPoolCreateEx),
		fn("apr_pool_clear", 1, 0, l.aprPoolClear),
		fn("apr_pool_destroy", 1, 0, l.aprPoolDestroy),
		fn("apr_pool_parent_get", 1, 1, l.aprPoolParentGet),
		fn("apr_palloc", 2, 1, l.aprPalloc),

		fn("apr_hash_make", 1, 1, l.aprHashMake),
		fn("apr_hash_count", 1, 1, l.aprHashCount),
		fn("apr_hash_get", 3, 1, l.aprHashGet),
		fn("apr_hash_set", 4, 0, l.aprHashSet),
		fn("apr_hash_first", 2, 1, l.aprHashFirst),
		fn("apr_hash_next", 1, 1, l.aprHashNext),
		fn("apr_hash_this", 4, 0, l.aprHashThis),
		fn("apr_hash_pool_get", 1, 1, l.aprHashPoolGet),

		fn("apr_array_make", 3, 1, l.aprArrayMake),
		fn("apr_array_push", 1, 1, l.aprArrayPush),
		fn("apr_array_pop", 1, 1, l.aprArrayPop),
		fn("apr_is_empty_array", 1, 1, l.aprIsEmptyArray),

		fn("svn_error_create", 3, 1, l.svnErrorCreate),
		fn("svn_error_clear", 1, 0, l.svnErrorClear),
		fn("svn_strerror", 3, 1, l.svnStrerror),
		fn("svn_string_ncreate", 3, 1, l.svnStringNcreate),

		fn("svn_stream_create", 2, 1, l.svnStreamCreate),
		fn("svn_stream_set_read", 2, 0, l.svnStreamSetRead),
		fn("svn_stream_set_write", 2, 0, l.svnStreamSetWrite),
		fn("svn_stream_set_close", 2, 0, l.svnStreamSetClose),
		fn("svn_stream_read", 3, 1, l.svnStreamRead),
		fn("svn_stream_write", 3, 1, l.svnStreamWrite),
		fn("svn_stream_close", 1, 1, l.svnStreamClose),
		fn("svn_stream_copy3", 5, 1, l.svnStreamCopy3),

		fn("svn_repos_create", 7, 1, l.svnReposCreate),
		fn("svn_repos_open", 3, 1, l.svnReposOpen),
		fn("svn_repos_delete", 2, 1, l.svnReposDelete),
		fn("svn_repos_fs", 1, 1, l.svnReposFS),
		fn("svn_repos_commit_simple", 8, 1, l.svnReposCommitSimple),

		fn("svn_fs_youngest_rev", 3, 1, l.svnFSYoungestRev),
		fn("svn_fs_revision_root", 4, 1, l.svnFSRevisionRoot),
		fn("svn_fs_revision_root_revision", 1, 1, l.svnFSRevisionRootRevision),
		fn("svn_fs_close_root", 1, 0, l.svnFSCloseRoot),
		fn("svn_fs_is_dir", 4, 1, l.svnFSIsDir),
		fn("svn_fs_is_file", 4, 1, l.svnFSIsFile),
		fn("svn_fs_file_length", 4, 1, l.svnFSFileLength),
		fn("svn_fs_file_contents", 4, 1, l.svnFSFileContents),
		fn("svn_fs_node_created_rev", 4, 1, l.svnFSNodeCreatedRev),
		fn("svn_fs_node_created_path", 4, 1, l.svnFSNodeCreatedPath),
		fn("svn_fs_node_prop", 5, 1, l.svnFSNodeProp),
		fn("svn_fs_revision_proplist", 4, 1, l.svnFSRevisionProplist),

		fn("svn_diff_file_options_create", 1, 1, l.svnDiffFileOptionsCreate),
		fn("svn_diff_file_diff_2", 5, 1, l.svnDiffFileDiff2),
		fn("svn_diff_contains_diffs", 1, 1, l.svnDiffContainsDiffs),
		fn("svn_diff_contains_conflicts", 1, 1, l.svnDiffContainsConflicts),
		fn("svn_diff_file_output_unified3", 10, 1, l.svnDiffFileOutputUnified3),
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Name < funcs[j].Name })
	return funcs
}

// Instantiate registers the library as a host module on r.
func (l *Library) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	b := r.NewHostModuleBuilder(ModuleName)
	for _, f := range l.Exports() {
		b.NewFunctionBuilder().
			WithGoModuleFunction(f.Fn, f.Params, f.Results).
			WithName(f.Name).
			Export(f.Name)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", ModuleName, err)
	}
	return mod, nil
}

// call invokes a caller function pointer through the invoker export matching
// sig. The library lock must not be held.
func call(ctx context.Context, mod api.Module, sig Signature, fnptr uint32, args ...uint64) uint64 {
	inv := mod.ExportedFunction(sig.Invoker())
	if inv == nil {
		panic(fault(fmt.Sprintf("caller does not export %s", sig.Invoker())))
	}
	res, err := inv.Call(ctx, append([]uint64{uint64(fnptr)}, args...)...)
	if err != nil {
		panic(err)
	}
	if len(res) == 0 {
		return 0
	}
	return res[0]
}
