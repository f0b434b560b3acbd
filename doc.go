// Package svnffi is a managed bridge over a pool-allocated native version
// control library with a Subversion/APR shaped C interface.
//
// The native library runs inside a wazero-hosted address space. Foreign memory
// is 32-bit and little-endian, foreign functions are looked up by symbol, and
// foreign function pointers can call back into Go.
//
// # Architecture Overview
//
//	svnffi/            Root package with Memory, Allocator and Addresser
//	├── engine/        Loads the native library, symbol lookup, callbacks
//	├── pool/          Arena pools with ownership tracking
//	├── marshal/       Typed value descriptors, foreign reads and writes
//	├── container/     Hash and Array views over apr_hash_t / apr_array_header_t
//	├── invoke/        Declarative bindings with out-parameter handling
//	├── svnerr/        Native error chains mapped onto Go error classes
//	├── registry/      Token registry for managed objects seen by native code
//	├── stream/        svn_stream_t backed by io.Reader / io.Writer
//	├── svn/           Repositories, revision roots and diffs
//	└── errors/        Structured error types for debugging
//
// # Quick Start
//
//	ctx := context.Background()
//	if err := svn.Init(ctx, nil); err != nil {
//	    log.Fatal(err)
//	}
//	defer svn.Terminate(ctx)
//
//	d, err := svn.FileDiff(ctx, svn.RootPool(), "a.txt", "b.txt", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := d.Unified(ctx, svn.UnifiedOptions{})
//
// # Memory Management
//
// Every foreign allocation belongs to a pool. Pools form a tree rooted at the
// process-wide root pool; destroying a pool destroys its descendants and
// invalidates every handle that points into them. Handles remember the pool
// generation they were created in, so use after clear or destroy is reported
// as an error instead of reading recycled memory.
//
// # Errors
//
// Native failures surface as *svnerr.Error. Match a category with errors.Is
// against a class from svnerr.Classes:
//
//	if errors.Is(err, svnerr.ErrInvalidArgument) { ... }
//
// Bridge-side misuse (wrong Go type for a descriptor, use of a destroyed pool)
// surfaces as *errors.Error with a Phase and Kind.
package svnffi
