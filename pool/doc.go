// Package pool models native APR pools: hierarchical arenas whose lifetime
// bounds every foreign allocation made from them.
//
// One root pool exists per process. Init creates it and Terminate destroys it;
// every other pool descends from it:
//
//	root, err := pool.Init(ctx, lib)
//	scratch, err := pool.Create(ctx, root)
//	defer scratch.Destroy(ctx)
//
// # Ownership
//
// Destroying a pool invalidates its descendants. Clearing a pool keeps it
// usable but invalidates its children and everything allocated before the
// clear. A Handle records the pool and its generation, so Addr fails after
// either event instead of handing out a dangling address.
//
// # Allocation Failure
//
// The native allocator reports exhaustion through the pool's abort function.
// By default that logs at Fatal level and ends the process. Tests may install
// a returning handler with SetAbortHandler, in which case the failed operation
// returns an error matching ErrOutOfMemory.
//
// Pools are not safe for concurrent use; give each goroutine its own.
package pool
