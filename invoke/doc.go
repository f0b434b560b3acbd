// Package invoke calls native functions from a declarative Binding.
//
// A Binding names the native symbol and describes how a call is assembled
// and how its results come back:
//
//	var reposOpen = &invoke.Binding{
//		Symbol:   "svn_repos_open",
//		Outs:     []marshal.Descriptor{marshal.Ref(reposHandle)},
//		Params:   []marshal.Descriptor{marshal.String},
//		MapArgs:  invoke.AppendPool,
//		Validate: svnerr.Validate,
//	}
//
//	v, err := reposOpen.Invoke(ctx, p, invoke.NoReceiver, "/srv/repo")
//
// Each invocation follows the same steps:
//
//  1. One zeroed 8-byte out slot is allocated per entry in Outs, in a scratch
//     pool private to the call.
//  2. The argument list is the out slot addresses, the receiver, then the
//     marshaled caller arguments, unless MapArgs rearranges it.
//  3. The native function is called.
//  4. Validate inspects the raw return value. A failure aborts the call
//     before any out slot is read.
//  5. Each out slot is read with its descriptor. A single out is returned
//     unwrapped, several come back as []any, and with no outs the return
//     value itself is the result (decoded by Returns when set).
//  6. Transform post-processes the result.
//
// The scratch pool is a child of the owner pool and is destroyed when Invoke
// returns, so out slots and argument memory never outlive the call. Values
// the native side allocates in the pool argument belong to the owner.
package invoke
