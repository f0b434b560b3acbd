// Package engine loads the native library and gives the rest of the bridge
// raw access to it.
//
// # Architecture
//
// The native library is a set of wazero host functions. They cannot be called
// directly from Go, and they need an address space to work in, so Load
// synthesizes a link module that:
//
//	imports      every native symbol and every registered callback
//	re-exports   each import under its own name (foreign function lookup)
//	defines      the linear memory all native pointers refer to
//	exports      a funcref table; a function pointer is a table index
//	exports      __invoke_* trampolines used by native code to call pointers
//
// # Calling Convention
//
// All arguments and results are raw uint64 stack values. Pointers are 32-bit
// offsets into Memory(); zero is NULL. Call returns the first result.
//
//	status, err := lib.Call(ctx, "apr_initialize")
//
// # Callbacks
//
// Packages register Go callbacks from init, before the library is loaded:
//
//	func init() {
//	    engine.RegisterCallback(engine.Callback{
//	        Name: "svnffi_stream_read",
//	        Sig:  libsvn.ReadFn,
//	        Fn:   readCallback,
//	    })
//	}
//
// FuncPtr returns the pointer to hand to native code. A callback may call
// back into the library; calls nest on the same goroutine.
//
// # Thread Safety
//
// Library is safe for concurrent use. Each symbol keeps a pool of call
// frames so concurrent calls never share one.
package engine
