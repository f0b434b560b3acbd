// Package marshal converts between foreign memory and Go values, driven by
// descriptors.
//
// # Descriptors
//
// A Descriptor says how to interpret an address:
//
//	Kind            Size  Read yields        Write accepts
//	──────────────────────────────────────────────────────────────
//	Int8..Uint64    1-8   int8..uint64       any Go integer in range
//	Bool            4     bool               bool
//	Pointer         4     Address            Address, uint32
//	String          4     string             string, []byte
//	CountedString   4     string             string, []byte
//	Handle          4     Wrap(pool.Handle)  any Addresser
//	Chain           4     last descriptor    last descriptor
//
// String reads char data at the address, either Len bytes or up to the NUL
// terminator when Len is NativeLength. CountedString reads an svn_string_t.
// A chain is right-associative: every descriptor before the last follows one
// pointer, and the last one interprets what is found there.
//
//	// const char **out
//	marshal.Ref(marshal.String)
//	// svn_repos_t **out
//	marshal.Ref(marshal.Handle("svn_repos_t", newRepo))
//
// # Absent Values
//
// Reading address zero, or following a NULL pointer in a chain, yields nil.
// A present zero is returned as a typed zero, never as nil. A Pointer slot
// holding NULL is absent too.
//
// # Result Types
//
// Read yields one Go type per kind. As converts a string result to []byte
// and an Address to uint32, so a Hash[string, []byte] over CountedString
// values or a uint32 written through Pointer reads back as written. An
// Address given to Write is itself the argument address; store a raw
// pointer value as uint32.
//
// # Lifetimes
//
// Write allocates in the codec's pool and records every allocation in its
// AllocationList, so the caller can verify that argument memory is still
// alive when the foreign call consumes it.
package marshal
