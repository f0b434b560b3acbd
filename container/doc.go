// Package container provides typed views over APR containers living in
// foreign memory.
//
// Hash wraps apr_hash_t and Array wraps an apr_array_header_t of pointers.
// Both read and write elements through marshal descriptors, so the same
// container type serves property tables (char* to svn_string_t*), path lists
// (char*) and nested tables.
//
//	props, err := container.NewHash[string, string](ctx, p, marshal.String, marshal.CountedString)
//	err = props.Set(ctx, "svn:eol-style", "native")
//	snapshot, err := props.Snapshot(ctx)
//
// Views do not copy. Anything read from them is valid only while the backing
// pool is alive; Snapshot copies into Go memory when a result has to outlive
// the pool. Hash iteration order is unspecified.
package container
