// Package registry hands out tokens for managed objects that native code
// refers to.
//
// Native callbacks receive an opaque baton. The bridge registers the managed
// object behind a callback and passes the token as the baton; the callback
// resolves it back. A registered object stays reachable until its token is
// released, however long native code holds the token.
//
// Tokens are nonzero so that NULL is never a valid baton. A released token
// may be handed out again by a later Register, never earlier.
package registry
