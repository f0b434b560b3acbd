// Package stream bridges svn_stream_t and Go I/O.
//
// Wrap exposes a Go io.Reader or io.Writer to native code. The object is
// registered in registry.Default and its token becomes the stream baton;
// the native read, write and close function pointers are Go callbacks that
// resolve the token and forward the call. Reads fill as much of the request
// as the reader can supply (io.ReadFull), so a short read tells the native
// side the stream has ended. Writes report the number of bytes the writer
// accepted, and writer errors become native errors. Closing the native
// stream closes an io.Closer object and releases the token; destroying the
// pool releases it too.
//
// Open goes the other way: it adapts a stream produced by the native library
// into a *Stream, which is an io.ReadWriteCloser.
package stream
