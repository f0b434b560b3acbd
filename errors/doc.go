// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: path, Go/foreign type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Path("args", "2").
//		GoType("float64").
//		ForeignType("int32").
//		Detail("cannot marshal float into an integer slot").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseMarshal, path, "float64", "int32")
//	err := errors.PoolDestroyed("scratch")
//
// Failures reported by the native library are not represented here; those are
// *svnerr.Error values. All errors implement the standard error interface and
// support errors.Is/As.
package errors
