// Package svnerr maps native svn_error_t chains onto Go errors.
//
// Check copies a chain out of foreign memory, clears it natively and returns
// an *Error. Each error belongs to a Class chosen by the code of the
// outermost link. The first time a code is seen its class is derived from the
// generic message svn_strerror gives for it ("Filesystem has no item" becomes
// FilesystemHasNoItemError) and remembered for the life of the process.
// A few codes are bound in advance:
//
//	SVN_ERR_INCORRECT_PARAMS     ErrInvalidArgument (ArgumentError)
//	SVN_ERR_REPOS_CREATE_FAILED  RepositoryCreationFailedError
//	SVN_ERR_FS_NOT_FOUND         NotFoundError
//	SVN_ERR_FS_NO_SUCH_REVISION  NoSuchRevisionError
//
// Match classes with errors.Is and read chain details with errors.As:
//
//	if errors.Is(err, svnerr.RepositoryCreationFailedError) {
//		var e *svnerr.Error
//		errors.As(err, &e)
//		log.Println(e.Root().Message)
//	}
//
// The message of an *Error is the outermost message, or the generic text for
// its code when it has none, followed by ": " and the innermost message when
// the chain is longer than one link and the two differ.
package svnerr
