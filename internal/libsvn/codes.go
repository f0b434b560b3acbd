package libsvn

import "fmt"

// APR status codes.
const (
	APR_SUCCESS  = 0
	APR_ENOENT   = 2
	APR_ENOMEM   = 12
	APR_EACCES   = 13
	APR_EEXIST   = 17
	APR_ENOTDIR  = 20
	APR_EINVAL   = 22
	APR_EGENERAL = 20014
)

// Subversion error codes. Categories are 5000 apart starting at 120000.
const (
	SVN_ERR_BAD_FILENAME = 125001

	SVN_ERR_IO_WRITE_ERROR = 135006

	SVN_ERR_STREAM_UNEXPECTED_EOF     = 140000
	SVN_ERR_STREAM_MALFORMED_DATA     = 140001
	SVN_ERR_STREAM_SEEK_NOT_SUPPORTED = 140003
	SVN_ERR_STREAM_NOT_SUPPORTED      = 140004

	SVN_ERR_FS_GENERAL          = 160000
	SVN_ERR_FS_CORRUPT          = 160004
	SVN_ERR_FS_PATH_SYNTAX      = 160005
	SVN_ERR_FS_NO_SUCH_REVISION = 160006
	SVN_ERR_FS_NOT_FOUND        = 160013
	SVN_ERR_FS_NOT_DIRECTORY    = 160016
	SVN_ERR_FS_NOT_FILE         = 160017
	SVN_ERR_FS_ALREADY_EXISTS   = 160020

	SVN_ERR_REPOS_LOCKED              = 165000
	SVN_ERR_REPOS_BAD_ARGS            = 165002
	SVN_ERR_REPOS_UNSUPPORTED_VERSION = 165005
	SVN_ERR_REPOS_CREATE_FAILED       = 165011

	SVN_ERR_INCORRECT_PARAMS    = 200004
	SVN_ERR_UNSUPPORTED_FEATURE = 200007
	SVN_ERR_CANCELLED           = 200015
)

var messages = map[int32]string{
	APR_ENOENT:   "No such file or directory",
	APR_ENOMEM:   "Cannot allocate memory",
	APR_EACCES:   "Permission denied",
	APR_EEXIST:   "File exists",
	APR_ENOTDIR:  "Not a directory",
	APR_EINVAL:   "Invalid argument",
	APR_EGENERAL: "Internal error",

	SVN_ERR_BAD_FILENAME:   "Bogus filename",
	SVN_ERR_IO_WRITE_ERROR: "Write error",

	SVN_ERR_STREAM_UNEXPECTED_EOF:     "Unexpected end of stream",
	SVN_ERR_STREAM_MALFORMED_DATA:     "Malformed stream data",
	SVN_ERR_STREAM_SEEK_NOT_SUPPORTED: "Stream doesn't support seeking",
	SVN_ERR_STREAM_NOT_SUPPORTED:      "Stream doesn't support this capability",

	SVN_ERR_FS_GENERAL:          "General filesystem error",
	SVN_ERR_FS_CORRUPT:          "Filesystem is corrupt",
	SVN_ERR_FS_PATH_SYNTAX:      "Invalid filesystem path syntax",
	SVN_ERR_FS_NO_SUCH_REVISION: "Invalid filesystem revision number",
	SVN_ERR_FS_NOT_FOUND:        "Filesystem has no item",
	SVN_ERR_FS_NOT_DIRECTORY:    "Name does not refer to a filesystem directory",
	SVN_ERR_FS_NOT_FILE:         "Name does not refer to a filesystem file",
	SVN_ERR_FS_ALREADY_EXISTS:   "Item already exists in filesystem",

	SVN_ERR_REPOS_LOCKED:              "The repository is locked, perhaps for db recovery",
	SVN_ERR_REPOS_BAD_ARGS:            "Incorrect arguments supplied",
	SVN_ERR_REPOS_UNSUPPORTED_VERSION: "Unsupported repository version",
	SVN_ERR_REPOS_CREATE_FAILED:       "Repository creation failed",

	SVN_ERR_INCORRECT_PARAMS:    "Incorrect parameters given",
	SVN_ERR_UNSUPPORTED_FEATURE: "Trying to use an unsupported feature",
	SVN_ERR_CANCELLED:           "The operation was interrupted",
}

// Strerror is the generic message for a status code.
func Strerror(code int32) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error code %d", code)
}
