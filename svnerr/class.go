package svnerr

import (
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/internal/libsvn"
)

// Class is a category of native errors. Classes are compared by identity, so
// errors.Is(err, class) matches every *Error resolved to that class.
type Class struct {
	Name string
}

func (c *Class) Error() string {
	return c.Name
}

// Pre-seeded classes.
var (
	ErrInvalidArgument            = &Class{Name: "ArgumentError"}
	RepositoryCreationFailedError = &Class{Name: "RepositoryCreationFailedError"}
	NotFoundError                 = &Class{Name: "NotFoundError"}
	NoSuchRevisionError           = &Class{Name: "NoSuchRevisionError"}
)

// Registry maps native error codes to classes. Entries are never removed.
type Registry struct {
	byCode map[int32]*Class
	byName map[string]*Class
	mu     sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byCode: make(map[int32]*Class),
		byName: make(map[string]*Class),
	}
}

// Classes is the process-wide registry used by Check.
var Classes = func() *Registry {
	r := NewRegistry()
	r.Seed(libsvn.SVN_ERR_INCORRECT_PARAMS, ErrInvalidArgument)
	r.Seed(libsvn.SVN_ERR_REPOS_CREATE_FAILED, RepositoryCreationFailedError)
	r.Seed(libsvn.SVN_ERR_FS_NOT_FOUND, NotFoundError)
	r.Seed(libsvn.SVN_ERR_FS_NO_SUCH_REVISION, NoSuchRevisionError)
	return r
}()

// Seed binds code to c. A code that already has a class keeps it.
func (r *Registry) Seed(code int32, c *Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[code]; ok {
		return
	}
	r.byCode[code] = c
	if _, ok := r.byName[c.Name]; !ok {
		r.byName[c.Name] = c
	}
}

// Lookup returns the class bound to code, if any.
func (r *Registry) Lookup(code int32) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byCode[code]
	return c, ok
}

// Resolve returns the class for code, deriving one from the generic message
// on first sight. Codes whose generic messages yield the same name share a
// class.
func (r *Registry) Resolve(code int32, generic string) *Class {
	if c, ok := r.Lookup(code); ok {
		return c
	}

	name := ClassName(generic)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byCode[code]; ok {
		return c
	}
	c, ok := r.byName[name]
	if !ok {
		c = &Class{Name: name}
		r.byName[name] = c
		engine.Logger().Debug("error class created",
			zap.String("class", name),
			zap.Int32("code", code))
	}
	r.byCode[code] = c
	return c
}

// Len returns the number of codes bound.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCode)
}

// ClassName derives a class name from a generic message: the words are
// capitalized and joined, then "Error" is appended.
// "Filesystem has no item" becomes "FilesystemHasNoItemError".
func ClassName(generic string) string {
	var b strings.Builder
	words := strings.FieldsFunc(generic, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		runes := []rune(w)
		b.WriteRune(unicode.ToUpper(runes[0]))
		b.WriteString(string(runes[1:]))
	}
	if b.Len() == 0 {
		b.WriteString("Unknown")
	}
	b.WriteString("Error")
	return b.String()
}
