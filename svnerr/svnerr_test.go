package svnerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/wippyai/svn-ffi/internal/libsvn"
	"github.com/wippyai/svn-ffi/internal/testenv"
)

func TestMain(m *testing.M) {
	testenv.Main(m)
}

func TestClassName(t *testing.T) {
	tests := []struct {
		generic string
		want    string
	}{
		{"Repository creation failed", "RepositoryCreationFailedError"},
		{"No such file or directory", "NoSuchFileOrDirectoryError"},
		{"Stream doesn't support seeking", "StreamDoesnTSupportSeekingError"},
		{"Unknown error code 42", "UnknownErrorCode42Error"},
		{"", "UnknownError"},
	}
	for _, tt := range tests {
		if got := ClassName(tt.generic); got != tt.want {
			t.Errorf("ClassName(%q) = %q, want %q", tt.generic, got, tt.want)
		}
	}
}

func TestRegistry_Memoized(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		code := rapid.Int32().Draw(t, "code")
		generic := rapid.StringMatching(`[A-Za-z][a-z]{0,8}( [a-z]{1,8}){0,3}`).Draw(t, "generic")

		first := r.Resolve(code, generic)
		if again := r.Resolve(code, "something else entirely"); again != first {
			t.Fatalf("code %d resolved to %s then %s", code, first.Name, again.Name)
		}
		if first.Name != ClassName(generic) {
			t.Fatalf("class %s for %q", first.Name, generic)
		}
		if r.Len() != 1 {
			t.Fatalf("registry has %d codes", r.Len())
		}
	})
}

func TestRegistry_SharedNames(t *testing.T) {
	r := NewRegistry()
	a := r.Resolve(1, "Disk full")
	b := r.Resolve(2, "disk full")
	c := r.Resolve(3, "Disk empty")
	if a != b {
		t.Error("codes with the same derived name got different classes")
	}
	if a == c {
		t.Error("codes with different names share a class")
	}

	r.Seed(4, ErrInvalidArgument)
	if got := r.Resolve(5, "Argument"); got != ErrInvalidArgument {
		t.Errorf("derived ArgumentError did not reuse the seeded class, got %p", got)
	}
	if c, ok := r.Lookup(4); !ok || c != ErrInvalidArgument {
		t.Error("seeded code not found")
	}
}

func TestPreseeded(t *testing.T) {
	tests := []struct {
		code  int32
		class *Class
	}{
		{libsvn.SVN_ERR_INCORRECT_PARAMS, ErrInvalidArgument},
		{libsvn.SVN_ERR_REPOS_CREATE_FAILED, RepositoryCreationFailedError},
		{libsvn.SVN_ERR_FS_NOT_FOUND, NotFoundError},
		{libsvn.SVN_ERR_FS_NO_SUCH_REVISION, NoSuchRevisionError},
	}
	for _, tt := range tests {
		if c, ok := Classes.Lookup(tt.code); !ok || c != tt.class {
			t.Errorf("code %d: got %v", tt.code, c)
		}
	}
	if ErrInvalidArgument.Name != "ArgumentError" {
		t.Errorf("ErrInvalidArgument is named %s", ErrInvalidArgument.Name)
	}
}

func TestCheck_Success(t *testing.T) {
	if err := Check(context.Background(), testenv.Library(), 0); err != nil {
		t.Fatalf("NULL error: %v", err)
	}
	if err := Validate(context.Background(), testenv.Library(), 0); err != nil {
		t.Fatalf("NULL error: %v", err)
	}
}

func TestCheck_Chain(t *testing.T) {
	ctx := context.Background()
	p := testenv.Pool(t)

	child, err := New(ctx, p, libsvn.APR_ENOENT, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	top, err := New(ctx, p, libsvn.SVN_ERR_REPOS_CREATE_FAILED, child, "")
	if err != nil {
		t.Fatal(err)
	}

	err = Check(ctx, p.Library(), top)
	if !errors.Is(err, RepositoryCreationFailedError) {
		t.Fatalf("expected RepositoryCreationFailedError, got %v", err)
	}
	if errors.Is(err, NotFoundError) {
		t.Fatal("matched an unrelated class")
	}
	if got, want := err.Error(), "Repository creation failed: No such file or directory"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("not an *Error: %T", err)
	}
	if len(e.Chain) != 2 || e.Root().Code != libsvn.APR_ENOENT || e.Chain[0].Specific {
		t.Errorf("chain = %+v", e.Chain)
	}
	if !errors.Is(err, &Error{Code: libsvn.SVN_ERR_REPOS_CREATE_FAILED}) {
		t.Error("code match failed")
	}
}

func TestCheck_Messages(t *testing.T) {
	ctx := context.Background()
	p := testenv.Pool(t)

	tests := []struct {
		name     string
		childMsg string
		topMsg   string
		want     string
	}{
		{"specific top only", "", "Can't open file '/srv/r/format'", "Can't open file '/srv/r/format'"},
		{"specific both", "disk unplugged", "Can't write revision", "Can't write revision: disk unplugged"},
		{"same message", "Stopped", "Stopped", "Stopped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var child uint32
			if tt.childMsg != "" {
				var err error
				if child, err = New(ctx, p, libsvn.APR_EGENERAL, 0, tt.childMsg); err != nil {
					t.Fatal(err)
				}
			}
			top, err := New(ctx, p, libsvn.SVN_ERR_FS_GENERAL, child, tt.topMsg)
			if err != nil {
				t.Fatal(err)
			}
			err = Check(ctx, p.Library(), top)
			if err == nil || err.Error() != tt.want {
				t.Fatalf("got %v, want %q", err, tt.want)
			}
			if !errors.Is(err, Classes.Resolve(libsvn.SVN_ERR_FS_GENERAL, "")) {
				t.Error("class not memoized across checks")
			}
		})
	}
}

func TestCheck_DerivedClass(t *testing.T) {
	ctx := context.Background()
	p := testenv.Pool(t)

	addr, err := New(ctx, p, libsvn.SVN_ERR_FS_NOT_DIRECTORY, 0, "'/trunk/a' is not a directory")
	if err != nil {
		t.Fatal(err)
	}
	err = Check(ctx, p.Library(), addr)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("not an *Error: %v", err)
	}
	if e.Class.Name != "NameDoesNotReferToAFilesystemDirectoryError" {
		t.Errorf("class = %s", e.Class.Name)
	}
	if got := fmt.Sprintf("%+v", err); got == e.Message {
		t.Errorf("%%+v did not render the chain: %q", got)
	}
}
