package registry

import (
	stderrors "errors"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/wippyai/svn-ffi/errors"
)

func TestRegister_Resolve(t *testing.T) {
	r := New()
	obj := &struct{ name string }{"stream"}

	tok, err := r.Register(obj)
	if err != nil {
		t.Fatal(err)
	}
	if tok == 0 {
		t.Fatal("issued token 0")
	}
	got, ok := r.Resolve(tok)
	if !ok || got != obj {
		t.Fatalf("Resolve(%d) = %v, %v", tok, got, ok)
	}
	if _, ok := r.Resolve(0); ok {
		t.Error("token 0 resolved")
	}
	if _, ok := r.Resolve(tok + 1); ok {
		t.Error("unissued token resolved")
	}
}

func TestRelease(t *testing.T) {
	r := New()
	tok, _ := r.Register("a")

	v, ok := r.Release(tok)
	if !ok || v != "a" {
		t.Fatalf("Release = %v, %v", v, ok)
	}
	if _, ok := r.Resolve(tok); ok {
		t.Error("released token still resolves")
	}
	if _, ok := r.Release(tok); ok {
		t.Error("double release succeeded")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d", r.Len())
	}

	again, _ := r.Register("b")
	if again != tok {
		t.Errorf("released token not reused: got %d, want %d", again, tok)
	}
}

func TestReleaseIf(t *testing.T) {
	r := New()
	first := &struct{}{}
	tok, _ := r.Register(first)
	r.Release(tok)

	second := &struct{ n int }{1}
	reused, _ := r.Register(second)
	if reused != tok {
		t.Fatalf("token not reused")
	}
	if r.ReleaseIf(tok, first) {
		t.Fatal("stale release dropped a newer registration")
	}
	if !r.ReleaseIf(tok, second) {
		t.Fatal("ReleaseIf missed the current registration")
	}
}

// Tokens are unique among live registrations and reused only after release.
func TestTokens_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		live := map[Token]int{}
		next := 0
		t.Repeat(map[string]func(*rapid.T){
			"register": func(t *rapid.T) {
				tok, err := r.Register(next)
				if err != nil {
					t.Fatal(err)
				}
				if tok == 0 {
					t.Fatal("issued token 0")
				}
				if _, dup := live[tok]; dup {
					t.Fatalf("token %d issued twice while live", tok)
				}
				live[tok] = next
				next++
			},
			"release": func(t *rapid.T) {
				if len(live) == 0 {
					t.Skip("nothing registered")
				}
				var toks []Token
				for tok := range live {
					toks = append(toks, tok)
				}
				tok := rapid.SampledFrom(toks).Draw(t, "token")
				v, ok := r.Release(tok)
				if !ok || v != live[tok] {
					t.Fatalf("Release(%d) = %v, %v, want %v", tok, v, ok, live[tok])
				}
				delete(live, tok)
			},
			"": func(t *rapid.T) {
				if r.Len() != len(live) {
					t.Fatalf("Len = %d, want %d", r.Len(), len(live))
				}
				for tok, want := range live {
					if v, ok := r.Resolve(tok); !ok || v != want {
						t.Fatalf("Resolve(%d) = %v, %v, want %v", tok, v, ok, want)
					}
				}
			},
		})
	})
}

func TestClose(t *testing.T) {
	r := New()
	tok, _ := r.Register(1)
	r.Close()
	if _, ok := r.Resolve(tok); ok {
		t.Error("token resolved after close")
	}
	_, err := r.Register(2)
	if !stderrors.Is(err, ErrClosed) {
		t.Errorf("Register after close: %v", err)
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRegistry, Kind: errors.KindDestroyed}) {
		t.Errorf("Register after close: expected registry/destroyed, got %v", err)
	}
}

func TestConcurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				tok, err := r.Register(i*1000 + j)
				if err != nil {
					t.Error(err)
					return
				}
				if v, ok := r.Release(tok); !ok || v != i*1000+j {
					t.Errorf("Release(%d) = %v, %v", tok, v, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("Len = %d after balanced register/release", r.Len())
	}
}
