// Package testenv boots the native library for tests. Each test binary gets
// one library and one root pool, like a real process.
package testenv

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/pool"
)

// MemoryLimitPages caps foreign memory for tests (16MB).
const MemoryLimitPages = 256

// Main loads the library, creates the root pool, runs the tests and tears
// everything down. Call it from TestMain.
func Main(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()
	lib, err := engine.Load(ctx, &engine.Config{MemoryLimitPages: MemoryLimitPages})
	if err != nil {
		fmt.Fprintln(os.Stderr, "testenv: load:", err)
		return 1
	}
	defer lib.Close(ctx)

	if _, err := pool.Init(ctx, lib); err != nil {
		fmt.Fprintln(os.Stderr, "testenv: init:", err)
		return 1
	}
	code := m.Run()
	if err := pool.Terminate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "testenv: terminate:", err)
		return 1
	}
	return code
}

// Pool returns a child of the root pool destroyed when the test ends.
func Pool(t testing.TB) *pool.Pool {
	t.Helper()
	ctx := context.Background()
	p, err := pool.Create(ctx, nil)
	if err != nil {
		t.Fatalf("testenv: create pool: %v", err)
	}
	t.Cleanup(func() {
		if p.Alive() {
			_ = p.Destroy(ctx)
		}
	})
	return p
}

// Library returns the library behind the root pool.
func Library() *engine.Library {
	return pool.Root().Library()
}
