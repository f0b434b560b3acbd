package svn

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/pool"
)

// Config configures Init. A nil Config uses the defaults.
type Config struct {
	// Logger replaces the bridge logger when set.
	Logger *zap.Logger

	// MemoryLimitPages caps foreign memory in 64KB pages. 0 means no cap
	// beyond the 32-bit address space.
	MemoryLimitPages uint32

	// InitialPages is the foreign memory size at load.
	InitialPages uint32

	// AbortHandler runs instead of the process abort when the native
	// allocator runs out of memory. The failing call then reports
	// pool.ErrOutOfMemory.
	AbortHandler func(status int32)
}

var (
	mu     sync.Mutex
	loaded *engine.Library
)

// Init loads the native library and creates the root pool. It succeeds once
// per process.
func Init(ctx context.Context, cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()
	if loaded != nil {
		return errors.AlreadyInitialized(errors.PhaseLoad, "svn")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.AbortHandler != nil {
		pool.SetAbortHandler(cfg.AbortHandler)
	}

	lib, err := engine.Load(ctx, &engine.Config{
		Logger:           cfg.Logger,
		MemoryLimitPages: cfg.MemoryLimitPages,
		InitialPages:     cfg.InitialPages,
	})
	if err != nil {
		return err
	}
	if _, err := pool.Init(ctx, lib); err != nil {
		return multierr.Append(err, lib.Close(ctx))
	}
	loaded = lib
	engine.Logger().Debug("svn initialized")
	return nil
}

// Terminate destroys the root pool and unloads the library.
func Terminate(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if loaded == nil {
		return errors.NotInitialized(errors.PhaseLoad, "svn")
	}
	err := pool.Terminate(ctx)
	err = multierr.Append(err, loaded.Close(ctx))
	loaded = nil
	return err
}

// RootPool returns the process-wide root pool, the default parent for
// repositories and diffs.
func RootPool() *pool.Pool {
	return pool.Root()
}

// parentOr returns p, or the root pool when p is nil.
func parentOr(p *pool.Pool) (*pool.Pool, error) {
	if p != nil {
		return p, nil
	}
	if root := pool.Root(); root != nil {
		return root, nil
	}
	return nil, errors.NotInitialized(errors.PhasePool, "root pool")
}
