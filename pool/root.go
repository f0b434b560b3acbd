package pool

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/internal/libsvn"
)

var requiredSymbols = []string{
	"apr_initialize",
	"apr_terminate",
	"apr_pool_create_ex",
	"apr_pool_clear",
	"apr_pool_destroy",
	"apr_palloc",
}

// process holds the root pool. It can be initialized once.
type process struct {
	mu   sync.Mutex
	root *Pool
	done bool
}

var proc process

// Init initializes the native allocator and creates the root pool. It
// succeeds once per process; a failing allocator ends the process.
func Init(ctx context.Context, lib *engine.Library) (*Pool, error) {
	return proc.init(ctx, lib)
}

// Root returns the root pool, or nil outside Init and Terminate.
func Root() *Pool {
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return proc.root
}

// Terminate destroys the root pool and shuts the native allocator down. No
// pool may be used afterwards.
func Terminate(ctx context.Context) error {
	return proc.terminate(ctx)
}

func (s *process) init(ctx context.Context, lib *engine.Library) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != nil || s.done {
		return nil, errors.AlreadyInitialized(errors.PhasePool, "root pool")
	}
	if err := lib.Require(requiredSymbols...); err != nil {
		return nil, err
	}
	abortFn, err := lib.FuncPtr(AbortCallback)
	if err != nil {
		return nil, err
	}

	status, err := lib.Call(ctx, "apr_initialize")
	if err == nil && status != libsvn.APR_SUCCESS {
		err = errors.New(errors.PhasePool, errors.KindNotInitialized).
			Detail("apr_initialize: %s", libsvn.Strerror(int32(status))).
			Build()
	}
	if err != nil {
		engine.Logger().Fatal("native allocator failed to initialize", zap.Error(err))
		return nil, err
	}

	slotMu.Lock()
	defer slotMu.Unlock()
	status, err = lib.Call(ctx, "apr_pool_create_ex", engine.ScratchAddr, 0, uint64(abortFn), 0)
	if err == nil && status != libsvn.APR_SUCCESS {
		err = errors.New(errors.PhasePool, errors.KindAllocation).
			Detail("apr_pool_create_ex: %s", libsvn.Strerror(int32(status))).
			Build()
	}
	var addr uint32
	if err == nil {
		addr, err = lib.Memory().ReadU32(engine.ScratchAddr)
	}
	if err != nil {
		engine.Logger().Fatal("root pool creation failed", zap.Error(err))
		return nil, err
	}

	s.root = &Pool{lib: lib, addr: addr}
	engine.Logger().Debug("root pool created", zap.Uint32("pool", addr))
	return s.root, nil
}

func (s *process) terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return errors.NotInitialized(errors.PhasePool, "root pool")
	}
	root := s.root
	s.root = nil
	s.done = true

	err := root.Destroy(ctx)
	_, termErr := root.lib.Call(ctx, "apr_terminate")
	return multierr.Append(err, termErr)
}
