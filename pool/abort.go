package pool

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/internal/libsvn"
)

// AbortCallback is the native name of the pool abort function.
const AbortCallback = "svnffi_pool_abort"

var abortHandler atomic.Pointer[func(status int32)]

func init() {
	engine.RegisterCallback(engine.Callback{
		Name: AbortCallback,
		Sig:  libsvn.AbortFn,
		Fn:   onAbort,
	})
}

// SetAbortHandler replaces the process abort that follows a native
// allocation failure. A nil handler restores the default.
func SetAbortHandler(h func(status int32)) {
	if h == nil {
		abortHandler.Store(nil)
		return
	}
	abortHandler.Store(&h)
}

func onAbort(_ context.Context, _ *engine.Library, stack []uint64) {
	status := api.DecodeI32(stack[0])
	if h := abortHandler.Load(); h != nil {
		(*h)(status)
	} else {
		engine.Logger().Fatal("native allocation failed",
			zap.Int32("status", status),
			zap.String("reason", libsvn.Strerror(status)))
	}
	stack[0] = api.EncodeI32(status)
}
