package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wippyai/svn-ffi/internal/libsvn"
)

// CallbackModule is the import module name of Go callbacks in the link module.
const CallbackModule = "svnffi"

// Callback is a Go function the native library can reach through a function
// pointer. Fn reads its arguments from stack and writes its results back to
// the front of stack.
type Callback struct {
	Fn   func(ctx context.Context, lib *Library, stack []uint64)
	Name string
	Sig  libsvn.Signature
}

var (
	callbacksMu sync.Mutex
	callbacks   = make(map[string]Callback)
)

// RegisterCallback makes a callback available to every library loaded
// afterwards. Packages register their callbacks from init. It panics if
// called twice with the same name or with a nil Fn.
func RegisterCallback(cb Callback) {
	callbacksMu.Lock()
	defer callbacksMu.Unlock()
	if cb.Fn == nil {
		panic("engine: RegisterCallback with nil Fn for " + cb.Name)
	}
	if _, dup := callbacks[cb.Name]; dup {
		panic(fmt.Sprintf("engine: RegisterCallback called twice for %s", cb.Name))
	}
	callbacks[cb.Name] = cb
}

// registeredCallbacks returns a stable snapshot of registered callbacks.
func registeredCallbacks() []Callback {
	callbacksMu.Lock()
	defer callbacksMu.Unlock()
	out := make([]Callback, 0, len(callbacks))
	for _, cb := range callbacks {
		out = append(out, cb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
