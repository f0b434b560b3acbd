package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine/internal/linkmod"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/internal/libsvn"
)

const linkModuleName = "svnffi_link"

// ScratchAddr is a word of foreign memory below the native heap. It is only
// for bootstrap calls made before any pool exists, under the caller's lock.
const ScratchAddr = 8

// Library is a loaded native library: its address space, its symbols and the
// function pointers of registered callbacks.
type Library struct {
	runtime wazero.Runtime
	link    api.Module
	memory  *WazeroMemory
	symbols map[string]bool
	fnptrs  map[string]uint32

	cacheMu   sync.RWMutex
	funcCache map[string]*sync.Pool

	closed atomic.Bool
}

// Load instantiates the native library in a fresh runtime. Callbacks
// registered so far are linked in and get function pointers.
func Load(ctx context.Context, cfg *Config) (*Library, error) {
	if cfg != nil && cfg.Logger != nil {
		SetLogger(cfg.Logger)
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	lib := &Library{
		runtime:   rt,
		symbols:   make(map[string]bool),
		fnptrs:    make(map[string]uint32),
		funcCache: make(map[string]*sync.Pool),
	}

	native := libsvn.New()
	if _, err := native.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("native library", err)
	}

	cbs := registeredCallbacks()
	if len(cbs) > 0 {
		hb := rt.NewHostModuleBuilder(CallbackModule)
		for _, cb := range cbs {
			hb.NewFunctionBuilder().
				WithGoModuleFunction(lib.callbackFunc(cb), cb.Sig.Params, cb.Sig.Results).
				WithName(cb.Name).
				Export(cb.Name)
		}
		if _, err := hb.Instantiate(ctx); err != nil {
			_ = rt.Close(ctx)
			return nil, errors.Registration(errors.PhaseLoad, CallbackModule, "callbacks", err)
		}
	}

	b := linkmod.New()
	b.SetMemory(cfg.initialPages())
	for _, f := range native.Exports() {
		lib.fnptrs[f.Name] = b.AddImport(libsvn.ModuleName, f.Name, f.Params, f.Results)
		lib.symbols[f.Name] = true
	}
	for _, cb := range cbs {
		if lib.symbols[cb.Name] {
			_ = rt.Close(ctx)
			return nil, errors.Registration(errors.PhaseLoad, CallbackModule, cb.Name,
				errors.InvalidInput(errors.PhaseLoad, "callback name shadows a native symbol"))
		}
		lib.fnptrs[cb.Name] = b.AddImport(CallbackModule, cb.Name, cb.Sig.Params, cb.Sig.Results)
	}
	seen := make(map[string]bool)
	for _, sig := range libsvn.CallbackSignatures() {
		if name := sig.Invoker(); !seen[name] {
			seen[name] = true
			b.AddInvoker(name, sig.Params, sig.Results)
		}
	}

	link, err := rt.InstantiateWithConfig(ctx, b.Build(), wazero.NewModuleConfig().WithName(linkModuleName))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Instantiation(err)
	}
	lib.link = link
	lib.memory = &WazeroMemory{mem: link.Memory()}

	Logger().Debug("native library loaded",
		zap.Int("symbols", len(lib.symbols)),
		zap.Int("callbacks", len(cbs)),
		zap.Uint32("memory_bytes", lib.memory.Size()))
	return lib, nil
}

func (l *Library) callbackFunc(cb Callback) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		cb.Fn(ctx, l, stack)
	}
}

// Memory returns the foreign address space.
func (l *Library) Memory() *WazeroMemory {
	return l.memory
}

// Has reports whether the library exports symbol.
func (l *Library) Has(symbol string) bool {
	return l.symbols[symbol]
}

// Require checks that every symbol is exported.
func (l *Library) Require(symbols ...string) error {
	var missing []string
	for _, s := range symbols {
		if !l.symbols[s] {
			missing = append(missing, libsvn.ModuleName+"#"+s)
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingSymbolsError(missing)
	}
	return nil
}

// FuncPtr returns the function pointer of a registered callback or native
// symbol.
func (l *Library) FuncPtr(name string) (uint32, error) {
	ptr, ok := l.fnptrs[name]
	if !ok {
		return 0, errors.NotFound(errors.PhaseLoad, "function", name)
	}
	return ptr, nil
}

// function returns an api.Function for symbol. Functions are not safe for
// concurrent use, so each symbol keeps a pool of them.
func (l *Library) function(symbol string) (api.Function, *sync.Pool, error) {
	l.cacheMu.RLock()
	fp, ok := l.funcCache[symbol]
	l.cacheMu.RUnlock()

	if !ok {
		if !l.symbols[symbol] {
			return nil, nil, errors.NotFound(errors.PhaseInvoke, "symbol", symbol)
		}
		fp = &sync.Pool{New: func() any { return l.link.ExportedFunction(symbol) }}
		l.cacheMu.Lock()
		if existing, ok := l.funcCache[symbol]; ok {
			fp = existing
		} else {
			l.funcCache[symbol] = fp
		}
		l.cacheMu.Unlock()
	}
	return fp.Get().(api.Function), fp, nil
}

// Call invokes a native symbol with raw arguments and returns its first
// result, or zero for void functions. A trap inside the native library
// (including a panic in a callback) is returned as an error.
func (l *Library) Call(ctx context.Context, symbol string, args ...uint64) (uint64, error) {
	if l.closed.Load() {
		return 0, errors.NotInitialized(errors.PhaseInvoke, "library")
	}
	fn, fp, err := l.function(symbol)
	if err != nil {
		return 0, err
	}
	res, err := fn.Call(ctx, args...)
	fp.Put(fn)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseInvoke, errors.KindInvalidData, err, "native call "+symbol+" trapped")
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

// Close releases the runtime. Foreign memory is gone afterwards.
func (l *Library) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.runtime.Close(ctx)
}
