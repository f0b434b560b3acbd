package invoke

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	svnffi "github.com/wippyai/svn-ffi"
	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
)

// outSlotSize fits the widest out-parameter, an svn_filesize_t.
const outSlotSize = 8

// Binding describes one native function.
type Binding struct {
	// Symbol is the exported native function name.
	Symbol string

	// Outs describes the out-parameters, in order. Each descriptor is applied
	// to the slot address, so a T** out is Ref(T) and an int* out is Int32.
	Outs []marshal.Descriptor

	// Params describes the caller arguments by position. Arguments past the
	// end of Params are inferred from their Go type.
	Params []marshal.Descriptor

	// Returns decodes the raw return value when there are no outs and no
	// Validate.
	Returns marshal.Descriptor

	// MapArgs, when set, produces the final argument list.
	MapArgs ArgMapper

	// Validate, when set, checks the raw return value before outs are read.
	Validate func(ctx context.Context, lib *engine.Library, ret uint64) error

	// Transform, when set, post-processes the result.
	Transform func(v any) (any, error)
}

// Args is the assembled argument list of one call before mapping.
type Args struct {
	Outs     []uint64
	Params   []uint64
	Receiver uint64

	// HasReceiver is false when the call was made with NoReceiver.
	HasReceiver bool

	// Owner receives values the native side allocates.
	Owner *pool.Pool

	// Scratch is destroyed when the call returns.
	Scratch *pool.Pool
}

// ArgMapper turns assembled arguments into the native argument list.
type ArgMapper func(ctx context.Context, a *Args) ([]uint64, error)

// Flatten returns the default order: outs, receiver, params.
func (a *Args) Flatten() []uint64 {
	out := make([]uint64, 0, len(a.Outs)+len(a.Params)+2)
	out = append(out, a.Outs...)
	if a.HasReceiver {
		out = append(out, a.Receiver)
	}
	return append(out, a.Params...)
}

// AppendPool passes the owner pool as the last argument.
func AppendPool(_ context.Context, a *Args) ([]uint64, error) {
	addr, err := a.Owner.Addr()
	if err != nil {
		return nil, err
	}
	return append(a.Flatten(), uint64(addr)), nil
}

type noReceiver struct{}

func (noReceiver) Addr() (uint32, error) { return 0, nil }

// NoReceiver omits the receiver from the argument list. A nil receiver is
// passed as NULL instead.
var NoReceiver svnffi.Addresser = noReceiver{}

// Invoke calls the native function of b on behalf of owner.
func (b *Binding) Invoke(ctx context.Context, owner *pool.Pool, recv svnffi.Addresser, args ...any) (any, error) {
	if owner == nil {
		return nil, errors.NilPointer(errors.PhaseInvoke, []string{b.Symbol}, "*pool.Pool")
	}
	scratch, err := pool.Create(ctx, owner)
	if err != nil {
		return nil, err
	}
	v, err := b.call(ctx, owner, scratch, recv, args)
	if derr := scratch.Destroy(ctx); derr != nil {
		// the owner may have been destroyed from a callback during the call
		engine.Logger().Warn("scratch pool destroy failed",
			zap.String("symbol", b.Symbol),
			zap.Error(derr))
		if err == nil && owner.Alive() {
			err = derr
		}
	}
	if err != nil {
		return nil, err
	}
	if b.Transform != nil {
		return b.Transform(v)
	}
	return v, nil
}

func (b *Binding) call(ctx context.Context, owner, scratch *pool.Pool, recv svnffi.Addresser, args []any) (any, error) {
	lib := owner.Library()
	allocs := marshal.NewAllocationList()
	defer allocs.Release()
	in := &marshal.Codec{Mem: lib.Memory(), Pool: scratch, Allocs: allocs}

	a := &Args{
		Outs:    make([]uint64, len(b.Outs)),
		Params:  make([]uint64, len(args)),
		Owner:   owner,
		Scratch: scratch,
	}
	for i := range b.Outs {
		slot, err := scratch.Alloc(ctx, outSlotSize, outSlotSize)
		if err != nil {
			return nil, err
		}
		a.Outs[i] = uint64(slot)
	}
	if recv != NoReceiver {
		a.HasReceiver = true
		if recv != nil {
			addr, err := recv.Addr()
			if err != nil {
				return nil, errors.Wrap(errors.PhaseInvoke, errors.KindDestroyed, err, b.Symbol+": receiver")
			}
			a.Receiver = uint64(addr)
		}
	}
	for i, arg := range args {
		bits, err := in.Encode(ctx, arg, b.param(i, arg))
		if err != nil {
			return nil, b.argError(i, err)
		}
		a.Params[i] = bits
	}

	stack := a.Flatten()
	if b.MapArgs != nil {
		var err error
		if stack, err = b.MapArgs(ctx, a); err != nil {
			return nil, err
		}
	}
	if err := allocs.Check(); err != nil {
		return nil, err
	}

	engine.Logger().Debug("native call",
		zap.String("symbol", b.Symbol),
		zap.Int("args", len(stack)),
		zap.Int("allocations", allocs.Count()))

	ret, err := lib.Call(ctx, b.Symbol, stack...)
	if err != nil {
		return nil, err
	}
	if b.Validate != nil {
		if err := b.Validate(ctx, lib, ret); err != nil {
			return nil, err
		}
	}

	out := &marshal.Codec{Mem: lib.Memory(), Pool: owner}
	if len(b.Outs) == 0 {
		if b.Returns.Kind == marshal.KindInvalid || b.Validate != nil {
			return ret, nil
		}
		return out.Decode(ret, b.Returns)
	}
	results := make([]any, len(b.Outs))
	for i, d := range b.Outs {
		v, err := out.Read(uint32(a.Outs[i]), d)
		if err != nil {
			return nil, errors.New(errors.PhaseUnmarshal, errors.KindInvalidData).
				Path(b.Symbol, fmt.Sprintf("out[%d]", i)).
				ForeignType(d.Name).
				Cause(err).
				Build()
		}
		results[i] = v
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

func (b *Binding) param(i int, arg any) marshal.Descriptor {
	if i < len(b.Params) {
		return b.Params[i]
	}
	switch arg.(type) {
	case string, []byte:
		return marshal.String
	case bool:
		return marshal.Bool
	case int64, uint64:
		return marshal.Int64
	default:
		return marshal.Int32
	}
}

func (b *Binding) argError(i int, err error) error {
	if e, ok := err.(*errors.Error); ok {
		return errors.New(e.Phase, e.Kind).
			Path(b.Symbol, fmt.Sprintf("arg[%d]", i)).
			GoType(e.GoType).
			ForeignType(e.ForeignType).
			Value(e.Value).
			Cause(err).
			Build()
	}
	return errors.Wrap(errors.PhaseMarshal, errors.KindInvalidInput, err, fmt.Sprintf("%s: arg[%d]", b.Symbol, i))
}

// Truthy converts a C int return value to bool.
func Truthy(v any) (any, error) {
	switch n := v.(type) {
	case bool:
		return n, nil
	case uint64:
		return int32(n) == 1, nil
	case int32:
		return n == 1, nil
	case uint32:
		return n == 1, nil
	}
	return nil, errors.TypeMismatch(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "int")
}

// As unwraps an Invoke result as T. An absent result yields the zero T and
// false.
func As[T any](v any, err error) (T, bool, error) {
	if err != nil {
		var zero T
		return zero, false, err
	}
	return marshal.As[T](v)
}

// Results unwraps the []any of a multi-out call.
func Results(v any, err error) ([]any, error) {
	if err != nil {
		return nil, err
	}
	out, ok := v.([]any)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "[]any")
	}
	return out, nil
}

// Close runs every closer, combining their errors.
func Close(closers ...func() error) error {
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c())
	}
	return err
}
