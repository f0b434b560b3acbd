package svnerr

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/errors"
	"github.com/wippyai/svn-ffi/marshal"
	"github.com/wippyai/svn-ffi/pool"
)

// svn_error_t field offsets.
const (
	offCode    = 0
	offMessage = 4
	offChild   = 8
	offPool    = 12
	offFile    = 16
	offLine    = 20
)

const (
	strerrorBufSize = 256
	maxChainDepth   = 64
)

// Frame is one link of a native error chain, outermost first.
type Frame struct {
	Message string
	File    string
	Code    int32
	Line    int32

	// Specific is false when the native error carried no message and
	// Message is the generic text for Code.
	Specific bool
}

// Error is a native error chain copied out of foreign memory.
type Error struct {
	Class   *Class
	Message string
	Chain   []Frame
	Code    int32
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the error's class, or another *Error with the same code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Class:
		return t == e.Class
	case *Error:
		return t.Code == e.Code
	}
	return false
}

// Root returns the innermost frame.
func (e *Error) Root() Frame {
	return e.Chain[len(e.Chain)-1]
}

// Check converts the svn_error_t at addr into an *Error and clears it. A NULL
// address is success.
func Check(ctx context.Context, lib *engine.Library, addr uint32) error {
	if addr == 0 {
		return nil
	}
	e, err := read(ctx, lib, addr)
	if _, cerr := lib.Call(ctx, "svn_error_clear", uint64(addr)); cerr != nil {
		engine.Logger().Warn("svn_error_clear failed", zap.Uint32("error", addr), zap.Error(cerr))
	}
	if err != nil {
		return err
	}
	return e
}

// Validate checks an svn_error_t * return value. It fits invoke.Binding.
func Validate(ctx context.Context, lib *engine.Library, ret uint64) error {
	return Check(ctx, lib, uint32(ret))
}

func read(ctx context.Context, lib *engine.Library, addr uint32) (*Error, error) {
	mem := lib.Memory()
	c := &marshal.Codec{Mem: mem}

	errPool, err := mem.ReadU32(addr + offPool)
	if err != nil {
		return nil, err
	}
	buf, err := lib.Call(ctx, "apr_palloc", uint64(errPool), strerrorBufSize)
	if err != nil {
		return nil, err
	}
	if buf == 0 {
		return nil, errors.OutOfMemory(strerrorBufSize)
	}
	generic := func(code int32) (string, error) {
		if _, err := lib.Call(ctx, "svn_strerror", uint64(uint32(code)), buf, strerrorBufSize); err != nil {
			return "", err
		}
		v, err := c.Read(uint32(buf), marshal.String)
		if err != nil {
			return "", err
		}
		return v.(string), nil
	}

	var chain []Frame
	for p := addr; p != 0; {
		if len(chain) == maxChainDepth {
			return nil, errors.InvalidData(errors.PhaseUnmarshal, []string{"svn_error_t"},
				fmt.Sprintf("error chain deeper than %d", maxChainDepth))
		}
		f, next, err := readFrame(c, p)
		if err != nil {
			return nil, err
		}
		if !f.Specific {
			if f.Message, err = generic(f.Code); err != nil {
				return nil, err
			}
		}
		chain = append(chain, f)
		p = next
	}

	top := chain[0]
	topGeneric := top.Message
	if top.Specific {
		if topGeneric, err = generic(top.Code); err != nil {
			return nil, err
		}
	}
	return &Error{
		Class:   Classes.Resolve(top.Code, topGeneric),
		Code:    top.Code,
		Message: display(chain),
		Chain:   chain,
	}, nil
}

func readFrame(c *marshal.Codec, addr uint32) (Frame, uint32, error) {
	var f Frame
	code, err := c.Read(addr+offCode, marshal.Int32)
	if err != nil {
		return f, 0, err
	}
	f.Code = code.(int32)
	if msg, err := c.Read(addr+offMessage, marshal.Ref(marshal.String)); err != nil {
		return f, 0, err
	} else if msg != nil {
		f.Message, f.Specific = msg.(string), true
	}
	if file, err := c.Read(addr+offFile, marshal.Ref(marshal.String)); err != nil {
		return f, 0, err
	} else if file != nil {
		f.File = file.(string)
	}
	line, err := c.Read(addr+offLine, marshal.Int32)
	if err != nil {
		return f, 0, err
	}
	f.Line = line.(int32)
	child, err := c.Read(addr+offChild, marshal.Uint32)
	if err != nil {
		return f, 0, err
	}
	return f, child.(uint32), nil
}

// display is the top message, followed by the root cause when it says
// something different.
func display(chain []Frame) string {
	msg := chain[0].Message
	if len(chain) > 1 {
		if root := chain[len(chain)-1].Message; root != msg {
			return msg + ": " + root
		}
	}
	return msg
}

// New creates a native svn_error_t wrapping child, so managed code can report
// a failure to a native caller. An empty msg leaves the message to
// svn_strerror. The message is staged in p.
func New(ctx context.Context, p *pool.Pool, code int32, child uint32, msg string) (uint32, error) {
	var msgAddr uint32
	if msg != "" {
		var err error
		if msgAddr, err = marshal.NewCodec(p).Write(ctx, msg, marshal.String); err != nil {
			return 0, err
		}
	}
	addr, err := p.Library().Call(ctx, "svn_error_create", uint64(uint32(code)), uint64(child), uint64(msgAddr))
	if err != nil {
		return 0, err
	}
	return uint32(addr), nil
}

// Format renders the whole chain, one frame per line.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb != 'v' || !s.Flag('+') {
		fmt.Fprint(s, e.Message)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", e.Message, e.Class.Name)
	for _, f := range e.Chain {
		fmt.Fprintf(&b, "\n  E%06d: %s", f.Code, f.Message)
		if f.File != "" {
			fmt.Fprintf(&b, " [%s:%d]", f.File, f.Line)
		}
	}
	fmt.Fprint(s, b.String())
}
