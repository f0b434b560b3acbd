package libsvn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/tetratelabs/wazero/api"
)

// svn_diff_file_options_t field offsets.
const (
	optIgnoreSpace    = 0
	optIgnoreEOLStyle = 4
	optShowCFunction  = 8
	optSize           = 12
)

// svn_diff_file_ignore_space_t
const (
	ignoreSpaceNone   = 0
	ignoreSpaceChange = 1
	ignoreSpaceAll    = 2
)

const diffMagic = 0x46464944 // "DIFF"

const contextLines = 3

type diffState struct {
	a, b    []string
	groups  [][]difflib.OpCode
	changed bool
}

// splitLines keeps line terminators so output reproduces the inputs exactly.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func normalize(lines []string, ignoreSpace uint32, ignoreEOL bool) []string {
	if ignoreSpace == ignoreSpaceNone && !ignoreEOL {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		if ignoreEOL {
			line = strings.TrimRight(line, "\r\n") + "\n"
		}
		switch ignoreSpace {
		case ignoreSpaceChange:
			line = strings.Join(strings.Fields(line), " ") + "\n"
		case ignoreSpaceAll:
			line = strings.Map(func(r rune) rune {
				if unicode.IsSpace(r) {
					return -1
				}
				return r
			}, line) + "\n"
		}
		out[i] = line
	}
	return out
}

// svn_diff_file_options_t *svn_diff_file_options_create(apr_pool_t *pool)
func (l *Library) svnDiffFileOptionsCreate(ctx context.Context, mod api.Module, stack []uint64) {
	ret(stack, l.allocIn(ctx, mod, arg(stack, 0), optSize))
}

func readDiffInput(p string) ([]byte, *failure) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fail(APR_ENOENT, "Can't open file '%s'", p)
		}
		return nil, osFailure(err, p)
	}
	return data, nil
}

// svn_error_t *svn_diff_file_diff_2(svn_diff_t **diff, const char *original,
// const char *modified, const svn_diff_file_options_t *options,
// apr_pool_t *pool)
func (l *Library) svnDiffFileDiff2(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	out, options, pool := arg(stack, 0), arg(stack, 3), arg(stack, 4)
	original, ok1 := m.optCstr(arg(stack, 1))
	modified, ok2 := m.optCstr(arg(stack, 2))
	if !ok1 || !ok2 {
		ret(stack, l.errorf(mod, SVN_ERR_INCORRECT_PARAMS, 0, "Diff input path cannot be nil"))
		return
	}

	var ignoreSpace uint32
	var ignoreEOL bool
	if options != 0 {
		ignoreSpace = m.u32(options + optIgnoreSpace)
		ignoreEOL = m.u32(options+optIgnoreEOLStyle) != 0
	}

	a, f := readDiffInput(original)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}
	b, f := readDiffInput(modified)
	if f != nil {
		ret(stack, l.raise(mod, f, 0))
		return
	}

	d := &diffState{a: splitLines(a), b: splitLines(b)}
	matcher := difflib.NewMatcher(normalize(d.a, ignoreSpace, ignoreEOL), normalize(d.b, ignoreSpace, ignoreEOL))
	for _, op := range matcher.GetOpCodes() {
		if op.Tag != 'e' {
			d.changed = true
			break
		}
	}
	if d.changed {
		d.groups = matcher.GetGroupedOpCodes(contextLines)
	}

	addr, abortFn := func() (uint32, uint32) {
		l.mu.Lock()
		defer l.mu.Unlock()
		p, ok := l.pools[pool]
		if !ok {
			panic(fault("allocation in an unknown pool"))
		}
		addr := l.palloc(m, p, 8)
		if addr == 0 {
			return 0, p.abortFn
		}
		m.putU32(addr, diffMagic)
		l.diffs[addr] = d
		p.onCleanup(func() { delete(l.diffs, addr) })
		return addr, p.abortFn
	}()
	if addr == 0 {
		abort(ctx, mod, abortFn)
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	m.putU32(out, addr)
	ret(stack, 0)
}

func (l *Library) diff(addr uint32) *diffState {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.diffs[addr]
	if !ok {
		panic(fault("not an svn_diff_t"))
	}
	return d
}

// svn_boolean_t svn_diff_contains_diffs(svn_diff_t *diff)
func (l *Library) svnDiffContainsDiffs(_ context.Context, _ api.Module, stack []uint64) {
	ret(stack, boolean(l.diff(arg(stack, 0)).changed))
}

// Two-way diffs never conflict.
//
// svn_boolean_t svn_diff_contains_conflicts(svn_diff_t *diff)
func (l *Library) svnDiffContainsConflicts(_ context.Context, _ api.Module, stack []uint64) {
	l.diff(arg(stack, 0))
	ret(stack, 0)
}

func formatRange(start, stop int) string {
	beginning := start + 1
	length := stop - start
	switch length {
	case 1:
		return fmt.Sprintf("%d", beginning)
	case 0:
		return fmt.Sprintf("%d,0", beginning-1)
	default:
		return fmt.Sprintf("%d,%d", beginning, length)
	}
}

func writeLine(buf *bytes.Buffer, prefix byte, line string) {
	buf.WriteByte(prefix)
	buf.WriteString(line)
	if !strings.HasSuffix(line, "\n") {
		buf.WriteString("\n\\ No newline at end of file\n")
	}
}

// unified renders d with the given file headers.
func (d *diffState) unified(fromHeader, toHeader string) []byte {
	if !d.changed {
		return nil
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n+++ %s\n", fromHeader, toHeader)
	for _, g := range d.groups {
		first, last := g[0], g[len(g)-1]
		fmt.Fprintf(&buf, "@@ -%s +%s @@\n", formatRange(first.I1, last.I2), formatRange(first.J1, last.J2))
		for _, op := range g {
			if op.Tag == 'e' {
				for _, line := range d.a[op.I1:op.I2] {
					writeLine(&buf, ' ', line)
				}
				continue
			}
			if op.Tag == 'r' || op.Tag == 'd' {
				for _, line := range d.a[op.I1:op.I2] {
					writeLine(&buf, '-', line)
				}
			}
			if op.Tag == 'r' || op.Tag == 'i' {
				for _, line := range d.b[op.J1:op.J2] {
					writeLine(&buf, '+', line)
				}
			}
		}
	}
	return buf.Bytes()
}

func header(m mem, headerArg, pathArg uint32, relativeTo string) string {
	if h, ok := m.optCstr(headerArg); ok {
		return h
	}
	p, _ := m.optCstr(pathArg)
	if relativeTo != "" {
		if rel, err := filepath.Rel(relativeTo, p); err == nil {
			p = rel
		}
	}
	return p
}

// svn_error_t *svn_diff_file_output_unified3(svn_stream_t *output_stream,
// svn_diff_t *diff, const char *original_path, const char *modified_path,
// const char *original_header, const char *modified_header,
// const char *header_encoding, const char *relative_to_dir,
// svn_boolean_t show_c_function, apr_pool_t *pool)
func (l *Library) svnDiffFileOutputUnified3(ctx context.Context, mod api.Module, stack []uint64) {
	m := memOf(mod)
	stream, pool := arg(stack, 0), arg(stack, 9)
	d := l.diff(arg(stack, 1))
	relativeTo, _ := m.optCstr(arg(stack, 7))

	text := d.unified(
		header(m, arg(stack, 4), arg(stack, 2), relativeTo),
		header(m, arg(stack, 5), arg(stack, 3), relativeTo),
	)
	if len(text) == 0 {
		ret(stack, 0)
		return
	}

	buf := l.allocIn(ctx, mod, pool, chunkSize)
	lenp := l.allocIn(ctx, mod, pool, 4)
	if buf == 0 || lenp == 0 {
		ret(stack, l.errorCode(mod, APR_ENOMEM, 0))
		return
	}
	for len(text) > 0 {
		n := min(len(text), chunkSize)
		m.put(buf, text[:n])
		m.putU32(lenp, uint32(n))
		if err := l.streamWrite(ctx, mod, stream, buf, lenp); err != 0 {
			ret(stack, err)
			return
		}
		text = text[n:]
	}
	ret(stack, 0)
}
