package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/svn-ffi/svn"
)

func main() {
	os.Exit(svndiff())
}

// svndiff returns 0 when the files are equal, 1 when they differ and 2 on
// trouble.
func svndiff() int {
	var (
		ignoreSpace = flag.String("ignore-space", "none", "Whitespace handling: none, change or all")
		ignoreEOL   = flag.Bool("ignore-eol", false, "Ignore end-of-line style differences")
		showCFunc   = flag.Bool("show-c-function", false, "Show the enclosing C function in hunk headers")
		relativeTo  = flag.String("relative-to", "", "Strip this directory from the file names in headers")
		labels      = flag.String("L", "", "Header labels for both files (old,new)")
		color       = flag.String("color", "auto", "Colorize output: auto, always or never")
		verbose     = flag.Bool("v", false, "Log native calls to stderr")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: svndiff [-ignore-space none|change|all] [-ignore-eol] [-L old,new] <original> <modified>")
		fmt.Fprintln(os.Stderr, "       svndiff -i <original> <modified>  (interactive mode)")
		return 2
	}

	opts, err := fileOptions(*ignoreSpace, *ignoreEOL, *showCFunc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	uopts := svn.UnifiedOptions{RelativeTo: *relativeTo}
	if *labels != "" {
		from, to, ok := strings.Cut(*labels, ",")
		if !ok {
			fmt.Fprintln(os.Stderr, "Error: -L takes two labels separated by a comma")
			return 2
		}
		uopts.OriginalHeader, uopts.ModifiedHeader = from, to
	}

	cfg := &svn.Config{}
	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 2
		}
		defer logger.Sync()
		cfg.Logger = logger
	}

	ctx := context.Background()
	if err := svn.Init(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	original, modified := flag.Arg(0), flag.Arg(1)
	var changed bool
	if *interactive {
		err = runInteractive(original, modified, opts, uopts)
	} else {
		changed, err = run(ctx, original, modified, opts, uopts, useColor(*color))
	}
	if terr := svn.Terminate(ctx); terr != nil && err == nil {
		err = terr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if changed {
		return 1
	}
	return 0
}

// run prints the unified diff and reports whether the files differ, so the
// exit status follows diff(1).
func run(ctx context.Context, original, modified string, opts *svn.FileOptions, uopts svn.UnifiedOptions, color bool) (bool, error) {
	d, err := svn.FileDiff(ctx, svn.RootPool(), original, modified, opts)
	if err != nil {
		return false, err
	}
	changed, err := d.Changed(ctx)
	if err != nil || !changed {
		return false, err
	}
	out, err := d.Unified(ctx, uopts)
	if err != nil {
		return true, err
	}
	if color {
		out = colorize(out)
	}
	fmt.Print(out)
	return true, nil
}

func fileOptions(ignoreSpace string, ignoreEOL, showCFunc bool) (*svn.FileOptions, error) {
	opts := &svn.FileOptions{IgnoreEOLStyle: ignoreEOL, ShowCFunction: showCFunc}
	switch ignoreSpace {
	case "none":
		opts.IgnoreSpace = svn.IgnoreSpaceNone
	case "change":
		opts.IgnoreSpace = svn.IgnoreSpaceChange
	case "all":
		opts.IgnoreSpace = svn.IgnoreSpaceAll
	default:
		return nil, fmt.Errorf("unknown -ignore-space mode %q", ignoreSpace)
	}
	return opts, nil
}

func useColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}
