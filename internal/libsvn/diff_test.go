package libsvn

import (
	"slices"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a\n", []string{"a\n"}},
		{"a\nb", []string{"a\n", "b"}},
		{"a\r\nb\n", []string{"a\r\n", "b\n"}},
	}
	for _, tt := range tests {
		if got := splitLines([]byte(tt.in)); !slices.Equal(got, tt.want) {
			t.Errorf("splitLines(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	lines := []string{"a  b\r\n", " c\n"}
	tests := []struct {
		name  string
		space uint32
		eol   bool
		want  []string
	}{
		{"none", ignoreSpaceNone, false, lines},
		{"eol", ignoreSpaceNone, true, []string{"a  b\n", " c\n"}},
		{"change", ignoreSpaceChange, false, []string{"a b\n", "c\n"}},
		{"all", ignoreSpaceAll, false, []string{"ab\n", "c\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalize(lines, tt.space, tt.eol); !slices.Equal(got, tt.want) {
				t.Errorf("normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatRange(t *testing.T) {
	tests := []struct {
		start, stop int
		want        string
	}{
		{0, 1, "1"},
		{0, 3, "1,3"},
		{2, 2, "2,0"},
		{4, 6, "5,2"},
	}
	for _, tt := range tests {
		if got := formatRange(tt.start, tt.stop); got != tt.want {
			t.Errorf("formatRange(%d, %d) = %q, want %q", tt.start, tt.stop, got, tt.want)
		}
	}
}

func TestUnified(t *testing.T) {
	newDiff := func(a, b string) *diffState {
		d := &diffState{a: splitLines([]byte(a)), b: splitLines([]byte(b))}
		m := difflib.NewMatcher(d.a, d.b)
		for _, op := range m.GetOpCodes() {
			if op.Tag != 'e' {
				d.changed = true
			}
		}
		if d.changed {
			d.groups = m.GetGroupedOpCodes(contextLines)
		}
		return d
	}

	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"equal", "x\n", "x\n", ""},
		{"replace", "one\ntwo\nthree\n", "one\n2\nthree\n", "--- a\n+++ b\n@@ -1,3 +1,3 @@\n one\n-two\n+2\n three\n"},
		{"no newline", "x\n", "x", "--- a\n+++ b\n@@ -1 +1 @@\n-x\n+x\n\\ No newline at end of file\n"},
		{"insert into empty", "", "new\n", "--- a\n+++ b\n@@ -0,0 +1 @@\n+new\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(newDiff(tt.a, tt.b).unified("a", "b")); got != tt.want {
				t.Errorf("unified() = %q, want %q", got, tt.want)
			}
		})
	}
}
