package sanitize

import (
	"regexp"
	"strings"
	"testing"
)

var validName = regexp.MustCompile(`^[a-z0-9-]*$`)

func TestJobNameExample(t *testing.T) {
	got := JobName("! Read this, because it's very important! ")
	want := "read-this-because-its-very-important"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestJobNameWhitespaceOnly(t *testing.T) {
	if got := JobName("   \t\n  "); got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}

func TestJobNameBound(t *testing.T) {
	inputs := []string{
		"somefile.mxf",
		strings.Repeat("a", 200),
		"this is a VERY long test name which is not going to get through unscathed, probably",
		"",
		"-----",
		"ABC123_def",
	}
	for _, in := range inputs {
		got := JobName(in)
		if len(got) > 59 {
			t.Fatalf("JobName(%q) = %q, length %d exceeds 59", in, got, len(got))
		}
		if !validName.MatchString(got) {
			t.Fatalf("JobName(%q) = %q does not match [a-z0-9-]*", in, got)
		}
	}
}

func TestLabelShortPassthrough(t *testing.T) {
	got := Label("1234")
	if got != "1234" {
		t.Fatalf("got %q, want 1234", got)
	}
}

func TestLabelStripsDisallowedChars(t *testing.T) {
	got := Label("abc!def@ghi#jkl")
	if got != "abcdefghijkl" {
		t.Fatalf("got %q, want abcdefghijkl", got)
	}
}

func TestLabelTruncatesWithEllipsis(t *testing.T) {
	in := strings.Repeat("x", 100)
	got := Label(in)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("got %q, want suffix ...", got)
	}
	if len(got) != 63 {
		t.Fatalf("got length %d, want 63", len(got))
	}
}
