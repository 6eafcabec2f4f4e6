// Package sanitize turns arbitrary upload-request hints into strings
// that are safe to use as Kubernetes object names and label values.
// Grounded on the responder's filename-hint-to-job-name conversion;
// the two sanitisers below are a direct re-implementation of its
// regex-based cleanup rules.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	notNameChar   = regexp.MustCompile(`[^A-Za-z0-9-]`)
	notLabelChar  = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// maxJobNameHint is 59, not Kubernetes's 63-character object name
// limit, because the system prepends "cds-" to whatever this produces.
const maxJobNameHint = 59

// JobName converts hint into a string safe to use as (the stem of) a
// Job name: runs of whitespace become a single hyphen, any character
// outside [A-Za-z0-9-] is dropped, the result is lowercased, leading
// and trailing hyphens are stripped, then the result is truncated to
// 59 characters. Truncation happens last and is not re-checked against
// trailing hyphens: a hint that happens to truncate mid-hyphen
// produces a name ending in "-", which Kubernetes will reject.
func JobName(hint string) string {
	s := whitespaceRun.ReplaceAllString(hint, "-")
	s = notNameChar.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = strings.Trim(s, "-")
	if len(s) > maxJobNameHint {
		s = s[:maxJobNameHint]
	}
	return s
}

// maxLabelLen is Kubernetes's label value length limit.
const maxLabelLen = 63

// Label converts v into a string safe to use as a label value: any
// character outside [A-Za-z0-9._-] is dropped; if the result is still
// too long it is truncated to 60 characters with "..." appended.
func Label(v string) string {
	s := notLabelChar.ReplaceAllString(v, "")
	if len(s) < maxLabelLen {
		return s
	}
	return s[:60] + "..."
}
