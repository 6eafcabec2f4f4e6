// Package envutil centralises environment-variable parsing so every
// component reads configuration the same way.
package envutil

import (
	"os"
	"strconv"
	"strings"
)

// String returns the trimmed value of name, or def if unset/blank.
func String(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

// Int returns the parsed integer value of name, or def if unset/blank
// or unparseable.
func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Lookup returns the trimmed value of name and whether it was set at all.
func Lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Bool parses common truthy/falsy spellings ("true"/"yes"/"1" and
// "false"/"no"/"0", case-insensitive). An absent or blank variable
// returns def. Any other literal is reported via ok=false so callers
// can treat it as a configuration error.
func Bool(name string, def bool) (value bool, ok bool) {
	v, present := Lookup(name)
	if !present || v == "" {
		return def, true
	}
	switch strings.ToLower(v) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	default:
		return false, false
	}
}
