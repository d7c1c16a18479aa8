// Package generation names generation indices, moves the public alias onto a
// new generation and deletes the generations it replaced.
package generation

import (
	"strings"
	"time"
)

// TimestampLayout is the UTC suffix of a generation name.
const TimestampLayout = "20060102150405"

// Name returns the generation name for alias created at t.
func Name(alias string, t time.Time) string {
	return alias + "-" + t.UTC().Format(TimestampLayout)
}

// Pattern matches every generation name of alias.
func Pattern(alias string) string {
	return alias + "-*"
}

// IsGeneration reports whether name is a generation of alias.
func IsGeneration(alias, name string) bool {
	suffix, ok := strings.CutPrefix(name, alias+"-")
	if !ok || len(suffix) != len(TimestampLayout) {
		return false
	}
	_, err := time.Parse(TimestampLayout, suffix)
	return err == nil
}
