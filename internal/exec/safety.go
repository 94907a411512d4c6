// Package exec validates executable names and command arguments
// before anything is handed to the operating system. The checks are
// deliberately conservative: nothing the assistant runs on its own
// authority needs shell metacharacters in an executable name.
package exec

import (
	"errors"
	"regexp"
	"strings"
)

var (
	shellMetachars = regexp.MustCompile("[;&|`$<>]")
	controlChars   = regexp.MustCompile(`[\r\n]`)
	quoteChars     = regexp.MustCompile(`["']`)
	bareName       = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
	windowsDrive   = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

var (
	ErrEmptyValue      = errors.New("executable value is empty")
	ErrNullByte        = errors.New("executable value contains a null byte")
	ErrControlChar     = errors.New("executable value contains control characters")
	ErrShellMetachar   = errors.New("executable value contains shell metacharacters")
	ErrQuoteChar       = errors.New("executable value contains quote characters")
	ErrOptionInjection = errors.New("executable value starts with a dash")
	ErrBareNameChars   = errors.New("executable value contains characters not allowed in a bare name")
)

// IsLikelyPath reports whether value looks like a filesystem path
// rather than a bare executable name: a leading . or ~, any path
// separator, or a Windows drive prefix.
func IsLikelyPath(value string) bool {
	if value == "" {
		return false
	}
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	if strings.ContainsAny(value, `/\`) {
		return true
	}
	return windowsDrive.MatchString(value)
}

// SanitizeExecutable trims value and returns it if it is safe to use
// as an executable name or path. Null bytes, control characters,
// shell metacharacters, and quotes are always rejected. Values that
// look like paths pass once those checks clear; bare names must also
// avoid a leading dash and match [A-Za-z0-9._+-]+.
func SanitizeExecutable(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrEmptyValue
	}
	if strings.Contains(trimmed, "\x00") {
		return "", ErrNullByte
	}
	if controlChars.MatchString(trimmed) {
		return "", ErrControlChar
	}
	if shellMetachars.MatchString(trimmed) {
		return "", ErrShellMetachar
	}
	if quoteChars.MatchString(trimmed) {
		return "", ErrQuoteChar
	}
	if IsLikelyPath(trimmed) {
		return trimmed, nil
	}
	if strings.HasPrefix(trimmed, "-") {
		return "", ErrOptionInjection
	}
	if !bareName.MatchString(trimmed) {
		return "", ErrBareNameChars
	}
	return trimmed, nil
}

// IsSafeExecutable reports whether SanitizeExecutable accepts value.
func IsSafeExecutable(value string) bool {
	_, err := SanitizeExecutable(value)
	return err == nil
}

// ExecutableToken extracts the first whitespace-separated token of a
// command line: the value that names the executable when the line is
// run through a shell.
func ExecutableToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
