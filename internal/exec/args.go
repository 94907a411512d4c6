package exec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyArgument         = errors.New("argument is empty")
	ErrArgumentNullByte      = errors.New("argument contains a null byte")
	ErrArgumentControlChar   = errors.New("argument contains control characters")
	ErrArgumentShellMetachar = errors.New("argument contains shell metacharacters")
)

// SanitizeArgument validates one argument of a directly-executed
// command. Looser than SanitizeExecutable: arguments may start with a
// dash and contain quotes, but null bytes, control characters, and
// shell metacharacters are still rejected.
func SanitizeArgument(arg string) (string, error) {
	if arg == "" {
		return "", ErrEmptyArgument
	}
	if strings.Contains(arg, "\x00") {
		return "", ErrArgumentNullByte
	}
	if controlChars.MatchString(arg) {
		return "", ErrArgumentControlChar
	}
	if shellMetachars.MatchString(arg) {
		return "", ErrArgumentShellMetachar
	}
	return arg, nil
}

// IsSafeArgument reports whether SanitizeArgument accepts arg.
func IsSafeArgument(arg string) bool {
	_, err := SanitizeArgument(arg)
	return err == nil
}

// SanitizeArguments validates every argument and returns the slice
// unchanged, or an ArgumentError naming the first offender.
func SanitizeArguments(args []string) ([]string, error) {
	if args == nil {
		return nil, nil
	}
	result := make([]string, 0, len(args))
	for i, arg := range args {
		sanitized, err := SanitizeArgument(arg)
		if err != nil {
			return nil, &ArgumentError{Index: i, Arg: arg, Err: err}
		}
		result = append(result, sanitized)
	}
	return result, nil
}

// ArgumentError reports which argument failed validation.
type ArgumentError struct {
	Index int
	Arg   string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d is unsafe: %v", e.Index, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }
