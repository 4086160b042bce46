package feed

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by every DecodeError.
var ErrDecode = errors.New("decode error")

// DecodeError reports a row or column that could not be interpreted.
type DecodeError struct {
	Source string
	Column string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("decode %s: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("decode %s.%s: %s", e.Source, e.Column, e.Reason)
}

// Is lets errors.Is(err, ErrDecode) match.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func decodeErr(source, column, format string, args ...any) error {
	return &DecodeError{Source: source, Column: column, Reason: fmt.Sprintf(format, args...)}
}
