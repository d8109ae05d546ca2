package document

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by every store backend for an unknown id.
var ErrNotFound = errors.New("document not found")

// ValidationError lists the reasons a create or update payload was rejected.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
