package batch

import (
	"errors"
	"fmt"

	"github.com/local/pdfcover/internal/archive"
	"github.com/local/pdfcover/internal/cover"
)

var (
	ErrEmptyBatch   = errors.New("no PDF documents in batch")
	ErrMissingCover = errors.New("cover file is required")
)

// ValidationError represents a request that can never succeed as sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err was caused by the caller's input rather
// than by the service: bad parameters, an unusable cover or archive.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyBatch) || errors.Is(err, ErrMissingCover) || errors.Is(err, archive.ErrNotArchive) {
		return true
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return true
	}
	var typeErr *cover.UnsupportedTypeError
	if errors.As(err, &typeErr) {
		return true
	}
	var decodeErr *cover.DecodeError
	return errors.As(err, &decodeErr)
}
