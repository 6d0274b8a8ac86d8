package torrent

import (
	"errors"
	"fmt"
)

var (
	ErrNoEndpoint    = errors.New("missing 'announce' or 'url-list' field")
	ErrMissingField  = errors.New("missing or invalid field")
	ErrInvalidValue  = errors.New("invalid value")
	ErrInvalidUTF8   = errors.New("invalid UTF-8 text")
	ErrNotCanonical  = errors.New("metainfo is not canonically encoded")
	ErrNotDictionary = errors.New("metainfo is not a dictionary")
)

// FieldError ties one of the sentinel errors above to the metainfo field that
// caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("torrent: field '%s': %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldError(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}
