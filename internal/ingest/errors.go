package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParams = errors.New("invalid import parameters")
	// ErrSourceUnavailable means the source is not configured (no endpoint or
	// credentials). The importer answers it with the source's fallback records.
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrImportInProgress  = errors.New("import already in progress")
	ErrUnknownSource     = errors.New("unknown source")
)

type InvalidParamsError struct {
	Field  string
	Reason string
}

func (e *InvalidParamsError) Error() string {
	if e.Field == "" {
		return "invalid import parameters: " + e.Reason
	}
	return fmt.Sprintf("invalid import parameter %s: %s", e.Field, e.Reason)
}

func (e *InvalidParamsError) Is(target error) bool { return target == ErrInvalidParams }

// Invalid builds an *InvalidParamsError for sources validating their own
// options.
func Invalid(field, format string, args ...any) error {
	return &InvalidParamsError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Unavailable wraps ErrSourceUnavailable with the reason.
func Unavailable(source, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrSourceUnavailable, source, reason)
}
