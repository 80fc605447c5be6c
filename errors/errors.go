package errors

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateUsername = fmt.Errorf("username already taken")
	ErrNotFound          = fmt.Errorf("not found")
	ErrPresenterBusy     = fmt.Errorf("someone else is already presenting")
	ErrNotPresenting     = fmt.Errorf("not currently presenting")
	ErrNotLoggedIn       = fmt.Errorf("not logged in")
	ErrInvalidFilename   = fmt.Errorf("invalid filename")
	ErrIntegrity         = fmt.Errorf("checksum mismatch")
	ErrInvalidRange      = fmt.Errorf("resume offset out of range")
	ErrFileTooLarge      = fmt.Errorf("file exceeds maximum allowed size")
	ErrRateLimited       = fmt.Errorf("too many connection attempts")
	ErrMalformedFrame    = fmt.Errorf("malformed frame")
	ErrConnectionLost    = fmt.Errorf("connection lost")
	ErrQueueFull         = fmt.Errorf("outbound queue full")
	ErrEmptyContent      = fmt.Errorf("empty message content")
	ErrWorkerPanic       = fmt.Errorf("worker panic")
)

// Code maps an error from the taxonomy above to the wire code carried by
// ERROR messages. Anything outside the taxonomy maps to INTERNAL.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateUsername):
		return "DUPLICATE_USERNAME"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrPresenterBusy):
		return "PRESENTER_BUSY"
	case errors.Is(err, ErrNotPresenting):
		return "NOT_PRESENTING"
	case errors.Is(err, ErrNotLoggedIn):
		return "NOT_LOGGED_IN"
	case errors.Is(err, ErrInvalidFilename):
		return "INVALID_FILENAME"
	case errors.Is(err, ErrIntegrity):
		return "INTEGRITY_ERROR"
	case errors.Is(err, ErrInvalidRange):
		return "INVALID_RANGE"
	case errors.Is(err, ErrFileTooLarge):
		return "FILE_TOO_LARGE"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrMalformedFrame):
		return "MALFORMED_FRAME"
	case errors.Is(err, ErrConnectionLost):
		return "CONNECTION_LOST"
	case errors.Is(err, ErrEmptyContent):
		return "EMPTY_CONTENT"
	default:
		return "INTERNAL"
	}
}
