package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is issued from a state
	// that does not permit it.
	ErrInvalidState = errors.New("invalid session state")

	// ErrBackendBusy is returned when a second session is started on a
	// backend that already holds device resources.
	ErrBackendBusy = errors.New("backend already has an active session")
)

// Category classifies device and backend failures for the caller.
type Category string

const (
	CategoryPermissionDenied    Category = "permission_denied"
	CategoryDeviceUnavailable   Category = "device_unavailable"
	CategoryUnsupportedPlatform Category = "unsupported_platform"
	CategoryDeadlineExceeded    Category = "deadline_exceeded"
)

// Error is a categorized capture failure. Sessions that end in Error carry
// one of these; the caller must start a fresh session, there is no retry.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a category.
func NewError(category Category, err error) *Error {
	return &Error{Category: category, Err: err}
}

// Errorf formats a new categorized error.
func Errorf(category Category, format string, args ...interface{}) *Error {
	return &Error{Category: category, Err: fmt.Errorf(format, args...)}
}

// CategoryOf extracts the category from err, or "" when err carries none.
func CategoryOf(err error) Category {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}
