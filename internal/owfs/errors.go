package owfs

import "errors"

// Domain errors for the owfs package.
var (
	// ErrNotConnected is returned when the mount path is missing or not a directory.
	ErrNotConnected = errors.New("owfs: mount not available")

	// ErrInvalidPath is returned when a property path is empty or escapes the mount.
	ErrInvalidPath = errors.New("owfs: invalid property path")

	// ErrInvalidConfig is returned when Configure receives unusable settings.
	ErrInvalidConfig = errors.New("owfs: invalid configuration")

	// ErrTimeout is returned when a read or write does not finish in time.
	ErrTimeout = errors.New("owfs: operation timed out")

	// ErrReadFailed is returned when every read attempt failed.
	ErrReadFailed = errors.New("owfs: read failed")

	// ErrWriteFailed is returned when a write failed.
	ErrWriteFailed = errors.New("owfs: write failed")
)
