package onewire

import "errors"

// Domain errors for the 1-Wire bridge package.
var (
	// ErrConfiguration is returned by UpdateSettings for invalid settings.
	// The previous settings stay in effect.
	ErrConfiguration = errors.New("onewire: invalid configuration")

	// ErrStaleRegistration is returned when a refresh fires for an item
	// that no longer has a readable binding. The job is removed.
	ErrStaleRegistration = errors.New("onewire: stale refresh registration")

	// ErrDeviceRead is returned when a device property could not be read
	// or its value could not be converted.
	ErrDeviceRead = errors.New("onewire: device read failed")

	// ErrTargetMissing is returned when the host has no item for a binding.
	ErrTargetMissing = errors.New("onewire: host item missing")

	// ErrNotWritable is returned for commands sent to a read-only binding.
	ErrNotWritable = errors.New("onewire: binding does not accept commands")

	// ErrUnknownItem is returned for commands to an item without a binding.
	ErrUnknownItem = errors.New("onewire: no binding for item")
)
