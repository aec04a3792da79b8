package binding

import "errors"

// Domain errors for the binding package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, binding.ErrInvalidCommand) {
//	    // reject the command
//	}
var (
	// ErrInvalidBinding is returned when a binding definition fails validation.
	ErrInvalidBinding = errors.New("binding: invalid definition")

	// ErrUnknownKind is returned when a definition names an unsupported kind.
	ErrUnknownKind = errors.New("binding: unknown kind")

	// ErrDuplicateItem is returned when two definitions share an item name.
	ErrDuplicateItem = errors.New("binding: duplicate item")

	// ErrInvalidValue is returned when a raw bus value cannot be converted.
	ErrInvalidValue = errors.New("binding: invalid raw value")

	// ErrInvalidCommand is returned when a command cannot be converted for the bus.
	ErrInvalidCommand = errors.New("binding: invalid command")
)
