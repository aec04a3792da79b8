package binding

import (
	"strconv"
)

// State is a value published to the host for an item.
//
// All implementations are comparable, so two states are equal exactly
// when == holds. Undefined is equal only to itself.
type State interface {
	// String returns the host representation of the state.
	String() string

	// Value returns the state as a plain Go value for JSON and metrics,
	// or nil for Undefined.
	Value() any
}

// Decimal is a numeric reading.
type Decimal float64

// Text is a free-form string reading.
type Text string

// OnOff is the state of a switch.
type OnOff string

// OpenClosed is the state of a contact.
type OpenClosed string

// Undefined marks an item whose last read failed.
type Undefined struct{}

// Host states.
const (
	On     OnOff      = "ON"
	Off    OnOff      = "OFF"
	Open   OpenClosed = "OPEN"
	Closed OpenClosed = "CLOSED"
)

// UnDef is the state published after a failed read.
var UnDef State = Undefined{}

func (d Decimal) String() string { return strconv.FormatFloat(float64(d), 'f', -1, 64) }

// Value implements State.
func (d Decimal) Value() any { return float64(d) }

func (t Text) String() string { return string(t) }

// Value implements State.
func (t Text) Value() any { return string(t) }

func (o OnOff) String() string { return string(o) }

// Value implements State.
func (o OnOff) Value() any { return o == On }

func (o OpenClosed) String() string { return string(o) }

// Value implements State.
func (o OpenClosed) Value() any { return string(o) }

func (Undefined) String() string { return "UNDEF" }

// Value implements State.
func (Undefined) Value() any { return nil }

// Equal reports whether two states carry the same value.
func Equal(a, b State) bool {
	return a == b
}

// IsUndefined reports whether s is the Undefined sentinel.
func IsUndefined(s State) bool {
	_, ok := s.(Undefined)
	return ok
}

// Command is an instruction from the host for an item, such as "ON",
// "OFF", a number, or free text.
type Command string

// Common commands.
const (
	CommandOn  Command = "ON"
	CommandOff Command = "OFF"
)

// Item is the host-side target that receives state updates for a binding.
type Item struct {
	// Name is the item name, also the binding identifier.
	Name string

	// Kind is the binding kind that feeds the item.
	Kind Kind
}
