package binding

import (
	"fmt"
	"strconv"
	"strings"
)

// converter maps between raw bus strings and host values for one kind.
type converter interface {
	toState(raw string) (State, error)
	toRaw(cmd Command) (string, error)
}

// numberConverter reads decimals and applies the optional modifiers.
// On write the modifiers are inverted: raw = (value - add) / multiply.
type numberConverter struct {
	add      float64
	multiply float64
}

func (c numberConverter) toState(raw string) (State, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, raw)
	}
	return Decimal(v*c.multiply + c.add), nil
}

func (c numberConverter) toRaw(cmd Command) (string, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(cmd)), 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalidCommand, cmd)
	}
	return strconv.FormatFloat((v-c.add)/c.multiply, 'f', -1, 64), nil
}

// textConverter passes values through, trimming bus padding on read.
type textConverter struct{}

func (textConverter) toState(raw string) (State, error) {
	return Text(strings.TrimSpace(raw)), nil
}

func (textConverter) toRaw(cmd Command) (string, error) {
	return string(cmd), nil
}

// switchConverter maps "1"/"0" to ON/OFF.
type switchConverter struct{}

func (switchConverter) toState(raw string) (State, error) {
	switch strings.TrimSpace(raw) {
	case "1":
		return On, nil
	case "0":
		return Off, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a switch value", ErrInvalidValue, raw)
	}
}

func (switchConverter) toRaw(cmd Command) (string, error) {
	switch Command(strings.ToUpper(strings.TrimSpace(string(cmd)))) {
	case CommandOn:
		return "1", nil
	case CommandOff:
		return "0", nil
	default:
		return "", fmt.Errorf("%w: %q is not ON or OFF", ErrInvalidCommand, cmd)
	}
}

// contactConverter maps "1"/"0" to CLOSED/OPEN. Contacts are never written.
type contactConverter struct{}

func (contactConverter) toState(raw string) (State, error) {
	switch strings.TrimSpace(raw) {
	case "1":
		return Closed, nil
	case "0":
		return Open, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a contact value", ErrInvalidValue, raw)
	}
}

func (contactConverter) toRaw(cmd Command) (string, error) {
	return "", fmt.Errorf("%w: contacts are read-only", ErrInvalidCommand)
}
