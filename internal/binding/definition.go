package binding

import (
	"fmt"
	"strings"
	"time"
)

// Definition is the declarative form of a binding, as read from the
// bindings file or received on the MQTT config topic.
//
// Example:
//
//	item: temp1
//	kind: number
//	path: 28.A1B2C3D4E5F6/temperature
//	refresh: 60
//	add: -0.5
type Definition struct {
	// Item is the host item name. Required and unique.
	Item string `yaml:"item" json:"item"`

	// Kind selects the variant: number, string, switch, contact, pushbutton, control.
	Kind Kind `yaml:"kind" json:"kind"`

	// Path is the bus property path. Required for every kind except control.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Refresh is the read interval in seconds. -1 never, 0 once.
	// Default: 600
	Refresh *int `yaml:"refresh,omitempty" json:"refresh,omitempty"`

	// IgnoreReadErrors logs failed reads at debug instead of error.
	IgnoreReadErrors bool `yaml:"ignore_read_errors,omitempty" json:"ignore_read_errors,omitempty"`

	// Writable allows commands for number, string and switch kinds.
	Writable bool `yaml:"writable,omitempty" json:"writable,omitempty"`

	// Add and Multiply modify number readings: value = raw*multiply + add.
	Add      *float64 `yaml:"add,omitempty" json:"add,omitempty"`
	Multiply *float64 `yaml:"multiply,omitempty" json:"multiply,omitempty"`

	// PressMS is how long a push button is held, in milliseconds.
	// Default: 200
	PressMS int `yaml:"press_ms,omitempty" json:"press_ms,omitempty"`

	// Action is the control action. Required for control kind.
	Action ControlAction `yaml:"action,omitempty" json:"action,omitempty"`

	// Target is the item a clear_item_cache or refresh_item control acts on.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// Validate checks the definition and reports every problem found.
func (d *Definition) Validate() error {
	var errs []string

	if strings.TrimSpace(d.Item) == "" {
		errs = append(errs, "item is required")
	}

	switch d.Kind {
	case KindNumber, KindString, KindSwitch, KindContact, KindPushButton:
		errs = append(errs, d.validateReadable()...)
	case KindControl:
		errs = append(errs, d.validateControl()...)
	case "":
		errs = append(errs, "kind is required")
	default:
		return fmt.Errorf("%w: %q (item %q)", ErrUnknownKind, d.Kind, d.Item)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidBinding, d.Item, strings.Join(errs, "; "))
	}
	return nil
}

func (d *Definition) validateReadable() []string {
	var errs []string

	if d.Path == "" {
		errs = append(errs, "path is required")
	}
	if d.Refresh != nil && *d.Refresh < RefreshNever {
		errs = append(errs, fmt.Sprintf("refresh %d is invalid (use -1, 0 or a positive number of seconds)", *d.Refresh))
	}
	if d.Kind != KindNumber && (d.Add != nil || d.Multiply != nil) {
		errs = append(errs, "add and multiply apply only to number bindings")
	}
	if d.Multiply != nil && *d.Multiply == 0 {
		errs = append(errs, "multiply must not be zero")
	}
	if d.Writable && d.Kind == KindContact {
		errs = append(errs, "contact bindings cannot be writable")
	}
	if d.PressMS < 0 {
		errs = append(errs, "press_ms must not be negative")
	}
	if d.PressMS != 0 && d.Kind != KindPushButton {
		errs = append(errs, "press_ms applies only to pushbutton bindings")
	}
	if d.Action != "" || d.Target != "" {
		errs = append(errs, "action and target apply only to control bindings")
	}

	return errs
}

func (d *Definition) validateControl() []string {
	var errs []string

	switch d.Action {
	case ActionClearCache, ActionRefreshAll:
		if d.Target != "" {
			errs = append(errs, fmt.Sprintf("action %s takes no target", d.Action))
		}
	case ActionClearItemCache, ActionRefreshItem:
		if d.Target == "" {
			errs = append(errs, fmt.Sprintf("action %s requires a target", d.Action))
		}
	case "":
		errs = append(errs, "action is required")
	default:
		errs = append(errs, fmt.Sprintf("action %q is invalid (use clear_cache, clear_item_cache, refresh_all, or refresh_item)", d.Action))
	}
	if d.Path != "" {
		errs = append(errs, "control bindings have no path")
	}

	return errs
}

// Build validates the definition and returns the binding it describes.
func (d Definition) Build() (Config, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if d.Kind == KindControl {
		return &Control{item: d.Item, action: d.Action, target: d.Target}, nil
	}

	refresh := DefaultRefresh
	if d.Refresh != nil {
		refresh = *d.Refresh
	}

	prop := &DeviceProperty{
		item:             d.Item,
		kind:             d.Kind,
		path:             d.Path,
		refresh:          refresh,
		ignoreReadErrors: d.IgnoreReadErrors,
	}

	switch d.Kind {
	case KindNumber:
		conv := numberConverter{multiply: 1}
		if d.Add != nil {
			conv.add = *d.Add
		}
		if d.Multiply != nil {
			conv.multiply = *d.Multiply
		}
		prop.conv = conv
	case KindString:
		prop.conv = textConverter{}
	case KindSwitch, KindPushButton:
		prop.conv = switchConverter{}
	case KindContact:
		prop.conv = contactConverter{}
	}

	if d.Kind == KindPushButton {
		press := DefaultPressDuration
		if d.PressMS > 0 {
			press = time.Duration(d.PressMS) * time.Millisecond
		}
		return &PushButton{DeviceProperty: prop, press: press}, nil
	}

	if d.Writable {
		return &WritableProperty{DeviceProperty: prop}, nil
	}
	return prop, nil
}
