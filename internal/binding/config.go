package binding

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies the binding variant declared for an item.
type Kind string

// Supported binding kinds.
const (
	KindNumber     Kind = "number"
	KindString     Kind = "string"
	KindSwitch     Kind = "switch"
	KindContact    Kind = "contact"
	KindPushButton Kind = "pushbutton"
	KindControl    Kind = "control"
)

// Refresh sentinels for AutoRefresh.
const (
	// RefreshNever disables reading entirely.
	RefreshNever = -1

	// RefreshOnce reads once when the binding is registered.
	RefreshOnce = 0

	// DefaultRefresh is used when a readable definition omits refresh (seconds).
	DefaultRefresh = 600

	// DefaultPressDuration is how long a push button is held.
	DefaultPressDuration = 200 * time.Millisecond
)

// Config is the binding of one item. Every variant implements it.
type Config interface {
	// ItemName returns the item this binding feeds.
	ItemName() string

	// Kind returns the declared variant.
	Kind() Kind
}

// Readable is a binding whose value can be sampled from the bus.
type Readable interface {
	Config

	// DevicePropertyPath is the bus path of the property, e.g. "28.A1B2C3D4E5F6/temperature".
	DevicePropertyPath() string

	// AutoRefresh returns the refresh interval in seconds:
	// RefreshNever, RefreshOnce, or a positive period.
	AutoRefresh() int

	// IgnoreReadErrors lowers failed reads from error to debug logging.
	IgnoreReadErrors() bool

	// ConvertReadValue turns a raw bus value into a host state.
	ConvertReadValue(raw string) (State, error)
}

// Writable is a Readable binding that also accepts commands.
type Writable interface {
	Readable

	// ConvertCommand turns a host command into the raw bus value to write.
	ConvertCommand(cmd Command) (string, error)
}

// Actuator is what an Executable binding may act on.
type Actuator interface {
	Write(ctx context.Context, path, value string) error
	RequestUpdate(id string)
}

// Executable is a binding that runs its own bus sequence for a command.
type Executable interface {
	Config
	Execute(ctx context.Context, cmd Command, act Actuator) error
}

// Controller exposes runtime maintenance operations to control bindings.
type Controller interface {
	ClearCache()
	ClearCacheItem(id string)
	RefreshAll(ctx context.Context)
	RefreshItem(id string)
}

// Controllable is a binding that operates on the runtime itself.
type Controllable interface {
	Config
	ExecuteControl(ctx context.Context, c Controller, cmd Command) error
}

// DeviceProperty is a read-only device property.
type DeviceProperty struct {
	item             string
	kind             Kind
	path             string
	refresh          int
	ignoreReadErrors bool
	conv             converter
}

// ItemName implements Config.
func (p *DeviceProperty) ItemName() string { return p.item }

// Kind implements Config.
func (p *DeviceProperty) Kind() Kind { return p.kind }

// DevicePropertyPath implements Readable.
func (p *DeviceProperty) DevicePropertyPath() string { return p.path }

// AutoRefresh implements Readable.
func (p *DeviceProperty) AutoRefresh() int { return p.refresh }

// IgnoreReadErrors implements Readable.
func (p *DeviceProperty) IgnoreReadErrors() bool { return p.ignoreReadErrors }

// ConvertReadValue implements Readable.
func (p *DeviceProperty) ConvertReadValue(raw string) (State, error) {
	s, err := p.conv.toState(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.item, err)
	}
	return s, nil
}

// WritableProperty is a device property that also accepts commands.
type WritableProperty struct {
	*DeviceProperty
}

// ConvertCommand implements Writable.
func (p *WritableProperty) ConvertCommand(cmd Command) (string, error) {
	raw, err := p.conv.toRaw(cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.item, err)
	}
	return raw, nil
}

// PushButton is a switch that is pressed by writing 1, held, then released
// by writing 0. Its sensed value is readable like a switch.
type PushButton struct {
	*DeviceProperty
	press time.Duration
}

// PressDuration returns how long the button is held.
func (b *PushButton) PressDuration() time.Duration { return b.press }

// Execute presses the button for an ON command and requests a refresh of
// the item afterwards. Other commands are rejected.
func (b *PushButton) Execute(ctx context.Context, cmd Command, act Actuator) error {
	if cmd != CommandOn {
		return fmt.Errorf("%w: push button %s accepts only ON, got %q", ErrInvalidCommand, b.item, cmd)
	}

	if err := act.Write(ctx, b.path, "1"); err != nil {
		return fmt.Errorf("pressing %s: %w", b.item, err)
	}

	timer := time.NewTimer(b.press)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	// Release even when the caller gave up, the button must not stay held.
	if err := act.Write(context.WithoutCancel(ctx), b.path, "0"); err != nil {
		return fmt.Errorf("releasing %s: %w", b.item, err)
	}

	act.RequestUpdate(b.item)
	return nil
}

// ControlAction is an operation a Control binding performs.
type ControlAction string

// Control actions.
const (
	ActionClearCache     ControlAction = "clear_cache"
	ActionClearItemCache ControlAction = "clear_item_cache"
	ActionRefreshAll     ControlAction = "refresh_all"
	ActionRefreshItem    ControlAction = "refresh_item"
)

// Control is a virtual item that triggers runtime maintenance when switched on.
type Control struct {
	item   string
	action ControlAction
	target string
}

// ItemName implements Config.
func (c *Control) ItemName() string { return c.item }

// Kind implements Config.
func (c *Control) Kind() Kind { return KindControl }

// Action returns the configured action.
func (c *Control) Action() ControlAction { return c.action }

// Target returns the item an item-scoped action applies to.
func (c *Control) Target() string { return c.target }

// ExecuteControl runs the action on an ON command. OFF is accepted and ignored.
func (c *Control) ExecuteControl(ctx context.Context, ctl Controller, cmd Command) error {
	switch cmd {
	case CommandOff:
		return nil
	case CommandOn:
	default:
		return fmt.Errorf("%w: control %s accepts ON or OFF, got %q", ErrInvalidCommand, c.item, cmd)
	}

	switch c.action {
	case ActionClearCache:
		ctl.ClearCache()
	case ActionClearItemCache:
		ctl.ClearCacheItem(c.target)
	case ActionRefreshAll:
		ctl.RefreshAll(ctx)
	case ActionRefreshItem:
		ctl.RefreshItem(c.target)
	default:
		return fmt.Errorf("%w: control %s has action %q", ErrInvalidBinding, c.item, c.action)
	}
	return nil
}
