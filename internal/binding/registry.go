package binding

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultEventBuffer is the Events channel capacity used by NewRegistry
// when a non-positive size is given.
const DefaultEventBuffer = 64

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventKind distinguishes topology notifications.
type EventKind int

const (
	// AllChanged means the whole binding set may have changed.
	AllChanged EventKind = iota

	// Changed means only Event.Item was added, replaced or removed.
	Changed
)

func (k EventKind) String() string {
	switch k {
	case AllChanged:
		return "all_changed"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a topology notification from a Provider.
type Event struct {
	Kind EventKind
	Item string
}

// Provider supplies the current binding set and notifies about changes.
type Provider interface {
	Get(id string) (Config, bool)
	All() map[string]Config
	Events() <-chan Event
}

// Registry is the in-memory binding set. It implements Provider.
//
// Notifications are delivered on a buffered channel. If the consumer falls
// behind and the buffer fills, the dropped notification and every one after
// it are folded into a single AllChanged, sent from a background goroutine
// as soon as the consumer makes room. Call Close to release that goroutine.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
	defs    map[string]Definition

	events chan Event
	done   chan struct{}

	// Overflow state, guarded by emitMu. missed records changes skipped
	// while an AllChanged is in flight.
	emitMu    sync.Mutex
	resetting bool
	missed    bool
	closeOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(eventBuffer int) *Registry {
	if eventBuffer <= 0 {
		eventBuffer = DefaultEventBuffer
	}
	return &Registry{
		configs: make(map[string]Config),
		defs:    make(map[string]Definition),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

// Close abandons any pending overflow delivery. Call it once the Events
// consumer has stopped.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Events implements Provider.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Get implements Provider.
func (r *Registry) Get(id string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[id]
	return c, ok
}

// All implements Provider. The returned map is a copy.
func (r *Registry) All() map[string]Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Config, len(r.configs))
	for id, c := range r.configs {
		out[id] = c
	}
	return out
}

// Definition returns the definition the binding for id was built from.
func (r *Registry) Definition(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// Definitions returns all definitions ordered by item name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Item < defs[j].Item })
	return defs
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// Replace swaps the whole binding set. Every definition is validated first;
// on any error the current set is kept and all problems are returned.
func (r *Registry) Replace(defs []Definition) error {
	configs := make(map[string]Config, len(defs))
	byItem := make(map[string]Definition, len(defs))

	var errs []error
	for _, d := range defs {
		if _, dup := byItem[d.Item]; dup {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateItem, d.Item))
			continue
		}
		c, err := d.Build()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		configs[d.Item] = c
		byItem[d.Item] = d
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.mu.Lock()
	r.configs = configs
	r.defs = byItem
	r.mu.Unlock()

	r.log().Info("bindings replaced", "count", len(configs))
	r.emit(Event{Kind: AllChanged})
	return nil
}

// Put adds or replaces the binding for d.Item.
func (r *Registry) Put(d Definition) error {
	c, err := d.Build()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.configs[d.Item] = c
	r.defs[d.Item] = d
	r.mu.Unlock()

	r.log().Debug("binding updated", "item", d.Item, "kind", d.Kind)
	r.emit(Event{Kind: Changed, Item: d.Item})
	return nil
}

// Remove deletes the binding for id. It reports whether one existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.configs[id]
	delete(r.configs, id)
	delete(r.defs, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.log().Debug("binding removed", "item", id)
	r.emit(Event{Kind: Changed, Item: id})
	return true
}

// emit sends without blocking. While an overflow reset is outstanding the
// event is absorbed by it.
func (r *Registry) emit(ev Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if r.resetting {
		r.missed = true
		return
	}

	select {
	case r.events <- ev:
	default:
		r.resetting = true
		r.log().Warn("binding event buffer full, resetting all bindings",
			"kind", ev.Kind.String(),
			"item", ev.Item)
		go r.deliverReset()
	}
}

// deliverReset blocks until an AllChanged is accepted. Changes absorbed
// while the send was in flight may postdate the consumer's read of the
// binding set, so another AllChanged follows until none were absorbed.
func (r *Registry) deliverReset() {
	for {
		r.emitMu.Lock()
		r.missed = false
		r.emitMu.Unlock()

		select {
		case r.events <- Event{Kind: AllChanged}:
		case <-r.done:
			return
		}

		r.emitMu.Lock()
		if !r.missed {
			r.resetting = false
			r.emitMu.Unlock()
			return
		}
		r.emitMu.Unlock()
	}
}

// overflowPending reports whether an AllChanged is still owed.
func (r *Registry) overflowPending() bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	return r.resetting
}
