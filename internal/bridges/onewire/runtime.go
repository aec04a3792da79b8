package onewire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-onewire/internal/binding"
	"github.com/nerrad567/gray-logic-onewire/internal/cache"
	"github.com/nerrad567/gray-logic-onewire/internal/owfs"
	"github.com/nerrad567/gray-logic-onewire/internal/scheduler"
)

// Runtime defaults.
const (
	// DefaultDemandQueue is the demand channel capacity used when
	// Options.DemandQueue is zero.
	DefaultDemandQueue = 256

	// DefaultResetRetry is how often a topology reset deferred by a
	// missing bus connection is retried.
	DefaultResetRetry = 5 * time.Second
)

// Bus is the transport the runtime reads and writes device properties on.
// *owfs.Connection implements it.
type Bus interface {
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, value string) error
	IsConnectionEstablished() bool
	Configure(cfg owfs.Config) error
}

// Sink delivers state updates to the host application.
type Sink interface {
	// ResolveTarget returns the host item for id, or false when the host
	// has no such item.
	ResolveTarget(id string) (binding.Item, bool)

	// PostUpdate publishes a state for item. Redundant updates are harmless.
	PostUpdate(ctx context.Context, item binding.Item, state binding.State) error
}

// Scheduler is the refresh scheduler the runtime drives.
type Scheduler interface {
	ScheduleUpdate(id string, intervalSeconds int) bool
	UpdateOnce(id string)
	RemoveItem(id string)
	Clear()
	IsRegistered(id string) bool
	Len() int
	Stop()
}

var (
	_ Scheduler                = (*scheduler.Scheduler)(nil)
	_ Bus                      = (*owfs.Connection)(nil)
	_ scheduler.UpdateListener = (*Runtime)(nil)
	_ binding.Actuator         = (*Runtime)(nil)
	_ binding.Controller       = (*Runtime)(nil)
)

// Logger defines the logging interface used by the runtime and bridge.
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

// Options holds the collaborators for a Runtime.
type Options struct {
	// Scheduler runs the refresh jobs. Required.
	Scheduler Scheduler

	// Provider supplies binding configs and topology events. Required.
	Provider binding.Provider

	// Bus is the device transport. Required.
	Bus Bus

	// Sink receives published states. Required.
	Sink Sink

	// Cache holds the last published state per item. A new cache is
	// created when nil.
	Cache *cache.Cache[binding.State]

	// Settings are applied to the cache on construction. The bus is
	// assumed to be configured already.
	Settings Settings

	// DemandQueue is the capacity of the demand update channel.
	// Default: 256
	DemandQueue int

	// ResetRetry is how often a deferred topology reset is retried.
	// Default: 5 seconds
	ResetRetry time.Duration

	// Metrics is optional.
	Metrics *Metrics

	// Logger is optional.
	Logger Logger
}

// Runtime ties bindings, scheduler, cache, bus and host together.
//
// Scheduler firings, demand updates, topology events and commands all
// reach the runtime concurrently. It holds no lock of its own across
// those paths: the scheduler's job table and the cache's per-item
// entries provide the serialisation.
//
// Thread Safety: All methods are safe for concurrent use.
type Runtime struct {
	sched    Scheduler
	provider binding.Provider
	bus      Bus
	sink     Sink
	cache    *cache.Cache[binding.State]
	metrics  *Metrics
	logger   Logger

	settings   Settings
	settingsMu sync.RWMutex

	demand       chan string
	resetRetry   time.Duration
	pendingReset atomic.Bool

	// Shutdown coordination
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a runtime. Call Start to begin consuming topology events
// and demand updates.
func New(opts Options) (*Runtime, error) {
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("binding provider is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	c := opts.Cache
	if c == nil {
		c = cache.New[binding.State]()
	}
	c.SetSuppression(opts.Settings.PostOnlyChangedValues)

	queue := opts.DemandQueue
	if queue <= 0 {
		queue = DefaultDemandQueue
	}
	retry := opts.ResetRetry
	if retry <= 0 {
		retry = DefaultResetRetry
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Runtime{
		sched:      opts.Scheduler,
		provider:   opts.Provider,
		bus:        opts.Bus,
		sink:       opts.Sink,
		cache:      c,
		metrics:    opts.Metrics,
		logger:     logger,
		settings:   opts.Settings,
		demand:     make(chan string, queue),
		resetRetry: retry,
		ctx:        ctx,
		ctxCancel:  ctxCancel,
	}, nil
}

// Start launches the event loop. It returns immediately; the loop runs
// until ctx is cancelled or Stop is called.
func (r *Runtime) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run(ctx)
	})
}

// Stop ends the event loop and stops the scheduler, waiting for
// in-flight refreshes. Safe to call multiple times.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		r.ctxCancel()
		r.wg.Wait()
		r.sched.Stop()
		r.logger.Info("binding runtime stopped")
	})
}

// run consumes topology events, demand updates and deferred resets.
func (r *Runtime) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.resetRetry)
	defer ticker.Stop()

	events := r.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.handleEvent(ctx, ev)
		case id := <-r.demand:
			r.sched.UpdateOnce(id)
		case <-ticker.C:
			if r.pendingReset.Load() && r.bus.IsConnectionEstablished() {
				r.logger.Info("bus connection established, applying deferred reset")
				r.AllBindingsChanged(ctx)
			}
		}
	}
}

func (r *Runtime) handleEvent(ctx context.Context, ev binding.Event) {
	switch ev.Kind {
	case binding.AllChanged:
		r.AllBindingsChanged(ctx)
	case binding.Changed:
		r.BindingChanged(ctx, ev.Item)
	default:
		r.logger.Warn("unknown topology event", "kind", ev.Kind.String())
	}
}

// AllBindingsChanged rebuilds the schedule from scratch: every job and
// every cached value is dropped, then each readable binding is read once
// and, with a positive refresh, scheduled again.
//
// Without an established bus connection nothing is touched and the reset
// is retried by the event loop once the bus is back.
func (r *Runtime) AllBindingsChanged(_ context.Context) {
	if !r.bus.IsConnectionEstablished() {
		r.pendingReset.Store(true)
		r.logger.Warn("bus not connected, topology reset deferred")
		return
	}
	r.pendingReset.Store(false)

	r.sched.Clear()
	r.cache.Clear()

	configs := r.provider.All()
	for _, cfg := range configs {
		r.register(cfg)
	}

	r.updateTopologyMetrics(len(configs))
	r.logger.Info("bindings rescheduled",
		"bindings", len(configs),
		"scheduled", r.sched.Len())
}

// BindingChanged re-registers a single item. Its job and cached value
// are dropped first; other items are not touched. A removed binding
// simply stays unregistered.
func (r *Runtime) BindingChanged(_ context.Context, id string) {
	r.sched.RemoveItem(id)
	r.cache.Remove(id)

	if cfg, ok := r.provider.Get(id); ok {
		r.register(cfg)
	} else {
		r.logger.Debug("binding removed", "item", id)
	}

	r.updateTopologyMetrics(-1)
}

// register reads a readable binding once and schedules it per its refresh.
func (r *Runtime) register(cfg binding.Config) {
	readable, ok := cfg.(binding.Readable)
	if !ok {
		r.logger.Debug("binding is not readable, not scheduled",
			"item", cfg.ItemName(),
			"kind", cfg.Kind())
		return
	}

	id := readable.ItemName()
	refresh := readable.AutoRefresh()

	if refresh > binding.RefreshNever {
		r.sched.UpdateOnce(id)
	}
	if refresh > binding.RefreshOnce {
		if !r.sched.ScheduleUpdate(id, refresh) {
			r.logger.Warn("refresh not scheduled, item runs unscheduled",
				"item", id,
				"refresh", refresh)
		}
	}
}

// UpdateProperty reads one item from the bus and publishes the result.
// It is the scheduler's listener and also serves demand updates.
//
// A failed read publishes the undefined state, never suppressed.
// A refresh for an item without a readable binding removes its job.
func (r *Runtime) UpdateProperty(ctx context.Context, id string) error {
	r.metrics.incFirings()

	cfg, ok := r.provider.Get(id)
	if !ok {
		return r.deregister(id, "no binding for refreshed item")
	}
	readable, ok := cfg.(binding.Readable)
	if !ok {
		return r.deregister(id, "binding for refreshed item is not readable")
	}

	state, err := r.read(ctx, readable)
	if err != nil {
		return r.publishUndefined(ctx, readable, err)
	}
	r.metrics.incReads()

	item, ok := r.sink.ResolveTarget(id)
	if !ok {
		r.logger.Error("host item not found, update dropped", "item", id)
		return fmt.Errorf("%w: %s", ErrTargetMissing, id)
	}

	if !r.cache.PutIfChanged(id, state, binding.Equal) {
		r.metrics.incSuppressed()
		r.logger.Debug("value unchanged, update suppressed",
			"item", id,
			"state", state.String())
		return nil
	}

	if err := r.sink.PostUpdate(ctx, item, state); err != nil {
		// Forget the value so the next read publishes again.
		r.cache.Remove(id)
		r.logger.Error("failed to publish state", "item", id, "error", err)
		return fmt.Errorf("publishing %s: %w", id, err)
	}
	r.metrics.incPublished()
	return nil
}

func (r *Runtime) read(ctx context.Context, readable binding.Readable) (binding.State, error) {
	raw, err := r.bus.Read(ctx, readable.DevicePropertyPath())
	if err != nil {
		return nil, err
	}
	return readable.ConvertReadValue(raw)
}

func (r *Runtime) deregister(id, reason string) error {
	r.logger.Error(reason+", removing refresh job", "item", id)
	r.sched.RemoveItem(id)
	r.metrics.incStale()
	r.updateTopologyMetrics(-1)
	return fmt.Errorf("%w: %s", ErrStaleRegistration, id)
}

// publishUndefined reports a failed read. The undefined state bypasses
// suppression and overwrites the cached value.
func (r *Runtime) publishUndefined(ctx context.Context, readable binding.Readable, readErr error) error {
	id := readable.ItemName()
	r.metrics.incReadErrors()

	if readable.IgnoreReadErrors() {
		r.logger.Debug("device read failed",
			"item", id,
			"path", readable.DevicePropertyPath(),
			"error", readErr)
	} else {
		r.logger.Error("device read failed",
			"item", id,
			"path", readable.DevicePropertyPath(),
			"error", readErr)
	}

	failed := fmt.Errorf("%w: %s: %w", ErrDeviceRead, id, readErr)

	item, ok := r.sink.ResolveTarget(id)
	if !ok {
		r.logger.Error("host item not found, update dropped", "item", id)
		return errors.Join(failed, fmt.Errorf("%w: %s", ErrTargetMissing, id))
	}

	r.cache.Put(id, binding.UnDef)
	if err := r.sink.PostUpdate(ctx, item, binding.UnDef); err != nil {
		r.logger.Error("failed to publish state", "item", id, "error", err)
		return errors.Join(failed, err)
	}
	r.metrics.incPublished()
	return failed
}

// ReceiveCommand executes a host command for id synchronously.
//
// Exactly one action runs, chosen by the binding variant: an executable
// binding runs its own sequence, a writable binding writes the converted
// command, a control binding acts on the runtime. Read-only bindings
// reject the command with ErrNotWritable.
func (r *Runtime) ReceiveCommand(ctx context.Context, id string, cmd binding.Command) error {
	cfg, ok := r.provider.Get(id)
	if !ok {
		r.metrics.incCommand(resultRejected)
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}

	var err error
	switch c := cfg.(type) {
	case binding.Executable:
		err = c.Execute(ctx, cmd, r)
	case binding.Writable:
		err = r.write(ctx, c, cmd)
	case binding.Controllable:
		err = c.ExecuteControl(ctx, r, cmd)
	default:
		r.logger.Debug("command ignored, binding is read-only",
			"item", id,
			"kind", cfg.Kind(),
			"command", string(cmd))
		r.metrics.incCommand(resultRejected)
		return fmt.Errorf("%w: %s", ErrNotWritable, id)
	}

	if err != nil {
		if errors.Is(err, binding.ErrInvalidCommand) {
			r.metrics.incCommand(resultRejected)
		} else {
			r.metrics.incCommand(resultFailed)
		}
		return err
	}

	r.metrics.incCommand(resultOK)
	r.logger.Debug("command executed", "item", id, "command", string(cmd))
	return nil
}

func (r *Runtime) write(ctx context.Context, w binding.Writable, cmd binding.Command) error {
	raw, err := w.ConvertCommand(cmd)
	if err != nil {
		return err
	}
	if err := r.bus.Write(ctx, w.DevicePropertyPath(), raw); err != nil {
		return fmt.Errorf("writing %s: %w", w.ItemName(), err)
	}
	return nil
}

// Write implements binding.Actuator.
func (r *Runtime) Write(ctx context.Context, path, value string) error {
	return r.bus.Write(ctx, path, value)
}

// RequestUpdate asks for an out-of-band refresh of id. It never blocks:
// when the demand queue is full the refresh is handed to the scheduler
// directly.
func (r *Runtime) RequestUpdate(id string) {
	select {
	case r.demand <- id:
	default:
		r.logger.Warn("demand queue full, refreshing directly", "item", id)
		r.sched.UpdateOnce(id)
	}
}

// ClearCache implements binding.Controller. The next read of every item
// publishes.
func (r *Runtime) ClearCache() {
	r.cache.Clear()
	r.logger.Info("state cache cleared")
}

// ClearCacheItem implements binding.Controller.
func (r *Runtime) ClearCacheItem(id string) {
	r.cache.Remove(id)
	r.logger.Debug("state cache entry cleared", "item", id)
}

// RefreshAll implements binding.Controller. Every readable binding with a
// refresh other than never is read once.
func (r *Runtime) RefreshAll(_ context.Context) {
	n := 0
	for id, cfg := range r.provider.All() {
		readable, ok := cfg.(binding.Readable)
		if !ok || readable.AutoRefresh() <= binding.RefreshNever {
			continue
		}
		r.sched.UpdateOnce(id)
		n++
	}
	r.logger.Info("refresh of all items requested", "items", n)
}

// RefreshItem implements binding.Controller.
func (r *Runtime) RefreshItem(id string) {
	r.RequestUpdate(id)
}

// Settings returns the settings in effect.
func (r *Runtime) Settings() Settings {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.settings
}

// UpdateSettings applies new settings and reschedules every binding.
// Invalid settings, or settings the bus refuses, return an error wrapping
// ErrConfiguration and leave the previous settings in effect.
func (r *Runtime) UpdateSettings(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := r.bus.Configure(s.Bus); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	r.settingsMu.Lock()
	r.settings = s
	r.settingsMu.Unlock()

	r.cache.SetSuppression(s.PostOnlyChangedValues)
	r.logger.Info("settings updated",
		"post_only_changed_values", s.PostOnlyChangedValues,
		"mount_path", s.Bus.MountPath)

	r.AllBindingsChanged(ctx)
	return nil
}

// ResetPending reports whether a topology reset is waiting for the bus.
func (r *Runtime) ResetPending() bool {
	return r.pendingReset.Load()
}

// BindingCount returns the number of bindings known to the provider.
func (r *Runtime) BindingCount() int {
	return len(r.provider.All())
}

// ScheduledCount returns the number of recurring jobs.
func (r *Runtime) ScheduledCount() int {
	return r.sched.Len()
}

// updateTopologyMetrics refreshes the gauges. A negative bindings count
// is looked up from the provider.
func (r *Runtime) updateTopologyMetrics(bindings int) {
	if r.metrics == nil {
		return
	}
	if bindings < 0 {
		bindings = r.BindingCount()
	}
	r.metrics.setTopology(r.sched.Len(), bindings)
}
