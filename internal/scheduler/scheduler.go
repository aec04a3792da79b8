package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Scheduler defaults.
const (
	// DefaultMaxJobs is the capacity used when Options.MaxJobs is zero.
	DefaultMaxJobs = 1024

	// DefaultWorkers is the worker pool size used when Options.Workers is zero.
	DefaultWorkers = 4
)

// UpdateListener is invoked by the scheduler each time an item fires.
//
// Implementations perform the actual device read. A returned error is
// logged by the scheduler and has no effect on other jobs.
type UpdateListener interface {
	UpdateProperty(ctx context.Context, id string) error
}

// ListenerFunc adapts a plain function to UpdateListener.
type ListenerFunc func(ctx context.Context, id string) error

// UpdateProperty implements UpdateListener.
func (f ListenerFunc) UpdateProperty(ctx context.Context, id string) error {
	return f(ctx, id)
}

// Logger defines the logging interface used by the Scheduler.
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

// Options configures a Scheduler.
type Options struct {
	// MaxJobs caps the number of recurring jobs. Registrations for new
	// items beyond the cap are refused. Zero selects DefaultMaxJobs.
	MaxJobs int

	// Workers bounds how many firings run at the same time.
	// Zero selects DefaultWorkers.
	Workers int

	// Unit is the length of one interval step passed to ScheduleUpdate.
	// Defaults to time.Second.
	Unit time.Duration

	// Listener receives firings. May also be set later via SetListener.
	Listener UpdateListener

	// Logger is optional.
	Logger Logger
}

// JobInfo describes a registered recurring job.
type JobInfo struct {
	ID       string
	Interval time.Duration
	Next     time.Time
}

// job is one recurring registration. All fields are guarded by Scheduler.mu.
type job struct {
	id        string
	interval  time.Duration
	next      time.Time
	timer     *time.Timer
	cancelled bool
}

// lane serialises firings for a single item. Guarded by Scheduler.mu.
//
// pending is set while the lane's next firing waits for a worker slot.
// Cancelling clears it so the firing is skipped once the slot is acquired.
type lane struct {
	running bool
	pending bool
	queued  bool
}

// Scheduler runs recurring and one-off refreshes on a bounded worker pool.
//
// Thread Safety: All methods are safe for concurrent use, including from
// within a running listener.
type Scheduler struct {
	maxJobs int
	unit    time.Duration
	workers *semaphore.Weighted

	mu      sync.Mutex
	jobs    map[string]*job
	lanes   map[string]*lane
	stopped bool

	listener   UpdateListener
	logger     Logger
	listenerMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Scheduler. It is ready for use immediately; call Stop to
// release timers and wait for running firings.
func New(opts Options) *Scheduler {
	maxJobs := opts.MaxJobs
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	unit := opts.Unit
	if unit <= 0 {
		unit = time.Second
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		maxJobs:  maxJobs,
		unit:     unit,
		workers:  semaphore.NewWeighted(int64(workers)),
		jobs:     make(map[string]*job),
		lanes:    make(map[string]*lane),
		listener: opts.Listener,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetListener sets the callback invoked for each firing.
func (s *Scheduler) SetListener(l UpdateListener) {
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.listenerMu.Lock()
	s.logger = logger
	s.listenerMu.Unlock()
}

// ScheduleUpdate registers, or replaces, a recurring job for id firing every
// intervalSeconds units. It returns false when the interval is not positive,
// when the scheduler is stopped, or when id is new and MaxJobs is reached.
//
// The first recurring firing happens one interval from now; callers that
// want an immediate read should also call UpdateOnce.
func (s *Scheduler) ScheduleUpdate(id string, intervalSeconds int) bool {
	if intervalSeconds <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	if existing, ok := s.jobs[id]; ok {
		existing.stop()
		delete(s.jobs, id)
	} else if len(s.jobs) >= s.maxJobs {
		s.log().Warn("scheduler capacity reached",
			"item", id,
			"max_jobs", s.maxJobs)
		return false
	}

	interval := time.Duration(intervalSeconds) * s.unit
	j := &job{
		id:       id,
		interval: interval,
		next:     time.Now().Add(interval),
	}
	j.timer = time.AfterFunc(interval, func() { s.fire(j) })
	s.jobs[id] = j

	return true
}

// UpdateOnce requests a single immediate firing for id. It never blocks and
// does not alter any recurring registration for id.
func (s *Scheduler) UpdateOnce(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.enqueueLocked(id)
}

// RemoveItem cancels the recurring job for id and drops any firing that is
// queued or still waiting for a worker. A firing already running for id
// completes but is not re-armed.
func (s *Scheduler) RemoveItem(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		j.stop()
		delete(s.jobs, id)
	}
	if l, ok := s.lanes[id]; ok {
		l.pending = false
		l.queued = false
	}
}

// Clear cancels every recurring job and drops all firings that have not
// started yet.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// IsRegistered reports whether id has a recurring job.
func (s *Scheduler) IsRegistered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Len returns the number of recurring jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Interval returns the recurring interval registered for id.
func (s *Scheduler) Interval(id string) (time.Duration, bool) {
	info, ok := s.Job(id)
	return info.Interval, ok
}

// Job returns details of the recurring job for id.
func (s *Scheduler) Job(id string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return JobInfo{ID: j.id, Interval: j.interval, Next: j.next}, true
}

// Jobs returns all recurring jobs ordered by item name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{ID: j.id, Interval: j.interval, Next: j.next})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(a, b int) bool { return infos[a].ID < infos[b].ID })
	return infos
}

// Stop cancels all jobs, refuses further work and waits for running
// firings to return. The listener context is cancelled. Safe to call
// multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.clearLocked()
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
	})
}

// clearLocked cancels all jobs. Caller must hold s.mu.
func (s *Scheduler) clearLocked() {
	for id, j := range s.jobs {
		j.stop()
		delete(s.jobs, id)
	}
	for _, l := range s.lanes {
		l.pending = false
		l.queued = false
	}
}

// fire runs on the timer goroutine. It only re-arms and enqueues.
func (s *Scheduler) fire(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.cancelled || s.stopped || s.jobs[j.id] != j {
		return
	}

	j.next = time.Now().Add(j.interval)
	j.timer.Reset(j.interval)
	s.enqueueLocked(j.id)
}

// enqueueLocked starts a lane worker for id or queues behind the running
// one. Caller must hold s.mu and have checked s.stopped.
func (s *Scheduler) enqueueLocked(id string) {
	l, ok := s.lanes[id]
	if !ok {
		l = &lane{}
		s.lanes[id] = l
	}

	if l.running {
		l.queued = true
		return
	}

	l.running = true
	l.pending = true
	s.wg.Add(1)
	go s.runLane(id, l)
}

// runLane delivers firings for one item until nothing is queued.
func (s *Scheduler) runLane(id string, l *lane) {
	defer s.wg.Done()

	for {
		s.runFiring(id, l)

		s.mu.Lock()
		if l.queued && !s.stopped {
			l.queued = false
			l.pending = true
			s.mu.Unlock()
			continue
		}
		l.running = false
		l.queued = false
		if s.lanes[id] == l {
			delete(s.lanes, id)
		}
		s.mu.Unlock()
		return
	}
}

// runFiring invokes the listener on a worker slot unless the firing was
// cancelled while waiting for it. Errors and panics stop here.
func (s *Scheduler) runFiring(id string, l *lane) {
	if err := s.workers.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.workers.Release(1)

	s.mu.Lock()
	wanted := l.pending && !s.stopped
	l.pending = false
	s.mu.Unlock()
	if !wanted {
		s.log().Debug("cancelled firing skipped", "item", id)
		return
	}

	s.listenerMu.RLock()
	listener := s.listener
	s.listenerMu.RUnlock()

	if listener == nil {
		s.log().Warn("firing dropped, no listener", "item", id)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log().Error("refresh panic recovered",
				"item", id,
				"panic", fmt.Sprint(r))
		}
	}()

	if err := listener.UpdateProperty(s.ctx, id); err != nil {
		s.log().Debug("refresh returned error", "item", id, "error", err)
	}
}

func (s *Scheduler) log() Logger {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.logger
}

// stop cancels the job's timer. Caller must hold Scheduler.mu.
func (j *job) stop() {
	j.cancelled = true
	if j.timer != nil {
		j.timer.Stop()
	}
}
