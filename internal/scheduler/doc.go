// Package scheduler drives periodic and on-demand refreshes of 1-Wire
// device properties.
//
// A Scheduler owns a table of recurring jobs, one per item name, each with
// its own interval. When a job's timer elapses the scheduler hands the item
// to a bounded worker pool, which invokes the registered UpdateListener.
// The timer goroutine itself never runs the listener, so a slow bus read
// cannot delay other timers.
//
// # Ordering
//
// Firings for one item are delivered in order and never overlap: each item
// has a lane with at most one firing in flight and at most one queued
// behind it. Further requests while a firing is queued are coalesced into
// the queued one. Firings for different items run concurrently, up to the
// configured number of workers.
//
// # Cancellation
//
// RemoveItem and Clear stop timers and drop queued firings immediately.
// A firing that is already running is allowed to finish but its job is
// never re-armed.
//
// # Usage
//
//	s := scheduler.New(scheduler.Options{MaxJobs: 1024, Workers: 4})
//	s.SetListener(runtime)
//	s.UpdateOnce("temp1")
//	if !s.ScheduleUpdate("temp1", 60) {
//	    log.Warn("could not schedule", "item", "temp1")
//	}
//	defer s.Stop()
package scheduler
