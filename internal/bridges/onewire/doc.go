// Package onewire runs 1-Wire bindings: it reads device properties on
// schedule, publishes changed values to the host over MQTT, and executes
// host commands on the bus.
//
// # Architecture
//
//	binding.Registry ──events──▶ Runtime ──UpdateOnce/ScheduleUpdate──▶ scheduler
//	                               ▲   │                                    │
//	          Bridge (MQTT) ───────┘   │◀──────── UpdateProperty ───────────┘
//	       commands, requests,         │
//	       config, health              ├──Read/Write──▶ owfs
//	                                   └──PostUpdate──▶ MQTTSink ──▶ MQTT, history, InfluxDB
//
// The Runtime is the scheduler's listener. Each firing reads one item,
// converts the raw value, and publishes it when it differs from the last
// published value (or always, with post_only_changed_values off). A failed
// read always publishes UNDEF. A firing for an item whose binding has gone
// removes its own job.
//
// A full topology change clears every job and the state cache before
// rescheduling; it is deferred while the bus is not connected. A change
// to a single binding touches only that item.
//
// # Commands
//
// ReceiveCommand picks one action per binding variant, in this order:
// executable (push button), writable property, control. Read-only
// bindings reject commands with ErrNotWritable.
//
// # Demand updates
//
// RequestUpdate queues an out-of-band refresh on a buffered channel
// consumed by the runtime's event loop. Push buttons use it to refresh
// themselves after a press.
//
// # Usage
//
//	rt, err := onewire.New(onewire.Options{
//	    Scheduler: sched,
//	    Provider:  registry,
//	    Bus:       conn,
//	    Sink:      sink,
//	    Settings:  onewire.SettingsFromConfig(cfg),
//	})
//	if err != nil {
//	    return err
//	}
//	sched.SetListener(rt)
//	rt.Start(ctx)
//	defer rt.Stop()
package onewire
