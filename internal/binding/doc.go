// Package binding describes how host items map onto 1-Wire device
// properties.
//
// A binding is one of four variants, expressed as interfaces so the
// runtime can dispatch on capability:
//
//   - Readable: sampled from the bus on a refresh interval (*DeviceProperty)
//   - Writable: Readable that also converts host commands (*WritableProperty)
//   - Executable: runs its own bus sequence for a command (*PushButton)
//   - Controllable: operates on the runtime itself (*Control)
//
// Bindings are declared as Definitions in a YAML file or on the MQTT
// config topic and collected in a Registry, which notifies the runtime
// of topology changes through its Events channel. A Watcher reloads the
// file when it changes on disk.
//
// Values crossing to the host are States: Decimal, Text, OnOff,
// OpenClosed, or the UnDef sentinel after a failed read.
package binding
