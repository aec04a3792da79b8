// Package logging provides structured logging for the 1-Wire bridge.
//
// It wraps log/slog with the bridge's defaults: JSON or text output,
// a level filter that can be changed at runtime, and service/version
// attributes on every entry.
//
// Configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bindings loaded", "count", n)
//	logger.Error("read failed", "item", id, "error", err)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
