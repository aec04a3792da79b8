package onewire

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-onewire/internal/binding"
	"github.com/nerrad567/gray-logic-onewire/internal/history"
)

// Publisher is the MQTT surface the bridge needs.
// *mqtt.Client implements it.
type Publisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HistoryRecorder persists published states.
// *history.SQLiteRepository implements it.
type HistoryRecorder interface {
	RecordStateChange(ctx context.Context, item string, state binding.State, source string) error
}

// ReadingRecorder writes published values to a time-series store.
// *influxdb.Client implements it.
type ReadingRecorder interface {
	WriteReading(item, kind string, value float64, ts time.Time)
	WriteReadError(item string, ts time.Time)
}

// SinkOptions holds configuration for an MQTTSink.
type SinkOptions struct {
	// Publisher is the MQTT client. Required.
	Publisher Publisher

	// Provider resolves host items from bindings. Required.
	Provider binding.Provider

	// Topics builds the state topics.
	Topics Topics

	// QoS for state messages.
	QoS byte

	// History is optional.
	History HistoryRecorder

	// Readings is optional.
	Readings ReadingRecorder

	// Logger is optional.
	Logger Logger
}

// MQTTSink publishes item states as retained StateMessages and records
// them in the optional history and time-series stores.
type MQTTSink struct {
	publisher Publisher
	provider  binding.Provider
	topics    Topics
	qos       byte
	history   HistoryRecorder
	readings  ReadingRecorder
	logger    Logger
}

var _ Sink = (*MQTTSink)(nil)

// NewMQTTSink creates a sink.
func NewMQTTSink(opts SinkOptions) (*MQTTSink, error) {
	if opts.Publisher == nil {
		return nil, fmt.Errorf("MQTT publisher is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("binding provider is required")
	}
	topics := opts.Topics
	if topics.prefix == "" {
		topics = NewTopics("")
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &MQTTSink{
		publisher: opts.Publisher,
		provider:  opts.Provider,
		topics:    topics,
		qos:       opts.QoS,
		history:   opts.History,
		readings:  opts.Readings,
		logger:    logger,
	}, nil
}

// ResolveTarget implements Sink. Every bound item is a host item.
func (s *MQTTSink) ResolveTarget(id string) (binding.Item, bool) {
	cfg, ok := s.provider.Get(id)
	if !ok {
		return binding.Item{}, false
	}
	return binding.Item{Name: id, Kind: cfg.Kind()}, true
}

// PostUpdate implements Sink. Only the MQTT publish can fail the call;
// history and time-series errors are logged.
func (s *MQTTSink) PostUpdate(ctx context.Context, item binding.Item, state binding.State) error {
	msg := NewStateMessage(item, state)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.publisher.Publish(s.topics.State(item.Name), payload, s.qos, true); err != nil {
		return fmt.Errorf("publish state: %w", err)
	}

	s.logger.Debug("state published", "item", item.Name, "state", msg.State)

	s.record(ctx, item, state, msg.Timestamp)
	return nil
}

func (s *MQTTSink) record(ctx context.Context, item binding.Item, state binding.State, ts time.Time) {
	undefined := binding.IsUndefined(state)

	if s.history != nil {
		source := history.SourceBus
		if undefined {
			source = history.SourceReadError
		}
		if err := s.history.RecordStateChange(ctx, item.Name, state, source); err != nil {
			s.logger.Warn("failed to record state history", "item", item.Name, "error", err)
		}
	}

	if s.readings == nil {
		return
	}
	if undefined {
		s.readings.WriteReadError(item.Name, ts)
		return
	}
	if v, ok := numericValue(state); ok {
		s.readings.WriteReading(item.Name, string(item.Kind), v, ts)
	}
}

// numericValue maps a state onto a float for time-series storage.
// Text has no numeric form.
func numericValue(state binding.State) (float64, bool) {
	switch v := state.(type) {
	case binding.Decimal:
		return float64(v), true
	case binding.OnOff:
		return boolFloat(v == binding.On), true
	case binding.OpenClosed:
		return boolFloat(v == binding.Open), true
	default:
		return 0, false
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
