package onewire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-onewire/internal/binding"
)

// commandTimeout bounds a single command, push button hold included.
const commandTimeout = 10 * time.Second

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	Publisher

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
}

// Dispatcher executes host requests against the binding runtime.
// *Runtime implements it.
type Dispatcher interface {
	TopologyStatus
	ReceiveCommand(ctx context.Context, id string, cmd binding.Command) error
	RequestUpdate(id string)
	RefreshAll(ctx context.Context)
	ResetPending() bool
}

// BindingStore is the binding set edited through the config topic.
// *binding.Registry implements it.
type BindingStore interface {
	Get(id string) (binding.Config, bool)
	Put(d binding.Definition) error
	Remove(id string) bool
}

var (
	_ Dispatcher   = (*Runtime)(nil)
	_ BindingStore = (*binding.Registry)(nil)
)

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge instance in health messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published.
	HealthInterval time.Duration

	// Topics builds the MQTT topics.
	Topics Topics

	// QoS is used for subscriptions, acks and responses.
	QoS byte

	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// Runtime executes commands and refreshes. Required.
	Runtime Dispatcher

	// Bindings receives definitions from the config topic. Required.
	Bindings BindingStore

	// Bus reports transport health. Optional.
	Bus BusStatus

	// Logger is optional.
	Logger Logger
}

// Bridge connects the binding runtime to MQTT. It handles:
//   - commands from the host, acknowledged on the ack topic
//   - refresh and status requests, answered on the response topic
//   - binding definitions on the config topic
//   - periodic health reporting
//
// State updates do not pass through the bridge; the runtime publishes
// them via its Sink.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id       string
	mqtt     MQTTClient
	runtime  Dispatcher
	bindings BindingStore
	topics   Topics
	qos      byte
	health   *HealthReporter

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if opts.Bindings == nil {
		return nil, fmt.Errorf("binding store is required")
	}

	topics := opts.Topics
	if topics.prefix == "" {
		topics = NewTopics("")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:        opts.BridgeID,
		mqtt:      opts.MQTTClient,
		runtime:   opts.Runtime,
		bindings:  opts.Bindings,
		topics:    topics,
		qos:       opts.QoS,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Topics:    topics,
		Publisher: opts.MQTTClient,
		Bus:       opts.Bus,
		Topology:  opts.Runtime,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the command, request and config topics and starts
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	subscriptions := []struct {
		name  string
		topic string
	}{
		{"commands", b.topics.CommandSubscribe()},
		{"requests", b.topics.RequestSubscribe()},
		{"config", b.topics.ConfigSubscribe()},
	}
	for _, s := range subscriptions {
		if err := b.mqtt.Subscribe(s.topic, b.qos, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s.name, err)
		}
		b.logInfo("subscribed to "+s.name, "topic", s.topic)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.id,
		"bindings", b.runtime.BindingCount())
	return nil
}

// Stop cancels in-flight commands, waits for handlers and publishes a
// final "stopping" health status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// Health returns the current health message.
func (b *Bridge) Health() HealthMessage {
	return b.health.Current()
}

// handleMQTTMessage routes an incoming message by topic.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	b.wg.Add(1)
	defer b.wg.Done()

	kind, id, ok := b.topics.Parse(topic)
	if !ok {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch kind {
	case "command":
		b.handleCommand(id, payload)
	case "request":
		b.handleRequest(id, payload)
	case "config":
		b.handleConfig(id, payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", kind))
	}
}

func (b *Bridge) handleCommand(item string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.Item == "" {
		cmd.Item = item
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	if cmd.Item != item {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("item %q does not match topic %q", cmd.Item, item)))
		return
	}
	if strings.TrimSpace(cmd.Command) == "" {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidCommand, "command is empty"))
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"item", cmd.Item,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.runtime.ReceiveCommand(ctx, cmd.Item, binding.Command(cmd.Command)); err != nil {
		b.logError("command failed", err)
		b.publishAck(NewAckError(cmd, commandErrorCode(err), err.Error()))
		return
	}

	b.publishAck(NewAckMessage(cmd))
}

// commandErrorCode maps runtime errors onto ack error codes.
func commandErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownItem):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrNotWritable):
		return ErrCodeNotWritable
	case errors.Is(err, binding.ErrInvalidCommand):
		return ErrCodeInvalidCommand
	default:
		return ErrCodeBusError
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.Ack(ack.Item), payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) handleRequest(requestID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionRefresh:
		resp = b.handleRefresh(req)
	case ActionStatus:
		resp = b.handleStatus(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidRequest, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.Response(req.RequestID), respPayload, b.qos, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) handleRefresh(req RequestMessage) ResponseMessage {
	if req.Item == "" {
		b.runtime.RefreshAll(b.ctx)
		return successResponse(req, map[string]any{"scope": "all"})
	}

	cfg, ok := b.bindings.Get(req.Item)
	if !ok {
		return errorResponse(req, ErrCodeNotConfigured, fmt.Sprintf("item %s not configured", req.Item))
	}
	if _, readable := cfg.(binding.Readable); !readable {
		return errorResponse(req, ErrCodeInvalidRequest, fmt.Sprintf("item %s is not readable", req.Item))
	}

	b.runtime.RequestUpdate(req.Item)
	return successResponse(req, map[string]any{"scope": "item", "item": req.Item})
}

func (b *Bridge) handleStatus(req RequestMessage) ResponseMessage {
	h := b.health.Current()
	return successResponse(req, map[string]any{
		"status":         string(h.Status),
		"bus_connected":  h.BusConnected,
		"bindings":       h.Bindings,
		"scheduled_jobs": h.ScheduledJobs,
		"reset_pending":  b.runtime.ResetPending(),
		"uptime_seconds": h.UptimeSeconds,
	})
}

func successResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// handleConfig applies a binding definition. An empty payload removes
// the item's binding.
func (b *Bridge) handleConfig(item string, payload []byte) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		if b.bindings.Remove(item) {
			b.logInfo("binding removed via MQTT", "item", item)
		}
		return
	}

	var def binding.Definition
	if err := json.Unmarshal(payload, &def); err != nil {
		b.logError("failed to parse binding definition", err)
		return
	}
	if def.Item == "" {
		def.Item = item
	}
	if def.Item != item {
		b.logError("binding definition rejected",
			fmt.Errorf("item %q does not match topic %q", def.Item, item))
		return
	}

	if err := b.bindings.Put(def); err != nil {
		b.logError("binding definition rejected", err)
		return
	}
	b.logInfo("binding updated via MQTT", "item", item, "kind", string(def.Kind))
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
