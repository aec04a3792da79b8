package onewire

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-onewire/internal/binding"
	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-onewire/internal/owfs"
)

// MQTT message types exchanged between the bridge and the host application.

// StateMessage is published when an item's state changes.
// Topic: {prefix}/state/{item}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Item is the host item name.
	Item string `json:"item"`

	// Kind is the binding kind feeding the item.
	Kind binding.Kind `json:"kind"`

	// State is the host representation, e.g. "21.5", "ON" or "UNDEF".
	State string `json:"state"`

	// Value is the plain value, null for UNDEF.
	Value any `json:"value"`

	// Timestamp is when the state was read (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is sent by the host to command an item.
// Topic: {prefix}/command/{item}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. The bridge
	// assigns one when empty.
	ID string `json:"id"`

	// Item is the target item. Taken from the topic when empty.
	Item string `json:"item"`

	// Command is the command, e.g. "ON", "OFF", "21.5" or free text.
	Command string `json:"command"`

	// Timestamp is when the command was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was executed on the bus.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: {prefix}/ack/{item}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Item is the commanded item.
	Item string `json:"item"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Timestamp is when the acknowledgment was sent (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands and requests.
const (
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
	ErrCodeNotWritable    = "NOT_WRITABLE"
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeBusError       = "BUS_ERROR"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidConfig  = "INVALID_CONFIG"
)

// Request actions.
const (
	// ActionRefresh reads one item, or every item when Item is empty.
	ActionRefresh = "refresh"

	// ActionStatus reports bridge and runtime status.
	ActionStatus = "status"
)

// RequestMessage is sent by the host for request/response operations.
// Topic: {prefix}/request/{request_id}
type RequestMessage struct {
	// RequestID correlates the request with its response. Taken from
	// the topic when empty.
	RequestID string `json:"request_id"`

	// Action is the requested operation: refresh or status.
	Action string `json:"action"`

	// Item is the target for item-scoped actions.
	Item string `json:"item,omitempty"`

	// Timestamp is when the request was issued (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// ResponseMessage answers a request.
// Topic: {prefix}/response/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge status.
// Topic: {prefix}/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	BusConnected  bool         `json:"bus_connected"`
	Bindings      int          `json:"bindings"`
	ScheduledJobs int          `json:"scheduled_jobs"`
	Statistics    *BusStats    `json:"statistics,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// BusStats mirrors the transport counters.
type BusStats struct {
	Reads       uint64 `json:"reads"`
	ReadErrors  uint64 `json:"read_errors"`
	Writes      uint64 `json:"writes"`
	WriteErrors uint64 `json:"write_errors"`
}

// NewStateMessage creates a state message for item.
func NewStateMessage(item binding.Item, state binding.State) StateMessage {
	return StateMessage{
		Item:      item.Name,
		Kind:      item.Kind,
		State:     state.String(),
		Value:     state.Value(),
		Timestamp: time.Now().UTC(),
	}
}

// NewAckMessage creates a successful acknowledgment for cmd.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Item:      cmd.Item,
		Status:    AckAccepted,
		Timestamp: time.Now().UTC(),
	}
}

// NewAckError creates a failed acknowledgment for cmd.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Item:      cmd.Item,
		Status:    AckFailed,
		Timestamp: time.Now().UTC(),
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats owfs.Stats, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Statistics: &BusStats{
			Reads:       stats.Reads,
			ReadErrors:  stats.ReadErrors,
			Writes:      stats.Writes,
			WriteErrors: stats.WriteErrors,
		},
	}
}

// Topics builds the bridge's MQTT topics under a prefix.
type Topics struct {
	prefix string
}

// NewTopics creates topic helpers for prefix. An empty prefix selects
// mqtt.DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = mqtt.DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// State returns the topic for item state.
// Example: onewire/state/temp1
func (t Topics) State(item string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix, item)
}

// Ack returns the topic for command acknowledgments.
// Example: onewire/ack/temp1
func (t Topics) Ack(item string) string {
	return fmt.Sprintf("%s/ack/%s", t.prefix, item)
}

// Response returns the topic for a request's response.
// Example: onewire/response/req-123
func (t Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", t.prefix, requestID)
}

// Health returns the topic for health status.
// Example: onewire/health
func (t Topics) Health() string {
	return t.prefix + "/health"
}

// CommandSubscribe returns the subscription pattern for all commands.
func (t Topics) CommandSubscribe() string {
	return t.prefix + "/command/+"
}

// RequestSubscribe returns the subscription pattern for all requests.
func (t Topics) RequestSubscribe() string {
	return t.prefix + "/request/+"
}

// ConfigSubscribe returns the subscription pattern for binding definitions.
func (t Topics) ConfigSubscribe() string {
	return t.prefix + "/config/+"
}

// Parse splits a topic under the prefix into its message type and the
// trailing identifier. ok is false for foreign or malformed topics.
// Example: "onewire/command/temp1" → "command", "temp1"
func (t Topics) Parse(topic string) (kind, id string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/")
	if !found {
		return "", "", false
	}
	kind, id, found = strings.Cut(rest, "/")
	if !found || kind == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return kind, id, true
}
