package onewire

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-onewire/internal/binding"
	"github.com/nerrad567/gray-logic-onewire/internal/history"
)

// mockPublisher implements Publisher for testing.
type mockPublisher struct {
	mu         sync.Mutex
	connected  bool
	messages   []publishedMessage
	publishErr error
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

type recordedState struct {
	item   string
	state  string
	source string
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []recordedState
	err     error
}

func (h *fakeHistory) RecordStateChange(_ context.Context, item string, state binding.State, source string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.entries = append(h.entries, recordedState{item: item, state: state.String(), source: source})
	return nil
}

type reading struct {
	item  string
	kind  string
	value float64
}

type fakeReadings struct {
	mu       sync.Mutex
	readings []reading
	errors   []string
}

func (r *fakeReadings) WriteReading(item, kind string, value float64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading{item: item, kind: kind, value: value})
}

func (r *fakeReadings) WriteReadError(item string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, item)
}

func newTestSink(t *testing.T) (*MQTTSink, *mockPublisher, *fakeHistory, *fakeReadings) {
	t.Helper()

	registry := binding.NewRegistry(0)
	err := registry.Replace([]binding.Definition{
		numberDef("temp1", "28.A1/temperature", 60),
		{Item: "label", Kind: binding.KindString, Path: "28.A1/type"},
		{Item: "relay", Kind: binding.KindSwitch, Path: "29.B1/PIO.A"},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	pub := newMockPublisher(true)
	hist := &fakeHistory{}
	readings := &fakeReadings{}

	sink, err := NewMQTTSink(SinkOptions{
		Publisher: pub,
		Provider:  registry,
		Topics:    NewTopics("onewire"),
		QoS:       1,
		History:   hist,
		Readings:  readings,
	})
	if err != nil {
		t.Fatalf("NewMQTTSink() error = %v", err)
	}
	return sink, pub, hist, readings
}

func TestNewMQTTSinkRequiresCollaborators(t *testing.T) {
	if _, err := NewMQTTSink(SinkOptions{Provider: binding.NewRegistry(0)}); err == nil {
		t.Error("NewMQTTSink() without publisher should fail")
	}
	if _, err := NewMQTTSink(SinkOptions{Publisher: newMockPublisher(true)}); err == nil {
		t.Error("NewMQTTSink() without provider should fail")
	}
}

func TestSinkResolveTarget(t *testing.T) {
	sink, _, _, _ := newTestSink(t)

	item, ok := sink.ResolveTarget("relay")
	if !ok || item.Name != "relay" || item.Kind != binding.KindSwitch {
		t.Errorf("ResolveTarget(relay) = %+v, %v", item, ok)
	}
	if _, ok := sink.ResolveTarget("nope"); ok {
		t.Error("ResolveTarget(nope) should fail")
	}
}

func TestSinkPostUpdate(t *testing.T) {
	sink, pub, hist, readings := newTestSink(t)
	item, _ := sink.ResolveTarget("temp1")

	if err := sink.PostUpdate(context.Background(), item, binding.Decimal(21.5)); err != nil {
		t.Fatalf("PostUpdate() error = %v", err)
	}

	msgs := pub.getMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "onewire/state/temp1" || !msgs[0].retained || msgs[0].qos != 1 {
		t.Errorf("publish = %s qos=%d retained=%v", msgs[0].topic, msgs[0].qos, msgs[0].retained)
	}

	var msg StateMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.Item != "temp1" || msg.Kind != binding.KindNumber || msg.State != "21.5" || msg.Value != 21.5 {
		t.Errorf("state message = %+v", msg)
	}

	if len(hist.entries) != 1 || hist.entries[0] != (recordedState{"temp1", "21.5", history.SourceBus}) {
		t.Errorf("history = %+v", hist.entries)
	}
	if len(readings.readings) != 1 || readings.readings[0] != (reading{"temp1", "number", 21.5}) {
		t.Errorf("readings = %+v", readings.readings)
	}
}

func TestSinkPostUndefined(t *testing.T) {
	sink, pub, hist, readings := newTestSink(t)
	item, _ := sink.ResolveTarget("temp1")

	if err := sink.PostUpdate(context.Background(), item, binding.UnDef); err != nil {
		t.Fatalf("PostUpdate() error = %v", err)
	}

	var msg StateMessage
	if err := json.Unmarshal(pub.getMessages()[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State != "UNDEF" || msg.Value != nil {
		t.Errorf("state message = %+v, want UNDEF with null value", msg)
	}
	if len(hist.entries) != 1 || hist.entries[0].source != history.SourceReadError {
		t.Errorf("history = %+v", hist.entries)
	}
	if len(readings.readings) != 0 || len(readings.errors) != 1 {
		t.Errorf("readings = %+v errors = %v", readings.readings, readings.errors)
	}
}

func TestSinkNumericValues(t *testing.T) {
	sink, _, _, readings := newTestSink(t)
	ctx := context.Background()

	relay, _ := sink.ResolveTarget("relay")
	label, _ := sink.ResolveTarget("label")

	sink.PostUpdate(ctx, relay, binding.On)              //nolint:errcheck // Test
	sink.PostUpdate(ctx, relay, binding.Off)             //nolint:errcheck // Test
	sink.PostUpdate(ctx, label, binding.Text("DS18B20")) //nolint:errcheck // Test

	want := []reading{{"relay", "switch", 1}, {"relay", "switch", 0}}
	if len(readings.readings) != len(want) {
		t.Fatalf("readings = %+v, want %+v", readings.readings, want)
	}
	for i := range want {
		if readings.readings[i] != want[i] {
			t.Errorf("reading[%d] = %+v, want %+v", i, readings.readings[i], want[i])
		}
	}
}

func TestSinkPublishError(t *testing.T) {
	sink, pub, hist, _ := newTestSink(t)
	pub.publishErr = errors.New("not connected")
	item, _ := sink.ResolveTarget("temp1")

	if err := sink.PostUpdate(context.Background(), item, binding.Decimal(1)); err == nil {
		t.Fatal("PostUpdate() should fail when publishing fails")
	}
	if len(hist.entries) != 0 {
		t.Error("unpublished state recorded in history")
	}
}

func TestSinkHistoryErrorDoesNotFailPublish(t *testing.T) {
	sink, pub, hist, _ := newTestSink(t)
	hist.err = errors.New("disk full")
	item, _ := sink.ResolveTarget("temp1")

	if err := sink.PostUpdate(context.Background(), item, binding.Decimal(1)); err != nil {
		t.Fatalf("PostUpdate() error = %v", err)
	}
	if len(pub.getMessages()) != 1 {
		t.Error("state not published")
	}
}
