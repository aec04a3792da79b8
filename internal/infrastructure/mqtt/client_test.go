package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/config"
)

const testBroker = "127.0.0.1:1883"

var (
	brokerOnce sync.Once
	brokerUp   bool
)

// requireBroker skips tests that need a running Mosquitto at 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	brokerOnce.Do(func() {
		conn, err := net.DialTimeout("tcp", testBroker, 500*time.Millisecond)
		if err == nil {
			brokerUp = true
			conn.Close() //nolint:errcheck // probe only
		}
	})
	if !brokerUp {
		t.Skipf("no MQTT broker at %s", testBroker)
	}
}

func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "owtest",
	}
}

func connectTest(t *testing.T, clientID string) *Client {
	t.Helper()
	requireBroker(t)

	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Options and topics (no broker)
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("owbridge-test")
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:8883", opts.Servers)
	}
	if opts.ClientID != "owbridge-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session and auto-reconnect")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not set with minimum version")
	}
}

func TestBuildClientOptions_Anonymous(t *testing.T) {
	opts := buildClientOptions(testConfig("anon"))
	if opts.Servers[0].Scheme != "tcp" {
		t.Errorf("scheme = %q, want tcp", opts.Servers[0].Scheme)
	}
	if opts.Username != "" {
		t.Errorf("Username = %q, want empty", opts.Username)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig("lwt-client"))
	configureLWT(opts, NewTopics("onewire"), "lwt-client")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will = enabled %v retained %v qos %d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "onewire/status" {
		t.Errorf("WillTopic = %q, want onewire/status", opts.WillTopic)
	}

	var payload map[string]string
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if payload["status"] != "offline" || payload["reason"] != "unexpected_disconnect" {
		t.Errorf("will payload = %v", payload)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var online map[string]string
	if err := json.Unmarshal([]byte(buildStatusPayload("online", "c1", "")), &online); err != nil {
		t.Fatalf("online payload: %v", err)
	}
	if online["status"] != "online" || online["client_id"] != "c1" {
		t.Errorf("online payload = %v", online)
	}
	if _, ok := online["reason"]; ok {
		t.Error("empty reason should be omitted")
	}

	// Client IDs are quoted, not interpolated raw.
	raw := buildStatusPayload("offline", `a"b`, "graceful_shutdown")
	var offline map[string]string
	if err := json.Unmarshal([]byte(raw), &offline); err != nil {
		t.Fatalf("offline payload %q: %v", raw, err)
	}
	if offline["client_id"] != `a"b` {
		t.Errorf("client_id = %q", offline["client_id"])
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		prefix     string
		wantStatus string
		wantAll    string
	}{
		{"onewire", "onewire/status", "onewire/#"},
		{"/house/1wire/", "house/1wire/status", "house/1wire/#"},
		{"", "onewire/status", "onewire/#"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			topics := NewTopics(tt.prefix)
			if got := topics.Status(); got != tt.wantStatus {
				t.Errorf("Status() = %q, want %q", got, tt.wantStatus)
			}
			if got := topics.All(); got != tt.wantAll {
				t.Errorf("All() = %q, want %q", got, tt.wantAll)
			}
		})
	}
}

// =============================================================================
// Disconnected client (no broker)
// =============================================================================

func TestDisconnectedClient(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.IsConnected() {
		t.Error("IsConnected() = true for zero client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := client.Publish("owtest/x", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	noop := func(string, []byte) error { return nil }
	if err := client.Subscribe("owtest/x", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if client.SubscriptionCount() != 0 || client.HasSubscription("owtest/x") {
		t.Error("failed Subscribe() must not be tracked")
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		wantErr error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"invalid qos", "owtest/x", 3, nil, ErrInvalidQoS},
		{"oversized", "owtest/x", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{}
	noop := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := client.Subscribe("owtest/x", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := client.Subscribe("owtest/x", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe empty topic error = %v", err)
	}
}

func TestDispatchRecoversAndLogs(t *testing.T) {
	logger := &mockLogger{}
	client := &Client{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "owtest/a", nil)
	client.dispatch(func(string, []byte) error { panic("boom") }, "owtest/b", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 || logger.warns[0] != "MQTT handler returned error" {
		t.Errorf("warns = %v", logger.warns)
	}
	if len(logger.errors) != 1 || logger.errors[0] != "MQTT handler panic recovered" {
		t.Errorf("errors = %v", logger.errors)
	}
}

func TestConnectRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}
	cfg := testConfig("owtest-refused")
	cfg.Broker.Port = 19998

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Broker tests
// =============================================================================

func TestConnectAndClose(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig("owtest-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if client.Topics().Prefix != "owtest" {
		t.Errorf("Topics().Prefix = %q", client.Topics().Prefix)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectTest(t, "owtest-roundtrip")

	topic := fmt.Sprintf("owtest/state/roundtrip-%d", time.Now().UnixNano())
	received := make(chan string, 1)

	err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) || client.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	if err := client.Publish(topic, []byte(`{"state":"21.5"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"state":"21.5"}` {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("subscription still tracked after Unsubscribe()")
	}
}

func TestWildcardSubscription(t *testing.T) {
	client := connectTest(t, "owtest-wildcard")

	base := fmt.Sprintf("owtest/wild-%d", time.Now().UnixNano())
	var (
		mu     sync.Mutex
		topics []string
	)
	done := make(chan struct{}, 2)

	err := client.Subscribe(base+"/command/+", 1, func(topic string, _ []byte) error {
		mu.Lock()
		topics = append(topics, topic)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, item := range []string{"temp1", "relay1"} {
		if err := client.Publish(base+"/command/"+item, []byte("ON"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	for range 2 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("wildcard message not received")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, topic := range topics {
		if !strings.HasPrefix(topic, base+"/command/") {
			t.Errorf("unexpected topic %q", topic)
		}
	}
}

func TestOnConnectCallbackOnReconnectHandler(t *testing.T) {
	client := connectTest(t, "owtest-callback")

	called := make(chan struct{}, 1)
	client.SetOnConnect(func() { called <- struct{}{} })

	// Invoke the paho handler path directly; it restores subscriptions,
	// publishes the online status, then notifies.
	client.handleConnect()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("OnConnect callback not invoked")
	}
}
