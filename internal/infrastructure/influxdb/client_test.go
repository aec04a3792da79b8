package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

type fakePinger struct {
	healthy bool
	err     error
	closed  int
}

func (p *fakePinger) Ping(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.healthy, p.err
}

func (p *fakePinger) Close() { p.closed++ }

func newTestClient() (*Client, *fakeWriter, *fakePinger) {
	w := &fakeWriter{}
	p := &fakePinger{healthy: true}
	return newClient(p, w, config.InfluxDBConfig{Enabled: true}), w, p
}

func tagValue(p *write.Point, key string) string {
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value
		}
	}
	return ""
}

func fieldValue(p *write.Point, key string) any {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestWriteReading(t *testing.T) {
	client, w, _ := newTestClient()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	client.WriteReading("temp1", "number", 21.5, ts)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementReading {
		t.Errorf("measurement = %q, want %q", p.Name(), MeasurementReading)
	}
	if tagValue(p, "item") != "temp1" || tagValue(p, "kind") != "number" {
		t.Errorf("tags = %v", p.TagList())
	}
	if v, ok := fieldValue(p, "value").(float64); !ok || v != 21.5 {
		t.Errorf("value field = %v", fieldValue(p, "value"))
	}
	if !p.Time().Equal(ts) {
		t.Errorf("time = %v, want %v", p.Time(), ts)
	}
}

func TestWriteReadError(t *testing.T) {
	client, w, _ := newTestClient()

	client.WriteReadError("temp1", time.Time{})

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementReadError || tagValue(p, "item") != "temp1" {
		t.Errorf("point = %s %v", p.Name(), p.TagList())
	}
	if p.Time().IsZero() {
		t.Error("zero timestamp should be replaced with now")
	}
}

func TestWritesDroppedAfterClose(t *testing.T) {
	client, w, p := newTestClient()

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 || p.closed != 1 {
		t.Errorf("Close() flushes=%d closed=%d, want 1/1", w.flushes, p.closed)
	}

	client.WriteReading("temp1", "number", 1, time.Now())
	client.Flush()
	if len(w.points) != 0 || w.flushes != 1 {
		t.Error("writes after Close() must be dropped")
	}

	// Second Close is a no-op.
	if err := client.Close(); err != nil || p.closed != 1 {
		t.Errorf("second Close() = %v, closed=%d", err, p.closed)
	}
}

func TestHealthCheck(t *testing.T) {
	client, _, p := newTestClient()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	p.healthy = false
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when server is unhealthy")
	}

	p.err = errors.New("connection refused")
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when ping fails")
	}

	client.Close() //nolint:errcheck // Test
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	client, _, _ := newTestClient()

	var (
		mu  sync.Mutex
		got []error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	})

	ch := make(chan error, 2)
	ch <- errors.New("batch rejected")
	ch <- errors.New("timeout")
	close(ch)

	client.handleWriteErrors(ch)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("callback got %d errors, want 2", len(got))
	}
}

func TestClose_Nil(t *testing.T) {
	var client Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Org:     "home",
		Bucket:  "onewire",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// TestConnect_Server runs against a real server when INFLUXDB_TEST_URL is set.
func TestConnect_Server(t *testing.T) {
	url := os.Getenv("INFLUXDB_TEST_URL")
	if url == "" {
		t.Skip("INFLUXDB_TEST_URL not set")
	}

	client, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         os.Getenv("INFLUXDB_TEST_TOKEN"),
		Org:           "owbridge",
		Bucket:        "onewire",
		FlushInterval: 1,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	client.WriteReading("test-item", "number", 1.5, time.Now())
	client.Flush()
}
