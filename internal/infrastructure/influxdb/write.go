package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReading   = "onewire_reading"
	MeasurementReadError = "onewire_read_error"
)

// WriteReading records a numeric item value.
// Switch and contact states are written as 0/1 by the caller.
//
// Example:
//
//	client.WriteReading("temp1", "number", 21.5, time.Now())
func (c *Client) WriteReading(item, kind string, value float64, ts time.Time) {
	c.WritePoint(MeasurementReading,
		map[string]string{
			"item": item,
			"kind": kind,
		},
		map[string]any{
			"value": value,
		},
		ts,
	)
}

// WriteReadError records a failed device read for an item.
func (c *Client) WriteReadError(item string, ts time.Time) {
	c.WritePoint(MeasurementReadError,
		map[string]string{"item": item},
		map[string]any{"count": 1},
		ts,
	)
}

// WritePoint writes a point with full control over tags and fields.
// A zero timestamp means now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
