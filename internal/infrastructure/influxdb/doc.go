// Package influxdb records published 1-Wire item values in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// Every value the bridge publishes is written as an onewire_reading
// point tagged with the item name and kind. Failed device reads are
// counted as onewire_read_error points.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("temp1", "number", 21.5, time.Now())
//
// Writes are batched according to batch_size and flush_interval.
// Asynchronous write errors are delivered to the SetOnError callback.
package influxdb
