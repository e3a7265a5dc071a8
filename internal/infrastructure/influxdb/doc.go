// Package influxdb exports voice command timings to InfluxDB.
//
// Every invocation produces one "voice_command" point tagged with topic,
// backend, outcome and mapping source, carrying per-stage durations
// (grammar, inference, parse, resolve, backend, total) as millisecond fields.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // timing export off
//	}
//	defer client.Close()
//
//	client.WriteCommandTiming(influxdb.CommandTiming{Topic: "kitchen", Outcome: "success"})
//
// Writes are non-blocking and batched (batch_size, flush_interval).
package influxdb
