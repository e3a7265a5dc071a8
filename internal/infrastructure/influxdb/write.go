package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementCommand holds one point per processed voice command.
const measurementCommand = "voice_command"

// CommandTiming is the exported view of one pipeline invocation.
// Tags are low-cardinality identifiers; stage durations become fields.
type CommandTiming struct {
	Topic         string
	Backend       string
	DeviceType    string
	Location      string
	Action        string
	MappingSource string
	Outcome       string // success, unrecognized, violation, malformed, dispatch_failed, ...

	Stages map[string]time.Duration
	At     time.Time
}

// WriteCommandTiming queues a command timing point. Non-blocking; a
// disconnected client drops the point.
func (c *Client) WriteCommandTiming(t CommandTiming) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(t))
}

// commandPoint converts a CommandTiming into a line-protocol point with
// one "<stage>_ms" float field per stage.
func commandPoint(t CommandTiming) *write.Point {
	tags := map[string]string{
		"topic":   t.Topic,
		"backend": t.Backend,
		"outcome": t.Outcome,
	}
	for k, v := range map[string]string{
		"device_type":    t.DeviceType,
		"location":       t.Location,
		"action":         t.Action,
		"mapping_source": t.MappingSource,
	} {
		if v != "" {
			tags[k] = v
		}
	}

	fields := make(map[string]interface{}, len(t.Stages)+1)
	for stage, d := range t.Stages {
		fields[stage+"_ms"] = float64(d.Microseconds()) / 1000
	}
	fields["success"] = t.Outcome == "success"

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(measurementCommand, tags, fields, at)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
