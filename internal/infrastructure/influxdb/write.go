package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceMetrics is the measurement telemetry points are written to.
const MeasurementDeviceMetrics = "device_metrics"

// reservedFields are routing fields that never become point fields.
var reservedFields = map[string]struct{}{
	"dev":  {},
	"type": {},
	"id":   {},
	"ts":   {},
}

// WriteDeviceMetric records the storable fields of one telemetry record.
// It reports whether a point was written: records with no numeric or
// boolean fields are skipped, as are writes on a closed client.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteDeviceMetric(deviceID string, msg map[string]any, ts time.Time) bool {
	if !c.IsConnected() {
		return false
	}

	point := devicePoint(deviceID, msg, ts)
	if point == nil {
		return false
	}
	c.writeAPI.WritePoint(point)
	return true
}

// devicePoint builds the device_metrics point for a record, or nil when
// the record has nothing to store.
func devicePoint(deviceID string, msg map[string]any, ts time.Time) *write.Point {
	fields := metricFields(msg)
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(
		MeasurementDeviceMetrics,
		map[string]string{"device_id": deviceID},
		fields,
		ts,
	)
}

// metricFields selects the numeric and boolean values of msg.
func metricFields(msg map[string]any) map[string]any {
	fields := make(map[string]any, len(msg))
	for k, v := range msg {
		if _, reserved := reservedFields[k]; reserved {
			continue
		}
		switch n := v.(type) {
		case bool, float64, float32, int, int64, int32, uint, uint64, uint32:
			fields[k] = n
		case json.Number:
			if f, err := n.Float64(); err == nil {
				fields[k] = f
			}
		}
	}
	return fields
}
